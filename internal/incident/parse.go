// Package incident turns incident post-mortem documents into retrieval
// chunks. A document is a markdown file with an optional key/value header
// block delimited by "---" lines, a "# " title line, and "## " section
// headings:
//
//	---
//	incident_id: INC-42
//	severity: high
//	---
//	# Checkout outage
//	## Summary
//	DB pool exhausted.
//
// Parsing never fails: malformed or missing structure degrades to empty
// metadata and a single "header" section.
package incident

import (
	"strings"
)

// Reserved section names produced by the parser itself rather than by a
// "## " heading.
const (
	// SectionHeader holds any text that appears before the first heading.
	SectionHeader = "header"
	// SectionTitle holds the text of the "# " title line plus the lines
	// that follow it up to the next heading.
	SectionTitle = "title"
)

// headerDelimiter opens and closes the metadata block at the top of a document.
const headerDelimiter = "---"

// Document is one parsed incident file.
type Document struct {
	// SourceID identifies where the document came from (its file name).
	SourceID string

	// Metadata holds the key/value pairs from the header block. Later
	// duplicate keys overwrite earlier ones.
	Metadata map[string]string

	// Sections maps a normalised section name to its trimmed body text.
	Sections map[string]string

	// Order lists section names in the order they first appeared.
	Order []string
}

// Section returns the body of the named section and whether it exists.
func (d Document) Section(name string) (string, bool) {
	v, ok := d.Sections[name]
	return v, ok
}

// setSection stores body under name, recording first-seen order.
// A repeated heading overwrites the earlier body.
func (d *Document) setSection(name, body string) {
	if _, seen := d.Sections[name]; !seen {
		d.Order = append(d.Order, name)
	}
	d.Sections[name] = body
}

// Parse splits raw document text into header metadata and named sections.
// It never returns an error; see the package documentation for the layout.
func Parse(raw, sourceID string) Document {
	text := strings.ReplaceAll(raw, "\r\n", "\n")
	metadata, body := splitHeader(text)

	doc := Document{
		SourceID: sourceID,
		Metadata: metadata,
		Sections: make(map[string]string),
	}

	current := SectionHeader
	var buf []string

	flush := func() {
		if len(buf) == 0 {
			return
		}
		doc.setSection(current, strings.TrimSpace(strings.Join(buf, "\n")))
	}

	for _, line := range strings.Split(body, "\n") {
		switch {
		case strings.HasPrefix(line, "# "):
			flush()
			current = SectionTitle
			buf = []string{strings.TrimSpace(line[2:])}
		case strings.HasPrefix(line, "## "):
			flush()
			current = sectionName(line[3:])
			buf = nil
		default:
			buf = append(buf, line)
		}
	}
	flush()

	// A body made only of empty headings leaves nothing behind; keep the
	// "at least a header section" guarantee.
	if len(doc.Sections) == 0 {
		doc.setSection(SectionHeader, "")
	}

	return doc
}

// splitHeader detects a "---" delimited block at the very start of text and
// returns its key/value pairs together with the remaining body. When no
// complete block is present the metadata is empty and body is text.
func splitHeader(text string) (map[string]string, string) {
	metadata := make(map[string]string)

	lines := strings.Split(text, "\n")
	if len(lines) < 2 || strings.TrimRight(lines[0], " \t") != headerDelimiter {
		return metadata, text
	}

	closing := -1
	for i := 1; i < len(lines); i++ {
		if strings.TrimRight(lines[i], " \t") == headerDelimiter {
			closing = i
			break
		}
	}
	if closing < 0 {
		return metadata, text
	}

	for _, line := range lines[1:closing] {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		metadata[strings.TrimSpace(key)] = strings.TrimSpace(value)
	}

	return metadata, strings.Join(lines[closing+1:], "\n")
}

// sectionName normalises a "## " heading: lower-cased, spaces to underscores.
func sectionName(heading string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(heading)), " ", "_")
}
