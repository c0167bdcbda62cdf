package enrich

import (
	"fmt"
	"strings"

	"github.com/54b3r/incidentkb/internal/search"
)

const (
	noteBanner = "================================\n" +
		"       AI ENRICHMENT\n" +
		"================================\n\n"

	scoresBanner = "--------------------------------\n" +
		"SIMILARITY SCORES\n" +
		"--------------------------------\n"

	noMatchesText = "No similar past incidents found in the knowledge base."

	promptRole = "You are an expert SRE assistant helping with incident triage.\n\n"

	promptTask = "TASK:\n" +
		"Generate a concise triage note (max 400 words) with:\n" +
		"1. Likely Root Cause (based on similar incidents)\n" +
		"2. Recommended Resolution Steps (specific and actionable)\n" +
		"3. Related Incident IDs for reference\n\n" +
		"Format the response in clear, professional sections using proper headers.\n" +
		"Use plain text formatting - no bold, italics, or markdown styling.\n" +
		"Be concise and action-oriented. Focus on what the on-call engineer should do NOW.\n"
)

// BuildPrompt renders the triage prompt for alert and its similar past
// incidents. Each excerpt is cut to excerptChars runes.
func BuildPrompt(alert Alert, matches []search.Result, excerptChars int) string {
	var b strings.Builder
	b.WriteString(promptRole)
	fmt.Fprintf(&b, "NEW ALERT:\nTitle: %s\nDescription: %s\nService: %s\nUrgency: %s\n\n",
		alert.Title, alert.Description, alert.Service, alert.Urgency)

	b.WriteString("SIMILAR PAST INCIDENTS:\n\n")
	for i, m := range matches {
		p := m.Payload
		fmt.Fprintf(&b, "%d. %s (%s section, %.0f%% match)\n", i+1, p.IncidentID, p.Section, m.Score*100)
		fmt.Fprintf(&b, "   Service: %s | Severity: %s | Date: %s\n", p.Service, p.Severity, p.Date)
		fmt.Fprintf(&b, "   Content: %s\n\n", search.Preview(p.Text, excerptChars))
	}

	b.WriteString(promptTask)
	return b.String()
}

// FormatNote wraps the model's analysis in the note banner and appends the
// similarity score of every match.
func FormatNote(analysis string, matches []search.Result) string {
	var b strings.Builder
	b.WriteString(noteBanner)
	b.WriteString(strings.TrimSpace(analysis))
	b.WriteString("\n\n")
	b.WriteString(scoresBanner)
	for i, m := range matches {
		fmt.Fprintf(&b, "  [%d] %s: %.1f%% match (%s)\n", i+1, m.Payload.IncidentID, m.Score*100, m.Payload.Section)
	}
	b.WriteString("\n")
	return b.String()
}

// NoMatchesNote is posted when the knowledge base has nothing similar.
func NoMatchesNote() string {
	return noteBanner + noMatchesText
}
