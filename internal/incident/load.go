package incident

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"
)

// ErrUndecodable is returned for document bytes that are not valid UTF-8.
// It is the only condition under which a document is skipped.
var ErrUndecodable = errors.New("incident: document is not valid UTF-8")

// documentExt is the file extension of incident documents.
const documentExt = ".md"

// utf8BOM is stripped from the front of a document before parsing.
var utf8BOM = []byte{0xEF, 0xBB, 0xBF}

// Source is a document file discovered on disk.
type Source struct {
	// ID is the file's base name; it becomes Document.SourceID.
	ID string
	// Path is the full path used to read the file.
	Path string
}

// LoadDir lists the incident documents directly inside dir, sorted by file
// name so that repeated runs over an unchanged directory yield the same
// chunk order (and therefore the same point ids).
func LoadDir(dir string) ([]Source, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("incident: read dir %s: %w", dir, err)
	}

	// os.ReadDir already returns entries sorted by filename.
	var sources []Source
	for _, e := range entries {
		if e.IsDir() || !strings.EqualFold(filepath.Ext(e.Name()), documentExt) {
			continue
		}
		sources = append(sources, Source{
			ID:   e.Name(),
			Path: filepath.Join(dir, e.Name()),
		})
	}
	return sources, nil
}

// Read loads and parses a single source.
func Read(src Source) (Document, error) {
	data, err := os.ReadFile(src.Path)
	if err != nil {
		return Document{}, fmt.Errorf("incident: read %s: %w", src.Path, err)
	}
	text, err := Decode(data)
	if err != nil {
		return Document{}, fmt.Errorf("%s: %w", src.ID, err)
	}
	return Parse(text, src.ID), nil
}

// Decode converts raw file bytes to text, stripping a UTF-8 byte order mark.
func Decode(data []byte) (string, error) {
	data = bytes.TrimPrefix(data, utf8BOM)
	if !utf8.Valid(data) {
		return "", ErrUndecodable
	}
	return string(data), nil
}
