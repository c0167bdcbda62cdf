package incident

import "strings"

// Unknown is the value used for any chunk metadata field that the owning
// document's header block does not provide.
const Unknown = "unknown"

// Header metadata keys copied onto every chunk.
const (
	KeyIncidentID = "incident_id"
	KeySeverity   = "severity"
	KeyService    = "service"
	KeyDate       = "date"
)

// PrioritySections lists, in emission order, the only sections that become
// chunks. Everything else is parsed but never indexed.
var PrioritySections = []string{
	"summary",
	"root_cause",
	"resolution",
	"prevention",
	"impact",
	"timeline",
}

// ChunkMetadata is the denormalised filtering/display metadata carried by
// every chunk.
type ChunkMetadata struct {
	IncidentID  string
	Severity    string
	Service     string
	Date        string
	SectionName string
	SourceID    string
}

// Chunk is one retrieval unit: the body of a single priority section.
type Chunk struct {
	// ID is the chunk's zero-based position in the flattened corpus list.
	// It is assigned by Flatten and becomes the vector-store point id.
	ID uint64

	// Text is the non-empty section body.
	Text string

	// Metadata describes where the text came from.
	Metadata ChunkMetadata
}

// EmbeddedChunk is a Chunk with its document-role embedding attached.
type EmbeddedChunk struct {
	Chunk

	// Embedding has exactly the configured dimensionality.
	Embedding []float32
}

// BuildChunks returns one chunk per priority section present in doc with
// non-empty content. Order follows PrioritySections, not document order.
// IDs are left zero; Flatten assigns them.
func BuildChunks(doc Document) []Chunk {
	var chunks []Chunk
	for _, name := range PrioritySections {
		body, ok := doc.Sections[name]
		if !ok {
			continue
		}
		body = strings.TrimSpace(body)
		if body == "" {
			continue
		}
		chunks = append(chunks, Chunk{
			Text: body,
			Metadata: ChunkMetadata{
				IncidentID:  metaOrUnknown(doc.Metadata, KeyIncidentID),
				Severity:    metaOrUnknown(doc.Metadata, KeySeverity),
				Service:     metaOrUnknown(doc.Metadata, KeyService),
				Date:        metaOrUnknown(doc.Metadata, KeyDate),
				SectionName: name,
				SourceID:    doc.SourceID,
			},
		})
	}
	return chunks
}

// Flatten concatenates per-document chunk lists in order and assigns each
// chunk its dense, zero-based position as ID. The returned slice is the
// single source of truth for point ids in a run.
func Flatten(perDocument [][]Chunk) []Chunk {
	total := 0
	for _, cs := range perDocument {
		total += len(cs)
	}

	out := make([]Chunk, 0, total)
	for _, cs := range perDocument {
		for _, c := range cs {
			c.ID = uint64(len(out))
			out = append(out, c)
		}
	}
	return out
}

// metaOrUnknown returns m[key], or Unknown when the key is absent.
func metaOrUnknown(m map[string]string, key string) string {
	if v, ok := m[key]; ok {
		return v
	}
	return Unknown
}
