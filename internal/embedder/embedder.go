// Package embedder converts text into dense vector embeddings. A [Provider]
// talks to one backend (Gemini via the genai SDK, OpenAI/Azure or Ollama via
// plain HTTP); a [Client] wraps a provider with pacing, dimensionality
// checks, optional retries and a bounded worker queue for whole-corpus runs.
package embedder

import (
	"context"
	"errors"
	"fmt"
)

// ErrDimensionMismatch is returned when a provider produces a vector whose
// length differs from the configured dimensionality.
var ErrDimensionMismatch = errors.New("embedder: embedding dimension mismatch")

// Role is the asymmetric retrieval role an embedding is produced for.
// Documents and queries must never be embedded with each other's role.
type Role int

const (
	// RoleDocument is used for every chunk stored in the index.
	RoleDocument Role = iota
	// RoleQuery is used for search text.
	RoleQuery
)

// String returns a short lower-case name for logs.
func (r Role) String() string {
	if r == RoleQuery {
		return "query"
	}
	return "document"
}

// TaskType returns the Gemini task type for r.
func (r Role) TaskType() string {
	if r == RoleQuery {
		return "RETRIEVAL_QUERY"
	}
	return "RETRIEVAL_DOCUMENT"
}

// Provider embeds a single text. Implementations must be safe for
// concurrent use.
type Provider interface {
	// Embed returns the embedding of text for the given role.
	Embed(ctx context.Context, text string, role Role) ([]float32, error)
	// Model returns the model identifier sent to the backend.
	Model() string
	// Dimensions returns the vector length the provider was asked for.
	Dimensions() int
}

// ChunkError identifies the chunk whose embedding failed during EmbedAll.
type ChunkError struct {
	// Index is the chunk's position in the slice passed to EmbedAll.
	Index int
	// ChunkID is the chunk's flattened id.
	ChunkID uint64
	// SourceID is the document the chunk came from.
	SourceID string
	// Section is the chunk's section name.
	Section string
	// Err is the underlying provider or validation error.
	Err error
}

// Error implements error.
func (e *ChunkError) Error() string {
	return fmt.Sprintf("embedder: chunk %d (%s/%s): %v", e.Index, e.SourceID, e.Section, e.Err)
}

// Unwrap returns the underlying error.
func (e *ChunkError) Unwrap() error { return e.Err }
