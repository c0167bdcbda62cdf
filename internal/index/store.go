// Package index synchronises embedded incident chunks into a vector store.
// [Store] abstracts the backend (Qdrant in production, an in-memory store
// for dry runs and tests); [Synchronizer] drives the collection lifecycle
// and batched upserts.
package index

import (
	"context"
	"errors"

	"github.com/54b3r/incidentkb/internal/incident"
)

// Sentinel errors returned by the synchronizer and stores.
var (
	// ErrCollectionExists is returned under PolicyFail when the target
	// collection is already present.
	ErrCollectionExists = errors.New("index: collection already exists")
	// ErrNonInteractive is returned under PolicyAsk when no terminal is
	// available to answer the recreate prompt.
	ErrNonInteractive = errors.New("index: recreate policy is ask but stdin is not a terminal")
	// ErrDimensionMismatch is returned when an existing collection's vector
	// size differs from the embedding dimensionality, or a point's vector
	// does not fit its collection.
	ErrDimensionMismatch = errors.New("index: vector size mismatch")
	// ErrCollectionNotFound is returned by stores for operations on a
	// collection that does not exist.
	ErrCollectionNotFound = errors.New("index: collection not found")
)

// Payload keys written on every point.
const (
	PayloadText       = "text"
	PayloadIncidentID = "incident_id"
	PayloadSeverity   = "severity"
	PayloadService    = "service"
	PayloadDate       = "date"
	PayloadSection    = "section"
	PayloadSourceID   = "source_id"
)

// Point is one vector with its id and payload.
type Point struct {
	// ID is the chunk's flattened id.
	ID uint64
	// Vector is the document-role embedding.
	Vector []float32
	// Payload carries the chunk text and metadata.
	Payload map[string]any
}

// ScoredPoint is a search hit.
type ScoredPoint struct {
	ID      uint64
	Score   float32
	Payload map[string]any
}

// Stats describes a collection after synchronisation.
type Stats struct {
	// Collection is the collection name.
	Collection string
	// PointCount is the number of stored points.
	PointCount uint64
	// IndexedVectors is the number of vectors in the backend's search
	// index. Qdrant builds the index in the background and reports 0 for
	// collections below its indexing threshold, so this may trail PointCount.
	IndexedVectors uint64
	// VectorSize is the collection's configured dimensionality.
	VectorSize uint64
}

// Store is the vector-store interface used by the synchronizer and the
// query path. Implementations must be safe for concurrent use. All
// collections use cosine distance.
type Store interface {
	// CollectionExists reports whether name exists.
	CollectionExists(ctx context.Context, name string) (bool, error)
	// CreateCollection creates name with vectors of size dim.
	CreateCollection(ctx context.Context, name string, dim uint64) error
	// DeleteCollection removes name and all its points.
	DeleteCollection(ctx context.Context, name string) error
	// CollectionVectorSize returns the configured vector size of name.
	CollectionVectorSize(ctx context.Context, name string) (uint64, error)
	// Upsert writes points, replacing any with the same id.
	Upsert(ctx context.Context, name string, points []Point) error
	// Stats returns point and vector counts for name.
	Stats(ctx context.Context, name string) (Stats, error)
	// Search returns up to k points nearest to vector, best first.
	Search(ctx context.Context, name string, vector []float32, k int) ([]ScoredPoint, error)
	// Close releases backend resources.
	Close() error
}

// NewPoint converts an embedded chunk into a point keyed by the chunk's id.
func NewPoint(ec incident.EmbeddedChunk) Point {
	m := ec.Metadata
	return Point{
		ID:     ec.ID,
		Vector: ec.Embedding,
		Payload: map[string]any{
			PayloadText:       ec.Text,
			PayloadIncidentID: m.IncidentID,
			PayloadSeverity:   m.Severity,
			PayloadService:    m.Service,
			PayloadDate:       m.Date,
			PayloadSection:    m.SectionName,
			PayloadSourceID:   m.SourceID,
		},
	}
}
