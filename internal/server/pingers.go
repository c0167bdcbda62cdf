package server

import (
	"context"
	"fmt"
)

// healthChecker is implemented by stores that expose a native health RPC.
// *index.QdrantStore satisfies it.
type healthChecker interface {
	Ping(ctx context.Context) error
}

// QdrantPinger checks a Qdrant instance using its native HealthCheck RPC.
// It satisfies the Pinger interface and is used by GET /api/ready.
type QdrantPinger struct {
	// store is the Qdrant-backed store to check.
	store healthChecker
}

// NewQdrantPinger constructs a QdrantPinger for the given store.
func NewQdrantPinger(store healthChecker) *QdrantPinger {
	return &QdrantPinger{store: store}
}

// Name returns the dependency label used in readiness responses.
func (p *QdrantPinger) Name() string { return "qdrant" }

// Ping calls the Qdrant HealthCheck RPC.
// Returns nil if Qdrant is reachable, or a descriptive error otherwise.
func (p *QdrantPinger) Ping(ctx context.Context) error {
	return p.store.Ping(ctx)
}

// collectionChecker reports whether a collection exists. index.Store
// satisfies it.
type collectionChecker interface {
	CollectionExists(ctx context.Context, name string) (bool, error)
}

// CollectionPinger reports ready only once the searched collection exists,
// i.e. after the first successful ingest.
type CollectionPinger struct {
	// store is queried for the collection.
	store collectionChecker
	// collection is the name that must exist.
	collection string
}

// NewCollectionPinger constructs a CollectionPinger for collection in store.
func NewCollectionPinger(store collectionChecker, collection string) *CollectionPinger {
	return &CollectionPinger{store: store, collection: collection}
}

// Name returns the dependency label used in readiness responses.
func (p *CollectionPinger) Name() string { return "collection" }

// Ping returns an error when the collection is missing or the lookup fails.
func (p *CollectionPinger) Ping(ctx context.Context) error {
	ok, err := p.store.CollectionExists(ctx, p.collection)
	if err != nil {
		return fmt.Errorf("lookup %q: %w", p.collection, err)
	}
	if !ok {
		return fmt.Errorf("collection %q does not exist; run `incidentkb ingest` first", p.collection)
	}
	return nil
}
