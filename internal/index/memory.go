package index

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"math"
	"slices"
	"sync"
)

// MemoryStore is an in-process Store using exact cosine similarity. It backs
// `ingest --dry-run` and tests. The zero value is not usable; call
// NewMemoryStore.
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memCollection
}

type memCollection struct {
	dim    uint64
	points map[uint64]Point
}

// NewMemoryStore returns an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{collections: make(map[string]*memCollection)}
}

// CollectionExists implements Store.
func (m *MemoryStore) CollectionExists(_ context.Context, name string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.collections[name]
	return ok, nil
}

// CreateCollection implements Store.
func (m *MemoryStore) CreateCollection(_ context.Context, name string, dim uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; ok {
		return fmt.Errorf("memory store: create %q: %w", name, ErrCollectionExists)
	}
	if dim == 0 {
		return fmt.Errorf("memory store: create %q: vector size must be positive", name)
	}
	m.collections[name] = &memCollection{dim: dim, points: make(map[uint64]Point)}
	return nil
}

// DeleteCollection implements Store.
func (m *MemoryStore) DeleteCollection(_ context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.collections[name]; !ok {
		return fmt.Errorf("memory store: delete %q: %w", name, ErrCollectionNotFound)
	}
	delete(m.collections, name)
	return nil
}

// CollectionVectorSize implements Store.
func (m *MemoryStore) CollectionVectorSize(_ context.Context, name string) (uint64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return 0, fmt.Errorf("memory store: %q: %w", name, ErrCollectionNotFound)
	}
	return c.dim, nil
}

// Upsert implements Store. The whole batch is rejected if any vector has
// the wrong size.
func (m *MemoryStore) Upsert(_ context.Context, name string, points []Point) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.collections[name]
	if !ok {
		return fmt.Errorf("memory store: upsert %q: %w", name, ErrCollectionNotFound)
	}
	for _, p := range points {
		if uint64(len(p.Vector)) != c.dim {
			return fmt.Errorf("memory store: point %d has %d dims, collection has %d: %w", p.ID, len(p.Vector), c.dim, ErrDimensionMismatch)
		}
	}
	for _, p := range points {
		c.points[p.ID] = Point{
			ID:      p.ID,
			Vector:  slices.Clone(p.Vector),
			Payload: maps.Clone(p.Payload),
		}
	}
	return nil
}

// Stats implements Store.
func (m *MemoryStore) Stats(_ context.Context, name string) (Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return Stats{}, fmt.Errorf("memory store: stats %q: %w", name, ErrCollectionNotFound)
	}
	n := uint64(len(c.points))
	return Stats{Collection: name, PointCount: n, IndexedVectors: n, VectorSize: c.dim}, nil
}

// Search implements Store. Ties are broken by ascending id.
func (m *MemoryStore) Search(_ context.Context, name string, vector []float32, k int) ([]ScoredPoint, error) {
	if k <= 0 {
		return nil, fmt.Errorf("memory store: k must be greater than 0")
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.collections[name]
	if !ok {
		return nil, fmt.Errorf("memory store: search %q: %w", name, ErrCollectionNotFound)
	}
	if uint64(len(vector)) != c.dim {
		return nil, fmt.Errorf("memory store: query has %d dims, collection has %d: %w", len(vector), c.dim, ErrDimensionMismatch)
	}

	hits := make([]ScoredPoint, 0, len(c.points))
	for _, p := range c.points {
		hits = append(hits, ScoredPoint{
			ID:      p.ID,
			Score:   cosine(vector, p.Vector),
			Payload: maps.Clone(p.Payload),
		})
	}
	slices.SortFunc(hits, func(a, b ScoredPoint) int {
		if a.Score != b.Score {
			return cmp.Compare(b.Score, a.Score)
		}
		return cmp.Compare(a.ID, b.ID)
	})
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Close implements Store.
func (m *MemoryStore) Close() error { return nil }

// cosine returns the cosine similarity of a and b, or 0 when either is zero.
func cosine(a, b []float32) float32 {
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
