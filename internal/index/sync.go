package index

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/54b3r/incidentkb/internal/incident"
	"github.com/54b3r/incidentkb/internal/logging"
)

// DefaultBatchSize is the number of points written per upsert call.
const DefaultBatchSize = 100

// RecreatePolicy decides what happens when the target collection already
// exists at the start of a sync.
type RecreatePolicy string

const (
	// PolicyAsk prompts the operator; "yes" recreates, "no" merges.
	PolicyAsk RecreatePolicy = "ask"
	// PolicyRecreate deletes and recreates the collection.
	PolicyRecreate RecreatePolicy = "recreate"
	// PolicyMerge keeps the collection and upserts over existing points.
	PolicyMerge RecreatePolicy = "merge"
	// PolicyFail aborts with ErrCollectionExists.
	PolicyFail RecreatePolicy = "fail"
)

// ParsePolicy validates s as a RecreatePolicy. Empty means PolicyAsk.
func ParsePolicy(s string) (RecreatePolicy, error) {
	switch p := RecreatePolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case "":
		return PolicyAsk, nil
	case PolicyAsk, PolicyRecreate, PolicyMerge, PolicyFail:
		return p, nil
	default:
		return "", fmt.Errorf("index: unknown recreate policy %q (valid: ask, recreate, merge, fail)", s)
	}
}

// Action is what Sync did to the collection before upserting.
type Action string

const (
	ActionCreated   Action = "created"
	ActionRecreated Action = "recreated"
	ActionMerged    Action = "merged"
)

// BatchError identifies the upsert batch that failed. Earlier batches
// remain stored.
type BatchError struct {
	// Batch is the zero-based batch number.
	Batch int
	// First and Last are the point ids at the batch boundaries.
	First, Last uint64
	// Err is the store error.
	Err error
}

// Error implements error.
func (e *BatchError) Error() string {
	return fmt.Sprintf("index: upsert batch %d (points %d-%d): %v", e.Batch, e.First, e.Last, e.Err)
}

// Unwrap returns the underlying store error.
func (e *BatchError) Unwrap() error { return e.Err }

// Observer receives the outcome of every upsert batch. internal/metrics
// implements it.
type Observer interface {
	ObserveUpsert(points int, err error)
}

// Config controls a Synchronizer.
type Config struct {
	// Collection is the target collection name.
	Collection string
	// Dimensions is the embedding dimensionality D.
	Dimensions uint64
	// BatchSize is the number of points per upsert. Zero means DefaultBatchSize.
	BatchSize int
	// Policy applies when the collection already exists.
	Policy RecreatePolicy
	// Confirmer answers the PolicyAsk prompt. Nil under PolicyAsk yields
	// ErrNonInteractive when the collection exists.
	Confirmer Confirmer
	// Observer, when non-nil, is told about every upsert batch.
	Observer Observer
}

// Result summarises a completed sync.
type Result struct {
	// Action is what happened to the collection before upserting.
	Action Action
	// Batches is the number of upsert calls made.
	Batches int
	// Points is the number of points written.
	Points int
	// Stats is read back from the store after the last batch.
	Stats Stats
}

// Synchronizer writes embedded chunks into a collection.
type Synchronizer struct {
	store Store
	cfg   Config
}

// NewSynchronizer validates cfg and returns a Synchronizer over store.
func NewSynchronizer(store Store, cfg Config) (*Synchronizer, error) {
	if store == nil {
		return nil, fmt.Errorf("index: store is nil")
	}
	if cfg.Collection == "" {
		return nil, fmt.Errorf("index: collection name is required")
	}
	if cfg.Dimensions == 0 {
		return nil, fmt.Errorf("index: dimensions must be positive")
	}
	if cfg.BatchSize < 0 {
		return nil, fmt.Errorf("index: batch size must not be negative, got %d", cfg.BatchSize)
	}
	if cfg.BatchSize == 0 {
		cfg.BatchSize = DefaultBatchSize
	}
	policy, err := ParsePolicy(string(cfg.Policy))
	if err != nil {
		return nil, err
	}
	cfg.Policy = policy
	return &Synchronizer{store: store, cfg: cfg}, nil
}

// Sync prepares the collection according to the recreate policy, upserts
// chunks in batches in list order (point id = chunk id) and returns the
// collection stats. Vectors of the wrong size are rejected before any
// write.
func (s *Synchronizer) Sync(ctx context.Context, chunks []incident.EmbeddedChunk) (*Result, error) {
	log := logging.FromContext(ctx).With(slog.String("collection", s.cfg.Collection))

	for _, ec := range chunks {
		if uint64(len(ec.Embedding)) != s.cfg.Dimensions {
			return nil, fmt.Errorf("index: chunk %d has %d dims, want %d: %w", ec.ID, len(ec.Embedding), s.cfg.Dimensions, ErrDimensionMismatch)
		}
	}

	action, err := s.prepare(ctx)
	if err != nil {
		return nil, err
	}
	log.Info("collection ready", slog.String("action", string(action)), slog.Uint64("vector_size", s.cfg.Dimensions))

	res := &Result{Action: action}
	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		batch := chunks[start:end]

		points := make([]Point, len(batch))
		for i, ec := range batch {
			points[i] = NewPoint(ec)
		}

		err := s.store.Upsert(ctx, s.cfg.Collection, points)
		if s.cfg.Observer != nil {
			s.cfg.Observer.ObserveUpsert(len(points), err)
		}
		if err != nil {
			return nil, &BatchError{
				Batch: res.Batches,
				First: batch[0].ID,
				Last:  batch[len(batch)-1].ID,
				Err:   err,
			}
		}
		res.Batches++
		res.Points += len(points)
		log.Debug("upserted batch", slog.Int("batch", res.Batches), slog.Int("points", res.Points), slog.Int("total", len(chunks)))
	}

	stats, err := s.store.Stats(ctx, s.cfg.Collection)
	if err != nil {
		return nil, fmt.Errorf("index: read stats: %w", err)
	}
	res.Stats = stats
	return res, nil
}

// prepare runs the collection lifecycle: absent collections are created;
// existing ones are recreated, merged into or rejected per the policy.
func (s *Synchronizer) prepare(ctx context.Context) (Action, error) {
	name := s.cfg.Collection

	exists, err := s.store.CollectionExists(ctx, name)
	if err != nil {
		return "", fmt.Errorf("index: check collection: %w", err)
	}
	if !exists {
		if err := s.store.CreateCollection(ctx, name, s.cfg.Dimensions); err != nil {
			return "", fmt.Errorf("index: create collection: %w", err)
		}
		return ActionCreated, nil
	}

	policy := s.cfg.Policy
	if policy == PolicyAsk {
		if s.cfg.Confirmer == nil {
			return "", ErrNonInteractive
		}
		yes, err := s.cfg.Confirmer.Confirm(ctx, fmt.Sprintf("Collection %q already exists. Delete it and start fresh?", name))
		if err != nil {
			return "", fmt.Errorf("index: confirm recreate: %w", err)
		}
		policy = PolicyMerge
		if yes {
			policy = PolicyRecreate
		}
	}

	switch policy {
	case PolicyRecreate:
		if err := s.store.DeleteCollection(ctx, name); err != nil {
			return "", fmt.Errorf("index: delete collection: %w", err)
		}
		if err := s.store.CreateCollection(ctx, name, s.cfg.Dimensions); err != nil {
			return "", fmt.Errorf("index: create collection: %w", err)
		}
		return ActionRecreated, nil

	case PolicyMerge:
		size, err := s.store.CollectionVectorSize(ctx, name)
		if err != nil {
			return "", fmt.Errorf("index: read vector size: %w", err)
		}
		if size != s.cfg.Dimensions {
			return "", fmt.Errorf("index: collection %q has vector size %d, embeddings have %d: %w", name, size, s.cfg.Dimensions, ErrDimensionMismatch)
		}
		return ActionMerged, nil

	default:
		return "", fmt.Errorf("index: %q: %w", name, ErrCollectionExists)
	}
}
