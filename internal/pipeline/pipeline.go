// Package pipeline runs one full ingestion of an incident corpus:
// load → parse + chunk → embed → sync → smoke query.
// It is invoked by the `incidentkb ingest` CLI command.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/54b3r/incidentkb/internal/embedder"
	"github.com/54b3r/incidentkb/internal/incident"
	"github.com/54b3r/incidentkb/internal/index"
	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/metrics"
	"github.com/54b3r/incidentkb/internal/search"
	"github.com/54b3r/incidentkb/internal/store"
)

// Phase names a pipeline stage.
type Phase string

const (
	PhaseLoad  Phase = "load"
	PhaseChunk Phase = "chunk"
	PhaseEmbed Phase = "embed"
	PhaseSync  Phase = "sync"
	PhaseSmoke Phase = "smoke"
)

// Run outcomes recorded in the report and the run ledger.
const (
	OutcomeOK     = "ok"
	OutcomeEmpty  = "empty"
	OutcomeFailed = "failed"
)

// defaultProgressEvery is how many embedded chunks pass between progress logs.
const defaultProgressEvery = 10

// PhaseError wraps the error that stopped a run with the phase it happened in.
type PhaseError struct {
	Phase Phase
	Err   error
}

// Error implements error.
func (e *PhaseError) Error() string {
	return fmt.Sprintf("pipeline: %s: %v", e.Phase, e.Err)
}

// Unwrap returns the underlying error.
func (e *PhaseError) Unwrap() error { return e.Err }

// Embedder embeds a whole chunk list. *embedder.Client satisfies it.
type Embedder interface {
	EmbedAll(ctx context.Context, chunks []incident.Chunk, progress embedder.ProgressFunc) ([]incident.EmbeddedChunk, error)
}

// Syncer writes embedded chunks to the index. *index.Synchronizer satisfies it.
type Syncer interface {
	Sync(ctx context.Context, chunks []incident.EmbeddedChunk) (*index.Result, error)
}

// Querier answers the post-ingestion smoke query. *search.Searcher satisfies it.
type Querier interface {
	Query(ctx context.Context, text string, k int) ([]search.Result, error)
}

// Config holds the configuration for a pipeline run.
type Config struct {
	// Dir is the directory holding the incident documents.
	Dir string

	// SmokeQuery is run after a successful sync. Empty disables it.
	SmokeQuery string

	// TopK is the number of smoke-query results. Zero uses search.DefaultTopK.
	TopK int

	// ProgressEvery sets how many embedded chunks pass between progress
	// log lines. Zero means 10.
	ProgressEvery int
}

// SkippedDocument is a document that could not be decoded.
type SkippedDocument struct {
	SourceID string
	Err      error
}

// Report describes a finished (or failed) run.
type Report struct {
	// RunID is the ledger id, empty when no ledger is configured.
	RunID string
	// Outcome is OutcomeOK, OutcomeEmpty or OutcomeFailed.
	Outcome string
	// Documents is the number of documents discovered.
	Documents int
	// Skipped lists undecodable documents.
	Skipped []SkippedDocument
	// Chunks is the number of chunks built.
	Chunks int
	// AvgChunksPerDocument is Chunks divided by the parsed document count.
	AvgChunksPerDocument float64
	// Sync is the index result; nil if the sync phase did not complete.
	Sync *index.Result
	// SmokeQuery is the query text that was run, if any.
	SmokeQuery string
	// SmokeResults are the smoke query hits.
	SmokeResults []search.Result
	// SmokeErr is set when the smoke query failed; it does not fail the run.
	SmokeErr error
	// Duration is the wall-clock time of the run.
	Duration time.Duration
}

// Pipeline orchestrates one ingestion run.
type Pipeline struct {
	// embedder turns chunks into embedded chunks.
	embedder Embedder
	// syncer writes them to the vector store.
	syncer Syncer
	// querier runs the smoke query; may be nil when SmokeQuery is empty.
	querier Querier
	// metrics is optional.
	metrics *metrics.Metrics
	// ledger is optional.
	ledger store.Ledger
	// collection is recorded in the ledger.
	collection string
	// cfg holds the resolved pipeline configuration.
	cfg Config
}

// Option customises a Pipeline.
type Option func(*Pipeline)

// WithMetrics records phase durations and counts on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// WithLedger records the run in l under collection.
func WithLedger(l store.Ledger, collection string) Option {
	return func(p *Pipeline) {
		p.ledger = l
		p.collection = collection
	}
}

// New constructs a Pipeline from the provided dependencies and config.
func New(emb Embedder, syn Syncer, q Querier, cfg *Config, opts ...Option) (*Pipeline, error) {
	if emb == nil {
		return nil, fmt.Errorf("pipeline: embedder must not be nil")
	}
	if syn == nil {
		return nil, fmt.Errorf("pipeline: syncer must not be nil")
	}
	if cfg == nil || cfg.Dir == "" {
		return nil, fmt.Errorf("pipeline: document directory is required")
	}
	if cfg.SmokeQuery != "" && q == nil {
		return nil, fmt.Errorf("pipeline: smoke query configured without a querier")
	}

	c := *cfg
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = defaultProgressEvery
	}
	if c.TopK <= 0 {
		c.TopK = search.DefaultTopK
	}

	p := &Pipeline{embedder: emb, syncer: syn, querier: q, cfg: c}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Run executes every phase in order. On failure it returns the partial
// report together with a *PhaseError. An empty corpus, or one with no
// indexable sections, finishes with OutcomeEmpty and touches neither the
// embedding provider nor the vector store.
func (p *Pipeline) Run(ctx context.Context) (*Report, error) {
	log := logging.FromContext(ctx)
	start := time.Now()
	rep := &Report{}

	if p.ledger != nil {
		id, err := p.ledger.BeginRun(ctx, p.collection)
		if err != nil {
			log.Warn("run ledger unavailable", slog.Any("error", err))
		}
		rep.RunID = id
	}

	err := p.run(ctx, rep)
	rep.Duration = time.Since(start)
	if err != nil {
		rep.Outcome = OutcomeFailed
	}
	p.finish(ctx, rep, err)
	return rep, err
}

// run executes the phases, filling rep as it goes.
func (p *Pipeline) run(ctx context.Context, rep *Report) error {
	log := logging.FromContext(ctx)

	// Phase 1: load.
	var sources []incident.Source
	err := p.phase(ctx, PhaseLoad, func() error {
		var err error
		sources, err = incident.LoadDir(p.cfg.Dir)
		return err
	})
	if err != nil {
		return err
	}
	rep.Documents = len(sources)
	log.Info("loaded incident documents", slog.String("dir", p.cfg.Dir), slog.Int("documents", len(sources)))
	if len(sources) == 0 {
		rep.Outcome = OutcomeEmpty
		log.Warn("no incident documents found", slog.String("dir", p.cfg.Dir))
		return nil
	}

	// Phase 2: parse + chunk.
	var chunks []incident.Chunk
	err = p.phase(ctx, PhaseChunk, func() error {
		perDoc := make([][]incident.Chunk, 0, len(sources))
		for _, src := range sources {
			doc, err := incident.Read(src)
			if errors.Is(err, incident.ErrUndecodable) {
				rep.Skipped = append(rep.Skipped, SkippedDocument{SourceID: src.ID, Err: err})
				log.Warn("skipping undecodable document", slog.String("source_id", src.ID), slog.Any("error", err))
				continue
			}
			if err != nil {
				return err
			}
			perDoc = append(perDoc, incident.BuildChunks(doc))
		}
		chunks = incident.Flatten(perDoc)
		return nil
	})
	if err != nil {
		return err
	}

	parsed := rep.Documents - len(rep.Skipped)
	rep.Chunks = len(chunks)
	if parsed > 0 {
		rep.AvgChunksPerDocument = float64(len(chunks)) / float64(parsed)
	}
	if p.metrics != nil {
		p.metrics.Documents(metrics.DocumentParsed, parsed)
		p.metrics.Documents(metrics.DocumentSkipped, len(rep.Skipped))
		p.metrics.Chunks(len(chunks))
	}
	log.Info("built chunks",
		slog.Int("chunks", len(chunks)),
		slog.Int("parsed", parsed),
		slog.Int("skipped", len(rep.Skipped)),
		slog.Float64("avg_chunks_per_incident", rep.AvgChunksPerDocument),
	)
	if len(chunks) == 0 {
		rep.Outcome = OutcomeEmpty
		log.Warn("no indexable sections found")
		return nil
	}

	// Phase 3: embed.
	var embedded []incident.EmbeddedChunk
	err = p.phase(ctx, PhaseEmbed, func() error {
		var err error
		embedded, err = p.embedder.EmbedAll(ctx, chunks, func(done, total int) {
			if done%p.cfg.ProgressEvery == 0 || done == total {
				log.Info("embedding progress", slog.Int("done", done), slog.Int("total", total))
			}
		})
		return err
	})
	if err != nil {
		return err
	}

	// Phase 4: sync.
	err = p.phase(ctx, PhaseSync, func() error {
		res, err := p.syncer.Sync(ctx, embedded)
		rep.Sync = res
		return err
	})
	if err != nil {
		return err
	}
	log.Info("index synchronised",
		slog.String("collection", rep.Sync.Stats.Collection),
		slog.String("action", string(rep.Sync.Action)),
		slog.Int("batches", rep.Sync.Batches),
		slog.Uint64("points_count", rep.Sync.Stats.PointCount),
		slog.Uint64("indexed_vectors", rep.Sync.Stats.IndexedVectors),
	)
	rep.Outcome = OutcomeOK

	// Phase 5: smoke query. Failure is reported, not fatal.
	if p.cfg.SmokeQuery == "" {
		return nil
	}
	rep.SmokeQuery = p.cfg.SmokeQuery
	smokeErr := p.phase(ctx, PhaseSmoke, func() error {
		var err error
		rep.SmokeResults, err = p.querier.Query(ctx, p.cfg.SmokeQuery, p.cfg.TopK)
		return err
	})
	if smokeErr != nil {
		rep.SmokeErr = smokeErr
		log.Warn("smoke query failed", slog.String("query", p.cfg.SmokeQuery), slog.Any("error", smokeErr))
	}
	return nil
}

// phase times fn, records the duration and wraps any error as *PhaseError.
func (p *Pipeline) phase(ctx context.Context, name Phase, fn func() error) error {
	start := time.Now()
	err := fn()
	elapsed := time.Since(start)
	if p.metrics != nil {
		p.metrics.Phase(string(name), elapsed)
	}
	logging.FromContext(ctx).Debug("phase finished",
		slog.String("phase", string(name)),
		slog.Duration("elapsed", elapsed),
		slog.Bool("ok", err == nil),
	)
	if err != nil {
		return &PhaseError{Phase: name, Err: err}
	}
	return nil
}

// finish records the outcome in metrics and the ledger. Ledger failures
// are logged only.
func (p *Pipeline) finish(ctx context.Context, rep *Report, runErr error) {
	if p.metrics != nil {
		p.metrics.RunFinished(rep.Outcome, time.Now())
	}
	if p.ledger == nil || rep.RunID == "" {
		return
	}

	sum := store.Summary{
		Outcome:   rep.Outcome,
		Documents: rep.Documents,
		Skipped:   len(rep.Skipped),
		Chunks:    rep.Chunks,
	}
	if rep.Sync != nil {
		sum.Points = rep.Sync.Points
	}
	if runErr != nil {
		sum.Error = runErr.Error()
	}
	// The run context may already be cancelled; the ledger write should still land.
	if err := p.ledger.FinishRun(context.WithoutCancel(ctx), rep.RunID, sum); err != nil {
		logging.FromContext(ctx).Warn("run ledger update failed", slog.String("run_id", rep.RunID), slog.Any("error", err))
	}
}
