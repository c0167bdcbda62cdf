// Package metrics registers the Prometheus metrics for ingestion runs and
// search queries. A Metrics value is created once per process against an
// injected registry and passed to the embedder, index and search packages
// as their Observer.
package metrics

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/push"
)

const namespace = "incidentkb"

// Outcome label values.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Document outcome label values.
const (
	DocumentParsed  = "parsed"
	DocumentSkipped = "skipped"
)

// Metrics holds every metric owned by the pipeline and query path.
type Metrics struct {
	// documentsTotal counts documents seen, partitioned by "parsed" or "skipped".
	documentsTotal *prometheus.CounterVec

	// chunksTotal counts chunks produced by the chunk builder.
	chunksTotal prometheus.Counter

	// embeddingRequestsTotal counts provider calls, partitioned by outcome.
	embeddingRequestsTotal *prometheus.CounterVec

	// embeddingDurationSeconds records provider call latency.
	embeddingDurationSeconds prometheus.Histogram

	// upsertBatchesTotal counts upsert calls, partitioned by outcome.
	upsertBatchesTotal *prometheus.CounterVec

	// upsertedPointsTotal counts points successfully written.
	upsertedPointsTotal prometheus.Counter

	// searchRequestsTotal counts queries, partitioned by outcome.
	searchRequestsTotal *prometheus.CounterVec

	// searchDurationSeconds records end-to-end query latency (embed + search).
	searchDurationSeconds prometheus.Histogram

	// phaseDurationSeconds records the duration of each ingestion phase.
	phaseDurationSeconds *prometheus.HistogramVec

	// lastRunTimestamp is the unix time a run last finished, by outcome.
	lastRunTimestamp *prometheus.GaugeVec

	// enrichmentsTotal counts incident enrichments, by outcome.
	enrichmentsTotal *prometheus.CounterVec

	// enrichmentDurationSeconds records search, generation and posting together.
	enrichmentDurationSeconds prometheus.Histogram
}

// New registers all metrics against reg. promauto.With(reg) keeps tests
// hermetic: each test passes a fresh prometheus.Registry.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		documentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "documents_total",
			Help:      "Incident documents seen, partitioned by parsed or skipped.",
		}, []string{"outcome"}),

		chunksTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "chunks_total",
			Help:      "Retrieval chunks produced from parsed documents.",
		}),

		embeddingRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "requests_total",
			Help:      "Embedding provider calls, partitioned by outcome.",
		}, []string{"outcome"}),

		embeddingDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "embedding",
			Name:      "duration_seconds",
			Help:      "Latency of embedding provider calls, excluding pacing waits.",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
		}),

		upsertBatchesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "upsert_batches_total",
			Help:      "Vector store upsert calls, partitioned by outcome.",
		}, []string{"outcome"}),

		upsertedPointsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "index",
			Name:      "upserted_points_total",
			Help:      "Points successfully written to the vector store.",
		}),

		searchRequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "requests_total",
			Help:      "Similarity queries, partitioned by outcome.",
		}, []string{"outcome"}),

		searchDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "search",
			Name:      "duration_seconds",
			Help:      "Latency of similarity queries including the query embedding.",
			Buckets:   prometheus.DefBuckets,
		}),

		phaseDurationSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "phase_duration_seconds",
			Help:      "Duration of each ingestion phase.",
			Buckets:   []float64{0.01, 0.1, 1, 5, 15, 60, 300, 900},
		}, []string{"phase"}),

		lastRunTimestamp: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "ingest",
			Name:      "last_run_timestamp_seconds",
			Help:      "Unix time the last ingestion run finished, by outcome.",
		}, []string{"outcome"}),

		enrichmentsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "enrichments_total",
			Help:      "Incident enrichments, by outcome (posted, drafted, no_matches, failed).",
		}, []string{"outcome"}),

		enrichmentDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "enrich",
			Name:      "duration_seconds",
			Help:      "Latency of an enrichment from similarity search to posted note.",
			Buckets:   []float64{0.5, 1, 2.5, 5, 10, 20, 40, 80, 160},
		}),
	}
}

// outcome maps err to a label value.
func outcome(err error) string {
	if err != nil {
		return OutcomeError
	}
	return OutcomeOK
}

// Documents adds n documents with the given outcome label.
func (m *Metrics) Documents(label string, n int) {
	m.documentsTotal.WithLabelValues(label).Add(float64(n))
}

// Chunks adds n produced chunks.
func (m *Metrics) Chunks(n int) {
	m.chunksTotal.Add(float64(n))
}

// Phase records how long an ingestion phase took.
func (m *Metrics) Phase(name string, d time.Duration) {
	m.phaseDurationSeconds.WithLabelValues(name).Observe(d.Seconds())
}

// RunFinished stamps the last-run gauge for outcome.
func (m *Metrics) RunFinished(outcome string, at time.Time) {
	m.lastRunTimestamp.WithLabelValues(outcome).Set(float64(at.Unix()))
}

// ObserveEmbedding implements embedder.Observer.
func (m *Metrics) ObserveEmbedding(err error, elapsed time.Duration) {
	m.embeddingRequestsTotal.WithLabelValues(outcome(err)).Inc()
	m.embeddingDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveUpsert implements index.Observer.
func (m *Metrics) ObserveUpsert(points int, err error) {
	m.upsertBatchesTotal.WithLabelValues(outcome(err)).Inc()
	if err == nil {
		m.upsertedPointsTotal.Add(float64(points))
	}
}

// ObserveSearch implements search.Observer.
func (m *Metrics) ObserveSearch(err error, elapsed time.Duration) {
	m.searchRequestsTotal.WithLabelValues(outcome(err)).Inc()
	m.searchDurationSeconds.Observe(elapsed.Seconds())
}

// ObserveEnrichment implements enrich.Observer.
func (m *Metrics) ObserveEnrichment(outcome string, elapsed time.Duration) {
	m.enrichmentsTotal.WithLabelValues(outcome).Inc()
	m.enrichmentDurationSeconds.Observe(elapsed.Seconds())
}

// Push sends everything in g to the Pushgateway at url under job. Batch
// runs exit before a scrape could happen, so ingest pushes instead.
func Push(ctx context.Context, url, job string, g prometheus.Gatherer) error {
	if err := push.New(url, job).Gatherer(g).PushContext(ctx); err != nil {
		return fmt.Errorf("metrics: push to %s: %w", url, err)
	}
	return nil
}
