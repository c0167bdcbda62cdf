package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func Test_Metrics_Observers(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEmbedding(nil, 10*time.Millisecond)
	m.ObserveEmbedding(nil, 20*time.Millisecond)
	m.ObserveEmbedding(errors.New("boom"), time.Millisecond)
	m.ObserveUpsert(100, nil)
	m.ObserveUpsert(7, nil)
	m.ObserveUpsert(50, errors.New("unavailable"))
	m.ObserveSearch(nil, time.Millisecond)
	m.Documents(DocumentParsed, 3)
	m.Documents(DocumentSkipped, 1)
	m.Chunks(12)

	checks := []struct {
		name string
		c    prometheus.Collector
		want float64
	}{
		{"embedding ok", m.embeddingRequestsTotal.WithLabelValues(OutcomeOK), 2},
		{"embedding error", m.embeddingRequestsTotal.WithLabelValues(OutcomeError), 1},
		{"upsert ok", m.upsertBatchesTotal.WithLabelValues(OutcomeOK), 2},
		{"upsert error", m.upsertBatchesTotal.WithLabelValues(OutcomeError), 1},
		{"points", m.upsertedPointsTotal, 107},
		{"search ok", m.searchRequestsTotal.WithLabelValues(OutcomeOK), 1},
		{"docs parsed", m.documentsTotal.WithLabelValues(DocumentParsed), 3},
		{"docs skipped", m.documentsTotal.WithLabelValues(DocumentSkipped), 1},
		{"chunks", m.chunksTotal, 12},
	}
	for _, c := range checks {
		if got := testutil.ToFloat64(c.c); got != c.want {
			t.Errorf("%s: got %v, want %v", c.name, got, c.want)
		}
	}

	if n := testutil.CollectAndCount(m.embeddingDurationSeconds); n != 1 {
		t.Errorf("embedding histogram series = %d, want 1", n)
	}
}

func Test_Metrics_PhaseAndLastRun(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Phase("embed", 2*time.Second)
	m.RunFinished("ok", time.Unix(1700000000, 0))

	if got := testutil.ToFloat64(m.lastRunTimestamp.WithLabelValues("ok")); got != 1700000000 {
		t.Errorf("last run = %v", got)
	}
	if n := testutil.CollectAndCount(m.phaseDurationSeconds); n != 1 {
		t.Errorf("phase series = %d, want 1", n)
	}
}

func Test_Metrics_Enrichment(t *testing.T) {
	t.Parallel()
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveEnrichment("posted", 3*time.Second)
	m.ObserveEnrichment("posted", time.Second)
	m.ObserveEnrichment("failed", 100*time.Millisecond)

	if got := testutil.ToFloat64(m.enrichmentsTotal.WithLabelValues("posted")); got != 2 {
		t.Errorf("posted = %v, want 2", got)
	}
	if got := testutil.ToFloat64(m.enrichmentsTotal.WithLabelValues("failed")); got != 1 {
		t.Errorf("failed = %v, want 1", got)
	}
	if n, err := testutil.GatherAndCount(reg, "incidentkb_enrich_duration_seconds"); err != nil || n != 1 {
		t.Errorf("duration series = %d, %v; want 1", n, err)
	}
}

func Test_Metrics_SeparateRegistries(t *testing.T) {
	t.Parallel()
	// Registering twice against distinct registries must not panic.
	New(prometheus.NewRegistry())
	New(prometheus.NewRegistry())
}

func Test_Push_SendsToGateway(t *testing.T) {
	t.Parallel()

	var mu sync.Mutex
	var gotPath, gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		mu.Lock()
		gotPath, gotBody = r.URL.Path, string(b)
		mu.Unlock()
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(srv.Close)

	reg := prometheus.NewRegistry()
	m := New(reg)
	m.Chunks(5)

	if err := Push(t.Context(), srv.URL, "incidentkb_ingest", reg); err != nil {
		t.Fatalf("Push: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if !strings.Contains(gotPath, "/metrics/job/incidentkb_ingest") {
		t.Errorf("path = %q", gotPath)
	}
	if gotBody == "" {
		t.Error("empty push body")
	}
}

func Test_Push_GatewayError(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	t.Cleanup(srv.Close)

	if err := Push(t.Context(), srv.URL, "job", prometheus.NewRegistry()); err == nil {
		t.Fatal("expected error from failing gateway")
	}
}
