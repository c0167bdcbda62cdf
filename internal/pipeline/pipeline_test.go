package pipeline

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/54b3r/incidentkb/internal/embedder"
	"github.com/54b3r/incidentkb/internal/incident"
	"github.com/54b3r/incidentkb/internal/index"
	"github.com/54b3r/incidentkb/internal/metrics"
	"github.com/54b3r/incidentkb/internal/search"
	"github.com/54b3r/incidentkb/internal/store"
)

const collection = "incident-knowledge-base"

// vocab is the bag-of-words basis used by keywordProvider.
var vocab = []string{"database", "connection", "pool", "exhausted", "disk", "full", "deploy", "cache"}

// keywordProvider embeds text as word presence over vocab plus a constant
// bias component, so similar wording yields similar vectors.
type keywordProvider struct {
	mu     sync.Mutex
	calls  int
	failOn string
}

func (k *keywordProvider) Model() string   { return "keyword" }
func (k *keywordProvider) Dimensions() int { return len(vocab) + 1 }

func (k *keywordProvider) Embed(_ context.Context, text string, _ embedder.Role) ([]float32, error) {
	k.mu.Lock()
	k.calls++
	k.mu.Unlock()
	if k.failOn != "" && text == k.failOn {
		return nil, errors.New("provider quota exceeded")
	}

	vec := make([]float32, len(vocab)+1)
	vec[len(vocab)] = 0.1
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, ".,;:")
		for i, v := range vocab {
			if w == v {
				vec[i] = 1
			}
		}
	}
	return vec, nil
}

// countingSyncer records Sync calls and delegates to an optional Synchronizer.
type countingSyncer struct {
	inner *index.Synchronizer
	calls int
}

func (c *countingSyncer) Sync(ctx context.Context, chunks []incident.EmbeddedChunk) (*index.Result, error) {
	c.calls++
	if c.inner == nil {
		return &index.Result{Action: index.ActionCreated, Points: len(chunks)}, nil
	}
	return c.inner.Sync(ctx, chunks)
}

func writeDocs(t *testing.T, docs map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	for name, body := range docs {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatal(err)
		}
	}
	return dir
}

// harness wires a real embedder.Client, Synchronizer and Searcher over a
// MemoryStore.
type harness struct {
	provider *keywordProvider
	store    *index.MemoryStore
	syncer   *countingSyncer
	searcher *search.Searcher
	client   *embedder.Client
}

func newHarness(t *testing.T, provider *keywordProvider) *harness {
	t.Helper()
	client, err := embedder.NewClient(provider, embedder.Config{})
	if err != nil {
		t.Fatal(err)
	}
	mem := index.NewMemoryStore()
	syn, err := index.NewSynchronizer(mem, index.Config{
		Collection: collection,
		Dimensions: uint64(client.Dimensions()),
		BatchSize:  2,
		Policy:     index.PolicyRecreate,
	})
	if err != nil {
		t.Fatal(err)
	}
	s, err := search.New(client, mem, collection)
	if err != nil {
		t.Fatal(err)
	}
	return &harness{provider: provider, store: mem, syncer: &countingSyncer{inner: syn}, searcher: s, client: client}
}

// counterValue returns the first sample of the named counter in reg.
func counterValue(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	mfs, err := reg.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() == name && len(mf.GetMetric()) > 0 {
			return mf.GetMetric()[0].GetCounter().GetValue()
		}
	}
	t.Fatalf("metric %s not found", name)
	return 0
}

var twoIncidents = map[string]string{
	"a.md": "---\nincident_id: INC-1\nseverity: low\nservice: logging\ndate: 2024-02-01\n---\n" +
		"# Log volume filled\n## Summary\nDisk full on the log volume.\n## Root Cause\nA deploy disabled log rotation.\n## Notes\nnothing to index",
	"b.md": "---\nincident_id: INC-2\nseverity: high\nservice: orders\n---\n" +
		"# Orders outage\n## Summary\nDatabase connection pool exhausted.\n## Root Cause\nA cache stampede after deploy.\n## Resolution\nRaised the pool size.",
}

func TestRun_EndToEnd(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &keywordProvider{})
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	p, err := New(h.client, h.syncer, h.searcher, &Config{
		Dir:        writeDocs(t, twoIncidents),
		SmokeQuery: "database connection pool exhausted",
		TopK:       3,
	}, WithMetrics(m))
	if err != nil {
		t.Fatal(err)
	}

	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}

	if rep.Outcome != OutcomeOK || rep.Documents != 2 || rep.Chunks != 5 || len(rep.Skipped) != 0 {
		t.Errorf("report = %+v", rep)
	}
	if rep.AvgChunksPerDocument != 2.5 {
		t.Errorf("avg chunks = %v, want 2.5", rep.AvgChunksPerDocument)
	}
	if rep.Sync == nil || rep.Sync.Stats.PointCount != 5 || rep.Sync.Batches != 3 {
		t.Errorf("sync = %+v", rep.Sync)
	}
	if rep.SmokeErr != nil {
		t.Fatalf("smoke error: %v", rep.SmokeErr)
	}
	if len(rep.SmokeResults) != 3 {
		t.Fatalf("smoke results = %d, want 3", len(rep.SmokeResults))
	}
	top := rep.SmokeResults[0]
	if top.ID != 2 || top.Payload.IncidentID != "INC-2" || top.Payload.Section != "summary" || top.Payload.Date != incident.Unknown {
		t.Errorf("top hit = %+v", top)
	}
	if got := counterValue(t, reg, "incidentkb_ingest_chunks_total"); got != 5 {
		t.Errorf("chunks metric = %v, want 5", got)
	}
	if n, err := testutil.GatherAndCount(reg, "incidentkb_ingest_phase_duration_seconds"); err != nil || n != 5 {
		t.Errorf("phase series = %d (%v), want 5", n, err)
	}
}

func TestRun_IdempotentReingest(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &keywordProvider{})
	dir := writeDocs(t, twoIncidents)
	p, err := New(h.client, h.syncer, nil, &Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}

	for range 2 {
		rep, err := p.Run(context.Background())
		if err != nil {
			t.Fatalf("Run: %v", err)
		}
		if rep.Sync.Stats.PointCount != 5 {
			t.Errorf("points = %d, want 5", rep.Sync.Stats.PointCount)
		}
	}
}

func TestRun_EmptyCorpus(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		docs map[string]string
	}{
		{name: "no documents", docs: map[string]string{"readme.txt": "not markdown"}},
		{name: "no priority sections", docs: map[string]string{"a.md": "# Title\n## Notes\nx"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			provider := &keywordProvider{}
			h := newHarness(t, provider)
			p, err := New(h.client, h.syncer, h.searcher, &Config{Dir: writeDocs(t, tt.docs), SmokeQuery: "q"})
			if err != nil {
				t.Fatal(err)
			}
			rep, err := p.Run(context.Background())
			if err != nil {
				t.Fatalf("Run: %v", err)
			}
			if rep.Outcome != OutcomeEmpty {
				t.Errorf("outcome = %q, want empty", rep.Outcome)
			}
			if provider.calls != 0 || h.syncer.calls != 0 {
				t.Errorf("provider calls = %d, sync calls = %d; want 0", provider.calls, h.syncer.calls)
			}
		})
	}
}

func TestRun_SkipsUndecodableDocument(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &keywordProvider{})
	dir := writeDocs(t, twoIncidents)
	if err := os.WriteFile(filepath.Join(dir, "broken.md"), []byte{0xff, 0xfe, 0x00, 'x'}, 0o600); err != nil {
		t.Fatal(err)
	}

	p, err := New(h.client, h.syncer, nil, &Config{Dir: dir})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Documents != 3 || len(rep.Skipped) != 1 || rep.Skipped[0].SourceID != "broken.md" {
		t.Errorf("report = %+v", rep)
	}
	if !errors.Is(rep.Skipped[0].Err, incident.ErrUndecodable) {
		t.Errorf("skip error = %v", rep.Skipped[0].Err)
	}
	if rep.Chunks != 5 || rep.Outcome != OutcomeOK {
		t.Errorf("chunks = %d outcome = %s", rep.Chunks, rep.Outcome)
	}
}

func TestRun_FailFastOnEmbeddingError(t *testing.T) {
	t.Parallel()

	// Ten single-section documents; the eighth (index 7) fails.
	docs := make(map[string]string)
	for i := range 10 {
		docs[fmt.Sprintf("%02d.md", i)] = fmt.Sprintf("## Summary\nincident number %d", i)
	}
	provider := &keywordProvider{failOn: "incident number 7"}
	client, err := embedder.NewClient(provider, embedder.Config{})
	if err != nil {
		t.Fatal(err)
	}
	syncer := &countingSyncer{}

	p, err := New(client, syncer, nil, &Config{Dir: writeDocs(t, docs)})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := p.Run(context.Background())

	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Phase != PhaseEmbed {
		t.Fatalf("err = %v, want embed PhaseError", err)
	}
	var ce *embedder.ChunkError
	if !errors.As(err, &ce) || ce.Index != 7 || ce.SourceID != "07.md" {
		t.Errorf("chunk error = %+v", ce)
	}
	if syncer.calls != 0 {
		t.Errorf("sync calls = %d, want 0", syncer.calls)
	}
	if provider.calls != 8 {
		t.Errorf("provider calls = %d, want 8", provider.calls)
	}
	if rep.Outcome != OutcomeFailed {
		t.Errorf("outcome = %q", rep.Outcome)
	}
}

// failingQuerier always errors.
type failingQuerier struct{}

func (failingQuerier) Query(context.Context, string, int) ([]search.Result, error) {
	return nil, errors.New("store timeout")
}

func TestRun_SmokeFailureIsNotFatal(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &keywordProvider{})
	p, err := New(h.client, h.syncer, failingQuerier{}, &Config{Dir: writeDocs(t, twoIncidents), SmokeQuery: "q"})
	if err != nil {
		t.Fatal(err)
	}
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if rep.Outcome != OutcomeOK || rep.SmokeErr == nil {
		t.Errorf("outcome = %s smokeErr = %v", rep.Outcome, rep.SmokeErr)
	}
}

func TestRun_MissingDirectory(t *testing.T) {
	t.Parallel()

	h := newHarness(t, &keywordProvider{})
	p, err := New(h.client, h.syncer, nil, &Config{Dir: filepath.Join(t.TempDir(), "missing")})
	if err != nil {
		t.Fatal(err)
	}
	_, err = p.Run(context.Background())
	var pe *PhaseError
	if !errors.As(err, &pe) || pe.Phase != PhaseLoad {
		t.Errorf("err = %v, want load PhaseError", err)
	}
}

func TestRun_RecordsLedger(t *testing.T) {
	t.Parallel()

	ledger, err := store.Open(":memory:")
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = ledger.Close() })

	h := newHarness(t, &keywordProvider{})
	p, err := New(h.client, h.syncer, nil, &Config{Dir: writeDocs(t, twoIncidents)}, WithLedger(ledger, collection))
	if err != nil {
		t.Fatal(err)
	}
	rep, err := p.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}

	runs, err := ledger.RecentRuns(context.Background(), 1)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 1 {
		t.Fatalf("runs = %d", len(runs))
	}
	r := runs[0]
	if r.ID != rep.RunID || r.Outcome != OutcomeOK || r.Documents != 2 || r.Chunks != 5 || r.Points != 5 || r.Collection != collection {
		t.Errorf("ledger run = %+v", r)
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	client, err := embedder.NewClient(&keywordProvider{}, embedder.Config{})
	if err != nil {
		t.Fatal(err)
	}
	syncer := &countingSyncer{}

	tests := []struct {
		name string
		emb  Embedder
		syn  Syncer
		q    Querier
		cfg  *Config
	}{
		{name: "nil embedder", syn: syncer, cfg: &Config{Dir: "x"}},
		{name: "nil syncer", emb: client, cfg: &Config{Dir: "x"}},
		{name: "nil config", emb: client, syn: syncer},
		{name: "no dir", emb: client, syn: syncer, cfg: &Config{}},
		{name: "smoke without querier", emb: client, syn: syncer, cfg: &Config{Dir: "x", SmokeQuery: "q"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tt.emb, tt.syn, tt.q, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}
