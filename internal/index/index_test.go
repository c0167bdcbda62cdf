package index

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"

	"github.com/54b3r/incidentkb/internal/incident"
)

// recordingStore wraps a MemoryStore, counting calls and optionally
// failing a given upsert call.
type recordingStore struct {
	*MemoryStore

	mu          sync.Mutex
	upserts     [][]uint64
	deletes     int
	creates     int
	failUpsertN int // 1-based call number to fail; 0 = never
}

func newRecordingStore() *recordingStore {
	return &recordingStore{MemoryStore: NewMemoryStore()}
}

func (r *recordingStore) CreateCollection(ctx context.Context, name string, dim uint64) error {
	r.mu.Lock()
	r.creates++
	r.mu.Unlock()
	return r.MemoryStore.CreateCollection(ctx, name, dim)
}

func (r *recordingStore) DeleteCollection(ctx context.Context, name string) error {
	r.mu.Lock()
	r.deletes++
	r.mu.Unlock()
	return r.MemoryStore.DeleteCollection(ctx, name)
}

func (r *recordingStore) Upsert(ctx context.Context, name string, points []Point) error {
	r.mu.Lock()
	ids := make([]uint64, len(points))
	for i, p := range points {
		ids[i] = p.ID
	}
	r.upserts = append(r.upserts, ids)
	n := len(r.upserts)
	r.mu.Unlock()
	if n == r.failUpsertN {
		return errors.New("store unavailable")
	}
	return r.MemoryStore.Upsert(ctx, name, points)
}

func embedded(n int, dim int) []incident.EmbeddedChunk {
	per := make([][]incident.Chunk, 0, n)
	for i := range n {
		per = append(per, []incident.Chunk{{
			Text: fmt.Sprintf("text %d", i),
			Metadata: incident.ChunkMetadata{
				IncidentID: fmt.Sprintf("INC-%d", i), Severity: "high", Service: "db",
				Date: "2024-01-01", SectionName: "summary", SourceID: fmt.Sprintf("%d.md", i),
			},
		}})
	}
	flat := incident.Flatten(per)
	out := make([]incident.EmbeddedChunk, len(flat))
	for i, c := range flat {
		vec := make([]float32, dim)
		vec[i%dim] = 1
		vec[(i+1)%dim] += 0.5
		out[i] = incident.EmbeddedChunk{Chunk: c, Embedding: vec}
	}
	return out
}

func newSync(t *testing.T, s Store, cfg Config) *Synchronizer {
	t.Helper()
	if cfg.Collection == "" {
		cfg.Collection = "incidents"
	}
	if cfg.Dimensions == 0 {
		cfg.Dimensions = 4
	}
	syn, err := NewSynchronizer(s, cfg)
	if err != nil {
		t.Fatalf("NewSynchronizer: %v", err)
	}
	return syn
}

func TestSync_CreatesAndBatches(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	syn := newSync(t, store, Config{BatchSize: 2, Policy: PolicyFail})

	res, err := syn.Sync(context.Background(), embedded(5, 4))
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if res.Action != ActionCreated || res.Batches != 3 || res.Points != 5 {
		t.Errorf("result = %+v", res)
	}
	if res.Stats.PointCount != 5 || res.Stats.VectorSize != 4 || res.Stats.Collection != "incidents" {
		t.Errorf("stats = %+v", res.Stats)
	}

	want := [][]uint64{{0, 1}, {2, 3}, {4}}
	if fmt.Sprint(store.upserts) != fmt.Sprint(want) {
		t.Errorf("upsert ids = %v, want %v", store.upserts, want)
	}
}

func TestSync_UpsertIdempotent(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	syn := newSync(t, store, Config{Policy: PolicyMerge})
	chunks := embedded(3, 4)

	for range 2 {
		res, err := syn.Sync(context.Background(), chunks)
		if err != nil {
			t.Fatalf("Sync: %v", err)
		}
		if res.Stats.PointCount != 3 {
			t.Errorf("point count = %d, want 3", res.Stats.PointCount)
		}
	}
}

func TestSync_Policies(t *testing.T) {
	t.Parallel()

	yes := ConfirmFunc(func(context.Context, string) (bool, error) { return true, nil })
	no := ConfirmFunc(func(context.Context, string) (bool, error) { return false, nil })
	broken := ConfirmFunc(func(context.Context, string) (bool, error) { return false, errors.New("eof") })

	tests := []struct {
		name        string
		policy      RecreatePolicy
		confirmer   Confirmer
		existingDim uint64
		wantAction  Action
		wantErr     error
		wantAnyErr  bool
		wantDeletes int
		wantPoints  uint64
	}{
		{name: "recreate", policy: PolicyRecreate, existingDim: 4, wantAction: ActionRecreated, wantDeletes: 1, wantPoints: 2},
		{name: "merge keeps old points", policy: PolicyMerge, existingDim: 4, wantAction: ActionMerged, wantPoints: 3},
		{name: "merge wrong size", policy: PolicyMerge, existingDim: 8, wantErr: ErrDimensionMismatch},
		{name: "fail", policy: PolicyFail, existingDim: 4, wantErr: ErrCollectionExists},
		{name: "ask yes", policy: PolicyAsk, confirmer: yes, existingDim: 4, wantAction: ActionRecreated, wantDeletes: 1, wantPoints: 2},
		{name: "ask no merges", policy: PolicyAsk, confirmer: no, existingDim: 4, wantAction: ActionMerged, wantPoints: 3},
		{name: "ask without terminal", policy: PolicyAsk, existingDim: 4, wantErr: ErrNonInteractive},
		{name: "ask confirm error", policy: PolicyAsk, confirmer: broken, existingDim: 4, wantAnyErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			ctx := context.Background()
			store := newRecordingStore()
			if err := store.MemoryStore.CreateCollection(ctx, "incidents", tt.existingDim); err != nil {
				t.Fatal(err)
			}
			// A stale point the merge paths keep and the recreate paths drop.
			stale := make([]float32, tt.existingDim)
			stale[0] = 1
			if err := store.MemoryStore.Upsert(ctx, "incidents", []Point{{ID: 99, Vector: stale}}); err != nil {
				t.Fatal(err)
			}

			syn := newSync(t, store, Config{Policy: tt.policy, Confirmer: tt.confirmer})
			res, err := syn.Sync(ctx, embedded(2, 4))

			if tt.wantErr != nil || tt.wantAnyErr {
				if err == nil {
					t.Fatal("expected error")
				}
				if tt.wantErr != nil && !errors.Is(err, tt.wantErr) {
					t.Errorf("err = %v, want %v", err, tt.wantErr)
				}
				if len(store.upserts) != 0 {
					t.Errorf("upserts made despite error: %v", store.upserts)
				}
				return
			}
			if err != nil {
				t.Fatalf("Sync: %v", err)
			}
			if res.Action != tt.wantAction {
				t.Errorf("action = %s, want %s", res.Action, tt.wantAction)
			}
			if store.deletes != tt.wantDeletes {
				t.Errorf("deletes = %d, want %d", store.deletes, tt.wantDeletes)
			}
			if res.Stats.PointCount != tt.wantPoints {
				t.Errorf("points = %d, want %d", res.Stats.PointCount, tt.wantPoints)
			}
		})
	}
}

func TestSync_BatchFailure(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	store.failUpsertN = 2
	syn := newSync(t, store, Config{BatchSize: 2})

	_, err := syn.Sync(context.Background(), embedded(5, 4))
	var be *BatchError
	if !errors.As(err, &be) {
		t.Fatalf("err = %v, want *BatchError", err)
	}
	if be.Batch != 1 || be.First != 2 || be.Last != 3 {
		t.Errorf("BatchError = %+v", be)
	}
	if len(store.upserts) != 2 {
		t.Errorf("upsert calls = %d, want 2 (abort after failure)", len(store.upserts))
	}
	// The first batch persists.
	stats, _ := store.Stats(context.Background(), "incidents")
	if stats.PointCount != 2 {
		t.Errorf("persisted points = %d, want 2", stats.PointCount)
	}
}

func TestSync_RejectsWrongDimensionsBeforeWriting(t *testing.T) {
	t.Parallel()

	store := newRecordingStore()
	syn := newSync(t, store, Config{Dimensions: 4})

	chunks := embedded(3, 4)
	chunks[2].Embedding = chunks[2].Embedding[:3]

	if _, err := syn.Sync(context.Background(), chunks); !errors.Is(err, ErrDimensionMismatch) {
		t.Fatalf("err = %v, want ErrDimensionMismatch", err)
	}
	if store.creates != 0 || len(store.upserts) != 0 {
		t.Errorf("store touched: creates=%d upserts=%d", store.creates, len(store.upserts))
	}
}

type countingObserver struct{ ok, fail, points int }

func (c *countingObserver) ObserveUpsert(points int, err error) {
	if err != nil {
		c.fail++
		return
	}
	c.ok++
	c.points += points
}

func TestSync_Observer(t *testing.T) {
	t.Parallel()

	obs := &countingObserver{}
	syn := newSync(t, newRecordingStore(), Config{BatchSize: 2, Observer: obs})
	if _, err := syn.Sync(context.Background(), embedded(3, 4)); err != nil {
		t.Fatal(err)
	}
	if obs.ok != 2 || obs.fail != 0 || obs.points != 3 {
		t.Errorf("observer = %+v", obs)
	}
}

func TestNewSynchronizer_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name  string
		store Store
		cfg   Config
	}{
		{name: "nil store", cfg: Config{Collection: "c", Dimensions: 1}},
		{name: "no collection", store: NewMemoryStore(), cfg: Config{Dimensions: 1}},
		{name: "no dims", store: NewMemoryStore(), cfg: Config{Collection: "c"}},
		{name: "negative batch", store: NewMemoryStore(), cfg: Config{Collection: "c", Dimensions: 1, BatchSize: -1}},
		{name: "bad policy", store: NewMemoryStore(), cfg: Config{Collection: "c", Dimensions: 1, Policy: "sometimes"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if _, err := NewSynchronizer(tt.store, tt.cfg); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestParsePolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]RecreatePolicy{
		"": PolicyAsk, "ask": PolicyAsk, "Recreate": PolicyRecreate, " merge ": PolicyMerge, "FAIL": PolicyFail,
	} {
		got, err := ParsePolicy(in)
		if err != nil || got != want {
			t.Errorf("ParsePolicy(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParsePolicy("always"); err == nil {
		t.Error("expected error for unknown policy")
	}
}

func TestNewPoint_Payload(t *testing.T) {
	t.Parallel()

	ec := embedded(1, 4)[0]
	p := NewPoint(ec)
	if p.ID != 0 || len(p.Vector) != 4 {
		t.Errorf("point = %+v", p)
	}
	want := map[string]string{
		PayloadText: "text 0", PayloadIncidentID: "INC-0", PayloadSeverity: "high",
		PayloadService: "db", PayloadDate: "2024-01-01", PayloadSection: "summary", PayloadSourceID: "0.md",
	}
	if len(p.Payload) != len(want) {
		t.Errorf("payload has %d keys, want %d", len(p.Payload), len(want))
	}
	for k, v := range want {
		if p.Payload[k] != v {
			t.Errorf("payload[%s] = %v, want %q", k, p.Payload[k], v)
		}
	}
}

func TestMemoryStore_Search(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	m := NewMemoryStore()
	if err := m.CreateCollection(ctx, "c", 2); err != nil {
		t.Fatal(err)
	}
	if err := m.CreateCollection(ctx, "c", 2); !errors.Is(err, ErrCollectionExists) {
		t.Errorf("duplicate create err = %v", err)
	}
	pts := []Point{
		{ID: 0, Vector: []float32{1, 0}},
		{ID: 1, Vector: []float32{0, 1}},
		{ID: 2, Vector: []float32{1, 1}},
		{ID: 3, Vector: []float32{2, 0}}, // same direction as 0
	}
	if err := m.Upsert(ctx, "c", pts); err != nil {
		t.Fatal(err)
	}

	hits, err := m.Search(ctx, "c", []float32{1, 0}, 3)
	if err != nil {
		t.Fatal(err)
	}
	gotIDs := []uint64{hits[0].ID, hits[1].ID, hits[2].ID}
	if fmt.Sprint(gotIDs) != "[0 3 2]" {
		t.Errorf("ids = %v, want [0 3 2]", gotIDs)
	}
	if hits[0].Score < 0.999 {
		t.Errorf("top score = %f", hits[0].Score)
	}

	if _, err := m.Search(ctx, "c", []float32{1}, 1); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("short query err = %v", err)
	}
	if _, err := m.Search(ctx, "missing", []float32{1, 0}, 1); !errors.Is(err, ErrCollectionNotFound) {
		t.Errorf("missing collection err = %v", err)
	}
	if err := m.Upsert(ctx, "c", []Point{{ID: 9, Vector: []float32{1, 2, 3}}}); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("bad upsert err = %v", err)
	}
}

func TestQdrantClientConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		url      string
		wantHost string
		wantPort int
		wantTLS  bool
		wantErr  bool
	}{
		{url: "", wantHost: "localhost", wantPort: 6334},
		{url: "http://localhost:6333", wantHost: "localhost", wantPort: 6334},
		{url: "http://qdrant:7000", wantHost: "qdrant", wantPort: 7000},
		{url: "https://abc.cloud.qdrant.io:6333", wantHost: "abc.cloud.qdrant.io", wantPort: 6334, wantTLS: true},
		{url: "https://abc.cloud.qdrant.io", wantHost: "abc.cloud.qdrant.io", wantPort: 6334, wantTLS: true},
		{url: "grpc://x", wantErr: true},
		{url: "http://x:port", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.url, func(t *testing.T) {
			t.Parallel()
			cfg, err := qdrantClientConfig(&QdrantConfig{URL: tt.url, APIKey: "k"})
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if cfg.Host != tt.wantHost || cfg.Port != tt.wantPort || cfg.UseTLS != tt.wantTLS || cfg.APIKey != "k" {
				t.Errorf("config = %+v", cfg)
			}
		})
	}
}

func TestReadAnswer(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in   string
		want bool
	}{
		{"y\n", true},
		{"YES\n", true},
		{"n\n", false},
		{"\n", false},
		{"y", true},
	}
	for _, tt := range tests {
		var out bytes.Buffer
		got, err := readAnswer(strings.NewReader(tt.in), &out, "Recreate?")
		if err != nil {
			t.Errorf("readAnswer(%q): %v", tt.in, err)
		}
		if got != tt.want {
			t.Errorf("readAnswer(%q) = %v, want %v", tt.in, got, tt.want)
		}
		if !strings.Contains(out.String(), "Recreate? (y/n)") {
			t.Errorf("prompt = %q", out.String())
		}
	}

	if _, err := readAnswer(strings.NewReader(""), &bytes.Buffer{}, "q"); err == nil {
		t.Error("expected error on empty input")
	}
}

func TestTerminalConfirmer_NotATerminal(t *testing.T) {
	t.Parallel()

	f, err := os.CreateTemp(t.TempDir(), "stdin")
	if err != nil {
		t.Fatal(err)
	}
	defer f.Close()

	if _, err := (TerminalConfirmer{In: f, Out: &bytes.Buffer{}}).Confirm(context.Background(), "q"); !errors.Is(err, ErrNonInteractive) {
		t.Errorf("err = %v, want ErrNonInteractive", err)
	}
}
