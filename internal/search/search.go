// Package search answers top-k similarity queries against the incident index.
// Query text is embedded with the query role, the store returns its raw
// nearest neighbours and their payloads are decoded into typed results.
// There is no score threshold, filter or re-ranking.
package search

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/54b3r/incidentkb/internal/embedder"
	"github.com/54b3r/incidentkb/internal/index"
	"github.com/54b3r/incidentkb/internal/logging"
)

// DefaultTopK is used when a query asks for k <= 0.
const DefaultTopK = 3

// ErrEmptyQuery is returned for blank query text.
var ErrEmptyQuery = errors.New("search: query text is empty")

// Embedder produces a query-role embedding. *embedder.Client satisfies it.
type Embedder interface {
	Embed(ctx context.Context, text string, role embedder.Role) ([]float32, error)
}

// Observer receives the outcome of every query. internal/metrics implements it.
type Observer interface {
	ObserveSearch(err error, elapsed time.Duration)
}

// Payload is the decoded metadata stored with a chunk.
type Payload struct {
	Text       string `json:"text"`
	IncidentID string `json:"incident_id"`
	Severity   string `json:"severity"`
	Service    string `json:"service"`
	Date       string `json:"date"`
	Section    string `json:"section"`
	SourceID   string `json:"source_id"`
	// Extra holds any payload keys not listed above, stringified.
	Extra map[string]string `json:"extra,omitempty"`
}

// Result is one search hit.
type Result struct {
	ID      uint64  `json:"id"`
	Score   float32 `json:"score"`
	Payload Payload `json:"payload"`
}

// Searcher embeds query text and searches one collection. It is safe for
// concurrent use when its dependencies are.
type Searcher struct {
	// embedder produces query-role vectors.
	embedder Embedder
	// store performs the similarity search.
	store index.Store
	// collection is the collection to search.
	collection string
	// defaultTopK is used when Query is called with k <= 0.
	defaultTopK int
	// observer is optional.
	observer Observer
}

// Option customises a Searcher.
type Option func(*Searcher)

// WithDefaultTopK sets the k used when Query is called with k <= 0.
func WithDefaultTopK(k int) Option {
	return func(s *Searcher) {
		if k > 0 {
			s.defaultTopK = k
		}
	}
}

// WithObserver reports every query to o.
func WithObserver(o Observer) Option {
	return func(s *Searcher) { s.observer = o }
}

// New constructs a Searcher over collection.
func New(emb Embedder, store index.Store, collection string, opts ...Option) (*Searcher, error) {
	if emb == nil {
		return nil, fmt.Errorf("search: embedder must not be nil")
	}
	if store == nil {
		return nil, fmt.Errorf("search: store must not be nil")
	}
	if collection == "" {
		return nil, fmt.Errorf("search: collection name is required")
	}
	s := &Searcher{
		embedder:    emb,
		store:       store,
		collection:  collection,
		defaultTopK: DefaultTopK,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Query returns up to k results for text, best first.
func (s *Searcher) Query(ctx context.Context, text string, k int) (results []Result, err error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyQuery
	}
	if k <= 0 {
		k = s.defaultTopK
	}

	start := time.Now()
	defer func() {
		if s.observer != nil {
			s.observer.ObserveSearch(err, time.Since(start))
		}
	}()

	vec, err := s.embedder.Embed(ctx, text, embedder.RoleQuery)
	if err != nil {
		return nil, fmt.Errorf("search: embed query: %w", err)
	}

	hits, err := s.store.Search(ctx, s.collection, vec, k)
	if err != nil {
		return nil, fmt.Errorf("search: vector search: %w", err)
	}

	results = make([]Result, 0, len(hits))
	for _, h := range hits {
		results = append(results, Result{ID: h.ID, Score: h.Score, Payload: decodePayload(h.Payload)})
	}

	logging.FromContext(ctx).Debug("search completed",
		slog.String("collection", s.collection),
		slog.Int("k", k),
		slog.Int("results", len(results)),
	)
	return results, nil
}

// decodePayload maps known keys onto Payload fields.
func decodePayload(raw map[string]any) Payload {
	var p Payload
	for k, v := range raw {
		str := stringify(v)
		switch k {
		case index.PayloadText:
			p.Text = str
		case index.PayloadIncidentID:
			p.IncidentID = str
		case index.PayloadSeverity:
			p.Severity = str
		case index.PayloadService:
			p.Service = str
		case index.PayloadDate:
			p.Date = str
		case index.PayloadSection:
			p.Section = str
		case index.PayloadSourceID:
			p.SourceID = str
		default:
			if p.Extra == nil {
				p.Extra = make(map[string]string)
			}
			p.Extra[k] = str
		}
	}
	return p
}

// stringify renders a payload value as text.
func stringify(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	default:
		return fmt.Sprint(val)
	}
}

// Preview returns at most n runes of text, with "..." appended when cut.
func Preview(text string, n int) string {
	r := []rune(text)
	if len(r) <= n {
		return text
	}
	return string(r[:n]) + "..."
}
