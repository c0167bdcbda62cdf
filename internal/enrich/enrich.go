// Package enrich drafts a triage note for a newly triggered incident. It
// finds similar past incidents in the knowledge base, asks a chat model for
// a likely root cause and resolution steps grounded in them, and optionally
// posts the result back to the incident.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/cloudwego/eino/callbacks"
	"github.com/cloudwego/eino/components"
	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/incidentkb/internal/budget"
	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/search"
)

// Defaults applied by New.
const (
	DefaultTopK         = 3
	DefaultTemperature  = float32(0.7)
	DefaultMaxTokens    = 1024
	DefaultExcerptChars = 300
)

// Outcome label values reported to the Observer.
const (
	OutcomePosted    = "posted"
	OutcomeDrafted   = "drafted"
	OutcomeNoMatches = "no_matches"
	OutcomeFailed    = "failed"
)

var (
	// ErrEmptyAlert is returned when an alert has neither title nor description.
	ErrEmptyAlert = errors.New("enrich: alert has no title or description")
	// ErrNoIncidentID is returned when a note should be posted but the alert has no incident id.
	ErrNoIncidentID = errors.New("enrich: incident id is required to post a note")
	// ErrEmptyCompletion is returned when the model answers with no text.
	ErrEmptyCompletion = errors.New("enrich: model returned an empty response")
)

// Alert is the incident being triaged.
type Alert struct {
	IncidentID  string
	Title       string
	Description string
	Service     string
	Urgency     string
}

// Query is the text searched for similar incidents.
func (a Alert) Query() string {
	return strings.TrimSpace(a.Title + " " + a.Description)
}

// Searcher finds similar past incidents. *search.Searcher satisfies it.
type Searcher interface {
	Query(ctx context.Context, text string, k int) ([]search.Result, error)
}

// Generator is the part of an eino chat model enrich uses.
type Generator interface {
	Generate(ctx context.Context, input []*schema.Message, opts ...model.Option) (*schema.Message, error)
}

// Notifier posts a note on an incident. *pagerduty.Client satisfies it.
type Notifier interface {
	PostNote(ctx context.Context, incidentID, content string) error
}

// Observer receives the outcome of every enrichment. internal/metrics implements it.
type Observer interface {
	ObserveEnrichment(outcome string, elapsed time.Duration)
}

// Result is a finished enrichment.
type Result struct {
	// IncidentID is the incident the note belongs to.
	IncidentID string `json:"incident_id"`
	// Matches are the similar incidents the note is grounded in.
	Matches []search.Result `json:"matches"`
	// Note is the formatted note text.
	Note string `json:"note"`
	// Posted reports whether the note was delivered to the Notifier.
	Posted bool `json:"posted"`
}

// Enricher turns alerts into triage notes. It is safe for concurrent use
// when its dependencies are.
type Enricher struct {
	searcher     Searcher
	model        Generator
	modelName    string
	notifier     Notifier
	observer     Observer
	topK         int
	temperature  float32
	maxTokens    int
	excerptChars int
}

// Option customises an Enricher.
type Option func(*Enricher)

// WithNotifier posts every note through n. Without one notes are only drafted.
func WithNotifier(n Notifier) Option {
	return func(e *Enricher) { e.notifier = n }
}

// WithObserver reports every enrichment to o.
func WithObserver(o Observer) Option {
	return func(e *Enricher) { e.observer = o }
}

// WithTopK sets how many similar incidents ground the note.
func WithTopK(k int) Option {
	return func(e *Enricher) {
		if k > 0 {
			e.topK = k
		}
	}
}

// WithGeneration sets the sampling temperature and the response token cap.
func WithGeneration(temperature float32, maxTokens int) Option {
	return func(e *Enricher) {
		e.temperature = temperature
		if maxTokens > 0 {
			e.maxTokens = maxTokens
		}
	}
}

// WithModelName labels the chat model in logs and traces.
func WithModelName(name string) Option {
	return func(e *Enricher) { e.modelName = name }
}

// New constructs an Enricher.
func New(s Searcher, g Generator, opts ...Option) (*Enricher, error) {
	if s == nil {
		return nil, fmt.Errorf("enrich: searcher must not be nil")
	}
	if g == nil {
		return nil, fmt.Errorf("enrich: chat model must not be nil")
	}
	e := &Enricher{
		searcher:     s,
		model:        g,
		modelName:    "chat-model",
		topK:         DefaultTopK,
		temperature:  DefaultTemperature,
		maxTokens:    DefaultMaxTokens,
		excerptChars: DefaultExcerptChars,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Posts reports whether Enrich delivers notes or only drafts them.
func (e *Enricher) Posts() bool { return e.notifier != nil }

// Enrich searches for incidents similar to alert, drafts a note and posts it
// when a Notifier is configured. With no similar incidents the model is not
// called and a fixed note is used instead.
func (e *Enricher) Enrich(ctx context.Context, alert Alert) (res *Result, err error) {
	log := logging.FromContext(ctx).With(slog.String("incident_id", alert.IncidentID))
	start := time.Now()
	outcome := OutcomeFailed
	defer func() {
		if e.observer != nil {
			e.observer.ObserveEnrichment(outcome, time.Since(start))
		}
	}()

	query := alert.Query()
	if query == "" {
		return nil, ErrEmptyAlert
	}
	if e.notifier != nil && alert.IncidentID == "" {
		return nil, ErrNoIncidentID
	}

	matches, err := e.searcher.Query(ctx, query, e.topK)
	if err != nil {
		return nil, fmt.Errorf("enrich: search similar incidents: %w", err)
	}
	log.Info("enrich: similar incidents found", slog.Int("matches", len(matches)))

	res = &Result{IncidentID: alert.IncidentID, Matches: matches}
	if len(matches) == 0 {
		res.Note = NoMatchesNote()
	} else {
		analysis, err := e.generate(ctx, alert, matches)
		if err != nil {
			return nil, err
		}
		res.Note = FormatNote(analysis, matches)
	}

	if e.notifier == nil {
		outcome = OutcomeDrafted
		if len(matches) == 0 {
			outcome = OutcomeNoMatches
		}
		return res, nil
	}
	if err := e.notifier.PostNote(ctx, alert.IncidentID, res.Note); err != nil {
		return nil, fmt.Errorf("enrich: post note: %w", err)
	}
	res.Posted = true
	outcome = OutcomePosted
	if len(matches) == 0 {
		outcome = OutcomeNoMatches
	}
	log.Info("enrich: note posted",
		slog.Int("note_chars", len(res.Note)),
		slog.Duration("elapsed", time.Since(start)),
	)
	return res, nil
}

// generate asks the chat model for the triage analysis.
func (e *Enricher) generate(ctx context.Context, alert Alert, matches []search.Result) (string, error) {
	prompt := BuildPrompt(alert, matches, e.excerptChars)
	logging.FromContext(ctx).Debug("enrich: prompt built",
		slog.String("model", e.modelName),
		slog.Int("estimated_tokens", budget.Estimate(prompt)),
	)

	ctx = callbacks.InitCallbacks(ctx, &callbacks.RunInfo{
		Name:      "incident-enrichment",
		Type:      e.modelName,
		Component: components.ComponentOfChatModel,
	})
	resp, err := e.model.Generate(ctx,
		[]*schema.Message{schema.UserMessage(prompt)},
		model.WithTemperature(e.temperature),
		model.WithMaxTokens(e.maxTokens),
	)
	if err != nil {
		return "", fmt.Errorf("enrich: generate note with %s: %w", e.modelName, err)
	}
	if resp == nil || strings.TrimSpace(resp.Content) == "" {
		return "", ErrEmptyCompletion
	}
	return resp.Content, nil
}
