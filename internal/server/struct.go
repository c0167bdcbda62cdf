package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/54b3r/incidentkb/internal/search"
)

// Config holds the HTTP server configuration.
type Config struct {
	// Host is the address to bind to (default: 127.0.0.1).
	Host string
	// Port is the TCP port to listen on (default: 8080).
	Port int
	// ReadTimeout is the maximum duration for reading the request.
	ReadTimeout time.Duration
	// WriteTimeout is the maximum duration for writing the response.
	WriteTimeout time.Duration
	// ShutdownTimeout is the maximum duration for a graceful shutdown.
	ShutdownTimeout time.Duration
	// SearchTimeout bounds one /api/search request (default: 30s).
	SearchTimeout time.Duration
	// Logger is the structured logger used by the server and its handlers.
	// If nil, [slog.Default] is used.
	Logger *slog.Logger
	// Pingers is the ordered list of dependency checks run by GET /api/ready.
	// If empty, /api/ready returns 200 with no checks (liveness-only mode).
	Pingers []Pinger
	// RateLimit is the sustained /api/search rate per client address
	// (requests/second), from RATE_LIMIT_RPS. Defaults to 10 if zero.
	RateLimit float64
	// RateBurst is the per-client burst on /api/search, from
	// RATE_LIMIT_BURST. Defaults to 20 if zero.
	RateBurst int
	// APIKey is the Bearer token required on /api/search.
	// If empty, authentication is disabled (development mode).
	APIKey string
	// MaxTopK caps the k query parameter (default: 50).
	MaxTopK int
	// MetricsRegistry receives the server's own metrics. Defaults to
	// prometheus.DefaultRegisterer.
	MetricsRegistry prometheus.Registerer
	// MetricsGatherer is exposed on GET /metrics. Defaults to
	// prometheus.DefaultGatherer.
	MetricsGatherer prometheus.Gatherer
	// Enricher handles incidents from POST /api/webhook. The route is only
	// registered when it is set.
	Enricher enricher
	// WebhookSecret verifies X-PagerDuty-Signature on webhook deliveries.
	// If empty, signatures are not checked.
	WebhookSecret string
	// EnrichTimeout bounds one enrichment (default: 2m).
	EnrichTimeout time.Duration
	// EnrichWorkers is the number of concurrent enrichments (default: 2).
	EnrichWorkers int
	// EnrichQueue is how many accepted incidents may wait for a worker
	// before the webhook answers 503 (default: 32).
	EnrichQueue int
}

// searcher is the interface handleSearch calls to answer a query.
// *search.Searcher satisfies it; tests inject a fake.
type searcher interface {
	// Query embeds text and returns up to k nearest chunks.
	Query(ctx context.Context, text string, k int) ([]search.Result, error)
}

// Server is the HTTP server that exposes the incident knowledge base.
type Server struct {
	// searcher answers /api/search requests.
	searcher searcher
	// cfg holds the resolved server configuration.
	cfg *Config
	// httpServer is the underlying net/http server.
	httpServer *http.Server
	// log is the structured logger for this server instance.
	log *slog.Logger
	// pingers is the ordered list of dependency checks for GET /api/ready.
	pingers []Pinger
	// metrics holds the server's Prometheus collectors.
	metrics *serverMetrics
	// limiter throttles /api/search per client address.
	limiter *limiterSet
	// enrichments runs accepted webhook incidents. Nil without an Enricher.
	enrichments *enrichQueue
}

// searchResponse is the JSON response for GET /api/search.
type searchResponse struct {
	// Query echoes the query text.
	Query string `json:"query"`
	// Results are the nearest chunks, best first.
	Results []search.Result `json:"results"`
}
