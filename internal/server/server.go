// Package server implements the HTTP server that exposes the incident
// knowledge base over a small JSON API.
// The server is started by the `incidentkb serve` CLI command.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/search"
)

const (
	// defaultMaxTopK caps the k parameter when Config.MaxTopK is unset.
	defaultMaxTopK = 50
	// defaultEnrichTimeout bounds one webhook enrichment.
	defaultEnrichTimeout = 2 * time.Minute
	// defaultEnrichWorkers is the number of concurrent enrichments.
	defaultEnrichWorkers = 2
	// defaultEnrichQueue is how many accepted incidents may wait.
	defaultEnrichQueue = 32
)

// New constructs a Server from the provided searcher and config.
func New(s searcher, cfg *Config) (*Server, error) {
	if s == nil {
		return nil, fmt.Errorf("server: searcher must not be nil")
	}
	if cfg == nil {
		cfg = &Config{}
	}
	if cfg.Host == "" {
		cfg.Host = "127.0.0.1"
	}
	if cfg.Port == 0 {
		cfg.Port = 8080
	}
	if cfg.ReadTimeout == 0 {
		cfg.ReadTimeout = 30 * time.Second
	}
	if cfg.WriteTimeout == 0 {
		cfg.WriteTimeout = time.Minute
	}
	if cfg.ShutdownTimeout == 0 {
		cfg.ShutdownTimeout = 10 * time.Second
	}
	if cfg.SearchTimeout == 0 {
		cfg.SearchTimeout = 30 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = defaultRateLimit
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = defaultRateBurst
	}
	if cfg.MaxTopK == 0 {
		cfg.MaxTopK = defaultMaxTopK
	}
	if cfg.EnrichTimeout == 0 {
		cfg.EnrichTimeout = defaultEnrichTimeout
	}
	if cfg.EnrichWorkers <= 0 {
		cfg.EnrichWorkers = defaultEnrichWorkers
	}
	if cfg.EnrichQueue <= 0 {
		cfg.EnrichQueue = defaultEnrichQueue
	}
	if cfg.RateLimit < 0 || cfg.RateBurst < 0 {
		return nil, fmt.Errorf("server: rate limit %g/%d must not be negative", cfg.RateLimit, cfg.RateBurst)
	}
	if cfg.MetricsRegistry == nil {
		cfg.MetricsRegistry = prometheus.DefaultRegisterer
	}
	if cfg.MetricsGatherer == nil {
		cfg.MetricsGatherer = prometheus.DefaultGatherer
	}
	log := cfg.Logger
	if log == nil {
		log = slog.Default()
	}

	srv := &Server{
		searcher: s,
		cfg:      cfg,
		log:      log,
		pingers:  cfg.Pingers,
		metrics:  newServerMetrics(cfg.MetricsRegistry),
		limiter:  newLimiterSet(cfg.RateLimit, cfg.RateBurst),
	}

	if cfg.APIKey == "" {
		log.Warn("server: INCIDENTKB_API_KEY not set, /api/search is unauthenticated")
	}
	if cfg.Enricher != nil {
		if cfg.WebhookSecret == "" {
			log.Warn("server: PAGERDUTY_WEBHOOK_SECRET not set, webhook signatures are not verified")
		}
		srv.startEnrichWorkers()
	}

	srv.httpServer = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Host, cfg.Port),
		Handler:      srv.routes(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}

	return srv, nil
}

// routes builds the handler tree. Health, readiness and metrics stay open
// so orchestrators and scrapers need no credentials. The webhook is authenticated
// by its signature rather than the API key.
func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("GET /api/search", s.instrument("search",
		s.throttle("search", requireAPIKey(s.cfg.APIKey, http.HandlerFunc(s.handleSearch)))))
	if s.cfg.Enricher != nil {
		mux.Handle("POST /api/webhook", s.instrument("webhook",
			limitBody(maxWebhookBytes, requireSignature(s.cfg.WebhookSecret, http.HandlerFunc(s.handleWebhook)))))
	}
	mux.Handle("GET /api/health", s.instrument("health", http.HandlerFunc(s.handleHealth)))
	mux.Handle("GET /api/ready", s.instrument("ready", http.HandlerFunc(s.handleReady)))
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.MetricsGatherer, promhttp.HandlerOpts{}))

	return requestLogger(s.log, mux)
}

// Handler returns the server's root handler.
func (s *Server) Handler() http.Handler { return s.httpServer.Handler }

// Start begins listening and serving HTTP requests. It blocks until the
// context is cancelled, then performs a graceful shutdown: in-flight
// requests finish first, then queued enrichments get ShutdownTimeout to drain.
func (s *Server) Start(ctx context.Context) error {
	defer s.stopEnrichments(s.cfg.ShutdownTimeout)
	errCh := make(chan error, 1)

	go func() {
		s.log.Info("server listening", slog.String("addr", "http://"+s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server: listen error: %w", err)
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
		defer cancel()
		if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server: graceful shutdown failed: %w", err)
		}
		return nil
	}
}

// handleSearch handles GET /api/search?q=...&k=N.
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	q := strings.TrimSpace(r.URL.Query().Get("q"))
	if q == "" {
		writeError(w, http.StatusBadRequest, "q is required", log)
		return
	}
	k := 0
	if raw := r.URL.Query().Get("k"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > s.cfg.MaxTopK {
			writeError(w, http.StatusBadRequest, fmt.Sprintf("k must be an integer between 1 and %d", s.cfg.MaxTopK), log)
			return
		}
		k = n
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.SearchTimeout)
	defer cancel()

	start := time.Now()
	results, err := s.searcher.Query(ctx, q, k)
	outcome := outcomeOK
	defer func() {
		s.metrics.searchDurationSeconds.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
		s.metrics.searchRequestsTotal.WithLabelValues(outcome).Inc()
	}()
	if err != nil {
		outcome = outcomeError
		log.Error("search failed", slog.String("query", q), slog.Any("error", err))
		if errors.Is(err, search.ErrEmptyQuery) {
			writeError(w, http.StatusBadRequest, "q is required", log)
			return
		}
		writeError(w, http.StatusBadGateway, "search backend unavailable", log)
		return
	}
	if results == nil {
		results = []search.Result{}
	}

	log.Debug("search served", slog.Int("k", k), slog.Int("results", len(results)))
	writeJSON(w, http.StatusOK, searchResponse{Query: q, Results: results}, log)
}

// writeJSON encodes v with status. Encode failures are logged only since
// the header has already been sent.
func writeJSON(w http.ResponseWriter, status int, v any, log *slog.Logger) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Error("response encode error", slog.Any("error", err))
	}
}

// errorResponse is the JSON body of every error reply.
type errorResponse struct {
	Error string `json:"error"`
}

// writeError sends msg as a JSON error body with status.
func writeError(w http.ResponseWriter, status int, msg string, log *slog.Logger) {
	writeJSON(w, status, errorResponse{Error: msg}, log)
}
