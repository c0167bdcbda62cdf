package server

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/version"
)

// checkTimeout bounds each dependency check during GET /api/ready.
const checkTimeout = 5 * time.Second

// Pinger is implemented by any dependency that can report its own
// reachability. Implementations must be safe to call from multiple goroutines.
type Pinger interface {
	// Ping returns nil when the dependency is reachable.
	Ping(ctx context.Context) error

	// Name labels the dependency in readiness responses (e.g. "qdrant").
	Name() string
}

// readyCheck is the result of probing one dependency.
type readyCheck struct {
	// Name is the dependency label.
	Name string `json:"name"`
	// OK is true when the dependency responded successfully.
	OK bool `json:"ok"`
	// DurationMS is how long the check took.
	DurationMS int64 `json:"duration_ms"`
	// Error contains the failure reason when OK is false.
	Error string `json:"error,omitempty"`
}

// readyResponse is the JSON body returned by GET /api/ready.
type readyResponse struct {
	// Ready is true only when every dependency check succeeded.
	Ready bool `json:"ready"`
	// Checks holds one result per Pinger, in Config.Pingers order.
	Checks []readyCheck `json:"checks"`
}

// healthResponse is the JSON body returned by GET /api/health.
type healthResponse struct {
	Status  string `json:"status"`
	Version string `json:"version"`
}

// handleHealth handles GET /api/health. It never touches a dependency.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{Status: "ok", Version: version.Version}, logging.FromContext(r.Context()))
}

// handleReady handles GET /api/ready. Every Pinger is checked concurrently
// with its own timeout, so one slow dependency does not delay the others.
// It answers 200 when all succeed and 503 otherwise.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	checks := make([]readyCheck, len(s.pingers))
	var g errgroup.Group
	for i, p := range s.pingers {
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(r.Context(), checkTimeout)
			defer cancel()
			start := time.Now()
			err := p.Ping(ctx)
			checks[i] = readyCheck{Name: p.Name(), OK: err == nil, DurationMS: time.Since(start).Milliseconds()}
			if err != nil {
				checks[i].Error = err.Error()
				log.Warn("readiness check failed",
					slog.String("dependency", p.Name()),
					slog.Any("error", err),
				)
			}
			return nil
		})
	}
	_ = g.Wait()

	resp := readyResponse{Ready: true, Checks: checks}
	for _, c := range checks {
		if !c.OK {
			resp.Ready = false
		}
	}
	status := http.StatusOK
	if !resp.Ready {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, resp, log)
}
