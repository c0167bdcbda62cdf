package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/54b3r/incidentkb/internal/enrich"
	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/pagerduty"
)

const (
	// maxWebhookBytes caps a webhook delivery body.
	maxWebhookBytes = 1 << 20
	// queueFullRetryAfter is the Retry-After sent when the queue is full.
	queueFullRetryAfter = 30 * time.Second
)

// Webhook result label values.
const (
	webhookAccepted = "accepted"
	webhookIgnored  = "ignored"
	webhookInvalid  = "invalid"
	webhookRejected = "rejected"
)

// enricher drafts and posts a triage note for an alert.
// *enrich.Enricher satisfies it; tests inject a fake.
type enricher interface {
	Enrich(ctx context.Context, alert enrich.Alert) (*enrich.Result, error)
}

// webhookResponse is the JSON body returned by POST /api/webhook.
type webhookResponse struct {
	Status     string `json:"status"`
	Reason     string `json:"reason,omitempty"`
	IncidentID string `json:"incident_id,omitempty"`
}

// enrichJob is one accepted incident waiting for a worker.
type enrichJob struct {
	alert     enrich.Alert
	requestID string
}

// enrichQueue runs accepted enrichments on a fixed worker pool, detached
// from the webhook request that produced them.
type enrichQueue struct {
	mu     sync.Mutex
	closed bool
	jobs   chan enrichJob
	wg     sync.WaitGroup
	// cancel aborts enrichments still running when shutdown times out.
	cancel context.CancelFunc
}

// startEnrichWorkers creates the queue and its workers.
func (s *Server) startEnrichWorkers() {
	ctx, cancel := context.WithCancel(logging.WithLogger(context.Background(), s.log))
	q := &enrichQueue{
		jobs:   make(chan enrichJob, s.cfg.EnrichQueue),
		cancel: cancel,
	}
	for range s.cfg.EnrichWorkers {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for job := range q.jobs {
				s.runEnrichment(ctx, job)
			}
		}()
	}
	s.enrichments = q
}

// enqueue hands job to a worker without blocking. It returns false when
// the queue is full or shutting down.
func (q *enrichQueue) enqueue(job enrichJob) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	select {
	case q.jobs <- job:
		return true
	default:
		return false
	}
}

// isClosed reports whether shutdown has begun.
func (q *enrichQueue) isClosed() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.closed
}

// stopEnrichments stops accepting work and waits up to timeout for queued
// and running enrichments, then cancels whatever is still running.
func (s *Server) stopEnrichments(timeout time.Duration) {
	q := s.enrichments
	if q == nil {
		return
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.jobs)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(timeout):
		s.log.Warn("server: enrichments still running at shutdown, cancelling")
		q.cancel()
		<-done
	}
	q.cancel()
}

// runEnrichment processes one job under the per-enrichment timeout.
func (s *Server) runEnrichment(ctx context.Context, job enrichJob) {
	log := s.log.With(
		slog.String("request_id", job.requestID),
		slog.String("incident_id", job.alert.IncidentID),
	)
	ctx, cancel := context.WithTimeout(logging.WithLogger(ctx, log), s.cfg.EnrichTimeout)
	defer cancel()

	res, err := s.cfg.Enricher.Enrich(ctx, job.alert)
	if err != nil {
		log.Error("enrichment failed", slog.Any("error", err))
		return
	}
	log.Info("enrichment finished",
		slog.Int("matches", len(res.Matches)),
		slog.Bool("posted", res.Posted),
	)
}

// handleWebhook handles POST /api/webhook. Only incident.triggered events
// are enriched; they are queued and acknowledged with 202 before any
// search or generation happens, because PagerDuty expects a quick answer.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	log := logging.FromContext(r.Context())

	var payload pagerduty.WebhookPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		s.metrics.webhookEventsTotal.WithLabelValues(webhookInvalid).Inc()
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large", log)
			return
		}
		log.Warn("webhook: invalid payload", slog.Any("error", err))
		writeError(w, http.StatusBadRequest, "invalid webhook payload", log)
		return
	}

	ev := payload.Event
	if ev.EventType != pagerduty.EventIncidentTriggered {
		s.metrics.webhookEventsTotal.WithLabelValues(webhookIgnored).Inc()
		log.Debug("webhook: event ignored", slog.String("event_type", ev.EventType))
		writeJSON(w, http.StatusOK, webhookResponse{
			Status: "ignored",
			Reason: "not an " + pagerduty.EventIncidentTriggered + " event",
		}, log)
		return
	}
	if ev.Data.ID == "" {
		s.metrics.webhookEventsTotal.WithLabelValues(webhookInvalid).Inc()
		writeError(w, http.StatusBadRequest, "event has no incident id", log)
		return
	}

	job := enrichJob{
		alert: enrich.Alert{
			IncidentID:  ev.Data.ID,
			Title:       ev.Data.Title,
			Description: ev.Data.Description,
			Service:     ev.Data.Service.Summary,
			Urgency:     ev.Data.Urgency,
		},
		requestID: w.Header().Get("X-Request-ID"),
	}
	if !s.enrichments.enqueue(job) {
		s.metrics.webhookEventsTotal.WithLabelValues(webhookRejected).Inc()
		log.Warn("webhook: enrichment queue full", slog.String("incident_id", ev.Data.ID))
		w.Header().Set("Retry-After", strconv.Itoa(int(queueFullRetryAfter.Seconds())))
		writeError(w, http.StatusServiceUnavailable, "enrichment queue full", log)
		return
	}

	s.metrics.webhookEventsTotal.WithLabelValues(webhookAccepted).Inc()
	log.Info("webhook: incident accepted for enrichment",
		slog.String("incident_id", ev.Data.ID),
		slog.String("service", ev.Data.Service.Summary),
	)
	writeJSON(w, http.StatusAccepted, webhookResponse{Status: "accepted", IncidentID: ev.Data.ID}, log)
}
