package commands

import (
	"fmt"
	"log/slog"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"

	"github.com/54b3r/incidentkb/internal/config"
	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/metrics"
	"github.com/54b3r/incidentkb/internal/search"
	"github.com/54b3r/incidentkb/internal/server"
)

// NewServeCmd constructs the `incidentkb serve` command, which starts the
// HTTP search API.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the incidentkb HTTP search API and PagerDuty webhook",
		Long: `Start the incidentkb HTTP server on localhost.

Endpoints:
  GET  /api/search?q=...&k=3  semantic search (Bearer auth when INCIDENTKB_API_KEY is set,
                              RATE_LIMIT_RPS/RATE_LIMIT_BURST per client)
  POST /api/webhook           PagerDuty incident.triggered enrichment (only when
                              PAGERDUTY_API_TOKEN is set; signed with PAGERDUTY_WEBHOOK_SECRET)
  GET /api/health             liveness
  GET /api/ready              Qdrant reachability and collection existence
  GET /metrics                Prometheus metrics

Examples:
  incidentkb serve
  incidentkb serve --port 9090
  INCIDENTKB_API_KEY=s3cret incidentkb serve --host 0.0.0.0
  PAGERDUTY_API_TOKEN=... PAGERDUTY_EMAIL=oncall@example.com incidentkb serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.FromContext(ctx)
			s := settings
			if err := s.Validate(config.ModeServe); err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)
			m := metrics.New(reg)

			client, err := buildEmbedder(ctx, s, m)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			qs, err := openQdrant(ctx, s)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer func() { _ = qs.Close() }()

			searcher, err := search.New(client, qs, s.Qdrant.Collection,
				search.WithDefaultTopK(s.TopK),
				search.WithObserver(m),
			)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			cfg := &server.Config{
				Host:   host,
				Port:   port,
				Logger: log,
				Pingers: []server.Pinger{
					server.NewQdrantPinger(qs),
					server.NewCollectionPinger(qs, s.Qdrant.Collection),
				},
				APIKey:          s.APIKey,
				RateLimit:       s.RateLimit,
				RateBurst:       s.RateBurst,
				MetricsRegistry: reg,
				MetricsGatherer: reg,
			}
			if s.PagerDuty.Enabled() {
				flush := setupTracing(ctx, s)
				defer flush()

				e, err := buildEnricher(ctx, s, searcher, m, true)
				if err != nil {
					return fmt.Errorf("serve: %w", err)
				}
				cfg.Enricher = e
				cfg.WebhookSecret = s.PagerDuty.WebhookSecret
				cfg.EnrichTimeout = s.Generative.Timeout
			}

			srv, err := server.New(searcher, cfg)
			if err != nil {
				return fmt.Errorf("serve: failed to create server: %w", err)
			}

			log.Info("serve starting",
				slog.String("collection", s.Qdrant.Collection),
				slog.Bool("auth", s.APIKey != ""),
				slog.Bool("webhook", s.PagerDuty.Enabled()),
				slog.Float64("rate_limit_rps", s.RateLimit),
				slog.Int("rate_limit_burst", s.RateBurst),
			)
			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "127.0.0.1", "Host address to bind to")
	cmd.Flags().IntVarP(&port, "port", "p", 8080, "TCP port to listen on")

	return cmd
}
