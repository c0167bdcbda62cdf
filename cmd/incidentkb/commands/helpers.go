package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/cloudwego/eino/callbacks"

	"github.com/54b3r/incidentkb/internal/config"
	"github.com/54b3r/incidentkb/internal/embedder"
	"github.com/54b3r/incidentkb/internal/enrich"
	"github.com/54b3r/incidentkb/internal/index"
	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/metrics"
	"github.com/54b3r/incidentkb/internal/pagerduty"
	"github.com/54b3r/incidentkb/internal/provider"
	"github.com/54b3r/incidentkb/internal/store"
	"github.com/54b3r/incidentkb/internal/tracing"
)

// providerConfig maps settings onto the embedder factory config.
func providerConfig(s *config.Settings) *embedder.ProviderConfig {
	return &embedder.ProviderConfig{
		Provider:   s.Embedding.Provider,
		Model:      s.Embedding.Model,
		Dimensions: s.Embedding.Dimensions,
		APIKey:     s.Embedding.APIKey,
		Endpoint:   s.Embedding.Endpoint,
		APIVersion: s.Embedding.APIVersion,
	}
}

// dimensions returns the configured vector size, or the provider default.
func dimensions(s *config.Settings) int {
	if s.Embedding.Dimensions > 0 {
		return s.Embedding.Dimensions
	}
	return embedder.DefaultDimensions(s.Embedding.Provider)
}

// buildEmbedder constructs the paced embedding client. m may be nil.
func buildEmbedder(ctx context.Context, s *config.Settings, m *metrics.Metrics) (*embedder.Client, error) {
	log := logging.FromContext(ctx)
	pcfg := providerConfig(s)
	embedder.Preflight(log, pcfg)

	p, err := embedder.NewProvider(ctx, pcfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise embedding provider: %w", err)
	}

	cfg := embedder.Config{
		Dimensions:     dimensions(s),
		Delay:          s.Embedding.Delay,
		Workers:        s.Embedding.Workers,
		MaxRetries:     s.Embedding.MaxRetries,
		MaxInputTokens: embedder.DefaultMaxInputTokens(s.Embedding.Provider),
	}
	if m != nil {
		cfg.Observer = m
	}
	c, err := embedder.NewClient(p, cfg)
	if err != nil {
		return nil, err
	}
	log.Info("embedder initialised",
		slog.String("provider", s.Embedding.Provider),
		slog.String("model", c.Model()),
		slog.Int("dimensions", c.Dimensions()),
	)
	return c, nil
}

// openQdrant connects to the configured Qdrant instance.
func openQdrant(ctx context.Context, s *config.Settings) (*index.QdrantStore, error) {
	st, err := index.NewQdrantStore(&index.QdrantConfig{URL: s.Qdrant.URL, APIKey: s.Qdrant.APIKey})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to Qdrant at %s: %w", s.Qdrant.URL, err)
	}
	logging.FromContext(ctx).Info("qdrant store ready",
		slog.String("url", s.Qdrant.URL),
		slog.String("collection", s.Qdrant.Collection),
	)
	return st, nil
}

// openLedger opens the run ledger. It returns a nil ledger when the ledger
// is disabled or cannot be opened; ingestion proceeds without it.
func openLedger(ctx context.Context, s *config.Settings) store.Ledger {
	log := logging.FromContext(ctx)
	path := s.RunsDB
	if path == config.RunsDisabled {
		log.Info("runs: ledger disabled via INCIDENTKB_RUNS_DB=disabled")
		return nil
	}
	if path == "" {
		var err error
		path, err = store.DefaultDBPath()
		if err != nil {
			log.Warn("runs: could not resolve default DB path, disabling", slog.Any("error", err))
			return nil
		}
	}
	l, err := store.Open(path)
	if err != nil {
		log.Warn("runs: failed to open ledger, disabling", slog.Any("error", err))
		return nil
	}
	log.Debug("runs: ledger opened", slog.String("path", path))
	return l
}

// chatConfig maps settings onto the chat model provider config.
func chatConfig(s *config.Settings) provider.Config {
	g := s.Generative
	return provider.Config{
		Backend:         provider.Backend(g.Provider),
		Model:           g.Model,
		APIKey:          g.APIKey,
		BaseURL:         g.Endpoint,
		AzureDeployment: g.AzureDeployment,
		AzureAPIVersion: g.APIVersion,
		MaxTokens:       g.MaxTokens,
		Temperature:     g.Temperature,
	}
}

// setupTracing registers the Langfuse handler globally when configured and
// returns the flush to run before exit. The flush is a no-op otherwise.
func setupTracing(ctx context.Context, s *config.Settings) func() {
	log := logging.FromContext(ctx)
	handler, flush, ok := tracing.Setup(tracing.Config{
		Host:      s.Langfuse.Host,
		PublicKey: s.Langfuse.PublicKey,
		SecretKey: s.Langfuse.SecretKey,
	})
	if !ok {
		log.Debug("tracing: Langfuse disabled (LANGFUSE_PUBLIC_KEY/LANGFUSE_SECRET_KEY not set)")
		return func() {}
	}
	callbacks.AppendGlobalHandlers(handler)
	log.Info("tracing: Langfuse enabled", slog.String("host", s.Langfuse.Host))
	return flush
}

// buildEnricher wires the chat model, the searcher and, when post is set,
// the PagerDuty note sender into an Enricher. m may be nil.
func buildEnricher(ctx context.Context, s *config.Settings, searcher enrich.Searcher, m *metrics.Metrics, post bool) (*enrich.Enricher, error) {
	log := logging.FromContext(ctx)
	ccfg := chatConfig(s)
	chat, err := provider.New(ctx, ccfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialise chat model: %w", err)
	}

	opts := []enrich.Option{
		enrich.WithTopK(s.TopK),
		enrich.WithGeneration(s.Generative.Temperature, s.Generative.MaxTokens),
		enrich.WithModelName(ccfg.Name()),
	}
	if m != nil {
		opts = append(opts, enrich.WithObserver(m))
	}
	if post {
		pd, err := pagerduty.New(pagerduty.Config{
			BaseURL:    s.PagerDuty.BaseURL,
			Token:      s.PagerDuty.Token,
			From:       s.PagerDuty.From,
			MaxRetries: 3,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, enrich.WithNotifier(pd))
	}

	e, err := enrich.New(searcher, chat, opts...)
	if err != nil {
		return nil, err
	}
	log.Info("enricher initialised",
		slog.String("model", ccfg.Name()),
		slog.Bool("posts_notes", post),
	)
	return e, nil
}
