package commands

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/54b3r/incidentkb/internal/config"
	"github.com/54b3r/incidentkb/internal/index"
	"github.com/54b3r/incidentkb/internal/logging"
	"github.com/54b3r/incidentkb/internal/metrics"
	"github.com/54b3r/incidentkb/internal/pipeline"
	"github.com/54b3r/incidentkb/internal/search"
)

// pushJob is the Pushgateway job name for ingest metrics.
const pushJob = "incidentkb_ingest"

// previewChars bounds how much chunk text the smoke-query report prints.
const previewChars = 200

// NewIngestCmd constructs the `incidentkb ingest` command, which runs the
// full ingestion pipeline over a directory of post-mortems.
func NewIngestCmd() *cobra.Command {
	var dryRun, noSmoke bool

	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Index a directory of incident post-mortems into Qdrant",
		Long: `Parse, chunk, embed and upsert every *.md post-mortem in a directory.

Only the summary, root cause, resolution, prevention, impact and timeline
sections are indexed.
Chunks are embedded one at a time (or --workers at a time) with at least
--delay between provider calls, then upserted in batches of --batch-size.
Point ids are dense and deterministic, so re-running over the same corpus
overwrites rather than duplicates.

When the collection already exists, --recreate decides what happens:
  ask       prompt on a terminal; "no" merges (default)
  recreate  delete and recreate it
  merge     keep it and upsert on top
  fail      stop with an error

Required environment variables (unless --dry-run):
  QDRANT_URL           e.g. https://xyz.cloud.qdrant.io:6333
  QDRANT_API_KEY       Qdrant API key
  GEMINI_API_KEY       or the key for EMBEDDING_PROVIDER

Examples:
  incidentkb ingest
  incidentkb ingest --dir ./postmortems --recreate recreate
  incidentkb ingest --dry-run --workers 4 --delay 250ms`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			s, err := applyIngestFlags(cmd, settings)
			if err != nil {
				return err
			}
			return runIngest(ctx, cmd, s, dryRun, noSmoke)
		},
	}

	cmd.Flags().String("dir", "", "Incident document directory (default: INCIDENTS_DIR or ./incidents)")
	cmd.Flags().String("recreate", "", "Existing collection policy: ask, recreate, merge, fail (default: RECREATE_POLICY or ask)")
	cmd.Flags().Int("batch-size", 0, "Points per upsert call (default: UPSERT_BATCH_SIZE or 100)")
	cmd.Flags().Duration("delay", 0, "Minimum spacing between embedding calls (default: EMBEDDING_DELAY or 1s)")
	cmd.Flags().Int("workers", 0, "Concurrent embedding calls (default: EMBEDDING_WORKERS or 1)")
	cmd.Flags().BoolVar(&dryRun, "dry-run", false, "Embed into an in-memory index instead of Qdrant")
	cmd.Flags().BoolVar(&noSmoke, "no-smoke", false, "Skip the post-ingest smoke query")

	return cmd
}

// applyIngestFlags returns a copy of s with explicitly set flags applied.
// Flags left at their zero defaults defer to the resolved settings.
func applyIngestFlags(cmd *cobra.Command, s *config.Settings) (*config.Settings, error) {
	out := *s
	flags := cmd.Flags()
	var err error
	if flags.Changed("dir") {
		out.Ingest.Dir, err = flags.GetString("dir")
	}
	if err == nil && flags.Changed("recreate") {
		out.Ingest.RecreatePolicy, err = flags.GetString("recreate")
	}
	if err == nil && flags.Changed("batch-size") {
		out.Ingest.BatchSize, err = flags.GetInt("batch-size")
	}
	if err == nil && flags.Changed("delay") {
		out.Embedding.Delay, err = flags.GetDuration("delay")
	}
	if err == nil && flags.Changed("workers") {
		out.Embedding.Workers, err = flags.GetInt("workers")
	}
	if err != nil {
		return nil, fmt.Errorf("ingest: %w", err)
	}
	return &out, nil
}

// runIngest wires the pipeline from s and runs it once.
func runIngest(ctx context.Context, cmd *cobra.Command, s *config.Settings, dryRun, noSmoke bool) error {
	log := logging.FromContext(ctx)

	mode := config.ModeIngest
	if dryRun {
		mode = config.ModeDryRun
	}
	if err := s.Validate(mode); err != nil {
		return fmt.Errorf("ingest: %w", err)
	}
	policy, err := index.ParsePolicy(s.Ingest.RecreatePolicy)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	client, err := buildEmbedder(ctx, s, m)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	var vs index.Store
	if dryRun {
		vs = index.NewMemoryStore()
		log.Info("dry run: using in-memory index")
	} else {
		qs, err := openQdrant(ctx, s)
		if err != nil {
			return fmt.Errorf("ingest: %w", err)
		}
		vs = qs
	}
	defer func() { _ = vs.Close() }()

	syn, err := index.NewSynchronizer(vs, index.Config{
		Collection: s.Qdrant.Collection,
		Dimensions: uint64(client.Dimensions()), //nolint:gosec // dimensions are bounded
		BatchSize:  s.Ingest.BatchSize,
		Policy:     policy,
		Confirmer:  index.TerminalConfirmer{In: os.Stdin, Out: cmd.ErrOrStderr()},
		Observer:   m,
	})
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	searcher, err := search.New(client, vs, s.Qdrant.Collection,
		search.WithDefaultTopK(s.TopK),
		search.WithObserver(m),
	)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	pcfg := &pipeline.Config{Dir: s.Ingest.Dir, SmokeQuery: s.Ingest.SmokeQuery, TopK: s.TopK}
	if noSmoke {
		pcfg.SmokeQuery = ""
	}
	opts := []pipeline.Option{pipeline.WithMetrics(m)}
	if !dryRun {
		if ledger := openLedger(ctx, s); ledger != nil {
			defer func() { _ = ledger.Close() }()
			opts = append(opts, pipeline.WithLedger(ledger, s.Qdrant.Collection))
		}
	}

	p, err := pipeline.New(client, syn, searcher, pcfg, opts...)
	if err != nil {
		return fmt.Errorf("ingest: %w", err)
	}

	log.Info("starting ingestion",
		slog.String("dir", s.Ingest.Dir),
		slog.String("collection", s.Qdrant.Collection),
		slog.String("policy", string(policy)),
		slog.Bool("dry_run", dryRun),
	)
	rep, runErr := p.Run(ctx)
	if rep != nil {
		printReport(cmd.OutOrStdout(), rep)
	}

	if s.PushgatewayURL != "" {
		// The run context may be cancelled; the final push should still go out.
		pushCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		if err := metrics.Push(pushCtx, s.PushgatewayURL, pushJob, reg); err != nil {
			log.Warn("metrics push failed", slog.String("url", s.PushgatewayURL), slog.Any("error", err))
		}
	}

	if runErr != nil {
		return fmt.Errorf("ingest: %w", runErr)
	}
	return nil
}

// printReport writes a human-readable run summary.
func printReport(w io.Writer, rep *pipeline.Report) {
	fmt.Fprintf(w, "\nIngestion %s in %s\n", rep.Outcome, rep.Duration.Round(time.Millisecond))
	if rep.RunID != "" {
		fmt.Fprintf(w, "  run id:        %s\n", rep.RunID)
	}
	fmt.Fprintf(w, "  documents:     %d (%d skipped)\n", rep.Documents, len(rep.Skipped))
	for _, sk := range rep.Skipped {
		fmt.Fprintf(w, "    skipped %s: %v\n", sk.SourceID, sk.Err)
	}
	fmt.Fprintf(w, "  chunks:        %d (%.1f per incident)\n", rep.Chunks, rep.AvgChunksPerDocument)
	if rep.Sync != nil {
		fmt.Fprintf(w, "  collection:    %s (%s)\n", rep.Sync.Stats.Collection, rep.Sync.Action)
		fmt.Fprintf(w, "  upserted:      %d points in %d batches\n", rep.Sync.Points, rep.Sync.Batches)
		st := rep.Sync.Stats
		fmt.Fprintf(w, "  points_count:  %d\n", st.PointCount)
		fmt.Fprintf(w, "  indexed:       %d vectors", st.IndexedVectors)
		if st.IndexedVectors < st.PointCount {
			fmt.Fprint(w, " (index still building; search already sees every point)")
		}
		fmt.Fprintln(w)
	}
	if rep.SmokeQuery == "" {
		return
	}

	fmt.Fprintf(w, "\nSmoke query: %q\n", rep.SmokeQuery)
	if rep.SmokeErr != nil {
		fmt.Fprintf(w, "  failed: %v\n", rep.SmokeErr)
		return
	}
	printResults(w, rep.SmokeResults)
}

// printResults writes ranked search results with text previews.
func printResults(w io.Writer, results []search.Result) {
	if len(results) == 0 {
		fmt.Fprintln(w, "  no results")
		return
	}
	for i, r := range results {
		p := r.Payload
		fmt.Fprintf(w, "  %d. [%.4f] %s (%s) severity=%s service=%s date=%s\n",
			i+1, r.Score, p.IncidentID, p.Section, p.Severity, p.Service, p.Date)
		fmt.Fprintf(w, "     %s\n", search.Preview(p.Text, previewChars))
	}
}
