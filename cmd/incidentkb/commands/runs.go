package commands

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/54b3r/incidentkb/internal/config"
	"github.com/54b3r/incidentkb/internal/store"
)

// NewRunsCmd constructs the `incidentkb runs` command, which lists recent
// ingestion runs from the local ledger.
func NewRunsCmd() *cobra.Command {
	var n int

	cmd := &cobra.Command{
		Use:   "runs",
		Short: "List recent ingestion runs",
		Long: `List the most recent ingestion runs recorded in the local SQLite ledger
(~/.incidentkb/runs.db, or INCIDENTKB_RUNS_DB). A run still shown as
"running" was interrupted before it finished.

Examples:
  incidentkb runs
  incidentkb runs -n 25`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			path := settings.RunsDB
			if path == config.RunsDisabled {
				return fmt.Errorf("runs: ledger disabled via INCIDENTKB_RUNS_DB=disabled")
			}
			if path == "" {
				var err error
				if path, err = store.DefaultDBPath(); err != nil {
					return fmt.Errorf("runs: %w", err)
				}
			}
			ledger, err := store.Open(path)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			defer func() { _ = ledger.Close() }()

			runs, err := ledger.RecentRuns(cmd.Context(), n)
			if err != nil {
				return fmt.Errorf("runs: %w", err)
			}
			if len(runs) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no ingestion runs recorded")
				return nil
			}

			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(tw, "STARTED\tDURATION\tOUTCOME\tCOLLECTION\tDOCS\tSKIPPED\tCHUNKS\tPOINTS\tERROR")
			for _, r := range runs {
				dur := "-"
				if !r.FinishedAt.IsZero() {
					dur = r.FinishedAt.Sub(r.StartedAt).Round(time.Millisecond).String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\t%d\t%d\t%d\t%s\n",
					r.StartedAt.Local().Format(time.DateTime), dur, r.Outcome, r.Collection,
					r.Documents, r.Skipped, r.Chunks, r.Points, r.Error)
			}
			return tw.Flush()
		},
	}

	cmd.Flags().IntVarP(&n, "limit", "n", 10, "Number of runs to show")

	return cmd
}
