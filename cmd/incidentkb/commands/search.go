package commands

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/incidentkb/internal/config"
	"github.com/54b3r/incidentkb/internal/search"
)

// NewSearchCmd constructs the `incidentkb search` command, which runs one
// semantic query against the indexed collection.
func NewSearchCmd() *cobra.Command {
	var k int
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "search [query]",
		Short: "Find the incidents most similar to a free-text query",
		Long: `Embed the query with the configured provider and return the nearest
indexed sections, best first.

Examples:
  incidentkb search "database connection pool exhausted"
  incidentkb search -k 5 "TLS certificate expired on the ingress"
  incidentkb search --json "kafka consumer lag"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			s := settings

			if err := s.Validate(config.ModeQuery); err != nil {
				return fmt.Errorf("search: %w", err)
			}

			client, err := buildEmbedder(ctx, s, nil)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			qs, err := openQdrant(ctx, s)
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}
			defer func() { _ = qs.Close() }()

			searcher, err := search.New(client, qs, s.Qdrant.Collection, search.WithDefaultTopK(s.TopK))
			if err != nil {
				return fmt.Errorf("search: %w", err)
			}

			query := strings.Join(args, " ")
			results, err := searcher.Query(ctx, query, k)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if asJSON {
				if results == nil {
					results = []search.Result{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(struct {
					Query   string          `json:"query"`
					Results []search.Result `json:"results"`
				}{query, results})
			}

			fmt.Fprintf(out, "Results for %q in %s:\n", query, s.Qdrant.Collection)
			printResults(out, results)
			return nil
		},
	}

	cmd.Flags().IntVarP(&k, "top-k", "k", 0, "Number of results (default: SEARCH_TOP_K or 3)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print results as JSON")

	return cmd
}
