package commands

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/54b3r/incidentkb/internal/config"
	"github.com/54b3r/incidentkb/internal/enrich"
	"github.com/54b3r/incidentkb/internal/search"
)

// NewEnrichCmd constructs the `incidentkb enrich` command, which drafts a
// triage note for an alert from the command line.
func NewEnrichCmd() *cobra.Command {
	var (
		alert  enrich.Alert
		post   bool
		asJSON bool
	)

	cmd := &cobra.Command{
		Use:   "enrich",
		Short: "Draft a triage note for an alert from similar past incidents",
		Long: `Search the knowledge base for incidents similar to the alert, ask the
configured chat model (GENERATIVE_PROVIDER) for a likely root cause and
resolution steps, and print the note. With --post the note is also added to
the PagerDuty incident given by --incident-id, exactly as the webhook would.

Examples:
  incidentkb enrich --title "DB pool exhausted" --description "checkout 5xx"
  incidentkb enrich --title "Kafka lag" --service orders --urgency high --json
  incidentkb enrich --incident-id PABC123 --title "Disk full on db-2" --post`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			s := settings

			if alert.Query() == "" {
				return fmt.Errorf("enrich: --title or --description is required")
			}
			if err := s.Validate(config.ModeEnrich); err != nil {
				return fmt.Errorf("enrich: %w", err)
			}
			if post {
				if alert.IncidentID == "" {
					return fmt.Errorf("enrich: --post needs --incident-id")
				}
				var missing []string
				if s.PagerDuty.Token == "" {
					missing = append(missing, "PAGERDUTY_API_TOKEN")
				}
				if s.PagerDuty.From == "" {
					missing = append(missing, "PAGERDUTY_EMAIL")
				}
				if len(missing) > 0 {
					return fmt.Errorf("enrich: %w: %s", config.ErrMissing, strings.Join(missing, ", "))
				}
			}

			flush := setupTracing(ctx, s)
			defer flush()

			client, err := buildEmbedder(ctx, s, nil)
			if err != nil {
				return fmt.Errorf("enrich: %w", err)
			}
			qs, err := openQdrant(ctx, s)
			if err != nil {
				return fmt.Errorf("enrich: %w", err)
			}
			defer func() { _ = qs.Close() }()

			searcher, err := search.New(client, qs, s.Qdrant.Collection)
			if err != nil {
				return fmt.Errorf("enrich: %w", err)
			}
			e, err := buildEnricher(ctx, s, searcher, nil, post)
			if err != nil {
				return fmt.Errorf("enrich: %w", err)
			}

			res, err := e.Enrich(ctx, alert)
			if err != nil {
				return err
			}
			return printEnrichment(cmd.OutOrStdout(), res, asJSON)
		},
	}

	f := cmd.Flags()
	f.StringVar(&alert.Title, "title", "", "Alert title")
	f.StringVar(&alert.Description, "description", "", "Alert description")
	f.StringVar(&alert.Service, "service", "", "Affected service")
	f.StringVar(&alert.Urgency, "urgency", "high", "Alert urgency (high or low)")
	f.StringVar(&alert.IncidentID, "incident-id", "", "PagerDuty incident id (required with --post)")
	f.BoolVar(&post, "post", false, "Post the note to the PagerDuty incident")
	f.BoolVar(&asJSON, "json", false, "Print the note, matches and post status as JSON")

	return cmd
}

// printEnrichment writes res as the note text or as indented JSON.
func printEnrichment(w io.Writer, res *enrich.Result, asJSON bool) error {
	if asJSON {
		if res.Matches == nil {
			res.Matches = []search.Result{}
		}
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(res)
	}
	fmt.Fprintln(w, res.Note)
	if res.Posted {
		fmt.Fprintf(w, "Posted to incident %s.\n", res.IncidentID)
	}
	return nil
}
