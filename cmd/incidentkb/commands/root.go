// Package commands defines all Cobra CLI commands for the incidentkb binary.
package commands

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/54b3r/incidentkb/internal/audit"
	"github.com/54b3r/incidentkb/internal/config"
	"github.com/54b3r/incidentkb/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// envFile holds the --env-file flag value.
var envFile string

// settings is resolved once in PersistentPreRunE and read by subcommands.
var settings *config.Settings

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "incidentkb",
		Short: "incidentkb: semantic search over incident post-mortems",
		Long: `incidentkb indexes a directory of Markdown incident post-mortems into a
Qdrant collection so past incidents can be found by meaning rather than by
keyword.

Each post-mortem is split into its summary, root cause, resolution,
prevention, impact and timeline sections; each one is embedded and stored
with the incident's metadata (id, severity, service, date).

Configuration comes from the environment, an optional .env file and an
optional YAML file (~/.incidentkb/config.yaml). The environment always wins.
See 'incidentkb --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			log := logging.New(config.DefaultLogLevel, config.DefaultLogFormat)

			// Load YAML config and .env (env vars always override both).
			loadedConfig, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedEnv, err := config.LoadDotEnv(envFile, log)
			if err != nil {
				return err
			}

			s, err := config.FromEnv()
			if err != nil {
				return err
			}
			settings = s

			log = logging.New(s.LogLevel, s.LogFormat)
			slog.SetDefault(log)
			cmd.SetContext(logging.WithLogger(cmd.Context(), log))

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfig, loadedEnv, s)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.incidentkb/config.yaml)")
	root.PersistentFlags().StringVar(&envFile, "env-file", "", "Path to a .env file (default: ./.env if present)")

	root.AddCommand(
		NewIngestCmd(),
		NewSearchCmd(),
		NewServeCmd(),
		NewEnrichCmd(),
		NewRunsCmd(),
		NewVersionCmd(),
	)

	return root
}
