// Package commands defines all Cobra CLI commands for the cotienbot binary.
package commands

import (
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/cotienbot/cotienbot/internal/audit"
	"github.com/cotienbot/cotienbot/internal/config"
	"github.com/cotienbot/cotienbot/internal/logging"
)

// configPath holds the --config flag value for YAML config file override.
var configPath string

// loadedConfigPath stores the resolved config file path for audit logging.
var loadedConfigPath string

// NewRootCmd constructs the root Cobra command that all subcommands attach to.
func NewRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "cotienbot",
		Short: "Cô Tiên — a Vietnamese conversational assistant bot",
		Long: `Cô Tiên is a conversational assistant bot that remembers its users.

It answers chat messages with an LLM, reuses earlier answers when a new
message matches the conversation history, and lets users teach it facts
about themselves that shape future replies.

Model provider is selected via the MODEL_PROVIDER environment variable
or a YAML config file (~/.cotienbot/config.yaml).
See 'cotienbot --help' for available commands.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			// Local development keeps secrets in a .env file. Absence is fine.
			_ = godotenv.Load()

			log := logging.New()

			// Load YAML config (env vars always override YAML values).
			path, err := config.Load(configPath, log)
			if err != nil {
				return err
			}
			loadedConfigPath = path

			// Emit structured audit log for every command invocation.
			audit.LogCommandStart(log, cmd.Name(), loadedConfigPath)

			return nil
		},
	}

	root.PersistentFlags().StringVar(&configPath, "config", "", "Path to YAML config file (default: ~/.cotienbot/config.yaml)")

	root.AddCommand(
		NewServeCmd(),
		NewBotCmd(),
		NewAskCmd(),
		NewTrainCmd(),
		NewVersionCmd(),
	)

	return root
}
