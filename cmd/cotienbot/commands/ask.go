package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cotienbot/cotienbot/internal/logging"
)

// NewAskCmd constructs the `cotienbot ask` command, which answers a single
// message from the command line. Useful for smoke-testing a configuration
// without a Telegram token.
func NewAskCmd() *cobra.Command {
	var userID string

	cmd := &cobra.Command{
		Use:   "ask [message]",
		Short: "Ask the bot a single question",
		Long: `Send one message through the retrieval engine and print the reply.

The message goes through the same pipeline as a Telegram chat: response
cache, history reuse, fact retrieval, and generation.

Examples:
  cotienbot ask "xin chào"
  cotienbot ask --user alice "hôm nay trời thế nào?"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			engine, _, cleanup, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("ask: %w", err)
			}
			defer cleanup()

			res := engine.Answer(ctx, userID, args[0])
			fmt.Println(res.Text)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "User ID whose history and facts apply")

	return cmd
}
