package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/cotienbot/cotienbot/internal/logging"
	"github.com/cotienbot/cotienbot/internal/telegram"
	"github.com/cotienbot/cotienbot/internal/tracing"
)

// NewBotCmd constructs the `cotienbot bot` command, which runs the
// long-polling Telegram front end.
func NewBotCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bot",
		Short: "Run the Telegram bot",
		Long: `Run the Cô Tiên Telegram bot with long polling.

Requires TELEGRAM_BOT_TOKEN. The bot answers chat messages, replies to
/start, /help and /getid, and records facts taught via /train.

Examples:
  TELEGRAM_BOT_TOKEN=12345:abc cotienbot bot`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			token := os.Getenv("TELEGRAM_BOT_TOKEN")
			if token == "" {
				return fmt.Errorf("bot: TELEGRAM_BOT_TOKEN is required")
			}

			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			}

			engine, _, cleanup, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}
			defer cleanup()

			b, err := telegram.New(token, engine, log)
			if err != nil {
				return fmt.Errorf("bot: %w", err)
			}

			log.Info("bot running, press Ctrl+C to stop")
			if err := b.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				return fmt.Errorf("bot: %w", err)
			}
			return nil
		},
	}
}
