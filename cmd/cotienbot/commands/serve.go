package commands

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/cloudwego/eino/callbacks"
	"github.com/spf13/cobra"

	"github.com/cotienbot/cotienbot/internal/logging"
	"github.com/cotienbot/cotienbot/internal/server"
	"github.com/cotienbot/cotienbot/internal/tracing"
)

// NewServeCmd constructs the `cotienbot serve` command, which starts the
// HTTP API server.
func NewServeCmd() *cobra.Command {
	var host string
	var port int

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the cotienbot HTTP API server",
		Long: `Start the cotienbot HTTP server on localhost.

The server exposes a REST API for answering messages, teaching the bot
facts, and listing a user's facts, plus health, readiness, and Prometheus
metrics endpoints.

Examples:
  cotienbot serve
  cotienbot serve --port 9090
  MODEL_PROVIDER=openai cotienbot serve`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			log.Info("serve starting", slog.String("provider", os.Getenv("MODEL_PROVIDER")))

			// Setup Langfuse tracing, opt-in and a no-op if keys are absent.
			handler, flush, ok := tracing.Setup()
			if ok {
				callbacks.AppendGlobalHandlers(handler)
				defer flush()
				log.Info("langfuse tracing enabled")
			} else {
				log.Info("langfuse tracing disabled", slog.String("reason", "LANGFUSE_PUBLIC_KEY not set"))
			}

			engine, pingers, cleanup, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}
			defer cleanup()

			if host == "" {
				host = os.Getenv("COTIENBOT_HOST")
			}
			if port == 0 {
				port, _ = strconv.Atoi(os.Getenv("COTIENBOT_PORT"))
			}

			srv, err := server.New(engine, &server.Config{
				Host:    host,
				Port:    port,
				Logger:  log,
				Pingers: pingers,
				APIKey:  os.Getenv("COTIENBOT_API_KEY"),
			}, nil)
			if err != nil {
				return fmt.Errorf("serve: %w", err)
			}

			return srv.Start(ctx)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Address to bind to (default: 127.0.0.1)")
	cmd.Flags().IntVar(&port, "port", 0, "Port to listen on (default: 8080)")

	return cmd
}
