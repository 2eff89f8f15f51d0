package commands

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cotienbot/cotienbot/internal/logging"
)

// NewTrainCmd constructs the `cotienbot train` command, which records a fact
// for a user from the command line.
func NewTrainCmd() *cobra.Command {
	var userID string
	var fromURL string

	cmd := &cobra.Command{
		Use:   "train [fact]",
		Short: "Teach the bot a fact about a user",
		Long: `Record a fact in the user's training data.

Facts shape future replies: the engine retrieves the most relevant facts
for each message and passes them to the generator.

Examples:
  cotienbot train "tên tôi là Minh"
  cotienbot train --user alice "tôi sống ở Hà Nội"
  cotienbot train --url https://example.com/about`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if (len(args) == 0) == (fromURL == "") {
				return fmt.Errorf("train: provide either a fact or --url")
			}

			ctx := cmd.Context()
			log := logging.New()
			ctx = logging.WithLogger(ctx, log)

			engine, _, cleanup, err := buildEngine(ctx, log)
			if err != nil {
				return fmt.Errorf("train: %w", err)
			}
			defer cleanup()

			if fromURL != "" {
				rec, err := engine.TrainFromURL(ctx, userID, fromURL)
				if err != nil {
					return fmt.Errorf("train: %w", err)
				}
				fmt.Printf("recorded %s fact from %s (%d chars)\n", rec.Type, fromURL, len(rec.Info))
				return nil
			}

			rec, err := engine.RecordFact(ctx, userID, strings.Join(args, " "))
			if err != nil {
				return fmt.Errorf("train: %w", err)
			}
			fmt.Printf("recorded %s fact #%d\n", rec.Type, rec.CreatedAt.Seq)
			return nil
		},
	}

	cmd.Flags().StringVar(&userID, "user", "cli", "User ID the fact belongs to")
	cmd.Flags().StringVar(&fromURL, "url", "", "Record the readable text of this page instead of a fact argument")

	return cmd
}
