// Command cotienbot is the entry point for the Cô Tiên assistant bot.
// It runs the Telegram front end, an HTTP API server, and one-shot CLI
// commands for asking questions and teaching the bot facts.
package main

import (
	"fmt"
	"os"

	"github.com/cotienbot/cotienbot/cmd/cotienbot/commands"
)

func main() {
	if err := commands.NewRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
