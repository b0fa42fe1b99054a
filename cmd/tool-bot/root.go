// ABOUTME: Cobra command tree for tool-bot
// ABOUTME: run is the default command; init, replay and export are maintenance commands

package main

import (
	"github.com/spf13/cobra"
)

// rootOptions holds global flags for all commands.
type rootOptions struct {
	ConfigPath string
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	cmd := &cobra.Command{
		Use:   "tool-bot",
		Short: "Matrix bot that proposes flashcards and tasks",
		Long: `tool-bot answers messages in Matrix rooms with a language model and turns
tool calls into flashcard and task proposals. A 👍 from an allowed user
creates the card in Anki or the task in Todoist.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, opts)
		},
	}

	cmd.PersistentFlags().StringVarP(&opts.ConfigPath, "config", "c", "", "config file (default $TOOLBOT_CONFIG or $XDG_CONFIG_HOME/tool-bot/config.yaml)")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newInitCommand(opts))
	cmd.AddCommand(newReplayCommand())
	cmd.AddCommand(newExportCommand(opts))

	return cmd
}

func newRunCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the homeserver and serve rooms",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd, opts)
		},
	}
}
