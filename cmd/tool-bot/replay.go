// ABOUTME: Replay and export commands for recorded event streams
// ABOUTME: replay rebuilds graphs from a JSONL log; export writes room history to one

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/2389/tool-bot/internal/config"
	"github.com/2389/tool-bot/internal/conversation"
	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/matrix"
	"github.com/2389/tool-bot/internal/room"
)

// ErrNondeterministic is returned when two replays of a log disagree.
var ErrNondeterministic = errors.New("replay is not deterministic")

type replayOptions struct {
	BotID string
	Check bool
}

func newReplayCommand() *cobra.Command {
	opts := &replayOptions{}

	cmd := &cobra.Command{
		Use:   "replay <log.jsonl>",
		Short: "Rebuild conversation graphs from an event log",
		Long: `Replay feeds a JSONL event log through fresh room workers in replay mode and
prints the resulting graph of every room. Nothing is sent and no model or
integration is called.

With --check the log is replayed twice and the command fails when the two
graphs differ.

Examples:
  tool-bot replay --bot @bot:example.org room.jsonl
  tool-bot replay --bot @bot:example.org --check room.jsonl`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReplay(cmd.Context(), cmd.OutOrStdout(), args[0], opts)
		},
	}

	cmd.Flags().StringVar(&opts.BotID, "bot", "", "user id of the bot that sent the log's bot messages (required)")
	_ = cmd.MarkFlagRequired("bot")
	cmd.Flags().BoolVar(&opts.Check, "check", false, "replay twice and verify both graphs match")

	return cmd
}

func runReplay(ctx context.Context, out io.Writer, path string, opts *replayOptions) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening log: %w", err)
	}
	events, err := ingest.ReadLog(f)
	f.Close()
	if err != nil {
		return fmt.Errorf("reading log: %w", err)
	}

	first, err := replayEvents(ctx, opts.BotID, events)
	if err != nil {
		return err
	}
	if opts.Check {
		second, err := replayEvents(ctx, opts.BotID, events)
		if err != nil {
			return err
		}
		if first != second {
			return ErrNondeterministic
		}
	}

	_, err = io.WriteString(out, first)
	return err
}

// replayEvents applies events to a replay-only registry and renders every
// room's snapshot in room order.
func replayEvents(ctx context.Context, botID string, events []ingest.Event) (string, error) {
	registry := room.NewRegistry(room.Deps{BotID: botID, Logger: setupLogger(os.Stderr, "warn", "text")}, room.Options{ReplayOnly: true})
	defer registry.Close()

	for _, ev := range events {
		if err := registry.Dispatch(ctx, ev); err != nil {
			return "", fmt.Errorf("replaying %s: %w", ev.Header().ID, err)
		}
	}

	var rendered string
	for _, roomID := range registry.Rooms() {
		err := registry.Inspect(ctx, roomID, func(g *conversation.Graph) {
			rendered += g.Snapshot().String()
		})
		if err != nil {
			return "", fmt.Errorf("inspecting %s: %w", roomID, err)
		}
	}
	return rendered, nil
}

type exportOptions struct {
	Limit  int
	Output string
}

func newExportCommand(root *rootOptions) *cobra.Command {
	opts := &exportOptions{}

	cmd := &cobra.Command{
		Use:   "export <room-id>",
		Short: "Write a room's recent history as a JSONL event log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(cmd, root, args[0], opts)
		},
	}

	cmd.Flags().IntVar(&opts.Limit, "limit", config.DefaultHistoryLimit, "maximum number of events")
	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file (default stdout)")

	return cmd
}

func runExport(cmd *cobra.Command, root *rootOptions, roomID string, opts *exportOptions) error {
	configPath := getConfigPath(root.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	logger := setupLogger(cmd.ErrOrStderr(), cfg.Logging.Level, cfg.Logging.Format)
	ctx := cmd.Context()

	client, err := matrix.Connect(ctx, cfg.Matrix, logger)
	if err != nil {
		return fmt.Errorf("matrix login: %w", err)
	}
	if cfg.Matrix.Encryption || cfg.Matrix.RecoveryKey != "" {
		crypto, err := matrix.SetupCrypto(ctx, client, cfg.Matrix.RecoveryKey, cfg.Matrix.DataDir, logger)
		if err != nil {
			return fmt.Errorf("setting up encryption: %w", err)
		}
		defer crypto.Close()
	}

	events, err := matrix.NewHistory(client, logger).Recent(ctx, roomID, opts.Limit)
	if err != nil {
		return err
	}

	w := cmd.OutOrStdout()
	if opts.Output != "" {
		f, err := os.Create(opts.Output)
		if err != nil {
			return fmt.Errorf("creating %s: %w", opts.Output, err)
		}
		defer f.Close()
		w = f
	}
	if err := ingest.WriteLog(w, events); err != nil {
		return fmt.Errorf("writing log: %w", err)
	}
	logger.Info("exported history", "room", roomID, "events", len(events))
	return nil
}
