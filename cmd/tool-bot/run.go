// ABOUTME: The run command that wires config, collaborators and the Matrix transport
// ABOUTME: Owns startup ordering and graceful shutdown of the bot

package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/2389/tool-bot/internal/anki"
	"github.com/2389/tool-bot/internal/config"
	"github.com/2389/tool-bot/internal/dedupe"
	"github.com/2389/tool-bot/internal/llm"
	"github.com/2389/tool-bot/internal/matrix"
	"github.com/2389/tool-bot/internal/metrics"
	"github.com/2389/tool-bot/internal/ops"
	"github.com/2389/tool-bot/internal/proposal"
	"github.com/2389/tool-bot/internal/room"
	"github.com/2389/tool-bot/internal/search"
	"github.com/2389/tool-bot/internal/store"
	"github.com/2389/tool-bot/internal/todoist"
)

// shutdownTimeout bounds how long in-flight room work may take after a signal.
const shutdownTimeout = 30 * time.Second

// status combines sync readiness with the active room list for the ops server.
type status struct {
	*matrix.Transport
	*room.Registry
}

func runBot(cmd *cobra.Command, opts *rootOptions) error {
	out := cmd.OutOrStdout()
	color.New(color.FgCyan).Fprint(out, banner)

	configPath := getConfigPath(opts.ConfigPath)
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config from %s: %w", configPath, err)
	}
	logger := setupLogger(os.Stdout, cfg.Logging.Level, cfg.Logging.Format)

	printLine(out, "Config:     %s", configPath)
	printLine(out, "Homeserver: %s", cfg.Matrix.Homeserver)
	printLine(out, "User:       %s", cfg.Matrix.UserID)
	printLine(out, "Model:      %s/%s", cfg.LLM.Provider, cfg.LLM.Model)
	printLine(out, "Ledger:     %s", cfg.Database.Path)
	if cfg.Anki.Enabled {
		printLine(out, "Anki:       %s (%s)", cfg.Anki.URL, cfg.Anki.DeckRoot)
	}
	if cfg.Todoist.Enabled {
		printLine(out, "Todoist:    enabled")
	}
	if cfg.Ops.HTTPAddr != "" {
		printLine(out, "Ops:        http://%s", cfg.Ops.HTTPAddr)
	}
	fmt.Fprintln(out)

	ctx, cancel := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	return serve(ctx, cfg, logger)
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	ledger, err := store.NewSQLiteStore(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("opening ledger: %w", err)
	}
	defer ledger.Close()

	var llmOpts []llm.Option
	if cfg.Search.Enabled {
		llmOpts = append(llmOpts, llm.WithWebSearch())
	}
	model, err := llm.New(cfg.LLM, llmOpts...)
	if err != nil {
		return fmt.Errorf("creating language model client: %w", err)
	}

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
	} else {
		logger.Info("encryption disabled")
	}

	m := metrics.New()
	deps := room.Deps{
		BotID:      client.UserID.String(),
		Proposer:   model,
		Completer:  model,
		Dispatcher: matrix.NewDispatcher(client, cfg.Matrix.SendRate, cfg.Matrix.SendBurst, logger),
		History:    matrix.NewHistory(client, logger),
		Prompts:    matrix.NewPrompts(client),
		Recorder:   ledger,
		Metrics:    m,
		Policy:     room.NewPolicy(cfg.Matrix.AllowedUsers),
		Logger:     logger,
	}
	wireTools(&deps, cfg, logger)
	registry := room.NewRegistry(deps, room.Options{
		BackfillLimit:    cfg.Bot.HistoryLimit,
		ContextDepth:     cfg.Bot.ContextDepth,
		RespondToPending: cfg.Bot.RespondToPending,
		AckReactions:     cfg.Bot.AckReactions,
		ExecTimeout:      cfg.Bot.ExecTimeout,
		DefaultPrompt:    cfg.Bot.DefaultPrompt,
		DeckSamples:      cfg.Anki.DeckSamples,
	})

	seen := dedupe.New(cfg.Bot.DedupeTTL, cfg.Bot.DedupeSize)
	defer seen.Close()

	defaultTopic := cfg.Bot.DefaultPrompt
	if defaultTopic == "" {
		defaultTopic = llm.DefaultSystemPrompt
	}

	var opsServer *ops.Server
	transport := matrix.NewTransport(client, registry, seen, matrix.TransportOptions{
		AllowedRooms: cfg.Matrix.AllowedRooms,
		DefaultTopic: defaultTopic,
		SeedTopic:    cfg.Bot.SetTopicOnJoin,
		OnReady: func(ready bool) {
			if opsServer != nil {
				opsServer.SetReady(ready)
			}
		},
	}, logger)
	opsServer = ops.New(ops.Options{
		HTTPAddr: cfg.Ops.HTTPAddr,
		GRPCAddr: cfg.Ops.GRPCAddr,
		Status:   status{Transport: transport, Registry: registry},
		Gatherer: m.Registry(),
		Logger:   logger,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return opsServer.Run(gctx)
	})
	g.Go(func() error {
		return transport.Run(gctx)
	})
	runErr := g.Wait()

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := registry.Shutdown(shutdownCtx); err != nil {
		logger.Warn("room workers did not finish", "error", err)
	}

	if runErr != nil && !errors.Is(runErr, context.Canceled) {
		return runErr
	}
	return nil
}

// wireTools sets the remote clients of the enabled integrations on deps. A
// kind without an executor fails its approvals with a disabled message.
func wireTools(deps *room.Deps, cfg *config.Config, logger *slog.Logger) {
	deps.Executors = make(map[proposal.Kind]room.Executor)
	if cfg.Anki.Enabled {
		client := anki.New(anki.Options{
			URL:      cfg.Anki.URL,
			DeckRoot: cfg.Anki.DeckRoot,
			Sync:     cfg.Anki.Sync,
			Logger:   logger,
		})
		deps.Executors[proposal.KindFlashcard] = client
		if !cfg.Anki.SkipRouting {
			deps.Decks = client
		}
	}
	if cfg.Todoist.Enabled {
		deps.Executors[proposal.KindTask] = todoist.New(todoist.Options{
			BaseURL: cfg.Todoist.BaseURL,
			Token:   cfg.Todoist.APIToken,
			Logger:  logger,
		})
	}
	if cfg.Search.Enabled {
		deps.Searcher = search.New(search.Options{BaseURL: cfg.Search.BaseURL, Logger: logger})
	}
}
