// ABOUTME: Entry point for tool-bot
// ABOUTME: Builds the cobra command tree, logger and config path resolution

package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
)

const banner = `
  _              _        _           _
 | |_ ___   ___ | |      | |__   ___ | |_
 | __/ _ \ / _ \| |______| '_ \ / _ \| __|
 | || (_) | (_) | |______| |_) | (_) | |_
  \__\___/ \___/|_|      |_.__/ \___/ \__|
`

// getConfigPath returns the config file path.
// Priority: --config flag > TOOLBOT_CONFIG env var > XDG_CONFIG_HOME/tool-bot/config.yaml > ~/.config/tool-bot/config.yaml
func getConfigPath(flagValue string) string {
	if flagValue != "" {
		return flagValue
	}
	if envPath := os.Getenv("TOOLBOT_CONFIG"); envPath != "" {
		return envPath
	}

	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		homeDir, err := os.UserHomeDir()
		if err != nil {
			return "config.yaml"
		}
		configDir = filepath.Join(homeDir, ".config")
	}
	return filepath.Join(configDir, "tool-bot", "config.yaml")
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func setupLogger(w io.Writer, level, format string) *slog.Logger {
	var logLevel slog.Level
	switch strings.ToLower(level) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	if format == "json" {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// printLine writes one startup line prefixed with a green marker.
func printLine(w io.Writer, format string, args ...any) {
	color.New(color.FgGreen).Fprint(w, "    ▶ ")
	fmt.Fprintf(w, format+"\n", args...)
}
