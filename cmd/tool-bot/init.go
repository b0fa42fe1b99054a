// ABOUTME: Interactive init command that writes a starter config file
// ABOUTME: Prompts for the Matrix account, model provider and integrations

package main

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
)

func newInitCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a config file interactively",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInit(cmd.InOrStdin(), cmd.OutOrStdout(), getConfigPath(opts.ConfigPath))
		},
	}
}

// prompter reads answers line by line.
type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *prompter) ask(question, fallback string) string {
	color.New(color.FgGreen).Fprint(p.out, "    ▶ ")
	if fallback != "" {
		fmt.Fprintf(p.out, "%s [%s]: ", question, fallback)
	} else {
		fmt.Fprintf(p.out, "%s: ", question)
	}
	answer, _ := p.in.ReadString('\n')
	answer = strings.TrimSpace(answer)
	if answer == "" {
		return fallback
	}
	return answer
}

func (p *prompter) confirm(question string, fallback bool) bool {
	def := "y/N"
	if fallback {
		def = "Y/n"
	}
	answer := strings.ToLower(p.ask(question+" ("+def+")", ""))
	if answer == "" {
		return fallback
	}
	return answer == "y" || answer == "yes"
}

func runInit(in io.Reader, out io.Writer, configPath string) error {
	color.New(color.FgCyan).Fprint(out, banner)
	fmt.Fprintln(out, "    Interactive Setup")
	fmt.Fprintln(out, "    -----------------")
	fmt.Fprintln(out)

	p := &prompter{in: bufio.NewReader(in), out: out}

	if _, err := os.Stat(configPath); err == nil {
		color.New(color.FgYellow).Fprintf(out, "    Config already exists at %s\n", configPath)
		if !p.confirm("Overwrite?", false) {
			fmt.Fprintln(out, "    Aborted.")
			return nil
		}
		fmt.Fprintln(out)
	}

	homeserver := p.ask("Matrix homeserver URL", "https://matrix.org")
	userID := p.ask("Bot user id (e.g. @bot:example.org)", "")
	password := p.ask("Bot password", "")
	recoveryKey := p.ask("Recovery key (optional, for E2EE)", "")
	allowedUsers := p.ask("Allowed users, comma separated (empty = everyone)", "")
	provider := p.ask("LLM provider (openai or anthropic)", "openai")
	apiKey := p.ask("LLM API key", "")
	ankiEnabled := p.confirm("Enable Anki flashcards?", true)
	todoistEnabled := p.confirm("Enable Todoist tasks?", false)
	todoistToken := ""
	if todoistEnabled {
		todoistToken = p.ask("Todoist API token", "")
	}
	searchEnabled := p.confirm("Enable web search?", false)

	var b strings.Builder
	b.WriteString("# tool-bot configuration\n# Generated by tool-bot init\n\n")
	fmt.Fprintf(&b, "matrix:\n  homeserver: %q\n  user_id: %q\n  password: %q\n", homeserver, userID, password)
	if recoveryKey != "" {
		fmt.Fprintf(&b, "  recovery_key: %q\n  encryption: true\n", recoveryKey)
	}
	b.WriteString("  allowed_users:")
	users := splitList(allowedUsers)
	if len(users) == 0 {
		b.WriteString(" []\n")
	} else {
		b.WriteString("\n")
		for _, u := range users {
			fmt.Fprintf(&b, "    - %q\n", u)
		}
	}
	fmt.Fprintf(&b, "\nllm:\n  provider: %q\n  api_key: %q\n", provider, apiKey)
	fmt.Fprintf(&b, "\nanki:\n  enabled: %t\n", ankiEnabled)
	fmt.Fprintf(&b, "\ntodoist:\n  enabled: %t\n", todoistEnabled)
	if todoistToken != "" {
		fmt.Fprintf(&b, "  api_token: %q\n", todoistToken)
	}
	fmt.Fprintf(&b, "\nsearch:\n  enabled: %t\n", searchEnabled)
	b.WriteString(`
bot:
  # Respond to messages that arrived while the bot was offline
  respond_to_pending: true
  # Set the default system prompt as topic in rooms without one
  set_topic_on_join: true

ops:
  http_addr: "127.0.0.1:9090"

logging:
  level: "info"
  format: "text"
`)

	if err := os.MkdirAll(filepath.Dir(configPath), 0700); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	if err := os.WriteFile(configPath, []byte(b.String()), 0600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}

	fmt.Fprintln(out)
	color.New(color.FgGreen).Fprintf(out, "    Config written to %s\n", configPath)
	fmt.Fprintln(out, "    Run `tool-bot` to start the bot.")
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
