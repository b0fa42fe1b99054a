// ABOUTME: Tests for configuration loading and parsing
// ABOUTME: Covers YAML and TOML loading, .env files, env var expansion, defaults and validation

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalYAML = `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@toolbot:example.org"
  password: "secret"
llm:
  api_key: "sk-test"
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}
	return path
}

func TestLoad_ValidConfig(t *testing.T) {
	configPath := writeConfig(t, "config.yaml", `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@toolbot:example.org"
  access_token: "syt_token"
  encryption: true
  allowed_users:
    - "@alice:example.org"
  allowed_rooms:
    - "!room:example.org"

llm:
  provider: "Anthropic"
  api_key: "sk-ant"
  max_tokens: 2048

anki:
  enabled: true
  url: "http://anki.local:8765"
  sync: true
  skip_deck_routing: true
  deck_samples: 5

todoist:
  enabled: true
  api_token: "todo-token"

search:
  enabled: true

bot:
  history_limit: 500
  context_depth: 8
  respond_to_pending: true
  ack_reactions: true
  exec_timeout: "45s"
  dedupe_ttl: "2m"

database:
  path: "./ledger.db"

ops:
  http_addr: "127.0.0.1:9464"

logging:
  level: "debug"
  format: "json"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Matrix.AccessToken != "syt_token" {
		t.Errorf("Matrix.AccessToken = %q, want %q", cfg.Matrix.AccessToken, "syt_token")
	}
	if !cfg.Matrix.Encryption {
		t.Error("Matrix.Encryption = false, want true")
	}
	if len(cfg.Matrix.AllowedUsers) != 1 || cfg.Matrix.AllowedUsers[0] != "@alice:example.org" {
		t.Errorf("Matrix.AllowedUsers = %v", cfg.Matrix.AllowedUsers)
	}
	if cfg.LLM.Provider != "anthropic" {
		t.Errorf("LLM.Provider = %q, want %q", cfg.LLM.Provider, "anthropic")
	}
	if cfg.LLM.Model != "claude-3-5-sonnet-20241022" {
		t.Errorf("LLM.Model = %q, want provider default", cfg.LLM.Model)
	}
	if cfg.Anki.URL != "http://anki.local:8765" || !cfg.Anki.Sync {
		t.Errorf("Anki = %+v", cfg.Anki)
	}
	if cfg.Anki.DeckRoot != DefaultDeckRoot {
		t.Errorf("Anki.DeckRoot = %q, want %q", cfg.Anki.DeckRoot, DefaultDeckRoot)
	}
	if !cfg.Anki.SkipRouting || cfg.Anki.DeckSamples != 5 {
		t.Errorf("Anki routing = %v/%d, want true/5", cfg.Anki.SkipRouting, cfg.Anki.DeckSamples)
	}
	if !cfg.Search.Enabled || cfg.Search.BaseURL != DefaultSearchURL {
		t.Errorf("Search = %+v", cfg.Search)
	}
	if cfg.Bot.HistoryLimit != 500 || cfg.Bot.ContextDepth != 8 {
		t.Errorf("Bot limits = %d/%d, want 500/8", cfg.Bot.HistoryLimit, cfg.Bot.ContextDepth)
	}
	if cfg.Bot.ExecTimeout != 45*time.Second {
		t.Errorf("Bot.ExecTimeout = %v, want 45s", cfg.Bot.ExecTimeout)
	}
	if cfg.Bot.DedupeTTL != 2*time.Minute {
		t.Errorf("Bot.DedupeTTL = %v, want 2m", cfg.Bot.DedupeTTL)
	}
	if cfg.Database.Path != "./ledger.db" {
		t.Errorf("Database.Path = %q", cfg.Database.Path)
	}
	if cfg.Logging.Format != "json" {
		t.Errorf("Logging.Format = %q, want json", cfg.Logging.Format)
	}
}

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load(writeConfig(t, "config.yaml", minimalYAML))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.LLM.Provider != "openai" || cfg.LLM.Model != "gpt-4o-mini" {
		t.Errorf("LLM = %+v, want openai/gpt-4o-mini", cfg.LLM)
	}
	if cfg.Bot.HistoryLimit != DefaultHistoryLimit {
		t.Errorf("Bot.HistoryLimit = %d, want %d", cfg.Bot.HistoryLimit, DefaultHistoryLimit)
	}
	if cfg.Bot.ContextDepth != DefaultContextDepth {
		t.Errorf("Bot.ContextDepth = %d, want %d", cfg.Bot.ContextDepth, DefaultContextDepth)
	}
	if cfg.Bot.ExecTimeout != DefaultExecTimeout {
		t.Errorf("Bot.ExecTimeout = %v, want %v", cfg.Bot.ExecTimeout, DefaultExecTimeout)
	}
	if cfg.Todoist.BaseURL != DefaultTodoistURL {
		t.Errorf("Todoist.BaseURL = %q", cfg.Todoist.BaseURL)
	}
	if cfg.Anki.SkipRouting || cfg.Anki.DeckSamples != DefaultDeckSamples {
		t.Errorf("Anki routing = %v/%d, want routing with %d samples", cfg.Anki.SkipRouting, cfg.Anki.DeckSamples, DefaultDeckSamples)
	}
	if cfg.Search.Enabled {
		t.Error("Search.Enabled = true, want false by default")
	}
	if cfg.Matrix.SendRate != DefaultSendRate || cfg.Matrix.SendBurst != DefaultSendBurst {
		t.Errorf("send limits = %v/%d", cfg.Matrix.SendRate, cfg.Matrix.SendBurst)
	}
	if !strings.HasSuffix(cfg.Database.Path, "ledger.db") {
		t.Errorf("Database.Path = %q, want ledger.db under data dir", cfg.Database.Path)
	}
	if cfg.Logging.Level != "info" || cfg.Logging.Format != "text" {
		t.Errorf("Logging = %+v", cfg.Logging)
	}
}

func TestLoad_TOML(t *testing.T) {
	configPath := writeConfig(t, "config.toml", `
[matrix]
homeserver = "https://matrix.example.org"
user_id = "@toolbot:example.org"
password = "secret"
allowed_users = ["@alice:example.org", "@bob:example.org"]

[llm]
provider = "openai"
base_url = "http://localhost:11434/v1"

[bot]
exec_timeout = "10s"
`)

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if len(cfg.Matrix.AllowedUsers) != 2 {
		t.Errorf("Matrix.AllowedUsers = %v, want 2 entries", cfg.Matrix.AllowedUsers)
	}
	if cfg.LLM.BaseURL != "http://localhost:11434/v1" {
		t.Errorf("LLM.BaseURL = %q", cfg.LLM.BaseURL)
	}
	if cfg.Bot.ExecTimeout != 10*time.Second {
		t.Errorf("Bot.ExecTimeout = %v, want 10s", cfg.Bot.ExecTimeout)
	}
}

func TestLoad_EnvVarExpansion(t *testing.T) {
	t.Setenv("TEST_MATRIX_PASSWORD", "from-env")
	t.Setenv("TEST_LLM_KEY", "sk-env")

	cfg, err := Load(writeConfig(t, "config.yaml", `
matrix:
  homeserver: "https://matrix.example.org"
  user_id: "@toolbot:example.org"
  password: "${TEST_MATRIX_PASSWORD}"
llm:
  api_key: "${TEST_LLM_KEY}"
`))
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Matrix.Password != "from-env" {
		t.Errorf("Matrix.Password = %q, want %q", cfg.Matrix.Password, "from-env")
	}
	if cfg.LLM.APIKey != "sk-env" {
		t.Errorf("LLM.APIKey = %q, want %q", cfg.LLM.APIKey, "sk-env")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	if err := os.WriteFile(envPath, []byte("TOOLBOT_TEST_DOTENV_KEY=sk-dotenv\n"), 0600); err != nil {
		t.Fatalf("failed to write .env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("TOOLBOT_TEST_DOTENV_KEY") })

	configPath := filepath.Join(dir, "config.yaml")
	content := strings.Replace(minimalYAML, `"sk-test"`, `"${TOOLBOT_TEST_DOTENV_KEY}"`, 1)
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(configPath)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.LLM.APIKey != "sk-dotenv" {
		t.Errorf("LLM.APIKey = %q, want value from .env", cfg.LLM.APIKey)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	if err == nil {
		t.Fatal("Load() expected error for missing file")
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", "matrix: [unclosed"))
	if err == nil || !strings.Contains(err.Error(), "parsing config file") {
		t.Fatalf("Load() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDuration(t *testing.T) {
	_, err := Load(writeConfig(t, "config.yaml", minimalYAML+`
bot:
  exec_timeout: "soon"
`))
	if err == nil || !strings.Contains(err.Error(), "exec_timeout") {
		t.Fatalf("Load() error = %v, want exec_timeout error", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"missing homeserver", func(c *Config) { c.Matrix.Homeserver = "" }, "matrix.homeserver"},
		{"bad user id", func(c *Config) { c.Matrix.UserID = "toolbot" }, "not a Matrix user id"},
		{"no credentials", func(c *Config) { c.Matrix.Password = "" }, "matrix.password"},
		{"bad provider", func(c *Config) { c.LLM.Provider = "gemini" }, "llm.provider"},
		{"missing api key", func(c *Config) { c.LLM.APIKey = "" }, "llm.api_key"},
		{"base url without key", func(c *Config) { c.LLM.APIKey = ""; c.LLM.BaseURL = "http://localhost:8080/v1" }, ""},
		{"todoist without token", func(c *Config) { c.Todoist.Enabled = true }, "todoist.api_token"},
		{"negative deck samples", func(c *Config) { c.Anki.DeckSamples = -1 }, "anki.deck_samples"},
		{"negative history", func(c *Config) { c.Bot.HistoryLimit = -1 }, "bot.history_limit"},
		{"bad log format", func(c *Config) { c.Logging.Format = "xml" }, "logging.format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Parse(minimalYAML, "yaml")
			if err != nil {
				t.Fatalf("Parse() error = %v", err)
			}
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() error = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want containing %q", err, tt.wantErr)
			}
		})
	}
}
