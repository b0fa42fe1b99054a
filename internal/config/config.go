// ABOUTME: Configuration loading and parsing for tool-bot
// ABOUTME: Supports YAML or TOML files with .env loading, env var expansion and duration parsing

package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config represents the complete tool-bot configuration
type Config struct {
	Matrix   MatrixConfig   `yaml:"matrix" toml:"matrix"`
	LLM      LLMConfig      `yaml:"llm" toml:"llm"`
	Anki     AnkiConfig     `yaml:"anki" toml:"anki"`
	Todoist  TodoistConfig  `yaml:"todoist" toml:"todoist"`
	Search   SearchConfig   `yaml:"search" toml:"search"`
	Bot      BotConfig      `yaml:"bot" toml:"bot"`
	Database DatabaseConfig `yaml:"database" toml:"database"`
	Ops      OpsConfig      `yaml:"ops" toml:"ops"`
	Logging  LoggingConfig  `yaml:"logging" toml:"logging"`
}

// MatrixConfig holds the bot account and access control
type MatrixConfig struct {
	Homeserver   string   `yaml:"homeserver" toml:"homeserver"`
	UserID       string   `yaml:"user_id" toml:"user_id"`
	Password     string   `yaml:"password" toml:"password"`
	AccessToken  string   `yaml:"access_token" toml:"access_token"`
	DeviceID     string   `yaml:"device_id" toml:"device_id"`
	RecoveryKey  string   `yaml:"recovery_key" toml:"recovery_key"`
	DataDir      string   `yaml:"data_dir" toml:"data_dir"`
	Encryption   bool     `yaml:"encryption" toml:"encryption"`
	AllowedUsers []string `yaml:"allowed_users" toml:"allowed_users"`
	AllowedRooms []string `yaml:"allowed_rooms" toml:"allowed_rooms"`
	SendRate     float64  `yaml:"send_rate" toml:"send_rate"`   // messages per second
	SendBurst    int      `yaml:"send_burst" toml:"send_burst"` // burst allowance
}

// LLMConfig selects and configures the language model
type LLMConfig struct {
	Provider  string `yaml:"provider" toml:"provider"`
	Model     string `yaml:"model" toml:"model"`
	APIKey    string `yaml:"api_key" toml:"api_key"`
	BaseURL   string `yaml:"base_url" toml:"base_url"`
	MaxTokens int    `yaml:"max_tokens" toml:"max_tokens"`
}

// AnkiConfig holds AnkiConnect settings
type AnkiConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	URL      string `yaml:"url" toml:"url"`
	DeckRoot string `yaml:"deck_root" toml:"deck_root"`
	Sync     bool   `yaml:"sync" toml:"sync"`

	// SkipRouting keeps the deck the model proposed instead of asking it to
	// pick among the existing decks under DeckRoot.
	SkipRouting bool `yaml:"skip_deck_routing" toml:"skip_deck_routing"`
	DeckSamples int  `yaml:"deck_samples" toml:"deck_samples"`
}

// TodoistConfig holds Todoist REST settings
type TodoistConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	APIToken string `yaml:"api_token" toml:"api_token"`
	BaseURL  string `yaml:"base_url" toml:"base_url"`
}

// SearchConfig enables the web_search tool
type SearchConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	BaseURL string `yaml:"base_url" toml:"base_url"`
}

// BotConfig holds conversation engine settings
type BotConfig struct {
	HistoryLimit     int    `yaml:"history_limit" toml:"history_limit"`
	ContextDepth     int    `yaml:"context_depth" toml:"context_depth"`
	RespondToPending bool   `yaml:"respond_to_pending" toml:"respond_to_pending"`
	AckReactions     bool   `yaml:"ack_reactions" toml:"ack_reactions"`
	DefaultPrompt    string `yaml:"default_prompt" toml:"default_prompt"`
	SetTopicOnJoin   bool   `yaml:"set_topic_on_join" toml:"set_topic_on_join"`
	DedupeSize       int    `yaml:"dedupe_size" toml:"dedupe_size"`

	ExecTimeout time.Duration `yaml:"-" toml:"-"`
	DedupeTTL   time.Duration `yaml:"-" toml:"-"`

	// Raw string values for unmarshaling
	ExecTimeoutRaw string `yaml:"exec_timeout" toml:"exec_timeout"`
	DedupeTTLRaw   string `yaml:"dedupe_ttl" toml:"dedupe_ttl"`
}

// DatabaseConfig holds the audit ledger location
type DatabaseConfig struct {
	Path string `yaml:"path" toml:"path"`
}

// OpsConfig holds the health and metrics listeners. Empty disables a listener.
type OpsConfig struct {
	HTTPAddr string `yaml:"http_addr" toml:"http_addr"`
	GRPCAddr string `yaml:"grpc_addr" toml:"grpc_addr"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
}

// Defaults for optional settings.
const (
	DefaultHistoryLimit = 1000
	DefaultContextDepth = 20
	DefaultExecTimeout  = 30 * time.Second
	DefaultDedupeTTL    = 10 * time.Minute
	DefaultDedupeSize   = 10000
	DefaultAnkiURL      = "http://localhost:8765"
	DefaultDeckRoot     = "Active::Bot"
	DefaultDeckSamples  = 10
	DefaultSearchURL    = "https://html.duckduckgo.com/html/"
	DefaultTodoistURL   = "https://api.todoist.com/rest/v2"
	DefaultSendRate     = 5.0
	DefaultSendBurst    = 10
)

var defaultModels = map[string]string{
	"openai":    "gpt-4o-mini",
	"anthropic": "claude-3-5-sonnet-20241022",
}

// Load reads a configuration file from the given path and returns a parsed Config.
// A .env file in the same directory is loaded first. Environment variables in
// the format ${VAR_NAME} are expanded. Duration strings are parsed into
// time.Duration values.
func Load(path string) (*Config, error) {
	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg, err := Parse(expandEnvVars(string(data)), formatOf(path))
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes configuration text in the given format ("yaml" or "toml"),
// applies defaults and validates the result. Environment variables are not
// expanded.
func Parse(text, format string) (*Config, error) {
	var cfg Config
	switch format {
	case "toml":
		if _, err := toml.Decode(text, &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := yaml.Unmarshal([]byte(text), &cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	}

	if err := parseDurations(&cfg); err != nil {
		return nil, fmt.Errorf("parsing durations: %w", err)
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return &cfg, nil
}

func formatOf(path string) string {
	if strings.EqualFold(filepath.Ext(path), ".toml") {
		return "toml"
	}
	return "yaml"
}

// loadDotEnv loads variables from path without overriding ones already set.
// A missing file is not an error.
func loadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading %s: %w", path, err)
	}
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR_NAME} patterns with the corresponding environment variable values.
// If the environment variable is not set, it is replaced with an empty string.
func expandEnvVars(s string) string {
	return envVarPattern.ReplaceAllStringFunc(s, func(match string) string {
		return os.Getenv(envVarPattern.FindStringSubmatch(match)[1])
	})
}

func (c *Config) applyDefaults() {
	c.LLM.Provider = strings.ToLower(strings.TrimSpace(c.LLM.Provider))
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = defaultModels[c.LLM.Provider]
	}

	if c.Matrix.SendRate <= 0 {
		c.Matrix.SendRate = DefaultSendRate
	}
	if c.Matrix.SendBurst <= 0 {
		c.Matrix.SendBurst = DefaultSendBurst
	}
	if c.Matrix.DataDir == "" {
		c.Matrix.DataDir = defaultDataDir()
	}

	if c.Anki.URL == "" {
		c.Anki.URL = DefaultAnkiURL
	}
	if c.Anki.DeckRoot == "" {
		c.Anki.DeckRoot = DefaultDeckRoot
	}
	if c.Anki.DeckSamples == 0 {
		c.Anki.DeckSamples = DefaultDeckSamples
	}
	if c.Todoist.BaseURL == "" {
		c.Todoist.BaseURL = DefaultTodoistURL
	}
	if c.Search.BaseURL == "" {
		c.Search.BaseURL = DefaultSearchURL
	}

	if c.Bot.HistoryLimit == 0 {
		c.Bot.HistoryLimit = DefaultHistoryLimit
	}
	if c.Bot.ContextDepth == 0 {
		c.Bot.ContextDepth = DefaultContextDepth
	}
	if c.Bot.ExecTimeout == 0 {
		c.Bot.ExecTimeout = DefaultExecTimeout
	}
	if c.Bot.DedupeTTL == 0 {
		c.Bot.DedupeTTL = DefaultDedupeTTL
	}
	if c.Bot.DedupeSize == 0 {
		c.Bot.DedupeSize = DefaultDedupeSize
	}

	if c.Database.Path == "" {
		c.Database.Path = filepath.Join(c.Matrix.DataDir, "ledger.db")
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "text"
	}
}

func defaultDataDir() string {
	if dir := os.Getenv("XDG_DATA_HOME"); dir != "" {
		return filepath.Join(dir, "tool-bot")
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "share", "tool-bot")
	}
	return "./data"
}

// Validate checks that all required configuration fields are present and valid.
// Returns an error describing the first validation failure encountered.
func (c *Config) Validate() error {
	if c.Matrix.Homeserver == "" {
		return fmt.Errorf("matrix.homeserver is required")
	}
	if c.Matrix.UserID == "" {
		return fmt.Errorf("matrix.user_id is required")
	}
	if !strings.HasPrefix(c.Matrix.UserID, "@") || !strings.Contains(c.Matrix.UserID, ":") {
		return fmt.Errorf("matrix.user_id %q is not a Matrix user id", c.Matrix.UserID)
	}
	if c.Matrix.Password == "" && c.Matrix.AccessToken == "" {
		return fmt.Errorf("matrix.password or matrix.access_token is required")
	}

	switch c.LLM.Provider {
	case "openai", "anthropic":
	default:
		return fmt.Errorf("llm.provider %q is not supported (use openai or anthropic)", c.LLM.Provider)
	}
	// OpenAI-compatible local servers accept any key.
	if c.LLM.APIKey == "" && c.LLM.BaseURL == "" {
		return fmt.Errorf("llm.api_key is required")
	}

	if c.Todoist.Enabled && c.Todoist.APIToken == "" {
		return fmt.Errorf("todoist.api_token is required when todoist is enabled")
	}

	if c.Anki.DeckSamples < 0 {
		return fmt.Errorf("anki.deck_samples must not be negative")
	}

	if c.Bot.HistoryLimit < 0 {
		return fmt.Errorf("bot.history_limit must not be negative")
	}
	if c.Bot.ContextDepth < 0 {
		return fmt.Errorf("bot.context_depth must not be negative")
	}

	switch c.Logging.Format {
	case "text", "json":
	default:
		return fmt.Errorf("logging.format %q must be text or json", c.Logging.Format)
	}

	return nil
}

// parseDurations converts the raw duration strings into time.Duration values
func parseDurations(cfg *Config) error {
	var err error

	if cfg.Bot.ExecTimeoutRaw != "" {
		cfg.Bot.ExecTimeout, err = time.ParseDuration(cfg.Bot.ExecTimeoutRaw)
		if err != nil {
			return fmt.Errorf("parsing exec_timeout %q: %w", cfg.Bot.ExecTimeoutRaw, err)
		}
	}

	if cfg.Bot.DedupeTTLRaw != "" {
		cfg.Bot.DedupeTTL, err = time.ParseDuration(cfg.Bot.DedupeTTLRaw)
		if err != nil {
			return fmt.Errorf("parsing dedupe_ttl %q: %w", cfg.Bot.DedupeTTLRaw, err)
		}
	}

	return nil
}
