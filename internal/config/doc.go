// Package config handles configuration loading for tool-bot.
//
// # Overview
//
// Configuration is loaded from a YAML or TOML file (chosen by extension) with
// environment variable expansion. A .env file next to the configuration file
// is loaded first, without overriding variables already set.
//
// # Configuration File
//
// Locations, in order:
//
//  1. The --config flag
//  2. Path from the TOOLBOT_CONFIG environment variable
//  3. $XDG_CONFIG_HOME/tool-bot/config.yaml
//  4. ~/.config/tool-bot/config.yaml
//
// # Environment Variable Expansion
//
// Values can reference environment variables:
//
//	llm:
//	  api_key: "${OPENAI_API_KEY}"
//
// Unset variables expand to the empty string.
//
// # Duration Parsing
//
// Durations use time.ParseDuration syntax:
//
//	bot:
//	  exec_timeout: "30s"
//	  dedupe_ttl: "10m"
//
// # Configuration Sections
//
// Matrix account and access control:
//
//	matrix:
//	  homeserver: "https://matrix.example.org"
//	  user_id: "@toolbot:example.org"
//	  password: "${MATRIX_PASSWORD}"
//	  allowed_users: ["@me:example.org"]
//
// Language model:
//
//	llm:
//	  provider: "openai"        # or "anthropic"
//	  model: "gpt-4o-mini"
//	  api_key: "${OPENAI_API_KEY}"
//
// Services that proposals create objects in:
//
//	anki:
//	  enabled: true
//	  url: "http://localhost:8765"
//	todoist:
//	  enabled: true
//	  api_token: "${TODOIST_API_TOKEN}"
//
// Engine behaviour, audit database, ops endpoints and logging:
//
//	bot:
//	  history_limit: 1000
//	  context_depth: 20
//	database:
//	  path: "~/.local/share/tool-bot/ledger.db"
//	ops:
//	  http_addr: "127.0.0.1:9464"
//	logging:
//	  level: "info"
//	  format: "text"
//
// # Validation
//
// Validate returns the first missing or invalid field. Defaults are applied
// before validation, so only credentials are strictly required.
package config
