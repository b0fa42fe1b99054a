// ABOUTME: Builds the configured Proposer implementation
// ABOUTME: Selects the OpenAI or Anthropic adapter from llm configuration

package llm

import (
	"fmt"
	"strings"

	"github.com/2389/tool-bot/internal/config"
)

// New returns the model adapter for cfg.Provider.
func New(cfg config.LLMConfig, opts ...Option) (Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "openai":
		apiKey := cfg.APIKey
		if apiKey == "" {
			// Local OpenAI-compatible servers ignore the key but the client
			// requires one.
			apiKey = "local"
		}
		return NewOpenAIProposer(apiKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, opts...), nil
	case "anthropic":
		return NewAnthropicProposer(cfg.APIKey, cfg.Model, cfg.BaseURL, cfg.MaxTokens, opts...), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider: %s", cfg.Provider)
	}
}
