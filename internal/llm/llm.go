// ABOUTME: Proposer and Completer interfaces, adapter options and turn types shared by LM adapters
// ABOUTME: Includes the default system prompt and role normalization helpers

package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/2389/tool-bot/internal/proposal"
)

var (
	// ErrEmptyResponse is returned when the model produced no choices.
	ErrEmptyResponse = errors.New("empty model response")

	// ErrUnknownTool is returned for tool calls outside the offered set.
	ErrUnknownTool = errors.New("unknown tool")

	// ErrNoInput is returned when there is no user turn to answer.
	ErrNoInput = errors.New("no user input")

	// ErrEmptyQuery is returned for a web search without a query.
	ErrEmptyQuery = errors.New("empty search query")
)

// DefaultSystemPrompt is used when a room has no topic.
const DefaultSystemPrompt = "You are a helpful and friendly assistant. Feel free to have normal conversations. " +
	"You can also create Anki flashcards and Todoist todos when the user asks for them. " +
	"IMPORTANT: Pay close attention to singular vs plural. If the user says 'a flashcard' or 'one flashcard', " +
	"create exactly ONE. If they say '3 flashcards', create exactly THREE. Never add extra items. " +
	"If the flashcards you create ask for multiple facts at once (e.g., 'What are the colors of the French flag?'), " +
	"ALWAYS include that number in parentheses after the question (e.g., 'What are the colors of the French flag? (3)') " +
	"and then give the answer as a numbered list (e.g., '1. Blue,\n 2. White,\n 3. Red'). " +
	"It is very important that the number of expected facts is mentioned in the question to help with later review."

// Role is who said a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Turn is one message of conversation context.
type Turn struct {
	Role    Role
	Content string
}

// Reply is the model's answer.
type Reply struct {
	Text     string
	Drafts   []proposal.Draft
	Searches []Search
}

// Proposer answers a conversation.
type Proposer interface {
	Propose(ctx context.Context, systemPrompt string, turns []Turn) (Reply, error)
}

// Completer answers a prompt without offering tools.
type Completer interface {
	Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error)
}

// Model is a language model that can do both.
type Model interface {
	Proposer
	Completer
}

type settings struct {
	webSearch bool
}

// Option adjusts an adapter.
type Option func(*settings)

// WithWebSearch offers the web_search tool.
func WithWebSearch() Option {
	return func(s *settings) { s.webSearch = true }
}

func newSettings(opts []Option) settings {
	var s settings
	for _, opt := range opts {
		opt(&s)
	}
	return s
}

// alternate merges consecutive turns from the same role, drops empty turns
// and any assistant turns before the first user turn.
func alternate(turns []Turn) []Turn {
	var out []Turn
	for _, t := range turns {
		content := strings.TrimSpace(t.Content)
		if content == "" {
			continue
		}
		if len(out) == 0 && t.Role != RoleUser {
			continue
		}
		if n := len(out); n > 0 && out[n-1].Role == t.Role {
			out[n-1].Content += "\n\n" + content
			continue
		}
		out = append(out, Turn{Role: t.Role, Content: content})
	}
	return out
}
