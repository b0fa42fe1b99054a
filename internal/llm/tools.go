// ABOUTME: Tool schemas offered to the model and decoding of its tool calls
// ABOUTME: Create tools become proposal drafts; web_search becomes a search request

package llm

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/2389/tool-bot/internal/proposal"
)

const (
	toolCreateFlashcards = "create_flashcards"
	toolCreateTodos      = "create_todos"
	toolWebSearch        = "web_search"

	defaultSearchResults = 5
	maxSearchResults     = 10
)

type tool struct {
	name        string
	description string
	schema      map[string]any
}

var tools = []tool{
	{
		name: toolCreateFlashcards,
		description: "Create Anki flashcards for learning. IMPORTANT: If the user says 'a flashcard' or 'one flashcard', " +
			"create exactly ONE. If they say 'flashcards' or 'N flashcards', create that exact number. Never create more than requested.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"flashcards": map[string]any{
					"type":        "array",
					"description": "Array of flashcards to create. If user says 'a flashcard', this array should contain exactly 1 item.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"card_type": map[string]any{"type": "string", "enum": []string{"basic", "cloze", "basic-reversed"}, "description": "Type of flashcard"},
							"front":     map[string]any{"type": "string", "description": "Front of the card (question)"},
							"back":      map[string]any{"type": "string", "description": "Back of the card (answer)"},
							"deck":      map[string]any{"type": "string", "description": "Name of the Anki deck"},
							"tags":      map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Tags for the card"},
						},
						"required": []string{"card_type", "front", "back"},
					},
				},
			},
			"required": []string{"flashcards"},
		},
	},
	{
		name: toolCreateTodos,
		description: "Create Todoist todos/tasks. IMPORTANT: If the user says 'a todo' or 'one todo', create exactly ONE. " +
			"If they say 'todos' or 'N todos', create that exact number. Never create more than requested.",
		schema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"todos": map[string]any{
					"type":        "array",
					"description": "Array of todos to create. If user says 'a todo', this array should contain exactly 1 item.",
					"items": map[string]any{
						"type": "object",
						"properties": map[string]any{
							"content":      map[string]any{"type": "string", "description": "Todo content/description"},
							"due_string":   map[string]any{"type": "string", "description": "Natural language due date (e.g., 'tomorrow', 'next Monday')"},
							"priority":     map[string]any{"type": "integer", "enum": []int{1, 2, 3, 4}, "description": "Priority level (1=normal, 4=urgent)"},
							"labels":       map[string]any{"type": "array", "items": map[string]any{"type": "string"}, "description": "Labels for the todo"},
							"project_name": map[string]any{"type": "string", "description": "Project name (will be created if doesn't exist)"},
						},
						"required": []string{"content"},
					},
				},
			},
			"required": []string{"todos"},
		},
	},
}

var webSearchTool = tool{
	name: toolWebSearch,
	description: "Search the web for current information. Use this when you need up-to-date information, " +
		"facts, or details that you don't have in your training data.",
	schema: map[string]any{
		"type": "object",
		"properties": map[string]any{
			"query": map[string]any{"type": "string", "description": "The search query to look up on the web"},
			"max_results": map[string]any{
				"type": "integer", "description": "Maximum number of results to return (1-10)",
				"default": defaultSearchResults, "minimum": 1, "maximum": maxSearchResults,
			},
		},
		"required": []string{"query"},
	},
}

// toolset returns the tools offered to the model.
func toolset(webSearch bool) []tool {
	if !webSearch {
		return tools
	}
	return append(append([]tool(nil), tools...), webSearchTool)
}

// Search is a web search the model asked for.
type Search struct {
	Query      string
	MaxResults int
}

// addToolCall records one tool call on the reply.
func (r *Reply) addToolCall(name string, arguments []byte) error {
	if name == toolWebSearch {
		s, err := decodeSearch(arguments)
		if err != nil {
			return err
		}
		r.Searches = append(r.Searches, s)
		return nil
	}
	drafts, err := decodeToolCall(name, arguments)
	if err != nil {
		return err
	}
	r.Drafts = append(r.Drafts, drafts...)
	return nil
}

func decodeSearch(arguments []byte) (Search, error) {
	var args struct {
		Query      string  `json:"query"`
		MaxResults float64 `json:"max_results"`
	}
	if err := json.Unmarshal(arguments, &args); err != nil {
		return Search{}, fmt.Errorf("decoding %s arguments: %w", toolWebSearch, err)
	}
	s := Search{Query: strings.TrimSpace(args.Query), MaxResults: int(args.MaxResults)}
	if s.Query == "" {
		return Search{}, fmt.Errorf("%s: %w", toolWebSearch, ErrEmptyQuery)
	}
	switch {
	case s.MaxResults <= 0:
		s.MaxResults = defaultSearchResults
	case s.MaxResults > maxSearchResults:
		s.MaxResults = maxSearchResults
	}
	return s, nil
}

// decodeToolCall turns one create tool call into drafts.
func decodeToolCall(name string, arguments []byte) ([]proposal.Draft, error) {
	var (
		key  string
		kind proposal.Kind
	)
	switch name {
	case toolCreateFlashcards:
		key, kind = "flashcards", proposal.KindFlashcard
	case toolCreateTodos:
		key, kind = "todos", proposal.KindTask
	default:
		return nil, fmt.Errorf("%s: %w", name, ErrUnknownTool)
	}

	var args map[string]json.RawMessage
	if err := json.Unmarshal(arguments, &args); err != nil {
		return nil, fmt.Errorf("decoding %s arguments: %w", name, err)
	}
	var items []map[string]any
	if raw, ok := args[key]; ok {
		if err := json.Unmarshal(raw, &items); err != nil {
			return nil, fmt.Errorf("decoding %s.%s: %w", name, key, err)
		}
	}

	drafts := make([]proposal.Draft, 0, len(items))
	for _, item := range items {
		if kind == proposal.KindFlashcard {
			if _, ok := item["card_type"]; !ok {
				item["card_type"] = "basic"
			}
		}
		d, err := proposal.NewDraft(kind, item)
		if err != nil {
			return nil, err
		}
		drafts = append(drafts, d)
	}
	return drafts, nil
}
