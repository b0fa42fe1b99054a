// ABOUTME: Anthropic messages adapter with tool definitions
// ABOUTME: Normalizes turns to the strictly alternating form the API requires

package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/liushuangls/go-anthropic/v2"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicProposer answers through the messages API.
type AnthropicProposer struct {
	client    *anthropic.Client
	model     string
	maxTokens int
	tools     []tool
}

// NewAnthropicProposer creates an adapter. An empty baseURL uses the public
// API.
func NewAnthropicProposer(apiKey, model, baseURL string, maxTokens int, opts ...Option) *AnthropicProposer {
	var clientOpts []anthropic.ClientOption
	if baseURL != "" {
		clientOpts = append(clientOpts, anthropic.WithBaseURL(baseURL))
	}
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	return &AnthropicProposer{
		client:    anthropic.NewClient(apiKey, clientOpts...),
		model:     model,
		maxTokens: maxTokens,
		tools:     toolset(newSettings(opts).webSearch),
	}
}

// Propose implements Proposer.
func (p *AnthropicProposer) Propose(ctx context.Context, systemPrompt string, turns []Turn) (Reply, error) {
	content, err := p.messages(ctx, systemPrompt, turns, true)
	if err != nil {
		return Reply{}, err
	}

	var (
		reply Reply
		texts []string
	)
	for _, block := range content {
		switch block.Type {
		case anthropic.MessagesContentTypeText:
			if block.Text != nil && *block.Text != "" {
				texts = append(texts, *block.Text)
			}
		case anthropic.MessagesContentTypeToolUse:
			if block.MessageContentToolUse == nil {
				continue
			}
			if err := reply.addToolCall(block.MessageContentToolUse.Name, block.MessageContentToolUse.Input); err != nil {
				return Reply{}, err
			}
		}
	}
	reply.Text = strings.Join(texts, "\n\n")
	return reply, nil
}

// Complete implements Completer.
func (p *AnthropicProposer) Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	content, err := p.messages(ctx, systemPrompt, turns, false)
	if err != nil {
		return "", err
	}
	var texts []string
	for _, block := range content {
		if block.Type == anthropic.MessagesContentTypeText && block.Text != nil {
			texts = append(texts, *block.Text)
		}
	}
	return strings.Join(texts, "\n\n"), nil
}

func (p *AnthropicProposer) messages(ctx context.Context, systemPrompt string, turns []Turn, withTools bool) ([]anthropic.MessageContent, error) {
	normalized := alternate(turns)
	if len(normalized) == 0 {
		return nil, ErrNoInput
	}

	messages := make([]anthropic.Message, 0, len(normalized))
	for _, t := range normalized {
		role := anthropic.RoleUser
		if t.Role == RoleAssistant {
			role = anthropic.RoleAssistant
		}
		messages = append(messages, anthropic.Message{
			Role:    role,
			Content: []anthropic.MessageContent{anthropic.NewTextMessageContent(t.Content)},
		})
	}

	req := anthropic.MessagesRequest{
		Model:     anthropic.Model(p.model),
		System:    systemPrompt,
		Messages:  messages,
		MaxTokens: p.maxTokens,
	}
	if withTools {
		req.Tools = anthropicTools(p.tools)
	}

	resp, err := p.client.CreateMessages(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("anthropic messages: %w", err)
	}
	if len(resp.Content) == 0 {
		return nil, ErrEmptyResponse
	}
	return resp.Content, nil
}

func anthropicTools(tools []tool) []anthropic.ToolDefinition {
	out := make([]anthropic.ToolDefinition, 0, len(tools))
	for _, t := range tools {
		out = append(out, anthropic.ToolDefinition{
			Name:        t.name,
			Description: t.description,
			InputSchema: t.schema,
		})
	}
	return out
}
