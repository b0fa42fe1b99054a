// ABOUTME: OpenAI chat completions adapter with function tools
// ABOUTME: Also serves OpenAI-compatible servers through a custom base URL

package llm

import (
	"context"
	"fmt"

	"github.com/sashabaranov/go-openai"
)

// OpenAIProposer answers through the chat completions API.
type OpenAIProposer struct {
	client    *openai.Client
	model     string
	maxTokens int
	tools     []tool
}

// NewOpenAIProposer creates an adapter. An empty baseURL uses the public API.
func NewOpenAIProposer(apiKey, model, baseURL string, maxTokens int, opts ...Option) *OpenAIProposer {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	return &OpenAIProposer{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		maxTokens: maxTokens,
		tools:     toolset(newSettings(opts).webSearch),
	}
}

// Propose implements Proposer.
func (p *OpenAIProposer) Propose(ctx context.Context, systemPrompt string, turns []Turn) (Reply, error) {
	msg, err := p.chat(ctx, systemPrompt, turns, true)
	if err != nil {
		return Reply{}, err
	}

	reply := Reply{Text: msg.Content}
	for _, call := range msg.ToolCalls {
		if err := reply.addToolCall(call.Function.Name, []byte(call.Function.Arguments)); err != nil {
			return Reply{}, err
		}
	}
	return reply, nil
}

// Complete implements Completer.
func (p *OpenAIProposer) Complete(ctx context.Context, systemPrompt string, turns []Turn) (string, error) {
	msg, err := p.chat(ctx, systemPrompt, turns, false)
	if err != nil {
		return "", err
	}
	return msg.Content, nil
}

func (p *OpenAIProposer) chat(ctx context.Context, systemPrompt string, turns []Turn, withTools bool) (openai.ChatCompletionMessage, error) {
	messages := []openai.ChatCompletionMessage{{Role: openai.ChatMessageRoleSystem, Content: systemPrompt}}
	for _, t := range turns {
		role := openai.ChatMessageRoleUser
		if t.Role == RoleAssistant {
			role = openai.ChatMessageRoleAssistant
		}
		messages = append(messages, openai.ChatCompletionMessage{Role: role, Content: t.Content})
	}

	req := openai.ChatCompletionRequest{
		Model:    p.model,
		Messages: messages,
	}
	if withTools {
		req.Tools = openAITools(p.tools)
		req.ToolChoice = "auto"
	}
	if p.maxTokens > 0 {
		req.MaxTokens = p.maxTokens
	}

	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return openai.ChatCompletionMessage{}, fmt.Errorf("openai chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return openai.ChatCompletionMessage{}, ErrEmptyResponse
	}
	return resp.Choices[0].Message, nil
}

func openAITools(tools []tool) []openai.Tool {
	out := make([]openai.Tool, 0, len(tools))
	for _, t := range tools {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.name,
				Description: t.description,
				Parameters:  t.schema,
			},
		})
	}
	return out
}
