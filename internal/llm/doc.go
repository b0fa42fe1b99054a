// Package llm asks a language model to answer a conversation and to suggest
// flashcards or tasks through tool calls.
//
// # Overview
//
// The room worker only needs one operation:
//
//	reply, err := proposer.Propose(ctx, systemPrompt, turns)
//
// A Reply carries free text (possibly empty) and zero or more proposal
// drafts decoded from the model's create_flashcards and create_todos tool
// calls. Tool calls are never executed here; the drafts become proposals that
// a human approves in chat.
//
// # Providers
//
// OpenAI (and OpenAI-compatible servers via base_url) is served by
// github.com/sashabaranov/go-openai. Anthropic is served by
// github.com/liushuangls/go-anthropic/v2. New picks one from configuration.
//
// Anthropic requires strictly alternating roles starting with the user, so
// consecutive turns from the same role are merged and leading assistant
// turns dropped before the request is built.
package llm
