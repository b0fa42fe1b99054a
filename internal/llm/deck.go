// ABOUTME: Asks the model which deck under the bot root a flashcard belongs in
// ABOUTME: Reads the JSON answer with gjson, tolerating prose around the object

package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrNoDeck is returned when the routing answer names no deck.
var ErrNoDeck = errors.New("no deck in routing answer")

const deckRoutingPrompt = "You are an Anki deck routing helper. Choose the best existing %[1]s subdeck " +
	"for the proposed flashcard, or propose a concise new subdeck under %[1]s if none fit. Return JSON only."

// DeckCard is the flashcard being routed.
type DeckCard struct {
	Front     string
	Back      string
	Requested string
}

// DeckChoice is the model's routing decision.
type DeckChoice struct {
	Deck    string
	Reason  string
	Preview []string
}

const (
	defaultDeckReason = "LLM chose this deck."
	maxDeckPreview    = 10
)

// RouteDeck asks c to pick a deck for card among samples, a map of existing
// deck names to example cards. The chosen deck is always placed under root.
func RouteDeck(ctx context.Context, c Completer, root string, card DeckCard, samples map[string][]string) (DeckChoice, error) {
	candidates, err := json.MarshalIndent(samples, "", "  ")
	if err != nil {
		return DeckChoice{}, fmt.Errorf("encoding deck samples: %w", err)
	}
	requested := card.Requested
	if requested == "" {
		requested = "Default"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Front: %s\nBack: %s\nRequested deck: %s\n\n", card.Front, card.Back, requested)
	fmt.Fprintf(&b, "Existing %s decks with sample cards:\n%s\n\n", root, candidates)
	fmt.Fprintf(&b, "Respond with JSON: {\"deck\": \"%s::...\", \"reason\": \"...\", \"preview\": [\"...\"]}", root)

	answer, err := c.Complete(ctx, fmt.Sprintf(deckRoutingPrompt, root), []Turn{{Role: RoleUser, Content: b.String()}})
	if err != nil {
		return DeckChoice{}, fmt.Errorf("routing deck: %w", err)
	}
	return parseDeckChoice(answer, root, requested)
}

func parseDeckChoice(answer, root, requested string) (DeckChoice, error) {
	raw := strings.TrimSpace(answer)
	if raw == "" {
		return DeckChoice{}, ErrNoDeck
	}
	if !gjson.Valid(raw) {
		start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}")
		if start < 0 || end <= start || !gjson.Valid(raw[start:end+1]) {
			return DeckChoice{}, fmt.Errorf("%w: %q", ErrNoDeck, answer)
		}
		raw = raw[start : end+1]
	}

	parsed := gjson.Parse(raw)
	if !parsed.IsObject() {
		return DeckChoice{}, fmt.Errorf("%w: %q", ErrNoDeck, answer)
	}
	deck := strings.TrimSpace(parsed.Get("deck").String())
	if deck == "" {
		deck = requested
	}
	choice := DeckChoice{
		Deck:   underRoot(deck, root),
		Reason: parsed.Get("reason").String(),
	}
	if choice.Reason == "" {
		choice.Reason = defaultDeckReason
	}
	for _, item := range parsed.Get("preview").Array() {
		if len(choice.Preview) == maxDeckPreview {
			break
		}
		if item.Type == gjson.String {
			choice.Preview = append(choice.Preview, strings.TrimSpace(item.Str))
		}
	}
	return choice, nil
}

func underRoot(deck, root string) string {
	deck = strings.Trim(deck, ": ")
	if deck == "" || deck == "Default" {
		return root
	}
	if root == "" || deck == root || strings.HasPrefix(deck, root+"::") {
		return deck
	}
	return root + "::" + deck
}
