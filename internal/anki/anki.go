// ABOUTME: AnkiConnect client that turns approved flashcard proposals into notes
// ABOUTME: Supports basic, basic-reversed and cloze cards under a fixed deck root, and samples its decks

// Package anki creates flashcards through the AnkiConnect add-on's HTTP API.
package anki

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/2389/tool-bot/internal/proposal"
)

const (
	apiVersion   = 6
	sourceField  = "tool-bot"
	defaultDeck  = "Default"
	maxErrorBody = 512
)

var (
	// ErrAnkiConnect wraps errors reported by AnkiConnect itself.
	ErrAnkiConnect = errors.New("anki-connect error")

	// ErrUnsupportedCard is returned for unknown card types.
	ErrUnsupportedCard = errors.New("unsupported card type")
)

// Client talks to AnkiConnect.
type Client struct {
	url      string
	deckRoot string
	sync     bool
	http     *http.Client
	logger   *slog.Logger
}

// Options configures a Client.
type Options struct {
	URL      string
	DeckRoot string
	// Sync triggers an AnkiWeb sync after each created note.
	Sync       bool
	HTTPClient *http.Client
	Logger     *slog.Logger
}

// New creates a client.
func New(opts Options) *Client {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	httpClient := opts.HTTPClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	return &Client{
		url:      opts.URL,
		deckRoot: opts.DeckRoot,
		sync:     opts.Sync,
		http:     httpClient,
		logger:   logger.With("component", "anki"),
	}
}

type request struct {
	Action  string `json:"action"`
	Version int    `json:"version"`
	Params  any    `json:"params,omitempty"`
}

type response struct {
	Result json.RawMessage `json:"result"`
	Error  *string         `json:"error"`
}

func (c *Client) invoke(ctx context.Context, action string, params any, result any) error {
	body, err := json.Marshal(request{Action: action, Version: apiVersion, Params: params})
	if err != nil {
		return fmt.Errorf("encoding %s: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building %s request: %w", action, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("anki-connect %s: %w", action, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return fmt.Errorf("anki-connect %s: status %d: %s", action, resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out response
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("decoding %s response: %w", action, err)
	}
	if out.Error != nil && *out.Error != "" {
		return fmt.Errorf("%s: %w: %s", action, ErrAnkiConnect, *out.Error)
	}
	if result != nil && len(out.Result) > 0 {
		if err := json.Unmarshal(out.Result, result); err != nil {
			return fmt.Errorf("decoding %s result: %w", action, err)
		}
	}
	return nil
}

// CreateDeck creates a deck if it does not exist.
func (c *Client) CreateDeck(ctx context.Context, deck string) error {
	return c.invoke(ctx, "createDeck", map[string]string{"deck": deck}, nil)
}

// Note is a note to add.
type Note struct {
	Deck   string
	Model  string
	Fields map[string]string
	Tags   []string
}

// AddNote creates the deck if needed and adds a note, returning its id.
func (c *Client) AddNote(ctx context.Context, n Note) (int64, error) {
	if err := c.CreateDeck(ctx, n.Deck); err != nil {
		c.logger.Warn("failed to create deck", "deck", n.Deck, "error", err)
	}

	tags := n.Tags
	if tags == nil {
		tags = []string{}
	}
	params := map[string]any{
		"note": map[string]any{
			"deckName":  n.Deck,
			"modelName": n.Model,
			"fields":    n.Fields,
			"tags":      tags,
			"options": map[string]any{
				"allowDuplicate": false,
				"duplicateScope": "deck",
			},
		},
	}

	var noteID int64
	if err := c.invoke(ctx, "addNote", params, &noteID); err != nil {
		return 0, err
	}
	c.logger.Info("created note", "note_id", noteID, "deck", n.Deck, "model", n.Model)
	return noteID, nil
}

// Sync asks Anki to sync with AnkiWeb.
func (c *Client) Sync(ctx context.Context) error {
	return c.invoke(ctx, "sync", nil, nil)
}

// DeckFor places a deck under the configured root.
func (c *Client) DeckFor(deck string) string {
	if c.deckRoot == "" {
		return deck
	}
	if deck == "" || deck == defaultDeck {
		return c.deckRoot
	}
	if strings.HasPrefix(deck, c.deckRoot) {
		return deck
	}
	return c.deckRoot + "::" + deck
}

// DeckRoot is the deck every created note lands under.
func (c *Client) DeckRoot() string {
	return c.deckRoot
}

type noteInfo struct {
	Fields map[string]struct {
		Value string `json:"value"`
	} `json:"fields"`
}

// DeckSamples returns up to sampleSize example cards for every deck under the
// root, keyed by deck name. Each sample reads "front → back".
func (c *Client) DeckSamples(ctx context.Context, sampleSize int) (map[string][]string, error) {
	var names []string
	if err := c.invoke(ctx, "deckNames", nil, &names); err != nil {
		return nil, err
	}

	samples := make(map[string][]string)
	for _, deck := range names {
		if c.deckRoot != "" && deck != c.deckRoot && !strings.HasPrefix(deck, c.deckRoot+"::") {
			continue
		}
		var ids []int64
		query := fmt.Sprintf("deck:%q", deck)
		if err := c.invoke(ctx, "findNotes", map[string]string{"query": query}, &ids); err != nil {
			return nil, err
		}
		if len(ids) > sampleSize {
			ids = ids[:sampleSize]
		}
		cards := []string{}
		if len(ids) > 0 {
			var infos []noteInfo
			if err := c.invoke(ctx, "notesInfo", map[string]any{"notes": ids}, &infos); err != nil {
				return nil, err
			}
			for _, info := range infos {
				front, back := info.Fields["Front"].Value, info.Fields["Back"].Value
				if front == "" {
					front, back = info.Fields["Text"].Value, info.Fields["Back Extra"].Value
				}
				cards = append(cards, front+" → "+back)
			}
		}
		samples[deck] = cards
	}
	return samples, nil
}

// NoteFor builds the note for a flashcard proposal.
func (c *Client) NoteFor(p *proposal.Proposal) (Note, error) {
	n := Note{
		Deck: c.DeckFor(p.Arg("deck")),
		Tags: p.ArgStrings("tags"),
	}
	switch cardType := p.Arg("card_type"); cardType {
	case "", "basic":
		n.Model = "Basic"
		n.Fields = map[string]string{"Front": p.Arg("front"), "Back": p.Arg("back"), "Source": sourceField}
	case "basic-reversed":
		n.Model = "Basic (and reversed card)"
		n.Fields = map[string]string{"Front": p.Arg("front"), "Back": p.Arg("back"), "Source": sourceField}
	case "cloze":
		n.Model = "Cloze"
		n.Fields = map[string]string{"Text": p.Arg("front"), "Back Extra": p.Arg("back"), "Source": sourceField}
	default:
		return Note{}, fmt.Errorf("%q: %w", cardType, ErrUnsupportedCard)
	}
	return n, nil
}

// Execute creates the flashcard an approved proposal describes and returns
// the note id.
func (c *Client) Execute(ctx context.Context, p *proposal.Proposal) (string, error) {
	if p.Kind != proposal.KindFlashcard {
		return "", fmt.Errorf("anki cannot execute %s proposals", p.Kind)
	}
	note, err := c.NoteFor(p)
	if err != nil {
		return "", err
	}
	noteID, err := c.AddNote(ctx, note)
	if err != nil {
		return "", err
	}
	if c.sync {
		if err := c.Sync(ctx); err != nil {
			c.logger.Warn("anki sync failed", "error", err)
		}
	}
	return strconv.FormatInt(noteID, 10), nil
}
