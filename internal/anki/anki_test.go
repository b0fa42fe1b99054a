// ABOUTME: Tests for the AnkiConnect client against a fake server
// ABOUTME: Covers note models, deck placement, deck samples, error propagation and sync

package anki

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/tool-bot/internal/proposal"
)

type fakeAnki struct {
	mu       sync.Mutex
	requests []map[string]any
	addError string
}

func (f *fakeAnki) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	var req map[string]any
	_ = json.NewDecoder(r.Body).Decode(&req)

	f.mu.Lock()
	f.requests = append(f.requests, req)
	f.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	switch req["action"] {
	case "deckNames":
		_ = json.NewEncoder(w).Encode(map[string]any{
			"result": []string{"Default", "Active::Bot", "Active::Bot::Geography", "Active::Botany"}, "error": nil,
		})
	case "findNotes":
		query := req["params"].(map[string]any)["query"]
		ids := []int{}
		if query == `deck:"Active::Bot::Geography"` {
			ids = []int{1, 2, 3}
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": ids, "error": nil})
	case "notesInfo":
		_ = json.NewEncoder(w).Encode(map[string]any{"result": []map[string]any{
			{"fields": map[string]any{"Front": map[string]any{"value": "Capital of France?"}, "Back": map[string]any{"value": "Paris"}}},
			{"fields": map[string]any{"Text": map[string]any{"value": "{{c1::Denver}} is in Colorado"}, "Back Extra": map[string]any{"value": ""}}},
		}, "error": nil})
	case "addNote":
		if f.addError != "" {
			_ = json.NewEncoder(w).Encode(map[string]any{"result": nil, "error": f.addError})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"result": 1496198395707, "error": nil})
	default:
		_ = json.NewEncoder(w).Encode(map[string]any{"result": nil, "error": nil})
	}
}

func (f *fakeAnki) actions() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, r := range f.requests {
		out = append(out, r["action"].(string))
	}
	return out
}

func (f *fakeAnki) note(t *testing.T) map[string]any {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, r := range f.requests {
		if r["action"] == "addNote" {
			return r["params"].(map[string]any)["note"].(map[string]any)
		}
	}
	t.Fatal("no addNote request")
	return nil
}

func flashcard(t *testing.T, args map[string]any) *proposal.Proposal {
	t.Helper()
	d, err := proposal.NewDraft(proposal.KindFlashcard, args)
	require.NoError(t, err)
	return proposal.New("$bot", "$user", d)
}

func newTestClient(t *testing.T, fake *fakeAnki, sync bool) *Client {
	t.Helper()
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	return New(Options{URL: srv.URL, DeckRoot: "Active::Bot", Sync: sync})
}

func TestExecute_Basic(t *testing.T) {
	fake := &fakeAnki{}
	c := newTestClient(t, fake, false)

	id, err := c.Execute(context.Background(), flashcard(t, map[string]any{
		"card_type": "basic",
		"front":     "Capital of Colorado?",
		"back":      "Denver",
		"deck":      "Geography",
		"tags":      []any{"us"},
	}))
	require.NoError(t, err)
	assert.Equal(t, "1496198395707", id)
	assert.Equal(t, []string{"createDeck", "addNote"}, fake.actions())

	note := fake.note(t)
	assert.Equal(t, "Active::Bot::Geography", note["deckName"])
	assert.Equal(t, "Basic", note["modelName"])
	assert.Equal(t, map[string]any{"Front": "Capital of Colorado?", "Back": "Denver", "Source": "tool-bot"}, note["fields"])
	assert.Equal(t, []any{"us"}, note["tags"])
	assert.Equal(t, false, note["options"].(map[string]any)["allowDuplicate"])
}

func TestExecute_ClozeAndSync(t *testing.T) {
	fake := &fakeAnki{}
	c := newTestClient(t, fake, true)

	_, err := c.Execute(context.Background(), flashcard(t, map[string]any{
		"card_type": "cloze",
		"front":     "{{c1::Denver}} is the capital of Colorado",
	}))
	require.NoError(t, err)
	assert.Equal(t, []string{"createDeck", "addNote", "sync"}, fake.actions())

	note := fake.note(t)
	assert.Equal(t, "Cloze", note["modelName"])
	assert.Equal(t, "Active::Bot", note["deckName"])
	assert.Equal(t, "{{c1::Denver}} is the capital of Colorado", note["fields"].(map[string]any)["Text"])
}

func TestExecute_AnkiError(t *testing.T) {
	fake := &fakeAnki{addError: "cannot create note because it is a duplicate"}
	c := newTestClient(t, fake, false)

	_, err := c.Execute(context.Background(), flashcard(t, map[string]any{"front": "f", "back": "b"}))
	require.ErrorIs(t, err, ErrAnkiConnect)
	assert.Contains(t, err.Error(), "duplicate")
}

func TestExecute_UnsupportedCard(t *testing.T) {
	c := New(Options{URL: "http://127.0.0.1:1", DeckRoot: "Active::Bot"})
	_, err := c.Execute(context.Background(), flashcard(t, map[string]any{"card_type": "image-occlusion"}))
	assert.ErrorIs(t, err, ErrUnsupportedCard)
}

func TestDeckFor(t *testing.T) {
	c := New(Options{DeckRoot: "Active::Bot"})
	assert.Equal(t, "Active::Bot", c.DeckFor(""))
	assert.Equal(t, "Active::Bot", c.DeckFor("Default"))
	assert.Equal(t, "Active::Bot::Spanish", c.DeckFor("Spanish"))
	assert.Equal(t, "Active::Bot::Spanish", c.DeckFor("Active::Bot::Spanish"))

	bare := New(Options{})
	assert.Equal(t, "Spanish", bare.DeckFor("Spanish"))
}

func TestDeckSamples(t *testing.T) {
	fake := &fakeAnki{}
	client := newTestClient(t, fake, false)

	samples, err := client.DeckSamples(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, map[string][]string{
		"Active::Bot": {},
		"Active::Bot::Geography": {
			"Capital of France? → Paris",
			"{{c1::Denver}} is in Colorado → ",
		},
	}, samples)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	for _, r := range fake.requests {
		if r["action"] == "notesInfo" {
			assert.Len(t, r["params"].(map[string]any)["notes"], 2)
		}
	}
}
