// ABOUTME: Test doubles for room collaborators: homeserver, model, search and executors
// ABOUTME: The fake homeserver logs every event so it can be replayed as history

package room

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/2389/tool-bot/internal/conversation"
	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/intent"
	"github.com/2389/tool-bot/internal/llm"
	"github.com/2389/tool-bot/internal/proposal"
	"github.com/2389/tool-bot/internal/search"
)

const (
	testRoom = "!room:example.org"
	testBot  = "@bot:example.org"
	alice    = "@alice:example.org"
	mallory  = "@mallory:example.org"
)

// fakeServer plays the homeserver. It assigns ids to intents, appends the
// resulting events to its timeline and optionally echoes them back.
type fakeServer struct {
	mu       sync.Mutex
	timeline []ingest.Event
	intents  []intent.Intent
	next     int
	clock    int64
	echo     *Registry
	fail     map[intent.Type]error

	historyGate chan struct{}
}

func (s *fakeServer) tick() int64 {
	s.clock++
	return s.clock
}

func (s *fakeServer) record(ev ingest.Event) {
	s.timeline = append(s.timeline, ev)
}

func (s *fakeServer) Dispatch(ctx context.Context, in intent.Intent) (intent.Receipt, error) {
	s.mu.Lock()
	if err := s.fail[in.Type()]; err != nil {
		s.mu.Unlock()
		return intent.Receipt{}, err
	}
	s.intents = append(s.intents, in)
	s.next++
	id := fmt.Sprintf("$bot%d", s.next)
	meta := ingest.Meta{ID: id, RoomID: in.Room(), Sender: testBot, Timestamp: s.tick()}

	var ev ingest.Event
	switch v := in.(type) {
	case intent.SendMessage:
		ev = ingest.NewMessage{Meta: meta, Body: v.Body, ReplyTo: v.ReplyTo, ThreadRoot: v.ThreadRoot}
	case intent.Redact:
		ev = ingest.Redaction{Meta: meta, TargetID: v.TargetID, Reason: v.Reason}
	case intent.ReactionAck:
		ev = ingest.Reaction{Meta: meta, TargetID: v.TargetID, Key: v.Key}
	}
	if ev != nil {
		s.record(ev)
	}
	echo := s.echo
	s.mu.Unlock()

	if echo != nil && ev != nil {
		_ = echo.Dispatch(ctx, ev)
	}
	return intent.Receipt{EventID: id}, nil
}

func (s *fakeServer) Recent(ctx context.Context, roomID string, limit int) ([]ingest.Event, error) {
	if s.historyGate != nil {
		select {
		case <-s.historyGate:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	events := s.timeline
	if len(events) > limit {
		events = events[len(events)-limit:]
	}
	return append([]ingest.Event(nil), events...), nil
}

func (s *fakeServer) sent() []intent.Intent {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]intent.Intent(nil), s.intents...)
}

func (s *fakeServer) sentOfType(typ intent.Type) []intent.Intent {
	var out []intent.Intent
	for _, in := range s.sent() {
		if in.Type() == typ {
			out = append(out, in)
		}
	}
	return out
}

func (s *fakeServer) history() []ingest.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]ingest.Event(nil), s.timeline...)
}

// fakeProposer answers with a scripted function.
type fakeProposer struct {
	mu      sync.Mutex
	calls   [][]llm.Turn
	prompts []string
	answer  func(turns []llm.Turn) (llm.Reply, error)
	block   chan struct{}
}

func (p *fakeProposer) Propose(ctx context.Context, systemPrompt string, turns []llm.Turn) (llm.Reply, error) {
	if p.block != nil {
		<-p.block
	}
	p.mu.Lock()
	p.calls = append(p.calls, turns)
	p.prompts = append(p.prompts, systemPrompt)
	answer := p.answer
	p.mu.Unlock()

	if answer == nil {
		return llm.Reply{Text: "ok"}, nil
	}
	return answer(turns)
}

func (p *fakeProposer) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.calls)
}

// fakeExecutor counts calls and returns a fixed id or error.
type fakeExecutor struct {
	mu       sync.Mutex
	calls    []string
	keys     []string
	remoteID string
	err      error
}

func (e *fakeExecutor) Execute(ctx context.Context, p *proposal.Proposal) (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := ctx.Deadline(); !ok {
		return "", errors.New("executor called without deadline")
	}
	e.calls = append(e.calls, p.NodeID)
	e.keys = append(e.keys, p.RequestKey())
	return e.remoteID, e.err
}

func (e *fakeExecutor) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.calls)
}

func cityCards(turns []llm.Turn) (llm.Reply, error) {
	var drafts []proposal.Draft
	for _, city := range []string{"NYC", "Denver"} {
		d, err := proposal.NewDraft(proposal.KindFlashcard, map[string]any{
			"card_type": "basic",
			"front":     "Where is " + city + "?",
			"back":      city,
			"deck":      "Geography",
		})
		if err != nil {
			return llm.Reply{}, err
		}
		drafts = append(drafts, d)
	}
	return llm.Reply{Drafts: drafts}, nil
}

type harness struct {
	t        *testing.T
	reg      *Registry
	server   *fakeServer
	proposer *fakeProposer
	executor *fakeExecutor
	clock    int64
}

func newHarness(t *testing.T, opts Options, mutate func(*Deps)) *harness {
	t.Helper()
	h := &harness{
		t:        t,
		server:   &fakeServer{},
		proposer: &fakeProposer{answer: cityCards},
		executor: &fakeExecutor{remoteID: "1496198395707"},
	}
	deps := Deps{
		BotID:      testBot,
		Proposer:   h.proposer,
		Executors:  map[proposal.Kind]Executor{proposal.KindFlashcard: h.executor},
		Dispatcher: h.server,
		History:    h.server,
		Policy:     NewPolicy([]string{alice}),
	}
	if mutate != nil {
		mutate(&deps)
	}
	h.reg = NewRegistry(deps, opts)
	t.Cleanup(h.reg.Close)
	return h
}

// post delivers a user event as the homeserver would: into the timeline and
// to the registry.
func (h *harness) post(ev ingest.Event) {
	h.t.Helper()
	h.server.mu.Lock()
	h.server.record(ev)
	h.server.mu.Unlock()
	require.NoError(h.t, h.reg.Dispatch(context.Background(), ev))
}

// settle waits until the room processed everything queued so far, including
// echoes produced while doing so.
func (h *harness) settle() {
	h.t.Helper()
	for i := 0; i < 3; i++ {
		h.inspect(func(*conversation.Graph) {})
	}
}

func (h *harness) inspect(fn func(g *conversation.Graph)) {
	h.t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(h.t, h.reg.Inspect(ctx, testRoom, fn))
}

func (h *harness) snapshot() conversation.Snapshot {
	var s conversation.Snapshot
	h.inspect(func(g *conversation.Graph) { s = g.Snapshot() })
	return s
}

func (h *harness) node(id string) conversation.NodeView {
	h.t.Helper()
	for _, n := range h.snapshot().Nodes {
		if n.ID == id {
			return n
		}
	}
	h.t.Fatalf("node %s not found", id)
	return conversation.NodeView{}
}

func (h *harness) meta(id, sender string) ingest.Meta {
	h.clock++
	return ingest.Meta{ID: id, RoomID: testRoom, Sender: sender, Timestamp: 1000 + h.clock}
}

func (h *harness) message(id, sender, body, replyTo string) ingest.NewMessage {
	return ingest.NewMessage{Meta: h.meta(id, sender), Body: body, ReplyTo: replyTo}
}

// fakeCompleter answers tool-free prompts with a scripted function.
type fakeCompleter struct {
	mu      sync.Mutex
	prompts []string
	inputs  []string
	answer  func(systemPrompt, input string) (string, error)
}

func (c *fakeCompleter) Complete(ctx context.Context, systemPrompt string, turns []llm.Turn) (string, error) {
	c.mu.Lock()
	c.prompts = append(c.prompts, systemPrompt)
	c.inputs = append(c.inputs, turns[len(turns)-1].Content)
	answer := c.answer
	c.mu.Unlock()
	return answer(systemPrompt, turns[len(turns)-1].Content)
}

// fakeSearcher returns canned results per query; unknown queries fail.
type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	results map[string][]search.Result
}

func (s *fakeSearcher) Search(ctx context.Context, query string, limit int) ([]search.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queries = append(s.queries, query)
	res, ok := s.results[query]
	if !ok {
		return nil, search.ErrNoResults
	}
	if len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// fakeDecks lists decks under Active::Bot.
type fakeDecks struct {
	mu      sync.Mutex
	calls   int
	samples map[string][]string
	err     error
}

func (d *fakeDecks) DeckRoot() string { return "Active::Bot" }

func (d *fakeDecks) DeckSamples(ctx context.Context, sampleSize int) (map[string][]string, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls++
	return d.samples, d.err
}
