// ABOUTME: Collaborator interfaces, dependencies and options for room workers
// ABOUTME: Includes the sender authorization policy

package room

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/intent"
	"github.com/2389/tool-bot/internal/llm"
	"github.com/2389/tool-bot/internal/metrics"
	"github.com/2389/tool-bot/internal/proposal"
	"github.com/2389/tool-bot/internal/search"
	"github.com/2389/tool-bot/internal/store"
)

var (
	// ErrClosed is returned once the registry stopped accepting events.
	ErrClosed = errors.New("registry closed")

	// ErrUnknownRoom is returned by Inspect for rooms without a worker.
	ErrUnknownRoom = errors.New("unknown room")

	// ErrCollaboratorUnavailable wraps failures of the language model or an
	// executor.
	ErrCollaboratorUnavailable = errors.New("collaborator unavailable")
)

// Dispatcher performs intents against the homeserver.
type Dispatcher interface {
	Dispatch(ctx context.Context, in intent.Intent) (intent.Receipt, error)
}

// History returns up to limit recent events of a room, oldest first.
type History interface {
	Recent(ctx context.Context, roomID string, limit int) ([]ingest.Event, error)
}

// PromptSource returns the current system prompt of a room. An empty prompt
// selects the default.
type PromptSource interface {
	SystemPrompt(ctx context.Context, roomID string) (string, error)
}

// Executor performs the remote create call of an approved proposal and
// returns the id of the created object.
type Executor interface {
	Execute(ctx context.Context, p *proposal.Proposal) (string, error)
}

// Searcher runs the web searches the model asks for.
type Searcher interface {
	Search(ctx context.Context, query string, limit int) ([]search.Result, error)
}

// DeckSource lists the decks flashcards can be routed into, with sample
// cards from each. anki.Client satisfies it.
type DeckSource interface {
	DeckRoot() string
	DeckSamples(ctx context.Context, sampleSize int) (map[string][]string, error)
}

// Recorder receives audit records. store.Ledger satisfies it.
type Recorder interface {
	RecordIntent(ctx context.Context, r *store.IntentRecord) error
	RecordProposal(ctx context.Context, r *store.ProposalRecord) error
}

// Deps are the collaborators shared by all rooms. Only BotID is required.
// Completer defaults to Proposer when it can complete prompts. Searcher and
// Decks are optional.
type Deps struct {
	BotID      string
	Proposer   llm.Proposer
	Completer  llm.Completer
	Searcher   Searcher
	Decks      DeckSource
	Executors  map[proposal.Kind]Executor
	Dispatcher Dispatcher
	History    History
	Prompts    PromptSource
	Recorder   Recorder
	Metrics    *metrics.Metrics
	Policy     Policy
	Logger     *slog.Logger
}

// Options tune room workers.
type Options struct {
	// BackfillLimit bounds how many history events are replayed when a room
	// starts. Zero disables backfill.
	BackfillLimit int

	// ContextDepth bounds the thread context handed to the model.
	ContextDepth int

	// RespondToPending answers unanswered authorized messages after backfill.
	RespondToPending bool

	// AckReactions reacts with 👀 to approvals before executing them.
	AckReactions bool

	// ExecTimeout bounds each executor call.
	ExecTimeout time.Duration

	// DefaultPrompt is used when a room has no topic.
	DefaultPrompt string

	// ReplayOnly applies every event in replay mode.
	ReplayOnly bool

	// DeckSamples bounds the example cards per deck shown to the model when
	// routing a flashcard.
	DeckSamples int
}

// AckKey is the reaction used to acknowledge an approval.
const AckKey = "👀"

const (
	defaultExecTimeout = 30 * time.Second
	defaultDeckSamples = 10
)

// Policy decides which senders the bot acts for.
type Policy struct {
	allowed map[string]struct{}
}

// NewPolicy allows the given user ids. An empty list allows everyone.
func NewPolicy(allowed []string) Policy {
	if len(allowed) == 0 {
		return Policy{}
	}
	p := Policy{allowed: make(map[string]struct{}, len(allowed))}
	for _, id := range allowed {
		p.allowed[id] = struct{}{}
	}
	return p
}

// Authorized reports whether the bot acts on sender's messages and
// approvals.
func (p Policy) Authorized(sender string) bool {
	if p.allowed == nil {
		return true
	}
	_, ok := p.allowed[sender]
	return ok
}
