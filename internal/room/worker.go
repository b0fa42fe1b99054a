// ABOUTME: Per-room worker applying events to the graph in arrival order
// ABOUTME: Handles backfill replay, pending catch-up and per-kind event handling

package room

import (
	"context"
	"errors"
	"log/slog"

	"go.opentelemetry.io/otel/trace"

	"github.com/2389/tool-bot/internal/cascade"
	"github.com/2389/tool-bot/internal/conversation"
	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/intent"
	"github.com/2389/tool-bot/internal/llm"
	"github.com/2389/tool-bot/internal/proposal"
)

type worker struct {
	roomID string
	deps   *Deps
	opts   *Options
	logger *slog.Logger
	graph  *conversation.Graph
	q      *queue
	tracer trace.Tracer

	prompt string

	// live holds side effects suppressed while replaying history, keyed by
	// event id.
	live map[string]func(context.Context)
}

func (w *worker) run(ctx context.Context) {
	w.loadPrompt(ctx)
	w.backfill(ctx)
	if w.opts.RespondToPending && !w.opts.ReplayOnly {
		w.catchUp(ctx)
	}

	for {
		it, ok := w.q.pop()
		if !ok {
			w.logger.Info("room stopped", "nodes", w.graph.Len())
			return
		}
		if it.fn != nil {
			it.fn(w.graph)
			close(it.done)
			continue
		}
		w.deps.Metrics.Queued(-1)
		w.apply(ctx, it.ev, w.opts.ReplayOnly)
	}
}

func (w *worker) loadPrompt(ctx context.Context) {
	w.prompt = w.defaultPrompt()
	if w.deps.Prompts == nil || w.opts.ReplayOnly {
		return
	}
	prompt, err := w.deps.Prompts.SystemPrompt(ctx, w.roomID)
	if err != nil {
		w.logger.Warn("could not load room prompt, using default", "error", err)
		return
	}
	w.setPrompt(prompt)
}

func (w *worker) defaultPrompt() string {
	if w.opts.DefaultPrompt != "" {
		return w.opts.DefaultPrompt
	}
	return llm.DefaultSystemPrompt
}

func (w *worker) setPrompt(prompt string) {
	if prompt == "" {
		prompt = w.defaultPrompt()
	}
	w.prompt = prompt
}

// backfill replays recent history. Events already waiting in the queue are
// skipped so that the live copy drives side effects.
func (w *worker) backfill(ctx context.Context) {
	if w.deps.History == nil || w.opts.BackfillLimit <= 0 {
		return
	}

	events, err := w.deps.History.Recent(ctx, w.roomID, w.opts.BackfillLimit)
	if err != nil {
		w.logger.Error("backfill failed", "error", err)
		return
	}

	queued := w.q.pendingIDs()
	skipped := 0
	for _, ev := range events {
		if _, ok := queued[ev.Header().ID]; ok {
			skipped++
			continue
		}
		w.apply(ctx, ev, true)
	}

	for _, n := range w.graph.Proposals() {
		if n.Proposal.Status == proposal.StatusApproved {
			w.logger.Warn("approved proposal has no recorded outcome", "event_id", n.ID)
		}
	}
	w.logger.Info("backfill complete", "events", len(events), "skipped", skipped, "nodes", w.graph.Len())
}

// catchUp answers authorized messages that have no bot reply.
func (w *worker) catchUp(ctx context.Context) {
	pending := w.graph.Unanswered(w.deps.Policy.Authorized)
	if len(pending) == 0 {
		return
	}
	w.logger.Info("answering pending messages", "count", len(pending))
	for _, n := range pending {
		w.respond(ctx, n.ID, w.prompt)
	}
}

// apply ingests one event and reacts to it. Errors are logged, never
// returned.
func (w *worker) apply(ctx context.Context, ev ingest.Event, replay bool) {
	kind := string(ev.Kind())
	logger := w.logger.With("event_id", ev.Header().ID, "kind", kind)

	res, err := w.graph.Ingest(ev)
	if err != nil {
		if errors.Is(err, conversation.ErrMalformedRelation) {
			logger.Warn("dropping event with malformed relation", "error", err)
		} else {
			logger.Error("ingest failed", "error", err)
		}
		w.deps.Metrics.Event(kind, "rejected")
		return
	}
	if res.Duplicate {
		if fn, ok := w.live[ev.Header().ID]; ok && !replay {
			delete(w.live, ev.Header().ID)
			logger.Info("handling live delivery of backfilled event")
			w.deps.Metrics.Event(kind, "applied")
			fn(ctx)
			return
		}
		if res.Conflict {
			logger.Warn("duplicate event with different body, keeping stored body")
		}
		w.deps.Metrics.Event(kind, "duplicate")
		return
	}
	if res.Ignored != "" {
		logger.Debug("event ignored", "reason", res.Ignored)
		w.deps.Metrics.Event(kind, "ignored")
		return
	}
	w.deps.Metrics.Event(kind, "applied")

	switch e := ev.(type) {
	case ingest.NewMessage:
		w.onMessage(ctx, e, replay)
	case ingest.Edit:
		w.onEdit(ctx, e.ID, res.Affected[0], replay)
	case ingest.Reaction:
		w.onReaction(ctx, e, res.Affected[1], replay)
	case ingest.Redaction:
		if res.Withdrawn != "" {
			logger.Info("edit withdrawn", "message", res.Withdrawn)
		}
		if len(res.Affected) > 0 {
			w.onRedaction(ctx, e, res.Affected[0], replay)
		}
	case ingest.Topic:
		w.setPrompt(e.Topic)
		logger.Info("room prompt updated")
	}
}

func (w *worker) onMessage(ctx context.Context, m ingest.NewMessage, replay bool) {
	n, _ := w.graph.Node(m.ID)
	if n.Kind == conversation.KindBotMessage {
		w.restore(n)
		return
	}
	if n.Tombstoned || !w.deps.Policy.Authorized(n.Sender) {
		return
	}
	if replay {
		w.deferLive(n.ID, func(ctx context.Context) {
			if !n.Tombstoned && !w.graph.HasBotReply(n.ID) {
				w.respond(ctx, n.ID, w.prompt)
			}
		})
		return
	}
	w.respond(ctx, n.ID, w.prompt)
}

// deferLive keeps side effects suppressed during replay. They run if the
// same event is later delivered live, which happens for events sent while
// history was being fetched.
func (w *worker) deferLive(id string, fn func(context.Context)) {
	if w.opts.ReplayOnly {
		return
	}
	if w.live == nil {
		w.live = make(map[string]func(context.Context))
	}
	w.live[id] = fn
}

// restore rebuilds proposal state from a bot message found in history: a
// rendered proposal attaches a Pending proposal, and a confirmation or
// failure reply sets the outcome of the proposal it answers.
func (w *worker) restore(n *conversation.Node) {
	if n.Tombstoned {
		return
	}
	if d, ok := proposal.Parse(n.Body); ok {
		p := proposal.New(n.ID, n.Parent(), d)
		if err := w.graph.AttachProposal(n.ID, p); err != nil {
			w.logger.Warn("could not restore proposal", "event_id", n.ID, "error", err)
		}
		return
	}
	if o, ok := proposal.ParseOutcome(n.Body); ok {
		parent, ok := w.graph.Node(n.Parent())
		if !ok || parent.Proposal == nil {
			return
		}
		parent.Proposal.Restore(o)
	}
}

func (w *worker) onEdit(ctx context.Context, editID, targetID string, replay bool) {
	n, _ := w.graph.Node(targetID)
	if n.Kind != conversation.KindUserMessage || !w.deps.Policy.Authorized(n.Sender) {
		return
	}
	if replay {
		w.deferLive(editID, func(ctx context.Context) {
			if n.ReplacedBy == editID && !n.Tombstoned {
				w.invalidate(ctx, targetID)
			}
		})
		return
	}
	w.invalidate(ctx, targetID)
}

// invalidate retracts the pending proposals of an edited message and answers
// its new body.
func (w *worker) invalidate(ctx context.Context, targetID string) {
	for _, in := range cascade.Edit(w.graph, targetID, w.prompt) {
		switch v := in.(type) {
		case intent.Regenerate:
			w.respond(ctx, v.OriginID, v.SystemPrompt)
		default:
			w.retract(ctx, in)
		}
	}
}

func (w *worker) onRedaction(ctx context.Context, d ingest.Redaction, targetID string, replay bool) {
	target, _ := w.graph.Node(targetID)
	if target.Kind == conversation.KindReaction {
		return
	}

	intents := cascade.Redaction(w.graph, targetID, d.Sender, w.deps.BotID)
	if replay {
		if len(intents) > 0 {
			w.deferLive(d.ID, func(ctx context.Context) {
				for _, in := range intents {
					w.retract(ctx, in)
				}
			})
		}
		return
	}
	for _, in := range intents {
		w.retract(ctx, in)
	}
}

func (w *worker) retract(ctx context.Context, in intent.Intent) {
	w.dispatch(ctx, in)
	w.recordRetired(ctx, intent.Target(in))
}

func (w *worker) onReaction(ctx context.Context, r ingest.Reaction, targetID string, replay bool) {
	target, _ := w.graph.Node(targetID)
	p := target.Proposal
	if p == nil || target.Tombstoned || r.Sender == w.deps.BotID {
		return
	}
	if !proposal.IsApproval(r.Key) || !w.deps.Policy.Authorized(r.Sender) {
		return
	}

	if err := p.Approve(r.Sender, r.ID); err != nil {
		w.logger.Debug("approval ignored", "event_id", r.ID, "proposal", target.ID, "error", err)
		return
	}
	w.logger.Info("proposal approved", "proposal", target.ID, "kind", p.Kind, "by", r.Sender)
	w.recordProposal(ctx, p)
	if replay {
		w.deferLive(r.ID, func(ctx context.Context) {
			if p.Status == proposal.StatusApproved && p.ApprovalEvent == r.ID && !target.Tombstoned {
				w.carryOut(ctx, target)
			}
		})
		return
	}
	w.carryOut(ctx, target)
}

// carryOut acknowledges an approval and executes the proposal.
func (w *worker) carryOut(ctx context.Context, target *conversation.Node) {
	if w.opts.AckReactions {
		w.dispatch(ctx, intent.ReactionAck{RoomID: w.roomID, TargetID: target.ID, Key: AckKey})
	}
	w.execute(ctx, target)
}
