// ABOUTME: Side effects of a room worker: generation, execution and dispatch
// ABOUTME: Sent messages become bot nodes immediately from the dispatch receipt

package room

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/2389/tool-bot/internal/conversation"
	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/intent"
	"github.com/2389/tool-bot/internal/llm"
	"github.com/2389/tool-bot/internal/proposal"
	"github.com/2389/tool-bot/internal/search"
	"github.com/2389/tool-bot/internal/store"
)

// respond asks the model about originID and posts its answer and proposals
// as replies.
func (w *worker) respond(ctx context.Context, originID, systemPrompt string) {
	if w.deps.Proposer == nil {
		w.logger.Debug("no language model configured, not responding", "event_id", originID)
		return
	}

	tc, err := w.graph.ThreadContext(originID, w.opts.ContextDepth)
	if err != nil {
		w.logger.Warn("could not build thread context", "event_id", originID, "error", err)
		return
	}

	ctx, span := w.tracer.Start(ctx, "room.respond", trace.WithAttributes(
		attribute.String("room", w.roomID),
		attribute.String("event_id", originID),
		attribute.Int("turns", len(tc.Nodes)),
	))
	defer span.End()

	started := time.Now()
	reply, err := w.deps.Proposer.Propose(ctx, systemPrompt, turns(tc.Nodes))
	w.deps.Metrics.Collaborator("llm", started, err)
	if err != nil {
		err = fmt.Errorf("%w: %v", ErrCollaboratorUnavailable, err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		w.logger.Error("generation failed", "event_id", originID, "error", err)
		w.send(ctx, originID, "❌ Error: "+err.Error())
		return
	}
	span.SetAttributes(attribute.Int("drafts", len(reply.Drafts)), attribute.Int("searches", len(reply.Searches)))

	if reply.Text != "" {
		w.send(ctx, originID, reply.Text)
	}
	var (
		decks   map[string][]string
		sampled bool
	)
	for _, d := range reply.Drafts {
		if d.Kind == proposal.KindFlashcard && w.routesDecks() {
			if !sampled {
				decks, sampled = w.deckSamples(ctx), true
			}
			routed, ok := w.routeDeck(ctx, originID, d, decks)
			if !ok {
				continue
			}
			d = routed
		}
		id := w.send(ctx, originID, proposal.Render(d))
		if id == "" {
			continue
		}
		p := proposal.New(id, originID, d)
		if err := w.graph.AttachProposal(id, p); err != nil {
			w.logger.Error("could not attach proposal", "event_id", id, "error", err)
			continue
		}
		w.logger.Info("proposal offered", "proposal", id, "kind", d.Kind, "origin", originID)
		w.recordProposal(ctx, p)
	}
	if len(reply.Searches) > 0 {
		w.webSearch(ctx, originID, reply.Searches)
	}
}

// completer is the model used for tool-free prompts.
func (w *worker) completer() llm.Completer {
	if w.deps.Completer != nil {
		return w.deps.Completer
	}
	c, _ := w.deps.Proposer.(llm.Completer)
	return c
}

func (w *worker) routesDecks() bool {
	return w.deps.Decks != nil && w.completer() != nil
}

// deckSamples lists the routable decks. A failure leaves the model without
// candidates rather than blocking the card.
func (w *worker) deckSamples(ctx context.Context) map[string][]string {
	size := w.opts.DeckSamples
	if size <= 0 {
		size = defaultDeckSamples
	}
	started := time.Now()
	samples, err := w.deps.Decks.DeckSamples(ctx, size)
	w.deps.Metrics.Collaborator("anki", started, err)
	if err != nil {
		w.logger.Warn("could not fetch deck samples", "error", err)
		return map[string][]string{}
	}
	return samples
}

// routeDeck asks the model where a flashcard belongs. On failure it tells the
// room and the card is not proposed.
func (w *worker) routeDeck(ctx context.Context, originID string, d proposal.Draft, decks map[string][]string) (proposal.Draft, bool) {
	card := llm.DeckCard{Front: d.Arg("front"), Back: d.Arg("back"), Requested: d.Arg("deck")}

	started := time.Now()
	choice, err := llm.RouteDeck(ctx, w.completer(), w.deps.Decks.DeckRoot(), card, decks)
	w.deps.Metrics.Collaborator("llm", started, err)
	if err != nil {
		w.logger.Warn("deck routing failed", "event_id", originID, "front", card.Front, "error", err)
		w.send(ctx, originID, fmt.Sprintf("❌ Failed to choose deck for flashcard via LLM.\nFront: %s\nBack: %s\nError: %v",
			card.Front, card.Back, err))
		return proposal.Draft{}, false
	}
	w.logger.Debug("deck routed", "event_id", originID, "deck", choice.Deck, "reason", choice.Reason)
	return d.With("deck", choice.Deck), true
}

// webSearch posts a placeholder, runs the searches and answers from their
// results in a reply to the placeholder.
func (w *worker) webSearch(ctx context.Context, originID string, searches []llm.Search) {
	if w.deps.Searcher == nil {
		w.logger.Warn("model asked for a web search but search is disabled", "event_id", originID)
		return
	}

	ctx, span := w.tracer.Start(ctx, "room.web_search", trace.WithAttributes(
		attribute.String("room", w.roomID),
		attribute.String("event_id", originID),
		attribute.Int("queries", len(searches)),
	))
	defer span.End()

	queries := make([]string, 0, len(searches))
	for _, s := range searches {
		queries = append(queries, s.Query)
	}
	replyTo := w.send(ctx, originID, search.Placeholder(queries))
	if replyTo == "" {
		replyTo = originID
	}

	outcomes := make([]search.Outcome, 0, len(searches))
	for _, s := range searches {
		started := time.Now()
		results, err := w.deps.Searcher.Search(ctx, s.Query, s.MaxResults)
		w.deps.Metrics.Collaborator("search", started, err)
		if err != nil {
			w.logger.Warn("web search failed", "query", s.Query, "error", err)
		}
		outcomes = append(outcomes, search.Outcome{Query: s.Query, Results: results, Err: err})
	}

	w.send(ctx, replyTo, w.synthesize(ctx, outcomes))
}

func (w *worker) synthesize(ctx context.Context, outcomes []search.Outcome) string {
	if !search.Usable(outcomes) {
		return "❌ All web searches failed or returned no usable results."
	}
	c := w.completer()
	if c == nil {
		return "❌ Failed to process search results: no language model configured"
	}

	started := time.Now()
	text, err := c.Complete(ctx, search.SystemPrompt, []llm.Turn{{Role: llm.RoleUser, Content: search.Prompt(outcomes)}})
	w.deps.Metrics.Collaborator("llm", started, err)
	if err != nil {
		w.logger.Error("search extraction failed", "error", err)
		return "❌ Failed to process search results: " + err.Error()
	}
	if strings.TrimSpace(text) == "" {
		return "Could not extract information from the search results."
	}
	return search.Answer(text, search.Sources(outcomes))
}

// turns converts thread context into model turns.
func turns(nodes []*conversation.Node) []llm.Turn {
	out := make([]llm.Turn, 0, len(nodes))
	for _, n := range nodes {
		if n.Tombstoned || n.Body == "" {
			continue
		}
		role := llm.RoleUser
		if n.Kind == conversation.KindBotMessage {
			role = llm.RoleAssistant
		}
		out = append(out, llm.Turn{Role: role, Content: n.Body})
	}
	return out
}

// execute runs the executor of an approved proposal and reports the outcome
// as a reply to the proposal. The remote call is not canceled by shutdown of
// the worker once started; it is bounded by ExecTimeout instead.
func (w *worker) execute(ctx context.Context, n *conversation.Node) {
	p := n.Proposal
	if err := p.Begin(); err != nil {
		w.logger.Error("could not begin execution", "proposal", n.ID, "error", err)
		return
	}
	w.recordProposal(ctx, p)

	exec := w.deps.Executors[p.Kind]
	if exec == nil {
		reason := fmt.Sprintf("%s integration is disabled", p.Kind)
		_ = p.Fail(reason)
		w.finish(ctx, n, proposal.FailureBody(reason))
		return
	}

	ectx, cancel := context.WithTimeout(context.WithoutCancel(ctx), w.opts.ExecTimeout)
	defer cancel()
	ectx, span := w.tracer.Start(ectx, "room.execute", trace.WithAttributes(
		attribute.String("room", w.roomID),
		attribute.String("proposal", n.ID),
		attribute.String("kind", string(p.Kind)),
	))

	started := time.Now()
	remoteID, err := exec.Execute(ectx, p)
	w.deps.Metrics.Collaborator(string(p.Kind), started, err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "execution failed")
		span.End()
		w.logger.Error("execution failed", "proposal", n.ID, "error", fmt.Errorf("%w: %w", ErrCollaboratorUnavailable, err))
		_ = p.Fail(err.Error())
		w.finish(ctx, n, proposal.FailureBody(err.Error()))
		return
	}
	span.End()

	_ = p.Succeed(remoteID)
	w.logger.Info("proposal executed", "proposal", n.ID, "remote_id", remoteID)
	w.finish(ctx, n, proposal.Confirmation(p.Kind, remoteID))
}

func (w *worker) finish(ctx context.Context, n *conversation.Node, body string) {
	w.recordProposal(ctx, n.Proposal)
	w.send(ctx, n.ID, body)
}

// send posts body as a reply to replyTo, inside its thread when it has one,
// and inserts the sent message into the graph. It returns the new event id,
// or "" when sending failed.
func (w *worker) send(ctx context.Context, replyTo, body string) string {
	var thread string
	if parent, ok := w.graph.Node(replyTo); ok {
		thread = parent.ThreadParent
	}

	rcpt, err := w.dispatch(ctx, intent.SendMessage{
		RoomID:     w.roomID,
		Body:       body,
		ReplyTo:    replyTo,
		ThreadRoot: thread,
	})
	if err != nil || rcpt.EventID == "" {
		return ""
	}

	_, err = w.graph.Ingest(ingest.NewMessage{
		Meta: ingest.Meta{
			ID:        rcpt.EventID,
			RoomID:    w.roomID,
			Sender:    w.deps.BotID,
			Timestamp: time.Now().UnixMilli(),
		},
		Body:       body,
		ReplyTo:    replyTo,
		ThreadRoot: thread,
	})
	if err != nil {
		w.logger.Error("could not track sent message", "event_id", rcpt.EventID, "error", err)
		return ""
	}
	return rcpt.EventID
}

// dispatch hands an intent to the transport and records it.
func (w *worker) dispatch(ctx context.Context, in intent.Intent) (intent.Receipt, error) {
	if w.deps.Dispatcher == nil {
		return intent.Receipt{}, fmt.Errorf("no dispatcher for %s", in.Type())
	}

	rcpt, err := w.deps.Dispatcher.Dispatch(ctx, in)
	w.deps.Metrics.Intent(string(in.Type()), err)

	rec := &store.IntentRecord{
		RoomID:  w.roomID,
		Type:    string(in.Type()),
		Target:  intent.Target(in),
		EventID: rcpt.EventID,
	}
	switch v := in.(type) {
	case intent.SendMessage:
		rec.Body = v.Body
	case intent.Redact:
		rec.Reason = v.Reason
	case intent.ReactionAck:
		rec.Body = v.Key
	}
	if err != nil {
		rec.Error = err.Error()
		w.logger.Error("dispatch failed", "type", in.Type(), "target", rec.Target, "error", err)
	}
	if w.deps.Recorder != nil {
		if rerr := w.deps.Recorder.RecordIntent(ctx, rec); rerr != nil {
			w.logger.Warn("could not record intent", "error", rerr)
		}
	}
	return rcpt, err
}

// recordRetired records the proposal of a node retracted by a cascade.
func (w *worker) recordRetired(ctx context.Context, id string) {
	if n, ok := w.graph.Node(id); ok && n.Proposal != nil {
		w.recordProposal(ctx, n.Proposal)
	}
}

func (w *worker) recordProposal(ctx context.Context, p *proposal.Proposal) {
	w.deps.Metrics.Proposal(string(p.Kind), p.Status.String())
	if w.deps.Recorder == nil {
		return
	}
	rec := &store.ProposalRecord{
		NodeID:     p.NodeID,
		RoomID:     w.roomID,
		Origin:     p.Origin,
		Kind:       string(p.Kind),
		Status:     p.Status.String(),
		ApprovedBy: p.ApprovedBy,
		RemoteID:   p.RemoteID,
		Failure:    p.Failure,
		Args:       p.Args.AsMap(),
	}
	if err := w.deps.Recorder.RecordProposal(ctx, rec); err != nil {
		w.logger.Warn("could not record proposal", "proposal", p.NodeID, "error", err)
	}
}
