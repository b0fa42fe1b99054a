// ABOUTME: Conversation graph reconstructed from a room's event stream
// ABOUTME: Idempotent ingestion of messages, edits, reactions and redactions

package conversation

import (
	"errors"
	"fmt"

	"github.com/2389/tool-bot/internal/ingest"
	"github.com/2389/tool-bot/internal/proposal"
)

var (
	// ErrMalformedRelation is returned for dangling targets and cycles.
	ErrMalformedRelation = errors.New("malformed relation")

	// ErrUnknownNode is returned when an operation names a node the graph
	// has never seen.
	ErrUnknownNode = errors.New("unknown node")

	// ErrProposalExists is returned when a node already carries a proposal.
	ErrProposalExists = errors.New("node already has a proposal")

	// ErrNotBotMessage is returned when attaching a proposal to a node the
	// bot did not send.
	ErrNotBotMessage = errors.New("not a bot message")
)

// RelationError describes why an event's relations were rejected.
type RelationError struct {
	EventID string
	Target  string
	Reason  string
}

func (e *RelationError) Error() string {
	return fmt.Sprintf("event %s: %s %s", e.EventID, e.Reason, e.Target)
}

func (e *RelationError) Unwrap() error { return ErrMalformedRelation }

// Result describes the effect of an ingested event.
type Result struct {
	Kind ingest.Kind

	// Affected lists the node ids the event touched. For a redaction it
	// holds the resolved target.
	Affected []string

	// Duplicate is set when the event was already applied.
	Duplicate bool

	// Conflict is set when a duplicate message id arrived with a different
	// body. The stored body is kept.
	Conflict bool

	// Withdrawn names the message whose edit a redaction removed. The
	// message itself is not redacted.
	Withdrawn string

	// Ignored explains why a well-formed event had no effect.
	Ignored string
}

// Graph is the conversation structure of one room.
type Graph struct {
	roomID string
	botID  string

	nodes    map[string]*Node
	order    []string
	children map[string][]string
	aliases  map[string]string
	seen     map[string]struct{}
}

// New creates an empty graph for a room. Messages sent by botID become bot
// nodes.
func New(roomID, botID string) *Graph {
	return &Graph{
		roomID:   roomID,
		botID:    botID,
		nodes:    make(map[string]*Node),
		children: make(map[string][]string),
		aliases:  make(map[string]string),
		seen:     make(map[string]struct{}),
	}
}

// RoomID returns the room the graph belongs to.
func (g *Graph) RoomID() string { return g.roomID }

// BotID returns the bot's own user id.
func (g *Graph) BotID() string { return g.botID }

// Len returns the number of nodes.
func (g *Graph) Len() int { return len(g.nodes) }

// Node returns the node with the given id, following edit aliases.
func (g *Graph) Node(id string) (*Node, bool) {
	n, ok := g.nodes[g.resolve(id)]
	return n, ok
}

// Seen reports whether an event id has been ingested.
func (g *Graph) Seen(id string) bool {
	_, ok := g.seen[id]
	return ok
}

// Children returns a copy of the direct children of id.
func (g *Graph) Children(id string) []string {
	return append([]string(nil), g.children[g.resolve(id)]...)
}

// Ingest applies an event. Applying the same event twice leaves the graph
// unchanged.
func (g *Graph) Ingest(ev ingest.Event) (Result, error) {
	switch e := ev.(type) {
	case ingest.NewMessage:
		return g.ingestMessage(e)
	case ingest.Edit:
		return g.ingestEdit(e)
	case ingest.Reaction:
		return g.ingestReaction(e)
	case ingest.Redaction:
		return g.ingestRedaction(e)
	case ingest.Topic:
		res := Result{Kind: ingest.KindTopic}
		if g.Seen(e.ID) {
			res.Duplicate = true
		}
		g.seen[e.ID] = struct{}{}
		return res, nil
	default:
		return Result{}, fmt.Errorf("event %T: %w", ev, ingest.ErrUnsupported)
	}
}

func (g *Graph) ingestMessage(m ingest.NewMessage) (Result, error) {
	replyTo := g.resolve(m.ReplyTo)
	threadParent := g.resolve(m.ThreadRoot)
	if threadParent == replyTo {
		threadParent = ""
	}

	if existing, ok := g.nodes[m.ID]; ok {
		if existing.Kind == KindReaction {
			return Result{}, &RelationError{EventID: m.ID, Reason: "id already used by reaction"}
		}
		if existing.ReplyTo != replyTo || existing.ThreadParent != threadParent {
			return Result{}, g.relationChange(m.ID, replyTo, threadParent)
		}
		res := Result{Kind: ingest.KindMessage, Affected: []string{m.ID}, Duplicate: true}
		if !m.Redacted && !existing.Tombstoned && existing.Version == 0 && existing.Body != m.Body {
			res.Conflict = true
		}
		return res, nil
	}

	for _, target := range []string{replyTo, threadParent} {
		if target == "" {
			continue
		}
		if target == m.ID {
			return Result{}, &RelationError{EventID: m.ID, Target: target, Reason: "relation to itself"}
		}
		t, ok := g.nodes[target]
		if !ok {
			return Result{}, &RelationError{EventID: m.ID, Target: target, Reason: "dangling relation to"}
		}
		if t.Kind == KindReaction {
			return Result{}, &RelationError{EventID: m.ID, Target: target, Reason: "relation to reaction"}
		}
	}

	kind := KindUserMessage
	if m.Sender == g.botID {
		kind = KindBotMessage
	}
	n := &Node{
		ID:           m.ID,
		Kind:         kind,
		Sender:       m.Sender,
		Timestamp:    m.Timestamp,
		Body:         m.Body,
		ReplyTo:      replyTo,
		ThreadParent: threadParent,
	}
	if m.Redacted {
		n.Body = ""
		n.Tombstoned = true
	}
	g.insert(n)
	return Result{Kind: ingest.KindMessage, Affected: []string{m.ID}}, nil
}

// relationChange builds the error for a known id arriving with different
// relations, naming a cycle when the new parent leads back to the node.
func (g *Graph) relationChange(id, replyTo, threadParent string) error {
	parent := replyTo
	if parent == "" {
		parent = threadParent
	}
	if parent == id || g.reaches(parent, id) {
		return &RelationError{EventID: id, Target: parent, Reason: "cycle through"}
	}
	return &RelationError{EventID: id, Target: parent, Reason: "relations changed to"}
}

// reaches reports whether walking parents from start arrives at id.
func (g *Graph) reaches(start, id string) bool {
	visited := make(map[string]struct{})
	for cur := start; cur != ""; {
		if cur == id {
			return true
		}
		if _, ok := visited[cur]; ok {
			return true
		}
		visited[cur] = struct{}{}
		n, ok := g.nodes[cur]
		if !ok {
			return false
		}
		cur = n.Parent()
	}
	return false
}

func (g *Graph) insert(n *Node) {
	g.nodes[n.ID] = n
	g.order = append(g.order, n.ID)
	g.seen[n.ID] = struct{}{}
	if n.ReplyTo != "" {
		g.children[n.ReplyTo] = append(g.children[n.ReplyTo], n.ID)
	}
	if n.ThreadParent != "" {
		g.children[n.ThreadParent] = append(g.children[n.ThreadParent], n.ID)
	}
}

func (g *Graph) ingestEdit(e ingest.Edit) (Result, error) {
	res := Result{Kind: ingest.KindEdit}
	if g.Seen(e.ID) {
		res.Duplicate = true
		return res, nil
	}

	targetID := g.resolve(e.TargetID)
	n, ok := g.nodes[targetID]
	if !ok {
		return Result{}, &RelationError{EventID: e.ID, Target: e.TargetID, Reason: "edit of unknown"}
	}
	g.seen[e.ID] = struct{}{}

	switch {
	case !n.Kind.IsMessage():
		res.Ignored = "target is not a message"
	case n.Tombstoned:
		res.Ignored = "target is redacted"
	case e.Sender != n.Sender:
		res.Ignored = "edit by another sender"
	}
	if res.Ignored != "" {
		return res, nil
	}

	g.aliases[e.ID] = targetID
	if !n.addRevision(e.ID, e.NewBody, e.Timestamp) {
		res.Ignored = "stale edit"
		return res, nil
	}
	res.Affected = []string{targetID}
	return res, nil
}

// EditTarget returns the message an edit event replaced.
func (g *Graph) EditTarget(editID string) (string, bool) {
	target, ok := g.aliases[editID]
	return target, ok
}

func (g *Graph) ingestReaction(r ingest.Reaction) (Result, error) {
	res := Result{Kind: ingest.KindReaction}
	if existing, ok := g.nodes[r.ID]; ok {
		if existing.Kind != KindReaction {
			return Result{}, &RelationError{EventID: r.ID, Reason: "id already used by message"}
		}
		res.Duplicate = true
		res.Affected = []string{r.ID, existing.Target}
		return res, nil
	}

	targetID := g.resolve(r.TargetID)
	target, ok := g.nodes[targetID]
	if !ok {
		return Result{}, &RelationError{EventID: r.ID, Target: r.TargetID, Reason: "reaction to unknown"}
	}

	g.insert(&Node{
		ID:          r.ID,
		Kind:        KindReaction,
		Sender:      r.Sender,
		Timestamp:   r.Timestamp,
		Target:      targetID,
		ReactionKey: r.Key,
	})
	target.addReaction(r.Key, r.Sender)
	res.Affected = []string{r.ID, targetID}
	return res, nil
}

func (g *Graph) ingestRedaction(d ingest.Redaction) (Result, error) {
	res := Result{Kind: ingest.KindRedaction}
	if g.Seen(d.ID) {
		res.Duplicate = true
		return res, nil
	}
	g.seen[d.ID] = struct{}{}

	if targetID, ok := g.aliases[d.TargetID]; ok {
		return g.withdrawEdit(res, d.TargetID, targetID), nil
	}

	targetID := d.TargetID
	n, ok := g.nodes[targetID]
	if !ok {
		res.Ignored = "unknown target"
		return res, nil
	}
	res.Affected = []string{targetID}

	if n.Kind == KindReaction && !n.Tombstoned {
		if target, ok := g.nodes[n.Target]; ok {
			target.removeReaction(n.ReactionKey, n.Sender)
		}
		n.Tombstoned = true
	}
	return res, nil
}

// withdrawEdit drops one edit of a message. When it was the newest, the
// message falls back to the previous edit or its original body.
func (g *Graph) withdrawEdit(res Result, editID, targetID string) Result {
	n := g.nodes[targetID]
	switch {
	case n.Tombstoned:
		res.Ignored = "target is redacted"
	case !n.withdrawRevision(editID):
		res.Ignored = "edit already withdrawn"
	default:
		res.Withdrawn = targetID
	}
	return res
}

// Tombstone marks a node as redacted and clears its body. Relations and any
// proposal are kept.
func (g *Graph) Tombstone(id string) error {
	n, ok := g.nodes[g.resolve(id)]
	if !ok {
		return fmt.Errorf("tombstone %s: %w", id, ErrUnknownNode)
	}
	n.Tombstoned = true
	n.Body = ""
	n.original = ""
	n.revisions = nil
	return nil
}

// AttachProposal records that a bot message presents p.
func (g *Graph) AttachProposal(id string, p *proposal.Proposal) error {
	n, ok := g.nodes[g.resolve(id)]
	if !ok {
		return fmt.Errorf("attach proposal to %s: %w", id, ErrUnknownNode)
	}
	if n.Kind != KindBotMessage {
		return fmt.Errorf("attach proposal to %s: %w", id, ErrNotBotMessage)
	}
	if n.Proposal != nil {
		return fmt.Errorf("attach proposal to %s: %w", id, ErrProposalExists)
	}
	n.Proposal = p
	return nil
}

// LatestEdit returns the current content of a message.
func (g *Graph) LatestEdit(id string) (Content, error) {
	n, ok := g.nodes[g.resolve(id)]
	if !ok {
		return Content{}, fmt.Errorf("latest edit of %s: %w", id, ErrUnknownNode)
	}
	return Content{Body: n.Body, Version: n.Version, ReplacedBy: n.ReplacedBy}, nil
}

// ResolveThreadRoot returns the first ancestor without a parent.
func (g *Graph) ResolveThreadRoot(id string) (string, error) {
	n, ok := g.nodes[g.resolve(id)]
	if !ok {
		return "", fmt.Errorf("thread root of %s: %w", id, ErrUnknownNode)
	}
	if n.threadRoot != "" {
		return n.threadRoot, nil
	}
	root, err := g.rootOf(n)
	if err != nil {
		return "", err
	}
	n.threadRoot = root
	return root, nil
}

func (g *Graph) rootOf(n *Node) (string, error) {
	visited := map[string]struct{}{n.ID: {}}
	cur := n
	for {
		if cur.threadRoot != "" {
			return cur.threadRoot, nil
		}
		parent := cur.Parent()
		if parent == "" {
			return cur.ID, nil
		}
		if _, ok := visited[parent]; ok {
			return "", &RelationError{EventID: n.ID, Target: parent, Reason: "cycle through"}
		}
		next, ok := g.nodes[parent]
		if !ok {
			return cur.ID, nil
		}
		visited[parent] = struct{}{}
		cur = next
	}
}

// ThreadContext is the ancestor chain of a message, oldest first.
type ThreadContext struct {
	Nodes []*Node

	// Truncated is set when the depth bound was reached before the root.
	Truncated bool
}

// ThreadContext collects id and its ancestors up to the thread root, keeping
// at most maxDepth nodes. A maxDepth of zero or less means no bound.
func (g *Graph) ThreadContext(id string, maxDepth int) (ThreadContext, error) {
	start, ok := g.nodes[g.resolve(id)]
	if !ok {
		return ThreadContext{}, fmt.Errorf("thread context of %s: %w", id, ErrUnknownNode)
	}

	var tc ThreadContext
	visited := make(map[string]struct{})
	for cur := start; cur != nil; {
		if maxDepth > 0 && len(tc.Nodes) == maxDepth {
			tc.Truncated = true
			break
		}
		if _, ok := visited[cur.ID]; ok {
			return ThreadContext{}, &RelationError{EventID: id, Target: cur.ID, Reason: "cycle through"}
		}
		visited[cur.ID] = struct{}{}
		tc.Nodes = append(tc.Nodes, cur)

		parent := cur.Parent()
		if parent == "" {
			break
		}
		cur = g.nodes[parent]
	}

	for i, j := 0, len(tc.Nodes)-1; i < j; i, j = i+1, j-1 {
		tc.Nodes[i], tc.Nodes[j] = tc.Nodes[j], tc.Nodes[i]
	}
	return tc, nil
}

// Descendants walks everything below id, breadth first.
func (g *Graph) Descendants(id string) *Walk {
	root := g.resolve(id)
	w := &Walk{g: g, visited: map[string]struct{}{root: {}}}
	w.enqueue(root)
	return w
}

// HasBotReply reports whether any bot message descends from id.
func (g *Graph) HasBotReply(id string) bool {
	w := g.Descendants(id)
	for {
		child, ok := w.Next()
		if !ok {
			return false
		}
		if g.nodes[child].Kind == KindBotMessage {
			return true
		}
	}
}

// Unanswered returns live user messages with no bot reply beneath them, in
// arrival order, limited to senders accepted by include.
func (g *Graph) Unanswered(include func(sender string) bool) []*Node {
	var out []*Node
	for _, id := range g.order {
		n := g.nodes[id]
		if n.Kind != KindUserMessage || n.Tombstoned {
			continue
		}
		if include != nil && !include(n.Sender) {
			continue
		}
		if !g.HasBotReply(id) {
			out = append(out, n)
		}
	}
	return out
}

// Proposals returns every node carrying a proposal, in arrival order.
func (g *Graph) Proposals() []*Node {
	var out []*Node
	for _, id := range g.order {
		if n := g.nodes[id]; n.Proposal != nil {
			out = append(out, n)
		}
	}
	return out
}

func (g *Graph) resolve(id string) string {
	if target, ok := g.aliases[id]; ok {
		return target
	}
	return id
}
