// ABOUTME: Node type for the conversation graph and its reaction bookkeeping
// ABOUTME: Nodes are never removed; redaction turns them into tombstones

package conversation

import (
	"slices"
	"sort"

	"github.com/2389/tool-bot/internal/proposal"
)

// Kind distinguishes what a node represents.
type Kind int

const (
	KindUserMessage Kind = iota
	KindBotMessage
	KindReaction
)

func (k Kind) String() string {
	switch k {
	case KindUserMessage:
		return "user"
	case KindBotMessage:
		return "bot"
	case KindReaction:
		return "reaction"
	default:
		return "unknown"
	}
}

// IsMessage reports whether the node is a user or bot message.
func (k Kind) IsMessage() bool {
	return k == KindUserMessage || k == KindBotMessage
}

// Node is a message or reaction in a room.
type Node struct {
	ID        string
	Kind      Kind
	Sender    string
	Timestamp int64

	Body     string
	Version  int
	EditedAt int64

	ReplyTo      string
	ThreadParent string
	ReplacedBy   string

	// Target and ReactionKey are set on reaction nodes only.
	Target      string
	ReactionKey string

	// Reactions maps a key to the senders who reacted with it, in arrival
	// order.
	Reactions map[string][]string

	Proposal   *proposal.Proposal
	Tombstoned bool

	threadRoot string

	// original is the body before the first edit; revisions holds the
	// edits still in effect, oldest first.
	original  string
	revisions []revision

	// reactionEvents counts live reaction events per key and sender.
	reactionEvents map[reactionSender]int
}

type revision struct {
	id   string
	body string
	at   int64
}

type reactionSender struct {
	key    string
	sender string
}

// Parent is the node's single structural parent.
func (n *Node) Parent() string {
	if n.ReplyTo != "" {
		return n.ReplyTo
	}
	return n.ThreadParent
}

// ReactedWith reports whether sender reacted with key.
func (n *Node) ReactedWith(key, sender string) bool {
	return slices.Contains(n.Reactions[key], sender)
}

func (n *Node) addReaction(key, sender string) {
	if n.reactionEvents == nil {
		n.reactionEvents = make(map[reactionSender]int)
	}
	n.reactionEvents[reactionSender{key, sender}]++
	if n.ReactedWith(key, sender) {
		return
	}
	if n.Reactions == nil {
		n.Reactions = make(map[string][]string)
	}
	n.Reactions[key] = append(n.Reactions[key], sender)
}

// removeReaction drops one reaction event. The sender stays listed while
// another of their reactions with the same key is live.
func (n *Node) removeReaction(key, sender string) {
	rs := reactionSender{key, sender}
	if n.reactionEvents[rs] > 1 {
		n.reactionEvents[rs]--
		return
	}
	delete(n.reactionEvents, rs)

	senders := n.Reactions[key]
	idx := slices.Index(senders, sender)
	if idx < 0 {
		return
	}
	senders = slices.Delete(senders, idx, idx+1)
	if len(senders) == 0 {
		delete(n.Reactions, key)
		return
	}
	n.Reactions[key] = senders
}

// addRevision records an edit and reports whether it is now the current
// content. An edit no newer than the current one is kept in case the newer
// edit is withdrawn later.
func (n *Node) addRevision(id, body string, at int64) bool {
	if len(n.revisions) == 0 {
		n.original = n.Body
	}
	i := sort.Search(len(n.revisions), func(i int) bool { return n.revisions[i].at >= at })
	n.revisions = slices.Insert(n.revisions, i, revision{id: id, body: body, at: at})
	if i != len(n.revisions)-1 {
		return false
	}
	n.applyLatest()
	return true
}

// withdrawRevision removes an edit and reports whether it was recorded.
func (n *Node) withdrawRevision(id string) bool {
	i := slices.IndexFunc(n.revisions, func(r revision) bool { return r.id == id })
	if i < 0 {
		return false
	}
	current := i == len(n.revisions)-1
	n.revisions = slices.Delete(n.revisions, i, i+1)
	if current {
		n.applyLatest()
	}
	return true
}

func (n *Node) applyLatest() {
	n.Version++
	if len(n.revisions) == 0 {
		n.Body, n.EditedAt, n.ReplacedBy = n.original, 0, ""
		return
	}
	last := n.revisions[len(n.revisions)-1]
	n.Body, n.EditedAt, n.ReplacedBy = last.body, last.at, last.id
}

func (n *Node) reactionKeys() []string {
	keys := make([]string, 0, len(n.Reactions))
	for k := range n.Reactions {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Content is the current body of a message.
type Content struct {
	Body       string
	Version    int
	ReplacedBy string
}
