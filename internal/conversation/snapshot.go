// ABOUTME: Deterministic structural view of a graph
// ABOUTME: Used to compare graphs built live with graphs rebuilt from history

package conversation

import (
	"cmp"
	"fmt"
	"slices"
	"strings"
)

// NodeView is the comparable state of a node.
type NodeView struct {
	ID           string
	Kind         Kind
	Sender       string
	Body         string
	Version      int
	ReplyTo      string
	ThreadParent string
	ThreadRoot   string
	ReplacedBy   string
	Target       string
	ReactionKey  string
	Reactions    []ReactionView
	Tombstoned   bool

	Proposal *ProposalView
}

// ReactionView lists the senders of one reaction key.
type ReactionView struct {
	Key     string
	Senders []string
}

// ProposalView is the comparable state of a proposal.
type ProposalView struct {
	Kind     string
	Status   string
	Origin   string
	RemoteID string
}

// Snapshot is a point-in-time copy of a graph.
type Snapshot struct {
	Room  string
	Bot   string
	Nodes []NodeView
}

// Snapshot copies the graph ordered by node id. Arrival order is left out
// because sends tracked from receipts and their echoes interleave differently
// from the homeserver's timeline.
func (g *Graph) Snapshot() Snapshot {
	s := Snapshot{Room: g.roomID, Bot: g.botID, Nodes: make([]NodeView, 0, len(g.order))}
	for _, id := range g.order {
		n := g.nodes[id]
		v := NodeView{
			ID:           n.ID,
			Kind:         n.Kind,
			Sender:       n.Sender,
			Body:         n.Body,
			Version:      n.Version,
			ReplyTo:      n.ReplyTo,
			ThreadParent: n.ThreadParent,
			ReplacedBy:   n.ReplacedBy,
			Target:       n.Target,
			ReactionKey:  n.ReactionKey,
			Tombstoned:   n.Tombstoned,
		}
		if n.Kind.IsMessage() {
			root, err := g.rootOf(n)
			if err == nil {
				v.ThreadRoot = root
			}
		}
		for _, key := range n.reactionKeys() {
			v.Reactions = append(v.Reactions, ReactionView{
				Key:     key,
				Senders: append([]string(nil), n.Reactions[key]...),
			})
		}
		if p := n.Proposal; p != nil {
			v.Proposal = &ProposalView{
				Kind:     string(p.Kind),
				Status:   p.Status.String(),
				Origin:   p.Origin,
				RemoteID: p.RemoteID,
			}
		}
		s.Nodes = append(s.Nodes, v)
	}
	slices.SortFunc(s.Nodes, func(a, b NodeView) int { return cmp.Compare(a.ID, b.ID) })
	return s
}

// String renders one line per node.
func (s Snapshot) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "room %s bot %s nodes %d\n", s.Room, s.Bot, len(s.Nodes))
	for _, n := range s.Nodes {
		fmt.Fprintf(&b, "%s %s sender=%s", n.ID, n.Kind, n.Sender)
		if n.ThreadRoot != "" {
			fmt.Fprintf(&b, " root=%s", n.ThreadRoot)
		}
		if n.ReplyTo != "" {
			fmt.Fprintf(&b, " reply=%s", n.ReplyTo)
		}
		if n.ThreadParent != "" {
			fmt.Fprintf(&b, " thread=%s", n.ThreadParent)
		}
		if n.Version > 0 {
			fmt.Fprintf(&b, " v=%d replaced_by=%s", n.Version, n.ReplacedBy)
		}
		if n.Target != "" {
			fmt.Fprintf(&b, " target=%s key=%q", n.Target, n.ReactionKey)
		}
		if n.Tombstoned {
			b.WriteString(" tombstoned")
		}
		for _, r := range n.Reactions {
			fmt.Fprintf(&b, " reaction[%s]=%s", r.Key, strings.Join(r.Senders, ","))
		}
		if p := n.Proposal; p != nil {
			fmt.Fprintf(&b, " proposal=%s/%s origin=%s", p.Kind, p.Status, p.Origin)
			if p.RemoteID != "" {
				fmt.Fprintf(&b, " remote=%s", p.RemoteID)
			}
		}
		if n.Body != "" {
			fmt.Fprintf(&b, " body=%q", n.Body)
		}
		b.WriteString("\n")
	}
	return b.String()
}
