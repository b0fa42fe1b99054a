// ABOUTME: Invalidation rules applied when messages are redacted or edited
// ABOUTME: Computes redact and regenerate intents and tombstones nodes in the graph

// Package cascade decides what the bot must retract when a message it
// answered changes. Redacting a message retracts every bot reply beneath it;
// editing a message retracts the proposals it prompted that nobody approved
// and asks for a fresh answer.
package cascade

import (
	"github.com/2389/tool-bot/internal/conversation"
	"github.com/2389/tool-bot/internal/intent"
	"github.com/2389/tool-bot/internal/proposal"
)

const (
	// ReasonParentDeleted is attached to redactions of replies whose parent
	// was deleted.
	ReasonParentDeleted = "Parent message deleted"

	// ReasonOriginEdited is attached to redactions of proposals whose
	// prompting message was edited.
	ReasonOriginEdited = "Original message edited"
)

// Redaction tombstones targetID. When a user redacted it, every live bot
// message below it is redacted too, in breadth-first order. User messages
// below it are left alone. Pending proposals on tombstoned nodes are voided.
// Redacting an edit only withdraws that edit, so nothing cascades.
func Redaction(g *conversation.Graph, targetID, sender, botID string) []intent.Intent {
	if _, isEdit := g.EditTarget(targetID); isEdit {
		return nil
	}
	target, ok := g.Node(targetID)
	if !ok {
		return nil
	}
	targetID = target.ID

	if sender == botID {
		retire(g, target)
		return nil
	}

	// The descendant set is fixed before anything is tombstoned.
	descendants := g.Descendants(targetID).Collect()

	var out []intent.Intent
	for _, id := range descendants {
		n, _ := g.Node(id)
		if n.Kind != conversation.KindBotMessage || n.Tombstoned {
			continue
		}
		out = append(out, intent.Redact{RoomID: g.RoomID(), TargetID: id, Reason: ReasonParentDeleted})
		retire(g, n)
	}
	retire(g, target)
	return out
}

// retire tombstones n and voids its proposal if nobody approved it yet.
func retire(g *conversation.Graph, n *conversation.Node) {
	_ = g.Tombstone(n.ID)
	if n.Proposal != nil && n.Proposal.Status == proposal.StatusPending {
		_ = n.Proposal.Void()
	}
}

// Edit retracts the pending proposals directly answering targetID and asks
// for one regeneration with the edited body. Proposals that were already
// approved are left untouched.
func Edit(g *conversation.Graph, targetID, systemPrompt string) []intent.Intent {
	target, ok := g.Node(targetID)
	if !ok || target.Kind != conversation.KindUserMessage || target.Tombstoned {
		return nil
	}
	targetID = target.ID

	var out []intent.Intent
	for _, id := range g.Children(targetID) {
		n, _ := g.Node(id)
		if n.Kind != conversation.KindBotMessage || n.Tombstoned || n.Proposal == nil {
			continue
		}
		p := n.Proposal
		if p.Origin != targetID || p.Status != proposal.StatusPending {
			continue
		}
		out = append(out, intent.Redact{RoomID: g.RoomID(), TargetID: id, Reason: ReasonOriginEdited})
		retire(g, n)
	}

	return append(out, intent.Regenerate{
		RoomID:       g.RoomID(),
		OriginID:     targetID,
		Body:         target.Body,
		SystemPrompt: systemPrompt,
	})
}
