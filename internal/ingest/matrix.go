// ABOUTME: Normalizes mautrix events into the internal event algebra
// ABOUTME: Handles replies, threads, replacements, annotations, redactions and topic changes

package ingest

import (
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix/event"
)

// ErrUnsupported is returned for events the engine does not model.
var ErrUnsupported = errors.New("unsupported event")

var supportedTypes = []event.Type{
	event.EventMessage,
	event.EventReaction,
	event.EventRedaction,
	event.StateTopic,
}

// FromMatrix converts a Matrix event into an Event. Content that has not been
// parsed yet (history responses) is parsed in place.
func FromMatrix(evt *event.Event) (Event, error) {
	if evt == nil {
		return nil, fmt.Errorf("nil event: %w", ErrUnsupported)
	}

	meta := Meta{
		ID:        evt.ID.String(),
		RoomID:    evt.RoomID.String(),
		Sender:    evt.Sender.String(),
		Timestamp: evt.Timestamp,
	}
	redacted := evt.Unsigned.RedactedBecause != nil

	// History responses do not always carry the event class, so match on the
	// type string and parse with the canonical type.
	var canonical event.Type
	for _, t := range supportedTypes {
		if evt.Type.Type == t.Type {
			canonical = t
			break
		}
	}
	if canonical.Type == "" {
		return nil, fmt.Errorf("%s: %w", evt.Type.Type, ErrUnsupported)
	}

	if evt.Content.Parsed == nil && len(evt.Content.VeryRaw) > 0 {
		if err := evt.Content.ParseRaw(canonical); err != nil && !errors.Is(err, event.ErrContentAlreadyParsed) {
			return nil, fmt.Errorf("parsing %s content: %w", canonical.Type, err)
		}
	}

	switch canonical {
	case event.EventMessage:
		content, ok := evt.Content.Parsed.(*event.MessageEventContent)
		if !ok {
			if redacted {
				return NewMessage{Meta: meta, Redacted: true}, nil
			}
			return nil, fmt.Errorf("message without content: %w", ErrUnsupported)
		}
		return fromMessage(meta, content, redacted)

	case event.EventReaction:
		content, ok := evt.Content.Parsed.(*event.ReactionEventContent)
		if !ok || redacted {
			return nil, fmt.Errorf("reaction without content: %w", ErrUnsupported)
		}
		return Reaction{
			Meta:     meta,
			TargetID: content.RelatesTo.EventID.String(),
			Key:      content.RelatesTo.Key,
		}, nil

	case event.EventRedaction:
		target := evt.Redacts.String()
		var reason string
		if content, ok := evt.Content.Parsed.(*event.RedactionEventContent); ok {
			if target == "" {
				target = content.Redacts.String()
			}
			reason = content.Reason
		}
		if target == "" {
			return nil, fmt.Errorf("redaction without target: %w", ErrUnsupported)
		}
		return Redaction{Meta: meta, TargetID: target, Reason: reason}, nil

	default:
		content, ok := evt.Content.Parsed.(*event.TopicEventContent)
		if !ok {
			return Topic{Meta: meta}, nil
		}
		return Topic{Meta: meta, Topic: content.Topic}, nil
	}
}

func fromMessage(meta Meta, content *event.MessageEventContent, redacted bool) (Event, error) {
	rel := content.RelatesTo

	if rel != nil && rel.Type == event.RelReplace && rel.EventID != "" {
		body := strings.TrimPrefix(content.Body, "* ")
		if content.NewContent != nil {
			body = content.NewContent.Body
		}
		return Edit{Meta: meta, TargetID: rel.EventID.String(), NewBody: body}, nil
	}

	switch content.MsgType {
	case event.MsgText, event.MsgNotice, event.MsgEmote, "":
	default:
		return nil, fmt.Errorf("msgtype %s: %w", content.MsgType, ErrUnsupported)
	}

	msg := NewMessage{Meta: meta, Body: content.Body, Redacted: redacted}
	if redacted {
		msg.Body = ""
	}
	if rel != nil {
		if rel.Type == event.RelThread {
			msg.ThreadRoot = rel.EventID.String()
		}
		// A thread fallback reply only points at the latest thread event for
		// clients without thread support.
		if rel.InReplyTo != nil && !(rel.Type == event.RelThread && rel.IsFallingBack) {
			msg.ReplyTo = rel.InReplyTo.EventID.String()
		}
	}
	if msg.ReplyTo == msg.ThreadRoot {
		msg.ThreadRoot = ""
	}
	return msg, nil
}
