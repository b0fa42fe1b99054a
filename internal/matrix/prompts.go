// ABOUTME: Room topics as system prompts
// ABOUTME: Reads the current topic and seeds the default topic in rooms without one

package matrix

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"maunium.net/go/mautrix"
	"maunium.net/go/mautrix/event"
	"maunium.net/go/mautrix/id"
)

// permissionNotice is posted when the bot cannot set the default topic.
const permissionNotice = "I don't have permission to set the room topic. " +
	"Set a topic to give me a custom system prompt, otherwise I use my default one."

// Prompts reads system prompts from room topics.
type Prompts struct {
	client *mautrix.Client
}

// NewPrompts creates a topic-backed prompt source.
func NewPrompts(client *mautrix.Client) *Prompts {
	return &Prompts{client: client}
}

// SystemPrompt returns the topic of roomID, or "" when the room has none.
func (p *Prompts) SystemPrompt(ctx context.Context, roomID string) (string, error) {
	var content event.TopicEventContent
	err := p.client.StateEvent(ctx, id.RoomID(roomID), event.StateTopic, "", &content)
	if errors.Is(err, mautrix.MNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading topic of %s: %w", roomID, err)
	}
	return strings.TrimSpace(content.Topic), nil
}

// EnsureTopic sets topic on roomID when the room has no topic yet. When the
// bot lacks permission it tells the room instead.
func (p *Prompts) EnsureTopic(ctx context.Context, roomID, topic string) error {
	if topic == "" {
		return nil
	}
	current, err := p.SystemPrompt(ctx, roomID)
	if err != nil {
		return err
	}
	if current != "" {
		return nil
	}

	_, err = p.client.SendStateEvent(ctx, id.RoomID(roomID), event.StateTopic, "", &event.TopicEventContent{Topic: topic})
	if errors.Is(err, mautrix.MForbidden) {
		if _, sendErr := p.client.SendNotice(ctx, id.RoomID(roomID), permissionNotice); sendErr != nil {
			return fmt.Errorf("sending permission notice to %s: %w", roomID, sendErr)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("setting topic of %s: %w", roomID, err)
	}
	return nil
}
