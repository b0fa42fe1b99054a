// ABOUTME: Outbound actions produced by the conversation engine
// ABOUTME: The room worker hands these to the transport dispatcher or handles them itself

// Package intent describes what the engine wants done in a room. Intents are
// plain values; the engine decides what to do and the transport decides how.
package intent

// Type names an intent.
type Type string

const (
	TypeSendMessage Type = "send_message"
	TypeRedact      Type = "redact"
	TypeReactionAck Type = "reaction_ack"
	TypeRegenerate  Type = "regenerate"
)

// Intent is one of SendMessage, Redact, ReactionAck or Regenerate.
type Intent interface {
	Type() Type
	Room() string
}

// SendMessage posts a text message, optionally as a reply inside a thread.
type SendMessage struct {
	RoomID     string
	Body       string
	ReplyTo    string
	ThreadRoot string
}

// Redact removes a message the bot sent.
type Redact struct {
	RoomID   string
	TargetID string
	Reason   string
}

// ReactionAck reacts to an event to show it was seen.
type ReactionAck struct {
	RoomID   string
	TargetID string
	Key      string
}

// Regenerate asks for a fresh answer to an edited message. It is handled by
// the room worker rather than the transport.
type Regenerate struct {
	RoomID       string
	OriginID     string
	Body         string
	SystemPrompt string
}

// Receipt is what the transport returns after dispatching an intent.
type Receipt struct {
	// EventID of the created event, when the intent created one.
	EventID string
}

func (SendMessage) Type() Type { return TypeSendMessage }
func (Redact) Type() Type      { return TypeRedact }
func (ReactionAck) Type() Type { return TypeReactionAck }
func (Regenerate) Type() Type  { return TypeRegenerate }

func (i SendMessage) Room() string { return i.RoomID }
func (i Redact) Room() string      { return i.RoomID }
func (i ReactionAck) Room() string { return i.RoomID }
func (i Regenerate) Room() string  { return i.RoomID }

// Target returns the event an intent refers to, if any.
func Target(i Intent) string {
	switch v := i.(type) {
	case SendMessage:
		return v.ReplyTo
	case Redact:
		return v.TargetID
	case ReactionAck:
		return v.TargetID
	case Regenerate:
		return v.OriginID
	}
	return ""
}
