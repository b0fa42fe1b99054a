// ABOUTME: Internal event algebra consumed by the conversation graph
// ABOUTME: NewMessage, Edit, Reaction, Redaction and Topic share a common Meta header

package ingest

// Kind names an event shape.
type Kind string

const (
	KindMessage   Kind = "message"
	KindEdit      Kind = "edit"
	KindReaction  Kind = "reaction"
	KindRedaction Kind = "redaction"
	KindTopic     Kind = "topic"
)

// Meta is the header every event carries.
type Meta struct {
	ID        string
	RoomID    string
	Sender    string
	Timestamp int64 // milliseconds since epoch, as reported by the homeserver
}

// Header returns the event header. It is promoted to every event type.
func (m Meta) Header() Meta { return m }

// Event is one of NewMessage, Edit, Reaction, Redaction or Topic.
type Event interface {
	Header() Meta
	Kind() Kind
}

// NewMessage is a text message. ReplyTo and ThreadRoot are optional.
type NewMessage struct {
	Meta
	Body       string
	ReplyTo    string
	ThreadRoot string
	// Redacted marks a message that was deleted before it was observed.
	Redacted bool
}

// Edit replaces the body of TargetID.
type Edit struct {
	Meta
	TargetID string
	NewBody  string
}

// Reaction annotates TargetID with Key.
type Reaction struct {
	Meta
	TargetID string
	Key      string
}

// Redaction deletes TargetID.
type Redaction struct {
	Meta
	TargetID string
	Reason   string
}

// Topic sets the room topic.
type Topic struct {
	Meta
	Topic string
}

func (NewMessage) Kind() Kind { return KindMessage }
func (Edit) Kind() Kind       { return KindEdit }
func (Reaction) Kind() Kind   { return KindReaction }
func (Redaction) Kind() Kind  { return KindRedaction }
func (Topic) Kind() Kind      { return KindTopic }
