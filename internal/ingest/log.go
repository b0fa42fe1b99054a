// ABOUTME: JSON lines codec for recorded event streams
// ABOUTME: Used by the replay command and tests to feed events without a homeserver

package ingest

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"strings"
)

// record is the flat on-disk shape of an event.
type record struct {
	Type       Kind   `json:"type"`
	ID         string `json:"id"`
	Room       string `json:"room"`
	Sender     string `json:"sender"`
	Timestamp  int64  `json:"ts,omitempty"`
	Body       string `json:"body,omitempty"`
	ReplyTo    string `json:"reply_to,omitempty"`
	ThreadRoot string `json:"thread_root,omitempty"`
	Redacted   bool   `json:"redacted,omitempty"`
	Target     string `json:"target,omitempty"`
	Key        string `json:"key,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Topic      string `json:"topic,omitempty"`
}

func toRecord(ev Event) record {
	h := ev.Header()
	r := record{Type: ev.Kind(), ID: h.ID, Room: h.RoomID, Sender: h.Sender, Timestamp: h.Timestamp}
	switch e := ev.(type) {
	case NewMessage:
		r.Body, r.ReplyTo, r.ThreadRoot, r.Redacted = e.Body, e.ReplyTo, e.ThreadRoot, e.Redacted
	case Edit:
		r.Target, r.Body = e.TargetID, e.NewBody
	case Reaction:
		r.Target, r.Key = e.TargetID, e.Key
	case Redaction:
		r.Target, r.Reason = e.TargetID, e.Reason
	case Topic:
		r.Topic = e.Topic
	}
	return r
}

func (r record) event() (Event, error) {
	meta := Meta{ID: r.ID, RoomID: r.Room, Sender: r.Sender, Timestamp: r.Timestamp}
	if r.ID == "" || r.Room == "" {
		return nil, fmt.Errorf("event requires id and room")
	}
	switch r.Type {
	case KindMessage:
		return NewMessage{Meta: meta, Body: r.Body, ReplyTo: r.ReplyTo, ThreadRoot: r.ThreadRoot, Redacted: r.Redacted}, nil
	case KindEdit:
		return Edit{Meta: meta, TargetID: r.Target, NewBody: r.Body}, nil
	case KindReaction:
		return Reaction{Meta: meta, TargetID: r.Target, Key: r.Key}, nil
	case KindRedaction:
		return Redaction{Meta: meta, TargetID: r.Target, Reason: r.Reason}, nil
	case KindTopic:
		return Topic{Meta: meta, Topic: r.Topic}, nil
	default:
		return nil, fmt.Errorf("event type %q: %w", r.Type, ErrUnsupported)
	}
}

// ReadLog decodes one event per line. Blank lines and lines starting with #
// are skipped.
func ReadLog(r io.Reader) ([]Event, error) {
	var events []Event
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)

	line := 0
	for scanner.Scan() {
		line++
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		var rec record
		if err := json.Unmarshal([]byte(text), &rec); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ev, err := rec.event()
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		events = append(events, ev)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("reading event log: %w", err)
	}
	return events, nil
}

// WriteLog encodes events as JSON lines.
func WriteLog(w io.Writer, events []Event) error {
	enc := json.NewEncoder(w)
	for _, ev := range events {
		if err := enc.Encode(toRecord(ev)); err != nil {
			return fmt.Errorf("encoding event %s: %w", ev.Header().ID, err)
		}
	}
	return nil
}
