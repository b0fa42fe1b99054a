// Package ingest turns raw chat protocol events into the small event algebra
// the conversation engine understands.
//
// # Overview
//
// Matrix delivers a wide variety of event types, most of which the engine has
// no interest in. The ingestor narrows them to five shapes:
//
//   - NewMessage: a text message, possibly replying to or threaded under
//     another message
//   - Edit: a replacement of an earlier message's body (m.replace)
//   - Reaction: an annotation on an earlier event (m.annotation)
//   - Redaction: a deletion of an earlier event
//   - Topic: a change of the room topic, which carries the system prompt
//
// Anything else is reported as ErrUnsupported so callers can skip it cleanly.
//
// # Redacted History
//
// Events fetched from history that were redacted before the bot saw them
// still carry their relations but no content. FromMatrix reports such
// messages as a NewMessage with Redacted set, so the graph can keep the node
// as a tombstone and descendants still resolve.
//
// # Event Logs
//
// ReadLog and WriteLog encode events as JSON lines. The replay command uses
// them to feed a recorded stream back through the engine without a
// homeserver.
package ingest
