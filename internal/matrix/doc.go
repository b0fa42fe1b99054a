// Package matrix connects tool-bot to a Matrix homeserver.
//
// # Overview
//
// The package owns everything that talks to the homeserver through mautrix:
//
//   - Connect logs in with a password or reuses an access token.
//   - SetupCrypto enables end-to-end encryption with a sqlite crypto store.
//   - Transport runs the sync loop and feeds room events to the engine.
//   - Dispatcher performs outbound intents (messages, redactions, reactions).
//   - History pages backwards through a room for backfill.
//   - Prompts reads and seeds room topics, which double as system prompts.
//
// # Event Flow
//
// Sync events pass the allowed-room filter and the dedupe window before they
// are normalized by ingest.FromMatrix and handed to the room registry. The
// bot's own events are forwarded too; the conversation graph recognizes them
// as duplicates of the nodes it inserted from send receipts.
//
// Encrypted events are decrypted by the crypto helper, which re-dispatches the
// plaintext event through the same handlers.
//
// # Membership
//
// The bot joins rooms it is invited to when the room is allowed, warms the
// room so backfill runs immediately, and seeds the default topic when the
// room has none. It leaves a room once it is the only member left.
//
// # Outbound Messages
//
// Message bodies are sent as plain text with a goldmark-rendered HTML
// formatted body when the markdown produces markup. Sends are paced by a
// token bucket limiter so a burst of proposals does not trip homeserver rate
// limits.
package matrix
