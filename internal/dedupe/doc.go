// Package dedupe drops repeated homeserver events before they reach a room
// worker.
//
// # Overview
//
// Sync can deliver the same event more than once, for example after a
// reconnect or when the bot's own sends echo back. A Window
// remembers (room, event id) pairs for a bounded time and count and reports
// whether a pair was already observed.
//
// # Semantics
//
// Observe is atomic: two concurrent calls for the same pair return false for
// exactly one of them. Entries expire after the configured TTL. When the
// window is full the oldest entry is evicted first.
//
// The window only filters transport noise. The conversation graph performs
// its own duplicate detection, so an eviction never corrupts room state.
package dedupe
