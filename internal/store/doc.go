// Package store keeps a local audit ledger of what the bot did.
//
// # Purpose
//
// Room state is rebuilt from Matrix history on every start, so nothing here
// is read back into a conversation graph. The ledger exists for operators: it
// records every side effect the bot asked the homeserver for and every
// proposal state change, so "why did the bot delete that?" can be answered
// after the fact.
//
// # Tables
//
//   - intent_log: one row per dispatched intent with its receipt or error
//   - proposal_log: the latest known state of each proposal, keyed by the
//     bot message that carries it
//
// # SQLite Configuration
//
// The store uses modernc.org/sqlite with WAL mode:
//
//	PRAGMA journal_mode=WAL;
//
// Use NewSQLiteStore(":memory:") in tests.
package store
