// Package conversation maintains the reply and thread structure of a room.
//
// # Overview
//
// A Graph is rebuilt from an append-only, replayable event stream. Messages
// become nodes; replies and thread membership become edges; edits mutate a
// node's body in place; reactions become annotation nodes that never appear
// as children; redactions turn nodes into tombstones that keep their id and
// relations so that descendants still resolve.
//
//	g := conversation.New("!room:example.org", "@bot:example.org")
//	res, err := g.Ingest(ev)
//	if errors.Is(err, conversation.ErrMalformedRelation) {
//	    // dangling target or cycle; the event is dropped
//	}
//
// # Relations
//
// Every message has at most one parent: its reply target, or failing that its
// thread parent. Relations are fixed when a node is created. Re-ingesting a
// known event id with different relations is rejected, which is also how a
// cycle such as A replying to B replying to A is caught. A reply or thread
// target the graph has never seen is rejected as dangling.
//
// The children index covers both reply and thread edges and is updated in
// the same call that sets the forward pointers, so the two never disagree.
//
// # Edits
//
// An edit applies only if its sender wrote the target message, the target is
// not a tombstone, and the edit is newer than the last applied edit. Applied
// edits register an alias so that later relations pointing at the edit event
// resolve to the original message.
//
// # Traversal
//
// Descendants returns a lazy breadth-first Walk over the children index.
// ThreadContext returns the ancestor chain of a message, oldest first,
// bounded by a maximum depth. ResolveThreadRoot walks parents to the root and
// caches the answer on the node.
//
// # Concurrency
//
// A Graph is not safe for concurrent use. Each room owns its graph and
// touches it from a single worker goroutine.
package conversation
