// Package room owns one conversation graph per Matrix room and the worker
// goroutine that feeds it.
//
// # Architecture
//
//	transport ──Dispatch──▶ Registry ──▶ worker(room A) ──▶ Graph A
//	                              └────▶ worker(room B) ──▶ Graph B
//
// The Registry is the only holder of the room map. Each worker drains an
// unbounded FIFO queue, so events for one room are applied strictly in
// arrival order while rooms proceed in parallel. An event is fully handled,
// including language model and executor calls, before the next one starts.
// Events that arrive during a slow call wait in the queue and are never
// dropped.
//
// # Lifecycle of a room
//
//  1. The first Dispatch or Warm for a room creates its graph and worker.
//  2. The worker loads the room's system prompt and backfills recent history
//     in replay mode.
//  3. Optionally, authorized messages left unanswered are answered.
//  4. Live events are applied one by one.
//
// # Replay mode
//
// Replayed events rebuild state without side effects: no intents are
// dispatched and no collaborator is called. Approval reactions move
// proposals to Approved only, and confirmation or failure replies restore
// the recorded outcome. A proposal approved before a restart but without a
// recorded outcome is logged and left alone rather than executed twice.
//
// # Collaborators
//
// The worker talks to the outside through narrow interfaces: Dispatcher for
// intents, llm.Proposer for generation, Executor per proposal kind, History
// for backfill and PromptSource for the room topic. Every dispatched intent
// and proposal change is handed to the Recorder.
//
// Two optional collaborators shape an answer before it is posted. With a
// DeckSource, each flashcard draft is routed to a deck under the Anki root
// by a tool-free llm.Completer call. With a Searcher, web searches the model
// asked for get a placeholder reply followed by a synthesized answer that
// replies to it, so both are bot nodes retracted with the prompting message.
package room
