// Package proposal implements the create-if-approved lifecycle for actions the
// bot suggests in chat.
//
// # Overview
//
// When the language model asks to create a flashcard or a task, the bot does
// not act immediately. It posts a proposal message and waits for a human to
// approve it with a thumbs-up reaction. Each proposal moves through:
//
//	Pending ──approve──► Approved ──begin──► Executing ──► Succeeded
//	   │                                          └──────► Failed
//	   └──void──► Void
//
// Succeeded, Failed and Void are terminal. A second approval of the same
// proposal is reported as ErrNotPending and never causes a second execution.
// Void is reserved for proposals abandoned because the message that prompted
// them was edited.
//
// # Approval Keys
//
// IsApproval decides whether a reaction key counts as approval. The accepted
// keys form a fixed equivalence class: the thumbs-up emoji with or without a
// variation selector and in any skin tone, plus the textual aliases ":+1:",
// "+1" and ":thumbsup:". Keys are NFC-normalized before the lookup.
//
// # Message Bodies
//
// Proposals are rendered into chat messages with stable markers so that a
// restarted bot can rebuild proposal state from room history. Render and
// Parse handle the proposal body; Confirmation, FailureBody and ParseOutcome
// handle the follow-up messages that record the result. Parsing a rendered
// body is lossy for values containing newlines.
//
// # Idempotency
//
// RequestKey derives a stable UUID from the proposal's node id. Executors pass
// it to remote services that support idempotent creates.
package proposal
