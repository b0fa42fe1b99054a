// ABOUTME: Ledger records and the Ledger interface for intents and proposals
// ABOUTME: Implemented by SQLiteStore; the room layer depends only on Ledger

package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record does not exist.
var ErrNotFound = errors.New("not found")

// IntentRecord is one dispatched intent.
type IntentRecord struct {
	ID        string
	RoomID    string
	Type      string
	Target    string
	Body      string
	Reason    string
	EventID   string // receipt from the homeserver, empty on failure
	Error     string
	CreatedAt time.Time
}

// ProposalRecord is the latest state of one proposal.
type ProposalRecord struct {
	NodeID     string
	RoomID     string
	Origin     string
	Kind       string
	Status     string
	ApprovedBy string
	RemoteID   string
	Failure    string
	Args       map[string]any
	UpdatedAt  time.Time
}

// IntentFilter narrows ListIntents.
type IntentFilter struct {
	RoomID string
	Type   string
	Since  *time.Time
	Limit  int // default 100, max 1000
}

// Ledger is the write and query surface of the audit store.
type Ledger interface {
	RecordIntent(ctx context.Context, r *IntentRecord) error
	RecordProposal(ctx context.Context, r *ProposalRecord) error
	ListIntents(ctx context.Context, f IntentFilter) ([]IntentRecord, error)
	GetProposal(ctx context.Context, nodeID string) (*ProposalRecord, error)
	ListProposals(ctx context.Context, roomID string) ([]ProposalRecord, error)
	Close() error
}
