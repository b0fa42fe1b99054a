// ABOUTME: SQLite implementation of the Ledger using modernc.org/sqlite
// ABOUTME: Creates the schema on open and upserts proposal state by node id

package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// SQLiteStore implements Ledger using SQLite.
type SQLiteStore struct {
	db     *sql.DB
	logger *slog.Logger
}

var _ Ledger = (*SQLiteStore)(nil)

const schema = `
	CREATE TABLE IF NOT EXISTS intent_log (
		id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		type TEXT NOT NULL,
		target TEXT NOT NULL DEFAULT '',
		body TEXT NOT NULL DEFAULT '',
		reason TEXT NOT NULL DEFAULT '',
		event_id TEXT NOT NULL DEFAULT '',
		error TEXT NOT NULL DEFAULT '',
		created_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_intent_log_room ON intent_log(room_id, created_at);

	CREATE TABLE IF NOT EXISTS proposal_log (
		node_id TEXT PRIMARY KEY,
		room_id TEXT NOT NULL,
		origin_id TEXT NOT NULL,
		kind TEXT NOT NULL,
		status TEXT NOT NULL,
		approved_by TEXT NOT NULL DEFAULT '',
		remote_id TEXT NOT NULL DEFAULT '',
		failure TEXT NOT NULL DEFAULT '',
		args_json TEXT,
		updated_at TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_proposal_log_room ON proposal_log(room_id, updated_at);
`

// NewSQLiteStore opens the ledger at path, creating parent directories and
// the schema as needed.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	logger := slog.Default().With("component", "store")

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if path == ":memory:" {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("enabling WAL mode: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	logger.Info("ledger initialized", "path", path)
	return &SQLiteStore{db: db, logger: logger}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// RecordIntent appends an intent. ID and CreatedAt are filled in when unset.
func (s *SQLiteStore) RecordIntent(ctx context.Context, r *IntentRecord) error {
	if r.ID == "" {
		r.ID = uuid.New().String()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now().UTC()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO intent_log (id, room_id, type, target, body, reason, event_id, error, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.RoomID, r.Type, r.Target, r.Body, r.Reason, r.EventID, r.Error,
		r.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("inserting intent: %w", err)
	}

	s.logger.Debug("recorded intent", "room_id", r.RoomID, "type", r.Type, "target", r.Target)
	return nil
}

// RecordProposal stores the current state of a proposal, replacing any
// earlier state for the same node.
func (s *SQLiteStore) RecordProposal(ctx context.Context, r *ProposalRecord) error {
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = time.Now().UTC()
	}

	var argsJSON *string
	if r.Args != nil {
		data, err := json.Marshal(r.Args)
		if err != nil {
			return fmt.Errorf("marshaling proposal args: %w", err)
		}
		str := string(data)
		argsJSON = &str
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO proposal_log (node_id, room_id, origin_id, kind, status, approved_by, remote_id, failure, args_json, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(node_id) DO UPDATE SET
			status = excluded.status,
			approved_by = excluded.approved_by,
			remote_id = excluded.remote_id,
			failure = excluded.failure,
			args_json = COALESCE(excluded.args_json, proposal_log.args_json),
			updated_at = excluded.updated_at`,
		r.NodeID, r.RoomID, r.Origin, r.Kind, r.Status, r.ApprovedBy, r.RemoteID, r.Failure, argsJSON,
		r.UpdatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("upserting proposal: %w", err)
	}

	s.logger.Debug("recorded proposal", "node_id", r.NodeID, "status", r.Status)
	return nil
}

func normalizeLimit(limit int) int {
	switch {
	case limit <= 0:
		return 100
	case limit > 1000:
		return 1000
	default:
		return limit
	}
}

// ListIntents returns intents newest first.
func (s *SQLiteStore) ListIntents(ctx context.Context, f IntentFilter) ([]IntentRecord, error) {
	var since *string
	if f.Since != nil {
		v := f.Since.UTC().Format(time.RFC3339Nano)
		since = &v
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT id, room_id, type, target, body, reason, event_id, error, created_at
		FROM intent_log
		WHERE (? = '' OR room_id = ?)
		  AND (? = '' OR type = ?)
		  AND (? IS NULL OR created_at >= ?)
		ORDER BY created_at DESC, rowid DESC
		LIMIT ?`,
		f.RoomID, f.RoomID, f.Type, f.Type, since, since, normalizeLimit(f.Limit),
	)
	if err != nil {
		return nil, fmt.Errorf("querying intents: %w", err)
	}
	defer rows.Close()

	var out []IntentRecord
	for rows.Next() {
		var r IntentRecord
		var created string
		if err := rows.Scan(&r.ID, &r.RoomID, &r.Type, &r.Target, &r.Body, &r.Reason, &r.EventID, &r.Error, &created); err != nil {
			return nil, fmt.Errorf("scanning intent: %w", err)
		}
		if r.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
			return nil, fmt.Errorf("parsing timestamp: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

const proposalColumns = `node_id, room_id, origin_id, kind, status, approved_by, remote_id, failure, args_json, updated_at`

func scanProposal(scanner interface{ Scan(dest ...any) error }) (ProposalRecord, error) {
	var r ProposalRecord
	var argsJSON sql.NullString
	var updated string
	if err := scanner.Scan(&r.NodeID, &r.RoomID, &r.Origin, &r.Kind, &r.Status, &r.ApprovedBy, &r.RemoteID, &r.Failure, &argsJSON, &updated); err != nil {
		return r, err
	}
	var err error
	if r.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return r, fmt.Errorf("parsing timestamp: %w", err)
	}
	if argsJSON.Valid {
		if err := json.Unmarshal([]byte(argsJSON.String), &r.Args); err != nil {
			return r, fmt.Errorf("unmarshaling args: %w", err)
		}
	}
	return r, nil
}

// GetProposal returns the stored state of one proposal.
func (s *SQLiteStore) GetProposal(ctx context.Context, nodeID string) (*ProposalRecord, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+proposalColumns+` FROM proposal_log WHERE node_id = ?`, nodeID)
	r, err := scanProposal(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("getting proposal: %w", err)
	}
	return &r, nil
}

// ListProposals returns the proposals of a room, oldest update first.
func (s *SQLiteStore) ListProposals(ctx context.Context, roomID string) ([]ProposalRecord, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+proposalColumns+` FROM proposal_log WHERE room_id = ? ORDER BY updated_at, node_id`, roomID)
	if err != nil {
		return nil, fmt.Errorf("querying proposals: %w", err)
	}
	defer rows.Close()

	var out []ProposalRecord
	for rows.Next() {
		r, err := scanProposal(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning proposal: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}
