package audit

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite"
)

const (
	pragmaJournalModeWAL = `PRAGMA journal_mode=WAL`
	pragmaBusyTimeout    = `PRAGMA busy_timeout=5000`

	chainTipMetaKey = "chain_tip"
)

const schema = `
CREATE TABLE IF NOT EXISTS audit_events (
	id           TEXT PRIMARY KEY,
	created_at   TEXT NOT NULL,
	action       TEXT NOT NULL,
	target_id    TEXT NOT NULL DEFAULT '',
	result       TEXT NOT NULL,
	details_json TEXT NOT NULL DEFAULT '',
	prev_hash    TEXT NOT NULL,
	event_hash   TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_events_created_at ON audit_events(created_at);
CREATE TABLE IF NOT EXISTS audit_meta (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);
`

// Store is the append-only sqlite log backing the audit trail.
type Store struct {
	db   *sql.DB
	path string
}

func OpenStore(path string) (*Store, error) {
	if path == "" {
		return nil, fmt.Errorf("open audit store: empty path")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, fmt.Errorf("open audit store: create parent dir: %w", err)
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open audit store: %w", err)
	}

	for _, stmt := range []string{pragmaJournalModeWAL, pragmaBusyTimeout} {
		if _, err := db.Exec(stmt); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("configure audit sqlite %q: %w", stmt, err)
		}
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("create audit schema: %w", err)
	}
	if err := ensureFilePermissions(path); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) Path() string {
	return s.path
}

// Append writes the event and advances the chain tip in one transaction.
func (s *Store) Append(ctx context.Context, event Event, tip string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("append audit event: begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO audit_events(id, created_at, action, target_id, result, details_json, prev_hash, event_hash)
		VALUES(?, ?, ?, ?, ?, ?, ?, ?)
	`, event.ID, fmtTime(event.Timestamp), event.Action, event.TargetID, event.Result, event.DetailsJSON, event.PrevHash, event.EventHash); err != nil {
		return fmt.Errorf("append audit event: %w", err)
	}

	if _, err := tx.ExecContext(ctx, `INSERT OR REPLACE INTO audit_meta(key, value) VALUES(?, ?)`, chainTipMetaKey, tip); err != nil {
		return fmt.Errorf("append audit event: advance chain tip: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("append audit event: commit: %w", err)
	}
	return nil
}

func (s *Store) ChainTip(ctx context.Context) (string, error) {
	var tip string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM audit_meta WHERE key = ?`, chainTipMetaKey).Scan(&tip)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("read audit chain tip: %w", err)
	}
	return tip, nil
}

// List returns events in append order, oldest first.
func (s *Store) List(ctx context.Context, filter Filter) ([]Event, error) {
	query := `
		SELECT id, created_at, action, target_id, result, details_json, prev_hash, event_hash
		FROM audit_events
		WHERE 1=1`
	args := []any{}
	if filter.Action != "" {
		query += ` AND action = ?`
		args = append(args, filter.Action)
	}
	if filter.TargetID != "" {
		query += ` AND target_id = ?`
		args = append(args, filter.TargetID)
	}
	query += ` ORDER BY created_at ASC, rowid ASC`
	if filter.Limit > 0 {
		query += ` LIMIT ?`
		args = append(args, filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	defer rows.Close()

	var events []Event
	for rows.Next() {
		var (
			event     Event
			createdAt string
		)
		if err := rows.Scan(&event.ID, &createdAt, &event.Action, &event.TargetID, &event.Result, &event.DetailsJSON, &event.PrevHash, &event.EventHash); err != nil {
			return nil, fmt.Errorf("list audit events: scan: %w", err)
		}
		event.Timestamp, err = parseTime(createdAt)
		if err != nil {
			return nil, fmt.Errorf("list audit events: %w", err)
		}
		events = append(events, event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list audit events: %w", err)
	}
	return events, nil
}

func ensureFilePermissions(path string) error {
	for _, p := range []string{path, path + "-wal"} {
		if err := os.Chmod(p, 0o600); err != nil {
			if !errors.Is(err, os.ErrNotExist) {
				return fmt.Errorf("set audit file permissions: %w", err)
			}
		}
	}
	return nil
}
