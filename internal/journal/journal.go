// Package journal keeps a local SQLite log of every dual-store booking write,
// so that orphaned calendar events and stale rows can be found and cleaned up.
package journal

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Outcome of a booking write across the calendar and the sheet.
type Outcome string

const (
	OutcomeOK          Outcome = "ok"
	OutcomeFailed      Outcome = "failed"      // nothing was changed
	OutcomeWarning     Outcome = "warning"     // completed, old event may be orphaned
	OutcomeCompensated Outcome = "compensated" // row write failed, new event removed again
	OutcomeDiverged    Outcome = "diverged"    // stores disagree, needs manual cleanup
)

// NeedsAttention reports whether staff should look at the entry.
func (o Outcome) NeedsAttention() bool {
	return o == OutcomeWarning || o == OutcomeDiverged
}

// Entry is one journalled create, rebook or cancel.
type Entry struct {
	ID         int64
	Op         string
	PONumber   string
	RowIndex   int
	EventID    string
	OldEventID string
	Outcome    Outcome
	Detail     string
	Resolved   bool
	CreatedAt  time.Time
}

// DB wraps sql.DB for the journal.
type DB struct {
	*sql.DB
}

// Open opens the journal database at path and runs migrations.
func Open(path string) (*DB, error) {
	if path == "" {
		path = "data/journal.db"
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal dir: %w", err)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}
	db.SetMaxOpenConns(1)
	if err := migrate(db); err != nil {
		db.Close()
		return nil, err
	}
	return &DB{db}, nil
}

func migrate(db *sql.DB) error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS booking_operations (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			op TEXT NOT NULL,
			po_number TEXT NOT NULL DEFAULT '',
			row_index INTEGER NOT NULL DEFAULT 0,
			event_id TEXT NOT NULL DEFAULT '',
			old_event_id TEXT NOT NULL DEFAULT '',
			outcome TEXT NOT NULL,
			detail TEXT NOT NULL DEFAULT '',
			resolved BOOLEAN NOT NULL DEFAULT 0,
			created_at DATETIME NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_booking_operations_outcome ON booking_operations(outcome, resolved)`,
	}
	for _, q := range queries {
		if _, err := db.Exec(q); err != nil {
			return fmt.Errorf("migrate journal: %w", err)
		}
	}
	return nil
}

// Record appends an entry.
func (db *DB) Record(ctx context.Context, e Entry) error {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	_, err := db.ExecContext(ctx, `
		INSERT INTO booking_operations (op, po_number, row_index, event_id, old_event_id, outcome, detail, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.Op, e.PONumber, e.RowIndex, e.EventID, e.OldEventID, string(e.Outcome), e.Detail, e.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("record %s %s: %w", e.Op, e.PONumber, err)
	}
	return nil
}

// Recent returns the latest entries, newest first.
func (db *DB) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 20
	}
	return db.query(ctx, `
		SELECT id, op, po_number, row_index, event_id, old_event_id, outcome, detail, resolved, created_at
		FROM booking_operations
		ORDER BY id DESC
		LIMIT ?`, limit)
}

// Unresolved returns warning and diverged entries nobody has dealt with yet.
func (db *DB) Unresolved(ctx context.Context) ([]Entry, error) {
	return db.query(ctx, `
		SELECT id, op, po_number, row_index, event_id, old_event_id, outcome, detail, resolved, created_at
		FROM booking_operations
		WHERE resolved = 0 AND outcome IN (?, ?)
		ORDER BY id`, string(OutcomeWarning), string(OutcomeDiverged))
}

// HighestPO returns the largest PO number any create got past the calendar
// insert, or "" when there is none. PO numbers are fixed width so they
// compare as strings.
func (db *DB) HighestPO(ctx context.Context) (string, error) {
	var po string
	err := db.QueryRowContext(ctx, `
		SELECT COALESCE(MAX(po_number), '')
		FROM booking_operations
		WHERE op = 'create' AND po_number != '' AND outcome != ?`, string(OutcomeFailed)).Scan(&po)
	if err != nil {
		return "", fmt.Errorf("highest journalled PO: %w", err)
	}
	return po, nil
}

// Resolve marks an entry as cleaned up.
func (db *DB) Resolve(ctx context.Context, id int64) error {
	res, err := db.ExecContext(ctx, `UPDATE booking_operations SET resolved = 1 WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return sql.ErrNoRows
	}
	return nil
}

func (db *DB) query(ctx context.Context, q string, args ...interface{}) ([]Entry, error) {
	rows, err := db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		var outcome string
		if err := rows.Scan(&e.ID, &e.Op, &e.PONumber, &e.RowIndex, &e.EventID, &e.OldEventID, &outcome, &e.Detail, &e.Resolved, &e.CreatedAt); err != nil {
			return nil, err
		}
		e.Outcome = Outcome(outcome)
		out = append(out, e)
	}
	return out, rows.Err()
}
