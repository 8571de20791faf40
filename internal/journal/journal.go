// Package journal persists playback transitions to SQLite for diagnostics.
// The journal is append-only and is never read back to restore state.
package journal

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"lookingglass/internal/domain"
)

//go:embed schema.sql
var schemaSQL string

// Schema version tracking:
// 0 - transitions table
// 1 - index on transitions.selection_id
const currentSchemaVersion = 1

// ErrClosed is returned when recording into a closed journal.
var ErrClosed = errors.New("journal closed")

// Entry is one persisted transition.
type Entry struct {
	Seq int64
	domain.Transition
}

// ListOptions filters List results. Zero values mean no filter.
type ListOptions struct {
	SelectionID string
	EventID     string
	Limit       int
}

// Journal records transitions into a SQLite database in WAL mode.
type Journal struct {
	db *sql.DB
}

// Open creates or opens the journal at path and applies migrations.
// Use ":memory:" for a throwaway journal.
func Open(path string) (*Journal, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open journal: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to journal: %w", err)
	}

	// SQLite allows one writer; an in-memory database also lives on one connection.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := applyPragmas(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply pragmas: %w", err)
	}
	if err := applySchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Close closes the database. It is safe to call more than once.
func (j *Journal) Close() error {
	if j == nil || j.db == nil {
		return nil
	}
	err := j.db.Close()
	j.db = nil
	return err
}

// Record appends one transition.
func (j *Journal) Record(ctx context.Context, tr domain.Transition) error {
	if j == nil || j.db == nil {
		return ErrClosed
	}
	at := tr.At
	if at.IsZero() {
		at = time.Now()
	}
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO transitions (selection_id, event_id, from_state, to_state, trigger, token, at_unix_nano)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		tr.SelectionID, tr.EventID, string(tr.From), string(tr.To), string(tr.Trigger), tr.Token, at.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("record transition %s -> %s: %w", tr.From, tr.To, err)
	}
	return nil
}

// List returns journal entries in insertion order. With a Limit, the most
// recent entries are returned, still oldest first.
func (j *Journal) List(ctx context.Context, opts ListOptions) ([]Entry, error) {
	if j == nil || j.db == nil {
		return nil, ErrClosed
	}

	query := `SELECT seq, selection_id, event_id, from_state, to_state, trigger, token, at_unix_nano
		FROM transitions WHERE 1=1`
	var args []any
	if opts.SelectionID != "" {
		query += " AND selection_id = ?"
		args = append(args, opts.SelectionID)
	}
	if opts.EventID != "" {
		query += " AND event_id = ?"
		args = append(args, opts.EventID)
	}
	query += " ORDER BY seq DESC"
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	rows, err := j.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transitions: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e                 Entry
			from, to, trigger string
			atUnixNano        int64
		)
		if err := rows.Scan(&e.Seq, &e.SelectionID, &e.EventID, &from, &to, &trigger, &e.Token, &atUnixNano); err != nil {
			return nil, fmt.Errorf("scan transition: %w", err)
		}
		e.From = domain.PlaybackState(from)
		e.To = domain.PlaybackState(to)
		e.Trigger = domain.EventType(trigger)
		e.At = time.Unix(0, atUnixNano)
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transitions: %w", err)
	}

	for i, k := 0, len(entries)-1; i < k; i, k = i+1, k-1 {
		entries[i], entries[k] = entries[k], entries[i]
	}
	return entries, nil
}

// Prune deletes entries recorded before cutoff and reports how many went.
func (j *Journal) Prune(ctx context.Context, cutoff time.Time) (int64, error) {
	if j == nil || j.db == nil {
		return 0, ErrClosed
	}
	res, err := j.db.ExecContext(ctx, "DELETE FROM transitions WHERE at_unix_nano < ?", cutoff.UnixNano())
	if err != nil {
		return 0, fmt.Errorf("prune transitions: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("prune transitions: %w", err)
	}
	return n, nil
}

func applyPragmas(db *sql.DB) error {
	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			return fmt.Errorf("failed to execute %q: %w", pragma, err)
		}
	}
	return nil
}

func applySchema(db *sql.DB) error {
	if _, err := db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	if err := runMigrations(db); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

func runMigrations(db *sql.DB) error {
	var version int
	if err := db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("get user_version: %w", err)
	}

	if version < 1 {
		if _, err := db.Exec(`
			CREATE INDEX IF NOT EXISTS idx_transitions_selection
			ON transitions(selection_id, seq)
		`); err != nil {
			return fmt.Errorf("migrate to v1: %w", err)
		}
	}

	if _, err := db.Exec(fmt.Sprintf("PRAGMA user_version = %d", currentSchemaVersion)); err != nil {
		return fmt.Errorf("set user_version: %w", err)
	}
	return nil
}
