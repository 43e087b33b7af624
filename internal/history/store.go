// Package history persists tracked-message records in SQLite.
//
// The tracker keeps in-flight records in memory and writes each record here
// when it is created and again when it reaches a terminal status. Records
// still "working" when the process restarts can never finish, so startup
// marks them failed via MarkInterrupted.
package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// openDB is a package-level var to allow test injection.
var openDB = sql.Open

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// InterruptedReason is stored on records cut short by a restart.
const InterruptedReason = "interrupted by restart"

// ErrNotFound is returned by Get for unknown ids.
var ErrNotFound = errors.New("history: record not found")

// ─── Types ───────────────────────────────────────────────────────────────────

// Record is one tracked send.
type Record struct {
	ID        string
	SessionID string
	ProcessID string
	Message   string
	Status    string
	ExitCode  *int64
	Elapsed   time.Duration
	Reason    string
	TimedOut  bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// ─── Config ──────────────────────────────────────────────────────────────────

// Config holds history store configuration.
type Config struct {
	DataDir string
	DBName  string
}

// ─── Store ───────────────────────────────────────────────────────────────────

// Store is the SQLite-backed history.
type Store struct {
	db *sql.DB
}

// New creates the data directory if needed, opens SQLite in WAL mode and
// runs migrations.
func New(cfg Config) (*Store, error) {
	if cfg.DBName == "" {
		cfg.DBName = "history.db"
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("history: create data dir: %w", err)
	}

	db, err := openDB("sqlite", filepath.Join(cfg.DataDir, cfg.DBName))
	if err != nil {
		return nil, fmt.Errorf("history: open database: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("history: pragma %q: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("history: migration: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ─── Migrations ──────────────────────────────────────────────────────────────

func (s *Store) migrate() error {
	schema := `
		CREATE TABLE IF NOT EXISTS tracked_messages (
			id          TEXT PRIMARY KEY,
			session_id  TEXT NOT NULL,
			process_id  TEXT NOT NULL,
			message     TEXT NOT NULL DEFAULT '',
			status      TEXT NOT NULL,
			exit_code   INTEGER,
			elapsed_ms  INTEGER NOT NULL DEFAULT 0,
			reason      TEXT NOT NULL DEFAULT '',
			timed_out   INTEGER NOT NULL DEFAULT 0,
			created_at  TEXT NOT NULL,
			updated_at  TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_tracked_session ON tracked_messages(session_id, created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_tracked_status  ON tracked_messages(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// ─── Writes ──────────────────────────────────────────────────────────────────

// Save inserts r or replaces the stored copy with the same id.
func (s *Store) Save(ctx context.Context, r Record) error {
	if r.ID == "" {
		return errors.New("history: record id is required")
	}
	now := time.Now().UTC()
	if r.CreatedAt.IsZero() {
		r.CreatedAt = now
	}
	if r.UpdatedAt.IsZero() {
		r.UpdatedAt = now
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_messages
			(id, session_id, process_id, message, status, exit_code, elapsed_ms, reason, timed_out, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status     = excluded.status,
			exit_code  = excluded.exit_code,
			elapsed_ms = excluded.elapsed_ms,
			reason     = excluded.reason,
			timed_out  = excluded.timed_out,
			updated_at = excluded.updated_at`,
		r.ID, r.SessionID, r.ProcessID, r.Message, r.Status, nullableInt(r.ExitCode),
		r.Elapsed.Milliseconds(), r.Reason, boolInt(r.TimedOut),
		formatTime(r.CreatedAt), formatTime(r.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("history: save %s: %w", r.ID, err)
	}
	return nil
}

// MarkInterrupted fails every record still "working" and returns how many
// were changed.
func (s *Store) MarkInterrupted(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		UPDATE tracked_messages
		SET status = 'failed', reason = ?, updated_at = ?
		WHERE status = 'working'`,
		InterruptedReason, formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("history: mark interrupted: %w", err)
	}
	return res.RowsAffected()
}

// ─── Reads ───────────────────────────────────────────────────────────────────

const selectColumns = `id, session_id, process_id, message, status, exit_code, elapsed_ms, reason, timed_out, created_at, updated_at`

// Get returns the record with id, or ErrNotFound.
func (s *Store) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM tracked_messages WHERE id = ?`, id)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("history: get %s: %w", id, err)
	}
	return r, nil
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM tracked_messages ORDER BY created_at DESC LIMIT ?`, clampLimit(limit))
}

// BySession returns up to limit records for one session, newest first.
func (s *Store) BySession(ctx context.Context, sessionID string, limit int) ([]Record, error) {
	return s.query(ctx, `SELECT `+selectColumns+` FROM tracked_messages WHERE session_id = ? ORDER BY created_at DESC LIMIT ?`,
		sessionID, clampLimit(limit))
}

func (s *Store) query(ctx context.Context, q string, args ...any) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("history: query: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var (
		r                    Record
		exit                 sql.NullInt64
		elapsedMS            int64
		timedOut             int
		createdAt, updatedAt string
	)
	if err := sc.Scan(&r.ID, &r.SessionID, &r.ProcessID, &r.Message, &r.Status, &exit,
		&elapsedMS, &r.Reason, &timedOut, &createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if exit.Valid {
		v := exit.Int64
		r.ExitCode = &v
	}
	r.Elapsed = time.Duration(elapsedMS) * time.Millisecond
	r.TimedOut = timedOut != 0
	r.CreatedAt = parseTime(createdAt)
	r.UpdatedAt = parseTime(updatedAt)
	return &r, nil
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

func formatTime(t time.Time) string { return t.UTC().Format(timeLayout) }

func parseTime(s string) time.Time {
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func nullableInt(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func clampLimit(limit int) int {
	if limit <= 0 || limit > 500 {
		return 50
	}
	return limit
}
