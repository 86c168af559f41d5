// Package history keeps a sqlite log of watched sessions.
package history

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glyphcast/glyphcast/internal/session"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// Entry is one watched session.
type Entry struct {
	SessionID     string     `json:"sessionId"`
	URL           string     `json:"url"`
	StartedAt     time.Time  `json:"startedAt"`
	EndedAt       *time.Time `json:"endedAt,omitempty"`
	EndReason     string     `json:"endReason,omitempty"`
	FramesRead    int64      `json:"framesRead"`
	FramesEncoded int64      `json:"framesEncoded"`
	Framerate     float64    `json:"framerate"`
	GridWidth     int        `json:"gridWidth"`
	GridHeight    int        `json:"gridHeight"`
	PeakViewers   int        `json:"peakViewers"`
}

// Duration is the session's running time, or 0 while it is still open.
func (e Entry) Duration() time.Duration {
	if e.EndedAt == nil {
		return 0
	}
	return e.EndedAt.Sub(e.StartedAt)
}

// Store manages history persistence backed by SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open creates or opens the history database at path and applies migrations.
func Open(path string) (*Store, error) {
	path = strings.TrimSpace(path)
	if path == "" {
		return nil, errors.New("history: empty database path")
	}
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("history: create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout = 5000",
	}
	for _, pragma := range pragmas {
		if _, execErr := db.Exec(pragma); execErr != nil {
			_ = db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", pragma, execErr)
		}
	}

	store := &Store{db: db, path: path}
	if err := store.applyMigrations(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) applyMigrations(ctx context.Context) error {
	entries, err := migrationFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	sort.Strings(names)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin migration tx: %w", err)
	}
	defer func() {
		_ = tx.Rollback()
	}()

	if _, err := tx.ExecContext(ctx, "CREATE TABLE IF NOT EXISTS schema_migrations (version TEXT PRIMARY KEY)"); err != nil {
		return fmt.Errorf("ensure schema_migrations: %w", err)
	}

	for _, name := range names {
		version := strings.TrimSuffix(name, ".sql")
		var count int
		if err := tx.QueryRowContext(ctx, "SELECT COUNT(1) FROM schema_migrations WHERE version = ?", version).Scan(&count); err != nil {
			return fmt.Errorf("scan migration version: %w", err)
		}
		if count > 0 {
			continue
		}
		data, err := migrationFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}
		if _, err := tx.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", version, err)
		}
		if _, err := tx.ExecContext(ctx, "INSERT INTO schema_migrations (version) VALUES (?)", version); err != nil {
			return fmt.Errorf("record migration %s: %w", version, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit migrations: %w", err)
	}
	return nil
}

// Record applies a lifecycle event: a start inserts the session, an end
// fills in its final counters. Events for the same session may arrive in
// either order.
func (s *Store) Record(ctx context.Context, ev session.Event) error {
	snap := ev.Snapshot
	if snap.ID == "" {
		return errors.New("history: event without session id")
	}

	var endedAt, endReason interface{}
	if ev.Type == session.EventEnded {
		ended := time.Now().UTC()
		if snap.EndedAt != nil {
			ended = snap.EndedAt.UTC()
		}
		endedAt = ended.Format(time.RFC3339Nano)
		endReason = nullableString(snap.EndReason)
	}

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO sessions (
            id, url, started_at, ended_at, end_reason,
            frames_read, frames_encoded, framerate, grid_width, grid_height, peak_viewers
        ) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(id) DO UPDATE SET
            ended_at       = COALESCE(excluded.ended_at, sessions.ended_at),
            end_reason     = COALESCE(excluded.end_reason, sessions.end_reason),
            frames_read    = MAX(excluded.frames_read, sessions.frames_read),
            frames_encoded = MAX(excluded.frames_encoded, sessions.frames_encoded),
            framerate      = CASE WHEN excluded.framerate > 0 THEN excluded.framerate ELSE sessions.framerate END,
            grid_width     = MAX(excluded.grid_width, sessions.grid_width),
            grid_height    = MAX(excluded.grid_height, sessions.grid_height),
            peak_viewers   = MAX(excluded.peak_viewers, sessions.peak_viewers)`,
		snap.ID,
		snap.URL,
		snap.StartedAt.UTC().Format(time.RFC3339Nano),
		endedAt,
		endReason,
		snap.FramesRead,
		snap.FramesEncoded,
		snap.Framerate,
		snap.GridWidth,
		snap.GridHeight,
		ev.Viewers,
	)
	if err != nil {
		return fmt.Errorf("record session %s: %w", snap.ID, err)
	}
	return nil
}

// Recent returns up to limit sessions, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Entry, error) {
	if limit < 1 {
		limit = 1
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, url, started_at, ended_at, end_reason,
                frames_read, frames_encoded, framerate, grid_width, grid_height, peak_viewers
         FROM sessions
         ORDER BY started_at DESC, rowid DESC
         LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e         Entry
			started   string
			ended     sql.NullString
			endReason sql.NullString
		)
		if err := rows.Scan(&e.SessionID, &e.URL, &started, &ended, &endReason,
			&e.FramesRead, &e.FramesEncoded, &e.Framerate, &e.GridWidth, &e.GridHeight, &e.PeakViewers); err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		if e.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
			return nil, fmt.Errorf("parse started_at %q: %w", started, err)
		}
		if ended.Valid {
			t, err := time.Parse(time.RFC3339Nano, ended.String)
			if err != nil {
				return nil, fmt.Errorf("parse ended_at %q: %w", ended.String, err)
			}
			e.EndedAt = &t
		}
		e.EndReason = endReason.String
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func nullableString(value string) interface{} {
	if strings.TrimSpace(value) == "" {
		return nil
	}
	return value
}
