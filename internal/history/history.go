// Package history records extractions in a SQLite database so they can be
// listed and re-run later. One row is kept per source id; saving the same id
// again replaces it.
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

	"wasmkey/internal/extract"
)

const schema = `
CREATE TABLE IF NOT EXISTS extractions (
	xrax       TEXT PRIMARY KEY,
	input      TEXT NOT NULL,
	run_id     TEXT NOT NULL DEFAULT '',
	pid        TEXT NOT NULL DEFAULT '',
	kversion   TEXT NOT NULL DEFAULT '',
	kid        TEXT NOT NULL DEFAULT '',
	stream_url TEXT NOT NULL DEFAULT '',
	quality    TEXT NOT NULL DEFAULT '',
	error      TEXT NOT NULL DEFAULT '',
	created_at INTEGER NOT NULL,
	duration   INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS extractions_created ON extractions (created_at DESC);
`

// Entry is one recorded extraction.
type Entry struct {
	Xrax      string        `json:"xrax" yaml:"xrax"`
	Input     string        `json:"input" yaml:"input"`
	RunID     string        `json:"run_id,omitempty" yaml:"run_id,omitempty"`
	PID       string        `json:"pid,omitempty" yaml:"pid,omitempty"`
	KVersion  string        `json:"kversion,omitempty" yaml:"kversion,omitempty"`
	KID       string        `json:"kid,omitempty" yaml:"kid,omitempty"`
	StreamURL string        `json:"stream_url,omitempty" yaml:"stream_url,omitempty"`
	Quality   string        `json:"quality,omitempty" yaml:"quality,omitempty"`
	Error     string        `json:"error,omitempty" yaml:"error,omitempty"`
	CreatedAt time.Time     `json:"created_at" yaml:"created_at"`
	Duration  time.Duration `json:"duration" yaml:"duration"`
}

// Failed reports whether the extraction ended in an error.
func (e Entry) Failed() bool { return e.Error != "" }

// Record builds the entry for one pipeline call. res may be nil or partial
// when err is set. Inputs that never resolved to a source id yield false.
func Record(baseURL, input string, res *extract.Result, err error, started time.Time) (Entry, bool) {
	e := Entry{
		Input:     input,
		CreatedAt: started,
		Duration:  time.Since(started),
	}
	if err != nil {
		e.Error = err.Error()
	}

	switch {
	case res != nil:
		e.Xrax = res.Embed.Xrax
	default:
		embed, perr := extract.Resolve(baseURL, input)
		if perr != nil {
			return Entry{}, false
		}
		e.Xrax = embed.Xrax
	}

	if res != nil && res.Token != nil {
		e.RunID = res.Token.RunID
		e.PID = res.Token.PID
		e.KVersion = res.Token.KVersion
		e.KID = res.Token.KID
	}
	if res != nil && res.Stream != nil {
		e.StreamURL = res.Stream.URL
		e.Quality = res.Stream.Quality
	}
	return e, true
}

// Store is a history database. Safe for concurrent use.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the database at path.
func Open(path string) (*Store, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
			return nil, fmt.Errorf("creating history dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening history: %w", err)
	}
	// A single connection serializes writers and keeps :memory: databases
	// from splitting across connections.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrating history: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Save writes or replaces the entry for e.Xrax.
func (s *Store) Save(ctx context.Context, e Entry) error {
	if e.Xrax == "" {
		return errors.New("history entry has no source id")
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO extractions
			(xrax, input, run_id, pid, kversion, kid, stream_url, quality, error, created_at, duration)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (xrax) DO UPDATE SET
			input = excluded.input,
			run_id = excluded.run_id,
			pid = excluded.pid,
			kversion = excluded.kversion,
			kid = excluded.kid,
			stream_url = excluded.stream_url,
			quality = excluded.quality,
			error = excluded.error,
			created_at = excluded.created_at,
			duration = excluded.duration`,
		e.Xrax, e.Input, e.RunID, e.PID, e.KVersion, e.KID, e.StreamURL, e.Quality, e.Error,
		e.CreatedAt.UnixMilli(), e.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("saving history: %w", err)
	}
	return nil
}

// List returns entries newest first. limit <= 0 means all.
func (s *Store) List(ctx context.Context, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = -1
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT xrax, input, run_id, pid, kversion, kid, stream_url, quality, error, created_at, duration
		FROM extractions
		ORDER BY created_at DESC, xrax
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing history: %w", err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var (
			e       Entry
			created int64
			dur     int64
		)
		if err := rows.Scan(&e.Xrax, &e.Input, &e.RunID, &e.PID, &e.KVersion, &e.KID,
			&e.StreamURL, &e.Quality, &e.Error, &created, &dur); err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		e.CreatedAt = time.UnixMilli(created)
		e.Duration = time.Duration(dur) * time.Millisecond
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return entries, nil
}

// Remove deletes the entry for xrax. Removing an unknown id is not an error.
func (s *Store) Remove(ctx context.Context, xrax string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM extractions WHERE xrax = ?`, xrax); err != nil {
		return fmt.Errorf("removing history entry: %w", err)
	}
	return nil
}

// Clear deletes every entry and returns how many were removed.
func (s *Store) Clear(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM extractions`)
	if err != nil {
		return 0, fmt.Errorf("clearing history: %w", err)
	}
	return res.RowsAffected()
}

// FormatForDisplay creates display strings for fzf selection.
func FormatForDisplay(entries []Entry) []string {
	items := make([]string, 0, len(entries))
	for _, e := range entries {
		display := fmt.Sprintf("%s  %s", e.CreatedAt.Format("2006-01-02 15:04"), e.Xrax)
		switch {
		case e.Failed():
			display += "  [failed]"
		case e.Quality != "":
			display += fmt.Sprintf("  [%s]", e.Quality)
		}
		items = append(items, display)
	}
	return items
}
