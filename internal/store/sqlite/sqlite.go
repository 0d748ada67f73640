// Package sqlite implements store.Store on a single SQLite file, for
// single-node installs that do not run PostgreSQL.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/store"
)

var _ store.Store = (*Store)(nil)

// timeLayout is the stored form of created_at; it sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Store is an SQLite-backed store.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens (creating if needed) the database file at path.
// Migrations are not applied; call Migrate.
func Open(path string) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
	}

	// WAL keeps readers unblocked while a run holds the write transaction
	db, err := sql.Open("sqlite", path+"?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("opening database: %w", err)
	}

	slog.Info("connected to database", "driver", "sqlite", "path", path)
	return &Store{db: db, path: path}, nil
}

// Path returns the database file path.
func (s *Store) Path() string {
	return s.path
}

func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// InsertArchive appends one archive log entry.
func (s *Store) InsertArchive(ctx context.Context, rec archive.Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO import_archive_csv (source_id, file_location, import_name, outcome, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.SourceID, rec.FileLocation, rec.ImportName, string(rec.Outcome), formatTime(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("insert archive record: %w", err)
	}
	return nil
}

func (s *Store) HasSource(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM import_archive_csv WHERE source_id = ? AND outcome = ?
		)`, sourceID, string(archive.OutcomeSuccessful),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check source %s: %w", sourceID, err)
	}
	return exists, nil
}

func (s *Store) ListArchives(ctx context.Context, limit int) ([]archive.Record, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT source_id, file_location, import_name, outcome, created_at
		FROM import_archive_csv
		ORDER BY created_at DESC, id DESC
		LIMIT ?`, store.ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	defer rows.Close()

	var records []archive.Record
	for rows.Next() {
		var rec archive.Record
		var outcome, created string
		if err := rows.Scan(&rec.SourceID, &rec.FileLocation, &rec.ImportName, &outcome, &created); err != nil {
			return nil, fmt.Errorf("scan archives: %w", err)
		}
		rec.Outcome = archive.Outcome(outcome)
		if rec.CreatedAt, err = time.Parse(timeLayout, created); err != nil {
			return nil, fmt.Errorf("parse created_at %q: %w", created, err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}
	return records, nil
}

// BeginRun starts the transaction that holds a run's staged rows.
func (s *Store) BeginRun(ctx context.Context, info store.RunInfo) (store.RunWriter, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO import_rows (run_id, import_name, source_id, line, data, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("prepare staged insert: %w", err)
	}

	return &runWriter{tx: tx, stmt: stmt, info: info}, nil
}

type runWriter struct {
	tx   *sql.Tx
	stmt *sql.Stmt
	info store.RunInfo
}

func (w *runWriter) Write(ctx context.Context, rows []store.StagedRow) error {
	now := formatTime(time.Now())
	runID := w.info.RunID.String()
	for _, r := range rows {
		if _, err := w.stmt.ExecContext(ctx, runID, w.info.ImportName, w.info.SourceID, r.Line, string(r.Data), now); err != nil {
			return fmt.Errorf("insert staged row at line %d: %w", r.Line, err)
		}
	}
	return nil
}

func (w *runWriter) Commit(ctx context.Context) error {
	_ = w.stmt.Close()
	if err := w.tx.Commit(); err != nil {
		return fmt.Errorf("commit staged rows: %w", err)
	}
	return nil
}

func (w *runWriter) Rollback(ctx context.Context) error {
	_ = w.stmt.Close()
	if err := w.tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		return fmt.Errorf("rollback staged rows: %w", err)
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
