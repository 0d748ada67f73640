// Package postgres implements store.Store on PostgreSQL using a pgx pool.
// Staged rows are loaded with COPY inside a per-run transaction.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/store"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ store.Store = (*Store)(nil)

// Store is a PostgreSQL-backed store.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects a pool configured from cfg and verifies the connection.
func Open(ctx context.Context, cfg config.DatabaseConfig) (*Store, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database URL: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConns)
	poolConfig.MinConns = int32(cfg.MinConns)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if u, err := url.Parse(cfg.URL); err == nil {
		slog.Info("connected to database", "driver", "postgres", "name", strings.TrimPrefix(u.Path, "/"))
	}

	return &Store{pool: pool}, nil
}

// New wraps an existing pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// InsertArchive appends one archive log entry.
func (s *Store) InsertArchive(ctx context.Context, rec archive.Record) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO import_archive_csv (source_id, file_location, import_name, outcome, created_at)
		VALUES ($1, $2, $3, $4, $5)`,
		rec.SourceID, rec.FileLocation, rec.ImportName, string(rec.Outcome), rec.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("insert archive record: %w", err)
	}
	return nil
}

func (s *Store) HasSource(ctx context.Context, sourceID string) (bool, error) {
	var exists bool
	err := s.pool.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1 FROM import_archive_csv WHERE source_id = $1 AND outcome = $2
		)`, sourceID, string(archive.OutcomeSuccessful),
	).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check source %s: %w", sourceID, err)
	}
	return exists, nil
}

func (s *Store) ListArchives(ctx context.Context, limit int) ([]archive.Record, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT source_id, file_location, import_name, outcome, created_at
		FROM import_archive_csv
		ORDER BY created_at DESC, id DESC
		LIMIT $1`, store.ClampLimit(limit),
	)
	if err != nil {
		return nil, fmt.Errorf("list archives: %w", err)
	}

	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (archive.Record, error) {
		var rec archive.Record
		var outcome string
		if err := row.Scan(&rec.SourceID, &rec.FileLocation, &rec.ImportName, &outcome, &rec.CreatedAt); err != nil {
			return rec, err
		}
		rec.Outcome = archive.Outcome(outcome)
		return rec, nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan archives: %w", err)
	}
	return records, nil
}

// BeginRun starts the transaction that holds a run's staged rows.
func (s *Store) BeginRun(ctx context.Context, info store.RunInfo) (store.RunWriter, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	return &runWriter{tx: tx, info: info}, nil
}

var stagedColumns = []string{"run_id", "import_name", "source_id", "line", "data"}

type runWriter struct {
	tx   pgx.Tx
	info store.RunInfo
}

func (w *runWriter) Write(ctx context.Context, rows []store.StagedRow) error {
	if len(rows) == 0 {
		return nil
	}

	runID := pgtype.UUID{Bytes: w.info.RunID, Valid: true}
	n, err := w.tx.CopyFrom(ctx,
		pgx.Identifier{"import_rows"},
		stagedColumns,
		pgx.CopyFromSlice(len(rows), func(i int) ([]any, error) {
			return []any{runID, w.info.ImportName, w.info.SourceID, int32(rows[i].Line), []byte(rows[i].Data)}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("copy staged rows: %w", err)
	}
	if int(n) != len(rows) {
		return fmt.Errorf("copy staged rows: wrote %d of %d", n, len(rows))
	}
	return nil
}

func (w *runWriter) Commit(ctx context.Context) error {
	if err := w.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit staged rows: %w", err)
	}
	return nil
}

func (w *runWriter) Rollback(ctx context.Context) error {
	if err := w.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return fmt.Errorf("rollback staged rows: %w", err)
	}
	return nil
}
