// Package store defines the persistence collaborators of an import run:
// the archive log written by the archiver and the staging table that
// receives validated rows. Backends live in the postgres and sqlite
// subpackages.
package store

import (
	"context"
	"encoding/json"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/google/uuid"
)

// List limits for ListArchives.
const (
	DefaultListLimit = 50
	MaxListLimit     = 500
)

// RunInfo identifies the run that staged rows belong to.
type RunInfo struct {
	RunID      uuid.UUID
	ImportName string
	SourceID   string
}

// StagedRow is one validated record, encoded as a JSON object.
type StagedRow struct {
	Line int
	Data json.RawMessage
}

// RunWriter stages rows for a single run inside one transaction.
// Exactly one of Commit or Rollback must be called.
type RunWriter interface {
	Write(ctx context.Context, rows []StagedRow) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

// Store is the persistence surface used by the importer and the API.
type Store interface {
	archive.Recorder

	// HasSource reports whether a file with this content ID was already
	// archived as successful.
	HasSource(ctx context.Context, sourceID string) (bool, error)

	// ListArchives returns the most recent archive records, newest first.
	ListArchives(ctx context.Context, limit int) ([]archive.Record, error)

	// BeginRun opens a transaction for staging the rows of one run.
	BeginRun(ctx context.Context, info RunInfo) (RunWriter, error)

	// Migrate applies pending schema migrations.
	Migrate(ctx context.Context) error

	Ping(ctx context.Context) error
	Close() error
}

// ClampLimit normalizes a requested list size.
func ClampLimit(limit int) int {
	switch {
	case limit <= 0:
		return DefaultListLimit
	case limit > MaxListLimit:
		return MaxListLimit
	default:
		return limit
	}
}
