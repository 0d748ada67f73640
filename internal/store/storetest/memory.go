// Package storetest provides an in-memory store.Store for tests.
package storetest

import (
	"context"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/store"
)

var _ store.Store = (*Memory)(nil)

// Memory keeps archives and committed rows in maps. Set the Err fields to
// make the matching operation fail.
type Memory struct {
	mu       sync.Mutex
	archives []archive.Record
	rows     map[uuid.UUID][]store.StagedRow
	writes   int
	attempts int

	InsertErr error
	HasErr    error
	BeginErr  error
	WriteErr  error
	CommitErr error
}

// NewMemory returns an empty store.
func NewMemory() *Memory {
	return &Memory{rows: make(map[uuid.UUID][]store.StagedRow)}
}

func (m *Memory) InsertArchive(_ context.Context, rec archive.Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.InsertErr != nil {
		return m.InsertErr
	}
	m.archives = append(m.archives, rec)
	return nil
}

func (m *Memory) HasSource(_ context.Context, sourceID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.HasErr != nil {
		return false, m.HasErr
	}
	for _, rec := range m.archives {
		if rec.SourceID == sourceID && rec.Outcome == archive.OutcomeSuccessful {
			return true, nil
		}
	}
	return false, nil
}

func (m *Memory) ListArchives(_ context.Context, limit int) ([]archive.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := slices.Clone(m.archives)
	slices.Reverse(out)
	if limit = store.ClampLimit(limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *Memory) BeginRun(_ context.Context, info store.RunInfo) (store.RunWriter, error) {
	if m.BeginErr != nil {
		return nil, m.BeginErr
	}
	return &memWriter{m: m, info: info}, nil
}

func (m *Memory) Migrate(context.Context) error { return nil }
func (m *Memory) Ping(context.Context) error    { return nil }
func (m *Memory) Close() error                  { return nil }

// Archives returns the recorded archive entries in insertion order.
func (m *Memory) Archives() []archive.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.archives)
}

// Rows returns the committed rows of a run.
func (m *Memory) Rows(runID uuid.UUID) []store.StagedRow {
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.rows[runID])
}

// Writes returns how many Write calls succeeded across all runs.
func (m *Memory) Writes() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.writes
}

// WriteAttempts counts Write calls including failed ones.
func (m *Memory) WriteAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.attempts
}

type memWriter struct {
	m       *Memory
	info    store.RunInfo
	pending []store.StagedRow
}

func (w *memWriter) Write(_ context.Context, rows []store.StagedRow) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	w.m.attempts++
	if w.m.WriteErr != nil {
		return w.m.WriteErr
	}
	w.m.writes++
	for _, r := range rows {
		r.Data = slices.Clone(r.Data)
		w.pending = append(w.pending, r)
	}
	return nil
}

func (w *memWriter) Commit(context.Context) error {
	w.m.mu.Lock()
	defer w.m.mu.Unlock()
	if w.m.CommitErr != nil {
		return w.m.CommitErr
	}
	w.m.rows[w.info.RunID] = append(w.m.rows[w.info.RunID], w.pending...)
	return nil
}

func (w *memWriter) Rollback(context.Context) error {
	w.pending = nil
	return nil
}
