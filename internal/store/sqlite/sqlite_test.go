package sqlite

import (
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/store"
	"github.com/google/uuid"
)

func setupTestStore(t *testing.T) *Store {
	t.Helper()

	s, err := Open(filepath.Join(t.TempDir(), "data", "csvimport.db"))
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })

	if err := s.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return s
}

func countRows(t *testing.T, s *Store, runID uuid.UUID) int {
	t.Helper()
	var n int
	if err := s.db.QueryRow("SELECT COUNT(*) FROM import_rows WHERE run_id = ?", runID.String()).Scan(&n); err != nil {
		t.Fatalf("count rows: %v", err)
	}
	return n
}

func TestMigrate_Idempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	if err := s.Migrate(ctx); err != nil {
		t.Fatalf("second Migrate() error = %v", err)
	}

	var (
		version int
		dirty   bool
	)
	if err := s.db.QueryRow("SELECT version, dirty FROM " + MigrationsTable).Scan(&version, &dirty); err != nil {
		t.Fatalf("read version: %v", err)
	}
	if version != 2 || dirty {
		t.Errorf("schema version = %d (dirty %v), want 2 clean", version, dirty)
	}

	for _, table := range []string{"import_archive_csv", "import_rows"} {
		var n int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?", table).Scan(&n); err != nil || n != 1 {
			t.Errorf("table %s missing after migrate (n=%d, err=%v)", table, n, err)
		}
	}
}

func TestMigrationFiles_Paired(t *testing.T) {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		t.Fatalf("ReadDir() error = %v", err)
	}

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Errorf("unexpected file %s", name)
		}
	}

	if len(ups) != 2 {
		t.Errorf("up migrations = %d, want 2", len(ups))
	}
	for base := range ups {
		if !downs[base] {
			t.Errorf("migration %s has no down file", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Errorf("migration %s has no up file", base)
		}
	}
}

func TestStore_Archives(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()
	base := time.Date(2017, 3, 2, 10, 15, 0, 0, time.UTC)

	records := []archive.Record{
		{SourceID: "aaa", FileLocation: "jh_import/failed/a-02032017101500.csv", ImportName: "product", Outcome: archive.OutcomeFailed, CreatedAt: base},
		{SourceID: "bbb", FileLocation: "jh_import/archived/b-02032017101600.csv", ImportName: "product", Outcome: archive.OutcomeSuccessful, CreatedAt: base.Add(time.Minute)},
		{SourceID: "ccc", FileLocation: "jh_import/archived/c-02032017101700.csv", ImportName: "stock", Outcome: archive.OutcomeSuccessful, CreatedAt: base.Add(2 * time.Minute)},
	}
	for _, rec := range records {
		if err := s.InsertArchive(ctx, rec); err != nil {
			t.Fatalf("InsertArchive(%s) error = %v", rec.SourceID, err)
		}
	}

	tests := []struct {
		sourceID string
		want     bool
	}{
		{"aaa", false}, // failed archives do not count as imported
		{"bbb", true},
		{"ccc", true},
		{"zzz", false},
	}
	for _, tt := range tests {
		got, err := s.HasSource(ctx, tt.sourceID)
		if err != nil {
			t.Fatalf("HasSource(%s) error = %v", tt.sourceID, err)
		}
		if got != tt.want {
			t.Errorf("HasSource(%s) = %v, want %v", tt.sourceID, got, tt.want)
		}
	}

	list, err := s.ListArchives(ctx, 2)
	if err != nil {
		t.Fatalf("ListArchives() error = %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("ListArchives(2) len = %d, want 2", len(list))
	}
	if list[0].SourceID != "ccc" || list[1].SourceID != "bbb" {
		t.Errorf("ListArchives order = [%s %s], want [ccc bbb]", list[0].SourceID, list[1].SourceID)
	}
	if !list[0].CreatedAt.Equal(base.Add(2 * time.Minute)) {
		t.Errorf("CreatedAt = %v, want %v", list[0].CreatedAt, base.Add(2*time.Minute))
	}
	if list[0].Outcome != archive.OutcomeSuccessful || list[0].ImportName != "stock" {
		t.Errorf("record = %+v", list[0])
	}

	all, err := s.ListArchives(ctx, 0)
	if err != nil {
		t.Fatalf("ListArchives(0) error = %v", err)
	}
	if len(all) != 3 {
		t.Errorf("ListArchives(0) len = %d, want 3", len(all))
	}
}

func TestStore_RunWriter(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	rows := []store.StagedRow{
		{Line: 2, Data: json.RawMessage(`{"sku":"A1","name":"Widget"}`)},
		{Line: 4, Data: json.RawMessage(`{"sku":"A3","name":"Gadget"}`)},
	}

	t.Run("commit", func(t *testing.T) {
		info := store.RunInfo{RunID: uuid.New(), ImportName: "product", SourceID: "abc"}
		w, err := s.BeginRun(ctx, info)
		if err != nil {
			t.Fatalf("BeginRun() error = %v", err)
		}
		if err := w.Write(ctx, rows[:1]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := w.Write(ctx, rows[1:]); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := w.Commit(ctx); err != nil {
			t.Fatalf("Commit() error = %v", err)
		}

		if got := countRows(t, s, info.RunID); got != 2 {
			t.Errorf("staged rows = %d, want 2", got)
		}

		var line int
		var data string
		err = s.db.QueryRow("SELECT line, data FROM import_rows WHERE run_id = ? ORDER BY line DESC LIMIT 1", info.RunID.String()).Scan(&line, &data)
		if err != nil {
			t.Fatalf("read row: %v", err)
		}
		if line != 4 || data != `{"sku":"A3","name":"Gadget"}` {
			t.Errorf("row = (%d, %s)", line, data)
		}
	})

	t.Run("rollback", func(t *testing.T) {
		info := store.RunInfo{RunID: uuid.New(), ImportName: "product", SourceID: "def"}
		w, err := s.BeginRun(ctx, info)
		if err != nil {
			t.Fatalf("BeginRun() error = %v", err)
		}
		if err := w.Write(ctx, rows); err != nil {
			t.Fatalf("Write() error = %v", err)
		}
		if err := w.Rollback(ctx); err != nil {
			t.Fatalf("Rollback() error = %v", err)
		}
		if err := w.Rollback(ctx); err != nil {
			t.Errorf("second Rollback() error = %v", err)
		}

		if got := countRows(t, s, info.RunID); got != 0 {
			t.Errorf("staged rows after rollback = %d, want 0", got)
		}
	})
}
