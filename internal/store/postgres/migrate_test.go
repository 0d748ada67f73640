package postgres

import (
	"io/fs"
	"strconv"
	"strings"
	"testing"
)

func TestMigrationFiles_Paired(t *testing.T) {
	entries, err := fs.ReadDir(migrationFiles, "migrations")
	if err != nil {
		t.Fatalf("read embedded migrations: %v", err)
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
			t.Errorf("unexpected file in migrations: %s", name)
		}
	}

	if len(ups) == 0 {
		t.Fatal("no up migrations embedded")
	}

	for base := range ups {
		if !downs[base] {
			t.Errorf("migration %s has no down file", base)
		}
		version, _, _ := strings.Cut(base, "_")
		if _, err := strconv.ParseUint(version, 10, 64); err != nil {
			t.Errorf("migration %s has non-numeric version", base)
		}
	}
	for base := range downs {
		if !ups[base] {
			t.Errorf("migration %s has no up file", base)
		}
	}
}

func TestMigrationFiles_CreateTables(t *testing.T) {
	var all strings.Builder
	err := fs.WalkDir(migrationFiles, "migrations", func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() || !strings.HasSuffix(path, ".up.sql") {
			return err
		}
		data, err := fs.ReadFile(migrationFiles, path)
		if err != nil {
			return err
		}
		all.Write(data)
		return nil
	})
	if err != nil {
		t.Fatalf("walk migrations: %v", err)
	}

	for _, table := range []string{"import_archive_csv", "import_rows"} {
		if !strings.Contains(all.String(), "CREATE TABLE IF NOT EXISTS "+table) {
			t.Errorf("no migration creates %s", table)
		}
	}
}
