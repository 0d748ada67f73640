package main

import (
	"bytes"
	"crypto/md5"
	"encoding/hex"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

const jobsYAML = `
imports:
  product:
    incoming_directory: product/incoming
    archived_directory: product/archived
    failed_directory: product/failed
`

// testEnv points configuration at a temporary directory with an SQLite
// database and returns the var directory.
func testEnv(t *testing.T) (dir, varDir string) {
	t.Helper()
	dir = t.TempDir()
	varDir = filepath.Join(dir, "var")

	t.Setenv("DATABASE_URL", "sqlite://"+filepath.ToSlash(filepath.Join(dir, "db", "csvimport.db")))
	t.Setenv("IMPORT_VAR_DIR", varDir)
	t.Setenv("IMPORT_JOBS_FILE", filepath.Join(dir, "imports.yaml"))
	t.Setenv("LOG_LEVEL", "error")
	t.Setenv("LOG_FILE", "")

	if err := os.WriteFile(filepath.Join(dir, "imports.yaml"), []byte(jobsYAML), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.MkdirAll(filepath.Join(varDir, "product", "incoming"), 0o755); err != nil {
		t.Fatal(err)
	}
	return dir, varDir
}

func execute(t *testing.T, dir string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := newRootCmd()
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--env-file", filepath.Join(dir, "missing.env")}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func TestCount(t *testing.T) {
	dir, _ := testEnv(t)
	content := "sku;name\nA1;Widget\nA2;Gadget\nA3;Bolt\n"
	path := filepath.Join(dir, "products.csv")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	sum := md5.Sum([]byte(content))
	want := "4\t" + hex.EncodeToString(sum[:]) + "\n"

	out, err := execute(t, dir, "count", "--delimiter", ";", path)
	if err != nil {
		t.Fatalf("count error = %v", err)
	}
	if out != want {
		t.Errorf("output = %q, want %q", out, want)
	}

	if _, err := execute(t, dir, "count", filepath.Join(dir, "nope.csv")); err == nil {
		t.Error("count of a missing file should fail")
	}
}

func TestRun(t *testing.T) {
	dir, varDir := testEnv(t)
	incoming := filepath.Join(varDir, "product", "incoming")
	content := "sku,name\nA1,Widget\nA2,Gadget\n"

	if err := os.WriteFile(filepath.Join(incoming, "products.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	out, err := execute(t, dir, "run", "product")
	if err != nil {
		t.Fatalf("run error = %v\n%s", err, out)
	}
	if !strings.HasPrefix(out, "successful\t") || !strings.Contains(out, "imported=2") {
		t.Errorf("output = %q", out)
	}

	archived, _ := filepath.Glob(filepath.Join(varDir, "product", "archived", "products-*.csv"))
	if len(archived) != 1 {
		t.Fatalf("archived files = %v, want 1", archived)
	}

	// Same content again is refused and moved to failed.
	if err := os.WriteFile(filepath.Join(incoming, "again.csv"), []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	out, err = execute(t, dir, "run", "product")
	if err != nil {
		t.Fatalf("second run error = %v", err)
	}
	if !strings.HasPrefix(out, "failed\t") || !strings.Contains(out, "already imported") {
		t.Errorf("second run output = %q", out)
	}
	failed, _ := filepath.Glob(filepath.Join(varDir, "product", "failed", "again-*.csv"))
	if len(failed) != 1 {
		t.Errorf("failed files = %v, want 1", failed)
	}

	out, err = execute(t, dir, "run", "product")
	if err != nil || !strings.Contains(out, "no pending files") {
		t.Errorf("empty run = %q, %v", out, err)
	}
}

func TestRun_UnknownImport(t *testing.T) {
	dir, _ := testEnv(t)
	if _, err := execute(t, dir, "run", "missing"); err == nil {
		t.Error("run of an unknown import should fail")
	}
}

func TestMigrate(t *testing.T) {
	dir, _ := testEnv(t)

	for range 2 {
		out, err := execute(t, dir, "migrate")
		if err != nil {
			t.Fatalf("migrate error = %v", err)
		}
		if !strings.Contains(out, "up to date (sqlite)") {
			t.Errorf("output = %q", out)
		}
	}
}
