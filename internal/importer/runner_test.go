package importer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/source"
	"github.com/JonMunkholm/csvimport/internal/store/storetest"
)

const testJobs = `
imports:
  product:
    incoming_directory: jh_import/incoming
    archived_directory: jh_import/archived
    failed_directory: jh_import/failed
  manual:
    source:
      delimiter: ";"
    archived_directory: manual/archived
    failed_directory: manual/failed
`

var testClock = archive.FixedClock(time.Date(2017, 3, 2, 10, 15, 0, 0, time.UTC))

const stamp = "02032017101500"

func newTestRunner(t *testing.T, batchSize int) (*Runner, *storetest.Memory, string) {
	t.Helper()

	jobs, err := config.ParseJobs([]byte(testJobs))
	if err != nil {
		t.Fatalf("ParseJobs() error = %v", err)
	}

	varDir := t.TempDir()
	st := storetest.NewMemory()
	r := NewRunner(jobs, st, Options{
		VarDir:    varDir,
		BatchSize: batchSize,
		Clock:     testClock,
		Limiter:   NewRunLimiter(2, time.Second),
	})
	return r, st, varDir
}

func writeIncoming(t *testing.T, varDir, name, content string) string {
	t.Helper()
	dir := filepath.Join(varDir, "jh_import", "incoming")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func assertMoved(t *testing.T, varDir, from, wantRel string) {
	t.Helper()
	if _, err := os.Stat(from); !os.IsNotExist(err) {
		t.Errorf("source %s still exists (err=%v)", from, err)
	}
	if _, err := os.Stat(filepath.Join(varDir, filepath.FromSlash(wantRel))); err != nil {
		t.Errorf("archived file %s missing: %v", wantRel, err)
	}
}

func TestRunFile(t *testing.T) {
	tests := []struct {
		name         string
		content      string
		wantOutcome  archive.Outcome
		wantImported int
		wantFailed   int
		wantLines    int
		wantErrors   []string
		wantDir      string
	}{
		{
			name:         "all rows valid",
			content:      "sku,name\nA1,Widget\nA2,Gadget\n",
			wantOutcome:  archive.OutcomeSuccessful,
			wantImported: 2,
			wantLines:    3,
			wantDir:      "jh_import/archived",
		},
		{
			name:         "row with wrong column count",
			content:      "sku,name\nA1,Widget\nA2\nA3,Gizmo\n",
			wantOutcome:  archive.OutcomeFailed,
			wantImported: 2,
			wantFailed:   1,
			wantLines:    4,
			wantErrors:   []string{`Column count does not match header count on row: "3"`},
			wantDir:      "jh_import/failed",
		},
		{
			name:        "header only",
			content:     "sku,name\n",
			wantOutcome: archive.OutcomeSuccessful,
			wantLines:   1,
			wantDir:     "jh_import/archived",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r, st, varDir := newTestRunner(t, 10)
			path := writeIncoming(t, varDir, "products.csv", tt.content)

			result, err := r.RunFile(context.Background(), "product", path)
			if err != nil {
				t.Fatalf("RunFile() error = %v", err)
			}

			if result.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %q, want %q", result.Outcome, tt.wantOutcome)
			}
			if result.Imported != tt.wantImported {
				t.Errorf("Imported = %d, want %d", result.Imported, tt.wantImported)
			}
			if result.Failed != tt.wantFailed {
				t.Errorf("Failed = %d, want %d", result.Failed, tt.wantFailed)
			}
			if result.Lines != tt.wantLines {
				t.Errorf("Lines = %d, want %d", result.Lines, tt.wantLines)
			}
			if strings.Join(result.Errors, "|") != strings.Join(tt.wantErrors, "|") {
				t.Errorf("Errors = %q, want %q", result.Errors, tt.wantErrors)
			}

			wantRel := tt.wantDir + "/products-" + stamp + ".csv"
			if result.ArchivePath != wantRel {
				t.Errorf("ArchivePath = %q, want %q", result.ArchivePath, wantRel)
			}
			assertMoved(t, varDir, path, wantRel)

			archives := st.Archives()
			if len(archives) != 1 {
				t.Fatalf("archive records = %d, want 1", len(archives))
			}
			if archives[0].SourceID != result.SourceID || archives[0].ImportName != "product" {
				t.Errorf("archive record = %+v", archives[0])
			}

			rows := st.Rows(result.RunID)
			if len(rows) != tt.wantImported {
				t.Fatalf("staged rows = %d, want %d", len(rows), tt.wantImported)
			}
			if len(rows) > 0 && string(rows[0].Data) != `{"sku":"A1","name":"Widget"}` {
				t.Errorf("first row data = %s", rows[0].Data)
			}
			if len(rows) > 0 && rows[0].Line != 2 {
				t.Errorf("first row line = %d, want 2", rows[0].Line)
			}
		})
	}
}

func TestRunFile_AlreadyImported(t *testing.T) {
	r, st, varDir := newTestRunner(t, 10)
	ctx := context.Background()
	content := "sku,name\nA1,Widget\n"

	first, err := r.RunFile(ctx, "product", writeIncoming(t, varDir, "products.csv", content))
	if err != nil {
		t.Fatalf("first RunFile() error = %v", err)
	}

	path := writeIncoming(t, varDir, "products-again.csv", content)
	second, err := r.RunFile(ctx, "product", path)
	if !errors.Is(err, ErrAlreadyImported) {
		t.Fatalf("second RunFile() error = %v, want ErrAlreadyImported", err)
	}

	if second.SourceID != first.SourceID {
		t.Errorf("SourceID changed for identical content: %s vs %s", second.SourceID, first.SourceID)
	}
	if !second.Skipped {
		t.Error("Skipped = false, want true")
	}
	if second.Outcome != archive.OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", second.Outcome)
	}
	if second.Imported != 0 || len(st.Rows(second.RunID)) != 0 {
		t.Errorf("duplicate run staged rows: imported=%d", second.Imported)
	}
	if len(second.Errors) != 1 || !strings.Contains(second.Errors[0], "already imported") {
		t.Errorf("Errors = %q", second.Errors)
	}
	assertMoved(t, varDir, path, "jh_import/failed/products-again-"+stamp+".csv")
}

func TestRunFile_WriteFailure(t *testing.T) {
	r, st, varDir := newTestRunner(t, 1)
	st.WriteErr = errors.New("disk full")

	path := writeIncoming(t, varDir, "products.csv", "sku,name\nA1,Widget\nA2,Gadget\n")

	result, err := r.RunFile(context.Background(), "product", path)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("RunFile() error = %v, want disk full", err)
	}
	if result.Outcome != archive.OutcomeFailed {
		t.Errorf("Outcome = %q, want failed", result.Outcome)
	}
	if result.Imported != 0 {
		t.Errorf("Imported = %d, want 0", result.Imported)
	}
	if len(st.Rows(result.RunID)) != 0 {
		t.Error("rows committed despite write failure")
	}
	if got := st.WriteAttempts(); got != 1 {
		t.Errorf("Write attempts = %d, want 1 (no writes after the first failure)", got)
	}
	assertMoved(t, varDir, path, "jh_import/failed/products-"+stamp+".csv")
}

func TestRunFile_ArchiveRecordFailure(t *testing.T) {
	r, st, varDir := newTestRunner(t, 10)
	st.InsertErr = errors.New("db down")

	path := writeIncoming(t, varDir, "products.csv", "sku,name\nA1,Widget\n")

	result, err := r.RunFile(context.Background(), "product", path)
	if err == nil {
		t.Fatal("RunFile() expected error")
	}
	if result.ArchivePath != "" {
		t.Errorf("ArchivePath = %q, want empty", result.ArchivePath)
	}
	if _, statErr := os.Stat(path); statErr != nil {
		t.Errorf("file should be restored to %s: %v", path, statErr)
	}
}

func TestRunFile_Batches(t *testing.T) {
	r, st, varDir := newTestRunner(t, 2)
	path := writeIncoming(t, varDir, "products.csv", "sku,name\nA1,a\nA2,b\nA3,c\nA4,d\nA5,e\n")

	result, err := r.RunFile(context.Background(), "product", path)
	if err != nil {
		t.Fatalf("RunFile() error = %v", err)
	}
	if result.Imported != 5 {
		t.Errorf("Imported = %d, want 5", result.Imported)
	}
	if got := st.Writes(); got != 3 {
		t.Errorf("Write calls = %d, want 3", got)
	}
}

func TestRunFile_SourceOptions(t *testing.T) {
	r, _, varDir := newTestRunner(t, 10)
	path := writeIncoming(t, varDir, "manual.csv", "sku;name\nA1;Widget\n")

	result, err := r.RunFile(context.Background(), "manual", path)
	if err != nil {
		t.Fatalf("RunFile() error = %v", err)
	}
	if result.Imported != 1 || result.Outcome != archive.OutcomeSuccessful {
		t.Errorf("result = %+v", result)
	}
	assertMoved(t, varDir, path, "manual/archived/manual-"+stamp+".csv")
}

func TestRunFile_Errors(t *testing.T) {
	r, st, varDir := newTestRunner(t, 10)
	ctx := context.Background()

	if _, err := r.RunFile(ctx, "missing", "x.csv"); !errors.Is(err, ErrUnknownImport) {
		t.Errorf("unknown import error = %v, want ErrUnknownImport", err)
	}

	result, err := r.RunFile(ctx, "product", filepath.Join(varDir, "nope.csv"))
	if !errors.Is(err, source.ErrOpen) {
		t.Errorf("missing file error = %v, want ErrOpen", err)
	}
	if result != nil {
		t.Errorf("result = %+v, want nil", result)
	}
	if len(st.Archives()) != 0 {
		t.Error("unopened file must not be archived")
	}

	if err := r.Limiter().Acquire(ctx, "product"); err != nil {
		t.Fatal(err)
	}
	defer r.Limiter().Release("product")
	if _, err := r.RunFile(ctx, "product", "x.csv"); !errors.Is(err, ErrJobBusy) {
		t.Errorf("busy import error = %v, want ErrJobBusy", err)
	}
}

func TestRunJob(t *testing.T) {
	r, st, varDir := newTestRunner(t, 10)
	ctx := context.Background()

	older := writeIncoming(t, varDir, "b.csv", "sku,name\nB1,Beta\n")
	newer := writeIncoming(t, varDir, "a.csv", "sku,name\nA1,Alpha\nA2\n")
	ignored := writeIncoming(t, varDir, "notes.txt", "not an import")

	now := time.Now()
	if err := os.Chtimes(older, now.Add(-time.Hour), now.Add(-time.Hour)); err != nil {
		t.Fatal(err)
	}
	if err := os.Chtimes(newer, now, now); err != nil {
		t.Fatal(err)
	}

	pending, err := r.PendingFiles("product")
	if err != nil {
		t.Fatalf("PendingFiles() error = %v", err)
	}
	if len(pending) != 2 || pending[0] != older || pending[1] != newer {
		t.Fatalf("PendingFiles() = %v, want [%s %s]", pending, older, newer)
	}

	results, err := r.RunJob(ctx, "product")
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].File != older || results[0].Outcome != archive.OutcomeSuccessful {
		t.Errorf("first result = %+v", results[0])
	}
	if results[1].File != newer || results[1].Outcome != archive.OutcomeFailed {
		t.Errorf("second result = %+v", results[1])
	}
	if _, err := os.Stat(ignored); err != nil {
		t.Errorf("non-matching file was touched: %v", err)
	}
	if len(st.Archives()) != 2 {
		t.Errorf("archive records = %d, want 2", len(st.Archives()))
	}

	results, err = r.RunJob(ctx, "product")
	if err != nil || len(results) != 0 {
		t.Errorf("second RunJob() = %d results, err %v; want none", len(results), err)
	}

	if _, err := r.RunJob(ctx, "manual"); err == nil {
		t.Error("RunJob(manual) expected error for missing incoming_directory")
	}
}

func TestRunJob_MemFs(t *testing.T) {
	jobs, err := config.ParseJobs([]byte(testJobs))
	if err != nil {
		t.Fatalf("ParseJobs() error = %v", err)
	}

	fs := afero.NewMemMapFs()
	st := storetest.NewMemory()
	r := NewRunner(jobs, st, Options{
		VarDir: "/var",
		Fs:     fs,
		Clock:  testClock,
	})

	files := map[string]string{
		"/var/jh_import/incoming/a.csv":     "sku,name\nA1,Alpha\nA2,Beta\n",
		"/var/jh_import/incoming/notes.txt": "not an import",
	}
	for path, content := range files {
		if err := afero.WriteFile(fs, path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	results, err := r.RunJob(context.Background(), "product")
	if err != nil {
		t.Fatalf("RunJob() error = %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}

	result := results[0]
	if result.Outcome != archive.OutcomeSuccessful || result.Imported != 2 || result.Lines != 3 {
		t.Errorf("result = %+v", result)
	}
	if len(st.Rows(result.RunID)) != 2 {
		t.Errorf("committed rows = %d, want 2", len(st.Rows(result.RunID)))
	}

	if ok, _ := afero.Exists(fs, "/var/jh_import/incoming/a.csv"); ok {
		t.Error("a.csv still in incoming")
	}
	if ok, _ := afero.Exists(fs, "/var/jh_import/archived/a-"+stamp+".csv"); !ok {
		t.Error("a.csv not archived on the runner's filesystem")
	}
	if ok, _ := afero.Exists(fs, "/var/jh_import/incoming/notes.txt"); !ok {
		t.Error("non-matching file was touched")
	}
}

func TestScheduler_ScanOnce(t *testing.T) {
	r, st, varDir := newTestRunner(t, 10)
	writeIncoming(t, varDir, "products.csv", "sku,name\nA1,Widget\n")

	s := NewScheduler(r, time.Hour)
	if got := s.ScanOnce(context.Background()); got != 1 {
		t.Errorf("ScanOnce() = %d, want 1", got)
	}
	if got := s.ScanOnce(context.Background()); got != 0 {
		t.Errorf("second ScanOnce() = %d, want 0", got)
	}
	if len(st.Archives()) != 1 {
		t.Errorf("archive records = %d, want 1", len(st.Archives()))
	}
}

func TestScheduler_StopsOnCancel(t *testing.T) {
	r, _, varDir := newTestRunner(t, 10)
	if err := os.MkdirAll(filepath.Join(varDir, "jh_import", "incoming"), 0o755); err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		NewScheduler(r, 10*time.Millisecond).Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestIncomingFile(t *testing.T) {
	r, _, varDir := newTestRunner(t, 10)
	path := writeIncoming(t, varDir, "products.csv", "sku,name\n")

	got, err := r.IncomingFile("product", "products.csv")
	if err != nil {
		t.Fatalf("IncomingFile() error = %v", err)
	}
	if got != path {
		t.Errorf("IncomingFile() = %q, want %q", got, path)
	}

	for _, name := range []string{"", "..", "../products.csv", "sub/products.csv", "missing.csv"} {
		if _, err := r.IncomingFile("product", name); !errors.Is(err, ErrFileNotFound) {
			t.Errorf("IncomingFile(%q) error = %v, want ErrFileNotFound", name, err)
		}
	}

	if _, err := r.IncomingFile("manual", "x.csv"); err == nil {
		t.Error("IncomingFile on import without incoming_directory should fail")
	}
}
