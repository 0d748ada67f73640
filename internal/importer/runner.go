// Package importer drives import runs: it reads a source file, stages its
// valid records, and archives the file according to the outcome.
//
// A run processes exactly one file and always ends with exactly one archive
// call, unless the file could not be opened at all. The file goes to the
// import's archived directory only when every row matched the header and
// every staged row was committed; anything else sends it to the failed
// directory, with the reasons collected in the run's report.
package importer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/source"
	"github.com/JonMunkholm/csvimport/internal/store"
)

// DefaultBatchSize is the number of rows staged per write.
const DefaultBatchSize = 500

// RunResult summarizes one processed file.
type RunResult struct {
	RunID       uuid.UUID       `json:"runId"`
	Import      string          `json:"import"`
	File        string          `json:"file"`
	SourceID    string          `json:"sourceId"`
	Lines       int             `json:"lines"`
	Imported    int             `json:"imported"`
	Failed      int             `json:"failed"`
	Errors      []string        `json:"errors,omitempty"`
	Outcome     archive.Outcome `json:"outcome"`
	ArchivePath string          `json:"archivePath,omitempty"`
	Skipped     bool            `json:"skipped,omitempty"`
	DurationMS  int64           `json:"durationMs"`
}

// sourceFile is what a run needs from an opened import file.
type sourceFile interface {
	source.Source
	source.Countable
	Path() string
	Close() error
}

var _ sourceFile = (*source.CSV)(nil)

// Options tunes a Runner. Zero values select defaults.
type Options struct {
	VarDir    string
	BatchSize int
	Fs        afero.Fs
	Clock     archive.Clock
	Limiter   *RunLimiter
}

// Runner executes import runs for the configured jobs.
type Runner struct {
	jobs      *config.Jobs
	store     store.Store
	fs        afero.Fs
	clock     archive.Clock
	limiter   *RunLimiter
	varDir    string
	batchSize int
}

// NewRunner creates a runner over jobs backed by st.
func NewRunner(jobs *config.Jobs, st store.Store, opts Options) *Runner {
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.Fs == nil {
		opts.Fs = afero.NewOsFs()
	}
	if opts.Clock == nil {
		opts.Clock = archive.SystemClock{}
	}
	if opts.Limiter == nil {
		opts.Limiter = NewRunLimiter(DefaultMaxConcurrentRuns, DefaultMaxWaitTime)
	}

	return &Runner{
		jobs:      jobs,
		store:     st,
		fs:        opts.Fs,
		clock:     opts.Clock,
		limiter:   opts.Limiter,
		varDir:    opts.VarDir,
		batchSize: opts.BatchSize,
	}
}

// Jobs returns the configured imports in name order.
func (r *Runner) Jobs() []config.Job {
	return r.jobs.All()
}

// Limiter exposes the run limiter for status reporting and shutdown.
func (r *Runner) Limiter() *RunLimiter {
	return r.limiter
}

func (r *Runner) job(name string) (config.Job, error) {
	job, ok := r.jobs.Get(name)
	if !ok {
		return config.Job{}, fmt.Errorf("%w: %q", ErrUnknownImport, name)
	}
	return job, nil
}

// RunFile imports the file at path using the named import's settings.
func (r *Runner) RunFile(ctx context.Context, name, path string) (*RunResult, error) {
	job, err := r.job(name)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Acquire(ctx, name); err != nil {
		return nil, err
	}
	defer r.limiter.Release(name)

	return r.process(ctx, job, path)
}

// RunJob imports every pending file in the named import's incoming
// directory, oldest first. A file that fails does not stop the others;
// their errors are combined in the returned error. Cancelling ctx stops
// the loop between files; the file in progress is always finished.
func (r *Runner) RunJob(ctx context.Context, name string) ([]*RunResult, error) {
	job, err := r.job(name)
	if err != nil {
		return nil, err
	}

	if err := r.limiter.Acquire(ctx, name); err != nil {
		return nil, err
	}
	defer r.limiter.Release(name)

	files, err := r.pending(job)
	if err != nil {
		return nil, err
	}

	var (
		results []*RunResult
		errs    *multierror.Error
	)
	for _, path := range files {
		if ctx.Err() != nil {
			errs = multierror.Append(errs, ctx.Err())
			break
		}

		result, err := r.process(context.WithoutCancel(ctx), job, path)
		if result != nil {
			results = append(results, result)
		}
		if err != nil && !errors.Is(err, ErrAlreadyImported) {
			errs = multierror.Append(errs, fmt.Errorf("%s: %w", filepath.Base(path), err))
		}
	}

	return results, errs.ErrorOrNil()
}

// PendingFiles lists the files waiting in the named import's incoming directory.
func (r *Runner) PendingFiles(name string) ([]string, error) {
	job, err := r.job(name)
	if err != nil {
		return nil, err
	}
	return r.pending(job)
}

// IncomingFile resolves a bare file name inside the named import's
// incoming directory. Names with path separators are rejected.
func (r *Runner) IncomingFile(name, file string) (string, error) {
	job, err := r.job(name)
	if err != nil {
		return "", err
	}
	if job.IncomingDirectory == "" {
		return "", fmt.Errorf("import %q has no incoming_directory", job.Name)
	}
	if file == "" || file == "." || file == ".." || filepath.Base(file) != file {
		return "", fmt.Errorf("%w: %q", ErrFileNotFound, file)
	}

	path := filepath.Join(r.varDir, job.IncomingDirectory, file)
	ok, err := afero.Exists(r.fs, path)
	if err != nil {
		return "", fmt.Errorf("stat %s: %w", path, err)
	}
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrFileNotFound, file)
	}
	return path, nil
}

func (r *Runner) pending(job config.Job) ([]string, error) {
	if job.IncomingDirectory == "" {
		return nil, fmt.Errorf("import %q has no incoming_directory", job.Name)
	}

	dir := filepath.Join(r.varDir, job.IncomingDirectory)
	entries, err := afero.ReadDir(r.fs, dir)
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}

	type candidate struct {
		path    string
		modTime time.Time
	}
	var files []candidate
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if ok, _ := filepath.Match(job.MatchFiles, e.Name()); !ok {
			continue
		}
		files = append(files, candidate{path: filepath.Join(dir, e.Name()), modTime: e.ModTime()})
	}

	sort.SliceStable(files, func(i, j int) bool {
		if files[i].modTime.Equal(files[j].modTime) {
			return files[i].path < files[j].path
		}
		return files[i].modTime.Before(files[j].modTime)
	})

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.path
	}
	return paths, nil
}

// process runs one file. The returned result is nil only when the file
// could not be opened.
func (r *Runner) process(ctx context.Context, job config.Job, path string) (*RunResult, error) {
	start := time.Now()
	runID := uuid.New()
	logger := logging.WithFields(ctx, "run_id", runID, "import", job.Name, "file", path)

	src, err := r.open(job, path)
	if err != nil {
		logger.Error("import could not open file", "error", err)
		return nil, err
	}

	result := &RunResult{
		RunID:    runID,
		Import:   job.Name,
		File:     path,
		SourceID: src.SourceID(),
	}
	report := source.NewReport()
	logger = logger.With("source_id", result.SourceID)
	logger.Info("import started")

	runErr := r.run(ctx, job, src, report, result)

	if err := src.Close(); err != nil {
		runErr = multierror.Append(runErr, fmt.Errorf("close %s: %w", path, err)).ErrorOrNil()
	}

	arch := archive.New(src, archive.Dirs{
		Archived: job.ArchivedDirectory,
		Failed:   job.FailedDirectory,
	}, r.varDir, r.fs, r.store, r.clock).WithImportName(job.Name)

	var rec archive.Record
	var archErr error
	if runErr == nil && !report.HasErrors() {
		rec, archErr = arch.Successful(ctx)
	} else {
		rec, archErr = arch.Failed(ctx)
	}

	result.Outcome = archive.OutcomeFailed
	if archErr == nil {
		result.Outcome = rec.Outcome
		result.ArchivePath = rec.FileLocation
	}
	result.Errors = report.Errors()
	result.DurationMS = time.Since(start).Milliseconds()

	if archErr != nil {
		runErr = multierror.Append(runErr, archErr).ErrorOrNil()
	}

	logger.Info("import finished",
		"outcome", result.Outcome,
		"lines", result.Lines,
		"imported", result.Imported,
		"failed", result.Failed,
		"report_errors", len(result.Errors),
		"archive_path", result.ArchivePath,
		"duration_ms", result.DurationMS,
	)
	if runErr != nil && !errors.Is(runErr, ErrAlreadyImported) {
		logger.Error("import error", "error", runErr)
	}
	return result, runErr
}

func (r *Runner) open(job config.Job, path string) (sourceFile, error) {
	src, err := source.NewCSV(path,
		source.WithFs(r.fs),
		source.WithDelimiter(job.Source.Delimiter),
		source.WithEnclosure(job.Source.Enclosure),
		source.WithEscape(job.Source.EscapeChar()),
		source.WithHeaderRow(job.Source.HeaderRow),
	)
	if err != nil {
		return nil, err
	}
	return src, nil
}

// run checks, counts and stages the source. Row problems go to report;
// the returned error is reserved for failures that abort the run.
func (r *Runner) run(ctx context.Context, job config.Job, src sourceFile, report *source.Report, result *RunResult) error {
	seen, err := r.store.HasSource(ctx, src.SourceID())
	if err != nil {
		return err
	}
	if seen {
		result.Skipped = true
		err := fmt.Errorf("%w: source %s", ErrAlreadyImported, src.SourceID())
		report.AddError(err.Error())
		return err
	}

	if result.Lines, err = src.Count(); err != nil {
		return err
	}

	w, err := r.store.BeginRun(ctx, store.RunInfo{
		RunID:      result.RunID,
		ImportName: job.Name,
		SourceID:   src.SourceID(),
	})
	if err != nil {
		return err
	}

	staged, err := r.stage(ctx, w, src, report, result)
	if err != nil {
		if rbErr := w.Rollback(ctx); rbErr != nil {
			return multierror.Append(err, rbErr)
		}
		return err
	}

	if err := w.Commit(ctx); err != nil {
		return err
	}
	result.Imported = staged
	return nil
}

// stage writes valid rows in batches and counts the invalid ones. After
// the first failed write or a cancelled ctx the remaining rows are read
// but no longer staged.
func (r *Runner) stage(ctx context.Context, w store.RunWriter, src sourceFile, report *source.Report, result *RunResult) (int, error) {
	batch := make([]store.StagedRow, 0, r.batchSize)
	staged := 0
	var stageErr error

	flush := func() {
		if len(batch) == 0 || stageErr != nil {
			return
		}
		if err := w.Write(ctx, batch); err != nil {
			stageErr = err
			return
		}
		staged += len(batch)
		batch = batch[:0]
	}

	onSuccess := func(line int, rec source.Record) {
		if stageErr != nil {
			return
		}
		if err := ctx.Err(); err != nil {
			stageErr = err
			return
		}

		data, err := json.Marshal(rec)
		if err != nil {
			stageErr = fmt.Errorf("encode line %d: %w", line, err)
			return
		}
		batch = append(batch, store.StagedRow{Line: line, Data: data})

		if len(batch) >= r.batchSize {
			flush()
		}
	}

	onError := func(int) {
		result.Failed++
	}

	if err := src.Traverse(onSuccess, onError, report); err != nil {
		return staged, fmt.Errorf("read %s: %w", src.Path(), err)
	}

	flush()
	return staged, stageErr
}
