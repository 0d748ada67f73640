// Package archive moves finished import files out of the incoming area and
// records where they went.
//
// Every archived file lands in a directory chosen by the run's disposition
// (successful or failed) below the var directory, renamed with a timestamp
// so repeated imports of the same name never collide:
//
//	<var>/<archived_directory>/my-file-02032017101500.csv
//
// One [Record] is written per archived file, keyed by the content ID of the
// source, so an archived file can be traced back regardless of its name.
package archive

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
)

// ErrArchiveIO is wrapped by every filesystem failure during archiving.
var ErrArchiveIO = errors.New("archive io failure")

// TimestampLayout formats the stamp appended to archived file names (ddMMyyyyHHmmss).
const TimestampLayout = "02012006150405"

// Outcome is the terminal disposition of an import run.
type Outcome string

const (
	OutcomeSuccessful Outcome = "successful"
	OutcomeFailed     Outcome = "failed"
)

// File is the part of a source the archiver needs.
type File interface {
	Path() string
	SourceID() string
}

// Record is one archive log entry.
type Record struct {
	SourceID     string    `json:"sourceId"`
	FileLocation string    `json:"fileLocation"` // relative to the var directory, slash separated
	ImportName   string    `json:"importName,omitempty"`
	Outcome      Outcome   `json:"outcome,omitempty"`
	CreatedAt    time.Time `json:"createdAt"`
}

// Recorder persists archive records.
type Recorder interface {
	InsertArchive(ctx context.Context, rec Record) error
}

// Dirs holds the destination directories, relative to the var directory.
type Dirs struct {
	Archived string
	Failed   string
}

// Clock supplies the time used in archived file names.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock always returns the same instant.
type FixedClock time.Time

func (c FixedClock) Now() time.Time { return time.Time(c) }

// Archiver moves one source file to its final location.
type Archiver struct {
	src        File
	dirs       Dirs
	varDir     string
	fs         afero.Fs
	rec        Recorder
	clock      Clock
	importName string
}

// New creates an Archiver for src. A nil clock uses the system clock.
func New(src File, dirs Dirs, varDir string, fs afero.Fs, rec Recorder, clock Clock) *Archiver {
	if clock == nil {
		clock = SystemClock{}
	}
	return &Archiver{
		src:    src,
		dirs:   dirs,
		varDir: varDir,
		fs:     fs,
		rec:    rec,
		clock:  clock,
	}
}

// WithImportName tags written records with the import they belong to.
func (a *Archiver) WithImportName(name string) *Archiver {
	a.importName = name
	return a
}

// Successful moves the source file to the archived directory.
func (a *Archiver) Successful(ctx context.Context) (Record, error) {
	return a.archive(ctx, a.dirs.Archived, OutcomeSuccessful)
}

// Failed moves the source file to the failed directory.
func (a *Archiver) Failed(ctx context.Context) (Record, error) {
	return a.archive(ctx, a.dirs.Failed, OutcomeFailed)
}

func (a *Archiver) archive(ctx context.Context, relDir string, outcome Outcome) (Record, error) {
	now := a.clock.Now()
	srcPath := a.src.Path()

	destDir := filepath.Join(a.varDir, relDir)
	if err := a.fs.MkdirAll(destDir, 0o755); err != nil {
		return Record{}, fmt.Errorf("%w: create %s: %w", ErrArchiveIO, destDir, err)
	}

	name := ArchivedName(srcPath, now)
	destPath := filepath.Join(destDir, name)

	if err := a.fs.Rename(srcPath, destPath); err != nil {
		return Record{}, fmt.Errorf("%w: move %s to %s: %w", ErrArchiveIO, srcPath, destPath, err)
	}

	rec := Record{
		SourceID:     a.src.SourceID(),
		FileLocation: filepath.ToSlash(filepath.Join(relDir, name)),
		ImportName:   a.importName,
		Outcome:      outcome,
		CreatedAt:    now,
	}

	if err := a.rec.InsertArchive(ctx, rec); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, fmt.Errorf("record archive: %w", err))

		// Put the file back so the run can be retried from a known state.
		if rbErr := a.fs.Rename(destPath, srcPath); rbErr != nil {
			result = multierror.Append(result, fmt.Errorf("%w: restore %s: %w", ErrArchiveIO, srcPath, rbErr))
		}
		return Record{}, result.ErrorOrNil()
	}

	slog.Debug("archived import file",
		"source_id", rec.SourceID,
		"outcome", outcome,
		"location", rec.FileLocation,
	)
	return rec, nil
}

// ArchivedName returns the destination file name for path archived at t:
// the base name with the timestamp inserted before the extension.
func ArchivedName(path string, t time.Time) string {
	base := filepath.Base(path)
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)
	return fmt.Sprintf("%s-%s%s", stem, t.Format(TimestampLayout), ext)
}
