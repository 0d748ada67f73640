package config

// jobs.go loads import definitions from YAML:
//
//	imports:
//	  product:
//	    source:
//	      delimiter: ","
//	      enclosure: '"'
//	      escape: '\'
//	      header_row: 0
//	    incoming_directory: jh_import/incoming
//	    match_files: "*.csv"
//	    archived_directory: jh_import/archived
//	    failed_directory: jh_import/failed
//
// All directories are relative to IMPORT_VAR_DIR.

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied to omitted job fields.
const (
	DefaultDelimiter  = ","
	DefaultEnclosure  = `"`
	DefaultEscape     = `\`
	DefaultMatchFiles = "*.csv"
)

// SourceOptions describes the dialect of an import's files.
type SourceOptions struct {
	Delimiter string  `yaml:"delimiter"`
	Enclosure string  `yaml:"enclosure"`
	Escape    *string `yaml:"escape"` // nil means default; "" disables escaping
	HeaderRow int     `yaml:"header_row"`
}

// EscapeChar returns the configured escape character.
func (o SourceOptions) EscapeChar() string {
	if o.Escape == nil {
		return DefaultEscape
	}
	return *o.Escape
}

// Job is one named import definition.
type Job struct {
	Name              string        `yaml:"-"`
	Source            SourceOptions `yaml:"source"`
	IncomingDirectory string        `yaml:"incoming_directory"`
	MatchFiles        string        `yaml:"match_files"`
	ArchivedDirectory string        `yaml:"archived_directory"`
	FailedDirectory   string        `yaml:"failed_directory"`
}

// Jobs is the set of configured imports, keyed by name.
type Jobs struct {
	byName map[string]Job
	names  []string
}

type jobsFile struct {
	Imports map[string]Job `yaml:"imports"`
}

// LoadJobs reads and validates the jobs file at path.
func LoadJobs(path string) (*Jobs, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read jobs file: %w", err)
	}

	jobs, err := ParseJobs(data)
	if err != nil {
		return nil, fmt.Errorf("jobs file %s: %w", path, err)
	}
	return jobs, nil
}

// ParseJobs decodes and validates a jobs document.
func ParseJobs(data []byte) (*Jobs, error) {
	var doc jobsFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}

	jobs := &Jobs{byName: make(map[string]Job, len(doc.Imports))}
	var errs []string

	for name, job := range doc.Imports {
		job.Name = name
		job.applyDefaults()
		if err := job.Validate(); err != nil {
			errs = append(errs, err.Error())
			continue
		}
		jobs.byName[name] = job
		jobs.names = append(jobs.names, name)
	}

	if len(errs) > 0 {
		sort.Strings(errs)
		return nil, fmt.Errorf("validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}

	sort.Strings(jobs.names)
	return jobs, nil
}

func (j *Job) applyDefaults() {
	if j.Source.Delimiter == "" {
		j.Source.Delimiter = DefaultDelimiter
	}
	if j.Source.Enclosure == "" {
		j.Source.Enclosure = DefaultEnclosure
	}
	if j.MatchFiles == "" {
		j.MatchFiles = DefaultMatchFiles
	}
}

// Validate checks a single job definition.
func (j *Job) Validate() error {
	var problems []string

	if j.ArchivedDirectory == "" {
		problems = append(problems, "archived_directory is required")
	} else if err := relativeDir(j.ArchivedDirectory); err != nil {
		problems = append(problems, "archived_directory "+err.Error())
	}

	if j.FailedDirectory == "" {
		problems = append(problems, "failed_directory is required")
	} else if err := relativeDir(j.FailedDirectory); err != nil {
		problems = append(problems, "failed_directory "+err.Error())
	}

	if j.IncomingDirectory != "" {
		if err := relativeDir(j.IncomingDirectory); err != nil {
			problems = append(problems, "incoming_directory "+err.Error())
		}
	}

	if _, err := filepath.Match(j.MatchFiles, ""); err != nil {
		problems = append(problems, fmt.Sprintf("match_files %q is not a valid pattern", j.MatchFiles))
	}

	if j.Source.HeaderRow < 0 {
		problems = append(problems, "source.header_row must be non-negative")
	}

	if len(problems) > 0 {
		return fmt.Errorf("import %q: %s", j.Name, strings.Join(problems, "; "))
	}
	return nil
}

// relativeDir rejects directories that would escape the var directory.
func relativeDir(dir string) error {
	if filepath.IsAbs(dir) {
		return fmt.Errorf("must be relative, got %q", dir)
	}
	clean := filepath.ToSlash(filepath.Clean(dir))
	if clean == ".." || strings.HasPrefix(clean, "../") {
		return fmt.Errorf("must stay inside the var directory, got %q", dir)
	}
	return nil
}

// Get returns the job with the given name.
func (j *Jobs) Get(name string) (Job, bool) {
	job, ok := j.byName[name]
	return job, ok
}

// Names returns the job names in sorted order.
func (j *Jobs) Names() []string {
	out := make([]string, len(j.names))
	copy(out, j.names)
	return out
}

// All returns every job in name order.
func (j *Jobs) All() []Job {
	out := make([]Job, 0, len(j.names))
	for _, name := range j.names {
		out = append(out, j.byName[name])
	}
	return out
}
