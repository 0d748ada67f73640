package source

import (
	"errors"

	"github.com/hashicorp/go-multierror"
)

// Report accumulates error messages for one import run.
// It is append-only; messages keep the order in which they were added.
type Report struct {
	errors []string
}

// NewReport returns an empty report.
func NewReport() *Report {
	return &Report{}
}

// AddError appends a message to the report.
func (r *Report) AddError(message string) {
	r.errors = append(r.errors, message)
}

// Errors returns a copy of the collected messages.
func (r *Report) Errors() []string {
	out := make([]string, len(r.errors))
	copy(out, r.errors)
	return out
}

// HasErrors reports whether any message was added.
func (r *Report) HasErrors() bool {
	return len(r.errors) > 0
}

// Err returns all messages combined into a single error, or nil when the
// report is clean.
func (r *Report) Err() error {
	var result *multierror.Error
	for _, msg := range r.errors {
		result = multierror.Append(result, errors.New(msg))
	}
	return result.ErrorOrNil()
}
