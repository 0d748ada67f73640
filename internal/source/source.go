// Package source provides row-producing origins for imports.
//
// A [Source] streams records to caller-supplied callbacks one row at a time.
// Rows that do not match the header shape are reported and skipped; they never
// abort a traversal. The only implementation today is the delimited-file
// reader [CSV].
//
// # Row Positions
//
// Every row is identified by the 1-based physical line number on which it
// starts. The same number is passed to the success callback, the error
// callback and the report message, so a failure can be located in the
// original file with any text editor.
package source

// SuccessFunc receives a validated row and its line number.
// The record must not be retained past the call unless copied.
type SuccessFunc func(line int, rec Record)

// ErrorFunc receives the line number of a row that failed validation.
type ErrorFunc func(line int)

// Reporter collects human-readable error messages during a traversal.
type Reporter interface {
	AddError(message string)
}

// Source is an import origin that can be traversed row by row.
type Source interface {
	// Traverse reads every row, calling exactly one of onSuccess or onError
	// per data row, in file order. It returns an error only when the
	// underlying input cannot be read.
	Traverse(onSuccess SuccessFunc, onError ErrorFunc, report Reporter) error

	// SourceID identifies the content of the source. The same bytes always
	// produce the same ID regardless of where they are stored.
	SourceID() string
}

// Countable is implemented by sources that know their total line count.
type Countable interface {
	Count() (int, error)
}

// discardReporter drops all messages. Used when a caller passes a nil report.
type discardReporter struct{}

func (discardReporter) AddError(string) {}
