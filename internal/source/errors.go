package source

import (
	"errors"
	"fmt"
)

// ErrOpen is returned by constructors when the source file cannot be opened
// or read. No partially initialised source is returned alongside it.
var ErrOpen = errors.New("cannot open source")

// RowShapeError describes a data row whose field count differs from the
// header's. It is recoverable: the row is skipped and traversal continues.
type RowShapeError struct {
	Line   int // 1-based line number the row starts on
	Fields int // fields found in the row
	Header int // fields in the header
}

// Error returns the message recorded in the import report.
func (e *RowShapeError) Error() string {
	return fmt.Sprintf(`Column count does not match header count on row: "%d"`, e.Line)
}
