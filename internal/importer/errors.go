package importer

import "errors"

var (
	// ErrAlreadyImported marks a file whose content was archived as successful before.
	ErrAlreadyImported = errors.New("file content was already imported")

	// ErrJobBusy is returned when the import is already running.
	ErrJobBusy = errors.New("import is already running")

	// ErrTooManyRuns is returned when all run slots stay occupied past the wait time.
	ErrTooManyRuns = errors.New("too many concurrent imports, please try again later")

	// ErrFileNotFound is returned when a named file is not waiting in the incoming directory.
	ErrFileNotFound = errors.New("file not found in incoming directory")

	// ErrUnknownImport is returned for an import name missing from the jobs file.
	ErrUnknownImport = errors.New("unknown import")
)
