package web

// messages.go maps errors to user-facing messages with support codes.
//
// Sentinel errors from the importer, source and archive packages are
// matched with errors.Is first. Anything else falls through to
// case-insensitive substring patterns, mostly for database driver errors,
// and finally to ERR000.
//
// # Codes
//
//	IMP001 - Unknown import          (importer.ErrUnknownImport)
//	IMP002 - Import already running  (importer.ErrJobBusy)
//	IMP003 - System busy             (importer.ErrTooManyRuns)
//	IMP004 - Already imported        (importer.ErrAlreadyImported)
//	FILE001 - File cannot be opened  (source.ErrOpen)
//	FILE002 - File not found         (importer.ErrFileNotFound)
//	ARC001 - Archive failed          (archive.ErrArchiveIO)
//	DB001 - Connection refused       ("connection refused")
//	DB002 - Connection reset         ("connection reset")
//	DB003 - Database busy            ("database is locked", "deadlock")
//	REQ001 - Request cancelled       (context.Canceled)
//	REQ002 - Request timeout         (context.DeadlineExceeded, "timeout")
//	ERR000 - Unknown error
//
// When a user quotes ERR000, check the logs for the request ID: the
// technical error is always logged next to it.

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/importer"
	"github.com/JonMunkholm/csvimport/internal/source"
)

// UserMessage provides user-friendly error information with actionable guidance.
type UserMessage struct {
	Message string // What happened (user-friendly)
	Action  string // What to do about it
	Code    string // Error code for support reference
	Status  int    // HTTP status to respond with
}

type sentinelMessage struct {
	target error
	msg    UserMessage
}

var sentinelMessages = []sentinelMessage{
	{importer.ErrUnknownImport, UserMessage{
		Message: "This import is not configured",
		Action:  "Check the import name against GET /api/imports",
		Code:    "IMP001",
		Status:  http.StatusNotFound,
	}},
	{importer.ErrJobBusy, UserMessage{
		Message: "This import is already running",
		Action:  "Wait for the current run to finish",
		Code:    "IMP002",
		Status:  http.StatusConflict,
	}},
	{importer.ErrTooManyRuns, UserMessage{
		Message: "System is busy processing other imports",
		Action:  "Please wait a moment and try again",
		Code:    "IMP003",
		Status:  http.StatusServiceUnavailable,
	}},
	{importer.ErrAlreadyImported, UserMessage{
		Message: "This file content was already imported",
		Action:  "The file was moved to the failed directory; no rows were staged",
		Code:    "IMP004",
		Status:  http.StatusConflict,
	}},
	{source.ErrOpen, UserMessage{
		Message: "The import file could not be opened",
		Action:  "Check that the file exists and is readable",
		Code:    "FILE001",
		Status:  http.StatusUnprocessableEntity,
	}},
	{importer.ErrFileNotFound, UserMessage{
		Message: "The requested file is not in the incoming directory",
		Action:  "Check the file name and the import's incoming_directory",
		Code:    "FILE002",
		Status:  http.StatusNotFound,
	}},
	{archive.ErrArchiveIO, UserMessage{
		Message: "The file could not be moved to its archive directory",
		Action:  "Check permissions on the var directory",
		Code:    "ARC001",
		Status:  http.StatusInternalServerError,
	}},
	{context.Canceled, UserMessage{
		Message: "Request was cancelled",
		Action:  "Please try again",
		Code:    "REQ001",
		Status:  499,
	}},
	{context.DeadlineExceeded, UserMessage{
		Message: "Request timed out",
		Action:  "Please try again later",
		Code:    "REQ002",
		Status:  http.StatusGatewayTimeout,
	}},
}

// errorPattern defines a substring to match and its user message.
type errorPattern struct {
	pattern string
	msg     UserMessage
}

// errorPatterns are matched in order, so specific patterns come first.
var errorPatterns = []errorPattern{
	{"connection refused", UserMessage{
		Message: "Unable to connect to database",
		Action:  "Please try again in a few moments",
		Code:    "DB001",
		Status:  http.StatusServiceUnavailable,
	}},
	{"connection reset", UserMessage{
		Message: "Database connection was interrupted",
		Action:  "Please try again",
		Code:    "DB002",
		Status:  http.StatusServiceUnavailable,
	}},
	{"database is locked", UserMessage{
		Message: "Database was busy with another import",
		Action:  "Please try again",
		Code:    "DB003",
		Status:  http.StatusServiceUnavailable,
	}},
	{"deadlock", UserMessage{
		Message: "Database was busy with conflicting operations",
		Action:  "Please try again",
		Code:    "DB003",
		Status:  http.StatusServiceUnavailable,
	}},
	{"timeout", UserMessage{
		Message: "Operation timed out",
		Action:  "Please try again later",
		Code:    "REQ002",
		Status:  http.StatusGatewayTimeout,
	}},
}

var defaultMessage = UserMessage{
	Message: "An unexpected error occurred",
	Action:  "Please try again or contact support",
	Code:    "ERR000",
	Status:  http.StatusInternalServerError,
}

// MapError converts err into a user-friendly message.
func MapError(err error) UserMessage {
	if err == nil {
		return defaultMessage
	}

	for _, s := range sentinelMessages {
		if errors.Is(err, s.target) {
			return s.msg
		}
	}

	errStr := strings.ToLower(err.Error())
	for _, p := range errorPatterns {
		if strings.Contains(errStr, p.pattern) {
			return p.msg
		}
	}

	return defaultMessage
}
