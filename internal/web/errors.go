package web

// errors.go renders API errors.
//
// Every error is logged with the technical detail and the request ID, and
// returned to the client as a mapped UserMessage so internal paths and
// driver messages never leak.

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/JonMunkholm/csvimport/internal/logging"
)

// ErrorResponse represents the JSON structure for API error responses.
type ErrorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Action  string `json:"action,omitempty"`
	Code    string `json:"code"`
}

// errBadRequest marks client input errors raised by handlers.
var errBadRequest = errors.New("bad request")

// respondError logs err and writes its mapped message with the mapped status.
func respondError(w http.ResponseWriter, r *http.Request, err error) {
	msg := MapError(err)
	status := msg.Status
	if errors.Is(err, errBadRequest) {
		msg = UserMessage{
			Message: err.Error(),
			Action:  "Fix the request and try again",
			Code:    "REQ000",
		}
		status = http.StatusBadRequest
	}

	level := slog.LevelError
	if status < http.StatusInternalServerError {
		level = slog.LevelWarn
	}
	logging.FromContext(r.Context()).Log(r.Context(), level, "request error",
		"path", r.URL.Path,
		"method", r.Method,
		"status", status,
		"error", err.Error(),
		"code", msg.Code,
	)

	writeJSON(w, status, ErrorResponse{
		Error:   msg.Message,
		Message: msg.Message,
		Action:  msg.Action,
		Code:    msg.Code,
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("json encode error", "error", err)
	}
}
