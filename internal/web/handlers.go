package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/JonMunkholm/csvimport/internal/archive"
	"github.com/JonMunkholm/csvimport/internal/importer"
	"github.com/JonMunkholm/csvimport/internal/logging"
	"github.com/JonMunkholm/csvimport/internal/store"
)

// healthTimeout bounds the database ping of /healthz.
const healthTimeout = 2 * time.Second

// maxRunBody limits the JSON body of a run request.
const maxRunBody = 4 << 10

// handleHealth reports whether the database is reachable.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
	defer cancel()

	if err := s.store.Ping(ctx); err != nil {
		logging.FromContext(r.Context()).Warn("health check failed", "error", err)
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// importInfo describes one configured import.
type importInfo struct {
	Name              string `json:"name"`
	IncomingDirectory string `json:"incomingDirectory,omitempty"`
	MatchFiles        string `json:"matchFiles"`
	ArchivedDirectory string `json:"archivedDirectory"`
	FailedDirectory   string `json:"failedDirectory"`
	Pending           int    `json:"pending"`
	PendingError      string `json:"pendingError,omitempty"`
	Running           bool   `json:"running"`
}

type importsResponse struct {
	Imports []importInfo           `json:"imports"`
	Limiter importer.LimiterStatus `json:"limiter"`
}

// handleListImports lists configured imports with their pending file counts.
func (s *Server) handleListImports(w http.ResponseWriter, r *http.Request) {
	limiter := s.runner.Limiter()
	resp := importsResponse{
		Imports: []importInfo{},
		Limiter: limiter.Status(),
	}

	for _, job := range s.runner.Jobs() {
		info := importInfo{
			Name:              job.Name,
			IncomingDirectory: job.IncomingDirectory,
			MatchFiles:        job.MatchFiles,
			ArchivedDirectory: job.ArchivedDirectory,
			FailedDirectory:   job.FailedDirectory,
			Running:           limiter.Busy(job.Name),
		}
		if job.IncomingDirectory != "" {
			files, err := s.runner.PendingFiles(job.Name)
			if err != nil {
				info.PendingError = MapError(err).Message
			}
			info.Pending = len(files)
		}
		resp.Imports = append(resp.Imports, info)
	}

	writeJSON(w, http.StatusOK, resp)
}

// runRequest optionally names a single incoming file to import.
type runRequest struct {
	File string `json:"file"`
}

type runResponse struct {
	Results []*importer.RunResult `json:"results"`
	Error   *ErrorResponse        `json:"error,omitempty"`
}

// handleRunImport runs one import now. Without a body every pending file
// is processed; {"file": "name.csv"} restricts the run to that file.
//
// The run is detached from request cancellation so a dropped client never
// leaves a file half-staged.
func (s *Server) handleRunImport(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")

	var req runRequest
	if r.Body != nil {
		err := json.NewDecoder(io.LimitReader(r.Body, maxRunBody)).Decode(&req)
		if err != nil && !errors.Is(err, io.EOF) {
			respondError(w, r, fmt.Errorf("%w: invalid JSON body: %v", errBadRequest, err))
			return
		}
	}

	ctx := context.WithoutCancel(r.Context())

	var (
		results []*importer.RunResult
		err     error
	)
	if req.File != "" {
		var path string
		if path, err = s.runner.IncomingFile(name, req.File); err != nil {
			respondError(w, r, err)
			return
		}
		var result *importer.RunResult
		result, err = s.runner.RunFile(ctx, name, path)
		if result != nil {
			results = append(results, result)
		}
	} else {
		results, err = s.runner.RunJob(ctx, name)
	}

	if err != nil && len(results) == 0 {
		respondError(w, r, err)
		return
	}

	resp := runResponse{Results: results}
	if resp.Results == nil {
		resp.Results = []*importer.RunResult{}
	}
	if err != nil {
		// Some files ran; report the rest alongside their results.
		msg := MapError(err)
		logging.FromContext(r.Context()).Warn("import run finished with errors", "import", name, "error", err, "code", msg.Code)
		resp.Error = &ErrorResponse{Error: msg.Message, Message: msg.Message, Action: msg.Action, Code: msg.Code}
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleListArchives returns the newest archive records.
func (s *Server) handleListArchives(w http.ResponseWriter, r *http.Request) {
	limit := store.DefaultListLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 {
			respondError(w, r, fmt.Errorf("%w: limit must be a positive integer", errBadRequest))
			return
		}
		limit = n
	}

	records, err := s.store.ListArchives(r.Context(), limit)
	if err != nil {
		respondError(w, r, err)
		return
	}
	if records == nil {
		records = []archive.Record{}
	}

	writeJSON(w, http.StatusOK, map[string]any{"archives": records})
}
