// Package web provides the JSON API for listing imports, triggering runs
// and browsing the archive log.
package web

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/csvimport/internal/config"
	"github.com/JonMunkholm/csvimport/internal/importer"
	"github.com/JonMunkholm/csvimport/internal/store"
	"github.com/JonMunkholm/csvimport/internal/web/middleware"
)

// Server is the HTTP server for the import service.
type Server struct {
	runner *importer.Runner
	store  store.Store
	cfg    *config.Config
	router *chi.Mux
	server *http.Server
}

// NewServer creates a Server with middleware and routes configured.
func NewServer(runner *importer.Runner, st store.Store, cfg *config.Config) *Server {
	s := &Server{
		runner: runner,
		store:  st,
		cfg:    cfg,
		router: chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxyList()))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes.
// Runs are exempt from the request timeout; they finish even when the
// client gives up.
func (s *Server) setupRoutes() {
	timeout := func(next http.Handler) http.Handler { return next }
	if s.cfg.Server.RequestTimeout > 0 {
		timeout = chimw.Timeout(s.cfg.Server.RequestTimeout)
	}

	s.router.With(timeout).Get("/healthz", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security.RequireAPIKey, s.cfg.Security.APIKeyList()))

		r.With(timeout).Get("/imports", s.handleListImports)
		r.With(timeout).Get("/archives", s.handleListArchives)
		r.Post("/imports/{name}/run", s.handleRunImport)
	})
}

// Start begins listening for HTTP requests. It returns nil after a
// graceful Shutdown.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:        s.cfg.Server.Addr(),
		Handler:     s.router,
		ReadTimeout: s.cfg.Server.ReadTimeout,
		IdleTimeout: s.cfg.Server.IdleTimeout,
	}

	slog.Info("server starting", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	return s.server.Shutdown(ctx)
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		w.Header().Set("Referrer-Policy", "no-referrer")
		w.Header().Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}
