// Package web provides the JSON HTTP API for spreadsheet imports.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/itemstage/internal/config"
	"github.com/JonMunkholm/itemstage/internal/core"
	"github.com/JonMunkholm/itemstage/internal/extract"
	"github.com/JonMunkholm/itemstage/internal/web/middleware"
)

// Options configures a Server.
type Options struct {
	Server      config.ServerConfig
	MaxFileSize int64
	HeaderRows  int
}

// OptionsFromConfig builds Options from the application config.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		Server:      cfg.Server,
		MaxFileSize: cfg.Import.MaxFileSize,
		HeaderRows:  cfg.Import.HeaderRows,
	}
}

// Server is the HTTP server for the import API.
type Server struct {
	service *core.Service
	opts    Options
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a new Server instance.
func NewServer(service *core.Service, opts Options) *Server {
	if opts.MaxFileSize <= 0 {
		opts.MaxFileSize = extract.DefaultMaxSize
	}
	s := &Server{
		service: service,
		opts:    opts,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()

	cfg := opts.Server
	s.server = &http.Server{
		Addr:         cfg.Addr(),
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout, // zero keeps SSE streams open
		IdleTimeout:  cfg.IdleTimeout,
	}
	return s
}

// setupMiddleware configures middleware for all routes.
func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(chimw.RealIP)
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

// setupRoutes configures all HTTP routes. Progress streams and result waits
// are long-lived and sit outside the request timeout.
func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)

	s.router.Route("/api", func(r chi.Router) {
		r.Get("/sessions/{sessionID}/progress", s.handleProgress)
		r.Get("/sessions/{sessionID}/result", s.handleStageResult)

		r.Group(func(r chi.Router) {
			if t := s.opts.Server.RequestTimeout; t > 0 {
				r.Use(chimw.Timeout(t))
			}

			r.Get("/columns", s.handleColumns)

			r.Post("/sessions", s.handleCreateSession)
			r.Get("/sessions/{sessionID}", s.handleGetSession)
			r.Delete("/sessions/{sessionID}", s.handleDeleteSession)
			r.Post("/sessions/{sessionID}/reset", s.handleResetSession)
			r.Post("/sessions/{sessionID}/validate", s.handleValidate)
			r.Post("/sessions/{sessionID}/stage", s.handleStage)
			r.Post("/sessions/{sessionID}/cancel", s.handleCancelStage)
			r.Get("/sessions/{sessionID}/diff", s.handleDiff)
			r.Post("/sessions/{sessionID}/apply", s.handleApply)

			r.Get("/staging", s.handleStagingStatus)
			r.Delete("/staging", s.handleClearStaging)

			r.Post("/identifiers/refresh", s.handleRefreshIdentifiers)
			r.Get("/identifiers", s.handleListIdentifiers)
		})
	})
}

// Start begins listening for HTTP requests. It returns http.ErrServerClosed
// after Shutdown.
func (s *Server) Start() error {
	slog.Info("server starting", "addr", s.server.Addr)
	return s.server.ListenAndServe()
}

// Shutdown gracefully stops the server. Connections still open when ctx
// expires, such as progress streams, are closed.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.server.Shutdown(ctx); err != nil {
		_ = s.server.Close()
		return err
	}
	return nil
}

// Router returns the underlying chi router for testing.
func (s *Server) Router() *chi.Mux {
	return s.router
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"writer": s.service.Gate().Status(),
		"time":   time.Now().UTC(),
	})
}

// securityHeaders adds security headers to all responses.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Referrer-Policy", "no-referrer")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
// Logs encoding errors since headers are already sent.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
