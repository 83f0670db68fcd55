// Package web provides the HTTP server for starting and inspecting ingests
// and for reading stored documents.
package web

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/JonMunkholm/delimload/internal/config"
	"github.com/JonMunkholm/delimload/internal/ingest"
	"github.com/JonMunkholm/delimload/internal/store"
	"github.com/JonMunkholm/delimload/internal/web/middleware"
)

// DocumentReader is the read side of the document store. *store.Store
// implements it.
type DocumentReader interface {
	Get(ctx context.Context, uri string) (*store.Document, error)
	ListIngests(ctx context.Context, limit int) ([]store.IngestRecord, error)
	Ping(ctx context.Context) error
}

// Server is the HTTP server.
type Server struct {
	service *ingest.Service
	docs    DocumentReader
	cfg     *config.Config
	router  *chi.Mux
	server  *http.Server
}

// NewServer creates a Server serving ingests from service and documents
// from docs.
func NewServer(service *ingest.Service, docs DocumentReader, cfg *config.Config) *Server {
	s := &Server{
		service: service,
		docs:    docs,
		cfg:     cfg,
		router:  chi.NewRouter(),
	}
	s.setupMiddleware()
	s.setupRoutes()
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(chimw.RequestID)
	s.router.Use(middleware.TrustedRealIP(s.cfg.Security.TrustedProxies))
	s.router.Use(middleware.Logger)
	s.router.Use(chimw.Recoverer)
	s.router.Use(securityHeaders)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)

	// Pages
	s.router.With(s.timeout).Get("/ingest/{ingestID}", s.handleIngestPage)

	s.router.Route("/api", func(r chi.Router) {
		r.Use(middleware.APIKeyAuth(s.cfg.Security))

		// Server-sent events outlive the request timeout.
		r.Get("/ingest/{ingestID}/events", s.handleIngestEvents)

		r.Group(func(r chi.Router) {
			r.Use(s.timeout)

			r.Post("/ingest", s.handleStartIngest)
			r.Get("/ingest/{ingestID}", s.handleIngestStatus)
			r.Get("/ingest/{ingestID}/result", s.handleIngestResult)
			r.Get("/ingest/{ingestID}/failed-rows", s.handleFailedRows)
			r.Post("/ingest/{ingestID}/cancel", s.handleCancelIngest)
			r.Post("/ingest/{ingestID}/rollback", s.handleRollbackIngest)
			r.Get("/ingests", s.handleListIngests)
			r.Get("/documents", s.handleGetDocument)
		})
	})
}

func (s *Server) timeout(next http.Handler) http.Handler {
	if s.cfg.Server.RequestTimeout <= 0 {
		return next
	}
	return chimw.Timeout(s.cfg.Server.RequestTimeout)(next)
}

// Start listens on the configured address until Shutdown is called.
func (s *Server) Start() error {
	s.server = &http.Server{
		Addr:         s.cfg.Server.Addr(),
		Handler:      s.router,
		ReadTimeout:  s.cfg.Server.ReadTimeout,
		WriteTimeout: s.cfg.Server.WriteTimeout,
		IdleTimeout:  s.cfg.Server.IdleTimeout,
	}

	slog.Info("server listening", "addr", s.server.Addr)
	return s.server.ListenAndServe()
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

func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "default-src 'self'; style-src 'self' 'unsafe-inline'")
		w.Header().Set("Referrer-Policy", "strict-origin-when-cross-origin")
		next.ServeHTTP(w, r)
	})
}

// writeJSON encodes v as JSON with the given status.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("json encode error", "error", err)
	}
}
