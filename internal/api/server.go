package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/gorilla/websocket"

	"github.com/seantiz/servicedg/internal/engine"
	"github.com/seantiz/servicedg/internal/metrics"
	"github.com/seantiz/servicedg/internal/model"
	"github.com/seantiz/servicedg/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 30 * time.Second
	maxBodySize       = 1 << 20 // 1 MB
)

// MetricsSource serves the cached metrics rollup.
type MetricsSource interface {
	Snapshot(ctx context.Context) (metrics.Snapshot, error)
}

// Server wraps the chi router and application dependencies.
type Server struct {
	router   *chi.Mux
	store    store.Store
	orch     *engine.Orchestrator
	metrics  MetricsSource
	logger   *slog.Logger
	addr     string
	upgrader websocket.Upgrader
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, s store.Store, orch *engine.Orchestrator, m MetricsSource, logger *slog.Logger) *Server {
	srv := &Server{
		router:  chi.NewRouter(),
		store:   s,
		orch:    orch,
		metrics: m,
		logger:  logger,
		addr:    addr,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id", "X-User-Id"},
		ExposedHeaders:   []string{"X-Request-Id", "Content-Disposition"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", s.metricsHandler())

	s.router.Route("/v1/blocks", func(r chi.Router) {
		r.Get("/", s.handleListBlocks)
		r.Get("/{id}", s.handleGetBlock)
		r.Put("/{id}/config", s.handleEditBlock)
		r.Put("/{id}/title", s.handleRenameBlock)
		r.Post("/{id}/{action}", s.handleBlockAction)
		r.Get("/{id}/report", s.handleGetReport)
		r.Get("/{id}/report.{format}", s.handleExportReport)
		r.Get("/{id}/events", s.handleStreamEvents)
	})

	s.router.Post("/v1/reset-all", s.handleResetAll)
	s.router.Get("/v1/settings/target-link", s.handleGetTargetLink)
	s.router.Put("/v1/settings/target-link", s.handleSetTargetLink)
	s.router.Get("/v1/total-viewers", s.handleTotalViewers)

	s.router.Get("/v1/metrics/summary", s.handleMetricsSummary)
	s.router.Get("/v1/history", s.handleListHistory)
	s.router.Get("/v1/resets", s.handleListResets)
	s.router.Get("/v1/ws", s.handleWebSocket)

	s.router.Route("/v1/operations-history", func(r chi.Router) {
		r.Post("/", s.handleRecordOperation)
		r.Get("/", s.handleQueryOperations)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is cancelled, then shuts the listener down
// gracefully.
func (s *Server) Run(ctx context.Context) error {
	httpServer := &http.Server{
		Addr:              s.addr,
		Handler:           s.router,
		ReadHeaderTimeout: readHeaderTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server listening", "addr", s.addr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down http server")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), shutdownTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}

	s.logger.Info("server stopped")
	return nil
}

// loggingMiddleware logs each request using the structured logger.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

// writeJSON writes a JSON response with the given status code.
func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("encode response", "error", err)
	}
}

// writeError writes a JSON error response.
func (s *Server) writeError(w http.ResponseWriter, status int, message string) {
	s.writeJSON(w, status, map[string]string{"error": message})
}

// validationErrorResponse names the rejected field.
type validationErrorResponse struct {
	Error string `json:"error"`
	Field string `json:"field"`
}

// writeEngineError maps engine and model errors to HTTP statuses.
func (s *Server) writeEngineError(w http.ResponseWriter, op string, err error) {
	var verr *model.ValidationError
	switch {
	case errors.As(err, &verr):
		s.writeJSON(w, http.StatusUnprocessableEntity, validationErrorResponse{Error: verr.Error(), Field: verr.Field})
	case errors.Is(err, engine.ErrUnknownBlock):
		s.writeError(w, http.StatusNotFound, "block not found")
	case errors.Is(err, engine.ErrNoReport):
		s.writeError(w, http.StatusNotFound, "block has no report yet")
	case errors.Is(err, engine.ErrBlockRunning), errors.Is(err, model.ErrInvalidTransition):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, engine.ErrShutdown):
		s.writeError(w, http.StatusServiceUnavailable, err.Error())
	default:
		s.logger.Error(op, "error", err)
		s.writeError(w, http.StatusInternalServerError, "failed to "+op)
	}
}

// decodeBody decodes a size-limited JSON request body into dst.
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	return json.NewDecoder(r.Body).Decode(dst)
}
