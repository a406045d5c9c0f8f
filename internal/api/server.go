package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/seantiz/xxfunc/internal/engine"
	"github.com/seantiz/xxfunc/internal/launcher"
	"github.com/seantiz/xxfunc/internal/model"
	"github.com/seantiz/xxfunc/internal/store"
)

const (
	shutdownTimeout   = 10 * time.Second
	readHeaderTimeout = 10 * time.Second
	writeTimeout      = 5 * time.Minute

	defaultMaxUploadBytes = 64 << 20
)

// Server wraps the chi router and application dependencies.
type Server struct {
	router         *chi.Mux
	store          store.Store
	launcher       *launcher.Launcher
	engine         *engine.Engine
	logger         *slog.Logger
	addr           string
	maxUploadBytes int64
}

// Option configures a Server.
type Option func(*Server)

// WithMaxUploadBytes caps the size of a module upload.
func WithMaxUploadBytes(n int64) Option {
	return func(s *Server) {
		if n > 0 {
			s.maxUploadBytes = n
		}
	}
}

// NewServer creates and configures a new HTTP server.
func NewServer(addr string, s store.Store, l *launcher.Launcher, eng *engine.Engine, logger *slog.Logger, opts ...Option) *Server {
	srv := &Server{
		router:         chi.NewRouter(),
		store:          s,
		launcher:       l,
		engine:         eng,
		logger:         logger,
		addr:           addr,
		maxUploadBytes: defaultMaxUploadBytes,
	}
	for _, opt := range opts {
		opt(srv)
	}

	srv.router.Use(middleware.RequestID)
	srv.router.Use(middleware.Recoverer)
	srv.router.Use(srv.loggingMiddleware)
	srv.router.Use(metricsMiddleware)
	srv.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	srv.routes()

	return srv
}

// routes registers all HTTP routes on the router.
func (s *Server) routes() {
	s.router.Get("/healthz", s.handleHealthz)
	s.router.Handle("/metrics", metricsHandler())

	// Ingestion endpoints with plain-text responses.
	s.router.Post("/deploy", s.handleDeploy)
	s.router.Post("/start", s.handleStart)

	s.router.Get("/v1/stats", s.handleGetStats)

	s.router.Route("/v1/modules", func(r chi.Router) {
		r.Post("/", s.handleCreateModule)
		r.Get("/", s.handleListModules)
		r.Get("/{name}", s.handleGetModule)
		r.Delete("/{name}", s.handleDeleteModule)
		r.Post("/{name}/start", s.handleSetModuleState(model.StateStarted))
		r.Post("/{name}/stop", s.handleSetModuleState(model.StateStopped))
	})

	s.router.Post("/v1/notifications", s.handleNotify)

	s.router.Route("/v1/executions", func(r chi.Router) {
		r.Get("/", s.handleListExecutions)
		r.Get("/{id}", s.handleGetExecution)
		r.Get("/{id}/events", s.handleStreamExecution)
	})
}

// Router returns the chi router for route registration.
func (s *Server) Router() *chi.Mux {
	return s.router
}

// Run serves HTTP until ctx is done, then shuts down gracefully.
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
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case <-ctx.Done():
		s.logger.Info("shutting down", "reason", context.Cause(ctx))
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
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
