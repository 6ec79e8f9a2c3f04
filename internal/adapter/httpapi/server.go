package httpapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"kbrag/config"
	"kbrag/internal/logging"
	"kbrag/internal/metrics"
	"kbrag/internal/usecase"
)

const (
	ServiceName = "kbrag"
	Version     = "1.0.0"
)

// Server exposes the retrieval use case over HTTP.
type Server struct {
	cfg      config.ServerConfig
	retrieve *usecase.RetrieveUseCase
	index    *usecase.IndexUseCase // nil disables /admin/reindex
	dataDir  string
	metrics  *metrics.Metrics
	validate *validator.Validate
	logger   *zap.Logger
	router   chi.Router
}

// Options wires the optional collaborators of a Server.
type Options struct {
	Index   *usecase.IndexUseCase
	DataDir string
	Metrics *metrics.Metrics
	Logger  *zap.Logger
}

func NewServer(cfg config.ServerConfig, retrieve *usecase.RetrieveUseCase, opts Options) *Server {
	s := &Server{
		cfg:      cfg,
		retrieve: retrieve,
		index:    opts.Index,
		dataDir:  opts.DataDir,
		metrics:  opts.Metrics,
		validate: validator.New(),
		logger:   logging.OrNop(opts.Logger),
	}
	s.router = s.routes()
	return s
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)
	if s.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(s.cfg.RequestTimeout))
	}

	r.Get("/", s.handleRoot)
	r.Get("/health", s.handleHealth)
	r.Post("/retrieve", s.handleRetrieve)
	r.Get("/stats", s.handleStats)

	if s.index != nil {
		r.Post("/admin/reindex", s.handleReindex)
	}
	if s.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(s.metrics.Registry(), promhttp.HandlerOpts{}))
	}

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeError(w, http.StatusNotFound, "Not Found")
	})

	return r
}

// Handler returns the routed handler.
func (s *Server) Handler() http.Handler {
	return s.router
}

// ListenAndServe serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:         s.cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.cfg.Addr))
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := s.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	s.logger.Info("shutting down http server")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		s.logger.Info("http request",
			zap.String("request_id", middleware.GetReqID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Int("bytes", ww.BytesWritten()),
			zap.Duration("took", time.Since(start)))
	})
}
