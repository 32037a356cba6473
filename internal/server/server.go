package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/rfichi/borrowed-book-api/internal/featureflags"
	"github.com/rfichi/borrowed-book-api/internal/handler"
	"github.com/rfichi/borrowed-book-api/internal/observability/metrics"
	"github.com/rfichi/borrowed-book-api/internal/observability/tracing"
	"github.com/rfichi/borrowed-book-api/internal/security/audit"
	"github.com/rfichi/borrowed-book-api/internal/security/auth"
	"github.com/rfichi/borrowed-book-api/internal/security/middleware"
	"github.com/rfichi/borrowed-book-api/internal/security/ratelimit"
	"github.com/rfichi/borrowed-book-api/pkg/config"
)

const shutdownTimeout = 30 * time.Second

// Server is one HTTP service with the shared middleware chain
type Server struct {
	cfg     *config.Config
	log     *slog.Logger
	router  *handler.Router
	limiter *ratelimit.Limiter
	http    *http.Server
}

// New registers the operational endpoints on router and wraps it with the
// middleware chain: request ID -> CORS -> auth -> audit -> rate limit ->
// content checks -> metrics -> routes.
func New(cfg *config.Config, log *slog.Logger, tokens *auth.TokenManager, router *handler.Router) *Server {
	router.HandleOperational("GET /metrics", promhttp.Handler())
	if featureflags.Enabled(featureflags.Docs, true) {
		handler.NewDocsHandler(handler.DocsConfig{
			Title:     cfg.ServiceName + " service",
			Version:   "1.0.0",
			Username:  cfg.DocsUsername,
			Password:  cfg.DocsPassword,
			UserEmail: cfg.DocsUserEmail,
		}, tokens, router.Routes, log).Register(router)
	}

	limiter := ratelimit.NewLimiter(cfg.RateLimitRequests, cfg.RateLimitWindow)
	root := Chain(router,
		middleware.RequestID(log),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.Authenticate(tokens, cfg.InternalAPIKey, log),
		middleware.AuditMiddleware(audit.NewLogger(log)),
		middleware.RateLimitMiddleware(limiter, log),
		middleware.ValidateJSONContentType(log, handler.TokenPath),
		middleware.SanitizeInputs(log),
		metrics.HTTPMetricsMiddleware(cfg.ServiceName),
	)

	return &Server{
		cfg:     cfg,
		log:     log,
		router:  router,
		limiter: limiter,
		http: &http.Server{
			Addr:         cfg.Addr(),
			Handler:      tracing.Handler(root, cfg.ServiceName),
			ReadTimeout:  15 * time.Second,
			WriteTimeout: 15 * time.Second,
			IdleTimeout:  60 * time.Second,
		},
	}
}

// Chain applies middlewares so the first one listed is the outermost
func Chain(h http.Handler, mws ...func(http.Handler) http.Handler) http.Handler {
	for i := len(mws) - 1; i >= 0; i-- {
		h = mws[i](h)
	}
	return h
}

// Handler returns the fully wrapped handler
func (s *Server) Handler() http.Handler {
	return s.http.Handler
}

// Run serves until ctx is cancelled, then shuts down gracefully
func (s *Server) Run(ctx context.Context) error {
	defer s.limiter.Stop()

	errCh := make(chan error, 1)
	go func() {
		s.log.Info("server starting",
			slog.String("service", s.cfg.ServiceName),
			slog.Int("port", s.cfg.ServerPort),
			slog.Int("rate_limit", s.cfg.RateLimitRequests),
			slog.Duration("rate_limit_window", s.cfg.RateLimitWindow),
		)
		if err := s.http.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	s.log.Info("shutdown signal received")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.http.Shutdown(shutdownCtx); err != nil {
		return err
	}
	s.log.Info("server stopped")
	return nil
}
