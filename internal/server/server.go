// Пакет server — HTTP-сервер Guide Intake с graceful shutdown.
// Без TLS — TLS termination на ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	apierrors "github.com/bigkaa/guidehub/guide-intake/internal/api/errors"
	"github.com/bigkaa/guidehub/guide-intake/internal/api/handlers"
	"github.com/bigkaa/guidehub/guide-intake/internal/api/middleware"
	"github.com/bigkaa/guidehub/guide-intake/internal/api/openapi"
	"github.com/bigkaa/guidehub/guide-intake/internal/config"
	"github.com/bigkaa/guidehub/guide-intake/internal/service"
)

// Области rate limiting.
const (
	scopeApply = "apply"
	scopeLogin = "login"
)

// Deps — обработчики и middleware, из которых собирается роутер.
type Deps struct {
	Applications *handlers.ApplicationsHandler
	Auth         *handlers.AuthHandler
	Health       *handlers.HealthHandler
	OpenAPI      *openapi.Document
	// JWTAuth — проверка токенов администратора (обязательна)
	JWTAuth *middleware.JWTAuth
	// Limiter — nil, если rate limiting выключен
	Limiter middleware.Limiter
}

// Server — HTTP-сервер Guide Intake.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, deps Deps) *Server {
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      NewRouter(cfg, logger, deps),
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// NewRouter собирает chi-роутер со всеми маршрутами сервиса.
//
//	public: /health*, /metrics, /api/openapi.yaml, /api/auth/login, /api/guides/apply
//	admin:  /api/guides/applications/** (JWT + applications:read)
func NewRouter(cfg *config.Config, logger *slog.Logger, deps Deps) chi.Router {
	router := chi.NewRouter()

	router.Use(chimw.RequestID)
	router.Use(chimw.RealIP)
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())
	router.Use(middleware.Recoverer(logger))
	router.Use(middleware.CORS(middleware.NewOriginPolicy(cfg.AllowedOrigins), logger))

	router.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		apierrors.NotFound(w, "Route not found")
	})

	// Служебные endpoints
	router.Get("/health", deps.Health.Health)
	router.Get("/health/live", deps.Health.HealthLive)
	router.Get("/health/ready", deps.Health.HealthReady)
	router.Handle("/metrics", promhttp.Handler())
	router.Handle("/api/openapi.yaml", deps.OpenAPI.Handler())

	rateLimited := func(scope string, limit int) func(http.Handler) http.Handler {
		if deps.Limiter == nil {
			return func(next http.Handler) http.Handler { return next }
		}
		return middleware.RateLimit(deps.Limiter, scope, limit, logger)
	}

	router.With(rateLimited(scopeLogin, cfg.RateLimitLogin)).Post("/api/auth/login", deps.Auth.Login)
	router.With(rateLimited(scopeApply, cfg.RateLimitApply)).Post("/api/guides/apply", deps.Applications.Apply)

	router.Route("/api/guides/applications", func(r chi.Router) {
		r.Use(deps.JWTAuth.Middleware())
		r.Use(middleware.RequireScope(service.ScopeApplicationsRead))

		r.Get("/", deps.Applications.List)
		r.Get("/{id}", deps.Applications.Get)
		r.Get("/{id}/files/{kind}", deps.Applications.DownloadAttachment)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown.
func (s *Server) Run() error {
	// Канал для ошибок сервера
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
