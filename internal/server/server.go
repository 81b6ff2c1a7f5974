// Пакет server — HTTP-сервер консоли с graceful shutdown.
// Без TLS: TLS termination выполняет ingress.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-chi/chi/v5"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/api/handlers"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/api/middleware"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/config"
)

// Server — HTTP-сервер консоли.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
	// cancelRequests отменяет контексты запросов (потоки SSE) перед shutdown
	cancelRequests context.CancelFunc
}

// New создаёт сервер с маршрутами health, metrics и /api/v1.
// auth — JWT middleware для /api/v1 (nil — без аутентификации, только для тестов).
func New(
	cfg *config.Config,
	logger *slog.Logger,
	health *handlers.HealthHandler,
	api *handlers.APIHandler,
	auth func(http.Handler) http.Handler,
) *Server {
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Server{
		httpServer: &http.Server{
			Addr:         fmt.Sprintf(":%d", cfg.Port),
			Handler:      NewRouter(logger, health, api, auth),
			ReadTimeout:  cfg.HTTPReadTimeout,
			WriteTimeout: cfg.HTTPWriteTimeout,
			IdleTimeout:  cfg.HTTPIdleTimeout,
			BaseContext:  func(net.Listener) context.Context { return baseCtx },
		},
		logger:         logger,
		cfg:            cfg,
		cancelRequests: cancel,
	}
}

// NewRouter собирает chi-роутер консоли.
func NewRouter(
	logger *slog.Logger,
	health *handlers.HealthHandler,
	api *handlers.APIHandler,
	auth func(http.Handler) http.Handler,
) http.Handler {
	router := chi.NewRouter()
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Get("/metrics", health.GetMetrics)

	router.Route("/api/v1", func(r chi.Router) {
		if auth != nil {
			r.Use(auth)
			r.Use(middleware.RequireRead())
		}
		api.Routes(r)
	})

	return router
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM)
// или отмены ctx, затем выполняет graceful shutdown.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен", slog.String("addr", s.httpServer.Addr))

		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case <-ctx.Done():
		s.logger.Info("Контекст сервера отменён")
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	s.cancelRequests()
	if err := s.httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
