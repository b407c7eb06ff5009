// Пакет server — HTTP-сервер Pastry с graceful shutdown.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bigkaa/pastry/internal/api/handlers"
	"github.com/bigkaa/pastry/internal/api/middleware"
	"github.com/bigkaa/pastry/internal/config"
)

// Handlers — набор обработчиков, монтируемых на роутер.
type Handlers struct {
	Files       *handlers.FilesHandler
	Health      *handlers.HealthHandler
	Maintenance *handlers.MaintenanceHandler
	// TestHelper монтируется только при cfg.TestMode
	TestHelper *handlers.TestHelperHandler
}

// Server — HTTP-сервер Pastry.
type Server struct {
	httpServer *http.Server
	logger     *slog.Logger
	cfg        *config.Config
}

// New создаёт HTTP-сервер с настроенными routes и middleware.
func New(cfg *config.Config, logger *slog.Logger, h Handlers, limiter *middleware.RateLimiter) *Server {
	router := chi.NewRouter()

	// Middleware всего сервера
	router.Use(middleware.RequestLogger(logger))
	router.Use(middleware.MetricsMiddleware())

	// Служебные endpoints — без сессии и лимитов
	router.Get("/healthz/live", h.Health.Live)
	router.Get("/healthz/ready", h.Health.Ready)
	router.Method(http.MethodGet, "/metrics", promhttp.Handler())
	router.Post("/api/cleanup", h.Maintenance.Cleanup)

	// Пользовательский API — с сессией владельца
	router.Group(func(r chi.Router) {
		r.Use(middleware.Session(cfg.JWTSecret, logger))

		r.With(limiter.Middleware("upl", cfg.UploadRateLimit, cfg.UploadRateWindow)).
			Post("/api/upload", h.Files.Upload)
		r.With(limiter.Middleware("dl", cfg.DownloadRateLimit, cfg.DownloadRateWindow)).
			Post("/api/download/{id}", h.Files.Download)
		r.Get("/api/file/{id}/meta", h.Files.Meta)
		r.Get("/api/recent", h.Files.Recent)
	})

	// Тестовые endpoints — только в тестовом режиме
	if cfg.TestMode && h.TestHelper != nil {
		router.Post("/api/test-helper/update-file", h.TestHelper.UpdateFile)
		router.Post("/api/test-helper/cleanup-orphans", h.TestHelper.CleanupOrphans)
		router.Get("/api/test-helper/list-files", h.TestHelper.ListFiles)
		logger.Warn("Тестовые endpoints включены — не для production")
	}

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	return &Server{
		httpServer: srv,
		logger:     logger,
		cfg:        cfg,
	}
}

// Run запускает сервер и ожидает сигнала завершения (SIGINT, SIGTERM).
// При получении сигнала выполняется graceful shutdown с таймаутом
// cfg.ShutdownTimeout.
func (s *Server) Run() error {
	errCh := make(chan error, 1)

	go func() {
		s.logger.Info("HTTP-сервер запущен",
			slog.String("addr", s.httpServer.Addr),
		)

		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	// Ожидание сигнала завершения
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		s.logger.Info("Получен сигнал завершения", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("ошибка HTTP-сервера: %w", err)
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()

	s.logger.Info("Выполняется graceful shutdown...")
	if err := s.httpServer.Shutdown(ctx); err != nil {
		return fmt.Errorf("ошибка при graceful shutdown: %w", err)
	}

	s.logger.Info("HTTP-сервер остановлен")
	return nil
}
