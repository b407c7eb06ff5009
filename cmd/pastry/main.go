// Точка входа Pastry — сервиса эфемерного обмена файлами.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/bigkaa/pastry/internal/api/handlers"
	"github.com/bigkaa/pastry/internal/api/middleware"
	"github.com/bigkaa/pastry/internal/config"
	"github.com/bigkaa/pastry/internal/repository"
	"github.com/bigkaa/pastry/internal/server"
	"github.com/bigkaa/pastry/internal/service"
	"github.com/bigkaa/pastry/internal/storage/filestore"
)

func main() {
	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Pastry запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("database", cfg.Backend),
		slog.String("storage_dir", cfg.StorageDir),
	)

	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Репозиторий метаданных
	repo, err := repository.Open(ctx, repository.Options{
		Backend:       cfg.Backend,
		SQLitePath:    cfg.SQLitePath,
		DatabaseURL:   cfg.DatabaseURL,
		RedisAddr:     cfg.RedisAddr,
		RedisPassword: cfg.RedisPassword,
		RedisDB:       cfg.RedisDB,
	}, logger)
	if err != nil {
		logger.Error("Ошибка инициализации репозитория", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Blob-хранилище
	store, err := filestore.New(cfg.StorageDir)
	if err != nil {
		logger.Error("Ошибка инициализации FileStore", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 3. Сервисы
	uploadSvc := service.NewUploadService(cfg, repo, store, logger)
	downloadSvc := service.NewDownloadService(cfg, repo, store, logger)
	cleanupSvc := service.NewCleanupService(repo, store, cfg.CleanupInterval,
		cfg.CleanupPurgeDownloadsExceeded, logger)

	// 4. Фоновые процессы
	cleanupSvc.Start(ctx)

	limiter := middleware.NewRateLimiter()
	limiter.StartSweeper(ctx)

	// 5. Handlers
	h := server.Handlers{
		Files:       handlers.NewFilesHandler(uploadSvc, downloadSvc, repo, logger),
		Health:      handlers.NewHealthHandler(cfg.StorageDir, repo),
		Maintenance: handlers.NewMaintenanceHandler(cleanupSvc, cfg.CleanupToken, logger),
	}
	if cfg.TestMode {
		h.TestHelper = handlers.NewTestHelperHandler(repo, store, cleanupSvc, logger)
	}

	// 6. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, h, limiter)

	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// --- Graceful shutdown фоновых процессов ---
	logger.Info("Остановка фоновых процессов...")

	cleanupSvc.Stop()
	limiter.StopSweeper()
	if err := repo.Close(); err != nil {
		logger.Error("Ошибка закрытия репозитория", slog.String("error", err.Error()))
	}

	logger.Info("Pastry остановлен")
}
