// Пакет config — загрузка и валидация конфигурации Pastry
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Pastry.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Путь к директории хранения blob'ов (обязательный параметр)
	StorageDir string
	// Backend репозитория метаданных (sqlite, postgres, redis, memory)
	Backend string
	// Путь к файлу базы SQLite (только backend sqlite)
	SQLitePath string
	// Строка подключения PostgreSQL (только backend postgres)
	DatabaseURL string
	// Адрес Redis host:port (только backend redis)
	RedisAddr string
	// Пароль Redis (опционально)
	RedisPassword string
	// Номер базы Redis
	RedisDB int
	// Максимальный размер файла в байтах
	MaxFileSize int64
	// Требовать пароль на каждый загружаемый файл
	RequireFilePasswords bool
	// Разрешать загрузку только после предъявления админ-пароля
	AdminOnlyUploads bool
	// Админ-пароль загрузки (обязателен при AdminOnlyUploads)
	AdminPassword string
	// Скомпилированный фильтр MIME-типов (nil — фильтр выключен)
	AllowedMime *regexp.Regexp
	// Лимит загрузок на клиента за окно
	UploadRateLimit int
	// Окно лимита загрузок
	UploadRateWindow time.Duration
	// Лимит скачиваний на клиента за окно
	DownloadRateLimit int
	// Окно лимита скачиваний
	DownloadRateWindow time.Duration
	// Скрывать причину отказа скачивания (всё кроме успеха — 404)
	HideEnumeration bool
	// Интервал фонового reaper'а
	CleanupInterval time.Duration
	// Bearer-токен ручного запуска очистки (пустой — endpoint закрыт)
	CleanupToken string
	// Удалять ли записи с исчерпанным лимитом, но неистёкшим сроком
	CleanupPurgeDownloadsExceeded bool
	// Секрет подписи сессионных JWT (обязательный параметр)
	JWTSecret string
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
	// Тестовый режим: открывает служебные test-helper endpoint'ы.
	// Никогда не включать в production.
	TestMode bool
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}

	// PASTRY_PORT — порт HTTP-сервера (по умолчанию 8080)
	port, err := getEnvInt("PASTRY_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_PORT: %w", err)
	}
	if port < 1 || port > 65535 {
		return nil, fmt.Errorf("PASTRY_PORT: значение %d вне допустимого диапазона 1-65535", port)
	}
	cfg.Port = port

	// PASTRY_STORAGE_DIR — обязательный
	cfg.StorageDir, err = getEnvRequired("PASTRY_STORAGE_DIR")
	if err != nil {
		return nil, err
	}

	// PASTRY_DATABASE — backend метаданных (по умолчанию sqlite)
	cfg.Backend = getEnvDefault("PASTRY_DATABASE", "sqlite")
	validBackends := map[string]bool{"sqlite": true, "postgres": true, "redis": true, "memory": true}
	if !validBackends[cfg.Backend] {
		return nil, fmt.Errorf("PASTRY_DATABASE: недопустимое значение %q, допустимые: sqlite, postgres, redis, memory", cfg.Backend)
	}

	// PASTRY_SQLITE_PATH — путь к базе SQLite (по умолчанию pastry.db)
	cfg.SQLitePath = getEnvDefault("PASTRY_SQLITE_PATH", "pastry.db")

	// PASTRY_DATABASE_URL — строка подключения PostgreSQL
	cfg.DatabaseURL = getEnvDefault("PASTRY_DATABASE_URL", "")
	if cfg.Backend == "postgres" && cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("PASTRY_DATABASE_URL: обязателен при PASTRY_DATABASE=postgres")
	}

	// PASTRY_REDIS_ADDR — адрес Redis
	cfg.RedisAddr = getEnvDefault("PASTRY_REDIS_ADDR", "")
	if cfg.Backend == "redis" && cfg.RedisAddr == "" {
		return nil, fmt.Errorf("PASTRY_REDIS_ADDR: обязателен при PASTRY_DATABASE=redis")
	}

	// PASTRY_REDIS_PASSWORD — пароль Redis (опционально)
	cfg.RedisPassword = getEnvDefault("PASTRY_REDIS_PASSWORD", "")

	// PASTRY_REDIS_DB — номер базы Redis (по умолчанию 0)
	cfg.RedisDB, err = getEnvInt("PASTRY_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_REDIS_DB: %w", err)
	}

	// PASTRY_MAX_FILE_SIZE — максимальный размер файла (по умолчанию 50 MiB)
	maxFileSize, err := getEnvInt64("PASTRY_MAX_FILE_SIZE", 52428800)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_MAX_FILE_SIZE: %w", err)
	}
	if maxFileSize <= 0 {
		return nil, fmt.Errorf("PASTRY_MAX_FILE_SIZE: значение должно быть положительным")
	}
	cfg.MaxFileSize = maxFileSize

	// PASTRY_REQUIRE_FILE_PASSWORDS — требовать пароль на каждый файл
	cfg.RequireFilePasswords, err = getEnvBool("PASTRY_REQUIRE_FILE_PASSWORDS", false)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_REQUIRE_FILE_PASSWORDS: %w", err)
	}

	// PASTRY_ADMIN_ONLY_UPLOADS — загрузка только с админ-паролем
	cfg.AdminOnlyUploads, err = getEnvBool("PASTRY_ADMIN_ONLY_UPLOADS", false)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_ADMIN_ONLY_UPLOADS: %w", err)
	}

	// PASTRY_ADMIN_PASSWORD — админ-пароль загрузки
	cfg.AdminPassword = getEnvDefault("PASTRY_ADMIN_PASSWORD", "")

	// Режим admin-only без заданного пароля блокирует все загрузки —
	// это ошибка конфигурации, а не рабочее состояние.
	if cfg.AdminOnlyUploads && cfg.AdminPassword == "" {
		return nil, fmt.Errorf("PASTRY_ADMIN_ONLY_UPLOADS=true, но PASTRY_ADMIN_PASSWORD не задан")
	}

	// PASTRY_ALLOWED_MIME_REGEX — фильтр MIME-типов (по умолчанию выключен)
	if pattern := getEnvDefault("PASTRY_ALLOWED_MIME_REGEX", ""); pattern != "" {
		re, err := regexp.Compile(pattern)
		if err != nil {
			return nil, fmt.Errorf("PASTRY_ALLOWED_MIME_REGEX: некорректное регулярное выражение: %w", err)
		}
		cfg.AllowedMime = re
	}

	// PASTRY_UPLOAD_RATE_LIMIT — лимит загрузок за окно (по умолчанию 30)
	cfg.UploadRateLimit, err = getEnvInt("PASTRY_UPLOAD_RATE_LIMIT", 30)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_UPLOAD_RATE_LIMIT: %w", err)
	}

	// PASTRY_UPLOAD_RATE_WINDOW — окно лимита загрузок (по умолчанию 1m)
	cfg.UploadRateWindow, err = getEnvDuration("PASTRY_UPLOAD_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_UPLOAD_RATE_WINDOW: %w", err)
	}

	// PASTRY_DOWNLOAD_RATE_LIMIT — лимит скачиваний за окно (по умолчанию 60)
	cfg.DownloadRateLimit, err = getEnvInt("PASTRY_DOWNLOAD_RATE_LIMIT", 60)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_DOWNLOAD_RATE_LIMIT: %w", err)
	}

	// PASTRY_DOWNLOAD_RATE_WINDOW — окно лимита скачиваний (по умолчанию 1m)
	cfg.DownloadRateWindow, err = getEnvDuration("PASTRY_DOWNLOAD_RATE_WINDOW", time.Minute)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_DOWNLOAD_RATE_WINDOW: %w", err)
	}

	// PASTRY_HIDE_ENUMERATION — скрывать причины отказа (по умолчанию false)
	cfg.HideEnumeration, err = getEnvBool("PASTRY_HIDE_ENUMERATION", false)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_HIDE_ENUMERATION: %w", err)
	}

	// PASTRY_CLEANUP_INTERVAL — интервал reaper'а (по умолчанию 1h)
	cfg.CleanupInterval, err = getEnvDuration("PASTRY_CLEANUP_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_CLEANUP_INTERVAL: %w", err)
	}

	// PASTRY_CLEANUP_TOKEN — токен ручной очистки (опционально)
	cfg.CleanupToken = getEnvDefault("PASTRY_CLEANUP_TOKEN", "")

	// PASTRY_CLEANUP_PURGE_DOWNLOADS_EXCEEDED — удалять исчерпанные
	// до истечения срока (по умолчанию false)
	cfg.CleanupPurgeDownloadsExceeded, err = getEnvBool("PASTRY_CLEANUP_PURGE_DOWNLOADS_EXCEEDED", false)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_CLEANUP_PURGE_DOWNLOADS_EXCEEDED: %w", err)
	}

	// PASTRY_JWT_SECRET — обязательный
	cfg.JWTSecret, err = getEnvRequired("PASTRY_JWT_SECRET")
	if err != nil {
		return nil, err
	}

	// PASTRY_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("PASTRY_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("PASTRY_LOG_LEVEL: %w", err)
	}

	// PASTRY_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("PASTRY_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("PASTRY_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// PASTRY_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("PASTRY_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_SHUTDOWN_TIMEOUT: %w", err)
	}

	// PASTRY_TEST_MODE — служебные endpoint'ы тестов (по умолчанию false)
	cfg.TestMode, err = getEnvBool("PASTRY_TEST_MODE", false)
	if err != nil {
		return nil, fmt.Errorf("PASTRY_TEST_MODE: %w", err)
	}

	return cfg, nil
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	if d <= 0 {
		return 0, fmt.Errorf("длительность должна быть положительной: %q", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
