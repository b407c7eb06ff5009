// Пакет repository — слой доступа к метаданным файлов.
//
// Один интерфейс Repository, четыре backend'а: встраиваемый SQLite
// (по умолчанию), PostgreSQL (pgx), Redis (документная модель) и
// in-memory (dev/тесты). Backend выбирается один раз при старте
// фабрикой Open — бизнес-логика не ветвится по типу хранилища.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/bigkaa/pastry/internal/domain/model"
)

// Ошибки слоя репозитория.
var (
	// ErrNotFound — запись не найдена.
	ErrNotFound = errors.New("запись не найдена")
	// ErrConflict — конфликт уникальности id или stored_name.
	ErrConflict = errors.New("конфликт — запись уже существует")
)

// Repository — контракт хранилища метаданных файлов.
// Все операции принимают context и могут вернуть ошибку
// недоступности хранилища.
type Repository interface {
	// Insert сохраняет новую запись. Возвращает ErrConflict, если
	// id или stored_name уже заняты.
	Insert(ctx context.Context, rec *model.FileRecord) error

	// GetByID возвращает запись по публичному id.
	// Возвращает ErrNotFound, если записи нет.
	GetByID(ctx context.Context, id string) (*model.FileRecord, error)

	// ListByOwner возвращает неистёкшие записи владельца, новые
	// первыми, не более limit. PasswordHash не раскрывается.
	ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.FileRecord, error)

	// IncrementDownload атомарно инкрементирует счётчик скачиваний,
	// только если лимит ещё не достигнут (count = count + 1 одной
	// операцией хранилища, не read-modify-write). Возвращает false,
	// если инкремент не разрешён — лимит исчерпан или запись исчезла.
	// Это точка сериализации гонки одновременных скачиваний.
	IncrementDownload(ctx context.Context, id string) (bool, error)

	// FindExpiredOrExhausted возвращает записи, у которых истёк срок
	// действия (expires_at < now) либо исчерпан лимит скачиваний.
	FindExpiredOrExhausted(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error)

	// Delete удаляет запись. Идемпотентен: удаление несуществующего
	// id — не ошибка.
	Delete(ctx context.Context, id string) error

	// ListStoredNames возвращает stored_name всех записей.
	// Используется сверкой blob'ов с метаданными.
	ListStoredNames(ctx context.Context) ([]string, error)

	// ForceUpdate — тестовая лазейка: прямое изменение expires_at
	// и/или download_count. Не является частью production-контракта;
	// доступна по HTTP только в тестовом режиме.
	ForceUpdate(ctx context.Context, id string, expiresAt *time.Time, downloadCount *int) error

	// Ping проверяет доступность хранилища (readiness probe).
	Ping(ctx context.Context) error

	// Close освобождает ресурсы backend'а.
	Close() error
}

// Backend'ы репозитория.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
	BackendMemory   = "memory"
)

// Options — параметры подключения для фабрики Open.
type Options struct {
	// Backend — один из Backend* (по умолчанию sqlite)
	Backend string
	// SQLitePath — путь к файлу базы SQLite
	SQLitePath string
	// DatabaseURL — строка подключения PostgreSQL
	DatabaseURL string
	// RedisAddr — адрес Redis (host:port)
	RedisAddr string
	// RedisPassword — пароль Redis (опционально)
	RedisPassword string
	// RedisDB — номер базы Redis
	RedisDB int
}

// Open создаёт репозиторий выбранного backend'а.
func Open(ctx context.Context, opts Options, logger *slog.Logger) (Repository, error) {
	switch opts.Backend {
	case "", BackendSQLite:
		return NewSQLite(opts.SQLitePath, logger)
	case BackendPostgres:
		return NewPostgres(ctx, opts.DatabaseURL, logger)
	case BackendRedis:
		return NewRedis(ctx, opts.RedisAddr, opts.RedisPassword, opts.RedisDB, logger)
	case BackendMemory:
		return NewMemory(logger), nil
	default:
		return nil, fmt.Errorf("неизвестный backend репозитория: %q", opts.Backend)
	}
}
