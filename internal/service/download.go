// download.go — сервис выдачи файлов.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"
	"time"

	apierrors "github.com/bigkaa/pastry/internal/api/errors"
	"github.com/bigkaa/pastry/internal/api/middleware"
	"github.com/bigkaa/pastry/internal/config"
	"github.com/bigkaa/pastry/internal/domain/access"
	"github.com/bigkaa/pastry/internal/domain/model"
	"github.com/bigkaa/pastry/internal/repository"
	"github.com/bigkaa/pastry/internal/storage/filestore"
)

// DownloadError — ошибка скачивания с HTTP-кодом.
type DownloadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *DownloadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// DownloadResult — открытый для чтения blob и метаданные выдачи.
// Вызывающий код обязан закрыть File.
type DownloadResult struct {
	File *os.File
	// Size — размер blob'а в байтах
	Size int64
	// Filename — безопасное имя для Content-Disposition
	Filename string
}

// DownloadService — сервис выдачи файлов.
type DownloadService struct {
	cfg    *config.Config
	repo   repository.Repository
	store  *filestore.FileStore
	logger *slog.Logger
}

// NewDownloadService создаёт сервис выдачи файлов.
func NewDownloadService(
	cfg *config.Config,
	repo repository.Repository,
	store *filestore.FileStore,
	logger *slog.Logger,
) *DownloadService {
	return &DownloadService{
		cfg:    cfg,
		repo:   repo,
		store:  store,
		logger: logger.With(slog.String("component", "download_service")),
	}
}

// Serve выполняет попытку скачивания файла id с паролем password
// (nil — пароль не предъявлен).
//
// Поток:
//  1. Чтение метаданных
//  2. Оценка доступа (срок, лимит, пароль)
//  3. Проверка наличия blob'а
//  4. Атомарный инкремент счётчика — финальный арбитр лимита
//  5. Открытие blob'а для отдачи
//
// Инкремент выполняется до отдачи байтов: попытка скачивания
// расходует лимит, даже если клиент оборвёт соединение.
func (s *DownloadService) Serve(ctx context.Context, id string, password *string) (*DownloadResult, *DownloadError) {
	deny := func(downloadErr *DownloadError) (*DownloadResult, *DownloadError) {
		middleware.OperationsTotal.WithLabelValues("download", "denied").Inc()
		if s.cfg.HideEnumeration {
			// Скрываем причину отказа: наличие, срок и лимит записи
			// неотличимы от её отсутствия.
			return nil, &DownloadError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    "Файл не найден",
			}
		}
		return nil, downloadErr
	}

	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return deny(&DownloadError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    "Файл не найден",
		})
	}
	if err != nil {
		s.logger.Error("Ошибка чтения метаданных",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, &DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка",
		}
	}

	switch decision := access.Evaluate(rec, time.Now(), password); decision {
	case access.DecisionAllow:
		// продолжаем
	case access.DecisionExpired:
		return deny(&DownloadError{
			StatusCode: 410,
			Code:       apierrors.CodeExpired,
			Message:    "Срок действия ссылки истёк",
		})
	case access.DecisionLimitReached:
		return deny(&DownloadError{
			StatusCode: 410,
			Code:       apierrors.CodeLimitReached,
			Message:    "Лимит скачиваний исчерпан",
		})
	case access.DecisionPasswordRequired:
		return deny(&DownloadError{
			StatusCode: 401,
			Code:       apierrors.CodePasswordRequired,
			Message:    "Файл защищён паролем",
		})
	case access.DecisionInvalidPassword:
		return deny(&DownloadError{
			StatusCode: 403,
			Code:       apierrors.CodeInvalidPassword,
			Message:    "Неверный пароль",
		})
	default:
		return deny(&DownloadError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    "Файл не найден",
		})
	}

	if !s.store.Exists(rec.StoredName) {
		// Метаданные есть, blob'а нет: рассинхронизация хранилищ.
		s.logger.Error("Blob отсутствует на диске",
			slog.String("file_id", id),
			slog.String("stored_name", rec.StoredName),
		)
		return deny(&DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Файл недоступен",
		})
	}

	// Финальный арбитр лимита: условный инкремент в хранилище.
	// Evaluate выше мог видеть устаревший счётчик при гонке.
	allowed, err := s.repo.IncrementDownload(ctx, id)
	if err != nil {
		s.logger.Error("Ошибка инкремента счётчика",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, &DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка",
		}
	}
	if !allowed {
		return deny(&DownloadError{
			StatusCode: 410,
			Code:       apierrors.CodeLimitReached,
			Message:    "Лимит скачиваний исчерпан",
		})
	}

	f, err := s.store.Open(rec.StoredName)
	if err != nil {
		s.logger.Error("Ошибка открытия blob",
			slog.String("file_id", id),
			slog.String("stored_name", rec.StoredName),
			slog.String("error", err.Error()),
		)
		return nil, &DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Файл недоступен",
		}
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, &DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Файл недоступен",
		}
	}

	middleware.OperationsTotal.WithLabelValues("download", "success").Inc()

	s.logger.Info("Файл выдан",
		slog.String("file_id", id),
		slog.Int64("size", info.Size()),
	)

	return &DownloadResult{
		File:     f,
		Size:     info.Size(),
		Filename: SanitizeFilename(rec.OriginalName),
	}, nil
}

// Meta возвращает публичные метаданные файла без расхода лимита.
// Для истёкшей записи — Expired; при включённом скрытии перечисления
// она неотличима от отсутствующей.
func (s *DownloadService) Meta(ctx context.Context, id string) (*model.FileRecord, *DownloadError) {
	rec, err := s.repo.GetByID(ctx, id)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, &DownloadError{
			StatusCode: 404,
			Code:       apierrors.CodeNotFound,
			Message:    "Файл не найден",
		}
	}
	if err != nil {
		s.logger.Error("Ошибка чтения метаданных",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
		return nil, &DownloadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Внутренняя ошибка",
		}
	}
	if rec.IsExpired(time.Now()) {
		if s.cfg.HideEnumeration {
			return nil, &DownloadError{
				StatusCode: 404,
				Code:       apierrors.CodeNotFound,
				Message:    "Файл не найден",
			}
		}
		return nil, &DownloadError{
			StatusCode: 410,
			Code:       apierrors.CodeExpired,
			Message:    "Срок действия ссылки истёк",
		}
	}
	return rec, nil
}

// unsafeFilenameChars — всё, что не попадает в безопасный набор
// символов имени файла.
var unsafeFilenameChars = regexp.MustCompile(`[^a-zA-Z0-9_.-]+`)

// SanitizeFilename приводит имя файла к безопасному для
// Content-Disposition виду: запрещённые символы заменяются на "_",
// длина ограничивается 200 символами, пустой результат — "file".
func SanitizeFilename(name string) string {
	safe := unsafeFilenameChars.ReplaceAllString(name, "_")
	if len(safe) > 200 {
		safe = safe[:200]
	}
	if safe == "" {
		return "file"
	}
	return safe
}
