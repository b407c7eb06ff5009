// upload.go — сервис загрузки файлов.
//
// Загрузка двухфазная, потому что multipart-поля могут прийти после
// самого файла: Stage принимает байты в blob-хранилище ещё до того,
// как известны все поля формы, Complete валидирует поля и привязывает
// blob к метаданным. Любая ошибка после Stage обязана удалить blob —
// осиротевшие blob'ы не накапливаются.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/bigkaa/pastry/internal/api/errors"
	"github.com/bigkaa/pastry/internal/api/middleware"
	"github.com/bigkaa/pastry/internal/config"
	"github.com/bigkaa/pastry/internal/domain/access"
	"github.com/bigkaa/pastry/internal/domain/model"
	"github.com/bigkaa/pastry/internal/repository"
	"github.com/bigkaa/pastry/internal/storage/filestore"
)

// MaxPasswordLength — максимальная длина пароля скачивания.
const MaxPasswordLength = 30

// idInsertAttempts — число попыток вставки при коллизии публичного id.
const idInsertAttempts = 3

// UploadError — ошибка загрузки с HTTP-кодом.
type UploadError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *UploadError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// StagedBlob — blob, принятый на диск, но ещё не привязанный
// к метаданным.
type StagedBlob struct {
	// StoredName — непрозрачное имя blob'а на диске
	StoredName string
	// Size — фактический размер в байтах
	Size int64
	// OriginalName — имя файла, присланное клиентом
	OriginalName string
	// Mime — MIME-тип из multipart part (nil, если не указан)
	Mime *string
}

// UploadFields — поля формы загрузки.
type UploadFields struct {
	// AdminPassword — админ-пароль (поле adminPassword)
	AdminPassword string
	// ExpiresIn — срок действия, например "30m", "12h", "7d" (поле expiresIn)
	ExpiresIn string
	// MaxDownloads — лимит скачиваний (поле maxDownloads)
	MaxDownloads string
	// DownloadPassword — пароль скачивания (поле downloadPassword)
	DownloadPassword string
	// OwnerID — идентификатор сессии загрузившего
	OwnerID string
}

// UploadResult — результат успешной загрузки.
type UploadResult struct {
	Record *model.FileRecord
	// URL — относительная ссылка скачивания
	URL string
}

// UploadService — сервис загрузки файлов.
type UploadService struct {
	cfg    *config.Config
	repo   repository.Repository
	store  *filestore.FileStore
	logger *slog.Logger
}

// NewUploadService создаёт сервис загрузки файлов.
func NewUploadService(
	cfg *config.Config,
	repo repository.Repository,
	store *filestore.FileStore,
	logger *slog.Logger,
) *UploadService {
	return &UploadService{
		cfg:    cfg,
		repo:   repo,
		store:  store,
		logger: logger.With(slog.String("component", "upload_service")),
	}
}

// Stage принимает поток файла в blob-хранилище.
//
// Читает не больше MaxFileSize+1 байт: лишний байт означает превышение
// лимита, и blob немедленно удаляется — файл целиком на диск не пишется.
func (s *UploadService) Stage(reader io.Reader, originalName, mime string) (*StagedBlob, *UploadError) {
	w, err := s.store.Create()
	if err != nil {
		s.logger.Error("Ошибка создания blob", slog.String("error", err.Error()))
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	if _, err := io.Copy(w, io.LimitReader(reader, s.cfg.MaxFileSize+1)); err != nil {
		w.Abort()
		s.logger.Error("Ошибка записи blob",
			slog.String("stored_name", w.StoredName()),
			slog.String("error", err.Error()),
		)
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	if w.Size() > s.cfg.MaxFileSize {
		w.Abort()
		return nil, &UploadError{
			StatusCode: 413,
			Code:       apierrors.CodeFileTooLarge,
			Message:    fmt.Sprintf("Размер файла превышает максимум %d байт", s.cfg.MaxFileSize),
		}
	}

	if err := w.Commit(); err != nil {
		s.logger.Error("Ошибка фиксации blob",
			slog.String("stored_name", w.StoredName()),
			slog.String("error", err.Error()),
		)
		return nil, &UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения файла на диск",
		}
	}

	staged := &StagedBlob{
		StoredName:   w.StoredName(),
		Size:         w.Size(),
		OriginalName: originalName,
	}
	if mime != "" {
		staged.Mime = &mime
	}
	return staged, nil
}

// Discard удаляет принятый blob. Вызывается, когда загрузка
// не дошла до Complete (ошибка разбора multipart и т.п.).
func (s *UploadService) Discard(staged *StagedBlob) {
	if staged == nil {
		return
	}
	if err := s.store.Delete(staged.StoredName); err != nil {
		s.logger.Warn("Не удалось удалить blob отклонённой загрузки",
			slog.String("stored_name", staged.StoredName),
			slog.String("error", err.Error()),
		)
	}
}

// Complete валидирует поля формы и привязывает blob к метаданным.
//
// Порядок проверок:
//  1. Непустой файл
//  2. Админ-пароль (режим admin-only)
//  3. Срок действия
//  4. Лимит скачиваний
//  5. Пароль скачивания (обязательность, длина)
//  6. MIME-фильтр
//
// При любом отказе blob удаляется.
func (s *UploadService) Complete(ctx context.Context, staged *StagedBlob, fields UploadFields) (*UploadResult, *UploadError) {
	fail := func(uploadErr *UploadError) (*UploadResult, *UploadError) {
		s.Discard(staged)
		middleware.OperationsTotal.WithLabelValues("upload", "rejected").Inc()
		return nil, uploadErr
	}

	// 1. Пустой файл не принимаем
	if staged.Size == 0 {
		return fail(&UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeEmptyFile,
			Message:    "Пустой файл не принимается",
		})
	}

	// 2. Режим admin-only: загрузка только с админ-паролем
	if s.cfg.AdminOnlyUploads {
		if subtle.ConstantTimeCompare([]byte(fields.AdminPassword), []byte(s.cfg.AdminPassword)) != 1 {
			return fail(&UploadError{
				StatusCode: 401,
				Code:       apierrors.CodeUnauthorized,
				Message:    "Требуется админ-пароль загрузки",
			})
		}
	}

	now := time.Now().UTC()

	// 3. Срок действия: нераспознанное значение — максимум, не отказ
	expiresAt := ParseExpiresIn(fields.ExpiresIn, now)

	// 4. Лимит скачиваний
	var maxDownloads *int
	if fields.MaxDownloads != "" {
		n, err := strconv.Atoi(fields.MaxDownloads)
		if err != nil || n <= 0 {
			return fail(&UploadError{
				StatusCode: 400,
				Code:       apierrors.CodeInvalidDownloadLimit,
				Message:    "maxDownloads должен быть положительным целым числом",
			})
		}
		maxDownloads = &n
	}

	// 5. Пароль скачивания
	password := strings.TrimSpace(fields.DownloadPassword)
	if s.cfg.RequireFilePasswords && password == "" {
		return fail(&UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeValidationError,
			Message:    "Пароль скачивания обязателен",
		})
	}
	if len(password) > MaxPasswordLength {
		return fail(&UploadError{
			StatusCode: 400,
			Code:       apierrors.CodePasswordTooLong,
			Message:    fmt.Sprintf("Пароль длиннее %d символов", MaxPasswordLength),
		})
	}

	// 6. MIME-фильтр (best-effort: клиентский MIME не проверяется
	// по содержимому)
	if s.cfg.AllowedMime != nil && staged.Mime != nil && !s.cfg.AllowedMime.MatchString(*staged.Mime) {
		return fail(&UploadError{
			StatusCode: 400,
			Code:       apierrors.CodeMimeNotAllowed,
			Message:    fmt.Sprintf("MIME-тип %s не разрешён", *staged.Mime),
		})
	}

	var passwordHash *string
	if password != "" {
		hash, err := access.HashPassword(password)
		if err != nil {
			s.logger.Error("Ошибка хэширования пароля", slog.String("error", err.Error()))
			return fail(&UploadError{
				StatusCode: 500,
				Code:       apierrors.CodeInternalError,
				Message:    "Внутренняя ошибка",
			})
		}
		passwordHash = &hash
	}

	rec := &model.FileRecord{
		OriginalName: staged.OriginalName,
		StoredName:   staged.StoredName,
		Mime:         staged.Mime,
		Size:         staged.Size,
		CreatedAt:    now,
		ExpiresAt:    &expiresAt,
		MaxDownloads: maxDownloads,
		PasswordHash: passwordHash,
		OwnerID:      fields.OwnerID,
	}

	// Публичный id короткий, коллизия маловероятна, но возможна:
	// при конфликте генерируем новый id и повторяем вставку.
	var insertErr error
	for attempt := 0; attempt < idInsertAttempts; attempt++ {
		rec.ID = model.NewID(model.PublicIDLength)
		insertErr = s.repo.Insert(ctx, rec)
		if insertErr == nil || !errors.Is(insertErr, repository.ErrConflict) {
			break
		}
	}
	if insertErr != nil {
		s.logger.Error("Ошибка сохранения метаданных",
			slog.String("stored_name", staged.StoredName),
			slog.String("error", insertErr.Error()),
		)
		return fail(&UploadError{
			StatusCode: 500,
			Code:       apierrors.CodeInternalError,
			Message:    "Ошибка сохранения метаданных",
		})
	}

	middleware.OperationsTotal.WithLabelValues("upload", "success").Inc()

	s.logger.Info("Файл загружен",
		slog.String("file_id", rec.ID),
		slog.String("filename", rec.OriginalName),
		slog.Int64("size", rec.Size),
		slog.String("owner_id", rec.OwnerID),
		slog.Time("expires_at", expiresAt),
	)

	return &UploadResult{
		Record: rec,
		URL:    "/api/download/" + rec.ID,
	}, nil
}
