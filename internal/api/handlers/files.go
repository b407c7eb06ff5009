// files.go — HTTP handlers файловых операций Pastry.
// Upload, Download, Meta, Recent.
package handlers

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/bigkaa/pastry/internal/api/errors"
	"github.com/bigkaa/pastry/internal/api/middleware"
	"github.com/bigkaa/pastry/internal/repository"
	"github.com/bigkaa/pastry/internal/service"
)

// maxFieldBytes — предел размера одного текстового поля формы.
const maxFieldBytes = 4096

// recentLimit — размер списка недавних загрузок владельца.
const recentLimit = 25

// FilesHandler — обработчик файловых endpoints.
type FilesHandler struct {
	uploadSvc   *service.UploadService
	downloadSvc *service.DownloadService
	repo        repository.Repository
	logger      *slog.Logger
}

// NewFilesHandler создаёт обработчик файловых endpoints.
func NewFilesHandler(
	uploadSvc *service.UploadService,
	downloadSvc *service.DownloadService,
	repo repository.Repository,
	logger *slog.Logger,
) *FilesHandler {
	return &FilesHandler{
		uploadSvc:   uploadSvc,
		downloadSvc: downloadSvc,
		repo:        repo,
		logger:      logger.With(slog.String("component", "files_handler")),
	}
}

// Upload обрабатывает POST /api/upload.
// Multipart form: file (обязательно), expiresIn, maxDownloads,
// downloadPassword, adminPassword (все опциональны).
//
// Тело не буферизуется: файл уходит на диск потоково по мере чтения
// multipart. Поля формы могут идти в любом порядке относительно
// файла, поэтому валидация откладывается до конца разбора.
func (h *FilesHandler) Upload(w http.ResponseWriter, r *http.Request) {
	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, fmt.Sprintf("Ожидается multipart/form-data: %s", err.Error()))
		return
	}

	var (
		staged *service.StagedBlob
		fields = service.UploadFields{OwnerID: middleware.OwnerFromContext(r.Context())}
	)

	for {
		part, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			h.uploadSvc.Discard(staged)
			apierrors.ValidationError(w, fmt.Sprintf("Ошибка разбора multipart: %s", err.Error()))
			return
		}

		if part.FileName() != "" {
			if staged != nil {
				// Второй файл в форме не принимается
				part.Close()
				h.uploadSvc.Discard(staged)
				apierrors.ValidationError(w, "Форма содержит больше одного файла")
				return
			}
			blob, uploadErr := h.uploadSvc.Stage(part, part.FileName(), part.Header.Get("Content-Type"))
			part.Close()
			if uploadErr != nil {
				apierrors.WriteError(w, uploadErr.StatusCode, uploadErr.Code, uploadErr.Message)
				return
			}
			staged = blob
			continue
		}

		value, err := readField(part)
		part.Close()
		if err != nil {
			h.uploadSvc.Discard(staged)
			apierrors.ValidationError(w, fmt.Sprintf("Ошибка чтения поля %s: %s", part.FormName(), err.Error()))
			return
		}
		switch part.FormName() {
		case "expiresIn":
			fields.ExpiresIn = value
		case "maxDownloads":
			fields.MaxDownloads = value
		case "downloadPassword":
			fields.DownloadPassword = value
		case "adminPassword":
			fields.AdminPassword = value
		}
	}

	if staged == nil {
		apierrors.ValidationError(w, "Поле file обязательно")
		return
	}

	result, uploadErr := h.uploadSvc.Complete(r.Context(), staged, fields)
	if uploadErr != nil {
		apierrors.WriteError(w, uploadErr.StatusCode, uploadErr.Code, uploadErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{
		"id":  result.Record.ID,
		"url": result.URL,
	})
}

// readField читает значение текстового поля формы с ограничением размера.
func readField(part *multipart.Part) (string, error) {
	data, err := io.ReadAll(io.LimitReader(part, maxFieldBytes))
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// downloadRequest — тело POST /api/download/{id}.
type downloadRequest struct {
	Password *string `json:"password"`
}

// Download обрабатывает POST /api/download/{id}.
// Пароль передаётся в JSON-теле; некорректное тело трактуется
// как запрос без пароля.
func (h *FilesHandler) Download(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	var req downloadRequest
	_ = json.NewDecoder(io.LimitReader(r.Body, maxFieldBytes)).Decode(&req)

	result, downloadErr := h.downloadSvc.Serve(r.Context(), id, req.Password)
	if downloadErr != nil {
		apierrors.WriteError(w, downloadErr.StatusCode, downloadErr.Code, downloadErr.Message)
		return
	}
	defer result.File.Close()

	w.Header().Set("Content-Type", "application/octet-stream")
	w.Header().Set("Content-Length", strconv.FormatInt(result.Size, 10))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", result.Filename))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, max-age=0, no-store")
	w.Header().Set("Content-Security-Policy", "default-src 'none'")
	w.WriteHeader(http.StatusOK)

	if _, err := io.Copy(w, result.File); err != nil {
		// Клиент оборвал соединение: лимит уже потрачен, откат не делаем
		h.logger.Warn("Отдача файла прервана",
			slog.String("file_id", id),
			slog.String("error", err.Error()),
		)
	}
}

// metaResponse — тело ответа GET /api/file/{id}/meta.
type metaResponse struct {
	ID               string     `json:"id"`
	OriginalName     string     `json:"originalName"`
	ExpiresAt        *time.Time `json:"expiresAt"`
	RequiresPassword bool       `json:"requiresPassword"`
}

// Meta обрабатывает GET /api/file/{id}/meta.
// Счётчики и хэши наружу не отдаются.
func (h *FilesHandler) Meta(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	rec, downloadErr := h.downloadSvc.Meta(r.Context(), id)
	if downloadErr != nil {
		apierrors.WriteError(w, downloadErr.StatusCode, downloadErr.Code, downloadErr.Message)
		return
	}

	writeJSON(w, http.StatusOK, metaResponse{
		ID:               rec.ID,
		OriginalName:     rec.OriginalName,
		ExpiresAt:        rec.ExpiresAt,
		RequiresPassword: rec.RequiresPassword(),
	})
}

// recentItem — элемент списка недавних загрузок.
type recentItem struct {
	ID                 string     `json:"id"`
	Filename           string     `json:"filename"`
	Size               int64      `json:"size"`
	ExpiresAt          *time.Time `json:"expiresAt"`
	RemainingDownloads *int       `json:"remainingDownloads"`
}

// Recent обрабатывает GET /api/recent: неистёкшие загрузки текущей
// сессии, новые первыми.
func (h *FilesHandler) Recent(w http.ResponseWriter, r *http.Request) {
	ownerID := middleware.OwnerFromContext(r.Context())

	records, err := h.repo.ListByOwner(r.Context(), ownerID, recentLimit)
	if err != nil {
		h.logger.Error("Ошибка выборки недавних загрузок",
			slog.String("owner_id", ownerID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	items := make([]recentItem, 0, len(records))
	for _, rec := range records {
		items = append(items, recentItem{
			ID:                 rec.ID,
			Filename:           rec.OriginalName,
			Size:               rec.Size,
			ExpiresAt:          rec.ExpiresAt,
			RemainingDownloads: rec.RemainingDownloads(),
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"items": items})
}
