// testhelper.go — служебные endpoints интеграционных тестов.
//
// Регистрируются ТОЛЬКО при PASTRY_TEST_MODE=true: позволяют тестам
// форсировать истечение срока и счётчики без ожидания реального
// времени. Частью production-контракта не являются.
package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	apierrors "github.com/bigkaa/pastry/internal/api/errors"
	"github.com/bigkaa/pastry/internal/repository"
	"github.com/bigkaa/pastry/internal/service"
	"github.com/bigkaa/pastry/internal/storage/filestore"
)

// TestHelperHandler — обработчик тестовых endpoints.
type TestHelperHandler struct {
	repo       repository.Repository
	store      *filestore.FileStore
	cleanupSvc *service.CleanupService
	logger     *slog.Logger
}

// NewTestHelperHandler создаёт обработчик тестовых endpoints.
func NewTestHelperHandler(
	repo repository.Repository,
	store *filestore.FileStore,
	cleanupSvc *service.CleanupService,
	logger *slog.Logger,
) *TestHelperHandler {
	return &TestHelperHandler{
		repo:       repo,
		store:      store,
		cleanupSvc: cleanupSvc,
		logger:     logger.With(slog.String("component", "test_helper")),
	}
}

// updateFileRequest — тело POST /api/test-helper/update-file.
type updateFileRequest struct {
	ID            string     `json:"id"`
	ExpiresAt     *time.Time `json:"expiresAt"`
	DownloadCount *int       `json:"downloadCount"`
}

// UpdateFile обрабатывает POST /api/test-helper/update-file:
// прямое изменение expires_at и/или download_count записи.
func (h *TestHelperHandler) UpdateFile(w http.ResponseWriter, r *http.Request) {
	var req updateFileRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		apierrors.ValidationError(w, "Некорректное JSON-тело")
		return
	}
	if req.ID == "" {
		apierrors.ValidationError(w, "Поле id обязательно")
		return
	}

	if err := h.repo.ForceUpdate(r.Context(), req.ID, req.ExpiresAt, req.DownloadCount); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			apierrors.NotFound(w, "Запись не найдена")
			return
		}
		h.logger.Error("Ошибка тестового обновления записи",
			slog.String("file_id", req.ID),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}

	rec, err := h.repo.GetByID(r.Context(), req.ID)
	if err != nil {
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true, "record": rec})
}

// CleanupOrphans обрабатывает POST /api/test-helper/cleanup-orphans:
// удаление blob'ов без записи метаданных.
func (h *TestHelperHandler) CleanupOrphans(w http.ResponseWriter, r *http.Request) {
	removed, err := h.cleanupSvc.CleanupOrphans(r.Context())
	if err != nil {
		h.logger.Error("Ошибка очистки осиротевших blob'ов",
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"removed": removed})
}

// ListFiles обрабатывает GET /api/test-helper/list-files:
// сверка содержимого репозитория и диска.
func (h *TestHelperHandler) ListFiles(w http.ResponseWriter, r *http.Request) {
	meta, err := h.repo.ListStoredNames(r.Context())
	if err != nil {
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}
	disk, err := h.store.List()
	if err != nil {
		apierrors.InternalError(w, "Внутренняя ошибка")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"meta": meta, "disk": disk})
}
