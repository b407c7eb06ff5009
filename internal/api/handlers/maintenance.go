// maintenance.go — обработчик ручного запуска очистки.
package handlers

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	apierrors "github.com/bigkaa/pastry/internal/api/errors"
	"github.com/bigkaa/pastry/internal/service"
)

// MaintenanceHandler — обработчик служебных endpoints.
type MaintenanceHandler struct {
	cleanupSvc *service.CleanupService
	// token — Bearer-токен доступа; пустой — endpoint закрыт
	token  string
	logger *slog.Logger
}

// NewMaintenanceHandler создаёт обработчик служебных endpoints.
func NewMaintenanceHandler(cleanupSvc *service.CleanupService, token string, logger *slog.Logger) *MaintenanceHandler {
	return &MaintenanceHandler{
		cleanupSvc: cleanupSvc,
		token:      token,
		logger:     logger.With(slog.String("component", "maintenance_handler")),
	}
}

// Cleanup обрабатывает POST /api/cleanup: внеплановый запуск очистки.
// При заданном PASTRY_CLEANUP_TOKEN требуется совпадающий Bearer-токен.
func (h *MaintenanceHandler) Cleanup(w http.ResponseWriter, r *http.Request) {
	if h.token != "" {
		presented := strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer ")
		if subtle.ConstantTimeCompare([]byte(presented), []byte(h.token)) != 1 {
			apierrors.Unauthorized(w, "Требуется токен очистки")
			return
		}
	}

	result := h.cleanupSvc.RunOnce(r.Context())
	writeJSON(w, http.StatusOK, result)
}
