// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/pastry/internal/config"
	"github.com/bigkaa/pastry/internal/repository"
)

// statusFail — строковая константа для статуса "fail" в health checks.
const statusFail = "fail"

// HealthHandler реализует health endpoints: /healthz/live, /healthz/ready.
type HealthHandler struct {
	version string
	// storageDir — путь к директории blob'ов (для проверки FS)
	storageDir string
	// repo — репозиторий для проверки доступности хранилища метаданных
	repo repository.Repository
}

// NewHealthHandler создаёт обработчик health endpoints.
func NewHealthHandler(storageDir string, repo repository.Repository) *HealthHandler {
	return &HealthHandler{
		version:    config.Version,
		storageDir: storageDir,
		repo:       repo,
	}
}

// Live обрабатывает GET /healthz/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) Live(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "pastry",
	})
}

// Ready обрабатывает GET /healthz/ready.
// Проверяет: запись в директорию blob'ов, доступность репозитория.
func (h *HealthHandler) Ready(w http.ResponseWriter, r *http.Request) {
	overallStatus := "ok"
	httpStatus := http.StatusOK

	fsCheck := h.checkStorageDir()
	if fsCheck["status"] != "ok" {
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	repoCheck := map[string]any{"status": "ok"}
	if err := h.repo.Ping(r.Context()); err != nil {
		repoCheck = map[string]any{
			"status":  statusFail,
			"message": "Хранилище метаданных недоступно: " + err.Error(),
		}
		overallStatus = statusFail
		httpStatus = http.StatusServiceUnavailable
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   "pastry",
		"checks": map[string]any{
			"storage_dir": fsCheck,
			"repository":  repoCheck,
		},
	})
}

// checkStorageDir проверяет доступность директории blob'ов на запись.
func (h *HealthHandler) checkStorageDir() map[string]any {
	testFile := filepath.Join(h.storageDir, ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return map[string]any{
			"status":  statusFail,
			"message": "Директория хранилища недоступна для записи: " + err.Error(),
		}
	}
	_ = os.Remove(testFile)

	return map[string]any{
		"status": "ok",
	}
}
