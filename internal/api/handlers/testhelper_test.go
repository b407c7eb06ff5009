package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/bigkaa/pastry/internal/service"
)

func newTestHelperEnv(t *testing.T) (*testEnv, chi.Router) {
	t.Helper()

	env := newTestEnv(t, nil)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cleanupSvc := service.NewCleanupService(env.repo, env.store, time.Hour, false, logger)
	th := NewTestHelperHandler(env.repo, env.store, cleanupSvc, logger)

	router := chi.NewRouter()
	router.Post("/api/test-helper/update-file", th.UpdateFile)
	router.Post("/api/test-helper/cleanup-orphans", th.CleanupOrphans)
	router.Get("/api/test-helper/list-files", th.ListFiles)
	return env, router
}

func TestTestHelper_UpdateFile(t *testing.T) {
	env, router := newTestHelperEnv(t)
	rec := seedRecord(t, env, "x", nil)

	body := `{"id":"` + rec.ID + `","expiresAt":"2020-01-01T00:00:00Z","downloadCount":9}`
	req := httptest.NewRequest(http.MethodPost, "/api/test-helper/update-file", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидалось 200, получено %d: %s", rr.Code, rr.Body.String())
	}

	got, err := env.repo.GetByID(context.Background(), rec.ID)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if got.DownloadCount != 9 {
		t.Errorf("ожидался счётчик 9, получено %d", got.DownloadCount)
	}
	if got.ExpiresAt == nil || got.ExpiresAt.Year() != 2020 {
		t.Errorf("срок не обновился: %v", got.ExpiresAt)
	}
}

func TestTestHelper_UpdateFile_Validation(t *testing.T) {
	_, router := newTestHelperEnv(t)

	// Без id
	req := httptest.NewRequest(http.MethodPost, "/api/test-helper/update-file",
		strings.NewReader(`{"downloadCount":1}`))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusBadRequest {
		t.Errorf("без id: ожидалось 400, получено %d", rr.Code)
	}

	// Несуществующая запись
	req = httptest.NewRequest(http.MethodPost, "/api/test-helper/update-file",
		strings.NewReader(`{"id":"nope123456","downloadCount":1}`))
	rr = httptest.NewRecorder()
	router.ServeHTTP(rr, req)
	if rr.Code != http.StatusNotFound {
		t.Errorf("неизвестный id: ожидалось 404, получено %d", rr.Code)
	}
}

func TestTestHelper_CleanupOrphans(t *testing.T) {
	env, router := newTestHelperEnv(t)

	seedRecord(t, env, "x", nil)
	w, _ := env.store.Create()
	w.Write([]byte("сирота"))
	w.Commit()

	req := httptest.NewRequest(http.MethodPost, "/api/test-helper/cleanup-orphans", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидалось 200, получено %d", rr.Code)
	}
	var resp map[string]int
	json.NewDecoder(rr.Body).Decode(&resp)
	if resp["removed"] != 1 {
		t.Errorf("ожидалось removed=1, получено %d", resp["removed"])
	}
}

func TestTestHelper_ListFiles(t *testing.T) {
	env, router := newTestHelperEnv(t)
	rec := seedRecord(t, env, "x", nil)

	req := httptest.NewRequest(http.MethodGet, "/api/test-helper/list-files", nil)
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("ожидалось 200, получено %d", rr.Code)
	}
	var resp struct {
		Meta []string `json:"meta"`
		Disk []string `json:"disk"`
	}
	json.NewDecoder(rr.Body).Decode(&resp)
	if len(resp.Meta) != 1 || resp.Meta[0] != rec.StoredName {
		t.Errorf("ожидалось meta=[%s], получено %v", rec.StoredName, resp.Meta)
	}
	if len(resp.Disk) != 1 || resp.Disk[0] != rec.StoredName {
		t.Errorf("ожидалось disk=[%s], получено %v", rec.StoredName, resp.Disk)
	}
}
