package service

import (
	"context"
	"io"
	"sync"
	"testing"
	"time"

	apierrors "github.com/bigkaa/pastry/internal/api/errors"
	"github.com/bigkaa/pastry/internal/config"
	"github.com/bigkaa/pastry/internal/domain/access"
	"github.com/bigkaa/pastry/internal/domain/model"
	"github.com/bigkaa/pastry/internal/repository"
	"github.com/bigkaa/pastry/internal/storage/filestore"
)

// seedFile пишет blob и вставляет запись метаданных.
func seedFile(
	t *testing.T,
	repo *repository.Memory,
	store *filestore.FileStore,
	content string,
	mutate func(*model.FileRecord),
) *model.FileRecord {
	t.Helper()

	w, err := store.Create()
	if err != nil {
		t.Fatalf("неожиданная ошибка создания blob: %v", err)
	}
	if _, err := w.Write([]byte(content)); err != nil {
		t.Fatalf("неожиданная ошибка записи blob: %v", err)
	}
	if err := w.Commit(); err != nil {
		t.Fatalf("неожиданная ошибка фиксации blob: %v", err)
	}

	exp := time.Now().Add(time.Hour).UTC()
	rec := &model.FileRecord{
		ID:           model.NewID(model.PublicIDLength),
		OriginalName: "report.txt",
		StoredName:   w.StoredName(),
		Size:         int64(len(content)),
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    &exp,
		OwnerID:      "owner-1",
	}
	if mutate != nil {
		mutate(rec)
	}
	if err := repo.Insert(context.Background(), rec); err != nil {
		t.Fatalf("неожиданная ошибка Insert: %v", err)
	}
	return rec
}

func TestDownload_Success(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())
	ctx := context.Background()

	rec := seedFile(t, repo, store, "содержимое", nil)

	result, downloadErr := svc.Serve(ctx, rec.ID, nil)
	if downloadErr != nil {
		t.Fatalf("неожиданная ошибка Serve: %v", downloadErr)
	}
	defer result.File.Close()

	data, err := io.ReadAll(result.File)
	if err != nil {
		t.Fatalf("неожиданная ошибка чтения: %v", err)
	}
	if string(data) != "содержимое" {
		t.Errorf("ожидалось %q, получено %q", "содержимое", string(data))
	}
	if result.Size != int64(len("содержимое")) {
		t.Errorf("ожидался размер %d, получено %d", len("содержимое"), result.Size)
	}
	if result.Filename != "report.txt" {
		t.Errorf("ожидалось имя report.txt, получено %s", result.Filename)
	}

	got, _ := repo.GetByID(ctx, rec.ID)
	if got.DownloadCount != 1 {
		t.Errorf("ожидался счётчик 1 после скачивания, получено %d", got.DownloadCount)
	}
}

func TestDownload_NotFound(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())

	_, downloadErr := svc.Serve(context.Background(), "nope123456", nil)
	if downloadErr == nil {
		t.Fatal("ожидался отказ")
	}
	if downloadErr.StatusCode != 404 || downloadErr.Code != apierrors.CodeNotFound {
		t.Errorf("ожидалось 404 %s, получено %d %s",
			apierrors.CodeNotFound, downloadErr.StatusCode, downloadErr.Code)
	}
}

func TestDownload_Expired(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())

	rec := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		past := time.Now().Add(-time.Minute)
		rec.ExpiresAt = &past
	})

	_, downloadErr := svc.Serve(context.Background(), rec.ID, nil)
	if downloadErr == nil {
		t.Fatal("ожидался отказ")
	}
	if downloadErr.StatusCode != 410 || downloadErr.Code != apierrors.CodeExpired {
		t.Errorf("ожидалось 410 %s, получено %d %s",
			apierrors.CodeExpired, downloadErr.StatusCode, downloadErr.Code)
	}
}

func TestDownload_LimitReached(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())

	rec := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		max := 2
		rec.MaxDownloads = &max
		rec.DownloadCount = 2
	})

	_, downloadErr := svc.Serve(context.Background(), rec.ID, nil)
	if downloadErr == nil {
		t.Fatal("ожидался отказ")
	}
	if downloadErr.StatusCode != 410 || downloadErr.Code != apierrors.CodeLimitReached {
		t.Errorf("ожидалось 410 %s, получено %d %s",
			apierrors.CodeLimitReached, downloadErr.StatusCode, downloadErr.Code)
	}
}

func TestDownload_PasswordFlow(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())
	ctx := context.Background()

	hash, err := access.HashPassword("секрет")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	rec := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		rec.PasswordHash = &hash
	})

	_, downloadErr := svc.Serve(ctx, rec.ID, nil)
	if downloadErr == nil || downloadErr.StatusCode != 401 || downloadErr.Code != apierrors.CodePasswordRequired {
		t.Errorf("без пароля: ожидалось 401 %s, получено %v", apierrors.CodePasswordRequired, downloadErr)
	}

	wrong := "неверный"
	_, downloadErr = svc.Serve(ctx, rec.ID, &wrong)
	if downloadErr == nil || downloadErr.StatusCode != 403 || downloadErr.Code != apierrors.CodeInvalidPassword {
		t.Errorf("неверный пароль: ожидалось 403 %s, получено %v", apierrors.CodeInvalidPassword, downloadErr)
	}

	// Отказы по паролю не расходуют лимит
	got, _ := repo.GetByID(ctx, rec.ID)
	if got.DownloadCount != 0 {
		t.Errorf("счётчик не должен расти при отказах, получено %d", got.DownloadCount)
	}

	right := "секрет"
	result, downloadErr := svc.Serve(ctx, rec.ID, &right)
	if downloadErr != nil {
		t.Fatalf("верный пароль должен пройти: %v", downloadErr)
	}
	result.File.Close()
}

func TestDownload_HideEnumeration(t *testing.T) {
	cfg, repo, store := newTestEnv(t, func(cfg *config.Config) {
		cfg.HideEnumeration = true
	})
	svc := NewDownloadService(cfg, repo, store, svcLogger())
	ctx := context.Background()

	hash, _ := access.HashPassword("секрет")
	expired := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		past := time.Now().Add(-time.Minute)
		rec.ExpiresAt = &past
	})
	locked := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		rec.PasswordHash = &hash
	})

	// Любой отказ неотличим от отсутствия файла
	for _, id := range []string{expired.ID, locked.ID, "nope123456"} {
		_, downloadErr := svc.Serve(ctx, id, nil)
		if downloadErr == nil {
			t.Fatalf("id=%s: ожидался отказ", id)
		}
		if downloadErr.StatusCode != 404 || downloadErr.Code != apierrors.CodeNotFound {
			t.Errorf("id=%s: ожидалось 404 %s, получено %d %s",
				id, apierrors.CodeNotFound, downloadErr.StatusCode, downloadErr.Code)
		}
	}
}

func TestDownload_MissingBlob(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())
	ctx := context.Background()

	rec := seedFile(t, repo, store, "x", nil)
	if err := store.Delete(rec.StoredName); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	_, downloadErr := svc.Serve(ctx, rec.ID, nil)
	if downloadErr == nil {
		t.Fatal("ожидался отказ")
	}
	if downloadErr.StatusCode != 500 || downloadErr.Code != apierrors.CodeInternalError {
		t.Errorf("ожидалось 500 %s, получено %d %s",
			apierrors.CodeInternalError, downloadErr.StatusCode, downloadErr.Code)
	}

	// Лимит не расходуется, если blob недоступен
	got, _ := repo.GetByID(ctx, rec.ID)
	if got.DownloadCount != 0 {
		t.Errorf("счётчик не должен расти, получено %d", got.DownloadCount)
	}
}

func TestDownload_ConcurrentLimitOne(t *testing.T) {
	// Лимит 1: из конкурентных попыток скачивания проходит ровно одна
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())
	ctx := context.Background()

	rec := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		max := 1
		rec.MaxDownloads = &max
	})

	const workers = 5
	var wg sync.WaitGroup
	var mu sync.Mutex
	successes := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			result, downloadErr := svc.Serve(ctx, rec.ID, nil)
			if downloadErr == nil {
				mu.Lock()
				successes++
				mu.Unlock()
				result.File.Close()
				return
			}
			if downloadErr.Code != apierrors.CodeLimitReached {
				t.Errorf("ожидался код %s, получено %s",
					apierrors.CodeLimitReached, downloadErr.Code)
			}
		}()
	}
	wg.Wait()

	if successes != 1 {
		t.Errorf("ожидалось ровно 1 успешное скачивание, получено %d", successes)
	}
}

func TestMeta(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())
	ctx := context.Background()

	rec := seedFile(t, repo, store, "x", nil)

	got, downloadErr := svc.Meta(ctx, rec.ID)
	if downloadErr != nil {
		t.Fatalf("неожиданная ошибка: %v", downloadErr)
	}
	if got.ID != rec.ID || got.OriginalName != "report.txt" {
		t.Errorf("метаданные не совпадают: %+v", got)
	}

	// Просмотр метаданных не расходует лимит
	again, _ := repo.GetByID(ctx, rec.ID)
	if again.DownloadCount != 0 {
		t.Errorf("счётчик не должен расти при Meta, получено %d", again.DownloadCount)
	}

	if _, downloadErr := svc.Meta(ctx, "nope123456"); downloadErr == nil || downloadErr.StatusCode != 404 {
		t.Errorf("ожидалось 404, получено %v", downloadErr)
	}
}

func TestMeta_Expired(t *testing.T) {
	cfg, repo, store := newTestEnv(t, nil)
	svc := NewDownloadService(cfg, repo, store, svcLogger())

	rec := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		past := time.Now().Add(-time.Minute)
		rec.ExpiresAt = &past
	})

	_, downloadErr := svc.Meta(context.Background(), rec.ID)
	if downloadErr == nil || downloadErr.StatusCode != 410 || downloadErr.Code != apierrors.CodeExpired {
		t.Errorf("ожидалось 410 %s, получено %v", apierrors.CodeExpired, downloadErr)
	}
}

func TestMeta_ExpiredHidden(t *testing.T) {
	cfg, repo, store := newTestEnv(t, func(cfg *config.Config) {
		cfg.HideEnumeration = true
	})
	svc := NewDownloadService(cfg, repo, store, svcLogger())

	rec := seedFile(t, repo, store, "x", func(rec *model.FileRecord) {
		past := time.Now().Add(-time.Minute)
		rec.ExpiresAt = &past
	})

	_, downloadErr := svc.Meta(context.Background(), rec.ID)
	if downloadErr == nil || downloadErr.StatusCode != 404 || downloadErr.Code != apierrors.CodeNotFound {
		t.Errorf("ожидалось 404 %s, получено %v", apierrors.CodeNotFound, downloadErr)
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"report.txt", "report.txt"},
		{"my file (1).pdf", "my_file_1_.pdf"},
		{"../../etc/passwd", ".._.._etc_passwd"},
		{"отчёт.pdf", "_.pdf"},
		{"", "file"},
		{"///", "_"},
	}

	for _, tt := range tests {
		if got := SanitizeFilename(tt.input); got != tt.expected {
			t.Errorf("SanitizeFilename(%q): ожидалось %q, получено %q",
				tt.input, tt.expected, got)
		}
	}
}

func TestSanitizeFilename_Truncates(t *testing.T) {
	long := ""
	for i := 0; i < 50; i++ {
		long += "abcdefgh"
	}
	if got := SanitizeFilename(long); len(got) != 200 {
		t.Errorf("ожидалась длина 200, получено %d", len(got))
	}
}
