package repository

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/bigkaa/pastry/internal/domain/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testRecord(id, storedName string) *model.FileRecord {
	exp := time.Now().Add(time.Hour).UTC()
	return &model.FileRecord{
		ID:           id,
		OriginalName: "doc.pdf",
		StoredName:   storedName,
		Size:         1024,
		CreatedAt:    time.Now().UTC(),
		ExpiresAt:    &exp,
		OwnerID:      "owner-1",
	}
}

func TestMemory_InsertAndGet(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	rec := testRecord("abc123", "blob-1")
	if err := repo.Insert(ctx, rec); err != nil {
		t.Fatalf("неожиданная ошибка Insert: %v", err)
	}

	got, err := repo.GetByID(ctx, "abc123")
	if err != nil {
		t.Fatalf("неожиданная ошибка GetByID: %v", err)
	}
	if got.ID != "abc123" || got.StoredName != "blob-1" || got.Size != 1024 {
		t.Errorf("запись не совпадает: %+v", got)
	}
}

func TestMemory_GetByID_NotFound(t *testing.T) {
	repo := NewMemory(testLogger())

	_, err := repo.GetByID(context.Background(), "nope")
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалось ErrNotFound, получено %v", err)
	}
}

func TestMemory_Insert_Conflict(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	if err := repo.Insert(ctx, testRecord("abc123", "blob-1")); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	if err := repo.Insert(ctx, testRecord("abc123", "blob-2")); !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат id: ожидалось ErrConflict, получено %v", err)
	}
	if err := repo.Insert(ctx, testRecord("def456", "blob-1")); !errors.Is(err, ErrConflict) {
		t.Errorf("дубликат stored_name: ожидалось ErrConflict, получено %v", err)
	}
}

func TestMemory_CloneIsolation(t *testing.T) {
	// Мутация возвращённой записи не должна менять состояние репозитория
	repo := NewMemory(testLogger())
	ctx := context.Background()

	repo.Insert(ctx, testRecord("abc123", "blob-1"))

	got, _ := repo.GetByID(ctx, "abc123")
	got.Size = 999
	*got.ExpiresAt = time.Now().Add(-time.Hour)

	again, _ := repo.GetByID(ctx, "abc123")
	if again.Size != 1024 {
		t.Errorf("ожидался размер 1024, получено %d", again.Size)
	}
	if again.ExpiresAt.Before(time.Now()) {
		t.Error("ExpiresAt изменился через внешний указатель")
	}
}

func TestMemory_IncrementDownload(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	max := 2
	rec := testRecord("abc123", "blob-1")
	rec.MaxDownloads = &max
	repo.Insert(ctx, rec)

	for i := 0; i < 2; i++ {
		ok, err := repo.IncrementDownload(ctx, "abc123")
		if err != nil {
			t.Fatalf("неожиданная ошибка: %v", err)
		}
		if !ok {
			t.Fatalf("инкремент %d должен быть разрешён", i+1)
		}
	}

	ok, err := repo.IncrementDownload(ctx, "abc123")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if ok {
		t.Error("инкремент сверх лимита должен быть отклонён")
	}

	got, _ := repo.GetByID(ctx, "abc123")
	if got.DownloadCount != 2 {
		t.Errorf("ожидался счётчик 2, получено %d", got.DownloadCount)
	}
}

func TestMemory_IncrementDownload_Missing(t *testing.T) {
	repo := NewMemory(testLogger())

	ok, err := repo.IncrementDownload(context.Background(), "nope")
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if ok {
		t.Error("инкремент несуществующей записи должен быть отклонён")
	}
}

func TestMemory_IncrementDownload_Concurrent(t *testing.T) {
	// Лимит 1: из N конкурентных попыток ровно одна проходит
	repo := NewMemory(testLogger())
	ctx := context.Background()

	max := 1
	rec := testRecord("abc123", "blob-1")
	rec.MaxDownloads = &max
	repo.Insert(ctx, rec)

	const workers = 10
	var wg sync.WaitGroup
	var mu sync.Mutex
	allowed := 0

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ok, err := repo.IncrementDownload(ctx, "abc123")
			if err != nil {
				t.Errorf("неожиданная ошибка: %v", err)
				return
			}
			if ok {
				mu.Lock()
				allowed++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	if allowed != 1 {
		t.Errorf("ожидался ровно 1 разрешённый инкремент, получено %d", allowed)
	}
}

func TestMemory_Unlimited(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	repo.Insert(ctx, testRecord("abc123", "blob-1"))

	for i := 0; i < 100; i++ {
		ok, err := repo.IncrementDownload(ctx, "abc123")
		if err != nil || !ok {
			t.Fatalf("без лимита каждый инкремент разрешён, получено ok=%v err=%v", ok, err)
		}
	}
}

func TestMemory_ListByOwner(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	base := time.Now().UTC()
	for i, id := range []string{"old111", "mid222", "new333"} {
		rec := testRecord(id, "blob-"+id)
		rec.CreatedAt = base.Add(time.Duration(i) * time.Minute)
		hash := "secret-hash"
		rec.PasswordHash = &hash
		repo.Insert(ctx, rec)
	}
	other := testRecord("xxx999", "blob-x")
	other.OwnerID = "owner-2"
	repo.Insert(ctx, other)

	records, err := repo.ListByOwner(ctx, "owner-1", 2)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("ожидалось 2 записи, получено %d", len(records))
	}
	if records[0].ID != "new333" || records[1].ID != "mid222" {
		t.Errorf("ожидался порядок new333, mid222; получено %s, %s",
			records[0].ID, records[1].ID)
	}
	for _, rec := range records {
		if rec.PasswordHash != nil {
			t.Errorf("хэш пароля не должен возвращаться в списке (id=%s)", rec.ID)
		}
	}
}

func TestMemory_ListByOwner_SkipsExpired(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	expired := testRecord("old111", "blob-1")
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past
	repo.Insert(ctx, expired)
	repo.Insert(ctx, testRecord("new222", "blob-2"))

	records, err := repo.ListByOwner(ctx, "owner-1", 10)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(records) != 1 || records[0].ID != "new222" {
		t.Errorf("истёкшая запись не должна попадать в список: %+v", records)
	}
}

func TestMemory_FindExpiredOrExhausted(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	expired := testRecord("exp111", "blob-1")
	past := time.Now().Add(-time.Hour)
	expired.ExpiresAt = &past
	repo.Insert(ctx, expired)

	max := 1
	exhausted := testRecord("exh222", "blob-2")
	exhausted.MaxDownloads = &max
	exhausted.DownloadCount = 1
	repo.Insert(ctx, exhausted)

	repo.Insert(ctx, testRecord("live33", "blob-3"))

	found, err := repo.FindExpiredOrExhausted(ctx, time.Now(), 100)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	ids := make(map[string]bool)
	for _, rec := range found {
		ids[rec.ID] = true
	}
	if len(found) != 2 || !ids["exp111"] || !ids["exh222"] {
		t.Errorf("ожидались exp111 и exh222, получено %v", ids)
	}
}

func TestMemory_Delete_Idempotent(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	repo.Insert(ctx, testRecord("abc123", "blob-1"))

	if err := repo.Delete(ctx, "abc123"); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if err := repo.Delete(ctx, "abc123"); err != nil {
		t.Errorf("повторное удаление должно быть безопасным: %v", err)
	}

	if _, err := repo.GetByID(ctx, "abc123"); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалось ErrNotFound после удаления, получено %v", err)
	}

	names, _ := repo.ListStoredNames(ctx)
	if len(names) != 0 {
		t.Errorf("индекс stored_name не очищен: %v", names)
	}
}

func TestMemory_ForceUpdate(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	repo.Insert(ctx, testRecord("abc123", "blob-1"))

	past := time.Now().Add(-time.Hour).UTC()
	count := 5
	if err := repo.ForceUpdate(ctx, "abc123", &past, &count); err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}

	got, _ := repo.GetByID(ctx, "abc123")
	if !got.ExpiresAt.Equal(past) {
		t.Errorf("ожидалось expires_at=%v, получено %v", past, got.ExpiresAt)
	}
	if got.DownloadCount != 5 {
		t.Errorf("ожидался счётчик 5, получено %d", got.DownloadCount)
	}

	if err := repo.ForceUpdate(ctx, "nope", &past, nil); !errors.Is(err, ErrNotFound) {
		t.Errorf("ожидалось ErrNotFound, получено %v", err)
	}
}

func TestMemory_ListStoredNames(t *testing.T) {
	repo := NewMemory(testLogger())
	ctx := context.Background()

	repo.Insert(ctx, testRecord("a11111", "blob-a"))
	repo.Insert(ctx, testRecord("b22222", "blob-b"))

	names, err := repo.ListStoredNames(ctx)
	if err != nil {
		t.Fatalf("неожиданная ошибка: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("ожидалось 2 имени, получено %d", len(names))
	}
}
