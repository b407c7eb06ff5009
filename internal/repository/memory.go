// memory.go — in-memory backend репозитория. Используется в тестах и
// для локальной разработки; данные живут до перезапуска процесса.
package repository

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/bigkaa/pastry/internal/domain/model"
)

// Memory — репозиторий в памяти процесса. Потокобезопасен.
type Memory struct {
	mu          sync.Mutex
	records     map[string]*model.FileRecord
	storedNames map[string]string // stored_name -> id
	logger      *slog.Logger
}

// NewMemory создаёт пустой in-memory репозиторий.
func NewMemory(logger *slog.Logger) *Memory {
	return &Memory{
		records:     make(map[string]*model.FileRecord),
		storedNames: make(map[string]string),
		logger:      logger.With(slog.String("component", "repository_memory")),
	}
}

// clone возвращает копию записи, чтобы вызывающий код не мог
// изменить внутреннее состояние репозитория через указатели.
func clone(rec *model.FileRecord) *model.FileRecord {
	cp := *rec
	if rec.ExpiresAt != nil {
		t := *rec.ExpiresAt
		cp.ExpiresAt = &t
	}
	if rec.MaxDownloads != nil {
		n := *rec.MaxDownloads
		cp.MaxDownloads = &n
	}
	if rec.PasswordHash != nil {
		h := *rec.PasswordHash
		cp.PasswordHash = &h
	}
	if rec.Mime != nil {
		m := *rec.Mime
		cp.Mime = &m
	}
	return &cp
}

func (m *Memory) Insert(_ context.Context, rec *model.FileRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.records[rec.ID]; ok {
		return fmt.Errorf("%w: id=%s", ErrConflict, rec.ID)
	}
	if _, ok := m.storedNames[rec.StoredName]; ok {
		return fmt.Errorf("%w: stored_name=%s", ErrConflict, rec.StoredName)
	}

	m.records[rec.ID] = clone(rec)
	m.storedNames[rec.StoredName] = rec.ID
	return nil
}

func (m *Memory) GetByID(_ context.Context, id string) (*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return nil, ErrNotFound
	}
	return clone(rec), nil
}

func (m *Memory) ListByOwner(_ context.Context, ownerID string, limit int) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var records []*model.FileRecord
	for _, rec := range m.records {
		if rec.OwnerID != ownerID || rec.IsExpired(now) {
			continue
		}
		cp := clone(rec)
		cp.PasswordHash = nil
		records = append(records, cp)
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].CreatedAt.After(records[j].CreatedAt)
	})
	if len(records) > limit {
		records = records[:limit]
	}
	return records, nil
}

func (m *Memory) IncrementDownload(_ context.Context, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return false, nil
	}
	if rec.MaxDownloads != nil && rec.DownloadCount >= *rec.MaxDownloads {
		return false, nil
	}
	rec.DownloadCount++
	return true, nil
}

func (m *Memory) FindExpiredOrExhausted(_ context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var records []*model.FileRecord
	for _, rec := range m.records {
		if !rec.IsExpired(now) && !rec.IsExhausted() {
			continue
		}
		records = append(records, clone(rec))
		if len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if rec, ok := m.records[id]; ok {
		delete(m.storedNames, rec.StoredName)
		delete(m.records, id)
	}
	return nil
}

func (m *Memory) ListStoredNames(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	names := make([]string, 0, len(m.storedNames))
	for name := range m.storedNames {
		names = append(names, name)
	}
	return names, nil
}

func (m *Memory) ForceUpdate(_ context.Context, id string, expiresAt *time.Time, downloadCount *int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.records[id]
	if !ok {
		return ErrNotFound
	}
	if expiresAt != nil {
		t := *expiresAt
		rec.ExpiresAt = &t
	}
	if downloadCount != nil {
		rec.DownloadCount = *downloadCount
	}
	return nil
}

func (m *Memory) Ping(_ context.Context) error { return nil }

func (m *Memory) Close() error { return nil }
