// Пакет model — доменные модели Pastry.
// FileRecord — единая структура метаданных загруженного файла,
// используется всеми backend'ами репозитория.
package model

import (
	"time"
)

// FileRecord — метаданные одного загруженного файла.
// Поля StoredName и PasswordHash никогда не возвращаются в API:
// handlers формируют собственные структуры ответов.
type FileRecord struct {
	// ID — короткий публичный идентификатор файла (используется в ссылках).
	// Глобально уникален, неизменяем после создания.
	ID string `json:"id"`

	// OriginalName — оригинальное имя файла при загрузке
	OriginalName string `json:"original_name"`

	// StoredName — непрозрачное имя blob'а в хранилище (32 hex символа).
	// Не раскрывается клиентам.
	StoredName string `json:"stored_name"`

	// Mime — MIME-тип, заявленный клиентом. Не является границей
	// безопасности: используется только для best-effort фильтрации.
	// nil — тип не заявлен.
	Mime *string `json:"mime,omitempty"`

	// Size — размер файла в байтах. Инвариант: равен фактическому
	// размеру blob'а на момент вставки записи.
	Size int64 `json:"size"`

	// CreatedAt — дата и время загрузки (UTC), неизменяемо
	CreatedAt time.Time `json:"created_at"`

	// ExpiresAt — срок действия ссылки. Всегда заполняется при
	// создании (потолок 30 дней), но моделируется как nullable.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	// MaxDownloads — лимит скачиваний. nil — без ограничений.
	MaxDownloads *int `json:"max_downloads,omitempty"`

	// DownloadCount — счётчик успешных скачиваний. Монотонно
	// неубывающий, стартует с 0, инкрементируется строго по одному
	// разу на авторизованное скачивание.
	DownloadCount int `json:"download_count"`

	// PasswordHash — bcrypt-хэш пароля скачивания. nil — без пароля.
	PasswordHash *string `json:"password_hash,omitempty"`

	// OwnerID — идентификатор сессии владельца. Используется только
	// для списка "недавние загрузки", не для авторизации скачивания.
	OwnerID string `json:"owner_id"`
}

// IsExpired проверяет, истёк ли срок действия записи.
func (r *FileRecord) IsExpired(now time.Time) bool {
	return r.ExpiresAt != nil && r.ExpiresAt.Before(now)
}

// IsExhausted проверяет, исчерпан ли лимит скачиваний.
func (r *FileRecord) IsExhausted() bool {
	return r.MaxDownloads != nil && r.DownloadCount >= *r.MaxDownloads
}

// RemainingDownloads возвращает остаток скачиваний
// (max_downloads - download_count) или nil для безлимитных записей.
func (r *FileRecord) RemainingDownloads() *int {
	if r.MaxDownloads == nil {
		return nil
	}
	left := *r.MaxDownloads - r.DownloadCount
	if left < 0 {
		left = 0
	}
	return &left
}

// RequiresPassword возвращает true, если для скачивания нужен пароль.
func (r *FileRecord) RequiresPassword() bool {
	return r.PasswordHash != nil && *r.PasswordHash != ""
}
