// sqlite.go — встраиваемый SQLite backend репозитория (modernc.org/sqlite,
// чистый Go, без cgo). Backend по умолчанию.
//
// Времена хранятся строками фиксированного формата (UTC, миллисекунды),
// поэтому лексикографическое сравнение в SQL совпадает с хронологическим.
package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	_ "modernc.org/sqlite" // драйвер "sqlite"

	"github.com/bigkaa/pastry/internal/domain/model"
)

// timeLayout — фиксированная ширина (UTC, миллисекунды): строки
// сравнимы лексикографически, формат совпадает с ISO-строками
// исходной базы.
const timeLayout = "2006-01-02T15:04:05.000Z"

// SQLite — репозиторий поверх встраиваемой базы SQLite.
type SQLite struct {
	db     *sql.DB
	logger *slog.Logger
}

// NewSQLite открывает (и при необходимости создаёт) базу по пути path.
func NewSQLite(path string, logger *slog.Logger) (*SQLite, error) {
	if path == "" {
		path = "pastry.db"
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("ошибка открытия SQLite %s: %w", path, err)
	}

	// Одно соединение: сериализует конкурентные записи и исключает
	// SQLITE_BUSY при одновременных инкрементах счётчика.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка установки journal_mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка установки busy_timeout: %w", err)
	}

	if _, err := db.Exec(`CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		stored_name TEXT NOT NULL UNIQUE,
		size INTEGER NOT NULL,
		mime TEXT,
		created_at TEXT NOT NULL,
		expires_at TEXT,
		max_downloads INTEGER,
		download_count INTEGER NOT NULL DEFAULT 0,
		password_hash TEXT,
		owner_id TEXT NOT NULL
	)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания таблицы files: %w", err)
	}
	if _, err := db.Exec(`CREATE INDEX IF NOT EXISTS idx_files_owner ON files (owner_id, created_at)`); err != nil {
		db.Close()
		return nil, fmt.Errorf("ошибка создания индекса: %w", err)
	}

	logger.Info("SQLite backend инициализирован", slog.String("path", path))

	return &SQLite{
		db:     db,
		logger: logger.With(slog.String("component", "repository_sqlite")),
	}, nil
}

func (s *SQLite) Insert(ctx context.Context, rec *model.FileRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO files (id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, password_hash, owner_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.OriginalName, rec.StoredName, rec.Size, rec.Mime,
		formatTime(rec.CreatedAt), formatTimePtr(rec.ExpiresAt),
		rec.MaxDownloads, rec.DownloadCount, rec.PasswordHash, rec.OwnerID,
	)
	if err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("%w: id=%s", ErrConflict, rec.ID)
		}
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return nil
}

func (s *SQLite) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, password_hash, owner_id
		FROM files WHERE id = ?`, id)

	rec, err := scanRecord(row)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи: %w", err)
	}
	return rec, nil
}

func (s *SQLite) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, NULL, owner_id
		FROM files
		WHERE owner_id = ? AND (expires_at IS NULL OR expires_at > ?)
		ORDER BY created_at DESC LIMIT ?`,
		ownerID, formatTime(time.Now().UTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей владельца: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (s *SQLite) IncrementDownload(ctx context.Context, id string) (bool, error) {
	// Условный атомарный инкремент: одна SQL-операция, без
	// read-modify-write. 0 затронутых строк — лимит исчерпан
	// (или запись исчезла между проверкой и инкрементом).
	res, err := s.db.ExecContext(ctx, `
		UPDATE files SET download_count = download_count + 1
		WHERE id = ? AND (max_downloads IS NULL OR download_count < max_downloads)`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка инкремента счётчика: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("ошибка получения rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLite) FindExpiredOrExhausted(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, password_hash, owner_id
		FROM files
		WHERE (expires_at IS NOT NULL AND expires_at < ?)
			OR (max_downloads IS NOT NULL AND download_count >= max_downloads)
		LIMIT ?`,
		formatTime(now.UTC()), limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки кандидатов на удаление: %w", err)
	}
	defer rows.Close()

	return collectRecords(rows)
}

func (s *SQLite) Delete(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM files WHERE id = ?`, id); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

func (s *SQLite) ListStoredNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT stored_name FROM files`)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки stored_name: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("ошибка чтения stored_name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (s *SQLite) ForceUpdate(ctx context.Context, id string, expiresAt *time.Time, downloadCount *int) error {
	if expiresAt != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE files SET expires_at = ? WHERE id = ?`,
			formatTime(expiresAt.UTC()), id); err != nil {
			return fmt.Errorf("ошибка обновления expires_at: %w", err)
		}
	}
	if downloadCount != nil {
		if _, err := s.db.ExecContext(ctx, `UPDATE files SET download_count = ? WHERE id = ?`,
			*downloadCount, id); err != nil {
			return fmt.Errorf("ошибка обновления download_count: %w", err)
		}
	}
	return nil
}

func (s *SQLite) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLite) Close() error {
	return s.db.Close()
}

// --- Вспомогательные функции ---

// scanner — общий интерфейс *sql.Row и *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

// scanRecord читает одну запись из строки результата.
func scanRecord(row scanner) (*model.FileRecord, error) {
	var (
		rec       model.FileRecord
		createdAt string
		expiresAt sql.NullString
	)
	if err := row.Scan(
		&rec.ID, &rec.OriginalName, &rec.StoredName, &rec.Size, &rec.Mime,
		&createdAt, &expiresAt, &rec.MaxDownloads, &rec.DownloadCount,
		&rec.PasswordHash, &rec.OwnerID,
	); err != nil {
		return nil, err
	}

	t, err := time.Parse(timeLayout, createdAt)
	if err != nil {
		return nil, fmt.Errorf("некорректный created_at %q: %w", createdAt, err)
	}
	rec.CreatedAt = t

	if expiresAt.Valid {
		e, err := time.Parse(timeLayout, expiresAt.String)
		if err != nil {
			return nil, fmt.Errorf("некорректный expires_at %q: %w", expiresAt.String, err)
		}
		rec.ExpiresAt = &e
	}
	return &rec, nil
}

// collectRecords читает все записи из результата выборки.
func collectRecords(rows *sql.Rows) ([]*model.FileRecord, error) {
	var records []*model.FileRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

// isSQLiteUniqueViolation проверяет нарушение UNIQUE-ограничения.
func isSQLiteUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}
