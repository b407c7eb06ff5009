// postgres.go — PostgreSQL backend репозитория. Чистый SQL через pgx,
// без ORM. Используется при горизонтальном развёртывании, когда
// встраиваемая база не подходит.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/bigkaa/pastry/internal/domain/model"
)

// Postgres — репозиторий поверх пула соединений pgx.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres подключается к базе и создаёт схему, если её нет.
func NewPostgres(ctx context.Context, databaseURL string, logger *slog.Logger) (*Postgres, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("PASTRY_DATABASE_URL не задан для backend postgres")
	}

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("ошибка создания пула PostgreSQL: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("PostgreSQL недоступен: %w", err)
	}

	if _, err := pool.Exec(ctx, `CREATE TABLE IF NOT EXISTS files (
		id TEXT PRIMARY KEY,
		original_name TEXT NOT NULL,
		stored_name TEXT NOT NULL UNIQUE,
		size BIGINT NOT NULL,
		mime TEXT,
		created_at TIMESTAMPTZ NOT NULL,
		expires_at TIMESTAMPTZ,
		max_downloads INTEGER,
		download_count INTEGER NOT NULL DEFAULT 0,
		password_hash TEXT,
		owner_id TEXT NOT NULL
	)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания таблицы files: %w", err)
	}
	if _, err := pool.Exec(ctx, `CREATE INDEX IF NOT EXISTS idx_files_owner ON files (owner_id, created_at)`); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ошибка создания индекса: %w", err)
	}

	logger.Info("PostgreSQL backend инициализирован")

	return &Postgres{
		pool:   pool,
		logger: logger.With(slog.String("component", "repository_postgres")),
	}, nil
}

func (p *Postgres) Insert(ctx context.Context, rec *model.FileRecord) error {
	_, err := p.pool.Exec(ctx, `
		INSERT INTO files (id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, password_hash, owner_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)`,
		rec.ID, rec.OriginalName, rec.StoredName, rec.Size, rec.Mime,
		rec.CreatedAt, rec.ExpiresAt, rec.MaxDownloads, rec.DownloadCount,
		rec.PasswordHash, rec.OwnerID,
	)
	if err != nil {
		if isPgUniqueViolation(err) {
			return fmt.Errorf("%w: id=%s", ErrConflict, rec.ID)
		}
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return nil
}

func (p *Postgres) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	rec := &model.FileRecord{}
	err := p.pool.QueryRow(ctx, `
		SELECT id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, password_hash, owner_id
		FROM files WHERE id = $1`, id).Scan(
		&rec.ID, &rec.OriginalName, &rec.StoredName, &rec.Size, &rec.Mime,
		&rec.CreatedAt, &rec.ExpiresAt, &rec.MaxDownloads, &rec.DownloadCount,
		&rec.PasswordHash, &rec.OwnerID,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка чтения записи: %w", err)
	}
	normalizeTimes(rec)
	return rec, nil
}

func (p *Postgres) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.FileRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, NULL::text, owner_id
		FROM files
		WHERE owner_id = $1 AND (expires_at IS NULL OR expires_at > now())
		ORDER BY created_at DESC LIMIT $2`, ownerID, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей владельца: %w", err)
	}
	defer rows.Close()

	return collectPgRecords(rows)
}

func (p *Postgres) IncrementDownload(ctx context.Context, id string) (bool, error) {
	tag, err := p.pool.Exec(ctx, `
		UPDATE files SET download_count = download_count + 1
		WHERE id = $1 AND (max_downloads IS NULL OR download_count < max_downloads)`, id)
	if err != nil {
		return false, fmt.Errorf("ошибка инкремента счётчика: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (p *Postgres) FindExpiredOrExhausted(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	rows, err := p.pool.Query(ctx, `
		SELECT id, original_name, stored_name, size, mime, created_at,
			expires_at, max_downloads, download_count, password_hash, owner_id
		FROM files
		WHERE (expires_at IS NOT NULL AND expires_at < $1)
			OR (max_downloads IS NOT NULL AND download_count >= max_downloads)
		LIMIT $2`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки кандидатов на удаление: %w", err)
	}
	defer rows.Close()

	return collectPgRecords(rows)
}

func (p *Postgres) Delete(ctx context.Context, id string) error {
	if _, err := p.pool.Exec(ctx, `DELETE FROM files WHERE id = $1`, id); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

func (p *Postgres) ListStoredNames(ctx context.Context) ([]string, error) {
	rows, err := p.pool.Query(ctx, `SELECT stored_name FROM files`)
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

func (p *Postgres) ForceUpdate(ctx context.Context, id string, expiresAt *time.Time, downloadCount *int) error {
	if expiresAt != nil {
		if _, err := p.pool.Exec(ctx, `UPDATE files SET expires_at = $1 WHERE id = $2`, *expiresAt, id); err != nil {
			return fmt.Errorf("ошибка обновления expires_at: %w", err)
		}
	}
	if downloadCount != nil {
		if _, err := p.pool.Exec(ctx, `UPDATE files SET download_count = $1 WHERE id = $2`, *downloadCount, id); err != nil {
			return fmt.Errorf("ошибка обновления download_count: %w", err)
		}
	}
	return nil
}

func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

func (p *Postgres) Close() error {
	p.pool.Close()
	return nil
}

// collectPgRecords читает все записи из результата выборки pgx.
func collectPgRecords(rows pgx.Rows) ([]*model.FileRecord, error) {
	var records []*model.FileRecord
	for rows.Next() {
		rec := &model.FileRecord{}
		if err := rows.Scan(
			&rec.ID, &rec.OriginalName, &rec.StoredName, &rec.Size, &rec.Mime,
			&rec.CreatedAt, &rec.ExpiresAt, &rec.MaxDownloads, &rec.DownloadCount,
			&rec.PasswordHash, &rec.OwnerID,
		); err != nil {
			return nil, fmt.Errorf("ошибка чтения строки: %w", err)
		}
		normalizeTimes(rec)
		records = append(records, rec)
	}
	return records, rows.Err()
}

// normalizeTimes приводит времена к UTC (pgx возвращает локальную зону).
func normalizeTimes(rec *model.FileRecord) {
	rec.CreatedAt = rec.CreatedAt.UTC()
	if rec.ExpiresAt != nil {
		utc := rec.ExpiresAt.UTC()
		rec.ExpiresAt = &utc
	}
}

// isPgUniqueViolation проверяет нарушение уникальности PostgreSQL (23505).
func isPgUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
