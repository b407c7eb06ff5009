// redis.go — Redis backend репозитория. Запись хранится hash'ем
// pastry:file:<id>; вспомогательные структуры — zset владельца,
// zset сроков действия и set исчерпанных лимитов — дают выборки
// без сканирования всего пространства ключей.
package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/pastry/internal/domain/model"
)

// Ключи Redis.
const (
	keyFilePrefix  = "pastry:file:"
	keyOwnerPrefix = "pastry:owner:"
	keyExpiry      = "pastry:expiry"
	keyStored      = "pastry:stored"
	keyExhausted   = "pastry:exhausted"
)

// incrScript — условный атомарный инкремент счётчика скачиваний.
// Возвращает -1 (записи нет), 0 (лимит исчерпан) или 1 (инкремент
// выполнен). Достигнутый лимит фиксируется в set'е исчерпанных,
// чтобы reaper находил такие записи без SCAN.
var incrScript = redis.NewScript(`
local key = KEYS[1]
if redis.call('EXISTS', key) == 0 then
	return -1
end
local max = redis.call('HGET', key, 'max_downloads')
local count = tonumber(redis.call('HGET', key, 'download_count') or '0')
if max and max ~= '' then
	if count >= tonumber(max) then
		redis.call('SADD', KEYS[2], ARGV[1])
		return 0
	end
end
local newcount = redis.call('HINCRBY', key, 'download_count', 1)
if max and max ~= '' and newcount >= tonumber(max) then
	redis.call('SADD', KEYS[2], ARGV[1])
end
return 1
`)

// Redis — репозиторий поверх Redis.
type Redis struct {
	client *redis.Client
	logger *slog.Logger
}

// NewRedis подключается к Redis и проверяет доступность.
func NewRedis(ctx context.Context, addr, password string, db int, logger *slog.Logger) (*Redis, error) {
	if addr == "" {
		return nil, fmt.Errorf("PASTRY_REDIS_ADDR не задан для backend redis")
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("Redis недоступен: %w", err)
	}

	logger.Info("Redis backend инициализирован", slog.String("addr", addr))

	return &Redis{
		client: client,
		logger: logger.With(slog.String("component", "repository_redis")),
	}, nil
}

func (r *Redis) Insert(ctx context.Context, rec *model.FileRecord) error {
	key := keyFilePrefix + rec.ID

	// HSETNX служебного поля — атомарная проверка занятости id.
	ok, err := r.client.HSetNX(ctx, key, "id", rec.ID).Result()
	if err != nil {
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: id=%s", ErrConflict, rec.ID)
	}

	fields := map[string]any{
		"original_name":  rec.OriginalName,
		"stored_name":    rec.StoredName,
		"size":           strconv.FormatInt(rec.Size, 10),
		"mime":           strPtr(rec.Mime),
		"created_at":     rec.CreatedAt.UTC().Format(timeLayout),
		"expires_at":     timePtrStr(rec.ExpiresAt),
		"max_downloads":  intPtrStr(rec.MaxDownloads),
		"download_count": strconv.Itoa(rec.DownloadCount),
		"password_hash":  strPtr(rec.PasswordHash),
		"owner_id":       rec.OwnerID,
	}

	pipe := r.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.ZAdd(ctx, keyOwnerPrefix+rec.OwnerID, redis.Z{
		Score:  float64(rec.CreatedAt.UnixMilli()),
		Member: rec.ID,
	})
	pipe.SAdd(ctx, keyStored, rec.StoredName)
	if rec.ExpiresAt != nil {
		pipe.ZAdd(ctx, keyExpiry, redis.Z{
			Score:  float64(rec.ExpiresAt.UnixMilli()),
			Member: rec.ID,
		})
	}
	if _, err := pipe.Exec(ctx); err != nil {
		r.client.Del(ctx, key)
		return fmt.Errorf("ошибка вставки записи: %w", err)
	}
	return nil
}

func (r *Redis) GetByID(ctx context.Context, id string) (*model.FileRecord, error) {
	fields, err := r.client.HGetAll(ctx, keyFilePrefix+id).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка чтения записи: %w", err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}
	return recordFromHash(fields)
}

func (r *Redis) ListByOwner(ctx context.Context, ownerID string, limit int) ([]*model.FileRecord, error) {
	// Новые первыми: score — время создания.
	ids, err := r.client.ZRevRange(ctx, keyOwnerPrefix+ownerID, 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки записей владельца: %w", err)
	}

	now := time.Now()
	var records []*model.FileRecord
	for _, id := range ids {
		rec, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if rec.IsExpired(now) {
			continue
		}
		rec.PasswordHash = nil
		records = append(records, rec)
		if len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (r *Redis) IncrementDownload(ctx context.Context, id string) (bool, error) {
	res, err := incrScript.Run(ctx, r.client,
		[]string{keyFilePrefix + id, keyExhausted}, id).Int()
	if err != nil {
		return false, fmt.Errorf("ошибка инкремента счётчика: %w", err)
	}
	return res == 1, nil
}

func (r *Redis) FindExpiredOrExhausted(ctx context.Context, now time.Time, limit int) ([]*model.FileRecord, error) {
	expired, err := r.client.ZRangeByScore(ctx, keyExpiry, &redis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli()-1, 10),
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки истёкших записей: %w", err)
	}

	exhausted, err := r.client.SMembers(ctx, keyExhausted).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки исчерпанных записей: %w", err)
	}

	seen := make(map[string]bool)
	var records []*model.FileRecord
	for _, id := range append(expired, exhausted...) {
		if seen[id] {
			continue
		}
		seen[id] = true

		rec, err := r.GetByID(ctx, id)
		if errors.Is(err, ErrNotFound) {
			// Индекс пережил запись: подчистим.
			r.client.ZRem(ctx, keyExpiry, id)
			r.client.SRem(ctx, keyExhausted, id)
			continue
		}
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
		if len(records) >= limit {
			break
		}
	}
	return records, nil
}

func (r *Redis) Delete(ctx context.Context, id string) error {
	rec, err := r.GetByID(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}

	pipe := r.client.TxPipeline()
	pipe.Del(ctx, keyFilePrefix+id)
	pipe.ZRem(ctx, keyOwnerPrefix+rec.OwnerID, id)
	pipe.ZRem(ctx, keyExpiry, id)
	pipe.SRem(ctx, keyStored, rec.StoredName)
	pipe.SRem(ctx, keyExhausted, id)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("ошибка удаления записи: %w", err)
	}
	return nil
}

func (r *Redis) ListStoredNames(ctx context.Context) ([]string, error) {
	names, err := r.client.SMembers(ctx, keyStored).Result()
	if err != nil {
		return nil, fmt.Errorf("ошибка выборки stored_name: %w", err)
	}
	return names, nil
}

func (r *Redis) ForceUpdate(ctx context.Context, id string, expiresAt *time.Time, downloadCount *int) error {
	key := keyFilePrefix + id
	exists, err := r.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("ошибка проверки записи: %w", err)
	}
	if exists == 0 {
		return ErrNotFound
	}

	if expiresAt != nil {
		pipe := r.client.TxPipeline()
		pipe.HSet(ctx, key, "expires_at", expiresAt.UTC().Format(timeLayout))
		pipe.ZAdd(ctx, keyExpiry, redis.Z{
			Score:  float64(expiresAt.UnixMilli()),
			Member: id,
		})
		if _, err := pipe.Exec(ctx); err != nil {
			return fmt.Errorf("ошибка обновления expires_at: %w", err)
		}
	}
	if downloadCount != nil {
		if err := r.client.HSet(ctx, key, "download_count", strconv.Itoa(*downloadCount)).Err(); err != nil {
			return fmt.Errorf("ошибка обновления download_count: %w", err)
		}
		// Членство в set'е исчерпанных должно соответствовать счётчику.
		rec, err := r.GetByID(ctx, id)
		if err != nil {
			return err
		}
		if rec.IsExhausted() {
			r.client.SAdd(ctx, keyExhausted, id)
		} else {
			r.client.SRem(ctx, keyExhausted, id)
		}
	}
	return nil
}

func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// --- Кодирование hash'а ---

// recordFromHash восстанавливает запись из полей Redis-hash'а.
// Пустая строка в опциональном поле означает NULL.
func recordFromHash(fields map[string]string) (*model.FileRecord, error) {
	rec := &model.FileRecord{
		ID:           fields["id"],
		OriginalName: fields["original_name"],
		StoredName:   fields["stored_name"],
		OwnerID:      fields["owner_id"],
	}

	size, err := strconv.ParseInt(fields["size"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("некорректный size %q: %w", fields["size"], err)
	}
	rec.Size = size

	createdAt, err := time.Parse(timeLayout, fields["created_at"])
	if err != nil {
		return nil, fmt.Errorf("некорректный created_at %q: %w", fields["created_at"], err)
	}
	rec.CreatedAt = createdAt

	if v := fields["expires_at"]; v != "" {
		t, err := time.Parse(timeLayout, v)
		if err != nil {
			return nil, fmt.Errorf("некорректный expires_at %q: %w", v, err)
		}
		rec.ExpiresAt = &t
	}
	if v := fields["max_downloads"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("некорректный max_downloads %q: %w", v, err)
		}
		rec.MaxDownloads = &n
	}
	if v := fields["download_count"]; v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("некорректный download_count %q: %w", v, err)
		}
		rec.DownloadCount = n
	}
	if v := fields["mime"]; v != "" {
		rec.Mime = &v
	}
	if v := fields["password_hash"]; v != "" {
		rec.PasswordHash = &v
	}
	return rec, nil
}

func strPtr(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func timePtrStr(t *time.Time) string {
	if t == nil {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func intPtrStr(n *int) string {
	if n == nil {
		return ""
	}
	return strconv.Itoa(*n)
}
