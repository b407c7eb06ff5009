// cleanup.go — сервис фоновой очистки (reaper) истёкших файлов.
//
// Reaper удаляет записи с истёкшим сроком действия и, при включённой
// политике purge, записи с исчерпанным лимитом скачиваний: сначала
// blob, потом метаданные. Осиротевшая запись без blob'а безвредна
// (скачивание вернёт ошибку), осиротевший blob без записи занимал бы
// диск вечно — поэтому такой порядок удаления.
//
// Запускается как горутина с периодическим тикером (PASTRY_CLEANUP_INTERVAL).
package service

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/bigkaa/pastry/internal/repository"
	"github.com/bigkaa/pastry/internal/storage/filestore"
)

// cleanupBatchSize — максимум кандидатов за один проход.
const cleanupBatchSize = 5000

// Prometheus метрики reaper'а
var (
	// cleanupRunsTotal — количество запусков очистки.
	cleanupRunsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_cleanup_runs_total",
		Help: "Общее количество запусков очистки",
	})

	// cleanupBlobsDeletedTotal — количество удалённых blob'ов.
	cleanupBlobsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_cleanup_blobs_deleted_total",
		Help: "Общее количество blob'ов, удалённых очисткой",
	})

	// cleanupRecordsDeletedTotal — количество удалённых записей метаданных.
	cleanupRecordsDeletedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_cleanup_records_deleted_total",
		Help: "Общее количество записей метаданных, удалённых очисткой",
	})

	// cleanupErrorsTotal — количество ошибок очистки.
	cleanupErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pastry_cleanup_errors_total",
		Help: "Общее количество ошибок при очистке",
	})

	// cleanupDurationSeconds — длительность выполнения очистки.
	cleanupDurationSeconds = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pastry_cleanup_duration_seconds",
		Help:    "Длительность выполнения очистки в секундах",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
	})
)

// CleanupResult — результат одного запуска очистки.
type CleanupResult struct {
	// Scanned — количество рассмотренных кандидатов
	Scanned int `json:"scanned"`
	// BlobsDeleted — количество удалённых blob'ов
	BlobsDeleted int `json:"blobs_deleted"`
	// RecordsDeleted — количество удалённых записей метаданных
	RecordsDeleted int `json:"records_deleted"`
	// Errors — количество ошибок при обработке
	Errors int `json:"errors"`
	// Duration — длительность выполнения
	Duration time.Duration `json:"duration"`
	// PurgedExceeded — удалялись ли записи с исчерпанным лимитом
	PurgedExceeded bool `json:"purged_exceeded"`
}

// CleanupService — сервис фоновой очистки.
type CleanupService struct {
	repo     repository.Repository
	store    *filestore.FileStore
	interval time.Duration
	// purgeExceeded — удалять ли записи с исчерпанным лимитом,
	// но неистёкшим сроком (PASTRY_CLEANUP_PURGE_DOWNLOADS_EXCEEDED)
	purgeExceeded bool
	logger        *slog.Logger

	mu     sync.Mutex // защита от параллельного запуска RunOnce
	cancel context.CancelFunc
}

// NewCleanupService создаёт сервис очистки.
func NewCleanupService(
	repo repository.Repository,
	store *filestore.FileStore,
	interval time.Duration,
	purgeExceeded bool,
	logger *slog.Logger,
) *CleanupService {
	return &CleanupService{
		repo:          repo,
		store:         store,
		interval:      interval,
		purgeExceeded: purgeExceeded,
		logger:        logger.With(slog.String("component", "cleanup")),
	}
}

// Start запускает фоновую горутину очистки с периодическим тикером.
// Вызывается один раз при старте приложения.
func (c *CleanupService) Start(ctx context.Context) {
	cleanupCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel

	go c.run(cleanupCtx)

	c.logger.Info("Очистка запущена",
		slog.String("interval", c.interval.String()),
		slog.Bool("purge_exceeded", c.purgeExceeded),
	)
}

// Stop останавливает фоновый процесс очистки.
func (c *CleanupService) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	c.logger.Info("Очистка остановлена")
}

// run — основной цикл фоновой горутины.
func (c *CleanupService) run(ctx context.Context) {
	// Первый запуск — сразу после старта
	c.RunOnce(ctx)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.RunOnce(ctx)
		}
	}
}

// RunOnce выполняет один цикл очистки.
// Потокобезопасен: mutex защищает от параллельного запуска
// (тикер и ручной POST /api/cleanup).
//
// Для каждого кандидата:
//  1. Удаляется blob (идемпотентно)
//  2. Удаляется запись метаданных; для исчерпанных, но неистёкших
//     записей — только при включённой политике purge
func (c *CleanupService) RunOnce(ctx context.Context) *CleanupResult {
	c.mu.Lock()
	defer c.mu.Unlock()

	start := time.Now()
	result := &CleanupResult{PurgedExceeded: c.purgeExceeded}

	c.logger.Debug("Очистка начата")

	now := time.Now().UTC()
	candidates, err := c.repo.FindExpiredOrExhausted(ctx, now, cleanupBatchSize)
	if err != nil {
		c.logger.Error("Ошибка выборки кандидатов на удаление",
			slog.String("error", err.Error()),
		)
		result.Errors++
		cleanupErrorsTotal.Inc()
		result.Duration = time.Since(start)
		return result
	}

	for _, rec := range candidates {
		result.Scanned++

		if err := c.store.Delete(rec.StoredName); err != nil {
			c.logger.Error("Ошибка удаления blob",
				slog.String("file_id", rec.ID),
				slog.String("stored_name", rec.StoredName),
				slog.String("error", err.Error()),
			)
			result.Errors++
			cleanupErrorsTotal.Inc()
			// Запись не трогаем: следующий проход повторит попытку
			continue
		}
		result.BlobsDeleted++

		// Исчерпанный лимит при живом сроке: blob освобождён, но
		// запись остаётся при выключенной политике purge — ссылка
		// отвечает "лимит исчерпан", а не "не найдено".
		if !rec.IsExpired(now) && rec.IsExhausted() && !c.purgeExceeded {
			continue
		}

		if err := c.repo.Delete(ctx, rec.ID); err != nil {
			c.logger.Error("Ошибка удаления записи",
				slog.String("file_id", rec.ID),
				slog.String("error", err.Error()),
			)
			result.Errors++
			cleanupErrorsTotal.Inc()
			continue
		}
		result.RecordsDeleted++

		c.logger.Debug("Запись удалена",
			slog.String("file_id", rec.ID),
			slog.String("stored_name", rec.StoredName),
		)
	}

	result.Duration = time.Since(start)

	cleanupRunsTotal.Inc()
	cleanupBlobsDeletedTotal.Add(float64(result.BlobsDeleted))
	cleanupRecordsDeletedTotal.Add(float64(result.RecordsDeleted))
	cleanupDurationSeconds.Observe(result.Duration.Seconds())

	c.logger.Info("Очистка завершена",
		slog.Int("scanned", result.Scanned),
		slog.Int("blobs_deleted", result.BlobsDeleted),
		slog.Int("records_deleted", result.RecordsDeleted),
		slog.Int("errors", result.Errors),
		slog.Duration("duration", result.Duration),
	)

	return result
}

// CleanupOrphans удаляет blob'ы, на которые не ссылается ни одна
// запись метаданных. Рассинхронизация возможна после сбоя между
// записью blob'а и вставкой метаданных.
func (c *CleanupService) CleanupOrphans(ctx context.Context) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	known, err := c.repo.ListStoredNames(ctx)
	if err != nil {
		return 0, err
	}
	knownSet := make(map[string]bool, len(known))
	for _, name := range known {
		knownSet[name] = true
	}

	onDisk, err := c.store.List()
	if err != nil {
		return 0, err
	}

	removed := 0
	for _, name := range onDisk {
		if knownSet[name] {
			continue
		}
		if err := c.store.Delete(name); err != nil {
			c.logger.Error("Ошибка удаления осиротевшего blob",
				slog.String("stored_name", name),
				slog.String("error", err.Error()),
			)
			continue
		}
		removed++
	}

	if removed > 0 {
		c.logger.Info("Осиротевшие blob'ы удалены", slog.Int("removed", removed))
	}
	return removed, nil
}
