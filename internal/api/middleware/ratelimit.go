// ratelimit.go — rate limiter с фиксированным окном на процесс.
//
// Подходит для одиночного экземпляра: состояние живёт в памяти и не
// разделяется между репликами. При горизонтальном масштабировании
// лимиты действуют на каждую реплику отдельно.
package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	apierrors "github.com/bigkaa/pastry/internal/api/errors"
)

// bucket — счётчик одного клиента в текущем окне.
type bucket struct {
	count int
	reset time.Time
}

// RateResult — исход попытки потребления лимита.
type RateResult struct {
	Allowed   bool
	Remaining int
	Reset     time.Time
	Limit     int
}

// RateLimiter — лимитер с фиксированным окном. Потокобезопасен.
type RateLimiter struct {
	mu      sync.Mutex
	buckets map[string]*bucket
	now     func() time.Time // подменяется в тестах
	cancel  context.CancelFunc
}

// NewRateLimiter создаёт пустой лимитер.
func NewRateLimiter() *RateLimiter {
	return &RateLimiter{
		buckets: make(map[string]*bucket),
		now:     time.Now,
	}
}

// Consume пытается потребить одну единицу лимита для ключа key.
// Окно фиксированное: первый запрос открывает окно, счётчик
// сбрасывается по его истечении.
func (rl *RateLimiter) Consume(key string, limit int, window time.Duration) RateResult {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ts := rl.now()
	b, ok := rl.buckets[key]
	if !ok || !ts.Before(b.reset) {
		b = &bucket{reset: ts.Add(window)}
		rl.buckets[key] = b
	}

	if b.count >= limit {
		return RateResult{Allowed: false, Remaining: 0, Reset: b.reset, Limit: limit}
	}
	b.count++
	return RateResult{
		Allowed:   true,
		Remaining: limit - b.count,
		Reset:     b.reset,
		Limit:     limit,
	}
}

// StartSweeper запускает горутину периодической чистки истёкших окон,
// чтобы карта не росла неограниченно. Останавливается через StopSweeper.
func (rl *RateLimiter) StartSweeper(ctx context.Context) {
	sweepCtx, cancel := context.WithCancel(ctx)
	rl.cancel = cancel

	go func() {
		ticker := time.NewTicker(time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-sweepCtx.Done():
				return
			case <-ticker.C:
				rl.sweep()
			}
		}
	}()
}

// StopSweeper останавливает горутину чистки.
func (rl *RateLimiter) StopSweeper() {
	if rl.cancel != nil {
		rl.cancel()
	}
}

func (rl *RateLimiter) sweep() {
	rl.mu.Lock()
	defer rl.mu.Unlock()

	ts := rl.now()
	for key, b := range rl.buckets {
		if !ts.Before(b.reset) {
			delete(rl.buckets, key)
		}
	}
}

// Middleware возвращает HTTP middleware, ограничивающий запросы
// по клиентскому IP. scope различает независимые лимиты
// (upl — загрузки, dl — скачивания) и попадает в метрики.
func (rl *RateLimiter) Middleware(scope string, limit int, window time.Duration) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := scope + ":" + clientIP(r)
			res := rl.Consume(key, limit, window)

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(res.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(res.Reset.Unix(), 10))

			if !res.Allowed {
				RateLimitedTotal.WithLabelValues(scope).Inc()
				apierrors.RateLimited(w, "Превышен лимит запросов")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP извлекает IP клиента: первый адрес X-Forwarded-For,
// иначе RemoteAddr без порта.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		first := strings.TrimSpace(strings.SplitN(xff, ",", 2)[0])
		if first != "" {
			return first
		}
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
