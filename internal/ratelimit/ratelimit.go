// Пакет ratelimit — ограничение частоты запросов через Redis.
// Алгоритм — фиксированное окно: счётчик на ключ {scope}:{client}:{начало окна},
// INCR + EXPIRE в одной транзакции. Счётчики общие для всех реплик сервиса.
package ratelimit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/guidehub/guide-intake/internal/config"
)

// keyPrefix — префикс ключей счётчиков в Redis.
const keyPrefix = "gi:ratelimit"

// Result — решение по одному запросу.
type Result struct {
	// Allowed — запрос укладывается в лимит
	Allowed bool
	// Limit — лимит на окно
	Limit int
	// Remaining — сколько запросов осталось в текущем окне
	Remaining int
	// RetryAfter — время до начала следующего окна
	RetryAfter time.Duration
}

// Limiter — ограничитель частоты запросов.
type Limiter struct {
	client *redis.Client
	window time.Duration
	logger *slog.Logger
	now    func() time.Time
}

// NewRedisClient создаёт клиента Redis по конфигурации.
func NewRedisClient(cfg *config.Config) *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:         cfg.RedisAddr,
		Password:     cfg.RedisPassword,
		DB:           cfg.RedisDB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 2,
	})
}

// Ping проверяет соединение с Redis.
func Ping(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

// New создаёт ограничитель с окном window.
func New(client *redis.Client, window time.Duration, logger *slog.Logger) *Limiter {
	return &Limiter{
		client: client,
		window: window,
		logger: logger.With(slog.String("component", "ratelimit")),
		now:    time.Now,
	}
}

// Allow учитывает запрос клиента client в области scope и сообщает,
// укладывается ли он в limit запросов за окно.
func (l *Limiter) Allow(ctx context.Context, scope, client string, limit int) (*Result, error) {
	now := l.now()
	windowStart := now.Truncate(l.window)
	key := fmt.Sprintf("%s:%s:%s:%d", keyPrefix, scope, client, windowStart.Unix())

	pipe := l.client.TxPipeline()
	incr := pipe.Incr(ctx, key)
	// Запас в секунду, чтобы ключ не исчез раньше конца окна из-за округления TTL
	pipe.Expire(ctx, key, l.window+time.Second)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("ошибка обновления счётчика %s: %w", scope, err)
	}

	count := int(incr.Val())
	result := &Result{
		Allowed:    count <= limit,
		Limit:      limit,
		Remaining:  max(limit-count, 0),
		RetryAfter: windowStart.Add(l.window).Sub(now),
	}

	if !result.Allowed {
		l.logger.Debug("Превышен лимит запросов",
			slog.String("scope", scope),
			slog.String("client", client),
			slog.Int("count", count),
			slog.Int("limit", limit),
		)
	}

	return result, nil
}
