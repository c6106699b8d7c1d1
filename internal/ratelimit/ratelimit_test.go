package ratelimit

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

// newTestLimiter создаёт ограничитель поверх miniredis с фиксированным временем.
func newTestLimiter(t *testing.T, window time.Duration) (*Limiter, *miniredis.Miniredis, *time.Time) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Ошибка запуска miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
	l := New(client, window, logger)

	now := time.Date(2026, 3, 1, 12, 0, 10, 0, time.UTC)
	l.now = func() time.Time { return now }
	return l, mr, &now
}

func TestAllow_WithinLimit(t *testing.T) {
	l, _, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		res, err := l.Allow(ctx, "apply", "10.0.0.1", 3)
		if err != nil {
			t.Fatalf("Ошибка Allow: %v", err)
		}
		if !res.Allowed {
			t.Fatalf("запрос %d должен быть разрешён", i)
		}
		if res.Remaining != 3-i {
			t.Errorf("Remaining: хотели %d, получили %d", 3-i, res.Remaining)
		}
	}

	res, err := l.Allow(ctx, "apply", "10.0.0.1", 3)
	if err != nil {
		t.Fatalf("Ошибка Allow: %v", err)
	}
	if res.Allowed {
		t.Error("4-й запрос должен быть отклонён")
	}
	if res.Remaining != 0 {
		t.Errorf("Remaining: хотели 0, получили %d", res.Remaining)
	}
	if res.RetryAfter != 50*time.Second {
		t.Errorf("RetryAfter: хотели 50s, получили %v", res.RetryAfter)
	}
}

func TestAllow_SeparateClientsAndScopes(t *testing.T) {
	l, _, _ := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	if res, _ := l.Allow(ctx, "login", "10.0.0.1", 1); !res.Allowed {
		t.Fatal("первый запрос должен быть разрешён")
	}
	if res, _ := l.Allow(ctx, "login", "10.0.0.1", 1); res.Allowed {
		t.Fatal("второй запрос должен быть отклонён")
	}
	if res, _ := l.Allow(ctx, "login", "10.0.0.2", 1); !res.Allowed {
		t.Error("другой клиент не должен зависеть от первого")
	}
	if res, _ := l.Allow(ctx, "apply", "10.0.0.1", 1); !res.Allowed {
		t.Error("другая область не должна зависеть от login")
	}
}

func TestAllow_NewWindowResets(t *testing.T) {
	l, _, now := newTestLimiter(t, time.Minute)
	ctx := context.Background()

	_, _ = l.Allow(ctx, "apply", "10.0.0.1", 1)
	if res, _ := l.Allow(ctx, "apply", "10.0.0.1", 1); res.Allowed {
		t.Fatal("второй запрос в окне должен быть отклонён")
	}

	*now = now.Add(time.Minute)
	if res, _ := l.Allow(ctx, "apply", "10.0.0.1", 1); !res.Allowed {
		t.Error("в новом окне запрос должен быть разрешён")
	}
}

func TestAllow_SetsTTL(t *testing.T) {
	l, mr, _ := newTestLimiter(t, time.Minute)

	if _, err := l.Allow(context.Background(), "apply", "10.0.0.1", 5); err != nil {
		t.Fatalf("Ошибка Allow: %v", err)
	}

	keys := mr.Keys()
	if len(keys) != 1 {
		t.Fatalf("хотели 1 ключ, получили %v", keys)
	}
	if ttl := mr.TTL(keys[0]); ttl <= 0 || ttl > time.Minute+time.Second {
		t.Errorf("неожиданный TTL ключа: %v", ttl)
	}

	mr.FastForward(2 * time.Minute)
	if mr.Exists(keys[0]) {
		t.Error("ключ должен истечь")
	}
}

func TestAllow_RedisUnavailable(t *testing.T) {
	l, mr, _ := newTestLimiter(t, time.Minute)
	mr.Close()

	if _, err := l.Allow(context.Background(), "apply", "10.0.0.1", 5); err == nil {
		t.Error("ожидалась ошибка при недоступном Redis")
	}
}

func TestPing(t *testing.T) {
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Ошибка запуска miniredis: %v", err)
	}
	defer mr.Close()

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()

	if err := Ping(context.Background(), client); err != nil {
		t.Errorf("Ошибка Ping: %v", err)
	}
}
