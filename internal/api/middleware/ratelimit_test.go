package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/bigkaa/guidehub/guide-intake/internal/ratelimit"
)

// failingLimiter всегда возвращает ошибку.
type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string, string, int) (*ratelimit.Result, error) {
	return nil, errors.New("redis недоступен")
}

// newRedisLimiter создаёт настоящий limiter поверх miniredis.
func newRedisLimiter(t *testing.T) *ratelimit.Limiter {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Ошибка запуска miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return ratelimit.New(client, time.Hour, testLogger())
}

func TestRateLimit_RejectsAfterLimit(t *testing.T) {
	handler := RateLimit(newRedisLimiter(t), "apply", 2, testLogger())(okHandler())

	send := func(remoteAddr string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/api/guides/apply", nil)
		req.RemoteAddr = remoteAddr
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 2; i++ {
		if rec := send("192.0.2.10:4000"); rec.Code != http.StatusOK {
			t.Fatalf("запрос %d: ожидался 200, получен %d", i+1, rec.Code)
		}
	}

	// Другой порт того же адреса — тот же клиент
	rec := send("192.0.2.10:4001")
	if rec.Code != http.StatusTooManyRequests {
		t.Fatalf("ожидался 429, получен %d", rec.Code)
	}
	if rec.Header().Get("Retry-After") == "" {
		t.Error("ожидался заголовок Retry-After")
	}
	if got := rec.Header().Get("X-RateLimit-Remaining"); got != "0" {
		t.Errorf("X-RateLimit-Remaining = %q", got)
	}

	if rec := send("192.0.2.11:4000"); rec.Code != http.StatusOK {
		t.Errorf("другой адрес: ожидался 200, получен %d", rec.Code)
	}
}

func TestRateLimit_FailOpen(t *testing.T) {
	handler := RateLimit(failingLimiter{}, "apply", 1, testLogger())(okHandler())

	for i := 0; i < 3; i++ {
		req := httptest.NewRequest(http.MethodPost, "/api/guides/apply", nil)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusOK {
			t.Fatalf("при недоступном limiter запрос должен проходить, получен %d", rec.Code)
		}
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		remote string
		want   string
	}{
		{"192.0.2.1:1234", "192.0.2.1"},
		{"[2001:db8::1]:443", "2001:db8::1"},
		{"192.0.2.1", "192.0.2.1"},
	}
	for _, tt := range tests {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = tt.remote
		if got := clientIP(req); got != tt.want {
			t.Errorf("clientIP(%q) = %q, хотели %q", tt.remote, got, tt.want)
		}
	}
}
