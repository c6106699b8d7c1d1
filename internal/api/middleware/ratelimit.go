package middleware

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"strconv"

	apierrors "github.com/bigkaa/guidehub/guide-intake/internal/api/errors"
	"github.com/bigkaa/guidehub/guide-intake/internal/ratelimit"
)

// Limiter — источник решений rate limiting.
type Limiter interface {
	Allow(ctx context.Context, scope, client string, limit int) (*ratelimit.Result, error)
}

// RateLimit ограничивает число запросов с одного адреса в области scope.
// Адрес берётся из RemoteAddr (после chi RealIP). При недоступном Redis
// запрос пропускается.
func RateLimit(limiter Limiter, scope string, limit int, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "ratelimit"), slog.String("scope", scope))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			client := clientIP(r)

			result, err := limiter.Allow(r.Context(), scope, client, limit)
			if err != nil {
				logger.Warn("Rate limiter недоступен, запрос пропущен",
					slog.String("client", client),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(result.Limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(result.Remaining))

			if !result.Allowed {
				logger.Warn("Превышен лимит запросов", slog.String("client", client))
				apierrors.RateLimited(w, result.RetryAfter)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP возвращает адрес клиента без порта.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
