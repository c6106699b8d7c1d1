// cors.go — политика cross-origin запросов.
// Запросы с Origin вне GI_ALLOWED_ORIGINS отклоняются с 403 до обработчиков,
// запросы без Origin (curl, сервер-сервер) пропускаются.
// Заголовки CORS для разрешённых Origin выставляет go-chi/cors.
package middleware

import (
	"log/slog"
	"net/http"
	"strings"

	"github.com/go-chi/cors"

	apierrors "github.com/bigkaa/guidehub/guide-intake/internal/api/errors"
)

// corsMaxAge — время кэширования preflight в браузере, секунды.
const corsMaxAge = 600

// OriginPolicy — список разрешённых Origin.
type OriginPolicy struct {
	allowAll bool
	origins  map[string]struct{}
}

// NewOriginPolicy создаёт политику из списка Origin. "*" разрешает любой Origin.
// Сравнение без учёта регистра и завершающего "/".
func NewOriginPolicy(allowed []string) *OriginPolicy {
	p := &OriginPolicy{origins: make(map[string]struct{}, len(allowed))}
	for _, o := range allowed {
		o = normalizeOrigin(o)
		if o == "*" {
			p.allowAll = true
			continue
		}
		if o != "" {
			p.origins[o] = struct{}{}
		}
	}
	return p
}

// Allowed сообщает, разрешён ли origin.
func (p *OriginPolicy) Allowed(origin string) bool {
	if p.allowAll {
		return true
	}
	_, ok := p.origins[normalizeOrigin(origin)]
	return ok
}

func normalizeOrigin(origin string) string {
	return strings.TrimSuffix(strings.ToLower(strings.TrimSpace(origin)), "/")
}

// CORS возвращает middleware: сначала отсекает чужие Origin, затем
// отдаёт обработку go-chi/cors (preflight и заголовки ответа).
func CORS(policy *OriginPolicy, logger *slog.Logger) func(http.Handler) http.Handler {
	corsHandler := cors.Handler(cors.Options{
		AllowOriginFunc: func(_ *http.Request, origin string) bool {
			return policy.Allowed(origin)
		},
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodOptions},
		AllowedHeaders: []string{"Authorization", "Content-Type"},
		ExposedHeaders: []string{"Content-Disposition", "Retry-After"},
		MaxAge:         corsMaxAge,
	})
	guard := OriginGuard(policy, logger)

	return func(next http.Handler) http.Handler {
		return guard(corsHandler(next))
	}
}

// OriginGuard возвращает 403 ORIGIN_NOT_ALLOWED для запросов с запрещённым Origin.
func OriginGuard(policy *OriginPolicy, logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "cors"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if origin != "" && !policy.Allowed(origin) {
				logger.Warn("Запрос с запрещённого Origin отклонён",
					slog.String("origin", origin),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
				)
				apierrors.OriginNotAllowed(w, origin)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
