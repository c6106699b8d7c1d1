// auth.go — JWT middleware для аутентификации и авторизации.
// Принимает два вида токенов:
//   - HS256, выданные самим сервисом (/api/auth/login), с проверкой iss;
//   - RS256 от внешнего провайдера, проверяемые через JWKS (если задан GI_JWKS_URL).
//
// Claims: sub (subject), scopes (массив строк) или scope (строка через пробел).
// Публичные endpoints (health, metrics, apply, login) — без аутентификации.
package middleware

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/MicahParks/jwkset"
	"github.com/MicahParks/keyfunc/v3"
	"github.com/golang-jwt/jwt/v5"

	apierrors "github.com/bigkaa/guidehub/guide-intake/internal/api/errors"
)

// contextKey — тип для ключей контекста (избегаем коллизий).
type contextKey string

const (
	// ContextKeySubject — ключ для sub из JWT в контексте запроса.
	ContextKeySubject contextKey = "jwt_subject"
	// ContextKeyScopes — ключ для scopes из JWT в контексте запроса.
	ContextKeyScopes contextKey = "jwt_scopes"
)

// Claims — структура JWT claims.
// Поддерживает два формата scopes:
//   - OAuth2 стандартный: "scope" (пробело-разделённая строка)
//   - собственный: "scopes" (массив строк)
type Claims struct {
	jwt.RegisteredClaims
	// ScopeString — стандартный OAuth2 claim (пробело-разделённая строка)
	ScopeString string `json:"scope,omitempty"`
	// ScopeArray — массив строк, так подписывает токены сам сервис
	ScopeArray []string `json:"scopes,omitempty"`
}

// Scopes возвращает объединённый список scope'ов из обоих форматов.
func (c *Claims) Scopes() []string {
	var result []string
	if c.ScopeString != "" {
		result = append(result, strings.Fields(c.ScopeString)...)
	}
	result = append(result, c.ScopeArray...)
	return result
}

var (
	errHMACDisabled = errors.New("локальные токены не принимаются")
	errJWKSDisabled = errors.New("токены внешнего провайдера не принимаются")
	errBadIssuer    = errors.New("неверный issuer")
)

// JWTAuth — middleware для JWT-аутентификации.
type JWTAuth struct {
	hmacSecret []byte
	issuer     string
	jwks       keyfunc.Keyfunc
	jwtLeeway  time.Duration
	logger     *slog.Logger
}

// JWTAuthConfig — параметры для создания JWT middleware.
type JWTAuthConfig struct {
	// Секрет HS256 (пусто — локальные токены не принимаются)
	HMACSecret []byte
	// Ожидаемый iss локальных токенов
	Issuer string
	// URL JWKS endpoint (пусто — токены провайдера не принимаются)
	JWKSURL string
	// Таймаут HTTP-клиента JWKS
	ClientTimeout time.Duration
	// Интервал обновления JWKS-ключей
	RefreshInterval time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
}

// NewJWTAuth создаёт JWT middleware.
// Хотя бы один источник ключей (HMACSecret или JWKSURL) обязателен.
func NewJWTAuth(authCfg JWTAuthConfig, logger *slog.Logger) (*JWTAuth, error) {
	if len(authCfg.HMACSecret) == 0 && authCfg.JWKSURL == "" {
		return nil, errors.New("не задан ни секрет HS256, ни JWKS URL")
	}

	var kf keyfunc.Keyfunc
	if authCfg.JWKSURL != "" {
		// NoErrorReturnFirstHTTPReq позволяет стартовать, даже если провайдер
		// ещё недоступен; ключи подтянутся при следующем обновлении.
		storage, err := jwkset.NewStorageFromHTTP(authCfg.JWKSURL, jwkset.HTTPClientStorageOptions{
			Client:                    &http.Client{Timeout: authCfg.ClientTimeout},
			NoErrorReturnFirstHTTPReq: true,
			RefreshInterval:           authCfg.RefreshInterval,
			RefreshErrorHandler: func(_ context.Context, err error) {
				logger.Error("Ошибка обновления JWKS",
					slog.String("error", err.Error()),
					slog.String("url", authCfg.JWKSURL),
				)
			},
		})
		if err != nil {
			return nil, fmt.Errorf("создание JWKS storage: %w", err)
		}

		kf, err = keyfunc.New(keyfunc.Options{
			Storage: storage,
		})
		if err != nil {
			return nil, fmt.Errorf("создание keyfunc: %w", err)
		}
	}

	return NewJWTAuthWithKeyfunc(kf, authCfg.HMACSecret, authCfg.Issuer, authCfg.JWTLeeway, logger), nil
}

// NewJWTAuthWithKeyfunc создаёт JWT middleware с предоставленной keyfunc.
// kf может быть nil — тогда принимаются только HS256 токены.
// Используется в тестах для подстановки mock JWKS.
func NewJWTAuthWithKeyfunc(
	kf keyfunc.Keyfunc,
	hmacSecret []byte,
	issuer string,
	jwtLeeway time.Duration,
	logger *slog.Logger,
) *JWTAuth {
	return &JWTAuth{
		hmacSecret: hmacSecret,
		issuer:     issuer,
		jwks:       kf,
		jwtLeeway:  jwtLeeway,
		logger:     logger.With(slog.String("component", "jwt_auth")),
	}
}

// validMethods — алгоритмы, для которых настроен источник ключей.
func (j *JWTAuth) validMethods() []string {
	var methods []string
	if len(j.hmacSecret) > 0 {
		methods = append(methods, jwt.SigningMethodHS256.Alg())
	}
	if j.jwks != nil {
		methods = append(methods, jwt.SigningMethodRS256.Alg())
	}
	return methods
}

// keyFunc выбирает ключ проверки по алгоритму токена.
func (j *JWTAuth) keyFunc(ctx context.Context) jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		switch token.Method.(type) {
		case *jwt.SigningMethodHMAC:
			if len(j.hmacSecret) == 0 {
				return nil, errHMACDisabled
			}
			// Локальный токен обязан быть выдан этим сервисом
			if claims, ok := token.Claims.(*Claims); !ok || claims.Issuer != j.issuer {
				return nil, errBadIssuer
			}
			return j.hmacSecret, nil
		default:
			if j.jwks == nil {
				return nil, errJWKSDisabled
			}
			return j.jwks.KeyfuncCtx(ctx)(token)
		}
	}
}

// Middleware возвращает HTTP middleware для JWT-аутентификации.
// Извлекает Bearer token из заголовка Authorization, валидирует подпись,
// проверяет exp/nbf, помещает sub и scopes в контекст запроса.
func (j *JWTAuth) Middleware() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				apierrors.Unauthorized(w, "Missing Authorization header")
				return
			}

			parts := strings.SplitN(authHeader, " ", 2)
			if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
				apierrors.Unauthorized(w, "Invalid Authorization header, expected Bearer <token>")
				return
			}

			tokenString := strings.TrimSpace(parts[1])
			if tokenString == "" {
				apierrors.Unauthorized(w, "Empty bearer token")
				return
			}

			claims := &Claims{}
			token, err := jwt.ParseWithClaims(tokenString, claims, j.keyFunc(r.Context()),
				jwt.WithValidMethods(j.validMethods()),
				jwt.WithExpirationRequired(),
				jwt.WithLeeway(j.jwtLeeway),
			)
			if err != nil {
				j.logger.Debug("JWT валидация не пройдена",
					slog.String("error", err.Error()),
					slog.String("remote_addr", r.RemoteAddr),
				)
				apierrors.Unauthorized(w, "Invalid or expired token")
				return
			}

			if !token.Valid {
				apierrors.Unauthorized(w, "Invalid token")
				return
			}

			subject, err := claims.GetSubject()
			if err != nil || subject == "" {
				apierrors.Unauthorized(w, "Token has no subject")
				return
			}

			ctx := context.WithValue(r.Context(), ContextKeySubject, subject)
			ctx = context.WithValue(ctx, ContextKeyScopes, claims.Scopes())

			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireScope возвращает middleware, проверяющий наличие указанного scope.
// Если scope отсутствует — возвращает 403 Forbidden.
// Должен использоваться ПОСЛЕ JWTAuth.Middleware().
func RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			scopes, ok := r.Context().Value(ContextKeyScopes).([]string)
			if !ok {
				apierrors.Forbidden(w, "Token has no scopes")
				return
			}

			for _, s := range scopes {
				if s == scope {
					next.ServeHTTP(w, r)
					return
				}
			}

			apierrors.Forbidden(w, "Insufficient permissions: scope "+scope+" required")
		})
	}
}

// SubjectFromContext извлекает sub из контекста запроса.
// Возвращает пустую строку, если sub не найден.
func SubjectFromContext(ctx context.Context) string {
	subject, _ := ctx.Value(ContextKeySubject).(string)
	return subject
}

// ScopesFromContext извлекает scopes из контекста запроса.
// Возвращает nil, если scopes не найдены.
func ScopesFromContext(ctx context.Context) []string {
	scopes, _ := ctx.Value(ContextKeyScopes).([]string)
	return scopes
}
