// auth.go — вход администратора и выпуск токенов доступа.
// Учётные данные: GI_ADMIN_USERNAME + bcrypt-хэш GI_ADMIN_PASSWORD_HASH.
// Токены: JWT HS256, подписанные GI_JWT_SECRET, claim scopes — массив строк.
package service

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/guidehub/guide-intake/internal/config"
)

// ScopeApplicationsRead — право на чтение заявок.
const ScopeApplicationsRead = "applications:read"

// loginAttemptsTotal — попытки входа по результату.
var loginAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "gi_login_attempts_total",
	Help: "Количество попыток входа администратора",
}, []string{"result"})

// LoginResult — выданный токен доступа.
type LoginResult struct {
	Token     string
	ExpiresAt time.Time
}

// tokenClaims — claims выдаваемого токена.
type tokenClaims struct {
	jwt.RegisteredClaims
	Scopes []string `json:"scopes"`
}

// AuthService — проверка учётных данных администратора и выпуск токенов.
type AuthService struct {
	username     string
	passwordHash []byte
	// dummyHash сравнивается для неизвестного логина, чтобы время ответа не выдавало его
	dummyHash []byte
	secret    []byte
	issuer    string
	ttl       time.Duration
	logger    *slog.Logger
	now       func() time.Time
}

// NewAuthService создаёт сервис входа. Если GI_JWT_SECRET не задан,
// локальный вход выключен (Enabled() == false).
func NewAuthService(cfg *config.Config, logger *slog.Logger) (*AuthService, error) {
	s := &AuthService{
		username:     cfg.AdminUsername,
		passwordHash: []byte(cfg.AdminPasswordHash),
		secret:       []byte(cfg.JWTSecret),
		issuer:       cfg.JWTIssuer,
		ttl:          cfg.JWTTTL,
		logger:       logger.With(slog.String("component", "auth")),
		now:          time.Now,
	}

	if !s.Enabled() {
		return s, nil
	}

	cost, err := bcrypt.Cost(s.passwordHash)
	if err != nil {
		return nil, fmt.Errorf("некорректный bcrypt-хэш пароля администратора: %w", err)
	}
	s.dummyHash, err = bcrypt.GenerateFromPassword([]byte("guide-intake-dummy-password"), cost)
	if err != nil {
		return nil, fmt.Errorf("ошибка генерации хэша: %w", err)
	}

	return s, nil
}

// Enabled сообщает, настроен ли локальный вход.
func (s *AuthService) Enabled() bool {
	return len(s.secret) > 0
}

// Issuer возвращает значение iss выдаваемых токенов.
func (s *AuthService) Issuer() string {
	return s.issuer
}

// Secret возвращает ключ подписи для проверки выданных токенов.
func (s *AuthService) Secret() []byte {
	return s.secret
}

// Login проверяет учётные данные и выдаёт токен с правом чтения заявок.
// Неизвестный логин и неверный пароль неразличимы для клиента.
func (s *AuthService) Login(ctx context.Context, username, password string) (*LoginResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if !s.Enabled() {
		loginAttemptsTotal.WithLabelValues("disabled").Inc()
		return nil, &AuthError{Message: "Local login is not configured"}
	}

	usernameOK := subtle.ConstantTimeCompare([]byte(username), []byte(s.username)) == 1
	hash := s.passwordHash
	if !usernameOK {
		hash = s.dummyHash
	}

	err := bcrypt.CompareHashAndPassword(hash, []byte(password))
	if err != nil || !usernameOK {
		if err != nil && !errors.Is(err, bcrypt.ErrMismatchedHashAndPassword) {
			s.logger.Error("Ошибка проверки пароля", slog.String("error", err.Error()))
		}
		loginAttemptsTotal.WithLabelValues("failure").Inc()
		s.logger.Warn("Неудачная попытка входа", slog.String("username", username))
		return nil, &AuthError{Message: "Invalid username or password"}
	}

	result, err := s.IssueToken(s.username, []string{ScopeApplicationsRead})
	if err != nil {
		return nil, err
	}

	loginAttemptsTotal.WithLabelValues("success").Inc()
	s.logger.Info("Администратор вошёл", slog.String("username", s.username))
	return result, nil
}

// IssueToken подписывает токен для subject с указанными правами.
func (s *AuthService) IssueToken(subject string, scopes []string) (*LoginResult, error) {
	if !s.Enabled() {
		return nil, errors.New("секрет подписи токенов не задан")
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.ttl)

	claims := tokenClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		Scopes: scopes,
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return nil, fmt.Errorf("ошибка подписи токена: %w", err)
	}

	return &LoginResult{Token: token, ExpiresAt: expiresAt.Truncate(time.Second)}, nil
}

// HashPassword возвращает bcrypt-хэш пароля для GI_ADMIN_PASSWORD_HASH.
func HashPassword(password string) (string, error) {
	if password == "" {
		return "", errors.New("пароль не может быть пустым")
	}
	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return "", fmt.Errorf("ошибка генерации bcrypt-хэша: %w", err)
	}
	return string(hash), nil
}
