package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/bigkaa/guidehub/guide-intake/internal/config"
)

const testJWTSecret = "test-secret-test-secret-test-secret!"

// newTestAuthService создаёт сервис входа с паролем "s3cret".
func newTestAuthService(t *testing.T) *AuthService {
	t.Helper()

	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("Ошибка генерации хэша: %v", err)
	}

	svc, err := NewAuthService(&config.Config{
		AdminUsername:     "admin",
		AdminPasswordHash: string(hash),
		JWTSecret:         testJWTSecret,
		JWTIssuer:         "guide-intake",
		JWTTTL:            15 * time.Minute,
	}, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания AuthService: %v", err)
	}
	return svc
}

func TestLogin_Success(t *testing.T) {
	svc := newTestAuthService(t)

	result, err := svc.Login(context.Background(), "admin", "s3cret")
	if err != nil {
		t.Fatalf("Ошибка Login: %v", err)
	}
	if result.Token == "" {
		t.Fatal("токен пустой")
	}
	if time.Until(result.ExpiresAt) <= 0 || time.Until(result.ExpiresAt) > 16*time.Minute {
		t.Errorf("неожиданный ExpiresAt: %v", result.ExpiresAt)
	}

	// Токен проверяется тем же секретом и содержит нужные claims
	claims := &tokenClaims{}
	_, err = jwt.ParseWithClaims(result.Token, claims, func(*jwt.Token) (any, error) {
		return []byte(testJWTSecret), nil
	}, jwt.WithValidMethods([]string{"HS256"}), jwt.WithIssuer("guide-intake"))
	if err != nil {
		t.Fatalf("токен не проходит проверку: %v", err)
	}
	if claims.Subject != "admin" {
		t.Errorf("sub: хотели admin, получили %q", claims.Subject)
	}
	if len(claims.Scopes) != 1 || claims.Scopes[0] != ScopeApplicationsRead {
		t.Errorf("scopes: неожиданное значение %v", claims.Scopes)
	}
}

func TestLogin_InvalidCredentials(t *testing.T) {
	svc := newTestAuthService(t)

	tests := []struct {
		name     string
		username string
		password string
	}{
		{"неверный пароль", "admin", "wrong"},
		{"неизвестный логин", "root", "s3cret"},
		{"пустые значения", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Login(context.Background(), tt.username, tt.password)
			var ae *AuthError
			if !errors.As(err, &ae) {
				t.Fatalf("ожидалась AuthError, получено %v", err)
			}
			if ae.Forbidden {
				t.Error("неверные учётные данные — 401, а не 403")
			}
			if ae.Message != "Invalid username or password" {
				t.Errorf("неожиданное сообщение: %q", ae.Message)
			}
		})
	}
}

func TestLogin_Disabled(t *testing.T) {
	svc, err := NewAuthService(&config.Config{JWKSUrl: "http://idp/jwks"}, testLogger())
	if err != nil {
		t.Fatalf("Ошибка создания AuthService: %v", err)
	}
	if svc.Enabled() {
		t.Fatal("локальный вход должен быть выключен без секрета")
	}

	_, err = svc.Login(context.Background(), "admin", "x")
	var ae *AuthError
	if !errors.As(err, &ae) {
		t.Fatalf("ожидалась AuthError, получено %v", err)
	}
}

func TestNewAuthService_InvalidHash(t *testing.T) {
	_, err := NewAuthService(&config.Config{
		AdminUsername:     "admin",
		AdminPasswordHash: "$2a$not-a-hash",
		JWTSecret:         testJWTSecret,
		JWTTTL:            time.Minute,
	}, testLogger())
	if err == nil {
		t.Fatal("ожидалась ошибка для некорректного хэша")
	}
}

func TestHashPassword(t *testing.T) {
	hash, err := HashPassword("s3cret")
	if err != nil {
		t.Fatalf("Ошибка HashPassword: %v", err)
	}
	if err := bcrypt.CompareHashAndPassword([]byte(hash), []byte("s3cret")); err != nil {
		t.Errorf("хэш не соответствует паролю: %v", err)
	}

	if _, err := HashPassword(""); err == nil {
		t.Error("ожидалась ошибка для пустого пароля")
	}
}
