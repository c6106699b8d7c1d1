// Пакет config — загрузка и валидация конфигурации Guide Intake
// из переменных окружения.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Размерные константы по умолчанию.
const (
	mib = 1 << 20
	kib = 1 << 10
)

// Config содержит все параметры конфигурации Guide Intake.
// Создаётся один раз при старте и дальше передаётся явно.
type Config struct {
	// Порт HTTP-сервера
	Port int
	// Корневая директория хранилища (resumes/, videos/, applications/)
	UploadRoot string
	// Разрешённые Origin для браузерных запросов ("*" — любой)
	AllowedOrigins []string

	// Максимальный размер резюме в байтах
	ResumeMaxSize int64
	// Максимальный размер любой части multipart в байтах
	PartMaxSize int64
	// Максимальный размер всего тела запроса в байтах
	RequestMaxSize int64
	// Максимальный размер текстового поля формы в байтах
	FieldMaxSize int64
	// Отклонять заявку целиком при недопустимом типе видео (иначе видео отбрасывается)
	RejectInvalidVideo bool
	// Проверять содержимое резюме по сигнатуре
	SniffResume bool

	// Логин администратора
	AdminUsername string
	// bcrypt-хэш пароля администратора
	AdminPasswordHash string
	// Секрет подписи HS256 токенов (пусто — локальные токены не выдаются)
	JWTSecret string
	// Значение iss в выданных токенах
	JWTIssuer string
	// Время жизни выданного токена
	JWTTTL time.Duration
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// URL JWKS внешнего провайдера (опционально)
	JWKSUrl string
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration

	// Максимальное количество записей в кэше заявок
	CacheSize int
	// Время жизни записи в кэше
	CacheTTL time.Duration

	// Адрес Redis для rate limiting (пусто — ограничение выключено)
	RedisAddr string
	// Пароль Redis
	RedisPassword string
	// Номер базы Redis
	RedisDB int
	// Лимит заявок с одного адреса за окно
	RateLimitApply int
	// Лимит попыток входа с одного адреса за окно
	RateLimitLogin int
	// Длина окна rate limiting
	RateLimitWindow time.Duration

	// Интервал фоновой очистки
	JanitorInterval time.Duration
	// Возраст, после которого staging-директория считается брошенной
	StagingMaxAge time.Duration
	// Возраст, после которого файл без заявки считается осиротевшим
	OrphanGrace time.Duration
	// Минимум свободного места для readiness
	MinFreeBytes int64

	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration
	// Имя группы в метриках topologymetrics
	DephealthGroup string

	// Таймауты HTTP-сервера
	HTTPReadTimeout  time.Duration
	HTTPWriteTimeout time.Duration
	HTTPIdleTimeout  time.Duration
	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration

	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string
}

// LoadDotEnv подгружает переменные из .env файла, не перезаписывая
// уже заданные. Отсутствующий файл не является ошибкой.
func LoadDotEnv(path string) error {
	if path == "" {
		path = ".env"
	}
	if err := godotenv.Load(path); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("загрузка %s: %w", path, err)
	}
	return nil
}

// Load загружает конфигурацию из переменных окружения, валидирует
// значения и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// GI_PORT — порт HTTP-сервера (по умолчанию 5000)
	cfg.Port, err = getEnvInt("GI_PORT", 5000)
	if err != nil {
		return nil, fmt.Errorf("GI_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("GI_PORT: значение %d вне диапазона 1-65535", cfg.Port)
	}

	cfg.UploadRoot = getEnvDefault("GI_UPLOAD_ROOT", "./uploads")

	// GI_ALLOWED_ORIGINS — список через запятую
	cfg.AllowedOrigins = getEnvList("GI_ALLOWED_ORIGINS", []string{"http://localhost:8000"})

	// --- Лимиты загрузки ---

	if cfg.ResumeMaxSize, err = getEnvPositiveInt64("GI_RESUME_MAX_SIZE", 5*mib); err != nil {
		return nil, err
	}
	if cfg.PartMaxSize, err = getEnvPositiveInt64("GI_PART_MAX_SIZE", 50*mib); err != nil {
		return nil, err
	}
	if cfg.RequestMaxSize, err = getEnvPositiveInt64("GI_REQUEST_MAX_SIZE", 110*mib); err != nil {
		return nil, err
	}
	if cfg.FieldMaxSize, err = getEnvPositiveInt64("GI_FIELD_MAX_SIZE", 64*kib); err != nil {
		return nil, err
	}
	if cfg.ResumeMaxSize > cfg.PartMaxSize {
		return nil, fmt.Errorf("GI_RESUME_MAX_SIZE: значение %d должно быть <= GI_PART_MAX_SIZE (%d)",
			cfg.ResumeMaxSize, cfg.PartMaxSize)
	}
	if cfg.PartMaxSize > cfg.RequestMaxSize {
		return nil, fmt.Errorf("GI_PART_MAX_SIZE: значение %d должно быть <= GI_REQUEST_MAX_SIZE (%d)",
			cfg.PartMaxSize, cfg.RequestMaxSize)
	}

	if cfg.RejectInvalidVideo, err = getEnvBool("GI_REJECT_INVALID_VIDEO", false); err != nil {
		return nil, fmt.Errorf("GI_REJECT_INVALID_VIDEO: %w", err)
	}
	if cfg.SniffResume, err = getEnvBool("GI_SNIFF_RESUME", true); err != nil {
		return nil, fmt.Errorf("GI_SNIFF_RESUME: %w", err)
	}

	// --- Аутентификация ---

	cfg.AdminUsername = getEnvDefault("GI_ADMIN_USERNAME", "admin")
	cfg.AdminPasswordHash = os.Getenv("GI_ADMIN_PASSWORD_HASH")
	if cfg.AdminPasswordHash != "" && !strings.HasPrefix(cfg.AdminPasswordHash, "$2") {
		return nil, fmt.Errorf("GI_ADMIN_PASSWORD_HASH: ожидается bcrypt-хэш (используйте guide-intake hash-password)")
	}

	cfg.JWTSecret = os.Getenv("GI_JWT_SECRET")
	if cfg.JWTSecret != "" && len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("GI_JWT_SECRET: минимальная длина 32 байта, получено %d", len(cfg.JWTSecret))
	}
	cfg.JWKSUrl = os.Getenv("GI_JWKS_URL")
	if cfg.JWTSecret == "" && cfg.JWKSUrl == "" {
		return nil, fmt.Errorf("GI_JWT_SECRET или GI_JWKS_URL: должен быть задан хотя бы один источник токенов")
	}
	if cfg.JWTSecret != "" && cfg.AdminPasswordHash == "" {
		return nil, fmt.Errorf("GI_ADMIN_PASSWORD_HASH: обязателен при заданном GI_JWT_SECRET")
	}

	cfg.JWTIssuer = getEnvDefault("GI_JWT_ISSUER", "guide-intake")
	if cfg.JWTTTL, err = getEnvDuration("GI_JWT_TTL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("GI_JWT_TTL: %w", err)
	}
	if cfg.JWTTTL <= 0 {
		return nil, fmt.Errorf("GI_JWT_TTL: значение должно быть положительным")
	}
	if cfg.JWTLeeway, err = getEnvDuration("GI_JWT_LEEWAY", 30*time.Second); err != nil {
		return nil, fmt.Errorf("GI_JWT_LEEWAY: %w", err)
	}
	if cfg.JWKSRefreshInterval, err = getEnvDuration("GI_JWKS_REFRESH_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("GI_JWKS_REFRESH_INTERVAL: %w", err)
	}
	if cfg.JWKSClientTimeout, err = getEnvDuration("GI_JWKS_CLIENT_TIMEOUT", 10*time.Second); err != nil {
		return nil, fmt.Errorf("GI_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- Кэш заявок ---

	if cfg.CacheSize, err = getEnvInt("GI_CACHE_SIZE", 1024); err != nil {
		return nil, fmt.Errorf("GI_CACHE_SIZE: %w", err)
	}
	if cfg.CacheSize <= 0 {
		return nil, fmt.Errorf("GI_CACHE_SIZE: значение должно быть положительным")
	}
	if cfg.CacheTTL, err = getEnvDuration("GI_CACHE_TTL", 10*time.Minute); err != nil {
		return nil, fmt.Errorf("GI_CACHE_TTL: %w", err)
	}

	// --- Rate limiting ---

	cfg.RedisAddr = os.Getenv("GI_REDIS_ADDR")
	cfg.RedisPassword = os.Getenv("GI_REDIS_PASSWORD")
	if cfg.RedisDB, err = getEnvInt("GI_REDIS_DB", 0); err != nil {
		return nil, fmt.Errorf("GI_REDIS_DB: %w", err)
	}
	if cfg.RateLimitApply, err = getEnvInt("GI_RATE_LIMIT_APPLY", 10); err != nil {
		return nil, fmt.Errorf("GI_RATE_LIMIT_APPLY: %w", err)
	}
	if cfg.RateLimitLogin, err = getEnvInt("GI_RATE_LIMIT_LOGIN", 20); err != nil {
		return nil, fmt.Errorf("GI_RATE_LIMIT_LOGIN: %w", err)
	}
	if cfg.RateLimitWindow, err = getEnvDuration("GI_RATE_LIMIT_WINDOW", time.Minute); err != nil {
		return nil, fmt.Errorf("GI_RATE_LIMIT_WINDOW: %w", err)
	}

	// --- Фоновые процессы ---

	if cfg.JanitorInterval, err = getEnvDuration("GI_JANITOR_INTERVAL", 15*time.Minute); err != nil {
		return nil, fmt.Errorf("GI_JANITOR_INTERVAL: %w", err)
	}
	if cfg.JanitorInterval <= 0 {
		return nil, fmt.Errorf("GI_JANITOR_INTERVAL: значение должно быть положительным")
	}
	if cfg.StagingMaxAge, err = getEnvDuration("GI_STAGING_MAX_AGE", time.Hour); err != nil {
		return nil, fmt.Errorf("GI_STAGING_MAX_AGE: %w", err)
	}
	if cfg.OrphanGrace, err = getEnvDuration("GI_ORPHAN_GRACE", 24*time.Hour); err != nil {
		return nil, fmt.Errorf("GI_ORPHAN_GRACE: %w", err)
	}
	if cfg.MinFreeBytes, err = getEnvInt64("GI_MIN_FREE_BYTES", 200*mib); err != nil {
		return nil, fmt.Errorf("GI_MIN_FREE_BYTES: %w", err)
	}

	if cfg.DephealthCheckInterval, err = getEnvDuration("GI_DEPHEALTH_CHECK_INTERVAL", 15*time.Second); err != nil {
		return nil, fmt.Errorf("GI_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}
	cfg.DephealthGroup = getEnvDefault("GI_DEPHEALTH_GROUP", "guide-intake")

	// --- HTTP-сервер ---
	// Таймауты чтения/записи рассчитаны на загрузку видео до 50 МБ.

	if cfg.HTTPReadTimeout, err = getEnvDuration("GI_HTTP_READ_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("GI_HTTP_READ_TIMEOUT: %w", err)
	}
	if cfg.HTTPWriteTimeout, err = getEnvDuration("GI_HTTP_WRITE_TIMEOUT", 5*time.Minute); err != nil {
		return nil, fmt.Errorf("GI_HTTP_WRITE_TIMEOUT: %w", err)
	}
	if cfg.HTTPIdleTimeout, err = getEnvDuration("GI_HTTP_IDLE_TIMEOUT", 2*time.Minute); err != nil {
		return nil, fmt.Errorf("GI_HTTP_IDLE_TIMEOUT: %w", err)
	}
	if cfg.ShutdownTimeout, err = getEnvDuration("GI_SHUTDOWN_TIMEOUT", 15*time.Second); err != nil {
		return nil, fmt.Errorf("GI_SHUTDOWN_TIMEOUT: %w", err)
	}

	// --- Логирование ---

	cfg.LogLevel, err = parseLogLevel(getEnvDefault("GI_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("GI_LOG_LEVEL: %w", err)
	}
	cfg.LogFormat = getEnvDefault("GI_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("GI_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	return cfg, nil
}

// RateLimitEnabled сообщает, настроен ли Redis для rate limiting.
func (c *Config) RateLimitEnabled() bool {
	return c.RedisAddr != ""
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvList разбирает список через запятую, пустые элементы отбрасываются.
func getEnvList(key string, defaultVal []string) []string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	var result []string
	for _, item := range strings.Split(val, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			result = append(result, item)
		}
	}
	if len(result) == 0 {
		return defaultVal
	}
	return result
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvInt64 возвращает int64 значение переменной окружения или значение по умолчанию.
func getEnvInt64(key string, defaultVal int64) (int64, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.ParseInt(val, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvPositiveInt64 — getEnvInt64 с проверкой n > 0. Ошибка уже содержит имя переменной.
func getEnvPositiveInt64(key string, defaultVal int64) (int64, error) {
	n, err := getEnvInt64(key, defaultVal)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s: значение должно быть положительным, получено %d", key, n)
	}
	return n, nil
}

// getEnvBool возвращает bool из переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное логическое значение: %q", val)
	}
	return b, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 6h)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}
