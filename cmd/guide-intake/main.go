// Точка входа Guide Intake — сервиса приёма заявок гидов.
//
//	guide-intake                  — запуск HTTP-сервера
//	guide-intake hash-password    — bcrypt-хэш пароля из stdin для GI_ADMIN_PASSWORD_HASH
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"time"

	"github.com/bigkaa/guidehub/guide-intake/internal/api/handlers"
	"github.com/bigkaa/guidehub/guide-intake/internal/api/middleware"
	"github.com/bigkaa/guidehub/guide-intake/internal/api/openapi"
	"github.com/bigkaa/guidehub/guide-intake/internal/config"
	"github.com/bigkaa/guidehub/guide-intake/internal/ratelimit"
	"github.com/bigkaa/guidehub/guide-intake/internal/server"
	"github.com/bigkaa/guidehub/guide-intake/internal/service"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/filestore"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/layout"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/wal"
)

// startupTimeout — таймаут проверок при старте (OpenAPI, Redis).
const startupTimeout = 10 * time.Second

func main() {
	if len(os.Args) > 1 && os.Args[1] == "hash-password" {
		if err := hashPassword(os.Stdin, os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Ошибка: %v\n", err)
			os.Exit(1)
		}
		return
	}

	// .env подгружается до чтения окружения, уже заданные переменные не перезаписываются
	if err := config.LoadDotEnv(os.Getenv("GI_ENV_FILE")); err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка загрузки .env: %v\n", err)
		os.Exit(1)
	}

	// Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Ошибка конфигурации: %v\n", err)
		os.Exit(1)
	}

	// Настройка логгера
	logger := config.SetupLogger(cfg)
	logger.Info("Guide Intake запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
		slog.String("upload_root", cfg.UploadRoot),
		slog.Any("allowed_origins", cfg.AllowedOrigins),
	)

	if err := run(cfg, logger); err != nil {
		logger.Error("Ошибка запуска", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger.Info("Guide Intake остановлен")
}

// run инициализирует компоненты, запускает сервер и ждёт его остановки.
func run(cfg *config.Config, logger *slog.Logger) error {
	ctx := context.Background()

	// --- Инициализация компонентов ---

	// 1. Контракт API
	startCtx, cancel := context.WithTimeout(ctx, startupTimeout)
	doc, err := openapi.Load(startCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("OpenAPI: %w", err)
	}

	// 2. Структура хранилища
	l, err := layout.Ensure(cfg.UploadRoot)
	if err != nil {
		return fmt.Errorf("хранилище: %w", err)
	}
	if usage, err := l.DiskUsage(); err == nil {
		logger.Info("Хранилище готово",
			slog.String("root", l.Root()),
			slog.Int64("available_bytes", usage.Available),
		)
	}

	// 3. WAL-движок
	walEngine, err := wal.New(l.WAL(), logger)
	if err != nil {
		return fmt.Errorf("WAL: %w", err)
	}
	store := filestore.New(l)

	// 4. Сервисы
	intakeSvc := service.NewIntakeService(cfg, store, walEngine, logger)

	// WAL recovery: откатываем заявки, прерванные аварийной остановкой
	recovered, err := intakeSvc.RecoverPending()
	if err != nil {
		return fmt.Errorf("восстановление WAL: %w", err)
	}
	if recovered > 0 {
		logger.Warn("Незавершённые заявки откачены", slog.Int("count", recovered))
	}

	retrievalSvc := service.NewRetrievalService(store, service.NewRecordCache(cfg.CacheSize, cfg.CacheTTL), logger)

	authSvc, err := service.NewAuthService(cfg, logger)
	if err != nil {
		return fmt.Errorf("аутентификация: %w", err)
	}

	// 5. Фоновые процессы
	janitorSvc := service.NewJanitorService(cfg, store, walEngine, logger)
	janitorSvc.Start(ctx)
	defer janitorSvc.Stop()

	var deps handlers.DependencyHealth
	if cfg.JWKSUrl != "" {
		dephealthSvc := startDephealth(ctx, cfg, logger)
		if dephealthSvc != nil {
			defer dephealthSvc.Stop()
			deps = dephealthSvc
		}
	}

	// 6. Rate limiting
	var limiter middleware.Limiter
	if cfg.RateLimitEnabled() {
		client := ratelimit.NewRedisClient(cfg)
		defer client.Close()

		pingCtx, cancel := context.WithTimeout(ctx, startupTimeout)
		err := ratelimit.Ping(pingCtx, client)
		cancel()
		if err != nil {
			// При недоступном Redis middleware пропускает запросы
			logger.Warn("Redis недоступен при старте, rate limiting не ограничивает запросы до восстановления",
				slog.String("addr", cfg.RedisAddr),
				slog.String("error", err.Error()),
			)
		}
		limiter = ratelimit.New(client, cfg.RateLimitWindow, logger)
		logger.Info("Rate limiting включён",
			slog.String("addr", cfg.RedisAddr),
			slog.Int("apply_limit", cfg.RateLimitApply),
			slog.Int("login_limit", cfg.RateLimitLogin),
			slog.String("window", cfg.RateLimitWindow.String()),
		)
	}

	// 7. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(middleware.JWTAuthConfig{
		HMACSecret:      authSvc.Secret(),
		Issuer:          authSvc.Issuer(),
		JWKSURL:         cfg.JWKSUrl,
		ClientTimeout:   cfg.JWKSClientTimeout,
		RefreshInterval: cfg.JWKSRefreshInterval,
		JWTLeeway:       cfg.JWTLeeway,
	}, logger)
	if err != nil {
		return fmt.Errorf("JWT: %w", err)
	}
	logger.Info("JWT аутентификация настроена",
		slog.Bool("local_login", authSvc.Enabled()),
		slog.String("jwks_url", cfg.JWKSUrl),
	)

	// 8. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, server.Deps{
		Applications: handlers.NewApplicationsHandler(intakeSvc, retrievalSvc, cfg.RequestMaxSize, logger),
		Auth:         handlers.NewAuthHandler(authSvc, logger),
		Health:       handlers.NewHealthHandler(l, cfg.MinFreeBytes, deps),
		OpenAPI:      doc,
		JWTAuth:      jwtAuth,
		Limiter:      limiter,
	})

	if err := srv.Run(); err != nil {
		return err
	}

	// Фоновые процессы останавливаются через defer после сервера
	logger.Info("Остановка фоновых процессов...")
	return nil
}

// startDephealth запускает мониторинг JWKS через topologymetrics.
// Ошибки не фатальны: сервис работает без мониторинга зависимостей.
func startDephealth(ctx context.Context, cfg *config.Config, logger *slog.Logger) *service.DephealthService {
	hostname, err := os.Hostname()
	if err != nil {
		hostname = "guide-intake"
	}
	serviceID := parseOwnerName(hostname)

	dephealthSvc, err := service.NewDephealthService(
		serviceID,
		cfg.DephealthGroup,
		cfg.JWKSUrl,
		cfg.DephealthCheckInterval,
		logger,
	)
	if err != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", err.Error()),
		)
		return nil
	}
	if err := dephealthSvc.Start(ctx); err != nil {
		logger.Warn("Ошибка запуска topologymetrics",
			slog.String("error", err.Error()),
		)
		return nil
	}

	logger.Info("topologymetrics запущен",
		slog.String("service_id", serviceID),
		slog.String("jwks_url", cfg.JWKSUrl),
		slog.String("check_interval", cfg.DephealthCheckInterval.String()),
	)
	return dephealthSvc
}

var (
	// deploymentPodRe — <deployment>-<pod-template-hash>-<suffix>
	deploymentPodRe = regexp.MustCompile(`^(.+)-[a-z0-9]{6,10}-[a-z0-9]{5}$`)
	// statefulSetPodRe — <statefulset>-<ordinal>
	statefulSetPodRe = regexp.MustCompile(`^(.+)-[0-9]+$`)
)

// parseOwnerName извлекает имя Deployment или StatefulSet из hostname пода.
// Если hostname не похож на имя пода, возвращается как есть.
func parseOwnerName(hostname string) string {
	if m := deploymentPodRe.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	if m := statefulSetPodRe.FindStringSubmatch(hostname); m != nil {
		return m[1]
	}
	return hostname
}

// hashPassword читает пароль из первой строки in и печатает bcrypt-хэш в out.
func hashPassword(in io.Reader, out io.Writer) error {
	line, err := bufio.NewReader(in).ReadString('\n')
	if err != nil && err != io.EOF {
		return fmt.Errorf("чтение пароля: %w", err)
	}

	hash, err := service.HashPassword(strings.TrimRight(line, "\r\n"))
	if err != nil {
		return err
	}

	_, err = fmt.Fprintln(out, hash)
	return err
}
