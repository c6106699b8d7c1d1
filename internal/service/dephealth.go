// dephealth.go — интеграция с topologymetrics SDK для мониторинга зависимостей.
//
// Guide Intake мониторит:
//   - JWKS endpoint внешнего провайдера (HTTP GET, critical), если задан GI_JWKS_URL
//
// Без GI_JWKS_URL внешних зависимостей нет и сервис не создаётся.
//
// Метрики доступны на /metrics вместе с остальными Prometheus-метриками:
//   - app_dependency_health — состояние зависимости (1 = ok, 0 = fail)
//   - app_dependency_latency_seconds — задержка проверки
//   - app_dependency_status — категория статуса
//   - app_dependency_status_detail — детальный статус
package service

import (
	"context"
	"log/slog"
	"net/url"
	"time"

	"github.com/BigKAA/topologymetrics/sdk-go/dephealth"
	_ "github.com/BigKAA/topologymetrics/sdk-go/dephealth/checks/httpcheck" // регистрация HTTP checker factory
)

// jwksDependencyName — имя зависимости JWKS в метриках.
const jwksDependencyName = "idp-jwks"

// DephealthService — сервис мониторинга зависимостей через topologymetrics.
type DephealthService struct {
	dh     *dephealth.DepHealth
	logger *slog.Logger
}

// NewDephealthService создаёт сервис мониторинга JWKS endpoint для вершины
// serviceID в группе group. Метрики регистрируются в глобальном registry,
// если opts не задают другой (dephealth.WithRegisterer).
func NewDephealthService(
	serviceID, group, jwksURL string,
	checkInterval time.Duration,
	logger *slog.Logger,
	opts ...dephealth.Option,
) (*DephealthService, error) {
	opts = append([]dephealth.Option{
		dephealth.WithLogger(logger),
		jwksDependency(jwksURL, checkInterval),
	}, opts...)

	dh, err := dephealth.New(serviceID, group, opts...)
	if err != nil {
		return nil, err
	}

	return &DephealthService{
		dh:     dh,
		logger: logger.With(slog.String("component", "dephealth")),
	}, nil
}

// jwksDependency описывает критичную HTTP-проверку JWKS. Путь проверки
// совпадает с путём JWKS URL.
func jwksDependency(jwksURL string, checkInterval time.Duration) dephealth.Option {
	depOpts := []dephealth.DependencyOption{
		dephealth.FromURL(jwksURL),
		dephealth.CheckInterval(checkInterval),
		dephealth.Critical(true),
	}
	if parsed, err := url.Parse(jwksURL); err == nil && parsed.Path != "" {
		depOpts = append(depOpts, dephealth.WithHTTPHealthPath(parsed.Path))
	}
	return dephealth.HTTP(jwksDependencyName, depOpts...)
}

// Start запускает периодическую проверку зависимостей.
func (ds *DephealthService) Start(ctx context.Context) error {
	ds.logger.Info("Мониторинг зависимостей запущен (JWKS)")
	return ds.dh.Start(ctx)
}

// Stop останавливает мониторинг зависимостей.
func (ds *DephealthService) Stop() {
	ds.dh.Stop()
	ds.logger.Info("Мониторинг зависимостей остановлен")
}

// Health возвращает текущее состояние зависимостей.
// Ключ — имя зависимости, значение — true если ok.
func (ds *DephealthService) Health() map[string]bool {
	return ds.dh.Health()
}
