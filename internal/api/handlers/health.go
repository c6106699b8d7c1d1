// health.go — обработчики health endpoints для Kubernetes probes.
package handlers

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/bigkaa/guidehub/guide-intake/internal/config"
	"github.com/bigkaa/guidehub/guide-intake/internal/storage/layout"
)

const (
	statusOK   = "ok"
	statusFail = "fail"
	// serviceName — имя сервиса в ответах health.
	serviceName = "guide-intake"
)

// checkResult — результат одной проверки readiness.
type checkResult struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// DependencyHealth — источник состояния внешних зависимостей (dephealth).
type DependencyHealth interface {
	Health() map[string]bool
}

// HealthHandler реализует health endpoints: /health, /health/live, /health/ready.
type HealthHandler struct {
	version      string
	layout       *layout.Layout
	minFreeBytes int64
	// deps — опционально; состояние зависимостей выводится, но на readiness не влияет
	deps DependencyHealth
	// diskUsage подменяется в тестах
	diskUsage func() (layout.DiskUsage, error)
}

// NewHealthHandler создаёт обработчик health endpoints.
// deps может быть nil.
func NewHealthHandler(l *layout.Layout, minFreeBytes int64, deps DependencyHealth) *HealthHandler {
	return &HealthHandler{
		version:      config.Version,
		layout:       l,
		minFreeBytes: minFreeBytes,
		deps:         deps,
		diskUsage:    l.DiskUsage,
	}
}

// Health обрабатывает GET /health.
func (h *HealthHandler) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": statusOK})
}

// HealthLive обрабатывает GET /health/live.
// Возвращает 200, если процесс жив. Не проверяет зависимости.
func (h *HealthHandler) HealthLive(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    statusOK,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
	})
}

// HealthReady обрабатывает GET /health/ready.
// Проверяет: структура хранилища доступна на запись, свободное место, WAL.
func (h *HealthHandler) HealthReady(w http.ResponseWriter, _ *http.Request) {
	checks := map[string]checkResult{
		"storage": h.checkStorage(),
		"disk":    h.checkDisk(),
		"wal":     h.checkWAL(),
	}

	overallStatus := statusOK
	httpStatus := http.StatusOK
	for _, c := range checks {
		if c.Status != statusOK {
			overallStatus = statusFail
			httpStatus = http.StatusServiceUnavailable
		}
	}

	if h.deps != nil {
		for name, ok := range h.deps.Health() {
			c := checkResult{Status: statusOK}
			if !ok {
				c = checkResult{Status: statusFail, Message: "Зависимость недоступна"}
			}
			checks["dependency:"+name] = c
		}
	}

	writeJSON(w, httpStatus, map[string]any{
		"status":    overallStatus,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"version":   h.version,
		"service":   serviceName,
		"checks":    checks,
	})
}

// checkStorage проверяет, что все директории хранилища доступны на запись.
func (h *HealthHandler) checkStorage() checkResult {
	if err := h.layout.Check(); err != nil {
		return checkResult{Status: statusFail, Message: "Хранилище недоступно для записи"}
	}
	return checkResult{Status: statusOK}
}

// checkDisk проверяет запас свободного места.
func (h *HealthHandler) checkDisk() checkResult {
	usage, err := h.diskUsage()
	if err != nil {
		return checkResult{Status: statusFail, Message: "Не удалось получить ёмкость диска"}
	}
	if usage.Available < h.minFreeBytes {
		return checkResult{
			Status:  statusFail,
			Message: fmt.Sprintf("Свободно %d байт, требуется не менее %d", usage.Available, h.minFreeBytes),
		}
	}
	return checkResult{Status: statusOK}
}

// checkWAL проверяет доступность директории WAL на запись.
func (h *HealthHandler) checkWAL() checkResult {
	testFile := filepath.Join(h.layout.WAL(), ".health_check")
	if err := os.WriteFile(testFile, []byte("ok"), 0o600); err != nil {
		return checkResult{Status: statusFail, Message: "Директория WAL недоступна для записи"}
	}
	_ = os.Remove(testFile)
	return checkResult{Status: statusOK}
}
