package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/bigkaa/guidehub/guide-intake/internal/storage/layout"
)

// fakeDeps — фиксированное состояние зависимостей.
type fakeDeps map[string]bool

func (f fakeDeps) Health() map[string]bool { return f }

type readyBody struct {
	Status  string                 `json:"status"`
	Service string                 `json:"service"`
	Checks  map[string]checkResult `json:"checks"`
}

func newTestHealthHandler(t *testing.T, deps DependencyHealth) *HealthHandler {
	t.Helper()
	l, err := layout.Ensure(t.TempDir())
	if err != nil {
		t.Fatalf("Ошибка создания структуры хранилища: %v", err)
	}
	h := NewHealthHandler(l, 1024, deps)
	h.diskUsage = func() (layout.DiskUsage, error) {
		return layout.DiskUsage{Total: 1 << 30, Used: 1 << 29, Available: 1 << 29}, nil
	}
	return h
}

func callReady(t *testing.T, h *HealthHandler) (int, readyBody) {
	t.Helper()
	rec := httptest.NewRecorder()
	h.HealthReady(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))

	var body readyBody
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	return rec.Code, body
}

func TestHealth(t *testing.T) {
	h := newTestHealthHandler(t, nil)

	rec := httptest.NewRecorder()
	h.Health(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", rec.Code)
	}
	if got := rec.Body.String(); got != "{\"status\":\"ok\"}\n" {
		t.Errorf("тело = %q", got)
	}
}

func TestHealthLive(t *testing.T) {
	h := newTestHealthHandler(t, nil)

	rec := httptest.NewRecorder()
	h.HealthLive(rec, httptest.NewRequest(http.MethodGet, "/health/live", nil))

	var body map[string]any
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if rec.Code != http.StatusOK || body["status"] != statusOK || body["service"] != serviceName {
		t.Errorf("неожиданный ответ %d: %v", rec.Code, body)
	}
}

func TestHealthReady_OK(t *testing.T) {
	h := newTestHealthHandler(t, nil)

	code, body := callReady(t, h)
	if code != http.StatusOK || body.Status != statusOK {
		t.Fatalf("ожидался ok/200, получен %s/%d: %+v", body.Status, code, body.Checks)
	}
	for _, name := range []string{"storage", "disk", "wal"} {
		if body.Checks[name].Status != statusOK {
			t.Errorf("проверка %s: %+v", name, body.Checks[name])
		}
	}
}

func TestHealthReady_LowDisk(t *testing.T) {
	h := newTestHealthHandler(t, nil)
	h.diskUsage = func() (layout.DiskUsage, error) {
		return layout.DiskUsage{Total: 4096, Used: 4000, Available: 96}, nil
	}

	code, body := callReady(t, h)
	if code != http.StatusServiceUnavailable || body.Status != statusFail {
		t.Fatalf("ожидался fail/503, получен %s/%d", body.Status, code)
	}
	if body.Checks["disk"].Status != statusFail || body.Checks["storage"].Status != statusOK {
		t.Errorf("неожиданные проверки: %+v", body.Checks)
	}
}

func TestHealthReady_DiskUsageError(t *testing.T) {
	h := newTestHealthHandler(t, nil)
	h.diskUsage = func() (layout.DiskUsage, error) {
		return layout.DiskUsage{}, errors.New("statfs failed")
	}

	if code, _ := callReady(t, h); code != http.StatusServiceUnavailable {
		t.Errorf("ожидался 503, получен %d", code)
	}
}

func TestHealthReady_DependenciesDoNotFailReadiness(t *testing.T) {
	h := newTestHealthHandler(t, fakeDeps{"jwks": false, "redis": true})

	code, body := callReady(t, h)
	if code != http.StatusOK {
		t.Fatalf("ожидался 200, получен %d", code)
	}
	if body.Checks["dependency:jwks"].Status != statusFail {
		t.Errorf("jwks: %+v", body.Checks["dependency:jwks"])
	}
	if body.Checks["dependency:redis"].Status != statusOK {
		t.Errorf("redis: %+v", body.Checks["dependency:redis"])
	}
}
