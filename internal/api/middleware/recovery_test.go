package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
)

func TestRecoverer(t *testing.T) {
	handler := Recoverer(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic("/srv/uploads/secret path")
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("ожидался 500, получен %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("тело не JSON: %v", err)
	}
	if body["error"] != "Internal server error" || body["code"] != "INTERNAL_ERROR" {
		t.Errorf("неожиданное тело: %v", body)
	}
	if strings.Contains(rec.Body.String(), "/srv/uploads") {
		t.Error("детали panic не должны попадать в ответ")
	}
}

func TestRecoverer_AbortHandler(t *testing.T) {
	handler := Recoverer(testLogger())(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		panic(http.ErrAbortHandler)
	}))

	defer func() {
		if rec := recover(); rec != http.ErrAbortHandler { //nolint:errorlint // сравнение значения panic
			t.Errorf("ожидался проброс ErrAbortHandler, получено %v", rec)
		}
	}()

	handler.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/", nil))
}

// TestObservability_RoutePattern проверяет, что метрики и лог получают шаблон маршрута.
func TestObservability_RoutePattern(t *testing.T) {
	r := chi.NewRouter()
	r.Use(RequestLogger(testLogger()), MetricsMiddleware())

	var pattern string
	r.Get("/api/guides/applications/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
		_, _ = w.Write([]byte("body"))
		pattern = chi.RouteContext(r.Context()).RoutePattern()
	})

	req := httptest.NewRequest(http.MethodGet, "/api/guides/applications/0190a1b2-0000-7000-8000-000000000001", nil)
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusTeapot {
		t.Errorf("статус изменён middleware: %d", rec.Code)
	}
	if pattern != "/api/guides/applications/{id}" {
		t.Errorf("шаблон маршрута = %q", pattern)
	}
	if got := routePattern(req); got != unmatchedRoute {
		t.Errorf("запрос вне роутера: хотели %q, получили %q", unmatchedRoute, got)
	}
}

func TestResponseWriter_KeepsFirstStatus(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := newResponseWriter(rec)
	_, _ = rw.Write([]byte("ok"))
	rw.WriteHeader(http.StatusInternalServerError)

	if rw.statusCode != http.StatusOK {
		t.Errorf("statusCode = %d, хотели 200", rw.statusCode)
	}
	if rw.written != 2 {
		t.Errorf("written = %d, хотели 2", rw.written)
	}
	if newResponseWriter(rw) != rw {
		t.Error("повторная обёртка должна возвращать тот же writer")
	}
}
