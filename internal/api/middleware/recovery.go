package middleware

import (
	"fmt"
	"log/slog"
	"net/http"
	"runtime/debug"

	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/guidehub/guide-intake/internal/api/errors"
)

// Recoverer перехватывает panic в обработчике, пишет стек в лог
// и отвечает общим 500 INTERNAL_ERROR.
func Recoverer(logger *slog.Logger) func(http.Handler) http.Handler {
	logger = logger.With(slog.String("component", "http"))
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				rec := recover()
				if rec == nil {
					return
				}
				// ErrAbortHandler — штатный способ прервать ответ, пробрасываем дальше
				if rec == http.ErrAbortHandler { //nolint:errorlint // сравнение значения panic
					panic(rec)
				}

				logger.Error("Panic в обработчике HTTP",
					slog.String("panic", fmt.Sprint(rec)),
					slog.String("method", r.Method),
					slog.String("path", r.URL.Path),
					slog.String("request_id", chimw.GetReqID(r.Context())),
					slog.String("stack", string(debug.Stack())),
				)
				apierrors.InternalError(w)
			}()

			next.ServeHTTP(w, r)
		})
	}
}
