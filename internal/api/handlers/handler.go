// Пакет handlers — HTTP-обработчики Guide Intake.
// handler.go — общие функции ответа и отображение ошибок сервисного слоя в HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	chimw "github.com/go-chi/chi/v5/middleware"

	apierrors "github.com/bigkaa/guidehub/guide-intake/internal/api/errors"
	"github.com/bigkaa/guidehub/guide-intake/internal/service"
)

// writeJSON записывает JSON-ответ с указанным статусом.
func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
// Причины StorageError и непредвиденных ошибок пишутся только в лог.
func writeServiceError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	var (
		validationErr *service.ValidationError
		tooLargeErr   *service.PayloadTooLargeError
		notFoundErr   *service.NotFoundError
		authErr       *service.AuthError
		storageErr    *service.StorageError
	)

	switch {
	case errors.As(err, &validationErr):
		apierrors.ValidationError(w, validationErr.Message)
	case errors.As(err, &tooLargeErr):
		apierrors.PayloadTooLarge(w, tooLargeErr.Error())
	case errors.As(err, &notFoundErr):
		apierrors.NotFound(w, notFoundErr.Error())
	case errors.As(err, &authErr):
		if authErr.Forbidden {
			apierrors.Forbidden(w, authErr.Message)
		} else {
			apierrors.Unauthorized(w, authErr.Message)
		}
	case errors.Is(err, context.Canceled):
		// Клиент закрыл соединение, ответ уже никто не прочитает
		logger.Info("Запрос отменён клиентом",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
	case errors.Is(err, context.DeadlineExceeded):
		logger.Warn("Превышено время обработки запроса",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
		)
		apierrors.ServiceUnavailable(w, "Request timed out")
	case errors.As(err, &storageErr):
		logger.Error("Ошибка хранилища",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("error", storageErr.Cause.Error()),
		)
		apierrors.InternalError(w)
	default:
		logger.Error("Непредвиденная ошибка",
			slog.String("path", r.URL.Path),
			slog.String("request_id", chimw.GetReqID(r.Context())),
			slog.String("error", err.Error()),
		)
		apierrors.InternalError(w)
	}
}
