// applications.go — HTTP handlers заявок гидов.
// Приём заявки (публичный) и чтение заявок администратором.
package handlers

import (
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/oapi-codegen/runtime"
	openapi_types "github.com/oapi-codegen/runtime/types"

	apierrors "github.com/bigkaa/guidehub/guide-intake/internal/api/errors"
	"github.com/bigkaa/guidehub/guide-intake/internal/domain/model"
	"github.com/bigkaa/guidehub/guide-intake/internal/service"
)

// submitMessage — сообщение об успешном приёме заявки.
const submitMessage = "Application received"

// submitResponse — тело ответа 201 на приём заявки.
type submitResponse struct {
	Message     string                   `json:"message"`
	Application *model.ApplicationRecord `json:"application"`
	StorePath   string                   `json:"storePath"`
}

// listResponse — страница списка заявок.
type listResponse struct {
	Items  []model.ApplicationSummary `json:"items"`
	Total  int                        `json:"total"`
	Limit  int                        `json:"limit"`
	Offset int                        `json:"offset"`
}

// ApplicationsHandler — обработчик endpoints заявок.
type ApplicationsHandler struct {
	intake         *service.IntakeService
	retrieval      *service.RetrievalService
	requestMaxSize int64
	logger         *slog.Logger
}

// NewApplicationsHandler создаёт обработчик endpoints заявок.
// requestMaxSize — предел размера тела запроса приёма заявки.
func NewApplicationsHandler(
	intake *service.IntakeService,
	retrieval *service.RetrievalService,
	requestMaxSize int64,
	logger *slog.Logger,
) *ApplicationsHandler {
	return &ApplicationsHandler{
		intake:         intake,
		retrieval:      retrieval,
		requestMaxSize: requestMaxSize,
		logger:         logger.With(slog.String("component", "applications_handler")),
	}
}

// Apply обрабатывает POST /api/guides/apply.
// Тело читается потоково через multipart.Reader, без буферизации формы в памяти.
func (h *ApplicationsHandler) Apply(w http.ResponseWriter, r *http.Request) {
	if r.ContentLength > h.requestMaxSize {
		writeServiceError(w, r, h.logger, &service.PayloadTooLargeError{
			Field:       "request",
			LimitBytes:  h.requestMaxSize,
			ActualBytes: r.ContentLength,
		})
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, h.requestMaxSize)

	mr, err := r.MultipartReader()
	if err != nil {
		apierrors.ValidationError(w, "Request must be multipart/form-data")
		return
	}

	result, err := h.intake.Submit(r.Context(), mr)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusCreated, submitResponse{
		Message:     submitMessage,
		Application: result.Record,
		StorePath:   result.StorePath,
	})
}

// List обрабатывает GET /api/guides/applications.
// Пагинация: limit (1..1000, по умолчанию 100), offset (>= 0).
func (h *ApplicationsHandler) List(w http.ResponseWriter, r *http.Request) {
	var limitParam, offsetParam *int
	if err := runtime.BindQueryParameter("form", true, false, "limit", r.URL.Query(), &limitParam); err != nil {
		apierrors.ValidationError(w, "Invalid parameter limit: must be an integer")
		return
	}
	if err := runtime.BindQueryParameter("form", true, false, "offset", r.URL.Query(), &offsetParam); err != nil {
		apierrors.ValidationError(w, "Invalid parameter offset: must be an integer")
		return
	}

	limit := service.DefaultListLimit
	if limitParam != nil {
		limit = *limitParam
		if limit < 1 || limit > service.MaxListLimit {
			apierrors.ValidationError(w, fmt.Sprintf("Parameter limit must be between 1 and %d", service.MaxListLimit))
			return
		}
	}

	offset := 0
	if offsetParam != nil {
		offset = *offsetParam
		if offset < 0 {
			apierrors.ValidationError(w, "Parameter offset must not be negative")
			return
		}
	}

	result, err := h.retrieval.List(r.Context(), limit, offset)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, listResponse{
		Items:  result.Items,
		Total:  result.Total,
		Limit:  limit,
		Offset: offset,
	})
}

// Get обрабатывает GET /api/guides/applications/{id}.
func (h *ApplicationsHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := bindApplicationID(w, r)
	if !ok {
		return
	}

	rec, err := h.retrieval.Get(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, rec)
}

// DownloadAttachment обрабатывает GET /api/guides/applications/{id}/files/{kind}.
// Поддерживает Range и условные запросы через http.ServeContent.
func (h *ApplicationsHandler) DownloadAttachment(w http.ResponseWriter, r *http.Request) {
	id, ok := bindApplicationID(w, r)
	if !ok {
		return
	}

	kind, ok := model.ParseFileKind(chi.URLParam(r, "kind"))
	if !ok {
		apierrors.ValidationError(w, "File kind must be resume or video")
		return
	}

	file, err := h.retrieval.OpenAttachment(r.Context(), id, kind)
	if err != nil {
		writeServiceError(w, r, h.logger, err)
		return
	}
	defer file.File.Close()

	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": file.Name}))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.Header().Set("Cache-Control", "private, no-store")

	http.ServeContent(w, r, file.Name, file.ModTime.Truncate(time.Second), file.File)
}

// bindApplicationID извлекает id заявки из пути. Некорректный UUID — 404,
// как и неизвестная заявка.
func bindApplicationID(w http.ResponseWriter, r *http.Request) (string, bool) {
	raw := chi.URLParam(r, "id")

	var id openapi_types.UUID
	err := runtime.BindStyledParameterWithOptions("simple", "id", raw, &id, runtime.BindStyledParameterOptions{
		ParamLocation: runtime.ParamLocationPath,
		Explode:       false,
		Required:      true,
	})
	if err != nil {
		apierrors.NotFound(w, (&service.NotFoundError{ID: raw}).Error())
		return "", false
	}
	return id.String(), true
}
