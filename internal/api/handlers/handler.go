// Пакет handlers — HTTP-обработчики API консоли.
// Файл handler.go — APIHandler, маршруты и общие помощники ответа.
package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/openvstorage/framework-alba-plugin-sub000/internal/api/errors"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

// APIHandler — обработчики /api/v1 поверх сессии консоли.
type APIHandler struct {
	session     *service.Session
	sseInterval time.Duration
	logger      *slog.Logger
}

// NewAPIHandler создаёт обработчики API.
// sseInterval — интервал heartbeat потока событий (AC_SSE_INTERVAL).
func NewAPIHandler(session *service.Session, sseInterval time.Duration, logger *slog.Logger) *APIHandler {
	return &APIHandler{
		session:     session,
		sseInterval: sseInterval,
		logger:      logger.With(slog.String("component", "api")),
	}
}

// Routes регистрирует маршруты /api/v1.
func (h *APIHandler) Routes(r chi.Router) {
	r.Get("/events", h.StreamEvents)

	r.Route("/backends/{guid}", func(r chi.Router) {
		r.Get("/topology", h.GetTopology)
		r.Post("/refresh", h.Refresh)
		r.Get("/safety", h.GetSafety)
		r.Put("/nodes/{node_id}/expanded", h.SetNodeExpanded)

		r.Post("/claim", h.ClaimOSDs)
		r.Post("/slots/initialize", h.InitializeSlots)
		r.Post("/slots/{slot_id}/claim", h.ClaimSlot)
		r.Post("/slots/{slot_id}/remove", h.RemoveSlot)
		r.Post("/osds/{osd_id}/restart", h.RestartOSD)
		r.Post("/osds/{osd_id}/remove", h.RemoveOSD)
		r.Post("/nodes/{node_id}/empty-slot", h.GenerateEmptySlot)
		r.Post("/nodes/{node_id}/replace", h.ReplaceNode)
		r.Delete("/nodes/{node_id}", h.DeleteNode)
	})
}

// writeJSON записывает JSON-ответ.
func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeServiceError отображает ошибку сервисного слоя в HTTP-ответ.
func (h *APIHandler) writeServiceError(w http.ResponseWriter, err error) {
	apierrors.Service(w, err, h.logger)
}

// decodeBody разбирает JSON тела запроса. Пустое тело допустимо.
func decodeBody(r *http.Request, v any) error {
	if r.Body == nil || r.ContentLength == 0 {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}
