// topology.go — чтение топологии, явное обновление, раскрытие узлов и безопасность удаления.
package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/openvstorage/framework-alba-plugin-sub000/internal/api/errors"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

// GetTopology — GET /api/v1/backends/{guid}/topology.
func (h *APIHandler) GetTopology(w http.ResponseWriter, r *http.Request) {
	view, err := h.session.View(chi.URLParam(r, "guid"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

type expandedRequest struct {
	Expanded *bool `json:"expanded"`
}

type expandedResponse struct {
	NodeID   string `json:"node_id"`
	Expanded bool   `json:"expanded"`
}

// SetNodeExpanded — PUT /api/v1/backends/{guid}/nodes/{node_id}/expanded.
// Признак локальный для консоли и сохраняется при обновлениях топологии.
func (h *APIHandler) SetNodeExpanded(w http.ResponseWriter, r *http.Request) {
	var req expandedRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	if req.Expanded == nil {
		apierrors.ValidationError(w, "Не задано поле expanded")
		return
	}
	store, err := h.session.Store(chi.URLParam(r, "guid"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	nodeID := chi.URLParam(r, "node_id")
	if err := store.SetExpanded(nodeID, *req.Expanded); err != nil {
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, expandedResponse{NodeID: nodeID, Expanded: *req.Expanded})
}

// Refresh — POST /api/v1/backends/{guid}/refresh?scope=full|stack|relations.
func (h *APIHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	scope, err := service.ParseScope(r.URL.Query().Get("scope"))
	if err != nil {
		h.writeServiceError(w, err)
		return
	}
	res, err := h.session.Refresh(r.Context(), chi.URLParam(r, "guid"), scope)
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// safetyResponse — ответ GET safety.
type safetyResponse struct {
	OSDIDs []string      `json:"osd_ids"`
	Known  bool          `json:"known"`
	Safety *model.Safety `json:"safety,omitempty"`
}

// GetSafety — GET /api/v1/backends/{guid}/safety?osd_id=a&osd_id=b.
// Ставит набор на отслеживание и возвращает текущий результат, если он свежий.
func (h *APIHandler) GetSafety(w http.ResponseWriter, r *http.Request) {
	guid := chi.URLParam(r, "guid")
	if _, err := h.session.Store(guid); err != nil {
		h.writeServiceError(w, err)
		return
	}
	ids := r.URL.Query()["osd_id"]
	if len(ids) == 0 {
		apierrors.ValidationError(w, "Не задан ни один osd_id")
		return
	}

	monitor := h.session.Safety()
	monitor.Track(guid, ids)

	resp := safetyResponse{OSDIDs: ids}
	if s, ok := monitor.Current(guid, ids); ok {
		resp.Known = true
		resp.Safety = &s
	}
	writeJSON(w, http.StatusOK, resp)
}
