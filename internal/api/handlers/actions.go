// actions.go — мутирующие операции над топологией.
//
// Каждый запрос несёт флаг confirmed: функция подтверждения операции
// возвращает его значение, поэтому запрос с confirmed=false завершается
// исходом cancelled без обращения к API фреймворка.
//
// Операция не привязана к соединению клиента: отключение клиента не
// прерывает ожидание задачи и снятие блокировок.
package handlers

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	apierrors "github.com/openvstorage/framework-alba-plugin-sub000/internal/api/errors"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/operation"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

// confirmRequest — общая часть тела запросов операций.
type confirmRequest struct {
	Confirmed bool `json:"confirmed"`
}

type claimRequest struct {
	Confirmed bool                `json:"confirmed"`
	OSDs      map[string][]string `json:"osds"`
}

type slotClaimRequest struct {
	Confirmed bool     `json:"confirmed"`
	OSDs      []string `json:"osds"`
}

type initializeRequest struct {
	Confirmed bool     `json:"confirmed"`
	Slots     []string `json:"slots"`
	Count     int      `json:"count"`
	OSDType   string   `json:"osd_type"`
}

type replaceRequest struct {
	Confirmed bool   `json:"confirmed"`
	NewNodeID string `json:"new_node_id"`
}

// resultStatus отображает исход операции в HTTP-статус.
func resultStatus(res service.Result) int {
	switch res.Outcome {
	case operation.OutcomeCompleted, operation.OutcomePartialSuccess, operation.OutcomeCancelled:
		return http.StatusOK
	case operation.OutcomePreconditionNotMet:
		if res.Reason == service.ReasonForbidden {
			return http.StatusForbidden
		}
		return http.StatusConflict
	case operation.OutcomeTaskSubmissionFailed, operation.OutcomeTaskFailed:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeResult(w http.ResponseWriter, res service.Result) {
	writeJSON(w, resultStatus(res), res)
}

// operationContext отвязывает операцию от соединения и задаёт подтверждение.
func operationContext(r *http.Request, confirmed bool) context.Context {
	ctx := context.WithoutCancel(r.Context())
	return service.WithConfirm(ctx, service.Confirmed(confirmed))
}

// coordinator возвращает координатор backend-а из URL или пишет ошибку.
func (h *APIHandler) coordinator(w http.ResponseWriter, r *http.Request) (*service.Coordinator, bool) {
	c, err := h.session.Coordinator(chi.URLParam(r, "guid"))
	if err != nil {
		h.writeServiceError(w, err)
		return nil, false
	}
	return c, true
}

// decodeOrReject разбирает тело запроса; при ошибке пишет 400.
func decodeOrReject(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := decodeBody(r, v); err != nil {
		apierrors.ValidationError(w, "Некорректное тело запроса: "+err.Error())
		return false
	}
	return true
}

// ClaimOSDs — POST /api/v1/backends/{guid}/claim.
func (h *APIHandler) ClaimOSDs(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req claimRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	writeResult(w, c.ClaimOSDs(operationContext(r, req.Confirmed), req.OSDs))
}

// ClaimSlot — POST /api/v1/backends/{guid}/slots/{slot_id}/claim.
// Запрос идёт через шину событий сессии.
func (h *APIHandler) ClaimSlot(w http.ResponseWriter, r *http.Request) {
	var req slotClaimRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	principal, _ := rbac.FromContext(r.Context())

	res, err := h.session.RequestSlotClaim(r.Context(), service.SlotClaimRequest{
		BackendGUID: chi.URLParam(r, "guid"),
		SlotID:      chi.URLParam(r, "slot_id"),
		OSDIDs:      req.OSDs,
		Confirmed:   req.Confirmed,
		Principal:   principal,
	})
	if err != nil {
		if r.Context().Err() != nil {
			return
		}
		h.writeServiceError(w, err)
		return
	}
	writeResult(w, res)
}

// InitializeSlots — POST /api/v1/backends/{guid}/slots/initialize.
func (h *APIHandler) InitializeSlots(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req initializeRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	writeResult(w, c.InitializeSlots(operationContext(r, req.Confirmed), req.Slots, req.Count, req.OSDType))
}

// GenerateEmptySlot — POST /api/v1/backends/{guid}/nodes/{node_id}/empty-slot.
func (h *APIHandler) GenerateEmptySlot(w http.ResponseWriter, r *http.Request) {
	h.nodeAction(w, r, func(ctx context.Context, c *service.Coordinator, nodeID string) service.Result {
		return c.GenerateEmptySlot(ctx, nodeID)
	})
}

// DeleteNode — DELETE /api/v1/backends/{guid}/nodes/{node_id}.
func (h *APIHandler) DeleteNode(w http.ResponseWriter, r *http.Request) {
	h.nodeAction(w, r, func(ctx context.Context, c *service.Coordinator, nodeID string) service.Result {
		return c.DeleteNode(ctx, nodeID)
	})
}

// ReplaceNode — POST /api/v1/backends/{guid}/nodes/{node_id}/replace.
func (h *APIHandler) ReplaceNode(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req replaceRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	writeResult(w, c.ReplaceNode(operationContext(r, req.Confirmed), chi.URLParam(r, "node_id"), req.NewNodeID))
}

// RestartOSD — POST /api/v1/backends/{guid}/osds/{osd_id}/restart.
func (h *APIHandler) RestartOSD(w http.ResponseWriter, r *http.Request) {
	h.osdAction(w, r, (*service.Coordinator).RestartOSD)
}

// RemoveOSD — POST /api/v1/backends/{guid}/osds/{osd_id}/remove.
func (h *APIHandler) RemoveOSD(w http.ResponseWriter, r *http.Request) {
	h.osdAction(w, r, (*service.Coordinator).RemoveOSD)
}

// RemoveSlot — POST /api/v1/backends/{guid}/slots/{slot_id}/remove.
func (h *APIHandler) RemoveSlot(w http.ResponseWriter, r *http.Request) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	writeResult(w, c.RemoveSlot(operationContext(r, req.Confirmed), chi.URLParam(r, "slot_id")))
}

func (h *APIHandler) nodeAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, *service.Coordinator, string) service.Result) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	writeResult(w, fn(operationContext(r, req.Confirmed), c, chi.URLParam(r, "node_id")))
}

func (h *APIHandler) osdAction(w http.ResponseWriter, r *http.Request, fn func(*service.Coordinator, context.Context, string) service.Result) {
	c, ok := h.coordinator(w, r)
	if !ok {
		return
	}
	var req confirmRequest
	if !decodeOrReject(w, r, &req) {
		return
	}
	writeResult(w, fn(c, operationContext(r, req.Confirmed), chi.URLParam(r, "osd_id")))
}
