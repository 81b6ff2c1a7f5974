package albaclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"slices"
)

// OSDClaim — один OSD в запросе add_osds.
type OSDClaim struct {
	NodeID string `json:"node_id"`
	SlotID string `json:"slot_id"`
	OSDID  string `json:"osd_id"`
}

// SlotFill — параметры инициализации одного слота.
type SlotFill struct {
	SlotID          string `json:"slot_id"`
	Count           int    `json:"count"`
	OSDType         string `json:"osd_type"`
	AlbaBackendGUID string `json:"alba_backend_guid"`
}

// ClaimOSDsTask — забрать OSD в backend.
func ClaimOSDsTask(backendGUID string, osds []OSDClaim) TaskRequest {
	return TaskRequest{
		Path:    "alba/backends/" + backendGUID + "/add_osds/",
		Payload: map[string]any{"osds": osds},
	}
}

// FillSlotsTask — инициализировать слоты узла.
func FillSlotsTask(nodeGUID string, slots []SlotFill) TaskRequest {
	return TaskRequest{
		Path:    "alba/nodes/" + nodeGUID + "/fill_slots/",
		Payload: map[string]any{"slot_information": slots},
	}
}

// GenerateEmptySlotTask — запросить у узла новый пустой слот.
func GenerateEmptySlotTask(nodeGUID string) TaskRequest {
	return TaskRequest{Path: "alba/nodes/" + nodeGUID + "/generate_empty_slot/"}
}

// RestartOSDTask — перезапустить OSD.
func RestartOSDTask(nodeGUID, osdID string) TaskRequest {
	return TaskRequest{
		Path:    "alba/nodes/" + nodeGUID + "/restart_osd/",
		Payload: map[string]any{"osd_id": osdID},
	}
}

// RemoveOSDTask — удалить OSD из слота.
func RemoveOSDTask(nodeGUID, osdID string) TaskRequest {
	return TaskRequest{
		Path:    "alba/nodes/" + nodeGUID + "/reset_osd/",
		Payload: map[string]any{"osd_id": osdID},
	}
}

// RemoveSlotTask — удалить слот вместе с его OSD.
func RemoveSlotTask(nodeGUID, slotID string) TaskRequest {
	return TaskRequest{
		Path:    "alba/nodes/" + nodeGUID + "/remove_slot/",
		Payload: map[string]any{"slot_id": slotID},
	}
}

// ReplaceNodeTask — заменить узел новым.
func ReplaceNodeTask(oldNodeGUID, newNodeID string) TaskRequest {
	return TaskRequest{
		Path:    "alba/nodes/" + oldNodeGUID + "/replace_node/",
		Payload: map[string]any{"new_node_id": newNodeID},
	}
}

// DeleteNodeTask — удалить узел.
func DeleteNodeTask(nodeGUID string) TaskRequest {
	return TaskRequest{
		Method: http.MethodDelete,
		Path:   "alba/nodes/" + nodeGUID + "/",
	}
}

// ClaimedOSDs разбирает результат add_osds: список id забранных OSD.
// Второе значение false — сервер не вернул список (null), и фактический
// результат нужно определить по свежему снимку.
func ClaimedOSDs(res TaskResult) ([]string, bool, error) {
	if len(res.Result) == 0 || string(res.Result) == "null" {
		return nil, false, nil
	}
	var ids []string
	if err := json.Unmarshal(res.Result, &ids); err != nil {
		return nil, false, fmt.Errorf("декодирование результата add_osds: %w", err)
	}
	return ids, true, nil
}

// GeneratedSlotID разбирает результат generate_empty_slot: объект,
// ключ которого — идентификатор нового слота.
func GeneratedSlotID(res TaskResult) (string, error) {
	var slots map[string]json.RawMessage
	if err := json.Unmarshal(res.Result, &slots); err != nil {
		return "", fmt.Errorf("декодирование результата generate_empty_slot: %w", err)
	}
	if len(slots) == 0 {
		return "", errors.New("generate_empty_slot не вернул слот")
	}
	keys := make([]string, 0, len(slots))
	for k := range slots {
		keys = append(keys, k)
	}
	return slices.Min(keys), nil
}
