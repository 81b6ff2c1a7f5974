package service

import (
	"time"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/operation"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
)

// Темы шины событий.
const (
	TopicOperationStarted  = "operation:started"
	TopicOperationFinished = "operation:finished"
	TopicNodeDeleted       = "node:deleted"
	TopicTopologyRefreshed = "topology:refreshed"

	// TopicSlotClaimRequested — слот просит узел забрать свои OSD.
	TopicSlotClaimRequested = "slot:claim-requested"
	// topicSlotClaimFinishedPrefix — к префиксу добавляется slot_id.
	topicSlotClaimFinishedPrefix = "slot:claim-finished:"
)

// SlotClaimFinishedTopic возвращает тему завершения claim для слота.
func SlotClaimFinishedTopic(slotID string) string {
	return topicSlotClaimFinishedPrefix + slotID
}

// Notification — уведомление об операции или изменении топологии.
type Notification struct {
	Topic       string            `json:"topic"`
	BackendGUID string            `json:"backend_guid"`
	OperationID string            `json:"operation_id,omitempty"`
	Kind        operation.Kind    `json:"kind,omitempty"`
	Outcome     operation.Outcome `json:"outcome,omitempty"`
	Subject     string            `json:"subject,omitempty"`
	NodeID      string            `json:"node_id,omitempty"`
	SlotID      string            `json:"slot_id,omitempty"`
	OSDID       string            `json:"osd_id,omitempty"`
	Version     uint64            `json:"version,omitempty"`
	Message     string            `json:"message,omitempty"`
	Timestamp   time.Time         `json:"timestamp"`
}

// SlotClaimRequest — запрос слота на claim его OSD.
// Пустой OSDIDs — все свободные OSD слота.
type SlotClaimRequest struct {
	RequestID   string
	BackendGUID string
	SlotID      string
	OSDIDs      []string
	Confirmed   bool
	Principal   rbac.Principal
}

// SlotClaimFinished — итог claim, запрошенного слотом.
type SlotClaimFinished struct {
	RequestID string
	Result    Result
}
