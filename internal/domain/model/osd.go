package model

import "slices"

// OSDStatus — статус OSD (object storage daemon).
type OSDStatus string

const (
	OSDStatusAvailable     OSDStatus = "available"
	OSDStatusClaimed       OSDStatus = "claimed"
	OSDStatusOK            OSDStatus = "ok"
	OSDStatusWarning       OSDStatus = "warning"
	OSDStatusError         OSDStatus = "error"
	OSDStatusUnavailable   OSDStatus = "unavailable"
	OSDStatusNodeDown      OSDStatus = "nodedown"
	OSDStatusUnknown       OSDStatus = "unknown"
	OSDStatusUninitialized OSDStatus = "uninitialized"
)

// errorClassStatuses — сырые статусы, которые побеждают признак владения.
var errorClassStatuses = map[OSDStatus]bool{
	OSDStatusWarning:     true,
	OSDStatusError:       true,
	OSDStatusUnavailable: true,
	OSDStatusUnknown:     true,
}

// Usage — использование ёмкости в байтах.
type Usage struct {
	Size      int64 `json:"size"`
	Used      int64 `json:"used"`
	Available int64 `json:"available"`
}

// OSDRecord — OSD в снимке сервера (stack[slot_id].osds[osd_id]).
type OSDRecord struct {
	// OSDID — идентификатор OSD; в снимке совпадает с ключом map
	OSDID string `json:"osd_id"`
	// ClaimedBy — alba_id backend-а, забравшего OSD (nil — свободен)
	ClaimedBy *string `json:"claimed_by"`
	// Status — сырой статус от сервера
	Status string `json:"status"`
	// StatusDetail — пояснение к статусу
	StatusDetail string `json:"status_detail,omitempty"`
	// Type — тип OSD (ASD, AD)
	Type  string   `json:"type,omitempty"`
	IPs   []string `json:"ips,omitempty"`
	Port  int      `json:"port,omitempty"`
	Usage *Usage   `json:"usage,omitempty"`
}

// OSD — живая сущность OSD внутри слота.
// Processing и Orphaned — локальное состояние, которое не приходит из снимка
// и не затрагивается Update.
type OSD struct {
	ID           string
	NodeID       string
	SlotID       string
	ClaimedBy    string
	RawStatus    OSDStatus
	StatusDetail string
	Type         string
	IPs          []string
	Port         int
	Usage        Usage

	// Processing — над OSD выполняется операция
	Processing bool
	// Orphaned — OSD исчез из последнего снимка, но удерживается операцией
	Orphaned bool

	ownerID string
}

// NewOSD создаёт OSD из записи снимка.
func NewOSD(rec OSDRecord, bc BuildContext) *OSD {
	o := &OSD{
		ID:      rec.OSDID,
		NodeID:  bc.NodeID,
		SlotID:  bc.SlotID,
		ownerID: bc.BackendID,
	}
	o.Update(rec)
	return o
}

// Update переносит значения из записи снимка.
func (o *OSD) Update(rec OSDRecord) {
	o.ClaimedBy = ""
	if rec.ClaimedBy != nil {
		o.ClaimedBy = *rec.ClaimedBy
	}
	o.RawStatus = OSDStatus(rec.Status)
	o.StatusDetail = rec.StatusDetail
	o.Type = rec.Type
	o.IPs = slices.Clone(rec.IPs)
	o.Port = rec.Port
	o.Usage = Usage{}
	if rec.Usage != nil {
		o.Usage = *rec.Usage
	}
	o.Orphaned = false
}

// OwnerID возвращает alba_id backend-а, в контексте которого построен OSD.
func (o *OSD) OwnerID() string {
	return o.ownerID
}

// Status возвращает эффективный статус OSD.
func (o *OSD) Status() OSDStatus {
	return EffectiveOSDStatus(o.RawStatus, o.ClaimedBy, o.ownerID)
}

// IsLocal — OSD свободен или принадлежит backend-у-владельцу.
func (o *OSD) IsLocal() bool {
	return o.ClaimedBy == "" || o.ClaimedBy == o.ownerID
}

// Locked — OSD нельзя трогать из этого backend-а.
func (o *OSD) Locked() bool {
	status := o.Status()
	return status == OSDStatusNodeDown || status == OSDStatusUnknown || !o.IsLocal()
}

// Unclaimed — OSD никем не забран.
func (o *OSD) Unclaimed() bool {
	return o.ClaimedBy == ""
}

// EffectiveOSDStatus вычисляет статус OSD по сырому статусу и владению:
//   - warning, error, unavailable, unknown возвращаются как есть;
//   - без владельца — available;
//   - забран этим backend-ом — claimed, другим — unavailable.
func EffectiveOSDStatus(raw OSDStatus, claimedBy, ownerID string) OSDStatus {
	if errorClassStatuses[raw] {
		return raw
	}
	if claimedBy == "" {
		return OSDStatusAvailable
	}
	if claimedBy == ownerID {
		return OSDStatusClaimed
	}
	return OSDStatusUnavailable
}
