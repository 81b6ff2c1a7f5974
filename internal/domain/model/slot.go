package model

import (
	"cmp"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/differ"
)

// SlotStatus — статус слота.
type SlotStatus string

const (
	SlotStatusEmpty         SlotStatus = "empty"
	SlotStatusUninitialized SlotStatus = "uninitialized"
	SlotStatusOK            SlotStatus = "ok"
	SlotStatusWarning       SlotStatus = "warning"
	SlotStatusError         SlotStatus = "error"
	SlotStatusUnknown       SlotStatus = "unknown"
)

// SlotRecord — слот в снимке сервера (stack[slot_id]).
type SlotRecord struct {
	// SlotID заполняется из ключа map при разборе снимка
	SlotID       string               `json:"slot_id,omitempty"`
	Status       string               `json:"status"`
	StatusDetail string               `json:"status_detail,omitempty"`
	Size         int64                `json:"size,omitempty"`
	Device       string               `json:"device,omitempty"`
	OSDs         map[string]OSDRecord `json:"osds"`
}

// Slot — ёмкость (диск) узла, на которой живут OSD.
type Slot struct {
	ID           string
	NodeID       string
	RawStatus    SlotStatus
	StatusDetail string
	Size         int64
	Device       string
	Capabilities Capabilities
	OSDs         []*OSD

	// Processing — над слотом выполняется операция
	Processing bool
	// Orphaned — слот исчез из снимка, но удерживается операцией
	Orphaned bool
	// Placeholder — локально сгенерированный пустой слот, которого ещё нет в снимке
	Placeholder bool

	bc BuildContext
}

// NewSlot создаёт слот и его OSD.
func NewSlot(rec SlotRecord, bc BuildContext) *Slot {
	bc.SlotID = rec.SlotID
	s := &Slot{
		ID:     rec.SlotID,
		NodeID: bc.NodeID,
		bc:     bc,
	}
	s.Update(rec, bc.NodeMetadata)
	return s
}

// NewPlaceholderSlot создаёт пустой слот-заглушку для узлов,
// которые обнаруживают слоты по запросу.
func NewPlaceholderSlot(slotID string, bc BuildContext) *Slot {
	bc.SlotID = slotID
	return &Slot{
		ID:           slotID,
		NodeID:       bc.NodeID,
		RawStatus:    SlotStatusEmpty,
		Capabilities: bc.NodeMetadata.SlotCapabilities,
		Placeholder:  true,
		bc:           bc,
	}
}

// Update переносит значения из снимка и сверяет OSD слота.
// Processing слота и его OSD не затрагивается.
func (s *Slot) Update(rec SlotRecord, meta NodeMetadata) differ.Result[*OSD] {
	s.RawStatus = SlotStatus(rec.Status)
	s.StatusDetail = rec.StatusDetail
	s.Size = rec.Size
	s.Device = rec.Device
	s.bc.NodeMetadata = meta
	s.Capabilities = meta.SlotCapabilities
	s.Orphaned = false
	s.Placeholder = false

	incoming := make([]OSDRecord, 0, len(rec.OSDs))
	for _, id := range differ.SortedKeys(rec.OSDs) {
		osd := rec.OSDs[id]
		osd.OSDID = id
		incoming = append(incoming, osd)
	}

	// Ключи map уникальны, ErrDuplicateID здесь невозможна.
	res, _ := differ.Reconcile(s.OSDs, incoming, differ.Rules[*OSD, OSDRecord, string]{
		Identify:         func(r OSDRecord) string { return r.OSDID },
		IdentifyExisting: func(o *OSD) string { return o.ID },
		Create:           func(r OSDRecord) *OSD { return NewOSD(r, s.bc) },
		Update:           func(o *OSD, r OSDRecord) { o.Update(r) },
		Retain: func(o *OSD) bool {
			if o.Processing {
				o.Orphaned = true
				return true
			}
			return false
		},
	})
	differ.SortStable(res.Items, func(a, b *OSD) int { return cmp.Compare(a.ID, b.ID) })
	s.OSDs = res.Items
	return res
}

// Status возвращает статус слота. Слот без OSD и без статуса от сервера — empty.
func (s *Slot) Status() SlotStatus {
	if s.RawStatus == "" {
		if len(s.OSDs) == 0 {
			return SlotStatusEmpty
		}
		return SlotStatusUnknown
	}
	return s.RawStatus
}

// FindOSD ищет OSD слота по идентификатору.
func (s *Slot) FindOSD(osdID string) (*OSD, bool) {
	for _, o := range s.OSDs {
		if o.ID == osdID {
			return o, true
		}
	}
	return nil, false
}

// Busy — над слотом или любым его OSD выполняется операция.
func (s *Slot) Busy() bool {
	if s.Processing {
		return true
	}
	for _, o := range s.OSDs {
		if o.Processing {
			return true
		}
	}
	return false
}

// CanInitialize — слот пуст и свободен.
func (s *Slot) CanInitialize() bool {
	return len(s.OSDs) == 0 && !s.Processing
}

// ClaimableOSDs возвращает OSD, которые можно забрать прямо сейчас.
func (s *Slot) ClaimableOSDs() []*OSD {
	if s.Processing {
		return nil
	}
	var result []*OSD
	for _, o := range s.OSDs {
		if o.Unclaimed() && !o.Processing {
			result = append(result, o)
		}
	}
	return result
}

// CanClaim — в слоте есть OSD, которые можно забрать.
func (s *Slot) CanClaim() bool {
	return len(s.ClaimableOSDs()) > 0
}

// Deletable — слот не занят и все его OSD в статусе error или available.
func (s *Slot) Deletable() bool {
	if s.Processing {
		return false
	}
	for _, o := range s.OSDs {
		if o.Processing {
			return false
		}
		if status := o.Status(); status != OSDStatusError && status != OSDStatusAvailable {
			return false
		}
	}
	return true
}

// OSDIDs возвращает идентификаторы OSD слота.
func (s *Slot) OSDIDs() []string {
	ids := make([]string, 0, len(s.OSDs))
	for _, o := range s.OSDs {
		ids = append(ids, o.ID)
	}
	return ids
}
