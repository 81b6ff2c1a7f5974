package model

import (
	"cmp"
	"net/netip"
	"slices"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/differ"
)

// NodeType — тип узла ALBA.
type NodeType string

const (
	NodeTypeGeneric NodeType = "GENERIC"
	NodeTypeASD     NodeType = "ASD"
	NodeTypeS3      NodeType = "S3"
	NodeTypeCluster NodeType = "CLUSTER"
)

// SupportsDynamicSlots — узел создаёт слоты по запросу (generate_empty_slot).
func (t NodeType) SupportsDynamicSlots() bool {
	return t == NodeTypeGeneric || t == NodeTypeS3
}

// NodeRecord — узел в снимке сервера (alba/backends/{guid}/nodes).
type NodeRecord struct {
	GUID              string                `json:"guid"`
	NodeID            string                `json:"node_id"`
	Name              string                `json:"name"`
	IP                string                `json:"ip"`
	Port              int                   `json:"port"`
	Type              NodeType              `json:"type"`
	StorageRouterGUID string                `json:"storagerouter_guid,omitempty"`
	ClusterGUID       string                `json:"alba_node_cluster_guid,omitempty"`
	NodeMetadata      NodeMetadata          `json:"node_metadata"`
	Stack             map[string]SlotRecord `json:"stack,omitempty"`
}

// Node — узел хранения с упорядоченным набором слотов.
type Node struct {
	NodeID            string
	GUID              string
	Name              string
	IP                string
	Port              int
	Type              NodeType
	StorageRouterGUID string
	ClusterGUID       string
	Metadata          NodeMetadata
	Slots             []*Slot

	// Cluster — кластер узлов, к которому относится узел (nil — самостоятельный)
	Cluster *NodeCluster
	// Expanded — узел раскрыт в интерфейсе
	Expanded bool
	// Orphaned — узел исчез из снимка, но удерживается операцией
	Orphaned bool

	placeholders []*Slot
	processing   int
	backendID    string
}

// NewNode создаёт узел из записи снимка.
func NewNode(rec NodeRecord, backendID string) *Node {
	n := &Node{NodeID: rec.NodeID, backendID: backendID}
	n.UpdateMeta(rec)
	if rec.Stack != nil {
		n.UpdateStack(rec.Stack)
	}
	return n
}

// UpdateMeta переносит поля узла без содержимого слотов (scope relations).
func (n *Node) UpdateMeta(rec NodeRecord) {
	n.GUID = rec.GUID
	n.Name = rec.Name
	n.IP = rec.IP
	n.Port = rec.Port
	n.Type = rec.Type
	n.StorageRouterGUID = rec.StorageRouterGUID
	n.ClusterGUID = rec.ClusterGUID
	n.Metadata = rec.NodeMetadata
	n.Orphaned = false
}

// UpdateStack сверяет слоты узла со снимком (scope stack).
// Заглушка, чей slot_id появился в снимке, становится настоящим слотом
// с сохранением идентичности объекта.
func (n *Node) UpdateStack(stack map[string]SlotRecord) differ.Result[*Slot] {
	existing := slices.Clone(n.Slots)
	remaining := n.placeholders[:0:0]
	for _, p := range n.placeholders {
		if _, ok := stack[p.ID]; ok {
			existing = append(existing, p)
			continue
		}
		remaining = append(remaining, p)
	}
	n.placeholders = remaining

	incoming := make([]SlotRecord, 0, len(stack))
	for _, id := range differ.SortedKeys(stack) {
		rec := stack[id]
		rec.SlotID = id
		incoming = append(incoming, rec)
	}

	meta := n.Metadata
	res, _ := differ.Reconcile(existing, incoming, differ.Rules[*Slot, SlotRecord, string]{
		Identify:         func(r SlotRecord) string { return r.SlotID },
		IdentifyExisting: func(s *Slot) string { return s.ID },
		Create:           func(r SlotRecord) *Slot { return NewSlot(r, n.buildContext()) },
		Update:           func(s *Slot, r SlotRecord) { s.Update(r, meta) },
		Retain: func(s *Slot) bool {
			if s.Busy() {
				s.Orphaned = true
				return true
			}
			return false
		},
	})
	differ.SortStable(res.Items, func(a, b *Slot) int { return cmp.Compare(a.ID, b.ID) })
	n.Slots = res.Items
	return res
}

func (n *Node) buildContext() BuildContext {
	return BuildContext{
		BackendID:    n.backendID,
		NodeID:       n.NodeID,
		NodeMetadata: n.Metadata,
	}
}

// AddPlaceholder добавляет локальный пустой слот. Повторный slot_id игнорируется.
func (n *Node) AddPlaceholder(slotID string) *Slot {
	if s, ok := n.FindSlot(slotID); ok {
		return s
	}
	p := NewPlaceholderSlot(slotID, n.buildContext())
	n.placeholders = append(n.placeholders, p)
	return p
}

// Placeholders возвращает локальные заглушки, которых ещё нет в снимке.
func (n *Node) Placeholders() []*Slot {
	return n.placeholders
}

// AllSlots возвращает слоты из снимка и локальные заглушки.
func (n *Node) AllSlots() []*Slot {
	all := make([]*Slot, 0, len(n.Slots)+len(n.placeholders))
	all = append(all, n.Slots...)
	return append(all, n.placeholders...)
}

// FindSlot ищет слот (в том числе заглушку) по идентификатору.
func (n *Node) FindSlot(slotID string) (*Slot, bool) {
	for _, s := range n.AllSlots() {
		if s.ID == slotID {
			return s, true
		}
	}
	return nil, false
}

// FindSlotByOSD ищет слот, содержащий OSD.
func (n *Node) FindSlotByOSD(osdID string) (*Slot, bool) {
	for _, s := range n.Slots {
		if _, ok := s.FindOSD(osdID); ok {
			return s, true
		}
	}
	return nil, false
}

// MarkProcessing увеличивает счётчик операций над узлом.
func (n *Node) MarkProcessing() {
	n.processing++
}

// ClearProcessing уменьшает счётчик операций над узлом.
func (n *Node) ClearProcessing() {
	if n.processing > 0 {
		n.processing--
	}
}

// Processing — над узлом выполняется хотя бы одна операция.
func (n *Node) Processing() bool {
	return n.processing > 0
}

// ProcessingCount возвращает число операций над узлом.
func (n *Node) ProcessingCount() int {
	return n.processing
}

// Busy — над узлом, любым его слотом или OSD выполняется операция.
func (n *Node) Busy() bool {
	if n.Processing() {
		return true
	}
	for _, s := range n.AllSlots() {
		if s.Busy() {
			return true
		}
	}
	return false
}

// ReadOnly — узел входит в кластер только для чтения.
func (n *Node) ReadOnly() bool {
	return n.Cluster != nil && n.Cluster.ReadOnly
}

// CanInitializeAll — на узле есть слот без OSD, который не занят операцией.
func (n *Node) CanInitializeAll() bool {
	if n.ReadOnly() {
		return false
	}
	for _, s := range n.AllSlots() {
		if s.CanInitialize() {
			return true
		}
	}
	return false
}

// CanClaimAll — на узле есть свободный OSD в незанятом слоте.
func (n *Node) CanClaimAll() bool {
	if n.ReadOnly() {
		return false
	}
	for _, s := range n.Slots {
		if s.CanClaim() {
			return true
		}
	}
	return false
}

// CanDelete — ни узел, ни его слоты и OSD не заняты,
// и каждый OSD в статусе error или available.
func (n *Node) CanDelete() bool {
	if n.Processing() {
		return false
	}
	for _, s := range n.AllSlots() {
		if !s.Deletable() {
			return false
		}
	}
	return true
}

// CompareNodes упорядочивает узлы по IP-адресу, затем по node_id.
// Адреса сравниваются численно, неразборчивые строки идут после адресов.
func CompareNodes(a, b *Node) int {
	ia, errA := netip.ParseAddr(a.IP)
	ib, errB := netip.ParseAddr(b.IP)
	switch {
	case errA == nil && errB == nil:
		if c := ia.Compare(ib); c != 0 {
			return c
		}
	case errA == nil:
		return -1
	case errB == nil:
		return 1
	default:
		if c := cmp.Compare(a.IP, b.IP); c != 0 {
			return c
		}
	}
	return cmp.Compare(a.NodeID, b.NodeID)
}

// SortNodes упорядочивает узлы стабильно по CompareNodes.
func SortNodes(nodes []*Node) {
	differ.SortStable(nodes, CompareNodes)
}
