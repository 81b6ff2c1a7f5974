// view.go — снимок топологии для HTTP-слоя.
//
// View копирует живую топологию в простые структуры под блокировкой чтения,
// поэтому обработчики не держат указателей на живые сущности.
package service

import (
	"time"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
)

// NameResolver возвращает имя backend-а по alba_id.
type NameResolver interface {
	Name(albaID string) (string, bool)
}

// TopologyView — топология backend-а.
type TopologyView struct {
	Backend          *BackendView  `json:"backend,omitempty"`
	Nodes            []NodeView    `json:"nodes"`
	Clusters         []ClusterView `json:"clusters"`
	Version          uint64        `json:"version"`
	RefreshedAt      *time.Time    `json:"refreshed_at,omitempty"`
	CanInitializeAny bool          `json:"can_initialize_any"`
	CanClaimAny      bool          `json:"can_claim_any"`
}

// BackendView — backend с пресетами.
type BackendView struct {
	GUID    string             `json:"guid"`
	AlbaID  string             `json:"alba_id"`
	Name    string             `json:"name"`
	Scaling model.Scaling      `json:"scaling"`
	Usage   model.BackendUsage `json:"usage"`
	Presets []PresetView       `json:"presets"`
}

// PresetView — пресет с производными полями.
type PresetView struct {
	Name              string       `json:"name"`
	Color             model.Color  `json:"color"`
	InUse             bool         `json:"in_use"`
	IsDefault         bool         `json:"is_default"`
	IsAvailable       bool         `json:"is_available"`
	IsReplication     bool         `json:"is_replication"`
	ReplicationFactor int          `json:"replication_factor,omitempty"`
	Policies          []PolicyView `json:"policies"`
}

// PolicyView — политика пресета.
type PolicyView struct {
	K     int         `json:"k"`
	M     int         `json:"m"`
	C     int         `json:"c"`
	X     int         `json:"x"`
	Color model.Color `json:"color"`
}

// ClusterView — кластер узлов.
type ClusterView struct {
	GUID              string   `json:"guid"`
	Name              string   `json:"name"`
	ReadOnly          bool     `json:"read_only"`
	SupportedOSDTypes []string `json:"supported_osd_types,omitempty"`
	NodeIDs           []string `json:"node_ids"`
	CanInitialize     bool     `json:"can_initialize"`
	CanClaim          bool     `json:"can_claim"`
	CanDelete         bool     `json:"can_delete"`
}

// NodeView — узел.
type NodeView struct {
	NodeID            string         `json:"node_id"`
	GUID              string         `json:"guid"`
	Name              string         `json:"name"`
	IP                string         `json:"ip"`
	Port              int            `json:"port"`
	Type              model.NodeType `json:"type"`
	StorageRouterGUID string         `json:"storagerouter_guid,omitempty"`
	ClusterGUID       string         `json:"alba_node_cluster_guid,omitempty"`
	ReadOnly          bool           `json:"read_only"`
	Expanded          bool           `json:"expanded"`
	ProcessingCount   int            `json:"processing_count"`
	Orphaned          bool           `json:"orphaned,omitempty"`
	CanInitialize     bool           `json:"can_initialize"`
	CanClaim          bool           `json:"can_claim"`
	CanDelete         bool           `json:"can_delete"`
	Slots             []SlotView     `json:"slots"`
}

// SlotView — слот.
type SlotView struct {
	SlotID       string             `json:"slot_id"`
	Status       model.SlotStatus   `json:"status"`
	StatusDetail string             `json:"status_detail,omitempty"`
	Size         int64              `json:"size,omitempty"`
	Device       string             `json:"device,omitempty"`
	Capabilities model.Capabilities `json:"capabilities"`
	Processing   bool               `json:"processing"`
	Orphaned     bool               `json:"orphaned,omitempty"`
	Placeholder  bool               `json:"placeholder,omitempty"`
	OSDs         []OSDView          `json:"osds"`
}

// OSDView — OSD с производным статусом.
type OSDView struct {
	OSDID         string          `json:"osd_id"`
	Status        model.OSDStatus `json:"status"`
	RawStatus     model.OSDStatus `json:"raw_status,omitempty"`
	StatusDetail  string          `json:"status_detail,omitempty"`
	ClaimedBy     string          `json:"claimed_by,omitempty"`
	ClaimedByName string          `json:"claimed_by_name,omitempty"`
	IsLocal       bool            `json:"is_local"`
	Locked        bool            `json:"locked"`
	Type          string          `json:"type,omitempty"`
	IPs           []string        `json:"ips,omitempty"`
	Port          int             `json:"port,omitempty"`
	Usage         model.Usage     `json:"usage"`
	Processing    bool            `json:"processing"`
	Orphaned      bool            `json:"orphaned,omitempty"`
}

// View копирует топологию. names может быть nil.
func (s *TopologyStore) View(names NameResolver) TopologyView {
	s.mu.RLock()
	defer s.mu.RUnlock()

	agg := s.aggregatesLocked()
	v := TopologyView{
		Nodes:            make([]NodeView, 0, len(s.nodes)),
		Clusters:         make([]ClusterView, 0, len(s.clusters)),
		Version:          s.version,
		CanInitializeAny: agg.canInit,
		CanClaimAny:      agg.canClaim,
	}
	if !s.refreshedAt.IsZero() {
		t := s.refreshedAt
		v.RefreshedAt = &t
	}
	if s.backend != nil {
		v.Backend = backendView(s.backend)
	}
	for _, n := range s.nodes {
		v.Nodes = append(v.Nodes, nodeView(n, agg, names))
	}
	for _, c := range s.clusters {
		cv := ClusterView{
			GUID:              c.GUID,
			Name:              c.Name,
			ReadOnly:          c.ReadOnly,
			SupportedOSDTypes: c.SupportedOSDTypes,
			NodeIDs:           make([]string, 0, len(c.Members)),
			CanInitialize:     c.CanInitializeAll(),
			CanClaim:          c.CanClaimAll(),
			CanDelete:         c.CanDelete(),
		}
		for _, m := range c.Members {
			cv.NodeIDs = append(cv.NodeIDs, m.NodeID)
		}
		v.Clusters = append(v.Clusters, cv)
	}
	return v
}

func backendView(b *model.Backend) *BackendView {
	bv := &BackendView{
		GUID:    b.GUID,
		AlbaID:  b.AlbaID,
		Name:    b.Name,
		Scaling: b.Scaling,
		Usage:   b.Usage,
		Presets: make([]PresetView, 0, len(b.Presets)),
	}
	for _, p := range b.Presets {
		pv := PresetView{
			Name:              p.Name,
			Color:             p.Color(),
			InUse:             p.InUse,
			IsDefault:         p.IsDefault,
			IsAvailable:       p.IsAvailable,
			IsReplication:     p.IsReplication(),
			ReplicationFactor: p.ReplicationFactor(),
		}
		for _, pol := range p.Policies {
			pv.Policies = append(pv.Policies, PolicyView{K: pol.K, M: pol.M, C: pol.C, X: pol.X, Color: pol.Color()})
		}
		bv.Presets = append(bv.Presets, pv)
	}
	return bv
}

func nodeView(n *model.Node, agg *aggregates, names NameResolver) NodeView {
	nv := NodeView{
		NodeID:            n.NodeID,
		GUID:              n.GUID,
		Name:              n.Name,
		IP:                n.IP,
		Port:              n.Port,
		Type:              n.Type,
		StorageRouterGUID: n.StorageRouterGUID,
		ClusterGUID:       n.ClusterGUID,
		ReadOnly:          n.ReadOnly(),
		Expanded:          n.Expanded,
		ProcessingCount:   n.ProcessingCount(),
		Orphaned:          n.Orphaned,
		CanInitialize:     n.CanInitializeAll(),
		CanClaim:          n.CanClaimAll(),
		CanDelete:         agg.deletable[n.NodeID],
	}
	slots := n.AllSlots()
	nv.Slots = make([]SlotView, 0, len(slots))
	for _, sl := range slots {
		sv := SlotView{
			SlotID:       sl.ID,
			Status:       sl.Status(),
			StatusDetail: sl.StatusDetail,
			Size:         sl.Size,
			Device:       sl.Device,
			Capabilities: sl.Capabilities,
			Processing:   sl.Processing,
			Orphaned:     sl.Orphaned,
			Placeholder:  sl.Placeholder,
			OSDs:         make([]OSDView, 0, len(sl.OSDs)),
		}
		for _, o := range sl.OSDs {
			ov := OSDView{
				OSDID:        o.ID,
				Status:       o.Status(),
				RawStatus:    o.RawStatus,
				StatusDetail: o.StatusDetail,
				ClaimedBy:    o.ClaimedBy,
				IsLocal:      o.IsLocal(),
				Locked:       o.Locked(),
				Type:         o.Type,
				IPs:          append([]string(nil), o.IPs...),
				Port:         o.Port,
				Usage:        o.Usage,
				Processing:   o.Processing,
				Orphaned:     o.Orphaned,
			}
			if o.ClaimedBy != "" && names != nil {
				ov.ClaimedByName, _ = names.Name(o.ClaimedBy)
			}
			sv.OSDs = append(sv.OSDs, ov)
		}
		nv.Slots = append(nv.Slots, sv)
	}
	return nv
}
