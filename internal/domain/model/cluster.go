package model

// ClusterRecord — кластер узлов в снимке сервера (alba/nodeclusters).
type ClusterRecord struct {
	GUID              string   `json:"guid"`
	Name              string   `json:"name"`
	ReadOnly          bool     `json:"read_only"`
	SupportedOSDTypes []string `json:"supported_osd_types,omitempty"`
	NodeGUIDs         []string `json:"alba_node_guids,omitempty"`
}

// NodeCluster — логическая группа узлов, управляемая как единое целое.
// Members заполняет хранилище топологии после сверки узлов.
type NodeCluster struct {
	GUID              string
	Name              string
	ReadOnly          bool
	SupportedOSDTypes []string
	NodeGUIDs         []string
	Members           []*Node
}

// NewNodeCluster создаёт кластер из записи снимка.
func NewNodeCluster(rec ClusterRecord) *NodeCluster {
	c := &NodeCluster{GUID: rec.GUID}
	c.Update(rec)
	return c
}

// Update переносит значения из снимка. Members не затрагиваются.
func (c *NodeCluster) Update(rec ClusterRecord) {
	c.Name = rec.Name
	c.ReadOnly = rec.ReadOnly
	c.SupportedOSDTypes = append([]string(nil), rec.SupportedOSDTypes...)
	c.NodeGUIDs = append([]string(nil), rec.NodeGUIDs...)
}

// AllSlots возвращает слоты всех членов кластера.
func (c *NodeCluster) AllSlots() []*Slot {
	var all []*Slot
	for _, n := range c.Members {
		all = append(all, n.AllSlots()...)
	}
	return all
}

// CanInitializeAll — хотя бы один член кластера может инициализировать слот.
func (c *NodeCluster) CanInitializeAll() bool {
	if c.ReadOnly {
		return false
	}
	for _, n := range c.Members {
		if n.CanInitializeAll() {
			return true
		}
	}
	return false
}

// CanClaimAll — хотя бы один член кластера имеет свободный OSD.
func (c *NodeCluster) CanClaimAll() bool {
	if c.ReadOnly {
		return false
	}
	for _, n := range c.Members {
		if n.CanClaimAll() {
			return true
		}
	}
	return false
}

// CanDelete — все члены кластера можно удалить.
func (c *NodeCluster) CanDelete() bool {
	for _, n := range c.Members {
		if !n.CanDelete() {
			return false
		}
	}
	return true
}

var (
	_ Unit = (*Node)(nil)
	_ Unit = (*NodeCluster)(nil)
)
