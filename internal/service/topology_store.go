// topology_store.go — живая топология одного ALBA backend-а.
//
// TopologyStore владеет коллекциями узлов и кластеров узлов и применяет к ним
// снимки сервера через differ. Снимок сначала целиком загружается, затем
// применяется под блокировкой записи: при ошибке загрузки или проверки
// живые коллекции не меняются.
//
// Области обновления:
//   - full — backend, узлы со слотами и OSD, кластеры;
//   - stack — только содержимое слотов известных узлов;
//   - relations — только состав узлов и принадлежность кластерам.
//
// Одновременные Refresh одной области схлопываются (singleflight),
// обновления разных областей выполняются по очереди.
//
// Флаги processing выставляет только Acquire и снимает только Lease.Release.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/differ"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
)

// Scope — область обновления топологии.
type Scope string

const (
	ScopeFull      Scope = "full"
	ScopeStack     Scope = "stack"
	ScopeRelations Scope = "relations"
)

// ParseScope разбирает область обновления. Пустая строка — full.
func ParseScope(s string) (Scope, error) {
	switch Scope(s) {
	case "", ScopeFull:
		return ScopeFull, nil
	case ScopeStack, ScopeRelations:
		return Scope(s), nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownScope, s)
	}
}

// contents — поля узлов, запрашиваемые для каждой области.
var contents = map[Scope][]string{
	ScopeFull:      {"stack", "node_metadata", "_relations"},
	ScopeStack:     {"stack", "node_metadata"},
	ScopeRelations: {"node_metadata", "_relations"},
}

// TopologyFetcher — источник снимков топологии.
type TopologyFetcher interface {
	FetchNodes(ctx context.Context, backendGUID string, contents []string) ([]model.NodeRecord, error)
	FetchClusters(ctx context.Context) ([]model.ClusterRecord, error)
	FetchBackend(ctx context.Context, backendGUID string) (*model.BackendRecord, error)
}

// RefreshResult — итог применения снимка.
type RefreshResult struct {
	Scope    Scope  `json:"scope"`
	Version  uint64 `json:"version"`
	Nodes    int    `json:"nodes"`
	Added    int    `json:"added"`
	Removed  int    `json:"removed"`
	Retained int    `json:"retained"`

	// FetchedAt — момент начала загрузки снимка
	FetchedAt time.Time `json:"fetched_at"`
}

// snapshot — загруженные, но ещё не применённые данные.
type snapshot struct {
	scope    Scope
	backend  *model.BackendRecord
	nodes    []model.NodeRecord
	clusters []model.ClusterRecord
}

// aggregates — производные представления, вычисленные для одной версии.
type aggregates struct {
	version   uint64
	allSlots  []*model.Slot
	canInit   bool
	canClaim  bool
	deletable map[string]bool
	slotByOSD map[string]*model.Slot
	slotByID  map[string]*model.Slot
}

// TopologyStore — живая топология backend-а.
type TopologyStore struct {
	backendGUID string
	fetcher     TopologyFetcher
	logger      *slog.Logger

	group     singleflight.Group
	refreshMu sync.Mutex

	mu          sync.RWMutex
	backend     *model.Backend
	nodes       []*model.Node
	clusters    []*model.NodeCluster
	version     uint64
	refreshedAt time.Time

	aggMu sync.Mutex
	agg   *aggregates
}

// NewTopologyStore создаёт пустое хранилище топологии backend-а.
func NewTopologyStore(backendGUID string, fetcher TopologyFetcher, logger *slog.Logger) *TopologyStore {
	return &TopologyStore{
		backendGUID: backendGUID,
		fetcher:     fetcher,
		logger: logger.With(
			slog.String("component", "topology_store"),
			slog.String("backend_guid", backendGUID),
		),
	}
}

// BackendGUID возвращает guid backend-а.
func (s *TopologyStore) BackendGUID() string {
	return s.backendGUID
}

// Refresh загружает и применяет снимок области scope.
// Пока backend не загружен, любая область выполняется как full.
func (s *TopologyStore) Refresh(ctx context.Context, scope Scope) (RefreshResult, error) {
	if _, ok := contents[scope]; !ok {
		return RefreshResult{}, fmt.Errorf("%w: %q", ErrUnknownScope, scope)
	}

	// Загрузка общая для всех ожидающих: отмена одного вызывающего её не прерывает.
	shared := context.WithoutCancel(ctx)
	ch := s.group.DoChan(string(scope), func() (any, error) {
		s.refreshMu.Lock()
		defer s.refreshMu.Unlock()
		return s.refresh(shared, scope)
	})

	select {
	case <-ctx.Done():
		return RefreshResult{}, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return RefreshResult{}, res.Err
		}
		return res.Val.(RefreshResult), nil
	}
}

// RefreshSince обновляет область снимком, загрузка которого началась не раньше since.
// Если вызов присоединился к более ранней загрузке, она повторяется.
func (s *TopologyStore) RefreshSince(ctx context.Context, scope Scope, since time.Time) (RefreshResult, error) {
	res, err := s.Refresh(ctx, scope)
	if err != nil || !res.FetchedAt.Before(since) {
		return res, err
	}
	s.logger.Debug("Снимок загружен до момента since, загрузка повторяется",
		slog.String("scope", string(scope)))
	return s.Refresh(ctx, scope)
}

func (s *TopologyStore) refresh(ctx context.Context, scope Scope) (RefreshResult, error) {
	s.mu.RLock()
	loaded := s.backend != nil
	s.mu.RUnlock()
	if !loaded {
		scope = ScopeFull
	}

	start := time.Now()
	snap, err := s.fetch(ctx, scope)
	if err == nil {
		err = snap.validate()
	}
	refreshDuration.WithLabelValues(s.backendGUID, string(scope)).Observe(time.Since(start).Seconds())
	if err != nil {
		refreshTotal.WithLabelValues(s.backendGUID, string(scope), "error").Inc()
		s.logger.Warn("Снимок топологии не получен, текущее состояние сохранено",
			slog.String("scope", string(scope)),
			slog.String("error", err.Error()),
		)
		return RefreshResult{}, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	result := s.apply(snap)
	result.FetchedAt = start
	refreshTotal.WithLabelValues(s.backendGUID, string(scope), "ok").Inc()

	s.logger.Debug("Топология обновлена",
		slog.String("scope", string(scope)),
		slog.Uint64("version", result.Version),
		slog.Int("nodes", result.Nodes),
		slog.Int("added", result.Added),
		slog.Int("removed", result.Removed),
		slog.Int("retained", result.Retained),
	)
	return result, nil
}

func (s *TopologyStore) fetch(ctx context.Context, scope Scope) (*snapshot, error) {
	snap := &snapshot{scope: scope}
	var err error

	if scope == ScopeFull {
		if snap.backend, err = s.fetcher.FetchBackend(ctx, s.backendGUID); err != nil {
			return nil, err
		}
	}
	if snap.nodes, err = s.fetcher.FetchNodes(ctx, s.backendGUID, contents[scope]); err != nil {
		return nil, err
	}
	if scope != ScopeStack {
		if snap.clusters, err = s.fetcher.FetchClusters(ctx); err != nil {
			return nil, err
		}
	}
	return snap, nil
}

// validate проверяет уникальность идентификаторов до применения снимка.
func (snap *snapshot) validate() error {
	seen := make(map[string]bool, len(snap.nodes))
	for _, n := range snap.nodes {
		if seen[n.NodeID] {
			return fmt.Errorf("%w: узел %s", differ.ErrDuplicateID, n.NodeID)
		}
		seen[n.NodeID] = true
	}
	seen = make(map[string]bool, len(snap.clusters))
	for _, c := range snap.clusters {
		if seen[c.GUID] {
			return fmt.Errorf("%w: кластер %s", differ.ErrDuplicateID, c.GUID)
		}
		seen[c.GUID] = true
	}
	return nil
}

// apply применяет проверенный снимок под блокировкой записи.
func (s *TopologyStore) apply(snap *snapshot) RefreshResult {
	s.mu.Lock()
	defer s.mu.Unlock()

	result := RefreshResult{Scope: snap.scope}

	if snap.backend != nil {
		s.backend = model.NewBackend(*snap.backend)
	}

	switch snap.scope {
	case ScopeStack:
		byID := make(map[string]model.NodeRecord, len(snap.nodes))
		for _, rec := range snap.nodes {
			byID[rec.NodeID] = rec
		}
		for _, n := range s.nodes {
			rec, ok := byID[n.NodeID]
			if !ok {
				continue
			}
			n.Metadata = rec.NodeMetadata
			res := n.UpdateStack(rec.Stack)
			s.countSlotChanges(res, &result)
		}
	default:
		withStack := snap.scope == ScopeFull
		res, _ := differ.Reconcile(s.nodes, snap.nodes, differ.Rules[*model.Node, model.NodeRecord, string]{
			Identify:         func(r model.NodeRecord) string { return r.NodeID },
			IdentifyExisting: func(n *model.Node) string { return n.NodeID },
			Create: func(r model.NodeRecord) *model.Node {
				if !withStack {
					r.Stack = nil
				}
				return model.NewNode(r, s.backendIDLocked())
			},
			Update: func(n *model.Node, r model.NodeRecord) {
				n.UpdateMeta(r)
				if withStack {
					s.countSlotChanges(n.UpdateStack(r.Stack), &result)
				}
			},
			Retain: func(n *model.Node) bool {
				if n.Busy() {
					n.Orphaned = true
					return true
				}
				return false
			},
		})
		model.SortNodes(res.Items)
		s.nodes = res.Items
		s.countChanges("node", res.Added, res.Removed, res.Retained, &result)

		clusters, _ := differ.Reconcile(s.clusters, snap.clusters, differ.Rules[*model.NodeCluster, model.ClusterRecord, string]{
			Identify:         func(r model.ClusterRecord) string { return r.GUID },
			IdentifyExisting: func(c *model.NodeCluster) string { return c.GUID },
			Create:           model.NewNodeCluster,
			Update:           func(c *model.NodeCluster, r model.ClusterRecord) { c.Update(r) },
		})
		s.clusters = clusters.Items
		s.countChanges("cluster", clusters.Added, clusters.Removed, 0, &result)
		s.resolveMembershipLocked()
	}

	s.version++
	s.refreshedAt = time.Now().UTC()
	result.Version = s.version
	result.Nodes = len(s.nodes)
	return result
}

func (s *TopologyStore) countSlotChanges(res differ.Result[*model.Slot], result *RefreshResult) {
	s.countChanges("slot", res.Added, res.Removed, res.Retained, result)
}

func (s *TopologyStore) countChanges(entity string, added, removed, retained int, result *RefreshResult) {
	result.Added += added
	result.Removed += removed
	result.Retained += retained
	if added > 0 {
		topologyChangesTotal.WithLabelValues(s.backendGUID, entity, "added").Add(float64(added))
	}
	if removed > 0 {
		topologyChangesTotal.WithLabelValues(s.backendGUID, entity, "removed").Add(float64(removed))
	}
	if retained > 0 {
		topologyChangesTotal.WithLabelValues(s.backendGUID, entity, "retained").Add(float64(retained))
	}
}

// resolveMembershipLocked связывает узлы с кластерами по alba_node_cluster_guid.
func (s *TopologyStore) resolveMembershipLocked() {
	byGUID := make(map[string]*model.NodeCluster, len(s.clusters))
	for _, c := range s.clusters {
		c.Members = c.Members[:0]
		byGUID[c.GUID] = c
	}
	for _, n := range s.nodes {
		n.Cluster = nil
		if c, ok := byGUID[n.ClusterGUID]; ok && n.ClusterGUID != "" {
			n.Cluster = c
			c.Members = append(c.Members, n)
		}
	}
}

func (s *TopologyStore) backendIDLocked() string {
	if s.backend == nil {
		return ""
	}
	return s.backend.AlbaID
}

// Version возвращает номер версии топологии.
// Версия растёт при каждом применённом снимке и изменении флагов processing.
func (s *TopologyStore) Version() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.version
}

// Backend возвращает копию сведений о backend-е (nil, пока не загружен).
func (s *TopologyStore) Backend() *model.Backend {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.backend == nil {
		return nil
	}
	b := *s.backend
	b.Presets = slices.Clone(s.backend.Presets)
	return &b
}

// aggregatesLocked возвращает производные представления текущей версии.
// Вызывается под s.mu (чтение или запись).
func (s *TopologyStore) aggregatesLocked() *aggregates {
	s.aggMu.Lock()
	defer s.aggMu.Unlock()
	if s.agg != nil && s.agg.version == s.version {
		return s.agg
	}

	agg := &aggregates{
		version:   s.version,
		deletable: make(map[string]bool, len(s.nodes)),
		slotByOSD: make(map[string]*model.Slot),
		slotByID:  make(map[string]*model.Slot),
	}
	for _, n := range s.nodes {
		slots := n.AllSlots()
		agg.allSlots = append(agg.allSlots, slots...)
		agg.canInit = agg.canInit || n.CanInitializeAll()
		agg.canClaim = agg.canClaim || n.CanClaimAll()
		agg.deletable[n.NodeID] = n.CanDelete()
		for _, sl := range slots {
			if _, dup := agg.slotByID[sl.ID]; !dup {
				agg.slotByID[sl.ID] = sl
			}
			for _, o := range sl.OSDs {
				if _, dup := agg.slotByOSD[o.ID]; !dup {
					agg.slotByOSD[o.ID] = sl
				}
			}
		}
	}
	s.agg = agg
	return agg
}

// AllSlots возвращает слоты всех узлов, включая локальные заглушки.
// Указатели можно читать только внутри Read.
func (s *TopologyStore) AllSlots() []*model.Slot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return slices.Clone(s.aggregatesLocked().allSlots)
}

// CanInitializeAny — есть слот без OSD, не занятый операцией.
func (s *TopologyStore) CanInitializeAny() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregatesLocked().canInit
}

// CanClaimAny — есть свободный OSD в незанятом слоте.
func (s *TopologyStore) CanClaimAny() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregatesLocked().canClaim
}

// CanDeleteNode — узел можно удалить. Для неизвестного узла false.
func (s *TopologyStore) CanDeleteNode(nodeID string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.aggregatesLocked().deletable[nodeID]
}

// FindSlotByOSDID ищет слот, содержащий OSD.
// found=false отличает отсутствие OSD от слота без OSD.
func (s *TopologyStore) FindSlotByOSDID(osdID string) (*model.Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.aggregatesLocked().slotByOSD[osdID]
	return sl, ok
}

// FindSlotBySlotID ищет слот по идентификатору.
func (s *TopologyStore) FindSlotBySlotID(slotID string) (*model.Slot, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sl, ok := s.aggregatesLocked().slotByID[slotID]
	return sl, ok
}

// Read выполняет fn под блокировкой чтения.
func (s *TopologyStore) Read(fn func()) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fn()
}

func (s *TopologyStore) findNodeLocked(nodeID string) (*model.Node, bool) {
	for _, n := range s.nodes {
		if n.NodeID == nodeID {
			return n, true
		}
	}
	return nil, false
}

// findSlotLocked ищет слот узла (slot_id уникален в пределах узла).
func (s *TopologyStore) findSlotLocked(nodeID, slotID string) (*model.Node, *model.Slot, bool) {
	n, ok := s.findNodeLocked(nodeID)
	if !ok {
		return nil, nil, false
	}
	sl, ok := n.FindSlot(slotID)
	return n, sl, ok
}

// locateSlotLocked ищет слот по slot_id среди всех узлов.
func (s *TopologyStore) locateSlotLocked(slotID string) (*model.Node, *model.Slot, bool) {
	for _, n := range s.nodes {
		if sl, ok := n.FindSlot(slotID); ok {
			return n, sl, true
		}
	}
	return nil, nil, false
}

// locateOSDLocked ищет OSD среди всех узлов.
func (s *TopologyStore) locateOSDLocked(osdID string) (*model.Node, *model.Slot, *model.OSD, bool) {
	for _, n := range s.nodes {
		for _, sl := range n.Slots {
			if o, ok := sl.FindOSD(osdID); ok {
				return n, sl, o, true
			}
		}
	}
	return nil, nil, nil, false
}

// SetExpanded меняет признак раскрытия узла.
func (s *TopologyStore) SetExpanded(nodeID string, expanded bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.findNodeLocked(nodeID)
	if !ok {
		return fmt.Errorf("узел %s: %w", nodeID, ErrNotFound)
	}
	n.Expanded = expanded
	s.version++
	return nil
}

// AddPlaceholder добавляет узлу локальный пустой слот.
func (s *TopologyStore) AddPlaceholder(nodeID, slotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.findNodeLocked(nodeID)
	if !ok {
		return precondition(ReasonNotFound, "узел %s не найден", nodeID)
	}
	n.AddPlaceholder(slotID)
	s.version++
	return nil
}

// SlotRef — слот узла.
type SlotRef struct {
	NodeID string `json:"node_id"`
	SlotID string `json:"slot_id"`
}

// Targets — сущности, которые блокирует операция.
type Targets struct {
	// Nodes — узлы (счётчик processing узла)
	Nodes []string
	// Slots — слоты
	Slots []SlotRef
	// OSDs — OSD по osd_id
	OSDs []string
}

// Lease — удерживаемая блокировка processing.
type Lease struct {
	store *TopologyStore
	nodes []*model.Node
	slots []*model.Slot
	osds  []*model.OSD
	once  sync.Once
}

// Acquire атомарно проверяет, что ни одна цель не занята, и помечает все цели.
// Ошибка — *PreconditionError (NOT_FOUND или PROCESSING); в этом случае
// ни один флаг не меняется.
func (s *TopologyStore) Acquire(t Targets) (*Lease, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	lease := &Lease{store: s}
	seenNodes := map[*model.Node]bool{}
	seenSlots := map[*model.Slot]bool{}
	seenOSDs := map[*model.OSD]bool{}

	for _, id := range t.Nodes {
		n, ok := s.findNodeLocked(id)
		if !ok {
			return nil, precondition(ReasonNotFound, "узел %s не найден", id)
		}
		if n.Busy() {
			return nil, precondition(ReasonProcessing, "над узлом %s уже выполняется операция", id)
		}
		if !seenNodes[n] {
			seenNodes[n] = true
			lease.nodes = append(lease.nodes, n)
		}
	}
	for _, ref := range t.Slots {
		n, sl, ok := s.findSlotLocked(ref.NodeID, ref.SlotID)
		if !ok {
			return nil, precondition(ReasonNotFound, "слот %s узла %s не найден", ref.SlotID, ref.NodeID)
		}
		if sl.Busy() || n.Processing() {
			return nil, precondition(ReasonProcessing, "над слотом %s уже выполняется операция", ref.SlotID)
		}
		if !seenSlots[sl] {
			seenSlots[sl] = true
			lease.slots = append(lease.slots, sl)
		}
	}
	for _, id := range t.OSDs {
		n, sl, o, ok := s.locateOSDLocked(id)
		if !ok {
			return nil, precondition(ReasonNotFound, "OSD %s не найден", id)
		}
		if o.Processing || sl.Processing || n.Processing() {
			return nil, precondition(ReasonProcessing, "над OSD %s уже выполняется операция", id)
		}
		if !seenOSDs[o] {
			seenOSDs[o] = true
			lease.osds = append(lease.osds, o)
		}
	}

	for _, n := range lease.nodes {
		n.MarkProcessing()
	}
	for _, sl := range lease.slots {
		sl.Processing = true
	}
	for _, o := range lease.osds {
		o.Processing = true
	}
	s.version++
	return lease, nil
}

// Release снимает флаги processing. Повторный вызов ничего не делает.
// Сущности, исчезнувшие из снимка за время операции, удаляются.
func (l *Lease) Release() {
	l.once.Do(func() {
		s := l.store
		s.mu.Lock()
		defer s.mu.Unlock()

		for _, n := range l.nodes {
			n.ClearProcessing()
		}
		for _, sl := range l.slots {
			sl.Processing = false
		}
		for _, o := range l.osds {
			o.Processing = false
		}
		s.pruneOrphansLocked()
		s.version++
	})
}

// pruneOrphansLocked удаляет освободившиеся сущности, которых нет в снимке.
func (s *TopologyStore) pruneOrphansLocked() {
	s.nodes = slices.DeleteFunc(s.nodes, func(n *model.Node) bool {
		return n.Orphaned && !n.Busy()
	})
	for _, n := range s.nodes {
		n.Slots = slices.DeleteFunc(n.Slots, func(sl *model.Slot) bool {
			return sl.Orphaned && !sl.Busy()
		})
		for _, sl := range n.Slots {
			sl.OSDs = slices.DeleteFunc(sl.OSDs, func(o *model.OSD) bool {
				return o.Orphaned && !o.Processing
			})
		}
	}
	s.resolveMembershipLocked()
}
