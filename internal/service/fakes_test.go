package service

import (
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"sync"
	"testing"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/albaclient"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
)

const (
	testBackendGUID = "b-guid"
	testAlbaID      = "B1"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func strPtr(s string) *string { return &s }

// manageCtx — контекст субъекта с ролью manage.
func manageCtx() context.Context {
	return rbac.WithPrincipal(context.Background(), rbac.Principal{Subject: "admin", Role: rbac.RoleManage})
}

// fakeAPI — API фреймворка в памяти. Считает все сетевые вызовы.
type fakeAPI struct {
	mu sync.Mutex

	backend  *model.BackendRecord
	nodes    []model.NodeRecord
	clusters []model.ClusterRecord
	backends []model.BackendRef
	fetchErr error

	submitErr   error
	submitted   []albaclient.TaskRequest
	awaitResult albaclient.TaskResult
	awaitErr    error
	// onAwait вызывается перед возвратом AwaitTask (сервер применил задачу)
	onAwait func(f *fakeAPI)

	safety    model.Safety
	safetyErr error

	fetchCalls  int
	submitCalls int
	awaitCalls  int
	safetyCalls int
	listCalls   int
}

func newFakeAPI(nodes ...model.NodeRecord) *fakeAPI {
	return &fakeAPI{
		backend: &model.BackendRecord{GUID: testBackendGUID, AlbaID: testAlbaID, Name: "backend-1", Scaling: model.ScalingLocal},
		nodes:   nodes,
	}
}

func (f *fakeAPI) setNodes(nodes ...model.NodeRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nodes = nodes
}

func (f *fakeAPI) setClusters(clusters ...model.ClusterRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clusters = clusters
}

// calls возвращает общее число сетевых вызовов.
func (f *fakeAPI) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.fetchCalls + f.submitCalls + f.awaitCalls + f.safetyCalls + f.listCalls
}

func (f *fakeAPI) FetchNodes(_ context.Context, _ string, contents []string) ([]model.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	out := make([]model.NodeRecord, len(f.nodes))
	copy(out, f.nodes)
	return out, nil
}

func (f *fakeAPI) FetchClusters(context.Context) ([]model.ClusterRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	return append([]model.ClusterRecord(nil), f.clusters...), nil
}

func (f *fakeAPI) FetchBackend(context.Context, string) (*model.BackendRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.fetchCalls++
	if f.fetchErr != nil {
		return nil, f.fetchErr
	}
	b := *f.backend
	return &b, nil
}

func (f *fakeAPI) ListBackends(context.Context) ([]model.BackendRef, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	return append([]model.BackendRef(nil), f.backends...), nil
}

func (f *fakeAPI) SubmitTask(_ context.Context, tr albaclient.TaskRequest) (albaclient.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitCalls++
	if f.submitErr != nil {
		return albaclient.TaskHandle{}, f.submitErr
	}
	f.submitted = append(f.submitted, tr)
	return albaclient.TaskHandle{ID: "task-1"}, nil
}

func (f *fakeAPI) AwaitTask(_ context.Context, h albaclient.TaskHandle) (albaclient.TaskResult, error) {
	f.mu.Lock()
	f.awaitCalls++
	hook := f.onAwait
	res, err := f.awaitResult, f.awaitErr
	f.mu.Unlock()

	if hook != nil {
		hook(f)
	}
	res.TaskID = h.ID
	return res, err
}

func (f *fakeAPI) CalculateSafety(context.Context, string, []string) (model.Safety, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.safetyCalls++
	if f.safetyErr != nil {
		return model.Safety{}, f.safetyErr
	}
	return f.safety, nil
}

func (f *fakeAPI) submittedTasks() []albaclient.TaskRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]albaclient.TaskRequest(nil), f.submitted...)
}

// fakeSafety — SafetyGate с заранее заданным результатом.
type fakeSafety struct {
	mu      sync.Mutex
	safety  *model.Safety
	tracked int
}

func (f *fakeSafety) Current(string, []string) (model.Safety, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.safety == nil {
		return model.Safety{}, false
	}
	return *f.safety, true
}

func (f *fakeSafety) Track(string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tracked++
}

// jsonResult строит результат задачи из JSON.
func jsonResult(raw string) albaclient.TaskResult {
	return albaclient.TaskResult{Result: json.RawMessage(raw)}
}

// osdRec строит запись OSD снимка.
func osdRec(claimedBy *string, status string) model.OSDRecord {
	return model.OSDRecord{ClaimedBy: claimedBy, Status: status, Type: "ASD", Port: 8600}
}

// nodeRec строит узел ASD с возможностями fill/clear.
func nodeRec(nodeID, ip string, stack map[string]model.SlotRecord) model.NodeRecord {
	return model.NodeRecord{
		GUID:   "guid-" + nodeID,
		NodeID: nodeID,
		Name:   nodeID,
		IP:     ip,
		Port:   8500,
		Type:   model.NodeTypeASD,
		NodeMetadata: model.NodeMetadata{
			SlotCapabilities:  model.Capabilities{Fill: true, FillAdd: true, Clear: true},
			SupportedOSDTypes: []string{"ASD"},
		},
		Stack: stack,
	}
}

// snapshotA — узел n1, слот s1 с незабранным OSD o1.
func snapshotA() model.NodeRecord {
	return nodeRec("n1", "10.0.0.1", map[string]model.SlotRecord{
		"s1": {Status: "ok", OSDs: map[string]model.OSDRecord{"o1": osdRec(nil, "ok")}},
	})
}

// snapshotB — o1 забран backend-ом B1.
func snapshotB() model.NodeRecord {
	return nodeRec("n1", "10.0.0.1", map[string]model.SlotRecord{
		"s1": {Status: "ok", OSDs: map[string]model.OSDRecord{"o1": osdRec(strPtr(testAlbaID), "ok")}},
	})
}

// newLoadedStore создаёт хранилище и применяет полный снимок api.
func newLoadedStore(t *testing.T, api *fakeAPI) *TopologyStore {
	t.Helper()
	store := NewTopologyStore(testBackendGUID, api, testLogger())
	if _, err := store.Refresh(context.Background(), ScopeFull); err != nil {
		t.Fatalf("Refresh: %v", err)
	}
	return store
}

// findOSD возвращает копию полей OSD под блокировкой чтения.
func findOSD(t *testing.T, store *TopologyStore, osdID string) (status model.OSDStatus, processing, found bool) {
	t.Helper()
	store.Read(func() {
		if _, _, o, ok := store.locateOSDLocked(osdID); ok {
			status, processing, found = o.Status(), o.Processing, true
		}
	})
	return status, processing, found
}

// slotProcessing возвращает флаг processing слота.
func slotProcessing(t *testing.T, store *TopologyStore, slotID string) bool {
	t.Helper()
	var processing bool
	store.Read(func() {
		if _, sl, ok := store.locateSlotLocked(slotID); ok {
			processing = sl.Processing
		}
	})
	return processing
}
