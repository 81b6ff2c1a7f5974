package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/albaclient"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/model"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

const testGUID = "b-guid"

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// fakeAPI — API фреймворка в памяти.
type fakeAPI struct {
	mu        sync.Mutex
	nodes     []model.NodeRecord
	submitErr error
	result    json.RawMessage
	submitted int
	safety    model.Safety
	// safetyBlock задерживает calculate_safety до отмены контекста
	safetyBlock bool
}

func (f *fakeAPI) FetchNodes(context.Context, string, []string) ([]model.NodeRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]model.NodeRecord(nil), f.nodes...), nil
}

func (f *fakeAPI) FetchClusters(context.Context) ([]model.ClusterRecord, error) {
	return nil, nil
}

func (f *fakeAPI) FetchBackend(context.Context, string) (*model.BackendRecord, error) {
	return &model.BackendRecord{GUID: testGUID, AlbaID: "B1", Name: "backend-1", Scaling: model.ScalingLocal}, nil
}

func (f *fakeAPI) ListBackends(context.Context) ([]model.BackendRef, error) {
	return nil, nil
}

func (f *fakeAPI) SubmitTask(context.Context, albaclient.TaskRequest) (albaclient.TaskHandle, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted++
	if f.submitErr != nil {
		return albaclient.TaskHandle{}, f.submitErr
	}
	return albaclient.TaskHandle{ID: "task-1"}, nil
}

func (f *fakeAPI) AwaitTask(_ context.Context, h albaclient.TaskHandle) (albaclient.TaskResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return albaclient.TaskResult{TaskID: h.ID, Result: f.result}, nil
}

func (f *fakeAPI) CalculateSafety(ctx context.Context, _ string, _ []string) (model.Safety, error) {
	f.mu.Lock()
	block, safety := f.safetyBlock, f.safety
	f.mu.Unlock()
	if block {
		<-ctx.Done()
		return model.Safety{}, ctx.Err()
	}
	return safety, nil
}

func (f *fakeAPI) submits() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.submitted
}

// freeNode — узел n1 со слотом s1 и незабранным OSD o1.
func freeNode() model.NodeRecord {
	return model.NodeRecord{
		GUID:   "guid-n1",
		NodeID: "n1",
		Name:   "n1",
		IP:     "10.0.0.1",
		Port:   8500,
		Type:   model.NodeTypeASD,
		NodeMetadata: model.NodeMetadata{
			SlotCapabilities:  model.Capabilities{Fill: true, FillAdd: true, Clear: true},
			SupportedOSDTypes: []string{"ASD"},
		},
		Stack: map[string]model.SlotRecord{
			"s1": {Status: "ok", OSDs: map[string]model.OSDRecord{
				"o1": {Status: "ok", Type: "ASD", Port: 8600},
			}},
		},
	}
}

// testEnv — сессия и роутер поверх fakeAPI.
type testEnv struct {
	api     *fakeAPI
	session *service.Session
	router  http.Handler
}

// newTestEnv загружает топологию и собирает роутер. Роль субъекта задаёт role.
func newTestEnv(t *testing.T, role string) *testEnv {
	t.Helper()
	api := &fakeAPI{nodes: []model.NodeRecord{freeNode()}}
	session, err := service.NewSession(api, service.SessionConfig{
		BackendGUIDs:    []string{testGUID},
		RefreshInterval: time.Hour,
		SafetyInterval:  time.Hour,
		RegistryTTL:     time.Hour,
	}, testLogger())
	if err != nil {
		t.Fatalf("NewSession: %v", err)
	}
	t.Cleanup(session.Close)
	if _, err := session.Refresh(context.Background(), testGUID, service.ScopeFull); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	apiHandler := NewAPIHandler(session, 20*time.Millisecond, testLogger())
	health := NewHealthHandler(session, nil)

	router := chi.NewRouter()
	router.Get("/health/live", health.HealthLive)
	router.Get("/health/ready", health.HealthReady)
	router.Route("/api/v1", func(r chi.Router) {
		r.Use(withPrincipal(rbac.Principal{Subject: "tester", Role: role}))
		apiHandler.Routes(r)
	})
	return &testEnv{api: api, session: session, router: router}
}

// withPrincipal подставляет субъекта вместо JWT middleware.
func withPrincipal(p rbac.Principal) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			next.ServeHTTP(w, r.WithContext(rbac.WithPrincipal(r.Context(), p)))
		})
	}
}

func (e *testEnv) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, nil)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

// decodeResult разбирает ответ операции.
func decodeResult(t *testing.T, rec *httptest.ResponseRecorder) service.Result {
	t.Helper()
	var res service.Result
	if err := json.NewDecoder(rec.Body).Decode(&res); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	return res
}

// errorCode извлекает код ошибки из конверта {"error": {...}}.
func errorCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&body); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	return body.Error.Code
}

var errConnRefused = errors.New("connection refused")
