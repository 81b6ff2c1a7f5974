package handlers

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/operation"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/domain/rbac"
	"github.com/openvstorage/framework-alba-plugin-sub000/internal/service"
)

func TestGetTopology(t *testing.T) {
	env := newTestEnv(t, rbac.RoleRead)

	rec := env.do(t, http.MethodGet, "/api/v1/backends/b-guid/topology", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", rec.Code)
	}
	var view service.TopologyView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if len(view.Nodes) != 1 || view.Nodes[0].NodeID != "n1" || !view.CanClaimAny {
		t.Errorf("топология = %+v", view)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/backends/unknown/topology", "")
	if rec.Code != http.StatusNotFound || errorCode(t, rec) != "NOT_FOUND" {
		t.Errorf("неизвестный backend: статус = %d", rec.Code)
	}
}

func TestRefresh(t *testing.T) {
	env := newTestEnv(t, rbac.RoleRead)

	rec := env.do(t, http.MethodPost, "/api/v1/backends/b-guid/refresh?scope=stack", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", rec.Code)
	}
	var res service.RefreshResult
	_ = json.NewDecoder(rec.Body).Decode(&res)
	if res.Scope != service.ScopeStack || res.Version < 2 {
		t.Errorf("RefreshResult = %+v", res)
	}

	rec = env.do(t, http.MethodPost, "/api/v1/backends/b-guid/refresh?scope=all", "")
	if rec.Code != http.StatusBadRequest || errorCode(t, rec) != "VALIDATION_ERROR" {
		t.Errorf("неизвестная область: статус = %d", rec.Code)
	}
}

func TestClaimOSDs(t *testing.T) {
	tests := []struct {
		name        string
		role        string
		body        string
		submitErr   error
		wantStatus  int
		wantOutcome operation.Outcome
		wantSubmits int
	}{
		{
			name:        "не подтверждено",
			role:        rbac.RoleManage,
			body:        `{"confirmed": false, "osds": {"s1": ["o1"]}}`,
			wantStatus:  http.StatusOK,
			wantOutcome: operation.OutcomeCancelled,
		},
		{
			name:        "подтверждено",
			role:        rbac.RoleManage,
			body:        `{"confirmed": true, "osds": {"s1": ["o1"]}}`,
			wantStatus:  http.StatusOK,
			wantOutcome: operation.OutcomeCompleted,
			wantSubmits: 1,
		},
		{
			name:        "роль read",
			role:        rbac.RoleRead,
			body:        `{"confirmed": true, "osds": {"s1": ["o1"]}}`,
			wantStatus:  http.StatusForbidden,
			wantOutcome: operation.OutcomePreconditionNotMet,
		},
		{
			name:        "неизвестный OSD",
			role:        rbac.RoleManage,
			body:        `{"confirmed": true, "osds": {"s1": ["o9"]}}`,
			wantStatus:  http.StatusConflict,
			wantOutcome: operation.OutcomePreconditionNotMet,
		},
		{
			name:        "отказ API",
			role:        rbac.RoleManage,
			body:        `{"confirmed": true, "osds": {"s1": ["o1"]}}`,
			submitErr:   errConnRefused,
			wantStatus:  http.StatusBadGateway,
			wantOutcome: operation.OutcomeTaskSubmissionFailed,
			wantSubmits: 1,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t, tt.role)
			env.api.submitErr = tt.submitErr
			env.api.result = json.RawMessage(`["o1"]`)

			rec := env.do(t, http.MethodPost, "/api/v1/backends/b-guid/claim", tt.body)
			if rec.Code != tt.wantStatus {
				t.Errorf("статус = %d, хотели %d", rec.Code, tt.wantStatus)
			}
			if res := decodeResult(t, rec); res.Outcome != tt.wantOutcome {
				t.Errorf("Outcome = %s (%s), хотели %s", res.Outcome, res.Message, tt.wantOutcome)
			}
			if got := env.api.submits(); got != tt.wantSubmits {
				t.Errorf("submitTask вызван %d раз, хотели %d", got, tt.wantSubmits)
			}
		})
	}
}

func TestClaimOSDs_BadBody(t *testing.T) {
	env := newTestEnv(t, rbac.RoleManage)

	rec := env.do(t, http.MethodPost, "/api/v1/backends/b-guid/claim", `{"confirmed": true, "unknown": 1}`)
	if rec.Code != http.StatusBadRequest {
		t.Errorf("статус = %d, хотели 400", rec.Code)
	}
	if env.api.submits() != 0 {
		t.Error("задача отправлена при некорректном теле")
	}
}

func TestClaimSlot(t *testing.T) {
	env := newTestEnv(t, rbac.RoleManage)
	env.api.result = json.RawMessage(`["o1"]`)

	rec := env.do(t, http.MethodPost, "/api/v1/backends/b-guid/slots/s1/claim", `{"confirmed": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", rec.Code)
	}
	res := decodeResult(t, rec)
	if res.Kind != operation.KindClaimOSDs || len(res.Requested) != 1 || res.Requested[0] != "o1" {
		t.Errorf("Result = %+v", res)
	}
}

func TestRemoveOSD_SafetyUnknown(t *testing.T) {
	env := newTestEnv(t, rbac.RoleManage)
	env.api.safetyBlock = true

	rec := env.do(t, http.MethodPost, "/api/v1/backends/b-guid/osds/o1/remove", `{"confirmed": true}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("статус = %d, хотели 409", rec.Code)
	}
	if res := decodeResult(t, rec); res.Reason != service.ReasonSafetyUnknown {
		t.Errorf("Reason = %s, хотели SAFETY_UNKNOWN", res.Reason)
	}
	if env.session.Safety().Tracked() != 1 {
		t.Error("удаление должно поставить OSD на отслеживание безопасности")
	}
	if env.api.submits() != 0 {
		t.Error("задача отправлена без результата calculate_safety")
	}
}

func TestGetSafety(t *testing.T) {
	env := newTestEnv(t, rbac.RoleRead)

	rec := env.do(t, http.MethodGet, "/api/v1/backends/b-guid/safety", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("без osd_id: статус = %d, хотели 400", rec.Code)
	}

	deadline := time.Now().Add(time.Second)
	for {
		rec = env.do(t, http.MethodGet, "/api/v1/backends/b-guid/safety?osd_id=o1", "")
		if rec.Code != http.StatusOK {
			t.Fatalf("статус = %d, хотели 200", rec.Code)
		}
		var resp safetyResponse
		_ = json.NewDecoder(rec.Body).Decode(&resp)
		if resp.Known {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("результат безопасности не появился")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestResultStatus(t *testing.T) {
	tests := []struct {
		res  service.Result
		want int
	}{
		{service.Result{Outcome: operation.OutcomeCompleted}, http.StatusOK},
		{service.Result{Outcome: operation.OutcomePartialSuccess}, http.StatusOK},
		{service.Result{Outcome: operation.OutcomeCancelled}, http.StatusOK},
		{service.Result{Outcome: operation.OutcomePreconditionNotMet, Reason: service.ReasonProcessing}, http.StatusConflict},
		{service.Result{Outcome: operation.OutcomePreconditionNotMet, Reason: service.ReasonForbidden}, http.StatusForbidden},
		{service.Result{Outcome: operation.OutcomeTaskSubmissionFailed}, http.StatusBadGateway},
		{service.Result{Outcome: operation.OutcomeTaskFailed}, http.StatusBadGateway},
	}
	for _, tt := range tests {
		if got := resultStatus(tt.res); got != tt.want {
			t.Errorf("resultStatus(%s/%s) = %d, хотели %d", tt.res.Outcome, tt.res.Reason, got, tt.want)
		}
	}
}

func TestStreamEvents(t *testing.T) {
	env := newTestEnv(t, rbac.RoleRead)
	srv := httptest.NewServer(env.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/v1/events?backend_guid=b-guid", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("подключение к SSE: %v", err)
	}
	defer resp.Body.Close()

	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("Content-Type = %q", ct)
	}

	// Подписка появляется после заголовков ответа
	deadline := time.Now().Add(time.Second)
	for env.session.Bus().Subscribers(service.TopicTopologyRefreshed) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if _, err := env.session.Refresh(ctx, testGUID, service.ScopeStack); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	scanner := bufio.NewScanner(resp.Body)
	var gotEvent, gotData bool
	for scanner.Scan() {
		line := scanner.Text()
		if line == "event: "+service.TopicTopologyRefreshed {
			gotEvent = true
		}
		if gotEvent && strings.HasPrefix(line, "data: ") {
			var n service.Notification
			if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &n); err != nil {
				t.Fatalf("data не JSON: %v", err)
			}
			gotData = n.BackendGUID == testGUID
			break
		}
	}
	if !gotEvent || !gotData {
		t.Errorf("событие topology:refreshed не получено (event=%v, data=%v)", gotEvent, gotData)
	}
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, rbac.RoleRead)

	rec := env.do(t, http.MethodGet, "/health/live", "")
	if rec.Code != http.StatusOK {
		t.Errorf("live: статус = %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("ready: статус = %d, хотели 200", rec.Code)
	}
	var resp healthReadyResponse
	_ = json.NewDecoder(rec.Body).Decode(&resp)
	if resp.Status != statusDegraded {
		t.Errorf("Status = %q, хотели degraded без мониторинга зависимостей", resp.Status)
	}
	if resp.Checks["topology"].Status != statusOK {
		t.Errorf("topology = %+v", resp.Checks["topology"])
	}

	env.session.Close()
	rec = env.do(t, http.MethodGet, "/health/ready", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Errorf("после Close: статус = %d, хотели 503", rec.Code)
	}
}

type staticHealth map[string]bool

func (s staticHealth) Health() map[string]bool { return s }

func TestHealthHandler_CheckFramework(t *testing.T) {
	tests := []struct {
		deps DependencyHealth
		want string
	}{
		{nil, statusDegraded},
		{staticHealth{}, statusDegraded},
		{staticHealth{"framework-api:ovs.example.com:443": true}, statusOK},
		{staticHealth{"framework-api:ovs.example.com:443": false}, statusFail},
	}
	for _, tt := range tests {
		h := NewHealthHandler(nil, tt.deps)
		if got := h.checkFramework().Status; got != tt.want {
			t.Errorf("checkFramework(%v) = %s, хотели %s", tt.deps, got, tt.want)
		}
	}
}

func TestSetNodeExpanded(t *testing.T) {
	env := newTestEnv(t, rbac.RoleRead)

	rec := env.do(t, http.MethodPut, "/api/v1/backends/b-guid/nodes/n1/expanded", `{"expanded": true}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("статус = %d, хотели 200", rec.Code)
	}
	if _, err := env.session.Refresh(context.Background(), testGUID, service.ScopeFull); err != nil {
		t.Fatalf("Refresh: %v", err)
	}

	rec = env.do(t, http.MethodGet, "/api/v1/backends/b-guid/topology", "")
	var view service.TopologyView
	if err := json.NewDecoder(rec.Body).Decode(&view); err != nil {
		t.Fatalf("ответ не JSON: %v", err)
	}
	if len(view.Nodes) != 1 || !view.Nodes[0].Expanded {
		t.Errorf("expanded не сохранился после обновления: %+v", view.Nodes)
	}

	tests := []struct {
		name string
		path string
		body string
		want int
	}{
		{"неизвестный узел", "/api/v1/backends/b-guid/nodes/n9/expanded", `{"expanded": true}`, http.StatusNotFound},
		{"неизвестный backend", "/api/v1/backends/x/nodes/n1/expanded", `{"expanded": true}`, http.StatusNotFound},
		{"нет поля", "/api/v1/backends/b-guid/nodes/n1/expanded", `{}`, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if rec := env.do(t, http.MethodPut, tt.path, tt.body); rec.Code != tt.want {
				t.Errorf("статус = %d, хотели %d", rec.Code, tt.want)
			}
		})
	}
}
