package albaclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

// testLogger создаёт logger для тестов.
func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// setupMockAPI создаёт mock HTTP-сервер API фреймворка.
func setupMockAPI(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := New(Options{
		BaseURL:          server.URL + "/api/",
		TokenProvider:    StaticToken("test-token"),
		TaskPollInterval: 5 * time.Millisecond,
		TaskMaxWait:      2 * time.Second,
	}, testLogger())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestClient_FetchNodes(t *testing.T) {
	c := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/alba/backends/b-guid/nodes/" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		if r.Header.Get("Authorization") != "Bearer test-token" {
			t.Errorf("Authorization = %q", r.Header.Get("Authorization"))
		}
		if got := r.URL.Query().Get("contents"); got != "stack,node_metadata" {
			t.Errorf("contents = %q", got)
		}
		fmt.Fprint(w, `{"data": [{
			"guid": "g1", "node_id": "n1", "ip": "10.0.0.1", "port": 8500, "type": "ASD",
			"node_metadata": {"slots": {"fill": true, "fill_add": false, "clear": true}},
			"stack": {"s1": {"status": "ok", "osds": {"o1": {"claimed_by": null, "status": "ok"}}}}
		}]}`)
	})

	nodes, err := c.FetchNodes(context.Background(), "b-guid", []string{"stack", "node_metadata"})
	if err != nil {
		t.Fatalf("FetchNodes: %v", err)
	}
	if len(nodes) != 1 || nodes[0].NodeID != "n1" {
		t.Fatalf("nodes = %+v", nodes)
	}
	slot, ok := nodes[0].Stack["s1"]
	if !ok || slot.OSDs["o1"].ClaimedBy != nil {
		t.Errorf("stack разобран неверно: %+v", nodes[0].Stack)
	}
	if !nodes[0].NodeMetadata.SlotCapabilities.Fill {
		t.Error("node_metadata.slots.fill потерян")
	}
}

func TestClient_FetchNodesUnexpectedStatus(t *testing.T) {
	c := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	_, err := c.FetchNodes(context.Background(), "b-guid", nil)
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("ожидалась ErrUnexpectedStatus, получено %v", err)
	}
}

func TestClient_SubmitAndAwaitTask(t *testing.T) {
	var polls atomic.Int32
	c := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/alba/backends/b-guid/add_osds/":
			if r.Method != http.MethodPost {
				t.Errorf("method = %s", r.Method)
			}
			body, _ := io.ReadAll(r.Body)
			var payload struct {
				OSDs []OSDClaim `json:"osds"`
			}
			if err := json.Unmarshal(body, &payload); err != nil || len(payload.OSDs) != 1 || payload.OSDs[0].OSDID != "o1" {
				t.Errorf("payload = %s", body)
			}
			fmt.Fprint(w, `"task-1"`)
		case "/api/tasks/task-1/":
			if polls.Add(1) < 3 {
				fmt.Fprint(w, `{"ready": false}`)
				return
			}
			fmt.Fprint(w, `{"ready": true, "successful": true, "result": ["o1"]}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	ctx := context.Background()
	h, err := c.SubmitTask(ctx, ClaimOSDsTask("b-guid", []OSDClaim{{NodeID: "n1", SlotID: "s1", OSDID: "o1"}}))
	if err != nil {
		t.Fatalf("SubmitTask: %v", err)
	}
	if h.ID != "task-1" {
		t.Errorf("task id = %q", h.ID)
	}

	res, err := c.AwaitTask(ctx, h)
	if err != nil {
		t.Fatalf("AwaitTask: %v", err)
	}
	if polls.Load() != 3 {
		t.Errorf("опросов = %d, хотели 3", polls.Load())
	}
	claimed, known, err := ClaimedOSDs(res)
	if err != nil || !known || len(claimed) != 1 || claimed[0] != "o1" {
		t.Errorf("ClaimedOSDs = %v, %v, %v", claimed, known, err)
	}
}

func TestClient_AwaitTaskFailed(t *testing.T) {
	var polls atomic.Int32
	c := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		polls.Add(1)
		fmt.Fprint(w, `{"ready": true, "successful": false, "result": {"message": "slot busy"}}`)
	})

	_, err := c.AwaitTask(context.Background(), TaskHandle{ID: "t2"})
	var te *TaskError
	if !errors.As(err, &te) {
		t.Fatalf("ожидалась *TaskError, получено %v", err)
	}
	if te.Message != "slot busy" || te.TaskID != "t2" {
		t.Errorf("TaskError = %+v", te)
	}
	if !errors.Is(err, ErrTaskFailed) {
		t.Error("TaskError должна совпадать с ErrTaskFailed")
	}
	if polls.Load() != 1 {
		t.Errorf("ошибка задачи не должна повторяться: опросов %d", polls.Load())
	}
}

func TestClient_AwaitTaskContextCancelled(t *testing.T) {
	c := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"ready": false}`)
	})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := c.AwaitTask(ctx, TaskHandle{ID: "t3"})
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("ожидалась context.DeadlineExceeded, получено %v", err)
	}
}

func TestClient_SubmitTaskError(t *testing.T) {
	c := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	})

	_, err := c.SubmitTask(context.Background(), RestartOSDTask("g1", "o1"))
	if !errors.Is(err, ErrUnexpectedStatus) {
		t.Fatalf("ожидалась ErrUnexpectedStatus, получено %v", err)
	}
}

func TestClient_TokenProviderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("запрос не должен уходить без токена")
	}))
	t.Cleanup(server.Close)

	c, err := New(Options{
		BaseURL: server.URL,
		TokenProvider: func(context.Context) (string, error) {
			return "", errors.New("ошибка получения токена")
		},
	}, testLogger())
	if err != nil {
		t.Fatal(err)
	}
	if _, err := c.ListBackends(context.Background()); err == nil {
		t.Fatal("ожидалась ошибка")
	}
}

func TestClient_CalculateSafety(t *testing.T) {
	c := setupMockAPI(t, func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/alba/backends/b-guid/calculate_safety/":
			if r.Method != http.MethodGet {
				t.Errorf("method = %s", r.Method)
			}
			if got := r.URL.Query().Get("asd_id"); got != "o1,o2" {
				t.Errorf("asd_id = %q", got)
			}
			fmt.Fprint(w, `"safety-1"`)
		case "/api/tasks/safety-1/":
			fmt.Fprint(w, `{"ready": true, "successful": true, "result": {"good": 4, "critical": 1, "lost": 0}}`)
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	})

	s, err := c.CalculateSafety(context.Background(), "b-guid", []string{"o1", "o2"})
	if err != nil {
		t.Fatalf("CalculateSafety: %v", err)
	}
	if s.Good != 4 || s.Critical != 1 || s.Lost != 0 {
		t.Errorf("safety = %+v", s)
	}
	if s.ComputedAt.IsZero() {
		t.Error("ComputedAt не заполнен")
	}
}

func TestTaskResultHelpers(t *testing.T) {
	if _, known, err := ClaimedOSDs(TaskResult{Result: json.RawMessage("null")}); known || err != nil {
		t.Errorf("null результат: known=%v err=%v", known, err)
	}
	id, err := GeneratedSlotID(TaskResult{Result: json.RawMessage(`{"gen-7": {"status": "empty"}}`)})
	if err != nil || id != "gen-7" {
		t.Errorf("GeneratedSlotID = %q, %v", id, err)
	}
	if _, err := GeneratedSlotID(TaskResult{Result: json.RawMessage(`{}`)}); err == nil {
		t.Error("пустой результат generate_empty_slot должен быть ошибкой")
	}
}

func TestTaskErrorMessage(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{raw: `"plain text"`, want: "plain text"},
		{raw: `{"message": "m"}`, want: "m"},
		{raw: `{"error": "e"}`, want: "e"},
		{raw: ``, want: "неизвестная ошибка"},
		{raw: `42`, want: "42"},
	}
	for _, tt := range tests {
		if got := taskErrorMessage(json.RawMessage(tt.raw)); got != tt.want {
			t.Errorf("taskErrorMessage(%s) = %q, хотели %q", tt.raw, got, tt.want)
		}
	}
}
