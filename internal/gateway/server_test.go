package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/events"
	"github.com/flowline-dev/flowline/internal/qa"
	"github.com/flowline-dev/flowline/internal/scheduler"
	"github.com/flowline-dev/flowline/internal/sessions"
	"github.com/flowline-dev/flowline/internal/tasks"
	"github.com/flowline-dev/flowline/internal/workspaces"
)

type noopHandle struct{}

func (noopHandle) Deliver(context.Context, sessions.Message) error   { return nil }
func (noopHandle) Interrupt(context.Context, sessions.Message) error { return nil }
func (noopHandle) Stop(context.Context) error                        { return nil }

type noopRunner struct{}

func (noopRunner) Open(context.Context, *tasks.Task, func(bool)) (sessions.Handle, error) {
	return noopHandle{}, nil
}

func (noopRunner) Resume(context.Context, *tasks.Task, string, func(bool)) (sessions.Handle, error) {
	return noopHandle{}, nil
}

type fixedPlanner struct{}

func (fixedPlanner) Plan(context.Context, *tasks.Task) (*tasks.Plan, error) {
	return &tasks.Plan{Steps: []tasks.PlanStep{{ID: "s1", Title: "step"}}}, nil
}

type testGateway struct {
	ts    *httptest.Server
	store tasks.Store
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()

	dir := t.TempDir()
	store := tasks.NewFileStore(dir)
	wsStore := workspaces.NewFileStore(dir)

	bus := events.NewBus(64)
	t.Cleanup(bus.Close)

	cfg := config.Default()
	registry := sessions.NewRegistry(noopRunner{}, bus)
	qaCh := qa.NewChannel(bus)

	board := scheduler.New(store, wsStore, registry, bus, config.NewReloader("", cfg), fixedPlanner{}, qaCh)
	if err := board.Start(); err != nil {
		t.Fatalf("scheduler start: %v", err)
	}
	t.Cleanup(board.Stop)

	srv := NewServer(board, registry, store, wsStore, bus, qaCh, nil, "127.0.0.1", 0)
	ts := httptest.NewServer(srv.httpServer.Handler)
	t.Cleanup(ts.Close)
	t.Cleanup(srv.hub.Close)

	return &testGateway{ts: ts, store: store}
}

func (g *testGateway) do(t *testing.T, method, path string, body any) (*http.Response, map[string]any) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req, err := http.NewRequest(method, g.ts.URL+path, &buf)
	if err != nil {
		t.Fatalf("build request: %v", err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	var decoded map[string]any
	json.NewDecoder(resp.Body).Decode(&decoded)
	return resp, decoded
}

func (g *testGateway) createWorkspace(t *testing.T, body map[string]any) string {
	t.Helper()
	resp, decoded := g.do(t, http.MethodPost, "/api/workspaces", body)
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create workspace: status %d (%v)", resp.StatusCode, decoded)
	}
	return decoded["id"].(string)
}

func (g *testGateway) createTask(t *testing.T, workspaceID, title string) string {
	t.Helper()
	resp, decoded := g.do(t, http.MethodPost, "/api/workspaces/"+workspaceID+"/tasks", map[string]any{"title": title})
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("create task: status %d (%v)", resp.StatusCode, decoded)
	}
	return decoded["id"].(string)
}

func TestHealthEndpoint(t *testing.T) {
	g := newTestGateway(t)

	resp, decoded := g.do(t, http.MethodGet, "/api/health", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status: %d", resp.StatusCode)
	}
	if decoded["status"] != "ok" {
		t.Errorf("body: %v", decoded)
	}
}

func TestWorkspaceLifecycle(t *testing.T) {
	g := newTestGateway(t)

	// Missing name is rejected.
	resp, _ := g.do(t, http.MethodPost, "/api/workspaces", map[string]any{"root_path": "/tmp"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("nameless create: status %d, want 400", resp.StatusCode)
	}

	id := g.createWorkspace(t, map[string]any{"name": "backend"})

	resp, decoded := g.do(t, http.MethodGet, "/api/workspaces/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get workspace: status %d", resp.StatusCode)
	}
	if decoded["workspace"] == nil || decoded["settings"] == nil {
		t.Errorf("get workspace body: %v", decoded)
	}

	resp, _ = g.do(t, http.MethodDelete, "/api/workspaces/"+id, nil)
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("delete workspace: status %d", resp.StatusCode)
	}

	resp, _ = g.do(t, http.MethodGet, "/api/workspaces/"+id, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("get deleted workspace: status %d, want 404", resp.StatusCode)
	}
}

func TestUpdateWorkspaceAppliesOverrides(t *testing.T) {
	g := newTestGateway(t)
	id := g.createWorkspace(t, map[string]any{"name": "backend"})

	resp, decoded := g.do(t, http.MethodPatch, "/api/workspaces/"+id,
		map[string]any{"name": "platform", "overrides": map[string]any{"limits": map[string]any{"ready": 2}}})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch workspace: status %d (%v)", resp.StatusCode, decoded)
	}
	if decoded["name"] != "platform" {
		t.Errorf("name: got %v, want platform", decoded["name"])
	}

	resp, decoded = g.do(t, http.MethodGet, "/api/workspaces/"+id, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get workspace: status %d", resp.StatusCode)
	}
	settings := decoded["settings"].(map[string]any)
	limits := settings["Limits"].(map[string]any)
	if limits["ready"] != float64(2) {
		t.Errorf("resolved ready limit: got %v, want 2", limits["ready"])
	}

	resp, _ = g.do(t, http.MethodPatch, "/api/workspaces/ws_nope", map[string]any{"name": "ghost"})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("patch unknown workspace: status %d, want 404", resp.StatusCode)
	}
}

func TestTaskCreateAndGet(t *testing.T) {
	g := newTestGateway(t)
	wsID := g.createWorkspace(t, map[string]any{"name": "main"})

	taskID := g.createTask(t, wsID, "first task")

	resp, decoded := g.do(t, http.MethodGet, "/api/workspaces/"+wsID+"/tasks/"+taskID, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("get task: status %d", resp.StatusCode)
	}
	task := decoded["task"].(map[string]any)
	if task["phase"] != "backlog" {
		t.Errorf("phase: got %v, want backlog", task["phase"])
	}

	resp, _ = g.do(t, http.MethodGet, "/api/workspaces/"+wsID+"/tasks/task_nope", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown task: status %d, want 404", resp.StatusCode)
	}
}

func TestMoveErrorMapping(t *testing.T) {
	g := newTestGateway(t)

	// Ready is capped at zero via workspace overrides.
	wsID := g.createWorkspace(t, map[string]any{
		"name":      "cramped",
		"overrides": map[string]any{"limits": map[string]any{"ready": 0}},
	})
	taskID := g.createTask(t, wsID, "stuck")

	// No plan: executing is structurally invalid.
	resp, _ := g.do(t, http.MethodPost,
		fmt.Sprintf("/api/workspaces/%s/tasks/%s/move", wsID, taskID),
		map[string]any{"target": "executing"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("planless executing move: status %d, want 400", resp.StatusCode)
	}

	// Capacity denial maps to conflict.
	resp, _ = g.do(t, http.MethodPost,
		fmt.Sprintf("/api/workspaces/%s/tasks/%s/move", wsID, taskID),
		map[string]any{"target": "ready"})
	if resp.StatusCode != http.StatusConflict {
		t.Errorf("over-capacity move: status %d, want 409", resp.StatusCode)
	}

	// Unknown phase.
	resp, _ = g.do(t, http.MethodPost,
		fmt.Sprintf("/api/workspaces/%s/tasks/%s/move", wsID, taskID),
		map[string]any{"target": "limbo"})
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("unknown phase move: status %d, want 400", resp.StatusCode)
	}
}

func TestPlanEndpoint(t *testing.T) {
	g := newTestGateway(t)
	wsID := g.createWorkspace(t, map[string]any{"name": "main"})
	taskID := g.createTask(t, wsID, "needs a plan")

	resp, _ := g.do(t, http.MethodPost,
		fmt.Sprintf("/api/workspaces/%s/tasks/%s/plan", wsID, taskID), map[string]any{})
	if resp.StatusCode != http.StatusAccepted {
		t.Fatalf("plan request: status %d, want 202", resp.StatusCode)
	}

	deadline := time.Now().Add(3 * time.Second)
	for {
		task, err := g.store.Get(wsID, taskID)
		if err == nil && task.Plan != nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("plan never landed")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestUpdateTaskFields(t *testing.T) {
	g := newTestGateway(t)
	wsID := g.createWorkspace(t, map[string]any{"name": "main"})
	taskID := g.createTask(t, wsID, "editable")

	resp, decoded := g.do(t, http.MethodPatch,
		fmt.Sprintf("/api/workspaces/%s/tasks/%s", wsID, taskID),
		map[string]any{"blocked": true, "blocked_reason": "waiting on design"})
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("patch task: status %d", resp.StatusCode)
	}
	if decoded["blocked"] != true {
		t.Errorf("blocked: got %v", decoded["blocked"])
	}

	task, err := g.store.Get(wsID, taskID)
	if err != nil {
		t.Fatalf("store get: %v", err)
	}
	if !task.Blocked || task.BlockedReason != "waiting on design" {
		t.Errorf("persisted task: %+v", task)
	}
}

func TestQAEndpoints(t *testing.T) {
	g := newTestGateway(t)
	wsID := g.createWorkspace(t, map[string]any{"name": "main"})

	resp, decoded := g.do(t, http.MethodGet, "/api/workspaces/"+wsID+"/qa", nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("pending qa: status %d", resp.StatusCode)
	}
	if decoded["pending"] != nil {
		t.Errorf("pending: got %v, want null", decoded["pending"])
	}

	// Resolving an unknown request is a 404, not a failure mode.
	resp, _ = g.do(t, http.MethodPost, "/api/qa/qa_nope/respond", map[string]any{"answers": []any{}})
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown qa respond: status %d, want 404", resp.StatusCode)
	}
	resp, _ = g.do(t, http.MethodPost, "/api/qa/qa_nope/abort", nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("unknown qa abort: status %d, want 404", resp.StatusCode)
	}
}

func TestEventsEndpointFallsBackToBusHistory(t *testing.T) {
	g := newTestGateway(t)
	wsID := g.createWorkspace(t, map[string]any{"name": "main"})
	g.createTask(t, wsID, "emits events")

	deadline := time.Now().Add(3 * time.Second)
	for {
		req, err := http.Get(g.ts.URL + "/api/events?workspace=" + wsID)
		if err != nil {
			t.Fatalf("get events: %v", err)
		}
		var list []map[string]any
		json.NewDecoder(req.Body).Decode(&list)
		req.Body.Close()
		if len(list) > 0 {
			for _, e := range list {
				if e["workspace_id"] != wsID {
					t.Errorf("workspace filter leak: %v", e["workspace_id"])
				}
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("no events in history")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
