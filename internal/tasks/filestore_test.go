package tasks

import (
	"errors"
	"testing"
	"time"
)

func TestFileStoreCRUD(t *testing.T) {
	store := NewFileStore(t.TempDir())

	// Create
	task := &Task{
		WorkspaceID: "ws_test",
		Title:       "Test task",
		Description: "A test task",
		Phase:       PhaseBacklog,
		Priority:    PriorityNormal,
	}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}
	if task.ID == "" {
		t.Fatal("expected non-empty task ID")
	}

	// Get
	got, err := store.Get("ws_test", task.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Title != "Test task" {
		t.Errorf("Title: got %q, want %q", got.Title, "Test task")
	}
	if got.Phase != PhaseBacklog {
		t.Errorf("Phase: got %q, want %q", got.Phase, PhaseBacklog)
	}

	// Update
	got.Phase = PhaseReady
	got.Order = 3
	if err := store.Update(got); err != nil {
		t.Fatalf("Update: %v", err)
	}

	got2, err := store.Get("ws_test", task.ID)
	if err != nil {
		t.Fatalf("Get after update: %v", err)
	}
	if got2.Phase != PhaseReady {
		t.Errorf("Phase after update: got %q, want %q", got2.Phase, PhaseReady)
	}
	if got2.Order != 3 {
		t.Errorf("Order after update: got %d, want 3", got2.Order)
	}

	// Delete
	if err := store.Delete("ws_test", task.ID); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, err := store.Get("ws_test", task.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
}

func TestFileStoreCreateWithoutWorkspace(t *testing.T) {
	store := NewFileStore(t.TempDir())
	if err := store.Create(&Task{Title: "orphan"}); err == nil {
		t.Fatal("expected error for task without workspace")
	}
}

func TestFileStoreListFilterAndOrder(t *testing.T) {
	store := NewFileStore(t.TempDir())

	seed := []struct {
		ws    string
		title string
		phase Phase
		order int
	}{
		{"ws_a", "third", PhaseReady, 2},
		{"ws_a", "first", PhaseReady, 0},
		{"ws_a", "second", PhaseReady, 1},
		{"ws_a", "backlog", PhaseBacklog, 0},
		{"ws_b", "other", PhaseReady, 0},
	}
	for _, tc := range seed {
		task := &Task{WorkspaceID: tc.ws, Title: tc.title, Phase: tc.phase, Order: tc.order}
		if err := store.Create(task); err != nil {
			t.Fatalf("Create %s: %v", tc.title, err)
		}
	}

	all, err := store.List(ListFilter{WorkspaceID: "ws_a"})
	if err != nil {
		t.Fatalf("List ws_a: %v", err)
	}
	if len(all) != 4 {
		t.Fatalf("List ws_a: got %d, want 4", len(all))
	}
	// Sorted by phase position, then order within phase.
	if all[0].Title != "backlog" {
		t.Errorf("first: got %q, want backlog task", all[0].Title)
	}
	wantReady := []string{"first", "second", "third"}
	for i, want := range wantReady {
		if all[i+1].Title != want {
			t.Errorf("ready[%d]: got %q, want %q", i, all[i+1].Title, want)
		}
	}

	ready, err := store.List(ListFilter{WorkspaceID: "ws_a", Phase: PhaseReady})
	if err != nil {
		t.Fatalf("List ready: %v", err)
	}
	if len(ready) != 3 {
		t.Errorf("List ready: got %d, want 3", len(ready))
	}

	everything, err := store.List(ListFilter{})
	if err != nil {
		t.Fatalf("List all: %v", err)
	}
	if len(everything) != 5 {
		t.Errorf("List all workspaces: got %d, want 5", len(everything))
	}
}

func TestFileStoreListPlanningFilter(t *testing.T) {
	store := NewFileStore(t.TempDir())

	running := &Task{WorkspaceID: "ws_a", Title: "planning", PlanningStatus: PlanningRunning}
	idle := &Task{WorkspaceID: "ws_a", Title: "idle"}
	for _, task := range []*Task{running, idle} {
		if err := store.Create(task); err != nil {
			t.Fatalf("Create: %v", err)
		}
	}

	list, err := store.List(ListFilter{PlanningStatus: PlanningRunning})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(list) != 1 || list[0].Title != "planning" {
		t.Errorf("expected only the planning task, got %d tasks", len(list))
	}
}

func TestFileStoreNotes(t *testing.T) {
	store := NewFileStore(t.TempDir())

	task := &Task{WorkspaceID: "ws_a", Title: "with notes"}
	if err := store.Create(task); err != nil {
		t.Fatalf("Create: %v", err)
	}

	notes := []Note{
		{Ts: time.Now(), Type: "session.stopped", Actor: "user", Text: "moved back to ready"},
		{Ts: time.Now(), Type: "execution.failed", Text: "collaborator exited 1"},
	}
	for _, n := range notes {
		if err := store.AppendNote("ws_a", task.ID, n); err != nil {
			t.Fatalf("AppendNote: %v", err)
		}
	}

	got, err := store.LoadNotes("ws_a", task.ID)
	if err != nil {
		t.Fatalf("LoadNotes: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("notes: got %d, want 2", len(got))
	}
	if got[0].Type != "session.stopped" || got[1].Type != "execution.failed" {
		t.Errorf("notes out of order: %v", got)
	}

	// Notes on a missing task fail fast.
	if err := store.AppendNote("ws_a", "task_missing", Note{Text: "x"}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
