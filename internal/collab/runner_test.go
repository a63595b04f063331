package collab

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/flowline-dev/flowline/internal/tasks"
)

func shellRunner(script string) *ProcessRunner {
	return NewProcessRunner([]string{"sh", "-c", script}, nil)
}

func sessionTask() *tasks.Task {
	return &tasks.Task{ID: "task_1", WorkspaceID: "ws_1", Title: "run it", Phase: tasks.PhaseExecuting}
}

type doneRecorder struct {
	mu      sync.Mutex
	results []bool
}

func (d *doneRecorder) fn(success bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.results = append(d.results, success)
}

func (d *doneRecorder) wait(t *testing.T) bool {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		d.mu.Lock()
		n := len(d.results)
		d.mu.Unlock()
		if n > 0 {
			d.mu.Lock()
			defer d.mu.Unlock()
			return d.results[0]
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("done callback never fired")
	return false
}

func (d *doneRecorder) count() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.results)
}

func TestOpenNotConfigured(t *testing.T) {
	r := NewProcessRunner(nil, nil)
	if _, err := r.Open(context.Background(), sessionTask(), nil); !errors.Is(err, ErrNotConfigured) {
		t.Fatalf("Open: got %v, want ErrNotConfigured", err)
	}
}

func TestCleanExitReportsSuccess(t *testing.T) {
	r := shellRunner(`read line; exit 0`)
	var d doneRecorder

	if _, err := r.Open(context.Background(), sessionTask(), d.fn); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !d.wait(t) {
		t.Error("clean exit should report success")
	}
}

func TestNonZeroExitReportsFailure(t *testing.T) {
	r := shellRunner(`read line; exit 3`)
	var d doneRecorder

	if _, err := r.Open(context.Background(), sessionTask(), d.fn); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.wait(t) {
		t.Error("non-zero exit should report failure")
	}
}

func TestResultLineOverridesExitCode(t *testing.T) {
	r := shellRunner(`read line; echo '{"type":"result","success":false}'; exit 0`)
	var d doneRecorder

	if _, err := r.Open(context.Background(), sessionTask(), d.fn); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if d.wait(t) {
		t.Error("explicit failure result should override a clean exit")
	}
}

func TestTranscriptReported(t *testing.T) {
	r := shellRunner(`read line; echo '{"type":"transcript","transcript_id":"tr_42"}'; exit 0`)

	type report struct{ workspaceID, taskID, transcriptID string }
	got := make(chan report, 1)
	r.OnTranscript = func(workspaceID, taskID, transcriptID string) {
		got <- report{workspaceID, taskID, transcriptID}
	}

	var d doneRecorder
	if _, err := r.Open(context.Background(), sessionTask(), d.fn); err != nil {
		t.Fatalf("Open: %v", err)
	}

	select {
	case rep := <-got:
		if rep.workspaceID != "ws_1" || rep.taskID != "task_1" || rep.transcriptID != "tr_42" {
			t.Errorf("transcript report: got %+v", rep)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("transcript never reported")
	}
	d.wait(t)
}

func TestNonControlOutputIgnored(t *testing.T) {
	r := shellRunner(`read line; echo "plain progress output"; echo "more text"; exit 0`)
	var d doneRecorder

	if _, err := r.Open(context.Background(), sessionTask(), d.fn); err != nil {
		t.Fatalf("Open: %v", err)
	}
	if !d.wait(t) {
		t.Error("plain output should not affect the outcome")
	}
}

func TestStopSuppressesDone(t *testing.T) {
	// exec replaces the shell so SIGTERM lands on the pipe's owner.
	r := shellRunner(`read line; exec sleep 30`)
	var d doneRecorder

	h, err := r.Open(context.Background(), sessionTask(), d.fn)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	if err := h.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}

	time.Sleep(200 * time.Millisecond)
	if d.count() != 0 {
		t.Error("done must not fire after Stop")
	}
}
