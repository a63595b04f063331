package heartbeat

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestWriteAndCheck(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	w := NewWriter(path, func() Stats {
		return Stats{Workspaces: 2, Tasks: 9, Executing: 1}
	})
	w.Start()
	defer w.Stop()

	status, hb, err := Check(path, time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusAlive {
		t.Errorf("status: got %s, want alive", status)
	}
	if hb == nil {
		t.Fatal("heartbeat is nil")
	}
	if hb.PID != os.Getpid() {
		t.Errorf("pid: got %d, want %d", hb.PID, os.Getpid())
	}
	if hb.Stats.Tasks != 9 || hb.Stats.Executing != 1 {
		t.Errorf("stats: got %+v", hb.Stats)
	}
}

func TestCheckStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	hb := Heartbeat{
		PID:       1234,
		StartedAt: time.Now().Add(-time.Hour),
		Timestamp: time.Now().Add(-10 * time.Minute),
	}
	data, _ := json.Marshal(hb)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatalf("write heartbeat: %v", err)
	}

	status, got, err := Check(path, 2*time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusStale {
		t.Errorf("status: got %s, want stale", status)
	}
	if got == nil || got.PID != 1234 {
		t.Error("stale heartbeat data should still be returned")
	}
}

func TestCheckMissingFile(t *testing.T) {
	status, hb, err := Check(filepath.Join(t.TempDir(), "nope.json"), time.Minute)
	if err != nil {
		t.Fatalf("Check: %v", err)
	}
	if status != StatusDead {
		t.Errorf("status: got %s, want dead", status)
	}
	if hb != nil {
		t.Error("no heartbeat data expected")
	}
}

func TestCheckCorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}

	status, _, err := Check(path, time.Minute)
	if err == nil {
		t.Fatal("expected error for corrupt heartbeat")
	}
	if status != StatusDead {
		t.Errorf("status: got %s, want dead", status)
	}
}

func TestStopRemovesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "heartbeat.json")

	w := NewWriter(path, nil)
	w.Start()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("heartbeat file after Start: %v", err)
	}

	w.Stop()
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("heartbeat file after Stop: %v", err)
	}

	// Stop again is a no-op.
	w.Stop()
}
