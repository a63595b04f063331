package dirstore

import (
	"os"
	"testing"
)

type meta struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

type line struct {
	Text string `json:"text"`
}

func TestMetaRoundTrip(t *testing.T) {
	ds := New(t.TempDir(), "thing")

	if err := ds.EnsureDir("a", "nested", "b"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if err := ds.WriteMeta(meta{Name: "x", Count: 2}, "a", "nested", "b"); err != nil {
		t.Fatalf("WriteMeta: %v", err)
	}

	var got meta
	if err := ds.ReadMeta(&got, "a", "nested", "b"); err != nil {
		t.Fatalf("ReadMeta: %v", err)
	}
	if got.Name != "x" || got.Count != 2 {
		t.Errorf("meta: got %+v", got)
	}
}

func TestReadMetaMissing(t *testing.T) {
	ds := New(t.TempDir(), "thing")

	var got meta
	err := ds.ReadMeta(&got, "nope")
	if !os.IsNotExist(err) {
		t.Fatalf("expected os not-exist error, got %v", err)
	}
}

func TestExistsAndRemove(t *testing.T) {
	ds := New(t.TempDir(), "thing")

	if ds.Exists("a") {
		t.Error("Exists before create should be false")
	}
	if err := ds.EnsureDir("a"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}
	if !ds.Exists("a") {
		t.Error("Exists after create should be true")
	}
	if err := ds.RemoveDir("a"); err != nil {
		t.Fatalf("RemoveDir: %v", err)
	}
	if ds.Exists("a") {
		t.Error("Exists after remove should be false")
	}
}

func TestListDirs(t *testing.T) {
	ds := New(t.TempDir(), "thing")

	// Missing parent yields empty, not an error.
	names, err := ds.ListDirs("missing")
	if err != nil {
		t.Fatalf("ListDirs missing: %v", err)
	}
	if len(names) != 0 {
		t.Errorf("ListDirs missing: got %v, want empty", names)
	}

	for _, name := range []string{"one", "two"} {
		if err := ds.EnsureDir("parent", name); err != nil {
			t.Fatalf("EnsureDir: %v", err)
		}
	}
	// Plain files are not listed.
	if err := os.WriteFile(ds.Dir("parent")+"/stray.txt", []byte("x"), 0o644); err != nil {
		t.Fatalf("write stray: %v", err)
	}

	names, err = ds.ListDirs("parent")
	if err != nil {
		t.Fatalf("ListDirs: %v", err)
	}
	if len(names) != 2 {
		t.Errorf("ListDirs: got %v, want 2 dirs", names)
	}
}

func TestJSONLAppendLoad(t *testing.T) {
	ds := New(t.TempDir(), "thing")
	if err := ds.EnsureDir("a"); err != nil {
		t.Fatalf("EnsureDir: %v", err)
	}

	for _, text := range []string{"first", "second", "third"} {
		if err := ds.AppendJSONL(line{Text: text}, "a", "log.jsonl"); err != nil {
			t.Fatalf("AppendJSONL: %v", err)
		}
	}

	items, err := LoadJSONL[line](ds, "a", "log.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items: got %d, want 3", len(items))
	}
	if items[0].Text != "first" || items[2].Text != "third" {
		t.Errorf("items out of order: %v", items)
	}

	// Missing files load as empty.
	empty, err := LoadJSONL[line](ds, "a", "missing.jsonl")
	if err != nil {
		t.Fatalf("LoadJSONL missing: %v", err)
	}
	if len(empty) != 0 {
		t.Errorf("expected empty load, got %v", empty)
	}
}
