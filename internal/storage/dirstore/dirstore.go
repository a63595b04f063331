// Package dirstore provides common primitives for directory-based file
// stores. Each entity gets its own directory with a meta.json plus optional
// companion files. Entity paths may be nested (e.g. a task directory under
// its workspace), so all path arguments are variadic element lists.
package dirstore

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// DirStore provides locked access to a tree of entity directories.
type DirStore struct {
	mu         sync.RWMutex
	baseDir    string
	entityName string // for error messages: "workspace", "task"
}

// New creates a DirStore rooted at baseDir.
func New(baseDir, entityName string) *DirStore {
	return &DirStore{baseDir: baseDir, entityName: entityName}
}

// Lock acquires an exclusive lock.
func (ds *DirStore) Lock() { ds.mu.Lock() }

// Unlock releases an exclusive lock.
func (ds *DirStore) Unlock() { ds.mu.Unlock() }

// RLock acquires a shared read lock.
func (ds *DirStore) RLock() { ds.mu.RLock() }

// RUnlock releases a shared read lock.
func (ds *DirStore) RUnlock() { ds.mu.RUnlock() }

// Dir returns the directory path for the given entity path elements.
func (ds *DirStore) Dir(elem ...string) string {
	return filepath.Join(append([]string{ds.baseDir}, elem...)...)
}

// EnsureDir creates the entity directory (and parents) if it doesn't exist.
func (ds *DirStore) EnsureDir(elem ...string) error {
	if err := os.MkdirAll(ds.Dir(elem...), 0o755); err != nil {
		return fmt.Errorf("create %s dir: %w", ds.entityName, err)
	}
	return nil
}

// RemoveDir removes the entity directory and all its contents.
func (ds *DirStore) RemoveDir(elem ...string) error {
	return os.RemoveAll(ds.Dir(elem...))
}

// Exists reports whether the entity directory is present.
func (ds *DirStore) Exists(elem ...string) bool {
	info, err := os.Stat(ds.Dir(elem...))
	return err == nil && info.IsDir()
}

// ListDirs returns the names of all subdirectories under the given path.
func (ds *DirStore) ListDirs(elem ...string) ([]string, error) {
	entries, err := os.ReadDir(ds.Dir(elem...))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("list %ss dir: %w", ds.entityName, err)
	}

	var names []string
	for _, entry := range entries {
		if entry.IsDir() {
			names = append(names, entry.Name())
		}
	}
	return names, nil
}

// WriteMeta atomically writes meta.json using a temp file + rename.
func (ds *DirStore) WriteMeta(v any, elem ...string) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal meta: %w", err)
	}

	path := filepath.Join(ds.Dir(elem...), "meta.json")
	tmp := path + ".tmp"

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write meta tmp: %w", err)
	}

	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename meta: %w", err)
	}

	return nil
}

// ReadMeta reads and unmarshals meta.json into out. A missing entity is
// reported as the raw os.ErrNotExist so callers can map it to their own
// not-found sentinel.
func (ds *DirStore) ReadMeta(out any, elem ...string) error {
	data, err := os.ReadFile(filepath.Join(ds.Dir(elem...), "meta.json"))
	if err != nil {
		if os.IsNotExist(err) {
			return err
		}
		return fmt.Errorf("read meta: %w", err)
	}

	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("unmarshal meta: %w", err)
	}

	return nil
}

// AppendJSONL appends a JSON-encoded line to a named file inside an entity
// directory. The last path element is the file name.
func (ds *DirStore) AppendJSONL(v any, elem ...string) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal line: %w", err)
	}

	path := ds.Dir(elem...)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	if _, err := f.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(path), err)
	}

	return nil
}

// LoadJSONL reads all JSON lines from a file, deserializing each into T.
// Missing files yield an empty slice; corrupted lines are skipped.
func LoadJSONL[T any](ds *DirStore, elem ...string) ([]T, error) {
	path := ds.Dir(elem...)
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("open %s: %w", filepath.Base(path), err)
	}
	defer f.Close()

	var items []T
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var item T
		if err := json.Unmarshal(line, &item); err != nil {
			continue
		}
		items = append(items, item)
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan %s: %w", filepath.Base(path), err)
	}

	return items, nil
}
