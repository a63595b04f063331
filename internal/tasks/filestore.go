package tasks

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/flowline-dev/flowline/internal/storage/dirstore"
)

// FileStore persists tasks as directories with meta.json + notes.jsonl,
// namespaced under their workspace: <base>/<workspace>/tasks/<task>/.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at baseDir (the workspaces root).
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.New(baseDir, "task")}
}

// Create persists a new task to disk.
func (fs *FileStore) Create(t *Task) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if t.ID == "" {
		t.ID = GenerateID()
	}
	if t.WorkspaceID == "" {
		return fmt.Errorf("task %s has no workspace", t.ID)
	}

	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now

	if err := fs.ds.EnsureDir(t.WorkspaceID, "tasks", t.ID); err != nil {
		return err
	}

	return fs.ds.WriteMeta(t, t.WorkspaceID, "tasks", t.ID)
}

// Get reads task metadata by workspace and ID.
func (fs *FileStore) Get(workspaceID, id string) (*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	return fs.read(workspaceID, id)
}

func (fs *FileStore) read(workspaceID, id string) (*Task, error) {
	var t Task
	if err := fs.ds.ReadMeta(&t, workspaceID, "tasks", id); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &t, nil
}

// List returns tasks matching the filter, sorted by phase order position.
func (fs *FileStore) List(filter ListFilter) ([]*Task, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	var workspaces []string
	if filter.WorkspaceID != "" {
		workspaces = []string{filter.WorkspaceID}
	} else {
		var err error
		workspaces, err = fs.ds.ListDirs()
		if err != nil {
			return nil, err
		}
	}

	var out []*Task
	for _, ws := range workspaces {
		ids, err := fs.ds.ListDirs(ws, "tasks")
		if err != nil {
			return nil, err
		}
		for _, id := range ids {
			t, err := fs.read(ws, id)
			if err != nil {
				continue // skip corrupted tasks
			}
			if filter.Phase != "" && t.Phase != filter.Phase {
				continue
			}
			if filter.PlanningStatus != "" && t.PlanningStatus != filter.PlanningStatus {
				continue
			}
			out = append(out, t)
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].Phase != out[j].Phase {
			return out[i].Phase.Index() < out[j].Phase.Index()
		}
		return out[i].Order < out[j].Order
	})

	return out, nil
}

// Update rewrites task metadata.
func (fs *FileStore) Update(t *Task) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if !fs.ds.Exists(t.WorkspaceID, "tasks", t.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, t.ID)
	}

	t.UpdatedAt = time.Now()
	return fs.ds.WriteMeta(t, t.WorkspaceID, "tasks", t.ID)
}

// Delete removes a task directory and everything in it.
func (fs *FileStore) Delete(workspaceID, id string) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if !fs.ds.Exists(workspaceID, "tasks", id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fs.ds.RemoveDir(workspaceID, "tasks", id)
}

// AppendNote appends a system note to the task's note log.
func (fs *FileStore) AppendNote(workspaceID, taskID string, n Note) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if !fs.ds.Exists(workspaceID, "tasks", taskID) {
		return fmt.Errorf("%w: %s", ErrNotFound, taskID)
	}
	return fs.ds.AppendJSONL(n, workspaceID, "tasks", taskID, "notes.jsonl")
}

// LoadNotes reads all notes for a task.
func (fs *FileStore) LoadNotes(workspaceID, taskID string) ([]Note, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	return dirstore.LoadJSONL[Note](fs.ds, workspaceID, "tasks", taskID, "notes.jsonl")
}
