package workspaces

import (
	"fmt"
	"os"
	"sort"
	"time"

	"github.com/flowline-dev/flowline/internal/storage/dirstore"
)

// Store defines the persistence interface for workspaces.
type Store interface {
	Create(ws *Workspace) error
	Get(id string) (*Workspace, error)
	List() ([]*Workspace, error)
	Update(ws *Workspace) error
	Delete(id string) error
}

// FileStore persists workspaces as <base>/<id>/meta.json. Task data lives
// under the same directory tree (<base>/<id>/tasks/), so deleting a
// workspace directory removes its task records with it.
type FileStore struct {
	ds *dirstore.DirStore
}

// NewFileStore creates a FileStore rooted at baseDir.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{ds: dirstore.New(baseDir, "workspace")}
}

// Create persists a new workspace.
func (fs *FileStore) Create(ws *Workspace) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if ws.ID == "" {
		ws.ID = GenerateID()
	}

	now := time.Now()
	ws.CreatedAt = now
	ws.UpdatedAt = now

	if err := fs.ds.EnsureDir(ws.ID); err != nil {
		return err
	}
	return fs.ds.WriteMeta(ws, ws.ID)
}

// Get reads a workspace by ID.
func (fs *FileStore) Get(id string) (*Workspace, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	var ws Workspace
	if err := fs.ds.ReadMeta(&ws, id); err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, err
	}
	return &ws, nil
}

// List returns all workspaces sorted by name.
func (fs *FileStore) List() ([]*Workspace, error) {
	fs.ds.RLock()
	defer fs.ds.RUnlock()

	ids, err := fs.ds.ListDirs()
	if err != nil {
		return nil, err
	}

	var out []*Workspace
	for _, id := range ids {
		var ws Workspace
		if err := fs.ds.ReadMeta(&ws, id); err != nil {
			continue // skip corrupted workspaces
		}
		out = append(out, &ws)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

// Update rewrites workspace metadata.
func (fs *FileStore) Update(ws *Workspace) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if !fs.ds.Exists(ws.ID) {
		return fmt.Errorf("%w: %s", ErrNotFound, ws.ID)
	}
	ws.UpdatedAt = time.Now()
	return fs.ds.WriteMeta(ws, ws.ID)
}

// Delete removes the workspace directory, cascading to its task records.
func (fs *FileStore) Delete(id string) error {
	fs.ds.Lock()
	defer fs.ds.Unlock()

	if !fs.ds.Exists(id) {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fs.ds.RemoveDir(id)
}
