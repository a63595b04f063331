package tasks

import "errors"

// ErrNotFound is returned when a task does not exist.
var ErrNotFound = errors.New("task not found")

// ListFilter defines criteria for filtering task lists.
type ListFilter struct {
	WorkspaceID    string
	Phase          Phase
	PlanningStatus PlanningStatus
}

// Store defines the persistence interface for tasks. All board components
// mutate tasks through the same read-modify-write path on this interface.
type Store interface {
	Create(t *Task) error
	Get(workspaceID, id string) (*Task, error)
	List(filter ListFilter) ([]*Task, error)
	Update(t *Task) error
	Delete(workspaceID, id string) error
	AppendNote(workspaceID, taskID string, n Note) error
	LoadNotes(workspaceID, taskID string) ([]Note, error)
}
