package tasks

import (
	"errors"
	"fmt"
)

// ErrInvalidTransition is returned when a move fails a structural precondition.
var ErrInvalidTransition = errors.New("invalid transition")

// Phase is one of the five pipeline states a task occupies.
type Phase string

const (
	PhaseBacklog   Phase = "backlog"
	PhaseReady     Phase = "ready"
	PhaseExecuting Phase = "executing"
	PhaseComplete  Phase = "complete"
	PhaseArchived  Phase = "archived"
)

// pipeline lists the phases in forward order. Archived is a terminal sink
// reachable from any phase; the ordering only matters for deciding whether
// a move counts as forward or backward.
var pipeline = []Phase{PhaseBacklog, PhaseReady, PhaseExecuting, PhaseComplete, PhaseArchived}

// Phases returns all phases in pipeline order.
func Phases() []Phase {
	out := make([]Phase, len(pipeline))
	copy(out, pipeline)
	return out
}

// Valid reports whether p is one of the five pipeline phases.
func (p Phase) Valid() bool {
	for _, q := range pipeline {
		if p == q {
			return true
		}
	}
	return false
}

// Index returns p's position in the pipeline, or -1 for unknown phases.
func (p Phase) Index() int {
	for i, q := range pipeline {
		if p == q {
			return i
		}
	}
	return -1
}

// IsBackward reports whether moving from → to is a rework move.
func IsBackward(from, to Phase) bool {
	return to.Index() < from.Index()
}

// ValidateMove checks the structural preconditions for moving t to target.
// It does not consult capacity; that is the admission controller's job.
func ValidateMove(t *Task, target Phase) error {
	if !target.Valid() {
		return fmt.Errorf("%w: unknown phase %q", ErrInvalidTransition, target)
	}
	if target == PhaseExecuting && target != t.Phase {
		if t.Plan == nil || len(t.Plan.Steps) == 0 {
			return fmt.Errorf("%w: task %s has no plan", ErrInvalidTransition, t.ID)
		}
		if t.Blocked {
			return fmt.Errorf("%w: task %s is blocked: %s", ErrInvalidTransition, t.ID, t.BlockedReason)
		}
	}
	return nil
}
