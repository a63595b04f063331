// Package admission enforces per-phase work-in-progress limits. The check
// is a pure function of the resolved limits, the current phase populations,
// and the target phase; it holds no state of its own.
package admission

import (
	"errors"
	"fmt"

	"github.com/flowline-dev/flowline/internal/tasks"
)

// ErrCapacityExceeded is returned when a move would push a phase past its
// configured WIP limit.
var ErrCapacityExceeded = errors.New("phase capacity exceeded")

// Limits holds per-phase WIP limits. A nil entry means unlimited.
// The archived phase is never limited.
type Limits struct {
	Backlog   *int `json:"backlog,omitempty"`
	Ready     *int `json:"ready,omitempty"`
	Executing *int `json:"executing,omitempty"`
	Complete  *int `json:"complete,omitempty"`
}

// For returns the limit for a phase, or nil if the phase is unlimited.
func (l Limits) For(p tasks.Phase) *int {
	switch p {
	case tasks.PhaseBacklog:
		return l.Backlog
	case tasks.PhaseReady:
		return l.Ready
	case tasks.PhaseExecuting:
		return l.Executing
	case tasks.PhaseComplete:
		return l.Complete
	default:
		return nil
	}
}

// Merge returns l with any non-nil override fields applied on top.
// Resolution is "workspace value if present, else global default".
func (l Limits) Merge(override Limits) Limits {
	out := l
	if override.Backlog != nil {
		out.Backlog = override.Backlog
	}
	if override.Ready != nil {
		out.Ready = override.Ready
	}
	if override.Executing != nil {
		out.Executing = override.Executing
	}
	if override.Complete != nil {
		out.Complete = override.Complete
	}
	return out
}

// Check allows or denies admitting one more task into target. Callers must
// skip the check entirely when the task is already in the target phase — a
// move that does not grow the phase population never triggers denial.
func Check(l Limits, counts map[tasks.Phase]int, target tasks.Phase) error {
	limit := l.For(target)
	if limit == nil {
		return nil
	}
	if counts[target] >= *limit {
		return fmt.Errorf("%w: phase %q is at its limit of %d", ErrCapacityExceeded, target, *limit)
	}
	return nil
}
