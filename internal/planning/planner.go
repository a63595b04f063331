// Package planning defines the plan-generation collaborator boundary and
// helpers for recovering plan generation interrupted by a restart.
package planning

import (
	"context"

	"github.com/flowline-dev/flowline/internal/tasks"
)

// Planner produces an execution plan for a task. Implementations wrap the
// planning collaborator; the call may take minutes and must honor ctx.
type Planner interface {
	Plan(ctx context.Context, t *tasks.Task) (*tasks.Plan, error)
}

// InterruptedPlans returns tasks whose plan generation was in flight when
// the process last stopped: marked running but with no plan persisted.
// Completed and archived tasks are left alone.
func InterruptedPlans(list []*tasks.Task) []*tasks.Task {
	var out []*tasks.Task
	for _, t := range list {
		if t.PlanningStatus != tasks.PlanningRunning || t.Plan != nil {
			continue
		}
		if t.Phase == tasks.PhaseComplete || t.Phase == tasks.PhaseArchived {
			continue
		}
		out = append(out, t)
	}
	return out
}
