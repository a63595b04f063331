package collab

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/exec"

	"github.com/flowline-dev/flowline/internal/planning"
	"github.com/flowline-dev/flowline/internal/tasks"
)

// ProcessPlanner generates plans by running the configured command once
// per request: task JSON on stdin, plan JSON on stdout.
type ProcessPlanner struct {
	command []string
}

// NewProcessPlanner creates a planner for the given command line.
func NewProcessPlanner(command []string) *ProcessPlanner {
	return &ProcessPlanner{command: command}
}

// Plan runs the planning collaborator and decodes its output. A non-zero
// exit or malformed output is a planning failure, not a crash.
func (p *ProcessPlanner) Plan(ctx context.Context, t *tasks.Task) (*tasks.Plan, error) {
	if len(p.command) == 0 {
		return nil, ErrNotConfigured
	}

	input, err := json.Marshal(t)
	if err != nil {
		return nil, fmt.Errorf("marshal task: %w", err)
	}

	cmd := exec.CommandContext(ctx, p.command[0], p.command[1:]...)
	cmd.Stdin = bytes.NewReader(input)
	cmd.Stderr = os.Stderr

	out, err := cmd.Output()
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("planning collaborator: %w", err)
	}

	var plan tasks.Plan
	if err := json.Unmarshal(out, &plan); err != nil {
		return nil, fmt.Errorf("decode plan: %w", err)
	}
	if len(plan.Steps) == 0 {
		return nil, fmt.Errorf("planning collaborator returned an empty plan")
	}
	return &plan, nil
}

var _ planning.Planner = (*ProcessPlanner)(nil)
