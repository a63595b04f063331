package tasks

import (
	"errors"
	"testing"
)

func TestPhaseOrdering(t *testing.T) {
	phases := Phases()
	if len(phases) != 5 {
		t.Fatalf("phases: got %d, want 5", len(phases))
	}
	if phases[0] != PhaseBacklog || phases[4] != PhaseArchived {
		t.Errorf("unexpected pipeline order: %v", phases)
	}

	if !IsBackward(PhaseExecuting, PhaseReady) {
		t.Error("executing -> ready should be backward")
	}
	if IsBackward(PhaseReady, PhaseExecuting) {
		t.Error("ready -> executing should not be backward")
	}
	if IsBackward(PhaseComplete, PhaseArchived) {
		t.Error("complete -> archived should not be backward")
	}
}

func TestPhaseValid(t *testing.T) {
	for _, p := range Phases() {
		if !p.Valid() {
			t.Errorf("%s should be valid", p)
		}
	}
	if Phase("doing").Valid() {
		t.Error("unknown phase should be invalid")
	}
}

func TestValidateMoveRequiresPlan(t *testing.T) {
	task := &Task{ID: "task_1", Phase: PhaseReady}

	err := ValidateMove(task, PhaseExecuting)
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition without plan, got %v", err)
	}

	task.Plan = &Plan{Steps: []PlanStep{{ID: "s1", Title: "do it"}}}
	if err := ValidateMove(task, PhaseExecuting); err != nil {
		t.Fatalf("expected valid move with plan, got %v", err)
	}
}

func TestValidateMoveBlockedTask(t *testing.T) {
	task := &Task{
		ID:      "task_1",
		Phase:   PhaseReady,
		Plan:    &Plan{Steps: []PlanStep{{ID: "s1", Title: "step"}}},
		Blocked: true,
	}

	if err := ValidateMove(task, PhaseExecuting); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for blocked task, got %v", err)
	}

	// A blocked task can still move anywhere but executing.
	if err := ValidateMove(task, PhaseArchived); err != nil {
		t.Errorf("blocked task should archive: %v", err)
	}
}

func TestValidateMoveWithinExecuting(t *testing.T) {
	// A no-op move inside executing skips the plan gate: the task already
	// entered the phase.
	task := &Task{ID: "task_1", Phase: PhaseExecuting}
	if err := ValidateMove(task, PhaseExecuting); err != nil {
		t.Fatalf("re-move within executing should pass: %v", err)
	}
}

func TestValidateMoveUnknownPhase(t *testing.T) {
	task := &Task{ID: "task_1", Phase: PhaseBacklog}
	if err := ValidateMove(task, Phase("doing")); !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("expected ErrInvalidTransition for unknown phase, got %v", err)
	}
}
