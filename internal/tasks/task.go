// Package tasks provides the persistent task model for the pipeline board.
package tasks

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// Priority is advisory metadata for humans; the queue manager schedules
// strictly FIFO by ready-phase order and never consults it.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityNormal Priority = "normal"
	PriorityHigh   Priority = "high"
)

// PlanningStatus tracks the state of plan generation for a task.
type PlanningStatus string

const (
	PlanningNone    PlanningStatus = ""
	PlanningRunning PlanningStatus = "running"
	PlanningReady   PlanningStatus = "ready"
	PlanningFailed  PlanningStatus = "failed"
)

// Criterion is a single acceptance criterion with its met/unmet flag.
type Criterion struct {
	ID   string `json:"id"`
	Text string `json:"text"`
	Met  bool   `json:"met"`
}

// QualityGate is a set of named boolean checks recorded on the task.
type QualityGate map[string]bool

// PlanStep is a single step in a generated plan.
type PlanStep struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`
}

// Plan is the generated execution plan for a task.
type Plan struct {
	Steps []PlanStep `json:"steps"`
}

// Task is a unit of work owned by exactly one workspace.
type Task struct {
	ID          string `json:"id"`
	WorkspaceID string `json:"workspace_id"`
	Title       string `json:"title"`
	Description string `json:"description,omitempty"`

	Phase Phase `json:"phase"`
	// Order is the task's position within its current phase. Moves append
	// (max+1); explicit reordering rewrites the whole phase.
	Order    int      `json:"order"`
	Priority Priority `json:"priority"`

	Criteria []Criterion `json:"criteria,omitempty"`
	Gate     QualityGate `json:"gate,omitempty"`

	Plan           *Plan          `json:"plan,omitempty"`
	PlanningStatus PlanningStatus `json:"planning_status,omitempty"`

	// TranscriptID references the task's conversation transcript with the
	// execution collaborator, if any.
	TranscriptID string `json:"transcript_id,omitempty"`

	Blocked       bool   `json:"blocked,omitempty"`
	BlockedReason string `json:"blocked_reason,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Note is a system annotation appended to a task's note log
// (session stops, recovery markers, QA resolutions).
type Note struct {
	Ts    time.Time `json:"ts"`
	Type  string    `json:"type"`
	Actor string    `json:"actor,omitempty"`
	Text  string    `json:"text"`
}

// GenerateID creates a unique task identifier.
func GenerateID() string {
	u := uuid.New().String()
	return "task_" + strings.ReplaceAll(u[:8], "-", "")
}
