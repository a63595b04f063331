// Package workspaces provides the workspace model and its persistence.
// A workspace owns its tasks and carries per-workspace overrides of the
// global board configuration.
package workspaces

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-dev/flowline/internal/admission"
	"github.com/flowline-dev/flowline/internal/config"
)

// ErrNotFound is returned when a workspace does not exist.
var ErrNotFound = errors.New("workspace not found")

// Overrides holds the workspace-level configuration overrides. Nil fields
// fall back to the global defaults.
type Overrides struct {
	Limits             admission.Limits `json:"limits"`
	PromoteOnPlanReady *bool            `json:"promote_on_plan_ready,omitempty"`
	AutoExecute        *bool            `json:"auto_execute,omitempty"`
	QueueEnabled       *bool            `json:"queue_enabled,omitempty"`
}

// Workspace is the owner of a set of tasks and their scheduling policy.
type Workspace struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	RootPath  string    `json:"root_path,omitempty"`
	Overrides Overrides `json:"overrides"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Settings is the fully resolved, effective configuration for one
// workspace: global defaults with workspace overrides applied.
type Settings struct {
	Limits             admission.Limits
	PromoteOnPlanReady bool
	AutoExecute        bool
	QueueEnabled       bool
}

// Resolve applies o on top of the global board defaults.
func (o Overrides) Resolve(global config.BoardConfig) Settings {
	s := Settings{
		Limits:             global.Limits.Merge(o.Limits),
		PromoteOnPlanReady: global.Automation.PromoteOnPlanReady,
		AutoExecute:        global.Automation.AutoExecute,
		QueueEnabled:       global.QueueProcessingEnabled(),
	}
	if o.PromoteOnPlanReady != nil {
		s.PromoteOnPlanReady = *o.PromoteOnPlanReady
	}
	if o.AutoExecute != nil {
		s.AutoExecute = *o.AutoExecute
	}
	if o.QueueEnabled != nil {
		s.QueueEnabled = *o.QueueEnabled
	}
	return s
}

// GenerateID creates a unique workspace identifier.
func GenerateID() string {
	u := uuid.New().String()
	return "ws_" + strings.ReplaceAll(u[:8], "-", "")
}
