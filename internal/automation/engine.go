// Package automation reacts to board events with configured triggers.
// Triggers are best-effort: a denied move is absorbed, never queued.
package automation

import (
	"context"
	"errors"
	"log/slog"

	"github.com/flowline-dev/flowline/internal/admission"
	"github.com/flowline-dev/flowline/internal/events"
	"github.com/flowline-dev/flowline/internal/tasks"
	"github.com/flowline-dev/flowline/internal/workspaces"
)

// Mover moves tasks between phases. Satisfied by the scheduler.
type Mover interface {
	Move(ctx context.Context, workspaceID, taskID string, target tasks.Phase, actor, reason string) error
}

// SettingsSource resolves effective per-workspace settings.
type SettingsSource interface {
	Settings(workspaceID string) (workspaces.Settings, error)
}

// Engine subscribes to board events and fires automation triggers.
type Engine struct {
	mover       Mover
	settings    SettingsSource
	bus         *events.Bus
	unsubscribe func()
}

// NewEngine creates an automation engine over the given bus.
func NewEngine(mover Mover, settings SettingsSource, bus *events.Bus) *Engine {
	return &Engine{mover: mover, settings: settings, bus: bus}
}

// Start subscribes the engine's triggers.
func (e *Engine) Start() {
	e.unsubscribe = e.bus.Subscribe(e.onPlanReady, events.EventPlanReady)
}

// Close unsubscribes all triggers.
func (e *Engine) Close() {
	if e.unsubscribe != nil {
		e.unsubscribe()
		e.unsubscribe = nil
	}
}

// onPlanReady promotes a backlog task to ready once its plan lands, when
// the workspace has the trigger enabled. Only backlog tasks are promoted:
// a task already moved elsewhere is left alone.
func (e *Engine) onPlanReady(ev events.Event) {
	payload, ok := events.ExtractPayload[events.PlanReadyPayload](ev)
	if !ok {
		return
	}
	if payload.Phase != string(tasks.PhaseBacklog) {
		return
	}

	settings, err := e.settings.Settings(ev.WorkspaceID)
	if err != nil {
		slog.Warn("automation: resolve settings", "workspace_id", ev.WorkspaceID, "error", err)
		return
	}
	if !settings.PromoteOnPlanReady {
		return
	}

	// Bus handlers must not block; the move takes the workspace lock.
	go e.promote(ev.WorkspaceID, payload.TaskID)
}

func (e *Engine) promote(workspaceID, taskID string) {
	err := e.mover.Move(context.Background(), workspaceID, taskID, tasks.PhaseReady, "system", "plan ready")
	switch {
	case err == nil:
	case errors.Is(err, admission.ErrCapacityExceeded):
		slog.Debug("automation: promotion denied by capacity", "task_id", taskID)
	case errors.Is(err, tasks.ErrNotFound):
		slog.Debug("automation: task gone before promotion", "task_id", taskID)
	default:
		slog.Warn("automation: promote on plan ready", "task_id", taskID, "error", err)
	}
}
