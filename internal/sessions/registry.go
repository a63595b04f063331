package sessions

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowline-dev/flowline/internal/events"
	"github.com/flowline-dev/flowline/internal/tasks"
)

var (
	// ErrAlreadyRunning is returned by Start when a live session exists.
	ErrAlreadyRunning = errors.New("session already running")
	// ErrSessionNotFound is returned when no live session exists for a task.
	ErrSessionNotFound = errors.New("no live session")
	// ErrNotIdle is returned by FollowUp when the session is mid-turn.
	ErrNotIdle = errors.New("session is not idle")
)

// Status represents the lifecycle state of an agent session.
type Status string

const (
	StatusIdle      Status = "idle"
	StatusRunning   Status = "running"
	StatusPaused    Status = "paused"
	StatusCompleted Status = "completed"
	StatusError     Status = "error"
)

// live statuses still own the task's instruction stream.
func (s Status) live() bool {
	return s == StatusIdle || s == StatusRunning || s == StatusPaused
}

// Session is the externally visible state of one registry entry.
type Session struct {
	TaskID      string     `json:"task_id"`
	WorkspaceID string     `json:"workspace_id"`
	Status      Status     `json:"status"`
	StartedAt   time.Time  `json:"started_at"`
	EndedAt     *time.Time `json:"ended_at,omitempty"`
}

type entry struct {
	Session
	handle Handle
	// conversational sessions go idle on completion instead of completed,
	// so follow-up turns can be delivered.
	conversational bool
	done           func(success bool)
	// ready closes once the collaborator open settles (handle attached or
	// the slot released). Stop waits on it so it can never slip through
	// the reserve/attach window and orphan a live collaborator.
	ready    chan struct{}
	stopOnce sync.Once
	stopped  chan struct{}
}

// Registry holds at most one entry per task and serializes all access to
// the execution collaborator. It is the single-writer boundary for a
// task's instruction stream.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	runner  Runner
	bus     *events.Bus
}

// NewRegistry creates a Registry backed by the given collaborator runner.
func NewRegistry(runner Runner, bus *events.Bus) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		runner:  runner,
		bus:     bus,
	}
}

// Start opens a fresh execution session for t. It fails with
// ErrAlreadyRunning if a live session exists. done fires asynchronously
// when the collaborator reports completion; on success the caller is
// expected to advance the task, on failure the task stays in executing
// with the entry marked error for manual intervention.
func (r *Registry) Start(ctx context.Context, t *tasks.Task, done func(success bool)) error {
	e, err := r.reserve(t, false, done)
	if err != nil {
		return err
	}

	h, err := r.runner.Open(ctx, t, func(ok bool) { r.finish(t.ID, ok) })
	if err != nil {
		r.release(e)
		return fmt.Errorf("open session: %w", err)
	}

	r.attach(e, h)
	r.publishStatus(t.WorkspaceID, t.ID, StatusRunning, "")
	return nil
}

// Steer delivers an interrupt with new instructions to a running session.
// It returns false when no running session exists; callers fall back to
// FollowUp or a fresh conversational session.
func (r *Registry) Steer(ctx context.Context, taskID string, msg Message) bool {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	if !ok || e.Status != StatusRunning || e.handle == nil {
		r.mu.Unlock()
		return false
	}
	h := e.handle
	r.mu.Unlock()

	if err := h.Interrupt(ctx, msg); err != nil {
		slog.Warn("steer failed", "task_id", taskID, "error", err)
		return false
	}
	return true
}

// FollowUp delivers the next conversational turn to an idle session.
func (r *Registry) FollowUp(ctx context.Context, taskID string, msg Message) error {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	if !ok || !e.Status.live() {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s", ErrSessionNotFound, taskID)
	}
	if e.Status != StatusIdle {
		r.mu.Unlock()
		return fmt.Errorf("%w: task %s is %s", ErrNotIdle, taskID, e.Status)
	}
	e.Status = StatusRunning
	h := e.handle
	wsID := e.WorkspaceID
	r.mu.Unlock()

	if err := h.Deliver(ctx, msg); err != nil {
		// No turn is in flight; put the session back so the next
		// follow-up is not rejected as mid-turn.
		r.mu.Lock()
		if cur, ok := r.entries[taskID]; ok && cur == e && cur.Status == StatusRunning {
			cur.Status = StatusIdle
		}
		r.mu.Unlock()
		return fmt.Errorf("deliver follow-up: %w", err)
	}
	r.publishStatus(wsID, taskID, StatusRunning, "")
	return nil
}

// ResumeOrStart opens a conversational session for chat outside the
// executing phase. If the task has a prior transcript it is reopened and
// msg delivered as a continuation; otherwise a fresh session is opened.
// An existing idle session just receives the message as a follow-up.
func (r *Registry) ResumeOrStart(ctx context.Context, t *tasks.Task, msg Message) error {
	r.mu.Lock()
	if e, ok := r.entries[t.ID]; ok && e.Status.live() {
		idle := e.Status == StatusIdle
		r.mu.Unlock()
		if idle {
			return r.FollowUp(ctx, t.ID, msg)
		}
		return fmt.Errorf("%w: task %s", ErrAlreadyRunning, t.ID)
	}
	r.mu.Unlock()

	e, err := r.reserve(t, true, nil)
	if err != nil {
		return err
	}

	var h Handle
	doneFn := func(ok bool) { r.finish(t.ID, ok) }
	if t.TranscriptID != "" {
		h, err = r.runner.Resume(ctx, t, t.TranscriptID, doneFn)
	} else {
		h, err = r.runner.Open(ctx, t, doneFn)
	}
	if err != nil {
		r.release(e)
		return fmt.Errorf("open session: %w", err)
	}

	r.attach(e, h)

	if err := h.Deliver(ctx, msg); err != nil {
		return fmt.Errorf("deliver message: %w", err)
	}
	r.publishStatus(t.WorkspaceID, t.ID, StatusRunning, "")
	return nil
}

// Stop gracefully terminates a task's session and removes the registry
// entry. It returns false when no session exists and is safe to call
// redundantly; concurrent callers wait for the in-flight stop to finish.
// Callers must not consider a move out of executing complete until Stop
// has returned.
func (r *Registry) Stop(ctx context.Context, taskID string) (bool, error) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	r.mu.Unlock()
	if !ok {
		return false, nil
	}

	// An in-flight open must settle first, otherwise the stop would miss
	// the collaborator the open is about to hand back.
	select {
	case <-e.ready:
	case <-ctx.Done():
		return true, ctx.Err()
	}

	var stopErr error
	e.stopOnce.Do(func() {
		r.mu.Lock()
		h := e.handle
		r.mu.Unlock()
		if h != nil {
			stopErr = h.Stop(ctx)
		}
		r.mu.Lock()
		if cur, ok := r.entries[taskID]; ok && cur == e {
			delete(r.entries, taskID)
		}
		r.mu.Unlock()
		close(e.stopped)
		r.publishStatus(e.WorkspaceID, taskID, Status("stopped"), "")
	})
	<-e.stopped

	return true, stopErr
}

// Status returns the session status for a task, if any entry exists.
func (r *Registry) Status(taskID string) (Status, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	if !ok {
		return "", false
	}
	return e.Status, true
}

// Live reports whether a live session owns the task's instruction stream.
func (r *Registry) Live(taskID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.entries[taskID]
	return ok && e.Status.live()
}

// List returns a snapshot of all registry entries.
func (r *Registry) List() []Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Session, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e.Session)
	}
	return out
}

// StopAll stops every session belonging to the given workspace.
func (r *Registry) StopAll(ctx context.Context, workspaceID string) {
	r.mu.Lock()
	var ids []string
	for id, e := range r.entries {
		if e.WorkspaceID == workspaceID {
			ids = append(ids, id)
		}
	}
	r.mu.Unlock()

	for _, id := range ids {
		if _, err := r.Stop(ctx, id); err != nil {
			slog.Warn("stop session", "task_id", id, "error", err)
		}
	}
}

// reserve claims the task's registry slot before the collaborator is
// opened, so concurrent starts can never double-open.
func (r *Registry) reserve(t *tasks.Task, conversational bool, done func(success bool)) (*entry, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if e, ok := r.entries[t.ID]; ok && e.Status.live() {
		return nil, fmt.Errorf("%w: task %s", ErrAlreadyRunning, t.ID)
	}

	e := &entry{
		Session: Session{
			TaskID:      t.ID,
			WorkspaceID: t.WorkspaceID,
			Status:      StatusRunning,
			StartedAt:   time.Now(),
		},
		conversational: conversational,
		done:           done,
		ready:          make(chan struct{}),
		stopped:        make(chan struct{}),
	}
	r.entries[t.ID] = e
	return e, nil
}

func (r *Registry) release(e *entry) {
	r.mu.Lock()
	if cur, ok := r.entries[e.TaskID]; ok && cur == e {
		delete(r.entries, e.TaskID)
	}
	r.mu.Unlock()
	close(e.ready)
}

func (r *Registry) attach(e *entry, h Handle) {
	r.mu.Lock()
	e.handle = h
	r.mu.Unlock()
	close(e.ready)
}

// finish records the collaborator's completion signal. The caller-supplied
// done callback runs on its own goroutine so it can take board locks.
func (r *Registry) finish(taskID string, success bool) {
	r.mu.Lock()
	e, ok := r.entries[taskID]
	if !ok {
		r.mu.Unlock()
		return
	}

	var st Status
	switch {
	case success && e.conversational:
		st = StatusIdle
	case success:
		st = StatusCompleted
	default:
		st = StatusError
	}
	e.Status = st
	if st != StatusIdle {
		now := time.Now()
		e.EndedAt = &now
	}
	cb := e.done
	wsID := e.WorkspaceID
	r.mu.Unlock()

	errMsg := ""
	if st == StatusError {
		errMsg = "collaborator reported failure"
	}
	r.publishStatus(wsID, taskID, st, errMsg)

	if cb != nil {
		go cb(success)
	}
}

func (r *Registry) publishStatus(workspaceID, taskID string, st Status, errMsg string) {
	if r.bus == nil {
		return
	}
	r.bus.Publish(events.NewTypedEvent(events.SourceSession, workspaceID, events.SessionStatusPayload{
		TaskID: taskID,
		Status: string(st),
		Error:  errMsg,
	}))
}
