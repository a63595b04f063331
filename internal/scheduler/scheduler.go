// Package scheduler is the board coordinator: it owns the per-workspace
// critical section, runs the event-driven queue manager that feeds
// executing from ready, and recovers interrupted work at startup.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/flowline-dev/flowline/internal/admission"
	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/events"
	"github.com/flowline-dev/flowline/internal/planning"
	"github.com/flowline-dev/flowline/internal/qa"
	"github.com/flowline-dev/flowline/internal/sessions"
	"github.com/flowline-dev/flowline/internal/tasks"
	"github.com/flowline-dev/flowline/internal/workspaces"
)

// scanInterval is the queue manager's safety-net wake-up. Normal operation
// is kick-driven; the ticker only catches missed wakeups.
const scanInterval = 5 * time.Second

// wsState holds the serialization point for one workspace. All board
// mutations for the workspace happen under mu, so validation, admission,
// session stop, store write, and event emission are a single atomic step
// from any observer's point of view.
type wsState struct {
	mu   sync.Mutex
	kick chan struct{} // cap 1, coalesced wakeups
	stop chan struct{}
}

// Scheduler coordinates task movement, the execution queue, and session
// lifecycle for all workspaces.
type Scheduler struct {
	store    tasks.Store
	wsStore  workspaces.Store
	registry *sessions.Registry
	bus      *events.Bus
	cfg      *config.Reloader
	planner  planning.Planner
	qa       *qa.Channel

	mu     sync.Mutex
	states map[string]*wsState

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a Scheduler. Call Start before use.
func New(store tasks.Store, wsStore workspaces.Store, registry *sessions.Registry, bus *events.Bus, cfg *config.Reloader, planner planning.Planner, qaCh *qa.Channel) *Scheduler {
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		store:    store,
		wsStore:  wsStore,
		registry: registry,
		bus:      bus,
		cfg:      cfg,
		planner:  planner,
		qa:       qaCh,
		states:   make(map[string]*wsState),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start spawns the per-workspace queue loops and runs crash recovery:
// executing tasks with no live session are annotated and flagged, and
// interrupted plan generation is restarted.
func (s *Scheduler) Start() error {
	wss, err := s.wsStore.List()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}

	for _, ws := range wss {
		s.ensureLoop(ws.ID)
	}

	s.recoverSessions()
	s.recoverPlans()

	for _, ws := range wss {
		s.Kick(ws.ID)
	}
	return nil
}

// Stop shuts down all queue loops and waits for them to exit. Live
// sessions are not stopped here; they are recovered on the next start.
func (s *Scheduler) Stop() {
	s.cancel()
	s.wg.Wait()
}

// Settings resolves the effective board configuration for a workspace.
func (s *Scheduler) Settings(workspaceID string) (workspaces.Settings, error) {
	ws, err := s.wsStore.Get(workspaceID)
	if err != nil {
		return workspaces.Settings{}, err
	}
	return ws.Overrides.Resolve(s.cfg.Current().Board), nil
}

// Kick wakes the workspace's queue loop. Multiple kicks while a scan is
// pending coalesce into one.
func (s *Scheduler) Kick(workspaceID string) {
	st := s.state(workspaceID)
	select {
	case st.kick <- struct{}{}:
	default:
	}
}

// KickAll wakes every known workspace loop, used after config reloads.
func (s *Scheduler) KickAll() {
	s.mu.Lock()
	ids := make([]string, 0, len(s.states))
	for id := range s.states {
		ids = append(ids, id)
	}
	s.mu.Unlock()
	for _, id := range ids {
		s.Kick(id)
	}
}

// =============================================================================
// TASK OPERATIONS
// =============================================================================

// CreateTask persists a new task in backlog (unless a phase is preset) at
// the end of its phase.
func (s *Scheduler) CreateTask(ctx context.Context, t *tasks.Task) error {
	st := s.state(t.WorkspaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if t.Phase == "" {
		t.Phase = tasks.PhaseBacklog
	}
	if !t.Phase.Valid() {
		return fmt.Errorf("%w: unknown phase %q", tasks.ErrInvalidTransition, t.Phase)
	}
	if t.Priority == "" {
		t.Priority = tasks.PriorityNormal
	}

	order, err := s.nextOrder(t.WorkspaceID, t.Phase)
	if err != nil {
		return err
	}
	t.Order = order

	if err := s.store.Create(t); err != nil {
		return err
	}

	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, t.WorkspaceID, events.TaskCreatedPayload{
		TaskID: t.ID,
		Title:  t.Title,
		Phase:  string(t.Phase),
	}))
	return nil
}

// Move transitions a task to target under the workspace critical section.
// Moving the last executing task out frees a slot, so the queue loop is
// kicked afterwards; the same goes for new arrivals in ready.
func (s *Scheduler) Move(ctx context.Context, workspaceID, taskID string, target tasks.Phase, actor, reason string) error {
	st := s.state(workspaceID)
	st.mu.Lock()
	from, err := s.moveLocked(ctx, workspaceID, taskID, target, actor, reason)
	st.mu.Unlock()
	if err != nil {
		return err
	}

	if target == tasks.PhaseReady || from == tasks.PhaseExecuting {
		s.Kick(workspaceID)
	}
	return nil
}

// moveLocked performs the move with st.mu held. Returns the phase the
// task came from. A move to the task's current phase is a no-op: it never
// consults admission and never rewrites order.
func (s *Scheduler) moveLocked(ctx context.Context, workspaceID, taskID string, target tasks.Phase, actor, reason string) (tasks.Phase, error) {
	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		return "", err
	}
	from := t.Phase

	if err := tasks.ValidateMove(t, target); err != nil {
		return from, err
	}
	if target == from {
		return from, nil
	}

	settings, err := s.Settings(workspaceID)
	if err != nil {
		return from, err
	}
	counts, err := s.phaseCounts(workspaceID)
	if err != nil {
		return from, err
	}
	if err := admission.Check(settings.Limits, counts, target); err != nil {
		return from, err
	}

	// Leaving executing means the session no longer owns the task. Stop
	// completes before the phase change is observable.
	if from == tasks.PhaseExecuting {
		stopped, err := s.registry.Stop(ctx, taskID)
		if err != nil {
			slog.Warn("stop session on move", "task_id", taskID, "error", err)
		}
		if stopped {
			note := tasks.Note{
				Ts:    time.Now(),
				Type:  "session.stopped",
				Actor: actor,
				Text:  fmt.Sprintf("session stopped: task moved to %s", target),
			}
			if err := s.store.AppendNote(workspaceID, taskID, note); err != nil {
				slog.Warn("append note", "task_id", taskID, "error", err)
			}
		}
	}

	order, err := s.nextOrder(workspaceID, target)
	if err != nil {
		return from, err
	}

	t.Phase = target
	t.Order = order
	if err := s.store.Update(t); err != nil {
		return from, err
	}

	src := events.SourceAPI
	if actor == "system" {
		src = events.SourceScheduler
	}
	s.bus.Publish(events.NewTypedEvent(src, workspaceID, events.TaskMovedPayload{
		TaskID: taskID,
		From:   string(from),
		To:     string(target),
		Actor:  actor,
		Reason: reason,
	}))

	if tasks.IsBackward(from, target) || target == tasks.PhaseExecuting {
		s.bus.Publish(events.NewTypedEvent(src, workspaceID, events.TaskSectionPayload{
			TaskID: taskID,
			Phase:  string(target),
		}))
	}
	return from, nil
}

// Reorder rewrites the order of every task in a phase. ids must be exactly
// the phase's current population.
func (s *Scheduler) Reorder(workspaceID string, phase tasks.Phase, ids []string) error {
	st := s.state(workspaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	current, err := s.store.List(tasks.ListFilter{WorkspaceID: workspaceID, Phase: phase})
	if err != nil {
		return err
	}
	if len(current) != len(ids) {
		return fmt.Errorf("reorder: got %d ids, phase %s has %d tasks", len(ids), phase, len(current))
	}
	byID := make(map[string]*tasks.Task, len(current))
	for _, t := range current {
		byID[t.ID] = t
	}
	for _, id := range ids {
		if _, ok := byID[id]; !ok {
			return fmt.Errorf("reorder: task %s is not in phase %s", id, phase)
		}
	}

	for i, id := range ids {
		t := byID[id]
		if t.Order == i {
			continue
		}
		t.Order = i
		if err := s.store.Update(t); err != nil {
			return err
		}
	}

	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, workspaceID, events.TaskReorderedPayload{
		Phase:   string(phase),
		TaskIDs: ids,
	}))
	return nil
}

// UpdateTask applies mutate to the task under the workspace lock and
// persists the result. fields names what changed, for observers.
func (s *Scheduler) UpdateTask(workspaceID, taskID string, fields []string, mutate func(*tasks.Task) error) error {
	st := s.state(workspaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		return err
	}
	if err := mutate(t); err != nil {
		return err
	}
	if err := s.store.Update(t); err != nil {
		return err
	}

	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, workspaceID, events.TaskUpdatedPayload{
		TaskID: taskID,
		Fields: fields,
	}))
	return nil
}

// DeleteTask stops any live session, removes the task, and frees its slot.
func (s *Scheduler) DeleteTask(ctx context.Context, workspaceID, taskID string) error {
	st := s.state(workspaceID)
	st.mu.Lock()

	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		st.mu.Unlock()
		return err
	}

	if _, err := s.registry.Stop(ctx, taskID); err != nil {
		slog.Warn("stop session on delete", "task_id", taskID, "error", err)
	}

	if err := s.store.Delete(workspaceID, taskID); err != nil {
		st.mu.Unlock()
		return err
	}

	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, workspaceID, events.TaskDeletedPayload{
		TaskID: taskID,
		Phase:  string(t.Phase),
	}))
	st.mu.Unlock()

	if t.Phase == tasks.PhaseExecuting {
		s.Kick(workspaceID)
	}
	return nil
}

// =============================================================================
// EXECUTION
// =============================================================================

// Execute manually moves a task into executing and opens its session,
// bypassing the queue. Unlike the autonomous path, a session conflict is
// surfaced to the caller.
func (s *Scheduler) Execute(ctx context.Context, workspaceID, taskID string) error {
	st := s.state(workspaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	if _, err := s.moveLocked(ctx, workspaceID, taskID, tasks.PhaseExecuting, "user", "manual execute"); err != nil {
		return err
	}
	return s.startLocked(ctx, workspaceID, taskID)
}

// startLocked opens the execution session for a task already in executing.
// Caller holds the workspace lock.
func (s *Scheduler) startLocked(ctx context.Context, workspaceID, taskID string) error {
	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		return err
	}
	return s.registry.Start(ctx, t, func(success bool) {
		s.onExecutionDone(workspaceID, taskID, success)
	})
}

// onExecutionDone handles the collaborator's completion signal. Success
// advances the task to complete (which stops the finished session and
// frees the slot); failure leaves the task in executing for a human, with
// a note, and is never retried autonomously.
func (s *Scheduler) onExecutionDone(workspaceID, taskID string, success bool) {
	ctx := s.ctx
	if success {
		if err := s.Move(ctx, workspaceID, taskID, tasks.PhaseComplete, "system", "execution finished"); err != nil {
			slog.Error("advance completed task", "task_id", taskID, "error", err)
		}
		return
	}

	note := tasks.Note{
		Ts:   time.Now(),
		Type: "execution.failed",
		Text: "execution session reported failure; task left in executing",
	}
	if err := s.store.AppendNote(workspaceID, taskID, note); err != nil {
		slog.Warn("append note", "task_id", taskID, "error", err)
	}
	slog.Warn("execution failed", "workspace_id", workspaceID, "task_id", taskID)
}

// StopTask stops a task's session without moving it.
func (s *Scheduler) StopTask(ctx context.Context, workspaceID, taskID string) (bool, error) {
	if _, err := s.store.Get(workspaceID, taskID); err != nil {
		return false, err
	}
	return s.registry.Stop(ctx, taskID)
}

// Steer injects new instructions into a task's running session.
func (s *Scheduler) Steer(ctx context.Context, workspaceID, taskID string, msg sessions.Message) (bool, error) {
	if _, err := s.store.Get(workspaceID, taskID); err != nil {
		return false, err
	}
	return s.registry.Steer(ctx, taskID, msg), nil
}

// FollowUp delivers the next conversational turn to an idle session.
func (s *Scheduler) FollowUp(ctx context.Context, workspaceID, taskID string, msg sessions.Message) error {
	if _, err := s.store.Get(workspaceID, taskID); err != nil {
		return err
	}
	return s.registry.FollowUp(ctx, taskID, msg)
}

// Chat opens or resumes a conversational session about a task outside the
// executing phase.
func (s *Scheduler) Chat(ctx context.Context, workspaceID, taskID string, msg sessions.Message) error {
	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		return err
	}
	return s.registry.ResumeOrStart(ctx, t, msg)
}

// =============================================================================
// PLANNING
// =============================================================================

// RequestPlan marks the task as planning and generates the plan in the
// background. The result lands via plan.ready or plan.failed.
func (s *Scheduler) RequestPlan(workspaceID, taskID string) error {
	st := s.state(workspaceID)
	st.mu.Lock()

	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		st.mu.Unlock()
		return err
	}
	if t.PlanningStatus == tasks.PlanningRunning {
		st.mu.Unlock()
		return fmt.Errorf("plan generation already running for task %s", taskID)
	}
	t.PlanningStatus = tasks.PlanningRunning
	if err := s.store.Update(t); err != nil {
		st.mu.Unlock()
		return err
	}
	st.mu.Unlock()

	s.wg.Add(1)
	go s.generatePlan(workspaceID, taskID)
	return nil
}

func (s *Scheduler) generatePlan(workspaceID, taskID string) {
	defer s.wg.Done()

	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		slog.Warn("plan: task vanished", "task_id", taskID, "error", err)
		return
	}

	plan, planErr := s.planner.Plan(s.ctx, t)

	st := s.state(workspaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	// Re-read: the task may have moved or changed while planning ran.
	t, err = s.store.Get(workspaceID, taskID)
	if err != nil {
		slog.Warn("plan: task vanished", "task_id", taskID, "error", err)
		return
	}

	if planErr != nil {
		t.PlanningStatus = tasks.PlanningFailed
		if err := s.store.Update(t); err != nil {
			slog.Error("save planning status", "task_id", taskID, "error", err)
		}
		s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, workspaceID, events.PlanFailedPayload{
			TaskID: taskID,
			Error:  planErr.Error(),
		}))
		slog.Warn("plan generation failed", "task_id", taskID, "error", planErr)
		return
	}

	t.Plan = plan
	t.PlanningStatus = tasks.PlanningReady
	if err := s.store.Update(t); err != nil {
		slog.Error("save plan", "task_id", taskID, "error", err)
		return
	}

	s.bus.Publish(events.NewTypedEvent(events.SourceScheduler, workspaceID, events.PlanReadyPayload{
		TaskID: taskID,
		Phase:  string(t.Phase),
		Steps:  len(plan.Steps),
	}))
}

// =============================================================================
// WORKSPACES
// =============================================================================

// CreateWorkspace persists a workspace and starts its queue loop.
func (s *Scheduler) CreateWorkspace(ws *workspaces.Workspace) error {
	if err := s.wsStore.Create(ws); err != nil {
		return err
	}
	s.ensureLoop(ws.ID)
	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, ws.ID, events.WorkspaceCreatedPayload{
		Name: ws.Name,
	}))
	return nil
}

// UpdateWorkspace applies mutate to the workspace under its lock and
// persists the result, so settings changes never interleave with a move
// or a queue scan in flight. fields names what changed, for observers.
func (s *Scheduler) UpdateWorkspace(workspaceID string, fields []string, mutate func(*workspaces.Workspace) error) (*workspaces.Workspace, error) {
	st := s.state(workspaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	ws, err := s.wsStore.Get(workspaceID)
	if err != nil {
		return nil, err
	}
	if err := mutate(ws); err != nil {
		return nil, err
	}
	if err := s.wsStore.Update(ws); err != nil {
		return nil, err
	}

	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, workspaceID, events.WorkspaceUpdatedPayload{
		Name:   ws.Name,
		Fields: fields,
	}))
	return ws, nil
}

// DeleteWorkspace stops everything the workspace owns, then removes it.
// Task records are cascaded by the store; a pending QA request is aborted
// so no collaborator is left waiting on a dead workspace.
func (s *Scheduler) DeleteWorkspace(ctx context.Context, workspaceID string) error {
	ws, err := s.wsStore.Get(workspaceID)
	if err != nil {
		return err
	}

	st := s.state(workspaceID)
	st.mu.Lock()
	defer st.mu.Unlock()

	s.registry.StopAll(ctx, workspaceID)
	if s.qa != nil {
		s.qa.AbortWorkspace(workspaceID)
	}

	if err := s.wsStore.Delete(workspaceID); err != nil {
		return err
	}

	s.mu.Lock()
	delete(s.states, workspaceID)
	s.mu.Unlock()
	if st.stop != nil {
		close(st.stop)
	}

	s.bus.Publish(events.NewTypedEvent(events.SourceAPI, workspaceID, events.WorkspaceDeletedPayload{
		Name: ws.Name,
	}))
	return nil
}

// =============================================================================
// QUEUE MANAGER
// =============================================================================

func (s *Scheduler) ensureLoop(workspaceID string) {
	st := s.state(workspaceID)

	s.mu.Lock()
	if st.stop == nil {
		st.stop = make(chan struct{})
		s.wg.Add(1)
		go s.runWorkspace(workspaceID, st)
	}
	s.mu.Unlock()
}

func (s *Scheduler) state(workspaceID string) *wsState {
	s.mu.Lock()
	defer s.mu.Unlock()
	st, ok := s.states[workspaceID]
	if !ok {
		st = &wsState{kick: make(chan struct{}, 1)}
		s.states[workspaceID] = st
	}
	return st
}

// runWorkspace is the workspace's queue loop: scan first, then sleep until
// kicked, so a wakeup sent while scanning is never lost.
func (s *Scheduler) runWorkspace(workspaceID string, st *wsState) {
	defer s.wg.Done()

	ticker := time.NewTicker(scanInterval)
	defer ticker.Stop()

	for {
		s.scan(workspaceID, st)

		select {
		case <-s.ctx.Done():
			return
		case <-st.stop:
			return
		case <-st.kick:
		case <-ticker.C:
		}
	}
}

// scan fills free executing slots from ready, strictly FIFO by order.
// It loops until the phase is full, ready is empty, or an error stops it.
func (s *Scheduler) scan(workspaceID string, st *wsState) {
	settings, err := s.Settings(workspaceID)
	if err != nil {
		if !errors.Is(err, workspaces.ErrNotFound) {
			slog.Warn("scan: resolve settings", "workspace_id", workspaceID, "error", err)
		}
		return
	}
	if !settings.QueueEnabled || !settings.AutoExecute {
		return
	}

	for {
		st.mu.Lock()

		list, err := s.store.List(tasks.ListFilter{WorkspaceID: workspaceID})
		if err != nil {
			st.mu.Unlock()
			slog.Warn("scan: list tasks", "workspace_id", workspaceID, "error", err)
			return
		}

		executing := 0
		var next *tasks.Task
		for _, t := range list {
			switch t.Phase {
			case tasks.PhaseExecuting:
				executing++
			case tasks.PhaseReady:
				if tasks.ValidateMove(t, tasks.PhaseExecuting) != nil {
					continue
				}
				if next == nil || t.Order < next.Order {
					next = t
				}
			}
		}

		limit := settings.Limits.For(tasks.PhaseExecuting)
		if next == nil || (limit != nil && executing >= *limit) {
			st.mu.Unlock()
			return
		}

		if _, err := s.moveLocked(s.ctx, workspaceID, next.ID, tasks.PhaseExecuting, "system", "queue"); err != nil {
			st.mu.Unlock()
			slog.Warn("scan: promote task", "task_id", next.ID, "error", err)
			return
		}

		if err := s.startLocked(s.ctx, workspaceID, next.ID); err != nil {
			if errors.Is(err, sessions.ErrAlreadyRunning) {
				// A conversational session owns the task. Leave it in
				// executing and retry on the next wakeup.
				st.mu.Unlock()
				slog.Info("scan: session already live", "task_id", next.ID)
				return
			}
			note := tasks.Note{
				Ts:   time.Now(),
				Type: "execution.failed",
				Text: fmt.Sprintf("failed to open session: %v", err),
			}
			if nerr := s.store.AppendNote(workspaceID, next.ID, note); nerr != nil {
				slog.Warn("append note", "task_id", next.ID, "error", nerr)
			}
			st.mu.Unlock()
			slog.Error("scan: open session", "task_id", next.ID, "error", err)
			return
		}

		st.mu.Unlock()
	}
}

// =============================================================================
// RECOVERY
// =============================================================================

// recoverSessions flags executing tasks that have no live session (the
// process died mid-execution). They stay in executing; a human decides
// whether to restart or move them back.
func (s *Scheduler) recoverSessions() {
	list, err := s.store.List(tasks.ListFilter{Phase: tasks.PhaseExecuting})
	if err != nil {
		slog.Error("recovery: list executing tasks", "error", err)
		return
	}

	for _, t := range list {
		if s.registry.Live(t.ID) {
			continue
		}
		note := tasks.Note{
			Ts:   time.Now(),
			Type: "session.lost",
			Text: "process restarted while task was executing; session lost",
		}
		if err := s.store.AppendNote(t.WorkspaceID, t.ID, note); err != nil {
			slog.Warn("recovery: append note", "task_id", t.ID, "error", err)
		}
		s.bus.Publish(events.NewTypedEvent(events.SourceSystem, t.WorkspaceID, events.SessionStatusPayload{
			TaskID: t.ID,
			Status: string(sessions.StatusError),
			Error:  "session lost across restart",
		}))
		slog.Warn("recovery: executing task has no session", "task_id", t.ID)
	}
}

// recoverPlans restarts plan generation that was interrupted by a restart.
func (s *Scheduler) recoverPlans() {
	list, err := s.store.List(tasks.ListFilter{PlanningStatus: tasks.PlanningRunning})
	if err != nil {
		slog.Error("recovery: list planning tasks", "error", err)
		return
	}

	for _, t := range planning.InterruptedPlans(list) {
		slog.Info("recovery: restarting plan generation", "task_id", t.ID)
		s.wg.Add(1)
		go s.generatePlan(t.WorkspaceID, t.ID)
	}
}

// =============================================================================
// HELPERS
// =============================================================================

func (s *Scheduler) phaseCounts(workspaceID string) (map[tasks.Phase]int, error) {
	list, err := s.store.List(tasks.ListFilter{WorkspaceID: workspaceID})
	if err != nil {
		return nil, err
	}
	counts := make(map[tasks.Phase]int)
	for _, t := range list {
		counts[t.Phase]++
	}
	return counts, nil
}

func (s *Scheduler) nextOrder(workspaceID string, phase tasks.Phase) (int, error) {
	list, err := s.store.List(tasks.ListFilter{WorkspaceID: workspaceID, Phase: phase})
	if err != nil {
		return 0, err
	}
	next := 0
	for _, t := range list {
		if t.Order >= next {
			next = t.Order + 1
		}
	}
	return next, nil
}
