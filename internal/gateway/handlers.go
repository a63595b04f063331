package gateway

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/flowline-dev/flowline/internal/admission"
	"github.com/flowline-dev/flowline/internal/qa"
	"github.com/flowline-dev/flowline/internal/sessions"
	"github.com/flowline-dev/flowline/internal/tasks"
	"github.com/flowline-dev/flowline/internal/workspaces"
)

// writeError maps domain errors onto HTTP status codes.
func writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, tasks.ErrNotFound),
		errors.Is(err, workspaces.ErrNotFound),
		errors.Is(err, qa.ErrRequestNotFound):
		status = http.StatusNotFound
	case errors.Is(err, tasks.ErrInvalidTransition):
		status = http.StatusBadRequest
	case errors.Is(err, admission.ErrCapacityExceeded),
		errors.Is(err, sessions.ErrAlreadyRunning),
		errors.Is(err, sessions.ErrNotIdle),
		errors.Is(err, qa.ErrRequestPending):
		status = http.StatusConflict
	case errors.Is(err, sessions.ErrSessionNotFound):
		status = http.StatusNotFound
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return false
	}
	return true
}

// =============================================================================
// WORKSPACES
// =============================================================================

func (s *Server) handleListWorkspaces(w http.ResponseWriter, r *http.Request) {
	list, err := s.wsStore.List()
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      string               `json:"name"`
		RootPath  string               `json:"root_path"`
		Overrides workspaces.Overrides `json:"overrides"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Name == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "name is required"})
		return
	}

	ws := &workspaces.Workspace{
		Name:      body.Name,
		RootPath:  body.RootPath,
		Overrides: body.Overrides,
	}
	if err := s.board.CreateWorkspace(ws); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ws)
}

func (s *Server) handleGetWorkspace(w http.ResponseWriter, r *http.Request) {
	ws, err := s.wsStore.Get(chi.URLParam(r, "workspaceID"))
	if err != nil {
		writeError(w, err)
		return
	}

	settings, err := s.board.Settings(ws.ID)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"workspace": ws,
		"settings":  settings,
	})
}

func (s *Server) handleUpdateWorkspace(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Name      *string               `json:"name"`
		RootPath  *string               `json:"root_path"`
		Overrides *workspaces.Overrides `json:"overrides"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	var fields []string
	if body.Name != nil {
		fields = append(fields, "name")
	}
	if body.RootPath != nil {
		fields = append(fields, "root_path")
	}
	if body.Overrides != nil {
		fields = append(fields, "overrides")
	}

	ws, err := s.board.UpdateWorkspace(chi.URLParam(r, "workspaceID"), fields, func(ws *workspaces.Workspace) error {
		if body.Name != nil {
			ws.Name = *body.Name
		}
		if body.RootPath != nil {
			ws.RootPath = *body.RootPath
		}
		if body.Overrides != nil {
			ws.Overrides = *body.Overrides
		}
		return nil
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// Limit changes may free executing slots.
	s.board.Kick(ws.ID)
	writeJSON(w, http.StatusOK, ws)
}

func (s *Server) handleDeleteWorkspace(w http.ResponseWriter, r *http.Request) {
	if err := s.board.DeleteWorkspace(r.Context(), chi.URLParam(r, "workspaceID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// =============================================================================
// TASKS
// =============================================================================

func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	filter := tasks.ListFilter{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		Phase:       tasks.Phase(r.URL.Query().Get("phase")),
	}
	if filter.Phase != "" && !filter.Phase.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown phase"})
		return
	}

	list, err := s.store.List(filter)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleCreateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title       string            `json:"title"`
		Description string            `json:"description"`
		Priority    tasks.Priority    `json:"priority"`
		Criteria    []tasks.Criterion `json:"criteria"`
	}
	if !decodeBody(w, r, &body) {
		return
	}
	if body.Title == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "title is required"})
		return
	}

	t := &tasks.Task{
		WorkspaceID: chi.URLParam(r, "workspaceID"),
		Title:       body.Title,
		Description: body.Description,
		Priority:    body.Priority,
		Criteria:    body.Criteria,
	}
	if err := s.board.CreateTask(r.Context(), t); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, t)
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	workspaceID := chi.URLParam(r, "workspaceID")
	taskID := chi.URLParam(r, "taskID")

	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}

	notes, err := s.store.LoadNotes(workspaceID, taskID)
	if err != nil {
		slog.Warn("load notes", "task_id", taskID, "error", err)
	}

	status, _ := s.registry.Status(taskID)

	writeJSON(w, http.StatusOK, map[string]any{
		"task":    t,
		"notes":   notes,
		"session": status,
	})
}

func (s *Server) handleUpdateTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Title         *string            `json:"title"`
		Description   *string            `json:"description"`
		Priority      *tasks.Priority    `json:"priority"`
		Criteria      *[]tasks.Criterion `json:"criteria"`
		Gate          *tasks.QualityGate `json:"gate"`
		Blocked       *bool              `json:"blocked"`
		BlockedReason *string            `json:"blocked_reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	var fields []string
	mutate := func(t *tasks.Task) error {
		if body.Title != nil {
			t.Title = *body.Title
			fields = append(fields, "title")
		}
		if body.Description != nil {
			t.Description = *body.Description
			fields = append(fields, "description")
		}
		if body.Priority != nil {
			t.Priority = *body.Priority
			fields = append(fields, "priority")
		}
		if body.Criteria != nil {
			t.Criteria = *body.Criteria
			fields = append(fields, "criteria")
		}
		if body.Gate != nil {
			t.Gate = *body.Gate
			fields = append(fields, "gate")
		}
		if body.Blocked != nil {
			t.Blocked = *body.Blocked
			fields = append(fields, "blocked")
		}
		if body.BlockedReason != nil {
			t.BlockedReason = *body.BlockedReason
			fields = append(fields, "blocked_reason")
		}
		return nil
	}

	workspaceID := chi.URLParam(r, "workspaceID")
	taskID := chi.URLParam(r, "taskID")
	if err := s.board.UpdateTask(workspaceID, taskID, fields, mutate); err != nil {
		writeError(w, err)
		return
	}

	// Unblocking a ready task may let the queue pick it up.
	if body.Blocked != nil && !*body.Blocked {
		s.board.Kick(workspaceID)
	}

	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleDeleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.board.DeleteTask(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMoveTask(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Target tasks.Phase `json:"target"`
		Reason string      `json:"reason"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	workspaceID := chi.URLParam(r, "workspaceID")
	taskID := chi.URLParam(r, "taskID")
	if err := s.board.Move(r.Context(), workspaceID, taskID, body.Target, "user", body.Reason); err != nil {
		writeError(w, err)
		return
	}

	t, err := s.store.Get(workspaceID, taskID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) handleReorder(w http.ResponseWriter, r *http.Request) {
	var body struct {
		TaskIDs []string `json:"task_ids"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	phase := tasks.Phase(chi.URLParam(r, "phase"))
	if !phase.Valid() {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "unknown phase"})
		return
	}

	if err := s.board.Reorder(chi.URLParam(r, "workspaceID"), phase, body.TaskIDs); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "reordered"})
}

func (s *Server) handleExecuteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.board.Execute(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "executing"})
}

func (s *Server) handleStopTask(w http.ResponseWriter, r *http.Request) {
	stopped, err := s.board.StopTask(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"stopped": stopped})
}

func (s *Server) handleSteerTask(w http.ResponseWriter, r *http.Request) {
	var msg sessions.Message
	if !decodeBody(w, r, &msg) {
		return
	}

	delivered, err := s.board.Steer(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), msg)
	if err != nil {
		writeError(w, err)
		return
	}
	if !delivered {
		writeJSON(w, http.StatusConflict, map[string]string{"error": "no running session to steer"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (s *Server) handleFollowUpTask(w http.ResponseWriter, r *http.Request) {
	var msg sessions.Message
	if !decodeBody(w, r, &msg) {
		return
	}

	if err := s.board.FollowUp(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), msg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (s *Server) handleChatTask(w http.ResponseWriter, r *http.Request) {
	var msg sessions.Message
	if !decodeBody(w, r, &msg) {
		return
	}

	if err := s.board.Chat(r.Context(), chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID"), msg); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "delivered"})
}

func (s *Server) handlePlanTask(w http.ResponseWriter, r *http.Request) {
	if err := s.board.RequestPlan(chi.URLParam(r, "workspaceID"), chi.URLParam(r, "taskID")); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"status": "planning"})
}

// =============================================================================
// QA
// =============================================================================

func (s *Server) handlePendingQA(w http.ResponseWriter, r *http.Request) {
	if s.qa == nil {
		writeJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}
	req, ok := s.qa.Pending(chi.URLParam(r, "workspaceID"))
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{"pending": nil})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"pending": req})
}

func (s *Server) handleQARespond(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Answers []qa.Answer `json:"answers"`
	}
	if !decodeBody(w, r, &body) {
		return
	}

	if s.qa == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "qa not available"})
		return
	}

	requestID := chi.URLParam(r, "requestID")
	if err := s.qa.Respond(requestID, body.Answers); err != nil {
		// A lost race with another responder is benign.
		slog.Debug("qa respond", "request_id", requestID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "resolved"})
}

func (s *Server) handleQAAbort(w http.ResponseWriter, r *http.Request) {
	if s.qa == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "qa not available"})
		return
	}

	requestID := chi.URLParam(r, "requestID")
	if err := s.qa.Abort(requestID); err != nil {
		slog.Debug("qa abort", "request_id", requestID, "error", err)
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "aborted"})
}
