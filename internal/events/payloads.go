package events

import (
	"encoding/json"
	"time"
)

// EventPayload is the interface all typed payloads implement.
type EventPayload interface {
	EventType() EventType
}

// =============================================================================
// TASK EVENTS
// =============================================================================

type TaskCreatedPayload struct {
	TaskID string `json:"task_id"`
	Title  string `json:"title"`
	Phase  string `json:"phase"`
}

func (TaskCreatedPayload) EventType() EventType { return EventTaskCreated }

type TaskMovedPayload struct {
	TaskID string `json:"task_id"`
	From   string `json:"from"`
	To     string `json:"to"`
	Actor  string `json:"actor"`
	Reason string `json:"reason,omitempty"`
}

func (TaskMovedPayload) EventType() EventType { return EventTaskMoved }

// TaskSectionPayload marks a point where observers should anchor a new
// activity section for a task: emitted on backward (rework) moves and
// whenever a task enters executing.
type TaskSectionPayload struct {
	TaskID string `json:"task_id"`
	Phase  string `json:"phase"`
}

func (TaskSectionPayload) EventType() EventType { return EventTaskSection }

type TaskUpdatedPayload struct {
	TaskID string   `json:"task_id"`
	Fields []string `json:"fields,omitempty"`
}

func (TaskUpdatedPayload) EventType() EventType { return EventTaskUpdated }

type TaskReorderedPayload struct {
	Phase   string   `json:"phase"`
	TaskIDs []string `json:"task_ids"`
}

func (TaskReorderedPayload) EventType() EventType { return EventTaskReordered }

type TaskDeletedPayload struct {
	TaskID string `json:"task_id"`
	Phase  string `json:"phase"`
}

func (TaskDeletedPayload) EventType() EventType { return EventTaskDeleted }

// =============================================================================
// PLANNING EVENTS
// =============================================================================

type PlanReadyPayload struct {
	TaskID string `json:"task_id"`
	Phase  string `json:"phase"`
	Steps  int    `json:"steps"`
}

func (PlanReadyPayload) EventType() EventType { return EventPlanReady }

type PlanFailedPayload struct {
	TaskID string `json:"task_id"`
	Error  string `json:"error"`
}

func (PlanFailedPayload) EventType() EventType { return EventPlanFailed }

// =============================================================================
// SESSION EVENTS
// =============================================================================

type SessionStatusPayload struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (SessionStatusPayload) EventType() EventType { return EventSessionStatus }

// =============================================================================
// QA EVENTS
// =============================================================================

type QAQuestion struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

type QARequestPayload struct {
	RequestID string       `json:"request_id"`
	Questions []QAQuestion `json:"questions"`
}

func (QARequestPayload) EventType() EventType { return EventQARequest }

type QAResolvedPayload struct {
	RequestID string `json:"request_id"`
	Aborted   bool   `json:"aborted"`
}

func (QAResolvedPayload) EventType() EventType { return EventQAResolved }

// =============================================================================
// WORKSPACE EVENTS
// =============================================================================

type WorkspaceCreatedPayload struct {
	Name string `json:"name"`
}

func (WorkspaceCreatedPayload) EventType() EventType { return EventWorkspaceCreated }

type WorkspaceUpdatedPayload struct {
	Name   string   `json:"name"`
	Fields []string `json:"fields"`
}

func (WorkspaceUpdatedPayload) EventType() EventType { return EventWorkspaceUpdated }

type WorkspaceDeletedPayload struct {
	Name string `json:"name"`
}

func (WorkspaceDeletedPayload) EventType() EventType { return EventWorkspaceDeleted }

// =============================================================================
// TYPED EVENT CONSTRUCTORS
// =============================================================================

// NewTypedEvent builds an Event from a typed payload, scoped to a workspace.
func NewTypedEvent(source Source, workspaceID string, payload EventPayload) Event {
	return Event{
		ID:          generateEventID(),
		WorkspaceID: workspaceID,
		Type:        payload.EventType(),
		Timestamp:   time.Now(),
		Source:      source,
		Payload:     toMap(payload),
	}
}

func toMap(v any) map[string]any {
	var result map[string]any
	data, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return nil
	}
	return result
}

// ExtractPayload decodes an event's payload back into its typed form.
func ExtractPayload[T EventPayload](e Event) (T, bool) {
	var result T
	data, err := json.Marshal(e.Payload)
	if err != nil {
		return result, false
	}
	if err := json.Unmarshal(data, &result); err != nil {
		return result, false
	}
	return result, true
}
