// Package sessions mediates all interaction with the execution
// collaborator and enforces the at-most-one-live-session-per-task
// invariant.
package sessions

import (
	"context"

	"github.com/flowline-dev/flowline/internal/tasks"
)

// Message is a single instruction delivered to a live session.
type Message struct {
	Text   string   `json:"text"`
	Images []string `json:"images,omitempty"`
}

// Handle is the opaque connection to one running collaborator session.
// The collaborator's Stop must be idempotent; the registry may call it on
// a session that already reported completion.
type Handle interface {
	// Deliver sends the next conversational turn without interrupting.
	Deliver(ctx context.Context, msg Message) error
	// Interrupt injects new instructions into in-flight work, preserving
	// the collaborator's context.
	Interrupt(ctx context.Context, msg Message) error
	// Stop requests graceful termination and returns once the
	// collaborator has shut down.
	Stop(ctx context.Context) error
}

// Runner opens sessions against the execution collaborator. The done
// callback fires exactly once when the collaborator finishes on its own;
// it is never called after Stop.
type Runner interface {
	Open(ctx context.Context, t *tasks.Task, done func(success bool)) (Handle, error)
	// Resume reopens a prior conversation transcript and continues it.
	Resume(ctx context.Context, t *tasks.Task, transcriptID string, done func(success bool)) (Handle, error)
}
