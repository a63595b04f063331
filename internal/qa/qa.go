// Package qa plumbs a single synchronous question/answer rendezvous
// between the execution collaborator and a human operator. The request is
// surfaced to observers through the event bus and resolved exactly once by
// an external respond or abort call.
package qa

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/flowline-dev/flowline/internal/events"
)

var (
	// ErrRequestNotFound is returned when resolving an unknown or
	// already-resolved request. Benign: callers log and move on.
	ErrRequestNotFound = errors.New("pending request not found")
	// ErrRequestPending is returned when a workspace already has an
	// unresolved request outstanding.
	ErrRequestPending = errors.New("a request is already pending for this workspace")
)

// Question is a single clarifying question with optional fixed choices.
type Question struct {
	ID      string   `json:"id"`
	Prompt  string   `json:"prompt"`
	Options []string `json:"options,omitempty"`
}

// Answer resolves one question.
type Answer struct {
	QuestionID string `json:"question_id"`
	Value      string `json:"value"`
}

// Request is an outstanding question set, at most one per workspace.
type Request struct {
	ID          string     `json:"id"`
	WorkspaceID string     `json:"workspace_id"`
	Questions   []Question `json:"questions"`
	CreatedAt   time.Time  `json:"created_at"`
}

// Resolution is the outcome delivered back to the waiting collaborator.
// Aborted means "proceed without structured answers".
type Resolution struct {
	Answers []Answer `json:"answers,omitempty"`
	Aborted bool     `json:"aborted,omitempty"`
}

type pending struct {
	req  Request
	ch   chan Resolution
	once sync.Once
}

// Channel is the per-process QA rendezvous point.
type Channel struct {
	mu   sync.Mutex
	byID map[string]*pending
	byWs map[string]*pending
	bus  *events.Bus
}

// NewChannel creates a QA channel publishing to the given bus.
func NewChannel(bus *events.Bus) *Channel {
	return &Channel{
		byID: make(map[string]*pending),
		byWs: make(map[string]*pending),
		bus:  bus,
	}
}

// Ask registers the workspace's pending request, announces it to
// observers, and blocks until it is resolved or ctx is cancelled.
func (c *Channel) Ask(ctx context.Context, workspaceID string, qs []Question) (Resolution, error) {
	c.mu.Lock()
	if _, exists := c.byWs[workspaceID]; exists {
		c.mu.Unlock()
		return Resolution{}, ErrRequestPending
	}
	p := &pending{
		req: Request{
			ID:          generateRequestID(),
			WorkspaceID: workspaceID,
			Questions:   qs,
			CreatedAt:   time.Now(),
		},
		ch: make(chan Resolution, 1),
	}
	c.byID[p.req.ID] = p
	c.byWs[workspaceID] = p
	c.mu.Unlock()

	c.publishRequest(p.req)

	select {
	case res := <-p.ch:
		return res, nil
	case <-ctx.Done():
		c.remove(p)
		return Resolution{}, ctx.Err()
	}
}

// Respond delivers answers to the waiting collaborator and clears the
// pending slot. Idempotent: resolving an unknown or already-resolved
// request returns ErrRequestNotFound.
func (c *Channel) Respond(requestID string, answers []Answer) error {
	return c.resolve(requestID, Resolution{Answers: answers})
}

// Abort signals the collaborator to proceed without structured answers.
// Same idempotence contract as Respond.
func (c *Channel) Abort(requestID string) error {
	return c.resolve(requestID, Resolution{Aborted: true})
}

// Pending returns the workspace's outstanding request, if any. This is
// the poll fallback for observers that missed the push.
func (c *Channel) Pending(workspaceID string) (Request, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	p, ok := c.byWs[workspaceID]
	if !ok {
		return Request{}, false
	}
	return p.req, true
}

// AbortWorkspace aborts the workspace's pending request, if any. Used
// when a workspace is deleted out from under a suspended collaborator.
func (c *Channel) AbortWorkspace(workspaceID string) bool {
	c.mu.Lock()
	p, ok := c.byWs[workspaceID]
	c.mu.Unlock()
	if !ok {
		return false
	}
	return c.Abort(p.req.ID) == nil
}

func (c *Channel) resolve(requestID string, res Resolution) error {
	c.mu.Lock()
	p, ok := c.byID[requestID]
	if ok {
		delete(c.byID, requestID)
		delete(c.byWs, p.req.WorkspaceID)
	}
	c.mu.Unlock()

	if !ok {
		return ErrRequestNotFound
	}

	p.once.Do(func() { p.ch <- res })

	if c.bus != nil {
		c.bus.Publish(events.NewTypedEvent(events.SourceQA, p.req.WorkspaceID, events.QAResolvedPayload{
			RequestID: requestID,
			Aborted:   res.Aborted,
		}))
	}
	return nil
}

func (c *Channel) remove(p *pending) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if cur, ok := c.byID[p.req.ID]; ok && cur == p {
		delete(c.byID, p.req.ID)
		delete(c.byWs, p.req.WorkspaceID)
	}
}

func (c *Channel) publishRequest(req Request) {
	if c.bus == nil {
		return
	}
	qs := make([]events.QAQuestion, len(req.Questions))
	for i, q := range req.Questions {
		qs[i] = events.QAQuestion{ID: q.ID, Prompt: q.Prompt, Options: q.Options}
	}
	c.bus.Publish(events.NewTypedEvent(events.SourceQA, req.WorkspaceID, events.QARequestPayload{
		RequestID: req.ID,
		Questions: qs,
	}))
}

func generateRequestID() string {
	u := uuid.New().String()
	return "qa_" + strings.ReplaceAll(u[:8], "-", "")
}
