// Package collab bridges the opaque execution and planning collaborators
// over child processes. The contract is JSON lines: instructions go to the
// child's stdin, control lines come back on stdout. Everything else the
// child prints is passed through untouched.
package collab

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/flowline-dev/flowline/internal/qa"
	"github.com/flowline-dev/flowline/internal/sessions"
	"github.com/flowline-dev/flowline/internal/tasks"
)

// stopGrace is how long a session gets to exit after SIGTERM before it
// is killed.
const stopGrace = 10 * time.Second

// ErrNotConfigured is returned when no collaborator command is configured.
var ErrNotConfigured = errors.New("collaborator command not configured")

// outbound lines written to the child's stdin.
type outbound struct {
	Type         string      `json:"type"`
	Task         *tasks.Task `json:"task,omitempty"`
	TranscriptID string      `json:"transcript_id,omitempty"`
	Text         string      `json:"text,omitempty"`
	Images       []string    `json:"images,omitempty"`
	Answers      []qa.Answer `json:"answers,omitempty"`
	Aborted      bool        `json:"aborted,omitempty"`
}

// inbound control lines read from the child's stdout.
type inbound struct {
	Type         string        `json:"type"`
	Success      *bool         `json:"success,omitempty"`
	TranscriptID string        `json:"transcript_id,omitempty"`
	Questions    []qa.Question `json:"questions,omitempty"`
}

// ProcessRunner opens execution sessions by spawning the configured
// command once per session.
type ProcessRunner struct {
	command []string
	qa      *qa.Channel

	// OnTranscript is called when a session reports its conversation
	// transcript ID, so it can be persisted on the task.
	OnTranscript func(workspaceID, taskID, transcriptID string)
}

// NewProcessRunner creates a runner for the given command line. The QA
// channel may be nil; qa control lines are then auto-aborted.
func NewProcessRunner(command []string, qaCh *qa.Channel) *ProcessRunner {
	return &ProcessRunner{command: command, qa: qaCh}
}

// Open spawns a fresh session for t.
func (r *ProcessRunner) Open(ctx context.Context, t *tasks.Task, done func(success bool)) (sessions.Handle, error) {
	return r.open(ctx, t, "", done)
}

// Resume spawns a session continuing a prior transcript.
func (r *ProcessRunner) Resume(ctx context.Context, t *tasks.Task, transcriptID string, done func(success bool)) (sessions.Handle, error) {
	return r.open(ctx, t, transcriptID, done)
}

func (r *ProcessRunner) open(ctx context.Context, t *tasks.Task, transcriptID string, done func(success bool)) (sessions.Handle, error) {
	if len(r.command) == 0 {
		return nil, ErrNotConfigured
	}

	cmd := exec.Command(r.command[0], r.command[1:]...)
	cmd.Stderr = os.Stderr

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("stdout pipe: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start collaborator: %w", err)
	}

	qaCtx, cancelQA := context.WithCancel(context.Background())
	h := &processHandle{
		cmd:         cmd,
		stdin:       stdin,
		runner:      r,
		workspaceID: t.WorkspaceID,
		taskID:      t.ID,
		done:        done,
		exited:      make(chan struct{}),
		qaCtx:       qaCtx,
		cancelQA:    cancelQA,
	}

	if err := h.send(outbound{Type: "task", Task: t, TranscriptID: transcriptID}); err != nil {
		cmd.Process.Kill()
		cmd.Wait()
		return nil, fmt.Errorf("send task: %w", err)
	}

	go h.run(stdout)
	return h, nil
}

// processHandle is one live child process.
type processHandle struct {
	cmd         *exec.Cmd
	runner      *ProcessRunner
	workspaceID string
	taskID      string

	mu    sync.Mutex
	stdin io.WriteCloser

	done     func(success bool)
	doneOnce sync.Once

	stopping sync.Once
	stopped  bool // guarded by mu
	exited   chan struct{}

	// qaCtx unblocks a pending QA ask when the session is torn down.
	qaCtx    context.Context
	cancelQA context.CancelFunc

	resultMu sync.Mutex
	result   *bool // explicit result line, overrides exit code
}

// Deliver sends the next conversational turn.
func (h *processHandle) Deliver(ctx context.Context, msg sessions.Message) error {
	return h.send(outbound{Type: "message", Text: msg.Text, Images: msg.Images})
}

// Interrupt injects new instructions into in-flight work.
func (h *processHandle) Interrupt(ctx context.Context, msg sessions.Message) error {
	return h.send(outbound{Type: "interrupt", Text: msg.Text, Images: msg.Images})
}

// Stop terminates the child: SIGTERM, then SIGKILL after a grace period.
// The done callback never fires once Stop has been called.
func (h *processHandle) Stop(ctx context.Context) error {
	h.mu.Lock()
	h.stopped = true
	h.mu.Unlock()

	h.cancelQA()
	h.stopping.Do(func() {
		h.cmd.Process.Signal(syscall.SIGTERM)
	})

	grace := time.NewTimer(stopGrace)
	defer grace.Stop()

	select {
	case <-h.exited:
		return nil
	case <-ctx.Done():
	case <-grace.C:
	}

	h.cmd.Process.Kill()
	<-h.exited
	return nil
}

func (h *processHandle) send(msg outbound) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	data = append(data, '\n')

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.stdin == nil {
		return errors.New("session closed")
	}
	_, err = h.stdin.Write(data)
	return err
}

// run reads control lines until the child's stdout closes, then reaps the
// process and reports the outcome.
func (h *processHandle) run(stdout io.Reader) {
	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Bytes()
		var msg inbound
		if err := json.Unmarshal(line, &msg); err != nil {
			continue // not a control line
		}
		h.handle(msg)
	}

	err := h.cmd.Wait()

	h.mu.Lock()
	if h.stdin != nil {
		h.stdin.Close()
		h.stdin = nil
	}
	stopped := h.stopped
	h.mu.Unlock()

	close(h.exited)
	h.cancelQA()

	if stopped {
		return
	}

	h.resultMu.Lock()
	result := h.result
	h.resultMu.Unlock()

	success := err == nil
	if result != nil {
		success = *result
	}
	h.doneOnce.Do(func() { h.done(success) })
}

func (h *processHandle) handle(msg inbound) {
	switch msg.Type {
	case "result":
		if msg.Success != nil {
			h.resultMu.Lock()
			h.result = msg.Success
			h.resultMu.Unlock()
		}
	case "transcript":
		if h.runner.OnTranscript != nil && msg.TranscriptID != "" {
			h.runner.OnTranscript(h.workspaceID, h.taskID, msg.TranscriptID)
		}
	case "qa":
		// The collaborator is suspended until the resolution lands, so the
		// Ask runs right here on the read loop.
		h.handleQA(msg.Questions)
	}
}

func (h *processHandle) handleQA(questions []qa.Question) {
	if h.runner.qa == nil {
		h.send(outbound{Type: "qa_result", Aborted: true})
		return
	}

	res, err := h.runner.qa.Ask(h.qaCtx, h.workspaceID, questions)
	if err != nil {
		slog.Warn("qa ask failed", "task_id", h.taskID, "error", err)
		h.send(outbound{Type: "qa_result", Aborted: true})
		return
	}

	if err := h.send(outbound{Type: "qa_result", Answers: res.Answers, Aborted: res.Aborted}); err != nil {
		slog.Warn("qa result delivery failed", "task_id", h.taskID, "error", err)
	}
}

var _ sessions.Runner = (*ProcessRunner)(nil)
var _ sessions.Handle = (*processHandle)(nil)
