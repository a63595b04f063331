package qa

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/flowline-dev/flowline/internal/events"
)

func askAsync(c *Channel, workspaceID string, qs []Question) (<-chan Resolution, <-chan error) {
	resCh := make(chan Resolution, 1)
	errCh := make(chan error, 1)
	go func() {
		res, err := c.Ask(context.Background(), workspaceID, qs)
		if err != nil {
			errCh <- err
			return
		}
		resCh <- res
	}()
	return resCh, errCh
}

func pendingID(t *testing.T, c *Channel, workspaceID string) string {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if req, ok := c.Pending(workspaceID); ok {
			return req.ID
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("no pending request appeared")
	return ""
}

func TestRespondDeliversAnswers(t *testing.T) {
	c := NewChannel(nil)

	qs := []Question{{ID: "q1", Prompt: "Which database?", Options: []string{"postgres", "sqlite"}}}
	resCh, errCh := askAsync(c, "ws_1", qs)

	id := pendingID(t, c, "ws_1")
	if err := c.Respond(id, []Answer{{QuestionID: "q1", Value: "sqlite"}}); err != nil {
		t.Fatalf("Respond: %v", err)
	}

	select {
	case res := <-resCh:
		if res.Aborted {
			t.Error("resolution should not be aborted")
		}
		if len(res.Answers) != 1 || res.Answers[0].Value != "sqlite" {
			t.Errorf("answers: got %+v", res.Answers)
		}
	case err := <-errCh:
		t.Fatalf("Ask: %v", err)
	case <-time.After(2 * time.Second):
		t.Fatal("Ask never unblocked")
	}

	// Slot is cleared.
	if _, ok := c.Pending("ws_1"); ok {
		t.Error("pending slot should be empty after resolution")
	}
}

func TestAbortThenSecondResolveFails(t *testing.T) {
	c := NewChannel(nil)

	resCh, _ := askAsync(c, "ws_1", []Question{{ID: "q1", Prompt: "?"}})
	id := pendingID(t, c, "ws_1")

	if err := c.Abort(id); err != nil {
		t.Fatalf("Abort: %v", err)
	}

	res := <-resCh
	if !res.Aborted {
		t.Error("resolution should be aborted")
	}

	// The request is gone; any further resolve loses the race.
	if err := c.Abort(id); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("second Abort: got %v, want ErrRequestNotFound", err)
	}
	if err := c.Respond(id, nil); !errors.Is(err, ErrRequestNotFound) {
		t.Fatalf("Respond after Abort: got %v, want ErrRequestNotFound", err)
	}
}

func TestOnePendingPerWorkspace(t *testing.T) {
	c := NewChannel(nil)

	_, _ = askAsync(c, "ws_1", []Question{{ID: "q1", Prompt: "?"}})
	pendingID(t, c, "ws_1")

	_, err := c.Ask(context.Background(), "ws_1", []Question{{ID: "q2", Prompt: "??"}})
	if !errors.Is(err, ErrRequestPending) {
		t.Fatalf("second Ask: got %v, want ErrRequestPending", err)
	}

	// Other workspaces are unaffected.
	_, _ = askAsync(c, "ws_2", []Question{{ID: "q1", Prompt: "?"}})
	pendingID(t, c, "ws_2")
}

func TestAskCancelClearsSlot(t *testing.T) {
	c := NewChannel(nil)

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() {
		_, err := c.Ask(ctx, "ws_1", []Question{{ID: "q1", Prompt: "?"}})
		errCh <- err
	}()

	pendingID(t, c, "ws_1")
	cancel()

	select {
	case err := <-errCh:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("Ask: got %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Ask never unblocked after cancel")
	}

	deadline := time.Now().Add(2 * time.Second)
	for {
		if _, ok := c.Pending("ws_1"); !ok {
			break
		}
		if time.Now().After(deadline) {
			t.Fatal("pending slot not cleared after cancel")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestAbortWorkspace(t *testing.T) {
	c := NewChannel(nil)

	resCh, _ := askAsync(c, "ws_1", []Question{{ID: "q1", Prompt: "?"}})
	pendingID(t, c, "ws_1")

	if !c.AbortWorkspace("ws_1") {
		t.Fatal("AbortWorkspace: got false, want true")
	}
	res := <-resCh
	if !res.Aborted {
		t.Error("resolution should be aborted")
	}

	if c.AbortWorkspace("ws_1") {
		t.Error("AbortWorkspace with nothing pending: got true, want false")
	}
}

func TestQAEventsPublished(t *testing.T) {
	bus := events.NewBus(64)
	defer bus.Close()
	c := NewChannel(bus)

	ch, cancel := bus.SubscribeChan(16, events.EventQARequest, events.EventQAResolved)
	defer cancel()

	resCh, _ := askAsync(c, "ws_1", []Question{{ID: "q1", Prompt: "Pick one", Options: []string{"a", "b"}}})
	id := pendingID(t, c, "ws_1")

	select {
	case e := <-ch:
		if e.Type != events.EventQARequest {
			t.Fatalf("first event: got %s, want qa.request", e.Type)
		}
		payload, _ := events.ExtractPayload[events.QARequestPayload](e)
		if payload.RequestID != id || len(payload.Questions) != 1 {
			t.Errorf("request payload: got %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no qa.request event")
	}

	if err := c.Respond(id, []Answer{{QuestionID: "q1", Value: "a"}}); err != nil {
		t.Fatalf("Respond: %v", err)
	}
	<-resCh

	select {
	case e := <-ch:
		if e.Type != events.EventQAResolved {
			t.Fatalf("second event: got %s, want qa.resolved", e.Type)
		}
		payload, _ := events.ExtractPayload[events.QAResolvedPayload](e)
		if payload.RequestID != id || payload.Aborted {
			t.Errorf("resolved payload: got %+v", payload)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("no qa.resolved event")
	}
}
