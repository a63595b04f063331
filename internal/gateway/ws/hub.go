// Package ws is the gateway's broadcast hub: it bridges the event bus to
// WebSocket clients, filtered by workspace subscription.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/flowline-dev/flowline/internal/events"
	"github.com/flowline-dev/flowline/internal/qa"
)

// Client represents a connected WebSocket client and its workspace
// subscriptions. A client with no subscriptions receives nothing but
// board-wide events.
type Client struct {
	conn *websocket.Conn
	send chan []byte
	hub  *Hub

	mu   sync.Mutex
	subs map[string]struct{}
}

func (c *Client) subscribed(workspaceID string) bool {
	if workspaceID == "" {
		return true // board-wide events go to everyone
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[workspaceID]
	return ok
}

// Hub manages WebSocket clients and bridges them to the event bus.
type Hub struct {
	mu          sync.RWMutex
	clients     map[*Client]struct{}
	bus         *events.Bus
	qa          *qa.Channel
	unsubscribe func()
}

// NewHub creates a new WebSocket hub connected to an event bus. The QA
// channel may be nil; qa_respond and qa_abort then fail.
func NewHub(bus *events.Bus, qaCh *qa.Channel) *Hub {
	h := &Hub{
		clients: make(map[*Client]struct{}),
		bus:     bus,
		qa:      qaCh,
	}

	// Subscribe to all events and bridge to WS clients
	h.unsubscribe = bus.Subscribe(func(e events.Event) {
		frame, err := NewEventFrame(string(e.Type), e.WorkspaceID, e)
		if err != nil {
			slog.Error("marshal event frame", "error", err)
			return
		}
		data, err := MarshalFrame(frame)
		if err != nil {
			slog.Error("marshal frame", "error", err)
			return
		}
		h.broadcast(e.WorkspaceID, data)
	})

	return h
}

// broadcast sends data to every client subscribed to the workspace.
func (h *Hub) broadcast(workspaceID string, data []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.clients {
		if !c.subscribed(workspaceID) {
			continue
		}
		select {
		case c.send <- data:
		default:
			// Client too slow, skip
		}
	}
}

// register adds a client to the hub.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
	slog.Info("ws client connected", "clients", len(h.clients))
}

// unregister removes a client from the hub.
func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		close(c.send)
		slog.Info("ws client disconnected", "clients", len(h.clients))
	}
}

// ServeWS handles a WebSocket upgrade and manages the client lifecycle.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, // Allow any origin for dev
	})
	if err != nil {
		slog.Error("ws accept", "error", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 256),
		hub:  h,
		subs: make(map[string]struct{}),
	}

	h.register(client)

	ctx := r.Context()
	go client.writePump(ctx)
	client.readPump(ctx)
}

// readPump reads frames from the WS connection and dispatches them.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close(websocket.StatusNormalClosure, "")
	}()

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) != -1 {
				slog.Debug("ws read closed", "status", websocket.CloseStatus(err))
			} else {
				slog.Debug("ws read error", "error", err)
			}
			return
		}

		frame, err := UnmarshalFrame(data)
		if err != nil {
			slog.Error("ws unmarshal frame", "error", err)
			continue
		}

		c.handleFrame(frame)
	}
}

// handleFrame processes an incoming WS frame.
func (c *Client) handleFrame(frame Frame) {
	switch frame.Type {
	case FrameTypeRequest:
		c.handleRequest(frame)
	default:
		slog.Debug("ws unknown frame type", "type", frame.Type)
	}
}

// handleRequest processes a request frame (method dispatch).
func (c *Client) handleRequest(frame Frame) {
	switch Method(frame.Method) {
	case MethodSubscribe:
		var params struct {
			WorkspaceID string `json:"workspace_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil || params.WorkspaceID == "" {
			c.sendError(frame.ID, "invalid params")
			return
		}
		c.mu.Lock()
		c.subs[params.WorkspaceID] = struct{}{}
		c.mu.Unlock()
		c.sendOK(frame.ID, map[string]string{"status": "subscribed"})

	case MethodUnsubscribe:
		var params struct {
			WorkspaceID string `json:"workspace_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		c.mu.Lock()
		delete(c.subs, params.WorkspaceID)
		c.mu.Unlock()
		c.sendOK(frame.ID, map[string]string{"status": "unsubscribed"})

	case MethodQARespond:
		var params struct {
			RequestID string      `json:"request_id"`
			Answers   []qa.Answer `json:"answers"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if c.hub.qa == nil {
			c.sendError(frame.ID, "qa not available")
			return
		}
		if err := c.hub.qa.Respond(params.RequestID, params.Answers); err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, map[string]string{"status": "resolved"})

	case MethodQAAbort:
		var params struct {
			RequestID string `json:"request_id"`
		}
		if err := json.Unmarshal(frame.Params, &params); err != nil {
			c.sendError(frame.ID, "invalid params")
			return
		}
		if c.hub.qa == nil {
			c.sendError(frame.ID, "qa not available")
			return
		}
		if err := c.hub.qa.Abort(params.RequestID); err != nil {
			c.sendError(frame.ID, err.Error())
			return
		}
		c.sendOK(frame.ID, map[string]string{"status": "aborted"})

	default:
		c.sendError(frame.ID, "unknown method: "+frame.Method)
	}
}

// writePump writes queued messages to the WS connection.
func (c *Client) writePump(ctx context.Context) {
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				return
			}
			if err := c.conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		case <-ctx.Done():
			return
		}
	}
}

func (c *Client) sendOK(id string, payload any) {
	f, err := NewResponseFrame(id, true, payload, "")
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

func (c *Client) sendError(id string, errMsg string) {
	f, err := NewResponseFrame(id, false, nil, errMsg)
	if err != nil {
		return
	}
	data, err := MarshalFrame(f)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// Close shuts down the hub and all client connections.
func (h *Hub) Close() {
	if h.unsubscribe != nil {
		h.unsubscribe()
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		c.conn.Close(websocket.StatusGoingAway, "server shutdown")
		delete(h.clients, c)
	}
}
