// Package gateway is the flowline HTTP/WebSocket surface. All board
// mutations go through the scheduler; the gateway only translates wire
// requests and maps domain errors onto status codes.
package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/flowline-dev/flowline/internal/events"
	"github.com/flowline-dev/flowline/internal/gateway/ws"
	"github.com/flowline-dev/flowline/internal/qa"
	"github.com/flowline-dev/flowline/internal/scheduler"
	"github.com/flowline-dev/flowline/internal/sessions"
	"github.com/flowline-dev/flowline/internal/storage"
	"github.com/flowline-dev/flowline/internal/tasks"
	"github.com/flowline-dev/flowline/internal/workspaces"
)

// Server is the flowline gateway HTTP server.
type Server struct {
	httpServer *http.Server
	hub        *ws.Hub
	bus        *events.Bus
	board      *scheduler.Scheduler
	registry   *sessions.Registry
	store      tasks.Store
	wsStore    workspaces.Store
	qa         *qa.Channel
	eventLog   *storage.EventLog
	host       string
	port       int
}

// NewServer creates a new gateway server. eventLog may be nil; the events
// endpoint then serves the bus's in-memory history.
func NewServer(board *scheduler.Scheduler, registry *sessions.Registry, store tasks.Store, wsStore workspaces.Store, bus *events.Bus, qaCh *qa.Channel, eventLog *storage.EventLog, host string, port int) *Server {
	hub := ws.NewHub(bus, qaCh)

	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(middleware.RealIP)

	s := &Server{
		hub:      hub,
		bus:      bus,
		board:    board,
		registry: registry,
		store:    store,
		wsStore:  wsStore,
		qa:       qaCh,
		eventLog: eventLog,
		host:     host,
		port:     port,
	}

	// Routes
	r.Get("/api/health", s.handleHealth)
	r.Get("/api/ws", hub.ServeWS)
	r.Get("/api/events", s.handleEvents)
	r.Get("/api/sessions", s.handleSessions)

	// API: workspaces
	r.Route("/api/workspaces", func(r chi.Router) {
		r.Get("/", s.handleListWorkspaces)
		r.Post("/", s.handleCreateWorkspace)
		r.Route("/{workspaceID}", func(r chi.Router) {
			r.Get("/", s.handleGetWorkspace)
			r.Patch("/", s.handleUpdateWorkspace)
			r.Delete("/", s.handleDeleteWorkspace)
			r.Get("/qa", s.handlePendingQA)
			r.Post("/phases/{phase}/reorder", s.handleReorder)

			r.Route("/tasks", func(r chi.Router) {
				r.Get("/", s.handleListTasks)
				r.Post("/", s.handleCreateTask)
				r.Route("/{taskID}", func(r chi.Router) {
					r.Get("/", s.handleGetTask)
					r.Patch("/", s.handleUpdateTask)
					r.Delete("/", s.handleDeleteTask)
					r.Post("/move", s.handleMoveTask)
					r.Post("/execute", s.handleExecuteTask)
					r.Post("/stop", s.handleStopTask)
					r.Post("/steer", s.handleSteerTask)
					r.Post("/follow-up", s.handleFollowUpTask)
					r.Post("/chat", s.handleChatTask)
					r.Post("/plan", s.handlePlanTask)
				})
			})
		})
	})

	// API: qa resolution
	r.Post("/api/qa/{requestID}/respond", s.handleQARespond)
	r.Post("/api/qa/{requestID}/abort", s.handleQAAbort)

	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", host, port),
		Handler: r,
	}

	return s
}

// Start begins listening. It blocks until the server is stopped.
func (s *Server) Start() error {
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return err
	}
	slog.Info("flowline gateway listening", "addr", ln.Addr().String())
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully stops the server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.hub.Close()
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limitStr := r.URL.Query().Get("limit")
	limit := 50
	if limitStr != "" {
		fmt.Sscanf(limitStr, "%d", &limit)
	}
	workspaceID := r.URL.Query().Get("workspace")

	var history []events.Event
	if s.eventLog != nil {
		var err error
		history, err = s.eventLog.Tail(workspaceID, limit)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
	} else {
		for _, e := range s.bus.History(limit) {
			if workspaceID != "" && e.WorkspaceID != workspaceID {
				continue
			}
			history = append(history, e)
		}
	}

	w.Header().Set("Content-Type", "application/json")

	// Format timestamps nicely
	type eventJSON struct {
		ID          string         `json:"id"`
		WorkspaceID string         `json:"workspace_id,omitempty"`
		Type        string         `json:"type"`
		Timestamp   string         `json:"timestamp"`
		Source      events.Source  `json:"source"`
		Payload     map[string]any `json:"payload"`
	}

	result := make([]eventJSON, len(history))
	for i, e := range history {
		result[i] = eventJSON{
			ID:          e.ID,
			WorkspaceID: e.WorkspaceID,
			Type:        string(e.Type),
			Timestamp:   e.Timestamp.Format(time.RFC3339Nano),
			Source:      e.Source,
			Payload:     e.Payload,
		}
	}

	json.NewEncoder(w).Encode(result)
}

func (s *Server) handleSessions(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(s.registry.List())
}
