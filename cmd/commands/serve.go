package commands

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v3"

	"github.com/flowline-dev/flowline/internal/automation"
	"github.com/flowline-dev/flowline/internal/collab"
	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/events"
	"github.com/flowline-dev/flowline/internal/gateway"
	"github.com/flowline-dev/flowline/internal/heartbeat"
	"github.com/flowline-dev/flowline/internal/qa"
	"github.com/flowline-dev/flowline/internal/scheduler"
	"github.com/flowline-dev/flowline/internal/sessions"
	"github.com/flowline-dev/flowline/internal/storage"
	"github.com/flowline-dev/flowline/internal/tasks"
	"github.com/flowline-dev/flowline/internal/workspaces"
)

// NewServeCommand returns the serve subcommand.
func NewServeCommand() *cli.Command {
	return &cli.Command{
		Name:  "serve",
		Usage: "Start the flowline gateway server",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "host",
				Usage: "Host to listen on",
			},
			&cli.IntFlag{
				Name:  "port",
				Usage: "Port to listen on",
			},
		},
		Action: runServe,
	}
}

func runServe(_ context.Context, cmd *cli.Command) error {
	// Setup debug logging
	if cmd.Bool("debug") {
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelDebug})))
	}

	// Load config
	configPath := cmd.String("config")
	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Warn("config not found, using defaults", "path", configPath, "error", err)
		cfg = config.Default()
	}

	// CLI flags override config
	if cmd.IsSet("host") {
		cfg.Gateway.Host = cmd.String("host")
	}
	if cmd.IsSet("port") {
		cfg.Gateway.Port = int(cmd.Int("port"))
	}

	reloader := config.NewReloader(configPath, cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := os.MkdirAll(config.FlowlinePath(), 0o755); err != nil {
		return err
	}

	// Event bus
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()

	// Durable event log
	eventLog, err := storage.NewEventLog(config.EventLogPath(), bus)
	if err != nil {
		slog.Warn("event log unavailable, falling back to in-memory history", "error", err)
		eventLog = nil
	} else {
		defer eventLog.Close()
	}

	// Stores
	taskStore := tasks.NewFileStore(config.WorkspacesPath())
	wsStore := workspaces.NewFileStore(config.WorkspacesPath())

	// QA channel
	qaChannel := qa.NewChannel(bus)

	// Collaborators
	runner := collab.NewProcessRunner(cfg.Collaborator.ExecuteCommand, qaChannel)
	planner := collab.NewProcessPlanner(cfg.Collaborator.PlanCommand)

	// Session registry
	registry := sessions.NewRegistry(runner, bus)

	// Board scheduler
	board := scheduler.New(taskStore, wsStore, registry, bus, reloader, planner, qaChannel)
	runner.OnTranscript = func(workspaceID, taskID, transcriptID string) {
		err := board.UpdateTask(workspaceID, taskID, []string{"transcript_id"}, func(t *tasks.Task) error {
			t.TranscriptID = transcriptID
			return nil
		})
		if err != nil {
			slog.Warn("save transcript id", "task_id", taskID, "error", err)
		}
	}
	if err := board.Start(); err != nil {
		return err
	}
	defer board.Stop()

	// Automation triggers
	engine := automation.NewEngine(board, board, bus)
	engine.Start()
	defer engine.Close()

	// Config reload on SIGHUP; limit changes take effect on the next scan.
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	go func() {
		for range hup {
			if err := reloader.Reload(); err != nil {
				slog.Warn("config reload failed", "error", err)
				continue
			}
			board.KickAll()
		}
	}()
	defer signal.Stop(hup)

	// Heartbeat
	hb := heartbeat.NewWriter(config.HeartbeatPath(), func() heartbeat.Stats {
		stats := heartbeat.Stats{}
		if wss, err := wsStore.List(); err == nil {
			stats.Workspaces = len(wss)
		}
		if list, err := taskStore.List(tasks.ListFilter{}); err == nil {
			stats.Tasks = len(list)
			for _, t := range list {
				if t.Phase == tasks.PhaseExecuting {
					stats.Executing++
				}
			}
		}
		return stats
	})
	hb.Start()
	defer hb.Stop()

	// Gateway server
	server := gateway.NewServer(board, registry, taskStore, wsStore, bus, qaChannel, eventLog, cfg.Gateway.Host, cfg.Gateway.Port)

	// Start server in goroutine
	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	// Wait for signal or error
	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}
