package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/urfave/cli/v3"

	clientws "github.com/flowline-dev/flowline/clients/ws"
	"github.com/flowline-dev/flowline/internal/config"
	wsprotocol "github.com/flowline-dev/flowline/internal/gateway/ws"
)

// NewWatchCommand returns the watch subcommand.
func NewWatchCommand() *cli.Command {
	return &cli.Command{
		Name:  "watch",
		Usage: "Stream board events from the gateway",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace ID to watch (all board-wide events otherwise)",
			},
		},
		Action: runWatch,
	}
}

func runWatch(ctx context.Context, cmd *cli.Command) error {
	cfg, err := config.Load(cmd.String("config"))
	if err != nil {
		cfg = config.Default()
	}
	url := fmt.Sprintf("ws://%s:%d/api/ws", cfg.Gateway.Host, cfg.Gateway.Port)

	client, err := clientws.Dial(ctx, url)
	if err != nil {
		return fmt.Errorf("connect to gateway (is `flowline serve` running?): %w", err)
	}
	defer client.Close()

	if ws := cmd.String("workspace"); ws != "" {
		if err := client.Subscribe(ws); err != nil {
			return fmt.Errorf("subscribe: %w", err)
		}
	}

	fmt.Println("Watching for events (ctrl-c to stop)...")
	for {
		frame, err := client.ReadFrame()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		if frame.Type != wsprotocol.FrameTypeEvent {
			continue
		}
		ws := frame.WorkspaceID
		if ws == "" {
			ws = "-"
		}
		fmt.Printf("[%s] %-18s %s %s\n",
			time.Now().Format("15:04:05"), frame.Event, ws, string(frame.Payload))
	}
}
