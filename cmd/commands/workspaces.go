package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/workspaces"
)

// NewWorkspacesCommand returns the workspaces subcommand.
func NewWorkspacesCommand() *cli.Command {
	return &cli.Command{
		Name:  "workspaces",
		Usage: "Manage workspaces",
		Commands: []*cli.Command{
			{
				Name:   "list",
				Usage:  "List all workspaces",
				Action: runWorkspacesList,
			},
			{
				Name:      "add",
				Usage:     "Create a workspace",
				ArgsUsage: "<name>",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "root",
						Usage: "Workspace root path",
					},
				},
				Action: runWorkspacesAdd,
			},
			{
				Name:      "remove",
				Usage:     "Delete a workspace and all its tasks",
				ArgsUsage: "<workspace_id>",
				Action:    runWorkspacesRemove,
			},
		},
		DefaultCommand: "list",
	}
}

func runWorkspacesList(_ context.Context, _ *cli.Command) error {
	store := workspaces.NewFileStore(config.WorkspacesPath())

	list, err := store.List()
	if err != nil {
		return fmt.Errorf("list workspaces: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No workspaces found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tNAME\tROOT\tCREATED")
	for _, ws := range list {
		root := ws.RootPath
		if root == "" {
			root = "-"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			ws.ID,
			ws.Name,
			root,
			ws.CreatedAt.Format("2006-01-02 15:04"),
		)
	}
	return w.Flush()
}

func runWorkspacesAdd(_ context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: flowline workspaces add <name>")
	}

	var ws workspaces.Workspace
	err := apiDo("POST", apiBase(cmd)+"/api/workspaces", map[string]string{
		"name":      name,
		"root_path": cmd.String("root"),
	}, &ws)
	if err != nil {
		return err
	}

	fmt.Printf("Created workspace %s (%s)\n", ws.Name, ws.ID)
	return nil
}

func runWorkspacesRemove(_ context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return fmt.Errorf("usage: flowline workspaces remove <workspace_id>")
	}

	if err := apiDo("DELETE", apiBase(cmd)+"/api/workspaces/"+id, nil, nil); err != nil {
		return err
	}

	fmt.Printf("Removed workspace %s\n", id)
	return nil
}
