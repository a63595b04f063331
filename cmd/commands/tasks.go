package commands

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/urfave/cli/v3"

	"github.com/flowline-dev/flowline/internal/config"
	"github.com/flowline-dev/flowline/internal/tasks"
)

// NewTasksCommand returns the tasks subcommand.
func NewTasksCommand() *cli.Command {
	return &cli.Command{
		Name:  "tasks",
		Usage: "Manage tasks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "workspace",
				Aliases: []string{"w"},
				Usage:   "Workspace ID",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "list",
				Usage: "List tasks",
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "phase",
						Usage: "Filter by phase",
					},
				},
				Action: runTasksList,
			},
			{
				Name:      "show",
				Usage:     "Show a task with its notes",
				ArgsUsage: "<task_id>",
				Action:    runTasksShow,
			},
			{
				Name:      "add",
				Usage:     "Create a task in backlog",
				ArgsUsage: "<title>",
				Action:    runTasksAdd,
			},
			{
				Name:      "move",
				Usage:     "Move a task to another phase",
				ArgsUsage: "<task_id> <phase>",
				Action:    runTasksMove,
			},
		},
		DefaultCommand: "list",
	}
}

func runTasksList(_ context.Context, cmd *cli.Command) error {
	store := tasks.NewFileStore(config.WorkspacesPath())

	filter := tasks.ListFilter{
		WorkspaceID: cmd.String("workspace"),
		Phase:       tasks.Phase(cmd.String("phase")),
	}
	if filter.Phase != "" && !filter.Phase.Valid() {
		return fmt.Errorf("unknown phase %q", filter.Phase)
	}

	list, err := store.List(filter)
	if err != nil {
		return fmt.Errorf("list tasks: %w", err)
	}

	if len(list) == 0 {
		fmt.Println("No tasks found.")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tWORKSPACE\tPHASE\tORDER\tPRIORITY\tPLAN\tTITLE")
	for _, t := range list {
		plan := "-"
		if t.Plan != nil {
			plan = fmt.Sprintf("%d steps", len(t.Plan.Steps))
		} else if t.PlanningStatus != tasks.PlanningNone {
			plan = string(t.PlanningStatus)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\t%s\n",
			t.ID,
			t.WorkspaceID,
			t.Phase,
			t.Order,
			t.Priority,
			plan,
			t.Title,
		)
	}
	return w.Flush()
}

func runTasksShow(_ context.Context, cmd *cli.Command) error {
	workspaceID := cmd.String("workspace")
	taskID := cmd.Args().First()
	if workspaceID == "" || taskID == "" {
		return fmt.Errorf("usage: flowline tasks -w <workspace_id> show <task_id>")
	}

	store := tasks.NewFileStore(config.WorkspacesPath())

	t, err := store.Get(workspaceID, taskID)
	if err != nil {
		return fmt.Errorf("get task: %w", err)
	}

	fmt.Printf("%s  [%s]  %s\n", t.ID, t.Phase, t.Title)
	if t.Description != "" {
		fmt.Printf("  %s\n", t.Description)
	}
	if t.Blocked {
		fmt.Printf("  BLOCKED: %s\n", t.BlockedReason)
	}
	if t.Plan != nil {
		fmt.Println("  Plan:")
		for i, step := range t.Plan.Steps {
			fmt.Printf("    %d. %s\n", i+1, step.Title)
		}
	}
	for _, c := range t.Criteria {
		mark := " "
		if c.Met {
			mark = "x"
		}
		fmt.Printf("  [%s] %s\n", mark, c.Text)
	}

	notes, err := store.LoadNotes(workspaceID, taskID)
	if err == nil && len(notes) > 0 {
		fmt.Println("  Notes:")
		for _, n := range notes {
			fmt.Printf("    [%s] %s: %s\n", n.Ts.Format("2006-01-02 15:04"), n.Type, n.Text)
		}
	}
	return nil
}

func runTasksAdd(_ context.Context, cmd *cli.Command) error {
	workspaceID := cmd.String("workspace")
	title := cmd.Args().First()
	if workspaceID == "" || title == "" {
		return fmt.Errorf("usage: flowline tasks -w <workspace_id> add <title>")
	}

	var t tasks.Task
	err := apiDo("POST", apiBase(cmd)+"/api/workspaces/"+workspaceID+"/tasks", map[string]string{
		"title": title,
	}, &t)
	if err != nil {
		return err
	}

	fmt.Printf("Created task %s in %s\n", t.ID, t.Phase)
	return nil
}

func runTasksMove(_ context.Context, cmd *cli.Command) error {
	workspaceID := cmd.String("workspace")
	taskID := cmd.Args().Get(0)
	phase := cmd.Args().Get(1)
	if workspaceID == "" || taskID == "" || phase == "" {
		return fmt.Errorf("usage: flowline tasks -w <workspace_id> move <task_id> <phase>")
	}

	var t tasks.Task
	url := apiBase(cmd) + "/api/workspaces/" + workspaceID + "/tasks/" + taskID + "/move"
	if err := apiDo("POST", url, map[string]string{"target": phase, "reason": "cli"}, &t); err != nil {
		return err
	}

	fmt.Printf("Moved %s to %s\n", t.ID, t.Phase)
	return nil
}
