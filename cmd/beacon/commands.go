package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/beaconhq/beacon/internal/config"
	"github.com/beaconhq/beacon/internal/tasks"
	"github.com/beaconhq/beacon/internal/workspace"
)

var configPath string

func buildRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "beacon",
		Short: "Local-first assistant runtime",
		Long: "Beacon runs a conversational agent backed by a local model, escalating to a\n" +
			"remote model when needed, with background tasks and persistent memory.",
		SilenceUsage: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to config file (or set BEACON_CONFIG)")

	rootCmd.AddCommand(
		buildServeCmd(),
		buildChatCmd(),
		buildInitCmd(),
		buildTaskCmd(),
		buildMemoryCmd(),
		buildVersionCmd(),
	)
	return rootCmd
}

// loadConfig resolves the config file from the flag, the environment, or the
// default path. A missing default file falls back to built-in defaults.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("BEACON_CONFIG")
	}
	if path == "" {
		path = "beacon.yaml"
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return config.Default(), nil
		}
	}
	return config.Load(path)
}

func buildVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("beacon %s\n", version)
		},
	}
}

func buildInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the workspace directory and seed files",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			ws := workspace.New(cfg.Workspace.Path)
			result, err := ws.Bootstrap()
			if err != nil {
				return err
			}
			for _, path := range result.Created {
				fmt.Println("created", path)
			}
			for _, path := range result.Skipped {
				fmt.Println("kept", path)
			}
			return nil
		},
	}
}

func buildTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage background tasks",
	}
	cmd.AddCommand(
		buildTaskListCmd(),
		buildTaskShowCmd(),
		buildTaskApproveCmd(),
		buildTaskRejectCmd(),
		buildTaskPauseCmd(),
		buildTaskResumeCmd(),
	)
	return cmd
}

func openTaskStore() (*tasks.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	ws := workspace.New(cfg.Workspace.Path)
	if _, err := ws.Bootstrap(); err != nil {
		return nil, nil, err
	}
	store, err := tasks.OpenStore(ws.TasksDBPath(), nil)
	if err != nil {
		return nil, nil, err
	}
	return store, func() { store.Close() }, nil
}

func buildTaskListCmd() *cobra.Command {
	var status string
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openTaskStore()
			if err != nil {
				return err
			}
			defer closeStore()

			list, err := store.List(context.Background(), tasks.ListFilter{Status: status})
			if err != nil {
				return err
			}
			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tKIND\tSTATUS\tNEXT RUN\tRUNS")
			for _, t := range list {
				next := "-"
				if t.NextRunAt != nil {
					next = t.NextRunAt.Format(time.RFC3339)
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%d\n", t.ID, t.Name, t.Kind, t.Status, next, t.RunCount)
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status (active, proposed, paused, done)")
	return cmd
}

func buildTaskShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a task and its recent runs",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openTaskStore()
			if err != nil {
				return err
			}
			defer closeStore()
			ctx := context.Background()

			t, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("no task with id %s", args[0])
			}
			fmt.Printf("%s (%s)\n  kind: %s  status: %s  runs: %d  failures: %d\n",
				t.Name, t.ID, t.Kind, t.Status, t.RunCount, t.ConsecutiveFailures)
			if t.Description != "" {
				fmt.Printf("  description: %s\n", t.Description)
			}
			fmt.Printf("  prompt: %s\n", t.Prompt)

			runs, err := store.GetRecentRuns(ctx, t.ID, 5)
			if err != nil {
				return err
			}
			for _, run := range runs {
				fmt.Printf("  run %s: %s", run.StartedAt.Format(time.RFC3339), run.Status)
				if run.Error != "" {
					fmt.Printf(" (%s)", run.Error)
				}
				fmt.Println()
			}
			return nil
		},
	}
}

func buildTaskApproveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "approve [id]",
		Short: "Approve a proposed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openTaskStore()
			if err != nil {
				return err
			}
			defer closeStore()
			ctx := context.Background()

			t, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("no task with id %s", args[0])
			}
			if t.Status != tasks.StatusProposed {
				return fmt.Errorf("task %s is %s, not proposed", t.Name, t.Status)
			}

			t.Status = tasks.StatusActive
			if next, err := tasks.CalculateNextRun(t.IntervalMs, t.CronExpression, t.BusinessHours, time.Now()); err == nil && next != nil {
				t.NextRunAt = next
			} else if t.Kind == tasks.KindOneshot {
				now := time.Now()
				t.NextRunAt = &now
			}
			if err := store.Update(ctx, t, "approved"); err != nil {
				return err
			}
			if p, err := store.GetProposalForTask(ctx, t.ID); err == nil && p != nil {
				if err := store.UpdateProposal(ctx, p.ID, tasks.ProposalApproved); err != nil {
					return err
				}
			}
			fmt.Printf("approved %s\n", t.Name)
			return nil
		},
	}
}

func buildTaskRejectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reject [id]",
		Short: "Reject a proposed task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openTaskStore()
			if err != nil {
				return err
			}
			defer closeStore()
			ctx := context.Background()

			t, err := store.Get(ctx, args[0])
			if err != nil {
				return err
			}
			if t == nil {
				return fmt.Errorf("no task with id %s", args[0])
			}
			if p, err := store.GetProposalForTask(ctx, t.ID); err == nil && p != nil {
				if err := store.UpdateProposal(ctx, p.ID, tasks.ProposalRejected); err != nil {
					return err
				}
			}
			t.Status = tasks.StatusDone
			if err := store.Update(ctx, t, "rejected"); err != nil {
				return err
			}
			fmt.Printf("rejected %s\n", t.Name)
			return nil
		},
	}
}

func buildTaskPauseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pause [id]",
		Short: "Pause a task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setTaskStatus(args[0], tasks.StatusPaused, "paused by user")
		},
	}
}

func buildTaskResumeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "resume [id]",
		Short: "Resume a paused task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return setTaskStatus(args[0], tasks.StatusActive, "resumed by user")
		},
	}
}

func setTaskStatus(id, status, reason string) error {
	store, closeStore, err := openTaskStore()
	if err != nil {
		return err
	}
	defer closeStore()
	ctx := context.Background()

	t, err := store.Get(ctx, id)
	if err != nil {
		return err
	}
	if t == nil {
		return fmt.Errorf("no task with id %s", id)
	}
	t.Status = status
	if status == tasks.StatusActive {
		t.ConsecutiveFailures = 0
		if next, err := tasks.CalculateNextRun(t.IntervalMs, t.CronExpression, t.BusinessHours, time.Now()); err == nil && next != nil {
			t.NextRunAt = next
		}
	}
	if err := store.Update(ctx, t, reason); err != nil {
		return err
	}
	fmt.Printf("%s %s\n", reason, t.Name)
	return nil
}
