package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/Oudwins/clawd/internals/core"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/tasks"
	"github.com/spf13/cobra"
)

func newTaskCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "task",
		Short: "Manage scheduled tasks",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	add := &cobra.Command{
		Use:   "add",
		Short: "Create a recurring task",
		Example: `  clawd task add --schedule "every 30m" --prompt "triage new issues"
  clawd task add --schedule "0 9 * * 1-5" --target notes --prompt "summarize yesterday"`,
		Args: noArgs,
		RunE: runTaskAdd,
	}
	add.Flags().String("id", "", "Task id (default: generated)")
	add.Flags().StringP("schedule", "s", "", `Cron expression or "every <n><s|m|h|d>" (required)`)
	add.Flags().StringP("prompt", "p", "", "Prompt sent on every run (required)")
	add.Flags().StringP("target", "t", "", "Workspace directory the agent runs in")

	list := &cobra.Command{
		Use:   "list",
		Short: "List tasks",
		Args:  noArgs,
		RunE:  withManager(runTaskList),
	}

	pause := &cobra.Command{
		Use:   "pause <id>",
		Short: "Stop a task from firing",
		Args:  exactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, manager *tasks.Manager, args []string) error {
			task, err := manager.Pause(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Paused %s\n", task.ID)
			return nil
		}),
	}

	resume := &cobra.Command{
		Use:   "resume <id>",
		Short: "Let a paused task fire again",
		Args:  exactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, manager *tasks.Manager, args []string) error {
			task, err := manager.Resume(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Resumed %s, next run %s\n", task.ID, formatTime(task.NextRun))
			return nil
		}),
	}

	remove := &cobra.Command{
		Use:     "rm <id>",
		Aliases: []string{"delete"},
		Short:   "Delete a task and its run history",
		Args:    exactArgs(1),
		RunE: withManager(func(cmd *cobra.Command, manager *tasks.Manager, args []string) error {
			if err := manager.Delete(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted %s\n", args[0])
			return nil
		}),
	}

	runs := &cobra.Command{
		Use:   "runs <id>",
		Short: "Show the most recent runs of a task",
		Args:  exactArgs(1),
		RunE:  withManager(runTaskRuns),
	}
	runs.Flags().IntP("limit", "n", 10, "Number of runs to show (0 for all)")
	runs.Flags().Bool("transcript", false, "Print each run's transcript")

	cmd.AddCommand(add, list, pause, resume, remove, runs)
	return cmd
}

type managerFunc func(cmd *cobra.Command, manager *tasks.Manager, args []string) error

func withManager(fn managerFunc) func(cmd *cobra.Command, args []string) error {
	return func(cmd *cobra.Command, args []string) error {
		return withBase(cmd, nil, func(base *core.BaseServer) error {
			return fn(cmd, tasks.NewManager(base.Store, base.Logger), args)
		})
	}
}

func runTaskAdd(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	req := schemas.TaskCreateRequest{}
	req.ID, _ = flags.GetString("id")
	req.Schedule, _ = flags.GetString("schedule")
	req.Prompt, _ = flags.GetString("prompt")
	req.Target, _ = flags.GetString("target")

	return withBase(cmd, nil, func(base *core.BaseServer) error {
		if req.Target == "" {
			req.Target = base.Config.Agent.DefaultTarget
		}
		task, err := tasks.NewManager(base.Store, base.Logger).Create(cmd.Context(), req)
		var validationErr *tasks.ValidationError
		if errors.As(err, &validationErr) {
			return fmt.Errorf("%w: %w", ErrUsage, err)
		}
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Created %s, next run %s\n", task.ID, formatTime(task.NextRun))
		return nil
	})
}

func runTaskList(cmd *cobra.Command, manager *tasks.Manager, args []string) error {
	list, err := manager.List(cmd.Context())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(list) == 0 {
		fmt.Fprintln(out, "No tasks.")
		return nil
	}
	return writeTable(out, []string{"ID", "STATUS", "SCHEDULE", "TARGET", "NEXT RUN", "LAST RUN", "PROMPT"}, func(row func(...string)) {
		for _, task := range list {
			row(task.ID, string(task.Status), task.Schedule, task.Target, formatTime(task.NextRun), formatTime(task.LastRun), truncate(task.Prompt, 40))
		}
	})
}

func runTaskRuns(cmd *cobra.Command, manager *tasks.Manager, args []string) error {
	limit, _ := cmd.Flags().GetInt("limit")
	showTranscript, _ := cmd.Flags().GetBool("transcript")

	runs, err := manager.Runs(cmd.Context(), args[0], limit)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	if len(runs) == 0 {
		fmt.Fprintf(out, "No runs for %s.\n", args[0])
		return nil
	}
	if showTranscript {
		for _, run := range runs {
			fmt.Fprintf(out, "== run %d %s %s\n", run.ID, run.Status, formatTime(&run.StartedAt))
			if run.Error != "" {
				fmt.Fprintf(out, "Error: %s\n", run.Error)
			}
			if run.Transcript != "" {
				fmt.Fprintln(out, run.Transcript)
			}
		}
		return nil
	}
	return writeTable(out, []string{"RUN", "STATUS", "STARTED", "DURATION", "ERROR"}, func(row func(...string)) {
		for _, run := range runs {
			duration := run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond)
			row(fmt.Sprint(run.ID), string(run.Status), formatTime(&run.StartedAt), duration.String(), truncate(run.Error, 60))
		}
	})
}

func writeTable(out io.Writer, header []string, rows func(row func(...string))) error {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	writeRow := func(cells ...string) {
		for i, cell := range cells {
			if i > 0 {
				fmt.Fprint(w, "\t")
			}
			fmt.Fprint(w, cell)
		}
		fmt.Fprintln(w)
	}
	writeRow(header...)
	rows(writeRow)
	return w.Flush()
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}

func truncate(s string, max int) string {
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	return string(runes[:max-1]) + "…"
}
