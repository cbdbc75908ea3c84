package cli

import (
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/Oudwins/clawd/internals/core"
	"github.com/spf13/cobra"
)

// ErrUsage marks errors caused by how the command was invoked.
var ErrUsage = errors.New("usage error")

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "clawd",
		Short: "Run an AI coding agent on demand or on a schedule",
		Long: `clawd drives a coding agent that runs inside a long-lived container or as
a local binary. Prompts can be sent interactively, one shot, or on a
recurring schedule.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return cmd.Help()
			}
			return fmt.Errorf("%w: unknown command %q", ErrUsage, args[0])
		},
	}
	root.SetFlagErrorFunc(func(cmd *cobra.Command, err error) error {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	})
	root.PersistentFlags().String("data-dir", "", "Data directory (default: $CLAWD_DATA_DIR or ~/.clawd)")

	root.AddCommand(
		newStartCmd(),
		newServeCmd(),
		newRunCmd(),
		newSetupCmd(),
		newDBCheckCmd(),
		newTaskCmd(),
		newVersionCmd(),
	)
	return root
}

// Execute runs the command line in args, writing results to stdout.
func Execute(ctx context.Context, args []string, stdout io.Writer, stderr io.Writer) error {
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)
	return root.ExecuteContext(ctx)
}

// exactArgs is cobra.ExactArgs reported as a usage error.
func exactArgs(n int) cobra.PositionalArgs {
	return func(cmd *cobra.Command, args []string) error {
		if err := cobra.ExactArgs(n)(cmd, args); err != nil {
			return fmt.Errorf("%w: %w", ErrUsage, err)
		}
		return nil
	}
}

func noArgs(cmd *cobra.Command, args []string) error {
	if err := cobra.NoArgs(cmd, args); err != nil {
		return fmt.Errorf("%w: %w", ErrUsage, err)
	}
	return nil
}

// withBase opens the shared dependencies for the duration of fn. Logs go to
// console, or to the command's stderr when console is nil.
func withBase(cmd *cobra.Command, console io.Writer, fn func(base *core.BaseServer) error) error {
	dataDir, err := cmd.Flags().GetString("data-dir")
	if err != nil {
		return err
	}
	if console == nil {
		console = cmd.ErrOrStderr()
	}
	base, err := core.New(cmd.Context(), core.Options{Console: console, DataDir: dataDir})
	if err != nil {
		return err
	}
	runErr := fn(base)
	closeErr := base.Close()
	return errors.Join(runErr, closeErr)
}
