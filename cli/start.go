package cli

import (
	"context"
	"errors"
	"log/slog"
	"sync"

	"github.com/Oudwins/clawd/internals/core"
	"github.com/Oudwins/clawd/internals/logbuf"
	"github.com/Oudwins/clawd/internals/server"
	"github.com/Oudwins/clawd/tui"
	"github.com/spf13/cobra"
)

func newStartCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "start",
		Short: "Start the scheduler and the interactive terminal UI",
		Args:  noArgs,
		RunE:  runStart,
	}
	cmd.Flags().Bool("listen", false, "Also serve the HTTP API on server.addr")
	return cmd
}

func runStart(cmd *cobra.Command, args []string) error {
	listen, err := cmd.Flags().GetBool("listen")
	if err != nil {
		return err
	}
	ring := logbuf.NewRing(0)
	return withBase(cmd, ring, func(base *core.BaseServer) error {
		services := []service{
			base.Scheduler().Run,
			func(ctx context.Context) error { return tui.Run(ctx, base, ring) },
		}
		if listen {
			services = append(services, server.New(base).Start)
		}
		return runServices(cmd.Context(), base.Logger, services...)
	})
}

func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the scheduler and the HTTP API without a terminal UI",
		Args:  noArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withBase(cmd, nil, func(base *core.BaseServer) error {
				return runServices(cmd.Context(), base.Logger, base.Scheduler().Run, server.New(base).Start)
			})
		},
	}
}

type service func(ctx context.Context) error

// runServices runs every service until one returns or ctx is done, then
// cancels the rest and waits for them.
func runServices(ctx context.Context, logger *slog.Logger, services ...service) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errs := make(chan error, len(services))
	var wg sync.WaitGroup
	for _, svc := range services {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs <- svc(ctx)
		}()
	}

	first := <-errs
	cancel()
	wg.Wait()
	close(errs)

	collected := []error{ignoreCanceled(first)}
	for err := range errs {
		collected = append(collected, ignoreCanceled(err))
	}
	if err := errors.Join(collected...); err != nil {
		logger.Error("stopped with error", slog.String("error", err.Error()))
		return err
	}
	logger.Info("stopped")
	return nil
}

func ignoreCanceled(err error) error {
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
