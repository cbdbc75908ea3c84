// Package scheduler periodically evaluates active tasks and fires the ones
// that are due against the execution backend.
package scheduler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/Oudwins/clawd/internals/logbuf"
	"github.com/Oudwins/clawd/internals/schedule"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/timeouts"
)

type TaskStore interface {
	GetActiveTasks(ctx context.Context) ([]schemas.Task, error)
	UpdateNextRun(ctx context.Context, id string, nextRun time.Time) error
	UpdateRunTimes(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error
	RecordRun(ctx context.Context, run schemas.Run) (int64, error)
}

type Executor interface {
	Execute(ctx context.Context, req schemas.ExecutionRequest) (*schemas.ExecutionResult, error)
}

type State int32

const (
	StateIdle State = iota
	StateEvaluating
)

func (s State) String() string {
	if s == StateEvaluating {
		return "evaluating"
	}
	return "idle"
}

type Options struct {
	Interval time.Duration
	Now      func() time.Time
	Logger   *slog.Logger
}

type Scheduler struct {
	store    TaskStore
	executor Executor
	interval time.Duration
	now      func() time.Time
	logger   *slog.Logger
	state    atomic.Int32
}

func New(store TaskStore, executor Executor, opts Options) *Scheduler {
	if opts.Interval <= 0 {
		opts.Interval = timeouts.SchedulerTick
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Scheduler{
		store:    store,
		executor: executor,
		interval: opts.Interval,
		now:      opts.Now,
		logger:   opts.Logger.With(slog.String("component", "scheduler")),
	}
}

func (s *Scheduler) State() State {
	return State(s.state.Load())
}

// Run ticks immediately and then once per interval until ctx is done. Tick
// errors are logged and never stop the loop.
func (s *Scheduler) Run(ctx context.Context) error {
	s.logger.Info("scheduler started", slog.Duration("interval", s.interval))
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		event := logbuf.New()
		report, err := s.Tick(logbuf.WithEvent(ctx, event))
		event.Set(slog.Any("report", report))
		if err != nil {
			event.Error("tick failed", slog.String("error", err.Error()))
		}
		event.Emit(ctx, s.logger, "scheduler tick", slog.LevelDebug)

		select {
		case <-ctx.Done():
			s.logger.Info("scheduler stopped")
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

type TickReport struct {
	Evaluated int `json:"evaluated"`
	Fired     int `json:"fired"`
	Failed    int `json:"failed"`
	Skipped   int `json:"skipped"`
	Refreshed int `json:"refreshed"`
}

// Tick evaluates every active task once, sequentially. Store failures are
// collected and returned joined; a failing task never prevents the others
// from being evaluated.
func (s *Scheduler) Tick(ctx context.Context) (TickReport, error) {
	s.state.Store(int32(StateEvaluating))
	defer s.state.Store(int32(StateIdle))

	var report TickReport
	tasks, err := s.store.GetActiveTasks(ctx)
	if err != nil {
		return report, err
	}

	var errs []error
	for _, task := range tasks {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}
		report.Evaluated++
		if err := s.evaluate(ctx, task, &report); err != nil {
			errs = append(errs, err)
		}
	}
	return report, errors.Join(errs...)
}

func (s *Scheduler) evaluate(ctx context.Context, task schemas.Task, report *TickReport) error {
	logger := s.logger.With(slog.String("task_id", task.ID))

	spec, err := schedule.Parse(task.Schedule)
	if err != nil {
		logger.Error("invalid schedule", slog.String("schedule", task.Schedule), slog.String("error", err.Error()))
		recordStep(ctx, slog.LevelWarn, "task skipped", slog.String("task_id", task.ID), slog.String("reason", "invalid schedule"))
		report.Skipped++
		return nil
	}

	now := s.now()
	nextDue, ok := schedule.NextDue(spec, task.LastRun, now)
	if !ok {
		logger.Info("schedule has no upcoming occurrence", slog.String("schedule", task.Schedule))
		report.Skipped++
		return nil
	}

	due := nextDue
	if task.NextRun != nil {
		due = *task.NextRun
	}
	if due.After(now) {
		if task.NextRun == nil || task.NextRun.Before(nextDue) {
			if err := s.store.UpdateNextRun(ctx, task.ID, nextDue); err != nil {
				return err
			}
			report.Refreshed++
			logger.Info("updated next run", slog.Time("next_run", nextDue))
		}
		return nil
	}

	return s.fire(ctx, logger, task, spec, now, report)
}

func (s *Scheduler) fire(ctx context.Context, logger *slog.Logger, task schemas.Task, spec schedule.Spec, now time.Time, report *TickReport) error {
	logger.Info("running task", slog.String("target", task.Target))
	req := schemas.NewScheduledRequest(task)

	// Once started, a run and its bookkeeping outlive shutdown so the task
	// does not fire again on the next start.
	runCtx := context.WithoutCancel(ctx)
	result, execErr := s.executor.Execute(runCtx, req)
	finished := s.now()
	report.Fired++
	if result == nil {
		result = schemas.Failure("no result")
		if execErr != nil {
			result = schemas.Failure(execErr.Error())
		}
	}
	if execErr != nil || !result.OK() {
		report.Failed++
		message := result.Error
		if execErr != nil {
			message = execErr.Error()
		}
		logger.Error("task run failed", slog.String("correlation_id", req.CorrelationID), slog.String("error", message))
		recordStep(ctx, slog.LevelWarn, "task fired", slog.String("task_id", task.ID), slog.String("status", string(schemas.ExecutionStatusError)))
	} else {
		logger.Info("task run finished", slog.String("correlation_id", req.CorrelationID))
		recordStep(ctx, slog.LevelInfo, "task fired", slog.String("task_id", task.ID), slog.String("status", string(result.Status)))
	}

	writeCtx, cancel := context.WithTimeout(runCtx, timeouts.StoreWrite)
	defer cancel()

	var errs []error
	var nextRun *time.Time
	if next, ok := schedule.NextDue(spec, &now, now); ok {
		nextRun = &next
	}
	if err := s.store.UpdateRunTimes(writeCtx, task.ID, now, nextRun); err != nil {
		errs = append(errs, err)
	}

	run := schemas.Run{
		TaskID:        task.ID,
		CorrelationID: req.CorrelationID,
		Status:        result.Status,
		StartedAt:     now,
		FinishedAt:    finished,
		Transcript:    result.Transcript,
		Error:         result.Error,
	}
	if _, err := s.store.RecordRun(writeCtx, run); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// recordStep adds a step to the tick's wide event when ctx carries one.
func recordStep(ctx context.Context, level slog.Level, message string, attrs ...slog.Attr) {
	if event := logbuf.FromContext(ctx); event != nil {
		event.Log(level, message, attrs...)
	}
}
