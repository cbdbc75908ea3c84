package scheduler

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/Oudwins/clawd/internals/logbuf"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/store"
	"github.com/Oudwins/clawd/internals/testutil"
)

type memStore struct {
	mu         sync.Mutex
	tasks      []schemas.Task
	runs       []schemas.Run
	nextRunErr error
}

func (m *memStore) GetActiveTasks(context.Context) ([]schemas.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var active []schemas.Task
	for _, task := range m.tasks {
		if task.Active() {
			active = append(active, task)
		}
	}
	return active, nil
}

func (m *memStore) find(id string) *schemas.Task {
	for i := range m.tasks {
		if m.tasks[i].ID == id {
			return &m.tasks[i]
		}
	}
	return nil
}

func (m *memStore) UpdateNextRun(_ context.Context, id string, nextRun time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.nextRunErr != nil {
		return m.nextRunErr
	}
	m.find(id).NextRun = &nextRun
	return nil
}

func (m *memStore) UpdateRunTimes(_ context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	task := m.find(id)
	task.LastRun = &lastRun
	task.NextRun = nextRun
	return nil
}

func (m *memStore) RecordRun(_ context.Context, run schemas.Run) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.runs = append(m.runs, run)
	return int64(len(m.runs)), nil
}

type fakeExecutor struct {
	requests []schemas.ExecutionRequest
	err      error
}

func (f *fakeExecutor) Execute(_ context.Context, req schemas.ExecutionRequest) (*schemas.ExecutionResult, error) {
	f.requests = append(f.requests, req)
	if f.err != nil {
		return schemas.Failure(f.err.Error()), f.err
	}
	return schemas.Success("done " + req.Prompt), nil
}

func newTestScheduler(st TaskStore, exec Executor, now time.Time) *Scheduler {
	return New(st, exec, Options{Now: func() time.Time { return now }, Logger: testutil.DiscardLogger()})
}

func timePtr(t time.Time) *time.Time {
	return &t
}

func TestTickRefreshesNextRunWithoutFiring(t *testing.T) {
	now := testutil.FixedTime()
	st := &memStore{tasks: []schemas.Task{testutil.Task("t1", "every 5m")}}
	exec := &fakeExecutor{}

	report, err := newTestScheduler(st, exec, now).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(exec.requests) != 0 {
		t.Fatalf("expected no execution, got %d", len(exec.requests))
	}
	if report.Refreshed != 1 || report.Fired != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if next := st.tasks[0].NextRun; next == nil || !next.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("expected next run now+5m, got %v", next)
	}
}

func TestTickFiresWhenStoredNextRunIsDue(t *testing.T) {
	now := testutil.FixedTime()
	task := testutil.Task("t1", "every 5m")
	task.Target = "ops"
	task.NextRun = timePtr(now.Add(-time.Second))
	st := &memStore{tasks: []schemas.Task{task}}
	exec := &fakeExecutor{}

	report, err := newTestScheduler(st, exec, now).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Fired != 1 || report.Failed != 0 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(exec.requests) != 1 {
		t.Fatalf("expected one execution, got %d", len(exec.requests))
	}
	req := exec.requests[0]
	if !req.IsScheduled || req.IsPrimary || req.SessionID != "scheduled-task" || req.TargetContext != "ops" || req.CorrelationID == "" {
		t.Fatalf("unexpected request %+v", req)
	}

	got := st.tasks[0]
	if got.LastRun == nil || !got.LastRun.Equal(now) {
		t.Fatalf("expected last run %v, got %v", now, got.LastRun)
	}
	if got.NextRun == nil || !got.NextRun.Equal(now.Add(5*time.Minute)) {
		t.Fatalf("expected next run now+5m, got %v", got.NextRun)
	}
	if len(st.runs) != 1 || st.runs[0].Status != schemas.ExecutionStatusSuccess || st.runs[0].Transcript != "done "+task.Prompt {
		t.Fatalf("unexpected runs %+v", st.runs)
	}
}

func TestTickUpdatesTimesWhenRunFails(t *testing.T) {
	now := testutil.FixedTime()
	task := testutil.Task("t1", "every 1h")
	task.NextRun = timePtr(now)
	st := &memStore{tasks: []schemas.Task{task}}
	exec := &fakeExecutor{err: errors.New("backend unreachable")}

	report, err := newTestScheduler(st, exec, now).Tick(context.Background())
	if err != nil {
		t.Fatalf("controller errors must not surface from the tick: %v", err)
	}
	if report.Fired != 1 || report.Failed != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	got := st.tasks[0]
	if got.LastRun == nil || !got.LastRun.Equal(now) || got.NextRun == nil || !got.NextRun.Equal(now.Add(time.Hour)) {
		t.Fatalf("expected run times to advance, got last=%v next=%v", got.LastRun, got.NextRun)
	}
	if len(st.runs) != 1 || st.runs[0].Status != schemas.ExecutionStatusError || st.runs[0].Error == "" {
		t.Fatalf("expected failed run recorded, got %+v", st.runs)
	}
}

func TestTickInvalidScheduleDoesNotBlockOthers(t *testing.T) {
	now := testutil.FixedTime()
	bad := testutil.Task("bad", "every 5x")
	bad.NextRun = timePtr(now.Add(-time.Minute))
	good := testutil.Task("good", "every 5m")
	good.NextRun = timePtr(now.Add(-time.Minute))
	st := &memStore{tasks: []schemas.Task{bad, good}}
	exec := &fakeExecutor{}

	report, err := newTestScheduler(st, exec, now).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Skipped != 1 || report.Fired != 1 {
		t.Fatalf("unexpected report %+v", report)
	}
	if len(exec.requests) != 1 || exec.requests[0].Prompt != good.Prompt {
		t.Fatalf("expected only the valid task to run, got %+v", exec.requests)
	}
	if !st.tasks[0].Active() || st.tasks[0].LastRun != nil {
		t.Fatalf("invalid task must stay active and untouched, got %+v", st.tasks[0])
	}
}

func TestTickRecordsStepsOnEvent(t *testing.T) {
	now := testutil.FixedTime()
	bad := testutil.Task("bad", "every 5x")
	good := testutil.Task("good", "every 5m")
	good.NextRun = timePtr(now.Add(-time.Minute))
	st := &memStore{tasks: []schemas.Task{bad, good}}

	event := logbuf.New()
	if _, err := newTestScheduler(st, &fakeExecutor{}, now).Tick(logbuf.WithEvent(context.Background(), event)); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	var out bytes.Buffer
	event.Emit(context.Background(), slog.New(slog.NewJSONHandler(&out, nil)), "scheduler tick", slog.LevelDebug)
	logged := out.String()
	for _, want := range []string{`"level":"WARN"`, `"task skipped"`, `"task_id":"good"`, `"status":"success"`} {
		if !strings.Contains(logged, want) {
			t.Fatalf("expected %s in %s", want, logged)
		}
	}
}

func TestTickSkipsPausedTasks(t *testing.T) {
	now := testutil.FixedTime()
	task := testutil.Task("t1", "every 1m")
	task.Status = schemas.TaskStatusPaused
	task.NextRun = timePtr(now.Add(-time.Hour))
	st := &memStore{tasks: []schemas.Task{task}}
	exec := &fakeExecutor{}

	report, err := newTestScheduler(st, exec, now).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Evaluated != 0 || len(exec.requests) != 0 {
		t.Fatalf("paused task must not be evaluated, report=%+v", report)
	}
}

func TestTickDoesNotRewindLaterNextRun(t *testing.T) {
	now := testutil.FixedTime()
	task := testutil.Task("t1", "every 5m")
	later := now.Add(time.Hour)
	task.NextRun = &later
	st := &memStore{tasks: []schemas.Task{task}}

	report, err := newTestScheduler(st, &fakeExecutor{}, now).Tick(context.Background())
	if err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if report.Refreshed != 0 || !st.tasks[0].NextRun.Equal(later) {
		t.Fatalf("expected stored next run to be kept, got %v", st.tasks[0].NextRun)
	}
}

func TestTickCollectsStoreErrors(t *testing.T) {
	now := testutil.FixedTime()
	st := &memStore{
		tasks:      []schemas.Task{testutil.Task("a", "every 5m"), testutil.Task("b", "every 5m")},
		nextRunErr: store.ErrStore,
	}

	report, err := newTestScheduler(st, &fakeExecutor{}, now).Tick(context.Background())
	if !errors.Is(err, store.ErrStore) {
		t.Fatalf("expected store error, got %v", err)
	}
	if report.Evaluated != 2 {
		t.Fatalf("expected every task to be evaluated, got %+v", report)
	}
}

func TestTickCronTask(t *testing.T) {
	now := testutil.FixedTime()
	st := &memStore{tasks: []schemas.Task{testutil.Task("cron", "*/5 * * * *")}}
	exec := &fakeExecutor{}
	sched := newTestScheduler(st, exec, now)

	if _, err := sched.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	want := time.Date(2026, time.March, 10, 10, 35, 0, 0, time.UTC)
	if next := st.tasks[0].NextRun; next == nil || !next.Equal(want) {
		t.Fatalf("expected next run %v, got %v", want, next)
	}

	later := newTestScheduler(st, exec, want.Add(30*time.Second))
	if _, err := later.Tick(context.Background()); err != nil {
		t.Fatalf("Tick: %v", err)
	}
	if len(exec.requests) != 1 {
		t.Fatalf("expected cron task to fire once, got %d", len(exec.requests))
	}
	wantNext := time.Date(2026, time.March, 10, 10, 40, 0, 0, time.UTC)
	if next := st.tasks[0].NextRun; next == nil || !next.Equal(wantNext) {
		t.Fatalf("expected next run %v, got %v", wantNext, next)
	}
}

func TestTickWithSQLiteStore(t *testing.T) {
	ctx := testutil.Context(t)
	st, err := store.Open(ctx, testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	now := testutil.FixedTime()
	task := testutil.Task("t1", "every 10m")
	task.NextRun = timePtr(now.Add(-time.Minute))
	if err := st.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	if _, err := newTestScheduler(st, &fakeExecutor{}, now).Tick(ctx); err != nil {
		t.Fatalf("Tick: %v", err)
	}

	got, err := st.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(now) || got.NextRun == nil || !got.NextRun.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("unexpected run times last=%v next=%v", got.LastRun, got.NextRun)
	}
	runs, err := st.ListRuns(ctx, "t1", 10)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 || runs[0].Status != schemas.ExecutionStatusSuccess {
		t.Fatalf("unexpected runs %+v", runs)
	}
}

// cancelingExecutor cancels the tick's context while the run is in flight.
type cancelingExecutor struct {
	cancel  context.CancelFunc
	ctxErrs []error
}

func (c *cancelingExecutor) Execute(ctx context.Context, req schemas.ExecutionRequest) (*schemas.ExecutionResult, error) {
	c.cancel()
	c.ctxErrs = append(c.ctxErrs, ctx.Err())
	return schemas.Success("done " + req.Prompt), nil
}

func TestTickPersistsRunWhenShutdownDuringFire(t *testing.T) {
	st, err := store.Open(testutil.Context(t), testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer st.Close()

	now := testutil.FixedTime()
	first := testutil.Task("t1", "every 10m")
	first.NextRun = timePtr(now.Add(-time.Minute))
	second := testutil.Task("t2", "every 10m")
	second.NextRun = timePtr(now.Add(-time.Minute))
	for _, task := range []schemas.Task{first, second} {
		if err := st.UpsertTask(testutil.Context(t), task); err != nil {
			t.Fatalf("UpsertTask: %v", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &cancelingExecutor{cancel: cancel}
	report, err := newTestScheduler(st, exec, now).Tick(ctx)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected tick to stop with context.Canceled, got %v", err)
	}
	if report.Fired != 1 || len(exec.ctxErrs) != 1 || exec.ctxErrs[0] != nil {
		t.Fatalf("expected one uncancelled run, got report=%+v ctxErrs=%v", report, exec.ctxErrs)
	}

	got, err := st.GetTask(testutil.Context(t), "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(now) || got.NextRun == nil || !got.NextRun.Equal(now.Add(10*time.Minute)) {
		t.Fatalf("fired task's run times were not persisted: last=%v next=%v", got.LastRun, got.NextRun)
	}
	runs, err := st.ListRuns(testutil.Context(t), "t1", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 1 {
		t.Fatalf("expected the run to be recorded, got %+v", runs)
	}
}

func TestRunStopsOnCancel(t *testing.T) {
	st := &memStore{}
	sched := New(st, &fakeExecutor{}, Options{Interval: time.Millisecond, Logger: testutil.DiscardLogger()})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- sched.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("scheduler did not stop")
	}
	if sched.State() != StateIdle {
		t.Fatalf("expected idle after stop, got %s", sched.State())
	}
}
