package store

import (
	"errors"
	"testing"
	"time"

	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/testutil"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(testutil.Context(t), testutil.TempDBPath(t))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpenAppliesMigrations(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	version, err := s.SchemaVersion(ctx)
	if err != nil {
		t.Fatalf("SchemaVersion: %v", err)
	}
	if version != 2 {
		t.Fatalf("expected schema version 2, got %d", version)
	}

	for _, table := range []string{"tasks", "runs", "kv_store"} {
		var name string
		row := s.db.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE type='table' AND name=?", table)
		if err := row.Scan(&name); err != nil {
			t.Fatalf("expected table %s: %v", table, err)
		}
	}
}

func TestOpenIsIdempotent(t *testing.T) {
	path := testutil.TempDBPath(t)
	ctx := testutil.Context(t)

	first, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("first Open: %v", err)
	}
	if err := first.UpsertTask(ctx, testutil.Task("keep", "every 5m")); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	if err := first.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	second, err := Open(ctx, path)
	if err != nil {
		t.Fatalf("second Open: %v", err)
	}
	defer second.Close()
	if _, err := second.GetTask(ctx, "keep"); err != nil {
		t.Fatalf("expected task to survive reopen: %v", err)
	}
}

func TestTaskRoundTrip(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	task := testutil.Task("t1", "*/5 * * * *")
	last := testutil.FixedTime().Add(-time.Hour)
	task.LastRun = &last
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Prompt != task.Prompt || got.Schedule != task.Schedule || got.Target != task.Target {
		t.Fatalf("unexpected task %+v", got)
	}
	if got.LastRun == nil || !got.LastRun.Equal(last) {
		t.Fatalf("expected last run %v, got %v", last, got.LastRun)
	}
	if got.NextRun != nil {
		t.Fatalf("expected no next run, got %v", got.NextRun)
	}
	if !got.CreatedAt.Equal(task.CreatedAt) {
		t.Fatalf("expected created_at %v, got %v", task.CreatedAt, got.CreatedAt)
	}
}

func TestUpsertTaskReplacesFields(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	task := testutil.Task("t1", "every 5m")
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	task.Prompt = "updated"
	task.Schedule = "every 1h"
	task.CreatedAt = task.CreatedAt.Add(time.Hour)
	if err := s.UpsertTask(ctx, task); err != nil {
		t.Fatalf("UpsertTask update: %v", err)
	}

	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.Prompt != "updated" || got.Schedule != "every 1h" {
		t.Fatalf("expected updated fields, got %+v", got)
	}
	if !got.CreatedAt.Equal(testutil.FixedTime()) {
		t.Fatalf("expected created_at to be preserved, got %v", got.CreatedAt)
	}

	tasks, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(tasks) != 1 {
		t.Fatalf("expected 1 task, got %d", len(tasks))
	}
}

func TestGetActiveTasksSkipsPaused(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	for _, id := range []string{"a", "b", "c"} {
		if err := s.UpsertTask(ctx, testutil.Task(id, "every 1m")); err != nil {
			t.Fatalf("UpsertTask %s: %v", id, err)
		}
	}
	if err := s.SetTaskStatus(ctx, "b", schemas.TaskStatusPaused); err != nil {
		t.Fatalf("SetTaskStatus: %v", err)
	}

	active, err := s.GetActiveTasks(ctx)
	if err != nil {
		t.Fatalf("GetActiveTasks: %v", err)
	}
	if len(active) != 2 || active[0].ID != "a" || active[1].ID != "c" {
		t.Fatalf("unexpected active tasks %+v", active)
	}

	all, err := s.ListTasks(ctx)
	if err != nil {
		t.Fatalf("ListTasks: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 tasks, got %d", len(all))
	}
}

func TestGetActiveTasksEmpty(t *testing.T) {
	s := openTestStore(t)

	active, err := s.GetActiveTasks(testutil.Context(t))
	if err != nil {
		t.Fatalf("GetActiveTasks: %v", err)
	}
	if active == nil || len(active) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", active)
	}
}

func TestUpdateRunTimes(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	if err := s.UpsertTask(ctx, testutil.Task("t1", "every 5m")); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}

	next := testutil.FixedTime().Add(10 * time.Minute)
	if err := s.UpdateNextRun(ctx, "t1", next); err != nil {
		t.Fatalf("UpdateNextRun: %v", err)
	}
	got, err := s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.NextRun == nil || !got.NextRun.Equal(next) || got.LastRun != nil {
		t.Fatalf("unexpected times last=%v next=%v", got.LastRun, got.NextRun)
	}

	last := testutil.FixedTime()
	if err := s.UpdateRunTimes(ctx, "t1", last, nil); err != nil {
		t.Fatalf("UpdateRunTimes: %v", err)
	}
	got, err = s.GetTask(ctx, "t1")
	if err != nil {
		t.Fatalf("GetTask: %v", err)
	}
	if got.LastRun == nil || !got.LastRun.Equal(last) {
		t.Fatalf("expected last run %v, got %v", last, got.LastRun)
	}
	if got.NextRun != nil {
		t.Fatalf("expected next run cleared, got %v", got.NextRun)
	}
}

func TestUpdatesOnMissingTask(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	if err := s.UpdateNextRun(ctx, "missing", testutil.FixedTime()); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := s.SetTaskStatus(ctx, "missing", schemas.TaskStatusPaused); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if _, err := s.GetTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
	if err := s.DeleteTask(ctx, "missing"); !errors.Is(err, ErrTaskNotFound) {
		t.Fatalf("expected ErrTaskNotFound, got %v", err)
	}
}

func TestRunsNewestFirstAndDeletedWithTask(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	if err := s.UpsertTask(ctx, testutil.Task("t1", "every 5m")); err != nil {
		t.Fatalf("UpsertTask: %v", err)
	}
	start := testutil.FixedTime()
	for i, status := range []schemas.ExecutionStatus{schemas.ExecutionStatusSuccess, schemas.ExecutionStatusError, schemas.ExecutionStatusSuccess} {
		run := schemas.Run{
			TaskID:        "t1",
			CorrelationID: "c",
			Status:        status,
			StartedAt:     start.Add(time.Duration(i) * time.Minute),
			FinishedAt:    start.Add(time.Duration(i)*time.Minute + time.Second),
		}
		if status == schemas.ExecutionStatusError {
			run.Error = "boom"
		} else {
			run.Transcript = "done"
		}
		if _, err := s.RecordRun(ctx, run); err != nil {
			t.Fatalf("RecordRun: %v", err)
		}
	}

	runs, err := s.ListRuns(ctx, "t1", 2)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(runs) != 2 {
		t.Fatalf("expected 2 runs, got %d", len(runs))
	}
	if !runs[0].StartedAt.Equal(start.Add(2*time.Minute)) || runs[1].Error != "boom" {
		t.Fatalf("unexpected run order %+v", runs)
	}

	all, err := s.ListRuns(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("expected 3 runs, got %d", len(all))
	}

	if err := s.DeleteTask(ctx, "t1"); err != nil {
		t.Fatalf("DeleteTask: %v", err)
	}
	remaining, err := s.ListRuns(ctx, "t1", 0)
	if err != nil {
		t.Fatalf("ListRuns: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected runs to be deleted, got %d", len(remaining))
	}
}

func TestKeyValue(t *testing.T) {
	s := openTestStore(t)
	ctx := testutil.Context(t)

	if _, ok, err := s.GetValue(ctx, "missing"); err != nil || ok {
		t.Fatalf("expected missing key, got ok=%v err=%v", ok, err)
	}
	if err := s.SetValue(ctx, "k", "v1"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	if err := s.SetValue(ctx, "k", "v2"); err != nil {
		t.Fatalf("SetValue: %v", err)
	}
	value, ok, err := s.GetValue(ctx, "k")
	if err != nil || !ok || value != "v2" {
		t.Fatalf("expected v2, got %q ok=%v err=%v", value, ok, err)
	}
	if err := s.DeleteValue(ctx, "k"); err != nil {
		t.Fatalf("DeleteValue: %v", err)
	}
	if _, ok, _ := s.GetValue(ctx, "k"); ok {
		t.Fatalf("expected key to be deleted")
	}
}
