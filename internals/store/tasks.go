package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Oudwins/clawd/internals/schemas"
)

const taskColumns = `id, target, prompt, schedule, last_run, next_run, status, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTask(row rowScanner) (schemas.Task, error) {
	var task schemas.Task
	var status string
	var lastRun, nextRun sql.NullString
	var createdAt string
	if err := row.Scan(&task.ID, &task.Target, &task.Prompt, &task.Schedule, &lastRun, &nextRun, &status, &createdAt); err != nil {
		return schemas.Task{}, err
	}
	task.Status = schemas.TaskStatus(status)
	task.LastRun = parseTimePtr(lastRun)
	task.NextRun = parseTimePtr(nextRun)
	if created := parseTimePtr(sql.NullString{String: createdAt, Valid: true}); created != nil {
		task.CreatedAt = *created
	}
	return task, nil
}

func (s *Store) queryTasks(ctx context.Context, query string, args ...any) ([]schemas.Task, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	tasks := []schemas.Task{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (s *Store) GetActiveTasks(ctx context.Context) ([]schemas.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks WHERE status = ? ORDER BY created_at, id`, schemas.TaskStatusActive)
	if err != nil {
		return nil, fmt.Errorf("%w: get active tasks: %w", ErrStore, err)
	}
	return tasks, nil
}

func (s *Store) ListTasks(ctx context.Context) ([]schemas.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	tasks, err := s.queryTasks(ctx, `SELECT `+taskColumns+` FROM tasks ORDER BY created_at, id`)
	if err != nil {
		return nil, fmt.Errorf("%w: list tasks: %w", ErrStore, err)
	}
	return tasks, nil
}

func (s *Store) GetTask(ctx context.Context, id string) (*schemas.Task, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	task, err := scanTask(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("%w: get task %s: %w", ErrStore, id, err)
	}
	return &task, nil
}

// UpsertTask writes the full record, keeping the original created_at of an
// existing task.
func (s *Store) UpsertTask(ctx context.Context, task schemas.Task) error {
	if task.Status == "" {
		task.Status = schemas.TaskStatusActive
	}
	if task.CreatedAt.IsZero() {
		task.CreatedAt = time.Now()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO tasks (`+taskColumns+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
	target = excluded.target,
	prompt = excluded.prompt,
	schedule = excluded.schedule,
	last_run = excluded.last_run,
	next_run = excluded.next_run,
	status = excluded.status
`, task.ID, task.Target, task.Prompt, task.Schedule, formatTimePtr(task.LastRun), formatTimePtr(task.NextRun), task.Status, formatTime(task.CreatedAt))
	if err != nil {
		return fmt.Errorf("%w: upsert task %s: %w", ErrStore, task.ID, err)
	}
	return nil
}

// UpdateNextRun refreshes only the projected next run of a task.
func (s *Store) UpdateNextRun(ctx context.Context, id string, nextRun time.Time) error {
	return s.updateTask(ctx, id, `UPDATE tasks SET next_run = ? WHERE id = ?`, formatTime(nextRun), id)
}

// UpdateRunTimes records a completed fire. A nil nextRun clears the
// projection (the schedule has no further occurrence).
func (s *Store) UpdateRunTimes(ctx context.Context, id string, lastRun time.Time, nextRun *time.Time) error {
	return s.updateTask(ctx, id, `UPDATE tasks SET last_run = ?, next_run = ? WHERE id = ?`, formatTime(lastRun), formatTimePtr(nextRun), id)
}

func (s *Store) SetTaskStatus(ctx context.Context, id string, status schemas.TaskStatus) error {
	return s.updateTask(ctx, id, `UPDATE tasks SET status = ? WHERE id = ?`, status, id)
}

func (s *Store) updateTask(ctx context.Context, id string, query string, args ...any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	result, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("%w: update task %s: %w", ErrStore, id, err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%w: update task %s: %w", ErrStore, id, err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	return nil
}

// DeleteTask removes a task together with its run history.
func (s *Store) DeleteTask(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%w: delete task %s: %w", ErrStore, id, err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx, `DELETE FROM tasks WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("%w: delete task %s: %w", ErrStore, id, err)
	}
	if affected, err := result.RowsAffected(); err == nil && affected == 0 {
		return fmt.Errorf("%w: %s", ErrTaskNotFound, id)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM runs WHERE task_id = ?`, id); err != nil {
		return fmt.Errorf("%w: delete runs of %s: %w", ErrStore, id, err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%w: delete task %s: %w", ErrStore, id, err)
	}
	return nil
}
