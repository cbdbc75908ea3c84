// Package tasks implements task management shared by the CLI and the HTTP
// API on top of the store.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Oudwins/clawd/internals/schedule"
	"github.com/Oudwins/clawd/internals/schemas"
	"github.com/Oudwins/clawd/internals/store"

	z "github.com/Oudwins/zog"
)

var ErrTaskExists = errors.New("task already exists")

// generatedIDAttempts bounds how many fresh ids Create draws before giving up.
const generatedIDAttempts = 5

// ValidationError carries per-field messages for an invalid request.
type ValidationError struct {
	Fields map[string][]string
}

func (e *ValidationError) Error() string {
	parts := make([]string, 0, len(e.Fields))
	for field, messages := range e.Fields {
		parts = append(parts, field+": "+strings.Join(messages, ", "))
	}
	return "invalid task: " + strings.Join(parts, "; ")
}

type Manager struct {
	store  *store.Store
	now    func() time.Time
	newID  func() string
	logger *slog.Logger
}

func NewManager(st *store.Store, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{store: st, now: time.Now, newID: schemas.NewTaskID, logger: logger}
}

// Create validates req and stores a new active task. Its next run is
// projected immediately so listings show when it will fire.
func (m *Manager) Create(ctx context.Context, req schemas.TaskCreateRequest) (*schemas.Task, error) {
	if issues := schemas.TaskCreateSchema.Validate(&req); len(issues) > 0 {
		return nil, &ValidationError{Fields: z.Issues.Flatten(issues)}
	}
	spec, err := schedule.Parse(req.Schedule)
	if err != nil {
		return nil, &ValidationError{Fields: map[string][]string{"schedule": {err.Error()}}}
	}

	if req.ID != "" {
		taken, err := m.exists(ctx, req.ID)
		if err != nil {
			return nil, err
		}
		if taken {
			return nil, fmt.Errorf("%w: %s", ErrTaskExists, req.ID)
		}
	} else {
		id, err := m.freshID(ctx)
		if err != nil {
			return nil, err
		}
		req.ID = id
	}

	now := m.now()
	task := schemas.NewTask(req, now)
	if next, ok := schedule.NextDue(spec, nil, now); ok {
		task.NextRun = &next
	}
	if err := m.store.UpsertTask(ctx, task); err != nil {
		return nil, err
	}
	m.logger.Info("task created", slog.String("task_id", task.ID), slog.String("schedule", task.Schedule))
	return &task, nil
}

func (m *Manager) exists(ctx context.Context, id string) (bool, error) {
	_, err := m.store.GetTask(ctx, id)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrTaskNotFound) {
		return false, nil
	}
	return false, err
}

// freshID draws generated ids until one is unused, since short ids can
// collide and the store upserts.
func (m *Manager) freshID(ctx context.Context) (string, error) {
	var id string
	for range generatedIDAttempts {
		id = m.newID()
		taken, err := m.exists(ctx, id)
		if err != nil {
			return "", err
		}
		if !taken {
			return id, nil
		}
		m.logger.Debug("generated task id already taken", slog.String("task_id", id))
	}
	return "", fmt.Errorf("%w: no free id after %d attempts, last %s", ErrTaskExists, generatedIDAttempts, id)
}

func (m *Manager) List(ctx context.Context) ([]schemas.Task, error) {
	return m.store.ListTasks(ctx)
}

func (m *Manager) Get(ctx context.Context, id string) (*schemas.Task, error) {
	return m.store.GetTask(ctx, id)
}

func (m *Manager) Pause(ctx context.Context, id string) (*schemas.Task, error) {
	if err := m.store.SetTaskStatus(ctx, id, schemas.TaskStatusPaused); err != nil {
		return nil, err
	}
	m.logger.Info("task paused", slog.String("task_id", id))
	return m.store.GetTask(ctx, id)
}

// Resume reactivates a task and reprojects its next run from now, so a long
// pause does not trigger an immediate catch-up fire.
func (m *Manager) Resume(ctx context.Context, id string) (*schemas.Task, error) {
	task, err := m.store.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	task.Status = schemas.TaskStatusActive
	task.NextRun = nil
	if spec, err := schedule.Parse(task.Schedule); err == nil {
		if next, ok := schedule.NextDue(spec, task.LastRun, m.now()); ok {
			task.NextRun = &next
		}
	}
	if err := m.store.UpsertTask(ctx, *task); err != nil {
		return nil, err
	}
	m.logger.Info("task resumed", slog.String("task_id", id))
	return task, nil
}

func (m *Manager) Delete(ctx context.Context, id string) error {
	if err := m.store.DeleteTask(ctx, id); err != nil {
		return err
	}
	m.logger.Info("task deleted", slog.String("task_id", id))
	return nil
}

func (m *Manager) Runs(ctx context.Context, id string, limit int) ([]schemas.Run, error) {
	if _, err := m.store.GetTask(ctx, id); err != nil {
		return nil, err
	}
	return m.store.ListRuns(ctx, id, limit)
}
