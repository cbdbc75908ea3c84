package testutil

import (
	"context"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/Oudwins/clawd/internals/schemas"
)

func TempDBPath(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	return filepath.Join(root, "clawd.db")
}

func DiscardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func Context(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// FixedTime is a reference instant used across tests.
func FixedTime() time.Time {
	return time.Date(2026, time.March, 10, 10, 30, 0, 0, time.UTC)
}

func Task(id string, schedule string) schemas.Task {
	return schemas.Task{
		ID:        id,
		Target:    schemas.DefaultTarget,
		Prompt:    "check " + id,
		Schedule:  schedule,
		Status:    schemas.TaskStatusActive,
		CreatedAt: FixedTime(),
	}
}
