package cli

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/Oudwins/clawd/internals/backends"
	"github.com/Oudwins/clawd/internals/conf"
	"github.com/Oudwins/clawd/internals/store"
	"github.com/Oudwins/clawd/internals/tasks"
	"github.com/Oudwins/clawd/internals/testutil"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, dataDir string, args ...string) (string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	args = append(args, "--data-dir", dataDir)
	err := Execute(testutil.Context(t), args, &stdout, &stderr)
	return stdout.String(), err
}

func TestVersionCommand(t *testing.T) {
	out, err := execute(t, t.TempDir(), "version")
	require.NoError(t, err)
	require.NotEmpty(t, strings.TrimSpace(out))
}

func TestUsageErrors(t *testing.T) {
	cases := map[string][]string{
		"unknown command":  {"bogus"},
		"unknown flag":     {"version", "--bogus"},
		"missing argument": {"task", "pause"},
		"extra argument":   {"version", "extra"},
		"missing prompt":   {"run", "--target", "main"},
	}
	for name, args := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := execute(t, t.TempDir(), args...)
			require.ErrorIs(t, err, ErrUsage)
		})
	}
}

func TestRootWithoutArgsPrintsHelp(t *testing.T) {
	out, err := execute(t, t.TempDir())
	require.NoError(t, err)
	require.Contains(t, out, "task")
}

func TestDBCheck(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, dir, "db-check")
	require.NoError(t, err)
	require.Contains(t, out, "schema version: 2")
	require.Contains(t, out, filepath.Join(dir, "clawd.db"))
}

func TestRunSurfacesBackendError(t *testing.T) {
	dir := t.TempDir()
	config := `{"backend": {"driver": "local"}, "agent": {"binary": "clawd-missing-agent-binary"}}`
	require.NoError(t, os.WriteFile(filepath.Join(dir, conf.FileName), []byte(config), 0o644))

	_, err := execute(t, dir, "run", "--prompt", "hi")
	require.ErrorIs(t, err, ErrRunFailed)
	require.ErrorIs(t, err, backends.ErrBackendUnreachable)
}

func TestTaskLifecycle(t *testing.T) {
	dir := t.TempDir()

	out, err := execute(t, dir, "task", "add", "--id", "nightly", "--schedule", "every 1h", "--prompt", "triage issues")
	require.NoError(t, err)
	require.Contains(t, out, "Created nightly")

	out, err = execute(t, dir, "task", "list")
	require.NoError(t, err)
	require.Contains(t, out, "nightly")
	require.Contains(t, out, "active")
	require.Contains(t, out, "every 1h")

	_, err = execute(t, dir, "task", "pause", "nightly")
	require.NoError(t, err)
	out, err = execute(t, dir, "task", "list")
	require.NoError(t, err)
	require.Contains(t, out, "paused")

	out, err = execute(t, dir, "task", "resume", "nightly")
	require.NoError(t, err)
	require.Contains(t, out, "Resumed nightly")

	out, err = execute(t, dir, "task", "runs", "nightly")
	require.NoError(t, err)
	require.Contains(t, out, "No runs for nightly.")

	_, err = execute(t, dir, "task", "rm", "nightly")
	require.NoError(t, err)
	out, err = execute(t, dir, "task", "list")
	require.NoError(t, err)
	require.Contains(t, out, "No tasks.")
}

func TestTaskAddRejectsInvalidSchedule(t *testing.T) {
	_, err := execute(t, t.TempDir(), "task", "add", "--schedule", "every 5q", "--prompt", "hi")
	require.ErrorIs(t, err, ErrUsage)
	require.Contains(t, err.Error(), "schedule")
}

func TestTaskAddDuplicateID(t *testing.T) {
	dir := t.TempDir()
	_, err := execute(t, dir, "task", "add", "--id", "dup", "--schedule", "@hourly", "--prompt", "hi")
	require.NoError(t, err)

	_, err = execute(t, dir, "task", "add", "--id", "dup", "--schedule", "@hourly", "--prompt", "hi")
	require.ErrorIs(t, err, tasks.ErrTaskExists)
}

func TestTaskCommandsOnMissingTask(t *testing.T) {
	dir := t.TempDir()
	for _, args := range [][]string{
		{"task", "pause", "ghost"},
		{"task", "resume", "ghost"},
		{"task", "rm", "ghost"},
		{"task", "runs", "ghost"},
	} {
		_, err := execute(t, dir, args...)
		require.ErrorIs(t, err, store.ErrTaskNotFound, "args %v", args)
	}
}

func TestSetupStoresAPIKey(t *testing.T) {
	dir := t.TempDir()
	out, err := execute(t, dir, "setup", "--api-key", "secret-key", "--skip-backend")
	require.NoError(t, err)
	require.Contains(t, out, "API key stored.")

	st, err := store.Open(testutil.Context(t), filepath.Join(dir, "clawd.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	value, ok, err := st.GetValue(testutil.Context(t), "gemini_api_key")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "secret-key", value)
}

func TestRunServicesStopsOthersWhenOneReturns(t *testing.T) {
	stopped := make(chan struct{})
	err := runServices(context.Background(), testutil.DiscardLogger(),
		func(ctx context.Context) error { return nil },
		func(ctx context.Context) error {
			<-ctx.Done()
			close(stopped)
			return ctx.Err()
		},
	)
	require.NoError(t, err)

	select {
	case <-stopped:
	case <-time.After(time.Second):
		t.Fatal("expected the long-running service to be cancelled")
	}
}

func TestRunServicesReturnsFailure(t *testing.T) {
	boom := errors.New("boom")
	err := runServices(context.Background(), testutil.DiscardLogger(),
		func(ctx context.Context) error { return boom },
		func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		},
	)
	require.ErrorIs(t, err, boom)
}
