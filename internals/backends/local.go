package backends

import (
	"context"
	"fmt"
	"os"
	"os/exec"

	"github.com/Oudwins/clawd/internals/conf"
)

var lookPath = exec.LookPath

// LocalDriver runs the agent binary directly on the host. It is ready when
// the binary is on PATH and can neither be created nor started.
type LocalDriver struct {
	agent        conf.AgentConfig
	workspaceDir string
	env          []string
}

func NewLocalDriver(agent conf.AgentConfig, workspaceDir string, env ...string) *LocalDriver {
	return &LocalDriver{agent: agent, workspaceDir: workspaceDir, env: env}
}

func (l *LocalDriver) Name() string {
	return "local:" + l.agent.Binary
}

func (l *LocalDriver) Inspect(_ context.Context) (Observation, error) {
	if _, err := lookPath(l.agent.Binary); err != nil {
		return Observation{Exists: false}, nil
	}
	return Observation{Exists: true, Running: true}, nil
}

func (l *LocalDriver) Create(_ context.Context) error {
	return fmt.Errorf("%w: %s not found in PATH", ErrBackendUnreachable, l.agent.Binary)
}

func (l *LocalDriver) Start(ctx context.Context) error {
	return l.Create(ctx)
}

func (l *LocalDriver) Exec(ctx context.Context, target string, prompt string, stdin []byte) (ExecOutput, error) {
	dir, err := targetDir(l.workspaceDir, target)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return ExecOutput{}, fmt.Errorf("%w: failed to create target dir: %w", ErrTransport, err)
	}
	args := append(append([]string{}, l.agent.Args...), prompt)
	cmd := execCommand(ctx, l.agent.Binary, args...)
	cmd.Dir = dir
	if len(l.env) > 0 {
		base := cmd.Env
		if base == nil {
			base = os.Environ()
		}
		cmd.Env = append(base, l.env...)
	}
	return runCommand(cmd, stdin)
}
