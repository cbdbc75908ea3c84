package backends

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/Oudwins/clawd/internals/conf"
)

// containerHome is where credential directories are mounted inside the
// container.
const containerHome = "/home/clawd"

// DockerDriver manages one named container through a docker-compatible CLI.
type DockerDriver struct {
	config conf.BackendConfig
	env    []string
}

// NewDockerDriver builds a driver for config. env entries (KEY=VALUE) are
// passed to every exec, so they can change without recreating the container.
func NewDockerDriver(config conf.BackendConfig, env ...string) *DockerDriver {
	if config.Runtime == "" {
		config.Runtime = "docker"
	}
	return &DockerDriver{config: config, env: env}
}

func (d *DockerDriver) Name() string {
	return d.config.Name
}

type containerState struct {
	Running bool `json:"Running"`
	Health  *struct {
		Status string `json:"Status"`
	} `json:"Health"`
}

func (d *DockerDriver) Inspect(ctx context.Context) (Observation, error) {
	out, err := runLifecycle(ctx, d.config.Runtime, "inspect", "--type", "container", "--format", "{{json .State}}", d.config.Name)
	if err != nil {
		return Observation{}, err
	}
	if out.ExitCode != 0 {
		stderr := strings.TrimSpace(string(out.Stderr))
		if strings.Contains(strings.ToLower(stderr), "no such") {
			return Observation{Exists: false}, nil
		}
		return Observation{}, fmt.Errorf("%w: %s inspect: exit code %d: %s", ErrTransport, d.config.Runtime, out.ExitCode, stderr)
	}

	var state containerState
	if err := json.Unmarshal([]byte(strings.TrimSpace(string(out.Stdout))), &state); err != nil {
		return Observation{}, fmt.Errorf("%w: decode %s inspect output: %w", ErrTransport, d.config.Runtime, err)
	}
	obs := Observation{Exists: true, Running: state.Running}
	if state.Health != nil {
		obs.Health = strings.ToLower(state.Health.Status)
	}
	return obs, nil
}

func (d *DockerDriver) Create(ctx context.Context) error {
	args, err := d.createArgs()
	if err != nil {
		return fmt.Errorf("%w: %w", ErrBackendUnreachable, err)
	}
	return d.lifecycle(ctx, "create", args...)
}

func (d *DockerDriver) createArgs() ([]string, error) {
	if err := os.MkdirAll(d.config.WorkspaceDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create workspace dir: %w", err)
	}
	args := []string{"run", "-d", "--name", d.config.Name}
	if identity := d.identity(); identity != "" {
		args = append(args, "--user", identity)
	}
	args = append(args,
		"-e", "HOME="+containerHome,
		"-v", d.config.WorkspaceDir+":"+d.config.ContainerWorkspace,
	)
	for _, dir := range d.config.CredentialDirs {
		info, err := os.Stat(dir)
		if err != nil || !info.IsDir() {
			continue
		}
		args = append(args, "-v", dir+":"+containerHome+"/"+filepath.Base(dir))
	}
	args = append(args, d.config.Image)
	args = append(args, d.config.KeepAlive...)
	return args, nil
}

// identity defaults to the invoking user so files written to the mounted
// workspace stay owned by them.
func (d *DockerDriver) identity() string {
	if d.config.Identity != "" {
		return d.config.Identity
	}
	if runtime.GOOS == "windows" {
		return ""
	}
	return strconv.Itoa(os.Getuid()) + ":" + strconv.Itoa(os.Getgid())
}

func (d *DockerDriver) Start(ctx context.Context) error {
	return d.lifecycle(ctx, "start", "start", d.config.Name)
}

func (d *DockerDriver) lifecycle(ctx context.Context, op string, args ...string) error {
	out, err := runLifecycle(ctx, d.config.Runtime, args...)
	if err != nil {
		return err
	}
	if out.ExitCode != 0 {
		return fmt.Errorf("%w: %s %s failed: exit code %d: %s", ErrBackendUnreachable, d.config.Runtime, op, out.ExitCode, strings.TrimSpace(string(out.Stderr)))
	}
	return nil
}

func (d *DockerDriver) Exec(ctx context.Context, target string, _ string, stdin []byte) (ExecOutput, error) {
	hostDir, err := targetDir(d.config.WorkspaceDir, target)
	if err != nil {
		return ExecOutput{}, fmt.Errorf("%w: %w", ErrTransport, err)
	}
	if err := os.MkdirAll(hostDir, 0o755); err != nil {
		return ExecOutput{}, fmt.Errorf("%w: failed to create target dir: %w", ErrTransport, err)
	}
	args := []string{"exec", "-i", "-w", d.config.ContainerWorkspace + "/" + target}
	for _, kv := range d.env {
		args = append(args, "-e", kv)
	}
	args = append(args, d.config.Name)
	args = append(args, d.config.ExecCommand...)
	return runCommand(execCommand(ctx, d.config.Runtime, args...), stdin)
}
