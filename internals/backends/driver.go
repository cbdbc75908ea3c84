package backends

import (
	"context"
	"os/exec"
)

type commandFunc func(ctx context.Context, name string, args ...string) *exec.Cmd

var execCommand commandFunc = exec.CommandContext

// Driver is the technology-specific half of the controller: it reports what
// the backend looks like and performs lifecycle commands, leaving every
// decision to the controller.
type Driver interface {
	Name() string
	Inspect(ctx context.Context) (Observation, error)
	Create(ctx context.Context) error
	Start(ctx context.Context) error
	// Exec runs one agent invocation for target with stdin attached. A
	// non-zero exit is reported through ExecOutput, not as an error; errors
	// are reserved for failures to spawn the process.
	Exec(ctx context.Context, target string, prompt string, stdin []byte) (ExecOutput, error)
}

type ExecOutput struct {
	Stdout   []byte
	Stderr   []byte
	ExitCode int
}
