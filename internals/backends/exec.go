package backends

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
)

// runCommand runs cmd to completion with stdin attached. Both output streams
// are fully drained before the exit status is read.
func runCommand(cmd *exec.Cmd, stdin []byte) (ExecOutput, error) {
	var stdout, stderr bytes.Buffer
	if stdin != nil {
		cmd.Stdin = bytes.NewReader(stdin)
	}
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	out := ExecOutput{Stdout: stdout.Bytes(), Stderr: stderr.Bytes()}
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			out.ExitCode = exitErr.ExitCode()
			return out, nil
		}
		return out, fmt.Errorf("%w: %s: %w", ErrTransport, filepath.Base(cmd.Path), err)
	}
	return out, nil
}

func runLifecycle(ctx context.Context, name string, args ...string) (ExecOutput, error) {
	return runCommand(execCommand(ctx, name, args...), nil)
}

func targetDir(root string, target string) (string, error) {
	target = strings.TrimSpace(target)
	if target == "" || target == "." || target == ".." || strings.ContainsAny(target, `/\`) {
		return "", fmt.Errorf("invalid target %q", target)
	}
	return filepath.Join(root, target), nil
}
