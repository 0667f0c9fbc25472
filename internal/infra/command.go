package infra

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"time"
)

// CommandResult is the captured outcome of an external tool invocation.
// ExitCode is -1 when the tool could not be started or timed out.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
	Err      error
}

// OK reports a zero exit status.
func (r CommandResult) OK() bool {
	return r.Err == nil && r.ExitCode == 0
}

// NotFound reports that the tool binary itself is missing.
func (r CommandResult) NotFound() bool {
	return errors.Is(r.Err, exec.ErrNotFound)
}

// CommandRunner abstracts command execution for testing.
type CommandRunner interface {
	Run(ctx context.Context, name string, args ...string) CommandResult
}

// ExecCommandRunner executes real system commands with a per-call timeout.
type ExecCommandRunner struct {
	timeout time.Duration
}

// NewExecCommandRunner creates a runner. A zero timeout means no limit beyond ctx.
func NewExecCommandRunner(timeout time.Duration) *ExecCommandRunner {
	return &ExecCommandRunner{timeout: timeout}
}

// Run executes name with args and captures stdout and stderr. It never panics
// on tool failure; the failure is reported in the result.
func (r *ExecCommandRunner) Run(ctx context.Context, name string, args ...string) CommandResult {
	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdin = nil // Prevent any interactive prompts
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := CommandResult{
		Stdout: stdout.String(),
		Stderr: stderr.String(),
	}
	if err == nil {
		return result
	}

	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) && ctx.Err() == nil {
		result.ExitCode = exitErr.ExitCode()
		result.Err = err
		return result
	}
	result.ExitCode = -1
	result.Err = err
	if ctx.Err() != nil {
		result.Err = ctx.Err()
	}
	return result
}

// Ensure ExecCommandRunner implements CommandRunner.
var _ CommandRunner = (*ExecCommandRunner)(nil)
