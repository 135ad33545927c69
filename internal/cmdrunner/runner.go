package cmdrunner

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"time"
)

// Runner executes external commands. The renewal orchestrator depends on
// this interface instead of os/exec so tests can substitute a fake.
type Runner interface {
	// Run executes name with args, appending env (KEY=value pairs) to the
	// inherited process environment. It returns an error on non-zero exit
	// or when the timeout elapses.
	Run(ctx context.Context, timeout time.Duration, env []string, name string, args ...string) error
}

// ExecRunner runs commands via os/exec
type ExecRunner struct{}

// NewExecRunner creates a new ExecRunner
func NewExecRunner() *ExecRunner {
	return &ExecRunner{}
}

// Run executes the command with a timeout derived from ctx
func (r *ExecRunner) Run(ctx context.Context, timeout time.Duration, env []string, name string, args ...string) error {
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(runCtx, name, args...)
	cmd.Env = append(os.Environ(), env...)
	output, err := cmd.CombinedOutput()

	if runCtx.Err() == context.DeadlineExceeded {
		return fmt.Errorf("command %s timed out after %s", name, timeout)
	}
	if err != nil {
		return fmt.Errorf("command %s failed: %w, output: %s", name, err, string(output))
	}

	return nil
}
