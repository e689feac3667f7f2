package exec

import (
	"bytes"
	"context"
	"fmt"
	"os"
	osexec "os/exec"
	"syscall"
	"time"
)

// killGrace is how long a timed-out process gets between SIGTERM and SIGKILL.
const killGrace = 5 * time.Second

// OSRunner implements ProcessRunner using os/exec.
type OSRunner struct{}

// NewRunner creates a new OSRunner.
func NewRunner() *OSRunner {
	return &OSRunner{}
}

// Run executes the request and returns the captured result.
// On timeout the process receives SIGTERM, then SIGKILL after a grace
// period if it has not exited.
func (r *OSRunner) Run(ctx context.Context, req Request) (Result, error) {
	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	cmd := osexec.CommandContext(ctx, req.Command, req.Args...)
	if req.Dir != "" {
		cmd.Dir = req.Dir
	}
	if len(req.Env) > 0 {
		env := os.Environ()
		for k, v := range req.Env {
			env = append(env, k+"="+v)
		}
		cmd.Env = env
	}

	// Terminate politely first; WaitDelay escalates to SIGKILL.
	cmd.Cancel = func() error {
		return cmd.Process.Signal(syscall.SIGTERM)
	}
	cmd.WaitDelay = killGrace

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	result := Result{
		ExitCode: exitCodeOf(cmd, err),
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if err != nil {
		if ctx.Err() == context.DeadlineExceeded {
			return result, fmt.Errorf("command %q timed out: %w", req.Command, context.DeadlineExceeded)
		}
		if _, ok := err.(*osexec.ExitError); ok {
			// Non-zero exit is a result, not an error.
			return result, nil
		}
		return result, fmt.Errorf("spawn %q: %w", req.Command, err)
	}
	return result, nil
}

// RunShell executes a shell command through "sh -c".
func (r *OSRunner) RunShell(ctx context.Context, dir string, env map[string]string, command string, timeout time.Duration) (Result, error) {
	return r.Run(ctx, Request{
		Command: "sh",
		Args:    []string{"-c", command},
		Dir:     dir,
		Env:     env,
		Timeout: timeout,
	})
}

// exitCodeOf extracts the exit code from a finished command.
func exitCodeOf(cmd *osexec.Cmd, err error) int {
	if cmd.ProcessState != nil {
		return cmd.ProcessState.ExitCode()
	}
	if err != nil {
		return -1
	}
	return 0
}

// Verify OSRunner implements ProcessRunner at compile time.
var _ ProcessRunner = (*OSRunner)(nil)
