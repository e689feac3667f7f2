// Package exec provides an interface for running external commands.
package exec

import (
	"context"
	"time"
)

// Request describes a command to execute.
type Request struct {
	// Command is the executable to run.
	Command string
	// Args are the command arguments.
	Args []string
	// Dir is the working directory; empty means the process default.
	Dir string
	// Env holds additional environment variables merged over the parent's.
	Env map[string]string
	// Timeout limits execution; zero means no limit beyond ctx.
	Timeout time.Duration
}

// Result is the outcome of an executed command.
type Result struct {
	// ExitCode is the process exit code. -1 when the process never ran
	// or was killed before exiting on its own.
	ExitCode int
	// Stdout is the captured standard output.
	Stdout string
	// Stderr is the captured standard error.
	Stderr string
}

// ProcessRunner defines the interface for running external commands.
// This abstraction allows mocking command execution in tests.
type ProcessRunner interface {
	// Run executes the request and returns the captured result.
	// A spawn failure is returned as an error; a non-zero exit is not.
	Run(ctx context.Context, req Request) (Result, error)

	// RunShell executes a shell command through "sh -c".
	RunShell(ctx context.Context, dir string, env map[string]string, command string, timeout time.Duration) (Result, error)
}
