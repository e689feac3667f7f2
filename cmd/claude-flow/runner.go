package main

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/claude-flow/claude-flow/internal/exec"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// agentRunner executes tasks by spawning the configured agent command
// with the task description as its final argument.
type agentRunner struct {
	shell   exec.ProcessRunner
	command string
}

func newAgentRunner(command string) *agentRunner {
	return &agentRunner{shell: exec.NewRunner(), command: command}
}

// Execute runs one task attempt. A non-zero exit is a task failure.
func (r *agentRunner) Execute(ctx context.Context, agent *models.Agent, task *models.Task) (string, error) {
	command := fmt.Sprintf("%s %s", r.command, strconv.Quote(task.Description))
	env := map[string]string{
		"CLAUDE_FLOW_AGENT": agent.Name,
		"CLAUDE_FLOW_TASK":  task.ID,
	}

	result, err := r.shell.RunShell(ctx, "", env, command, task.Timeout)
	if err != nil {
		return "", fmt.Errorf("spawn agent process: %w", err)
	}
	if result.ExitCode != 0 {
		detail := strings.TrimSpace(result.Stderr)
		if detail == "" {
			detail = strings.TrimSpace(result.Stdout)
		}
		return "", fmt.Errorf("agent process exited %d: %s", result.ExitCode, detail)
	}
	return result.Stdout, nil
}
