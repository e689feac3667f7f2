package coordinator

import (
	"context"
	"errors"
	"log"
	"time"

	"github.com/claude-flow/claude-flow/internal/events"
	"github.com/claude-flow/claude-flow/internal/verify"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// runTask executes one task attempt. The runner gets a context bounded
// by the task's timeout; exceeding it cancels the runner and invokes
// the failure path with a timeout error.
func (c *Coordinator) runTask(task *models.Task, agent *models.Agent) {
	defer c.inflight.Done()

	ctx, cancel := context.WithTimeout(context.Background(), task.Timeout)
	defer cancel()

	result, err := c.cfg.Runner.Execute(ctx, agent, task)
	if err == nil && ctx.Err() != nil {
		err = ctx.Err()
	}
	if errors.Is(err, context.DeadlineExceeded) {
		err = models.NewSwarmError(models.CodeTaskTimeout, "task exceeded its timeout", task.ID, agent.ID)
	}

	if err == nil && c.cfg.VerificationEnabled {
		_, err = c.cfg.Verifier.EnforceAgent(ctx, verify.Requirement{
			AgentID:  agent.ID,
			Commands: c.commandsForAgent(agent),
		})
		if err != nil && c.cfg.Metrics != nil {
			c.cfg.Metrics.VerificationFailures.Inc()
		}
	}

	if err != nil {
		c.handleFailure(task.ID, task.RetryCount, err)
		return
	}
	c.handleCompletion(task.ID, task.RetryCount, result)
}

// commandsForAgent derives verification commands from the agent's
// declared capabilities, falling back to the general check.
func (c *Coordinator) commandsForAgent(agent *models.Agent) []models.VerificationCommand {
	statusPath := c.cfg.Verifier.StatusPath(agent.ID)

	var commands []models.VerificationCommand
	for _, capability := range agent.Capabilities {
		switch capability {
		case "typescript", "test", "build":
			commands = append(commands, verify.DefaultCommands(capability, statusPath)...)
		}
	}
	if len(commands) == 0 {
		commands = verify.DefaultCommands("general", statusPath)
	}
	return commands
}

// handleCompletion accepts a verified result: the task completes, the
// agent returns to the pool, the result is persisted to memory, and
// the owning objective is checked for completion. attempt is the
// retry count captured at dispatch; a mismatch means the health sweep
// already resolved that attempt and a newer one owns the task.
func (c *Coordinator) handleCompletion(taskID string, attempt int, result string) {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || task.Status != models.TaskStatusRunning || task.RetryCount != attempt {
		// Already resolved, e.g. by the health sweep.
		c.mu.Unlock()
		return
	}

	now := time.Now()
	task.Status = models.TaskStatusCompleted
	task.CompletedAt = &now
	task.Result = result
	c.totals.TasksCompleted++
	if g, found := c.graphs[task.ObjectiveID]; found {
		g.MarkComplete(taskID)
	}

	agent := c.agents[task.AssignedTo]
	if agent != nil {
		agent.Metrics.TasksCompleted++
		if task.StartedAt != nil {
			agent.Metrics.TotalDuration += now.Sub(*task.StartedAt)
		}
		agent.Metrics.LastActivity = now
		agent.Status = models.AgentStatusIdle
		agent.CurrentTask = ""
	}

	taskCopy := task.Clone()
	var agentCopy *models.Agent
	if agent != nil {
		agentCopy = agent.Clone()
	}
	c.mu.Unlock()

	c.syncTask(taskCopy)
	if agentCopy != nil {
		c.syncAgent(agentCopy)
		c.breaker.RecordSuccess(agentCopy.ID)
	}
	c.persistResult(taskCopy)

	c.emitter.Emit(events.Event{Type: events.TaskCompleted, TaskID: taskID, AgentID: taskCopy.AssignedTo})
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.TasksCompleted.Inc()
		if taskCopy.StartedAt != nil {
			c.cfg.Metrics.TaskDuration.Observe(now.Sub(*taskCopy.StartedAt).Seconds())
		}
	}

	c.checkObjective(taskCopy.ObjectiveID)
	c.syncAll()
}

// persistResult records a completed task's output in the memory
// substrate, shared at team level.
func (c *Coordinator) persistResult(task *models.Task) {
	if c.cfg.Memory == nil || task.Result == "" {
		return
	}
	_, err := c.cfg.Memory.Remember(task.AssignedTo, models.EntryTypeResult, task.Result, models.EntryMetadata{
		TaskID:      task.ID,
		ObjectiveID: task.ObjectiveID,
		ShareLevel:  models.ShareTeam,
		Tags:        []string{task.Type},
	})
	if err != nil {
		log.Printf("[coordinator] persist result for task %s: %v", task.ID, err)
	}
}

// handleFailure records a failed attempt. Within the retry budget the
// task resets to pending; otherwise it fails permanently and its
// transitive dependents fail with it. Stale resolutions, where the
// attempt number no longer matches the task's retry count, are
// dropped so a timed-out runner cannot fail a newer attempt.
func (c *Coordinator) handleFailure(taskID string, attempt int, taskErr error) {
	c.mu.Lock()
	task, ok := c.tasks[taskID]
	if !ok || task.Status != models.TaskStatusRunning || task.RetryCount != attempt {
		c.mu.Unlock()
		return
	}

	now := time.Now()
	task.Error = taskErr.Error()
	agentID := task.AssignedTo

	retrying := task.RetryCount < task.MaxRetries
	var cascaded []*models.Task
	if retrying {
		task.RetryCount++
		task.Status = models.TaskStatusPending
		task.AssignedTo = ""
		task.StartedAt = nil
		c.totals.TasksRetried++
	} else {
		task.Status = models.TaskStatusFailed
		task.CompletedAt = &now
		cascaded = c.cascadeFailureLocked(task, now)
		c.totals.TasksFailed += int64(1 + len(cascaded))
	}

	agent := c.agents[agentID]
	if agent != nil {
		agent.Metrics.TasksFailed++
		agent.Metrics.LastActivity = now
		agent.Status = models.AgentStatusIdle
		agent.CurrentTask = ""
	}

	taskCopy := task.Clone()
	var agentCopy *models.Agent
	if agent != nil {
		agentCopy = agent.Clone()
	}
	c.mu.Unlock()

	c.syncTask(taskCopy)
	if agentCopy != nil {
		c.syncAgent(agentCopy)
		c.breaker.RecordFailure(agentCopy.ID)
	}

	if retrying {
		c.debug.Log("task %s failed on agent %s, retry %d/%d: %v", taskID, agentID, taskCopy.RetryCount, taskCopy.MaxRetries, taskErr)
		c.emitter.Emit(events.Event{Type: events.TaskRetry, TaskID: taskID, AgentID: agentID, Error: taskErr})
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.TasksRetried.Inc()
		}
	} else {
		c.debug.Log("task %s failed permanently on agent %s, cascading to %d dependents: %v", taskID, agentID, len(cascaded), taskErr)
		c.emitter.Emit(events.Event{Type: events.TaskFailed, TaskID: taskID, AgentID: agentID, Error: taskErr})
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.TasksFailed.Inc()
		}
		for _, dep := range cascaded {
			c.syncTask(dep)
			c.emitter.Emit(events.Event{Type: events.TaskFailed, TaskID: dep.ID, Message: dep.Error})
			if c.cfg.Metrics != nil {
				c.cfg.Metrics.TasksFailed.Inc()
			}
		}
		c.checkObjective(taskCopy.ObjectiveID)
	}
	c.syncAll()
}

// cascadeFailureLocked fails every transitive dependent of a
// permanently failed task, so the objective reaches a terminal state
// instead of waiting on tasks that can never run. Caller holds c.mu.
func (c *Coordinator) cascadeFailureLocked(failed *models.Task, now time.Time) []*models.Task {
	g, ok := c.graphs[failed.ObjectiveID]
	if !ok {
		return nil
	}

	var cascaded []*models.Task
	for _, depID := range g.TransitiveDependents(failed.ID) {
		dep, found := c.tasks[depID]
		if !found || dep.Status.Terminal() || dep.Status == models.TaskStatusRunning {
			continue
		}
		dep.Status = models.TaskStatusFailed
		dep.Error = "dependency_failed:" + failed.ID
		dep.CompletedAt = &now
		cascaded = append(cascaded, dep.Clone())
	}
	return cascaded
}

// checkObjective finalizes an objective once every task is terminal.
// With verification enabled, every participating agent is re-verified;
// only unanimous success (and zero failed tasks) completes the
// objective.
func (c *Coordinator) checkObjective(objectiveID string) {
	c.mu.Lock()
	obj, ok := c.objectives[objectiveID]
	if !ok || obj.Status.Terminal() || obj.Status == models.ObjectiveStatusPlanning {
		c.mu.Unlock()
		return
	}

	anyFailed := false
	participants := make(map[string]*models.Agent)
	for _, taskID := range obj.Tasks {
		task, found := c.tasks[taskID]
		if !found {
			continue
		}
		if !task.Status.Terminal() {
			c.mu.Unlock()
			return
		}
		if task.Status == models.TaskStatusFailed {
			anyFailed = true
		}
		if task.AssignedTo != "" {
			if agent, hasAgent := c.agents[task.AssignedTo]; hasAgent {
				participants[agent.ID] = agent.Clone()
			}
		}
	}

	// Mark terminal-pending before releasing the lock so a concurrent
	// completion cannot finalize the same objective twice.
	obj.Status = models.ObjectiveStatusFailed
	c.mu.Unlock()

	verified := true
	if c.cfg.VerificationEnabled && len(participants) > 0 {
		var reqs []verify.Requirement
		for _, agent := range participants {
			reqs = append(reqs, verify.Requirement{
				AgentID:  agent.ID,
				Commands: c.commandsForAgent(agent),
			})
		}
		if _, err := c.cfg.Verifier.EnforceObjective(context.Background(), objectiveID, reqs); err != nil {
			verified = false
			log.Printf("[coordinator] objective %s verification: %v", objectiveID, err)
		}
	}

	completed := !anyFailed && verified

	c.mu.Lock()
	now := time.Now()
	if completed {
		obj.Status = models.ObjectiveStatusCompleted
		c.totals.ObjectivesCompleted++
	} else {
		c.totals.ObjectivesFailed++
	}
	obj.CompletedAt = &now
	objCopy := obj.Clone()
	c.mu.Unlock()

	c.syncObjective(objCopy)
	c.debug.Log("objective %s finalized: completed=%v verified=%v anyFailed=%v", objectiveID, completed, verified, anyFailed)
	if completed {
		c.emitter.Emit(events.Event{Type: events.ObjectiveCompleted, ObjectiveID: objectiveID})
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ObjectivesCompleted.Inc()
		}
	} else {
		c.emitter.Emit(events.Event{Type: events.ObjectiveFailed, ObjectiveID: objectiveID})
		if c.cfg.Metrics != nil {
			c.cfg.Metrics.ObjectivesFailed.Inc()
		}
	}
}
