package coordinator

import (
	"fmt"
	"sort"
	"time"

	"github.com/claude-flow/claude-flow/internal/events"
	"github.com/claude-flow/claude-flow/internal/store"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// taskFamilies maps task types to the agent type that prefers them.
// An empty value means any agent type qualifies.
var taskFamilies = map[string]models.AgentType{
	"research":        models.AgentTypeResearcher,
	"exploration":     models.AgentTypeResearcher,
	"implementation":  models.AgentTypeDeveloper,
	"execution":       models.AgentTypeDeveloper,
	"planning":        models.AgentTypeDeveloper,
	"testing":         models.AgentTypeDeveloper,
	"analysis":        models.AgentTypeAnalyzer,
	"data-collection": models.AgentTypeAnalyzer,
	"review":          models.AgentTypeReviewer,
	"validation":      models.AgentTypeReviewer,
	"synthesis":       "",
	"documentation":   "",
	"reporting":       "",
	"completion":      "",
}

// agentMatches reports whether an agent's type suits a task type.
// Coordinator agents match every family.
func agentMatches(agentType models.AgentType, taskType string) bool {
	if agentType == models.AgentTypeCoordinator {
		return true
	}
	family, known := taskFamilies[taskType]
	if !known || family == "" {
		return true
	}
	return agentType == family
}

// assignment pairs a dispatched task with its agent for the post-lock
// launch.
type assignment struct {
	task  *models.Task
	agent *models.Agent
	first bool // first task of its objective
}

// dispatchTick runs one scheduling pass: ready tasks, sorted by
// priority then age, are matched to idle agents whose circuit admits
// work.
func (c *Coordinator) dispatchTick() {
	c.mu.Lock()

	if c.draining {
		c.mu.Unlock()
		return
	}

	var ready []*models.Task
	for _, g := range c.graphs {
		for _, id := range g.Ready() {
			if task, ok := c.tasks[id]; ok {
				ready = append(ready, task)
			}
		}
	}
	sort.Slice(ready, func(i, j int) bool {
		if ready[i].Priority != ready[j].Priority {
			return ready[i].Priority > ready[j].Priority
		}
		if !ready[i].CreatedAt.Equal(ready[j].CreatedAt) {
			return ready[i].CreatedAt.Before(ready[j].CreatedAt)
		}
		return ready[i].ID < ready[j].ID
	})

	idle := make(map[string]*models.Agent)
	for id, agent := range c.agents {
		if agent.Status == models.AgentStatusIdle {
			idle[id] = agent
		}
	}

	var assignments []assignment
	for _, task := range ready {
		agent := c.selectAgentLocked(idle, task)
		if agent == nil {
			// No compatible idle agent, or every candidate's circuit is
			// open: not an error, the task stays pending for the next tick.
			continue
		}
		delete(idle, agent.ID)

		now := time.Now()
		task.Status = models.TaskStatusRunning
		task.AssignedTo = agent.ID
		task.StartedAt = &now
		agent.Status = models.AgentStatusBusy
		agent.CurrentTask = task.ID
		agent.Metrics.LastActivity = now

		first := false
		if obj, ok := c.objectives[task.ObjectiveID]; ok && obj.Status == models.ObjectiveStatusPlanning {
			obj.Status = models.ObjectiveStatusExecuting
			first = true
		}

		assignments = append(assignments, assignment{task: task.Clone(), agent: agent.Clone(), first: first})
		c.inflight.Add(1)
	}
	c.mu.Unlock()

	for _, a := range assignments {
		c.syncTask(a.task)
		c.syncAgent(a.agent)
		if a.first {
			if obj, ok := c.Objective(a.task.ObjectiveID); ok {
				c.syncObjective(obj)
			}
			c.emitter.Emit(events.Event{Type: events.ObjectiveStarted, ObjectiveID: a.task.ObjectiveID})
		}
		c.emitter.Emit(events.Event{Type: events.TaskAssigned, TaskID: a.task.ID, AgentID: a.agent.ID})
		c.debug.Log("assigned %s task %s to agent %s (attempt %d)", a.task.Type, a.task.ID, a.agent.Name, a.task.RetryCount+1)
		go c.runTask(a.task, a.agent)
	}
}

// selectAgentLocked picks the best idle agent for a task. A family
// match is a preference, not a requirement: matching agents are tried
// first, then any other idle agent, each group ordered by success
// ratio with ties broken by oldest activity. The circuit breaker is
// consulted last so that half-open probe slots are only consumed by
// agents actually being assigned.
func (c *Coordinator) selectAgentLocked(idle map[string]*models.Agent, task *models.Task) *models.Agent {
	var matched, fallback []*models.Agent
	for _, agent := range idle {
		if agentMatches(agent.Type, task.Type) {
			matched = append(matched, agent)
		} else {
			fallback = append(fallback, agent)
		}
	}
	rankAgents(matched)
	rankAgents(fallback)

	for _, agent := range append(matched, fallback...) {
		if c.breaker.CanExecute(agent.ID) {
			return agent
		}
	}
	return nil
}

func rankAgents(agents []*models.Agent) {
	sort.Slice(agents, func(i, j int) bool {
		ri, rj := agents[i].Metrics.SuccessRatio(), agents[j].Metrics.SuccessRatio()
		if ri != rj {
			return ri > rj
		}
		if !agents[i].Metrics.LastActivity.Equal(agents[j].Metrics.LastActivity) {
			return agents[i].Metrics.LastActivity.Before(agents[j].Metrics.LastActivity)
		}
		return agents[i].ID < agents[j].ID
	})
}

// healthTick recovers stuck agents: any task running past its timeout
// (plus a small grace for the runner's own cancellation) is promoted
// to the failure path.
func (c *Coordinator) healthTick() {
	const grace = 2 * time.Second

	type stuckTask struct {
		id      string
		attempt int
	}

	c.mu.Lock()
	now := time.Now()
	var stuck []stuckTask
	var stuckAgents []string
	for id, task := range c.tasks {
		if task.Status != models.TaskStatusRunning || task.StartedAt == nil {
			continue
		}
		if now.Sub(*task.StartedAt) > task.Timeout+grace {
			stuck = append(stuck, stuckTask{id: id, attempt: task.RetryCount})
			if task.AssignedTo != "" {
				stuckAgents = append(stuckAgents, task.AssignedTo)
			}
		}
	}
	c.mu.Unlock()

	for _, s := range stuck {
		c.debug.Log("health sweep: task %s stuck past its timeout", s.id)
		c.handleFailure(s.id, s.attempt, models.NewSwarmError(models.CodeTaskTimeout, "task exceeded its timeout", s.id))
	}

	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "health", Value: store.HealthState{
		LastCheck:    now,
		StuckAgents:  stuckAgents,
		OpenCircuits: c.breaker.OpenCount(),
	}})
}

// rebalanceTick samples agent loads (busy=1, idle=0), feeds them to
// the work stealer, and surfaces suggestions as advisory alerts. The
// coordinator does not forcibly reassign work.
func (c *Coordinator) rebalanceTick() {
	c.mu.Lock()
	loads := make(map[string]float64, len(c.agents))
	for id, agent := range c.agents {
		if agent.Status == models.AgentStatusBusy {
			loads[id] = 1
		} else {
			loads[id] = 0
		}
	}
	c.mu.Unlock()

	c.stealer.UpdateLoads(loads, false)
	for _, s := range c.stealer.Suggest() {
		c.emitter.Emit(events.Event{
			Type:    events.MonitorAlert,
			AgentID: s.From,
			Message: fmt.Sprintf("work-stealing suggestion: move pending work from %s to %s", s.From, s.To),
		})
	}
}

// retentionTick purges terminal objectives (and their tasks) older
// than the retention window.
func (c *Coordinator) retentionTick() {
	cutoff := time.Now().Add(-c.cfg.ObjectiveRetention)

	c.mu.Lock()
	var purgedObjectives, purgedTasks []string
	for id, obj := range c.objectives {
		if !obj.Status.Terminal() || obj.CompletedAt == nil || obj.CompletedAt.After(cutoff) {
			continue
		}
		purgedObjectives = append(purgedObjectives, id)
		purgedTasks = append(purgedTasks, obj.Tasks...)
		for _, taskID := range obj.Tasks {
			delete(c.tasks, taskID)
		}
		delete(c.objectives, id)
		delete(c.graphs, id)
	}
	c.mu.Unlock()

	if len(purgedObjectives) == 0 {
		return
	}
	for _, id := range purgedTasks {
		c.cfg.Store.Dispatch(store.Action{Op: store.OpDelete, Path: "tasks." + id})
	}
	for _, id := range purgedObjectives {
		c.cfg.Store.Dispatch(store.Action{Op: store.OpDelete, Path: "objectives." + id})
	}
	c.emitter.Emit(events.Event{
		Type:    events.CoordinatorCleanup,
		Message: fmt.Sprintf("purged %d terminal objectives", len(purgedObjectives)),
	})
}
