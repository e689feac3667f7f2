// Package coordinator implements the swarm task scheduler: objective
// decomposition, dependency-gated dispatch, retry and timeout
// handling, agent selection, and verification-gated completion.
package coordinator

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/claude-flow/claude-flow/internal/breaker"
	"github.com/claude-flow/claude-flow/internal/events"
	"github.com/claude-flow/claude-flow/internal/graph"
	"github.com/claude-flow/claude-flow/internal/memory"
	"github.com/claude-flow/claude-flow/internal/metrics"
	"github.com/claude-flow/claude-flow/internal/store"
	"github.com/claude-flow/claude-flow/internal/verify"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// TaskRunner executes one task on one agent. The coordinator cancels
// the context when the task times out; the runner must complete or
// release resources promptly.
type TaskRunner interface {
	Execute(ctx context.Context, agent *models.Agent, task *models.Task) (string, error)
}

// Config contains configuration options for the Coordinator.
type Config struct {
	// MaxAgents caps the number of registered agents. Zero means unlimited.
	MaxAgents int
	// BackgroundInterval is the dispatch tick period.
	BackgroundInterval time.Duration
	// HealthInterval is the stuck-agent sweep period.
	HealthInterval time.Duration
	// RebalanceInterval is the work-stealing sample period.
	RebalanceInterval time.Duration
	// ObjectiveRetention is how long terminal objectives are kept.
	// Zero disables retention purges.
	ObjectiveRetention time.Duration
	// TaskTimeout is the default per-attempt task timeout.
	TaskTimeout time.Duration
	// MaxRetries is the default retry budget per task.
	MaxRetries int
	// VerificationEnabled gates task and objective completion on the
	// verification pipeline.
	VerificationEnabled bool
	// EventBuffer is the emitter channel size.
	EventBuffer int
	// Breaker configures the per-agent circuit breaker.
	Breaker breaker.Config

	// Store is the unified state store. Required.
	Store *store.Store
	// Memory is the memory substrate. Optional; task results are not
	// persisted without it.
	Memory *memory.Manager
	// Verifier runs verification commands. Required when
	// VerificationEnabled is true.
	Verifier *verify.Pipeline
	// Runner executes tasks. Required.
	Runner TaskRunner
	// Metrics holds the Prometheus collectors. Optional.
	Metrics *metrics.Metrics
	// Debug receives the verbose scheduling trace. Optional.
	Debug *DebugLogger
	// TemplatePath points at a YAML file of strategy template
	// overrides. Optional; built-in templates apply when empty.
	TemplatePath string
}

// Coordinator owns the swarm scheduling loop. All entity mutations
// happen under its mutex and are mirrored into the state store, so
// store subscribers observe one change at a time.
type Coordinator struct {
	cfg Config

	mu           sync.Mutex
	agents       map[string]*models.Agent
	tasks        map[string]*models.Task
	objectives   map[string]*models.Objective
	graphs       map[string]*graph.DependencyGraph
	running      bool
	draining     bool
	sessionID    string
	sessionStart time.Time
	totals       store.MetricsState

	// lastEvictions tracks the memory eviction count already exported to
	// the metrics counter, so syncAll only adds the delta.
	lastEvictions uint64

	templates map[models.Strategy][]templateStep

	breaker *breaker.CircuitBreaker
	stealer *breaker.WorkStealer
	emitter *events.Emitter
	debug   *DebugLogger

	loopCtx    context.Context
	loopCancel context.CancelFunc
	loops      sync.WaitGroup
	inflight   sync.WaitGroup
}

// New creates a coordinator. It does not start any background work;
// call Start.
func New(cfg Config) (*Coordinator, error) {
	if cfg.Store == nil {
		return nil, fmt.Errorf("coordinator: store is required")
	}
	if cfg.Runner == nil {
		return nil, fmt.Errorf("coordinator: runner is required")
	}
	if cfg.VerificationEnabled && cfg.Verifier == nil {
		return nil, fmt.Errorf("coordinator: verification enabled without a verifier")
	}
	if cfg.BackgroundInterval <= 0 {
		cfg.BackgroundInterval = 100 * time.Millisecond
	}
	if cfg.HealthInterval <= 0 {
		cfg.HealthInterval = 5 * time.Second
	}
	if cfg.RebalanceInterval <= 0 {
		cfg.RebalanceInterval = 10 * time.Second
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 5 * time.Minute
	}
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = 0
	} else if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 3
	}
	if cfg.EventBuffer <= 0 {
		cfg.EventBuffer = 256
	}
	if cfg.Debug == nil {
		cfg.Debug = NopLogger()
	}

	templates := make(map[models.Strategy][]templateStep, len(builtinTemplates))
	for strategy, steps := range builtinTemplates {
		templates[strategy] = steps
	}
	if cfg.TemplatePath != "" {
		overrides, err := LoadTemplates(cfg.TemplatePath)
		if err != nil {
			return nil, fmt.Errorf("load strategy templates: %w", err)
		}
		for strategy, steps := range overrides {
			templates[strategy] = steps
		}
	}

	return &Coordinator{
		cfg:        cfg,
		agents:     make(map[string]*models.Agent),
		tasks:      make(map[string]*models.Task),
		objectives: make(map[string]*models.Objective),
		graphs:     make(map[string]*graph.DependencyGraph),
		templates:  templates,
		breaker:    breaker.New(cfg.Breaker),
		stealer:    breaker.NewWorkStealer(),
		emitter:    events.NewEmitter(cfg.EventBuffer),
		debug:      cfg.Debug,
	}, nil
}

// Events returns the coordinator's event channel.
func (c *Coordinator) Events() <-chan events.Event {
	return c.emitter.Events()
}

// Breaker exposes the circuit breaker for inspection.
func (c *Coordinator) Breaker() *breaker.CircuitBreaker {
	return c.breaker
}

// Start launches the background loops: dispatch, health sweep,
// rebalance, and retention.
func (c *Coordinator) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return fmt.Errorf("coordinator: already started")
	}
	c.running = true
	c.draining = false
	c.sessionID = uuid.New().String()
	c.sessionStart = time.Now()
	sessionID := c.sessionID
	started := c.sessionStart
	c.mu.Unlock()

	c.loopCtx, c.loopCancel = context.WithCancel(ctx)

	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "swarm.status", Value: "running"})
	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "sessions." + sessionID, Value: &store.SessionRecord{
		ID:        sessionID,
		StartedAt: started,
		Status:    "active",
	}})

	c.runLoop(c.cfg.BackgroundInterval, c.dispatchTick)
	c.runLoop(c.cfg.HealthInterval, c.healthTick)
	c.runLoop(c.cfg.RebalanceInterval, c.rebalanceTick)
	if c.cfg.ObjectiveRetention > 0 {
		c.runLoop(c.cfg.ObjectiveRetention/2, c.retentionTick)
	}

	c.emitter.Emit(events.Event{Type: events.CoordinatorStarted})
	c.debug.Log("session %s started", sessionID)
	log.Printf("[coordinator] started (session %s)", sessionID)
	return nil
}

func (c *Coordinator) runLoop(interval time.Duration, tick func()) {
	c.loops.Add(1)
	go func() {
		defer c.loops.Done()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-c.loopCtx.Done():
				return
			case <-ticker.C:
				tick()
			}
		}
	}()
}

// Stop drains the coordinator: timers stop, new objectives are
// refused, in-flight tasks finish or time out, remaining pending tasks
// fail, and the final state is persisted. Stopping an already-stopped
// coordinator is a no-op with a warning.
func (c *Coordinator) Stop() error {
	c.mu.Lock()
	if !c.running {
		c.mu.Unlock()
		log.Printf("[coordinator] WARNING: Stop called but coordinator is not running")
		return nil
	}
	c.running = false
	c.draining = true
	sessionID := c.sessionID
	started := c.sessionStart
	c.mu.Unlock()

	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "swarm.status", Value: "draining"})

	c.loopCancel()
	c.loops.Wait()
	c.inflight.Wait()

	// Fail anything still pending; nothing will dispatch it now.
	c.mu.Lock()
	var failed []*models.Task
	for _, task := range c.tasks {
		if task.Status == models.TaskStatusPending {
			now := time.Now()
			task.Status = models.TaskStatusFailed
			task.Error = "coordinator stopped"
			task.CompletedAt = &now
			failed = append(failed, task.Clone())
		}
	}
	for _, obj := range c.objectives {
		if !obj.Status.Terminal() {
			now := time.Now()
			obj.Status = models.ObjectiveStatusFailed
			obj.CompletedAt = &now
		}
	}
	c.mu.Unlock()

	for _, task := range failed {
		c.syncTask(task)
		c.emitter.Emit(events.Event{Type: events.TaskFailed, TaskID: task.ID, Message: task.Error})
	}
	c.syncAll()

	now := time.Now()
	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "sessions." + sessionID, Value: &store.SessionRecord{
		ID:        sessionID,
		StartedAt: started,
		EndedAt:   &now,
		Status:    "ended",
	}})
	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "swarm.status", Value: "stopped"})
	if err := c.cfg.Store.Persist(); err != nil {
		log.Printf("[coordinator] persist final state: %v", err)
	}

	c.emitter.Emit(events.Event{Type: events.CoordinatorStopped})
	c.emitter.Close()
	c.debug.Log("session %s stopped, %d tasks failed by drain", sessionID, len(failed))
	log.Printf("[coordinator] stopped (session %s)", sessionID)
	return nil
}

// RegisterAgent adds an agent to the pool and returns it.
func (c *Coordinator) RegisterAgent(name string, agentType models.AgentType, capabilities []string) (*models.Agent, error) {
	if !agentType.Valid() {
		return nil, models.NewSwarmError(models.CodeNotFound, "unknown agent type: "+string(agentType))
	}

	agent := &models.Agent{
		ID:           uuid.New().String(),
		Name:         name,
		Type:         agentType,
		Status:       models.AgentStatusIdle,
		Capabilities: append([]string(nil), capabilities...),
		Metrics:      models.AgentMetrics{LastActivity: time.Now()},
	}

	c.mu.Lock()
	if c.cfg.MaxAgents > 0 && len(c.agents) >= c.cfg.MaxAgents {
		c.mu.Unlock()
		return nil, models.NewSwarmError(models.CodeQueueCapacity, "agent pool is full", name)
	}
	c.agents[agent.ID] = agent
	c.mu.Unlock()

	c.syncAgent(agent)
	c.emitter.Emit(events.Event{Type: events.AgentRegistered, AgentID: agent.ID, Message: name})
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.ActiveAgents.WithLabelValues(string(models.AgentStatusIdle)).Inc()
	}
	return agent.Clone(), nil
}

// Agent returns a copy of the agent, if present.
func (c *Coordinator) Agent(id string) (*models.Agent, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	agent, ok := c.agents[id]
	if !ok {
		return nil, false
	}
	return agent.Clone(), true
}

// Task returns a copy of the task, if present.
func (c *Coordinator) Task(id string) (*models.Task, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	task, ok := c.tasks[id]
	if !ok {
		return nil, false
	}
	return task.Clone(), true
}

// Objective returns a copy of the objective, if present.
func (c *Coordinator) Objective(id string) (*models.Objective, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	obj, ok := c.objectives[id]
	if !ok {
		return nil, false
	}
	return obj.Clone(), true
}

// ObjectiveTasks returns copies of an objective's tasks in template order.
func (c *Coordinator) ObjectiveTasks(objectiveID string) []*models.Task {
	c.mu.Lock()
	defer c.mu.Unlock()

	obj, ok := c.objectives[objectiveID]
	if !ok {
		return nil
	}
	tasks := make([]*models.Task, 0, len(obj.Tasks))
	for _, id := range obj.Tasks {
		if task, found := c.tasks[id]; found {
			tasks = append(tasks, task.Clone())
		}
	}
	return tasks
}

// syncTask mirrors a task into the state store.
func (c *Coordinator) syncTask(task *models.Task) {
	if _, err := c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "tasks." + task.ID, Value: task.Clone()}); err != nil {
		log.Printf("[coordinator] sync task %s: %v", task.ID, err)
	}
}

// syncAgent mirrors an agent into the state store.
func (c *Coordinator) syncAgent(agent *models.Agent) {
	if _, err := c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "agents." + agent.ID, Value: agent.Clone()}); err != nil {
		log.Printf("[coordinator] sync agent %s: %v", agent.ID, err)
	}
}

// syncObjective mirrors an objective into the state store.
func (c *Coordinator) syncObjective(obj *models.Objective) {
	if _, err := c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "objectives." + obj.ID, Value: obj.Clone()}); err != nil {
		log.Printf("[coordinator] sync objective %s: %v", obj.ID, err)
	}
}

// syncAll refreshes the orchestration summary section of the store.
func (c *Coordinator) syncAll() {
	c.mu.Lock()
	summary := store.OrchestrationState{}
	for _, task := range c.tasks {
		switch task.Status {
		case models.TaskStatusPending:
			summary.PendingTasks++
		case models.TaskStatusRunning:
			summary.RunningTasks++
		}
	}
	for _, obj := range c.objectives {
		if obj.Status == models.ObjectiveStatusExecuting {
			summary.ActiveObjectives = append(summary.ActiveObjectives, obj.ID)
		}
	}
	totals := c.totals
	c.mu.Unlock()

	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "orchestration", Value: summary})
	c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "metrics", Value: totals})
	if c.cfg.Memory != nil {
		stats := c.cfg.Memory.Stats()
		c.cfg.Store.Dispatch(store.Action{Op: store.OpSet, Path: "memory", Value: store.MemoryStats{
			EntryCount:     stats.Entries,
			KnowledgeBases: stats.KnowledgeBases,
			LastPersist:    stats.LastPersist,
		}})
		if c.cfg.Metrics != nil {
			c.mu.Lock()
			delta := uint64(0)
			if stats.Evictions > c.lastEvictions {
				delta = stats.Evictions - c.lastEvictions
				c.lastEvictions = stats.Evictions
			}
			c.mu.Unlock()
			if delta > 0 {
				c.cfg.Metrics.MemoryEvictions.Add(float64(delta))
			}
		}
	}
	if c.cfg.Metrics != nil {
		c.cfg.Metrics.PendingTasks.Set(float64(summary.PendingTasks))
		c.cfg.Metrics.OpenCircuits.Set(float64(c.breaker.OpenCount()))
	}
}
