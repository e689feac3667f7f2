package coordinator

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/claude-flow/claude-flow/internal/breaker"
	"github.com/claude-flow/claude-flow/internal/events"
	"github.com/claude-flow/claude-flow/internal/exec"
	"github.com/claude-flow/claude-flow/internal/memory"
	"github.com/claude-flow/claude-flow/internal/store"
	"github.com/claude-flow/claude-flow/internal/verify"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// fakeRunner executes tasks through a caller-supplied function.
type fakeRunner struct {
	mu       sync.Mutex
	attempts map[string]int
	execute  func(agent *models.Agent, task *models.Task, attempt int) (string, error)
}

func newFakeRunner(execute func(agent *models.Agent, task *models.Task, attempt int) (string, error)) *fakeRunner {
	return &fakeRunner{attempts: make(map[string]int), execute: execute}
}

func (r *fakeRunner) Execute(_ context.Context, agent *models.Agent, task *models.Task) (string, error) {
	r.mu.Lock()
	r.attempts[task.ID]++
	attempt := r.attempts[task.ID]
	r.mu.Unlock()
	return r.execute(agent, task, attempt)
}

// fakeShellRunner serves verification commands from a canned result map.
type fakeShellRunner struct {
	mu      sync.Mutex
	results map[string]exec.Result
}

func (r *fakeShellRunner) Run(_ context.Context, req exec.Request) (exec.Result, error) {
	return r.shell(req.Command)
}

func (r *fakeShellRunner) RunShell(_ context.Context, _ string, _ map[string]string, command string, _ time.Duration) (exec.Result, error) {
	return r.shell(command)
}

func (r *fakeShellRunner) shell(command string) (exec.Result, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if result, ok := r.results[command]; ok {
		return result, nil
	}
	return exec.Result{ExitCode: 0}, nil
}

// eventLog drains a coordinator's event channel for later inspection.
type eventLog struct {
	mu   sync.Mutex
	seen []events.Event
	done chan struct{}
}

func drainEvents(c *Coordinator) *eventLog {
	l := &eventLog{done: make(chan struct{})}
	go func() {
		defer close(l.done)
		for event := range c.Events() {
			l.mu.Lock()
			l.seen = append(l.seen, event)
			l.mu.Unlock()
		}
	}()
	return l
}

func (l *eventLog) count(eventType events.Type) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, event := range l.seen {
		if event.Type == eventType {
			n++
		}
	}
	return n
}

func waitFor(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func testConfig(runner TaskRunner) Config {
	return Config{
		BackgroundInterval: 5 * time.Millisecond,
		HealthInterval:     time.Hour,
		RebalanceInterval:  time.Hour,
		TaskTimeout:        5 * time.Second,
		Store:              store.New(),
		Runner:             runner,
	}
}

func startCoordinator(t *testing.T, cfg Config) (*Coordinator, *eventLog) {
	t.Helper()
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	log := drainEvents(c)
	if err := c.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	return c, log
}

func objectiveStatus(c *Coordinator, id string) models.ObjectiveStatus {
	obj, ok := c.Objective(id)
	if !ok {
		return ""
	}
	return obj.Status
}

func TestResearchObjectiveCompletes(t *testing.T) {
	runner := newFakeRunner(func(_ *models.Agent, task *models.Task, _ int) (string, error) {
		return "output of " + task.Type, nil
	})
	c, log := startCoordinator(t, testConfig(runner))

	agent, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, nil)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	obj, err := c.CreateObjective("map the dependency graph", models.StrategyResearch)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}
	if len(obj.Tasks) != 3 {
		t.Fatalf("research objective has %d tasks, want 3", len(obj.Tasks))
	}

	waitFor(t, func() bool {
		return objectiveStatus(c, obj.ID) == models.ObjectiveStatusCompleted
	}, "objective completion")

	tasks := c.ObjectiveTasks(obj.ID)
	byType := make(map[string]*models.Task, len(tasks))
	for _, task := range tasks {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("task %s status = %s, want completed", task.Type, task.Status)
		}
		if task.Result == "" {
			t.Errorf("task %s has no result", task.Type)
		}
		byType[task.Type] = task
	}

	// Dependent tasks must not start before their dependency finished.
	research, analysis := byType["research"], byType["analysis"]
	if analysis.StartedAt.Before(*research.CompletedAt) {
		t.Errorf("analysis started %v before research completed %v", *analysis.StartedAt, *research.CompletedAt)
	}
	synthesis := byType["synthesis"]
	if synthesis.StartedAt.Before(*analysis.CompletedAt) {
		t.Errorf("synthesis started before analysis completed")
	}

	got, _ := c.Agent(agent.ID)
	if got.Metrics.TasksCompleted != 3 {
		t.Errorf("agent tasks_completed = %d, want 3", got.Metrics.TasksCompleted)
	}
	if got.Status != models.AgentStatusIdle {
		t.Errorf("agent status = %s, want idle", got.Status)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-log.done
	if log.count(events.TaskCompleted) != 3 {
		t.Errorf("task:completed events = %d, want 3", log.count(events.TaskCompleted))
	}
	if log.count(events.ObjectiveCompleted) != 1 {
		t.Errorf("objective:completed events = %d, want 1", log.count(events.ObjectiveCompleted))
	}
}

func TestTaskRetriesThenSucceeds(t *testing.T) {
	runner := newFakeRunner(func(_ *models.Agent, task *models.Task, attempt int) (string, error) {
		if task.Type == "implementation" && attempt <= 2 {
			return "", models.NewSwarmError(models.CodeTaskTimeout, "flaky build", task.ID)
		}
		return "done", nil
	})
	cfg := testConfig(runner)
	cfg.MaxRetries = 2
	c, log := startCoordinator(t, cfg)

	if _, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, nil); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	obj, err := c.CreateObjective("build the feature", models.StrategyDevelopment)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}

	waitFor(t, func() bool {
		return objectiveStatus(c, obj.ID) == models.ObjectiveStatusCompleted
	}, "objective completion")

	var implementation *models.Task
	for _, task := range c.ObjectiveTasks(obj.ID) {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("task %s status = %s, want completed", task.Type, task.Status)
		}
		if task.RetryCount > task.MaxRetries {
			t.Errorf("task %s retry_count %d exceeds max_retries %d", task.Type, task.RetryCount, task.MaxRetries)
		}
		if task.Type == "implementation" {
			implementation = task
		}
	}
	if implementation == nil {
		t.Fatal("no implementation task")
	}
	if implementation.RetryCount != 2 {
		t.Errorf("implementation retry_count = %d, want 2", implementation.RetryCount)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-log.done
	if log.count(events.TaskRetry) != 2 {
		t.Errorf("task:retry events = %d, want 2", log.count(events.TaskRetry))
	}
}

func TestVerificationGateFailsObjective(t *testing.T) {
	shell := &fakeShellRunner{results: map[string]exec.Result{
		"npm run typecheck": {ExitCode: 2, Stderr: "src/index.ts(3,1): error TS2304"},
	}}
	recorder, err := memory.New(memory.DefaultConfig(), nil, nil)
	if err != nil {
		t.Fatalf("memory.New: %v", err)
	}
	pipeline := verify.NewPipeline(shell, recorder, verify.Config{StatusDir: t.TempDir()})

	runner := newFakeRunner(func(_ *models.Agent, task *models.Task, _ int) (string, error) {
		return "output of " + task.Type, nil
	})
	cfg := testConfig(runner)
	cfg.MaxRetries = -1
	cfg.VerificationEnabled = true
	cfg.Verifier = pipeline
	cfg.Memory = recorder
	c, log := startCoordinator(t, cfg)

	agent, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, []string{"typescript"})
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	obj, err := c.CreateObjective("ship the typed API", models.StrategyResearch)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}

	waitFor(t, func() bool {
		return objectiveStatus(c, obj.ID) == models.ObjectiveStatusFailed
	}, "objective failure")

	tasks := c.ObjectiveTasks(obj.ID)
	for _, task := range tasks {
		if task.Status != models.TaskStatusFailed {
			t.Errorf("task %s status = %s, want failed", task.Type, task.Status)
		}
	}
	// Downstream tasks fail by cascade, not by execution.
	cascaded := 0
	for _, task := range tasks {
		if strings.HasPrefix(task.Error, "dependency_failed:") {
			cascaded++
		}
	}
	if cascaded != 2 {
		t.Errorf("cascaded failures = %d, want 2", cascaded)
	}

	doc, err := pipeline.ReadStatus(agent.ID)
	if err != nil {
		t.Fatalf("ReadStatus: %v", err)
	}
	if doc.OK || doc.Errors == 0 {
		t.Errorf("status document ok=%v errors=%d, want failing", doc.OK, doc.Errors)
	}

	reports := recorder.Recall(memory.Query{Tags: []string{"objective-verification:" + obj.ID}})
	if len(reports) != 1 {
		t.Fatalf("objective report entries = %d, want 1", len(reports))
	}
	if !strings.Contains(reports[0].Content, "successful_agents=0, total_agents=1") {
		t.Errorf("report content = %q, want agent tally", reports[0].Content)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-log.done
	if log.count(events.ObjectiveFailed) != 1 {
		t.Errorf("objective:failed events = %d, want 1", log.count(events.ObjectiveFailed))
	}
}

func TestCircuitOpensAndWorkMovesOver(t *testing.T) {
	runner := newFakeRunner(func(agent *models.Agent, task *models.Task, _ int) (string, error) {
		if agent.Name == "a1" {
			return "", models.NewSwarmError(models.CodeTaskTimeout, "agent wedged", task.ID)
		}
		return "done", nil
	})
	cfg := testConfig(runner)
	cfg.MaxRetries = 5
	cfg.Breaker = breaker.Config{FailureThreshold: 2, OpenTimeout: time.Minute}
	c, log := startCoordinator(t, cfg)

	a1, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, nil)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	obj, err := c.CreateObjective("survey the codebase", models.StrategyResearch)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}

	waitFor(t, func() bool {
		return c.Breaker().StateOf(a1.ID) == breaker.StateOpen
	}, "circuit to open")

	// With the only agent's circuit open the first task sits pending.
	task := c.ObjectiveTasks(obj.ID)[0]
	if got, _ := c.Task(task.ID); got.Status != models.TaskStatusPending {
		t.Errorf("task status with open circuit = %s, want pending", got.Status)
	}

	a2, err := c.RegisterAgent("a2", models.AgentTypeCoordinator, nil)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}

	waitFor(t, func() bool {
		return objectiveStatus(c, obj.ID) == models.ObjectiveStatusCompleted
	}, "objective completion")

	got1, _ := c.Agent(a1.ID)
	got2, _ := c.Agent(a2.ID)
	if got1.Metrics.TasksFailed != 2 {
		t.Errorf("a1 tasks_failed = %d, want 2", got1.Metrics.TasksFailed)
	}
	if got2.Metrics.TasksCompleted != 3 {
		t.Errorf("a2 tasks_completed = %d, want 3", got2.Metrics.TasksCompleted)
	}
	if c.Breaker().StateOf(a1.ID) != breaker.StateOpen {
		t.Errorf("a1 circuit = %s, want still open", c.Breaker().StateOf(a1.ID))
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-log.done
}

func TestStopDrainsAndFailsPending(t *testing.T) {
	release := make(chan struct{})
	var once sync.Once
	runner := newFakeRunner(func(_ *models.Agent, _ *models.Task, _ int) (string, error) {
		once.Do(func() { <-release })
		return "done", nil
	})
	c, log := startCoordinator(t, testConfig(runner))

	if _, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, nil); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	obj, err := c.CreateObjective("long haul", models.StrategyResearch)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}

	waitFor(t, func() bool {
		tasks := c.ObjectiveTasks(obj.ID)
		return len(tasks) > 0 && tasks[0].Status == models.TaskStatusRunning
	}, "first task to start")

	stopped := make(chan error, 1)
	go func() { stopped <- c.Stop() }()
	time.Sleep(20 * time.Millisecond)
	close(release)

	if err := <-stopped; err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-log.done

	for _, task := range c.ObjectiveTasks(obj.ID) {
		if !task.Status.Terminal() {
			t.Errorf("task %s status after stop = %s, want terminal", task.Type, task.Status)
		}
	}
	if status := objectiveStatus(c, obj.ID); !status.Terminal() {
		t.Errorf("objective status after stop = %s, want terminal", status)
	}
	if _, err := c.CreateObjective("too late", models.StrategyResearch); err == nil {
		t.Error("CreateObjective after stop did not fail")
	}

	state := c.cfg.Store.GetState()
	var ended int
	for _, session := range state.Sessions {
		if session.Status == "ended" && session.EndedAt != nil {
			ended++
		}
	}
	if ended != 1 {
		t.Errorf("ended sessions = %d, want 1", ended)
	}
}

func TestCreateObjectiveValidation(t *testing.T) {
	runner := newFakeRunner(func(_ *models.Agent, _ *models.Task, _ int) (string, error) {
		return "", nil
	})
	c, _ := startCoordinator(t, testConfig(runner))
	defer c.Stop()

	if _, err := c.CreateObjective("x", models.Strategy("delegation")); models.CodeOf(err) != models.CodeInvalidStrategy {
		t.Errorf("unknown strategy error code = %v, want invalid-strategy", models.CodeOf(err))
	}
}

func TestRegisterAgentPoolCap(t *testing.T) {
	runner := newFakeRunner(func(_ *models.Agent, _ *models.Task, _ int) (string, error) {
		return "", nil
	})
	cfg := testConfig(runner)
	cfg.MaxAgents = 1
	c, _ := startCoordinator(t, cfg)
	defer c.Stop()

	if _, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, nil); err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	_, err := c.RegisterAgent("a2", models.AgentTypeCoordinator, nil)
	if models.CodeOf(err) != models.CodeQueueCapacity {
		t.Errorf("over-cap error code = %v, want queue-capacity", models.CodeOf(err))
	}
}

func TestLoneResearcherCompletesResearchPipeline(t *testing.T) {
	runner := newFakeRunner(func(_ *models.Agent, task *models.Task, _ int) (string, error) {
		return "output of " + task.Type, nil
	})
	c, log := startCoordinator(t, testConfig(runner))

	// The pipeline's analysis step is outside the researcher's family;
	// the researcher must still pick it up once nothing better is idle.
	agent, err := c.RegisterAgent("r1", models.AgentTypeResearcher, nil)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	obj, err := c.CreateObjective("map the dependency graph", models.StrategyResearch)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}

	waitFor(t, func() bool {
		return objectiveStatus(c, obj.ID) == models.ObjectiveStatusCompleted
	}, "objective completion")

	for _, task := range c.ObjectiveTasks(obj.ID) {
		if task.Status != models.TaskStatusCompleted {
			t.Errorf("task %s status = %s, want completed", task.Type, task.Status)
		}
		if task.AssignedTo != agent.ID {
			t.Errorf("task %s assigned to %q, want the researcher", task.Type, task.AssignedTo)
		}
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-log.done
}

func TestFamilyMatchIsPreferenceNotFilter(t *testing.T) {
	runner := newFakeRunner(func(_ *models.Agent, _ *models.Task, _ int) (string, error) {
		return "", nil
	})
	c, err := New(testConfig(runner))
	if err != nil {
		t.Fatalf("New: %v", err)
	}

	researcher := &models.Agent{ID: "r", Type: models.AgentTypeResearcher, Status: models.AgentStatusIdle}
	developer := &models.Agent{ID: "d", Type: models.AgentTypeDeveloper, Status: models.AgentStatusIdle}
	idle := map[string]*models.Agent{"r": researcher, "d": developer}

	if got := c.selectAgentLocked(idle, &models.Task{Type: "research"}); got == nil || got.ID != "r" {
		t.Errorf("research task selected %v, want the researcher", got)
	}
	if got := c.selectAgentLocked(idle, &models.Task{Type: "implementation"}); got == nil || got.ID != "d" {
		t.Errorf("implementation task selected %v, want the developer", got)
	}
	// No analyzer registered: the task must still get an agent.
	if got := c.selectAgentLocked(idle, &models.Task{Type: "analysis"}); got == nil {
		t.Error("analysis task selected no agent with only non-matching agents idle")
	}
}

func TestTimedOutAttemptCannotResolveItsRetry(t *testing.T) {
	release1 := make(chan struct{})
	release2 := make(chan struct{})
	runner := newFakeRunner(func(_ *models.Agent, task *models.Task, attempt int) (string, error) {
		if task.Type != "research" {
			return "done", nil
		}
		switch attempt {
		case 1:
			<-release1
			return "", models.NewSwarmError(models.CodeTaskTimeout, "wedged", task.ID)
		default:
			<-release2
			return "done", nil
		}
	})
	cfg := testConfig(runner)
	cfg.TaskTimeout = 50 * time.Millisecond
	cfg.HealthInterval = 20 * time.Millisecond
	cfg.MaxRetries = 3
	c, log := startCoordinator(t, cfg)

	agent, err := c.RegisterAgent("a1", models.AgentTypeCoordinator, nil)
	if err != nil {
		t.Fatalf("RegisterAgent: %v", err)
	}
	obj, err := c.CreateObjective("slow start", models.StrategyResearch)
	if err != nil {
		t.Fatalf("CreateObjective: %v", err)
	}

	researchTask := func() *models.Task {
		for _, task := range c.ObjectiveTasks(obj.ID) {
			if task.Type == "research" {
				return task
			}
		}
		return nil
	}

	// The first attempt hangs past its timeout; the health sweep resets
	// the task and the second attempt starts while the first is still
	// blocked in the runner.
	waitFor(t, func() bool {
		task := researchTask()
		return task != nil && task.RetryCount == 1 && task.Status == models.TaskStatusRunning
	}, "health sweep retry to dispatch")

	// Unblock the stale first attempt. Its late failure must not touch
	// the attempt now running.
	close(release1)
	time.Sleep(100 * time.Millisecond)

	task := researchTask()
	if task.Status != models.TaskStatusRunning {
		t.Fatalf("running attempt resolved by a stale failure: status = %s", task.Status)
	}
	if task.RetryCount != 1 {
		t.Fatalf("retry_count = %d after stale failure, want 1", task.RetryCount)
	}

	close(release2)
	waitFor(t, func() bool {
		return objectiveStatus(c, obj.ID) == models.ObjectiveStatusCompleted
	}, "objective completion")

	if task := researchTask(); task.RetryCount != 1 {
		t.Errorf("research retry_count = %d, want 1", task.RetryCount)
	}
	got, _ := c.Agent(agent.ID)
	if got.Metrics.TasksFailed != 1 {
		t.Errorf("agent tasks_failed = %d, want only the swept attempt", got.Metrics.TasksFailed)
	}

	if err := c.Stop(); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	<-log.done
	if log.count(events.TaskRetry) != 1 {
		t.Errorf("task:retry events = %d, want 1", log.count(events.TaskRetry))
	}
}

func TestAgentFamilyMatching(t *testing.T) {
	cases := []struct {
		agentType models.AgentType
		taskType  string
		want      bool
	}{
		{models.AgentTypeResearcher, "research", true},
		{models.AgentTypeResearcher, "implementation", false},
		{models.AgentTypeDeveloper, "implementation", true},
		{models.AgentTypeDeveloper, "synthesis", true},
		{models.AgentTypeAnalyzer, "analysis", true},
		{models.AgentTypeReviewer, "review", true},
		{models.AgentTypeCoordinator, "implementation", true},
		{models.AgentTypeResearcher, "never-heard-of-it", true},
	}
	for _, tc := range cases {
		if got := agentMatches(tc.agentType, tc.taskType); got != tc.want {
			t.Errorf("agentMatches(%s, %s) = %v, want %v", tc.agentType, tc.taskType, got, tc.want)
		}
	}
}
