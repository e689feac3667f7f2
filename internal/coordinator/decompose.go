package coordinator

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/claude-flow/claude-flow/internal/events"
	"github.com/claude-flow/claude-flow/internal/graph"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// templateStep is one task in a decomposition template. Dependencies
// reference earlier steps by type.
type templateStep struct {
	taskType string
	priority int
	deps     []string
}

// builtinTemplates maps each strategy to its standard decomposition.
// Task types and dependency shapes are an observable part of the
// external surface; changing them breaks consumers.
var builtinTemplates = map[models.Strategy][]templateStep{
	models.StrategyResearch: {
		{taskType: "research", priority: 1},
		{taskType: "analysis", priority: 2, deps: []string{"research"}},
		{taskType: "synthesis", priority: 3, deps: []string{"analysis"}},
	},
	models.StrategyDevelopment: {
		{taskType: "planning", priority: 1},
		{taskType: "implementation", priority: 2, deps: []string{"planning"}},
		{taskType: "testing", priority: 3, deps: []string{"implementation"}},
		{taskType: "documentation", priority: 4, deps: []string{"implementation"}},
		{taskType: "review", priority: 5, deps: []string{"testing", "documentation"}},
	},
	models.StrategyAnalysis: {
		{taskType: "data-collection", priority: 1},
		{taskType: "analysis", priority: 2, deps: []string{"data-collection"}},
		{taskType: "reporting", priority: 3, deps: []string{"analysis"}},
	},
	models.StrategyAuto: {
		{taskType: "exploration", priority: 1},
		{taskType: "planning", priority: 2, deps: []string{"exploration"}},
		{taskType: "execution", priority: 3, deps: []string{"planning"}},
		{taskType: "validation", priority: 4, deps: []string{"execution"}},
		{taskType: "completion", priority: 5, deps: []string{"validation"}},
	},
}

// CreateObjective decomposes a description into tasks per the
// strategy's template and registers them for dispatch.
func (c *Coordinator) CreateObjective(description string, strategy models.Strategy) (*models.Objective, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.running {
		return nil, fmt.Errorf("coordinator: not accepting objectives")
	}
	template, ok := c.templates[strategy]
	if !ok {
		return nil, models.NewSwarmError(models.CodeInvalidStrategy, "unknown strategy: "+string(strategy))
	}
	if len(template) == 0 {
		return nil, models.NewSwarmError(models.CodeEmptyObjective, "objective decomposed to zero tasks")
	}

	obj := &models.Objective{
		ID:          uuid.New().String(),
		Description: description,
		Strategy:    strategy,
		Status:      models.ObjectiveStatusPlanning,
		CreatedAt:   time.Now(),
	}

	byType := make(map[string]string, len(template))
	tasks := make([]*models.Task, 0, len(template))
	for _, step := range template {
		task := &models.Task{
			ID:          uuid.New().String(),
			ObjectiveID: obj.ID,
			Type:        step.taskType,
			Description: fmt.Sprintf("%s: %s", step.taskType, description),
			Priority:    step.priority,
			Status:      models.TaskStatusPending,
			CreatedAt:   time.Now(),
			MaxRetries:  c.cfg.MaxRetries,
			Timeout:     c.cfg.TaskTimeout,
		}
		for _, dep := range step.deps {
			task.Dependencies = append(task.Dependencies, byType[dep])
		}
		byType[step.taskType] = task.ID
		tasks = append(tasks, task)
		obj.Tasks = append(obj.Tasks, task.ID)
	}

	g := graph.New()
	if err := g.Build(tasks); err != nil {
		return nil, err
	}

	c.objectives[obj.ID] = obj
	c.graphs[obj.ID] = g
	for _, task := range tasks {
		c.tasks[task.ID] = task
	}

	for _, task := range tasks {
		c.syncTask(task)
	}
	c.syncObjective(obj)
	c.emitter.Emit(events.Event{Type: events.ObjectiveCreated, ObjectiveID: obj.ID, Message: description})
	return obj.Clone(), nil
}
