// Package graph provides the task dependency DAG used by the dispatcher.
package graph

import (
	"sync"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// DependencyGraph is a directed acyclic graph of task dependencies.
// Tasks are nodes; edges point at the tasks a node is blocked by.
type DependencyGraph struct {
	mu sync.RWMutex
	// nodes maps task ID to the task itself.
	nodes map[string]*models.Task
	// edges maps task ID to IDs of tasks it depends on.
	edges map[string][]string
	// completed tracks which tasks have been marked complete.
	completed map[string]bool
}

// New creates an empty dependency graph.
func New() *DependencyGraph {
	return &DependencyGraph{
		nodes:     make(map[string]*models.Task),
		edges:     make(map[string][]string),
		completed: make(map[string]bool),
	}
}

// Build registers tasks and their dependency edges. It fails with a
// structured error when a dependency references an unknown task, a
// task depends on itself, or the edges form a cycle. Dependency errors
// are fatal; the graph does not guess intent.
func (g *DependencyGraph) Build(tasks []*models.Task) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, task := range tasks {
		g.nodes[task.ID] = task
		g.edges[task.ID] = nil
	}

	for _, task := range tasks {
		for _, depID := range task.Dependencies {
			if depID == task.ID {
				return models.NewSwarmError(models.CodeDependencyCycle, "task depends on itself", task.ID)
			}
			if _, exists := g.nodes[depID]; !exists {
				return models.NewSwarmError(models.CodeUnknownDependency, "task depends on unknown task", task.ID, depID)
			}
			g.edges[task.ID] = append(g.edges[task.ID], depID)
		}
	}

	if cycle := g.findCycleLocked(); cycle != "" {
		return models.NewSwarmError(models.CodeDependencyCycle, "circular dependency detected", cycle)
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *DependencyGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.findCycleLocked() != ""
}

// findCycleLocked runs DFS with coloring and returns a task ID on a
// cycle, or empty when the graph is acyclic. Caller holds the lock.
func (g *DependencyGraph) findCycleLocked() string {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.nodes))

	var found string
	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			switch colors[depID] {
			case 1:
				found = depID
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for id := range g.nodes {
		if colors[id] == 0 && visit(id) {
			return found
		}
	}
	return ""
}

// Ready returns IDs of pending tasks whose dependencies are all
// completed. These tasks can be dispatched in parallel.
func (g *DependencyGraph) Ready() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var ready []string
	for id, task := range g.nodes {
		if g.completed[id] || task.Status.Terminal() || task.Status == models.TaskStatusRunning {
			continue
		}

		satisfied := true
		for _, depID := range g.edges[id] {
			if g.completed[depID] {
				continue
			}
			dep, exists := g.nodes[depID]
			if !exists || dep.Status != models.TaskStatusCompleted {
				satisfied = false
				break
			}
		}
		if satisfied {
			ready = append(ready, id)
		}
	}
	return ready
}

// MarkComplete marks a task as completed, unblocking its dependents.
func (g *DependencyGraph) MarkComplete(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.completed[taskID] = true
}

// Task returns the task for a given ID, or nil if not found.
func (g *DependencyGraph) Task(taskID string) *models.Task {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.nodes[taskID]
}

// Size returns the number of tasks in the graph.
func (g *DependencyGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.nodes)
}

// Dependencies returns the IDs of tasks the given task depends on.
func (g *DependencyGraph) Dependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.edges[taskID]...)
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *DependencyGraph) Dependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for id, deps := range g.edges {
		for _, depID := range deps {
			if depID == taskID {
				dependents = append(dependents, id)
				break
			}
		}
	}
	return dependents
}

// TransitiveDependents returns every task that directly or indirectly
// depends on the given task.
func (g *DependencyGraph) TransitiveDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	seen := map[string]bool{taskID: true}
	var result []string
	queue := []string{taskID}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for id, deps := range g.edges {
			if seen[id] {
				continue
			}
			for _, depID := range deps {
				if depID == current {
					seen[id] = true
					result = append(result, id)
					queue = append(queue, id)
					break
				}
			}
		}
	}
	return result
}
