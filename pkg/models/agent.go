package models

import "time"

// AgentStatus represents the current state of an agent.
type AgentStatus string

const (
	// AgentStatusIdle indicates the agent is available for work.
	AgentStatusIdle AgentStatus = "idle"
	// AgentStatusBusy indicates the agent is executing a task.
	AgentStatusBusy AgentStatus = "busy"
	// AgentStatusFailed indicates the agent encountered an unrecoverable error.
	AgentStatusFailed AgentStatus = "failed"
	// AgentStatusCompleted indicates the agent has been retired from the pool.
	AgentStatusCompleted AgentStatus = "completed"
)

// Valid returns true if the status is a known value.
func (s AgentStatus) Valid() bool {
	switch s {
	case AgentStatusIdle, AgentStatusBusy, AgentStatusFailed, AgentStatusCompleted:
		return true
	default:
		return false
	}
}

// AgentType classifies what kind of work an agent is suited for.
type AgentType string

const (
	// AgentTypeResearcher handles research and exploration tasks.
	AgentTypeResearcher AgentType = "researcher"
	// AgentTypeDeveloper handles planning, implementation, and testing tasks.
	AgentTypeDeveloper AgentType = "developer"
	// AgentTypeAnalyzer handles analysis and data-collection tasks.
	AgentTypeAnalyzer AgentType = "analyzer"
	// AgentTypeCoordinator matches any task family.
	AgentTypeCoordinator AgentType = "coordinator"
	// AgentTypeReviewer handles review and validation tasks.
	AgentTypeReviewer AgentType = "reviewer"
)

// Valid returns true if the type is a known value.
func (t AgentType) Valid() bool {
	switch t {
	case AgentTypeResearcher, AgentTypeDeveloper, AgentTypeAnalyzer, AgentTypeCoordinator, AgentTypeReviewer:
		return true
	default:
		return false
	}
}

// AgentMetrics tracks an agent's cumulative performance.
type AgentMetrics struct {
	// TasksCompleted is the number of tasks this agent finished successfully.
	TasksCompleted int `json:"tasks_completed"`
	// TasksFailed is the number of task attempts that failed on this agent.
	TasksFailed int `json:"tasks_failed"`
	// TotalDuration is the cumulative wall-clock time spent executing tasks.
	TotalDuration time.Duration `json:"total_duration_ms"`
	// LastActivity is when the agent last started or finished a task.
	LastActivity time.Time `json:"last_activity"`
}

// SuccessRatio returns completed/(failed+1), used for agent selection.
func (m AgentMetrics) SuccessRatio() float64 {
	return float64(m.TasksCompleted) / float64(m.TasksFailed+1)
}

// Agent represents a worker in the swarm.
type Agent struct {
	// ID is the unique identifier for this agent.
	ID string `json:"id"`
	// Name is the human-readable agent name.
	Name string `json:"name"`
	// Type classifies what work the agent is suited for.
	Type AgentType `json:"type"`
	// Status is the current state of the agent.
	Status AgentStatus `json:"status"`
	// Capabilities lists what the agent can do (used to pick verification commands).
	Capabilities []string `json:"capabilities,omitempty"`
	// CurrentTask is the ID of the task the agent is executing, if busy.
	CurrentTask string `json:"current_task,omitempty"`
	// Metrics tracks cumulative performance.
	Metrics AgentMetrics `json:"metrics"`
}

// Clone returns a deep copy of the agent.
func (a *Agent) Clone() *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return &cp
}

// HasCapability reports whether the agent declares the given capability.
func (a *Agent) HasCapability(name string) bool {
	for _, c := range a.Capabilities {
		if c == name {
			return true
		}
	}
	return false
}
