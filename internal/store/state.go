// Package store provides the single source of truth for swarm state:
// agents, tasks, objectives, and sessions, with change notifications,
// grouped transactions, and snapshot/restore over pluggable
// persistence backends.
package store

import (
	"time"

	"github.com/claude-flow/claude-flow/pkg/models"
)

// StateVersion is bumped when the UnifiedState layout changes.
const StateVersion = 1

// SwarmState is the top-level swarm section of the unified state.
type SwarmState struct {
	// ID identifies this swarm instance.
	ID string `json:"id"`
	// Status is the coordinator lifecycle state (stopped, running, draining).
	Status string `json:"status"`
	// Objectives maps objective ID to objective.
	Objectives map[string]*models.Objective `json:"objectives"`
}

// SessionRecord brackets one coordinator run.
type SessionRecord struct {
	// ID is the unique identifier for this session.
	ID string `json:"id"`
	// StartedAt is when the coordinator started.
	StartedAt time.Time `json:"started_at"`
	// EndedAt is when the coordinator stopped, if it has.
	EndedAt *time.Time `json:"ended_at,omitempty"`
	// Status is "active" or "ended".
	Status string `json:"status"`
}

// MemoryStats summarizes the memory substrate for state consumers.
type MemoryStats struct {
	// EntryCount is the number of live memory entries.
	EntryCount int `json:"entry_count"`
	// KnowledgeBases is the number of knowledge bases.
	KnowledgeBases int `json:"knowledge_bases"`
	// LastPersist is when the substrate last flushed to a backend.
	LastPersist time.Time `json:"last_persist"`
}

// OrchestrationState summarizes dispatcher activity.
type OrchestrationState struct {
	// ActiveObjectives lists objectives currently executing.
	ActiveObjectives []string `json:"active_objectives,omitempty"`
	// PendingTasks is the count of tasks awaiting dispatch.
	PendingTasks int `json:"pending_tasks"`
	// RunningTasks is the count of tasks currently assigned.
	RunningTasks int `json:"running_tasks"`
}

// HealthState summarizes the most recent health sweep.
type HealthState struct {
	// LastCheck is when the health sweep last ran.
	LastCheck time.Time `json:"last_check"`
	// StuckAgents lists agents busy past the task timeout.
	StuckAgents []string `json:"stuck_agents,omitempty"`
	// OpenCircuits is the number of agents with an open circuit.
	OpenCircuits int `json:"open_circuits"`
}

// MetricsState holds cumulative swarm counters.
type MetricsState struct {
	// TasksCompleted counts tasks that completed and passed verification.
	TasksCompleted int64 `json:"tasks_completed"`
	// TasksFailed counts tasks that failed permanently.
	TasksFailed int64 `json:"tasks_failed"`
	// TasksRetried counts retry dispatches.
	TasksRetried int64 `json:"tasks_retried"`
	// ObjectivesCompleted counts accepted objectives.
	ObjectivesCompleted int64 `json:"objectives_completed"`
	// ObjectivesFailed counts failed objectives.
	ObjectivesFailed int64 `json:"objectives_failed"`
}

// UnifiedState is the complete state graph owned by the store.
type UnifiedState struct {
	Swarm         SwarmState                `json:"swarm"`
	Agents        map[string]*models.Agent  `json:"agents"`
	Tasks         map[string]*models.Task   `json:"tasks"`
	Sessions      map[string]*SessionRecord `json:"sessions"`
	Memory        MemoryStats               `json:"memory"`
	Orchestration OrchestrationState        `json:"orchestration"`
	Health        HealthState               `json:"health"`
	Metrics       MetricsState              `json:"metrics"`
	Config        map[string]string         `json:"config"`
}

// NewUnifiedState returns an empty, fully initialized state graph.
func NewUnifiedState() *UnifiedState {
	return &UnifiedState{
		Swarm: SwarmState{
			Status:     "stopped",
			Objectives: make(map[string]*models.Objective),
		},
		Agents:   make(map[string]*models.Agent),
		Tasks:    make(map[string]*models.Task),
		Sessions: make(map[string]*SessionRecord),
		Config:   make(map[string]string),
	}
}

// Snapshot is a timestamped immutable dump of the entire state graph.
type Snapshot struct {
	// ID is the unique identifier for this snapshot.
	ID string `json:"id"`
	// Timestamp is when the snapshot was taken.
	Timestamp time.Time `json:"timestamp"`
	// Version is the state layout version.
	Version int `json:"version"`
	// State is the full state graph at snapshot time.
	State *UnifiedState `json:"state"`
}
