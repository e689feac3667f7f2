// Package events provides the swarm event surface: a typed event
// struct and a buffered, non-blocking emitter shared by the
// coordinator, memory substrate, and verification pipeline.
package events

import (
	"time"
)

// Type identifies the kind of swarm event.
type Type string

const (
	// CoordinatorStarted indicates the coordinator began accepting objectives.
	CoordinatorStarted Type = "coordinator:started"
	// CoordinatorStopped indicates the coordinator finished draining.
	CoordinatorStopped Type = "coordinator:stopped"
	// CoordinatorCleanup indicates retention purged terminal objectives.
	CoordinatorCleanup Type = "coordinator:cleanup"

	// ObjectiveCreated indicates an objective was decomposed into tasks.
	ObjectiveCreated Type = "objective:created"
	// ObjectiveStarted indicates an objective's first task was dispatched.
	ObjectiveStarted Type = "objective:started"
	// ObjectiveCompleted indicates all tasks finished and verification passed.
	ObjectiveCompleted Type = "objective:completed"
	// ObjectiveFailed indicates an objective reached a terminal failure.
	ObjectiveFailed Type = "objective:failed"

	// TaskAssigned indicates a task was dispatched to an agent.
	TaskAssigned Type = "task:assigned"
	// TaskCompleted indicates a task finished and passed verification.
	TaskCompleted Type = "task:completed"
	// TaskFailed indicates a task failed permanently.
	TaskFailed Type = "task:failed"
	// TaskRetry indicates a failed task was reset for another attempt.
	TaskRetry Type = "task:retry"

	// AgentRegistered indicates an agent joined the swarm.
	AgentRegistered Type = "agent:registered"
	// AgentMessage carries an agent-to-agent communication.
	AgentMessage Type = "agent:message"

	// MemoryAdded indicates a new memory entry was written.
	MemoryAdded Type = "memory:added"
	// MemoryShared indicates an entry was copied to another agent.
	MemoryShared Type = "memory:shared"
	// MemoryCleaned indicates pressure cleanup truncated the substrate.
	MemoryCleaned Type = "memory:cleaned"
	// MemorySynced indicates a persistence batch was flushed.
	MemorySynced Type = "memory:synced"
	// MemoryEvicted indicates an entry was evicted from the bounded map.
	MemoryEvicted Type = "memory:evicted"

	// MonitorAlert carries a work-stealing or health advisory.
	MonitorAlert Type = "monitor:alert"
)

// Event is a single swarm event. Fields are set when applicable.
type Event struct {
	// Type is the kind of event.
	Type Type
	// ObjectiveID is the related objective, if applicable.
	ObjectiveID string
	// TaskID is the related task, if applicable.
	TaskID string
	// AgentID is the related agent, if applicable.
	AgentID string
	// EntryID is the related memory entry, if applicable.
	EntryID string
	// Message provides additional context.
	Message string
	// Error contains failure details for failure events.
	Error error
	// Timestamp is when the event occurred.
	Timestamp time.Time
}
