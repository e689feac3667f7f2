package models

import (
	"fmt"
	"strings"
)

// ErrorCode is a stable, machine-readable failure code.
type ErrorCode string

const (
	// CodeTaskTimeout indicates a task exceeded its execution timeout.
	CodeTaskTimeout ErrorCode = "task-timeout"
	// CodeVerificationFailed indicates verification commands did not pass.
	CodeVerificationFailed ErrorCode = "verification-failed"
	// CodeCircuitOpen indicates an agent's circuit breaker rejected execution.
	CodeCircuitOpen ErrorCode = "circuit-open"
	// CodePersistenceExhausted indicates every persistence backend failed.
	CodePersistenceExhausted ErrorCode = "persistence-exhausted"
	// CodeStatusMissing indicates a status document was absent or malformed.
	CodeStatusMissing ErrorCode = "status-missing"
	// CodeInvalidStrategy indicates an unknown decomposition strategy.
	CodeInvalidStrategy ErrorCode = "invalid-strategy"
	// CodeDependencyCycle indicates task dependencies do not form a DAG.
	CodeDependencyCycle ErrorCode = "dependency-cycle"
	// CodeUnknownDependency indicates a task references a non-existent dependency.
	CodeUnknownDependency ErrorCode = "unknown-dependency"
	// CodeQueueCapacity indicates an item was evicted from a full queue.
	CodeQueueCapacity ErrorCode = "queue-capacity"
	// CodePrivateEntry indicates an attempt to share or broadcast a private entry.
	CodePrivateEntry ErrorCode = "private-entry"
	// CodeEmptyObjective indicates an objective with no tasks.
	CodeEmptyObjective ErrorCode = "empty-objective"
	// CodeAgentBusy indicates an attempt to assign work to a busy agent.
	CodeAgentBusy ErrorCode = "agent-busy"
	// CodeNotFound indicates a referenced entity does not exist.
	CodeNotFound ErrorCode = "not-found"
)

// SwarmError is a structured failure carrying a stable code and the
// entity IDs involved.
type SwarmError struct {
	// Code is the stable failure code.
	Code ErrorCode
	// Message is the human-readable description.
	Message string
	// Entities lists the IDs of the involved entities.
	Entities []string
	// Err is the wrapped cause, if any.
	Err error
}

// NewSwarmError constructs a SwarmError with the given code, message, and entity IDs.
func NewSwarmError(code ErrorCode, message string, entities ...string) *SwarmError {
	return &SwarmError{Code: code, Message: message, Entities: entities}
}

// WrapSwarmError constructs a SwarmError that wraps an underlying cause.
func WrapSwarmError(code ErrorCode, message string, err error, entities ...string) *SwarmError {
	return &SwarmError{Code: code, Message: message, Entities: entities, Err: err}
}

// Error implements the error interface.
func (e *SwarmError) Error() string {
	if len(e.Entities) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s [%s]", e.Code, e.Message, strings.Join(e.Entities, ", "))
}

// Unwrap returns the wrapped cause.
func (e *SwarmError) Unwrap() error {
	return e.Err
}

// CodeOf returns the stable code of err if it is (or wraps) a
// SwarmError, or an empty code otherwise.
func CodeOf(err error) ErrorCode {
	for err != nil {
		if se, ok := err.(*SwarmError); ok {
			return se.Code
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return ""
		}
		err = u.Unwrap()
	}
	return ""
}
