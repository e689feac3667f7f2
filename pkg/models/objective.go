package models

import "time"

// ObjectiveStatus represents the current state of an objective.
type ObjectiveStatus string

const (
	// ObjectiveStatusPlanning indicates decomposition is in progress.
	ObjectiveStatusPlanning ObjectiveStatus = "planning"
	// ObjectiveStatusExecuting indicates tasks are being dispatched.
	ObjectiveStatusExecuting ObjectiveStatus = "executing"
	// ObjectiveStatusCompleted indicates all tasks completed and verification passed.
	ObjectiveStatusCompleted ObjectiveStatus = "completed"
	// ObjectiveStatusFailed indicates at least one task failed or verification did not pass.
	ObjectiveStatusFailed ObjectiveStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s ObjectiveStatus) Valid() bool {
	switch s {
	case ObjectiveStatusPlanning, ObjectiveStatusExecuting, ObjectiveStatusCompleted, ObjectiveStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true if the status is a final state.
func (s ObjectiveStatus) Terminal() bool {
	return s == ObjectiveStatusCompleted || s == ObjectiveStatusFailed
}

// Strategy selects a decomposition template for an objective.
type Strategy string

const (
	// StrategyAuto decomposes into a linear exploration-to-completion pipeline.
	StrategyAuto Strategy = "auto"
	// StrategyResearch decomposes into research, analysis, and synthesis.
	StrategyResearch Strategy = "research"
	// StrategyDevelopment decomposes into a plan/implement/test/document/review flow.
	StrategyDevelopment Strategy = "development"
	// StrategyAnalysis decomposes into collection, analysis, and reporting.
	StrategyAnalysis Strategy = "analysis"
)

// Valid returns true if the strategy is a known value.
func (s Strategy) Valid() bool {
	switch s {
	case StrategyAuto, StrategyResearch, StrategyDevelopment, StrategyAnalysis:
		return true
	default:
		return false
	}
}

// Objective is a user-level goal decomposed into tasks.
type Objective struct {
	// ID is the unique identifier for this objective.
	ID string `json:"id"`
	// Description is the user-supplied goal.
	Description string `json:"description"`
	// Strategy is the decomposition template that produced the tasks.
	Strategy Strategy `json:"strategy"`
	// Tasks lists the IDs of the tasks produced by decomposition, in template order.
	Tasks []string `json:"tasks"`
	// Status is the current state of the objective.
	Status ObjectiveStatus `json:"status"`
	// CreatedAt is when the objective was created.
	CreatedAt time.Time `json:"created_at"`
	// CompletedAt is when the objective reached a terminal state.
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Clone returns a deep copy of the objective.
func (o *Objective) Clone() *Objective {
	cp := *o
	cp.Tasks = append([]string(nil), o.Tasks...)
	if o.CompletedAt != nil {
		ts := *o.CompletedAt
		cp.CompletedAt = &ts
	}
	return &cp
}
