package models

import "time"

// Expectation declares what a verification command's exit should look like.
type Expectation string

const (
	// ExpectSuccess means the command must exit zero.
	ExpectSuccess Expectation = "success"
	// ExpectFailure means the command must exit non-zero.
	ExpectFailure Expectation = "failure"
)

// Valid returns true if the expectation is a known value.
func (e Expectation) Valid() bool {
	return e == ExpectSuccess || e == ExpectFailure
}

// VerificationCommand is an external command whose observed exit must
// match a declared expectation.
type VerificationCommand struct {
	// Command is the shell command to execute.
	Command string `json:"command"`
	// Expectation defines what "pass" means for this command.
	Expectation Expectation `json:"expectation"`
	// Description is a human-readable explanation of what this verifies.
	Description string `json:"description,omitempty"`
	// Critical marks commands whose failure can short-circuit the run.
	Critical bool `json:"critical"`
	// Timeout is the maximum time to wait for this command.
	Timeout time.Duration `json:"timeout_ms,omitempty"`
}

// VerificationResult is the outcome of running one verification command.
type VerificationResult struct {
	// Command is the command that was executed.
	Command string `json:"command"`
	// ExitCode is the process exit code (-1 if the process never ran).
	ExitCode int `json:"exit_code"`
	// Stdout is the captured standard output.
	Stdout string `json:"stdout"`
	// Stderr is the captured standard error.
	Stderr string `json:"stderr"`
	// Duration is how long the command took.
	Duration time.Duration `json:"duration_ms"`
	// MatchesExpectation is true when the exit code satisfies the declared expectation.
	MatchesExpectation bool `json:"matches_expectation"`
}

// StatusDocument is the on-disk contract an agent signs to claim
// completion. A document is passing only when OK is true, Errors is
// zero, and every declared command produced a matching result.
type StatusDocument struct {
	// OK is true when every verification command matched its expectation.
	OK bool `json:"ok"`
	// Errors counts commands that did not match their expectation.
	Errors int `json:"errors"`
	// Spawned counts subprocesses launched during the run.
	Spawned int `json:"spawned"`
	// Timestamp is when the document was last written.
	Timestamp time.Time `json:"timestamp"`
	// VerificationCommands lists the declared command strings.
	VerificationCommands []string `json:"verification_commands"`
	// Details holds optional free-form notes.
	Details string `json:"details,omitempty"`
	// ErrorDetails lists failed commands and their outputs.
	ErrorDetails []string `json:"error_details,omitempty"`
}

// Passing reports whether the document satisfies the acceptance contract.
// OK implies Errors == 0; a document violating that is not passing.
func (d *StatusDocument) Passing() bool {
	return d != nil && d.OK && d.Errors == 0
}
