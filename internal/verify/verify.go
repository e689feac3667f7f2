// Package verify implements the verification pipeline: it runs
// declared verification commands through the subprocess runner,
// maintains per-agent status documents, and gates task and objective
// completion on the results.
package verify

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/claude-flow/claude-flow/internal/exec"
	"github.com/claude-flow/claude-flow/pkg/models"
)

// DefaultStatusDir is the conventional status-document directory.
const DefaultStatusDir = "./.claude-flow/swarm-status"

// Requirement declares what one agent must prove before its work is
// accepted.
type Requirement struct {
	// AgentID is the agent under verification.
	AgentID string
	// Commands are the verification commands to execute.
	Commands []models.VerificationCommand
	// WorkingDir is where commands run; empty means the process default.
	WorkingDir string
	// Env holds extra environment variables for the commands.
	Env map[string]string
}

// EnforcementError is a verification failure. The verifier never
// recovers it locally; it propagates to the scheduler, which treats it
// as a task (or objective) failure.
type EnforcementError struct {
	// AgentID is the agent that failed verification.
	AgentID string
	// Failing lists the results that did not match expectations.
	Failing []models.VerificationResult
	// MissingDocument is true when the status document was absent or
	// malformed.
	MissingDocument bool
}

// Error implements the error interface.
func (e *EnforcementError) Error() string {
	if e.MissingDocument {
		return fmt.Sprintf("verification enforcement failed for agent %s: status document missing or malformed", e.AgentID)
	}
	commands := make([]string, len(e.Failing))
	for i, r := range e.Failing {
		commands[i] = r.Command
	}
	return fmt.Sprintf("verification enforcement failed for agent %s: %d command(s) failed: %s",
		e.AgentID, len(e.Failing), strings.Join(commands, "; "))
}

// Unwrap exposes the stable failure code.
func (e *EnforcementError) Unwrap() error {
	if e.MissingDocument {
		return models.NewSwarmError(models.CodeStatusMissing, "status document missing or malformed", e.AgentID)
	}
	return models.NewSwarmError(models.CodeVerificationFailed, "verification commands failed", e.AgentID)
}

// Recorder persists verification outcomes to memory. Satisfied by the
// memory manager.
type Recorder interface {
	Remember(agentID string, entryType models.EntryType, content string, meta models.EntryMetadata) (string, error)
}

// Config tunes the pipeline.
type Config struct {
	// StatusDir is where status documents live.
	StatusDir string
	// FailFast stops executing after a critical command fails.
	FailFast bool
}

// Pipeline runs verification commands and maintains status documents.
type Pipeline struct {
	runner   exec.ProcessRunner
	recorder Recorder
	cfg      Config
}

// NewPipeline creates a pipeline. recorder may be nil, in which case
// objective reports are not persisted.
func NewPipeline(runner exec.ProcessRunner, recorder Recorder, cfg Config) *Pipeline {
	if cfg.StatusDir == "" {
		cfg.StatusDir = DefaultStatusDir
	}
	return &Pipeline{runner: runner, recorder: recorder, cfg: cfg}
}

// EnforceAgent runs the requirement's commands, updating the agent's
// status document along the way. It returns all results plus an
// EnforcementError when any command did not match its expectation.
func (p *Pipeline) EnforceAgent(ctx context.Context, req Requirement) ([]models.VerificationResult, error) {
	declared := make([]string, len(req.Commands))
	for i, cmd := range req.Commands {
		declared[i] = cmd.Command
	}

	doc := &models.StatusDocument{
		Timestamp:            time.Now(),
		VerificationCommands: declared,
	}
	if err := p.WriteStatus(req.AgentID, doc); err != nil {
		return nil, fmt.Errorf("write status document: %w", err)
	}

	var results []models.VerificationResult
	var failing []models.VerificationResult
	for _, cmd := range req.Commands {
		result := p.runCommand(ctx, req, cmd)
		results = append(results, result)
		doc.Spawned++

		if !result.MatchesExpectation {
			failing = append(failing, result)
			doc.ErrorDetails = append(doc.ErrorDetails, formatFailure(cmd, result))
			if cmd.Critical && p.cfg.FailFast {
				log.Printf("[verify] critical command failed for agent %s, stopping: %s", req.AgentID, cmd.Command)
				break
			}
		}
	}

	doc.OK = len(failing) == 0
	doc.Errors = len(failing)
	doc.Timestamp = time.Now()
	if err := p.WriteStatus(req.AgentID, doc); err != nil {
		return results, fmt.Errorf("update status document: %w", err)
	}

	if len(failing) > 0 {
		return results, &EnforcementError{AgentID: req.AgentID, Failing: failing}
	}
	return results, nil
}

// runCommand executes one verification command. A runner error
// (timeout, spawn failure) never matches, regardless of the declared
// expectation.
func (p *Pipeline) runCommand(ctx context.Context, req Requirement, cmd models.VerificationCommand) models.VerificationResult {
	start := time.Now()
	run, err := p.runner.RunShell(ctx, req.WorkingDir, req.Env, cmd.Command, cmd.Timeout)
	duration := time.Since(start)

	if err != nil {
		stderr := run.Stderr
		if stderr == "" {
			stderr = err.Error()
		}
		return models.VerificationResult{
			Command:            cmd.Command,
			ExitCode:           -1,
			Stderr:             stderr,
			Duration:           duration,
			MatchesExpectation: false,
		}
	}

	matches := (cmd.Expectation == models.ExpectSuccess && run.ExitCode == 0) ||
		(cmd.Expectation == models.ExpectFailure && run.ExitCode != 0)

	return models.VerificationResult{
		Command:            cmd.Command,
		ExitCode:           run.ExitCode,
		Stdout:             run.Stdout,
		Stderr:             run.Stderr,
		Duration:           duration,
		MatchesExpectation: matches,
	}
}

func formatFailure(cmd models.VerificationCommand, result models.VerificationResult) string {
	detail := fmt.Sprintf("%s: exit %d (expected %s)", cmd.Command, result.ExitCode, cmd.Expectation)
	if result.Stderr != "" {
		detail += ": " + strings.TrimSpace(result.Stderr)
	}
	return detail
}

// CheckStatus validates an agent's status document against the
// acceptance contract: it exists, parses, and claims ok with zero
// errors. A missing or malformed document is an enforcement failure.
func (p *Pipeline) CheckStatus(agentID string) (*models.StatusDocument, error) {
	doc, err := p.ReadStatus(agentID)
	if err != nil {
		return nil, &EnforcementError{AgentID: agentID, MissingDocument: true}
	}
	if !doc.Passing() {
		return doc, &EnforcementError{AgentID: agentID}
	}
	return doc, nil
}

// ObjectiveReport aggregates per-agent enforcement over an objective.
type ObjectiveReport struct {
	// ObjectiveID is the verified objective.
	ObjectiveID string `json:"objective_id"`
	// Passed is true when every participating agent passed.
	Passed bool `json:"passed"`
	// Timestamp is when the report was produced.
	Timestamp time.Time `json:"timestamp"`
	// Results maps agent ID to that agent's results.
	Results map[string][]models.VerificationResult `json:"results"`
	// FailedAgents lists agents that failed enforcement.
	FailedAgents []string `json:"failed_agents,omitempty"`
}

// EnforceObjective runs per-agent enforcement over every unique
// participating agent. Any failure fails the objective. The report is
// persisted to memory under a stable key when a recorder is
// configured.
func (p *Pipeline) EnforceObjective(ctx context.Context, objectiveID string, reqs []Requirement) (*ObjectiveReport, error) {
	report := &ObjectiveReport{
		ObjectiveID: objectiveID,
		Passed:      true,
		Timestamp:   time.Now(),
		Results:     make(map[string][]models.VerificationResult),
	}

	seen := make(map[string]bool)
	var firstErr error
	for _, req := range reqs {
		if seen[req.AgentID] {
			continue
		}
		seen[req.AgentID] = true

		results, err := p.EnforceAgent(ctx, req)
		report.Results[req.AgentID] = results
		if err != nil {
			report.Passed = false
			report.FailedAgents = append(report.FailedAgents, req.AgentID)
			var enforcement *EnforcementError
			if firstErr == nil && errors.As(err, &enforcement) {
				firstErr = err
			}
		}
	}

	p.persistReport(report)
	if !report.Passed {
		if firstErr != nil {
			return report, firstErr
		}
		return report, models.NewSwarmError(models.CodeVerificationFailed, "objective verification failed", objectiveID)
	}
	return report, nil
}

// persistReport records the aggregated outcome under
// objective-verification:<objective_id>.
func (p *Pipeline) persistReport(report *ObjectiveReport) {
	if p.recorder == nil {
		return
	}

	total := len(report.Results)
	content := fmt.Sprintf("objective %s verification: passed=%v, successful_agents=%d, total_agents=%d",
		report.ObjectiveID, report.Passed, total-len(report.FailedAgents), total)
	_, err := p.recorder.Remember("verification-pipeline", models.EntryTypeResult, content, models.EntryMetadata{
		ObjectiveID: report.ObjectiveID,
		Tags:        []string{"objective-verification:" + report.ObjectiveID},
		ShareLevel:  models.SharePublic,
	})
	if err != nil {
		log.Printf("[verify] persist objective report %s: %v", report.ObjectiveID, err)
	}
}
