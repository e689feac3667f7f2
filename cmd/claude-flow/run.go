package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/fatih/color"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"github.com/claude-flow/claude-flow/internal/bounded"
	"github.com/claude-flow/claude-flow/internal/breaker"
	"github.com/claude-flow/claude-flow/internal/config"
	"github.com/claude-flow/claude-flow/internal/coordinator"
	"github.com/claude-flow/claude-flow/internal/events"
	"github.com/claude-flow/claude-flow/internal/exec"
	"github.com/claude-flow/claude-flow/internal/memory"
	"github.com/claude-flow/claude-flow/internal/metrics"
	"github.com/claude-flow/claude-flow/internal/verify"
	"github.com/claude-flow/claude-flow/pkg/models"
)

var (
	runStrategy string
	runAgents   []string
)

var runCmd = &cobra.Command{
	Use:   "run <objective>",
	Short: "Run an objective with swarm coordination",
	Long: `Decompose an objective into dependency-ordered tasks and execute
them with a swarm of agents.

Strategy selection (--strategy):
  - auto:        exploration → planning → execution → validation → completion
  - research:    research → analysis → synthesis
  - development: planning → implementation → testing + documentation → review
  - analysis:    data-collection → analysis → reporting

Agents (--agent, repeatable) are declared as type[:capability,...], e.g.
  --agent developer:typescript,test --agent researcher`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSwarm,
}

func init() {
	runCmd.Flags().StringVarP(&runStrategy, "strategy", "s", "auto", "Decomposition strategy")
	runCmd.Flags().StringArrayVar(&runAgents, "agent", []string{"coordinator"}, "Agent spec type[:capability,...]")
}

func runSwarm(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, kv, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Backends().Close()

	if loaded, err := st.LoadPersisted(); err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	} else if loaded {
		fmt.Println("Resuming from persisted swarm state.")
	}

	memCfg := memory.DefaultConfig()
	memCfg.MaxEntries = cfg.Memory.MaxEntries
	memCfg.MaxEntriesPerAgent = cfg.Memory.MaxEntriesPerAgent
	memCfg.HighWater = cfg.Memory.HighWater
	mem, err := memory.New(memCfg, kv, nil)
	if err != nil {
		return fmt.Errorf("create memory substrate: %w", err)
	}
	defer mem.Close()

	if cfg.Memory.PressureThresholdMB > 0 {
		monitor := bounded.NewPressureMonitor(cfg.Memory.PressureInterval, uint64(cfg.Memory.PressureThresholdMB)<<20)
		mem.RegisterPressure(monitor)
		monitor.Start(context.Background())
		defer monitor.Stop()
	}

	pipeline := verify.NewPipeline(exec.NewRunner(), mem, verify.Config{
		StatusDir: cfg.Verification.StatusDir,
		FailFast:  cfg.Verification.FailFast,
	})

	debug, err := coordinator.NewDebugLogger(cfg.Swarm.DebugLog)
	if err != nil {
		return err
	}
	defer debug.Close()

	c, err := coordinator.New(coordinator.Config{
		MaxAgents:           cfg.Swarm.MaxAgents,
		HealthInterval:      cfg.Swarm.HealthInterval,
		RebalanceInterval:   cfg.Swarm.RebalanceInterval,
		ObjectiveRetention:  cfg.Swarm.ObjectiveRetention,
		TaskTimeout:         cfg.Swarm.TaskTimeout,
		MaxRetries:          cfg.Swarm.MaxRetries,
		VerificationEnabled: cfg.Verification.Enabled,
		TemplatePath:        cfg.Swarm.TemplatePath,
		Breaker: breaker.Config{
			FailureThreshold: cfg.Breaker.FailureThreshold,
			OpenTimeout:      cfg.Breaker.OpenTimeout,
		},
		Store:    st,
		Memory:   mem,
		Verifier: pipeline,
		Runner:   newAgentRunner(cfg.Swarm.AgentCommand),
		Metrics:  metrics.MustNew(prometheus.NewRegistry()),
		Debug:    debug,
	})
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := c.Start(ctx); err != nil {
		return err
	}
	go printEvents(c.Events())

	for _, spec := range runAgents {
		agentType, capabilities := parseAgentSpec(spec)
		agent, err := c.RegisterAgent(agentName(agentType), models.AgentType(agentType), capabilities)
		if err != nil {
			c.Stop()
			return fmt.Errorf("register agent %q: %w", spec, err)
		}
		fmt.Printf("Registered %s agent %s\n", agent.Type, color.CyanString(agent.Name))
	}

	objective := strings.Join(args, " ")
	obj, err := c.CreateObjective(objective, models.Strategy(runStrategy))
	if err != nil {
		c.Stop()
		return err
	}
	fmt.Printf("Objective %s: %d tasks (%s strategy)\n", color.CyanString(obj.ID[:8]), len(obj.Tasks), obj.Strategy)

	status := waitForObjective(ctx, c, obj.ID)
	if err := c.Stop(); err != nil {
		return err
	}

	switch status {
	case models.ObjectiveStatusCompleted:
		fmt.Printf("\n%s Objective completed.\n", color.GreenString("✓"))
		return nil
	default:
		fmt.Printf("\n%s Objective %s.\n", color.RedString("✗"), status)
		return fmt.Errorf("objective did not complete")
	}
}

// waitForObjective blocks until the objective reaches a terminal
// status or the context is cancelled.
func waitForObjective(ctx context.Context, c *coordinator.Coordinator, objectiveID string) models.ObjectiveStatus {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			fmt.Println("\nInterrupted, draining swarm...")
			obj, _ := c.Objective(objectiveID)
			if obj == nil {
				return models.ObjectiveStatusFailed
			}
			return obj.Status
		case <-ticker.C:
			obj, ok := c.Objective(objectiveID)
			if !ok {
				return models.ObjectiveStatusFailed
			}
			if obj.Status.Terminal() {
				return obj.Status
			}
		}
	}
}

// printEvents renders the coordinator event stream until it closes.
func printEvents(ch <-chan events.Event) {
	for event := range ch {
		switch event.Type {
		case events.TaskAssigned:
			fmt.Printf("  %s task %s → agent %s\n", color.CyanString("▸"), short(event.TaskID), short(event.AgentID))
		case events.TaskCompleted:
			fmt.Printf("  %s task %s completed\n", color.GreenString("✓"), short(event.TaskID))
		case events.TaskRetry:
			fmt.Printf("  %s task %s retrying: %v\n", color.YellowString("↻"), short(event.TaskID), event.Error)
		case events.TaskFailed:
			fmt.Printf("  %s task %s failed: %s\n", color.RedString("✗"), short(event.TaskID), failureDetail(event))
		case events.MonitorAlert:
			fmt.Printf("  %s %s\n", color.YellowString("⚠"), event.Message)
		}
	}
}

func failureDetail(event events.Event) string {
	if event.Error != nil {
		return event.Error.Error()
	}
	return event.Message
}

func short(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// parseAgentSpec splits "type:cap1,cap2" into its parts.
func parseAgentSpec(spec string) (string, []string) {
	agentType, caps, found := strings.Cut(spec, ":")
	if !found || caps == "" {
		return agentType, nil
	}
	return agentType, strings.Split(caps, ",")
}

var agentCounter int

func agentName(agentType string) string {
	agentCounter++
	return fmt.Sprintf("%s-%d", agentType, agentCounter)
}
