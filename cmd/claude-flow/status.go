package main

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/claude-flow/claude-flow/internal/config"
	"github.com/claude-flow/claude-flow/internal/store"
	"github.com/claude-flow/claude-flow/pkg/models"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show persisted swarm state",
	Long: `Display the persisted state of the swarm.

Shows:
  - Coordinator status and sessions
  - Registered agents and their status
  - Task and objective progress
  - Cumulative metrics`,
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "text", "Output format: text or yaml")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}

	st, _, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Backends().Close()

	loaded, err := st.LoadPersisted()
	if err != nil {
		return fmt.Errorf("load persisted state: %w", err)
	}
	if !loaded {
		fmt.Println("No saved swarm state. Run 'claude-flow run <objective>' to start.")
		return nil
	}

	state := st.GetState()
	if statusOutput == "yaml" {
		data, err := yaml.Marshal(state)
		if err != nil {
			return fmt.Errorf("marshal state: %w", err)
		}
		fmt.Print(string(data))
		return nil
	}

	displayState(state)
	return nil
}

func displayState(state *store.UnifiedState) {
	fmt.Printf("Swarm: %s\n", colorSwarmStatus(state.Swarm.Status))

	active, ended := 0, 0
	for _, session := range state.Sessions {
		if session.Status == "active" {
			active++
		} else {
			ended++
		}
	}
	fmt.Printf("Sessions: %d active, %d ended\n", active, ended)

	fmt.Printf("\nAgents (%d):\n", len(state.Agents))
	for _, agent := range sortedAgents(state.Agents) {
		fmt.Printf("  %s  %-12s %-10s %d completed / %d failed\n",
			colorAgentStatus(agent.Status), agent.Name, agent.Type,
			agent.Metrics.TasksCompleted, agent.Metrics.TasksFailed)
	}

	taskCounts := make(map[models.TaskStatus]int)
	for _, task := range state.Tasks {
		taskCounts[task.Status]++
	}
	fmt.Printf("\nTasks: %d pending, %d running, %d completed, %d failed\n",
		taskCounts[models.TaskStatusPending], taskCounts[models.TaskStatusRunning],
		taskCounts[models.TaskStatusCompleted], taskCounts[models.TaskStatusFailed])

	fmt.Printf("\nObjectives (%d):\n", len(state.Swarm.Objectives))
	for _, obj := range state.Swarm.Objectives {
		fmt.Printf("  %s  %s  %s\n", colorObjectiveStatus(obj.Status), short(obj.ID), obj.Description)
	}

	fmt.Printf("\nTotals: %d tasks completed, %d failed, %d retried\n",
		state.Metrics.TasksCompleted, state.Metrics.TasksFailed, state.Metrics.TasksRetried)
}

func sortedAgents(agents map[string]*models.Agent) []*models.Agent {
	out := make([]*models.Agent, 0, len(agents))
	for _, agent := range agents {
		out = append(out, agent)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func colorSwarmStatus(status string) string {
	switch status {
	case "running":
		return color.GreenString(status)
	case "draining":
		return color.YellowString(status)
	default:
		return color.RedString(status)
	}
}

func colorAgentStatus(status models.AgentStatus) string {
	if status == models.AgentStatusBusy {
		return color.YellowString("●")
	}
	return color.GreenString("●")
}

func colorObjectiveStatus(status models.ObjectiveStatus) string {
	switch status {
	case models.ObjectiveStatusCompleted:
		return color.GreenString("✓")
	case models.ObjectiveStatusFailed:
		return color.RedString("✗")
	default:
		return color.YellowString("…")
	}
}
