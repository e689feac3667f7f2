package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadFromPathDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte("{}\n"), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Swarm.MaxRetries != 3 {
		t.Errorf("swarm.max_retries = %d, want 3", cfg.Swarm.MaxRetries)
	}
	if cfg.Swarm.TaskTimeout != 5*time.Minute {
		t.Errorf("swarm.task_timeout = %v, want 5m", cfg.Swarm.TaskTimeout)
	}
	if cfg.Memory.MaxEntries != 1000 {
		t.Errorf("memory.max_entries = %d, want 1000", cfg.Memory.MaxEntries)
	}
	if cfg.Memory.HighWater != 0.7 {
		t.Errorf("memory.high_water = %v, want 0.7", cfg.Memory.HighWater)
	}
	if cfg.Breaker.OpenTimeout != 30*time.Second {
		t.Errorf("breaker.open_timeout = %v, want 30s", cfg.Breaker.OpenTimeout)
	}
	if !cfg.Verification.Enabled {
		t.Error("verification.enabled = false, want true")
	}
	if cfg.Persistence.Backend != "sqlite" {
		t.Errorf("persistence.backend = %q, want sqlite", cfg.Persistence.Backend)
	}
}

func TestLoadFromPathOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
swarm:
  max_agents: 8
  task_timeout: 90s
  agent_command: "echo"
breaker:
  failure_threshold: 5
verification:
  enabled: false
persistence:
  backend: both
  data_dir: /tmp/flow-state
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("LoadFromPath: %v", err)
	}

	if cfg.Swarm.MaxAgents != 8 {
		t.Errorf("swarm.max_agents = %d, want 8", cfg.Swarm.MaxAgents)
	}
	if cfg.Swarm.TaskTimeout != 90*time.Second {
		t.Errorf("swarm.task_timeout = %v, want 90s", cfg.Swarm.TaskTimeout)
	}
	if cfg.Swarm.AgentCommand != "echo" {
		t.Errorf("swarm.agent_command = %q, want echo", cfg.Swarm.AgentCommand)
	}
	if cfg.Breaker.FailureThreshold != 5 {
		t.Errorf("breaker.failure_threshold = %d, want 5", cfg.Breaker.FailureThreshold)
	}
	if cfg.Verification.Enabled {
		t.Error("verification.enabled = true, want false")
	}
	if cfg.Persistence.Backend != "both" || cfg.Persistence.DataDir != "/tmp/flow-state" {
		t.Errorf("persistence = %+v, want both with /tmp/flow-state", cfg.Persistence)
	}
	// Sections untouched by the file keep their defaults.
	if cfg.Memory.MaxEntries != 1000 {
		t.Errorf("memory.max_entries = %d, want default 1000", cfg.Memory.MaxEntries)
	}
}

func TestLoadFromPathMissingFile(t *testing.T) {
	if _, err := LoadFromPath(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Fatal("LoadFromPath accepted a missing file")
	}
}
