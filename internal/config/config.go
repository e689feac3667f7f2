// Package config handles configuration loading for claude-flow.
// It supports XDG config paths, project-level overrides, and
// environment variables.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the swarm.
type Config struct {
	Swarm        SwarmConfig        `mapstructure:"swarm"`
	Memory       MemoryConfig       `mapstructure:"memory"`
	Breaker      BreakerConfig      `mapstructure:"breaker"`
	Verification VerificationConfig `mapstructure:"verification"`
	Persistence  PersistenceConfig  `mapstructure:"persistence"`
}

// SwarmConfig holds coordinator settings.
type SwarmConfig struct {
	// MaxAgents caps the agent pool. Zero means unlimited.
	MaxAgents int `mapstructure:"max_agents"`
	// MaxRetries is the retry budget per task.
	MaxRetries int `mapstructure:"max_retries"`
	// TaskTimeout is the per-attempt task timeout.
	TaskTimeout time.Duration `mapstructure:"task_timeout"`
	// HealthInterval is the stuck-agent sweep period.
	HealthInterval time.Duration `mapstructure:"health_interval"`
	// RebalanceInterval is the work-stealing sample period.
	RebalanceInterval time.Duration `mapstructure:"rebalance_interval"`
	// ObjectiveRetention is how long terminal objectives are kept.
	ObjectiveRetention time.Duration `mapstructure:"objective_retention"`
	// AgentCommand is the shell command used to execute a task; the
	// task description is appended as a quoted argument.
	AgentCommand string `mapstructure:"agent_command"`
	// TemplatePath points at a YAML strategy template override file.
	TemplatePath string `mapstructure:"template_path"`
	// DebugLog is the path of the verbose scheduling trace file.
	// Empty disables the trace.
	DebugLog string `mapstructure:"debug_log"`
}

// MemoryConfig holds memory substrate sizing.
type MemoryConfig struct {
	// MaxEntries caps the cross-agent entry map.
	MaxEntries int `mapstructure:"max_entries"`
	// MaxEntriesPerAgent caps each agent's index.
	MaxEntriesPerAgent int `mapstructure:"max_entries_per_agent"`
	// HighWater is the fraction of MaxEntries kept after pressure cleanup.
	HighWater float64 `mapstructure:"high_water"`
	// PressureThresholdMB is the heap size, in megabytes, that triggers
	// pressure cleanup. Zero disables the monitor.
	PressureThresholdMB int `mapstructure:"pressure_threshold_mb"`
	// PressureInterval is how often the heap is sampled.
	PressureInterval time.Duration `mapstructure:"pressure_interval"`
}

// BreakerConfig holds circuit breaker settings.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens a circuit.
	FailureThreshold int `mapstructure:"failure_threshold"`
	// OpenTimeout is how long an open circuit waits before a probe.
	OpenTimeout time.Duration `mapstructure:"open_timeout"`
}

// VerificationConfig holds verification pipeline settings.
type VerificationConfig struct {
	// Enabled gates completion on the verification pipeline.
	Enabled bool `mapstructure:"enabled"`
	// StatusDir is where agent status documents live.
	StatusDir string `mapstructure:"status_dir"`
	// FailFast stops a run after a critical command fails.
	FailFast bool `mapstructure:"fail_fast"`
}

// PersistenceConfig holds state store backend settings.
type PersistenceConfig struct {
	// Backend selects the primary backend: sqlite, fs, or both.
	Backend string `mapstructure:"backend"`
	// DBPath is the SQLite database path; empty uses the XDG default.
	DBPath string `mapstructure:"db_path"`
	// DataDir is the filesystem backend directory.
	DataDir string `mapstructure:"data_dir"`
}

// Load loads configuration from XDG paths, project overrides, and
// environment variables.
// Precedence (highest to lowest):
// 1. Environment variables (CLAUDE_FLOW_*)
// 2. Project config (.claude-flow.yaml in current directory or parent)
// 3. User config (~/.config/claude-flow/config.yaml)
// 4. Built-in defaults
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	userConfigDir := getUserConfigDir()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(userConfigDir)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("reading user config: %w", err)
		}
	}

	projectConfig := findProjectConfig()
	if projectConfig != "" {
		projectViper := viper.New()
		projectViper.SetConfigFile(projectConfig)
		if err := projectViper.ReadInConfig(); err == nil {
			if err := v.MergeConfigMap(projectViper.AllSettings()); err != nil {
				return nil, fmt.Errorf("merging project config: %w", err)
			}
		}
	}

	v.SetEnvPrefix("CLAUDE_FLOW")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// LoadFromPath loads configuration from a specific path (for testing).
func LoadFromPath(path string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("reading config from %s: %w", path, err)
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("unmarshaling config: %w", err)
	}
	return cfg, nil
}

// GetUserConfigPath returns the path to the user config file.
func GetUserConfigPath() string {
	return filepath.Join(getUserConfigDir(), "config.yaml")
}

// setDefaults configures default values.
func setDefaults(v *viper.Viper) {
	v.SetDefault("swarm.max_agents", 0)
	v.SetDefault("swarm.max_retries", 3)
	v.SetDefault("swarm.task_timeout", "5m")
	v.SetDefault("swarm.health_interval", "5s")
	v.SetDefault("swarm.rebalance_interval", "10s")
	v.SetDefault("swarm.objective_retention", "24h")
	v.SetDefault("swarm.agent_command", "claude -p")
	v.SetDefault("swarm.template_path", "")
	v.SetDefault("swarm.debug_log", "")

	v.SetDefault("memory.max_entries", 1000)
	v.SetDefault("memory.max_entries_per_agent", 100)
	v.SetDefault("memory.high_water", 0.7)
	v.SetDefault("memory.pressure_threshold_mb", 512)
	v.SetDefault("memory.pressure_interval", "30s")

	v.SetDefault("breaker.failure_threshold", 3)
	v.SetDefault("breaker.open_timeout", "30s")

	v.SetDefault("verification.enabled", true)
	v.SetDefault("verification.status_dir", "./.claude-flow/swarm-status")
	v.SetDefault("verification.fail_fast", false)

	v.SetDefault("persistence.backend", "sqlite")
	v.SetDefault("persistence.db_path", "")
	v.SetDefault("persistence.data_dir", "./.claude-flow/state")
}

// getUserConfigDir returns the XDG config directory for claude-flow.
func getUserConfigDir() string {
	if xdgConfig := os.Getenv("XDG_CONFIG_HOME"); xdgConfig != "" {
		return filepath.Join(xdgConfig, "claude-flow")
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".", ".config", "claude-flow")
	}
	return filepath.Join(home, ".config", "claude-flow")
}

// findProjectConfig searches for .claude-flow.yaml in the current
// directory and parents.
func findProjectConfig() string {
	cwd, err := os.Getwd()
	if err != nil {
		return ""
	}

	for {
		configPath := filepath.Join(cwd, ".claude-flow.yaml")
		if _, err := os.Stat(configPath); err == nil {
			return configPath
		}

		parent := filepath.Dir(cwd)
		if parent == cwd {
			break
		}
		cwd = parent
	}

	return ""
}
