// Package config loads the YAML configuration file and applies defaults.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the main configuration structure for Beacon.
type Config struct {
	Workspace WorkspaceConfig `yaml:"workspace"`
	Providers ProvidersConfig `yaml:"providers"`
	Routing   RoutingConfig   `yaml:"routing"`
	Agent     AgentConfig     `yaml:"agent"`
	Memory    MemoryConfig    `yaml:"memory"`
	Tasks     TasksConfig     `yaml:"tasks"`
	Webhooks  WebhooksConfig  `yaml:"webhooks"`
	Logging   LoggingConfig   `yaml:"logging"`
}

type WorkspaceConfig struct {
	Path string `yaml:"path"`
}

type ProvidersConfig struct {
	Local     LocalProviderConfig  `yaml:"local"`
	Remote    RemoteProviderConfig `yaml:"remote"`
	Embedding EmbeddingConfig      `yaml:"embedding"`
}

type LocalProviderConfig struct {
	BaseURL       string `yaml:"base_url"`
	Model         string `yaml:"model"`
	APIKey        string `yaml:"api_key"`
	ContextLength int    `yaml:"context_length"`
}

type RemoteProviderConfig struct {
	APIKey        string `yaml:"api_key"`
	Model         string `yaml:"model"`
	ContextLength int    `yaml:"context_length"`
}

type EmbeddingConfig struct {
	BaseURL   string `yaml:"base_url"`
	Model     string `yaml:"model"`
	Dimension int    `yaml:"dimension"`
}

type RoutingConfig struct {
	DefaultTarget string   `yaml:"default_target"`
	AlwaysLocal   []string `yaml:"always_local"`
	AlwaysRemote  []string `yaml:"always_remote"`
}

type AgentConfig struct {
	SystemPrompt        string  `yaml:"system_prompt"`
	MaxTurns            int     `yaml:"max_turns"`
	EscalationThreshold float64 `yaml:"escalation_threshold"`
	ReserveForOutput    int     `yaml:"reserve_for_output"`
	MaxToolResultTokens int     `yaml:"max_tool_result_tokens"`
}

type MemoryConfig struct {
	AutoMaxAge         time.Duration `yaml:"auto_max_age"`
	ConversationMaxAge time.Duration `yaml:"conversation_max_age"`
	WorkingTTL         time.Duration `yaml:"working_ttl"`
	RetrievalLimit     int           `yaml:"retrieval_limit"`
	RetrievalMinScore  float64       `yaml:"retrieval_min_score"`
}

type TasksConfig struct {
	TickInterval time.Duration   `yaml:"tick_interval"`
	EventDedupe  time.Duration   `yaml:"event_dedupe"`
	TaskTimeout  time.Duration   `yaml:"task_timeout"`
	Discovery    DiscoveryConfig `yaml:"discovery"`
	Heartbeat    HeartbeatConfig `yaml:"heartbeat"`
}

type DiscoveryConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type HeartbeatConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Interval time.Duration `yaml:"interval"`
}

type WebhooksConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	applyDefaults(&cfg)
	return &cfg, nil
}

// Default returns the configuration used when no file exists.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

func applyDefaults(cfg *Config) {
	if cfg.Workspace.Path == "" {
		cfg.Workspace.Path = "workspace"
	}
	if cfg.Providers.Local.BaseURL == "" {
		cfg.Providers.Local.BaseURL = "http://localhost:11434/v1"
	}
	if cfg.Providers.Local.Model == "" {
		cfg.Providers.Local.Model = "qwen2.5:14b"
	}
	if cfg.Providers.Local.ContextLength == 0 {
		cfg.Providers.Local.ContextLength = 32768
	}
	if cfg.Providers.Remote.Model == "" {
		cfg.Providers.Remote.Model = "claude-sonnet-4-20250514"
	}
	if cfg.Providers.Remote.ContextLength == 0 {
		cfg.Providers.Remote.ContextLength = 200000
	}
	if cfg.Providers.Embedding.Model == "" {
		cfg.Providers.Embedding.Model = "nomic-embed-text"
	}
	if cfg.Providers.Embedding.Dimension == 0 {
		cfg.Providers.Embedding.Dimension = 768
	}
	if cfg.Routing.DefaultTarget == "" {
		cfg.Routing.DefaultTarget = "local"
	}
	if cfg.Agent.MaxTurns == 0 {
		cfg.Agent.MaxTurns = 10
	}
	if cfg.Agent.EscalationThreshold == 0 {
		cfg.Agent.EscalationThreshold = 0.4
	}
	if cfg.Agent.ReserveForOutput == 0 {
		cfg.Agent.ReserveForOutput = 2048
	}
	if cfg.Agent.MaxToolResultTokens == 0 {
		cfg.Agent.MaxToolResultTokens = 8000
	}
	if cfg.Memory.AutoMaxAge == 0 {
		cfg.Memory.AutoMaxAge = 30 * 24 * time.Hour
	}
	if cfg.Memory.ConversationMaxAge == 0 {
		cfg.Memory.ConversationMaxAge = 7 * 24 * time.Hour
	}
	if cfg.Memory.WorkingTTL == 0 {
		cfg.Memory.WorkingTTL = time.Hour
	}
	if cfg.Memory.RetrievalLimit == 0 {
		cfg.Memory.RetrievalLimit = 5
	}
	if cfg.Memory.RetrievalMinScore == 0 {
		cfg.Memory.RetrievalMinScore = 0.35
	}
	if cfg.Tasks.TickInterval == 0 {
		cfg.Tasks.TickInterval = 30 * time.Second
	}
	if cfg.Tasks.EventDedupe == 0 {
		cfg.Tasks.EventDedupe = 10 * time.Second
	}
	if cfg.Tasks.TaskTimeout == 0 {
		cfg.Tasks.TaskTimeout = 5 * time.Minute
	}
	if cfg.Tasks.Discovery.Interval == 0 {
		cfg.Tasks.Discovery.Interval = 30 * time.Minute
	}
	if cfg.Tasks.Heartbeat.Interval == 0 {
		cfg.Tasks.Heartbeat.Interval = time.Hour
	}
	if cfg.Webhooks.Addr == "" {
		cfg.Webhooks.Addr = "127.0.0.1:8787"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "text"
	}
}
