package config

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/harun/winagent/pkg/toolexecutor"
)

// Config represents the main winagent configuration
type Config struct {
	// Model backend
	LLM LLMConfig `json:"llm" mapstructure:"llm"`

	// Permission tiers, protected resources and confirmation
	Security SecurityConfig `json:"security" mapstructure:"security"`

	// Conversation loop
	Agent AgentConfig `json:"agent" mapstructure:"agent"`

	// Audit log
	Audit AuditConfig `json:"audit" mapstructure:"audit"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Gateway configuration
	Gateway GatewayConfig `json:"gateway" mapstructure:"gateway"`

	// Tracing
	Tracing TracingConfig `json:"tracing" mapstructure:"tracing"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// LLMConfig selects and configures the model backend
type LLMConfig struct {
	Provider    string  `json:"provider" mapstructure:"provider"` // anthropic, openai, ollama
	Model       string  `json:"model" mapstructure:"model"`
	BaseURL     string  `json:"base_url" mapstructure:"base_url"`
	APIKey      string  `json:"api_key" mapstructure:"api_key"`
	Temperature float64 `json:"temperature" mapstructure:"temperature"`
	MaxTokens   int     `json:"max_tokens" mapstructure:"max_tokens"`
	MaxRetries  int     `json:"max_retries" mapstructure:"max_retries"`
}

// SecurityConfig holds the permission model settings
type SecurityConfig struct {
	DefaultTier         string   `json:"default_tier" mapstructure:"default_tier"`
	ProtectedPaths      []string `json:"protected_paths" mapstructure:"protected_paths"`
	ProtectedProcesses  []string `json:"protected_processes" mapstructure:"protected_processes"`
	AlwaysConfirm       []string `json:"always_confirm" mapstructure:"always_confirm"`
	ToolTimeout         int      `json:"tool_timeout" mapstructure:"tool_timeout"`                 // seconds
	ConfirmationTimeout int      `json:"confirmation_timeout" mapstructure:"confirmation_timeout"` // seconds
}

// AgentConfig holds conversation loop settings
type AgentConfig struct {
	MaxIterations int    `json:"max_iterations" mapstructure:"max_iterations"`
	HistoryWindow int    `json:"history_window" mapstructure:"history_window"`
	SystemPrompt  string `json:"system_prompt" mapstructure:"system_prompt"`
}

// AuditConfig holds audit log settings
type AuditConfig struct {
	DBPath        string `json:"db_path" mapstructure:"db_path"`
	File          string `json:"file" mapstructure:"file"`
	AppendTimeout int    `json:"append_timeout_ms" mapstructure:"append_timeout_ms"`
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Pretty    bool   `json:"pretty" mapstructure:"pretty"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// GatewayConfig holds gateway server configuration
type GatewayConfig struct {
	Port         int    `json:"port" mapstructure:"port"`
	Host         string `json:"host" mapstructure:"host"`
	SharedSecret string `json:"shared_secret" mapstructure:"shared_secret"`
	Metrics      bool   `json:"metrics" mapstructure:"metrics"`
}

// TracingConfig holds OpenTelemetry settings
type TracingConfig struct {
	SampleRatio float64 `json:"sample_ratio" mapstructure:"sample_ratio"`
}

// DefaultConfig returns a config with default values
func DefaultConfig() *Config {
	return &Config{
		LLM: LLMConfig{
			Provider:    "ollama",
			Model:       "llama4",
			BaseURL:     "http://localhost:11434/v1",
			Temperature: 0.7,
			MaxTokens:   4096,
			MaxRetries:  3,
		},
		Security: SecurityConfig{
			DefaultTier:         "operator",
			ProtectedPaths:      toolexecutor.DefaultProtectedPaths(),
			ProtectedProcesses:  toolexecutor.DefaultProtectedProcesses(),
			AlwaysConfirm:       []string{"file_delete", "file_write", "process_kill", "registry_write", "app_install"},
			ToolTimeout:         30,
			ConfirmationTimeout: 60,
		},
		Agent: AgentConfig{
			MaxIterations: 8,
			HistoryWindow: 40,
		},
		Audit: AuditConfig{
			AppendTimeout: 2000,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Pretty:    true,
			Redaction: true,
		},
		Gateway: GatewayConfig{
			Port:    8765,
			Host:    "127.0.0.1",
			Metrics: true,
		},
		Tracing: TracingConfig{
			SampleRatio: 1,
		},
	}
}

// String returns a JSON representation of the config
func (c *Config) String() string {
	data, _ := json.MarshalIndent(c, "", "  ")
	return string(data)
}

// ToolTimeout returns the per-call execution window.
func (c *Config) ToolTimeout() time.Duration {
	return time.Duration(c.Security.ToolTimeout) * time.Second
}

// ConfirmationTimeout returns how long a confirmation may stay pending.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.Security.ConfirmationTimeout) * time.Second
}

// AuditAppendTimeout returns the bounded wait for the audit write lock.
func (c *Config) AuditAppendTimeout() time.Duration {
	return time.Duration(c.Audit.AppendTimeout) * time.Millisecond
}

// DefaultTier parses the configured session tier.
func (c *Config) DefaultTier() (toolexecutor.PermissionTier, error) {
	return toolexecutor.ParseTier(c.Security.DefaultTier)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	v := NewValidator()

	if err := v.ValidateProvider(c.LLM.Provider); err != nil {
		return err
	}
	if c.LLM.Model == "" {
		return fmt.Errorf("llm model is required")
	}
	if c.LLM.Provider != "ollama" {
		if err := v.ValidateAPIKey(c.LLM.APIKey, c.LLM.Provider); err != nil {
			return err
		}
	}
	if c.LLM.BaseURL != "" {
		if err := v.ValidateBaseURL(c.LLM.BaseURL); err != nil {
			return err
		}
	}
	if c.LLM.MaxTokens <= 0 {
		return fmt.Errorf("llm max_tokens must be positive")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("llm temperature must be between 0 and 2")
	}

	if _, err := c.DefaultTier(); err != nil {
		return fmt.Errorf("security default_tier: %w", err)
	}
	if c.Security.ToolTimeout <= 0 {
		return fmt.Errorf("security tool_timeout must be positive")
	}
	if c.Security.ConfirmationTimeout <= 0 {
		return fmt.Errorf("security confirmation_timeout must be positive")
	}
	for _, p := range c.Security.ProtectedPaths {
		if p == "" {
			return fmt.Errorf("security protected_paths contains an empty entry")
		}
	}

	if c.Agent.MaxIterations < 1 {
		return fmt.Errorf("agent max_iterations must be at least 1")
	}
	if c.Agent.HistoryWindow < 0 {
		return fmt.Errorf("agent history_window cannot be negative")
	}

	if c.Tracing.SampleRatio < 0 || c.Tracing.SampleRatio > 1 {
		return fmt.Errorf("tracing sample_ratio must be between 0 and 1")
	}

	if c.Audit.AppendTimeout <= 0 {
		return fmt.Errorf("audit append_timeout_ms must be positive")
	}

	if err := v.ValidatePort(c.Gateway.Port); err != nil {
		return fmt.Errorf("gateway: %w", err)
	}

	return nil
}
