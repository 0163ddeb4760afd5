// Package config loads agentd's YAML configuration: gopkg.in/yaml.v3
// unmarshaling plus os.ExpandEnv so deployment secrets (API keys, DSNs)
// stay out of the file.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/nexus-agents/agentd/internal/apperr"
)

// Config is agentd's top-level configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Database DatabaseConfig `yaml:"database"`
	Anthropic AnthropicConfig `yaml:"anthropic"`
	AgentLoop AgentLoopConfig `yaml:"agent_loop"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Host              string        `yaml:"host"`
	Port              int           `yaml:"port"`
	HeartbeatInterval time.Duration `yaml:"heartbeat_interval"`
}

// DatabaseConfig configures the Postgres-compatible Event Log Store.
type DatabaseConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	Database        string        `yaml:"database"`
	SSLMode         string        `yaml:"ssl_mode"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
}

// AnthropicConfig configures the model provider.
type AnthropicConfig struct {
	APIKey       string        `yaml:"api_key"`
	BaseURL      string        `yaml:"base_url"`
	DefaultModel string        `yaml:"default_model"`
	MaxRetries   int           `yaml:"max_retries"`
	RetryDelay   time.Duration `yaml:"retry_delay"`
}

// AgentLoopConfig configures run limits shared by every session.
type AgentLoopConfig struct {
	System        string        `yaml:"system"`
	MaxTokens     int           `yaml:"max_tokens"`
	MaxIterations int           `yaml:"max_iterations"`
	MaxToolCalls  int           `yaml:"max_tool_calls"`
	MaxWallTime   time.Duration `yaml:"max_wall_time"`
}

// LoggingConfig configures log/slog output.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "json" | "text"
}

// Default returns the configuration used when no file is supplied.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8080,
			HeartbeatInterval: 10 * time.Second,
		},
		Database: DatabaseConfig{
			Host:            "localhost",
			Port:            5432,
			User:            "postgres",
			Database:        "agentd",
			SSLMode:         "disable",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Anthropic: AnthropicConfig{
			DefaultModel: "claude-sonnet-4-20250514",
			MaxRetries:   3,
			RetryDelay:   time.Second,
		},
		AgentLoop: AgentLoopConfig{
			MaxTokens:     4096,
			MaxIterations: 10,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load reads and parses the YAML file at path, expanding ${VAR} references
// against the process environment before unmarshaling.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	expanded := os.ExpandEnv(string(data))
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the fields the Agent Loop requires at startup: the model
// endpoint's credential and identifier. Callers that don't drive model
// turns (e.g. migrate) may skip calling Validate.
func (c *Config) Validate() error {
	var missing []string
	if strings.TrimSpace(c.Anthropic.APIKey) == "" {
		missing = append(missing, "anthropic.api_key")
	}
	if strings.TrimSpace(c.Anthropic.DefaultModel) == "" {
		missing = append(missing, "anthropic.default_model")
	}
	if len(missing) > 0 {
		return apperr.Wrap(fmt.Sprintf("config: missing %s", strings.Join(missing, ", ")), apperr.ErrNotConfigured)
	}
	return nil
}
