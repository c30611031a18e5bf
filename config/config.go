// Package config provides configuration loading and management for Ticketflow.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete Ticketflow configuration
type Config struct {
	Model    ModelConfig    `yaml:"model"`
	Repo     RepoConfig     `yaml:"repo"`
	NATS     NATSConfig     `yaml:"nats"`
	Workflow WorkflowConfig `yaml:"workflow"`
	Runner   RunnerConfig   `yaml:"runner"`
	API      APIConfig      `yaml:"api"`
}

// ModelConfig configures the LLM model settings
type ModelConfig struct {
	// Default is the default model to use (e.g., "gpt-4o")
	Default string `yaml:"default"`
	// Endpoint overrides the OpenAI-compatible API endpoint
	Endpoint string `yaml:"endpoint"`
	// Temperature controls randomness (0.0-1.0, default: 0.2)
	Temperature float64 `yaml:"temperature"`
	// Timeout is the maximum time to wait for model responses
	Timeout time.Duration `yaml:"timeout"`
}

// RepoConfig configures the repository settings
type RepoConfig struct {
	// Path is the repository root path (auto-detected from git if empty)
	Path string `yaml:"path"`
	// BaseBranch is the branch runs fork from and pull requests target
	BaseBranch string `yaml:"base_branch"`
}

// NATSConfig configures the NATS connection
type NATSConfig struct {
	// URL is the NATS server URL (empty = use embedded server)
	URL string `yaml:"url"`
	// Embedded indicates whether to use embedded NATS
	Embedded bool `yaml:"embedded"`
}

// WorkflowConfig configures run behavior
type WorkflowConfig struct {
	// AutoApprove skips the manual approval gate for every run
	AutoApprove bool `yaml:"auto_approve"`
	// GuardPatterns are glob patterns for paths no run may modify
	GuardPatterns []string `yaml:"guard_patterns"`
	// DataDir is the directory run records persist under
	DataDir string `yaml:"data_dir"`
}

// RunnerConfig configures the build and test phases
type RunnerConfig struct {
	// BuildCommand is the command run during the build phase
	BuildCommand string `yaml:"build_command"`
	// TestCommand is the command run during the test phase
	TestCommand string `yaml:"test_command"`
}

// APIConfig configures the HTTP API
type APIConfig struct {
	// ListenAddr is the HTTP listen address
	ListenAddr string `yaml:"listen_addr"`
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() *Config {
	return &Config{
		Model: ModelConfig{
			Default:     "gpt-4o",
			Temperature: 0.2,
			Timeout:     5 * time.Minute,
		},
		Repo: RepoConfig{
			Path:       "", // Auto-detect
			BaseBranch: "main",
		},
		NATS: NATSConfig{
			URL:      "",
			Embedded: true,
		},
		Workflow: WorkflowConfig{
			AutoApprove:   false,
			GuardPatterns: []string{".github/**", "go.mod", "go.sum"},
			DataDir:       "./data/ticketflow",
		},
		Runner: RunnerConfig{
			BuildCommand: "go build ./...",
			TestCommand:  "go test -v -cover ./...",
		},
		API: APIConfig{
			ListenAddr: ":8090",
		},
	}
}

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	if c.Model.Default == "" {
		return fmt.Errorf("model.default is required")
	}
	if c.Model.Temperature < 0 || c.Model.Temperature > 1 {
		return fmt.Errorf("model.temperature must be between 0 and 1")
	}
	if c.Repo.BaseBranch == "" {
		return fmt.Errorf("repo.base_branch is required")
	}
	if c.Workflow.DataDir == "" {
		return fmt.Errorf("workflow.data_dir is required")
	}
	return nil
}

// LoadFromFile loads configuration from a YAML file
func LoadFromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	config := DefaultConfig()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	return config, nil
}

// SaveToFile saves configuration to a YAML file
func (c *Config) SaveToFile(path string) error {
	// Ensure parent directory exists
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config file: %w", err)
	}

	return nil
}

// Merge merges another config into this one (other takes precedence for non-zero values)
func (c *Config) Merge(other *Config) {
	if other == nil {
		return
	}

	// Model
	if other.Model.Default != "" {
		c.Model.Default = other.Model.Default
	}
	if other.Model.Endpoint != "" {
		c.Model.Endpoint = other.Model.Endpoint
	}
	if other.Model.Temperature != 0 {
		c.Model.Temperature = other.Model.Temperature
	}
	if other.Model.Timeout != 0 {
		c.Model.Timeout = other.Model.Timeout
	}

	// Repo
	if other.Repo.Path != "" {
		c.Repo.Path = other.Repo.Path
	}
	if other.Repo.BaseBranch != "" {
		c.Repo.BaseBranch = other.Repo.BaseBranch
	}

	// NATS
	if other.NATS.URL != "" {
		c.NATS.URL = other.NATS.URL
		c.NATS.Embedded = false
	}

	// Workflow
	if other.Workflow.AutoApprove {
		c.Workflow.AutoApprove = true
	}
	if len(other.Workflow.GuardPatterns) > 0 {
		c.Workflow.GuardPatterns = other.Workflow.GuardPatterns
	}
	if other.Workflow.DataDir != "" {
		c.Workflow.DataDir = other.Workflow.DataDir
	}

	// Runner
	if other.Runner.BuildCommand != "" {
		c.Runner.BuildCommand = other.Runner.BuildCommand
	}
	if other.Runner.TestCommand != "" {
		c.Runner.TestCommand = other.Runner.TestCommand
	}

	// API
	if other.API.ListenAddr != "" {
		c.API.ListenAddr = other.API.ListenAddr
	}
}
