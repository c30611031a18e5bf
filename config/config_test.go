package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Model.Default != "gpt-4o" {
		t.Errorf("expected default model gpt-4o, got %s", cfg.Model.Default)
	}
	if cfg.Model.Temperature != 0.2 {
		t.Errorf("expected default temperature 0.2, got %f", cfg.Model.Temperature)
	}
	if !cfg.NATS.Embedded {
		t.Error("expected embedded NATS by default")
	}
	if cfg.Repo.BaseBranch != "main" {
		t.Errorf("expected base branch main, got %s", cfg.Repo.BaseBranch)
	}
	if cfg.Workflow.AutoApprove {
		t.Error("expected manual approval gate by default")
	}
	if len(cfg.Workflow.GuardPatterns) == 0 {
		t.Error("expected default guard patterns")
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name:    "missing model default",
			modify:  func(c *Config) { c.Model.Default = "" },
			wantErr: true,
		},
		{
			name:    "missing base branch",
			modify:  func(c *Config) { c.Repo.BaseBranch = "" },
			wantErr: true,
		},
		{
			name:    "missing data dir",
			modify:  func(c *Config) { c.Workflow.DataDir = "" },
			wantErr: true,
		},
		{
			name:    "temperature too low",
			modify:  func(c *Config) { c.Model.Temperature = -0.1 },
			wantErr: true,
		},
		{
			name:    "temperature too high",
			modify:  func(c *Config) { c.Model.Temperature = 1.1 },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	// Create temp file with config
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "config.yaml")

	content := `
model:
  default: "test-model"
  endpoint: "http://test:1234/v1"
  temperature: 0.5
  timeout: 10m
repo:
  path: "/test/path"
  base_branch: "develop"
nats:
  url: "nats://test:4222"
workflow:
  auto_approve: true
  guard_patterns:
    - "migrations/**"
runner:
  build_command: "make build"
  test_command: "make test"
`
	if err := os.WriteFile(configPath, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	cfg, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("LoadFromFile() error = %v", err)
	}

	if cfg.Model.Default != "test-model" {
		t.Errorf("expected model test-model, got %s", cfg.Model.Default)
	}
	if cfg.Model.Endpoint != "http://test:1234/v1" {
		t.Errorf("expected endpoint http://test:1234/v1, got %s", cfg.Model.Endpoint)
	}
	if cfg.Model.Temperature != 0.5 {
		t.Errorf("expected temperature 0.5, got %f", cfg.Model.Temperature)
	}
	if cfg.Model.Timeout != 10*time.Minute {
		t.Errorf("expected timeout 10m, got %v", cfg.Model.Timeout)
	}
	if cfg.Repo.Path != "/test/path" {
		t.Errorf("expected repo path /test/path, got %s", cfg.Repo.Path)
	}
	if cfg.Repo.BaseBranch != "develop" {
		t.Errorf("expected base branch develop, got %s", cfg.Repo.BaseBranch)
	}
	if cfg.NATS.URL != "nats://test:4222" {
		t.Errorf("expected NATS URL nats://test:4222, got %s", cfg.NATS.URL)
	}
	if !cfg.Workflow.AutoApprove {
		t.Error("expected auto_approve true")
	}
	if len(cfg.Workflow.GuardPatterns) != 1 || cfg.Workflow.GuardPatterns[0] != "migrations/**" {
		t.Errorf("expected guard patterns [migrations/**], got %v", cfg.Workflow.GuardPatterns)
	}
	if cfg.Runner.BuildCommand != "make build" {
		t.Errorf("expected build command make build, got %s", cfg.Runner.BuildCommand)
	}
}

func TestConfigMerge(t *testing.T) {
	base := DefaultConfig()
	override := &Config{
		Model: ModelConfig{
			Default: "override-model",
		},
		Repo: RepoConfig{
			Path: "/override/path",
		},
		Workflow: WorkflowConfig{
			GuardPatterns: []string{"secrets/**"},
		},
	}

	base.Merge(override)

	if base.Model.Default != "override-model" {
		t.Errorf("expected model override-model, got %s", base.Model.Default)
	}
	// Base branch should remain from base since override didn't set it
	if base.Repo.BaseBranch != "main" {
		t.Errorf("expected base branch to remain default, got %s", base.Repo.BaseBranch)
	}
	if base.Repo.Path != "/override/path" {
		t.Errorf("expected repo path /override/path, got %s", base.Repo.Path)
	}
	if len(base.Workflow.GuardPatterns) != 1 || base.Workflow.GuardPatterns[0] != "secrets/**" {
		t.Errorf("expected guard patterns overridden, got %v", base.Workflow.GuardPatterns)
	}
}

func TestConfigSaveToFile(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "subdir", "config.yaml")

	cfg := DefaultConfig()
	cfg.Model.Default = "saved-model"

	if err := cfg.SaveToFile(configPath); err != nil {
		t.Fatalf("SaveToFile() error = %v", err)
	}

	// Verify file was created
	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		t.Error("config file was not created")
	}

	// Load and verify
	loaded, err := LoadFromFile(configPath)
	if err != nil {
		t.Fatalf("failed to load saved config: %v", err)
	}
	if loaded.Model.Default != "saved-model" {
		t.Errorf("expected model saved-model, got %s", loaded.Model.Default)
	}
}
