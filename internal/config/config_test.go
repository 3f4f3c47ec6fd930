package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hiveworks/swarmd/pkg/models"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFromPath(t *testing.T) {
	path := writeConfig(t, `
anthropic:
  api_key: sk-test
log:
  level: debug
  format: json
pool:
  size: 8
  retry: constant
  retry_interval: 250ms
decompose:
  max_depth: 3
strategy:
  seed_file: /etc/swarmd/strategies.yaml
  refresh_spec: "@every 1m"
`)

	cfg, err := LoadFromPath(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-test" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
	if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
		t.Errorf("log config = %+v", cfg.Log)
	}
	if cfg.Pool.Size != 8 || cfg.Pool.Retry != "constant" || cfg.Pool.RetryInterval != 250*time.Millisecond {
		t.Errorf("pool config = %+v", cfg.Pool)
	}
	if cfg.Decompose.MaxDepth != 3 {
		t.Errorf("max depth = %d", cfg.Decompose.MaxDepth)
	}
	if cfg.Strategy.SeedFile != "/etc/swarmd/strategies.yaml" || cfg.Strategy.RefreshSpec != "@every 1m" {
		t.Errorf("strategy config = %+v", cfg.Strategy)
	}
}

func TestLoadFromPathDefaults(t *testing.T) {
	cfg, err := LoadFromPath(writeConfig(t, "log:\n  level: warn\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Pool.Size != 4 {
		t.Errorf("pool size default = %d, want 4", cfg.Pool.Size)
	}
	if cfg.Decompose.MaxDepth != 5 {
		t.Errorf("max depth default = %d, want 5", cfg.Decompose.MaxDepth)
	}
	if cfg.Strategy.RefreshSpec != "@every 5m" {
		t.Errorf("refresh spec default = %q", cfg.Strategy.RefreshSpec)
	}
}

func TestAPIKeyEnvExpansion(t *testing.T) {
	t.Setenv("TEST_SWARMD_KEY", "sk-expanded")
	cfg, err := LoadFromPath(writeConfig(t, "anthropic:\n  api_key: ${TEST_SWARMD_KEY}\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Anthropic.APIKey != "sk-expanded" {
		t.Errorf("api key = %q", cfg.Anthropic.APIKey)
	}
}

func TestRolePoliciesOverlayDefaults(t *testing.T) {
	cfg, err := LoadFromPath(writeConfig(t, `
roles:
  critic:
    allowed_tools: [filesystem_read, http]
    network: allow
    max_timeout: 2m
`))
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	roles, err := cfg.RolePolicies()
	if err != nil {
		t.Fatalf("role policies: %v", err)
	}

	critic := roles[models.RoleCritic]
	if len(critic.AllowedTools) != 2 || critic.MaxTimeout != 2*time.Minute {
		t.Errorf("critic override not applied: %+v", critic)
	}
	// Unconfigured roles keep their defaults.
	if coder, ok := roles[models.RoleCoder]; !ok || len(coder.AllowedTools) == 0 {
		t.Errorf("coder default missing: %+v", coder)
	}
}

func TestRolePoliciesUnknownRole(t *testing.T) {
	cfg, err := LoadFromPath(writeConfig(t, "roles:\n  wizard:\n    allow_writes: true\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if _, err := cfg.RolePolicies(); err == nil {
		t.Fatal("expected error for unknown role")
	}
}
