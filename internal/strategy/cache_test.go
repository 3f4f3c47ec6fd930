package strategy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/hiveworks/swarmd/internal/logging"
	"github.com/hiveworks/swarmd/pkg/models"
)

// fakeSource returns a fixed strategy list, priority-descending like
// the store does.
type fakeSource struct {
	strategies []*models.ExecutionStrategy
	err        error
}

func (f *fakeSource) ListActiveStrategies() ([]*models.ExecutionStrategy, error) {
	return f.strategies, f.err
}

func newCache(t *testing.T, strategies ...*models.ExecutionStrategy) *Cache {
	t.Helper()
	c := NewCache(&fakeSource{strategies: strategies}, logging.Nop())
	if err := c.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}
	return c
}

func TestMatchHighestPriorityWins(t *testing.T) {
	c := newCache(t,
		// Source order is priority-descending.
		&models.ExecutionStrategy{Name: "high", Priority: 20, Pattern: `test`, Backend: "shell", Active: true},
		&models.ExecutionStrategy{Name: "low", Priority: 10, Pattern: `test`, Backend: "claude", Active: true},
	)

	got, err := c.Match("run the test suite")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got.Name != "high" {
		t.Errorf("expected priority-20 strategy, got %s", got.Name)
	}
}

func TestMatchFallsBackToDefault(t *testing.T) {
	c := newCache(t,
		&models.ExecutionStrategy{Name: "tests", Priority: 20, Pattern: `\btest\b`, Backend: "shell", Active: true},
		&models.ExecutionStrategy{Name: "default", Priority: 0, Pattern: `^$`, Backend: "claude", Active: true},
	)

	got, err := c.Match("refactor the config loader")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got.Name != "default" {
		t.Errorf("expected default fallback, got %s", got.Name)
	}
}

func TestMatchFallsBackToCatchAll(t *testing.T) {
	c := newCache(t,
		&models.ExecutionStrategy{Name: "tests", Priority: 20, Pattern: `\btest\b`, Backend: "shell", Active: true},
		&models.ExecutionStrategy{Name: "anything", Priority: 0, Pattern: `.*`, Backend: "claude", Active: true},
	)

	got, err := c.Match("refactor the config loader")
	if err != nil {
		t.Fatalf("match: %v", err)
	}
	if got.Name != "anything" {
		t.Errorf("expected catch-all, got %s", got.Name)
	}
}

func TestMatchNoStrategy(t *testing.T) {
	c := newCache(t,
		&models.ExecutionStrategy{Name: "tests", Priority: 20, Pattern: `\btest\b`, Backend: "shell", Active: true},
	)

	_, err := c.Match("refactor the config loader")
	if !errors.Is(err, ErrNoStrategy) {
		t.Errorf("expected ErrNoStrategy, got %v", err)
	}
}

func TestReloadExcludesInvalidPattern(t *testing.T) {
	c := newCache(t,
		&models.ExecutionStrategy{Name: "broken", Priority: 30, Pattern: `([`, Backend: "shell", Active: true},
		&models.ExecutionStrategy{Name: "tests", Priority: 20, Pattern: `test`, Backend: "shell", Active: true},
	)

	if c.Len() != 1 {
		t.Errorf("expected broken strategy excluded, table has %d entries", c.Len())
	}
	got, err := c.Match("test run")
	if err != nil || got.Name != "tests" {
		t.Errorf("valid strategy must survive a bad sibling: %v, %v", got, err)
	}
}

func TestReloadSwapsAtomically(t *testing.T) {
	src := &fakeSource{strategies: []*models.ExecutionStrategy{
		{Name: "a", Priority: 10, Pattern: `alpha`, Backend: "shell", Active: true},
	}}
	c := NewCache(src, logging.Nop())
	if err := c.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	src.strategies = []*models.ExecutionStrategy{
		{Name: "b", Priority: 10, Pattern: `beta`, Backend: "shell", Active: true},
	}
	if err := c.Reload(); err != nil {
		t.Fatalf("reload: %v", err)
	}

	if _, err := c.Match("alpha"); !errors.Is(err, ErrNoStrategy) {
		t.Error("old table still visible after reload")
	}
	if got, err := c.Match("beta"); err != nil || got.Name != "b" {
		t.Errorf("new table not visible: %v, %v", got, err)
	}
}

func TestLoadSeedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	content := `strategies:
  - name: tests
    priority: 20
    pattern: '\btest\b'
    backend: shell
    payload:
      command: "go test ./..."
  - name: default
    priority: 0
    pattern: '.*'
    backend: claude
  - name: retired
    priority: 5
    pattern: 'legacy'
    backend: shell
    active: false
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}

	strategies, err := LoadSeedFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if len(strategies) != 3 {
		t.Fatalf("expected 3 strategies, got %d", len(strategies))
	}
	if !strategies[0].Active || !strategies[1].Active {
		t.Error("strategies omitting active should default to active")
	}
	if strategies[2].Active {
		t.Error("explicitly inactive strategy parsed as active")
	}
	if strategies[0].Payload["command"] != "go test ./..." {
		t.Errorf("payload = %v", strategies[0].Payload)
	}
}

func TestLoadSeedFileRejectsUnnamed(t *testing.T) {
	path := filepath.Join(t.TempDir(), "strategies.yaml")
	if err := os.WriteFile(path, []byte("strategies:\n  - pattern: x\n"), 0o644); err != nil {
		t.Fatalf("write seed: %v", err)
	}
	if _, err := LoadSeedFile(path); err == nil {
		t.Fatal("expected error for unnamed strategy")
	}
}
