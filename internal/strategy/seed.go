package strategy

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/hiveworks/swarmd/pkg/models"
)

// Seeder accepts strategy records for persistence. The store satisfies
// this.
type Seeder interface {
	UpsertStrategy(*models.ExecutionStrategy) error
}

// seedFile is the YAML shape of a strategy seed file.
type seedFile struct {
	Strategies []seedStrategy `yaml:"strategies"`
}

type seedStrategy struct {
	Name     string         `yaml:"name"`
	Priority int            `yaml:"priority"`
	Pattern  string         `yaml:"pattern"`
	Backend  string         `yaml:"backend"`
	Payload  map[string]any `yaml:"payload"`
	Active   *bool          `yaml:"active"`
}

// LoadSeedFile parses a strategy seed file. Strategies omit `active`
// to mean active.
func LoadSeedFile(path string) ([]*models.ExecutionStrategy, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed file: %w", err)
	}

	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return nil, fmt.Errorf("parse seed file %s: %w", path, err)
	}

	out := make([]*models.ExecutionStrategy, 0, len(sf.Strategies))
	for i, s := range sf.Strategies {
		if s.Name == "" {
			return nil, fmt.Errorf("seed file %s: strategy %d has no name", path, i)
		}
		active := true
		if s.Active != nil {
			active = *s.Active
		}
		out = append(out, &models.ExecutionStrategy{
			Name:     s.Name,
			Priority: s.Priority,
			Pattern:  s.Pattern,
			Backend:  s.Backend,
			Payload:  s.Payload,
			Active:   active,
		})
	}
	return out, nil
}

// ImportSeed loads a seed file and upserts every strategy into the
// store. Returns the number of strategies imported.
func ImportSeed(seeder Seeder, path string) (int, error) {
	strategies, err := LoadSeedFile(path)
	if err != nil {
		return 0, err
	}
	for _, s := range strategies {
		if err := seeder.UpsertStrategy(s); err != nil {
			return 0, fmt.Errorf("import strategy %s: %w", s.Name, err)
		}
	}
	return len(strategies), nil
}
