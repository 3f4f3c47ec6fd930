// Package strategy provides a read-optimized cache of execution
// strategies matched by regex against task descriptions. The cache is
// loaded from the store at startup and refreshed on a timer or explicit
// reload; readers see a copy-on-write table swapped atomically, so a
// refresh in progress never blocks lookups.
package strategy

import (
	"errors"
	"fmt"
	"regexp"
	"sync/atomic"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/hiveworks/swarmd/pkg/models"
)

// ErrNoStrategy indicates no strategy matched and no fallback exists.
var ErrNoStrategy = errors.New("no strategy found")

// DefaultStrategyName is the explicit fallback consulted when no
// pattern matches a description.
const DefaultStrategyName = "default"

// Source lists the active strategies, priority-descending. The store
// satisfies this.
type Source interface {
	ListActiveStrategies() ([]*models.ExecutionStrategy, error)
}

// compiled pairs a strategy with its compiled pattern.
type compiled struct {
	strategy *models.ExecutionStrategy
	re       *regexp.Regexp
}

// Cache holds the compiled strategy table.
type Cache struct {
	source Source
	log    zerolog.Logger
	table  atomic.Pointer[[]compiled]
	cron   *cron.Cron
}

// NewCache builds a cache over a source. Call Reload before first use.
func NewCache(source Source, log zerolog.Logger) *Cache {
	c := &Cache{source: source, log: log}
	empty := []compiled{}
	c.table.Store(&empty)
	return c
}

// Reload fetches the full active strategy set, recompiles every
// pattern, and swaps the table atomically. A strategy whose pattern
// fails to compile is logged and excluded; it never fails the reload.
func (c *Cache) Reload() error {
	strategies, err := c.source.ListActiveStrategies()
	if err != nil {
		return fmt.Errorf("load strategies: %w", err)
	}

	table := make([]compiled, 0, len(strategies))
	for _, s := range strategies {
		re, err := regexp.Compile(s.Pattern)
		if err != nil {
			c.log.Warn().Str("strategy", s.Name).Str("pattern", s.Pattern).
				Err(err).Msg("excluding strategy with invalid pattern")
			continue
		}
		table = append(table, compiled{strategy: s, re: re})
	}

	c.table.Store(&table)
	c.log.Debug().Int("count", len(table)).Msg("strategy table reloaded")
	return nil
}

// StartRefresh schedules periodic reloads on the given cron spec
// (e.g. "@every 5m"). Reload failures are logged, not fatal.
func (c *Cache) StartRefresh(spec string) error {
	c.cron = cron.New()
	_, err := c.cron.AddFunc(spec, func() {
		if err := c.Reload(); err != nil {
			c.log.Error().Err(err).Msg("strategy refresh failed")
		}
	})
	if err != nil {
		return fmt.Errorf("schedule strategy refresh: %w", err)
	}
	c.cron.Start()
	return nil
}

// StopRefresh stops the refresh schedule, if running.
func (c *Cache) StopRefresh() {
	if c.cron != nil {
		c.cron.Stop()
	}
}

// Match returns the strategy for a task description. The table is
// already priority-descending with insertion order as tie-break, so the
// first pattern match wins. When nothing matches, the strategy named
// "default" is consulted, then any catch-all pattern, then ErrNoStrategy.
func (c *Cache) Match(description string) (*models.ExecutionStrategy, error) {
	table := *c.table.Load()

	for _, entry := range table {
		if entry.re.MatchString(description) {
			return entry.strategy, nil
		}
	}
	for _, entry := range table {
		if entry.strategy.Name == DefaultStrategyName {
			return entry.strategy, nil
		}
	}
	for _, entry := range table {
		// A pattern that matches the empty string matches anything of interest.
		if entry.re.MatchString("") {
			return entry.strategy, nil
		}
	}
	return nil, ErrNoStrategy
}

// Len returns the number of matchable strategies currently cached.
func (c *Cache) Len() int {
	return len(*c.table.Load())
}
