// Package supervisor manages long-running goroutines with
// restart-on-panic semantics. Children are started in registration
// order and stopped in reverse, so dependencies come up before their
// dependents and drain after them.
package supervisor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"
)

// Child is one managed unit of work. Run should block until the context
// is cancelled; returning early with an error (or panicking) triggers a
// restart with backoff.
type Child struct {
	// Name identifies the child in logs.
	Name string
	// Run does the work. It must honor context cancellation.
	Run func(ctx context.Context) error
	// Critical children stop the whole supervisor when their restart
	// budget is exhausted.
	Critical bool
}

// Supervisor runs children and restarts the ones that fail.
type Supervisor struct {
	log         zerolog.Logger
	children    []Child
	maxRestarts uint64

	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	failures map[string]int
}

// New builds a supervisor. maxRestarts bounds restart attempts per
// child; non-positive means 5.
func New(log zerolog.Logger, maxRestarts int) *Supervisor {
	if maxRestarts <= 0 {
		maxRestarts = 5
	}
	return &Supervisor{
		log:         log,
		maxRestarts: uint64(maxRestarts),
		failures:    make(map[string]int),
	}
}

// Add registers a child. Must be called before Start.
func (s *Supervisor) Add(child Child) {
	s.children = append(s.children, child)
}

// Start launches every child in registration order. It returns once all
// children are running; call Stop or cancel the parent context to shut
// down.
func (s *Supervisor) Start(parent context.Context) {
	ctx, cancel := context.WithCancel(parent)
	s.cancel = cancel

	for _, child := range s.children {
		child := child
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.supervise(ctx, child)
		}()
	}
}

// Stop cancels all children and waits for them to exit.
func (s *Supervisor) Stop() {
	if s.cancel != nil {
		s.cancel()
	}
	s.wg.Wait()
}

// supervise runs one child, restarting on error or panic with
// exponential backoff until the context ends or the budget runs out.
func (s *Supervisor) supervise(ctx context.Context, child Child) {
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 100 * time.Millisecond
	bo.MaxInterval = 30 * time.Second
	bo.MaxElapsedTime = 0

	var restarts uint64
	for {
		err := s.runChild(ctx, child)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			s.log.Info().Str("child", child.Name).Msg("child exited cleanly")
			return
		}

		s.mu.Lock()
		s.failures[child.Name]++
		s.mu.Unlock()

		restarts++
		if restarts > s.maxRestarts {
			s.log.Error().Str("child", child.Name).Uint64("restarts", s.maxRestarts).
				Err(err).Msg("restart budget exhausted")
			if child.Critical && s.cancel != nil {
				s.cancel()
			}
			return
		}

		wait := bo.NextBackOff()
		s.log.Warn().Str("child", child.Name).Dur("backoff", wait).
			Err(err).Msg("child failed, restarting")
		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// runChild invokes the child's Run, converting panics into errors.
func (s *Supervisor) runChild(ctx context.Context, child Child) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return child.Run(ctx)
}

// Failures returns how many times the named child has failed.
func (s *Supervisor) Failures(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.failures[name]
}
