// Package swarm runs work items on a bounded pool of workers. The pool
// never queues: a submission past the concurrency cap is rejected
// immediately so callers can apply their own backpressure.
package swarm

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/semaphore"

	"github.com/hiveworks/swarmd/internal/backend"
	"github.com/hiveworks/swarmd/internal/events"
	"github.com/hiveworks/swarmd/internal/policy"
	"github.com/hiveworks/swarmd/internal/strategy"
	"github.com/hiveworks/swarmd/pkg/models"
)

// ErrPoolSaturated indicates the pool is at its concurrency cap. The
// work item was not accepted and was not queued.
var ErrPoolSaturated = errors.New("worker pool saturated")

// ErrInFlight indicates a cancellation targeted an item already claimed
// by a worker. In-flight work is only stopped by its timeout.
var ErrInFlight = errors.New("work item already in flight")

// DefaultPoolSize is the worker cap when configuration omits one.
const DefaultPoolSize = 4

// RetryPolicy selects how retry delays grow between attempts.
type RetryPolicy string

const (
	RetryExponential RetryPolicy = "exponential"
	RetryConstant    RetryPolicy = "constant"
)

// Config tunes the coordinator.
type Config struct {
	// Size is the worker cap. Non-positive falls back to DefaultPoolSize.
	Size int
	// Retry selects the retry delay policy. Defaults to exponential.
	Retry RetryPolicy
	// RetryInterval is the initial delay between attempts.
	RetryInterval time.Duration
}

// Store is the persistence surface the swarm writes execution outcomes
// through.
type Store interface {
	AssignWorker(id, worker string) error
	UpdateStatus(id string, status models.TaskStatus, errMsg string) error
	SetResult(id string, result map[string]any) error
	IncrementRetry(id string) (int, error)
}

// CompletionSink receives execution outcomes. The orchestrator
// implements this to keep its in-memory graph in step with the swarm.
type CompletionSink interface {
	// TaskCompleted records a success and returns how many tasks are
	// ready to run after re-evaluation.
	TaskCompleted(id string) int
	// TaskFailed records a failure.
	TaskFailed(id, reason string)
}

// Execution bookkeeping entries.
type activeEntry struct {
	Worker    string
	StartedAt time.Time
}

type completedEntry struct {
	Result      *backend.Result
	CompletedAt time.Time
}

type failedEntry struct {
	Reason   string
	FailedAt time.Time
}

// Coordinator executes work items against strategy-selected backends
// under role policy, tracking every item through active, completed, or
// failed.
type Coordinator struct {
	cfg      Config
	store    Store
	policies *policy.Engine
	cache    *strategy.Cache
	backends *backend.Registry
	bus      *events.Bus
	log      zerolog.Logger

	// sink is told about every outcome; nil means no graph to update.
	sink CompletionSink

	sem *semaphore.Weighted
	wg  sync.WaitGroup

	mu        sync.RWMutex
	active    map[string]activeEntry
	completed map[string]completedEntry
	failed    map[string]failedEntry
}

// New builds a coordinator. The sink is notified synchronously after
// each outcome; the ready count it returns on completion is pushed on
// the bus as the work-ready notification.
func New(cfg Config, store Store, policies *policy.Engine, cache *strategy.Cache,
	backends *backend.Registry, bus *events.Bus, sink CompletionSink, log zerolog.Logger) *Coordinator {

	if cfg.Size <= 0 {
		cfg.Size = DefaultPoolSize
	}
	if cfg.Retry == "" {
		cfg.Retry = RetryExponential
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = time.Second
	}

	return &Coordinator{
		cfg:       cfg,
		store:     store,
		policies:  policies,
		cache:     cache,
		backends:  backends,
		bus:       bus,
		log:       log,
		sink:      sink,
		sem:       semaphore.NewWeighted(int64(cfg.Size)),
		active:    make(map[string]activeEntry),
		completed: make(map[string]completedEntry),
		failed:    make(map[string]failedEntry),
	}
}

// Submit claims a worker slot and starts executing the item. When all
// slots are busy it returns ErrPoolSaturated without queueing.
func (c *Coordinator) Submit(ctx context.Context, item *models.WorkItem) error {
	if !c.sem.TryAcquire(1) {
		return fmt.Errorf("submit %s: %w", item.ID, ErrPoolSaturated)
	}

	worker := "worker-" + uuid.New().String()[:8]
	c.mu.Lock()
	c.active[item.ID] = activeEntry{Worker: worker, StartedAt: time.Now()}
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer c.sem.Release(1)
		c.execute(ctx, item, worker)
	}()
	return nil
}

// Cancel fails an item that no worker has claimed yet. Items in flight
// return ErrInFlight; their timeout is the only way to stop them.
func (c *Coordinator) Cancel(id string) error {
	c.mu.RLock()
	_, inFlight := c.active[id]
	c.mu.RUnlock()
	if inFlight {
		return fmt.Errorf("cancel %s: %w", id, ErrInFlight)
	}
	if err := c.store.UpdateStatus(id, models.TaskStatusFailed, "cancelled"); err != nil {
		return fmt.Errorf("cancel %s: %w", id, err)
	}
	return nil
}

// execute runs the full lifecycle of one work item on one worker.
func (c *Coordinator) execute(ctx context.Context, item *models.WorkItem, worker string) {
	log := c.log.With().Str("item", item.ID).Str("worker", worker).Logger()

	if _, known := c.policies.Role(item.Role); !known {
		c.finishFailed(item.ID, fmt.Sprintf("unknown role %q", item.Role))
		log.Error().Str("role", string(item.Role)).Msg("work item has unknown role")
		return
	}

	strat, err := c.cache.Match(item.Title + " " + item.Description)
	if err != nil {
		c.finishFailed(item.ID, fmt.Sprintf("strategy lookup: %v", err))
		log.Error().Err(err).Msg("no execution strategy")
		return
	}
	adapter, err := c.backends.Get(strat.Backend)
	if err != nil {
		c.finishFailed(item.ID, fmt.Sprintf("backend lookup: %v", err))
		log.Error().Err(err).Str("backend", strat.Backend).Msg("strategy names unknown backend")
		return
	}

	if err := c.enforcePolicy(item, strat); err != nil {
		c.finishFailed(item.ID, err.Error())
		log.Warn().Err(err).Msg("policy denied execution")
		return
	}

	if err := c.store.AssignWorker(item.ID, worker); err != nil {
		log.Warn().Err(err).Msg("assign worker failed")
	}
	if err := c.store.UpdateStatus(item.ID, models.TaskStatusActive, ""); err != nil {
		log.Warn().Err(err).Msg("mark active failed")
	}
	c.bus.Publish(events.Event{Topic: events.TopicTaskStarted, TaskID: item.ID, Message: worker})

	result, err := c.runWithRetries(ctx, item, strat, adapter, log)
	if err != nil {
		c.finishFailed(item.ID, err.Error())
		log.Warn().Err(err).Msg("work item failed")
		return
	}

	c.finishCompleted(item.ID, result)
	log.Info().Str("strategy", strat.Name).Msg("work item completed")
}

// enforcePolicy gates the strategy against the item's role before any
// attempt runs. Shell strategies are checked against the role's shell
// whitelist; the timeout ceiling is applied by clamping in runOnce
// rather than rejecting here.
func (c *Coordinator) enforcePolicy(item *models.WorkItem, strat *models.ExecutionStrategy) error {
	if strat.Backend != "shell" {
		return nil
	}
	command, ok := strat.Payload["command"].(string)
	if !ok || command == "" {
		return nil
	}
	return c.policies.Enforce(item.Role, models.ToolShell,
		policy.Args{Command: strings.Fields(command)}, policy.Options{})
}

// runWithRetries executes attempts until success, retry exhaustion, or
// context cancellation. A busy resource skips the attempt without
// consuming a retry.
func (c *Coordinator) runWithRetries(ctx context.Context, item *models.WorkItem,
	strat *models.ExecutionStrategy, adapter backend.Backend, log zerolog.Logger) (*backend.Result, error) {

	req := backend.Request{
		ItemID:      item.ID,
		Title:       item.Title,
		Description: item.Description,
		Context:     item.Context,
		Payload:     strat.Payload,
	}

	delay := c.newBackOff()
	retries := item.RetryCount
	maxRetries := item.MaxRetries
	if maxRetries <= 0 {
		maxRetries = models.DefaultMaxRetries
	}

	for {
		result, err := c.runOnce(ctx, adapter, req, item)
		if err == nil {
			return result, nil
		}
		if ctx.Err() != nil {
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("execution timed out: %w", err)
		}

		if errors.Is(err, backend.ErrResourceBusy) {
			log.Debug().Msg("resource busy, skipping without consuming a retry")
		} else {
			n, incErr := c.store.IncrementRetry(item.ID)
			if incErr != nil {
				log.Warn().Err(incErr).Msg("increment retry failed")
				retries++
			} else {
				retries = n
			}
			if retries >= maxRetries {
				return nil, fmt.Errorf("retries exhausted after %d attempts: %w", retries, err)
			}
			log.Debug().Int("retry", retries).Err(err).Msg("attempt failed, retrying")
		}

		wait := delay.NextBackOff()
		if wait == backoff.Stop {
			return nil, fmt.Errorf("retry budget exhausted: %w", err)
		}
		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("execution cancelled: %w", ctx.Err())
		case <-time.After(wait):
		}
	}
}

// runOnce executes a single attempt under the effective timeout: the
// role's policy ceiling bounds the item's own timeout.
func (c *Coordinator) runOnce(ctx context.Context, adapter backend.Backend,
	req backend.Request, item *models.WorkItem) (*backend.Result, error) {

	timeout := item.Timeout
	if timeout <= 0 {
		timeout = models.DefaultTimeout
	}
	if ceiling := c.policies.MaxTimeout(item.Role); ceiling > 0 && timeout > ceiling {
		timeout = ceiling
	}

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return adapter.Execute(attemptCtx, req)
}

// finishCompleted moves an item from active to completed, persists the
// result, and synchronously re-evaluates readiness.
func (c *Coordinator) finishCompleted(id string, result *backend.Result) {
	c.mu.Lock()
	delete(c.active, id)
	c.completed[id] = completedEntry{Result: result, CompletedAt: time.Now()}
	c.mu.Unlock()

	payload := map[string]any{"output": result.Output}
	for k, v := range result.Data {
		payload[k] = v
	}
	if err := c.store.SetResult(id, payload); err != nil {
		c.log.Error().Err(err).Str("item", id).Msg("persist result failed")
	}

	c.bus.Publish(events.Event{Topic: events.TopicTaskCompleted, TaskID: id})
	if c.sink != nil {
		c.bus.WorkReady(c.sink.TaskCompleted(id))
	}
}

// finishFailed moves an item from active to failed and persists the
// failure reason.
func (c *Coordinator) finishFailed(id, reason string) {
	c.mu.Lock()
	delete(c.active, id)
	c.failed[id] = failedEntry{Reason: reason, FailedAt: time.Now()}
	c.mu.Unlock()

	if err := c.store.UpdateStatus(id, models.TaskStatusFailed, reason); err != nil {
		c.log.Error().Err(err).Str("item", id).Msg("persist failure failed")
	}
	c.bus.Publish(events.Event{Topic: events.TopicTaskFailed, TaskID: id, Message: reason})
	if c.sink != nil {
		c.sink.TaskFailed(id, reason)
	}
}

func (c *Coordinator) newBackOff() backoff.BackOff {
	if c.cfg.Retry == RetryConstant {
		return backoff.NewConstantBackOff(c.cfg.RetryInterval)
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.cfg.RetryInterval
	bo.MaxElapsedTime = 0
	return bo
}

// ActiveCount returns how many items are currently executing.
func (c *Coordinator) ActiveCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.active)
}

// Snapshot reports the coordinator's bookkeeping for one item: which
// map it is in and the associated detail.
func (c *Coordinator) Snapshot(id string) (state string, detail string) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if e, ok := c.active[id]; ok {
		return "active", e.Worker
	}
	if e, ok := c.completed[id]; ok {
		return "completed", e.Result.Output
	}
	if e, ok := c.failed[id]; ok {
		return "failed", e.Reason
	}
	return "", ""
}

// Wait blocks until every in-flight worker returns.
func (c *Coordinator) Wait() {
	c.wg.Wait()
}
