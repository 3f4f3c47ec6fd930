// Package orchestrator owns the in-memory task graph and serializes
// every mutation through a single event-loop goroutine. The store stays
// the source of truth: a task enters the graph only after it has been
// persisted, and status reads go back to the store.
package orchestrator

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiveworks/swarmd/internal/events"
	"github.com/hiveworks/swarmd/internal/graph"
	"github.com/hiveworks/swarmd/pkg/models"
)

// ErrInvalidTask indicates an enqueue request failed validation.
var ErrInvalidTask = errors.New("invalid task")

// ErrNotCompleted indicates a result was requested for a task that has
// not completed. Callers get this instead of a stale or empty result.
var ErrNotCompleted = errors.New("task not completed")

// ErrClosed indicates the orchestrator's event loop has shut down.
var ErrClosed = errors.New("orchestrator closed")

// Store is the persistence surface the orchestrator reads and writes.
type Store interface {
	CreateWorkItem(*models.WorkItem) error
	GetWorkItem(id string) (*models.WorkItem, error)
	GetStatus(id string) (models.TaskStatus, error)
	StatusMap() (map[string]models.TaskStatus, error)
}

// EnqueueRequest describes a task submission. Zero values for Priority,
// Timeout, and MaxRetries take the model defaults.
type EnqueueRequest struct {
	// ID is optional; empty means the orchestrator assigns one.
	ID          string
	Title       string
	Description string
	Role        models.Role
	DependsOn   []string
	Context     map[string]any
	Priority    int
	Complexity  float64
	Timeout     time.Duration
	MaxRetries  int
}

// Orchestrator coordinates task intake, graph state, and result reads.
type Orchestrator struct {
	store Store
	bus   *events.Bus
	log   zerolog.Logger

	ops       chan func()
	quit      chan struct{}
	closeOnce sync.Once

	// Everything below is owned by the event loop and must only be
	// touched from inside run().
	graph    *graph.TaskGraph
	meta     map[string]*models.WorkItem
	results  map[string]map[string]any
	idPrefix string
	seq      int
}

// New builds an orchestrator and starts its event loop. idPrefix seeds
// generated task IDs.
func New(store Store, bus *events.Bus, idPrefix string, log zerolog.Logger) *Orchestrator {
	o := &Orchestrator{
		store:    store,
		bus:      bus,
		log:      log,
		ops:      make(chan func()),
		quit:     make(chan struct{}),
		graph:    graph.New(),
		meta:     make(map[string]*models.WorkItem),
		results:  make(map[string]map[string]any),
		idPrefix: idPrefix,
	}
	go o.run()
	return o
}

// run is the event loop. All graph and cache mutation happens here.
func (o *Orchestrator) run() {
	for {
		select {
		case fn := <-o.ops:
			fn()
		case <-o.quit:
			return
		}
	}
}

// do executes fn on the event loop and waits for it to finish.
func (o *Orchestrator) do(fn func()) error {
	done := make(chan struct{})
	select {
	case o.ops <- func() {
		fn()
		close(done)
	}:
	case <-o.quit:
		return ErrClosed
	}
	<-done
	return nil
}

// Close stops the event loop. Pending operations already submitted may
// be dropped.
func (o *Orchestrator) Close() {
	o.closeOnce.Do(func() { close(o.quit) })
}

// Enqueue validates the request, persists a pending work item, and only
// then adds the task to the in-memory graph. This is the sole write
// path that creates tasks. Returns the task ID.
func (o *Orchestrator) Enqueue(req EnqueueRequest) (string, error) {
	var id string
	var enqErr error
	err := o.do(func() {
		id, enqErr = o.enqueue(req)
	})
	if err != nil {
		return "", err
	}
	return id, enqErr
}

func (o *Orchestrator) enqueue(req EnqueueRequest) (string, error) {
	if err := o.validate(req); err != nil {
		return "", err
	}

	id := req.ID
	if id == "" {
		o.seq++
		id = fmt.Sprintf("%s-task-%d", o.idPrefix, o.seq)
	}
	if o.graph.Get(id) != nil {
		return "", fmt.Errorf("%w: id %q already exists", ErrInvalidTask, id)
	}

	item := &models.WorkItem{
		ID:          id,
		Title:       req.Title,
		Description: req.Description,
		Status:      models.TaskStatusPending,
		Priority:    req.Priority,
		Complexity:  req.Complexity,
		DependsOn:   req.DependsOn,
		Role:        req.Role,
		MaxRetries:  req.MaxRetries,
		Timeout:     req.Timeout,
		Context:     req.Context,
		EnqueuedAt:  time.Now().UTC(),
	}
	if item.Priority == 0 {
		item.Priority = models.DefaultPriority
	}
	if item.MaxRetries <= 0 {
		item.MaxRetries = models.DefaultMaxRetries
	}
	if item.Timeout <= 0 {
		item.Timeout = models.DefaultTimeout
	}

	if err := o.store.CreateWorkItem(item); err != nil {
		return "", fmt.Errorf("persist work item: %w", err)
	}

	task := &models.Task{
		ID:                  id,
		Description:         req.Title,
		Kind:                models.TaskKindImplementation,
		Depth:               0,
		DependsOn:           req.DependsOn,
		Status:              models.TaskStatusPending,
		EstimatedComplexity: req.Complexity,
		CreatedAt:           item.EnqueuedAt,
	}
	if err := o.graph.AddTask(task); err != nil {
		// The item is persisted but the graph rejected it; surface the
		// inconsistency rather than hiding it.
		return "", fmt.Errorf("add task to graph: %w", err)
	}
	o.meta[id] = item

	o.log.Info().Str("task", id).Str("role", string(req.Role)).Msg("task enqueued")
	return id, nil
}

func (o *Orchestrator) validate(req EnqueueRequest) error {
	if req.Title == "" {
		return fmt.Errorf("%w: title is required", ErrInvalidTask)
	}
	if !req.Role.Valid() {
		return fmt.Errorf("%w: unknown role %q", ErrInvalidTask, req.Role)
	}
	for _, dep := range req.DependsOn {
		if dep == "" {
			return fmt.Errorf("%w: empty dependency reference", ErrInvalidTask)
		}
	}
	return nil
}

// Restore rebuilds the in-memory graph from work items loaded out of
// the store, typically at startup. Items are added in the given order
// without re-persisting them; terminal items are restored too, so that
// a pending dependent of an already-completed task becomes ready.
func (o *Orchestrator) Restore(items []*models.WorkItem) error {
	var restoreErr error
	err := o.do(func() {
		for _, item := range items {
			if o.graph.Get(item.ID) != nil {
				continue
			}
			task := &models.Task{
				ID:                  item.ID,
				ParentID:            item.ParentID,
				Description:         item.Title,
				Kind:                models.TaskKindImplementation,
				Depth:               item.Depth,
				DependsOn:           item.DependsOn,
				Status:              models.TaskStatusPending,
				EstimatedComplexity: item.Complexity,
				CreatedAt:           item.EnqueuedAt,
			}
			if err := o.graph.AddTask(task); err != nil {
				restoreErr = fmt.Errorf("restore %s: %w", item.ID, err)
				return
			}
			// Re-apply the persisted status through the graph's own
			// transitions so terminal bookkeeping stays consistent.
			// Items that were mid-flight when the process died stay
			// pending; their workers are gone.
			switch item.Status {
			case models.TaskStatusCompleted:
				o.graph.MarkCompleted(item.ID)
			case models.TaskStatusFailed:
				o.graph.MarkFailed(item.ID, item.ErrorMessage)
			case models.TaskStatusBlocked:
				o.graph.MarkBlocked(item.ID, item.ErrorMessage)
			}
			o.meta[item.ID] = item
		}
	})
	if err != nil {
		return err
	}
	return restoreErr
}

// GetStatus reads the task's status from the store, the source of truth
// across restarts.
func (o *Orchestrator) GetStatus(id string) (models.TaskStatus, error) {
	return o.store.GetStatus(id)
}

// GetResult returns the execution result for a completed task, from
// cache when possible. A task that has not completed yields
// ErrNotCompleted.
func (o *Orchestrator) GetResult(id string) (map[string]any, error) {
	var result map[string]any
	var resErr error
	err := o.do(func() {
		result, resErr = o.getResult(id)
	})
	if err != nil {
		return nil, err
	}
	return result, resErr
}

func (o *Orchestrator) getResult(id string) (map[string]any, error) {
	if cached, ok := o.results[id]; ok {
		return cached, nil
	}

	item, err := o.store.GetWorkItem(id)
	if err != nil {
		return nil, fmt.Errorf("load work item %s: %w", id, err)
	}
	if item.Status != models.TaskStatusCompleted {
		return nil, fmt.Errorf("task %s is %s: %w", id, item.Status, ErrNotCompleted)
	}
	o.results[id] = item.Result
	return item.Result, nil
}

// GetTaskGraph returns the task-ID to status projection, re-derived
// from the store.
func (o *Orchestrator) GetTaskGraph() (map[string]models.TaskStatus, error) {
	return o.store.StatusMap()
}

// GetNextReady returns the work item for the next schedulable task:
// the ready task with the smallest (depth, complexity). ok is false
// when nothing is ready.
func (o *Orchestrator) GetNextReady() (*models.WorkItem, bool) {
	var item *models.WorkItem
	var ok bool
	if err := o.do(func() {
		task, found := o.graph.SelectNext()
		if !found {
			return
		}
		if m, exists := o.meta[task.ID]; exists {
			item, ok = m, true
			return
		}
		// Tasks created by decomposition may not have a side-table
		// entry yet; synthesize one from the graph record.
		item, ok = &models.WorkItem{
			ID:          task.ID,
			Title:       task.Description,
			Description: task.Description,
			Status:      task.Status,
			Complexity:  task.EstimatedComplexity,
			DependsOn:   task.DependsOn,
			Depth:       task.Depth,
			ParentID:    task.ParentID,
			EnqueuedAt:  task.CreatedAt,
		}, true
	}); err != nil {
		return nil, false
	}
	return item, ok
}

// TaskCompleted marks a task completed in the graph and returns how
// many tasks are ready afterwards. Implements the swarm's completion
// sink.
func (o *Orchestrator) TaskCompleted(id string) int {
	var ready int
	o.do(func() {
		o.graph.MarkCompleted(id)
		ready = len(o.graph.ReadyTasks())
	})
	return ready
}

// TaskFailed marks a task failed in the graph. Implements the swarm's
// completion sink.
func (o *Orchestrator) TaskFailed(id, reason string) {
	o.do(func() {
		o.graph.MarkFailed(id, reason)
	})
}

// Unblock returns a blocked task to pending, the state machine's only
// backward transition.
func (o *Orchestrator) Unblock(id string) error {
	return o.do(func() {
		o.graph.Unblock(id)
	})
}

// ValidateGraph runs the dangling-reference and cycle checks over the
// current graph.
func (o *Orchestrator) ValidateGraph() error {
	var vErr error
	if err := o.do(func() { vErr = o.graph.Validate() }); err != nil {
		return err
	}
	return vErr
}

// WithGraph runs fn against the task graph on the event loop. This is
// how collaborators such as the decomposition controller mutate the
// graph without breaking the single-writer rule.
func (o *Orchestrator) WithGraph(fn func(g *graph.TaskGraph)) error {
	return o.do(func() { fn(o.graph) })
}
