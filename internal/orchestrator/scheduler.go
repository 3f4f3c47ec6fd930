package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/hiveworks/swarmd/internal/decompose"
	"github.com/hiveworks/swarmd/internal/events"
	"github.com/hiveworks/swarmd/internal/graph"
	"github.com/hiveworks/swarmd/internal/swarm"
	"github.com/hiveworks/swarmd/pkg/models"
)

// Submitter hands work items to the execution pool. The swarm
// coordinator satisfies this.
type Submitter interface {
	Submit(ctx context.Context, item *models.WorkItem) error
}

// SchedulerStore is the persistence surface the scheduler needs for
// decomposition outcomes and for picking up items enqueued by other
// processes.
type SchedulerStore interface {
	CreateWorkItem(*models.WorkItem) error
	UpdateStatus(id string, status models.TaskStatus, errMsg string) error
	ListOpen() ([]*models.WorkItem, error)
}

// Scheduler drives the dispatch cycle: select the next ready task,
// decompose it if it is not atomic, otherwise submit it to the pool.
// It wakes on work-ready notifications and on a poll interval, since
// bus delivery is best-effort.
type Scheduler struct {
	orch  *Orchestrator
	ctrl  *decompose.Controller
	pool  Submitter
	store SchedulerStore
	bus   *events.Bus
	log   zerolog.Logger

	pollInterval time.Duration
}

// NewScheduler builds a scheduler. pollInterval <= 0 defaults to 2s.
func NewScheduler(orch *Orchestrator, ctrl *decompose.Controller, pool Submitter,
	store SchedulerStore, bus *events.Bus, pollInterval time.Duration, log zerolog.Logger) *Scheduler {

	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Scheduler{
		orch:         orch,
		ctrl:         ctrl,
		pool:         pool,
		store:        store,
		bus:          bus,
		log:          log,
		pollInterval: pollInterval,
	}
}

// Run dispatches until the context is cancelled. Fits the supervisor's
// child contract.
func (s *Scheduler) Run(ctx context.Context) error {
	ready := s.bus.Subscribe(events.TopicWorkReady, 16)
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		s.dispatch(ctx)
		select {
		case <-ctx.Done():
			return nil
		case _, ok := <-ready:
			if !ok {
				return nil
			}
		case <-ticker.C:
			s.resync()
		}
	}
}

// resync pulls open work items out of the store into the graph, so
// items enqueued by another process are picked up without a restart.
// Items already in the graph are left alone.
func (s *Scheduler) resync() {
	open, err := s.store.ListOpen()
	if err != nil {
		s.log.Error().Err(err).Msg("list open items failed")
		return
	}
	if err := s.orch.Restore(open); err != nil {
		s.log.Error().Err(err).Msg("resync restore failed")
	}
}

// dispatch drains the ready queue: decompose non-atomic tasks, submit
// atomic ones, stop when the pool saturates or nothing is ready.
func (s *Scheduler) dispatch(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, ok := s.orch.GetNextReady()
		if !ok {
			return
		}

		decomposeErr, handled := s.maybeDecompose(ctx, item)
		if handled {
			if decomposeErr != nil {
				if err := s.store.UpdateStatus(item.ID, models.TaskStatusBlocked, decomposeErr.Error()); err != nil {
					s.log.Error().Err(err).Str("task", item.ID).Msg("persist blocked status failed")
				}
			}
			continue
		}

		if err := s.pool.Submit(ctx, item); err != nil {
			if errors.Is(err, swarm.ErrPoolSaturated) {
				return
			}
			s.log.Error().Err(err).Str("task", item.ID).Msg("submit failed")
			return
		}
		s.orch.WithGraph(func(g *graph.TaskGraph) {
			g.MarkActive(item.ID)
		})
	}
}

// maybeDecompose runs the decomposition gate on the event loop.
// handled is false when the task is atomic (or depth-capped) and should
// be executed instead. Subtasks and the parent's completion are
// persisted through the commit hook before the graph changes, so the
// graph never holds tasks the store cannot find. The subtask work
// items inherit the parent's role and budgets.
func (s *Scheduler) maybeDecompose(ctx context.Context, item *models.WorkItem) (decomposeErr error, handled bool) {
	s.orch.WithGraph(func(g *graph.TaskGraph) {
		if g.Get(item.ID) == nil {
			return
		}

		ids, err := s.ctrl.Decompose(ctx, g, item.ID, func(subtasks []*models.Task) error {
			subItems := make([]*models.WorkItem, 0, len(subtasks))
			for _, sub := range subtasks {
				subItem := &models.WorkItem{
					ID:          sub.ID,
					Title:       sub.Description,
					Description: sub.Description,
					Status:      models.TaskStatusPending,
					Priority:    item.Priority,
					Complexity:  sub.EstimatedComplexity,
					DependsOn:   sub.DependsOn,
					Depth:       sub.Depth,
					ParentID:    sub.ParentID,
					Role:        item.Role,
					MaxRetries:  item.MaxRetries,
					Timeout:     item.Timeout,
					Context:     item.Context,
					EnqueuedAt:  time.Now().UTC(),
				}
				if err := s.store.CreateWorkItem(subItem); err != nil {
					return fmt.Errorf("persist subtask %s: %w", sub.ID, err)
				}
				subItems = append(subItems, subItem)
			}
			// Decomposition is the parent's work.
			if err := s.store.UpdateStatus(item.ID, models.TaskStatusCompleted, ""); err != nil {
				return fmt.Errorf("persist completion of %s: %w", item.ID, err)
			}
			// Running on the event loop, so touching the side table
			// directly is safe here.
			for _, subItem := range subItems {
				s.orch.meta[subItem.ID] = subItem
			}
			return nil
		})
		if err != nil {
			decomposeErr = err
			handled = true
			return
		}
		if ids != nil {
			handled = true
		}
	})
	return decomposeErr, handled
}
