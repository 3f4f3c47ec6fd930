// Package graph provides the in-memory task graph and the dependency
// resolver that decides which tasks are eligible to run.
//
// The graph performs no I/O and no locking of its own: the orchestrator
// is the single writer, so all mutation happens on its event loop.
package graph

import (
	"errors"
	"fmt"

	"github.com/gammazero/toposort"

	"github.com/hiveworks/swarmd/pkg/models"
)

// ErrCycleDetected indicates a circular dependency was found in the task graph.
var ErrCycleDetected = errors.New("circular dependency detected")

// TaskGraph holds tasks, their dependency edges, and terminal-state
// bookkeeping. Completed and failed ID lists are append-only and
// disjoint; an ID enters at most one of them, exactly once.
type TaskGraph struct {
	// tasks maps task ID to the task itself.
	tasks map[string]*models.Task
	// dependents maps a task ID to IDs of tasks that depend on it.
	dependents map[string][]string
	// order preserves insertion order for deterministic selection.
	order []string
	// completed lists completed task IDs in completion order.
	completed []string
	// failed lists failed task IDs in failure order.
	failed []string
	// completedSet mirrors completed for O(1) membership checks.
	completedSet map[string]bool
	// failedSet mirrors failed for O(1) membership checks.
	failedSet map[string]bool
	// rootID is the identifier of the root task, if one was registered.
	rootID string
}

// New creates an empty task graph.
func New() *TaskGraph {
	return &TaskGraph{
		tasks:        make(map[string]*models.Task),
		dependents:   make(map[string][]string),
		completedSet: make(map[string]bool),
		failedSet:    make(map[string]bool),
	}
}

// AddTask inserts a task into the graph and registers its dependency
// edges in the adjacency map. The first depth-0 task becomes the root.
// No cycle check is performed here; call Validate before scheduling.
func (g *TaskGraph) AddTask(task *models.Task) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task must have an ID")
	}
	if _, exists := g.tasks[task.ID]; exists {
		return fmt.Errorf("task %q already exists", task.ID)
	}

	g.tasks[task.ID] = task
	g.order = append(g.order, task.ID)

	for _, depID := range task.DependsOn {
		g.dependents[depID] = append(g.dependents[depID], task.ID)
	}

	if g.rootID == "" && task.Depth == 0 {
		g.rootID = task.ID
	}
	return nil
}

// MarkActive sets a task's status to active. No-op if the task is
// absent or already terminal.
func (g *TaskGraph) MarkActive(id string) {
	task, ok := g.tasks[id]
	if !ok || task.Status.Terminal() {
		return
	}
	task.Status = models.TaskStatusActive
}

// MarkBlocked sets a task's status to blocked with a reason. No-op if
// the task is absent or already terminal.
func (g *TaskGraph) MarkBlocked(id, reason string) {
	task, ok := g.tasks[id]
	if !ok || task.Status.Terminal() {
		return
	}
	task.Status = models.TaskStatusBlocked
	task.FailureReason = reason
}

// Unblock returns a blocked task to pending, the only backward
// transition in the state machine. No-op otherwise.
func (g *TaskGraph) Unblock(id string) {
	task, ok := g.tasks[id]
	if !ok || task.Status != models.TaskStatusBlocked {
		return
	}
	task.Status = models.TaskStatusPending
	task.FailureReason = ""
}

// MarkCompleted transitions a task to completed and appends it to the
// completed list. Completing a task is the sole trigger that can
// unblock dependents. No-op if the task is absent or already terminal.
func (g *TaskGraph) MarkCompleted(id string) {
	task, ok := g.tasks[id]
	if !ok || task.Status.Terminal() {
		return
	}
	task.Status = models.TaskStatusCompleted
	g.completed = append(g.completed, id)
	g.completedSet[id] = true
}

// MarkFailed transitions a task to failed with a reason and appends it
// to the failed list. No-op if the task is absent or already terminal.
func (g *TaskGraph) MarkFailed(id, reason string) {
	task, ok := g.tasks[id]
	if !ok || task.Status.Terminal() {
		return
	}
	task.Status = models.TaskStatusFailed
	task.FailureReason = reason
	g.failed = append(g.failed, id)
	g.failedSet[id] = true
}

// ReadyTasks returns all pending tasks whose every dependency is in the
// completed set, in insertion order. A task with no dependencies is
// always ready.
func (g *TaskGraph) ReadyTasks() []*models.Task {
	var ready []*models.Task
	for _, id := range g.order {
		task := g.tasks[id]
		if task.Status != models.TaskStatusPending {
			continue
		}
		if g.depsSatisfied(task) {
			ready = append(ready, task)
		}
	}
	return ready
}

func (g *TaskGraph) depsSatisfied(task *models.Task) bool {
	for _, depID := range task.DependsOn {
		if !g.completedSet[depID] {
			return false
		}
	}
	return true
}

// SelectNext picks the ready task with the lexicographically smallest
// (depth, estimated complexity): shallower tasks win, and within equal
// depth lower complexity wins. Insertion order breaks remaining ties.
// Returns nil, false when no task is ready.
func (g *TaskGraph) SelectNext() (*models.Task, bool) {
	var best *models.Task
	for _, task := range g.ReadyTasks() {
		if best == nil {
			best = task
			continue
		}
		if task.Depth < best.Depth ||
			(task.Depth == best.Depth && task.EstimatedComplexity < best.EstimatedComplexity) {
			best = task
		}
	}
	return best, best != nil
}

// Validate checks that every dependency reference resolves to a task in
// the graph and that the dependency edges form no cycle. The graph
// itself never enforces this; schedulers call it before first use.
func (g *TaskGraph) Validate() error {
	for id, task := range g.tasks {
		for _, depID := range task.DependsOn {
			if _, exists := g.tasks[depID]; !exists {
				return fmt.Errorf("task %q depends on unknown task %q", id, depID)
			}
		}
	}

	var edges []toposort.Edge
	for id, task := range g.tasks {
		if len(task.DependsOn) == 0 {
			edges = append(edges, toposort.Edge{nil, id})
			continue
		}
		for _, depID := range task.DependsOn {
			edges = append(edges, toposort.Edge{depID, id})
		}
	}
	if _, err := toposort.Toposort(edges); err != nil {
		return fmt.Errorf("%w: %v", ErrCycleDetected, err)
	}
	return nil
}

// Get returns the task for an ID, or nil if not found.
func (g *TaskGraph) Get(id string) *models.Task {
	return g.tasks[id]
}

// Dependents returns the IDs of tasks that depend on the given task.
func (g *TaskGraph) Dependents(id string) []string {
	return g.dependents[id]
}

// CompletedIDs returns the append-only list of completed task IDs.
func (g *TaskGraph) CompletedIDs() []string {
	return g.completed
}

// FailedIDs returns the append-only list of failed task IDs.
func (g *TaskGraph) FailedIDs() []string {
	return g.failed
}

// RootID returns the root task ID, or empty if none was registered.
func (g *TaskGraph) RootID() string {
	return g.rootID
}

// Len returns the number of tasks in the graph.
func (g *TaskGraph) Len() int {
	return len(g.tasks)
}

// Tasks returns all tasks in insertion order.
func (g *TaskGraph) Tasks() []*models.Task {
	out := make([]*models.Task, 0, len(g.order))
	for _, id := range g.order {
		out = append(out, g.tasks[id])
	}
	return out
}
