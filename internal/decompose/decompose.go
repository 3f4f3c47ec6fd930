// Package decompose breaks non-atomic tasks into subtask graphs using a
// classifier collaborator. The controller mutates the graph only after
// the classifier responds, so a failed decomposition never loses work.
package decompose

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/hiveworks/swarmd/internal/classifier"
	"github.com/hiveworks/swarmd/internal/graph"
	"github.com/hiveworks/swarmd/pkg/models"
)

// DefaultMaxDepth bounds how far the hierarchy may grow. Tasks at this
// depth are treated as leaves regardless of complexity.
const DefaultMaxDepth = 5

// Controller runs decomposition passes over a task graph.
type Controller struct {
	classifier classifier.Classifier
	log        zerolog.Logger
	maxDepth   int
}

// NewController builds a decomposition controller. maxDepth <= 0 falls
// back to DefaultMaxDepth.
func NewController(c classifier.Classifier, log zerolog.Logger, maxDepth int) *Controller {
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}
	return &Controller{classifier: c, log: log, maxDepth: maxDepth}
}

// Decompose splits the identified task into subtasks and records them in
// the graph. Atomic tasks and tasks at the depth ceiling are returned
// unchanged. On success the subtasks are added at depth+1, parented to
// the task, and the task itself is marked completed; decomposition is
// the parent's work. On classifier failure the task is marked blocked
// and the graph gains no subtasks.
//
// commit, when non-nil, runs after the classifier responds and before
// any graph mutation; callers persist the subtasks there. A commit
// error blocks the task and leaves the graph unchanged, so the graph
// never holds tasks the store does not know about.
//
// Returns the IDs of the created subtasks, in classifier order.
func (c *Controller) Decompose(ctx context.Context, g *graph.TaskGraph, taskID string,
	commit func([]*models.Task) error) ([]string, error) {
	task := g.Get(taskID)
	if task == nil {
		return nil, fmt.Errorf("task %q not found", taskID)
	}
	if task.Atomic() {
		return nil, nil
	}
	if task.Depth >= c.maxDepth {
		c.log.Debug().Str("task", taskID).Int("depth", task.Depth).
			Msg("task at depth ceiling, not decomposing")
		return nil, nil
	}

	resp, err := c.classifier.Decompose(ctx, classifier.Request{
		Description:         task.Description,
		TaskType:            task.Kind,
		Depth:               task.Depth,
		EstimatedComplexity: task.EstimatedComplexity,
	})
	if err != nil {
		g.MarkBlocked(taskID, fmt.Sprintf("decomposition failed: %v", err))
		c.log.Warn().Str("task", taskID).Err(err).Msg("decomposition failed, task blocked")
		return nil, fmt.Errorf("decompose task %s: %w", taskID, err)
	}

	subtasks := c.buildSubtasks(task, resp.Subtasks)
	if commit != nil {
		if err := commit(subtasks); err != nil {
			g.MarkBlocked(taskID, fmt.Sprintf("persist subtasks: %v", err))
			c.log.Warn().Str("task", taskID).Err(err).Msg("subtask persistence failed, task blocked")
			return nil, fmt.Errorf("persist subtasks for %s: %w", taskID, err)
		}
	}
	for _, st := range subtasks {
		if err := g.AddTask(st); err != nil {
			// The subtask IDs are freshly generated; a collision here
			// means the graph is corrupt, not a recoverable input error.
			return nil, fmt.Errorf("add subtask for %s: %w", taskID, err)
		}
		task.ChildIDs = append(task.ChildIDs, st.ID)
	}

	g.MarkCompleted(taskID)
	c.log.Info().Str("task", taskID).Int("subtasks", len(subtasks)).
		Msg("task decomposed")

	ids := make([]string, len(subtasks))
	for i, st := range subtasks {
		ids[i] = st.ID
	}
	return ids, nil
}

// buildSubtasks converts classifier descriptors into tasks at depth+1.
// Dependency references resolve only against descriptors from the same
// batch, keyed by description; a reference that resolves to nothing is
// dropped rather than failing the batch.
func (c *Controller) buildSubtasks(parent *models.Task, descriptors []classifier.Subtask) []*models.Task {
	byDescription := make(map[string]string, len(descriptors))
	ids := make([]string, len(descriptors))
	for i, d := range descriptors {
		ids[i] = fmt.Sprintf("%s-sub-%s", parent.ID, uuid.New().String()[:8])
		byDescription[d.Description] = ids[i]
	}

	out := make([]*models.Task, 0, len(descriptors))
	for i, d := range descriptors {
		var deps []string
		for _, ref := range d.Dependencies {
			depID, ok := byDescription[ref]
			if !ok {
				c.log.Warn().Str("task", parent.ID).Str("reference", ref).
					Msg("dropping unresolvable dependency reference")
				continue
			}
			if depID == ids[i] {
				continue
			}
			deps = append(deps, depID)
		}

		kind := d.TaskType
		if !kind.Valid() {
			kind = models.TaskKindImplementation
		}

		out = append(out, &models.Task{
			ID:                  ids[i],
			ParentID:            parent.ID,
			Description:         d.Description,
			Kind:                kind,
			Depth:               parent.Depth + 1,
			DependsOn:           deps,
			Status:              models.TaskStatusPending,
			EstimatedComplexity: d.EstimatedComplexity,
			AcceptanceCriteria:  d.AcceptanceCriteria,
		})
	}
	return out
}
