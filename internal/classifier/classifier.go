// Package classifier defines the decomposition collaborator boundary.
// The decomposition controller depends only on the Classifier
// interface, so the nondeterministic LLM call is replaceable with a
// deterministic double in tests.
package classifier

import (
	"context"

	"github.com/hiveworks/swarmd/pkg/models"
)

// Request describes the task to decompose.
type Request struct {
	// Description is the task's human-readable statement of work.
	Description string `json:"description"`
	// TaskType is the task kind being decomposed.
	TaskType models.TaskKind `json:"task_type"`
	// Depth is the task's position in the hierarchy.
	Depth int `json:"depth"`
	// EstimatedComplexity is the task's complexity estimate.
	EstimatedComplexity float64 `json:"estimated_complexity"`
}

// Subtask is one decomposition result descriptor.
type Subtask struct {
	// Description is the subtask's statement of work.
	Description string `json:"description"`
	// TaskType classifies the subtask.
	TaskType models.TaskKind `json:"task_type"`
	// EstimatedComplexity is the classifier's complexity estimate.
	EstimatedComplexity float64 `json:"estimated_complexity"`
	// Dependencies are raw references to sibling subtasks, resolved
	// by the controller against the same decomposition batch.
	Dependencies []string `json:"dependencies"`
	// AcceptanceCriteria define completion, in order.
	AcceptanceCriteria []string `json:"acceptance_criteria"`
}

// Response is the full decomposition result.
type Response struct {
	Subtasks []Subtask `json:"subtasks"`
}

// Classifier splits a non-atomic task into subtask descriptors.
type Classifier interface {
	Decompose(ctx context.Context, req Request) (*Response, error)
}
