package models

import "time"

// TaskStatus represents the current state of a task.
type TaskStatus string

const (
	// TaskStatusPending indicates the task has not started.
	TaskStatusPending TaskStatus = "pending"
	// TaskStatusActive indicates the task is being worked on.
	TaskStatusActive TaskStatus = "active"
	// TaskStatusBlocked indicates the task cannot proceed, typically
	// after a failed decomposition.
	TaskStatusBlocked TaskStatus = "blocked"
	// TaskStatusCompleted indicates the task finished successfully.
	TaskStatusCompleted TaskStatus = "completed"
	// TaskStatusFailed indicates the task failed.
	TaskStatusFailed TaskStatus = "failed"
)

// Valid returns true if the status is a known value.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskStatusPending, TaskStatusActive, TaskStatusBlocked, TaskStatusCompleted, TaskStatusFailed:
		return true
	default:
		return false
	}
}

// Terminal returns true for statuses a task can never leave.
func (s TaskStatus) Terminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed
}

// TaskKind classifies a task within the decomposition hierarchy.
type TaskKind string

const (
	// TaskKindGoal is a top-level objective that always decomposes.
	TaskKindGoal TaskKind = "goal"
	// TaskKindMilestone is an intermediate grouping of work.
	TaskKindMilestone TaskKind = "milestone"
	// TaskKindImplementation is directly executable work.
	TaskKindImplementation TaskKind = "implementation"
)

// Valid returns true if the kind is a known value.
func (k TaskKind) Valid() bool {
	switch k {
	case TaskKindGoal, TaskKindMilestone, TaskKindImplementation:
		return true
	default:
		return false
	}
}

// AtomicComplexityCeiling is the estimated complexity below which a
// non-root task is executed directly instead of decomposed.
const AtomicComplexityCeiling = 5.0

// Task represents a unit of work in the dependency graph.
type Task struct {
	// ID is the unique identifier for this task.
	ID string `json:"id"`
	// ParentID is the ID of the task this one was decomposed from, if any.
	ParentID string `json:"parent_id,omitempty"`
	// ChildIDs lists subtasks created by decomposing this task, in order.
	ChildIDs []string `json:"child_ids,omitempty"`
	// Description is the human-readable statement of the work.
	Description string `json:"description"`
	// Kind classifies the task (goal, milestone, implementation).
	Kind TaskKind `json:"kind"`
	// Depth is the distance from the root task. The root is 0.
	Depth int `json:"depth"`
	// DependsOn lists task IDs that must complete before this task.
	DependsOn []string `json:"depends_on,omitempty"`
	// Status is the current state of the task.
	Status TaskStatus `json:"status"`
	// EstimatedComplexity ranges from 1.0 (trivial) to 10.0 (very complex).
	EstimatedComplexity float64 `json:"estimated_complexity"`
	// ActualComplexity is set after completion, if measured.
	ActualComplexity *float64 `json:"actual_complexity,omitempty"`
	// AcceptanceCriteria defines completion criteria, in order.
	AcceptanceCriteria []string `json:"acceptance_criteria,omitempty"`
	// Files lists file paths associated with the task.
	Files []string `json:"files,omitempty"`
	// CreatedAt is when the task was created.
	CreatedAt time.Time `json:"created_at"`
	// FailureReason records why the task failed or was blocked.
	FailureReason string `json:"failure_reason,omitempty"`
}

// Atomic reports whether the task is small enough to execute directly.
// A root task is never atomic, forcing at least one decomposition pass.
func (t *Task) Atomic() bool {
	return t.EstimatedComplexity < AtomicComplexityCeiling && t.Depth > 0
}
