package models

import "time"

// WorkItem is the durable counterpart of a Task held by the store.
// It is created by the orchestrator on enqueue, mutated by the swarm
// during execution, and never deleted automatically.
type WorkItem struct {
	// ID matches the in-memory task ID.
	ID string `json:"id"`
	// Title is the short human-readable summary.
	Title string `json:"title"`
	// Description provides detail beyond the title.
	Description string `json:"description,omitempty"`
	// Status is the string-encoded task state machine value.
	Status TaskStatus `json:"status"`
	// Priority orders items for external consumers. Higher runs first.
	Priority int `json:"priority"`
	// Complexity is the estimated complexity class.
	Complexity float64 `json:"complexity"`
	// DependsOn lists work item IDs that must complete first.
	DependsOn []string `json:"depends_on,omitempty"`
	// Depth is the decomposition depth of the matching task. Items
	// enqueued directly sit at depth 0.
	Depth int `json:"depth"`
	// ParentID names the item this one was decomposed from, if any.
	ParentID string `json:"parent_id,omitempty"`
	// Role is the permission profile the executing worker runs under.
	Role Role `json:"role"`
	// AssignedTo is the worker handle currently executing the item.
	AssignedTo string `json:"assigned_to,omitempty"`
	// RetryCount is how many times execution has been retried.
	RetryCount int `json:"retry_count"`
	// MaxRetries caps RetryCount. Exhaustion is terminal failure.
	MaxRetries int `json:"max_retries"`
	// Timeout bounds a single execution attempt.
	Timeout time.Duration `json:"timeout_ms"`
	// Context carries free-form caller data through to execution.
	Context map[string]any `json:"context,omitempty"`
	// Result holds the execution output for completed items.
	Result map[string]any `json:"result,omitempty"`
	// ErrorMessage records the last failure, if any.
	ErrorMessage string `json:"error_message,omitempty"`
	// EnqueuedAt is when the orchestrator accepted the item.
	EnqueuedAt time.Time `json:"enqueued_at"`
}

// Defaults for enqueue requests that omit optional fields.
const (
	DefaultPriority   = 5
	DefaultMaxRetries = 3
	DefaultTimeout    = 5 * time.Minute
)
