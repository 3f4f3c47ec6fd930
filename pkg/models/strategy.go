package models

// ExecutionStrategy selects which execution backend handles a task,
// matched by regex against task descriptions. Strategies are persisted
// in the store and cached in memory; higher priority wins, insertion
// order breaks ties.
type ExecutionStrategy struct {
	// Name identifies the strategy. The name "default" is the explicit
	// fallback when nothing matches.
	Name string `json:"name"`
	// Priority orders matching; higher wins.
	Priority int `json:"priority"`
	// Pattern is the regex matched against task descriptions.
	Pattern string `json:"pattern"`
	// Backend names the execution backend to invoke.
	Backend string `json:"backend"`
	// Payload carries backend-specific settings.
	Payload map[string]any `json:"payload,omitempty"`
	// Active strategies participate in matching.
	Active bool `json:"active"`
}
