// Package backend defines the execution adapters that strategies select
// for running work items. A strategy names a backend and carries a
// payload; the registry resolves the name to an adapter.
package backend

import (
	"context"
	"errors"
	"fmt"
)

// ErrUnknownBackend indicates a strategy referenced a backend that was
// never registered.
var ErrUnknownBackend = errors.New("unknown backend")

// ErrResourceBusy signals a transient claim conflict. Callers skip the
// attempt without consuming a retry.
var ErrResourceBusy = errors.New("resource busy")

// Request carries everything an adapter needs to execute one work item.
type Request struct {
	// ItemID identifies the work item being executed.
	ItemID string
	// Title is the item's short title.
	Title string
	// Description is the full statement of work.
	Description string
	// Context is the item's caller-supplied context map.
	Context map[string]any
	// Payload is the matched strategy's backend payload.
	Payload map[string]any
}

// Result is a successful execution outcome.
type Result struct {
	// Output is the adapter's primary textual output.
	Output string `json:"output"`
	// Data holds structured outputs, when the adapter produces any.
	Data map[string]any `json:"data,omitempty"`
}

// Backend executes work items.
type Backend interface {
	// Name returns the identifier strategies use to select this adapter.
	Name() string
	// Execute runs one work item. The context carries the deadline;
	// adapters must abandon work when it is cancelled.
	Execute(ctx context.Context, req Request) (*Result, error)
}

// Registry resolves backend names to adapters. Registration happens at
// startup; lookups after that are read-only.
type Registry struct {
	backends map[string]Backend
}

// NewRegistry builds a registry over the given adapters.
func NewRegistry(backends ...Backend) *Registry {
	r := &Registry{backends: make(map[string]Backend, len(backends))}
	for _, b := range backends {
		r.backends[b.Name()] = b
	}
	return r
}

// Get returns the adapter for a backend name.
func (r *Registry) Get(name string) (Backend, error) {
	b, ok := r.backends[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownBackend, name)
	}
	return b, nil
}

// Names returns the registered backend names.
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.backends))
	for name := range r.backends {
		out = append(out, name)
	}
	return out
}
