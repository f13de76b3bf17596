// Package capabilities defines the fixed capability interface workflow steps
// invoke, and the built-in wellness agent capabilities. The executor selects
// a capability by step metadata; it never inspects the implementation.
package capabilities

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Status is the outcome status reported by a capability invocation.
type Status string

const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

// Input is the payload handed to a capability invocation.
type Input struct {
	TenantID   string         `json:"tenant_id"`
	WorkflowID string         `json:"workflow_id"`
	StepName   string         `json:"step_name"`
	Params     map[string]any `json:"params,omitempty"`
}

// Outcome is what a capability reports back. Retryable marks a failure as
// transient; the executor may retry it with backoff.
type Outcome struct {
	Status    Status         `json:"status"`
	Output    map[string]any `json:"output,omitempty"`
	Err       string         `json:"error,omitempty"`
	Retryable bool           `json:"retryable"`
}

// Capability is an opaque, possibly slow, possibly failing external agent
// call. Implementations must honor context cancellation.
type Capability interface {
	Name() string
	Invoke(ctx context.Context, in Input) (Outcome, error)
}

// Registry resolves capabilities by name.
type Registry struct {
	mu   sync.RWMutex
	caps map[string]Capability
}

// NewRegistry creates an empty capability registry.
func NewRegistry() *Registry {
	return &Registry{caps: make(map[string]Capability)}
}

// Register adds a capability. Later registrations replace earlier ones.
func (r *Registry) Register(c Capability) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.caps[c.Name()] = c
}

// Lookup returns the capability with the given name.
func (r *Registry) Lookup(name string) (Capability, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.caps[name]
	if !ok {
		return nil, fmt.Errorf("unknown capability %q", name)
	}
	return c, nil
}

// Names returns the registered capability names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.caps))
	for n := range r.caps {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Func adapts a function to the Capability interface.
type Func struct {
	CapName string
	Fn      func(ctx context.Context, in Input) (Outcome, error)
}

// Name implements Capability.
func (f Func) Name() string { return f.CapName }

// Invoke implements Capability.
func (f Func) Invoke(ctx context.Context, in Input) (Outcome, error) {
	return f.Fn(ctx, in)
}
