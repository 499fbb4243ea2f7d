package tool

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"slices"
	"sync"
	"time"

	"github.com/hupe1980/travelmesh/core"
	"github.com/hupe1980/travelmesh/logging"
)

// Registry indexes tools by name and executes calls against them. It is safe
// for concurrent use.
type Registry struct {
	mu     sync.RWMutex
	tools  map[string]Tool
	logger logging.Logger
}

// NewRegistry creates a registry holding tools. Duplicate names fail.
func NewRegistry(logger logging.Logger, tools ...Tool) (*Registry, error) {
	r := &Registry{tools: map[string]Tool{}, logger: logging.OrNoOp(logger)}
	for _, t := range tools {
		if err := r.Register(t); err != nil {
			return nil, err
		}
	}
	return r, nil
}

// Register adds t to the registry.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %s already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Get returns the tool registered under name.
func (r *Registry) Get(name string) (Tool, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	return t, ok
}

// Names returns the registered tool names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.tools))
	for n := range r.tools {
		names = append(names, n)
	}
	slices.Sort(names)
	return names
}

// Definition is the oracle-facing description of a tool.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Definitions describes the registered tools among names, in the given order.
func (r *Registry) Definitions(names []string) []Definition {
	defs := make([]Definition, 0, len(names))
	for _, n := range names {
		if t, ok := r.Get(n); ok {
			defs = append(defs, Definition{Name: t.Name(), Description: t.Description(), Parameters: t.Parameters()})
		}
	}
	return defs
}

// Execute runs one call and always returns a result; failures are carried as
// error results. Panics inside the tool are recovered.
func (r *Registry) Execute(ctx context.Context, sessionID string, call core.ToolCall) (res core.ToolResult) {
	start := time.Now()
	t, ok := r.Get(call.Name)
	if !ok {
		return core.NewErrorResult(call, NewToolError(call.Name, "unknown tool", CodeUnknown), nil, 0)
	}

	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error("tool.call.panic", "tool", call.Name, "panic", fmt.Sprint(rec), "stack", string(debug.Stack()))
			res = core.NewErrorResult(call, NewToolError(call.Name, fmt.Sprintf("panic: %v", rec), CodePanic), nil, time.Since(start))
		}
	}()

	args := call.Args
	if args == nil {
		args = map[string]any{}
	}
	payload, err := t.Call(NewToolContext(ctx, sessionID, call.ID, r.logger), args)
	latency := time.Since(start)
	if err != nil {
		code := CodeExecution
		if errors.Is(err, context.DeadlineExceeded) {
			code = CodeTimeout
		}
		return core.NewErrorResult(call, wrapError(call.Name, err, code), payload, latency)
	}
	return core.NewOKResult(call, payload, latency)
}
