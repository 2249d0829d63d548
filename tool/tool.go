// Package tool implements the tool invocation contract that lets specialist
// agents call structured capabilities (web search, file read, computations)
// with schema-validated arguments and consistent error handling. Access is
// permission-gated: an agent may only invoke tools named in its grant set,
// and the dispatcher resolves that set before execution. Tool traces persist
// as private scratchpad messages, never shared cross-agent.
package tool

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyhq/parley/internal/util"
	"github.com/parleyhq/parley/model"
)

// Result is the normalized outcome of a tool invocation. Telemetry carries
// provider-specific diagnostics (latency, hit counts) for the scratchpad.
type Result struct {
	Text      string         `json:"text"`
	Telemetry map[string]any `json:"telemetry,omitempty"`
}

// Tool defines the interface for agent-invocable capabilities.
//
// Implementations should:
//   - Provide clear, descriptive names (snake_case recommended)
//   - Define proper JSON schema for parameters
//   - Handle errors gracefully and be safe for concurrent use
type Tool interface {
	// Name returns the unique identifier for this tool.
	Name() string

	// Description returns a human-readable description provided to the model.
	Description() string

	// Parameters returns a JSON schema describing the expected input format.
	Parameters() map[string]any

	// Invoke executes the tool. Arguments are parsed from JSON and validated
	// against the tool's schema before this is called.
	Invoke(ctx context.Context, args map[string]any) (*Result, error)
}

// Error represents a failure during tool execution.
type Error struct {
	Tool    string `json:"tool"`
	Message string `json:"message"`
	Code    string `json:"code"`
}

func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("tool error [%s] in %s: %s", e.Code, e.Tool, e.Message)
	}
	return fmt.Sprintf("tool error in %s: %s", e.Tool, e.Message)
}

// NewError creates a new tool Error with the specified details.
func NewError(tool, message, code string) *Error {
	return &Error{Tool: tool, Message: message, Code: code}
}

// Func adapts a plain function into a Tool. The parameter schema is derived
// from paramsType via reflection (util.CreateSchema).
type Func struct {
	name        string
	description string
	parameters  map[string]any
	fn          func(ctx context.Context, args map[string]any) (*Result, error)
}

// NewFunc constructs a function-backed tool. paramsType is a zero value of
// the argument struct used to derive the JSON schema.
func NewFunc(name, description string, paramsType any, fn func(ctx context.Context, args map[string]any) (*Result, error)) *Func {
	return &Func{
		name:        name,
		description: description,
		parameters:  util.CreateSchema(paramsType),
		fn:          fn,
	}
}

// Name implements Tool.
func (f *Func) Name() string { return f.name }

// Description implements Tool.
func (f *Func) Description() string { return f.description }

// Parameters implements Tool.
func (f *Func) Parameters() map[string]any { return f.parameters }

// Invoke implements Tool, validating args against the derived schema first.
func (f *Func) Invoke(ctx context.Context, args map[string]any) (*Result, error) {
	if err := util.ValidateParameters(args, f.parameters); err != nil {
		return nil, NewError(f.name, err.Error(), "invalid_arguments")
	}
	return f.fn(ctx, args)
}

// Registry is a concurrency-safe name -> Tool map with grant filtering.
type Registry struct {
	mu    sync.RWMutex
	tools map[string]Tool
}

// NewRegistry constructs an empty tool registry.
func NewRegistry(tools ...Tool) *Registry {
	r := &Registry{tools: make(map[string]Tool)}
	for _, t := range tools {
		r.Register(t)
	}
	return r
}

// Register adds or replaces a tool.
func (r *Registry) Register(t Tool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.tools[t.Name()] = t
}

// Lookup returns the named tool or an error if unknown.
func (r *Registry) Lookup(name string) (Tool, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	t, ok := r.tools[name]
	if !ok {
		return nil, NewError(name, "tool not registered", "unknown_tool")
	}
	return t, nil
}

// Granted returns the subset of registered tools named in grants, preserving
// grant order and silently skipping unregistered names. The result feeds the
// model's tool definitions for one agent invocation.
func (r *Registry) Granted(grants []string) []Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	var out []Tool
	for _, g := range grants {
		if t, ok := r.tools[g]; ok {
			out = append(out, t)
		}
	}
	return out
}

// Definitions converts a tool set into model-facing declarations.
func Definitions(tools []Tool) []model.ToolDefinition {
	defs := make([]model.ToolDefinition, len(tools))
	for i, t := range tools {
		defs[i] = model.ToolDefinition{
			Name:        t.Name(),
			Description: t.Description(),
			Parameters:  t.Parameters(),
		}
	}
	return defs
}
