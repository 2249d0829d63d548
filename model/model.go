package model

import (
	"context"
	"fmt"
	"sync"
)

// ChatMessage is one prompt element handed to a provider. Role follows the
// conventional system/user/assistant/tool vocabulary. Name optionally
// attributes assistant messages to a specific agent so cross-agent context
// stays legible to the model. ToolCallID links tool results to the call that
// requested them.
type ChatMessage struct {
	Role       string     `json:"role"`
	Name       string     `json:"name,omitempty"`
	Text       string     `json:"text"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is a provider-surfaced function invocation request, unified across
// vendors so downstream logic needs no per-provider branching.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolDefinition declaratively exposes a callable function to the model.
// Parameters is a JSON Schema object (minimal subset expected).
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Usage captures the token accounting of one model call. Cached input tokens
// are prompt tokens served from the provider's prompt cache; they are billed
// at a reduced weight.
type Usage struct {
	FreshInputTokens  int `json:"fresh_input_tokens"`
	CachedInputTokens int `json:"cached_input_tokens"`
	OutputTokens      int `json:"output_tokens"`
}

// Add accumulates another call's usage into u.
func (u *Usage) Add(other Usage) {
	u.FreshInputTokens += other.FreshInputTokens
	u.CachedInputTokens += other.CachedInputTokens
	u.OutputTokens += other.OutputTokens
}

// Request captures the normalized model input produced by the executor.
type Request struct {
	Instructions    string           `json:"instructions"`
	Messages        []ChatMessage    `json:"messages"`
	Tools           []ToolDefinition `json:"tools,omitempty"`
	MaxOutputTokens int              `json:"max_output_tokens,omitempty"`
	Stream          bool             `json:"stream,omitempty"`
}

// Response is a (partial or final) chunk emitted by a model. Partial
// responses carry incremental text; the final response carries the full
// accumulated text, any tool calls, the finish reason and resolved usage.
type Response struct {
	Partial      bool       `json:"partial"`
	Text         string     `json:"text"`
	ToolCalls    []ToolCall `json:"tool_calls,omitempty"`
	FinishReason string     `json:"finish_reason,omitempty"`
	Usage        *Usage     `json:"usage,omitempty"`
}

// Info contains metadata about a model implementation. ContextWindow is the
// provider token limit the context budgeter bounds prompts against.
type Info struct {
	Name          string `json:"name"`
	Provider      string `json:"provider"`
	ContextWindow int    `json:"context_window"`
	SupportsTools bool   `json:"supports_tools"`
}

// Model is the minimal interface required to drive generation.
type Model interface {
	Generate(ctx context.Context, req Request) (<-chan Response, <-chan error)

	// Info returns information about the model implementation.
	Info() Info
}

// Resolver maps a configured model alias to a concrete Model.
type Resolver interface {
	Resolve(alias string) (Model, error)
}

// Registry is a concurrency-safe alias -> Model map implementing Resolver.
type Registry struct {
	mu     sync.RWMutex
	models map[string]Model
}

// NewRegistry constructs an empty model registry.
func NewRegistry() *Registry {
	return &Registry{models: make(map[string]Model)}
}

// Register binds alias to m, replacing any previous binding.
func (r *Registry) Register(alias string, m Model) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.models[alias] = m
}

// Resolve implements Resolver.
func (r *Registry) Resolve(alias string) (Model, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.models[alias]
	if !ok {
		return nil, fmt.Errorf("unknown model alias %q", alias)
	}
	return m, nil
}

// Aliases returns the registered alias set (unordered).
func (r *Registry) Aliases() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.models))
	for k := range r.models {
		out = append(out, k)
	}
	return out
}

// Collect drains a Generate channel pair to the final response. It returns
// the final (non-partial) response or the first error observed.
func Collect(ctx context.Context, respCh <-chan Response, errCh <-chan error) (*Response, error) {
	var final *Response
	for respCh != nil || errCh != nil {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case resp, ok := <-respCh:
			if !ok {
				respCh = nil
				continue
			}
			if !resp.Partial {
				r := resp
				final = &r
			}
		case err, ok := <-errCh:
			if !ok {
				errCh = nil
				continue
			}
			if err != nil {
				return nil, err
			}
		}
	}
	if final == nil {
		return nil, fmt.Errorf("model produced no final response")
	}
	return final, nil
}
