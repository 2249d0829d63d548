package model

import (
	"context"
	"fmt"
	"sync"
)

// MockModel is a lightweight in-memory Model useful for tests & examples.
// Responses can be keyed by the last message text, or queued in FIFO order
// for call sequences (manager routing, evaluation, synthesis).
type MockModel struct {
	info      Info
	mu        sync.Mutex
	responses map[string]string
	queue     []Response
	calls     int
	usage     Usage
	failWith  error
}

// NewMockModel constructs a MockModel with tool support enabled and a
// deterministic per-call usage of 10 fresh input / 5 output tokens.
func NewMockModel(name, provider string) *MockModel {
	return &MockModel{
		info: Info{
			Name:          name,
			Provider:      provider,
			ContextWindow: 8192,
			SupportsTools: true,
		},
		responses: make(map[string]string),
		usage:     Usage{FreshInputTokens: 10, OutputTokens: 5},
	}
}

// AddResponse registers a deterministic canned completion for an input prompt.
func (m *MockModel) AddResponse(prompt, response string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.responses[prompt] = response
}

// Enqueue appends a full Response returned (in order) ahead of keyed lookups.
func (m *MockModel) Enqueue(resp Response) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queue = append(m.queue, resp)
}

// EnqueueText is a convenience wrapper queueing a plain text final response.
func (m *MockModel) EnqueueText(text string) {
	m.Enqueue(Response{Text: text, FinishReason: "stop"})
}

// FailWith makes every subsequent Generate call report err.
func (m *MockModel) FailWith(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failWith = err
}

// SetUsage overrides the per-call usage attached to final responses.
func (m *MockModel) SetUsage(u Usage) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage = u
}

// Calls returns the number of Generate invocations observed.
func (m *MockModel) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

// Generate implements Model; emits optional streaming rune chunks then the
// final response.
func (m *MockModel) Generate(ctx context.Context, req Request) (<-chan Response, <-chan error) {
	respCh := make(chan Response, 16)
	errCh := make(chan error, 1)

	m.mu.Lock()
	m.calls++
	failWith := m.failWith
	var final Response
	if len(m.queue) > 0 {
		final = m.queue[0]
		m.queue = m.queue[1:]
	} else {
		var inputText string
		if len(req.Messages) > 0 {
			inputText = req.Messages[len(req.Messages)-1].Text
		}
		text := m.responses[inputText]
		if text == "" {
			text = fmt.Sprintf("Mock response to: %s", inputText)
		}
		final = Response{Text: text, FinishReason: "stop"}
	}
	if final.Usage == nil {
		u := m.usage
		final.Usage = &u
	}
	m.mu.Unlock()

	go func() {
		defer close(respCh)
		defer close(errCh)
		if failWith != nil {
			errCh <- failWith
			return
		}
		if req.Stream {
			for _, r := range final.Text {
				select {
				case <-ctx.Done():
					errCh <- ctx.Err()
					return
				case respCh <- Response{Partial: true, Text: string(r)}:
				}
			}
		}
		select {
		case <-ctx.Done():
			errCh <- ctx.Err()
		case respCh <- final:
		}
	}()
	return respCh, errCh
}

// Info implements Model interface.
func (m *MockModel) Info() Info { return m.info }
