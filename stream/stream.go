// Package stream adapts the executor's turn event sequence to wire
// transports. An Envelope is the JSON form of one core.TurnEvent; Forward
// pushes the sequence into a Sink in order, stopping on the first sink
// failure so the caller can cancel the producing executor.
package stream

import (
	"context"

	"github.com/parleyhq/parley/core"
)

// Envelope is the wire form of one turn event. Field names are stable API.
type Envelope struct {
	Type     string       `json:"type"`
	Round    int          `json:"round,omitempty"`
	AgentKey string       `json:"agent_key,omitempty"`
	Text     string       `json:"text,omitempty"`
	Error    string       `json:"error,omitempty"`
	Turn     *core.Result `json:"turn,omitempty"`
}

// NewEnvelope converts a turn event into its wire form.
func NewEnvelope(ev core.TurnEvent) Envelope {
	return Envelope{
		Type:     string(ev.Kind),
		Round:    ev.Round,
		AgentKey: ev.AgentKey,
		Text:     ev.Text,
		Error:    ev.Err,
		Turn:     ev.Result,
	}
}

// ErrorEnvelope renders a turn rejection or failure as a terminal envelope.
func ErrorEnvelope(err error) Envelope {
	return Envelope{Type: "error", Error: err.Error()}
}

// Sink receives envelopes in sequence order. Send returning an error stops
// forwarding; the transport owns reconnection semantics.
type Sink interface {
	Send(Envelope) error
}

// SinkFunc adapts a function to the Sink interface.
type SinkFunc func(Envelope) error

// Send implements Sink.
func (f SinkFunc) Send(e Envelope) error { return f(e) }

// Forward drains an executor Run channel pair into sink, preserving event
// order. A terminal executor error is sent as an error envelope. The
// returned error is the first sink failure or the context error; nil means
// the sequence was delivered in full.
func Forward(ctx context.Context, events <-chan core.TurnEvent, errs <-chan error, sink Sink) error {
	for ev := range events {
		if err := sink.Send(NewEnvelope(ev)); err != nil {
			return err
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	if err := <-errs; err != nil {
		if sendErr := sink.Send(ErrorEnvelope(err)); sendErr != nil {
			return sendErr
		}
	}
	return nil
}
