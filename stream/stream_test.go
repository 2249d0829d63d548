package stream

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
)

func feed(events []core.TurnEvent, terminal error) (<-chan core.TurnEvent, <-chan error) {
	evCh := make(chan core.TurnEvent, len(events))
	errCh := make(chan error, 1)
	for _, ev := range events {
		evCh <- ev
	}
	close(evCh)
	if terminal != nil {
		errCh <- terminal
	}
	close(errCh)
	return evCh, errCh
}

func TestForward_PreservesOrder(t *testing.T) {
	result := &core.Result{TurnID: "t-1", Status: core.TurnCompleted}
	events := []core.TurnEvent{
		core.NewRoundStartEvent(1),
		core.NewAgentStartEvent(1, "architect"),
		core.NewChunkEvent(1, "architect", "hel"),
		core.NewChunkEvent(1, "architect", "lo"),
		core.NewAgentEndEvent(1, "architect", "hello", nil),
		core.NewRoundEndEvent(1),
		core.NewDoneEvent(result),
	}

	var got []Envelope
	evCh, errCh := feed(events, nil)
	err := Forward(context.Background(), evCh, errCh, SinkFunc(func(e Envelope) error {
		got = append(got, e)
		return nil
	}))
	require.NoError(t, err)

	require.Len(t, got, len(events))
	assert.Equal(t, "round_start", got[0].Type)
	assert.Equal(t, "chunk", got[2].Type)
	assert.Equal(t, "hel", got[2].Text)
	assert.Equal(t, "lo", got[3].Text)
	assert.Equal(t, "architect", got[2].AgentKey)
	assert.Equal(t, "done", got[6].Type)
	require.NotNil(t, got[6].Turn)
	assert.Equal(t, "t-1", got[6].Turn.TurnID)
}

func TestForward_TerminalErrorBecomesEnvelope(t *testing.T) {
	var got []Envelope
	evCh, errCh := feed(nil, errors.New("context budget exceeded"))
	err := Forward(context.Background(), evCh, errCh, SinkFunc(func(e Envelope) error {
		got = append(got, e)
		return nil
	}))
	require.NoError(t, err)

	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Type)
	assert.Contains(t, got[0].Error, "budget exceeded")
}

func TestForward_StopsOnSinkFailure(t *testing.T) {
	events := []core.TurnEvent{
		core.NewRoundStartEvent(1),
		core.NewAgentStartEvent(1, "architect"),
		core.NewRoundEndEvent(1),
	}

	sent := 0
	sinkErr := errors.New("peer gone")
	evCh, errCh := feed(events, nil)
	err := Forward(context.Background(), evCh, errCh, SinkFunc(func(e Envelope) error {
		sent++
		if sent == 2 {
			return sinkErr
		}
		return nil
	}))
	assert.ErrorIs(t, err, sinkErr)
	assert.Equal(t, 2, sent)
}
