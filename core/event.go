package core

import "time"

// EventKind discriminates the turn event stream.
type EventKind string

const (
	// EventRoundStart opens a consultation round (round 1 for direct modes).
	EventRoundStart EventKind = "round_start"
	// EventAgentStart precedes the first output of one agent invocation.
	EventAgentStart EventKind = "agent_start"
	// EventChunk carries an incremental text fragment from a streaming model.
	EventChunk EventKind = "chunk"
	// EventAgentEnd closes one agent invocation with its full text or error.
	EventAgentEnd EventKind = "agent_end"
	// EventManagerThink surfaces a manager routing or evaluation decision.
	EventManagerThink EventKind = "manager_think"
	// EventRoundEnd closes a consultation round.
	EventRoundEnd EventKind = "round_end"
	// EventDone terminates the stream, carrying the committed turn summary.
	EventDone EventKind = "done"
)

// TurnEvent is one element of the ordered event sequence a turn execution
// produces. The non-streaming API drains the sequence to completion; the
// streaming API forwards it live. Both observe identical events, so
// persistence parity between the two paths holds by construction.
type TurnEvent struct {
	Kind      EventKind `json:"kind"`
	Round     int       `json:"round,omitempty"`
	AgentKey  string    `json:"agent_key,omitempty"`
	Text      string    `json:"text,omitempty"`
	Err       string    `json:"error,omitempty"`
	Result    *Result   `json:"result,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Result summarizes a committed turn for the done event and the synchronous
// submit API.
type Result struct {
	TurnID     string     `json:"turn_id"`
	TurnIndex  int        `json:"turn_index"`
	SessionID  string     `json:"session_id"`
	Mode       Mode       `json:"mode"`
	Status     TurnStatus `json:"status"`
	OutputText string     `json:"output_text"`
	Credits    int64      `json:"credits_burned"`
	Balance    int64      `json:"balance"`
	LowBalance bool       `json:"low_balance"`
}

// NewTurnEvent creates a bare event of the given kind stamped with the
// current UTC time.
func NewTurnEvent(kind EventKind) TurnEvent {
	return TurnEvent{Kind: kind, Timestamp: time.Now().UTC()}
}

// NewRoundStartEvent opens round n.
func NewRoundStartEvent(round int) TurnEvent {
	e := NewTurnEvent(EventRoundStart)
	e.Round = round
	return e
}

// NewRoundEndEvent closes round n.
func NewRoundEndEvent(round int) TurnEvent {
	e := NewTurnEvent(EventRoundEnd)
	e.Round = round
	return e
}

// NewAgentStartEvent announces that agentKey is about to run in round n.
func NewAgentStartEvent(round int, agentKey string) TurnEvent {
	e := NewTurnEvent(EventAgentStart)
	e.Round = round
	e.AgentKey = agentKey
	return e
}

// NewChunkEvent carries an incremental fragment of agentKey's output.
func NewChunkEvent(round int, agentKey, text string) TurnEvent {
	e := NewTurnEvent(EventChunk)
	e.Round = round
	e.AgentKey = agentKey
	e.Text = text
	return e
}

// NewAgentEndEvent closes agentKey's invocation with its final text, or with
// the structured error if the invocation failed.
func NewAgentEndEvent(round int, agentKey, text string, err error) TurnEvent {
	e := NewTurnEvent(EventAgentEnd)
	e.Round = round
	e.AgentKey = agentKey
	e.Text = text
	if err != nil {
		e.Err = err.Error()
	}
	return e
}

// NewManagerThinkEvent surfaces a manager routing or evaluation decision.
func NewManagerThinkEvent(round int, text string) TurnEvent {
	e := NewTurnEvent(EventManagerThink)
	e.Round = round
	e.Text = text
	return e
}

// NewDoneEvent terminates the stream with the committed turn summary.
func NewDoneEvent(res *Result) TurnEvent {
	e := NewTurnEvent(EventDone)
	e.Result = res
	return e
}
