package core

import (
	"fmt"
	"time"
)

// Role attributes a message to its producer category.
type Role string

const (
	// RoleUser marks the raw user input message of a turn.
	RoleUser Role = "user"
	// RoleAssistant marks an agent (or manager) produced message.
	RoleAssistant Role = "assistant"
	// RoleSystem marks synthetic system content such as context digests.
	RoleSystem Role = "system"
	// RoleTool marks tool invocation traces.
	RoleTool Role = "tool"
)

// Visibility controls cross-agent exposure of a message.
type Visibility string

const (
	// VisibilityShared messages are part of the shared conversation record.
	VisibilityShared Visibility = "shared"
	// VisibilityPrivate messages are tool scratchpad entries visible only to
	// the agent that produced them.
	VisibilityPrivate Visibility = "private"
)

// TurnStatus is the terminal disposition of a turn.
type TurnStatus string

const (
	// TurnCompleted means every planned invocation produced output.
	TurnCompleted TurnStatus = "completed"
	// TurnPartial means at least one invocation failed but the turn still
	// committed with the surviving outputs and structured error entries.
	TurnPartial TurnStatus = "partial"
	// TurnRejected means the turn was refused before any model call. A
	// rejected turn is never persisted; the status appears only on the
	// wire, in rejection responses.
	TurnRejected TurnStatus = "rejected"
)

// Session scopes a conversation. Exactly one of RoomID / AgentKey is set:
// a session belongs either to a shared room or to a standalone agent, never
// both. Sessions are append-only; the engine only ever adds turns.
type Session struct {
	ID       string    `json:"id"`
	UserID   string    `json:"user_id"`
	RoomID   string    `json:"room_id,omitempty"`
	AgentKey string    `json:"agent_key,omitempty"`
	Created  time.Time `json:"created"`
}

// Validate enforces the room/standalone exclusivity invariant.
func (s Session) Validate() error {
	if (s.RoomID == "") == (s.AgentKey == "") {
		return fmt.Errorf("session %s: exactly one of room_id or agent_key must be set", s.ID)
	}
	return nil
}

// Standalone reports whether the session targets a single agent outside a room.
func (s Session) Standalone() bool { return s.AgentKey != "" }

// Turn is one user input plus its full agent response cycle. Index is unique
// and monotonic per session; a duplicate write surfaces as a conflict. Turns
// are immutable once committed.
type Turn struct {
	ID         string     `json:"id"`
	SessionID  string     `json:"session_id"`
	Index      int        `json:"index"`
	Mode       Mode       `json:"mode"`
	UserText   string     `json:"user_text"`
	OutputText string     `json:"output_text"`
	Status     TurnStatus `json:"status"`
	Created    time.Time  `json:"created"`
}

// Message is one role-attributed text unit belonging to a turn. Round is
// non-zero only for orchestrator-mode specialist output. AgentKey is empty
// for user and system messages. Err carries the structured error annotation
// recorded in place of a failed agent's output.
type Message struct {
	ID         string     `json:"id"`
	TurnID     string     `json:"turn_id"`
	Role       Role       `json:"role"`
	AgentKey   string     `json:"agent_key,omitempty"`
	Round      int        `json:"round,omitempty"`
	Text       string     `json:"text"`
	Visibility Visibility `json:"visibility"`
	Err        string     `json:"error,omitempty"`
	Created    time.Time  `json:"created"`
}

// NewUserMessage builds the user message for a turn.
func NewUserMessage(turnID, text string) Message {
	return Message{
		ID:         NewID(),
		TurnID:     turnID,
		Role:       RoleUser,
		Text:       text,
		Visibility: VisibilityShared,
		Created:    time.Now().UTC(),
	}
}

// NewAgentMessage builds a shared assistant message attributed to agentKey.
func NewAgentMessage(turnID, agentKey string, round int, text string) Message {
	return Message{
		ID:         NewID(),
		TurnID:     turnID,
		Role:       RoleAssistant,
		AgentKey:   agentKey,
		Round:      round,
		Text:       text,
		Visibility: VisibilityShared,
		Created:    time.Now().UTC(),
	}
}

// NewErrorMessage records a structured error entry in place of an agent's
// output. The turn continues; its status becomes partial.
func NewErrorMessage(turnID, agentKey string, round int, err error) Message {
	m := NewAgentMessage(turnID, agentKey, round, "")
	m.Err = err.Error()
	return m
}

// NewScratchpadMessage records a private tool trace for one agent.
func NewScratchpadMessage(turnID, agentKey string, round int, text string) Message {
	m := Message{
		ID:         NewID(),
		TurnID:     turnID,
		Role:       RoleTool,
		AgentKey:   agentKey,
		Round:      round,
		Text:       text,
		Visibility: VisibilityPrivate,
		Created:    time.Now().UTC(),
	}
	return m
}

// IsError reports whether the message is a structured error annotation.
func (m Message) IsError() bool { return m.Err != "" }

// TurnRecord bundles a committed turn with its messages, as returned by
// history queries. Messages preserve insertion order.
type TurnRecord struct {
	Turn     Turn      `json:"turn"`
	Messages []Message `json:"messages"`
}

// Resolved reports whether the turn completed cleanly: committed status,
// output present and no structured error entries. Unresolved turns are
// protected from summarization by the context budgeter.
func (tr TurnRecord) Resolved() bool {
	if tr.Turn.Status != TurnCompleted || tr.Turn.OutputText == "" {
		return false
	}
	for _, m := range tr.Messages {
		if m.IsError() {
			return false
		}
	}
	return true
}
