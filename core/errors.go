package core

import (
	"errors"
	"fmt"
)

// Validation reason codes surfaced to callers. They identify why a turn was
// refused before any model call was issued.
const (
	ReasonNoValidTags      = "no_valid_tagged_agents"
	ReasonMissingRoomGoal  = "missing_room_goal"
	ReasonUnsupportedMode  = "unsupported_mode"
	ReasonEmptyRoster      = "empty_roster"
	ReasonBadSession       = "invalid_session"
	ReasonStreamToolsUnfit = "stream_unsupported_tools"
)

// ValidationError rejects a turn before execution: no side effects, no model
// calls. Reason is a stable machine-readable code; Detail is human context.
type ValidationError struct {
	Reason string
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("validation failed: %s", e.Reason)
	}
	return fmt.Sprintf("validation failed: %s: %s", e.Reason, e.Detail)
}

// NewValidationError builds a ValidationError with a formatted detail.
func NewValidationError(reason, format string, args ...any) *ValidationError {
	return &ValidationError{Reason: reason, Detail: fmt.Sprintf(format, args...)}
}

// BudgetExceededError rejects a turn whose context cannot be bounded below
// the model input budget even after the summarize and prune stages.
type BudgetExceededError struct {
	Estimate    int
	InputBudget int
}

func (e *BudgetExceededError) Error() string {
	return fmt.Sprintf("context budget exceeded: estimated %d tokens against input budget %d", e.Estimate, e.InputBudget)
}

// InsufficientBalanceError rejects a turn at wallet preflight, before any
// model call is issued.
type InsufficientBalanceError struct {
	UserID  string
	Balance int64
}

func (e *InsufficientBalanceError) Error() string {
	return fmt.Sprintf("insufficient balance for user %s: %d credits", e.UserID, e.Balance)
}

// AgentInvocationError wraps one agent's model or tool failure. It is
// recovered locally: a structured error message replaces the agent's output
// and the turn continues with status partial.
type AgentInvocationError struct {
	AgentKey string
	Round    int
	Err      error
}

func (e *AgentInvocationError) Error() string {
	if e.Round > 0 {
		return fmt.Sprintf("agent %s failed in round %d: %v", e.AgentKey, e.Round, e.Err)
	}
	return fmt.Sprintf("agent %s failed: %v", e.AgentKey, e.Err)
}

func (e *AgentInvocationError) Unwrap() error { return e.Err }

// ConflictError signals a duplicate turn index write for a session. The
// submission is retryable; nothing was persisted.
type ConflictError struct {
	SessionID string
	Index     int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("turn index %d already exists for session %s", e.Index, e.SessionID)
}

// CommitError is fatal for the turn: the single transaction failed and
// nothing was persisted. Callers must retry the whole turn.
type CommitError struct {
	Err error
}

func (e *CommitError) Error() string { return fmt.Sprintf("turn commit failed: %v", e.Err) }

func (e *CommitError) Unwrap() error { return e.Err }

// IsRejection reports whether err belongs to the zero-side-effect rejection
// family (validation, budget, balance). Such errors never leave staged state
// behind.
func IsRejection(err error) bool {
	var ve *ValidationError
	var be *BudgetExceededError
	var ie *InsufficientBalanceError
	return errors.As(err, &ve) || errors.As(err, &be) || errors.As(err, &ie)
}

// IsConflict reports whether err is a retryable duplicate-index conflict.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
