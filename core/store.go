package core

import "context"

// SessionStore supplies session records and room/agent rosters. The engine
// treats these as read-only inputs; creation and CRUD live outside the core.
type SessionStore interface {
	// GetSession returns the session or an error if unknown.
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	// GetRoom returns the room backing a session (room sessions only).
	GetRoom(ctx context.Context, roomID string) (*Room, error)
	// GetAgent returns a standalone agent definition by key.
	GetAgent(ctx context.Context, key string) (*AgentDef, error)
}

// TurnStore persists turns and serves conversation history.
type TurnStore interface {
	// History returns all committed turns of a session in index order, each
	// with its messages in insertion order.
	History(ctx context.Context, sessionID string) ([]TurnRecord, error)
	// NextTurnIndex returns the next free turn index for the session.
	NextTurnIndex(ctx context.Context, sessionID string) (int, error)
	// CommitTurn writes the staged turn, its messages, usage events, wallet
	// debits and budget audit in one transaction, applying the debit amounts
	// to the owning wallet. A duplicate (session, index) pair returns a
	// *ConflictError; any other failure returns a *CommitError and persists
	// nothing.
	CommitTurn(ctx context.Context, staged *StagedTurn) error
}

// WalletStore reads and provisions user credit balances. Debits are applied
// exclusively through TurnStore.CommitTurn so billing and conversation state
// stay in one transaction; concurrent debits for one user are serialized by
// the store.
type WalletStore interface {
	// Balance returns the current credit balance for the user (0 if the
	// wallet does not exist yet).
	Balance(ctx context.Context, userID string) (int64, error)
	// Credit adds amount (positive) to the user's wallet, creating it on
	// first use.
	Credit(ctx context.Context, userID string, amount int64) error
}

// Store aggregates the persistence surfaces a turn execution needs.
type Store interface {
	SessionStore
	TurnStore
	WalletStore
}
