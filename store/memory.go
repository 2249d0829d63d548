package store

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/parleyhq/parley/core"
)

// Memory is a volatile core.Store implementation holding everything in
// process local maps. It is safe for concurrent access and best suited for
// tests or ephemeral demo servers. Returned records are cloned to prevent
// external mutation of internal state.
type Memory struct {
	mu       sync.RWMutex
	sessions map[string]core.Session
	rooms    map[string]core.Room
	agents   map[string]core.AgentDef
	turns    map[string][]core.TurnRecord // keyed by session id, index order
	usage    []core.UsageEvent
	debits   []core.WalletDebit
	audits   []core.BudgetAudit
	wallets  map[string]int64
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions: make(map[string]core.Session),
		rooms:    make(map[string]core.Room),
		agents:   make(map[string]core.AgentDef),
		turns:    make(map[string][]core.TurnRecord),
		wallets:  make(map[string]int64),
	}
}

// PutSession stores or replaces a session record.
func (m *Memory) PutSession(s core.Session) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[s.ID] = s
}

// PutRoom stores or replaces a room with its roster.
func (m *Memory) PutRoom(r core.Room) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rooms[r.ID] = cloneRoom(r)
}

// PutAgent stores or replaces a standalone agent definition.
func (m *Memory) PutAgent(a core.AgentDef) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[a.Key] = a
}

// GetSession implements core.SessionStore.
func (m *Memory) GetSession(_ context.Context, sessionID string) (*core.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, fmt.Errorf("session %q not found", sessionID)
	}
	out := s
	return &out, nil
}

// GetRoom implements core.SessionStore.
func (m *Memory) GetRoom(_ context.Context, roomID string) (*core.Room, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.rooms[roomID]
	if !ok {
		return nil, fmt.Errorf("room %q not found", roomID)
	}
	out := cloneRoom(r)
	return &out, nil
}

// GetAgent implements core.SessionStore.
func (m *Memory) GetAgent(_ context.Context, key string) (*core.AgentDef, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.agents[key]
	if !ok {
		return nil, fmt.Errorf("agent %q not found", key)
	}
	out := a
	return &out, nil
}

// History implements core.TurnStore.
func (m *Memory) History(_ context.Context, sessionID string) ([]core.TurnRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	records := m.turns[sessionID]
	out := make([]core.TurnRecord, len(records))
	for i, tr := range records {
		out[i] = cloneTurnRecord(tr)
	}
	return out, nil
}

// NextTurnIndex implements core.TurnStore.
func (m *Memory) NextTurnIndex(_ context.Context, sessionID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	next := 0
	for _, tr := range m.turns[sessionID] {
		if tr.Turn.Index >= next {
			next = tr.Turn.Index + 1
		}
	}
	return next, nil
}

// CommitTurn implements core.TurnStore. The whole staged unit is applied
// under one lock so readers never observe a half-written turn.
func (m *Memory) CommitTurn(_ context.Context, staged *core.StagedTurn) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, tr := range m.turns[staged.Turn.SessionID] {
		if tr.Turn.Index == staged.Turn.Index {
			return &core.ConflictError{SessionID: staged.Turn.SessionID, Index: staged.Turn.Index}
		}
	}

	record := cloneTurnRecord(core.TurnRecord{Turn: staged.Turn, Messages: staged.Messages})
	records := append(m.turns[staged.Turn.SessionID], record)
	sort.Slice(records, func(i, j int) bool { return records[i].Turn.Index < records[j].Turn.Index })
	m.turns[staged.Turn.SessionID] = records

	for _, u := range staged.Usage {
		u.Status = core.UsageCommitted
		m.usage = append(m.usage, u)
	}
	for _, d := range staged.Debits {
		m.debits = append(m.debits, d)
		m.wallets[d.UserID] += d.Amount
	}
	m.audits = append(m.audits, staged.Audit)
	return nil
}

// Balance implements core.WalletStore.
func (m *Memory) Balance(_ context.Context, userID string) (int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.wallets[userID], nil
}

// Credit implements core.WalletStore.
func (m *Memory) Credit(_ context.Context, userID string, amount int64) error {
	if amount <= 0 {
		return fmt.Errorf("credit amount must be positive, got %d", amount)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[userID] += amount
	return nil
}

// UsageEvents returns the committed usage events for one turn, in commit
// order.
func (m *Memory) UsageEvents(_ context.Context, turnID string) ([]core.UsageEvent, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []core.UsageEvent
	for _, u := range m.usage {
		if u.TurnID == turnID {
			out = append(out, u)
		}
	}
	return out, nil
}

// UsageSummary aggregates committed credits per agent key for one session.
func (m *Memory) UsageSummary(_ context.Context, sessionID string) (map[string]int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	turnIDs := make(map[string]bool)
	for _, tr := range m.turns[sessionID] {
		turnIDs[tr.Turn.ID] = true
	}
	out := make(map[string]int64)
	for _, u := range m.usage {
		if turnIDs[u.TurnID] {
			out[u.AgentKey] += u.Credits
		}
	}
	return out, nil
}

func cloneRoom(r core.Room) core.Room {
	out := r
	out.Roster = make([]core.AgentDef, len(r.Roster))
	copy(out.Roster, r.Roster)
	for i, a := range out.Roster {
		grants := make([]string, len(a.ToolGrants))
		copy(grants, a.ToolGrants)
		out.Roster[i].ToolGrants = grants
	}
	return out
}

func cloneTurnRecord(tr core.TurnRecord) core.TurnRecord {
	out := tr
	out.Messages = make([]core.Message, len(tr.Messages))
	copy(out.Messages, tr.Messages)
	return out
}
