package core

import "time"

// UsageStatus is the lifecycle state of a usage event.
type UsageStatus string

const (
	// UsageStaged marks an in-memory usage event awaiting the turn commit.
	UsageStaged UsageStatus = "staged"
	// UsageCommitted marks a persisted usage event.
	UsageCommitted UsageStatus = "committed"
)

// UsageEvent records the token usage and computed cost of exactly one model
// call. Every billed invocation in a turn (specialists, manager routing,
// evaluation and synthesis) produces exactly one event; the set commits
// atomically with the turn. Append-only.
type UsageEvent struct {
	ID                string      `json:"id"`
	TurnID            string      `json:"turn_id"`
	AgentKey          string      `json:"agent_key"`
	ModelAlias        string      `json:"model_alias"`
	FreshInputTokens  int         `json:"fresh_input_tokens"`
	CachedInputTokens int         `json:"cached_input_tokens"`
	OutputTokens      int         `json:"output_tokens"`
	CostUnits         int64       `json:"cost_units"`
	Credits           int64       `json:"credits"`
	PricingVersion    string      `json:"pricing_version"`
	Status            UsageStatus `json:"status"`
	Created           time.Time   `json:"created"`
}

// WalletDebit is one ledger transaction tied 1:1 to a usage event. Amount is
// negative (credits burned). Staged alongside the usage event and committed
// with the turn.
type WalletDebit struct {
	ID           string    `json:"id"`
	UsageEventID string    `json:"usage_event_id"`
	UserID       string    `json:"user_id"`
	Amount       int64     `json:"amount"`
	Created      time.Time `json:"created"`
}

// BudgetAudit records, per turn, the context budgeting cascade: token
// estimates before and after, which stages fired and whether the turn was
// rejected for overflow.
type BudgetAudit struct {
	ID             string    `json:"id"`
	TurnID         string    `json:"turn_id"`
	ModelLimit     int       `json:"model_limit"`
	InputBudget    int       `json:"input_budget"`
	EstimateBefore int       `json:"estimate_before"`
	EstimateAfter  int       `json:"estimate_after"`
	Summarized     bool      `json:"summarized"`
	Pruned         bool      `json:"pruned"`
	Rejected       bool      `json:"rejected"`
	Created        time.Time `json:"created"`
}

// StagedTurn is the atomic commit unit: the turn row, its message set, its
// billing trail and the budget audit live or die together in one transaction.
type StagedTurn struct {
	Turn     Turn
	Messages []Message
	Usage    []UsageEvent
	Debits   []WalletDebit
	Audit    BudgetAudit
}

// CreditsBurned sums the staged debit amounts (a non-positive number).
func (st *StagedTurn) CreditsBurned() int64 {
	var total int64
	for _, d := range st.Debits {
		total += d.Amount
	}
	return total
}
