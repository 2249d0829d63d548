package ledger

import (
	"math"
	"time"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/model"
)

// Weighted token unit factors. Cached input is an order of magnitude cheaper
// than fresh input; output dominates cost.
const (
	cachedInputDivisor = 10
	outputWeight       = 4
	creditsPerKiloUnit = 1000
)

// CostUnits computes the weighted token count used as the billing basis:
// fresh input at weight 1, cached input at 1/10 (rounded up), output at 4.
func CostUnits(u model.Usage) int64 {
	cached := int64(u.CachedInputTokens+cachedInputDivisor-1) / cachedInputDivisor
	return int64(u.FreshInputTokens) + cached + outputWeight*int64(u.OutputTokens)
}

// CreditsFor prices weighted units with a catalog multiplier. Every billed
// call burns at least one credit.
func CreditsFor(units int64, price Price) int64 {
	credits := int64(math.Ceil(float64(units) * price.Multiplier / creditsPerKiloUnit))
	if credits < 1 {
		credits = 1
	}
	return credits
}

// Stage converts one model call's usage into an uncommitted usage event and
// its 1:1 wallet debit. Pure function: no clock reads beyond the record
// timestamps, no store access, no mutation of inputs.
func Stage(turnID, userID, agentKey, modelAlias string, usage model.Usage, price Price) (core.UsageEvent, core.WalletDebit) {
	units := CostUnits(usage)
	credits := CreditsFor(units, price)
	now := time.Now().UTC()

	event := core.UsageEvent{
		ID:                core.NewID(),
		TurnID:            turnID,
		AgentKey:          agentKey,
		ModelAlias:        modelAlias,
		FreshInputTokens:  usage.FreshInputTokens,
		CachedInputTokens: usage.CachedInputTokens,
		OutputTokens:      usage.OutputTokens,
		CostUnits:         units,
		Credits:           credits,
		PricingVersion:    price.Version,
		Status:            core.UsageStaged,
		Created:           now,
	}
	debit := core.WalletDebit{
		ID:           core.NewID(),
		UsageEventID: event.ID,
		UserID:       userID,
		Amount:       -credits,
		Created:      now,
	}
	return event, debit
}
