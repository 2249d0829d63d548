package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleyhq/parley/core"
	"github.com/parleyhq/parley/model"
)

func TestCostUnits_Weighting(t *testing.T) {
	tests := []struct {
		name  string
		usage model.Usage
		want  int64
	}{
		{"fresh only", model.Usage{FreshInputTokens: 100}, 100},
		{"output weighted", model.Usage{OutputTokens: 10}, 40},
		{"cached discounted", model.Usage{CachedInputTokens: 100}, 10},
		{"cached rounds up", model.Usage{CachedInputTokens: 101}, 11},
		{"cached single token", model.Usage{CachedInputTokens: 1}, 1},
		{"combined", model.Usage{FreshInputTokens: 1000, CachedInputTokens: 95, OutputTokens: 250}, 1000 + 10 + 1000},
		{"zero", model.Usage{}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CostUnits(tt.usage))
		})
	}
}

func TestCreditsFor_MinimumOneCredit(t *testing.T) {
	price := Price{Multiplier: 1.0, Version: "v1"}
	assert.Equal(t, int64(1), CreditsFor(1, price))
	assert.Equal(t, int64(1), CreditsFor(999, price))
	assert.Equal(t, int64(1), CreditsFor(1000, price))
	assert.Equal(t, int64(2), CreditsFor(1001, price))
}

func TestCreditsFor_Multiplier(t *testing.T) {
	assert.Equal(t, int64(5), CreditsFor(1000, Price{Multiplier: 5.0}))
	assert.Equal(t, int64(3), CreditsFor(500, Price{Multiplier: 5.0}))
	assert.Equal(t, int64(1), CreditsFor(4000, Price{Multiplier: 0.25}))
}

func TestStage_LinksDebitToEvent(t *testing.T) {
	usage := model.Usage{FreshInputTokens: 2000, CachedInputTokens: 50, OutputTokens: 500}
	price := Price{Multiplier: 2.0, Version: "v3"}

	event, debit := Stage("turn-1", "user-1", "architect", "fast", usage, price)

	assert.Equal(t, "turn-1", event.TurnID)
	assert.Equal(t, "architect", event.AgentKey)
	assert.Equal(t, "fast", event.ModelAlias)
	assert.Equal(t, 2000, event.FreshInputTokens)
	assert.Equal(t, 50, event.CachedInputTokens)
	assert.Equal(t, 500, event.OutputTokens)
	assert.Equal(t, "v3", event.PricingVersion)
	assert.Equal(t, core.UsageStaged, event.Status)

	// units = 2000 + ceil(50/10) + 4*500 = 4005; credits = ceil(4005*2/1000) = 9
	assert.Equal(t, int64(4005), event.CostUnits)
	assert.Equal(t, int64(9), event.Credits)

	require.NotEmpty(t, debit.ID)
	assert.Equal(t, event.ID, debit.UsageEventID)
	assert.Equal(t, "user-1", debit.UserID)
	assert.Equal(t, -event.Credits, debit.Amount)
}

func TestStaticCatalog_Lookup(t *testing.T) {
	cat := NewStaticCatalog("v2", map[string]float64{"fast": 1.0, "smart": 5.0}, 0)

	price, err := cat.Lookup("smart")
	require.NoError(t, err)
	assert.Equal(t, 5.0, price.Multiplier)
	assert.Equal(t, "v2", price.Version)

	_, err = cat.Lookup("unknown")
	assert.Error(t, err)
}

func TestStaticCatalog_Fallback(t *testing.T) {
	cat := NewStaticCatalog("v2", map[string]float64{"fast": 1.0}, 2.5)
	price, err := cat.Lookup("unknown")
	require.NoError(t, err)
	assert.Equal(t, 2.5, price.Multiplier)
}

func TestPolicy_SnapshotAndToggles(t *testing.T) {
	cat := NewStaticCatalog("v1", nil, 1.0)
	p := NewPolicy(cat)

	snap := p.Snapshot()
	assert.True(t, snap.Enforcement)
	assert.Equal(t, int64(100), snap.LowBalanceThreshold)

	p.SetEnforcement(false)
	assert.False(t, p.Snapshot().Enforcement)

	replacement := NewStaticCatalog("v2", nil, 3.0)
	p.ReplaceCatalog(replacement)
	price, err := p.Snapshot().Catalog.Lookup("any")
	require.NoError(t, err)
	assert.Equal(t, 3.0, price.Multiplier)
	assert.Equal(t, "v2", price.Version)
}

func TestPolicy_Options(t *testing.T) {
	p := NewPolicy(NewStaticCatalog("v1", nil, 1.0),
		WithEnforcement(false),
		WithLowBalanceThreshold(50))
	snap := p.Snapshot()
	assert.False(t, snap.Enforcement)
	assert.Equal(t, int64(50), snap.LowBalanceThreshold)
}
