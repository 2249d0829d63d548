package ledger

import "sync"

// Policy is a small thread-safe configuration cell for process-wide billing
// state: the admin-togglable enforcement flag, the active pricing catalog
// and the low-balance warning threshold. Reads take a snapshot; admin
// surfaces replace fields wholesale.
type Policy struct {
	mu                  sync.RWMutex
	enforcement         bool
	catalog             Catalog
	lowBalanceThreshold int64
}

// PolicySnapshot is an immutable view of the policy cell at read time.
type PolicySnapshot struct {
	Enforcement         bool
	Catalog             Catalog
	LowBalanceThreshold int64
}

// NewPolicy constructs a policy cell. Enforcement defaults to enabled.
func NewPolicy(catalog Catalog, optFns ...func(p *Policy)) *Policy {
	p := &Policy{
		enforcement:         true,
		catalog:             catalog,
		lowBalanceThreshold: 100,
	}
	for _, fn := range optFns {
		fn(p)
	}
	return p
}

// WithEnforcement presets the enforcement flag.
func WithEnforcement(enabled bool) func(p *Policy) {
	return func(p *Policy) { p.enforcement = enabled }
}

// WithLowBalanceThreshold presets the low-balance warning threshold.
func WithLowBalanceThreshold(credits int64) func(p *Policy) {
	return func(p *Policy) { p.lowBalanceThreshold = credits }
}

// Snapshot returns a consistent view of the current policy.
func (p *Policy) Snapshot() PolicySnapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return PolicySnapshot{
		Enforcement:         p.enforcement,
		Catalog:             p.catalog,
		LowBalanceThreshold: p.lowBalanceThreshold,
	}
}

// SetEnforcement toggles balance enforcement process-wide.
func (p *Policy) SetEnforcement(enabled bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.enforcement = enabled
}

// ReplaceCatalog swaps in a new pricing catalog (admin reload).
func (p *Policy) ReplaceCatalog(c Catalog) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.catalog = c
}
