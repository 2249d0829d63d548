package ledger

import "fmt"

// Price is the billing rate for one model alias. Multiplier scales weighted
// token units into credits; Version tags the catalog revision every usage
// event records for reproducibility.
type Price struct {
	Multiplier float64 `json:"multiplier" yaml:"multiplier"`
	Version    string  `json:"version" yaml:"version"`
}

// Catalog resolves per-model pricing. Implementations must be safe for
// concurrent reads.
type Catalog interface {
	Lookup(modelAlias string) (Price, error)
}

// StaticCatalog is an immutable alias -> Price map sharing one version tag.
type StaticCatalog struct {
	version string
	prices  map[string]float64
	// fallback applies to aliases missing from the table; zero disables it.
	fallback float64
}

// NewStaticCatalog builds a catalog from a multiplier table. A fallback
// multiplier > 0 prices unknown aliases instead of failing the lookup.
func NewStaticCatalog(version string, prices map[string]float64, fallback float64) *StaticCatalog {
	cp := make(map[string]float64, len(prices))
	for k, v := range prices {
		cp[k] = v
	}
	return &StaticCatalog{version: version, prices: cp, fallback: fallback}
}

// Lookup implements Catalog.
func (c *StaticCatalog) Lookup(modelAlias string) (Price, error) {
	if m, ok := c.prices[modelAlias]; ok {
		return Price{Multiplier: m, Version: c.version}, nil
	}
	if c.fallback > 0 {
		return Price{Multiplier: c.fallback, Version: c.version}, nil
	}
	return Price{}, fmt.Errorf("no price for model alias %q in catalog %s", modelAlias, c.version)
}

// Version returns the catalog revision tag.
func (c *StaticCatalog) Version() string { return c.version }
