package budget

// Estimator approximates the token footprint of a text fragment. Estimates
// only need to be deterministic and monotonic in length; exact tokenizer
// parity is not required because all thresholds carry headroom.
type Estimator interface {
	Estimate(text string) int
}

// perMessageOverhead accounts for role/name framing tokens around each
// message in the provider wire format.
const perMessageOverhead = 4

// HeuristicEstimator approximates tokens as ceil(len/4), the conventional
// characters-per-token ratio for English-heavy chat text.
type HeuristicEstimator struct{}

// Estimate implements Estimator.
func (HeuristicEstimator) Estimate(text string) int {
	if text == "" {
		return 0
	}
	return (len(text) + 3) / 4
}

// safeEstimator shields the pipeline from a misbehaving estimator: a panic
// or a nonsensical result degrades to the character heuristic instead of
// crashing the turn.
type safeEstimator struct {
	inner    Estimator
	fallback HeuristicEstimator
}

func newSafeEstimator(inner Estimator) *safeEstimator {
	return &safeEstimator{inner: inner}
}

func (s *safeEstimator) Estimate(text string) (n int) {
	defer func() {
		if recover() != nil || n < 0 {
			n = s.fallback.Estimate(text)
		}
	}()
	if s.inner == nil {
		return s.fallback.Estimate(text)
	}
	return s.inner.Estimate(text)
}
