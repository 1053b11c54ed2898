package kvlite

import (
	"math/rand/v2"
)

// RandomSource is a uniform [0,1) sampler used only for the soft-cleanup
// coin-flip (see CleanupPolicy). It has no cryptographic requirement; it
// only needs to be good enough for a fair Bernoulli trial at small p and
// safe for concurrent use.
//
// math/rand/v2's top-level generator is already safe for concurrent use,
// so the default implementation wraps it directly rather than reaching for
// a third-party PRNG.
type RandomSource interface {
	// NextUnit returns a pseudo-random value in [0,1).
	NextUnit() float64
}

// SystemRandom is the production RandomSource. The zero value is usable;
// it holds no state of its own.
type SystemRandom struct{}

// NextUnit implements RandomSource.
func (SystemRandom) NextUnit() float64 {
	return rand.Float64()
}

// FixedRandom is a test double that always returns a configured value,
// useful for pinning the soft-cleanup coin-flip in deterministic tests.
type FixedRandom struct {
	Value float64
}

// NextUnit implements RandomSource.
func (r FixedRandom) NextUnit() float64 {
	return r.Value
}
