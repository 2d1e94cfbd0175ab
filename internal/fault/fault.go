package fault

import (
	"math/rand"
)

// Injector simulates channel noise by corrupting outgoing payloads
// with a fixed probability. The random source is an explicit
// dependency so corruption is reproducible in tests.
type Injector struct {
	probability float64
	rng         *rand.Rand
}

// New creates an injector that corrupts with the given probability,
// clamped to [0, 1], drawing randomness from rng.
func New(probability float64, rng *rand.Rand) *Injector {
	if probability < 0 {
		probability = 0
	}
	if probability > 1 {
		probability = 1
	}
	return &Injector{probability: probability, rng: rng}
}

// NewSeeded creates an injector with its own deterministic source.
func NewSeeded(probability float64, seed int64) *Injector {
	return New(probability, rand.New(rand.NewSource(seed)))
}

// Probability returns the configured corruption probability.
func (in *Injector) Probability() float64 {
	return in.probability
}

// MaybeCorrupt returns data with a single byte at a uniformly chosen
// position bumped by one (mod 256) with the configured probability,
// plus whether corruption happened. The input slice is never modified;
// a corrupted result is always a fresh copy, so the caller's original
// stays available for checksum computation.
func (in *Injector) MaybeCorrupt(data []byte) ([]byte, bool) {
	if len(data) == 0 || in.rng.Float64() >= in.probability {
		return data, false
	}

	pos := in.rng.Intn(len(data))
	corrupted := make([]byte, len(data))
	copy(corrupted, data)
	corrupted[pos] = corrupted[pos] + 1 // wraps at 256
	return corrupted, true
}
