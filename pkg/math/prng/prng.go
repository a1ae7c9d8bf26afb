// Package prng provides a small deterministic pseudo-random source.
//
// The generator is mulberry32: a 32-bit wrapping state advanced by a fixed
// odd increment, then mixed with xorshift / multiply / xorshift to produce a
// float in [0, 1). It is reproduced bit-exactly so that clustering runs with
// the same seed yield identical labels across implementations and releases.
//
// There is no package-level state. Every caller owns its Source:
//
//	rng := prng.New(42)
//	x := rng.Float64() // 0.6011037519201636
//
// A Source is not safe for concurrent use; create one per goroutine.
package prng

const (
	increment = 0x6D2B79F5
	twoTo32   = 4294967296.0
)

// Source is a mulberry32 generator.
type Source struct {
	state uint32
}

// New creates a Source seeded with the low 32 bits of seed.
func New(seed int64) *Source {
	return &Source{state: uint32(seed)}
}

// Uint32 advances the generator and returns the next raw 32-bit output.
func (s *Source) Uint32() uint32 {
	s.state += increment
	t := s.state
	t = (t ^ (t >> 15)) * (t | 1)
	t ^= t + (t^(t>>7))*(t|61)
	return t ^ (t >> 14)
}

// Float64 returns the next value in [0, 1).
func (s *Source) Float64() float64 {
	return float64(s.Uint32()) / twoTo32
}

// Intn returns a value in [0, n) as floor(Float64() * n).
// It panics if n <= 0, like math/rand.
func (s *Source) Intn(n int) int {
	if n <= 0 {
		panic("prng: invalid argument to Intn")
	}
	return int(s.Float64() * float64(n))
}
