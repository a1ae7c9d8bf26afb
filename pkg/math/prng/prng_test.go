package prng

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSource_ReferenceVectors(t *testing.T) {
	tests := []struct {
		seed int64
		want []float64
	}{
		{42, []float64{0.6011037519201636, 0.44829055899754167, 0.8524657934904099, 0.6697340414393693, 0.17481389874592423}},
		{0, []float64{0.26642920868471265, 0.0003297457005828619, 0.2232720274478197}},
		{-1, []float64{0.8964226141106337, 0.189478256739676, 0.7156526781618595}},
	}

	for _, tt := range tests {
		rng := New(tt.seed)
		for i, want := range tt.want {
			assert.Equal(t, want, rng.Float64(), "seed %d draw %d", tt.seed, i)
		}
	}
}

func TestSource_Deterministic(t *testing.T) {
	a := New(7)
	b := New(7)
	for i := 0; i < 1000; i++ {
		assert.Equal(t, a.Uint32(), b.Uint32())
	}
}

func TestSource_Range(t *testing.T) {
	rng := New(123)
	for i := 0; i < 10000; i++ {
		x := rng.Float64()
		assert.GreaterOrEqual(t, x, 0.0)
		assert.Less(t, x, 1.0)
	}
}

func TestSource_SeedTruncatedTo32Bits(t *testing.T) {
	a := New(1 << 32)
	b := New(0)
	assert.Equal(t, a.Float64(), b.Float64())
}

func TestSource_Intn(t *testing.T) {
	rng := New(42)
	// floor(0.6011... * 4) = 2, floor(0.4482... * 4) = 1
	assert.Equal(t, 2, rng.Intn(4))
	assert.Equal(t, 1, rng.Intn(4))

	assert.Panics(t, func() { rng.Intn(0) })
}
