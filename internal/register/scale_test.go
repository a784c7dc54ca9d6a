package register

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPower10RoundTrip(t *testing.T) {
	for _, mw := range []float64{0, 1.5, -42.3, 300, -300} {
		raw := EncodePower10(mw)
		got := DecodePower10(raw)
		assert.InDelta(t, mw, got, 0.05)
	}
}

func TestKV10RoundTrip(t *testing.T) {
	raw := EncodeKV10(230.4)
	assert.InDelta(t, 230.4, DecodeKV10(raw), 0.05)
}

func TestFrequency1000RoundTrip(t *testing.T) {
	raw := EncodeFrequency1000(49.987)
	assert.InDelta(t, 49.987, DecodeFrequency1000(raw), 0.001)
}

func TestEncodeTapOffset(t *testing.T) {
	assert.Equal(t, uint16(100), EncodeTap(0))
	assert.Equal(t, uint16(108), EncodeTap(8))
	assert.Equal(t, uint16(92), EncodeTap(-8))
	assert.Equal(t, 8, DecodeTap(EncodeTap(8)))
	assert.Equal(t, -8, DecodeTap(EncodeTap(-8)))
}

func TestEncodeRoundClampsSingularities(t *testing.T) {
	assert.Equal(t, uint16(0), EncodePower10(math.NaN()))
	assert.Equal(t, uint16(0), EncodePower10(math.Inf(1)))
}

func TestEncodeRoundClampsRange(t *testing.T) {
	// A value whose *10 scaling would overflow int16 must clamp, not wrap.
	huge := EncodePower10(100000)
	assert.Equal(t, int16(math.MaxInt16), int16(huge))
}
