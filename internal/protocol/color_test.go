package protocol

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHsIntsRoundTrip(t *testing.T) {
	t.Parallel()

	for h := 0; h < 256; h += 17 {
		for s := 0; s < 256; s += 51 {
			gotH, gotS := HsFromInts(uint8(h), uint8(s)).Ints()
			if h == 255 {
				// a full turn wraps back to zero
				assert.Equal(t, uint8(0), gotH)
			} else {
				assert.Equal(t, uint8(h), gotH)
			}
			assert.Equal(t, uint8(s), gotS)
		}
	}
}

func TestHsRgbHs(t *testing.T) {
	t.Parallel()

	hs1 := Hs{H: 0.3, S: 0.4}
	hs2 := hs1.Rgb().Hs()
	hs3 := hs2.Rgb().Hs()

	assert.InDelta(t, hs1.H, hs2.H, 0.05)
	assert.InDelta(t, hs1.S, hs2.S, 0.05)
	assert.InDelta(t, hs2.H, hs3.H, 0.01)
	assert.InDelta(t, hs2.S, hs3.S, 0.01)
}

func TestPrimaryColors(t *testing.T) {
	t.Parallel()

	assert.Equal(t, Rgb{R: 255}, Hs{H: 0, S: 1}.Rgb())
	assert.Equal(t, Rgb{G: 255}, Hs{H: 2 * math.Pi / 3, S: 1}.Rgb())
	assert.Equal(t, Rgb{R: 255, G: 255, B: 255}, Hs{H: 1, S: 0}.Rgb())
}

func TestRgbHex(t *testing.T) {
	t.Parallel()

	c, err := ParseRgb("ff8000")
	require.NoError(t, err)
	assert.Equal(t, Rgb{R: 0xff, G: 0x80}, c)
	assert.Equal(t, "ff8000", c.Hex())

	_, err = ParseRgb("nope")
	assert.Error(t, err)
}
