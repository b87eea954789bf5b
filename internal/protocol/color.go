package protocol

import (
	"fmt"
	"math"
	"strings"

	colorful "github.com/lucasb-eyer/go-colorful"
)

// Hs is a hue/saturation color. H is in radians, S in [0, 1].
type Hs struct {
	H float64 `json:"h"`
	S float64 `json:"s"`
}

// Rgb is an 8-bit per channel color.
type Rgb struct {
	R uint8 `json:"r"`
	G uint8 `json:"g"`
	B uint8 `json:"b"`
}

func unitToByte(f float64) uint8 {
	return uint8(math.Round(math.Max(0, math.Min(1, f)) * 255))
}

// HsFromInts decodes the firmware's native 8-bit hue and saturation.
func HsFromInts(h, s uint8) Hs {
	return Hs{
		H: float64(h) / 255 * 2 * math.Pi,
		S: float64(s) / 255,
	}
}

// Ints encodes to the firmware's native 8-bit hue and saturation.
func (c Hs) Ints() (h, s uint8) {
	turn := math.Mod(c.H/(2*math.Pi), 1)
	if turn < 0 {
		turn++
	}
	return unitToByte(turn), unitToByte(c.S)
}

// Rgb converts at full value. Channels are linear, as the LEDs are driven.
func (c Hs) Rgb() Rgb {
	deg := c.H * 180 / math.Pi
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	r, g, b := colorful.Hsv(deg, c.S, 1).LinearRgb()
	return Rgb{R: unitToByte(r), G: unitToByte(g), B: unitToByte(b)}
}

// Hs drops the value component.
func (c Rgb) Hs() Hs {
	h, s, _ := colorful.LinearRgb(
		float64(c.R)/255,
		float64(c.G)/255,
		float64(c.B)/255,
	).Hsv()
	return Hs{H: h * math.Pi / 180, S: s}
}

// Hex formats as "rrggbb", the form system76-power uses.
func (c Rgb) Hex() string {
	return fmt.Sprintf("%02x%02x%02x", c.R, c.G, c.B)
}

// ParseRgb parses "rrggbb" with an optional leading '#'.
func ParseRgb(s string) (Rgb, error) {
	s = strings.TrimPrefix(strings.TrimSpace(s), "#")
	if len(s) != 6 {
		return Rgb{}, fmt.Errorf("invalid color %q", s)
	}
	c, err := colorful.Hex("#" + s)
	if err != nil {
		return Rgb{}, fmt.Errorf("invalid color %q: %w", s, err)
	}
	r, g, b := c.RGB255()
	return Rgb{R: r, G: g, B: b}, nil
}
