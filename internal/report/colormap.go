// Taxiflow - Partitioned Taxi Trip Ingestion and Materialization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/taxiflow

package report

import (
	"image/color"
	"math"
)

// Colormap maps [0,1] onto evenly spaced color anchors.
type Colormap []color.RGBA

func hex(v uint32) color.RGBA {
	return color.RGBA{R: uint8(v >> 16), G: uint8(v >> 8), B: uint8(v), A: 0xff}
}

// Plasma approximates matplotlib's plasma ramp.
var Plasma = Colormap{
	hex(0x0d0887), hex(0x46039f), hex(0x7201a8), hex(0x9c179e), hex(0xbd3786),
	hex(0xd8576b), hex(0xed7953), hex(0xfb9f3a), hex(0xfdca26), hex(0xf0f921),
}

// Viridis approximates matplotlib's viridis ramp.
var Viridis = Colormap{
	hex(0x440154), hex(0x482878), hex(0x3e4989), hex(0x31688e), hex(0x26828e),
	hex(0x1f9e89), hex(0x35b779), hex(0x6ece58), hex(0xb5de2b), hex(0xfde725),
}

// At returns the color at t, clamped to [0,1].
func (c Colormap) At(t float64) color.RGBA {
	if len(c) == 0 {
		return color.RGBA{A: 0xff}
	}
	if math.IsNaN(t) || t <= 0 {
		return c[0]
	}
	if t >= 1 {
		return c[len(c)-1]
	}
	pos := t * float64(len(c)-1)
	i := int(pos)
	frac := pos - float64(i)
	a, b := c[i], c[i+1]
	return color.RGBA{
		R: lerp(a.R, b.R, frac),
		G: lerp(a.G, b.G, frac),
		B: lerp(a.B, b.B, frac),
		A: 0xff,
	}
}

// Sample returns n evenly spaced colors, end points included.
func (c Colormap) Sample(n int) []color.RGBA {
	out := make([]color.RGBA, n)
	for i := range out {
		if n == 1 {
			out[i] = c.At(0)
			continue
		}
		out[i] = c.At(float64(i) / float64(n-1))
	}
	return out
}

func lerp(a, b uint8, t float64) uint8 {
	return uint8(math.Round(float64(a) + (float64(b)-float64(a))*t))
}
