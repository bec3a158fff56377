package action

import (
	colorful "github.com/lucasb-eyer/go-colorful"
)

// XY is a CIE 1931 chromaticity coordinate, the colour space Hue bridges take.
type XY struct {
	X float64
	Y float64
}

type rgb struct{ r, g, b uint8 }

var colors = map[string]rgb{
	"red":        {255, 0, 0},
	"green":      {0, 255, 0},
	"blue":       {0, 0, 255},
	"light blue": {173, 216, 230},
	"cyan":       {0, 255, 255},
	"purple":     {128, 0, 128},
	"white":      {255, 255, 255},
	"warm white": {255, 175, 100},
	"orange":     {255, 165, 0},
	"yellow":     {255, 255, 0},
	"pink":       {255, 20, 147},
}

// ColorXY resolves a colour name to chromaticity. sRGB is linearised before the
// XYZ projection, so white lands on the D65 white point.
func ColorXY(name string) (XY, bool) {
	c, ok := colors[name]
	if !ok {
		return XY{}, false
	}
	return RGBToXY(c.r, c.g, c.b), true
}

func RGBToXY(r, g, b uint8) XY {
	c := colorful.Color{
		R: float64(r) / 255,
		G: float64(g) / 255,
		B: float64(b) / 255,
	}
	x, y, _ := c.Xyy()
	return XY{X: x, Y: y}
}
