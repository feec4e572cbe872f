package render

import "image/color"

// Palette maps the 256 indexed colors to pixels.
type Palette [256]color.RGBA

var ansi16 = [16][3]uint8{
	{0, 0, 0}, {205, 49, 49}, {13, 188, 121}, {229, 229, 16},
	{36, 114, 200}, {188, 63, 188}, {17, 168, 205}, {229, 229, 229},
	{102, 102, 102}, {241, 76, 76}, {35, 209, 139}, {245, 245, 67},
	{59, 142, 234}, {214, 112, 214}, {41, 184, 219}, {255, 255, 255},
}

var cubeLevels = [6]uint8{0, 95, 135, 175, 215, 255}

// DefaultPalette returns the xterm-style palette: 16 ANSI colors, the
// 6x6x6 color cube and the 24-step grayscale ramp.
func DefaultPalette() Palette {
	var p Palette
	for i, c := range ansi16 {
		p[i] = color.RGBA{c[0], c[1], c[2], 0xff}
	}
	for i := 16; i < 232; i++ {
		n := i - 16
		p[i] = color.RGBA{cubeLevels[n/36], cubeLevels[(n/6)%6], cubeLevels[n%6], 0xff}
	}
	for i := 232; i < 256; i++ {
		v := uint8(8 + 10*(i-232))
		p[i] = color.RGBA{v, v, v, 0xff}
	}
	return p
}
