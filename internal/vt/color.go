package vt

import "fmt"

// ColorKind tags the variant held by a Color.
type ColorKind uint8

const (
	ColorDefault ColorKind = iota
	ColorIndexed
	ColorRGB
)

// Color is a cell color as written by the application. It is resolved to
// pixels only by the renderer, so stored cells never depend on a palette.
type Color struct {
	Kind  ColorKind
	Index uint8
	R     uint8
	G     uint8
	B     uint8
}

// DefaultColor is the terminal's default foreground or background.
var DefaultColor = Color{}

// Indexed returns a palette color.
func Indexed(n uint8) Color {
	return Color{Kind: ColorIndexed, Index: n}
}

// RGB returns a true-color value.
func RGB(r, g, b uint8) Color {
	return Color{Kind: ColorRGB, R: r, G: g, B: b}
}

// IsDefault reports whether c is the default color.
func (c Color) IsDefault() bool {
	return c.Kind == ColorDefault
}

func (c Color) String() string {
	switch c.Kind {
	case ColorIndexed:
		return fmt.Sprintf("indexed(%d)", c.Index)
	case ColorRGB:
		return fmt.Sprintf("rgb(%d,%d,%d)", c.R, c.G, c.B)
	default:
		return "default"
	}
}
