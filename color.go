package termsnap

import "github.com/cboone/termsnap/internal/vt"

// Color is a cell color as the program wrote it: the default color, a
// palette index or a 24-bit value. Compare with ==.
type Color = vt.Color

// DefaultColor is the terminal's default foreground or background. Cells
// that were never colored, or were reset with SGR 0, report it.
var DefaultColor = vt.DefaultColor

// Indexed returns palette color n. Indexes 0 to 15 are the ANSI colors set
// by SGR 30-37, 90-97 and their background forms; the rest come from
// 38;5;n and 48;5;n.
func Indexed(n uint8) Color {
	return vt.Indexed(n)
}

// RGB returns the true color set by 38;2;r;g;b or 48;2;r;g;b.
func RGB(r, g, b uint8) Color {
	return vt.RGB(r, g, b)
}
