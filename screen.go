package termsnap

import (
	"strings"

	"github.com/mattn/go-runewidth"

	"github.com/cboone/termsnap/internal/vt"
)

// A Screen is one capture of the terminal. It does not change after the
// capture, whatever the program draws next.
type Screen struct {
	lines     []string
	raw       string
	width     int
	height    int
	cursorRow int
	cursorCol int

	// snap is set for captures of the visible screen. Scrollback captures
	// carry text only.
	snap  vt.Snapshot
	cells bool
}

// newScreen creates a Screen from an emulator snapshot.
func newScreen(snap vt.Snapshot) *Screen {
	lines := snap.Lines()
	cur := snap.Cursor()
	return &Screen{
		lines:     lines,
		raw:       strings.Join(lines, "\n"),
		width:     snap.Cols(),
		height:    snap.Rows(),
		cursorRow: cur.Row,
		cursorCol: cur.Col,
		snap:      snap,
		cells:     true,
	}
}

// newTextScreen creates a text-only Screen, one row per line.
func newTextScreen(lines []string) *Screen {
	width := 0
	for _, l := range lines {
		width = max(width, runewidth.StringWidth(l))
	}
	return &Screen{
		lines:     lines,
		raw:       strings.Join(lines, "\n"),
		width:     width,
		height:    len(lines),
		cursorRow: -1,
		cursorCol: -1,
	}
}

// String returns the rows joined by newlines.
func (s *Screen) String() string {
	return s.raw
}

// Lines returns the rows. The slice is the caller's to modify.
func (s *Screen) Lines() []string {
	cp := make([]string, len(s.lines))
	copy(cp, s.lines)
	return cp
}

// Line returns row n, counting from 0. It panics when n is out of range.
func (s *Screen) Line(n int) string {
	return s.lines[n]
}

// Contains reports whether substr appears on the screen. Matches may span
// rows only through the newline separating them.
func (s *Screen) Contains(substr string) bool {
	return strings.Contains(s.raw, substr)
}

// Size returns the capture's columns and rows.
func (s *Screen) Size() (width, height int) {
	return s.width, s.height
}

// Cursor returns the 0-indexed cursor position, or -1, -1 for a scrollback
// capture.
func (s *Screen) Cursor() (row, col int) {
	return s.cursorRow, s.cursorCol
}

// AltScreen reports whether the program was drawing on the alternate screen.
func (s *Screen) AltScreen() bool {
	return s.cells && s.snap.AltScreen()
}

// Title returns the window title last set by the program.
func (s *Screen) Title() string {
	return s.snap.Title()
}

// Foreground returns the foreground color of a cell. Cells outside the
// screen, and every cell of a scrollback capture, report DefaultColor.
func (s *Screen) Foreground(row, col int) Color {
	if !s.inBounds(row, col) {
		return DefaultColor
	}
	return s.snap.Cell(row, col).FG
}

// Background returns the background color of a cell.
func (s *Screen) Background(row, col int) Color {
	if !s.inBounds(row, col) {
		return DefaultColor
	}
	return s.snap.Cell(row, col).BG
}

func (s *Screen) inBounds(row, col int) bool {
	return s.cells && row >= 0 && row < s.height && col >= 0 && col < s.width
}
