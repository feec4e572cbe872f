package vt

import "strings"

// Snapshot is an immutable copy of the visible screen taken by
// Emulator.Snapshot.
type Snapshot struct {
	grid      *Grid
	cursor    Cursor
	altScreen bool
	title     string
}

// Rows returns the number of rows.
func (s Snapshot) Rows() int {
	if s.grid == nil {
		return 0
	}
	return s.grid.rows
}

// Cols returns the number of columns.
func (s Snapshot) Cols() int {
	if s.grid == nil {
		return 0
	}
	return s.grid.cols
}

// Cell returns the cell at row, col.
func (s Snapshot) Cell(row, col int) Cell {
	if s.grid == nil {
		return Blank
	}
	return s.grid.Cell(row, col)
}

// Cursor returns the cursor at the time of the snapshot.
func (s Snapshot) Cursor() Cursor { return s.cursor }

// AltScreen reports whether the alternate screen was active.
func (s Snapshot) AltScreen() bool { return s.altScreen }

// Title returns the window title.
func (s Snapshot) Title() string { return s.title }

// Grid returns a copy of the screen grid.
func (s Snapshot) Grid() *Grid {
	if s.grid == nil {
		return NewGrid(1, 1)
	}
	return s.grid.Clone()
}

// Equal reports whether two snapshots hold identical cells and cursors.
func (s Snapshot) Equal(o Snapshot) bool {
	if s.grid == nil || o.grid == nil {
		return s.grid == o.grid && s.cursor == o.cursor
	}
	return s.cursor == o.cursor && s.altScreen == o.altScreen && s.grid.Equal(o.grid)
}

// Lines returns the text of each row with trailing spaces trimmed.
func (s Snapshot) Lines() []string {
	lines := make([]string, s.Rows())
	for r := range lines {
		lines[r] = trimRight(s.grid.Line(r))
	}
	return lines
}

// Text returns the screen text, one line per row joined by newlines.
func (s Snapshot) Text() string {
	return strings.Join(s.Lines(), "\n")
}

// Contains reports whether substr appears on a single line of the screen.
func (s Snapshot) Contains(substr string) bool {
	for _, l := range s.Lines() {
		if strings.Contains(l, substr) {
			return true
		}
	}
	return false
}

func rowText(row []Cell) string {
	var b strings.Builder
	for _, c := range row {
		switch {
		case c.Cont:
		case c.Rune == 0:
			b.WriteByte(' ')
		default:
			b.WriteRune(c.Rune)
		}
	}
	return b.String()
}

func trimRight(s string) string {
	return strings.TrimRight(s, " ")
}
