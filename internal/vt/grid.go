package vt

// Attr is a set of text attributes.
type Attr uint8

const (
	AttrBold Attr = 1 << iota
	AttrItalic
	AttrUnderline
	AttrBlink
	AttrInverse
	AttrStrike
)

// Has reports whether all bits of f are set.
func (a Attr) Has(f Attr) bool {
	return a&f == f
}

// Cell is one grid position. A wide glyph occupies its own cell plus the
// following one, which is marked Cont and holds no rune.
type Cell struct {
	Rune rune
	Cont bool
	FG   Color
	BG   Color
	Attr Attr
}

// Blank is the content of a freshly created cell.
var Blank = Cell{Rune: ' '}

// IsBlank reports whether c is a space with default colors and no
// attributes.
func (c Cell) IsBlank() bool {
	return c == Blank
}

// CursorShape selects how the renderer draws the cursor.
type CursorShape uint8

const (
	ShapeBlock CursorShape = iota
	ShapeUnderline
	ShapeBar
)

// Cursor is the cursor position and appearance. Row and Col are always in
// bounds of the grid they belong to.
type Cursor struct {
	Row     int
	Col     int
	Visible bool
	Shape   CursorShape
}

// ScrollRegion bounds line feeds and scrolling. Top and Bottom are
// inclusive row indexes.
type ScrollRegion struct {
	Top    int
	Bottom int
}

// Grid is a rows x cols matrix of cells.
type Grid struct {
	rows  int
	cols  int
	cells [][]Cell
}

// NewGrid returns a blank grid. Dimensions below 1 are raised to 1.
func NewGrid(rows, cols int) *Grid {
	rows = max(rows, 1)
	cols = max(cols, 1)
	g := &Grid{rows: rows, cols: cols, cells: make([][]Cell, rows)}
	for r := range g.cells {
		g.cells[r] = blankRow(cols, Blank)
	}
	return g
}

func blankRow(cols int, fill Cell) []Cell {
	row := make([]Cell, cols)
	for i := range row {
		row[i] = fill
	}
	return row
}

// Rows returns the number of rows.
func (g *Grid) Rows() int { return g.rows }

// Cols returns the number of columns.
func (g *Grid) Cols() int { return g.cols }

// Cell returns the cell at row, col. Out-of-range positions return Blank.
func (g *Grid) Cell(row, col int) Cell {
	if row < 0 || row >= g.rows || col < 0 || col >= g.cols {
		return Blank
	}
	return g.cells[row][col]
}

// Clone returns a deep copy.
func (g *Grid) Clone() *Grid {
	cp := &Grid{rows: g.rows, cols: g.cols, cells: make([][]Cell, g.rows)}
	for r, row := range g.cells {
		cp.cells[r] = append([]Cell(nil), row...)
	}
	return cp
}

// Equal reports whether g and o have the same size and identical cells.
func (g *Grid) Equal(o *Grid) bool {
	if g.rows != o.rows || g.cols != o.cols {
		return false
	}
	for r := range g.cells {
		for c := range g.cells[r] {
			if g.cells[r][c] != o.cells[r][c] {
				return false
			}
		}
	}
	return true
}

// Line returns the text of one row with trailing spaces kept, so every line
// is exactly Cols runes wide apart from wide glyphs.
func (g *Grid) Line(row int) string {
	if row < 0 || row >= g.rows {
		return ""
	}
	return rowText(g.cells[row])
}

func (g *Grid) clear(fill Cell) {
	for r := range g.cells {
		for c := range g.cells[r] {
			g.cells[r][c] = fill
		}
	}
}

// resized returns a copy of g with the new dimensions, content kept
// top-left aligned.
func (g *Grid) resized(rows, cols int) *Grid {
	ng := NewGrid(rows, cols)
	for r := 0; r < min(g.rows, ng.rows); r++ {
		copy(ng.cells[r], g.cells[r][:min(g.cols, ng.cols)])
		// A wide glyph cut in half at the new right edge becomes blank.
		last := ng.cols - 1
		if ng.cols < g.cols && last+1 < g.cols && g.cells[r][last+1].Cont {
			ng.cells[r][last] = Blank
		}
	}
	return ng
}
