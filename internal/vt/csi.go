package vt

import "fmt"

func (e *Emulator) csiDispatch(final byte) {
	if len(e.inter) > 0 {
		if e.inter[0] == ' ' && final == 'q' {
			e.setCursorStyle(e.arg(0, 0))
		}
		return
	}

	if e.private != 0 {
		switch final {
		case 'h':
			e.setPrivateModes(true)
		case 'l':
			e.setPrivateModes(false)
		case 'n':
			if e.private == '?' && e.arg(0, 0) == 6 {
				row, col := e.reportPosition()
				e.reply(fmt.Sprintf("\x1b[?%d;%dR", row, col))
			}
		case 'c':
			if e.private == '>' {
				e.reply("\x1b[>0;10;1c")
			}
		}
		return
	}

	switch final {
	case '@':
		e.insertCells(e.arg(0, 1))
	case 'A':
		e.cursorUp(e.arg(0, 1))
	case 'B', 'e':
		e.cursorDown(e.arg(0, 1))
	case 'C', 'a':
		e.moveTo(e.cur.Row, e.cur.Col+e.arg(0, 1))
	case 'D':
		e.moveTo(e.cur.Row, e.cur.Col-e.arg(0, 1))
	case 'E':
		e.cursorDown(e.arg(0, 1))
		e.cur.Col = 0
	case 'F':
		e.cursorUp(e.arg(0, 1))
		e.cur.Col = 0
	case 'G', '`':
		e.moveTo(e.cur.Row, e.arg(0, 1)-1)
	case 'H', 'f':
		e.cursorPosition(e.arg(0, 1)-1, e.arg(1, 1)-1)
	case 'I':
		e.tabForward(e.arg(0, 1))
	case 'J':
		e.eraseDisplay(e.arg(0, 0))
	case 'K':
		e.eraseLine(e.arg(0, 0))
	case 'L':
		if e.inRegion() {
			e.scrollDown(e.cur.Row, e.region.Bottom, e.arg(0, 1))
			e.cur.Col = 0
		}
	case 'M':
		if e.inRegion() {
			e.scrollUpNoHistory(e.cur.Row, e.region.Bottom, e.arg(0, 1))
			e.cur.Col = 0
		}
	case 'P':
		e.deleteCells(e.arg(0, 1))
	case 'S':
		e.scrollUp(e.region.Top, e.region.Bottom, e.arg(0, 1))
	case 'T':
		e.scrollDown(e.region.Top, e.region.Bottom, e.arg(0, 1))
	case 'X':
		e.eraseCells(e.cur.Col, e.cur.Col+e.arg(0, 1))
	case 'Z':
		e.tabBackward(e.arg(0, 1))
	case 'b':
		if e.lastRune != 0 {
			for n := min(e.arg(0, 1), e.rows*e.cols); n > 0; n-- {
				e.put(e.lastRune)
			}
		}
	case 'c':
		if e.arg(0, 0) == 0 {
			e.reply("\x1b[?1;2c")
		}
	case 'd':
		e.cursorPosition(e.arg(0, 1)-1, e.cur.Col)
	case 'g':
		switch e.arg(0, 0) {
		case 0:
			e.tabs[e.cur.Col] = false
		case 3:
			for i := range e.tabs {
				e.tabs[i] = false
			}
		}
	case 'h':
		e.setModes(true)
	case 'l':
		e.setModes(false)
	case 'm':
		e.selectGraphicRendition()
	case 'n':
		switch e.arg(0, 0) {
		case 5:
			e.reply("\x1b[0n")
		case 6:
			row, col := e.reportPosition()
			e.reply(fmt.Sprintf("\x1b[%d;%dR", row, col))
		}
	case 'r':
		e.setScrollRegion(e.arg(0, 1)-1, e.arg(1, e.rows)-1)
	case 's':
		e.saveCursor(&e.saved)
	case 'u':
		e.restoreCursor(&e.saved)
	}
}

// reportPosition returns the 1-based cursor position, relative to the
// scroll region in origin mode.
func (e *Emulator) reportPosition() (row, col int) {
	row = e.cur.Row + 1
	if e.modes.origin {
		row -= e.region.Top
	}
	return row, e.cur.Col + 1
}

func (e *Emulator) inRegion() bool {
	return e.cur.Row >= e.region.Top && e.cur.Row <= e.region.Bottom
}

func (e *Emulator) moveTo(row, col int) {
	e.wrapPending = false
	e.cur.Row = clamp(row, 0, e.rows-1)
	e.cur.Col = clamp(col, 0, e.cols-1)
}

// cursorPosition handles absolute row addressing, which is relative to the
// scroll region and confined to it in origin mode.
func (e *Emulator) cursorPosition(row, col int) {
	if e.modes.origin {
		row = clamp(row+e.region.Top, e.region.Top, e.region.Bottom)
	}
	e.moveTo(row, col)
}

func (e *Emulator) cursorUp(n int) {
	top := 0
	if e.cur.Row >= e.region.Top {
		top = e.region.Top
	}
	e.moveTo(max(e.cur.Row-n, top), e.cur.Col)
}

func (e *Emulator) cursorDown(n int) {
	bottom := e.rows - 1
	if e.cur.Row <= e.region.Bottom {
		bottom = e.region.Bottom
	}
	e.moveTo(min(e.cur.Row+n, bottom), e.cur.Col)
}

func (e *Emulator) setScrollRegion(top, bottom int) {
	top = clamp(top, 0, e.rows-1)
	bottom = clamp(bottom, 0, e.rows-1)
	if top >= bottom {
		return
	}
	e.region = ScrollRegion{Top: top, Bottom: bottom}
	e.cursorPosition(0, 0)
}

func (e *Emulator) scrollUpNoHistory(top, bottom, n int) {
	limit := e.historyLimit
	e.historyLimit = 0
	e.scrollUp(top, bottom, n)
	e.historyLimit = limit
}

func (e *Emulator) eraseCells(from, to int) {
	row := e.grid.cells[e.cur.Row]
	from = clamp(from, 0, e.cols)
	to = clamp(to, 0, e.cols)
	if from < to {
		e.splitWide(row, from)
		e.splitWide(row, to-1)
	}
	fill := e.blankCell()
	for c := from; c < to; c++ {
		row[c] = fill
	}
	e.wrapPending = false
}

func (e *Emulator) eraseRows(from, to int) {
	fill := e.blankCell()
	for r := max(from, 0); r < min(to, e.rows); r++ {
		for c := range e.grid.cells[r] {
			e.grid.cells[r][c] = fill
		}
	}
}

func (e *Emulator) eraseLine(mode int) {
	switch mode {
	case 0:
		e.eraseCells(e.cur.Col, e.cols)
	case 1:
		e.eraseCells(0, e.cur.Col+1)
	case 2:
		e.eraseCells(0, e.cols)
	}
}

func (e *Emulator) eraseDisplay(mode int) {
	switch mode {
	case 0:
		e.eraseCells(e.cur.Col, e.cols)
		e.eraseRows(e.cur.Row+1, e.rows)
	case 1:
		e.eraseRows(0, e.cur.Row)
		e.eraseCells(0, e.cur.Col+1)
	case 2:
		e.eraseRows(0, e.rows)
		e.wrapPending = false
	case 3:
		e.history = nil
	}
}

func (e *Emulator) insertCells(n int) {
	row := e.grid.cells[e.cur.Row]
	col := e.cur.Col
	n = min(n, e.cols-col)
	if n <= 0 {
		return
	}
	e.splitWide(row, col)
	copy(row[col+n:], row[col:e.cols-n])
	fill := e.blankCell()
	for c := col; c < col+n; c++ {
		row[c] = fill
	}
	// A wide glyph pushed past the right edge loses its second half.
	if last := row[e.cols-1]; !last.Cont && e.cols >= 2 && widths.RuneWidth(last.Rune) == 2 {
		row[e.cols-1] = fill
	}
	e.wrapPending = false
}

func (e *Emulator) deleteCells(n int) {
	row := e.grid.cells[e.cur.Row]
	col := e.cur.Col
	n = min(n, e.cols-col)
	if n <= 0 {
		return
	}
	e.splitWide(row, col)
	e.splitWide(row, col+n-1)
	copy(row[col:], row[col+n:])
	fill := e.blankCell()
	for c := e.cols - n; c < e.cols; c++ {
		row[c] = fill
	}
	e.wrapPending = false
}

func (e *Emulator) setCursorStyle(ps int) {
	switch ps {
	case 0, 1, 2:
		e.cur.Shape = ShapeBlock
	case 3, 4:
		e.cur.Shape = ShapeUnderline
	case 5, 6:
		e.cur.Shape = ShapeBar
	}
}

func (e *Emulator) setModes(on bool) {
	for _, p := range e.params {
		switch p {
		case 4:
			e.modes.insert = on
		case 20:
			e.modes.newline = on
		}
	}
}

func (e *Emulator) setPrivateModes(on bool) {
	if e.private != '?' {
		return
	}
	for _, p := range e.params {
		switch p {
		case 1:
			e.modes.appCursor = on
		case 6:
			e.modes.origin = on
			e.cursorPosition(0, 0)
		case 7:
			e.modes.autowrap = on
			if !on {
				e.wrapPending = false
			}
		case 25:
			e.cur.Visible = on
		case 47, 1047:
			e.switchScreen(on)
		case 1048:
			if on {
				e.saveCursor(&e.saved)
			} else {
				e.restoreCursor(&e.saved)
			}
		case 1049:
			if on {
				e.saveCursor(&e.altSaved)
				e.switchScreen(true)
			} else {
				e.switchScreen(false)
				e.restoreCursor(&e.altSaved)
			}
		case 2004:
			e.modes.bracketedPaste = on
		}
	}
}

// switchScreen enters or leaves the alternate screen. Entering always
// starts from a cleared alternate grid; the primary grid is not touched
// while the alternate one is active.
func (e *Emulator) switchScreen(alt bool) {
	if alt == e.altActive {
		return
	}
	if alt {
		e.alt = NewGrid(e.rows, e.cols)
		e.grid = e.alt
	} else {
		e.grid = e.primary
	}
	e.altActive = alt
	e.wrapPending = false
}
