// Package vt implements an in-memory VT100/xterm terminal emulator: a
// byte-at-a-time escape sequence parser driving a cell grid with a primary
// and an alternate screen. It is internal to termsnap.
//
// The emulator never fails. Malformed or unsupported sequences are dropped
// and parsing resumes in the ground state.
package vt

import (
	"io"
	"sync"
	"unicode/utf8"

	"github.com/mattn/go-runewidth"
)

const (
	maxParams     = 32
	maxParamValue = 65535
	maxOSCLen     = 4096
	tabWidth      = 8

	// DefaultHistoryLimit is the number of scrolled-off primary screen
	// lines kept when WithHistoryLimit is not given.
	DefaultHistoryLimit = 10000
)

type charset uint8

const (
	csASCII charset = iota
	csDECSpecial
)

type modes struct {
	appCursor      bool
	appKeypad      bool
	origin         bool
	autowrap       bool
	insert         bool
	newline        bool
	bracketedPaste bool
}

type savedCursor struct {
	row, col int
	pen      Cell
	origin   bool
	charsets [2]charset
	gl       int
	set      bool
}

// Emulator is a terminal emulator. It is safe for one goroutine feeding
// output while others take snapshots.
type Emulator struct {
	mu sync.Mutex

	rows, cols int
	primary    *Grid
	alt        *Grid
	grid       *Grid
	altActive  bool

	cur         Cursor
	wrapPending bool
	pen         Cell
	region      ScrollRegion
	tabs        []bool
	modes       modes
	saved       savedCursor
	altSaved    savedCursor
	charsets    [2]charset
	gl          int
	lastRune    rune
	title       string

	st      state
	params  []int
	private byte
	inter   []byte
	osc     []byte
	utf8buf [utf8.UTFMax]byte
	utf8n   int

	history      [][]Cell
	historyLimit int

	replies io.Writer
	pending []byte
}

// Option configures an Emulator created by New.
type Option func(*Emulator)

// WithReplies sets the writer that receives answers to device status and
// device attribute queries. Without it queries are ignored.
func WithReplies(w io.Writer) Option {
	return func(e *Emulator) {
		e.replies = w
	}
}

// WithHistoryLimit sets how many lines scrolled off the top of the primary
// screen are kept. Zero disables history.
func WithHistoryLimit(n int) Option {
	return func(e *Emulator) {
		e.historyLimit = max(n, 0)
	}
}

// New returns an emulator with a blank screen of the given size.
func New(rows, cols int, opts ...Option) *Emulator {
	e := &Emulator{historyLimit: DefaultHistoryLimit}
	for _, o := range opts {
		o(e)
	}
	e.rows, e.cols = max(rows, 1), max(cols, 1)
	e.reset()
	return e
}

// reset performs a full terminal reset (RIS). History is kept.
func (e *Emulator) reset() {
	e.primary = NewGrid(e.rows, e.cols)
	e.alt = NewGrid(e.rows, e.cols)
	e.grid = e.primary
	e.altActive = false
	e.cur = Cursor{Visible: true}
	e.wrapPending = false
	e.pen = Blank
	e.region = ScrollRegion{Top: 0, Bottom: e.rows - 1}
	e.tabs = defaultTabs(e.cols, nil)
	e.modes = modes{autowrap: true}
	e.saved = savedCursor{}
	e.altSaved = savedCursor{}
	e.charsets = [2]charset{}
	e.gl = 0
	e.lastRune = 0
	e.title = ""
	e.clearSeq()
	e.st = stGround
	e.utf8n = 0
}

func defaultTabs(cols int, old []bool) []bool {
	tabs := make([]bool, cols)
	for i := range tabs {
		if i < len(old) {
			tabs[i] = old[i]
		} else {
			tabs[i] = i > 0 && i%tabWidth == 0
		}
	}
	return tabs
}

// Write feeds p to the emulator. It always consumes all of p.
func (e *Emulator) Write(p []byte) (int, error) {
	e.Feed(p)
	return len(p), nil
}

// Feed advances the parser over p, updating the screen.
func (e *Emulator) Feed(p []byte) {
	e.mu.Lock()
	for _, b := range p {
		e.advance(b)
	}
	out := e.pending
	e.pending = nil
	w := e.replies
	e.mu.Unlock()

	if len(out) > 0 && w != nil {
		_, _ = w.Write(out)
	}
}

func (e *Emulator) advance(b byte) {
	tr := table[e.st][classOf[b]]

	if e.utf8n > 0 && !(tr.act == actPrint && b >= 0x80 && b < 0xc0) {
		e.flushBadUTF8()
	}

	switch tr.act {
	case actPrint:
		e.printByte(b)
	case actExecute:
		e.execute(b)
	case actClear:
		e.clearSeq()
	case actCollect:
		e.collect(b)
	case actParam:
		e.param(b)
	case actEscDispatch:
		e.escDispatch(b)
	case actCSIDispatch:
		e.csiDispatch(b)
	case actOSCStart:
		e.osc = e.osc[:0]
	case actOSCPut:
		if len(e.osc) < maxOSCLen {
			e.osc = append(e.osc, b)
		}
	case actOSCEnd:
		e.oscDispatch()
	case actHook, actPut, actUnhook, actIgnore, actNone:
		// Device control strings are consumed without effect.
	}

	if classOf[b] == clESC {
		e.clearSeq()
	}
	e.st = tr.next
}

func (e *Emulator) clearSeq() {
	e.params = e.params[:0]
	e.private = 0
	e.inter = e.inter[:0]
}

func (e *Emulator) collect(b byte) {
	if b >= 0x3c && b <= 0x3f && e.st == stCSIEntry {
		e.private = b
		return
	}
	if len(e.inter) < 2 {
		e.inter = append(e.inter, b)
	}
}

func (e *Emulator) param(b byte) {
	if len(e.params) == 0 {
		e.params = append(e.params, 0)
	}
	if b == ';' || b == ':' {
		if len(e.params) < maxParams {
			e.params = append(e.params, 0)
		}
		return
	}
	i := len(e.params) - 1
	if v := e.params[i]*10 + int(b-'0'); v <= maxParamValue {
		e.params[i] = v
	} else {
		e.params[i] = maxParamValue
	}
}

// arg returns parameter i, or def when it is missing or zero.
func (e *Emulator) arg(i, def int) int {
	if i < len(e.params) && e.params[i] != 0 {
		return e.params[i]
	}
	return def
}

func (e *Emulator) reply(s string) {
	if e.replies != nil {
		e.pending = append(e.pending, s...)
	}
}

func (e *Emulator) flushBadUTF8() {
	e.utf8n = 0
	e.put(utf8.RuneError)
}

func (e *Emulator) printByte(b byte) {
	if b < 0x80 {
		e.put(e.translate(rune(b)))
		return
	}
	if b >= 0xc0 {
		if b < 0xc2 || b > 0xf4 {
			e.put(utf8.RuneError)
			return
		}
		e.utf8buf[0] = b
		e.utf8n = 1
		return
	}
	if e.utf8n == 0 {
		// Stray continuation byte.
		e.put(utf8.RuneError)
		return
	}
	e.utf8buf[e.utf8n] = b
	e.utf8n++
	if !utf8.FullRune(e.utf8buf[:e.utf8n]) {
		if e.utf8n == utf8.UTFMax {
			e.flushBadUTF8()
		}
		return
	}
	r, _ := utf8.DecodeRune(e.utf8buf[:e.utf8n])
	e.utf8n = 0
	e.put(r)
}

var decSpecial = map[rune]rune{
	'`': '◆', 'a': '▒', 'b': '␉', 'c': '␌', 'd': '␍', 'e': '␊', 'f': '°',
	'g': '±', 'h': '␤', 'i': '␋', 'j': '┘', 'k': '┐', 'l': '┌', 'm': '└',
	'n': '┼', 'o': '⎺', 'p': '⎻', 'q': '─', 'r': '⎼', 's': '⎽', 't': '├',
	'u': '┤', 'v': '┴', 'w': '┬', 'x': '│', 'y': '≤', 'z': '≥', '{': 'π',
	'|': '≠', '}': '£', '~': '·',
}

func (e *Emulator) translate(r rune) rune {
	if e.charsets[e.gl] == csDECSpecial {
		if m, ok := decSpecial[r]; ok {
			return m
		}
	}
	return r
}

// widths is fixed rather than taken from the locale so that captures do not
// depend on the environment they run in.
var widths = &runewidth.Condition{EastAsianWidth: false, StrictEmojiNeutral: true}

func (e *Emulator) put(r rune) {
	w := widths.RuneWidth(r)
	if w == 0 {
		return
	}

	if e.wrapPending {
		if e.modes.autowrap {
			e.cur.Col = 0
			e.index()
		}
		e.wrapPending = false
	}

	if w == 2 && e.cur.Col == e.cols-1 {
		if !e.modes.autowrap || e.cols < 2 {
			return
		}
		e.grid.cells[e.cur.Row][e.cur.Col] = e.blankCell()
		e.cur.Col = 0
		e.index()
	}

	if e.modes.insert {
		e.insertCells(w)
	}

	row := e.grid.cells[e.cur.Row]
	col := e.cur.Col
	e.splitWide(row, col)
	if w == 2 {
		e.splitWide(row, col+1)
	}

	row[col] = Cell{Rune: r, FG: e.pen.FG, BG: e.pen.BG, Attr: e.pen.Attr}
	if w == 2 {
		row[col+1] = Cell{Cont: true, FG: e.pen.FG, BG: e.pen.BG, Attr: e.pen.Attr}
	}
	e.lastRune = r

	if col+w >= e.cols {
		e.cur.Col = e.cols - 1
		e.wrapPending = true
	} else {
		e.cur.Col = col + w
	}
}

// splitWide blanks the other half of a wide glyph about to be overwritten
// at col.
func (e *Emulator) splitWide(row []Cell, col int) {
	if col >= len(row) {
		return
	}
	if row[col].Cont && col > 0 {
		row[col-1] = Blank
	}
	if col+1 < len(row) && row[col+1].Cont {
		row[col+1] = Blank
	}
}

func (e *Emulator) blankCell() Cell {
	return Cell{Rune: ' ', BG: e.pen.BG}
}

func (e *Emulator) execute(b byte) {
	switch b {
	case 0x08:
		e.wrapPending = false
		if e.cur.Col > 0 {
			e.cur.Col--
		}
	case 0x09:
		e.tabForward(1)
	case 0x0a, 0x0b, 0x0c:
		e.index()
		if e.modes.newline {
			e.cur.Col = 0
		}
	case 0x0d:
		e.wrapPending = false
		e.cur.Col = 0
	case 0x0e:
		e.gl = 1
	case 0x0f:
		e.gl = 0
	}
}

func (e *Emulator) tabForward(n int) {
	e.wrapPending = false
	for ; n > 0 && e.cur.Col < e.cols-1; n-- {
		e.cur.Col++
		for e.cur.Col < e.cols-1 && !e.tabs[e.cur.Col] {
			e.cur.Col++
		}
	}
}

func (e *Emulator) tabBackward(n int) {
	e.wrapPending = false
	for ; n > 0 && e.cur.Col > 0; n-- {
		e.cur.Col--
		for e.cur.Col > 0 && !e.tabs[e.cur.Col] {
			e.cur.Col--
		}
	}
}

// index moves the cursor down one line, scrolling the region when the
// cursor sits on its bottom margin.
func (e *Emulator) index() {
	e.wrapPending = false
	switch {
	case e.cur.Row == e.region.Bottom:
		e.scrollUp(e.region.Top, e.region.Bottom, 1)
	case e.cur.Row < e.rows-1:
		e.cur.Row++
	}
}

func (e *Emulator) reverseIndex() {
	e.wrapPending = false
	switch {
	case e.cur.Row == e.region.Top:
		e.scrollDown(e.region.Top, e.region.Bottom, 1)
	case e.cur.Row > 0:
		e.cur.Row--
	}
}

func (e *Emulator) scrollUp(top, bottom, n int) {
	if top > bottom {
		return
	}
	n = min(n, bottom-top+1)
	if n <= 0 {
		return
	}
	g := e.grid
	if !e.altActive && top == 0 && e.historyLimit > 0 {
		for _, row := range g.cells[top : top+n] {
			e.history = append(e.history, append([]Cell(nil), row...))
		}
		// Trim in batches so a flood of output does not copy the whole
		// history on every line.
		if len(e.history) > e.historyLimit+e.historyLimit/4+1 {
			e.history = append(e.history[:0:0], e.history[len(e.history)-e.historyLimit:]...)
		}
	}
	leaving := append([][]Cell(nil), g.cells[top:top+n]...)
	copy(g.cells[top:], g.cells[top+n:bottom+1])
	fill := e.blankCell()
	for i, row := range leaving {
		for c := range row {
			row[c] = fill
		}
		g.cells[bottom-n+1+i] = row
	}
}

func (e *Emulator) scrollDown(top, bottom, n int) {
	if top > bottom {
		return
	}
	n = min(n, bottom-top+1)
	if n <= 0 {
		return
	}
	g := e.grid
	leaving := append([][]Cell(nil), g.cells[bottom-n+1:bottom+1]...)
	copy(g.cells[top+n:bottom+1], g.cells[top:bottom+1-n])
	fill := e.blankCell()
	for i, row := range leaving {
		for c := range row {
			row[c] = fill
		}
		g.cells[top+i] = row
	}
}

func (e *Emulator) escDispatch(b byte) {
	if len(e.inter) > 0 {
		switch e.inter[0] {
		case '(', ')':
			cs := csASCII
			if b == '0' {
				cs = csDECSpecial
			}
			e.charsets[e.inter[0]-'('] = cs
		case '#':
			if b == '8' {
				e.alignmentTest()
			}
		}
		return
	}

	switch b {
	case '7':
		e.saveCursor(&e.saved)
	case '8':
		e.restoreCursor(&e.saved)
	case 'D':
		e.index()
	case 'E':
		e.cur.Col = 0
		e.index()
	case 'M':
		e.reverseIndex()
	case 'H':
		e.tabs[e.cur.Col] = true
	case 'c':
		e.reset()
	case '=':
		e.modes.appKeypad = true
	case '>':
		e.modes.appKeypad = false
	}
}

func (e *Emulator) alignmentTest() {
	e.grid.clear(Cell{Rune: 'E'})
	e.region = ScrollRegion{Top: 0, Bottom: e.rows - 1}
	e.cur.Row, e.cur.Col = 0, 0
	e.wrapPending = false
}

func (e *Emulator) saveCursor(s *savedCursor) {
	*s = savedCursor{
		row:      e.cur.Row,
		col:      e.cur.Col,
		pen:      e.pen,
		origin:   e.modes.origin,
		charsets: e.charsets,
		gl:       e.gl,
		set:      true,
	}
}

func (e *Emulator) restoreCursor(s *savedCursor) {
	if !s.set {
		e.cur.Row, e.cur.Col = 0, 0
		e.pen = Blank
		e.modes.origin = false
		e.wrapPending = false
		return
	}
	e.cur.Row = clamp(s.row, 0, e.rows-1)
	e.cur.Col = clamp(s.col, 0, e.cols-1)
	e.pen = s.pen
	e.modes.origin = s.origin
	e.charsets = s.charsets
	e.gl = s.gl
	e.wrapPending = false
}

func (e *Emulator) oscDispatch() {
	cmd, text, ok := cutByte(e.osc, ';')
	if !ok {
		return
	}
	switch string(cmd) {
	case "0", "2":
		if utf8.Valid(text) {
			e.title = string(text)
		}
	}
}

func cutByte(b []byte, sep byte) (before, after []byte, found bool) {
	for i, c := range b {
		if c == sep {
			return b[:i], b[i+1:], true
		}
	}
	return b, nil, false
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Resize changes the screen size. Rows are kept top-aligned, rows and
// columns beyond the new size are dropped, the cursor is clamped and the
// scroll region is reset to the full screen.
func (e *Emulator) Resize(rows, cols int) {
	rows, cols = max(rows, 1), max(cols, 1)

	e.mu.Lock()
	defer e.mu.Unlock()

	if rows == e.rows && cols == e.cols {
		return
	}
	e.primary = e.primary.resized(rows, cols)
	e.alt = e.alt.resized(rows, cols)
	if e.altActive {
		e.grid = e.alt
	} else {
		e.grid = e.primary
	}
	e.rows, e.cols = rows, cols
	e.region = ScrollRegion{Top: 0, Bottom: rows - 1}
	e.tabs = defaultTabs(cols, e.tabs)
	e.cur.Row = clamp(e.cur.Row, 0, rows-1)
	e.cur.Col = clamp(e.cur.Col, 0, cols-1)
	e.wrapPending = false
}

// Size returns the screen dimensions.
func (e *Emulator) Size() (rows, cols int) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.rows, e.cols
}

// AppCursorKeys reports whether the application enabled cursor key
// application mode (DECCKM).
func (e *Emulator) AppCursorKeys() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modes.appCursor
}

// BracketedPaste reports whether the application enabled bracketed paste.
func (e *Emulator) BracketedPaste() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.modes.bracketedPaste
}

// Title returns the last window title set through OSC 0 or 2.
func (e *Emulator) Title() string {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.title
}

// Scrollback returns the history lines followed by the primary screen,
// oldest first, with trailing spaces trimmed.
func (e *Emulator) Scrollback() []string {
	e.mu.Lock()
	defer e.mu.Unlock()

	hist := e.history
	if len(hist) > e.historyLimit {
		hist = hist[len(hist)-e.historyLimit:]
	}
	lines := make([]string, 0, len(hist)+e.rows)
	for _, row := range hist {
		lines = append(lines, trimRight(rowText(row)))
	}
	for r := 0; r < e.primary.rows; r++ {
		lines = append(lines, trimRight(e.primary.Line(r)))
	}
	return lines
}

// Snapshot returns an immutable copy of the visible screen.
func (e *Emulator) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return Snapshot{
		grid:      e.grid.Clone(),
		cursor:    e.cur,
		altScreen: e.altActive,
		title:     e.title,
	}
}
