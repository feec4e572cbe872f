package vt

// selectGraphicRendition applies an SGR sequence to the pen. Unknown
// parameters are skipped one at a time.
func (e *Emulator) selectGraphicRendition() {
	ps := e.params
	if len(ps) == 0 {
		ps = []int{0}
	}

	for i := 0; i < len(ps); i++ {
		p := ps[i]
		switch {
		case p == 0:
			e.pen.FG, e.pen.BG, e.pen.Attr = DefaultColor, DefaultColor, 0
		case p == 1:
			e.pen.Attr |= AttrBold
		case p == 3:
			e.pen.Attr |= AttrItalic
		case p == 4:
			e.pen.Attr |= AttrUnderline
		case p == 5 || p == 6:
			e.pen.Attr |= AttrBlink
		case p == 7:
			e.pen.Attr |= AttrInverse
		case p == 9:
			e.pen.Attr |= AttrStrike
		case p == 21 || p == 22:
			e.pen.Attr &^= AttrBold
		case p == 23:
			e.pen.Attr &^= AttrItalic
		case p == 24:
			e.pen.Attr &^= AttrUnderline
		case p == 25:
			e.pen.Attr &^= AttrBlink
		case p == 27:
			e.pen.Attr &^= AttrInverse
		case p == 29:
			e.pen.Attr &^= AttrStrike
		case p >= 30 && p <= 37:
			e.pen.FG = Indexed(uint8(p - 30))
		case p == 38:
			c, used, ok := extendedColor(ps[i+1:])
			if ok {
				e.pen.FG = c
			}
			i += used
		case p == 39:
			e.pen.FG = DefaultColor
		case p >= 40 && p <= 47:
			e.pen.BG = Indexed(uint8(p - 40))
		case p == 48:
			c, used, ok := extendedColor(ps[i+1:])
			if ok {
				e.pen.BG = c
			}
			i += used
		case p == 49:
			e.pen.BG = DefaultColor
		case p >= 90 && p <= 97:
			e.pen.FG = Indexed(uint8(p - 90 + 8))
		case p >= 100 && p <= 107:
			e.pen.BG = Indexed(uint8(p - 100 + 8))
		}
	}
}

// extendedColor parses the arguments following 38 or 48: "5;N" or
// "2;R;G;B". It returns how many parameters it consumed.
func extendedColor(ps []int) (Color, int, bool) {
	if len(ps) == 0 {
		return DefaultColor, 0, false
	}
	switch ps[0] {
	case 5:
		if len(ps) < 2 {
			return DefaultColor, len(ps), false
		}
		if ps[1] > 255 {
			return DefaultColor, 2, false
		}
		return Indexed(uint8(ps[1])), 2, true
	case 2:
		if len(ps) < 4 {
			return DefaultColor, len(ps), false
		}
		if ps[1] > 255 || ps[2] > 255 || ps[3] > 255 {
			return DefaultColor, 4, false
		}
		return RGB(uint8(ps[1]), uint8(ps[2]), uint8(ps[3])), 4, true
	default:
		return DefaultColor, 1, false
	}
}
