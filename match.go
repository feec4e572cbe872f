package termsnap

import (
	"fmt"
	"regexp"
	"strings"
)

// A Matcher reports whether a Screen satisfies a condition, and describes
// the condition for failure messages.
type Matcher func(s *Screen) (ok bool, description string)

// Text matches when the substring appears anywhere on the screen.
func Text(s string) Matcher {
	desc := fmt.Sprintf("text %q on screen", s)
	return func(scr *Screen) (bool, string) {
		return scr.Contains(s), desc
	}
}

// Regexp matches when the joined screen lines match pattern. It panics on an
// invalid pattern.
func Regexp(pattern string) Matcher {
	re := regexp.MustCompile(pattern)
	desc := fmt.Sprintf("screen matching /%s/", pattern)
	return func(scr *Screen) (bool, string) {
		return re.MatchString(scr.String()), desc
	}
}

// lineMatcher applies test to row n; rows off the screen never match.
func lineMatcher(n int, desc string, test func(line string) bool) Matcher {
	return func(scr *Screen) (bool, string) {
		if n < 0 || n >= len(scr.lines) {
			return false, desc + fmt.Sprintf(" (screen has %d lines)", len(scr.lines))
		}
		return test(scr.lines[n]), desc
	}
}

// Line matches when row n, without trailing spaces, equals s. Rows count
// from 0.
func Line(n int, s string) Matcher {
	return lineMatcher(n, fmt.Sprintf("line %d equal to %q", n, s), func(line string) bool {
		return strings.TrimRight(line, " ") == s
	})
}

// LineContains matches when row n contains substr.
func LineContains(n int, substr string) Matcher {
	return lineMatcher(n, fmt.Sprintf("line %d containing %q", n, substr), func(line string) bool {
		return strings.Contains(line, substr)
	})
}

// Not matches when m does not.
func Not(m Matcher) Matcher {
	return func(scr *Screen) (bool, string) {
		ok, desc := m(scr)
		return !ok, "not " + desc
	}
}

// combine evaluates every matcher and joins their descriptions. The result
// is stop as soon as one matcher returns stop.
func combine(label string, matchers []Matcher, stop bool) Matcher {
	return func(scr *Screen) (bool, string) {
		descs := make([]string, len(matchers))
		result := !stop
		for i, m := range matchers {
			ok, desc := m(scr)
			descs[i] = desc
			if ok == stop {
				result = stop
			}
		}
		return result, label + "(" + strings.Join(descs, "; ") + ")"
	}
}

// All matches when every matcher matches. With no matchers it always
// matches.
func All(matchers ...Matcher) Matcher {
	return combine("all", matchers, false)
}

// Any matches when at least one matcher matches.
func Any(matchers ...Matcher) Matcher {
	return combine("any", matchers, true)
}

// Empty matches a screen with nothing but blanks on it.
func Empty() Matcher {
	return func(scr *Screen) (bool, string) {
		return strings.TrimSpace(scr.raw) == "", "blank screen"
	}
}

// Cursor matches when the cursor sits at (row, col), both counted from 0.
func Cursor(row, col int) Matcher {
	return func(scr *Screen) (bool, string) {
		desc := fmt.Sprintf("cursor at %d,%d", row, col)
		if scr.cursorRow == row && scr.cursorCol == col {
			return true, desc
		}
		return false, fmt.Sprintf("%s (at %d,%d)", desc, scr.cursorRow, scr.cursorCol)
	}
}

// cellColor matches when the color read from the cell at (row, col) is c.
func cellColor(layer string, row, col int, c Color, read func(*Screen, int, int) Color) Matcher {
	return func(scr *Screen) (bool, string) {
		desc := fmt.Sprintf("%s %s at %d,%d", layer, c, row, col)
		if got := read(scr, row, col); got != c {
			return false, fmt.Sprintf("%s (got %s)", desc, got)
		}
		return true, desc
	}
}

// Foreground matches when the cell at (row, col) is drawn in c. Bold text
// keeps its written color; it is only brightened when rendered.
func Foreground(row, col int, c Color) Matcher {
	return cellColor("foreground", row, col, c, (*Screen).Foreground)
}

// Background matches when the cell at (row, col) has background c.
func Background(row, col int, c Color) Matcher {
	return cellColor("background", row, col, c, (*Screen).Background)
}

// AltScreen matches while the program is drawing on the alternate screen.
func AltScreen() Matcher {
	return func(scr *Screen) (bool, string) {
		return scr.AltScreen(), "alternate screen active"
	}
}
