// Package keys maps semantic key tokens such as "down", "ctrl+c" or "f5" to
// the raw bytes a terminal would send for them. It is internal to termsnap.
//
// Function keys follow the xterm convention: F1-F4 are SS3 sequences and
// F5-F12 are CSI tilde sequences.
package keys

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// ErrUnknownToken is returned (wrapped) by Encode for tokens it cannot map.
var ErrUnknownToken = errors.New("unknown input token")

var named = map[string]string{
	"enter":     "\r",
	"escape":    "\x1b",
	"tab":       "\t",
	"backspace": "\x7f",
	"space":     " ",
	"comma":     ",",
	"up":        "\x1b[A",
	"down":      "\x1b[B",
	"right":     "\x1b[C",
	"left":      "\x1b[D",
	"home":      "\x1b[H",
	"end":       "\x1b[F",
	"pageup":    "\x1b[5~",
	"pagedown":  "\x1b[6~",
	"insert":    "\x1b[2~",
	"delete":    "\x1b[3~",
	"f1":        "\x1bOP",
	"f2":        "\x1bOQ",
	"f3":        "\x1bOR",
	"f4":        "\x1bOS",
	"f5":        "\x1b[15~",
	"f6":        "\x1b[17~",
	"f7":        "\x1b[18~",
	"f8":        "\x1b[19~",
	"f9":        "\x1b[20~",
	"f10":       "\x1b[21~",
	"f11":       "\x1b[23~",
	"f12":       "\x1b[24~",
}

var aliases = map[string]string{
	"return":    "enter",
	"esc":       "escape",
	"bs":        "backspace",
	"pgup":      "pageup",
	"page_up":   "pageup",
	"pgdn":      "pagedown",
	"page_down": "pagedown",
	"ins":       "insert",
	"del":       "delete",
}

var (
	ctrlPrefixes = []string{"ctrl+", "ctrl-", "c-"}
	altPrefixes  = []string{"alt+", "alt-", "m-"}
)

// Encode returns the byte sequence for token. Named tokens are matched
// case-insensitively; a token that is a single character encodes to that
// character's UTF-8 bytes as given.
func Encode(token string) ([]byte, error) {
	if token == "" {
		return nil, fmt.Errorf("%w: empty token", ErrUnknownToken)
	}
	if utf8.RuneCountInString(token) == 1 {
		return []byte(token), nil
	}

	lower := strings.ToLower(token)
	if seq, ok := lookup(lower); ok {
		return []byte(seq), nil
	}

	for _, p := range ctrlPrefixes {
		if rest, ok := strings.CutPrefix(lower, p); ok {
			if b, ok := ctrlByte(rest); ok {
				return []byte{b}, nil
			}
			return nil, fmt.Errorf("%w: %q", ErrUnknownToken, token)
		}
	}

	for _, p := range altPrefixes {
		if len(lower) > len(p) && strings.HasPrefix(lower, p) {
			// Keep the original case of a single-character base so that
			// alt+A and alt+a stay distinct.
			base, err := Encode(token[len(p):])
			if err != nil {
				return nil, fmt.Errorf("%w: %q", ErrUnknownToken, token)
			}
			return append([]byte{0x1b}, base...), nil
		}
	}

	return nil, fmt.Errorf("%w: %q", ErrUnknownToken, token)
}

// MustEncode is like Encode but panics on an unknown token.
func MustEncode(token string) []byte {
	b, err := Encode(token)
	if err != nil {
		panic(err)
	}
	return b
}

func lookup(name string) (string, bool) {
	if canonical, ok := aliases[name]; ok {
		name = canonical
	}
	seq, ok := named[name]
	return seq, ok
}

func ctrlByte(rest string) (byte, bool) {
	switch rest {
	case "space", "@", "2":
		return 0x00, true
	case "[":
		return 0x1b, true
	case "\\":
		return 0x1c, true
	case "]":
		return 0x1d, true
	case "^":
		return 0x1e, true
	case "_", "/":
		return 0x1f, true
	case "?":
		return 0x7f, true
	}
	if len(rest) == 1 && rest[0] >= 'a' && rest[0] <= 'z' {
		return rest[0] - 'a' + 1, true
	}
	return 0, false
}

// Tokens returns the canonical named tokens in sorted order.
func Tokens() []string {
	out := make([]string, 0, len(named))
	for k := range named {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool {
		// f-keys sort numerically after the other names.
		fi, fj := isFKey(out[i]), isFKey(out[j])
		if fi != fj {
			return fj
		}
		if fi && len(out[i]) != len(out[j]) {
			return len(out[i]) < len(out[j])
		}
		return out[i] < out[j]
	})
	return out
}

func isFKey(s string) bool {
	return len(s) >= 2 && s[0] == 'f' && s[1] >= '0' && s[1] <= '9'
}

// ApplicationCursor rewrites the normal-mode cursor key sequence of a single
// encoded token (CSI A-D, H, F, with or without the ESC that alt+ adds) to
// its application-mode SS3 form. Other input is returned unchanged, so it
// must be applied to each token before tokens are joined.
func ApplicationCursor(seq []byte) []byte {
	prefix := 0
	if len(seq) == 4 && seq[0] == 0x1b {
		prefix = 1
	}
	key := seq[prefix:]
	if len(key) != 3 || key[0] != 0x1b || key[1] != '[' {
		return seq
	}
	switch key[2] {
	case 'A', 'B', 'C', 'D', 'H', 'F':
		out := append([]byte(nil), seq[:prefix]...)
		return append(out, 0x1b, 'O', key[2])
	}
	return seq
}
