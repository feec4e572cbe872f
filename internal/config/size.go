package config

import (
	"fmt"
	"strconv"
	"strings"
)

// Size is a terminal size in character cells. Its text form is WxH, which
// is also how it appears in JSON, TOML and the environment.
type Size struct {
	Cols int
	Rows int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Cols, s.Rows)
}

// Valid reports whether both dimensions are positive.
func (s Size) Valid() bool {
	return s.Cols > 0 && s.Rows > 0
}

// Decode implements envconfig.Decoder.
func (s *Size) Decode(value string) error {
	parsed, err := ParseSize(value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

// UnmarshalText accepts the same forms as ParseSize.
func (s *Size) UnmarshalText(text []byte) error {
	return s.Decode(string(text))
}

// MarshalText writes the WxH form.
func (s Size) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Preset is a named size.
type Preset struct {
	Name    string
	Aliases []string
	Size    Size
}

var presets = []Preset{
	{Name: "compact", Aliases: []string{"small", "minimal"}, Size: Size{80, 24}},
	{Name: "standard", Aliases: []string{"default", "normal"}, Size: Size{120, 40}},
	{Name: "large", Aliases: []string{"wide"}, Size: Size{160, 50}},
	{Name: "xl", Aliases: []string{"extralarge", "extra-large"}, Size: Size{200, 60}},
}

// Presets returns the named sizes, smallest first.
func Presets() []Preset {
	out := make([]Preset, len(presets))
	copy(out, presets)
	return out
}

// SizeError reports an unparseable size string.
type SizeError struct {
	Input  string
	Reason string
}

func (e *SizeError) Error() string {
	return fmt.Sprintf("invalid size %q: %s", e.Input, e.Reason)
}

// ParseSize parses a preset name or a WxH size. The separator may be x, X
// or ×, with optional spaces around it.
func ParseSize(s string) (Size, error) {
	in := strings.ToLower(strings.TrimSpace(s))
	if in == "" {
		return Size{}, &SizeError{Input: s, Reason: "empty"}
	}
	for _, p := range presets {
		if in == p.Name {
			return p.Size, nil
		}
		for _, a := range p.Aliases {
			if in == a {
				return p.Size, nil
			}
		}
	}

	in = strings.ReplaceAll(in, "×", "x")
	w, h, ok := strings.Cut(in, "x")
	if !ok {
		return Size{}, &SizeError{Input: s, Reason: "expected a preset name or WIDTHxHEIGHT"}
	}
	cols, err := strconv.Atoi(strings.TrimSpace(w))
	if err != nil {
		return Size{}, &SizeError{Input: s, Reason: "width is not a number"}
	}
	rows, err := strconv.Atoi(strings.TrimSpace(h))
	if err != nil {
		return Size{}, &SizeError{Input: s, Reason: "height is not a number"}
	}
	size := Size{Cols: cols, Rows: rows}
	if !size.Valid() {
		return Size{}, &SizeError{Input: s, Reason: "dimensions must be positive"}
	}
	if cols > 1000 || rows > 1000 {
		return Size{}, &SizeError{Input: s, Reason: "dimensions must be at most 1000"}
	}
	return size, nil
}
