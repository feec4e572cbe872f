// Package scenario loads capture runs described in YAML files.
//
// A scenario names the program to start, the terminal size, the timing of
// the run and the inputs to send, one step at a time:
//
//	name: menu
//	binary: ./my-app
//	size: 100x30
//	delay: 150ms
//	settle:
//	  quiet: 200ms
//	steps:
//	  - key: down
//	  - text: hello
//	    prompt: Was the text entered into the search box?
//	  - resize: compact
package scenario

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/keys"
)

// Duration is a time.Duration written as a Go duration string such as
// "150ms".
type Duration time.Duration

// UnmarshalYAML implements yaml.BytesUnmarshaler.
func (d *Duration) UnmarshalYAML(b []byte) error {
	var s string
	if err := yaml.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(strings.TrimSpace(s))
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML implements yaml.InterfaceMarshaler.
func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

// Settle overrides the settle timing of a run.
type Settle struct {
	Quiet   Duration `yaml:"quiet,omitempty"`
	Ceiling Duration `yaml:"ceiling,omitempty"`
	Initial Duration `yaml:"initial,omitempty"`
}

// Step is one input. Exactly one of Key, Text and Resize is set.
type Step struct {
	Key    string `yaml:"key,omitempty"`
	Text   string `yaml:"text,omitempty"`
	Resize string `yaml:"resize,omitempty"`
	// Prompt replaces the analysis prompt for the screen captured after
	// this step.
	Prompt string `yaml:"prompt,omitempty"`
}

// Scenario is a parsed scenario file.
type Scenario struct {
	Name   string   `yaml:"name"`
	Binary string   `yaml:"binary"`
	Args   []string `yaml:"args,omitempty"`
	Dir    string   `yaml:"dir,omitempty"`
	Env    []string `yaml:"env,omitempty"`
	Size   string   `yaml:"size,omitempty"`
	Delay  Duration `yaml:"delay,omitempty"`
	Settle Settle   `yaml:"settle,omitempty"`
	// Prompt is the default analysis prompt; it may use {step} and
	// {input}.
	Prompt string `yaml:"prompt,omitempty"`
	Steps  []Step `yaml:"steps"`

	// base resolves relative paths; it is the directory of the loaded file.
	base string
}

// ValidationError reports one invalid field.
type ValidationError struct {
	Field string
	Err   error
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("scenario: %s: %v", e.Field, e.Err)
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// Load reads and validates a scenario file. Relative binary and dir paths
// in the file are resolved against the file's directory.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	sc, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	sc.base = filepath.Dir(path)
	return sc, nil
}

// Parse decodes and validates a scenario. Unknown fields are rejected.
func Parse(data []byte) (*Scenario, error) {
	var sc Scenario
	if err := yaml.UnmarshalWithOptions(data, &sc, yaml.DisallowUnknownField()); err != nil {
		return nil, fmt.Errorf("scenario: %w", err)
	}
	if err := sc.Validate(); err != nil {
		return nil, err
	}
	return &sc, nil
}

// Validate checks every field and returns all problems joined.
func (s *Scenario) Validate() error {
	var errs []error
	add := func(field string, err error) {
		errs = append(errs, &ValidationError{Field: field, Err: err})
	}

	if strings.TrimSpace(s.Binary) == "" {
		add("binary", errors.New("required"))
	}
	if s.Size != "" {
		if _, err := config.ParseSize(s.Size); err != nil {
			add("size", err)
		}
	}
	for name, d := range map[string]Duration{
		"delay":          s.Delay,
		"settle.quiet":   s.Settle.Quiet,
		"settle.ceiling": s.Settle.Ceiling,
		"settle.initial": s.Settle.Initial,
	} {
		if d < 0 {
			add(name, errors.New("must not be negative"))
		}
	}
	if s.Settle.Quiet > 0 && s.Settle.Ceiling > 0 && s.Settle.Ceiling < s.Settle.Quiet {
		add("settle.ceiling", errors.New("must not be shorter than settle.quiet"))
	}
	for _, e := range s.Env {
		if !strings.Contains(e, "=") {
			add("env", fmt.Errorf("%q is not KEY=VALUE", e))
		}
	}

	for i, st := range s.Steps {
		field := fmt.Sprintf("steps[%d]", i)
		set := 0
		for _, v := range []string{st.Key, st.Text, st.Resize} {
			if v != "" {
				set++
			}
		}
		if set != 1 {
			add(field, errors.New("exactly one of key, text or resize is required"))
			continue
		}
		switch {
		case st.Key != "":
			if _, err := keys.Encode(st.Key); err != nil {
				add(field+".key", err)
			}
		case st.Resize != "":
			if _, err := config.ParseSize(st.Resize); err != nil {
				add(field+".resize", err)
			}
		}
	}
	return errors.Join(errs...)
}

// Request converts the scenario into a capture request.
func (s *Scenario) Request() (capture.Request, error) {
	req := capture.Request{
		Binary: s.resolve(s.Binary, true),
		Args:   s.Args,
		Dir:    s.resolve(s.Dir, false),
		Env:    s.Env,
	}
	if s.Size != "" {
		size, err := config.ParseSize(s.Size)
		if err != nil {
			return capture.Request{}, &ValidationError{Field: "size", Err: err}
		}
		req.Size = size
	}

	for i, st := range s.Steps {
		switch {
		case st.Key != "":
			req.Actions = append(req.Actions, capture.Key(st.Key))
		case st.Text != "":
			req.Actions = append(req.Actions, capture.Text(st.Text))
		case st.Resize != "":
			size, err := config.ParseSize(st.Resize)
			if err != nil {
				return capture.Request{}, &ValidationError{Field: fmt.Sprintf("steps[%d].resize", i), Err: err}
			}
			req.Actions = append(req.Actions, capture.ResizeTo(size))
		default:
			return capture.Request{}, &ValidationError{Field: fmt.Sprintf("steps[%d]", i), Err: errors.New("empty step")}
		}
	}
	return req, nil
}

// resolve makes a relative path absolute against the scenario's directory.
// Bare program names are left for PATH lookup.
func (s *Scenario) resolve(p string, program bool) string {
	if p == "" || s.base == "" || filepath.IsAbs(p) {
		return p
	}
	if program && !strings.ContainsRune(p, filepath.Separator) {
		return p
	}
	return filepath.Join(s.base, p)
}

// Config applies the scenario's timing to base.
func (s *Scenario) Config(base capture.Config) capture.Config {
	if s.Delay > 0 {
		base.Delay = time.Duration(s.Delay)
	}
	if s.Settle.Quiet > 0 {
		base.Quiet = time.Duration(s.Settle.Quiet)
	}
	if s.Settle.Ceiling > 0 {
		base.Ceiling = time.Duration(s.Settle.Ceiling)
	}
	if s.Settle.Initial > 0 {
		base.InitialCeiling = time.Duration(s.Settle.Initial)
	}
	return base
}

// Prompts returns the per-step analysis prompts keyed by the index of the
// captured step; the step after the first input is 1.
func (s *Scenario) Prompts() map[int]string {
	out := make(map[int]string)
	for i, st := range s.Steps {
		if st.Prompt != "" {
			out[i+1] = st.Prompt
		}
	}
	return out
}
