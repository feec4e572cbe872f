package termsnap

import (
	"time"

	"github.com/cboone/termsnap/internal/vt"
)

type options struct {
	args         []string
	width        int
	height       int
	env          []string
	dir          string
	timeout      time.Duration
	pollInterval time.Duration
	historyLimit int
	settle       time.Duration
}

// An Option adjusts how Open starts the program.
type Option func(*options)

// WithArgs passes command line arguments to the program.
func WithArgs(args ...string) Option {
	return func(o *options) {
		o.args = args
	}
}

// WithSize sets the pseudo-terminal to width columns by height rows.
// The default is 80x24.
func WithSize(width, height int) Option {
	return func(o *options) {
		o.width = width
		o.height = height
	}
}

// WithEnv adds KEY=VALUE entries to the program's environment. Later
// entries win over earlier ones and over the inherited environment.
func WithEnv(env ...string) Option {
	return func(o *options) {
		o.env = append(o.env, env...)
	}
}

// WithDir runs the program in dir.
func WithDir(dir string) Option {
	return func(o *options) {
		o.dir = dir
	}
}

// WithTimeout bounds every wait on the Terminal unless the call overrides
// it.
func WithTimeout(d time.Duration) Option {
	return func(o *options) {
		o.timeout = d
	}
}

// WithPollInterval sets how often WaitFor and WaitForScreen capture the
// screen.
func WithPollInterval(d time.Duration) Option {
	return func(o *options) {
		o.pollInterval = d
	}
}

// WithHistoryLimit sets how many lines scrolled off the top are kept for
// Scrollback. A value of 0 uses the default (10000).
func WithHistoryLimit(limit int) Option {
	return func(o *options) {
		if limit > 0 {
			o.historyLimit = limit
		}
	}
}

// WithSettle sets how long output must pause for WaitStable to return.
func WithSettle(quiet time.Duration) Option {
	return func(o *options) {
		if quiet > 0 {
			o.settle = quiet
		}
	}
}

// A WaitOption adjusts a single wait call.
type WaitOption func(*waitOptions)

type waitOptions struct {
	timeout      time.Duration
	pollInterval time.Duration
}

// WithinTimeout replaces the Terminal's timeout for one call. Zero keeps
// the Terminal's value; a negative value fails the test.
func WithinTimeout(d time.Duration) WaitOption {
	return func(o *waitOptions) {
		o.timeout = d
	}
}

// WithWaitPollInterval replaces the poll interval for one call, with the
// same zero and negative rules as WithinTimeout. It never polls faster than
// every 10ms.
func WithWaitPollInterval(d time.Duration) WaitOption {
	return func(o *waitOptions) {
		o.pollInterval = d
	}
}

const (
	defaultWidth        = 80
	defaultHeight       = 24
	defaultTimeout      = 5 * time.Second
	defaultPollInterval = 50 * time.Millisecond
	defaultSettle       = 180 * time.Millisecond
	minPollInterval     = 10 * time.Millisecond
)

func defaultOptions() options {
	return options{
		width:        defaultWidth,
		height:       defaultHeight,
		timeout:      defaultTimeout,
		pollInterval: defaultPollInterval,
		historyLimit: vt.DefaultHistoryLimit,
		settle:       defaultSettle,
	}
}
