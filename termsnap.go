package termsnap

import (
	"fmt"
	"image"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mattn/go-runewidth"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/keys"
	"github.com/cboone/termsnap/internal/ptyproc"
	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/vt"
)

// Terminal is a handle to a TUI program running on a pseudo-terminal with an
// in-process emulator. It is created with Open and cleaned up automatically
// via t.Cleanup.
type Terminal struct {
	t        testing.TB
	sess     *ptyproc.Session
	emu      *vt.Emulator
	pump     *capture.Pump
	renderer *render.Renderer
	opts     options
}

const failureCaptureHistory = 3

// Open starts the binary on a new pseudo-terminal.
// Cleanup is automatic via t.Cleanup, no defer needed.
func Open(t testing.TB, binary string, userOpts ...Option) *Terminal {
	t.Helper()

	opts := defaultOptions()
	for _, o := range userOpts {
		o(&opts)
	}
	if opts.width <= 0 || opts.height <= 0 {
		t.Fatalf("termsnap: open: invalid size %dx%d", opts.width, opts.height)
	}

	replies := &replyWriter{}
	emu := vt.New(opts.height, opts.width,
		vt.WithHistoryLimit(opts.historyLimit),
		vt.WithReplies(replies),
	)

	sess, err := ptyproc.Spawn(binary, opts.args, ptyproc.Options{
		Dir:    opts.dir,
		Env:    opts.env,
		Cols:   opts.width,
		Rows:   opts.height,
		Mirror: emu,
	})
	if err != nil {
		t.Fatalf("termsnap: open: %v", err)
	}
	replies.set(sess)

	stream, err := sess.Stream()
	if err != nil {
		_ = sess.Terminate()
		t.Fatalf("termsnap: open: %v", err)
	}
	pump := capture.NewPump(stream, emu, nil)
	go pump.Run()

	term := &Terminal{
		t:        t,
		sess:     sess,
		emu:      emu,
		pump:     pump,
		renderer: render.New(),
		opts:     opts,
	}

	// Register cleanup.
	t.Cleanup(func() {
		_ = sess.Terminate()
		select {
		case <-pump.Done():
		case <-time.After(ptyproc.DefaultDrainTimeout):
		}
	})

	return term
}

// SendKeys sends key tokens such as "enter", "ctrl+c" or "f5". A token that
// is a single character is sent as typed. Escape hatch for keys without a
// Key constant.
func (term *Terminal) SendKeys(tokens ...string) {
	term.t.Helper()
	term.requireAlive("send-keys")

	appCursor := term.emu.AppCursorKeys()
	var buf []byte
	for _, tok := range tokens {
		b, err := keys.Encode(tok)
		if err != nil {
			term.t.Fatalf("termsnap: send-keys: %v", err)
		}
		if appCursor {
			b = keys.ApplicationCursor(b)
		}
		buf = append(buf, b...)
	}
	term.write("send-keys", buf)
}

// Type sends a string as literal input.
func (term *Terminal) Type(s string) {
	term.t.Helper()
	term.requireAlive("type")
	term.write("type", []byte(s))
}

// Press sends one or more special keys.
func (term *Terminal) Press(keys ...Key) {
	term.t.Helper()
	strs := make([]string, len(keys))
	for i, k := range keys {
		strs[i] = string(k)
	}
	term.SendKeys(strs...)
}

func (term *Terminal) write(op string, b []byte) {
	term.t.Helper()
	if _, err := term.sess.Write(b); err != nil {
		term.t.Fatalf("termsnap: %s: %v", op, err)
	}
}

// Screen captures the current terminal content and returns it.
func (term *Terminal) Screen() *Screen {
	term.t.Helper()
	return newScreen(term.emu.Snapshot())
}

// WaitFor polls the screen until the matcher succeeds or the timeout expires.
// On timeout it calls t.Fatal with a description of what was expected
// and the last screen content.
func (term *Terminal) WaitFor(m Matcher, wopts ...WaitOption) {
	term.t.Helper()
	_ = term.waitForInternal(m, wopts...)
}

// WaitForScreen has the same timeout behavior as WaitFor: it polls until the
// matcher succeeds or the timeout expires, calling t.Fatal on timeout. On
// success it returns the matching Screen.
func (term *Terminal) WaitForScreen(m Matcher, wopts ...WaitOption) *Screen {
	term.t.Helper()
	return term.waitForInternal(m, wopts...)
}

func (term *Terminal) resolveWait(op string, wopts []WaitOption) (timeout, pollInterval time.Duration) {
	term.t.Helper()

	wo := waitOptions{}
	for _, o := range wopts {
		o(&wo)
	}

	timeout = term.opts.timeout
	if wo.timeout > 0 {
		timeout = wo.timeout
	} else if wo.timeout < 0 {
		term.t.Fatalf("termsnap: %s: negative timeout: %v", op, wo.timeout)
	}

	pollInterval = term.opts.pollInterval
	if wo.pollInterval > 0 {
		pollInterval = max(wo.pollInterval, minPollInterval)
	} else if wo.pollInterval < 0 {
		term.t.Fatalf("termsnap: %s: negative poll interval: %v", op, wo.pollInterval)
	}
	return timeout, pollInterval
}

func (term *Terminal) waitForInternal(m Matcher, wopts ...WaitOption) *Screen {
	term.t.Helper()

	timeout, pollInterval := term.resolveWait("wait-for", wopts)
	deadline := time.Now().Add(timeout)
	var lastScreen *Screen
	lastDesc := "matcher condition"
	recentScreens := make([]*Screen, 0, failureCaptureHistory)

	for {
		dead := !term.sess.Alive()
		if dead {
			// Let the pump feed whatever the process wrote before exiting.
			term.drain()
		}

		lastScreen = newScreen(term.emu.Snapshot())
		recentScreens = appendRecentScreens(recentScreens, lastScreen, failureCaptureHistory)

		ok, desc := m(lastScreen)
		lastDesc = desc
		if ok {
			return lastScreen
		}

		if dead {
			term.t.Fatalf("termsnap: wait-for: process exited unexpectedly (status %d)\n    waiting for: %s\n    recent screen captures (oldest to newest):\n%s",
				term.sess.ExitCode(), lastDesc, formatRecentScreens(recentScreens))
		}

		if time.Now().After(deadline) {
			term.t.Fatalf("termsnap: wait-for: timed out after %v\n    waiting for: %s\n    recent screen captures (oldest to newest):\n%s",
				timeout, lastDesc, formatRecentScreens(recentScreens))
		}

		time.Sleep(pollInterval)
	}
}

// WaitStable waits until the program has produced no output for the settle
// period (see WithSettle) and returns the screen at that point. It calls
// t.Fatal if output keeps arriving until the timeout expires.
func (term *Terminal) WaitStable(wopts ...WaitOption) *Screen {
	term.t.Helper()

	timeout, pollInterval := term.resolveWait("wait-stable", wopts)
	_, timedOut, err := capture.Settle(term.t.Context(), term.pump, time.Now(), term.opts.settle, timeout, pollInterval)
	if err != nil {
		term.t.Fatalf("termsnap: wait-stable: %v", err)
	}
	scr := newScreen(term.emu.Snapshot())
	if timedOut {
		term.t.Fatalf("termsnap: wait-stable: output did not settle within %v\n    last screen:\n%s",
			timeout, formatScreenBox(scr))
	}
	return scr
}

// WaitExit waits for the TUI process to exit and returns its exit code.
// Useful for testing that a program terminates cleanly.
func (term *Terminal) WaitExit(wopts ...WaitOption) int {
	term.t.Helper()

	timeout, pollInterval := term.resolveWait("wait-exit", wopts)
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	recentScreens := make([]*Screen, 0, failureCaptureHistory)
	for {
		select {
		case <-term.sess.Done():
			term.drain()
			return term.sess.ExitCode()
		case <-ticker.C:
			recentScreens = appendRecentScreens(recentScreens, newScreen(term.emu.Snapshot()), failureCaptureHistory)
		case <-deadline.C:
			recentScreens = appendRecentScreens(recentScreens, newScreen(term.emu.Snapshot()), failureCaptureHistory)
			term.t.Fatalf("termsnap: wait-exit: timed out after %v\n    process still alive\n    recent screen captures (oldest to newest):\n%s",
				timeout, formatRecentScreens(recentScreens))
		}
	}
}

// Resize changes the terminal dimensions.
// This sends a SIGWINCH to the running program.
func (term *Terminal) Resize(width, height int) {
	term.t.Helper()
	term.requireAlive("resize")
	if err := term.sess.Resize(width, height); err != nil {
		term.t.Fatalf("termsnap: resize: %v", err)
	}
	term.opts.width = width
	term.opts.height = height
}

// Scrollback captures the full scrollback buffer, not just the visible screen.
//
// The returned Screen has one line per row, oldest first: the history lines
// followed by the primary screen. Its height (and len(Lines())) reflects the
// total number of captured lines, which is typically larger than the
// terminal's visible height. Width is the maximum line width across all
// captured lines.
func (term *Terminal) Scrollback() *Screen {
	term.t.Helper()
	return newTextScreen(term.emu.Scrollback())
}

// Image renders the current screen.
func (term *Terminal) Image() image.Image {
	term.t.Helper()
	return term.renderer.Render(term.emu.Snapshot())
}

// SavePNG renders the current screen and writes it to path.
func (term *Terminal) SavePNG(path string) {
	term.t.Helper()
	data, err := term.renderer.PNG(term.emu.Snapshot())
	if err != nil {
		term.t.Fatalf("termsnap: save-png: %v", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		term.t.Fatalf("termsnap: save-png: %v", err)
	}
}

// requireAlive checks that the process is still running and calls t.Fatal
// if it has exited.
func (term *Terminal) requireAlive(op string) {
	term.t.Helper()
	if !term.sess.Alive() {
		term.t.Fatalf("termsnap: %s: process exited unexpectedly (status %d)", op, term.sess.ExitCode())
	}
}

// drain waits briefly for the pump to reach the end of the output stream.
func (term *Terminal) drain() {
	select {
	case <-term.pump.Done():
	case <-time.After(time.Second):
	}
}

// replyWriter forwards emulator replies to a session that is spawned after
// the emulator is created.
type replyWriter struct {
	mu   sync.Mutex
	sess *ptyproc.Session
}

func (w *replyWriter) set(s *ptyproc.Session) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.sess = s
}

func (w *replyWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	s := w.sess
	w.mu.Unlock()
	if s == nil {
		return len(p), nil
	}
	return s.Write(p)
}

func appendRecentScreens(screens []*Screen, scr *Screen, max int) []*Screen {
	if scr == nil {
		return screens
	}
	screens = append(screens, scr)
	if len(screens) > max {
		screens = screens[len(screens)-max:]
	}
	return screens
}

func formatRecentScreens(screens []*Screen) string {
	if len(screens) == 0 {
		return "    (no screen captured)"
	}

	var b strings.Builder
	for i, scr := range screens {
		fmt.Fprintf(&b, "    capture %d/%d:\n%s", i+1, len(screens), formatScreenBox(scr))
		if i < len(screens)-1 {
			b.WriteByte('\n')
		}
	}
	return b.String()
}

// formatScreenBox formats a screen capture with a box border for error messages.
func formatScreenBox(scr *Screen) string {
	if scr == nil {
		return "    (no screen captured)"
	}

	width, _ := scr.Size()
	if width == 0 {
		width = 80
	}

	var b strings.Builder
	border := strings.Repeat("\u2500", width)

	fmt.Fprintf(&b, "    \u250c%s\u2510\n", border)
	for _, line := range scr.Lines() {
		padded := line
		if w := runewidth.StringWidth(padded); w < width {
			padded += strings.Repeat(" ", width-w)
		}
		fmt.Fprintf(&b, "    \u2502%s\u2502\n", padded)
	}
	fmt.Fprintf(&b, "    \u2514%s\u2518", border)

	return b.String()
}
