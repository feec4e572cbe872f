package termsnap_test

import (
	"fmt"
	"image/png"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/cboone/termsnap"
)

var testBinary string

const (
	waitForTimeoutHelperEnv    = "TERMSNAP_WAITFOR_TIMEOUT_HELPER"
	waitExitTimeoutHelperEnv   = "TERMSNAP_WAITEXIT_TIMEOUT_HELPER"
	waitStableTimeoutHelperEnv = "TERMSNAP_WAITSTABLE_TIMEOUT_HELPER"
	waitForExitHelperEnv       = "TERMSNAP_WAITFOR_EXIT_HELPER"
	openMissingHelperEnv       = "TERMSNAP_OPEN_MISSING_HELPER"
)

func TestMain(m *testing.M) {
	// Build the test fixture binary.
	dir, err := os.MkdirTemp("", "termsnap-testbin-*")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to create temp dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	binPath := filepath.Join(dir, "testbin")
	cmd := exec.Command("go", "build", "-o", binPath, "./internal/testbin")
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		fmt.Fprintf(os.Stderr, "failed to build testbin: %v\n", err)
		os.Exit(1)
	}

	testBinary = binPath
	os.Exit(m.Run())
}

func TestOpenAndCleanup(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))
}

func TestTypeAndEcho(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	term.Type("hello world")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("echo: hello world"))
}

func TestPressKeys(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	term.Type("test")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("echo: test"))
}

func TestWaitForSuccess(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))
}

func TestWaitForTimeout(t *testing.T) {
	if os.Getenv(waitForTimeoutHelperEnv) == "1" {
		term := termsnap.Open(t, testBinary)
		term.WaitFor(termsnap.Text("ready>"))
		term.WaitFor(termsnap.Text("never appears"), termsnap.WithinTimeout(150*time.Millisecond))
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run", "^TestWaitForTimeout$")
	cmd.Env = append(os.Environ(), waitForTimeoutHelperEnv+"=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected subprocess to fail, output:\n%s", string(out))
	}

	output := string(out)
	if !strings.Contains(output, "termsnap: wait-for: timed out") {
		t.Fatalf("expected timeout message, got:\n%s", output)
	}
	if !strings.Contains(output, "recent screen captures (oldest to newest):") {
		t.Fatalf("expected recent captures header, got:\n%s", output)
	}
	if !regexp.MustCompile(`capture [0-9]+/[0-9]+:`).MatchString(output) {
		t.Fatalf("expected numbered captures, got:\n%s", output)
	}
}

func TestWaitForScreen(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	screen := term.WaitForScreen(termsnap.Text("ready>"))

	if !screen.Contains("ready>") {
		t.Errorf("expected screen to contain 'ready>', got:\n%s", screen)
	}
}

func TestScreenContains(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	screen := term.Screen()
	if !screen.Contains("ready>") {
		t.Errorf("expected screen to contain 'ready>'")
	}
	if screen.Contains("nonexistent") {
		t.Errorf("expected screen to not contain 'nonexistent'")
	}
}

func TestScreenString(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	screen := term.Screen()
	s := screen.String()
	if !strings.Contains(s, "ready>") {
		t.Errorf("expected String() to contain 'ready>'")
	}
}

func TestScreenLines(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	screen := term.Screen()
	lines := screen.Lines()
	if len(lines) == 0 {
		t.Fatal("expected at least one line")
	}

	// First line should contain "ready>".
	if !strings.Contains(lines[0], "ready>") {
		t.Errorf("expected first line to contain 'ready>', got %q", lines[0])
	}

	// Lines should be a copy.
	lines[0] = "modified"
	original := screen.Lines()
	if original[0] == "modified" {
		t.Error("Lines() should return a copy")
	}
}

func TestScreenLine(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	screen := term.Screen()
	line := screen.Line(0)
	if !strings.Contains(line, "ready>") {
		t.Errorf("expected Line(0) to contain 'ready>', got %q", line)
	}
}

func TestScreenSize(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithSize(100, 30))
	term.WaitFor(termsnap.Text("ready>"))

	screen := term.Screen()
	w, h := screen.Size()
	if w != 100 || h != 30 {
		t.Errorf("expected size 100x30, got %dx%d", w, h)
	}
}

func TestTextMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))
}

func TestRegexpMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Regexp(`ready>`))
}

func TestLineMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	term.Type("hello")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("echo: hello"))

	term.WaitFor(termsnap.Line(1, "echo: hello"))
}

func TestLineContainsMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	term.Type("world")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.LineContains(1, "world"))
}

func TestNotMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Not(termsnap.Text("nonexistent string")))
}

func TestAllMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.All(
		termsnap.Text("ready>"),
		termsnap.Not(termsnap.Text("nonexistent")),
	))
}

func TestAnyMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Any(
		termsnap.Text("nonexistent"),
		termsnap.Text("ready>"),
	))
}

func TestEmptyMatcher(t *testing.T) {
	// A screen with content should not be empty.
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))
	term.WaitFor(termsnap.Not(termsnap.Empty()))
}

func TestWaitExit(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	term.Type("quit")
	term.Press(termsnap.Enter)

	code := term.WaitExit(termsnap.WithinTimeout(10 * time.Second))
	if code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
}

func TestWaitExitNonZero(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	term.Type("fail")
	term.Press(termsnap.Enter)

	code := term.WaitExit(termsnap.WithinTimeout(10 * time.Second))
	if code != 1 {
		t.Errorf("expected exit code 1, got %d", code)
	}
}

func TestWaitExitTimeout(t *testing.T) {
	if os.Getenv(waitExitTimeoutHelperEnv) == "1" {
		term := termsnap.Open(t, testBinary)
		term.WaitFor(termsnap.Text("ready>"))
		_ = term.WaitExit(termsnap.WithinTimeout(150 * time.Millisecond))
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run", "^TestWaitExitTimeout$")
	cmd.Env = append(os.Environ(), waitExitTimeoutHelperEnv+"=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected subprocess to fail, output:\n%s", string(out))
	}

	output := string(out)
	if !strings.Contains(output, "termsnap: wait-exit: timed out") {
		t.Fatalf("expected wait-exit timeout message, got:\n%s", output)
	}
	if !strings.Contains(output, "recent screen captures (oldest to newest):") {
		t.Fatalf("expected recent captures header, got:\n%s", output)
	}
}

func TestResize(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithSize(80, 24))
	term.WaitFor(termsnap.Text("ready>"))

	// Ask testbin to report size before resize.
	term.Type("size")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("size: 80x24"))

	// Resize.
	term.Resize(120, 40)

	// Ask for size again.
	term.Type("size")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("size: 120x40"))
}

func TestScrollback(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithSize(80, 10))
	term.WaitFor(termsnap.Text("ready>"))

	// Generate enough lines to overflow the visible area.
	term.Type("lines 20")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("line 20"))
	term.WaitStable()

	scrollback := term.Scrollback()
	content := scrollback.String()

	// Should contain early lines that scrolled off screen.
	if !strings.Contains(content, "line 1") {
		t.Errorf("expected scrollback to contain 'line 1', got:\n%s", content)
	}
	if !strings.Contains(content, "line 20") {
		t.Errorf("expected scrollback to contain 'line 20', got:\n%s", content)
	}
}

func TestWithEnv(t *testing.T) {
	// Use testbin with env var and verify it through command output.
	term := termsnap.Open(t, "/bin/sh",
		termsnap.WithArgs("-c", "echo $TERMSNAP_TEST_VAR && read line"),
		termsnap.WithEnv("TERMSNAP_TEST_VAR=hello_from_env"),
	)
	term.WaitFor(termsnap.Text("hello_from_env"))
}

func TestWithDir(t *testing.T) {
	// WithDir sets the working directory.
	term := termsnap.Open(t, "/bin/sh",
		termsnap.WithArgs("-c", "pwd && read line"),
		termsnap.WithDir(os.TempDir()),
	)
	// The output should contain a path.
	term.WaitFor(termsnap.Regexp(`/`))
}

func TestWithTimeout(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithTimeout(10*time.Second))
	term.WaitFor(termsnap.Text("ready>"))
}

func TestWithPollInterval(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithPollInterval(100*time.Millisecond))
	term.WaitFor(termsnap.Text("ready>"))
}

func TestCtrlC(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	term.Press(termsnap.Ctrl('c'))
	// Ctrl-C sends SIGINT through the line discipline; the process dies
	// from the signal and reports -1.
	code := term.WaitExit(termsnap.WithinTimeout(10 * time.Second))
	if code == 0 {
		t.Errorf("expected non-zero exit code, got %d", code)
	}
}

func TestMatchSnapshotUpdate(t *testing.T) {
	// Only run snapshot update test when TERMSNAP_UPDATE is set.
	if os.Getenv("TERMSNAP_UPDATE") != "1" {
		t.Skip("skipping snapshot update test (set TERMSNAP_UPDATE=1)")
	}

	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))
	term.MatchSnapshot("ready-screen")
}

func TestParallelSubtests(t *testing.T) {
	for i := range 5 {
		t.Run(fmt.Sprintf("subtest-%d", i), func(t *testing.T) {
			t.Parallel()
			term := termsnap.Open(t, testBinary)
			term.WaitFor(termsnap.Text("ready>"))

			msg := fmt.Sprintf("parallel-%d", i)
			term.Type(msg)
			term.Press(termsnap.Enter)
			term.WaitFor(termsnap.Text("echo: " + msg))
		})
	}
}

func TestStressParallel(t *testing.T) {
	// Run 25 parallel subtests to verify no cross-test leakage.
	// Each subtest gets its own terminal and verifies isolation.
	for i := range 25 {
		t.Run(fmt.Sprintf("stress-%d", i), func(t *testing.T) {
			t.Parallel()
			term := termsnap.Open(t, testBinary)
			term.WaitFor(termsnap.Text("ready>"))

			msg := fmt.Sprintf("stress-msg-%d", i)
			term.Type(msg)
			term.Press(termsnap.Enter)
			term.WaitFor(termsnap.Text("echo: " + msg))

			// Verify the screen contains our message, not another test's.
			screen := term.Screen()
			if !screen.Contains("echo: " + msg) {
				t.Errorf("expected screen to contain our echo, got:\n%s", screen)
			}
		})
	}
}

func TestCursorMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))
	term.WaitFor(termsnap.Cursor(0, 6))
}

func TestSendKeys(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	// Use raw SendKeys to send literal text.
	term.SendKeys("h", "i")
	term.WaitFor(termsnap.Text("hi"))
}

func TestMultipleCommands(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	// First command.
	term.Type("first")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("echo: first"))

	// Second command.
	term.Type("second")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("echo: second"))

	// Third command.
	term.Type("third")
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("echo: third"))
}

func TestBackspace(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	// Type text, use backspace to correct, then press Enter.
	// The terminal line discipline handles backspace.
	term.Type("helloo")
	term.Press(termsnap.Backspace)
	// After backspace, "hello" remains. Type more and send.
	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.Text("echo: hello"))
}

func TestWaitStable(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithSettle(50*time.Millisecond))
	term.WaitFor(termsnap.Text("ready>"))

	term.Type("lines 3")
	term.Press(termsnap.Enter)
	screen := term.WaitStable()
	if !screen.Contains("line 3") {
		t.Errorf("expected settled screen to contain 'line 3', got:\n%s", screen)
	}
}

func TestWaitStableTimeout(t *testing.T) {
	if os.Getenv(waitStableTimeoutHelperEnv) == "1" {
		term := termsnap.Open(t, testBinary, termsnap.WithArgs("flood"))
		_ = term.WaitStable(termsnap.WithinTimeout(150 * time.Millisecond))
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run", "^TestWaitStableTimeout$")
	cmd.Env = append(os.Environ(), waitStableTimeoutHelperEnv+"=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected subprocess to fail, output:\n%s", string(out))
	}
	if !strings.Contains(string(out), "termsnap: wait-stable: output did not settle") {
		t.Fatalf("expected wait-stable message, got:\n%s", string(out))
	}
}

func TestWaitForProcessExit(t *testing.T) {
	if os.Getenv(waitForExitHelperEnv) == "1" {
		term := termsnap.Open(t, testBinary)
		term.WaitFor(termsnap.Text("ready>"))
		term.Type("quit")
		term.Press(termsnap.Enter)
		term.WaitFor(termsnap.Text("never appears"), termsnap.WithinTimeout(10*time.Second))
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run", "^TestWaitForProcessExit$")
	cmd.Env = append(os.Environ(), waitForExitHelperEnv+"=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected subprocess to fail, output:\n%s", string(out))
	}
	if !strings.Contains(string(out), "termsnap: wait-for: process exited unexpectedly (status 0)") {
		t.Fatalf("expected process exit message, got:\n%s", string(out))
	}
}

func TestOpenMissingBinary(t *testing.T) {
	if os.Getenv(openMissingHelperEnv) == "1" {
		termsnap.Open(t, "/nonexistent/termsnap-binary")
		return
	}

	cmd := exec.Command(os.Args[0], "-test.run", "^TestOpenMissingBinary$")
	cmd.Env = append(os.Environ(), openMissingHelperEnv+"=1")
	out, err := cmd.CombinedOutput()
	if err == nil {
		t.Fatalf("expected subprocess to fail, output:\n%s", string(out))
	}
	if !strings.Contains(string(out), "termsnap: open: spawn /nonexistent/termsnap-binary") {
		t.Fatalf("expected spawn failure, got:\n%s", string(out))
	}
}

func TestColorMatchers(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithArgs("colors"))
	term.WaitFor(termsnap.Text("ready>"))

	term.WaitFor(termsnap.All(
		termsnap.Foreground(0, 0, termsnap.Indexed(1)),
		termsnap.Foreground(0, 3, termsnap.DefaultColor),
		termsnap.Foreground(0, 4, termsnap.Indexed(2)),
		termsnap.Foreground(0, 9, termsnap.Indexed(208)),
		termsnap.Background(0, 16, termsnap.RGB(10, 20, 30)),
		termsnap.Background(0, 19, termsnap.DefaultColor),
	))

	screen := term.Screen()
	if got := screen.Foreground(1, 0); got != termsnap.DefaultColor {
		t.Errorf("expected default foreground on the prompt, got %s", got)
	}
	if got := screen.Foreground(99, 99); got != termsnap.DefaultColor {
		t.Errorf("expected default foreground out of bounds, got %s", got)
	}
}

func TestColorValues(t *testing.T) {
	if termsnap.Indexed(1) == termsnap.DefaultColor || termsnap.RGB(0, 0, 0) == termsnap.DefaultColor {
		t.Error("expected explicit colors to differ from the default color")
	}
	if termsnap.Indexed(1) != termsnap.Indexed(1) {
		t.Error("expected equal indexed colors to compare equal")
	}
	for c, want := range map[termsnap.Color]string{
		termsnap.DefaultColor:    "default",
		termsnap.Indexed(208):    "indexed(208)",
		termsnap.RGB(10, 20, 30): "rgb(10,20,30)",
	} {
		if c.String() != want {
			t.Errorf("expected %s, got %s", want, c)
		}
	}
}

func TestAltScreenMatcher(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithArgs("alt"))
	term.WaitFor(termsnap.All(termsnap.AltScreen(), termsnap.Text("ALT SCREEN")))

	if term.Screen().Contains("main screen") {
		t.Error("primary screen content should be hidden while the alternate screen is active")
	}

	term.Press(termsnap.Enter)
	term.WaitFor(termsnap.All(
		termsnap.Not(termsnap.AltScreen()),
		termsnap.Line(0, "main screen"),
		termsnap.Text("back"),
	))
}

func TestApplicationCursorKeys(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithArgs("appkeys"))
	term.WaitFor(termsnap.Text("READY"))

	term.Press(termsnap.Up)
	term.WaitFor(termsnap.Text("got: 1b4f41"))

	term.Press(termsnap.F5)
	term.WaitFor(termsnap.Text("got: 1b5b31357e"))

	term.Press(termsnap.Up, termsnap.Down)
	term.WaitFor(termsnap.Text("1b4f42"))

	term.SendKeys("alt+left")
	term.WaitFor(termsnap.Text("got: 1b1b4f44"))

	if screen := term.Screen(); screen.Contains("5b41") || screen.Contains("5b42") || screen.Contains("5b44") {
		t.Errorf("expected only SS3 cursor keys, got:\n%s", screen)
	}
}

func TestRawKeys(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithArgs("keys"))
	term.WaitFor(termsnap.Text("READY"))

	term.Press(termsnap.Ctrl('c'))
	term.WaitFor(termsnap.Text("got: 03"))

	term.Press(termsnap.Alt('x'))
	term.WaitFor(termsnap.Text("got: 1b78"))

	term.SendKeys("q")
	if code := term.WaitExit(); code != 0 {
		t.Errorf("expected exit code 0, got %d", code)
	}
	if term.Screen().Contains("READY") {
		t.Error("expected the screen to be cleared on exit")
	}
}

func TestQueriesAreAnswered(t *testing.T) {
	term := termsnap.Open(t, testBinary, termsnap.WithArgs("query"))
	term.WaitFor(termsnap.Text("reply: [5;7R"))
}

func TestImage(t *testing.T) {
	term := termsnap.Open(t, testBinary)
	term.WaitFor(termsnap.Text("ready>"))

	img := term.Image()
	if got := img.Bounds().Size(); got.X != 80*16 || got.Y != 24*32 {
		t.Fatalf("expected 1280x768 image, got %v", got)
	}

	path := filepath.Join(t.TempDir(), "screen.png")
	term.SavePNG(path)

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open png: %v", err)
	}
	defer f.Close()
	decoded, err := png.Decode(f)
	if err != nil {
		t.Fatalf("decode png: %v", err)
	}
	if decoded.Bounds() != img.Bounds() {
		t.Errorf("expected decoded bounds %v, got %v", img.Bounds(), decoded.Bounds())
	}
}

func TestScreenCursorAndTitle(t *testing.T) {
	term := termsnap.Open(t, "/bin/sh",
		termsnap.WithArgs("-c", `printf '\033]2;my title\007hi' && read line`),
	)
	screen := term.WaitForScreen(termsnap.Text("hi"))

	if row, col := screen.Cursor(); row != 0 || col != 2 {
		t.Errorf("expected cursor at 0,2, got %d,%d", row, col)
	}
	if screen.Title() != "my title" {
		t.Errorf("expected title %q, got %q", "my title", screen.Title())
	}

	scrollback := term.Scrollback()
	if row, col := scrollback.Cursor(); row != -1 || col != -1 {
		t.Errorf("expected no cursor on scrollback, got %d,%d", row, col)
	}
}
