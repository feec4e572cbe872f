// Package termsnap provides black-box testing for terminal user interfaces.
//
// A test starts the program under test on its own pseudo-terminal. Every
// byte the program writes is fed to an in-process VT100/xterm emulator, so
// assertions run against the cell grid the program drew, colors included,
// without tmux, screen or a display. Failures are reported through
// [testing.TB].
//
// # Example
//
//	func TestMenu(t *testing.T) {
//		term := termsnap.Open(t, "./menu", termsnap.WithSize(100, 30))
//		term.WaitFor(termsnap.Text("Main menu"))
//		term.Press(termsnap.Down, termsnap.Enter)
//		term.WaitFor(termsnap.LineContains(2, "Settings"))
//		term.SavePNG("testdata/settings.png")
//	}
//
// The Terminal is torn down by t.Cleanup when the test ends.
//
// # Processes
//
// [Open] makes the binary the leader of a new session whose controlling
// terminal is the pseudo-terminal, with TERM=xterm-256color and COLUMNS and
// LINES matching the size. A reader goroutine keeps the emulator current
// until the program exits. At cleanup the whole process group is killed.
//
// Cursor position and device attribute queries are answered by the
// emulator, so programs that probe the terminal at startup start normally.
//
// # Waiting
//
// Tests should wait for conditions rather than sleep. [Terminal.WaitFor] and
// [Terminal.WaitForScreen] re-check a [Matcher] against fresh captures:
//
//   - every 50ms for up to 5s unless [WithTimeout] or [WithPollInterval]
//     say otherwise
//   - [WithinTimeout] and [WithWaitPollInterval] change a single call
//   - intervals below 10ms are raised to 10ms, and negative values fail
//     the test
//   - a program that exits fails the wait at once, after one last check of
//     its final screen
//
// [Terminal.WaitStable] returns once output has paused for the settle period
// (180ms, see [WithSettle]), and [Terminal.WaitExit] returns the exit code.
//
// Matchers cover text ([Text], [Regexp], [Line], [LineContains], [Empty]),
// state ([Cursor], [AltScreen]), color ([Foreground], [Background]) and
// combinations ([Not], [All], [Any]).
//
// # Screens and images
//
// A [Screen] is an immutable capture. [Terminal.Screen] holds the visible
// grid, and [Terminal.Scrollback] adds the lines that scrolled away above it.
// [Terminal.Image] renders the grid with a fixed-cell font and
// [Terminal.SavePNG] writes that image to disk.
//
// # Golden files
//
// [Terminal.MatchSnapshot], [Screen.MatchSnapshot] and
// [Terminal.MatchImageSnapshot] compare against files under testdata.
// Running with TERMSNAP_UPDATE=1 rewrites them. Text snapshots drop trailing
// spaces and trailing blank lines and end in exactly one newline.
//
// # Failure output
//
// A failed wait prints the expectation, why it stopped (timeout or exit
// status), and the last few screens it saw, oldest first.
//
// termsnap needs Go 1.24 or later on Linux or macOS.
package termsnap
