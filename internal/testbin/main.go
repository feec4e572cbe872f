// Command testbin is a minimal TUI fixture program for testing termsnap.
// Its first argument selects a mode; without one it runs in line mode.
//
// Line mode (default):
//   - On startup, prints "ready>" prompt
//   - On Enter, processes the current line:
//   - "quit": exits with status 0
//   - "fail": exits with status 1
//   - "lines N": prints N numbered lines (for scrollback testing)
//   - "size": prints the terminal size
//   - Anything else: prints "echo: <line>" and a new "ready>" prompt
//
// Other modes:
//   - keys: raw mode, prints READY, then "got: <hex>" for every read; "q"
//     clears the screen and exits
//   - appkeys: like keys, with application cursor mode enabled
//   - flood: writes numbered lines forever
//   - alt: draws on the alternate screen until a line is entered, then
//     returns to the main screen
//   - colors: prints a colored sample, then continues in line mode
//   - query: asks the terminal for the cursor position and prints the
//     answer
//   - stall: raw mode, prints STALLED and never reads its input
package main

import (
	"bufio"
	"encoding/hex"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"golang.org/x/term"
)

func main() {
	mode := ""
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	switch mode {
	case "keys":
		keys(false)
	case "appkeys":
		keys(true)
	case "flood":
		flood()
	case "alt":
		alt()
	case "query":
		query()
	case "stall":
		restore := raw()
		defer restore()
		fmt.Print("STALLED\r\n")
		time.Sleep(time.Hour)
	case "colors":
		fmt.Print("\x1b[31mred\x1b[0m \x1b[1;32mbold\x1b[0m \x1b[38;5;208morange\x1b[0m \x1b[48;2;10;20;30mrgb\x1b[0m\n")
		lineMode()
	default:
		lineMode()
	}
}

func lineMode() {
	// Track terminal size via SIGWINCH.
	var (
		mu         sync.Mutex
		cols, rows int
	)

	if c, r, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
		cols, rows = c, r
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGWINCH)
	go func() {
		for range sigCh {
			if c, r, err := term.GetSize(int(os.Stdout.Fd())); err == nil {
				mu.Lock()
				cols, rows = c, r
				mu.Unlock()
			}
		}
	}()

	fmt.Print("ready>")

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		input := scanner.Text()

		switch {
		case input == "quit":
			os.Exit(0)

		case input == "fail":
			os.Exit(1)

		case strings.HasPrefix(input, "lines "):
			countStr := strings.TrimPrefix(input, "lines ")
			count, parseErr := strconv.Atoi(countStr)
			if parseErr != nil {
				fmt.Printf("error: invalid count %q\n", countStr)
			} else {
				for i := 1; i <= count; i++ {
					fmt.Printf("line %d\n", i)
				}
			}
			fmt.Print("ready>")

		case input == "size":
			mu.Lock()
			fmt.Printf("size: %dx%d\n", cols, rows)
			mu.Unlock()
			fmt.Print("ready>")

		default:
			fmt.Printf("echo: %s\n", input)
			fmt.Print("ready>")
		}
	}
}

func raw() func() {
	fd := int(os.Stdin.Fd())
	state, err := term.MakeRaw(fd)
	if err != nil {
		fmt.Fprintf(os.Stderr, "raw mode: %v\n", err)
		os.Exit(2)
	}
	return func() { _ = term.Restore(fd, state) }
}

func keys(appCursor bool) {
	restore := raw()
	defer restore()

	if appCursor {
		fmt.Print("\x1b[?1h")
	}
	fmt.Print("READY\r\n")

	buf := make([]byte, 64)
	for {
		n, err := os.Stdin.Read(buf)
		if err != nil {
			return
		}
		if n == 1 && buf[0] == 'q' {
			fmt.Print("\x1b[2J\x1b[H")
			return
		}
		fmt.Printf("got: %s\r\n", hex.EncodeToString(buf[:n]))
	}
}

func flood() {
	w := bufio.NewWriter(os.Stdout)
	for i := 0; ; i++ {
		fmt.Fprintf(w, "flood %d\n", i)
		if i%64 == 0 {
			if err := w.Flush(); err != nil {
				return
			}
		}
	}
}

func alt() {
	fmt.Print("main screen\n")
	fmt.Print("\x1b[?1049h\x1b[2J\x1b[HALT SCREEN\x1b[3;1Halt>")
	bufio.NewScanner(os.Stdin).Scan()
	fmt.Print("\x1b[?1049l")
	fmt.Print("back\n")
	bufio.NewScanner(os.Stdin).Scan()
}

func query() {
	restore := raw()
	defer restore()

	fmt.Print("\x1b[5;7H\x1b[6n")
	var reply []byte
	buf := make([]byte, 1)
	for len(reply) < 32 {
		if _, err := os.Stdin.Read(buf); err != nil {
			return
		}
		reply = append(reply, buf[0])
		if buf[0] == 'R' {
			break
		}
	}
	fmt.Printf("\x1b[1;1Hreply: %s\r\n", strings.TrimPrefix(string(reply), "\x1b"))
	// Wait for any key so the screen stays up.
	_, _ = os.Stdin.Read(buf)
}
