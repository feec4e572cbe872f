// Package ptyproc runs a child process on a pseudo-terminal and owns the
// master side for its whole lifetime. It is internal to termsnap.
package ptyproc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/creack/pty"
)

// DefaultDrainTimeout bounds how long Terminate waits for the killed
// process to be reaped.
const DefaultDrainTimeout = 3 * time.Second

var (
	// ErrSessionClosed is returned by operations on a session whose process
	// has exited or that has been terminated.
	ErrSessionClosed = errors.New("ptyproc: session closed")

	// ErrStreamTaken is returned when Stream is called more than once.
	ErrStreamTaken = errors.New("ptyproc: output stream already taken")
)

// SpawnError reports a failure to start the child.
type SpawnError struct {
	Binary string
	Err    error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("spawn %s: %v", e.Binary, e.Err)
}

func (e *SpawnError) Unwrap() error {
	return e.Err
}

// Resizer receives the new size before the OS PTY is resized, so that the
// output the child produces in response is interpreted at the new size.
type Resizer interface {
	Resize(rows, cols int)
}

// Options configures Spawn.
type Options struct {
	// Dir is the working directory of the child. Empty means the current
	// directory.
	Dir string
	// Env holds extra KEY=VALUE entries. They override the inherited
	// environment and the terminal variables set by Spawn.
	Env []string
	// Cols and Rows default to 80x24.
	Cols, Rows int
	// Mirror, if set, is resized together with the PTY.
	Mirror Resizer
	// DrainTimeout defaults to DefaultDrainTimeout.
	DrainTimeout time.Duration
}

// Session is a running child on a PTY.
type Session struct {
	binary string
	cmd    *exec.Cmd
	ptmx   *os.File
	pid    int
	drain  time.Duration
	mirror Resizer

	mu         sync.Mutex
	cols, rows int

	done     chan struct{}
	exitCode atomic.Int64

	streamTaken atomic.Bool
	terminated  atomic.Bool
	closeOnce   sync.Once
	closeErr    error
}

// Spawn starts binary with args on a new PTY of the requested size.
func Spawn(binary string, args []string, opts Options) (*Session, error) {
	path, err := resolve(binary)
	if err != nil {
		return nil, &SpawnError{Binary: binary, Err: err}
	}

	cols, rows := opts.Cols, opts.Rows
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	drain := opts.DrainTimeout
	if drain <= 0 {
		drain = DefaultDrainTimeout
	}

	cmd := exec.Command(path, args...)
	cmd.Dir = opts.Dir
	cmd.Env = childEnv(cols, rows, opts.Env)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)})
	if err != nil {
		return nil, &SpawnError{Binary: binary, Err: err}
	}

	s := &Session{
		binary: path,
		cmd:    cmd,
		ptmx:   ptmx,
		pid:    cmd.Process.Pid,
		drain:  drain,
		mirror: opts.Mirror,
		cols:   cols,
		rows:   rows,
		done:   make(chan struct{}),
	}
	s.exitCode.Store(-1)
	go s.wait()
	return s, nil
}

func resolve(binary string) (string, error) {
	if binary == "" {
		return "", errors.New("empty binary name")
	}
	if strings.ContainsRune(binary, filepath.Separator) {
		abs, err := filepath.Abs(binary)
		if err != nil {
			return "", err
		}
		if _, err := os.Stat(abs); err != nil {
			return "", err
		}
		return abs, nil
	}
	return exec.LookPath(binary)
}

func childEnv(cols, rows int, extra []string) []string {
	env := os.Environ()
	env = append(env,
		"TERM=xterm-256color",
		"COLUMNS="+strconv.Itoa(cols),
		"LINES="+strconv.Itoa(rows),
	)
	return append(env, extra...)
}

func (s *Session) wait() {
	_ = s.cmd.Wait()
	if st := s.cmd.ProcessState; st != nil {
		s.exitCode.Store(int64(st.ExitCode()))
	}
	close(s.done)
}

// Binary returns the resolved path of the child executable.
func (s *Session) Binary() string { return s.binary }

// Pid returns the child's process id.
func (s *Session) Pid() int { return s.pid }

// Size returns the current PTY size.
func (s *Session) Size() (cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cols, s.rows
}

// Done is closed once the child has exited and been reaped.
func (s *Session) Done() <-chan struct{} { return s.done }

// Alive reports whether the child is still running.
func (s *Session) Alive() bool {
	select {
	case <-s.done:
		return false
	default:
		return !s.terminated.Load()
	}
}

// ExitCode returns the child's exit code, or -1 while it is running or when
// it was killed by a signal.
func (s *Session) ExitCode() int {
	return int(s.exitCode.Load())
}

// Write sends p to the child's input.
func (s *Session) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.Alive() {
		return 0, ErrSessionClosed
	}
	n, err := s.ptmx.Write(p)
	if err != nil {
		if !s.Alive() || errors.Is(err, os.ErrClosed) || errors.Is(err, syscall.EIO) {
			return n, ErrSessionClosed
		}
		return n, fmt.Errorf("pty write: %w", err)
	}
	return n, nil
}

// WriteContext is Write, abandoned when ctx ends. The session is then
// terminated, which makes a write the child never drains return, and the
// context's error is reported.
func (s *Session) WriteContext(ctx context.Context, p []byte) (int, error) {
	if ctx.Done() == nil {
		return s.Write(p)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}

	type result struct {
		n   int
		err error
	}
	ch := make(chan result, 1)
	go func() {
		n, err := s.Write(p)
		ch <- result{n, err}
	}()

	select {
	case res := <-ch:
		return res.n, res.err
	case <-ctx.Done():
		_ = s.Terminate()
		return 0, ctx.Err()
	}
}

// Resize changes the terminal size. The mirror is updated first, in the
// same critical section as the OS resize.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid size %dx%d", cols, rows)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.terminated.Load() {
		return ErrSessionClosed
	}
	if s.mirror != nil {
		s.mirror.Resize(rows, cols)
	}
	if err := pty.Setsize(s.ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("pty resize: %w", err)
	}
	s.cols, s.rows = cols, rows
	return nil
}

// Stream returns the child's output. It may be called once. The reader
// reports io.EOF when the child has exited and its output is drained, or
// once the session is terminated.
func (s *Session) Stream() (io.Reader, error) {
	if !s.streamTaken.CompareAndSwap(false, true) {
		return nil, ErrStreamTaken
	}
	return eofReader{s.ptmx}, nil
}

// eofReader maps the errors a PTY master returns after the slave side is
// gone to io.EOF.
type eofReader struct {
	r io.Reader
}

func (e eofReader) Read(p []byte) (int, error) {
	n, err := e.r.Read(p)
	if err != nil && (errors.Is(err, syscall.EIO) || errors.Is(err, os.ErrClosed)) {
		err = io.EOF
	}
	return n, err
}

// Terminate kills the child's process group, waits up to the drain timeout
// for it to be reaped and closes the PTY master. It is safe to call more
// than once; only the first call does any work.
func (s *Session) Terminate() error {
	s.closeOnce.Do(func() {
		s.terminated.Store(true)

		select {
		case <-s.done:
		default:
			// pty.Start makes the child a session leader, so its pid is
			// also its process group id.
			_ = syscall.Kill(-s.pid, syscall.SIGKILL)
			_ = s.cmd.Process.Kill()
		}

		timer := time.NewTimer(s.drain)
		select {
		case <-s.done:
		case <-timer.C:
		}
		timer.Stop()

		s.closeErr = s.ptmx.Close()
	})
	return s.closeErr
}

// Close is Terminate, for use as an io.Closer.
func (s *Session) Close() error {
	return s.Terminate()
}
