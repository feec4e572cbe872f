package ptyproc

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, s *Session) string {
	t.Helper()
	r, err := s.Stream()
	require.NoError(t, err)

	out := make(chan []byte, 1)
	go func() {
		b, _ := io.ReadAll(r)
		out <- b
	}()
	select {
	case b := <-out:
		return string(b)
	case <-time.After(10 * time.Second):
		t.Fatal("timed out reading pty output")
		return ""
	}
}

func waitDone(t *testing.T, s *Session) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(10 * time.Second):
		t.Fatal("child did not exit")
	}
}

func TestSpawnAndRead(t *testing.T) {
	s, err := Spawn("sh", []string{"-c", "echo hello; exit 3"}, Options{})
	require.NoError(t, err)
	defer s.Terminate()

	assert.Contains(t, readAll(t, s), "hello")
	waitDone(t, s)
	assert.False(t, s.Alive())
	assert.Equal(t, 3, s.ExitCode())
	assert.True(t, filepath.IsAbs(s.Binary()))
}

func TestSpawnEnvironment(t *testing.T) {
	s, err := Spawn("sh", []string{"-c", `echo "$TERM $COLUMNS $LINES $EXTRA"`}, Options{
		Cols: 90,
		Rows: 20,
		Env:  []string{"EXTRA=yes"},
	})
	require.NoError(t, err)
	defer s.Terminate()

	assert.Contains(t, readAll(t, s), "xterm-256color 90 20 yes")
}

func TestSpawnDir(t *testing.T) {
	dir := t.TempDir()
	s, err := Spawn("sh", []string{"-c", "pwd"}, Options{Dir: dir})
	require.NoError(t, err)
	defer s.Terminate()

	want, err := filepath.EvalSymlinks(dir)
	require.NoError(t, err)
	assert.Contains(t, readAll(t, s), want)
}

func TestSpawnMissingBinary(t *testing.T) {
	tests := []string{
		"termsnap-definitely-not-installed",
		"./no/such/binary",
		"",
	}
	for _, bin := range tests {
		t.Run(bin, func(t *testing.T) {
			s, err := Spawn(bin, nil, Options{})
			require.Error(t, err)
			assert.Nil(t, s)

			var spawnErr *SpawnError
			require.True(t, errors.As(err, &spawnErr))
			assert.Equal(t, bin, spawnErr.Binary)
			assert.NotNil(t, errors.Unwrap(err))
		})
	}
}

func TestSpawnNotExecutable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o644))

	_, err := Spawn(path, nil, Options{})
	var spawnErr *SpawnError
	require.True(t, errors.As(err, &spawnErr))
}

func TestWriteAfterExit(t *testing.T) {
	s, err := Spawn("sh", []string{"-c", "exit 0"}, Options{})
	require.NoError(t, err)
	defer s.Terminate()

	readAll(t, s)
	waitDone(t, s)

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestWriteEcho(t *testing.T) {
	s, err := Spawn("cat", nil, Options{})
	require.NoError(t, err)
	defer s.Terminate()

	r, err := s.Stream()
	require.NoError(t, err)

	_, err = s.Write([]byte("ping\r"))
	require.NoError(t, err)

	var got strings.Builder
	buf := make([]byte, 256)
	deadline := time.Now().Add(5 * time.Second)
	for !strings.Contains(got.String(), "ping") && time.Now().Before(deadline) {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		if err != nil {
			break
		}
	}
	assert.Contains(t, got.String(), "ping")
}

func TestWriteContextUnblocksStalledWrite(t *testing.T) {
	s, err := Spawn("sh", []string{"-c", "stty raw -echo; echo STALLED; exec sleep 30"}, Options{DrainTimeout: 2 * time.Second})
	require.NoError(t, err)
	defer s.Terminate()

	r, err := s.Stream()
	require.NoError(t, err)
	var got strings.Builder
	buf := make([]byte, 256)
	for !strings.Contains(got.String(), "STALLED") {
		n, err := r.Read(buf)
		got.Write(buf[:n])
		require.NoError(t, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err = s.WriteContext(ctx, make([]byte, 1<<20))
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Less(t, time.Since(start), 5*time.Second)
	assert.False(t, s.Alive())

	_, err = s.WriteContext(context.Background(), []byte("x"))
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestStreamOnce(t *testing.T) {
	s, err := Spawn("sleep", []string{"5"}, Options{})
	require.NoError(t, err)
	defer s.Terminate()

	_, err = s.Stream()
	require.NoError(t, err)
	_, err = s.Stream()
	assert.ErrorIs(t, err, ErrStreamTaken)
}

type recordingMirror struct {
	mu    sync.Mutex
	sizes [][2]int
}

func (m *recordingMirror) Resize(rows, cols int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sizes = append(m.sizes, [2]int{rows, cols})
}

func TestResizeMirrors(t *testing.T) {
	mirror := &recordingMirror{}
	s, err := Spawn("sleep", []string{"5"}, Options{Cols: 80, Rows: 24, Mirror: mirror})
	require.NoError(t, err)
	defer s.Terminate()

	cols, rows := s.Size()
	assert.Equal(t, 80, cols)
	assert.Equal(t, 24, rows)

	require.NoError(t, s.Resize(100, 30))
	cols, rows = s.Size()
	assert.Equal(t, 100, cols)
	assert.Equal(t, 30, rows)
	assert.Equal(t, [][2]int{{30, 100}}, mirror.sizes)

	assert.Error(t, s.Resize(0, 10))
}

func TestTerminate(t *testing.T) {
	s, err := Spawn("sleep", []string{"30"}, Options{DrainTimeout: 2 * time.Second})
	require.NoError(t, err)
	require.True(t, s.Alive())

	start := time.Now()
	require.NoError(t, s.Terminate())
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.False(t, s.Alive())
	waitDone(t, s)
	assert.Equal(t, -1, s.ExitCode())

	// Repeated calls return the first result without touching the PTY.
	assert.NoError(t, s.Terminate())
	assert.NoError(t, s.Close())

	_, err = s.Write([]byte("x"))
	assert.ErrorIs(t, err, ErrSessionClosed)
	assert.ErrorIs(t, s.Resize(10, 10), ErrSessionClosed)
}

func TestTerminateKillsProcessGroup(t *testing.T) {
	s, err := Spawn("sh", []string{"-c", "sleep 30 & echo $!; wait"}, Options{})
	require.NoError(t, err)

	r, err := s.Stream()
	require.NoError(t, err)
	buf := make([]byte, 64)
	n, err := r.Read(buf)
	require.NoError(t, err)
	child := strings.TrimSpace(string(buf[:n]))
	require.NotEmpty(t, child)

	require.NoError(t, s.Terminate())

	// The background sleep shares the group and must be gone shortly.
	deadline := time.Now().Add(3 * time.Second)
	for {
		if _, err := os.Stat("/proc/" + child); os.IsNotExist(err) {
			return
		}
		if time.Now().After(deadline) {
			data, _ := os.ReadFile("/proc/" + child + "/stat")
			if strings.Contains(string(data), ") Z ") {
				return
			}
			t.Fatalf("process %s still running after Terminate", child)
		}
		time.Sleep(20 * time.Millisecond)
	}
}
