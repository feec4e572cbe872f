package capture

import (
	"bytes"
	"context"
	"errors"
	"image"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cboone/termsnap/internal/config"
)

type failingWriter struct{ calls int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("disk full")
}

func startPump(t *testing.T) (*Pump, *io.PipeWriter, *bytes.Buffer) {
	t.Helper()
	pr, pw := io.Pipe()
	var dst bytes.Buffer
	p := NewPump(pr, &dst, nil)
	go p.Run()
	t.Cleanup(func() { _ = pw.Close() })
	return p, pw, &dst
}

func TestPumpCopiesAndCounts(t *testing.T) {
	pr, pw := io.Pipe()
	var dst, tee bytes.Buffer
	p := NewPump(pr, &dst, &tee)
	go p.Run()

	assert.True(t, p.LastByte().IsZero())
	_, err := pw.Write([]byte("hello "))
	require.NoError(t, err)
	_, err = pw.Write([]byte("world"))
	require.NoError(t, err)
	require.NoError(t, pw.Close())

	<-p.Done()
	assert.True(t, p.Finished())
	assert.NoError(t, p.Err())
	assert.Equal(t, "hello world", dst.String())
	assert.Equal(t, "hello world", tee.String())
	assert.Equal(t, int64(11), p.Bytes())
	assert.False(t, p.LastByte().IsZero())
}

func TestPumpDropsFailingTee(t *testing.T) {
	pr, pw := io.Pipe()
	var dst bytes.Buffer
	tee := &failingWriter{}
	p := NewPump(pr, &dst, tee)
	go p.Run()

	for _, s := range []string{"a", "b", "c"} {
		_, err := pw.Write([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, pw.Close())
	<-p.Done()

	assert.Equal(t, "abc", dst.String())
	assert.Equal(t, 1, tee.calls)
}

func TestPumpReportsReadError(t *testing.T) {
	pr, pw := io.Pipe()
	p := NewPump(pr, io.Discard, nil)
	assert.NoError(t, p.Err())
	go p.Run()

	boom := errors.New("boom")
	require.NoError(t, pw.CloseWithError(boom))
	<-p.Done()
	assert.ErrorIs(t, p.Err(), boom)
}

func TestSettleAfterQuietPeriod(t *testing.T) {
	p, pw, _ := startPump(t)
	_, err := pw.Write([]byte("x"))
	require.NoError(t, err)

	waited, timedOut, err := Settle(context.Background(), p, time.Now(), 30*time.Millisecond, time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.GreaterOrEqual(t, waited, 25*time.Millisecond)
	assert.Less(t, waited, time.Second)
}

func TestSettleHitsCeilingOnContinuousOutput(t *testing.T) {
	p, pw, _ := startPump(t)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		tick := time.NewTicker(5 * time.Millisecond)
		defer tick.Stop()
		for {
			select {
			case <-stop:
				return
			case <-tick.C:
				if _, err := pw.Write([]byte("more")); err != nil {
					return
				}
			}
		}
	}()

	start := time.Now()
	waited, timedOut, err := Settle(context.Background(), p, start, 100*time.Millisecond, 50*time.Millisecond, 5*time.Millisecond)
	require.NoError(t, err)
	assert.True(t, timedOut)
	assert.GreaterOrEqual(t, waited, 50*time.Millisecond)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSettleReturnsWhenStreamEnds(t *testing.T) {
	p, pw, _ := startPump(t)
	require.NoError(t, pw.Close())

	start := time.Now()
	_, timedOut, err := Settle(context.Background(), p, start, time.Second, 5*time.Second, 5*time.Millisecond)
	require.NoError(t, err)
	assert.False(t, timedOut)
	assert.Less(t, time.Since(start), time.Second)
}

func TestSettleHonoursContext(t *testing.T) {
	p, _, _ := startPump(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Settle(ctx, p, time.Now(), time.Second, 5*time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, err, context.Canceled)
}

func TestMemorySink(t *testing.T) {
	sink := NewMemorySink()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))

	ref1, err := sink.Store(context.Background(), Step{Index: 0}, img)
	require.NoError(t, err)
	ref2, err := sink.Store(context.Background(), Step{Index: 1}, img)
	require.NoError(t, err)

	assert.Equal(t, "mem:1/0", ref1)
	assert.Equal(t, "mem:2/1", ref2)
	assert.Equal(t, 2, sink.Len())

	data, ok := sink.Get(ref2)
	require.True(t, ok)
	assert.True(t, bytes.HasPrefix(data, []byte("\x89PNG")))

	_, ok = sink.Get("mem:9/9")
	assert.False(t, ok)
}

func TestStatusText(t *testing.T) {
	for _, s := range []Status{Completed, CompletedEarly, Aborted} {
		text, err := s.MarshalText()
		require.NoError(t, err)
		var got Status
		require.NoError(t, got.UnmarshalText(text))
		assert.Equal(t, s, got)
	}
	assert.Equal(t, "completed_early", CompletedEarly.String())

	var s Status
	assert.Error(t, s.UnmarshalText([]byte("exploded")))
	assert.Equal(t, "status(9)", Status(9).String())
}

func TestActionLabel(t *testing.T) {
	assert.Equal(t, "ctrl+c", Key("ctrl+c").Label())
	assert.Equal(t, "hello", Text("hello").Label())
	assert.Equal(t, "text:", Text("").Label())
	assert.Equal(t, "resize:100x30", ResizeTo(config.Size{Cols: 100, Rows: 30}).Label())

	acts := Keys("down", "enter")
	require.Len(t, acts, 2)
	assert.Equal(t, Key("enter"), acts[1])
}

func TestEncodeActions(t *testing.T) {
	out, err := encodeActions([]Action{Key("enter"), Text("hi"), ResizeTo(config.Size{Cols: 10, Rows: 5})})
	require.NoError(t, err)
	assert.Equal(t, []byte("\r"), out[0])
	assert.Equal(t, []byte("hi"), out[1])
	assert.Nil(t, out[2])

	_, err = encodeActions([]Action{Key("enter"), Key("nosuchkey")})
	assert.ErrorContains(t, err, "input 2")

	_, err = encodeActions([]Action{ResizeTo(config.Size{})})
	assert.ErrorContains(t, err, "invalid size")
}

func TestSleepHonoursContext(t *testing.T) {
	assert.NoError(t, sleep(context.Background(), 0))
	assert.NoError(t, sleep(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleep(ctx, time.Hour), context.Canceled)
}

func TestParseInputs(t *testing.T) {
	got, err := ParseInputs(" down, ,ctrl+c,text:hi there,resize:100x30,")
	require.NoError(t, err)
	assert.Equal(t, []Action{
		Key("down"),
		Key("ctrl+c"),
		Text("hi there"),
		ResizeTo(config.Size{Cols: 100, Rows: 30}),
	}, got)

	got, err = ParseInputs("")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = ParseInputs("up,resize:tiny")
	assert.ErrorContains(t, err, "input 2")

	got, err = ParseInputs(`text:a\,b,\,,comma,text:c\d`)
	require.NoError(t, err)
	assert.Equal(t, []Action{
		Text("a,b"),
		Key(","),
		Key("comma"),
		Text(`c\d`),
	}, got)
}
