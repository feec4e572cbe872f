package capture

import (
	"errors"
	"io"
	"sync/atomic"
	"time"
)

// Pump drains a PTY output stream into an emulator on its own goroutine,
// publishing the time of the last byte it saw. Callers only ever observe
// that timestamp; the emulator is fed exclusively by the pump.
type Pump struct {
	r   io.Reader
	dst io.Writer
	tee io.Writer

	last  atomic.Int64
	bytes atomic.Int64
	done  chan struct{}
	err   error
}

// NewPump returns a pump that copies r into dst and, if tee is non-nil,
// into tee as well. A failing tee is dropped; it never stops the pump.
func NewPump(r io.Reader, dst io.Writer, tee io.Writer) *Pump {
	return &Pump{r: r, dst: dst, tee: tee, done: make(chan struct{})}
}

// Run reads until the stream ends. It is meant to be started with go.
func (p *Pump) Run() {
	defer close(p.done)
	buf := make([]byte, 32*1024)
	for {
		n, err := p.r.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			_, _ = p.dst.Write(chunk)
			if p.tee != nil {
				if _, terr := p.tee.Write(chunk); terr != nil {
					p.tee = nil
				}
			}
			p.bytes.Add(int64(n))
			p.last.Store(time.Now().UnixNano())
		}
		if err != nil {
			if !errors.Is(err, io.EOF) {
				p.err = err
			}
			return
		}
	}
}

// LastByte returns when output was last received, or the zero time.
func (p *Pump) LastByte() time.Time {
	ns := p.last.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

// Bytes returns the number of bytes received so far.
func (p *Pump) Bytes() int64 {
	return p.bytes.Load()
}

// Done is closed when the stream has ended and everything read was fed.
func (p *Pump) Done() <-chan struct{} {
	return p.done
}

// Finished reports whether Done is closed.
func (p *Pump) Finished() bool {
	select {
	case <-p.done:
		return true
	default:
		return false
	}
}

// Err returns the read error that stopped the pump, if it was not a clean
// end of stream. It is only meaningful once Done is closed.
func (p *Pump) Err() error {
	select {
	case <-p.done:
		return p.err
	default:
		return nil
	}
}
