// Package transcript records the raw traffic of a capture run so it can be
// replayed into an emulator later.
//
// A transcript starts with the line "TSNAP-REC1" and a one-line JSON header,
// both uncompressed. A zstd stream of events follows. Each event is a kind
// byte, the offset from the start of the recording in microseconds as a
// uvarint, and a payload: a length-prefixed byte string for output, input
// and marks, or two uvarints (cols, rows) for a resize.
package transcript

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/klauspost/compress/zstd"

	"github.com/cboone/termsnap/internal/vt"
)

const magic = "TSNAP-REC1\n"

// maxPayload bounds a single event so a corrupt length cannot allocate
// without limit.
const maxPayload = 16 << 20

// ErrFormat means the data is not a transcript or is corrupt.
var ErrFormat = errors.New("transcript: bad format")

// Kind identifies an event.
type Kind byte

const (
	Output Kind = 'o'
	Input  Kind = 'i'
	Resize Kind = 'r'
	Mark   Kind = 'm'
)

func (k Kind) String() string {
	switch k {
	case Output:
		return "output"
	case Input:
		return "input"
	case Resize:
		return "resize"
	case Mark:
		return "mark"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

// Header describes the recorded run.
type Header struct {
	Version int       `json:"version"`
	Cols    int       `json:"cols"`
	Rows    int       `json:"rows"`
	Binary  string    `json:"binary,omitempty"`
	Args    []string  `json:"args,omitempty"`
	Started time.Time `json:"started"`
}

// Event is one recorded occurrence. Data holds output, input or the mark
// label; Cols and Rows are set for resizes.
type Event struct {
	Kind   Kind
	Offset time.Duration
	Data   []byte
	Cols   int
	Rows   int
}

// Writer appends events to a transcript. It is safe for concurrent use,
// so the output pump and the orchestrator can share one.
type Writer struct {
	mu     sync.Mutex
	enc    *zstd.Encoder
	closer io.Closer
	start  time.Time
	buf    []byte
	err    error
}

// NewWriter writes the magic line and header to w and returns a Writer for
// the events. Close must be called to flush the compressed stream; it does
// not close w.
func NewWriter(w io.Writer, hdr Header) (*Writer, error) {
	if hdr.Version == 0 {
		hdr.Version = 1
	}
	if hdr.Started.IsZero() {
		hdr.Started = time.Now()
	}
	head, err := json.Marshal(hdr)
	if err != nil {
		return nil, fmt.Errorf("transcript: header: %w", err)
	}
	if _, err := io.WriteString(w, magic); err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	if _, err := w.Write(append(head, '\n')); err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	enc, err := zstd.NewWriter(w, zstd.WithEncoderLevel(zstd.SpeedFastest))
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	return &Writer{enc: enc, start: time.Now()}, nil
}

// Create writes a new transcript file at path. Closing the Writer closes
// the file.
func Create(path string, hdr Header) (*Writer, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	w, err := NewWriter(f, hdr)
	if err != nil {
		f.Close()
		return nil, err
	}
	w.closer = f
	return w, nil
}

// Write records program output.
func (w *Writer) Write(p []byte) (int, error) {
	if err := w.bytesEvent(Output, p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// Input records bytes sent to the program.
func (w *Writer) Input(p []byte) error {
	return w.bytesEvent(Input, p)
}

// Mark records a labelled point, typically a captured step.
func (w *Writer) Mark(label string) error {
	return w.bytesEvent(Mark, []byte(label))
}

// Resize records a terminal size change.
func (w *Writer) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("transcript: invalid size %dx%d", cols, rows)
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.head(Resize)
	b = binary.AppendUvarint(b, uint64(cols))
	b = binary.AppendUvarint(b, uint64(rows))
	return w.emit(b)
}

func (w *Writer) bytesEvent(k Kind, p []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	b := w.head(k)
	b = binary.AppendUvarint(b, uint64(len(p)))
	b = append(b, p...)
	return w.emit(b)
}

// head starts an event in the reusable buffer. Callers hold mu.
func (w *Writer) head(k Kind) []byte {
	b := append(w.buf[:0], byte(k))
	return binary.AppendUvarint(b, uint64(time.Since(w.start).Microseconds()))
}

func (w *Writer) emit(b []byte) error {
	w.buf = b
	if w.err != nil {
		return w.err
	}
	if w.enc == nil {
		return errors.New("transcript: writer closed")
	}
	if _, err := w.enc.Write(b); err != nil {
		w.err = fmt.Errorf("transcript: %w", err)
	}
	return w.err
}

// Close flushes the stream. Events written after Close fail.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.enc == nil {
		return nil
	}
	err := w.enc.Close()
	w.enc = nil
	if w.closer != nil {
		if cerr := w.closer.Close(); err == nil {
			err = cerr
		}
	}
	if err != nil {
		return fmt.Errorf("transcript: %w", err)
	}
	return w.err
}

// Reader decodes a transcript.
type Reader struct {
	hdr    Header
	dec    *zstd.Decoder
	r      *bufio.Reader
	closer io.Closer
}

// Open reads the transcript file at path. Closing the Reader closes the
// file.
func Open(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	r, err := NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	r.closer = f
	return r, nil
}

// NewReader reads the magic line and header from r.
func NewReader(r io.Reader) (*Reader, error) {
	br := bufio.NewReader(r)
	line, err := br.ReadString('\n')
	if err != nil || line != magic {
		return nil, fmt.Errorf("%w: missing magic line", ErrFormat)
	}
	head, err := br.ReadBytes('\n')
	if err != nil {
		return nil, fmt.Errorf("%w: missing header", ErrFormat)
	}
	var hdr Header
	if err := json.Unmarshal(bytes.TrimSpace(head), &hdr); err != nil {
		return nil, fmt.Errorf("%w: header: %v", ErrFormat, err)
	}
	if hdr.Version != 1 {
		return nil, fmt.Errorf("%w: unsupported version %d", ErrFormat, hdr.Version)
	}
	dec, err := zstd.NewReader(br, zstd.WithDecoderConcurrency(1))
	if err != nil {
		return nil, fmt.Errorf("transcript: %w", err)
	}
	return &Reader{hdr: hdr, dec: dec, r: bufio.NewReader(dec)}, nil
}

// Header returns the recorded run's header.
func (r *Reader) Header() Header {
	return r.hdr
}

// Next returns the next event, or io.EOF after the last one.
func (r *Reader) Next() (Event, error) {
	kind, err := r.r.ReadByte()
	if errors.Is(err, io.EOF) {
		return Event{}, io.EOF
	}
	if err != nil {
		return Event{}, fmt.Errorf("transcript: %w", err)
	}
	offset, err := r.uvarint()
	if err != nil {
		return Event{}, err
	}
	ev := Event{Kind: Kind(kind), Offset: time.Duration(offset) * time.Microsecond}

	switch ev.Kind {
	case Output, Input, Mark:
		n, err := r.uvarint()
		if err != nil {
			return Event{}, err
		}
		if n > maxPayload {
			return Event{}, fmt.Errorf("%w: event of %d bytes", ErrFormat, n)
		}
		ev.Data = make([]byte, n)
		if _, err := io.ReadFull(r.r, ev.Data); err != nil {
			return Event{}, fmt.Errorf("%w: truncated event", ErrFormat)
		}
	case Resize:
		cols, err := r.uvarint()
		if err != nil {
			return Event{}, err
		}
		rows, err := r.uvarint()
		if err != nil {
			return Event{}, err
		}
		ev.Cols, ev.Rows = int(cols), int(rows)
	default:
		return Event{}, fmt.Errorf("%w: unknown event kind %#x", ErrFormat, kind)
	}
	return ev, nil
}

func (r *Reader) uvarint() (uint64, error) {
	v, err := binary.ReadUvarint(r.r)
	if err != nil {
		return 0, fmt.Errorf("%w: truncated event", ErrFormat)
	}
	return v, nil
}

// Close releases the decoder and any file opened by Open.
func (r *Reader) Close() {
	r.dec.Close()
	if r.closer != nil {
		r.closer.Close()
	}
}

// Replay feeds every output and resize event into emu. At each mark,
// onMark receives the label and the screen as it was when the mark was
// recorded. Input events are skipped; the emulator only sees the program's
// side.
func Replay(r *Reader, emu *vt.Emulator, onMark func(label string, snap vt.Snapshot) error) error {
	for {
		ev, err := r.Next()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			return err
		}
		switch ev.Kind {
		case Output:
			emu.Feed(ev.Data)
		case Resize:
			emu.Resize(ev.Rows, ev.Cols)
		case Mark:
			if onMark != nil {
				if err := onMark(string(ev.Data), emu.Snapshot()); err != nil {
					return err
				}
			}
		}
	}
}
