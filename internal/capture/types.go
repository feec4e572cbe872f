package capture

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/vt"
)

// ActionKind distinguishes the inputs a run can queue.
type ActionKind int

const (
	ActionKey ActionKind = iota
	ActionText
	ActionResize
)

// Action is one queued input.
type Action struct {
	Kind  ActionKind
	Token string
	Text  string
	Size  config.Size
}

// Key queues a named key token such as "enter" or "ctrl+c".
func Key(token string) Action {
	return Action{Kind: ActionKey, Token: token}
}

// Keys queues one Key action per token.
func Keys(tokens ...string) []Action {
	out := make([]Action, len(tokens))
	for i, t := range tokens {
		out[i] = Key(t)
	}
	return out
}

// Text queues literal text. It is sent as a bracketed paste when the child
// has enabled bracketed paste mode.
func Text(s string) Action {
	return Action{Kind: ActionText, Text: s}
}

// ResizeTo queues a terminal resize.
func ResizeTo(size config.Size) Action {
	return Action{Kind: ActionResize, Size: size}
}

// ParseInputs splits a comma-separated input list such as
// "down,down,enter" and parses each item with ParseInput. Empty items are
// skipped. A literal comma is written \, inside text ("text:a\,b"); the
// comma key on its own is the token "comma".
func ParseInputs(s string) ([]Action, error) {
	var out []Action
	for _, item := range splitInputs(s) {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		act, err := ParseInput(item)
		if err != nil {
			return nil, fmt.Errorf("input %d: %w", len(out)+1, err)
		}
		out = append(out, act)
	}
	return out, nil
}

// splitInputs splits on commas not preceded by a backslash and unescapes
// the escaped ones. Other backslashes are kept.
func splitInputs(s string) []string {
	var items []string
	var cur strings.Builder
	for i := 0; i < len(s); i++ {
		switch {
		case s[i] == '\\' && i+1 < len(s) && s[i+1] == ',':
			cur.WriteByte(',')
			i++
		case s[i] == ',':
			items = append(items, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(s[i])
		}
	}
	return append(items, cur.String())
}

// ParseInput parses one input. An item written "text:..." is sent as
// literal text and "resize:WxH" resizes the terminal; anything else is a key
// token, checked when the run starts.
func ParseInput(item string) (Action, error) {
	if text, ok := strings.CutPrefix(item, "text:"); ok {
		return Text(text), nil
	}
	if arg, ok := strings.CutPrefix(item, "resize:"); ok {
		size, err := config.ParseSize(arg)
		if err != nil {
			return Action{}, err
		}
		return ResizeTo(size), nil
	}
	return Key(item), nil
}

// Label is the step input recorded for the action. Empty text is labeled
// "text:" since an empty label marks a step with no input.
func (a Action) Label() string {
	switch a.Kind {
	case ActionText:
		if a.Text == "" {
			return "text:"
		}
		return a.Text
	case ActionResize:
		return "resize:" + a.Size.String()
	default:
		return a.Token
	}
}

// Request describes one capture run.
type Request struct {
	Binary  string
	Args    []string
	Dir     string
	Env     []string
	Size    config.Size
	Actions []Action
}

// Status is the outcome of a run.
type Status int

const (
	Completed Status = iota
	CompletedEarly
	Aborted
)

var statusNames = [...]string{"completed", "completed_early", "aborted"}

func (s Status) String() string {
	if int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "status(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText encodes the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for i, name := range statusNames {
		if string(text) == name {
			*s = Status(i)
			return nil
		}
	}
	return fmt.Errorf("unknown status %q", text)
}

// Phase is a stage of the orchestrator's state machine.
type Phase int

const (
	PhaseSpawning Phase = iota
	PhaseCapturingInitial
	PhaseDelaying
	PhaseSending
	PhaseSettling
	PhaseCapturingStep
	PhaseFinished
	PhaseAborted
)

var phaseNames = [...]string{
	"spawning", "capturing_initial", "delaying", "sending",
	"settling", "capturing_step", "finished", "aborted",
}

func (p Phase) String() string {
	if int(p) < len(phaseNames) {
		return phaseNames[p]
	}
	return "phase(" + strconv.Itoa(int(p)) + ")"
}

// Step is one recorded screen state.
type Step struct {
	Index int `json:"step"`
	// Input is the label of the action that preceded the capture. It is
	// empty for the initial state and for a final capture taken after the
	// child exited on its own.
	Input     string        `json:"input,omitempty"`
	Artifact  string        `json:"artifact"`
	Timestamp time.Time     `json:"timestamp"`
	Settle    time.Duration `json:"settle_ns"`
	TimedOut  bool          `json:"timed_out"`
	Exited    bool          `json:"exited"`
	Snapshot  vt.Snapshot   `json:"-"`
}

// Result is the outcome of Run.
type Result struct {
	RunID     string        `json:"run_id"`
	Binary    string        `json:"binary"`
	Size      config.Size   `json:"size"`
	Status    Status        `json:"status"`
	Reason    string        `json:"reason,omitempty"`
	Steps     []Step        `json:"steps"`
	ExitCode  int           `json:"exit_code"`
	StartedAt time.Time     `json:"started_at"`
	Duration  time.Duration `json:"duration_ns"`
}

// Sink stores rendered screens and returns a reference to each.
type Sink interface {
	Store(ctx context.Context, step Step, img image.Image) (ref string, err error)
}

// Observer is notified as a run progresses. Calls are made synchronously
// from the goroutine running the capture.
type Observer interface {
	PhaseChanged(runID string, phase Phase)
	StepRecorded(runID string, step Step)
	RunFinished(res *Result)
}

// Recorder receives a run's raw traffic. transcript.Writer implements it.
type Recorder interface {
	// Write receives output bytes as they arrive.
	Write(p []byte) (int, error)
	Input(p []byte) error
	Resize(cols, rows int) error
	Mark(label string) error
}

// MemorySink keeps PNG-encoded artifacts in memory.
type MemorySink struct {
	mu   sync.Mutex
	seq  atomic.Int64
	data map[string][]byte
}

// NewMemorySink returns an empty sink.
func NewMemorySink() *MemorySink {
	return &MemorySink{data: make(map[string][]byte)}
}

// Store encodes img as PNG and keeps it under a new reference.
func (m *MemorySink) Store(_ context.Context, step Step, img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := render.EncodePNG(&buf, img); err != nil {
		return "", err
	}
	ref := fmt.Sprintf("mem:%d/%d", m.seq.Add(1), step.Index)

	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[ref] = buf.Bytes()
	return ref, nil
}

// Get returns the PNG stored under ref.
func (m *MemorySink) Get(ref string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	b, ok := m.data[ref]
	return b, ok
}

// Len returns the number of stored artifacts.
func (m *MemorySink) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.data)
}
