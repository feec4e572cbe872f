// Package capture drives a child process on a PTY through a queue of
// inputs and records the rendered screen after each one settles.
package capture

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/keys"
	"github.com/cboone/termsnap/internal/ptyproc"
	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/vt"
)

// Config holds the timing and emulation settings of a run.
type Config struct {
	// Delay is waited before each input is sent.
	Delay time.Duration
	// Quiet is how long output must pause for the screen to count as
	// settled.
	Quiet time.Duration
	// Ceiling bounds the settle wait after an input; InitialCeiling bounds
	// it for the first capture.
	Ceiling        time.Duration
	InitialCeiling time.Duration
	PollInterval   time.Duration
	DrainTimeout   time.Duration
	// RunTimeout bounds the whole run. Zero means no limit.
	RunTimeout time.Duration

	HistoryLimit int
	// AnswerQueries lets the emulator reply to cursor position and device
	// attribute queries.
	AnswerQueries bool
	// AppCursorKeys rewrites arrow, home and end keys to their SS3 form
	// while the child has application cursor mode enabled.
	AppCursorKeys bool
}

// DefaultConfig returns the default run settings.
func DefaultConfig() Config {
	return Config{
		Delay:          100 * time.Millisecond,
		Quiet:          180 * time.Millisecond,
		Ceiling:        2 * time.Second,
		InitialCeiling: 3 * time.Second,
		PollInterval:   10 * time.Millisecond,
		DrainTimeout:   ptyproc.DefaultDrainTimeout,
		HistoryLimit:   vt.DefaultHistoryLimit,
		AnswerQueries:  true,
		AppCursorKeys:  true,
	}
}

// DefaultSize is used when a request does not set one.
var DefaultSize = config.Size{Cols: 120, Rows: 40}

// Orchestrator runs capture requests. It is safe for concurrent use; each
// Run owns its own session and emulator.
type Orchestrator struct {
	cfg       Config
	renderer  *render.Renderer
	sink      Sink
	observers []Observer
	recorder  Recorder
	logger    *zap.Logger
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithRenderer sets the renderer used for artifacts.
func WithRenderer(r *render.Renderer) Option {
	return func(o *Orchestrator) {
		o.renderer = r
	}
}

// WithSink sets where artifacts are stored. The default is a MemorySink.
func WithSink(s Sink) Option {
	return func(o *Orchestrator) {
		o.sink = s
	}
}

// WithObserver adds an observer. It may be given more than once.
func WithObserver(obs Observer) Option {
	return func(o *Orchestrator) {
		o.observers = append(o.observers, obs)
	}
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = l
	}
}

// WithTranscript records every run's traffic to rec.
func WithTranscript(rec Recorder) Option {
	return func(o *Orchestrator) {
		o.recorder = rec
	}
}

// New returns an orchestrator.
func New(cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{cfg: cfg}
	for _, opt := range opts {
		opt(o)
	}
	if o.renderer == nil {
		o.renderer = render.New()
	}
	if o.sink == nil {
		o.sink = NewMemorySink()
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	return o
}

// run is the state of a single Run call.
type run struct {
	*Orchestrator
	res    *Result
	log    *zap.Logger
	sess   *ptyproc.Session
	emu    *vt.Emulator
	pump   *Pump
	marked int64
}

// Run executes req and always returns a result. The child is killed and
// its PTY released before Run returns, whatever the outcome.
func (o *Orchestrator) Run(ctx context.Context, req Request) *Result {
	size := req.Size
	if !size.Valid() {
		size = DefaultSize
	}
	r := &run{
		Orchestrator: o,
		res: &Result{
			RunID:     uuid.NewString(),
			Binary:    req.Binary,
			Size:      size,
			ExitCode:  -1,
			StartedAt: time.Now(),
		},
	}
	r.log = o.logger.With(zap.String("run_id", r.res.RunID), zap.String("binary", req.Binary))

	if o.cfg.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.cfg.RunTimeout)
		defer cancel()
	}

	r.execute(ctx, req, size)

	r.res.Duration = time.Since(r.res.StartedAt)
	if r.res.Status == Aborted {
		r.phase(PhaseAborted)
		r.log.Warn("capture aborted", zap.String("reason", r.res.Reason), zap.Int("steps", len(r.res.Steps)))
	} else {
		r.phase(PhaseFinished)
		r.log.Info("capture finished",
			zap.Stringer("status", r.res.Status),
			zap.Int("steps", len(r.res.Steps)),
			zap.Duration("duration", r.res.Duration))
	}
	for _, obs := range o.observers {
		obs.RunFinished(r.res)
	}
	return r.res
}

func (r *run) phase(p Phase) {
	r.log.Debug("phase", zap.Stringer("phase", p))
	for _, obs := range r.observers {
		obs.PhaseChanged(r.res.RunID, p)
	}
}

func (r *run) abort(format string, args ...any) {
	r.res.Status = Aborted
	r.res.Reason = fmt.Sprintf(format, args...)
}

func (r *run) execute(ctx context.Context, req Request, size config.Size) {
	if req.Binary == "" {
		r.abort("no binary given")
		return
	}
	encoded, err := encodeActions(req.Actions)
	if err != nil {
		r.abort("%v", err)
		return
	}

	r.phase(PhaseSpawning)
	replies := &lateWriter{}
	var emuOpts []vt.Option
	if r.cfg.HistoryLimit >= 0 {
		emuOpts = append(emuOpts, vt.WithHistoryLimit(r.cfg.HistoryLimit))
	}
	if r.cfg.AnswerQueries {
		emuOpts = append(emuOpts, vt.WithReplies(replies))
	}
	r.emu = vt.New(size.Rows, size.Cols, emuOpts...)

	spawned := time.Now()
	r.sess, err = ptyproc.Spawn(req.Binary, req.Args, ptyproc.Options{
		Dir:          req.Dir,
		Env:          req.Env,
		Cols:         size.Cols,
		Rows:         size.Rows,
		Mirror:       r.emu,
		DrainTimeout: r.cfg.DrainTimeout,
	})
	if err != nil {
		r.abort("%v", err)
		return
	}
	defer r.release()
	replies.set(r.sess)

	stream, err := r.sess.Stream()
	if err != nil {
		r.abort("%v", err)
		return
	}
	var tee io.Writer
	if r.recorder != nil {
		tee = r.recorder
	}
	r.pump = NewPump(stream, r.emu, tee)
	go r.pump.Run()

	r.phase(PhaseCapturingInitial)
	if !r.settleAndCapture(ctx, spawned, r.cfg.InitialCeiling, 0, "") {
		return
	}

	for i, act := range req.Actions {
		if !r.sess.Alive() {
			r.finishEarly(ctx)
			return
		}

		r.phase(PhaseDelaying)
		if err := sleep(ctx, r.cfg.Delay); err != nil {
			r.abort("canceled: %v", err)
			return
		}

		r.phase(PhaseSending)
		sent := time.Now()
		if err := r.send(ctx, act, encoded[i]); err != nil {
			if ctx.Err() != nil {
				r.abort("canceled: %v", ctx.Err())
				return
			}
			if errors.Is(err, ptyproc.ErrSessionClosed) {
				r.finishEarly(ctx)
				return
			}
			r.abort("send %q: %v", act.Label(), err)
			return
		}

		r.phase(PhaseSettling)
		if !r.settleAndCapture(ctx, sent, r.cfg.Ceiling, i+1, act.Label()) {
			return
		}
	}
	r.res.Status = Completed
}

// settleAndCapture waits for the screen to settle and records a step. It
// reports false when the run was aborted.
func (r *run) settleAndCapture(ctx context.Context, since time.Time, ceiling time.Duration, index int, input string) bool {
	waited, timedOut, err := Settle(ctx, r.pump, since, r.cfg.Quiet, ceiling, r.cfg.PollInterval)
	if err != nil {
		r.abort("canceled: %v", err)
		return false
	}
	if timedOut {
		r.log.Debug("settle ceiling reached", zap.Int("step", index), zap.Duration("ceiling", ceiling))
	}
	if index > 0 {
		r.phase(PhaseCapturingStep)
	}
	if err := r.capture(ctx, index, input, waited, timedOut); err != nil {
		r.abort("store step %d: %v", index, err)
		return false
	}
	return true
}

// finishEarly handles a child that exited before all inputs were sent.
func (r *run) finishEarly(ctx context.Context) {
	if r.pump.Bytes() > r.marked {
		if r.settleAndCapture(ctx, time.Now(), r.cfg.Ceiling, len(r.res.Steps), "") {
			r.res.Status = CompletedEarly
			r.res.Reason = "process exited"
		}
		return
	}
	r.res.Status = CompletedEarly
	r.res.Reason = "process exited"
}

func (r *run) capture(ctx context.Context, index int, input string, waited time.Duration, timedOut bool) error {
	snap := r.emu.Snapshot()
	r.marked = r.pump.Bytes()
	step := Step{
		Index:     index,
		Input:     input,
		Timestamp: time.Now(),
		Settle:    waited,
		TimedOut:  timedOut,
		Exited:    !r.sess.Alive(),
		Snapshot:  snap,
	}
	ref, err := r.sink.Store(ctx, step, r.renderer.Render(snap))
	if err != nil {
		return err
	}
	step.Artifact = ref
	r.res.Steps = append(r.res.Steps, step)

	if r.recorder != nil {
		label := input
		if label == "" {
			label = fmt.Sprintf("step %d", index)
		}
		if err := r.recorder.Mark(label); err != nil {
			r.log.Warn("transcript mark failed", zap.Error(err))
		}
	}
	for _, obs := range r.observers {
		obs.StepRecorded(r.res.RunID, step)
	}
	r.log.Debug("step recorded",
		zap.Int("step", index),
		zap.String("input", input),
		zap.String("artifact", ref),
		zap.Bool("timed_out", timedOut))
	return nil
}

// send delivers one action. A child that stops reading its input cannot hold
// the run past ctx.
func (r *run) send(ctx context.Context, act Action, encoded []byte) error {
	switch act.Kind {
	case ActionResize:
		if err := r.sess.Resize(act.Size.Cols, act.Size.Rows); err != nil {
			return err
		}
		if r.recorder != nil {
			_ = r.recorder.Resize(act.Size.Cols, act.Size.Rows)
		}
		return nil
	case ActionText:
		if r.emu.BracketedPaste() {
			encoded = append(append([]byte("\x1b[200~"), encoded...), "\x1b[201~"...)
		}
	case ActionKey:
		if r.cfg.AppCursorKeys && r.emu.AppCursorKeys() {
			encoded = keys.ApplicationCursor(encoded)
		}
	}

	if r.recorder != nil {
		_ = r.recorder.Input(encoded)
	}
	_, err := r.sess.WriteContext(ctx, encoded)
	return err
}

// release kills the child, closes the PTY and waits for the pump to drain.
func (r *run) release() {
	if err := r.sess.Terminate(); err != nil {
		r.log.Debug("pty close", zap.Error(err))
	}
	// -1 when the child had to be killed.
	r.res.ExitCode = r.sess.ExitCode()
	if r.pump != nil {
		select {
		case <-r.pump.Done():
		case <-time.After(r.cfg.DrainTimeout):
			r.log.Warn("output pump did not stop")
		}
	}
}

func encodeActions(actions []Action) ([][]byte, error) {
	out := make([][]byte, len(actions))
	for i, a := range actions {
		switch a.Kind {
		case ActionKey:
			b, err := keys.Encode(a.Token)
			if err != nil {
				return nil, fmt.Errorf("input %d: %w", i+1, err)
			}
			out[i] = b
		case ActionText:
			out[i] = []byte(a.Text)
		case ActionResize:
			if !a.Size.Valid() {
				return nil, fmt.Errorf("input %d: invalid size %s", i+1, a.Size)
			}
		default:
			return nil, fmt.Errorf("input %d: unknown action kind %d", i+1, a.Kind)
		}
	}
	return out, nil
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// lateWriter forwards emulator replies to a session that is created after
// the emulator.
type lateWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (l *lateWriter) set(w io.Writer) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.w = w
}

func (l *lateWriter) Write(p []byte) (int, error) {
	l.mu.Lock()
	w := l.w
	l.mu.Unlock()
	if w == nil {
		return len(p), nil
	}
	return w.Write(p)
}
