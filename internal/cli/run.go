package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/scenario"
	"github.com/cboone/termsnap/internal/session"
	"github.com/cboone/termsnap/internal/transcript"
	"github.com/cboone/termsnap/internal/vlm"
)

type runOptions struct {
	inputs      string
	delay       int
	size        string
	multiSize   bool
	output      string
	keep        bool
	name        string
	json        bool
	analyze     bool
	prompt      string
	stepPrompts string
	transcript  string
	scenario    string
	vlmEndpoint string
	vlmModel    string
}

// stateJSON is one captured state in --json output. Input and description
// are null when absent.
type stateJSON struct {
	Step           int     `json:"step"`
	Input          *string `json:"input"`
	ScreenshotPath string  `json:"screenshot_path"`
	Description    *string `json:"description"`
	TimedOut       bool    `json:"timed_out"`
}

type runJSON struct {
	Success bool        `json:"success"`
	Error   *string     `json:"error"`
	Status  string      `json:"status"`
	Size    string      `json:"size"`
	States  []stateJSON `json:"states"`
}

func newRunCmd(a *app) *cobra.Command {
	o := &runOptions{}
	cmd := &cobra.Command{
		Use:   "run [binary] [-- args...]",
		Short: "Run a program with inputs and capture the screen after each one",
		Long: "Run starts the program, captures its initial screen, then sends each input\n" +
			"in turn and captures the screen once the output settles.\n\n" +
			"Inputs are comma separated: key names such as down, enter, ctrl+c or f5,\n" +
			"single characters, text:<literal text> and resize:<size>. Write a comma\n" +
			"inside text as \\, and the comma key as comma.",
		Example: "  termsnap run ./my-app --inputs down,down,enter --json\n" +
			"  termsnap run --scenario menu.yaml --analyze",
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.run(cmd, args, o)
		},
	}
	f := cmd.Flags()
	f.StringVarP(&o.inputs, "inputs", "i", "", "comma-separated inputs")
	f.IntVarP(&o.delay, "delay", "d", 0, "delay before each input in milliseconds (default from config)")
	f.StringVarP(&o.size, "size", "s", "", "terminal size: compact, standard, large, xl or WxH")
	f.BoolVar(&o.multiSize, "multi-size", false, "run once at every preset size")
	f.StringVarP(&o.output, "output", "o", "", "write screenshots to this directory (kept)")
	f.BoolVar(&o.keep, "keep", false, "keep the session directory")
	f.StringVar(&o.name, "name", "", "session name")
	f.BoolVar(&o.json, "json", false, "print the result as JSON")
	f.BoolVar(&o.analyze, "analyze", false, "describe each screenshot with the vision model")
	f.StringVar(&o.prompt, "prompt", "", "analysis prompt; {step} and {input} are replaced")
	f.StringVar(&o.stepPrompts, "step-prompts", "", `per-step prompts as JSON, e.g. {"1":"Is the menu open?"}`)
	f.StringVar(&o.transcript, "transcript", "", "record the run's raw traffic to this file")
	f.StringVar(&o.scenario, "scenario", "", "read the run from a YAML scenario file")
	f.StringVar(&o.vlmEndpoint, "vlm-endpoint", "", "vision model endpoint (default from config)")
	f.StringVar(&o.vlmModel, "vlm-model", "", "vision model name (default from config)")
	return cmd
}

func (a *app) run(cmd *cobra.Command, args []string, o *runOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	ccfg := captureConfig(a.cfg)
	prompts := make(map[int]string)
	defaultPrompt := o.prompt

	var req capture.Request
	if o.scenario != "" {
		if len(args) > 0 || o.inputs != "" {
			return errors.New("run: --scenario cannot be combined with a binary or --inputs")
		}
		sc, err := scenario.Load(o.scenario)
		if err != nil {
			return err
		}
		if req, err = sc.Request(); err != nil {
			return err
		}
		ccfg = sc.Config(ccfg)
		maps.Copy(prompts, sc.Prompts())
		if defaultPrompt == "" {
			defaultPrompt = sc.Prompt
		}
		if o.name == "" {
			o.name = sc.Name
		}
	} else {
		if len(args) == 0 {
			return errors.New("run: a binary is required (or use --scenario)")
		}
		actions, err := capture.ParseInputs(o.inputs)
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		req = capture.Request{Binary: args[0], Args: args[1:], Actions: actions}
	}

	if cmd.Flags().Changed("delay") {
		if o.delay < 0 {
			return errors.New("run: --delay must not be negative")
		}
		ccfg.Delay = time.Duration(o.delay) * time.Millisecond
	}
	if o.stepPrompts != "" {
		m, err := vlm.ParseStepPrompts([]byte(o.stepPrompts))
		if err != nil {
			return fmt.Errorf("run: %w", err)
		}
		maps.Copy(prompts, m)
	}

	sizes, err := a.runSizes(o, req.Size)
	if err != nil {
		return err
	}

	sess := a.newSession(o.output, o.name, req.Binary)
	sess.Keep = sess.Keep || o.keep
	if !o.multiSize {
		sess.WithSize(sizes[0])
	}
	if err := sess.Init(); err != nil {
		return err
	}

	var analyzer *vlm.Client
	if o.analyze {
		analyzer = a.vlmClient(ctx, o, errOut)
	}

	var results []runJSON
	var failure error
	for _, size := range sizes {
		dir := sess
		if o.multiSize {
			dir = sess.SizeDir(size)
			if err := dir.Init(); err != nil {
				return err
			}
		}
		r := req
		r.Size = size

		res, err := a.captureRun(ctx, ccfg, r, dir, transcriptPath(o.transcript, size, o.multiSize))
		if err != nil {
			return err
		}
		result := describe(ctx, res, analyzer, prompts, defaultPrompt, errOut)
		results = append(results, result)
		if res.Status == capture.Aborted && failure == nil {
			failure = fmt.Errorf("run at %s aborted: %s", size, res.Reason)
		}
		if !o.json {
			printRun(out, result, o.multiSize)
		}
	}

	if o.json {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		var v any = results[0]
		if o.multiSize {
			v = results
		}
		if err := enc.Encode(v); err != nil {
			return err
		}
	} else {
		fmt.Fprintf(out, "\nSession: %s\n", sess.Dir)
	}

	if !sess.Keep {
		if err := sess.Cleanup(); err != nil {
			a.logger.Warn("failed to remove session", zap.String("dir", sess.Dir), zap.Error(err))
		} else if !o.json {
			fmt.Fprintln(errOut, "Session removed; use --keep or --output to keep the screenshots.")
		}
	}
	return failure
}

func (a *app) runSizes(o *runOptions, fromScenario config.Size) ([]config.Size, error) {
	if o.multiSize {
		var sizes []config.Size
		for _, p := range config.Presets() {
			sizes = append(sizes, p.Size)
		}
		return sizes, nil
	}
	if o.size != "" {
		size, err := config.ParseSize(o.size)
		if err != nil {
			return nil, fmt.Errorf("%w (use compact, standard, large, xl or WxH such as 100x30)", err)
		}
		return []config.Size{size}, nil
	}
	if fromScenario.Valid() {
		return []config.Size{fromScenario}, nil
	}
	return []config.Size{a.cfg.DefaultSize}, nil
}

// newSession returns the output session: output itself when given (always
// kept), otherwise a fresh directory under the configured session base.
func (a *app) newSession(output, name, binary string) *session.Session {
	if output != "" {
		return session.InDir(output)
	}
	if name == "" {
		base := strings.TrimSuffix(filepath.Base(binary), filepath.Ext(binary))
		if base == "" || base == "." {
			base = "run"
		}
		name = base + "_run"
	}
	return session.New(a.cfg.SessionDir, name, time.Now())
}

func (a *app) vlmClient(ctx context.Context, o *runOptions, errOut io.Writer) *vlm.Client {
	cfg := vlmConfig(a.cfg)
	if o.vlmEndpoint != "" {
		cfg.Endpoint = o.vlmEndpoint
	}
	if o.vlmModel != "" {
		cfg.Model = o.vlmModel
	}
	client := vlm.New(cfg, a.logger)
	if err := client.CheckHealth(ctx); err != nil {
		fmt.Fprintf(errOut, "Warning: VLM endpoint not responding at %s\n", cfg.Endpoint)
		fmt.Fprintln(errOut, "Skipping analysis. Screenshots will still be saved.")
		return nil
	}
	if !o.json {
		fmt.Fprintln(errOut, "VLM endpoint responding, starting analysis...")
	}
	return client
}

func (a *app) captureRun(ctx context.Context, cfg capture.Config, req capture.Request, sess *session.Session, transcriptFile string) (*capture.Result, error) {
	opts := []capture.Option{
		capture.WithSink(sess),
		capture.WithLogger(a.logger),
		capture.WithRenderer(render.New(render.WithScale(a.cfg.Scale))),
	}
	var rec *transcript.Writer
	if transcriptFile != "" {
		var err error
		rec, err = transcript.Create(transcriptFile, transcript.Header{
			Cols:   req.Size.Cols,
			Rows:   req.Size.Rows,
			Binary: req.Binary,
			Args:   req.Args,
		})
		if err != nil {
			return nil, err
		}
		opts = append(opts, capture.WithTranscript(rec))
	}

	res := capture.New(cfg, opts...).Run(ctx, req)

	if rec != nil {
		if err := rec.Close(); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// transcriptPath gives each size of a multi-size run its own file by
// inserting the size before the extension.
func transcriptPath(path string, size config.Size, multi bool) string {
	if path == "" || !multi {
		return path
	}
	ext := filepath.Ext(path)
	return strings.TrimSuffix(path, ext) + "_" + size.String() + ext
}

func describe(ctx context.Context, res *capture.Result, analyzer *vlm.Client, prompts map[int]string, defaultPrompt string, errOut io.Writer) runJSON {
	out := runJSON{
		Success: res.Status != capture.Aborted,
		Status:  res.Status.String(),
		Size:    res.Size.String(),
		States:  make([]stateJSON, 0, len(res.Steps)),
	}
	if res.Reason != "" && res.Status == capture.Aborted {
		reason := res.Reason
		out.Error = &reason
	}

	for _, st := range res.Steps {
		state := stateJSON{Step: st.Index, ScreenshotPath: st.Artifact, TimedOut: st.TimedOut}
		if st.Input != "" {
			input := st.Input
			state.Input = &input
		}
		if analyzer != nil {
			if desc, err := analyze(ctx, analyzer, st, prompts, defaultPrompt); err != nil {
				fmt.Fprintf(errOut, "Warning: VLM analysis failed for step %d: %v\n", st.Index, err)
			} else {
				state.Description = &desc
			}
		}
		out.States = append(out.States, state)
	}
	return out
}

func analyze(ctx context.Context, client *vlm.Client, st capture.Step, prompts map[int]string, defaultPrompt string) (string, error) {
	png, err := os.ReadFile(st.Artifact)
	if err != nil {
		return "", err
	}
	custom, ok := prompts[st.Index]
	if !ok {
		custom = defaultPrompt
	}
	return client.Analyze(ctx, png, vlm.BuildPrompt(st.Index, st.Input, custom))
}

func printRun(w io.Writer, r runJSON, multi bool) {
	switch {
	case r.Error != nil:
		fmt.Fprintf(w, "Run aborted at %s: %s (%d states captured)\n", r.Size, *r.Error, len(r.States))
	case multi:
		fmt.Fprintf(w, "Run completed at %s: %d states captured\n", r.Size, len(r.States))
	default:
		fmt.Fprintf(w, "Run completed: %d states captured\n", len(r.States))
	}
	for _, st := range r.States {
		var input string
		if st.Input != nil {
			input = fmt.Sprintf(" (input: %s)", *st.Input)
		}
		var flag string
		if st.TimedOut {
			flag = " [did not settle]"
		}
		fmt.Fprintf(w, "  Step %d%s: %s%s\n", st.Step, input, st.ScreenshotPath, flag)
		if st.Description != nil {
			fmt.Fprintf(w, "    Description: %s\n", preview(*st.Description, 200))
		}
	}
}

func preview(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
