package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/render"
)

func newCaptureCmd(a *app) *cobra.Command {
	var (
		output string
		size   string
		wait   time.Duration
		text   bool
	)
	cmd := &cobra.Command{
		Use:   "capture <binary> [-- args...]",
		Short: "Capture a program's initial screen",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			cfg := captureConfig(a.cfg)
			if wait > 0 {
				cfg.InitialCeiling = wait
			}

			termSize := a.cfg.DefaultSize
			if size != "" {
				var err error
				if termSize, err = config.ParseSize(size); err != nil {
					return err
				}
			}

			sink := capture.NewMemorySink()
			res := capture.New(cfg,
				capture.WithSink(sink),
				capture.WithLogger(a.logger),
				capture.WithRenderer(render.New(render.WithScale(a.cfg.Scale))),
			).Run(ctx, capture.Request{Binary: args[0], Args: args[1:], Size: termSize})
			if res.Status == capture.Aborted || len(res.Steps) == 0 {
				return fmt.Errorf("capture: %s", res.Reason)
			}
			step := res.Steps[0]
			png, ok := sink.Get(step.Artifact)
			if !ok {
				return errors.New("capture: screenshot missing")
			}

			if output == "" {
				sess := a.newSession("", "", args[0])
				sess.Keep = true
				if err := sess.Init(); err != nil {
					return err
				}
				output = sess.CapturePath("capture")
			} else if err := os.MkdirAll(filepath.Dir(output), 0o755); err != nil {
				return err
			}
			if err := os.WriteFile(output, png, 0o644); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if text {
				fmt.Fprintln(out, step.Snapshot.Text())
			}
			fmt.Fprintf(out, "Captured %s screen to %s\n", termSize, output)
			if step.TimedOut {
				fmt.Fprintln(cmd.ErrOrStderr(), "Warning: output did not settle before the capture")
			}
			return nil
		},
	}
	f := cmd.Flags()
	f.StringVarP(&output, "output", "o", "", "PNG file to write (default: a new session directory)")
	f.StringVarP(&size, "size", "s", "", "terminal size: compact, standard, large, xl or WxH")
	f.DurationVar(&wait, "wait", 0, "longest wait for the first screen to settle (default from config)")
	f.BoolVar(&text, "text", false, "also print the screen text")
	return cmd
}
