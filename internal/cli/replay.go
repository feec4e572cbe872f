package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/cboone/termsnap/internal/render"
	"github.com/cboone/termsnap/internal/session"
	"github.com/cboone/termsnap/internal/transcript"
	"github.com/cboone/termsnap/internal/vt"
)

func newReplayCmd(a *app) *cobra.Command {
	var (
		output string
		text   bool
	)
	cmd := &cobra.Command{
		Use:   "replay <transcript>",
		Short: "Re-render the screens of a recorded run",
		Long: "Replay feeds a transcript written by run --transcript back into the\n" +
			"emulator and writes a screenshot at every recorded step.",
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r, err := transcript.Open(args[0])
			if err != nil {
				return err
			}
			defer r.Close()

			hdr := r.Header()
			if hdr.Cols <= 0 || hdr.Rows <= 0 {
				return fmt.Errorf("replay: transcript has no terminal size")
			}
			sess := session.InDir(output)
			if err := sess.Init(); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			renderer := render.New(render.WithScale(a.cfg.Scale))
			emu := vt.New(hdr.Rows, hdr.Cols, vt.WithHistoryLimit(a.cfg.HistoryLimit))
			step := 0
			err = transcript.Replay(r, emu, func(label string, snap vt.Snapshot) error {
				input := label
				if strings.HasPrefix(label, "step ") {
					input = ""
				}
				png, err := renderer.PNG(snap)
				if err != nil {
					return err
				}
				path := sess.StatePath(step, input)
				if err := os.WriteFile(path, png, 0o644); err != nil {
					return err
				}
				fmt.Fprintf(out, "  Step %d (%s): %s\n", step, label, path)
				if text {
					fmt.Fprintln(out, snap.Text())
				}
				step++
				return nil
			})
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "Replayed %s (%s, %dx%d): %d states\n", args[0], hdr.Binary, hdr.Cols, hdr.Rows, step)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "replay", "directory for the screenshots")
	cmd.Flags().BoolVar(&text, "text", false, "also print the screen text at each step")
	return cmd
}
