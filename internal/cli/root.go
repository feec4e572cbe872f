// Package cli implements the termsnap command line.
package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cboone/termsnap/internal/capture"
	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/logging"
	"github.com/cboone/termsnap/internal/vlm"
)

// Version is set at build time with -ldflags "-X ...cli.Version=...".
var Version = "dev"

// app carries the state shared by every command once the root command's
// pre-run has loaded it.
type app struct {
	configPath string
	logLevel   string
	verbose    bool

	cfg    *config.Config
	logger *zap.Logger
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}
	root := &cobra.Command{
		Use:   "termsnap",
		Short: "termsnap captures terminal applications as screenshots",
		Long: "termsnap runs a program on a pseudo-terminal, sends it keystrokes and\n" +
			"captures the emulated screen as a PNG after every input.",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return a.load()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&a.configPath, "config", os.Getenv("TERMSNAP_CONFIG"), "TOML config file")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false, "debug logging")

	root.AddCommand(
		newRunCmd(a),
		newCaptureCmd(a),
		newReplayCmd(a),
		newServeCmd(a),
		newSizesCmd(),
		newSessionsCmd(a),
		newHealthCmd(a),
		newVersionCmd(),
	)
	return root
}

// Execute runs the CLI.
func Execute() {
	if err := NewRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func (a *app) load() error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.verbose {
		cfg.Log.Level = "debug"
	}
	logger, err := logging.New(logging.Config{
		Level:       cfg.Log.Level,
		Development: cfg.Log.Development,
		Format:      cfg.Log.Format,
		OutputPaths: []string{"stderr"},
	})
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

func captureConfig(c *config.Config) capture.Config {
	return capture.Config{
		Delay:          c.Delay,
		Quiet:          c.Quiet,
		Ceiling:        c.Ceiling,
		InitialCeiling: c.InitialCeiling,
		PollInterval:   c.PollInterval,
		DrainTimeout:   c.DrainTimeout,
		RunTimeout:     c.RunTimeout,
		HistoryLimit:   c.HistoryLimit,
		AnswerQueries:  c.AnswerQueries,
		AppCursorKeys:  c.AppCursorKeys,
	}
}

func vlmConfig(c *config.Config) vlm.Config {
	return vlm.Config{
		Endpoint:        c.VLM.Endpoint,
		Model:           c.VLM.Model,
		MaxTokens:       c.VLM.MaxTokens,
		ConnectTimeout:  c.VLM.ConnectTimeout,
		ActivityTimeout: c.VLM.ActivityTimeout,
		RetryCount:      c.VLM.RetryCount,
	}
}
