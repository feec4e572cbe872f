package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/cboone/termsnap/internal/config"
	"github.com/cboone/termsnap/internal/session"
	"github.com/cboone/termsnap/internal/vlm"
)

func newSizesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sizes",
		Short: "List the named terminal sizes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tSIZE\tALIASES")
			for _, p := range config.Presets() {
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.Name, p.Size, strings.Join(p.Aliases, ", "))
			}
			return tw.Flush()
		},
	}
}

func newSessionsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Manage session directories",
	}

	var asJSON bool
	list := &cobra.Command{
		Use:   "list",
		Short: "List session directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			infos, err := session.List(a.cfg.SessionDir)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				if infos == nil {
					infos = []session.Info{}
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(infos)
			}
			if len(infos) == 0 {
				fmt.Fprintf(out, "No sessions in %s\n", a.cfg.SessionDir)
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tSIZE\tCAPTURES\tMODIFIED")
			for _, info := range infos {
				size := "-"
				if info.Size.Valid() {
					size = info.Size.String()
				}
				fmt.Fprintf(tw, "%s\t%s\t%d\t%s\n", info.ID, size, info.Captures, info.Modified.Format(time.DateTime))
			}
			return tw.Flush()
		},
	}
	list.Flags().BoolVar(&asJSON, "json", false, "print as JSON")

	var maxAge time.Duration
	clean := &cobra.Command{
		Use:   "clean",
		Short: "Remove old session directories",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxAge < 0 {
				return fmt.Errorf("sessions clean: --max-age must not be negative")
			}
			n, err := session.CleanupOld(a.cfg.SessionDir, maxAge, time.Now())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d sessions older than %v\n", n, maxAge)
			return nil
		},
	}
	clean.Flags().DurationVar(&maxAge, "max-age", 24*time.Hour, "remove sessions not modified for this long")

	cmd.AddCommand(list, clean)
	return cmd
}

func newHealthCmd(a *app) *cobra.Command {
	var endpoint string
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Check that the vision model endpoint is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := vlmConfig(a.cfg)
			if endpoint != "" {
				cfg.Endpoint = endpoint
			}
			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			if err := vlm.New(cfg, a.logger).CheckHealth(ctx); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "VLM endpoint responding at %s\n", cfg.Endpoint)
			return nil
		},
	}
	cmd.Flags().StringVar(&endpoint, "vlm-endpoint", "", "vision model endpoint (default from config)")
	return cmd
}

func newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			fmt.Fprintf(cmd.OutOrStdout(), "termsnap %s\n", Version)
			return nil
		},
	}
}
