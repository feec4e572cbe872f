package cli

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/cboone/termsnap/internal/metrics"
	"github.com/cboone/termsnap/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the capture API over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr == "" {
				addr = a.cfg.Server.Addr
			}

			reg := prometheus.NewRegistry()
			reg.MustRegister(
				collectors.NewGoCollector(),
				collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
			)

			cfg := server.DefaultConfig()
			cfg.AllowedBinaries = a.cfg.Server.AllowedBinaries
			cfg.MaxConcurrent = a.cfg.Server.MaxConcurrent
			cfg.RateLimit = server.RateLimitConfig{
				RequestsPerSecond: a.cfg.Server.RequestsPerSecond,
				Burst:             a.cfg.Server.Burst,
			}
			cfg.CORS.AllowOrigins = a.cfg.Server.CORSOrigins
			cfg.SessionBase = a.cfg.SessionDir
			cfg.Capture = captureConfig(a.cfg)
			cfg.Scale = a.cfg.Scale

			srv := server.New(cfg, a.logger, metrics.New(reg))
			defer func() {
				if err := srv.Close(); err != nil {
					a.logger.Warn("failed to remove run directories", zap.Error(err))
				}
			}()

			parent := cmd.Context()
			if parent == nil {
				parent = context.Background()
			}
			ctx, stop := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			if len(cfg.AllowedBinaries) == 0 {
				a.logger.Warn("no binary allowlist configured; any program may be run")
			}
			return srv.Run(ctx, addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (default from config, 127.0.0.1:8086)")
	return cmd
}
