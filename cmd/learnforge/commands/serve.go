package commands

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"
)

var listenOverride string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	Long: `Run the learnforge HTTP server until SIGINT or SIGTERM.

Routes:
  POST /v1/generate          breakdown or explain a topic
  GET  /v1/telemetry         usage snapshot
  POST /v1/cache/invalidate  bump a cache namespace (admin token)
  GET  /health               liveness and durable tier status
  GET  /metrics              Prometheus metrics`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&listenOverride, "listen", "", "override the configured listen address")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	p := newPrinter(cmd)

	cfg, err := loadConfig(p)
	if err != nil {
		return err
	}
	if listenOverride != "" {
		cfg.Listen = listenOverride
	}

	logger := setupLogging(cfg)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, logger)
	if err != nil {
		return p.Error("Failed to start learnforge", err)
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close durable tier")
		}
	}()

	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	go a.sweep(sweepCtx)

	logger.Info().Str("version", version).Str("listen", cfg.Listen).Msg("Starting learnforge")
	if err := a.server.Run(ctx); err != nil {
		return p.Error("Server failed", err)
	}
	logger.Info().Msg("learnforge stopped")
	return nil
}
