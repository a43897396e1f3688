package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/tjfontaine/agentcore-guard/internal/telemetry"
	"github.com/tjfontaine/agentcore-guard/pkg/guard"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the AgentCore runtime contract (POST /invocations, GET /ping)",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if servePort > 0 {
			cfg.Server.Port = servePort
		}

		logger := newLogger(cfg, os.Stdout)
		slog.SetDefault(logger)

		shutdown, err := telemetry.InitTracer(telemetry.Config{
			Enabled:     cfg.Telemetry.Enabled,
			ServiceName: cfg.Telemetry.ServiceName,
		}, logger)
		if err != nil {
			return fmt.Errorf("initialize tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Error("failed to shutdown tracer", slog.String("error", err.Error()))
			}
		}()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		g, err := guard.New(ctx, cfg, guard.WithLogger(logger))
		if err != nil {
			return fmt.Errorf("create guard: %w", err)
		}
		defer func() {
			if err := g.Close(); err != nil {
				logger.Error("failed to close diagnostics", slog.String("error", err.Error()))
			}
		}()

		if err := g.Serve(ctx); err != nil {
			return fmt.Errorf("serve: %w", err)
		}
		logger.Info("shutdown complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 0, "Override server.port")
}
