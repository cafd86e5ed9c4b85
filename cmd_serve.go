package main

import (
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/health"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pipeline"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/buffer"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/types"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run on a schedule and serve /health",
	Long: `Run the pipeline on the configured cron schedule. Points from a failed
write are kept in memory and retried with the next run.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	a, err := setup(ctx)
	if err != nil {
		return logError(nil, "Startup failed", err)
	}
	defer a.close()

	writer, err := openStorage(ctx, a)
	if err != nil {
		return logError(a, "Failed to open storage", err)
	}
	defer closeWriter(a.logger, writer)

	runner, err := a.runner(writer)
	if err != nil {
		return logError(a, "Failed to create pipeline", err)
	}

	pending := buffer.New[types.Point](a.cfg.Schedule.PendingBufferSize, a.logger)
	scheduler, err := pipeline.NewScheduler(runner, a.cfg.Schedule.Cron, a.cfg.StartDate, pending, a.logger.Named("scheduler"))
	if err != nil {
		return logError(a, "Failed to create scheduler", err)
	}

	staleAfter, err := a.cfg.StaleAfter(time.Now())
	if err != nil {
		return logError(a, "Failed to read schedule", err)
	}
	healthChecker := health.NewHealthChecker(scheduler, staleAfter, a.cfg.Schedule.HealthCheckPort, a.logger)
	go func() {
		if err := healthChecker.Start(); err != nil {
			a.logger.Error("Health check server error", zap.Error(err))
		}
	}()

	a.logger.Info("Service started",
		zap.String("cron", a.cfg.Schedule.Cron),
		zap.Bool("runOnStart", a.cfg.Schedule.RunOnStart),
		zap.Duration("staleAfter", staleAfter))

	scheduler.Run(ctx, a.cfg.Schedule.RunOnStart)

	if err := healthChecker.Stop(); err != nil {
		a.logger.Error("Error stopping health check server", zap.Error(err))
	}
	if n := pending.Len(); n > 0 {
		a.logger.Warn("Shutting down with unwritten points", zap.Int("pending_points", n))
	}
	a.logger.Info("Shutdown complete")
	return nil
}
