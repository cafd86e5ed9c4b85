package main

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/storage"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Download the export once and write every reading",
	RunE:  runOnce,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runOnce(cmd *cobra.Command, args []string) error {
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

	start, err := a.cfg.StartDate(time.Now())
	if err != nil {
		return logError(a, "Failed to resolve start date", err)
	}

	// The runner logs its own failures
	_, err = runner.Run(ctx, start)
	return err
}

// openStorage validates the storage settings, which export does not need, and
// opens the configured backend
func openStorage(ctx context.Context, a *app) (storage.Writer, error) {
	if err := a.cfg.ValidateStorage(); err != nil {
		return nil, fmt.Errorf("invalid storage configuration: %w", err)
	}
	return storage.New(ctx, a.cfg.StorageConfig(), a.logger)
}

func closeWriter(logger *zap.Logger, writer storage.Writer) {
	if err := writer.Close(); err != nil {
		logger.Error("Error closing storage", zap.Error(err))
	}
}
