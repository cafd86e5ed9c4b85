package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/term"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/config"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pipeline"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/profiling"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/telemetry"
	"github.com/CillianDeasy/esb-smart-meter-reading-automation/storage"
)

var (
	configPath string
	startDate  string
)

var rootCmd = &cobra.Command{
	Use:   "esb-reader",
	Short: "Download ESB Networks smart meter readings",
	Long: `esb-reader logs in to the ESB Networks customer portal, downloads the
half-hourly HDF export for an MPRN and writes every reading to a time-series store.

Without a subcommand it performs a single run.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE:          runOnce,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "config.yaml", "Path to configuration file")
	rootCmd.PersistentFlags().StringVar(&startDate, "start", "", "Export start date (YYYY-MM-DD), overrides export.startDate")
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		os.Exit(1)
	}
}

// app holds what every command needs once the configuration is loaded
type app struct {
	cfg       *config.Config
	logger    *zap.Logger
	profiler  *profiling.Profiler
	providers *telemetry.Providers
}

func setup(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	if startDate != "" {
		cfg.Export.StartDate = startDate
		if err := cfg.Validate(); err != nil {
			return nil, fmt.Errorf("invalid --start: %w", err)
		}
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Info("Configuration loaded", zap.String("path", configPath), zap.Any("config", cfg.Redacted()))

	if cfg.ESB.Password == "" {
		password, err := promptPassword(cfg.ESB.Username)
		if err != nil {
			return nil, err
		}
		cfg.ESB.Password = password
	}

	a := &app{cfg: cfg, logger: logger}

	a.profiler, err = profiling.Start(&cfg.Profiling, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize profiler: %w", err)
	}

	a.providers, err = telemetry.Setup(ctx, &cfg.OpenTelemetry, logger)
	if err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize OpenTelemetry providers: %w", err)
	}

	return a, nil
}

func (a *app) close() {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.providers.Shutdown(shutdownCtx); err != nil {
		a.logger.Error("Error shutting down OpenTelemetry providers", zap.Error(err))
	}
	if a.profiler != nil {
		if err := a.profiler.Stop(); err != nil {
			a.logger.Error("Error shutting down profiler", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

// runner builds a pipeline runner on top of writer
func (a *app) runner(writer storage.Writer) (*pipeline.Runner, error) {
	loc, err := a.cfg.Location()
	if err != nil {
		return nil, err
	}
	return pipeline.NewRunner(pipeline.Options{
		Credentials: a.cfg.Credentials(),
		Client:      a.cfg.ClientConfig(),
		Measurement: a.cfg.Export.Measurement,
		Location:    loc,
	}, writer, a.logger)
}

// promptPassword asks for the portal password when none is configured and a
// terminal is attached
func promptPassword(username string) (string, error) {
	if !term.IsTerminal(int(os.Stdin.Fd())) {
		return "", fmt.Errorf("esb.password is not set and stdin is not a terminal")
	}

	fmt.Fprintf(os.Stderr, "ESB Networks password for %s: ", username)
	passwordBytes, err := term.ReadPassword(int(os.Stdin.Fd()))
	fmt.Fprintln(os.Stderr)
	if err != nil {
		return "", fmt.Errorf("failed to read password: %w", err)
	}
	if len(passwordBytes) == 0 {
		return "", fmt.Errorf("password cannot be empty")
	}
	return string(passwordBytes), nil
}

// logError reports a failed command on the configured logger, falling back to
// stderr when the logger could not be built
func logError(a *app, msg string, err error) error {
	if a != nil {
		a.logger.Error(msg, zap.Error(err))
	} else {
		fmt.Fprintf(os.Stderr, "%s: %v\n", msg, err)
	}
	return err
}
