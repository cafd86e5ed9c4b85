// Package profiling pushes continuous profiles to Pyroscope.
package profiling

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/config"
)

var profileTypes = map[string][]pyroscope.ProfileType{
	"cpu":           {pyroscope.ProfileCPU},
	"alloc_objects": {pyroscope.ProfileAllocObjects},
	"alloc_space":   {pyroscope.ProfileAllocSpace},
	"inuse_objects": {pyroscope.ProfileInuseObjects},
	"inuse_space":   {pyroscope.ProfileInuseSpace},
	"goroutines":    {pyroscope.ProfileGoroutines},
	"mutex":         {pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration},
	"block":         {pyroscope.ProfileBlockCount, pyroscope.ProfileBlockDuration},
}

// Profiler wraps a running Pyroscope profiler. A nil *Profiler is valid.
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

// Start begins pushing profiles, or returns nil when profiling is disabled
func Start(cfg *config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		logger.Debug("profiling is disabled")
		return nil, nil
	}

	types, err := resolveProfileTypes(cfg)
	if err != nil {
		return nil, err
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName:   cfg.ApplicationName,
		ServerAddress:     cfg.ServerAddress,
		BasicAuthUser:     cfg.BasicAuthUser,
		BasicAuthPassword: cfg.BasicAuthPassword,
		TenantID:          cfg.TenantID,
		Tags:              cfg.Tags,
		ProfileTypes:      types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Strings("profile_types", cfg.ProfileTypes),
	)

	return &Profiler{profiler: profiler, logger: logger}, nil
}

// resolveProfileTypes maps configured names to Pyroscope types and enables
// the runtime sampling the mutex and block profiles depend on
func resolveProfileTypes(cfg *config.ProfilingConfig) ([]pyroscope.ProfileType, error) {
	var types []pyroscope.ProfileType
	for _, name := range cfg.ProfileTypes {
		t, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		types = append(types, t...)

		switch name {
		case "mutex":
			runtime.SetMutexProfileFraction(cfg.SampleRate)
		case "block":
			runtime.SetBlockProfileRate(cfg.SampleRate)
		}
	}
	return types, nil
}

// Stop flushes and stops the profiler
func (p *Profiler) Stop() error {
	if p == nil || p.profiler == nil {
		return nil
	}

	if err := p.profiler.Stop(); err != nil {
		p.logger.Error("failed to stop profiler", zap.Error(err))
		return fmt.Errorf("profiler stop: %w", err)
	}
	return nil
}
