// Package profiling pushes continuous profiles to Pyroscope.
package profiling

import (
	"fmt"
	"runtime"

	"github.com/grafana/pyroscope-go"
	"go.uber.org/zap"

	"github.com/mjasion/balena-home/freeclip/config"
)

// Profiler wraps the Pyroscope profiler
type Profiler struct {
	profiler *pyroscope.Profiler
	logger   *zap.Logger
}

// ProfileTypes lists the Pyroscope profile types enabled by cfg
func ProfileTypes(cfg *config.ProfilingConfig) []pyroscope.ProfileType {
	var types []pyroscope.ProfileType
	if cfg.CPUProfile {
		types = append(types, pyroscope.ProfileCPU)
	}
	if cfg.AllocProfile {
		types = append(types, pyroscope.ProfileAllocObjects, pyroscope.ProfileAllocSpace)
	}
	if cfg.InuseProfile {
		types = append(types, pyroscope.ProfileInuseObjects, pyroscope.ProfileInuseSpace)
	}
	if cfg.GoroutineProfile {
		types = append(types, pyroscope.ProfileGoroutines)
	}
	if cfg.MutexProfile {
		types = append(types, pyroscope.ProfileMutexCount, pyroscope.ProfileMutexDuration)
	}
	return types
}

// Start starts the profiler in push mode. It returns nil when profiling is
// disabled; Stop is safe on a nil Profiler.
func Start(cfg *config.ProfilingConfig, logger *zap.Logger) (*Profiler, error) {
	if !cfg.Enabled {
		logger.Info("profiling is disabled")
		return nil, nil
	}

	if cfg.MutexProfile {
		runtime.SetMutexProfileFraction(cfg.MutexProfileRate)
	}

	pc := pyroscope.Config{
		ApplicationName: cfg.ApplicationName,
		ServerAddress:   cfg.ServerAddress,
		TenantID:        cfg.TenantID,
		Tags:            cfg.Tags,
		ProfileTypes:    ProfileTypes(cfg),
	}
	if cfg.BasicAuthUser != "" && cfg.BasicAuthPassword != "" {
		pc.BasicAuthUser = cfg.BasicAuthUser
		pc.BasicAuthPassword = cfg.BasicAuthPassword
	}

	profiler, err := pyroscope.Start(pc)
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	logger.Info("Pyroscope profiler started",
		zap.String("server_address", cfg.ServerAddress),
		zap.String("application_name", cfg.ApplicationName),
		zap.Int("profile_types", len(pc.ProfileTypes)),
	)
	return &Profiler{profiler: profiler, logger: logger}, nil
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
	p.logger.Info("Pyroscope profiler stopped")
	return nil
}
