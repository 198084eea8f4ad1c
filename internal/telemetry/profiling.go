package telemetry

import (
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/grafana/pyroscope-go"
)

var profileTypes = map[string]pyroscope.ProfileType{
	"cpu":            pyroscope.ProfileCPU,
	"alloc_objects":  pyroscope.ProfileAllocObjects,
	"alloc_space":    pyroscope.ProfileAllocSpace,
	"inuse_objects":  pyroscope.ProfileInuseObjects,
	"inuse_space":    pyroscope.ProfileInuseSpace,
	"goroutines":     pyroscope.ProfileGoroutines,
	"mutex_count":    pyroscope.ProfileMutexCount,
	"mutex_duration": pyroscope.ProfileMutexDuration,
	"block_count":    pyroscope.ProfileBlockCount,
	"block_duration": pyroscope.ProfileBlockDuration,
}

var profilingEnabled atomic.Bool

// InitProfiling starts the Pyroscope agent. The returned function stops it.
func InitProfiling(cfg ProfilingConfig) (func() error, error) {
	if !cfg.Enabled {
		profilingEnabled.Store(false)
		return func() error { return nil }, nil
	}

	types, err := ParseProfileTypes(cfg.ProfileTypes)
	if err != nil {
		return nil, err
	}

	// Mutex and block profiles are off in the runtime unless a rate is set.
	for _, pt := range cfg.ProfileTypes {
		switch pt {
		case "mutex_count", "mutex_duration":
			runtime.SetMutexProfileFraction(5)
		case "block_count", "block_duration":
			runtime.SetBlockProfileRate(5)
		}
	}

	profiler, err := pyroscope.Start(pyroscope.Config{
		ApplicationName: cfg.ServiceName,
		ServerAddress:   cfg.Endpoint,
		Tags:            map[string]string{"version": cfg.ServiceVersion},
		ProfileTypes:    types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Pyroscope profiler: %w", err)
	}

	profilingEnabled.Store(true)
	return profiler.Stop, nil
}

// IsProfilingEnabled reports whether the profiler is running.
func IsProfilingEnabled() bool {
	return profilingEnabled.Load()
}

// ParseProfileTypes maps profile names onto Pyroscope profile types.
func ParseProfileTypes(names []string) ([]pyroscope.ProfileType, error) {
	out := make([]pyroscope.ProfileType, 0, len(names))
	for _, name := range names {
		pt, ok := profileTypes[name]
		if !ok {
			return nil, fmt.Errorf("unknown profile type %q", name)
		}
		out = append(out, pt)
	}
	return out, nil
}

// ValidProfileType reports whether name is a known profile type.
func ValidProfileType(name string) bool {
	_, ok := profileTypes[name]
	return ok
}
