package telemetry

// Config holds OpenTelemetry tracing configuration
type Config struct {
	// Enabled indicates whether tracing is enabled
	Enabled bool

	// ServiceName is reported as service.name on every span
	ServiceName string

	ServiceVersion string

	// Endpoint is the OTLP gRPC endpoint (e.g., "localhost:4317")
	Endpoint string

	// Insecure disables TLS towards the collector
	Insecure bool

	// SampleRate is the trace sampling ratio in [0, 1]
	SampleRate float64
}

// ProfilingConfig holds Pyroscope continuous profiling configuration
type ProfilingConfig struct {
	Enabled bool

	ServiceName string

	ServiceVersion string

	// Endpoint is the Pyroscope server URL (e.g., "http://localhost:4040")
	Endpoint string

	// ProfileTypes lists the profiles to collect (cpu, alloc_space, goroutines, ...)
	ProfileTypes []string
}

// DefaultConfig returns a disabled tracing configuration pointing at a local collector
func DefaultConfig() Config {
	return Config{
		Enabled:        false,
		ServiceName:    ServiceName,
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}

// DefaultProfilingConfig returns a disabled profiling configuration
func DefaultProfilingConfig() ProfilingConfig {
	return ProfilingConfig{
		Enabled:        false,
		ServiceName:    ServiceName,
		ServiceVersion: "dev",
		Endpoint:       "http://localhost:4040",
		ProfileTypes:   []string{"cpu", "alloc_space", "inuse_space", "goroutines"},
	}
}
