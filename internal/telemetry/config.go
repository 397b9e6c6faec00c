package telemetry

// Config holds OpenTelemetry tracing configuration.
type Config struct {
	// ServiceName is reported to the trace backend.
	ServiceName string

	ServiceVersion string

	// Endpoint is the OTLP/gRPC collector address, e.g. "localhost:4317".
	Endpoint string

	// SampleRate is the fraction of traces kept, 0.0 to 1.0.
	SampleRate float64

	Enabled  bool
	Insecure bool
}

// DefaultConfig returns tracing disabled with a local collector endpoint.
func DefaultConfig() Config {
	return Config{
		ServiceName:    "warren",
		ServiceVersion: "dev",
		Endpoint:       "localhost:4317",
		Insecure:       true,
		SampleRate:     1.0,
	}
}
