// Package observability provides OpenTelemetry tracing and metrics, an
// optional Prometheus scrape endpoint, and structured logging for the
// photo analyzer.
package observability

import (
	"io"
	"log/slog"
	"time"
)

// AppMode identifies how the binary was launched.
type AppMode string

const (
	// ModeCLI is an interactive command run.
	ModeCLI AppMode = "cli"
	// ModeBatch is an unattended batch run, e.g. from cron or CI.
	ModeBatch AppMode = "batch"
)

// ServiceName is the OTel service name and the "service" log attribute.
const ServiceName = "photo-analyzer"

const defaultShutdownTimeout = 5 * time.Second

// Config selects what Init builds.
type Config struct {
	Version     string
	Environment string
	Mode        AppMode

	Export ExportConfig
	Log    LogConfig

	// ShutdownTimeout bounds the final telemetry flush.
	ShutdownTimeout time.Duration
}

// ExportConfig describes where spans and metrics go. The zero value
// exports nothing.
type ExportConfig struct {
	// OTLPEndpoint is a gRPC collector address such as "localhost:4317".
	OTLPEndpoint string
	OTLPHeaders  map[string]string
	OTLPInsecure bool

	// SampleRatio samples root spans. Zero leaves the choice to
	// OTEL_TRACES_SAMPLER.
	SampleRatio float64

	// Prometheus exposes metrics as Providers.MetricsHandler.
	Prometheus bool
}

// LogConfig shapes the run logger.
type LogConfig struct {
	Level  slog.Level
	JSON   bool
	Output io.Writer // os.Stderr when nil.
}

// DefaultConfig returns text logs at info level and no exporters.
func DefaultConfig() Config {
	return Config{
		Mode:            ModeCLI,
		Log:             LogConfig{Level: slog.LevelInfo},
		ShutdownTimeout: defaultShutdownTimeout,
	}
}
