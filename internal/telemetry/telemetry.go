// Package telemetry counts archive events (committed and aborted runs,
// cascading deletes, identifier retries) and exports them as OpenTelemetry
// metrics over OTLP/gRPC. When no collector is configured a Noop recorder
// is used.
package telemetry

import (
	"context"

	"github.com/kelseyhightower/envconfig"
)

// Recorder receives archive events. Implementations must be safe for concurrent use.
type Recorder interface {
	RunCommitted(ctx context.Context, experiment string, measurements int)
	RunAborted(ctx context.Context, reason string)
	Deleted(ctx context.Context, entity string, rows int64)
	IDRetry(ctx context.Context, table string)
	Close(ctx context.Context) error
}

// Config holds OTLP exporter configuration.
type Config struct {
	Endpoint string `envconfig:"ENDPOINT"`
	Insecure bool   `envconfig:"INSECURE"`
}

// Enabled reports whether an exporter should be started.
func (c Config) Enabled() bool {
	return c.Endpoint != ""
}

// LoadConfig reads EXAR_OTEL_ENDPOINT and EXAR_OTEL_INSECURE.
func LoadConfig() (Config, error) {
	var cfg Config
	if err := envconfig.Process("exar_otel", &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Noop is a Recorder that does nothing.
type Noop struct{}

func (Noop) RunCommitted(context.Context, string, int) {}
func (Noop) RunAborted(context.Context, string) {}
func (Noop) Deleted(context.Context, string, int64) {}
func (Noop) IDRetry(context.Context, string) {}
func (Noop) Close(context.Context) error { return nil }
