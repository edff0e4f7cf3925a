package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	serviceName    = "exar"
	serviceVersion = "0.1.0"
)

// OTel records archive events as OpenTelemetry counters.
type OTel struct {
	provider      *sdkmetric.MeterProvider
	runsCommitted metric.Int64Counter
	runsAborted   metric.Int64Counter
	measurements  metric.Int64Counter
	rowsDeleted   metric.Int64Counter
	idRetries     metric.Int64Counter
}

// NewOTel starts an OTLP/gRPC metric exporter for cfg.
func NewOTel(ctx context.Context, cfg Config) (*OTel, error) {
	if !cfg.Enabled() {
		return nil, fmt.Errorf("telemetry: endpoint not configured")
	}

	opts := []otlpmetricgrpc.Option{
		otlpmetricgrpc.WithEndpoint(cfg.Endpoint),
	}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithDialOption(grpc.WithTransportCredentials(insecure.NewCredentials())))
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}

	exp, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating OTLP exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			semconv.ServiceVersion(serviceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exp)),
		sdkmetric.WithResource(res),
	)
	otel.SetMeterProvider(provider)

	return newOTel(provider)
}

func newOTel(provider *sdkmetric.MeterProvider) (*OTel, error) {
	meter := provider.Meter(serviceName)

	runsCommitted, err := meter.Int64Counter(
		"exar_runs_committed_total",
		metric.WithDescription("Runs committed to the archive"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs committed counter: %w", err)
	}

	runsAborted, err := meter.Int64Counter(
		"exar_runs_aborted_total",
		metric.WithDescription("Runs aborted before or during commit"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating runs aborted counter: %w", err)
	}

	measurements, err := meter.Int64Counter(
		"exar_measurements_total",
		metric.WithDescription("Measurements written with committed runs"),
		metric.WithUnit("{measurement}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating measurements counter: %w", err)
	}

	rowsDeleted, err := meter.Int64Counter(
		"exar_rows_deleted_total",
		metric.WithDescription("Rows removed by cascading deletes"),
		metric.WithUnit("{row}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating rows deleted counter: %w", err)
	}

	idRetries, err := meter.Int64Counter(
		"exar_id_retries_total",
		metric.WithDescription("Identifier collisions that forced a redraw"),
		metric.WithUnit("{retry}"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating id retries counter: %w", err)
	}

	return &OTel{
		provider:      provider,
		runsCommitted: runsCommitted,
		runsAborted:   runsAborted,
		measurements:  measurements,
		rowsDeleted:   rowsDeleted,
		idRetries:     idRetries,
	}, nil
}

func (o *OTel) RunCommitted(ctx context.Context, experiment string, measurements int) {
	opt := metric.WithAttributes(attribute.String("experiment", experiment))
	o.runsCommitted.Add(ctx, 1, opt)
	o.measurements.Add(ctx, int64(measurements), opt)
}

func (o *OTel) RunAborted(ctx context.Context, reason string) {
	o.runsAborted.Add(ctx, 1, metric.WithAttributes(attribute.String("reason", reason)))
}

func (o *OTel) Deleted(ctx context.Context, entity string, rows int64) {
	o.rowsDeleted.Add(ctx, rows, metric.WithAttributes(attribute.String("entity", entity)))
}

func (o *OTel) IDRetry(ctx context.Context, table string) {
	o.idRetries.Add(ctx, 1, metric.WithAttributes(attribute.String("table", table)))
}

// Close shuts down the exporter and flushes any pending metrics.
func (o *OTel) Close(ctx context.Context) error {
	return o.provider.Shutdown(ctx)
}

// New returns an OTel recorder when cfg names an endpoint, Noop otherwise.
func New(ctx context.Context, cfg Config) (Recorder, error) {
	if !cfg.Enabled() {
		return Noop{}, nil
	}
	return NewOTel(ctx, cfg)
}
