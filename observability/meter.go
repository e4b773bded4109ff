package observability

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/kbukum/sdkrtl/logger"
	"github.com/kbukum/sdkrtl/transport"
)

// MeterConfig configures the OpenTelemetry meter provider.
type MeterConfig struct {
	// ServiceName is the name of the calling application.
	ServiceName string
	// ServiceVersion is its version.
	ServiceVersion string
	// Environment is the deployment environment (dev, staging, prod).
	Environment string
	// Endpoint is the OTLP HTTP endpoint host:port (e.g., "localhost:4318").
	Endpoint string
	// Insecure allows insecure connections (for development).
	Insecure bool
	// Interval is the metric export interval.
	Interval time.Duration
}

// DefaultMeterConfig returns sensible defaults for development.
func DefaultMeterConfig(serviceName string) MeterConfig {
	return MeterConfig{
		ServiceName:    serviceName,
		ServiceVersion: "dev",
		Environment:    "development",
		Endpoint:       "localhost:4318",
		Insecure:       true,
		Interval:       15 * time.Second,
	}
}

// InitMeter installs a global meter provider exporting over OTLP/HTTP.
// The returned provider must be shut down on exit.
func InitMeter(ctx context.Context, config *MeterConfig) (*sdkmetric.MeterProvider, error) {
	opts := []otlpmetrichttp.Option{
		otlpmetrichttp.WithEndpoint(config.Endpoint),
	}
	if config.Insecure {
		opts = append(opts, otlpmetrichttp.WithInsecure())
	}

	exporter, err := otlpmetrichttp.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("creating metric exporter: %w", err)
	}

	res, err := newResource(config.ServiceName, config.ServiceVersion, config.Environment)
	if err != nil {
		return nil, fmt.Errorf("creating resource: %w", err)
	}

	readerOpts := []sdkmetric.PeriodicReaderOption{}
	if config.Interval > 0 {
		readerOpts = append(readerOpts, sdkmetric.WithInterval(config.Interval))
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, readerOpts...)),
		sdkmetric.WithResource(res),
	)

	otel.SetMeterProvider(mp)

	logger.Debug("meter initialized", logger.Fields(
		"service", config.ServiceName,
		"endpoint", config.Endpoint,
		"interval", config.Interval.String(),
	))

	return mp, nil
}

// Meter returns the module meter from the global provider.
func Meter() metric.Meter {
	return otel.Meter(InstrumentationName)
}

// Metrics holds OpenTelemetry instruments for completed exchanges.
type Metrics struct {
	exchangeTotal    metric.Int64Counter
	exchangeDuration metric.Float64Histogram
	responseSize     metric.Int64Histogram
}

// NewMetrics creates the exchange instruments on meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	exchangeTotal, err := meter.Int64Counter("sdk.exchange.total",
		metric.WithDescription("Total number of completed exchanges"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sdk.exchange.total counter: %w", err)
	}

	exchangeDuration, err := meter.Float64Histogram("sdk.exchange.duration",
		metric.WithDescription("Duration of exchanges in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sdk.exchange.duration histogram: %w", err)
	}

	responseSize, err := meter.Int64Histogram("sdk.exchange.response.size",
		metric.WithDescription("Size of buffered response bodies"),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, fmt.Errorf("creating sdk.exchange.response.size histogram: %w", err)
	}

	return &Metrics{
		exchangeTotal:    exchangeTotal,
		exchangeDuration: exchangeDuration,
		responseSize:     responseSize,
	}, nil
}

// RecordExchange records one completed exchange.
func (m *Metrics) RecordExchange(ctx context.Context, raw *transport.RawResponse) {
	attrs := metric.WithAttributes(
		attribute.String("method", raw.Method),
		attribute.String("status", strconv.Itoa(raw.StatusCode)),
		attribute.Bool("ok", raw.OK),
	)
	m.exchangeTotal.Add(ctx, 1, attrs)
	m.exchangeDuration.Record(ctx, raw.Duration().Seconds(), metric.WithAttributes(
		attribute.String("method", raw.Method),
	))
	if raw.Body != nil {
		m.responseSize.Record(ctx, int64(len(raw.Body)), metric.WithAttributes(
			attribute.String("method", raw.Method),
		))
	}
}

// Observer returns a transport observer feeding m.
func (m *Metrics) Observer() transport.Observer {
	return func(ctx context.Context, raw transport.RawResponse) {
		m.RecordExchange(ctx, &raw)
	}
}
