package metrics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

// Config configures the metrics provider.
type Config struct {
	Enabled          bool
	ExporterEndpoint string
	ExporterProtocol string
	ServiceName      string
	Environment      string
}

// Metrics exposes supervisor outcome instruments exported over OTLP.
type Metrics struct {
	envelopes    metric.Int64Counter
	tickerEvents metric.Int64Counter
	publishes    metric.Int64Counter
	batchSize    metric.Int64Histogram
}

// NewProvider configures and registers the meter provider.
func NewProvider(lc fx.Lifecycle, cfg Config, log *zap.Logger) (metric.MeterProvider, error) {
	if !cfg.Enabled {
		provider := noop.NewMeterProvider()
		otel.SetMeterProvider(provider)
		return provider, nil
	}

	exporter, err := newExporter(cfg.ExporterProtocol, cfg.ExporterEndpoint)
	if err != nil {
		return nil, err
	}

	reader := sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(10*time.Second))
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	otel.SetMeterProvider(provider)

	if lc != nil {
		lc.Append(fx.Hook{
			OnStop: func(ctx context.Context) error {
				return provider.Shutdown(ctx)
			},
		})
	}

	if log != nil {
		log.Info("metrics initialized",
			zap.String("endpoint", cfg.ExporterEndpoint),
			zap.String("protocol", cfg.ExporterProtocol),
		)
	}

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "plantwatch"
	}
	meter := provider.Meter(name)

	envelopes, err := meter.Int64Counter("plantwatch_ingest_envelopes_total")
	if err != nil {
		return nil, err
	}
	tickerEvents, err := meter.Int64Counter("plantwatch_ticker_events_total")
	if err != nil {
		return nil, err
	}
	publishes, err := meter.Int64Counter("plantwatch_status_publish_total")
	if err != nil {
		return nil, err
	}
	batchSize, err := meter.Int64Histogram("plantwatch_ingest_batch_size")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		envelopes:    envelopes,
		tickerEvents: tickerEvents,
		publishes:    publishes,
		batchSize:    batchSize,
	}, nil
}

// RecordDisposition counts one envelope outcome.
func (m *Metrics) RecordDisposition(ctx context.Context, status, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("status", strings.TrimSpace(status)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.envelopes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordBatch(ctx context.Context, size int) {
	if m == nil {
		return
	}
	m.batchSize.Record(ctx, int64(size))
}

// RecordTickerEvent counts a severity transition by its new severity.
func (m *Metrics) RecordTickerEvent(ctx context.Context, severity string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("severity", strings.TrimSpace(severity)))
	m.tickerEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordPublish counts a downstream publish outcome.
func (m *Metrics) RecordPublish(ctx context.Context, transport, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("transport", strings.TrimSpace(transport)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.publishes.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func newExporter(protocol, endpoint string) (sdkmetric.Exporter, error) {
	protocol = strings.ToLower(strings.TrimSpace(protocol))
	switch protocol {
	case "http", "http/protobuf":
		opts := []otlpmetrichttp.Option{}
		if endpoint != "" {
			opts = append(opts, otlpmetrichttp.WithEndpoint(endpoint))
		}
		return otlpmetrichttp.New(context.Background(), opts...)
	case "grpc", "grpc/protobuf", "":
		opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithInsecure()}
		if endpoint != "" {
			opts = append(opts, otlpmetricgrpc.WithEndpoint(endpoint))
		}
		return otlpmetricgrpc.New(context.Background(), opts...)
	default:
		return nil, fmt.Errorf("unsupported OTLP protocol %q", protocol)
	}
}

var allowedLabelKeys = map[attribute.Key]struct{}{
	"status":    {},
	"reason":    {},
	"severity":  {},
	"transport": {},
	"outcome":   {},
	"sink":      {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Plant and device identifiers never become labels.
func FilterAttributes(attrs ...attribute.KeyValue) []attribute.KeyValue {
	filtered := make([]attribute.KeyValue, 0, len(attrs))
	for _, attr := range attrs {
		if _, ok := allowedLabelKeys[attr.Key]; !ok {
			continue
		}
		filtered = append(filtered, attr)
	}
	return filtered
}
