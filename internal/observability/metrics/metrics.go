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

// Metrics exposes application-level instruments.
type Metrics struct {
	mutations    metric.Int64Counter
	queries      metric.Int64Counter
	quotaAllowed metric.Int64Counter
	quotaDenied  metric.Int64Counter
	queryLatency metric.Float64Histogram
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
				log.Info("shutting down meter provider")
				return provider.Shutdown(ctx)
			},
		})
	}

	log.Info("metrics initialized",
		zap.String("endpoint", cfg.ExporterEndpoint),
		zap.String("protocol", cfg.ExporterProtocol),
	)

	return provider, nil
}

// New configures the domain metrics instruments.
func New(cfg Config, provider metric.MeterProvider) (*Metrics, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = "insightdesk"
	}
	meter := provider.Meter(name)

	mutations, err := meter.Int64Counter("insightdesk_insight_mutations_total")
	if err != nil {
		return nil, err
	}
	queries, err := meter.Int64Counter("insightdesk_insight_queries_total")
	if err != nil {
		return nil, err
	}
	quotaAllowed, err := meter.Int64Counter("insightdesk_quota_allowed_total")
	if err != nil {
		return nil, err
	}
	quotaDenied, err := meter.Int64Counter("insightdesk_quota_denied_total")
	if err != nil {
		return nil, err
	}
	queryLatency, err := meter.Float64Histogram("insightdesk_insight_query_duration_seconds")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		mutations:    mutations,
		queries:      queries,
		quotaAllowed: quotaAllowed,
		quotaDenied:  quotaDenied,
		queryLatency: queryLatency,
	}, nil
}

// NewNoop returns instruments backed by the noop provider.
func NewNoop() *Metrics {
	m, _ := New(Config{}, noop.NewMeterProvider())
	return m
}

// RecordMutation counts create, delete and regenerate operations by outcome.
func (m *Metrics) RecordMutation(ctx context.Context, operation, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("operation", strings.TrimSpace(operation)),
		attribute.String("outcome", strings.TrimSpace(outcome)),
	)
	m.mutations.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordQuery counts listing queries and their latency.
func (m *Metrics) RecordQuery(ctx context.Context, outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))...)
	m.queries.Add(ctx, 1, attrs)
	m.queryLatency.Record(ctx, elapsed.Seconds(), attrs)
}

// RecordQuota counts daily quota decisions.
func (m *Metrics) RecordQuota(ctx context.Context, service string, allowed bool) {
	if m == nil {
		return
	}
	attrs := metric.WithAttributes(FilterAttributes(attribute.String("service", strings.TrimSpace(service)))...)
	if allowed {
		m.quotaAllowed.Add(ctx, 1, attrs)
		return
	}
	m.quotaDenied.Add(ctx, 1, attrs)
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
	"operation": {},
	"outcome":   {},
	"service":   {},
	"reason":    {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
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
