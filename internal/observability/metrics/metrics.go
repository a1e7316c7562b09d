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

// Metrics exposes loyalty domain instruments.
type Metrics struct {
	ledgerEntries      metric.Int64Counter
	ledgerPoints       metric.Int64Counter
	redemptions        metric.Int64Counter
	redemptionFailures metric.Int64Counter
	voucherTransitions metric.Int64Counter
	reportTransitions  metric.Int64Counter
	ordersConsumed     metric.Int64Counter
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
				if log != nil {
					log.Info("shutting down meter provider")
				}
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
		name = "loyalty"
	}
	meter := provider.Meter(name)

	var (
		m   Metrics
		err error
	)
	if m.ledgerEntries, err = meter.Int64Counter("loyalty_ledger_entries_total"); err != nil {
		return nil, err
	}
	if m.ledgerPoints, err = meter.Int64Counter("loyalty_ledger_points_total",
		metric.WithDescription("Absolute points moved through the ledger."),
	); err != nil {
		return nil, err
	}
	if m.redemptions, err = meter.Int64Counter("loyalty_redemptions_total"); err != nil {
		return nil, err
	}
	if m.redemptionFailures, err = meter.Int64Counter("loyalty_redemption_failures_total"); err != nil {
		return nil, err
	}
	if m.voucherTransitions, err = meter.Int64Counter("loyalty_voucher_transitions_total"); err != nil {
		return nil, err
	}
	if m.reportTransitions, err = meter.Int64Counter("loyalty_report_transitions_total"); err != nil {
		return nil, err
	}
	if m.ordersConsumed, err = meter.Int64Counter("loyalty_orders_consumed_total"); err != nil {
		return nil, err
	}
	return &m, nil
}

// RecordLedgerEntry counts an appended ledger entry and its absolute points.
func (m *Metrics) RecordLedgerEntry(ctx context.Context, kind string, points int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.ledgerEntries.Add(ctx, 1, metric.WithAttributes(attrs...))
	if points < 0 {
		points = -points
	}
	m.ledgerPoints.Add(ctx, points, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRedemption(ctx context.Context, catalogEntryID string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("catalog_entry", strings.TrimSpace(catalogEntryID)))
	m.redemptions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordRedemptionFailure(ctx context.Context, catalogEntryID, reason string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("catalog_entry", strings.TrimSpace(catalogEntryID)),
		attribute.String("reason", strings.TrimSpace(reason)),
	)
	m.redemptionFailures.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordVoucherTransition counts voucher status changes by target status.
func (m *Metrics) RecordVoucherTransition(ctx context.Context, status string, count int64) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.voucherTransitions.Add(ctx, count, metric.WithAttributes(attrs...))
}

func (m *Metrics) RecordReportTransition(ctx context.Context, status string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.reportTransitions.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordOrderConsumed counts inbound order events by outcome.
func (m *Metrics) RecordOrderConsumed(ctx context.Context, outcome string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("outcome", strings.TrimSpace(outcome)))
	m.ordersConsumed.Add(ctx, 1, metric.WithAttributes(attrs...))
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

// user_id and order_id are deliberately absent.
var allowedLabelKeys = map[attribute.Key]struct{}{
	"kind":          {},
	"catalog_entry": {},
	"status":        {},
	"reason":        {},
	"outcome":       {},
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
