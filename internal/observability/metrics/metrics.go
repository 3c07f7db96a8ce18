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

// Metrics exposes billing engine instruments.
type Metrics struct {
	deliveriesSettled  metric.Int64Counter
	walletTransactions metric.Int64Counter
	walletAmount       metric.Int64Counter
	penaltiesCharged   metric.Int64Counter
	monthlyPayments    metric.Int64Counter
	paymentEvents      metric.Int64Counter
	webhookThrottled   metric.Int64Counter
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
		name = "milkrun"
	}
	meter := provider.Meter(name)

	deliveriesSettled, err := meter.Int64Counter("milkrun_deliveries_settled_total")
	if err != nil {
		return nil, err
	}
	walletTransactions, err := meter.Int64Counter("milkrun_wallet_transactions_total")
	if err != nil {
		return nil, err
	}
	walletAmount, err := meter.Int64Counter("milkrun_wallet_amount_minor_total")
	if err != nil {
		return nil, err
	}
	penaltiesCharged, err := meter.Int64Counter("milkrun_bottle_penalties_total")
	if err != nil {
		return nil, err
	}
	monthlyPayments, err := meter.Int64Counter("milkrun_monthly_payments_total")
	if err != nil {
		return nil, err
	}
	paymentEvents, err := meter.Int64Counter("milkrun_payment_events_total")
	if err != nil {
		return nil, err
	}
	webhookThrottled, err := meter.Int64Counter("milkrun_webhook_throttled_total")
	if err != nil {
		return nil, err
	}

	return &Metrics{
		deliveriesSettled:  deliveriesSettled,
		walletTransactions: walletTransactions,
		walletAmount:       walletAmount,
		penaltiesCharged:   penaltiesCharged,
		monthlyPayments:    monthlyPayments,
		paymentEvents:      paymentEvents,
		webhookThrottled:   webhookThrottled,
	}, nil
}

// RecordDeliverySettled counts settled deliveries by final outcome.
func (m *Metrics) RecordDeliverySettled(ctx context.Context, outcome string, forced bool) {
	if m == nil {
		return
	}
	reason := "requested"
	if forced {
		reason = "negative_balance"
	}
	attrs := FilterAttributes(
		attribute.String("outcome", strings.TrimSpace(outcome)),
		attribute.String("reason", reason),
	)
	m.deliveriesSettled.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWalletTransaction counts wallet transactions and their absolute amount.
func (m *Metrics) RecordWalletTransaction(ctx context.Context, kind string, delta int64) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("kind", strings.TrimSpace(kind)))
	m.walletTransactions.Add(ctx, 1, metric.WithAttributes(attrs...))
	if delta < 0 {
		delta = -delta
	}
	m.walletAmount.Add(ctx, delta, metric.WithAttributes(attrs...))
}

// RecordPenalty counts fined bottles by source (sweep or admin).
func (m *Metrics) RecordPenalty(ctx context.Context, source string, bottles int) {
	if m == nil || bottles <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("source", strings.TrimSpace(source)))
	m.penaltiesCharged.Add(ctx, int64(bottles), metric.WithAttributes(attrs...))
}

// RecordMonthlyPayment counts monthly payment transitions by resulting status.
func (m *Metrics) RecordMonthlyPayment(ctx context.Context, status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	attrs := FilterAttributes(attribute.String("status", strings.TrimSpace(status)))
	m.monthlyPayments.Add(ctx, int64(count), metric.WithAttributes(attrs...))
}

// RecordPaymentEvent increments payment event counts.
func (m *Metrics) RecordPaymentEvent(ctx context.Context, provider, eventType string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(
		attribute.String("provider", strings.TrimSpace(provider)),
		attribute.String("event_type", strings.TrimSpace(eventType)),
	)
	m.paymentEvents.Add(ctx, 1, metric.WithAttributes(attrs...))
}

// RecordWebhookThrottled counts webhooks rejected by the rate limiter.
func (m *Metrics) RecordWebhookThrottled(ctx context.Context, provider string) {
	if m == nil {
		return
	}
	attrs := FilterAttributes(attribute.String("provider", strings.TrimSpace(provider)))
	m.webhookThrottled.Add(ctx, 1, metric.WithAttributes(attrs...))
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
	"outcome":    {},
	"kind":       {},
	"source":     {},
	"status":     {},
	"provider":   {},
	"event_type": {},
	"reason":     {},
}

// FilterAttributes strips disallowed labels to keep metrics low-cardinality.
// Customer and delivery identifiers never become labels.
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
