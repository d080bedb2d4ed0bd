// Package metrics wires the pipeline's counters into OpenTelemetry.
// When disabled, the provider is a no-op and every Record call is free.
package metrics

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetricgrpc"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"

	"taskgenie/internal/domain"
)

// Config for the metrics provider.
type Config struct {
	Enabled      bool
	OTLPEndpoint string
	Insecure     bool
	ServiceName  string
}

// Provider owns the meter provider and the pipeline counters.
type Provider struct {
	provider *sdkmetric.MeterProvider
	logger   *slog.Logger

	incomplete metric.Int64Counter
	generated  metric.Int64Counter
	updated    metric.Int64Counter
}

// NewProvider sets up the OTLP gRPC exporter and registers the global
// meter provider. A disabled config returns a provider whose Record
// methods do nothing.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	logger := slog.Default().With("component", "metrics")
	if !cfg.Enabled {
		return &Provider{logger: logger}, nil
	}
	if cfg.ServiceName == "" {
		cfg.ServiceName = "taskgenie"
	}

	opts := []otlpmetricgrpc.Option{otlpmetricgrpc.WithEndpoint(cfg.OTLPEndpoint)}
	if cfg.Insecure {
		opts = append(opts, otlpmetricgrpc.WithInsecure())
	}
	exporter, err := otlpmetricgrpc.New(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(sdkmetric.NewPeriodicReader(exporter, sdkmetric.WithInterval(15*time.Second))),
	)
	otel.SetMeterProvider(mp)

	meter := mp.Meter("taskgenie")
	p := &Provider{provider: mp, logger: logger}
	p.incomplete, err = meter.Int64Counter("taskgenie.items.incomplete",
		metric.WithDescription("Work items rejected by the quality gate"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	p.generated, err = meter.Int64Counter("taskgenie.items.generated",
		metric.WithDescription("Child items created by decomposition"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	p.updated, err = meter.Int64Counter("taskgenie.items.updated",
		metric.WithDescription("Parent items updated after decomposition"),
		metric.WithUnit("{item}"))
	if err != nil {
		return nil, err
	}
	logger.Info("metrics enabled", "endpoint", cfg.OTLPEndpoint)
	return p, nil
}

func itemTypeAttr(itemType domain.ItemType) metric.AddOption {
	return metric.WithAttributes(attribute.String("item.type", string(itemType)))
}

// RecordIncomplete counts an item the quality gate sent back for rework.
func (p *Provider) RecordIncomplete(ctx context.Context, itemType domain.ItemType) {
	if p.incomplete == nil {
		return
	}
	p.incomplete.Add(ctx, 1, itemTypeAttr(itemType))
}

// RecordGenerated counts children created for a parent.
func (p *Provider) RecordGenerated(ctx context.Context, itemType domain.ItemType, n int) {
	if p.generated == nil {
		return
	}
	p.generated.Add(ctx, int64(n), itemTypeAttr(itemType))
}

// RecordUpdated counts a parent that was tagged and commented.
func (p *Provider) RecordUpdated(ctx context.Context, itemType domain.ItemType) {
	if p.updated == nil {
		return
	}
	p.updated.Add(ctx, 1, itemTypeAttr(itemType))
}

// Shutdown flushes pending metrics. Safe on a disabled provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}
	return p.provider.Shutdown(ctx)
}
