// Package otel provides OpenTelemetry integration for the admin console:
// instrumented registry gateway calls, save outcome metrics, and trace
// provider setup for the serve command.
package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// GatewayMetrics wraps a registry gateway and records one metric sample and
// one span per call.
type GatewayMetrics struct {
	next   toolcfg.Gateway
	tracer trace.Tracer

	calls    metric.Int64Counter
	failures metric.Int64Counter
	latency  metric.Float64Histogram
}

// NewGatewayMetrics creates an instrumented gateway bound to the provided
// meter and tracer. A nil tracer disables span creation.
func NewGatewayMetrics(next toolcfg.Gateway, meter metric.Meter, tracer trace.Tracer) (*GatewayMetrics, error) {
	calls, err := meter.Int64Counter(
		"voxadmin.registry.calls",
		metric.WithDescription("Number of registry gateway calls"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"voxadmin.registry.failures",
		metric.WithDescription("Number of failed registry gateway calls"),
	)
	if err != nil {
		return nil, err
	}
	latency, err := meter.Float64Histogram(
		"voxadmin.registry.latency",
		metric.WithDescription("Registry gateway call latency in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	return &GatewayMetrics{
		next:     next,
		tracer:   tracer,
		calls:    calls,
		failures: failures,
		latency:  latency,
	}, nil
}

// ListTools implements toolcfg.Gateway.
func (g *GatewayMetrics) ListTools(ctx context.Context, userID string) ([]toolcfg.ToolSummary, error) {
	start := time.Now()
	summaries, err := g.next.ListTools(ctx, userID)
	g.observe(ctx, "list_tools", start, err)
	return summaries, err
}

// GetTool implements toolcfg.Gateway.
func (g *GatewayMetrics) GetTool(ctx context.Context, userID, toolID string) (toolcfg.ToolDocument, error) {
	start := time.Now()
	doc, err := g.next.GetTool(ctx, userID, toolID)
	g.observe(ctx, "get_tool", start, err)
	return doc, err
}

// CreateTool implements toolcfg.Gateway.
func (g *GatewayMetrics) CreateTool(ctx context.Context, userID string, doc toolcfg.ToolDocument) (string, error) {
	start := time.Now()
	id, err := g.next.CreateTool(ctx, userID, doc)
	g.observe(ctx, "create_tool", start, err)
	return id, err
}

// PatchTool implements toolcfg.Gateway.
func (g *GatewayMetrics) PatchTool(ctx context.Context, userID, toolID string, patch toolcfg.ToolPatch) error {
	start := time.Now()
	err := g.next.PatchTool(ctx, userID, toolID, patch)
	g.observe(ctx, "patch_tool", start, err)
	return err
}

func (g *GatewayMetrics) observe(ctx context.Context, op string, start time.Time, err error) {
	attrs := []attribute.KeyValue{
		attribute.String("operation", op),
		attribute.Bool("success", err == nil),
	}

	options := metric.WithAttributes(attrs...)
	g.calls.Add(ctx, 1, options)
	g.latency.Record(ctx, time.Since(start).Seconds(), options)
	if err != nil {
		g.failures.Add(ctx, 1, options)
	}

	if g.tracer == nil {
		return
	}
	_, span := g.tracer.Start(ctx, "registry."+op,
		trace.WithTimestamp(start),
		trace.WithAttributes(attrs...),
	)
	if err != nil {
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

var _ toolcfg.Gateway = (*GatewayMetrics)(nil)
