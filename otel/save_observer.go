package otel

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

// SaveObserver records tool save outcomes. It plugs into the server's
// SaveObserver hook.
type SaveObserver struct {
	saves    metric.Int64Counter
	failures metric.Int64Counter
}

// NewSaveObserver creates a save observer bound to the provided meter.
func NewSaveObserver(meter metric.Meter) (*SaveObserver, error) {
	saves, err := meter.Int64Counter(
		"voxadmin.tool.saves",
		metric.WithDescription("Number of tool save attempts"),
	)
	if err != nil {
		return nil, err
	}
	failures, err := meter.Int64Counter(
		"voxadmin.tool.save.failures",
		metric.WithDescription("Number of failed tool saves"),
	)
	if err != nil {
		return nil, err
	}
	return &SaveObserver{saves: saves, failures: failures}, nil
}

// ObserveSave records one save attempt and its outcome.
func (o *SaveObserver) ObserveSave(kind toolcfg.Kind, err error) {
	if o == nil {
		return
	}

	attrs := []attribute.KeyValue{
		attribute.String("kind", string(kind)),
		attribute.Bool("success", err == nil),
	}
	if err != nil {
		var cfgErr *toolcfg.ConfigError
		if errors.As(err, &cfgErr) {
			attrs = append(attrs, attribute.String("error_code", cfgErr.Code))
		}
	}

	ctx := context.Background()
	options := metric.WithAttributes(attrs...)
	o.saves.Add(ctx, 1, options)
	if err != nil {
		o.failures.Add(ctx, 1, options)
	}
}
