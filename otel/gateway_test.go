package otel

import (
	"context"
	"errors"
	"testing"

	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/aviary-labs/voxadmin/toolcfg"
)

type stubGateway struct {
	err error
}

func (s stubGateway) ListTools(_ context.Context, _ string) ([]toolcfg.ToolSummary, error) {
	return nil, s.err
}

func (s stubGateway) GetTool(_ context.Context, _, _ string) (toolcfg.ToolDocument, error) {
	return toolcfg.ToolDocument{}, s.err
}

func (s stubGateway) CreateTool(_ context.Context, _ string, _ toolcfg.ToolDocument) (string, error) {
	return "tool-1", s.err
}

func (s stubGateway) PatchTool(_ context.Context, _, _ string, _ toolcfg.ToolPatch) error {
	return s.err
}

func collectMetrics(t *testing.T, reader *sdkmetric.ManualReader) metricdata.ResourceMetrics {
	t.Helper()
	var data metricdata.ResourceMetrics
	if err := reader.Collect(context.Background(), &data); err != nil {
		t.Fatalf("collect: %v", err)
	}
	return data
}

func findSum(data metricdata.ResourceMetrics, name string) (metricdata.Sum[int64], bool) {
	for _, scope := range data.ScopeMetrics {
		for _, m := range scope.Metrics {
			if m.Name == name {
				sum, ok := m.Data.(metricdata.Sum[int64])
				return sum, ok
			}
		}
	}
	return metricdata.Sum[int64]{}, false
}

func TestGatewayMetricsRecordsCalls(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	gw, err := NewGatewayMetrics(stubGateway{}, provider.Meter("test"), nil)
	if err != nil {
		t.Fatalf("NewGatewayMetrics: %v", err)
	}

	if _, err := gw.ListTools(context.Background(), "u"); err != nil {
		t.Fatalf("ListTools: %v", err)
	}
	if _, err := gw.CreateTool(context.Background(), "u", toolcfg.ToolDocument{}); err != nil {
		t.Fatalf("CreateTool: %v", err)
	}

	data := collectMetrics(t, reader)
	calls, ok := findSum(data, "voxadmin.registry.calls")
	if !ok {
		t.Fatal("calls counter missing")
	}
	var total int64
	for _, point := range calls.DataPoints {
		total += point.Value
	}
	if total != 2 {
		t.Fatalf("calls = %d, want 2", total)
	}
	if failures, ok := findSum(data, "voxadmin.registry.failures"); ok {
		for _, point := range failures.DataPoints {
			if point.Value != 0 {
				t.Fatalf("failures recorded without errors: %d", point.Value)
			}
		}
	}
}

func TestGatewayMetricsRecordsFailures(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	gw, err := NewGatewayMetrics(stubGateway{err: errors.New("down")}, provider.Meter("test"), nil)
	if err != nil {
		t.Fatalf("NewGatewayMetrics: %v", err)
	}
	if _, err := gw.GetTool(context.Background(), "u", "tool-1"); err == nil {
		t.Fatal("stub error swallowed")
	}

	data := collectMetrics(t, reader)
	failures, ok := findSum(data, "voxadmin.registry.failures")
	if !ok {
		t.Fatal("failures counter missing")
	}
	var total int64
	for _, point := range failures.DataPoints {
		total += point.Value
	}
	if total != 1 {
		t.Fatalf("failures = %d, want 1", total)
	}
}

func TestSaveObserver(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	provider := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))

	observer, err := NewSaveObserver(provider.Meter("test"))
	if err != nil {
		t.Fatalf("NewSaveObserver: %v", err)
	}

	observer.ObserveSave(toolcfg.KindWebhook, nil)
	observer.ObserveSave(toolcfg.KindGhlBooking, &toolcfg.ConfigError{Code: toolcfg.CodeValidationFailed})

	data := collectMetrics(t, reader)
	saves, ok := findSum(data, "voxadmin.tool.saves")
	if !ok {
		t.Fatal("saves counter missing")
	}
	var total int64
	for _, point := range saves.DataPoints {
		total += point.Value
	}
	if total != 2 {
		t.Fatalf("saves = %d, want 2", total)
	}

	failures, ok := findSum(data, "voxadmin.tool.save.failures")
	if !ok {
		t.Fatal("failures counter missing")
	}
	total = 0
	for _, point := range failures.DataPoints {
		total += point.Value
	}
	if total != 1 {
		t.Fatalf("failures = %d, want 1", total)
	}
}
