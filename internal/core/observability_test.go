package core

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"shrimptrace/internal/infra/persistence/memory"
	"shrimptrace/pkg/domain"
)

type metricsCall struct {
	op       string
	success  bool
	duration time.Duration
}

type captureMetricsRecorder struct {
	calls []metricsCall
}

func (c *captureMetricsRecorder) Observe(_ context.Context, op string, success bool, duration time.Duration) {
	c.calls = append(c.calls, metricsCall{op: op, success: success, duration: duration})
}

func (c *captureMetricsRecorder) has(op string, success bool) bool {
	for _, call := range c.calls {
		if call.op == op && call.success == success {
			return true
		}
	}
	return false
}

func TestServiceInstrumentsOperations(t *testing.T) {
	ctx := context.Background()
	metrics := &captureMetricsRecorder{}
	tracer := NewJSONTracer(nil)
	svc := NewService(memory.NewStore(NewDefaultRulesEngine()),
		WithMetricsRecorder(metrics),
		WithTracer(tracer),
	)

	if _, _, err := svc.CreateNode(ctx, domain.Node{Name: "Collector", Type: domain.NodeCollector}); err != nil {
		t.Fatalf("create node: %v", err)
	}
	if !metrics.has("create_node", true) {
		t.Fatalf("expected success metric for create_node, got %+v", metrics.calls)
	}

	missingFarm := "missing-farm"
	if _, _, err := svc.CreateLot(ctx, domain.Lot{Code: "LOT-1", FarmID: &missingFarm}); err == nil {
		t.Fatalf("expected referential error")
	}
	if !metrics.has("create_lot", false) {
		t.Fatalf("expected error metric for create_lot, got %+v", metrics.calls)
	}

	entries := tracer.Entries()
	if len(entries) != 2 {
		t.Fatalf("expected 2 trace spans, got %d", len(entries))
	}
	if entries[0].Operation != "create_node" || entries[0].Status != "success" {
		t.Fatalf("unexpected first span %+v", entries[0])
	}
	if entries[1].Operation != "create_lot" || entries[1].Status != "error" || entries[1].Error == "" {
		t.Fatalf("unexpected second span %+v", entries[1])
	}
}

func TestExpvarMetricsRecorderAggregates(t *testing.T) {
	rec := NewExpvarMetricsRecorder("")
	if rec.Name() == "" {
		t.Fatalf("expected generated expvar name")
	}

	ctx := context.Background()
	rec.Observe(ctx, "rescore_lot", true, 20*time.Millisecond)
	rec.Observe(ctx, "rescore_lot", true, 30*time.Millisecond)
	rec.Observe(ctx, "rescore_lot", false, 5*time.Millisecond)
	rec.Observe(ctx, "", true, time.Second)

	snap := rec.Snapshot()
	if got := snap.DurationsMS["rescore_lot"]; got != 55 {
		t.Fatalf("expected 55ms total, got %v", got)
	}
	if snap.Results["rescore_lot"]["success"] != 2 || snap.Results["rescore_lot"]["error"] != 1 {
		t.Fatalf("unexpected result counters %+v", snap.Results)
	}
	if _, ok := snap.Results[""]; ok {
		t.Fatalf("empty operation must be ignored")
	}
}

func TestPrometheusMetricsRecorderRegisters(t *testing.T) {
	registry := prometheus.NewRegistry()
	rec, err := NewPrometheusMetricsRecorder(registry)
	if err != nil {
		t.Fatalf("new recorder: %v", err)
	}
	rec.Observe(context.Background(), "create_lot", true, 10*time.Millisecond)
	rec.Observe(context.Background(), "create_lot", false, 10*time.Millisecond)

	families, err := registry.Gather()
	if err != nil {
		t.Fatalf("gather: %v", err)
	}
	names := make(map[string]bool, len(families))
	for _, family := range families {
		names[family.GetName()] = true
	}
	if !names["shrimptrace_service_operations_total"] || !names["shrimptrace_service_operation_duration_seconds"] {
		t.Fatalf("expected registered metric families, got %v", names)
	}

	if _, err := NewPrometheusMetricsRecorder(registry); err == nil {
		t.Fatalf("expected duplicate registration error")
	}
}

func TestJSONTracerWritesLines(t *testing.T) {
	var buf bytes.Buffer
	tracer := NewJSONTracer(&buf)
	_, span := tracer.Start(context.Background(), "report_incident")
	span.End(nil)

	line := strings.TrimSpace(buf.String())
	if !strings.Contains(line, `"operation":"report_incident"`) || !strings.Contains(line, `"status":"success"`) {
		t.Fatalf("unexpected trace line %q", line)
	}
}
