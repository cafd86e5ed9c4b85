package telemetry

import (
	"context"
	"testing"

	"github.com/CillianDeasy/esb-smart-meter-reading-automation/pkg/config"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseHeaders(t *testing.T) {
	got := ParseHeaders("Authorization=Basic abc==, X-Scope-OrgID=tenant,broken,=novalue")

	if len(got) != 2 {
		t.Fatalf("Expected 2 headers, got %d: %v", len(got), got)
	}
	if got["Authorization"] != "Basic abc==" {
		t.Errorf("Expected Authorization 'Basic abc==', got %q", got["Authorization"])
	}
	if got["X-Scope-OrgID"] != "tenant" {
		t.Errorf("Expected X-Scope-OrgID 'tenant', got %q", got["X-Scope-OrgID"])
	}

	if len(ParseHeaders("")) != 0 {
		t.Error("Expected no headers for empty string")
	}
}

func TestSetup_Disabled(t *testing.T) {
	p, err := Setup(context.Background(), &config.OpenTelemetryConfig{Enabled: false}, zap.NewNop())
	if err != nil {
		t.Fatalf("Expected no error, got: %v", err)
	}
	if p != nil {
		t.Errorf("Expected nil providers when disabled, got %+v", p)
	}
	if err := p.Shutdown(context.Background()); err != nil {
		t.Errorf("Expected nil providers to shut down cleanly, got: %v", err)
	}
}

func TestWithTrace(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	logger := zap.New(core)

	WithTrace(context.Background(), logger).Info("no span")

	tp := sdktrace.NewTracerProvider()
	defer tp.Shutdown(context.Background())
	ctx, span := tp.Tracer("test").Start(context.Background(), "op")
	WithTrace(ctx, logger).Info("with span")
	span.End()

	entries := logs.All()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 log entries, got %d", len(entries))
	}
	if _, ok := entries[0].ContextMap()["trace_id"]; ok {
		t.Error("Expected no trace_id without a span")
	}
	fields := entries[1].ContextMap()
	if fields["trace_id"] != span.SpanContext().TraceID().String() {
		t.Errorf("Expected trace_id %s, got %v", span.SpanContext().TraceID(), fields["trace_id"])
	}
	if fields["span_id"] != span.SpanContext().SpanID().String() {
		t.Errorf("Expected span_id %s, got %v", span.SpanContext().SpanID(), fields["span_id"])
	}
}
