package observability

import (
	"context"
	"errors"
	"testing"

	"go.opentelemetry.io/otel/attribute"
)

func TestTracingConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("SIM_TRACING_ENABLED", "")
	t.Setenv("SIM_TRACING_EXPORTER", "")
	t.Setenv("SIM_TRACING_SERVICE_NAME", "")
	t.Setenv("SIM_TRACING_SAMPLE_RATIO", "2")

	cfg := TracingConfigFromEnv()
	if cfg.Enabled {
		t.Fatalf("Enabled = true, want false")
	}
	if cfg.Exporter != "stdout" {
		t.Fatalf("Exporter = %q, want stdout", cfg.Exporter)
	}
	if cfg.ServiceName != "federation-sim" {
		t.Fatalf("ServiceName = %q, want federation-sim", cfg.ServiceName)
	}
	if cfg.SampleRatio != 1 {
		t.Fatalf("SampleRatio = %v, want 1 for out-of-range input", cfg.SampleRatio)
	}
}

func TestInitTracingDisabled(t *testing.T) {
	shutdown, err := InitTracing(context.Background(), TracingConfig{}, nil)
	if err != nil {
		t.Fatalf("InitTracing: %v", err)
	}
	if err := shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}

	_, span := Tracer().Start(context.Background(), "tick")
	if span.SpanContext().IsValid() {
		t.Fatalf("noop tracer produced a valid span context")
	}
	span.End()
}

func TestInitTracingRejectsUnknownExporter(t *testing.T) {
	_, err := InitTracing(context.Background(), TracingConfig{Enabled: true, Exporter: "zipkin", SampleRatio: 1}, nil)
	if err == nil {
		t.Fatalf("expected error for unsupported exporter")
	}
}

func TestNewResourceCarriesFederateAttributes(t *testing.T) {
	res, err := newResource(context.Background(), TracingConfig{}, []attribute.KeyValue{
		attribute.String("sim.mode", "accelerated"),
	})
	if err != nil {
		t.Fatalf("newResource: %v", err)
	}
	got := map[attribute.Key]string{}
	for _, kv := range res.Attributes() {
		got[kv.Key] = kv.Value.Emit()
	}
	if got["service.name"] != "federation-sim" {
		t.Fatalf("service.name = %q, want federation-sim", got["service.name"])
	}
	if got["sim.mode"] != "accelerated" {
		t.Fatalf("sim.mode = %q, want accelerated", got["sim.mode"])
	}
}

func TestShutdownWithTimeoutBoundsContext(t *testing.T) {
	var hadDeadline bool
	ShutdownWithTimeout(context.Background(), func(ctx context.Context) error {
		_, hadDeadline = ctx.Deadline()
		return errors.New("flush failed")
	}, nil)
	if !hadDeadline {
		t.Fatalf("shutdown ran without a deadline")
	}
	ShutdownWithTimeout(context.Background(), nil, nil)
}
