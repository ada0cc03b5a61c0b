package observability

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	dto "github.com/prometheus/client_model/go"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func TestUnaryInterceptorRecordsMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/federation.v1.EntityUpdateService/Publish"}

	_, err = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		time.Sleep(time.Millisecond)
		return "ok", nil
	})
	if err != nil {
		t.Fatalf("interceptor handler returned error: %v", err)
	}

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("EntityUpdateService", "Publish", "OK")); got != 1 {
		t.Fatalf("federation_requests_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "federation_request_duration_seconds", map[string]string{
		"service": "EntityUpdateService",
		"method":  "Publish",
	}); count != 1 {
		t.Fatalf("federation_request_duration_seconds sample_count = %d, want 1", count)
	}
}

func TestUnaryInterceptorRecordsErrorCode(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	interceptor := collector.UnaryServerInterceptor()
	info := &grpc.UnaryServerInfo{FullMethod: "/federation.v1.EntityUpdateService/Detonate"}

	_, _ = interceptor(context.Background(), struct{}{}, info, func(ctx context.Context, req any) (any, error) {
		return nil, status.Error(codes.InvalidArgument, "boom")
	})

	if got := testutil.ToFloat64(collector.RPCRequests.WithLabelValues("EntityUpdateService", "Detonate", "InvalidArgument")); got != 1 {
		t.Fatalf("federation_requests_total error label = %v, want 1", got)
	}
}

func TestNewSimCollectorReusesRegisteredCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	first, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("first NewSimCollector: %v", err)
	}
	second, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("second NewSimCollector: %v", err)
	}

	first.IncDetonation("applied")
	if got := testutil.ToFloat64(second.Detonations.WithLabelValues("applied")); got != 1 {
		t.Fatalf("shared sim_detonations_total = %v, want 1", got)
	}
}

func TestEngineRecorderMethods(t *testing.T) {
	reg := prometheus.NewRegistry()
	c, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}

	c.ObserveTick(2*time.Millisecond, 3, 5)
	c.IncPublishDecision("translation")
	c.IncPublishDecision("translation")
	c.IncDamageNotification("KILL")
	c.IncExtrapolationFailure()
	c.IncObservation()

	if got := testutil.ToFloat64(c.Entities.WithLabelValues("remote")); got != 5 {
		t.Fatalf("sim_entities{remote} = %v, want 5", got)
	}
	if got := testutil.ToFloat64(c.PublishDecisions.WithLabelValues("translation")); got != 2 {
		t.Fatalf("sim_publish_decisions_total = %v, want 2", got)
	}
	if got := testutil.ToFloat64(c.DamageTransitions.WithLabelValues("KILL")); got != 1 {
		t.Fatalf("sim_damage_notifications_total = %v, want 1", got)
	}
	if got := testutil.ToFloat64(c.ExtrapolationFailures); got != 1 {
		t.Fatalf("sim_extrapolation_failures_total = %v, want 1", got)
	}
	if count := histogramSampleCount(t, reg, "sim_tick_duration_seconds", nil); count != 1 {
		t.Fatalf("sim_tick_duration_seconds sample_count = %d, want 1", count)
	}

	var nilCollector *SimCollector
	nilCollector.IncObservation()
}

func TestMetricsHandlerExposesSimMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector, err := NewSimCollector(reg)
	if err != nil {
		t.Fatalf("NewSimCollector: %v", err)
	}
	collector.ObserveTick(time.Millisecond, 1, 2)
	collector.IncPublishDecision("first")
	collector.IncObservation()
	collector.RPCRequests.WithLabelValues("svc", "method", "OK").Inc()

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	rr := httptest.NewRecorder()
	collector.Handler().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("/metrics status = %d, want 200", rr.Code)
	}
	body := rr.Body.String()
	for _, metric := range []string{
		"federation_requests_total",
		"sim_tick_duration_seconds",
		"sim_entities",
		"sim_publish_decisions_total",
		"sim_observations_total",
	} {
		if !strings.Contains(body, metric) {
			t.Fatalf("expected %q in /metrics output", metric)
		}
	}
}

func TestSplitMethod(t *testing.T) {
	cases := map[string][2]string{
		"": {"unknown", "unknown"},
		"/federation.v1.EntityUpdateService/Publish": {"EntityUpdateService", "Publish"},
		"nomethod": {"unknown", "unknown"},
	}
	for in, want := range cases {
		svc, m := SplitMethod(in)
		if svc != want[0] || m != want[1] {
			t.Fatalf("SplitMethod(%q) = %q,%q, want %q,%q", in, svc, m, want[0], want[1])
		}
	}
}

func histogramSampleCount(t *testing.T, gatherer prometheus.Gatherer, name string, labels map[string]string) uint64 {
	t.Helper()

	metrics, err := gatherer.Gather()
	if err != nil {
		t.Fatalf("gather metrics: %v", err)
	}
	for _, mf := range metrics {
		if mf.GetName() != name {
			continue
		}
		for _, m := range mf.Metric {
			if matchLabels(m.GetLabel(), labels) && m.GetHistogram() != nil {
				return m.GetHistogram().GetSampleCount()
			}
		}
	}
	return 0
}

func matchLabels(got []*dto.LabelPair, want map[string]string) bool {
	if len(got) < len(want) {
		return false
	}
	matched := 0
	for _, lp := range got {
		if val, ok := want[lp.GetName()]; ok && val == lp.GetValue() {
			matched++
		}
	}
	return matched == len(want)
}
