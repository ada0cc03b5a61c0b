package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimCollector bundles Prometheus metrics for the simulation engine and the
// federation gRPC surface. It implements core.MetricsRecorder.
type SimCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	TickDuration          prometheus.Histogram
	Entities              *prometheus.GaugeVec
	PublishDecisions      *prometheus.CounterVec
	Detonations           *prometheus.CounterVec
	DamageTransitions     *prometheus.CounterVec
	ExtrapolationFailures prometheus.Counter
	ObservationsReceived  prometheus.Counter
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "federation_requests_total",
		Help: "Total number of handled federation RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "federation_requests_total")
	if err != nil {
		return nil, err
	}
	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "federation_request_duration_seconds",
		Help:    "Federation RPC latency in seconds.",
		Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"service", "method"}), "federation_request_duration_seconds")
	if err != nil {
		return nil, err
	}

	tick, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_tick_duration_seconds",
		Help:    "Wall-clock time spent processing one simulation tick.",
		Buckets: []float64{0.0001, 0.0005, 0.001, 0.005, 0.01, 0.05, 0.1},
	}), "sim_tick_duration_seconds")
	if err != nil {
		return nil, err
	}
	entities, err := registerGaugeVec(reg, prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "sim_entities",
		Help: "Current number of simulated entities, labeled by ownership.",
	}, []string{"ownership"}), "sim_entities")
	if err != nil {
		return nil, err
	}
	decisions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_publish_decisions_total",
		Help: "Publish decisions for locally owned entities, labeled by reason.",
	}, []string{"reason"}), "sim_publish_decisions_total")
	if err != nil {
		return nil, err
	}
	detonations, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_detonations_total",
		Help: "Processed detonations, labeled by outcome.",
	}, []string{"outcome"}), "sim_detonations_total")
	if err != nil {
		return nil, err
	}
	transitions, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_damage_notifications_total",
		Help: "Damage notifications emitted, labeled by resulting damage state.",
	}, []string{"state"}), "sim_damage_notifications_total")
	if err != nil {
		return nil, err
	}
	failures, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_extrapolation_failures_total",
		Help: "Extrapolations that produced a non-finite pose and fell back to the last valid one.",
	}), "sim_extrapolation_failures_total")
	if err != nil {
		return nil, err
	}
	observations, err := registerCounter(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_observations_total",
		Help: "Remote kinematic observations applied to extrapolators.",
	}), "sim_observations_total")
	if err != nil {
		return nil, err
	}

	return &SimCollector{
		gatherer:              gatherer,
		RPCRequests:           requests,
		RPCDurations:          durations,
		TickDuration:          tick,
		Entities:              entities,
		PublishDecisions:      decisions,
		Detonations:           detonations,
		DamageTransitions:     transitions,
		ExtrapolationFailures: failures,
		ObservationsReceived:  observations,
	}, nil
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		code := status.Code(err).String()

		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, code).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// ObserveTick records the duration of one tick and the entity population.
func (c *SimCollector) ObserveTick(d time.Duration, local, remote int) {
	if c == nil {
		return
	}
	c.TickDuration.Observe(d.Seconds())
	c.Entities.WithLabelValues("local").Set(float64(local))
	c.Entities.WithLabelValues("remote").Set(float64(remote))
}

// IncPublishDecision counts a publish decision by reason.
func (c *SimCollector) IncPublishDecision(reason string) {
	if c == nil {
		return
	}
	c.PublishDecisions.WithLabelValues(reason).Inc()
}

// IncDetonation counts a processed detonation by outcome.
func (c *SimCollector) IncDetonation(outcome string) {
	if c == nil {
		return
	}
	c.Detonations.WithLabelValues(outcome).Inc()
}

// IncDamageNotification counts a damage notification by resulting state.
func (c *SimCollector) IncDamageNotification(state string) {
	if c == nil {
		return
	}
	c.DamageTransitions.WithLabelValues(state).Inc()
}

// IncExtrapolationFailure counts a non-finite extrapolation.
func (c *SimCollector) IncExtrapolationFailure() {
	if c == nil {
		return
	}
	c.ExtrapolationFailures.Inc()
}

// IncObservation counts an applied remote observation.
func (c *SimCollector) IncObservation() {
	if c == nil {
		return
	}
	c.ObservationsReceived.Inc()
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

// register adds c to reg, returning the already registered collector of the
// same type when one exists.
func register[T prometheus.Collector](reg prometheus.Registerer, c T, name string) (T, error) {
	if err := reg.Register(c); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(T); ok {
				return existing, nil
			}
			var zero T
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero T
		return zero, err
	}
	return c, nil
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	return register(reg, vec, name)
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	return register(reg, vec, name)
}

func registerGaugeVec(reg prometheus.Registerer, vec *prometheus.GaugeVec, name string) (*prometheus.GaugeVec, error) {
	return register(reg, vec, name)
}

func registerHistogram(reg prometheus.Registerer, h prometheus.Histogram, name string) (prometheus.Histogram, error) {
	return register(reg, h, name)
}

func registerCounter(reg prometheus.Registerer, c prometheus.Counter, name string) (prometheus.Counter, error) {
	return register(reg, c, name)
}
