package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel/attribute"
	"google.golang.org/grpc"

	"github.com/signalsfoundry/federation-sim/core"
	"github.com/signalsfoundry/federation-sim/internal/config"
	"github.com/signalsfoundry/federation-sim/internal/federation"
	"github.com/signalsfoundry/federation-sim/internal/logging"
	"github.com/signalsfoundry/federation-sim/internal/observability"
	"github.com/signalsfoundry/federation-sim/internal/recorder"
	"github.com/signalsfoundry/federation-sim/kb"
	"github.com/signalsfoundry/federation-sim/model"
	"github.com/signalsfoundry/federation-sim/timectrl"
)

// reportInterval is how much simulation time passes between status logs.
var reportInterval = 5 * time.Second

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON config")
	grpcAddr := flag.String("grpc-addr", "", "TCP address the federation gRPC server listens on (overrides config)")
	metricsAddr := flag.String("metrics-addr", "", "HTTP address for Prometheus /metrics (overrides config)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	if *grpcAddr != "" {
		cfg.Federation.ListenAddr = *grpcAddr
	}
	if *metricsAddr != "" {
		cfg.MetricsAddr = *metricsAddr
	}

	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	lis, err := net.Listen("tcp", cfg.Federation.ListenAddr)
	if err != nil {
		log.Error(ctx, "failed to listen for gRPC", logging.String("addr", cfg.Federation.ListenAddr), logging.Err(err))
		os.Exit(1)
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "federation server failed", logging.Err(err))
		os.Exit(1)
	}
}

// run mirrors every entity peers publish to lis and dead reckons them until
// ctx is cancelled.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log,
		attribute.String("sim.role", "federation-server"),
		attribute.String("sim.federation.listen_addr", cfg.Federation.ListenAddr),
	)
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer observability.ShutdownWithTimeout(context.Background(), shutdownTracing, log)

	collector, err := observability.NewSimCollector(prometheus.NewRegistry())
	if err != nil {
		return fmt.Errorf("init metrics: %w", err)
	}
	metricsSrv := serveMetrics(cfg.MetricsAddr, collector, log)

	mirrorCfg, err := cfg.EntityConfig(cfg.Federation.MirrorType)
	if err != nil {
		return err
	}
	types, err := cfg.MunitionTable()
	if err != nil {
		return err
	}

	registry := kb.NewRegistry()
	engine := core.NewEngine(
		core.WithEntityStore(registry),
		core.WithMetrics(collector),
		core.WithLogger(log),
		core.WithTracer(observability.Tracer()),
		core.WithMunitions(types, cfg.DamageTable()),
		core.WithAutoMirror(mirrorCfg),
	)

	var inbox federation.Inbox = engine
	if cfg.Recorder.Enabled {
		rec, err := recorder.Open(cfg.Recorder.Path, log)
		if err != nil {
			return err
		}
		defer rec.Close()
		inbox = recordingInbox{Inbox: engine, rec: rec, log: log}
	}

	server := federation.NewServer(inbox, collector, log)
	log.Info(ctx, "starting federation gRPC server", logging.String("addr", lis.Addr().String()))
	go func() {
		if err := server.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			log.Error(context.Background(), "gRPC server exited", logging.Err(err))
		}
	}()

	tc := timectrl.NewTimeController(time.Now().UTC(), cfg.Tick, timectrl.RealTime)
	tc.AddListener(func(now time.Time) {
		if err := engine.Tick(ctx, now); err != nil {
			log.Warn(ctx, "tick completed with errors", logging.Err(err))
		}
	})
	done := tc.Start(ctx, 0)
	go reportLoop(ctx, tc, registry, log)

	<-ctx.Done()
	<-done

	log.Info(context.Background(), "shutting down federation server")
	server.GracefulStop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(shutdownCtx)
	}
	return nil
}

// recordingInbox stores every peer update the engine accepts.
type recordingInbox struct {
	federation.Inbox
	rec *recorder.Recorder
	log logging.Logger
}

func (r recordingInbox) ReceiveUpdate(u model.EntityUpdate) error {
	if err := r.Inbox.ReceiveUpdate(u); err != nil {
		return err
	}
	if err := r.rec.Publish(context.Background(), u); err != nil {
		r.log.Warn(context.Background(), "failed to record update", logging.String("entity_id", u.EntityID), logging.Err(err))
	}
	return nil
}

func reportLoop(ctx context.Context, tc *timectrl.TimeController, registry *kb.Registry, log logging.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tc.After(reportInterval):
			log.Info(ctx, "mirrored entities",
				logging.Int("count", len(registry.ListEntities())),
				logging.String("sim_time", now.Format(time.RFC3339)),
			)
		}
	}
}

func serveMetrics(addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(context.Background(), "metrics server exited", logging.Err(err))
		}
	}()

	log.Info(context.Background(), "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}
