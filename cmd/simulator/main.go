package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-gl/mathgl/mgl64"
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

func main() {
	configPath := flag.String("config", "", "path to a YAML or JSON simulator config")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config: %v\n", err)
		os.Exit(1)
	}
	log := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var lis net.Listener
	if cfg.Federation.ListenAddr != "" {
		lis, err = net.Listen("tcp", cfg.Federation.ListenAddr)
		if err != nil {
			log.Error(ctx, "failed to listen for federation traffic",
				logging.String("addr", cfg.Federation.ListenAddr), logging.Err(err))
			os.Exit(1)
		}
	}

	if err := run(ctx, cfg, log, lis); err != nil {
		log.Error(ctx, "simulation failed", logging.Err(err))
		os.Exit(1)
	}
}

// run wires the engine to its publishers and inbound service, spawns the
// configured entities and drives the clock until the duration elapses or ctx
// is cancelled. A nil lis disables the inbound federation service.
func run(ctx context.Context, cfg *config.Config, log logging.Logger, lis net.Listener) error {
	shutdownTracing, err := observability.InitTracing(ctx, cfg.Tracing, log,
		attribute.String("sim.mode", cfg.Mode),
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
	defer func() {
		if metricsSrv != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}
	}()

	publisher, closePublishers, err := buildPublishers(cfg, log)
	if err != nil {
		return err
	}
	defer closePublishers()

	types, err := cfg.MunitionTable()
	if err != nil {
		return err
	}
	mirrorCfg, err := cfg.EntityConfig(cfg.Federation.MirrorType)
	if err != nil {
		return err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}

	registry := kb.NewRegistry()
	unsubscribe := registry.Subscribe(func(ev kb.Event) {
		if ev.Type != kb.EventDamageUpdated {
			return
		}
		log.Info(context.Background(), "damage state changed",
			logging.String("entity_id", ev.Entity.Definition.ID),
			logging.String("state", ev.Entity.Damage.State.String()),
			logging.Float("ratio", ev.Entity.Damage.Ratio),
		)
	})
	defer unsubscribe()

	engine := core.NewEngine(
		core.WithPublisher(publisher),
		core.WithEntityStore(registry),
		core.WithMetrics(collector),
		core.WithLogger(log),
		core.WithTracer(observability.Tracer()),
		core.WithEngineRandomSource(rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))),
		core.WithMunitions(types, cfg.DamageTable()),
		core.WithAutoMirror(mirrorCfg),
	)

	start := time.Now().UTC()
	if err := spawnEntities(cfg, engine, registry, start); err != nil {
		return err
	}

	if lis != nil {
		srv := federation.NewServer(engine, collector, log)
		log.Info(ctx, "serving federation updates", logging.String("addr", lis.Addr().String()))
		go func() {
			if err := srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
				log.Warn(context.Background(), "federation server exited", logging.Err(err))
			}
		}()
		defer srv.GracefulStop()
	}

	mode := timectrl.ParseMode(cfg.Mode)
	tc := timectrl.NewTimeController(start, cfg.Tick, mode)
	tc.AddListener(func(now time.Time) {
		if err := engine.Tick(ctx, now); err != nil {
			log.Warn(ctx, "tick completed with errors", logging.Err(err))
		}
	})

	log.Info(ctx, "starting simulation",
		logging.Duration("duration", cfg.Duration),
		logging.Duration("tick", cfg.Tick),
		logging.String("mode", mode.String()),
		logging.Int("entities", len(registry.ListEntities())),
	)
	<-tc.Start(ctx, cfg.Duration)

	for _, rec := range registry.ListEntities() {
		log.Info(context.Background(), "final entity state",
			logging.String("entity_id", rec.Definition.ID),
			logging.String("ownership", rec.Definition.Ownership.String()),
			logging.Any("position", rec.Pose.Position),
			logging.String("damage", rec.Damage.State.String()),
		)
	}
	log.Info(context.Background(), "simulation complete")
	return nil
}

// buildPublishers assembles the outbound fan-out: peers over gRPC, an
// optional msgpack stream file and the optional recorder.
func buildPublishers(cfg *config.Config, log logging.Logger) (federation.Publisher, func(), error) {
	var (
		fan     federation.FanOut
		closers []func() error
	)
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			_ = closers[i]()
		}
	}

	for _, peer := range cfg.Federation.Peers {
		client, err := federation.Dial(peer)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		fan = append(fan, client)
		closers = append(closers, client.Close)
		log.Info(context.Background(), "publishing to peer", logging.String("peer", peer))
	}

	if cfg.Federation.StreamPath != "" {
		f, err := os.Create(cfg.Federation.StreamPath)
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("open update stream: %w", err)
		}
		fan = append(fan, federation.NewStreamPublisher(f))
		closers = append(closers, f.Close)
	}

	if cfg.Recorder.Enabled {
		rec, err := recorder.Open(cfg.Recorder.Path, log)
		if err != nil {
			closeAll()
			return nil, nil, err
		}
		fan = append(fan, rec)
		closers = append(closers, rec.Close)
	}
	return fan, closeAll, nil
}

func spawnEntities(cfg *config.Config, engine *core.Engine, registry *kb.Registry, start time.Time) error {
	for _, spec := range cfg.Entities {
		def, err := cfg.Definition(spec)
		if err != nil {
			return err
		}
		id, err := registry.AddEntity(def)
		if err != nil {
			return fmt.Errorf("register %q: %w", spec.Name, err)
		}
		def.ID = id

		entCfg, err := cfg.EntityConfig(def.Type)
		if err != nil {
			return err
		}
		if def.Ownership == model.OwnershipLocal {
			entCfg.Motion = core.ScriptedMotion(model.KinematicSample{
				Position:       mgl64.Vec3(spec.Position),
				Orientation:    mgl64.Vec3{spec.Heading, 0, 0},
				LinearVelocity: mgl64.Vec3(spec.Velocity),
				Timestamp:      start,
			}, entCfg.Extrapolation.Algorithm)
		}
		if err := engine.AddEntity(def, entCfg); err != nil {
			return err
		}
	}
	return nil
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
