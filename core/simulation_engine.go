package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/signalsfoundry/federation-sim/internal/logging"
	"github.com/signalsfoundry/federation-sim/kb"
	"github.com/signalsfoundry/federation-sim/model"
)

// OutcomeNotOwned marks detonations against entities another simulator owns.
// The owner assesses damage and publishes the result.
const OutcomeNotOwned DetonationOutcome = "not_owned"

// MetricsRecorder receives engine counters. observability.SimCollector
// implements it.
type MetricsRecorder interface {
	ObserveTick(d time.Duration, local, remote int)
	IncPublishDecision(reason string)
	IncDetonation(outcome string)
	IncDamageNotification(state string)
	IncExtrapolationFailure()
	IncObservation()
}

// UpdatePublisher hands entity updates to the messaging layer.
type UpdatePublisher interface {
	Publish(ctx context.Context, update model.EntityUpdate) error
}

// EntityStore mirrors entity poses and damage for readers outside the tick.
// kb.Registry implements it.
type EntityStore interface {
	UpdateEntityPose(id string, pose model.Pose) error
	UpdateEntityDamage(id string, dmg kb.DamageSnapshot) error
}

// EntityRegistrar is implemented by stores that must learn about an entity
// before accepting its poses. Auto-mirrored entities are registered through it.
type EntityRegistrar interface {
	AddEntity(def model.EntityDefinition) (string, error)
}

// MotionSource supplies the authoritative kinematic state of a local entity.
type MotionSource interface {
	Sample(now time.Time) model.KinematicSample
}

// MotionSourceFunc adapts a function to MotionSource.
type MotionSourceFunc func(now time.Time) model.KinematicSample

// Sample implements MotionSource.
func (f MotionSourceFunc) Sample(now time.Time) model.KinematicSample { return f(now) }

// StaticMotion keeps a local entity at a fixed sample.
func StaticMotion(sample model.KinematicSample) MotionSource {
	return MotionSourceFunc(func(time.Time) model.KinematicSample { return sample })
}

// EntityConfig is the per-entity behaviour handed to AddEntity.
type EntityConfig struct {
	Extrapolation ExtrapolationConfig
	Publish       PublishPolicy
	Damage        DamageConfig

	// Motion drives local entities. A nil source holds the entity at the origin.
	Motion MotionSource
	// Sink receives extrapolated poses in DRCalculateAndMove mode.
	Sink PoseSink

	Filter    DamageFilter
	Responder HitResponder
}

// DefaultEntityConfig returns default dead reckoning, publish and damage
// settings.
func DefaultEntityConfig() EntityConfig {
	return EntityConfig{
		Extrapolation: DefaultExtrapolationConfig(),
		Publish:       DefaultPublishPolicy(),
		Damage:        DefaultDamageConfig(),
	}
}

// EntitySnapshot is a copy of one entity's runtime state.
type EntitySnapshot struct {
	Definition model.EntityDefinition
	Pose       model.Pose
	Damage     DamageState
	LastSample model.KinematicSample
	HasSample  bool
	Published  bool
}

type entityRuntime struct {
	def model.EntityDefinition
	cfg EntityConfig

	extrap  *Extrapolator
	publish *PublishState
	damage  *DamageHelper

	pose       model.Pose
	lastSample model.KinematicSample
	hasSample  bool
}

func (rt *entityRuntime) EntityID() string       { return rt.def.ID }
func (rt *entityRuntime) Pose() model.Pose       { return rt.pose }
func (rt *entityRuntime) Dimensions() mgl64.Vec3 { return rt.def.Dimensions }

func (rt *entityRuntime) FilterDamage(scaled float64, det model.Detonation, munition model.Munition) float64 {
	if rt.cfg.Filter == nil {
		return scaled
	}
	return rt.cfg.Filter.FilterDamage(scaled, det, munition)
}

func (rt *entityRuntime) RespondToHit(det model.Detonation, munition model.Munition, force, location mgl64.Vec3) {
	if rt.cfg.Responder != nil {
		rt.cfg.Responder.RespondToHit(det, munition, force, location)
	}
}

// Engine runs dead reckoning, publish decisions and damage for every entity
// this simulator knows about. ReceiveUpdate and EnqueueDetonation may be
// called from any goroutine; entity state only changes inside Tick.
type Engine struct {
	inboxMu      sync.Mutex
	observations []model.EntityUpdate
	detonations  []model.Detonation

	mu       sync.Mutex
	entities map[string]*entityRuntime
	order    []string
	outbox   []model.EntityUpdate
	now      time.Time
	tick     uint64

	munitions   *MunitionTypeTable
	damageTable *MunitionDamageTable

	publisher UpdatePublisher
	store     EntityStore
	metrics   MetricsRecorder
	log       logging.Logger
	rng       RandomSource
	tracer    trace.Tracer

	mirror *EntityConfig
}

// EngineOption customises an Engine.
type EngineOption func(*Engine)

// WithPublisher sets where outbound updates go.
func WithPublisher(p UpdatePublisher) EngineOption {
	return func(e *Engine) { e.publisher = p }
}

// WithEntityStore mirrors poses and damage into store after each tick.
func WithEntityStore(store EntityStore) EngineOption {
	return func(e *Engine) { e.store = store }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m MetricsRecorder) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithLogger sets the engine logger.
func WithLogger(l logging.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.log = l
		}
	}
}

// WithEngineRandomSource shares one generator across every entity's damage
// assessment, which makes runs reproducible.
func WithEngineRandomSource(rng RandomSource) EngineOption {
	return func(e *Engine) { e.rng = rng }
}

// WithMunitions sets the munition type and damage tables.
func WithMunitions(types *MunitionTypeTable, damage *MunitionDamageTable) EngineOption {
	return func(e *Engine) {
		e.munitions = types
		e.damageTable = damage
	}
}

// WithTracer overrides the tracer used for tick spans.
func WithTracer(t trace.Tracer) EngineOption {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

// WithAutoMirror makes the engine create a remote entity with cfg the first
// time it receives an update for an unknown entity.
func WithAutoMirror(cfg EntityConfig) EngineOption {
	return func(e *Engine) { e.mirror = &cfg }
}

// NewEngine constructs an engine with no entities.
func NewEngine(opts ...EngineOption) *Engine {
	e := &Engine{
		entities: make(map[string]*entityRuntime),
		log:      logging.Noop(),
		tracer:   otel.Tracer("github.com/signalsfoundry/federation-sim/core"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// EntityOption adjusts an EntityConfig passed to AddEntity.
type EntityOption func(*EntityConfig)

// WithMotion drives a local entity from src.
func WithMotion(src MotionSource) EntityOption {
	return func(c *EntityConfig) { c.Motion = src }
}

// WithSink receives extrapolated poses in DRCalculateAndMove mode.
func WithSink(sink PoseSink) EntityOption {
	return func(c *EntityConfig) { c.Sink = sink }
}

// WithDamageFilter lets the entity scale incoming damage.
func WithDamageFilter(f DamageFilter) EntityOption {
	return func(c *EntityConfig) { c.Filter = f }
}

// WithHitResponder notifies the entity of forces from detonations within
// cutoff range.
func WithHitResponder(r HitResponder) EntityOption {
	return func(c *EntityConfig) { c.Responder = r }
}

// AddEntity starts simulating def. Local entities publish their state and
// assess damage; remote entities are dead reckoned from received updates.
// Options are applied to cfg in order.
func (e *Engine) AddEntity(def model.EntityDefinition, cfg EntityConfig, opts ...EntityOption) error {
	if def.ID == "" {
		return fmt.Errorf("%w: empty entity ID", ErrInvalidUpdate)
	}
	for _, opt := range opts {
		opt(&cfg)
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.addEntityLocked(def, cfg)
}

func (e *Engine) addEntityLocked(def model.EntityDefinition, cfg EntityConfig) error {
	if _, exists := e.entities[def.ID]; exists {
		return fmt.Errorf("%w: %q", ErrEntityExists, def.ID)
	}

	log := logging.ForEntity(e.log, def.ID)
	rt := &entityRuntime{def: def, cfg: cfg}

	var extrapOpts []ExtrapolatorOption
	if cfg.Sink != nil {
		extrapOpts = append(extrapOpts, WithPoseSink(cfg.Sink))
	}
	rt.extrap = NewExtrapolator(def.ID, cfg.Extrapolation, extrapOpts...)
	rt.publish = NewPublishState(cfg.Publish)

	damageOpts := []DamageHelperOption{
		WithDamageLogger(e.log),
		WithDamageNotifier(DamageNotifierFunc(func(ctx context.Context, id string, state DamageState) {
			e.onDamage(ctx, rt, state)
		})),
	}
	if e.rng != nil {
		damageOpts = append(damageOpts, WithRandomSource(e.rng))
	}
	rt.damage = NewDamageHelper(def.ID, cfg.Damage, e.damageTable, damageOpts...)

	e.entities[def.ID] = rt
	e.order = append(e.order, def.ID)
	log.Info(context.Background(), "entity added",
		logging.String("type", def.Type),
		logging.String("ownership", def.Ownership.String()))
	return nil
}

// RemoveEntity stops simulating an entity.
func (e *Engine) RemoveEntity(id string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.entities[id]; !ok {
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	delete(e.entities, id)
	for i, oid := range e.order {
		if oid == id {
			e.order = append(e.order[:i], e.order[i+1:]...)
			break
		}
	}
	return nil
}

// Entity returns a snapshot of an entity's runtime state.
func (e *Engine) Entity(id string) (EntitySnapshot, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	rt, ok := e.entities[id]
	if !ok {
		return EntitySnapshot{}, false
	}
	return EntitySnapshot{
		Definition: rt.def,
		Pose:       rt.pose,
		Damage:     rt.damage.State(),
		LastSample: rt.lastSample,
		HasSample:  rt.hasSample,
		Published:  rt.publish.Published,
	}, true
}

// ReceiveUpdate queues an update from a peer. It is applied at the start of
// the next tick in arrival order.
func (e *Engine) ReceiveUpdate(update model.EntityUpdate) error {
	if update.EntityID == "" {
		return fmt.Errorf("%w: empty entity ID", ErrInvalidUpdate)
	}
	if update.Kind != model.UpdateKindState && update.Kind != model.UpdateKindDamage {
		return fmt.Errorf("%w: unknown kind %q", ErrInvalidUpdate, update.Kind)
	}
	e.inboxMu.Lock()
	e.observations = append(e.observations, update)
	e.inboxMu.Unlock()
	return nil
}

// EnqueueDetonation queues a detonation. Detonations are processed one at a
// time in arrival order after the tick's observations.
func (e *Engine) EnqueueDetonation(det model.Detonation) error {
	if det.TargetID == "" {
		return fmt.Errorf("%w: empty target ID", ErrInvalidDetonation)
	}
	e.inboxMu.Lock()
	e.detonations = append(e.detonations, det)
	e.inboxMu.Unlock()
	return nil
}

// RepairEntity restores a local entity to undamaged, as on respawn.
func (e *Engine) RepairEntity(ctx context.Context, id string) error {
	e.mu.Lock()
	rt, ok := e.entities[id]
	if !ok {
		e.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	rt.damage.Repair(ctx)
	out := e.takeOutbox()
	e.mu.Unlock()

	return e.flush(ctx, out, nil)
}

type poseUpdate struct {
	id   string
	pose model.Pose
}

// Tick advances every entity to now: queued observations, then local
// sampling, then queued detonations against the fresh local poses, then
// extrapolation of remote entities and publish decisions for local ones.
// Outbound updates are published and poses stored once entity state is
// settled. Publish and store failures are joined into the returned error.
func (e *Engine) Tick(ctx context.Context, now time.Time) error {
	start := time.Now()

	e.mu.Lock()
	e.tick++
	e.now = now
	ctx = logging.ContextWithTick(ctx, e.tick)
	ctx, span := e.tracer.Start(ctx, "engine.Tick", trace.WithAttributes(
		attribute.Int64("sim.tick", int64(e.tick)),
		attribute.String("sim.time", now.UTC().Format(time.RFC3339Nano)),
	))
	defer span.End()

	observations, detonations := e.drainInboxes()
	for _, u := range observations {
		e.applyUpdate(ctx, u)
	}

	// Local poses are sampled for now before detonations are assessed
	// against them.
	sampled := make(map[string]bool, len(e.order))
	for _, id := range e.order {
		if rt := e.entities[id]; rt.def.Ownership == model.OwnershipLocal {
			sampled[id] = e.sampleLocal(ctx, rt, now)
		}
	}
	for _, det := range detonations {
		e.applyDetonation(ctx, det)
	}

	poses := make([]poseUpdate, 0, len(e.order))
	local, remote := 0, 0
	for _, id := range e.order {
		rt := e.entities[id]
		var ok bool
		if rt.def.Ownership == model.OwnershipLocal {
			local++
			ok = sampled[id]
			if ok {
				e.decidePublish(rt, now)
			}
		} else {
			remote++
			ok = e.stepRemote(ctx, rt, now)
		}
		if ok {
			poses = append(poses, poseUpdate{id: id, pose: rt.pose})
		}
	}
	out := e.takeOutbox()
	e.mu.Unlock()

	err := e.flush(ctx, out, poses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "tick flush failed")
	}
	span.SetAttributes(
		attribute.Int("sim.entities.local", local),
		attribute.Int("sim.entities.remote", remote),
		attribute.Int("sim.updates.out", len(out)),
	)
	if e.metrics != nil {
		e.metrics.ObserveTick(time.Since(start), local, remote)
	}
	return err
}

func (e *Engine) drainInboxes() ([]model.EntityUpdate, []model.Detonation) {
	e.inboxMu.Lock()
	defer e.inboxMu.Unlock()
	obs, dets := e.observations, e.detonations
	e.observations, e.detonations = nil, nil
	return obs, dets
}

func (e *Engine) takeOutbox() []model.EntityUpdate {
	out := e.outbox
	e.outbox = nil
	return out
}

func (e *Engine) applyUpdate(ctx context.Context, u model.EntityUpdate) {
	rt, ok := e.entities[u.EntityID]
	if !ok {
		if e.mirror == nil {
			e.log.Debug(ctx, "dropping update for unknown entity", logging.String("entity_id", u.EntityID))
			return
		}
		def := model.EntityDefinition{ID: u.EntityID, Name: u.EntityID, Type: u.EntityType, Ownership: model.OwnershipRemote}
		if err := e.addEntityLocked(def, *e.mirror); err != nil {
			e.log.Warn(ctx, "failed to mirror remote entity", logging.String("entity_id", u.EntityID), logging.Err(err))
			return
		}
		rt = e.entities[u.EntityID]
		if reg, ok := e.store.(EntityRegistrar); ok {
			if _, err := reg.AddEntity(def); err != nil {
				e.log.Debug(ctx, "store rejected mirrored entity", logging.String("entity_id", def.ID), logging.Err(err))
			}
		}
	}
	if rt.def.Ownership == model.OwnershipLocal {
		e.log.Debug(ctx, "ignoring peer update for locally owned entity", logging.String("entity_id", u.EntityID))
		return
	}

	switch u.Kind {
	case model.UpdateKindState:
		sample := u.Sample
		if sample.Timestamp.IsZero() {
			sample.Timestamp = u.SimTime
		}
		rt.extrap.RecordObservation(sample)
		rt.lastSample = sample
		rt.hasSample = true
		if e.metrics != nil {
			e.metrics.IncObservation()
		}
	case model.UpdateKindDamage:
		if e.store != nil {
			if err := e.store.UpdateEntityDamage(rt.def.ID, kb.DamageSnapshot{
				State:             u.DamageState,
				Ratio:             u.DamageRatio,
				MobilityDisabled:  u.MobilityDisabled,
				FirepowerDisabled: u.FirepowerDisabled,
				FlamesPresent:     u.FlamesPresent,
			}); err != nil {
				e.log.Debug(ctx, "store rejected remote damage", logging.String("entity_id", rt.def.ID), logging.Err(err))
			}
		}
	}
}

func (e *Engine) applyDetonation(ctx context.Context, det model.Detonation) {
	rt, ok := e.entities[det.TargetID]
	if !ok {
		e.log.Warn(ctx, "detonation ignored: unknown target",
			logging.String("target_id", det.TargetID),
			logging.String("munition_type", det.MunitionType))
		e.countDetonation(OutcomeMissingTarget)
		return
	}
	if rt.def.Ownership != model.OwnershipLocal {
		e.countDetonation(OutcomeNotOwned)
		return
	}

	var munition *model.Munition
	if m, ok := e.munitions.Lookup(det.MunitionType); ok {
		munition = &m
	}
	res := rt.damage.ApplyDetonation(ctx, det, munition, rt)
	e.countDetonation(res.Outcome)
}

func (e *Engine) countDetonation(outcome DetonationOutcome) {
	if e.metrics != nil {
		e.metrics.IncDetonation(string(outcome))
	}
}

// onDamage runs inside Tick or RepairEntity with e.mu held.
func (e *Engine) onDamage(ctx context.Context, rt *entityRuntime, state DamageState) {
	if e.metrics != nil {
		e.metrics.IncDamageNotification(state.Current.String())
	}
	e.outbox = append(e.outbox, model.EntityUpdate{
		EntityID:          rt.def.ID,
		EntityType:        rt.def.Type,
		Kind:              model.UpdateKindDamage,
		SimTime:           e.now,
		DamageState:       state.Current,
		DamageRatio:       state.Ratio,
		MobilityDisabled:  state.MobilityDisabled,
		FirepowerDisabled: state.FirepowerDisabled,
		FlamesPresent:     state.FlamesPresent,
	})
}

// sampleLocal moves a local entity to its motion source's sample for now. It
// reports false, leaving the previous pose, when the sample is not finite.
func (e *Engine) sampleLocal(ctx context.Context, rt *entityRuntime, now time.Time) bool {
	var sample model.KinematicSample
	if rt.cfg.Motion != nil {
		sample = rt.cfg.Motion.Sample(now)
	}
	if sample.Timestamp.IsZero() {
		sample.Timestamp = now
	}
	if !IsFinite(sample.Position) || !IsFinite(sample.Orientation) {
		e.log.Warn(ctx, "local motion source returned a non-finite sample", logging.String("entity_id", rt.def.ID))
		return false
	}
	rt.lastSample = sample
	rt.hasSample = true
	rt.pose = sample.Pose()
	return true
}

// decidePublish queues a state update when the sampled pose has diverged
// enough from what peers predict.
func (e *Engine) decidePublish(rt *entityRuntime, now time.Time) {
	sample := rt.lastSample
	decision := Decide(sample, rt.publish, now)
	if e.metrics != nil {
		e.metrics.IncPublishDecision(string(decision.Reason))
	}
	if !decision.Publish {
		return
	}
	rt.publish.MarkPublished(sample, now)
	e.outbox = append(e.outbox, model.EntityUpdate{
		EntityID:   rt.def.ID,
		EntityType: rt.def.Type,
		Kind:       model.UpdateKindState,
		SimTime:    now,
		Sample:     sample,
	})
}

func (e *Engine) stepRemote(ctx context.Context, rt *entityRuntime, now time.Time) bool {
	pose, err := rt.extrap.Extrapolate(now)
	switch {
	case errors.Is(err, ErrNoObservation):
		return false
	case errors.Is(err, ErrNonFiniteExtrapolation):
		if e.metrics != nil {
			e.metrics.IncExtrapolationFailure()
		}
		e.log.Warn(ctx, "extrapolation produced a non-finite pose; holding last valid pose",
			logging.String("entity_id", rt.def.ID))
	case err != nil:
		e.log.Warn(ctx, "extrapolation failed", logging.String("entity_id", rt.def.ID), logging.Err(err))
		return false
	}
	rt.pose = pose
	return true
}

func (e *Engine) flush(ctx context.Context, out []model.EntityUpdate, poses []poseUpdate) error {
	var errs []error
	if e.publisher != nil {
		for _, u := range out {
			if err := e.publisher.Publish(ctx, u); err != nil {
				e.log.Warn(ctx, "publish failed",
					logging.String("entity_id", u.EntityID),
					logging.String("kind", string(u.Kind)),
					logging.Err(err))
				errs = append(errs, fmt.Errorf("publish %s update for %q: %w", u.Kind, u.EntityID, err))
			}
		}
	}
	if e.store != nil {
		for _, p := range poses {
			if err := e.store.UpdateEntityPose(p.id, p.pose); err != nil {
				errs = append(errs, fmt.Errorf("store pose for %q: %w", p.id, err))
			}
		}
		for _, u := range out {
			if u.Kind != model.UpdateKindDamage {
				continue
			}
			if err := e.store.UpdateEntityDamage(u.EntityID, kb.DamageSnapshot{
				State:             u.DamageState,
				Ratio:             u.DamageRatio,
				MobilityDisabled:  u.MobilityDisabled,
				FirepowerDisabled: u.FirepowerDisabled,
				FlamesPresent:     u.FlamesPresent,
			}); err != nil {
				errs = append(errs, fmt.Errorf("store damage for %q: %w", u.EntityID, err))
			}
		}
	}
	return errors.Join(errs...)
}
