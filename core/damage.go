package core

import (
	"context"
	"math"
	"math/rand/v2"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/federation-sim/internal/logging"
	"github.com/signalsfoundry/federation-sim/model"
)

// ratioNotifyEpsilon is the smallest ratio change that is worth telling peers about.
const ratioNotifyEpsilon = 1e-4

// RandomSource supplies uniform values in [0,1). *rand.Rand from math/rand and
// math/rand/v2 both satisfy it.
type RandomSource interface {
	Float64() float64
}

// DamageConfig is the per-entity damage tuning.
type DamageConfig struct {
	// MaxDamageAmount is the raw damage that destroys the entity.
	MaxDamageAmount float64
	// Vulnerability scales all incoming damage, in [0,1].
	Vulnerability float64
	// SupportsFlames marks entities that show fire when killed.
	SupportsFlames bool
	// DamageLevels maps the accumulated ratio onto a damage type.
	DamageLevels model.DamageProbability
}

// DefaultDamageConfig returns a fully vulnerable entity destroyed by one unit
// of damage.
func DefaultDamageConfig() DamageConfig {
	return DamageConfig{
		MaxDamageAmount: 1,
		Vulnerability:   1,
		DamageLevels:    model.DefaultDamageLevels,
	}
}

// DamageTarget is the view of an entity that damage processing needs.
type DamageTarget interface {
	EntityID() string
	Pose() model.Pose
	Dimensions() mgl64.Vec3
}

// DamageFilter lets a target adjust scaled damage before it is accumulated,
// for example to model armour.
type DamageFilter interface {
	FilterDamage(scaled float64, det model.Detonation, munition model.Munition) float64
}

// HitResponder lets a target react physically to a detonation within range.
type HitResponder interface {
	RespondToHit(det model.Detonation, munition model.Munition, force, location mgl64.Vec3)
}

// DamageNotifier is told whenever the damage state or ratio changes enough to
// be published.
type DamageNotifier interface {
	NotifyDamage(ctx context.Context, entityID string, state DamageState)
}

// DamageNotifierFunc adapts a function to DamageNotifier.
type DamageNotifierFunc func(ctx context.Context, entityID string, state DamageState)

// NotifyDamage implements DamageNotifier.
func (f DamageNotifierFunc) NotifyDamage(ctx context.Context, entityID string, state DamageState) {
	f(ctx, entityID, state)
}

// DamageState is the damage record owned by one entity.
type DamageState struct {
	Current model.DamageType
	Ratio   float64

	LastNotified      model.DamageType
	LastNotifiedRatio float64

	MobilityDisabled  bool
	FirepowerDisabled bool
	FlamesPresent     bool
}

// DetonationOutcome classifies what a detonation did to a target.
type DetonationOutcome string

const (
	OutcomeApplied           DetonationOutcome = "applied"
	OutcomeOutOfRange        DetonationOutcome = "out_of_range"
	OutcomeNonExplosive      DetonationOutcome = "non_explosive"
	OutcomeUnknownDamageType DetonationOutcome = "unknown_damage_type"
	OutcomeMissingTable      DetonationOutcome = "missing_table"
	OutcomeMissingMunition   DetonationOutcome = "missing_munition"
	OutcomeMissingTarget     DetonationOutcome = "missing_target"
)

// DamageResult describes one processed detonation.
type DamageResult struct {
	Outcome      DetonationOutcome
	Contribution float64
	Force        mgl64.Vec3
	Distance     float64
	Candidate    model.DamageType
	State        model.DamageType
	Notified     bool
}

// DamageHelper accumulates damage for one entity and runs its damage state
// machine. It is not safe for concurrent use.
type DamageHelper struct {
	entityID string
	cfg      DamageConfig
	table    *MunitionDamageTable
	rng      RandomSource
	notifier DamageNotifier
	log      logging.Logger

	state DamageState
}

// DamageHelperOption customises a DamageHelper.
type DamageHelperOption func(*DamageHelper)

// WithRandomSource injects the generator used for the random damage factor.
func WithRandomSource(rng RandomSource) DamageHelperOption {
	return func(h *DamageHelper) {
		if rng != nil {
			h.rng = rng
		}
	}
}

// WithDamageNotifier sets who is told about damage changes.
func WithDamageNotifier(n DamageNotifier) DamageHelperOption {
	return func(h *DamageHelper) {
		h.notifier = n
	}
}

// WithDamageLogger sets the logger used for diagnostics.
func WithDamageLogger(l logging.Logger) DamageHelperOption {
	return func(h *DamageHelper) {
		if l != nil {
			h.log = l
		}
	}
}

// NewDamageHelper builds damage tracking for an entity. table may be nil, in
// which case every detonation is logged and ignored.
func NewDamageHelper(entityID string, cfg DamageConfig, table *MunitionDamageTable, opts ...DamageHelperOption) *DamageHelper {
	if cfg.MaxDamageAmount <= 0 {
		cfg.MaxDamageAmount = 1
	}
	cfg.Vulnerability = mgl64.Clamp(cfg.Vulnerability, 0, 1)
	if cfg.DamageLevels.Sum() <= 0 {
		cfg.DamageLevels = model.DefaultDamageLevels
	}

	seed := uint64(time.Now().UnixNano())
	h := &DamageHelper{
		entityID: entityID,
		cfg:      cfg,
		table:    table,
		rng:      rand.New(rand.NewPCG(seed, seed>>1)),
		log:      logging.Noop(),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.log = logging.ForEntity(h.log, entityID)
	return h
}

// State returns a copy of the damage record.
func (h *DamageHelper) State() DamageState { return h.state }

// Config returns the damage tuning.
func (h *DamageHelper) Config() DamageConfig { return h.cfg }

// ProcessDetonation applies a detonation against target and returns the
// damage ratio it added and the force it imparted.
func (h *DamageHelper) ProcessDetonation(ctx context.Context, det model.Detonation, munition *model.Munition, target DamageTarget) (float64, mgl64.Vec3) {
	res := h.ApplyDetonation(ctx, det, munition, target)
	return res.Contribution, res.Force
}

// ApplyDetonation is ProcessDetonation with the full outcome. It never fails:
// missing configuration or references are logged and leave the entity
// untouched.
func (h *DamageHelper) ApplyDetonation(ctx context.Context, det model.Detonation, munition *model.Munition, target DamageTarget) DamageResult {
	res := DamageResult{State: h.state.Current, Candidate: h.state.Current}

	if munition == nil {
		h.log.Warn(ctx, "detonation ignored: no munition reference",
			logging.String("munition_type", det.MunitionType))
		res.Outcome = OutcomeMissingMunition
		return res
	}
	if target == nil {
		h.log.Warn(ctx, "detonation ignored: no target reference",
			logging.String("munition_type", det.MunitionType))
		res.Outcome = OutcomeMissingTarget
		return res
	}
	if !munition.Family.IsExplosive() && !det.DirectHit {
		res.Outcome = OutcomeNonExplosive
		return res
	}
	if h.table == nil {
		h.log.Warn(ctx, "detonation ignored: no munition damage table",
			logging.String("munition", munition.Name))
		res.Outcome = OutcomeMissingTable
		return res
	}
	md, ok := h.table.Lookup(munition.DamageType)
	if !ok {
		h.log.Warn(ctx, "detonation ignored: unknown munition damage type",
			logging.String("munition", munition.Name),
			logging.String("damage_type", munition.DamageType))
		res.Outcome = OutcomeUnknownDamageType
		return res
	}

	pose := target.Pose()
	distance, probs := AssessImpact(md, det.DirectHit, det.FinalVelocity, det.Location, pose.Position, target.Dimensions())
	res.Distance = distance

	if distance > md.CutoffRange {
		h.log.Debug(ctx, "detonation outside cutoff range",
			logging.String("munition", munition.Name),
			logging.Float("distance", distance),
			logging.Float("cutoff", md.CutoffRange))
		res.Outcome = OutcomeOutOfRange
		return res
	}

	force := DetonationForce(md, det.DirectHit, distance, det.FinalVelocity, det.Location, pose.Position)
	before := h.state.Ratio

	if h.state.Ratio < 1 {
		quantity := det.QuantityFired
		if quantity < 1 {
			quantity = 1
		}
		damage := (probs.Mobility*0.5 + probs.Kill) *
			h.cfg.Vulnerability *
			h.randomDamageFactor(det.DirectHit) *
			float64(quantity)

		scaled := damage / h.cfg.MaxDamageAmount
		if filter, ok := target.(DamageFilter); ok {
			scaled = filter.FilterDamage(scaled, det, *munition)
		}
		if scaled < 0 || math.IsNaN(scaled) {
			scaled = 0
		}
		h.state.Ratio = math.Min(1, h.state.Ratio+scaled)
	}

	if responder, ok := target.(HitResponder); ok {
		responder.RespondToHit(det, *munition, force, det.Location)
	}

	res.Candidate = ClassifyDamageRatio(h.cfg.DamageLevels, h.state.Ratio)
	next := CombineDamage(h.state.Current, res.Candidate)
	res.Notified = h.SetDamage(ctx, next)

	res.Outcome = OutcomeApplied
	res.Contribution = h.state.Ratio - before
	res.Force = force
	res.State = h.state.Current
	return res
}

// randomDamageFactor models imprecise real-world lethality: [0.2,1.2) for a
// direct hit and [0.5,1.2) otherwise.
func (h *DamageHelper) randomDamageFactor(directHit bool) float64 {
	low := 0.5
	if directHit {
		low = 0.2
	}
	return low + h.rng.Float64()*(1.2-low)
}

// SetDamage moves the entity to newState, applying the state's side effects,
// and notifies when state or ratio differ from what was last notified. It
// reports whether a notification was sent.
func (h *DamageHelper) SetDamage(ctx context.Context, newState model.DamageType) bool {
	if newState != h.state.Current {
		switch newState {
		case model.DamageNone:
			h.state.Ratio = 0
			h.state.MobilityDisabled = false
			h.state.FirepowerDisabled = false
			h.state.FlamesPresent = false
		case model.DamageMobility:
			h.state.MobilityDisabled = true
		case model.DamageFirepower:
			h.state.FirepowerDisabled = true
		case model.DamageMobilityFirepower:
			h.state.MobilityDisabled = true
			h.state.FirepowerDisabled = true
		case model.DamageKill:
			h.state.MobilityDisabled = true
			h.state.FirepowerDisabled = true
			if h.cfg.SupportsFlames {
				h.state.FlamesPresent = true
			}
		default:
			h.log.Warn(ctx, "ignoring unknown damage state", logging.Int("state", int(newState)))
			return false
		}
		h.log.Info(ctx, "damage state changed",
			logging.String("from", h.state.Current.String()),
			logging.String("to", newState.String()))
		h.state.Current = newState
	}
	if h.state.Current == model.DamageKill {
		h.state.Ratio = 1
	}
	return h.notifyIfChanged(ctx)
}

// Repair resets the entity to undamaged, as on respawn.
func (h *DamageHelper) Repair(ctx context.Context) bool {
	h.state.Ratio = 0
	h.state.MobilityDisabled = false
	h.state.FirepowerDisabled = false
	h.state.FlamesPresent = false
	h.state.Current = model.DamageNone
	return h.notifyIfChanged(ctx)
}

func (h *DamageHelper) notifyIfChanged(ctx context.Context) bool {
	if h.state.Current == h.state.LastNotified &&
		math.Abs(h.state.Ratio-h.state.LastNotifiedRatio) < ratioNotifyEpsilon {
		return false
	}
	h.state.LastNotified = h.state.Current
	h.state.LastNotifiedRatio = h.state.Ratio
	if h.notifier != nil {
		h.notifier.NotifyDamage(ctx, h.entityID, h.state)
	}
	return true
}
