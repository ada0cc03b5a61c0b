package core

import (
	"math"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/federation-sim/model"
)

// maxClampedSmoothingSeconds caps the translation smoothing time when the old
// velocity cannot cover the gap to a new sample.
const maxClampedSmoothingSeconds = 1.0

// ExtrapolationConfig holds per-entity dead reckoning parameters.
type ExtrapolationConfig struct {
	Algorithm model.DRAlgorithm
	Mode      model.DRMode

	MaxTranslationSmoothingTime time.Duration
	MaxRotationSmoothingTime    time.Duration

	// FixedSmoothingTime uses the maximums as-is instead of adapting to the
	// observed update rate.
	FixedSmoothingTime bool

	// CubicSpline blends old and new paths with a cubic curve instead of a
	// linear interpolation.
	CubicSpline bool
}

// DefaultExtrapolationConfig returns velocity-only dead reckoning with
// adaptive smoothing.
func DefaultExtrapolationConfig() ExtrapolationConfig {
	return ExtrapolationConfig{
		Algorithm:                   model.DRVelocityOnly,
		Mode:                        model.DRCalculateOnly,
		MaxTranslationSmoothingTime: 8 * time.Second,
		MaxRotationSmoothingTime:    500 * time.Millisecond,
	}
}

// PoseSink receives poses for an entity. It is the "apply pose" capability of
// whatever represents the entity locally (a scene node, a particle volume, a
// registry entry).
type PoseSink interface {
	ApplyPose(entityID string, pose model.Pose)
}

// cubicSpline holds Bézier control points for the blend from the path that was
// being followed to the newly reported one.
type cubicSpline struct {
	p0, p1, p2, p3 mgl64.Vec3
}

func (c cubicSpline) at(u float64) mgl64.Vec3 {
	iu := 1 - u
	return c.p0.Mul(iu * iu * iu).
		Add(c.p1.Mul(3 * iu * iu * u)).
		Add(c.p2.Mul(3 * iu * u * u)).
		Add(c.p3.Mul(u * u * u))
}

// Extrapolator is the dead reckoning state of one remote entity. It is not
// safe for concurrent use; the owning entity's tick is its only caller.
type Extrapolator struct {
	entityID string
	cfg      ExtrapolationConfig
	motion   MotionModel
	sink     PoseSink

	last      model.KinematicSample
	hasSample bool

	// State of the path being followed when the last sample arrived.
	beforePos   mgl64.Vec3
	beforeVel   mgl64.Vec3
	beforeAccel mgl64.Vec3
	beforeRot   mgl64.Quat

	elapsed  float64
	lastTick time.Time

	avgUpdateGap         float64
	translationSmoothing float64
	rotationSmoothing    float64

	updated bool
	spline  cubicSpline

	lastValid model.Pose
}

// ExtrapolatorOption customises an Extrapolator.
type ExtrapolatorOption func(*Extrapolator)

// WithPoseSink sets where poses are written in DRCalculateAndMove mode.
func WithPoseSink(sink PoseSink) ExtrapolatorOption {
	return func(e *Extrapolator) {
		e.sink = sink
	}
}

// NewExtrapolator creates the dead reckoning state for an entity.
func NewExtrapolator(entityID string, cfg ExtrapolationConfig, opts ...ExtrapolatorOption) *Extrapolator {
	if cfg.MaxTranslationSmoothingTime < 0 {
		cfg.MaxTranslationSmoothingTime = 0
	}
	if cfg.MaxRotationSmoothingTime < 0 {
		cfg.MaxRotationSmoothingTime = 0
	}
	e := &Extrapolator{
		entityID:  entityID,
		cfg:       cfg,
		motion:    NewMotionModel(cfg.Algorithm),
		beforeRot: mgl64.QuatIdent(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Config returns the parameters the extrapolator was built with.
func (e *Extrapolator) Config() ExtrapolationConfig { return e.cfg }

// LastSample returns the last observation and whether one has been recorded.
func (e *Extrapolator) LastSample() (model.KinematicSample, bool) {
	return e.last, e.hasSample
}

// Elapsed returns the simulation time accumulated since the last observation.
func (e *Extrapolator) Elapsed() time.Duration {
	return time.Duration(e.elapsed * float64(time.Second))
}

// SmoothingTimes returns the current translation and rotation end-smoothing times.
func (e *Extrapolator) SmoothingTimes() (translation, rotation time.Duration) {
	return time.Duration(e.translationSmoothing * float64(time.Second)),
		time.Duration(e.rotationSmoothing * float64(time.Second))
}

// Updated reports whether an observation arrived since the last Extrapolate.
func (e *Extrapolator) Updated() bool { return e.updated }

// RecordObservation replaces the last known sample and prepares smoothing
// from the currently followed path onto the new one.
func (e *Extrapolator) RecordObservation(sample model.KinematicSample) {
	if !e.hasSample {
		e.last = sample
		e.hasSample = true
		e.beforePos = sample.Position
		e.beforeVel = sample.LinearVelocity
		e.beforeAccel = effectiveAcceleration(e.cfg.Algorithm, sample)
		e.beforeRot = HPRToQuat(sample.Orientation)
		if IsFinite(sample.Position) && IsFinite(sample.Orientation) {
			e.lastValid = sample.Pose()
		}
		e.elapsed = 0
		e.lastTick = sample.Timestamp
		e.updated = true
		return
	}

	if e.updated {
		e.computeSpline()
	}
	current := e.poseAt(e.elapsed)
	if !IsFinite(current.Position) || !IsFinite(current.Orientation) {
		current = e.lastValid
	}
	e.beforeAccel = effectiveAcceleration(e.cfg.Algorithm, e.last)
	e.beforePos = current.Position
	e.beforeVel = e.last.LinearVelocity.Add(e.beforeAccel.Mul(e.elapsed))
	e.beforeRot = HPRToQuat(current.Orientation)

	gap := sample.Timestamp.Sub(e.last.Timestamp).Seconds()
	if gap <= 0 || e.last.Timestamp.IsZero() || sample.Timestamp.IsZero() {
		gap = e.elapsed
	}
	if e.avgUpdateGap <= 0 {
		e.avgUpdateGap = gap
	} else {
		e.avgUpdateGap = 0.5 * (e.avgUpdateGap + gap)
	}

	e.CalculateSmoothingTimes(sample)

	e.last = sample
	e.elapsed = 0
	if !sample.Timestamp.IsZero() {
		e.lastTick = sample.Timestamp
	}
	e.updated = true
}

// CalculateSmoothingTimes picks the translation and rotation end-smoothing
// times for blending onto sample. Adaptive smoothing uses the smaller of the
// configured maximum and the average time between updates. If the previous
// velocity could not cover the positional jump in that time, translation
// smoothing is limited to one second so the entity does not rubber-band.
func (e *Extrapolator) CalculateSmoothingTimes(sample model.KinematicSample) {
	maxTrans := e.cfg.MaxTranslationSmoothingTime.Seconds()
	maxRot := e.cfg.MaxRotationSmoothingTime.Seconds()

	trans, rot := maxTrans, maxRot
	if !e.cfg.FixedSmoothingTime {
		trans = math.Min(maxTrans, e.avgUpdateGap)
		rot = math.Min(maxRot, e.avgUpdateGap)
	}

	if trans > 0 {
		distance := sample.Position.Sub(e.beforePos).Len()
		speed := e.beforeVel.Len()
		if speed > 1e-9 {
			if distance/speed > trans {
				trans = math.Min(trans, maxClampedSmoothingSeconds)
			}
		} else if distance > 1e-9 {
			trans = math.Min(trans, maxClampedSmoothingSeconds)
		}
	}

	e.translationSmoothing = clampSmoothing(trans, maxTrans)
	e.rotationSmoothing = clampSmoothing(rot, maxRot)
}

func clampSmoothing(v, limit float64) float64 {
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	if v > limit {
		return limit
	}
	return v
}

// IncrementTimeSinceUpdate advances the elapsed time by dt; negative values
// are ignored. The tick reference moves with it, so a following Extrapolate
// at the same instant adds nothing.
func (e *Extrapolator) IncrementTimeSinceUpdate(dt time.Duration) {
	if dt <= 0 {
		return
	}
	e.elapsed += dt.Seconds()
	if !e.lastTick.IsZero() {
		e.lastTick = e.lastTick.Add(dt)
	}
}

// Extrapolate advances to now and returns the predicted pose. When the
// prediction is not finite it returns the last valid pose together with
// ErrNonFiniteExtrapolation. In DRCalculateAndMove mode the pose is also
// written to the pose sink.
func (e *Extrapolator) Extrapolate(now time.Time) (model.Pose, error) {
	if e == nil {
		panic("core: Extrapolate called on an entity without extrapolation state")
	}
	if !e.hasSample {
		return e.lastValid, ErrNoObservation
	}

	if !e.lastTick.IsZero() {
		if dt := now.Sub(e.lastTick); dt > 0 {
			e.elapsed += dt.Seconds()
			e.lastTick = now
		}
	} else {
		e.lastTick = now
	}

	if e.updated {
		e.computeSpline()
		e.updated = false
	}

	pose := e.poseAt(e.elapsed)
	if !IsFinite(pose.Position) || !IsFinite(pose.Orientation) {
		return e.lastValid, ErrNonFiniteExtrapolation
	}
	e.lastValid = pose

	if e.cfg.Mode == model.DRCalculateAndMove && e.sink != nil {
		e.sink.ApplyPose(e.entityID, pose)
	}
	return pose, nil
}

func (e *Extrapolator) computeSpline() {
	t := e.translationSmoothing
	if t <= 0 {
		e.spline = cubicSpline{}
		return
	}
	accel := effectiveAcceleration(e.cfg.Algorithm, e.last)
	v := e.last.LinearVelocity

	p0 := e.beforePos
	p1 := p0.Add(e.beforeVel.Mul(t / 3))
	p3 := e.last.Position.Add(v.Mul(t)).Add(accel.Mul(0.5 * t * t))
	p2 := p3.Sub(v.Add(accel.Mul(t)).Mul(t / 3))
	e.spline = cubicSpline{p0: p0, p1: p1, p2: p2, p3: p3}
}

func (e *Extrapolator) poseAt(t float64) model.Pose {
	if e.cfg.Algorithm == model.DRStatic {
		return e.last.Pose()
	}

	target := e.motion.Predict(e.last, t)
	pose := target

	if ts := e.translationSmoothing; ts > 0 && t < ts {
		u := t / ts
		if e.cfg.CubicSpline {
			pose.Position = e.spline.at(u)
		} else {
			old := e.beforePos.
				Add(e.beforeVel.Mul(t)).
				Add(e.beforeAccel.Mul(0.5 * t * t))
			pose.Position = old.Add(target.Position.Sub(old).Mul(u))
		}
	}

	if rs := e.rotationSmoothing; rs > 0 && t < rs {
		q := slerpShortest(e.beforeRot, HPRToQuat(target.Orientation), t/rs)
		pose.Orientation = QuatToHPR(q)
	}
	return pose
}
