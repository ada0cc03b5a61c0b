package core

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/federation-sim/model"
)

// MotionModel predicts where a sampled entity will be after elapsed seconds.
type MotionModel interface {
	Algorithm() model.DRAlgorithm
	Predict(s model.KinematicSample, elapsed float64) model.Pose
}

// StaticMotionModel holds the sampled pose.
type StaticMotionModel struct{}

// Algorithm implements MotionModel.
func (StaticMotionModel) Algorithm() model.DRAlgorithm { return model.DRStatic }

// Predict returns the sampled pose unchanged.
func (StaticMotionModel) Predict(s model.KinematicSample, elapsed float64) model.Pose {
	return s.Pose()
}

// VelocityMotionModel extrapolates linearly: p + v·t.
type VelocityMotionModel struct{}

// Algorithm implements MotionModel.
func (VelocityMotionModel) Algorithm() model.DRAlgorithm { return model.DRVelocityOnly }

// Predict extrapolates position with the linear velocity and orientation with
// the angular velocity.
func (VelocityMotionModel) Predict(s model.KinematicSample, elapsed float64) model.Pose {
	return predict(s, mgl64.Vec3{}, elapsed)
}

// VelocityAccelerationMotionModel adds ½·a·t² when the sample carries a usable
// acceleration and behaves like VelocityMotionModel otherwise.
type VelocityAccelerationMotionModel struct{}

// Algorithm implements MotionModel.
func (VelocityAccelerationMotionModel) Algorithm() model.DRAlgorithm {
	return model.DRVelocityAndAcceleration
}

// Predict extrapolates with velocity and, when present, acceleration.
func (VelocityAccelerationMotionModel) Predict(s model.KinematicSample, elapsed float64) model.Pose {
	return predict(s, effectiveAcceleration(model.DRVelocityAndAcceleration, s), elapsed)
}

// NewMotionModel chooses the MotionModel for a dead reckoning algorithm.
func NewMotionModel(algorithm model.DRAlgorithm) MotionModel {
	switch algorithm {
	case model.DRVelocityOnly:
		return VelocityMotionModel{}
	case model.DRVelocityAndAcceleration:
		return VelocityAccelerationMotionModel{}
	default:
		return StaticMotionModel{}
	}
}

// effectiveAcceleration returns the acceleration an algorithm may use for s.
// Only the velocity+acceleration algorithm engages it, and only when the
// sample carries a finite, non-zero value.
func effectiveAcceleration(algorithm model.DRAlgorithm, s model.KinematicSample) mgl64.Vec3 {
	if algorithm != model.DRVelocityAndAcceleration || !s.HasAcceleration {
		return mgl64.Vec3{}
	}
	a := s.LinearAcceleration
	if !IsFinite(a) || a.Len() <= 1e-9 {
		return mgl64.Vec3{}
	}
	return a
}

func predict(s model.KinematicSample, accel mgl64.Vec3, elapsed float64) model.Pose {
	if elapsed < 0 {
		elapsed = 0
	}
	pos := s.Position.
		Add(s.LinearVelocity.Mul(elapsed)).
		Add(accel.Mul(0.5 * elapsed * elapsed))

	orientation := s.Orientation
	if s.AngularVelocity.Len() > 0 && elapsed > 0 {
		orientation = QuatToHPR(rotateByAngularVelocity(HPRToQuat(s.Orientation), s.AngularVelocity, elapsed))
	}
	return model.Pose{Position: pos, Orientation: orientation}
}

// ScriptedMotion drives a local entity along the trajectory algorithm
// predicts from initial. A zero initial timestamp starts the clock at the
// first Sample call. The returned source is not safe for concurrent use.
func ScriptedMotion(initial model.KinematicSample, algorithm model.DRAlgorithm) MotionSource {
	mm := NewMotionModel(algorithm)
	accel := effectiveAcceleration(algorithm, initial)
	start := initial.Timestamp
	return MotionSourceFunc(func(now time.Time) model.KinematicSample {
		if start.IsZero() {
			start = now
		}
		elapsed := now.Sub(start).Seconds()
		if elapsed < 0 {
			elapsed = 0
		}
		pose := mm.Predict(initial, elapsed)

		s := initial
		s.Position = pose.Position
		s.Orientation = pose.Orientation
		if algorithm != model.DRStatic {
			s.LinearVelocity = initial.LinearVelocity.Add(accel.Mul(elapsed))
		}
		s.Timestamp = now
		return s
	})
}
