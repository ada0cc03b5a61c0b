package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Axes follow the Z-up convention: heading turns about +Z, pitch about +X and
// roll about +Y, applied in that order.
var (
	axisX = mgl64.Vec3{1, 0, 0}
	axisY = mgl64.Vec3{0, 1, 0}
	axisZ = mgl64.Vec3{0, 0, 1}
)

// gimbalEpsilon bounds |cos(pitch)| below which heading and roll are no
// longer separable.
const gimbalEpsilon = 1e-9

// IsFinite reports whether every component of v is a finite number.
func IsFinite(v mgl64.Vec3) bool {
	for _, c := range v {
		if math.IsNaN(c) || math.IsInf(c, 0) {
			return false
		}
	}
	return true
}

// normalizeOrZero returns the unit vector of v, or ok=false when v has no
// usable direction.
func normalizeOrZero(v mgl64.Vec3) (unit mgl64.Vec3, ok bool) {
	l := v.Len()
	if l <= 1e-12 || math.IsNaN(l) || math.IsInf(l, 0) {
		return mgl64.Vec3{}, false
	}
	return v.Mul(1 / l), true
}

// HPRToQuat converts heading/pitch/roll in degrees into a unit quaternion.
func HPRToQuat(hpr mgl64.Vec3) mgl64.Quat {
	h := mgl64.QuatRotate(mgl64.DegToRad(hpr[0]), axisZ)
	p := mgl64.QuatRotate(mgl64.DegToRad(hpr[1]), axisX)
	r := mgl64.QuatRotate(mgl64.DegToRad(hpr[2]), axisY)
	return h.Mul(p).Mul(r).Normalize()
}

// QuatToHPR converts a rotation back into heading/pitch/roll in degrees.
// Heading and roll are returned in (-180,180], pitch in [-90,90].
func QuatToHPR(q mgl64.Quat) mgl64.Vec3 {
	m := q.Normalize().Mat4()

	sp := mgl64.Clamp(m.At(2, 1), -1, 1)
	pitch := math.Asin(sp)

	var heading, roll float64
	if math.Abs(math.Cos(pitch)) < gimbalEpsilon {
		heading = math.Atan2(m.At(1, 0), m.At(0, 0))
		roll = 0
	} else {
		heading = math.Atan2(-m.At(0, 1), m.At(1, 1))
		roll = math.Atan2(-m.At(2, 0), m.At(2, 2))
	}

	return mgl64.Vec3{
		mgl64.RadToDeg(heading),
		mgl64.RadToDeg(pitch),
		mgl64.RadToDeg(roll),
	}
}

// RotationDeltaDegrees returns the smallest rotation angle between two
// heading/pitch/roll orientations.
func RotationDeltaDegrees(a, b mgl64.Vec3) float64 {
	// atan2 of the relative rotation stays exact near zero where acos of
	// the dot product does not.
	rel := HPRToQuat(a).Conjugate().Mul(HPRToQuat(b))
	return mgl64.RadToDeg(2 * math.Atan2(rel.V.Len(), math.Abs(rel.W)))
}

// slerpShortest interpolates from a to b along the shorter arc.
func slerpShortest(a, b mgl64.Quat, u float64) mgl64.Quat {
	if a.Dot(b) < 0 {
		b = b.Scale(-1)
	}
	return mgl64.QuatSlerp(a, b, mgl64.Clamp(u, 0, 1)).Normalize()
}

// rotateByAngularVelocity applies angularVelocity (degrees/second about each
// world axis) for elapsed seconds on top of orientation q.
func rotateByAngularVelocity(q mgl64.Quat, angularVelocity mgl64.Vec3, elapsed float64) mgl64.Quat {
	axis, ok := normalizeOrZero(angularVelocity)
	if !ok || elapsed <= 0 {
		return q
	}
	angle := mgl64.DegToRad(angularVelocity.Len() * elapsed)
	return mgl64.QuatRotate(angle, axis).Mul(q).Normalize()
}

// ClosestPointOnBox returns the point of an axis-aligned box nearest to p.
// The box is centred on center with full extents dims.
func ClosestPointOnBox(p, center, dims mgl64.Vec3) mgl64.Vec3 {
	var out mgl64.Vec3
	for i := 0; i < 3; i++ {
		half := math.Abs(dims[i]) / 2
		out[i] = mgl64.Clamp(p[i], center[i]-half, center[i]+half)
	}
	return out
}

// DistanceToBox returns the distance from p to the surface of the box, or 0
// when p lies inside it.
func DistanceToBox(p, center, dims mgl64.Vec3) float64 {
	return p.Sub(ClosestPointOnBox(p, center, dims)).Len()
}
