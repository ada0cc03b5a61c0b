package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// DRAlgorithm selects how a remote entity's motion is predicted between updates.
type DRAlgorithm int

const (
	// DRStatic holds the last reported pose.
	DRStatic DRAlgorithm = iota
	// DRVelocityOnly extrapolates position with linear velocity.
	DRVelocityOnly
	// DRVelocityAndAcceleration adds the ½·a·t² term when an acceleration is known.
	DRVelocityAndAcceleration
)

func (a DRAlgorithm) String() string {
	switch a {
	case DRStatic:
		return "static"
	case DRVelocityOnly:
		return "velocity_only"
	case DRVelocityAndAcceleration:
		return "velocity_and_acceleration"
	default:
		return fmt.Sprintf("DRAlgorithm(%d)", int(a))
	}
}

// ParseDRAlgorithm accepts the String() form, case-insensitively.
func ParseDRAlgorithm(s string) (DRAlgorithm, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "static", "none", "":
		return DRStatic, nil
	case "velocity_only", "velocity":
		return DRVelocityOnly, nil
	case "velocity_and_acceleration", "velocity_acceleration":
		return DRVelocityAndAcceleration, nil
	default:
		return DRStatic, fmt.Errorf("unknown dead reckoning algorithm %q", s)
	}
}

// DRMode controls whether the extrapolated pose is applied to the entity directly.
type DRMode int

const (
	// DRCalculateOnly leaves applying the pose to the caller.
	DRCalculateOnly DRMode = iota
	// DRCalculateAndMove writes the pose to the entity's pose sink every tick.
	DRCalculateAndMove
)

// ParseDRMode accepts "calculate_only" or "calculate_and_move".
func ParseDRMode(s string) (DRMode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "calculate_only", "":
		return DRCalculateOnly, nil
	case "calculate_and_move":
		return DRCalculateAndMove, nil
	default:
		return DRCalculateOnly, fmt.Errorf("unknown dead reckoning mode %q", s)
	}
}

// KinematicSample is one observation of an entity's motion state.
// Orientation is heading/pitch/roll in degrees. Samples are values and are
// replaced, never edited, when a newer observation arrives.
type KinematicSample struct {
	Position           mgl64.Vec3
	Orientation        mgl64.Vec3
	LinearVelocity     mgl64.Vec3
	AngularVelocity    mgl64.Vec3
	LinearAcceleration mgl64.Vec3
	HasAcceleration    bool
	Timestamp          time.Time
}

// Pose returns the position and orientation of the sample.
func (s KinematicSample) Pose() Pose {
	return Pose{Position: s.Position, Orientation: s.Orientation}
}

// Pose is a position plus heading/pitch/roll orientation in degrees.
type Pose struct {
	Position    mgl64.Vec3
	Orientation mgl64.Vec3
}
