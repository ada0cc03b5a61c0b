package core

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/federation-sim/model"
)

// MunitionDamageTable holds damage descriptors keyed by damage-type name.
// It is built once at startup and only read afterwards.
type MunitionDamageTable struct {
	entries map[string]model.MunitionDamage
}

// NewMunitionDamageTable indexes entries by name; later duplicates win.
func NewMunitionDamageTable(entries ...model.MunitionDamage) *MunitionDamageTable {
	t := &MunitionDamageTable{entries: make(map[string]model.MunitionDamage, len(entries))}
	for _, e := range entries {
		t.entries[e.Name] = e
	}
	return t
}

// Lookup returns the descriptor for a damage type. A nil table has no entries.
func (t *MunitionDamageTable) Lookup(name string) (model.MunitionDamage, bool) {
	if t == nil {
		return model.MunitionDamage{}, false
	}
	md, ok := t.entries[name]
	return md, ok
}

// Len returns the number of descriptors.
func (t *MunitionDamageTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// MunitionTypeTable holds static munition configuration keyed by munition name.
type MunitionTypeTable struct {
	entries map[string]model.Munition
}

// NewMunitionTypeTable indexes munitions by name.
func NewMunitionTypeTable(munitions ...model.Munition) *MunitionTypeTable {
	t := &MunitionTypeTable{entries: make(map[string]model.Munition, len(munitions))}
	for _, m := range munitions {
		t.entries[m.Name] = m
	}
	return t
}

// Lookup returns the munition with the given name. A nil table has no entries.
func (t *MunitionTypeTable) Lookup(name string) (model.Munition, bool) {
	if t == nil {
		return model.Munition{}, false
	}
	m, ok := t.entries[name]
	return m, ok
}

// Len returns the number of munitions.
func (t *MunitionTypeTable) Len() int {
	if t == nil {
		return 0
	}
	return len(t.entries)
}

// AssessImpact returns how far a detonation was from the target's bounding
// box and the resulting outcome probabilities. Direct hits use the direct
// fire table at distance zero. Near misses use a Carleton lethal-area
// estimate per outcome, measured along and across the munition's track.
func AssessImpact(md model.MunitionDamage, directHit bool, finalVelocity, location, targetPos, targetDims mgl64.Vec3) (float64, model.DamageProbability) {
	if directHit {
		return 0, md.DirectFire
	}

	closest := ClosestPointOnBox(location, targetPos, targetDims)
	offset := closest.Sub(location)
	distance := offset.Len()

	var along, across float64
	if dir, ok := normalizeOrZero(finalVelocity); ok {
		along = offset.Dot(dir)
		across = offset.Sub(dir.Mul(along)).Len()
	} else {
		along = distance
	}

	pKill := carleton(along, across, md.IndirectFire.Kill)
	pMob := carleton(along, across, md.IndirectFire.Mobility)
	pFire := carleton(along, across, md.IndirectFire.Firepower)

	survive := 1 - pKill
	return distance, model.DamageProbability{
		None:              survive * (1 - pMob) * (1 - pFire),
		Mobility:          survive * pMob * (1 - pFire),
		Firepower:         survive * (1 - pMob) * pFire,
		MobilityFirepower: survive * pMob * pFire,
		Kill:              pKill,
	}
}

func carleton(along, across float64, r model.DamageRange) float64 {
	if r.Forward <= 0 || r.Deflection <= 0 {
		return 0
	}
	return math.Exp(-math.Pi * (along*along/(r.Forward*r.Forward) + across*across/(r.Deflection*r.Deflection)))
}

// DetonationForce returns the force imparted on a target. It points from the
// detonation towards the target, or along the munition's final velocity for
// direct hits and zero separations, and falls off linearly to zero at the
// cutoff range.
func DetonationForce(md model.MunitionDamage, directHit bool, distance float64, finalVelocity, location, targetPos mgl64.Vec3) mgl64.Vec3 {
	if md.NewtonForce == 0 {
		return mgl64.Vec3{}
	}

	dir, ok := mgl64.Vec3{}, false
	if !directHit {
		dir, ok = normalizeOrZero(targetPos.Sub(location))
	}
	if !ok {
		dir, ok = normalizeOrZero(finalVelocity)
	}
	if !ok {
		return mgl64.Vec3{}
	}

	scale := 1.0
	if !directHit && md.CutoffRange > 0 {
		scale = mgl64.Clamp(1-distance/md.CutoffRange, 0, 1)
	}
	return dir.Mul(md.NewtonForce * scale)
}
