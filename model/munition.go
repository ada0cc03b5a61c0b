package model

import (
	"fmt"
	"strings"
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// MunitionFamily groups munitions by how they deliver damage.
type MunitionFamily int

const (
	FamilyGeneric MunitionFamily = iota
	FamilySmallArms
	FamilyHighExplosive
	FamilyAntiTank
	FamilyGrenade
	FamilyMine
	FamilyFlare
	FamilySmoke
)

var munitionFamilies = map[MunitionFamily]struct {
	name      string
	explosive bool
}{
	FamilyGeneric:       {"GENERIC", false},
	FamilySmallArms:     {"SMALL_ARMS", false},
	FamilyHighExplosive: {"HIGH_EXPLOSIVE", true},
	FamilyAntiTank:      {"ANTI_TANK", true},
	FamilyGrenade:       {"GRENADE", true},
	FamilyMine:          {"MINE", true},
	FamilyFlare:         {"FLARE", false},
	FamilySmoke:         {"SMOKE", false},
}

func (f MunitionFamily) String() string {
	if info, ok := munitionFamilies[f]; ok {
		return info.name
	}
	return fmt.Sprintf("MunitionFamily(%d)", int(f))
}

// IsExplosive reports whether near misses from this family can cause damage.
func (f MunitionFamily) IsExplosive() bool {
	return munitionFamilies[f].explosive
}

// ParseMunitionFamily converts a family name into a MunitionFamily.
func ParseMunitionFamily(s string) (MunitionFamily, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" {
		return FamilyGeneric, nil
	}
	for f, info := range munitionFamilies {
		if info.name == s {
			return f, nil
		}
	}
	return FamilyGeneric, fmt.Errorf("unknown munition family %q", s)
}

// Munition is the static configuration of a munition type.
type Munition struct {
	Name       string
	DamageType string // key into the munition damage table
	Family     MunitionFamily
}

// DamageRange is a Carleton-style lethal area: Forward along the munition's
// ground track and Deflection across it, in metres.
type DamageRange struct {
	Forward    float64 `mapstructure:"forward"`
	Deflection float64 `mapstructure:"deflection"`
}

// IndirectFireRanges holds per-outcome lethal areas for near misses.
type IndirectFireRanges struct {
	Mobility  DamageRange `mapstructure:"mobility"`
	Firepower DamageRange `mapstructure:"firepower"`
	Kill      DamageRange `mapstructure:"kill"`
}

// MunitionDamage describes how a class of munitions damages a target.
type MunitionDamage struct {
	Name         string             `mapstructure:"name"`
	CutoffRange  float64            `mapstructure:"cutoffRange"`
	NewtonForce  float64            `mapstructure:"newtonForce"`
	DirectFire   DamageProbability  `mapstructure:"directFire"`
	IndirectFire IndirectFireRanges `mapstructure:"indirectFire"`
}

// Detonation is a shot or detonation event against an entity.
type Detonation struct {
	TargetID      string
	FiringID      string
	MunitionType  string
	Location      mgl64.Vec3
	FinalVelocity mgl64.Vec3
	QuantityFired int
	DirectHit     bool
	Time          time.Time
}
