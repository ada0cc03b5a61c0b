package model

import (
	"fmt"
	"math"
	"strings"
)

// DamageType is the discrete damage classification of an entity.
type DamageType int

const (
	DamageNone DamageType = iota
	DamageMobility
	DamageFirepower
	DamageMobilityFirepower
	DamageKill
)

type damageTypeInfo struct {
	name     string
	severity int
}

// MOBILITY and FIREPOWER share a severity rank; neither overrides the other.
var damageTypes = map[DamageType]damageTypeInfo{
	DamageNone:              {name: "NONE", severity: 0},
	DamageMobility:          {name: "MOBILITY", severity: 1},
	DamageFirepower:         {name: "FIREPOWER", severity: 1},
	DamageMobilityFirepower: {name: "MOBILITY_FIREPOWER", severity: 2},
	DamageKill:              {name: "KILL", severity: 3},
}

func (d DamageType) String() string {
	if info, ok := damageTypes[d]; ok {
		return info.name
	}
	return fmt.Sprintf("DamageType(%d)", int(d))
}

// Severity returns the rank used to order damage states.
func (d DamageType) Severity() int {
	return damageTypes[d].severity
}

// Valid reports whether d is one of the declared damage types.
func (d DamageType) Valid() bool {
	_, ok := damageTypes[d]
	return ok
}

// ParseDamageType converts a display name back into a DamageType.
func ParseDamageType(s string) (DamageType, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	for dt, info := range damageTypes {
		if info.name == s {
			return dt, nil
		}
	}
	return DamageNone, fmt.Errorf("unknown damage type %q", s)
}

// DamageProbability is a five-bucket distribution over damage outcomes.
// It serves both as the damage-level table and as a per-impact result.
type DamageProbability struct {
	None              float64 `mapstructure:"none"`
	Mobility          float64 `mapstructure:"mobility"`
	Firepower         float64 `mapstructure:"firepower"`
	MobilityFirepower float64 `mapstructure:"mobilityFirepower"`
	Kill              float64 `mapstructure:"kill"`
}

// DefaultDamageLevels is the ratio-to-state table used when none is configured.
var DefaultDamageLevels = DamageProbability{
	None:              0.85,
	Mobility:          0.14,
	Firepower:         0.0,
	MobilityFirepower: 0.0,
	Kill:              0.01,
}

// Sum returns the total of all buckets.
func (p DamageProbability) Sum() float64 {
	return p.None + p.Mobility + p.Firepower + p.MobilityFirepower + p.Kill
}

// Normalized scales the buckets to sum to 1. An empty distribution maps to
// certain NONE.
func (p DamageProbability) Normalized() DamageProbability {
	sum := p.Sum()
	if sum <= 0 || math.IsNaN(sum) || math.IsInf(sum, 0) {
		return DamageProbability{None: 1}
	}
	return DamageProbability{
		None:              p.None / sum,
		Mobility:          p.Mobility / sum,
		Firepower:         p.Firepower / sum,
		MobilityFirepower: p.MobilityFirepower / sum,
		Kill:              p.Kill / sum,
	}
}

// Validate checks every bucket is in [0,1] and the total is within tolerance of 1.
func (p DamageProbability) Validate(tolerance float64) error {
	buckets := []struct {
		name  string
		value float64
	}{
		{"none", p.None},
		{"mobility", p.Mobility},
		{"firepower", p.Firepower},
		{"mobilityFirepower", p.MobilityFirepower},
		{"kill", p.Kill},
	}
	for _, b := range buckets {
		if b.value < 0 || b.value > 1 || math.IsNaN(b.value) {
			return fmt.Errorf("damage probability %s=%v out of range [0,1]", b.name, b.value)
		}
	}
	if sum := p.Sum(); math.Abs(sum-1) > tolerance {
		return fmt.Errorf("damage probabilities sum to %v, want 1±%v", sum, tolerance)
	}
	return nil
}
