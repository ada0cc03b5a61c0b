package core

import "github.com/signalsfoundry/federation-sim/model"

// ClassifyDamageRatio maps an accumulated damage ratio onto a damage type
// using levels as consecutive ratio bands: [0,none) is NONE, the next
// mobility-wide band is MOBILITY, and so on, with KILL at the top. A ratio of
// 0 is always NONE and a ratio of 1 is always KILL.
func ClassifyDamageRatio(levels model.DamageProbability, ratio float64) model.DamageType {
	if ratio >= 1 {
		return model.DamageKill
	}
	if ratio <= 0 {
		return model.DamageNone
	}

	p := levels.Normalized()
	bands := []struct {
		width float64
		dt    model.DamageType
	}{
		{p.None, model.DamageNone},
		{p.Mobility, model.DamageMobility},
		{p.Firepower, model.DamageFirepower},
		{p.MobilityFirepower, model.DamageMobilityFirepower},
	}

	upper := 0.0
	for _, b := range bands {
		upper += b.width
		if ratio < upper {
			return b.dt
		}
	}
	return model.DamageKill
}

// CombineDamage returns the more severe of current and candidate. MOBILITY
// and FIREPOWER rank equally and combine into MOBILITY_FIREPOWER.
func CombineDamage(current, candidate model.DamageType) model.DamageType {
	if current == model.DamageKill || candidate == model.DamageKill {
		return model.DamageKill
	}
	if (current == model.DamageMobility && candidate == model.DamageFirepower) ||
		(current == model.DamageFirepower && candidate == model.DamageMobility) {
		return model.DamageMobilityFirepower
	}
	if candidate.Severity() > current.Severity() {
		return candidate
	}
	return current
}
