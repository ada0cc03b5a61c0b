package model

import (
	"math"
	"testing"
)

func TestDamageTypeNamesRoundTrip(t *testing.T) {
	for _, d := range []DamageType{DamageNone, DamageMobility, DamageFirepower, DamageMobilityFirepower, DamageKill} {
		got, err := ParseDamageType(d.String())
		if err != nil || got != d {
			t.Fatalf("ParseDamageType(%q) = %v, %v", d.String(), got, err)
		}
	}
	if _, err := ParseDamageType("MELTED"); err == nil {
		t.Fatalf("expected error for unknown damage type")
	}
	if DamageType(99).Valid() {
		t.Fatalf("DamageType(99) reported valid")
	}
}

func TestDamageSeverityOrdering(t *testing.T) {
	if DamageMobility.Severity() != DamageFirepower.Severity() {
		t.Fatalf("MOBILITY and FIREPOWER should share a rank")
	}
	if !(DamageNone.Severity() < DamageMobility.Severity() &&
		DamageMobility.Severity() < DamageMobilityFirepower.Severity() &&
		DamageMobilityFirepower.Severity() < DamageKill.Severity()) {
		t.Fatalf("severity ranks out of order")
	}
}

func TestDamageProbability(t *testing.T) {
	if err := DefaultDamageLevels.Validate(1e-9); err != nil {
		t.Fatalf("default levels invalid: %v", err)
	}

	p := DamageProbability{None: 2, Kill: 2}
	n := p.Normalized()
	if n.None != 0.5 || n.Kill != 0.5 {
		t.Fatalf("Normalized = %+v", n)
	}
	if (DamageProbability{}).Normalized().None != 1 {
		t.Fatalf("empty distribution should normalise to certain NONE")
	}
	if (DamageProbability{None: math.NaN()}).Normalized().None != 1 {
		t.Fatalf("NaN distribution should normalise to certain NONE")
	}
	if err := (DamageProbability{None: 1.5}).Validate(1); err == nil {
		t.Fatalf("bucket above 1 accepted")
	}
	if err := (DamageProbability{None: 0.5}).Validate(0.01); err == nil {
		t.Fatalf("sum of 0.5 accepted")
	}
}

func TestParseDRAlgorithmAndMode(t *testing.T) {
	for _, a := range []DRAlgorithm{DRStatic, DRVelocityOnly, DRVelocityAndAcceleration} {
		got, err := ParseDRAlgorithm(a.String())
		if err != nil || got != a {
			t.Fatalf("ParseDRAlgorithm(%q) = %v, %v", a.String(), got, err)
		}
	}
	if got, _ := ParseDRAlgorithm("VELOCITY"); got != DRVelocityOnly {
		t.Fatalf("alias velocity = %v", got)
	}
	if _, err := ParseDRAlgorithm("teleport"); err == nil {
		t.Fatalf("expected error for unknown algorithm")
	}

	if m, err := ParseDRMode("Calculate_And_Move"); err != nil || m != DRCalculateAndMove {
		t.Fatalf("ParseDRMode = %v, %v", m, err)
	}
	if m, err := ParseDRMode(""); err != nil || m != DRCalculateOnly {
		t.Fatalf("ParseDRMode(\"\") = %v, %v", m, err)
	}
	if _, err := ParseDRMode("hover"); err == nil {
		t.Fatalf("expected error for unknown mode")
	}
}

func TestMunitionFamilies(t *testing.T) {
	f, err := ParseMunitionFamily("high_explosive")
	if err != nil || f != FamilyHighExplosive || !f.IsExplosive() {
		t.Fatalf("ParseMunitionFamily = %v, %v", f, err)
	}
	if FamilySmallArms.IsExplosive() {
		t.Fatalf("small arms reported explosive")
	}
	if f, err := ParseMunitionFamily(""); err != nil || f != FamilyGeneric {
		t.Fatalf("empty family = %v, %v", f, err)
	}
	if _, err := ParseMunitionFamily("PHOTON"); err == nil {
		t.Fatalf("expected error for unknown family")
	}
}

func TestSamplePose(t *testing.T) {
	s := KinematicSample{}
	s.Position[0] = 3
	s.Orientation[0] = 45
	p := s.Pose()
	if p.Position[0] != 3 || p.Orientation[0] != 45 {
		t.Fatalf("Pose = %+v", p)
	}
	if OwnershipRemote.String() != "remote" || OwnershipLocal.String() != "local" {
		t.Fatalf("ownership strings wrong")
	}
}
