package model

import (
	"time"

	"github.com/go-gl/mathgl/mgl64"
)

// Ownership tells whether this simulator drives an entity or mirrors it.
type Ownership int

const (
	// OwnershipLocal entities are simulated here and published to peers.
	OwnershipLocal Ownership = iota
	// OwnershipRemote entities are received from peers and dead reckoned.
	OwnershipRemote
)

func (o Ownership) String() string {
	if o == OwnershipRemote {
		return "remote"
	}
	return "local"
}

// EntityDefinition identifies an entity taking part in the federation.
type EntityDefinition struct {
	ID        string
	Name      string
	Type      string // e.g. "TANK", "TRUCK", "STEALTH"
	Ownership Ownership

	// Dimensions are the full extents of the entity's bounding box in metres.
	Dimensions mgl64.Vec3
}

// UpdateKind separates motion updates from damage notifications.
type UpdateKind string

const (
	UpdateKindState  UpdateKind = "state"
	UpdateKindDamage UpdateKind = "damage"
)

// EntityUpdate is the semantic payload sent to federation peers.
// Message framing belongs to the transport.
type EntityUpdate struct {
	EntityID   string
	EntityType string
	Kind       UpdateKind
	SimTime    time.Time

	Sample KinematicSample

	DamageState       DamageType
	DamageRatio       float64
	MobilityDisabled  bool
	FirepowerDisabled bool
	FlamesPresent     bool
}
