package core

import "errors"

var (
	// ErrNonFiniteExtrapolation indicates an extrapolated pose contained NaN or
	// Inf; the pose returned alongside it is the last valid one.
	ErrNonFiniteExtrapolation = errors.New("extrapolation produced a non-finite pose")
	// ErrNoObservation indicates extrapolation was requested before any sample arrived.
	ErrNoObservation = errors.New("no kinematic observation recorded")
	// ErrEntityExists indicates an entity with the same ID is already simulated.
	ErrEntityExists = errors.New("entity already exists")
	// ErrEntityNotFound indicates the engine has no entity with the given ID.
	ErrEntityNotFound = errors.New("entity not found")
	// ErrInvalidUpdate indicates an inbound entity update cannot be routed.
	ErrInvalidUpdate = errors.New("invalid entity update")
	// ErrInvalidDetonation indicates a detonation without a target.
	ErrInvalidDetonation = errors.New("invalid detonation")
)
