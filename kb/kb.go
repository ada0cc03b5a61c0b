package kb

import (
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/signalsfoundry/federation-sim/model"
)

var (
	ErrEntityExists   = errors.New("entity already exists")
	ErrEntityNotFound = errors.New("entity not found")
)

// EventType indicates what kind of change happened in the registry.
type EventType int

const (
	EventEntityAdded EventType = iota
	EventEntityRemoved
	EventPoseUpdated
	EventDamageUpdated
)

func (t EventType) String() string {
	switch t {
	case EventEntityAdded:
		return "added"
	case EventEntityRemoved:
		return "removed"
	case EventPoseUpdated:
		return "pose"
	case EventDamageUpdated:
		return "damage"
	default:
		return "unknown"
	}
}

// DamageSnapshot is the published damage view of an entity.
type DamageSnapshot struct {
	State             model.DamageType
	Ratio             float64
	MobilityDisabled  bool
	FirepowerDisabled bool
	FlamesPresent     bool
}

// EntityRecord is a copy of everything the registry knows about an entity.
type EntityRecord struct {
	Definition model.EntityDefinition
	Pose       model.Pose
	Damage     DamageSnapshot
}

// Event is emitted to subscribers when something interesting happens.
type Event struct {
	Type   EventType
	Entity EntityRecord
}

// Registry is an in-memory, thread-safe store of simulated entities with
// their latest pose and damage.
type Registry struct {
	mu sync.RWMutex

	entities map[string]*EntityRecord

	subs   map[int]func(Event)
	nextID int
}

// NewRegistry constructs an empty registry.
func NewRegistry() *Registry {
	return &Registry{
		entities: make(map[string]*EntityRecord),
		subs:     make(map[int]func(Event)),
	}
}

// AddEntity stores a new entity and returns its ID, assigning a random UUID
// when def.ID is empty.
func (r *Registry) AddEntity(def model.EntityDefinition) (string, error) {
	if def.ID == "" {
		def.ID = uuid.NewString()
	}

	r.mu.Lock()
	if _, exists := r.entities[def.ID]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %q", ErrEntityExists, def.ID)
	}
	rec := &EntityRecord{Definition: def}
	r.entities[def.ID] = rec
	event := Event{Type: EventEntityAdded, Entity: *rec}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, event)
	return def.ID, nil
}

// RemoveEntity deletes an entity.
func (r *Registry) RemoveEntity(id string) error {
	r.mu.Lock()
	rec, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	delete(r.entities, id)
	event := Event{Type: EventEntityRemoved, Entity: *rec}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, event)
	return nil
}

// GetEntity returns a copy of the entity record.
func (r *Registry) GetEntity(id string) (EntityRecord, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	rec, ok := r.entities[id]
	if !ok {
		return EntityRecord{}, false
	}
	return *rec, true
}

// ListEntities returns a snapshot of all entities ordered by ID.
func (r *Registry) ListEntities() []EntityRecord {
	r.mu.RLock()
	res := make([]EntityRecord, 0, len(r.entities))
	for _, rec := range r.entities {
		res = append(res, *rec)
	}
	r.mu.RUnlock()

	sort.Slice(res, func(i, j int) bool { return res[i].Definition.ID < res[j].Definition.ID })
	return res
}

// UpdateEntityPose stores the latest pose and notifies subscribers.
func (r *Registry) UpdateEntityPose(id string, pose model.Pose) error {
	r.mu.Lock()
	rec, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	rec.Pose = pose
	event := Event{Type: EventPoseUpdated, Entity: *rec}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, event)
	return nil
}

// UpdateEntityDamage stores the latest damage view and notifies subscribers.
func (r *Registry) UpdateEntityDamage(id string, dmg DamageSnapshot) error {
	r.mu.Lock()
	rec, ok := r.entities[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %q", ErrEntityNotFound, id)
	}
	rec.Damage = dmg
	event := Event{Type: EventDamageUpdated, Entity: *rec}
	subs := r.snapshotSubs()
	r.mu.Unlock()

	notify(subs, event)
	return nil
}

// Subscribe registers a callback for registry events. It returns an
// unsubscribe function that is safe to call more than once.
func (r *Registry) Subscribe(fn func(Event)) (unsubscribe func()) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := r.nextID
	r.nextID++
	r.subs[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			delete(r.subs, id)
		})
	}
}

// snapshotSubs must be called with r.mu held.
func (r *Registry) snapshotSubs() []func(Event) {
	ids := make([]int, 0, len(r.subs))
	for id := range r.subs {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	out := make([]func(Event), 0, len(ids))
	for _, id := range ids {
		out = append(out, r.subs[id])
	}
	return out
}

// Subscribers run outside the lock so they may call back into the registry.
func notify(subs []func(Event), event Event) {
	for _, sub := range subs {
		sub(event)
	}
}
