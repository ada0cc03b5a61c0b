package federation

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/signalsfoundry/federation-sim/model"
)

// wireUpdate is the msgpack record for one entity update.
type wireUpdate struct {
	EntityID   string    `msgpack:"id"`
	EntityType string    `msgpack:"type,omitempty"`
	Kind       string    `msgpack:"kind"`
	SimTime    time.Time `msgpack:"t"`

	Position           [3]float64 `msgpack:"pos"`
	Orientation        [3]float64 `msgpack:"hpr"`
	LinearVelocity     [3]float64 `msgpack:"vel"`
	AngularVelocity    [3]float64 `msgpack:"avel"`
	LinearAcceleration [3]float64 `msgpack:"acc,omitempty"`
	HasAcceleration    bool       `msgpack:"has_acc,omitempty"`
	SampleTime         time.Time  `msgpack:"st"`

	DamageState       string  `msgpack:"dmg,omitempty"`
	DamageRatio       float64 `msgpack:"ratio,omitempty"`
	MobilityDisabled  bool    `msgpack:"mob,omitempty"`
	FirepowerDisabled bool    `msgpack:"fire,omitempty"`
	FlamesPresent     bool    `msgpack:"flames,omitempty"`
}

func toWire(u model.EntityUpdate) wireUpdate {
	s := u.Sample
	return wireUpdate{
		EntityID:           u.EntityID,
		EntityType:         u.EntityType,
		Kind:               string(u.Kind),
		SimTime:            u.SimTime,
		Position:           s.Position,
		Orientation:        s.Orientation,
		LinearVelocity:     s.LinearVelocity,
		AngularVelocity:    s.AngularVelocity,
		LinearAcceleration: s.LinearAcceleration,
		HasAcceleration:    s.HasAcceleration,
		SampleTime:         s.Timestamp,
		DamageState:        u.DamageState.String(),
		DamageRatio:        u.DamageRatio,
		MobilityDisabled:   u.MobilityDisabled,
		FirepowerDisabled:  u.FirepowerDisabled,
		FlamesPresent:      u.FlamesPresent,
	}
}

func (w wireUpdate) toModel() (model.EntityUpdate, error) {
	dmg := model.DamageNone
	if w.DamageState != "" {
		var err error
		if dmg, err = model.ParseDamageType(w.DamageState); err != nil {
			return model.EntityUpdate{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
	}
	return model.EntityUpdate{
		EntityID:   w.EntityID,
		EntityType: w.EntityType,
		Kind:       model.UpdateKind(w.Kind),
		SimTime:    w.SimTime,
		Sample: model.KinematicSample{
			Position:           mgl64.Vec3(w.Position),
			Orientation:        mgl64.Vec3(w.Orientation),
			LinearVelocity:     mgl64.Vec3(w.LinearVelocity),
			AngularVelocity:    mgl64.Vec3(w.AngularVelocity),
			LinearAcceleration: mgl64.Vec3(w.LinearAcceleration),
			HasAcceleration:    w.HasAcceleration,
			Timestamp:          w.SampleTime,
		},
		DamageState:       dmg,
		DamageRatio:       w.DamageRatio,
		MobilityDisabled:  w.MobilityDisabled,
		FirepowerDisabled: w.FirepowerDisabled,
		FlamesPresent:     w.FlamesPresent,
	}, nil
}

// StreamPublisher writes updates as a sequence of msgpack records. It is
// safe for concurrent use.
type StreamPublisher struct {
	mu  sync.Mutex
	enc *msgpack.Encoder
}

// NewStreamPublisher encodes onto w.
func NewStreamPublisher(w io.Writer) *StreamPublisher {
	return &StreamPublisher{enc: msgpack.NewEncoder(w)}
}

// Publish implements Publisher.
func (p *StreamPublisher) Publish(_ context.Context, update model.EntityUpdate) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if err := p.enc.Encode(toWire(update)); err != nil {
		return fmt.Errorf("encode update %q: %w", update.EntityID, err)
	}
	return nil
}

// StreamReader decodes records written by StreamPublisher.
type StreamReader struct {
	dec *msgpack.Decoder
}

// NewStreamReader decodes from r.
func NewStreamReader(r io.Reader) *StreamReader {
	return &StreamReader{dec: msgpack.NewDecoder(r)}
}

// Next returns the next update, or io.EOF once the stream is exhausted.
func (r *StreamReader) Next() (model.EntityUpdate, error) {
	var w wireUpdate
	if err := r.dec.Decode(&w); err != nil {
		if errors.Is(err, io.EOF) {
			return model.EntityUpdate{}, io.EOF
		}
		return model.EntityUpdate{}, fmt.Errorf("decode update: %w", err)
	}
	return w.toModel()
}

// Replay feeds every remaining update to fn, stopping at the first error.
func (r *StreamReader) Replay(fn func(model.EntityUpdate) error) (int, error) {
	n := 0
	for {
		u, err := r.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, err
		}
		if err := fn(u); err != nil {
			return n, err
		}
		n++
	}
}
