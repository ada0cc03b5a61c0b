package federation

import (
	"errors"
	"fmt"
	"time"

	"github.com/go-gl/mathgl/mgl64"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/signalsfoundry/federation-sim/model"
)

// ErrInvalidPayload indicates a message that cannot be decoded into an
// update or detonation.
var ErrInvalidPayload = errors.New("invalid federation payload")

// UpdateToStruct encodes an entity update as a protobuf Struct.
func UpdateToStruct(u model.EntityUpdate) (*structpb.Struct, error) {
	s := u.Sample
	fields := map[string]any{
		"entity_id":   u.EntityID,
		"entity_type": u.EntityType,
		"kind":        string(u.Kind),
		"sim_time":    formatTime(u.SimTime),
		"sample": map[string]any{
			"position":         vecToList(s.Position),
			"orientation":      vecToList(s.Orientation),
			"linear_velocity":  vecToList(s.LinearVelocity),
			"angular_velocity": vecToList(s.AngularVelocity),
			"acceleration":     vecToList(s.LinearAcceleration),
			"has_acceleration": s.HasAcceleration,
			"timestamp":        formatTime(s.Timestamp),
		},
	}
	if u.Kind == model.UpdateKindDamage {
		fields["damage"] = map[string]any{
			"state":              u.DamageState.String(),
			"ratio":              u.DamageRatio,
			"mobility_disabled":  u.MobilityDisabled,
			"firepower_disabled": u.FirepowerDisabled,
			"flames_present":     u.FlamesPresent,
		}
	}
	return structpb.NewStruct(fields)
}

// UpdateFromStruct decodes a Struct produced by UpdateToStruct.
func UpdateFromStruct(pb *structpb.Struct) (model.EntityUpdate, error) {
	if pb == nil {
		return model.EntityUpdate{}, fmt.Errorf("%w: empty message", ErrInvalidPayload)
	}
	f := pb.GetFields()

	u := model.EntityUpdate{
		EntityID:   f["entity_id"].GetStringValue(),
		EntityType: f["entity_type"].GetStringValue(),
		Kind:       model.UpdateKind(f["kind"].GetStringValue()),
	}
	var err error
	if u.SimTime, err = parseTime(f["sim_time"]); err != nil {
		return model.EntityUpdate{}, err
	}

	if sample := f["sample"].GetStructValue(); sample != nil {
		sf := sample.GetFields()
		vecs := []struct {
			key string
			dst *mgl64.Vec3
		}{
			{"position", &u.Sample.Position},
			{"orientation", &u.Sample.Orientation},
			{"linear_velocity", &u.Sample.LinearVelocity},
			{"angular_velocity", &u.Sample.AngularVelocity},
			{"acceleration", &u.Sample.LinearAcceleration},
		}
		for _, v := range vecs {
			if *v.dst, err = listToVec(sf[v.key]); err != nil {
				return model.EntityUpdate{}, fmt.Errorf("%w: sample.%s: %v", ErrInvalidPayload, v.key, err)
			}
		}
		u.Sample.HasAcceleration = sf["has_acceleration"].GetBoolValue()
		if u.Sample.Timestamp, err = parseTime(sf["timestamp"]); err != nil {
			return model.EntityUpdate{}, err
		}
	}

	if dmg := f["damage"].GetStructValue(); dmg != nil {
		df := dmg.GetFields()
		if u.DamageState, err = model.ParseDamageType(df["state"].GetStringValue()); err != nil {
			return model.EntityUpdate{}, fmt.Errorf("%w: %v", ErrInvalidPayload, err)
		}
		u.DamageRatio = df["ratio"].GetNumberValue()
		u.MobilityDisabled = df["mobility_disabled"].GetBoolValue()
		u.FirepowerDisabled = df["firepower_disabled"].GetBoolValue()
		u.FlamesPresent = df["flames_present"].GetBoolValue()
	}
	return u, nil
}

// DetonationToStruct encodes a detonation as a protobuf Struct.
func DetonationToStruct(d model.Detonation) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]any{
		"target_id":      d.TargetID,
		"firing_id":      d.FiringID,
		"munition_type":  d.MunitionType,
		"location":       vecToList(d.Location),
		"final_velocity": vecToList(d.FinalVelocity),
		"quantity_fired": float64(d.QuantityFired),
		"direct_hit":     d.DirectHit,
		"time":           formatTime(d.Time),
	})
}

// DetonationFromStruct decodes a Struct produced by DetonationToStruct.
func DetonationFromStruct(pb *structpb.Struct) (model.Detonation, error) {
	if pb == nil {
		return model.Detonation{}, fmt.Errorf("%w: empty message", ErrInvalidPayload)
	}
	f := pb.GetFields()
	d := model.Detonation{
		TargetID:      f["target_id"].GetStringValue(),
		FiringID:      f["firing_id"].GetStringValue(),
		MunitionType:  f["munition_type"].GetStringValue(),
		QuantityFired: int(f["quantity_fired"].GetNumberValue()),
		DirectHit:     f["direct_hit"].GetBoolValue(),
	}
	var err error
	if d.Location, err = listToVec(f["location"]); err != nil {
		return model.Detonation{}, fmt.Errorf("%w: location: %v", ErrInvalidPayload, err)
	}
	if d.FinalVelocity, err = listToVec(f["final_velocity"]); err != nil {
		return model.Detonation{}, fmt.Errorf("%w: final_velocity: %v", ErrInvalidPayload, err)
	}
	if d.Time, err = parseTime(f["time"]); err != nil {
		return model.Detonation{}, err
	}
	return d, nil
}

func vecToList(v mgl64.Vec3) []any {
	return []any{v[0], v[1], v[2]}
}

// listToVec accepts a missing value as the zero vector.
func listToVec(v *structpb.Value) (mgl64.Vec3, error) {
	if v == nil {
		return mgl64.Vec3{}, nil
	}
	list := v.GetListValue()
	if list == nil {
		return mgl64.Vec3{}, fmt.Errorf("not a list")
	}
	values := list.GetValues()
	if len(values) != 3 {
		return mgl64.Vec3{}, fmt.Errorf("want 3 components, got %d", len(values))
	}
	var out mgl64.Vec3
	for i, c := range values {
		if _, ok := c.GetKind().(*structpb.Value_NumberValue); !ok {
			return mgl64.Vec3{}, fmt.Errorf("component %d is not a number", i)
		}
		out[i] = c.GetNumberValue()
	}
	return out, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(v *structpb.Value) (time.Time, error) {
	raw := v.GetStringValue()
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: time %q: %v", ErrInvalidPayload, raw, err)
	}
	return t, nil
}
