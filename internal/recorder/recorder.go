// Package recorder keeps every published entity update in a SQLite database
// for after-action review.
package recorder

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-gl/mathgl/mgl64"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/signalsfoundry/federation-sim/internal/logging"
	"github.com/signalsfoundry/federation-sim/model"
)

// ErrClosed is returned by operations on a closed Recorder.
var ErrClosed = errors.New("recorder closed")

// Vector is a stored mgl64.Vec3.
type Vector struct {
	X float64
	Y float64
	Z float64
}

func toVector(v mgl64.Vec3) Vector { return Vector{X: v[0], Y: v[1], Z: v[2]} }

func (v Vector) vec3() mgl64.Vec3 { return mgl64.Vec3{v.X, v.Y, v.Z} }

// UpdateRecord is one published entity update.
type UpdateRecord struct {
	ID         uint      `gorm:"primarykey;autoIncrement"`
	EntityID   string    `gorm:"size:64;index:idx_update_entity"`
	EntityType string    `gorm:"size:64"`
	Kind       string    `gorm:"size:16;index:idx_update_kind"`
	SimTime    time.Time `gorm:"index:idx_update_sim_time"`

	Position           Vector    `gorm:"embedded;embeddedPrefix:pos_"`
	Orientation        Vector    `gorm:"embedded;embeddedPrefix:hpr_"`
	LinearVelocity     Vector    `gorm:"embedded;embeddedPrefix:vel_"`
	AngularVelocity    Vector    `gorm:"embedded;embeddedPrefix:avel_"`
	LinearAcceleration Vector    `gorm:"embedded;embeddedPrefix:acc_"`
	HasAcceleration    bool      `gorm:"default:false"`
	SampleTime         time.Time

	DamageState       string `gorm:"size:32"`
	DamageRatio       float64
	MobilityDisabled  bool `gorm:"default:false"`
	FirepowerDisabled bool `gorm:"default:false"`
	FlamesPresent     bool `gorm:"default:false"`
}

func recordFromUpdate(u model.EntityUpdate) UpdateRecord {
	rec := UpdateRecord{
		EntityID:           u.EntityID,
		EntityType:         u.EntityType,
		Kind:               string(u.Kind),
		SimTime:            u.SimTime,
		Position:           toVector(u.Sample.Position),
		Orientation:        toVector(u.Sample.Orientation),
		LinearVelocity:     toVector(u.Sample.LinearVelocity),
		AngularVelocity:    toVector(u.Sample.AngularVelocity),
		LinearAcceleration: toVector(u.Sample.LinearAcceleration),
		HasAcceleration:    u.Sample.HasAcceleration,
		SampleTime:         u.Sample.Timestamp,
	}
	if u.Kind == model.UpdateKindDamage {
		rec.DamageState = u.DamageState.String()
		rec.DamageRatio = u.DamageRatio
		rec.MobilityDisabled = u.MobilityDisabled
		rec.FirepowerDisabled = u.FirepowerDisabled
		rec.FlamesPresent = u.FlamesPresent
	}
	return rec
}

// Update converts the record back into the update that produced it.
func (r UpdateRecord) Update() model.EntityUpdate {
	u := model.EntityUpdate{
		EntityID:   r.EntityID,
		EntityType: r.EntityType,
		Kind:       model.UpdateKind(r.Kind),
		SimTime:    r.SimTime,
		Sample: model.KinematicSample{
			Position:           r.Position.vec3(),
			Orientation:        r.Orientation.vec3(),
			LinearVelocity:     r.LinearVelocity.vec3(),
			AngularVelocity:    r.AngularVelocity.vec3(),
			LinearAcceleration: r.LinearAcceleration.vec3(),
			HasAcceleration:    r.HasAcceleration,
			Timestamp:          r.SampleTime,
		},
		DamageRatio:       r.DamageRatio,
		MobilityDisabled:  r.MobilityDisabled,
		FirepowerDisabled: r.FirepowerDisabled,
		FlamesPresent:     r.FlamesPresent,
	}
	if dmg, err := model.ParseDamageType(r.DamageState); err == nil {
		u.DamageState = dmg
	}
	return u
}

// Recorder stores updates. It implements federation.Publisher so it can sit
// in the same fan-out as the network transport.
type Recorder struct {
	db  *gorm.DB
	log logging.Logger
}

// Open connects to the SQLite database at path, creating the schema if
// needed. An empty path opens a private in-memory database.
func Open(path string, log logging.Logger) (*Recorder, error) {
	if log == nil {
		log = logging.Noop()
	}
	dsn := path
	if dsn == "" {
		dsn = fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		SkipDefaultTransaction: true,
		CreateBatchSize:        500,
		Logger:                 logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open recorder database: %w", err)
	}
	if err := db.AutoMigrate(&UpdateRecord{}); err != nil {
		return nil, fmt.Errorf("migrate recorder database: %w", err)
	}

	if path == "" {
		log.Info(context.Background(), "recording updates in memory")
	} else {
		log.Info(context.Background(), "recording updates", logging.String("path", path))
	}
	return &Recorder{db: db, log: log}, nil
}

// Publish stores update.
func (r *Recorder) Publish(ctx context.Context, update model.EntityUpdate) error {
	if r.db == nil {
		return ErrClosed
	}
	rec := recordFromUpdate(update)
	if err := r.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("record update %q: %w", update.EntityID, err)
	}
	return nil
}

// History returns the recorded updates for entityID in simulation-time
// order. When kinds are given only those kinds are returned.
func (r *Recorder) History(ctx context.Context, entityID string, kinds ...model.UpdateKind) ([]model.EntityUpdate, error) {
	if r.db == nil {
		return nil, ErrClosed
	}
	q := r.db.WithContext(ctx).Where("entity_id = ?", entityID)
	if len(kinds) > 0 {
		names := make([]string, len(kinds))
		for i, k := range kinds {
			names[i] = string(k)
		}
		q = q.Where("kind IN ?", names)
	}

	var recs []UpdateRecord
	if err := q.Order("sim_time").Order("id").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("load history for %q: %w", entityID, err)
	}
	out := make([]model.EntityUpdate, len(recs))
	for i, rec := range recs {
		out[i] = rec.Update()
	}
	return out, nil
}

// Entities lists every entity that has at least one recorded update.
func (r *Recorder) Entities(ctx context.Context) ([]string, error) {
	if r.db == nil {
		return nil, ErrClosed
	}
	var ids []string
	err := r.db.WithContext(ctx).Model(&UpdateRecord{}).Distinct("entity_id").Order("entity_id").Pluck("entity_id", &ids).Error
	if err != nil {
		return nil, fmt.Errorf("list recorded entities: %w", err)
	}
	return ids, nil
}

// Close releases the database. Later calls return ErrClosed.
func (r *Recorder) Close() error {
	if r.db == nil {
		return nil
	}
	sqlDB, err := r.db.DB()
	r.db = nil
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
