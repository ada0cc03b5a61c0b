package recorder

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/federation-sim/model"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func openMemory(t *testing.T) *Recorder {
	t.Helper()
	rec, err := Open("", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = rec.Close() })
	return rec
}

func update(id string, kind model.UpdateKind, at time.Duration) model.EntityUpdate {
	return model.EntityUpdate{
		EntityID:   id,
		EntityType: "TANK",
		Kind:       kind,
		SimTime:    epoch.Add(at),
		Sample: model.KinematicSample{
			Position:       mgl64.Vec3{at.Seconds() * 5, 1, 2},
			Orientation:    mgl64.Vec3{90, 0, 0},
			LinearVelocity: mgl64.Vec3{5, 0, 0},
			Timestamp:      epoch.Add(at),
		},
	}
}

func TestRecorder_History(t *testing.T) {
	rec := openMemory(t)
	ctx := context.Background()

	// Out of order on purpose.
	for _, u := range []model.EntityUpdate{
		update("tank-1", model.UpdateKindState, 2*time.Second),
		update("tank-1", model.UpdateKindState, time.Second),
		update("truck-2", model.UpdateKindState, time.Second),
	} {
		if err := rec.Publish(ctx, u); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	hist, err := rec.History(ctx, "tank-1")
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 2 {
		t.Fatalf("History len = %d, want 2", len(hist))
	}
	if !hist[0].SimTime.Equal(epoch.Add(time.Second)) || !hist[1].SimTime.Equal(epoch.Add(2*time.Second)) {
		t.Fatalf("History not in sim-time order: %v, %v", hist[0].SimTime, hist[1].SimTime)
	}
	if hist[1].Sample.Position != (mgl64.Vec3{10, 1, 2}) || hist[1].EntityType != "TANK" {
		t.Fatalf("History[1] = %+v", hist[1])
	}

	ids, err := rec.Entities(ctx)
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(ids) != 2 || ids[0] != "tank-1" || ids[1] != "truck-2" {
		t.Fatalf("Entities = %v", ids)
	}
}

func TestRecorder_DamageKindFilter(t *testing.T) {
	rec := openMemory(t)
	ctx := context.Background()

	dmg := update("tank-1", model.UpdateKindDamage, 3*time.Second)
	dmg.DamageState = model.DamageKill
	dmg.DamageRatio = 1
	dmg.MobilityDisabled = true
	dmg.FirepowerDisabled = true
	dmg.FlamesPresent = true

	for _, u := range []model.EntityUpdate{update("tank-1", model.UpdateKindState, time.Second), dmg} {
		if err := rec.Publish(ctx, u); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}

	hist, err := rec.History(ctx, "tank-1", model.UpdateKindDamage)
	if err != nil {
		t.Fatalf("History: %v", err)
	}
	if len(hist) != 1 {
		t.Fatalf("damage history len = %d, want 1", len(hist))
	}
	got := hist[0]
	if got.DamageState != model.DamageKill || got.DamageRatio != 1 || !got.FlamesPresent || !got.MobilityDisabled {
		t.Fatalf("damage record = %+v", got)
	}
}

func TestRecorder_FileDatabasePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aar.db")
	ctx := context.Background()

	rec, err := Open(path, nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rec.Publish(ctx, update("tank-1", model.UpdateKindState, time.Second)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	reopened, err := Open(path, nil)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer reopened.Close()
	hist, err := reopened.History(ctx, "tank-1")
	if err != nil || len(hist) != 1 {
		t.Fatalf("History after reopen = %d, %v; want 1 update", len(hist), err)
	}
}

func TestRecorder_Closed(t *testing.T) {
	rec, err := Open("", nil)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := rec.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if err := rec.Publish(context.Background(), update("x", model.UpdateKindState, 0)); !errors.Is(err, ErrClosed) {
		t.Fatalf("Publish after Close = %v, want ErrClosed", err)
	}
	if _, err := rec.History(context.Background(), "x"); !errors.Is(err, ErrClosed) {
		t.Fatalf("History after Close = %v, want ErrClosed", err)
	}
}

func TestRecorder_SeparateMemoryDatabases(t *testing.T) {
	a := openMemory(t)
	b := openMemory(t)
	if err := a.Publish(context.Background(), update("only-a", model.UpdateKindState, 0)); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	ids, err := b.Entities(context.Background())
	if err != nil {
		t.Fatalf("Entities: %v", err)
	}
	if len(ids) != 0 {
		t.Fatalf("in-memory databases share data: %v", ids)
	}
}
