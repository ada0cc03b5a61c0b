package core

import (
	"testing"
	"time"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/signalsfoundry/federation-sim/model"
)

func sampleAt(x float64, ts time.Time) model.KinematicSample {
	return model.KinematicSample{Position: mgl64.Vec3{x, 0, 0}, Timestamp: ts}
}

func TestShouldPublish_FirstAlwaysAllowed(t *testing.T) {
	state := NewPublishState(DefaultPublishPolicy())
	d := Decide(sampleAt(0, epoch), state, epoch)
	if !d.Publish || d.Reason != ReasonFirst {
		t.Fatalf("first decision = %+v, want publish/first", d)
	}
	if !ShouldPublish(sampleAt(0, epoch), nil, epoch) {
		t.Fatalf("nil state should publish")
	}
}

func TestShouldPublish_RateLimitScenario(t *testing.T) {
	policy := DefaultPublishPolicy()
	policy.MaxUpdateSendRate = 5
	state := NewPublishState(policy)
	state.MarkPublished(sampleAt(0, epoch), epoch)

	t1 := epoch.Add(300 * time.Millisecond)
	if !ShouldPublish(sampleAt(1, t1), state, t1) {
		t.Fatalf("first qualifying delta should publish")
	}
	state.MarkPublished(sampleAt(1, t1), t1)

	t2 := t1.Add(100 * time.Millisecond)
	d := Decide(sampleAt(2, t2), state, t2)
	if d.Publish || d.Reason != ReasonRateLimited {
		t.Fatalf("decision 0.1s later = %+v, want rate_limited", d)
	}

	t3 := t1.Add(200 * time.Millisecond)
	if !ShouldPublish(sampleAt(2, t3), state, t3) {
		t.Fatalf("decision after the minimum interval should publish")
	}
}

func TestShouldPublish_Thresholds(t *testing.T) {
	policy := DefaultPublishPolicy()
	state := NewPublishState(policy)
	state.MarkPublished(model.KinematicSample{Timestamp: epoch}, epoch)
	now := epoch.Add(time.Second)

	small := model.KinematicSample{Position: mgl64.Vec3{0.1, 0, 0}, Orientation: mgl64.Vec3{1, 0, 0}}
	if d := Decide(small, state, now); d.Publish || d.Reason != ReasonBelowThreshold {
		t.Fatalf("small change decision = %+v, want below_threshold", d)
	}

	moved := model.KinematicSample{Position: mgl64.Vec3{0.2, 0, 0}}
	if d := Decide(moved, state, now); !d.Publish || d.Reason != ReasonTranslation {
		t.Fatalf("translation decision = %+v, want translation", d)
	}

	turned := model.KinematicSample{Orientation: mgl64.Vec3{0, 0, 3}}
	if d := Decide(turned, state, now); !d.Publish || d.Reason != ReasonRotation {
		t.Fatalf("rotation decision = %+v, want rotation", d)
	}
}

func TestShouldPublish_Heartbeat(t *testing.T) {
	policy := DefaultPublishPolicy()
	policy.HeartbeatInterval = 5 * time.Second
	state := NewPublishState(policy)
	state.MarkPublished(model.KinematicSample{Timestamp: epoch}, epoch)

	if ShouldPublish(model.KinematicSample{}, state, epoch.Add(4*time.Second)) {
		t.Fatalf("unchanged state published before heartbeat")
	}
	d := Decide(model.KinematicSample{}, state, epoch.Add(5*time.Second))
	if !d.Publish || d.Reason != ReasonHeartbeat {
		t.Fatalf("decision at heartbeat = %+v, want heartbeat", d)
	}
}

func TestShouldPublish_ProjectLastPublished(t *testing.T) {
	policy := DefaultPublishPolicy()
	policy.ProjectLastPublished = true
	state := NewPublishState(policy)
	state.MarkPublished(model.KinematicSample{LinearVelocity: mgl64.Vec3{1, 0, 0}, Timestamp: epoch}, epoch)

	now := epoch.Add(2 * time.Second)
	onTrack := model.KinematicSample{Position: mgl64.Vec3{2, 0, 0}, LinearVelocity: mgl64.Vec3{1, 0, 0}}
	if ShouldPublish(onTrack, state, now) {
		t.Fatalf("entity following the dead reckoned track should not publish")
	}

	policy.ProjectLastPublished = false
	state.Policy = policy
	if !ShouldPublish(onTrack, state, now) {
		t.Fatalf("raw comparison should see a 2m translation")
	}
}

func TestMinInterval(t *testing.T) {
	if got := (PublishPolicy{MaxUpdateSendRate: 5}).MinInterval(); got != 200*time.Millisecond {
		t.Fatalf("MinInterval = %v, want 200ms", got)
	}
	if got := (PublishPolicy{}).MinInterval(); got != 0 {
		t.Fatalf("MinInterval with no rate = %v, want 0", got)
	}
	if got := (PublishPolicy{MaxUpdateSendRate: 3}).MinInterval(); got != 333333334*time.Nanosecond {
		t.Fatalf("MinInterval at 3 Hz = %v, want 333.333334ms", got)
	}
}

func TestShouldPublish_ThrottleNeverUnderOneOverRate(t *testing.T) {
	policy := DefaultPublishPolicy()
	policy.MaxUpdateSendRate = 3
	state := NewPublishState(policy)
	state.MarkPublished(sampleAt(0, epoch), epoch)

	early := epoch.Add(333333333 * time.Nanosecond)
	if d := Decide(sampleAt(10, early), state, early); d.Publish || d.Reason != ReasonRateLimited {
		t.Fatalf("decision just under 1/3 s = %+v, want rate limited", d)
	}
	onTime := epoch.Add(333333334 * time.Nanosecond)
	if d := Decide(sampleAt(10, onTime), state, onTime); !d.Publish || d.Reason != ReasonTranslation {
		t.Fatalf("decision at 1/3 s = %+v, want publish/translation", d)
	}
}
