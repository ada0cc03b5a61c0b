package core

import (
	"math"
	"time"

	"github.com/signalsfoundry/federation-sim/model"
)

// PublishReason explains a publish decision.
type PublishReason string

const (
	ReasonFirst          PublishReason = "first"
	ReasonTranslation    PublishReason = "translation"
	ReasonRotation       PublishReason = "rotation"
	ReasonHeartbeat      PublishReason = "heartbeat"
	ReasonRateLimited    PublishReason = "rate_limited"
	ReasonBelowThreshold PublishReason = "below_threshold"
)

// PublishPolicy bounds how often and on how much divergence a locally owned
// entity republishes its state. It is per-entity configuration.
type PublishPolicy struct {
	// MaxUpdateSendRate is the ceiling in updates per second; zero disables
	// throttling.
	MaxUpdateSendRate float64

	TranslationThreshold float64 // metres
	RotationThresholdDeg float64

	// HeartbeatInterval forces a publish after this long without one. Zero
	// disables heartbeats.
	HeartbeatInterval time.Duration

	// ProjectLastPublished compares against the last published sample dead
	// reckoned to now with Algorithm, i.e. what peers are currently showing.
	ProjectLastPublished bool
	Algorithm            model.DRAlgorithm
}

// DefaultPublishPolicy returns the thresholds used when none are configured.
func DefaultPublishPolicy() PublishPolicy {
	return PublishPolicy{
		MaxUpdateSendRate:    5,
		TranslationThreshold: 0.15,
		RotationThresholdDeg: 2,
		Algorithm:            model.DRVelocityOnly,
	}
}

// MinInterval is the shortest allowed time between two publishes, rounded up
// to the next nanosecond so it is never below 1/MaxUpdateSendRate.
func (p PublishPolicy) MinInterval() time.Duration {
	if p.MaxUpdateSendRate <= 0 {
		return 0
	}
	return time.Duration(math.Ceil(float64(time.Second) / p.MaxUpdateSendRate))
}

// PublishState tracks what was last sent to peers for one entity.
type PublishState struct {
	Policy PublishPolicy

	LastPublished   model.KinematicSample
	LastPublishTime time.Time
	Published       bool
}

// NewPublishState creates publish tracking for an entity that has not yet
// published anything.
func NewPublishState(policy PublishPolicy) *PublishState {
	return &PublishState{Policy: policy}
}

// PublishDecision is the outcome of comparing current state with what was
// last published.
type PublishDecision struct {
	Publish bool
	Reason  PublishReason
}

// Decide evaluates whether current should be published at now. The rate
// ceiling is checked first and wins over every threshold.
func Decide(current model.KinematicSample, state *PublishState, now time.Time) PublishDecision {
	if state == nil {
		return PublishDecision{Publish: true, Reason: ReasonFirst}
	}
	if !state.Published {
		return PublishDecision{Publish: true, Reason: ReasonFirst}
	}

	sinceLast := now.Sub(state.LastPublishTime)
	if sinceLast < state.Policy.MinInterval() {
		return PublishDecision{Publish: false, Reason: ReasonRateLimited}
	}

	reference := state.LastPublished.Pose()
	if state.Policy.ProjectLastPublished {
		elapsed := now.Sub(state.LastPublished.Timestamp).Seconds()
		reference = NewMotionModel(state.Policy.Algorithm).Predict(state.LastPublished, elapsed)
	}

	if current.Position.Sub(reference.Position).Len() > state.Policy.TranslationThreshold {
		return PublishDecision{Publish: true, Reason: ReasonTranslation}
	}
	if RotationDeltaDegrees(current.Orientation, reference.Orientation) > state.Policy.RotationThresholdDeg {
		return PublishDecision{Publish: true, Reason: ReasonRotation}
	}
	if hb := state.Policy.HeartbeatInterval; hb > 0 && sinceLast >= hb {
		return PublishDecision{Publish: true, Reason: ReasonHeartbeat}
	}
	return PublishDecision{Publish: false, Reason: ReasonBelowThreshold}
}

// ShouldPublish reports whether current has diverged enough from the last
// published state, and enough time has passed, to warrant a new publish.
func ShouldPublish(current model.KinematicSample, state *PublishState, now time.Time) bool {
	return Decide(current, state, now).Publish
}

// MarkPublished records that sample was sent at now. Callers invoke it after
// a positive decision.
func (s *PublishState) MarkPublished(sample model.KinematicSample, now time.Time) {
	s.LastPublished = sample
	s.LastPublishTime = now
	s.Published = true
}
