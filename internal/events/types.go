// Package events fans model lifecycle events out to consumers without blocking the
// retrain path.
package events

import "time"

// Kind identifies what happened to the active model
type Kind string

const (
	KindModelUpdated   Kind = "model_updated"
	KindModelRestored  Kind = "model_restored"
	KindTrainingFailed Kind = "training_failed"
)

// ModelEvent describes one change (or failed attempt to change) of the active snapshot
type ModelEvent struct {
	Kind                 Kind      `json:"kind"`
	Version              uint64    `json:"version"`
	PreviousVersion      uint64    `json:"previous_version"`
	TrainedOnSampleCount int       `json:"trained_on_sample_count"`
	Trigger              string    `json:"trigger"`
	RestoredFrom         *uint64   `json:"restored_from,omitempty"`
	Error                string    `json:"error,omitempty"`
	Timestamp            time.Time `json:"timestamp"`
}

// Consumer handles events delivered by the Bus
type Consumer interface {
	// Name identifies the consumer in logs and must be unique per bus
	Name() string
	ProcessEvent(event ModelEvent) error
}

// Stats are bus counters
type Stats struct {
	EventsReceived  uint64
	EventsProcessed uint64
	EventsDropped   uint64
	ConsumerErrors  uint64
}
