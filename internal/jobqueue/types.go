// Package jobqueue runs background work (automatic retrains, persistence flushes) on a
// bounded worker pool with retry and backoff.
package jobqueue

import (
	"context"
	"errors"
	"time"
)

// Common errors that can be returned by job queue operations
var (
	ErrNilAction    = errors.New("cannot enqueue nil action")
	ErrQueueStopped = errors.New("job queue has been stopped")
	ErrQueueFull    = errors.New("job queue is full")
)

// RetryConfig holds the retry behaviour of a single job
type RetryConfig struct {
	Enabled      bool          // Whether retry is enabled for this action
	MaxRetries   int           // Maximum number of retry attempts
	InitialDelay time.Duration // Initial delay before first retry
	MaxDelay     time.Duration // Maximum delay between retries
	Multiplier   float64       // Backoff multiplier for each subsequent retry
}

// Action is a unit of background work. Execute must return promptly once ctx is done.
type Action interface {
	Execute(ctx context.Context) error
	Description() string
}

// ActionFunc adapts a function to Action
type ActionFunc struct {
	Name string
	Fn   func(ctx context.Context) error
}

// Execute implements Action
func (a ActionFunc) Execute(ctx context.Context) error { return a.Fn(ctx) }

// Description implements Action
func (a ActionFunc) Description() string { return a.Name }

// JobStatus represents the current status of a job in the queue
type JobStatus int

const (
	JobStatusPending JobStatus = iota
	JobStatusRunning
	JobStatusCompleted
	JobStatusFailed
	JobStatusRetrying
)

// String returns a string representation of the job status
func (s JobStatus) String() string {
	switch s {
	case JobStatusPending:
		return "Pending"
	case JobStatusRunning:
		return "Running"
	case JobStatusCompleted:
		return "Completed"
	case JobStatusFailed:
		return "Failed"
	case JobStatusRetrying:
		return "Retrying"
	default:
		return "Unknown"
	}
}

// Job represents one enqueued action
type Job struct {
	ID          string
	Action      Action
	Attempts    int
	MaxAttempts int
	CreatedAt   time.Time
	NextRetryAt time.Time
	Status      JobStatus
	LastError   error
	Config      RetryConfig
}

// ActionStats tracks statistics per action description
type ActionStats struct {
	Attempted     int
	Successful    int
	Failed        int
	Retried       int
	Dropped       int
	TotalDuration time.Duration
	MaxDuration   time.Duration
	LastError     string
}

// StatsSnapshot is a point-in-time copy of queue statistics
type StatsSnapshot struct {
	TotalJobs      int
	SuccessfulJobs int
	FailedJobs     int
	DroppedJobs    int
	RetryAttempts  int
	PendingJobs    int
	RunningJobs    int
	MaxQueueSize   int
	ActionStats    map[string]ActionStats
}

// GetDefaultRetryConfig returns the retry policy used for persistence flushes
func GetDefaultRetryConfig(enabled bool) RetryConfig {
	if !enabled {
		return RetryConfig{Enabled: false}
	}
	return RetryConfig{
		Enabled:      true,
		MaxRetries:   5,
		InitialDelay: 2 * time.Second,
		MaxDelay:     2 * time.Minute,
		Multiplier:   2.0,
	}
}
