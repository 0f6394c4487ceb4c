package jobqueue

import (
	"context"
	"fmt"
	"maps"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

// Options configures a Queue
type Options struct {
	MaxJobs            int           // pending jobs allowed before the oldest pending is dropped
	Workers            int           // concurrent executions
	JobTimeout         time.Duration // per-attempt limit, 0 = none
	ProcessingInterval time.Duration // retry scan interval
	Logger             logger.Logger
}

// DefaultOptions returns options suitable for the detection service
func DefaultOptions() Options {
	return Options{
		MaxJobs:            100,
		Workers:            2,
		ProcessingInterval: time.Second,
	}
}

// Queue manages jobs with retry. New jobs are dispatched immediately; retries are
// picked up by a periodic scan.
type Queue struct {
	opts    Options
	log     logger.Logger
	mu      sync.Mutex
	jobs    []*Job
	stats   StatsSnapshot
	running bool
	wake    chan struct{}
	sem     chan struct{}
	cancel  context.CancelFunc
	loop    sync.WaitGroup
	active  sync.WaitGroup
}

// New creates a stopped queue
func New(opts Options) *Queue {
	defaults := DefaultOptions()
	if opts.MaxJobs <= 0 {
		opts.MaxJobs = defaults.MaxJobs
	}
	if opts.Workers <= 0 {
		opts.Workers = defaults.Workers
	}
	if opts.ProcessingInterval <= 0 {
		opts.ProcessingInterval = defaults.ProcessingInterval
	}
	log := opts.Logger
	if log == nil {
		log = GetLogger()
	}

	return &Queue{
		opts: opts,
		log:  log,
		wake: make(chan struct{}, 1),
		sem:  make(chan struct{}, opts.Workers),
		stats: StatsSnapshot{
			MaxQueueSize: opts.MaxJobs,
			ActionStats:  make(map[string]ActionStats),
		},
	}
}

// Start begins processing. Calling Start on a running queue is a no-op.
func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.running {
		return
	}
	q.running = true

	processCtx, cancel := context.WithCancel(ctx)
	q.cancel = cancel
	q.loop.Go(func() { q.processJobs(processCtx) })
}

// Stop cancels in-flight jobs and waits up to timeout for them to return
func (q *Queue) Stop(timeout time.Duration) error {
	q.mu.Lock()
	if !q.running {
		q.mu.Unlock()
		return nil
	}
	q.running = false
	q.cancel()
	q.mu.Unlock()

	done := make(chan struct{})
	go func() {
		q.loop.Wait()
		q.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return errors.Newf("timed out waiting for jobs to complete after %v", timeout).
			Category(errors.CategoryJobQueue).
			Build()
	}
}

// Enqueue adds an action. When the queue is full the oldest pending job is dropped to make room.
func (q *Queue) Enqueue(action Action, config RetryConfig) (*Job, error) {
	if action == nil {
		return nil, ErrNilAction
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if !q.running {
		return nil, ErrQueueStopped
	}

	name := action.Description()
	if q.pendingLocked() >= q.opts.MaxJobs && !q.dropOldestPendingLocked() {
		q.stats.DroppedJobs++
		q.bumpLocked(name, func(s *ActionStats) { s.Dropped++ })
		return nil, fmt.Errorf("%w: maximum queue size (%d) reached", ErrQueueFull, q.opts.MaxJobs)
	}

	maxAttempts := 1
	if config.Enabled {
		maxAttempts = config.MaxRetries + 1
	}
	now := time.Now()
	job := &Job{
		ID:          uuid.NewString(),
		Action:      action,
		MaxAttempts: maxAttempts,
		CreatedAt:   now,
		NextRetryAt: now,
		Status:      JobStatusPending,
		Config:      config,
	}
	q.jobs = append(q.jobs, job)
	q.stats.TotalJobs++

	q.log.Debug("job enqueued", logger.String("job_id", job.ID), logger.String("action", name))

	select {
	case q.wake <- struct{}{}:
	default:
	}
	return job, nil
}

func (q *Queue) pendingLocked() int {
	n := 0
	for _, job := range q.jobs {
		if job.Status == JobStatusPending || job.Status == JobStatusRetrying {
			n++
		}
	}
	return n
}

// dropOldestPendingLocked removes the oldest job that has not started. Caller holds q.mu.
func (q *Queue) dropOldestPendingLocked() bool {
	for i, job := range q.jobs {
		if job.Status != JobStatusPending {
			continue
		}
		q.jobs = append(q.jobs[:i], q.jobs[i+1:]...)
		q.stats.DroppedJobs++
		q.bumpLocked(job.Action.Description(), func(s *ActionStats) { s.Dropped++ })
		q.log.Warn("dropped oldest pending job to make room", logger.String("job_id", job.ID))
		return true
	}
	return false
}

func (q *Queue) bumpLocked(name string, fn func(*ActionStats)) {
	s := q.stats.ActionStats[name]
	fn(&s)
	q.stats.ActionStats[name] = s
}

func (q *Queue) processJobs(ctx context.Context) {
	ticker := time.NewTicker(q.opts.ProcessingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-q.wake:
		case <-ticker.C:
		}
		q.cleanupFinishedJobs()
		q.dispatchDueJobs(ctx)
	}
}

func (q *Queue) cleanupFinishedJobs() {
	q.mu.Lock()
	defer q.mu.Unlock()

	active := q.jobs[:0]
	for _, job := range q.jobs {
		if job.Status != JobStatusCompleted && job.Status != JobStatusFailed {
			active = append(active, job)
		}
	}
	clear(q.jobs[len(active):])
	q.jobs = active
}

func (q *Queue) dispatchDueJobs(ctx context.Context) {
	for {
		select {
		case q.sem <- struct{}{}:
		case <-ctx.Done():
			return
		}

		job := q.claimDueJob()
		if job == nil {
			<-q.sem
			return
		}

		q.active.Go(func() {
			defer func() { <-q.sem }()
			q.executeJob(ctx, job)
		})
	}
}

func (q *Queue) claimDueJob() *Job {
	q.mu.Lock()
	defer q.mu.Unlock()

	now := time.Now()
	for _, job := range q.jobs {
		if (job.Status == JobStatusPending || job.Status == JobStatusRetrying) && !job.NextRetryAt.After(now) {
			job.Status = JobStatusRunning
			q.stats.RunningJobs++
			return job
		}
	}
	return nil
}

// calculateBackoffDelay returns the exponential delay with ±10% jitter, capped at MaxDelay
func calculateBackoffDelay(config RetryConfig, attemptNum int) time.Duration {
	backoff := float64(config.InitialDelay) * math.Pow(config.Multiplier, float64(attemptNum-1))
	backoff *= 0.9 + 0.2*rand.Float64() //nolint:gosec // jitter only

	if config.MaxDelay > 0 && backoff > float64(config.MaxDelay) {
		backoff = float64(config.MaxDelay)
	}
	return time.Duration(backoff)
}

func (q *Queue) executeJob(ctx context.Context, job *Job) {
	name := job.Action.Description()

	q.mu.Lock()
	job.Attempts++
	attempt := job.Attempts
	q.bumpLocked(name, func(s *ActionStats) { s.Attempted++ })
	if attempt > 1 {
		q.stats.RetryAttempts++
		q.bumpLocked(name, func(s *ActionStats) { s.Retried++ })
	}
	q.mu.Unlock()

	execCtx := ctx
	if q.opts.JobTimeout > 0 {
		var cancel context.CancelFunc
		execCtx, cancel = context.WithTimeout(ctx, q.opts.JobTimeout)
		defer cancel()
	}

	start := time.Now()
	err := runAction(execCtx, job.Action)
	elapsed := time.Since(start)

	q.mu.Lock()
	defer q.mu.Unlock()

	q.stats.RunningJobs--
	q.bumpLocked(name, func(s *ActionStats) {
		s.TotalDuration += elapsed
		s.MaxDuration = max(s.MaxDuration, elapsed)
	})

	if err == nil {
		job.Status = JobStatusCompleted
		q.stats.SuccessfulJobs++
		q.bumpLocked(name, func(s *ActionStats) { s.Successful++ })
		if attempt > 1 {
			q.log.Info("job succeeded after retry",
				logger.String("job_id", job.ID),
				logger.String("action", name),
				logger.Int("attempts", attempt))
		}
		return
	}

	job.LastError = err
	q.bumpLocked(name, func(s *ActionStats) { s.LastError = err.Error() })

	if attempt >= job.MaxAttempts || ctx.Err() != nil {
		job.Status = JobStatusFailed
		q.stats.FailedJobs++
		q.bumpLocked(name, func(s *ActionStats) { s.Failed++ })
		q.log.Warn("job failed permanently",
			logger.String("job_id", job.ID),
			logger.String("action", name),
			logger.Int("attempts", attempt),
			logger.Error(err))
		return
	}

	delay := calculateBackoffDelay(job.Config, attempt)
	job.Status = JobStatusRetrying
	job.NextRetryAt = time.Now().Add(delay)
	q.log.Info("job failed, will retry",
		logger.String("job_id", job.ID),
		logger.String("action", name),
		logger.Duration("delay", delay),
		logger.Int("attempt", attempt),
		logger.Int("max_attempts", job.MaxAttempts),
		logger.Error(err))
}

// runAction executes the action and converts a panic into an error
func runAction(ctx context.Context, action Action) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Newf("job execution panicked: %v", r).
				Category(errors.CategoryJobQueue).
				Context("action", action.Description()).
				Build()
		}
	}()
	return action.Execute(ctx)
}

// Stats returns a snapshot of the current statistics
func (q *Queue) Stats() StatsSnapshot {
	q.mu.Lock()
	defer q.mu.Unlock()

	snap := q.stats
	snap.PendingJobs = q.pendingLocked()
	snap.ActionStats = maps.Clone(q.stats.ActionStats)
	return snap
}

// Running reports whether the queue accepts jobs
func (q *Queue) Running() bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.running
}
