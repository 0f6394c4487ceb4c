// Package retrain decides when the classifier is retrained, runs training against a copy
// of the sample set, and swaps the result in with a single pointer store.
package retrain

import (
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cybershakti/deepfake-go/internal/classifier"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/events"
	"github.com/cybershakti/deepfake-go/internal/jobqueue"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/samplestore"
)

var (
	// ErrInsufficientData is returned when the store holds fewer than Policy.MinSamples
	ErrInsufficientData = classifier.ErrInsufficientData
	// ErrTrainingFailed is returned when training fails; the previous model stays active
	ErrTrainingFailed = classifier.ErrTrainingFailed
	// ErrRetrainInProgress rejects a request while another retrain or rollback runs
	ErrRetrainInProgress = errors.NewStd("retrain already in progress")
	// ErrArchiveUnavailable is returned by Rollback when no archive is configured
	ErrArchiveUnavailable = errors.NewStd("snapshot archive not configured")
)

const autoRetrainAction = "auto-retrain"

// Policy holds the retrain thresholds
type Policy struct {
	MinSamples      int
	RetrainEvery    int // accepted samples since the last training before auto retrain fires
	TrainingTimeout time.Duration
}

// SampleSource is the read side of the sample store
type SampleSource interface {
	Count() int
	LastID() uint64
	SnapshotForTraining() []samplestore.Sample
}

// Archiver keeps snapshots for rollback
type Archiver interface {
	Store(ctx context.Context, snap *classifier.Snapshot) error
	Load(ctx context.Context, version uint64) (*classifier.Snapshot, error)
}

// Scheduler runs auto retrains in the background
type Scheduler interface {
	Enqueue(action jobqueue.Action, config jobqueue.RetryConfig) (*jobqueue.Job, error)
}

// EventPublisher receives model lifecycle events
type EventPublisher interface {
	TryPublish(event events.ModelEvent) bool
}

// Recorder receives retrain metrics
type Recorder interface {
	RecordRetrain(trigger string, duration time.Duration, err error)
	SetRetrainInProgress(running bool)
	SetActiveModel(version uint64, trained bool, samples int)
}

// Options wires a Controller. Policy, Trainer, Holder and Samples are required.
type Options struct {
	Policy       Policy
	Trainer      classifier.Trainer
	Holder       *classifier.Holder
	Samples      SampleSource
	SnapshotPath string // current-snapshot record, empty to skip persistence
	Archive      Archiver
	Scheduler    Scheduler
	Events       EventPublisher
	Metrics      Recorder
	Logger       logger.Logger
}

// Controller serialises retrains and rollbacks. At most one runs at a time; concurrent
// requests fail with ErrRetrainInProgress instead of queueing.
type Controller struct {
	state atomic.Int32

	// autoPending is set while an auto retrain job is queued
	autoPending atomic.Bool
	// missed is set when an auto trigger was refused because the controller was busy
	missed atomic.Bool

	lastVersion atomic.Uint64

	policy       Policy
	trainer      classifier.Trainer
	holder       *classifier.Holder
	samples      SampleSource
	snapshotPath string
	archive      Archiver
	scheduler    Scheduler
	events       EventPublisher
	metrics      Recorder
	log          logger.Logger

	background sync.WaitGroup
	now        func() time.Time
}

// New creates an idle controller. The version counter starts after the highest of the
// active snapshot and any archived version.
func New(opts *Options) *Controller {
	if opts.Policy.MinSamples <= 0 {
		opts.Policy.MinSamples = classifier.DefaultMinSamples
	}
	if opts.Policy.RetrainEvery <= 0 {
		opts.Policy.RetrainEvery = 1
	}

	c := &Controller{
		policy:       opts.Policy,
		trainer:      opts.Trainer,
		holder:       opts.Holder,
		samples:      opts.Samples,
		snapshotPath: opts.SnapshotPath,
		archive:      opts.Archive,
		scheduler:    opts.Scheduler,
		events:       opts.Events,
		metrics:      opts.Metrics,
		log:          opts.Logger,
		now:          time.Now,
	}
	if c.metrics == nil {
		c.metrics = nopRecorder{}
	}
	if c.log == nil {
		c.log = GetLogger()
	}

	active := c.holder.Load()
	last := active.Version
	if lister, ok := c.archive.(interface{ Versions() ([]uint64, error) }); ok {
		if versions, err := lister.Versions(); err == nil && len(versions) > 0 {
			last = max(last, slices.Max(versions))
		}
	}
	c.lastVersion.Store(last)
	c.metrics.SetActiveModel(active.Version, active.Trained(), active.TrainedOnSampleCount)
	return c
}

// State returns the current state
func (c *Controller) State() State {
	return State(c.state.Load())
}

// Policy returns the configured policy
func (c *Controller) Policy() Policy {
	return c.policy
}

func (c *Controller) acquire(next State) bool {
	if !c.state.CompareAndSwap(int32(StateIdle), int32(next)) {
		return false
	}
	c.metrics.SetRetrainInProgress(true)
	return true
}

func (c *Controller) release() {
	c.state.Store(int32(StateIdle))
	c.metrics.SetRetrainInProgress(false)
}

func inProgress() error {
	return errors.New(ErrRetrainInProgress).
		Component("retrain").
		Category(errors.CategoryRetrainConflict).
		Build()
}

// Retrain trains on the current samples and swaps the result in. It blocks until the
// swap is done.
func (c *Controller) Retrain(ctx context.Context, trigger Trigger) (*classifier.Snapshot, error) {
	if !c.acquire(StateTraining) {
		err := inProgress()
		c.metrics.RecordRetrain(string(trigger), 0, err)
		return nil, err
	}

	snap, err := c.retrainLocked(ctx, trigger)
	c.release()

	if err == nil && c.missed.Swap(false) {
		c.MaybeTrigger(context.WithoutCancel(ctx))
	}
	return snap, err
}

func (c *Controller) retrainLocked(ctx context.Context, trigger Trigger) (*classifier.Snapshot, error) {
	start := c.now()
	log := c.log.WithContext(ctx).With(logger.String("trigger", string(trigger)))

	if n := c.samples.Count(); n < c.policy.MinSamples {
		err := classifier.InsufficientData(c.policy.MinSamples, n)
		c.metrics.RecordRetrain(string(trigger), 0, err)
		log.Info("retrain skipped, not enough samples", logger.Int("have", n), logger.Int("minimum", c.policy.MinSamples))
		return nil, err
	}

	// a prune between Count and the copy can shrink the set
	samples := c.samples.SnapshotForTraining()
	if len(samples) < c.policy.MinSamples {
		err := classifier.InsufficientData(c.policy.MinSamples, len(samples))
		c.metrics.RecordRetrain(string(trigger), 0, err)
		return nil, err
	}

	prev := c.holder.Load()
	version := c.lastVersion.Load() + 1

	// callers cannot cancel a retrain, only the training timeout ends it
	detached := context.WithoutCancel(ctx)
	trainCtx := detached
	if c.policy.TrainingTimeout > 0 {
		var cancel context.CancelFunc
		trainCtx, cancel = context.WithTimeout(detached, c.policy.TrainingTimeout)
		defer cancel()
	}

	log.Info("retrain started", logger.Uint64("version", version), logger.Int("samples", len(samples)))
	next, err := c.trainer.Train(trainCtx, samples, version)
	if err != nil {
		if !errors.Is(err, ErrInsufficientData) && !errors.Is(err, ErrTrainingFailed) {
			err = errors.New(fmt.Errorf("%w: %w", ErrTrainingFailed, err)).
				Component("retrain").
				Category(errors.CategoryTraining).
				ModelContext(version, len(samples)).
				Build()
		}
		c.metrics.RecordRetrain(string(trigger), c.now().Sub(start), err)
		c.publish(events.ModelEvent{
			Kind:            events.KindTrainingFailed,
			Version:         version,
			PreviousVersion: prev.Version,
			Trigger:         string(trigger),
			Error:           err.Error(),
		})
		log.Warn("retrain failed, previous model stays active",
			logger.Uint64("active_version", prev.Version),
			logger.Error(err))
		return nil, err
	}

	c.state.Store(int32(StateSwappingIn))
	c.install(detached, prev, next, trigger)

	elapsed := c.now().Sub(start)
	c.metrics.RecordRetrain(string(trigger), elapsed, nil)
	log.Info("retrain complete",
		logger.Uint64("version", next.Version),
		logger.Uint64("previous_version", prev.Version),
		logger.Int("samples", next.TrainedOnSampleCount),
		logger.Duration("duration", elapsed))
	return next, nil
}

// install swaps next in, then persists and archives it. Persistence failures leave the
// swap in place and are only logged.
func (c *Controller) install(ctx context.Context, prev, next *classifier.Snapshot, trigger Trigger) {
	c.holder.Swap(next)
	c.lastVersion.Store(next.Version)
	c.metrics.SetActiveModel(next.Version, next.Trained(), next.TrainedOnSampleCount)

	if c.snapshotPath != "" {
		if err := classifier.SaveSnapshotFile(c.snapshotPath, next); err != nil {
			c.log.Warn("snapshot active but not persisted",
				logger.Uint64("version", next.Version),
				logger.Error(err))
		}
	}
	if c.archive != nil {
		if err := c.archive.Store(ctx, next); err != nil {
			c.log.Warn("snapshot archive failed",
				logger.Uint64("version", next.Version),
				logger.Error(err))
		}
	}

	kind := events.KindModelUpdated
	if next.RestoredFrom != nil {
		kind = events.KindModelRestored
	}
	c.publish(events.ModelEvent{
		Kind:                 kind,
		Version:              next.Version,
		PreviousVersion:      prev.Version,
		TrainedOnSampleCount: next.TrainedOnSampleCount,
		Trigger:              string(trigger),
		RestoredFrom:         next.RestoredFrom,
	})
}

func (c *Controller) publish(event events.ModelEvent) {
	if c.events == nil {
		return
	}
	event.Timestamp = c.now().UTC()
	c.events.TryPublish(event)
}

// Due reports whether the auto retrain policy is met
func (c *Controller) Due() bool {
	if c.samples.Count() < c.policy.MinSamples {
		return false
	}
	trainedThrough := c.holder.Load().TrainedThroughID
	lastID := c.samples.LastID()
	return lastID > trainedThrough && lastID-trainedThrough >= uint64(c.policy.RetrainEvery)
}

// MaybeTrigger schedules a background retrain when the policy is met and the controller is
// idle. It never waits for training and reports whether a retrain was scheduled.
func (c *Controller) MaybeTrigger(ctx context.Context) bool {
	if c.State() != StateIdle {
		c.missed.Store(true)
		return false
	}
	if !c.Due() {
		return false
	}
	if !c.autoPending.CompareAndSwap(false, true) {
		// an auto retrain is already queued and will see these samples
		return true
	}

	action := jobqueue.ActionFunc{Name: autoRetrainAction, Fn: c.runAuto}
	if c.scheduler == nil {
		c.background.Go(func() { _ = c.runAuto(context.WithoutCancel(ctx)) })
		return true
	}
	if _, err := c.scheduler.Enqueue(action, jobqueue.RetryConfig{Enabled: false}); err != nil {
		c.autoPending.Store(false)
		c.log.Warn("auto retrain not scheduled", logger.Error(err))
		return false
	}
	return true
}

// runAuto is the job body. Losing the race to another retrain is not a job failure.
func (c *Controller) runAuto(ctx context.Context) error {
	c.autoPending.Store(false)
	if !c.Due() {
		return nil
	}
	_, err := c.Retrain(ctx, TriggerAuto)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrRetrainInProgress):
		c.missed.Store(true)
		return nil
	case errors.Is(err, ErrInsufficientData):
		return nil
	default:
		return err
	}
}

// Rollback re-installs the parameters of an archived version under a new version number
func (c *Controller) Rollback(ctx context.Context, version uint64) (*classifier.Snapshot, error) {
	if c.archive == nil {
		return nil, errors.New(ErrArchiveUnavailable).
			Component("retrain").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if !c.acquire(StateSwappingIn) {
		err := inProgress()
		c.metrics.RecordRetrain(string(TriggerRollback), 0, err)
		return nil, err
	}

	next, err := c.rollbackLocked(ctx, version)
	c.release()

	// feedback that arrived while the state was held
	if c.missed.Swap(false) {
		c.MaybeTrigger(context.WithoutCancel(ctx))
	}
	return next, err
}

func (c *Controller) rollbackLocked(ctx context.Context, version uint64) (*classifier.Snapshot, error) {
	start := c.now()
	archived, err := c.archive.Load(ctx, version)
	if err != nil {
		c.metrics.RecordRetrain(string(TriggerRollback), 0, err)
		return nil, err
	}

	prev := c.holder.Load()
	restoredFrom := version
	next := &classifier.Snapshot{
		Version:              c.lastVersion.Load() + 1,
		Params:               archived.Params,
		TrainedOnSampleCount: archived.TrainedOnSampleCount,
		// samples present now do not count toward the next auto retrain
		TrainedThroughID: c.samples.LastID(),
		TrainedAt:        archived.TrainedAt,
		RestoredFrom:     &restoredFrom,
	}
	c.install(context.WithoutCancel(ctx), prev, next, TriggerRollback)
	c.metrics.RecordRetrain(string(TriggerRollback), c.now().Sub(start), nil)

	c.log.Info("model rolled back",
		logger.Uint64("restored_from", version),
		logger.Uint64("version", next.Version),
		logger.Uint64("previous_version", prev.Version))
	return next, nil
}

// Wait blocks until background retrains started without a scheduler have finished
func (c *Controller) Wait() {
	c.background.Wait()
}

type nopRecorder struct{}

func (nopRecorder) RecordRetrain(string, time.Duration, error) {}
func (nopRecorder) SetRetrainInProgress(bool)                  {}
func (nopRecorder) SetActiveModel(uint64, bool, int)           {}
