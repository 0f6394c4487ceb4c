// Package detector is the entry point for detection and feedback. An Engine owns the
// extractor, the sample store, the active classifier snapshot and the retrain controller.
package detector

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/cybershakti/deepfake-go/internal/classifier"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/features"
	"github.com/cybershakti/deepfake-go/internal/jobqueue"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/retrain"
	"github.com/cybershakti/deepfake-go/internal/samplestore"
)

// ErrMissingLabel rejects feedback whose label could not be determined
var ErrMissingLabel = errors.NewStd("missing or invalid label")

const persistAction = "persist-samples"

// Result is the outcome of one detection
type Result struct {
	Label        bool                  `json:"is_deepfake"`
	Confidence   float64               `json:"confidence"`
	ModelVersion uint64                `json:"model_version"`
	Diagnostics  *features.Diagnostics `json:"diagnostics,omitempty"`
}

// Feedback is a labeled upload
type Feedback struct {
	Data        []byte
	Label       bool   // true = deepfake
	Source      string // defaults to the content hash
	AutoRetrain bool
}

// FeedbackResult reports what happened to a feedback submission
type FeedbackResult struct {
	Accepted         bool   `json:"accepted"`
	SampleID         uint64 `json:"sample_id"`
	RetrainTriggered bool   `json:"retrain_triggered"`
	Warning          string `json:"warning,omitempty"`
}

// RetrainResult describes a model installed by ManualRetrain or Rollback
type RetrainResult struct {
	Version              uint64        `json:"version"`
	PreviousVersion      uint64        `json:"previous_version"`
	TrainedOnSampleCount int           `json:"trained_on_sample_count"`
	RestoredFrom         *uint64       `json:"restored_from,omitempty"`
	Duration             time.Duration `json:"duration"`
}

// Stats is a read-only view of engine state
type Stats struct {
	SampleCount          int       `json:"training_samples"`
	ModelLoaded          bool      `json:"model_loaded"`
	ActiveVersion        uint64    `json:"active_version"`
	TrainedOnSampleCount int       `json:"trained_on_sample_count"`
	TrainedAt            time.Time `json:"trained_at"`
	RetrainState         string    `json:"retrain_state"`
	PendingPersistence   int       `json:"pending_persistence"`
	LastUpdated          time.Time `json:"last_updated"`
}

// Recorder receives detection and feedback metrics
type Recorder interface {
	RecordDetection(deepfake bool, duration time.Duration, err error)
	RecordFeedback(deepfake, degraded bool, err error)
	SetSampleState(count, pending int)
}

// Scheduler runs background persistence flushes
type Scheduler interface {
	Enqueue(action jobqueue.Action, config jobqueue.RetryConfig) (*jobqueue.Job, error)
}

// Options wires an Engine. Extractor, Store, Holder and Controller are required.
type Options struct {
	Extractor  features.Extractor
	Store      *samplestore.Store
	Holder     *classifier.Holder
	Controller *retrain.Controller
	Scheduler  Scheduler
	Metrics    Recorder
	Logger     logger.Logger

	// closers run in order on Close, after the store is closed
	closers []func(ctx context.Context) error
}

// Engine serves detection and feedback concurrently with background retraining
type Engine struct {
	extractor  features.Extractor
	store      *samplestore.Store
	holder     *classifier.Holder
	controller *retrain.Controller
	scheduler  Scheduler
	metrics    Recorder
	log        logger.Logger
	closers    []func(ctx context.Context) error

	persistPending atomic.Bool
	lastUpdated    atomic.Int64 // unix nanos
	closed         atomic.Bool

	now func() time.Time
}

// New creates an engine from already constructed components
func New(opts *Options) *Engine {
	e := &Engine{
		extractor:  opts.Extractor,
		store:      opts.Store,
		holder:     opts.Holder,
		controller: opts.Controller,
		scheduler:  opts.Scheduler,
		metrics:    opts.Metrics,
		log:        opts.Logger,
		closers:    opts.closers,
		now:        time.Now,
	}
	if e.metrics == nil {
		e.metrics = nopRecorder{}
	}
	if e.log == nil {
		e.log = GetLogger()
	}
	e.touch()
	e.metrics.SetSampleState(e.store.Count(), e.store.Degraded())
	return e
}

func (e *Engine) touch() {
	e.lastUpdated.Store(e.now().UnixNano())
}

// Detect classifies media with the snapshot active when the call started. A retrain that
// completes mid-call does not affect the result.
func (e *Engine) Detect(ctx context.Context, data []byte) (*Result, error) {
	start := e.now()
	snap := e.holder.Load()

	vec, diag, err := e.extractor.Extract(ctx, data)
	if err != nil {
		e.metrics.RecordDetection(false, e.now().Sub(start), err)
		return nil, err
	}

	label, confidence := snap.Predict(vec)
	e.metrics.RecordDetection(label, e.now().Sub(start), nil)

	e.log.Debug("detection complete",
		logger.Bool("deepfake", label),
		logger.Float64("confidence", confidence),
		logger.Uint64("model_version", snap.Version))

	return &Result{
		Label:        label,
		Confidence:   confidence,
		ModelVersion: snap.Version,
		Diagnostics:  diag,
	}, nil
}

// SubmitFeedback stores a labeled sample and, when requested, lets the retrain policy decide
// whether to schedule a background retrain. A sample that could not be persisted is still
// accepted; the result carries a warning and a flush is scheduled.
func (e *Engine) SubmitFeedback(ctx context.Context, fb Feedback) (*FeedbackResult, error) {
	vec, _, err := e.extractor.Extract(ctx, fb.Data)
	if err != nil {
		e.metrics.RecordFeedback(fb.Label, false, err)
		return nil, err
	}

	source := fb.Source
	if source == "" {
		source = features.ContentHash(fb.Data)
	}

	res := &FeedbackResult{}
	id, err := e.store.Add(ctx, samplestore.Sample{
		Features: vec,
		Label:    fb.Label,
		Source:   source,
	})
	switch {
	case err == nil:
	case errors.Is(err, samplestore.ErrPersistenceDegraded):
		res.Warning = err.Error()
		e.schedulePersist()
	default:
		e.metrics.RecordFeedback(fb.Label, false, err)
		return nil, err
	}

	res.Accepted = true
	res.SampleID = id
	e.touch()
	e.metrics.RecordFeedback(fb.Label, res.Warning != "", nil)
	e.metrics.SetSampleState(e.store.Count(), e.store.Degraded())

	if fb.AutoRetrain {
		res.RetrainTriggered = e.controller.MaybeTrigger(ctx)
	}

	e.log.Info("feedback accepted",
		logger.Uint64("sample_id", id),
		logger.Bool("deepfake", fb.Label),
		logger.Bool("retrain_triggered", res.RetrainTriggered))
	return res, nil
}

// schedulePersist queues one flush of pending samples. The store retries internally; the
// job retries the whole flush on top of that.
func (e *Engine) schedulePersist() {
	if e.scheduler == nil || !e.persistPending.CompareAndSwap(false, true) {
		return
	}
	action := jobqueue.ActionFunc{
		Name: persistAction,
		Fn: func(ctx context.Context) error {
			// samples degraded from here on schedule their own flush
			e.persistPending.Store(false)
			err := e.store.Persist(ctx)
			e.metrics.SetSampleState(e.store.Count(), e.store.Degraded())
			return err
		},
	}
	cfg := jobqueue.RetryConfig{
		Enabled:      true,
		MaxRetries:   5,
		InitialDelay: 5 * time.Second,
		MaxDelay:     time.Minute,
		Multiplier:   2,
	}
	if _, err := e.scheduler.Enqueue(action, cfg); err != nil {
		e.persistPending.Store(false)
		e.log.Warn("persistence flush not scheduled", logger.Error(err))
	}
}

// Stats returns current counts and the active model
func (e *Engine) Stats() Stats {
	snap := e.holder.Load()
	return Stats{
		SampleCount:          e.store.Count(),
		ModelLoaded:          snap.Trained(),
		ActiveVersion:        snap.Version,
		TrainedOnSampleCount: snap.TrainedOnSampleCount,
		TrainedAt:            snap.TrainedAt,
		RetrainState:         e.controller.State().String(),
		PendingPersistence:   e.store.Degraded(),
		LastUpdated:          time.Unix(0, e.lastUpdated.Load()).UTC(),
	}
}

// ManualRetrain trains synchronously on every stored sample
func (e *Engine) ManualRetrain(ctx context.Context) (*RetrainResult, error) {
	start := e.now()
	prev := e.holder.Load()
	snap, err := e.controller.Retrain(ctx, retrain.TriggerManual)
	if err != nil {
		return nil, err
	}
	e.touch()
	return resultOf(prev, snap, e.now().Sub(start)), nil
}

// Rollback re-installs an archived snapshot under a new version
func (e *Engine) Rollback(ctx context.Context, version uint64) (*RetrainResult, error) {
	start := e.now()
	prev := e.holder.Load()
	snap, err := e.controller.Rollback(ctx, version)
	if err != nil {
		return nil, err
	}
	e.touch()
	return resultOf(prev, snap, e.now().Sub(start)), nil
}

func resultOf(prev, next *classifier.Snapshot, elapsed time.Duration) *RetrainResult {
	return &RetrainResult{
		Version:              next.Version,
		PreviousVersion:      prev.Version,
		TrainedOnSampleCount: next.TrainedOnSampleCount,
		RestoredFrom:         next.RestoredFrom,
		Duration:             elapsed,
	}
}

// Prune removes samples. The active model is unaffected until the next retrain.
func (e *Engine) Prune(ctx context.Context, opts samplestore.PruneOptions) (int, error) {
	removed, err := e.store.Prune(ctx, opts)
	if err != nil {
		return 0, err
	}
	if removed > 0 {
		e.touch()
	}
	e.metrics.SetSampleState(e.store.Count(), e.store.Degraded())
	return removed, nil
}

// Close stops background jobs, flushes pending samples and releases the repositories.
// Close is idempotent.
func (e *Engine) Close(ctx context.Context) error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	var errs []error
	if stopper, ok := e.scheduler.(interface{ Stop(time.Duration) error }); ok {
		if err := stopper.Stop(stopTimeout(ctx)); err != nil {
			errs = append(errs, fmt.Errorf("stop job queue: %w", err))
		}
	}
	e.controller.Wait()
	if err := e.store.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sample store: %w", err))
	}
	for _, closeFn := range e.closers {
		if err := closeFn(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func stopTimeout(ctx context.Context) time.Duration {
	const fallback = 10 * time.Second
	if deadline, ok := ctx.Deadline(); ok {
		if d := time.Until(deadline); d > 0 {
			return d
		}
		return 0
	}
	return fallback
}

// IsInputError reports whether err was caused by the caller's input rather than the service
func IsInputError(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, features.ErrUnsupportedMedia) ||
		errors.Is(err, features.ErrCorruptMedia) ||
		errors.Is(err, ErrMissingLabel) ||
		errors.IsCategory(err, errors.CategoryMediaInput)
}

// MissingLabel wraps ErrMissingLabel with the offending value
func MissingLabel(value string) error {
	return errors.New(fmt.Errorf("%w: %q", ErrMissingLabel, value)).
		Component("detector").
		Category(errors.CategoryMediaInput).
		Build()
}

type nopRecorder struct{}

func (nopRecorder) RecordDetection(bool, time.Duration, error) {}
func (nopRecorder) RecordFeedback(bool, bool, error)           {}
func (nopRecorder) SetSampleState(int, int)                    {}
