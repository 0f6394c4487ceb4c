package samplestore

import (
	"context"
	"fmt"
	"math"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

// Store is the in-memory sample set backed by a Repository.
//
// mu guards the slice and is held only to append or copy. persistMu serialises repository
// writes so that a slow fsync never blocks readers. It is held for one write at a time,
// never across a retry backoff.
type Store struct {
	mu      sync.RWMutex
	samples []Sample
	nextID  uint64

	persistMu sync.Mutex
	pending   []Sample
	degraded  atomic.Int64
	flushing  atomic.Bool

	repo      Repository
	retryBase time.Duration
	retryMax  uint64
	log       logger.Logger
	now       func() time.Time
}

// Option configures a Store
type Option func(*Store)

// WithRetry sets the Fibonacci backoff used by Persist
func WithRetry(base time.Duration, maxRetries uint64) Option {
	return func(s *Store) {
		s.retryBase = base
		s.retryMax = maxRetries
	}
}

// WithLogger overrides the package logger
func WithLogger(l logger.Logger) Option {
	return func(s *Store) { s.log = l }
}

// WithClock overrides time.Now, used by tests
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// New creates an empty store. Call Load to restore persisted samples.
func New(repo Repository, opts ...Option) *Store {
	s := &Store{
		nextID:    1,
		repo:      repo,
		retryBase: 500 * time.Millisecond,
		retryMax:  5,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.log == nil {
		s.log = GetLogger()
	}
	return s
}

// Add assigns the next ID and appends the sample. If the repository write fails the sample
// stays in memory as pending and the ID is returned together with ErrPersistenceDegraded.
func (s *Store) Add(ctx context.Context, sample Sample) (uint64, error) {
	if len(sample.Features) == 0 {
		return 0, errors.New(fmt.Errorf("%w: no features", ErrInvalidSample)).
			Component("samplestore").
			Category(errors.CategoryValidation).
			Build()
	}
	for _, f := range sample.Features {
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return 0, errors.New(fmt.Errorf("%w: non-finite feature", ErrInvalidSample)).
				Component("samplestore").
				Category(errors.CategoryValidation).
				Build()
		}
	}

	stored := sample.Clone()

	s.mu.Lock()
	stored.ID = s.nextID
	s.nextID++
	if stored.InsertedAt.IsZero() {
		stored.InsertedAt = s.now().UTC()
	}
	s.samples = append(s.samples, stored)
	s.mu.Unlock()

	if s.repo == nil {
		return stored.ID, nil
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	if err := s.repo.Append(ctx, stored); err != nil {
		s.pending = append(s.pending, stored)
		s.degraded.Store(int64(len(s.pending)))
		s.log.Warn("sample kept in memory, persistence failed",
			logger.Uint64("sample_id", stored.ID),
			logger.Int("pending", len(s.pending)),
			logger.Error(err))
		return stored.ID, errors.New(fmt.Errorf("%w: %w", ErrPersistenceDegraded, err)).
			Component("samplestore").
			Category(errors.CategoryPersistenceDegraded).
			Context("sample_id", stored.ID).
			Build()
	}
	return stored.ID, nil
}

// SnapshotForTraining returns a deep copy of all samples in insertion order
func (s *Store) SnapshotForTraining() []Sample {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]Sample, len(s.samples))
	for i := range s.samples {
		out[i] = s.samples[i].Clone()
	}
	return out
}

// Count returns the number of samples
func (s *Store) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.samples)
}

// LastID returns the highest ID assigned so far, 0 for a fresh store
func (s *Store) LastID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nextID - 1
}

// Degraded returns the number of samples not yet durable
func (s *Store) Degraded() int {
	return int(s.degraded.Load())
}

// Persist flushes pending samples, retrying with Fibonacci backoff. Adds are not blocked
// while a flush waits between attempts. A second Persist during a flush returns at once.
func (s *Store) Persist(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	if !s.flushing.CompareAndSwap(false, true) {
		return nil
	}
	defer s.flushing.Store(false)

	s.persistMu.Lock()
	batch := slices.Clone(s.pending)
	s.persistMu.Unlock()
	if len(batch) == 0 {
		return nil
	}

	backoff := retry.WithMaxRetries(s.retryMax, retry.NewFibonacci(s.retryBase))
	err := retry.Do(ctx, backoff, func(ctx context.Context) error {
		for len(batch) > 0 {
			if err := s.flushOne(ctx, batch[0]); err != nil {
				return retry.RetryableError(err)
			}
			batch = batch[1:]
		}
		return nil
	})
	if err != nil {
		return errors.New(err).
			Component("samplestore").
			Category(errors.CategoryPersistenceDegraded).
			Context("pending", s.Degraded()).
			Build()
	}

	s.log.Info("pending samples persisted")
	return nil
}

// flushOne writes one pending sample unless a prune or close already dropped it
func (s *Store) flushOne(ctx context.Context, smp Sample) error {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	idx := slices.IndexFunc(s.pending, func(p Sample) bool { return p.ID == smp.ID })
	if idx < 0 {
		return nil
	}
	if err := s.repo.Append(ctx, smp); err != nil {
		return err
	}
	s.pending = slices.Delete(s.pending, idx, idx+1)
	s.degraded.Store(int64(len(s.pending)))
	return nil
}

// Load replaces the in-memory set with the repository contents, ordered by ID.
// Duplicate IDs keep the first occurrence.
func (s *Store) Load(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}

	loaded, lastID, err := s.repo.LoadAll(ctx)
	if err != nil {
		return errors.New(err).
			Component("samplestore").
			Category(errors.CategoryDatabase).
			Context("operation", "load_samples").
			Build()
	}

	slices.SortStableFunc(loaded, func(a, b Sample) int {
		switch {
		case a.ID < b.ID:
			return -1
		case a.ID > b.ID:
			return 1
		}
		return 0
	})
	loaded = slices.CompactFunc(loaded, func(a, b Sample) bool { return a.ID == b.ID })

	s.mu.Lock()
	defer s.mu.Unlock()

	if n := len(loaded); n > 0 {
		lastID = max(lastID, loaded[n-1].ID)
	}
	s.samples = loaded
	s.nextID = lastID + 1
	s.log.Info("samples loaded", logger.Int("count", len(loaded)), logger.Uint64("last_id", lastID))
	return nil
}

// ReserveThrough makes sure IDs up to id are never assigned. Used at startup with the
// active model's TrainedThroughID, which may exceed what the repository remembers.
func (s *Store) ReserveThrough(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if id >= s.nextID {
		s.nextID = id + 1
	}
}

// Prune removes samples per opts and rewrites the repository. It is the only operation
// that shrinks the store. Returns the number of removed samples.
func (s *Store) Prune(ctx context.Context, opts PruneOptions) (int, error) {
	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	s.mu.RLock()
	current := slices.Clone(s.samples)
	lastID := s.nextID - 1
	s.mu.RUnlock()

	cutoff := time.Time{}
	if opts.OlderThan > 0 {
		cutoff = s.now().Add(-opts.OlderThan)
	}

	kept := make([]Sample, 0, len(current))
	for _, smp := range current {
		if !cutoff.IsZero() && smp.InsertedAt.Before(cutoff) {
			continue
		}
		kept = append(kept, smp)
	}
	if opts.KeepNewest > 0 && len(kept) > opts.KeepNewest {
		kept = kept[len(kept)-opts.KeepNewest:]
	}

	removed := len(current) - len(kept)
	if removed == 0 {
		return 0, nil
	}

	if s.repo != nil {
		if err := s.repo.Rewrite(ctx, kept, lastID); err != nil {
			return 0, errors.New(err).
				Component("samplestore").
				Category(errors.CategoryDatabase).
				Context("operation", "prune_samples").
				Build()
		}
		s.pending = nil
		s.degraded.Store(0)
	}

	keptIDs := make(map[uint64]struct{}, len(kept))
	for _, smp := range kept {
		keptIDs[smp.ID] = struct{}{}
	}

	// Samples added during the rewrite are not in current. Their repository append waits on
	// persistMu and lands after the rewrite, so they stay.
	s.mu.Lock()
	s.samples = slices.DeleteFunc(s.samples, func(smp Sample) bool {
		if smp.ID > current[len(current)-1].ID {
			return false
		}
		_, ok := keptIDs[smp.ID]
		return !ok
	})
	s.mu.Unlock()

	s.log.Info("samples pruned", logger.Int("removed", removed), logger.Int("kept", len(kept)))
	return removed, nil
}

// Close flushes pending samples with a single attempt and closes the repository
func (s *Store) Close(ctx context.Context) error {
	if s.repo == nil {
		return nil
	}
	s.persistMu.Lock()
	var errs []error
	for _, smp := range s.pending {
		if err := s.repo.Append(ctx, smp); err != nil {
			errs = append(errs, err)
		}
	}
	s.pending = nil
	s.persistMu.Unlock()

	errs = append(errs, s.repo.Close())
	return errors.Join(errs...)
}
