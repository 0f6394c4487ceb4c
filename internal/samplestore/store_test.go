package samplestore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

// flakyRepository fails Append until failures reaches zero
type flakyRepository struct {
	mu       sync.Mutex
	failures int
	stored   []Sample
	lastID   uint64
	closed   bool
}

func (f *flakyRepository) Append(_ context.Context, s Sample) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failures != 0 {
		if f.failures > 0 {
			f.failures--
		}
		return fmt.Errorf("disk full")
	}
	f.stored = append(f.stored, s.Clone())
	return nil
}

func (f *flakyRepository) LoadAll(context.Context) ([]Sample, uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Sample, len(f.stored))
	copy(out, f.stored)
	return out, f.lastID, nil
}

func (f *flakyRepository) Rewrite(_ context.Context, samples []Sample, lastID uint64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stored = append([]Sample(nil), samples...)
	f.lastID = lastID
	return nil
}

func (f *flakyRepository) Close() error {
	f.closed = true
	return nil
}

func (f *flakyRepository) setFailures(n int) {
	f.mu.Lock()
	f.failures = n
	f.mu.Unlock()
}

func newFileStore(t *testing.T) (*Store, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "data", "samples.jsonl")
	repo, err := NewFileRepository(path)
	require.NoError(t, err)
	return New(repo), path
}

func TestAddAssignsSequentialIDs(t *testing.T) {
	t.Parallel()
	store, _ := newFileStore(t)
	ctx := context.Background()

	for i := 1; i <= 3; i++ {
		id, err := store.Add(ctx, Sample{Features: []float64{float64(i)}, Label: i%2 == 0})
		require.NoError(t, err)
		assert.Equal(t, uint64(i), id)
	}
	assert.Equal(t, 3, store.Count())
	assert.Equal(t, uint64(3), store.LastID())
	require.NoError(t, store.Close(ctx))
}

func TestAddRejectsInvalidFeatures(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	_, err := store.Add(ctx, Sample{})
	require.ErrorIs(t, err, ErrInvalidSample)

	_, err = store.Add(ctx, Sample{Features: []float64{1, nanValue()}})
	require.ErrorIs(t, err, ErrInvalidSample)
	assert.Equal(t, 0, store.Count())
}

func nanValue() float64 {
	zero := 0.0
	return zero / zero
}

func TestReloadPreservesOrderAndNextID(t *testing.T) {
	t.Parallel()
	store, path := newFileStore(t)
	ctx := context.Background()

	for i := range 5 {
		_, err := store.Add(ctx, Sample{Features: []float64{float64(i), 0.5}, Source: "upload"})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close(ctx))

	repo, err := NewFileRepository(path)
	require.NoError(t, err)
	reopened := New(repo)
	require.NoError(t, reopened.Load(ctx))
	defer reopened.Close(ctx)

	snap := reopened.SnapshotForTraining()
	require.Len(t, snap, 5)
	for i, s := range snap {
		assert.Equal(t, uint64(i+1), s.ID)
		assert.Equal(t, []float64{float64(i), 0.5}, s.Features)
		assert.Equal(t, "upload", s.Source)
	}

	id, err := reopened.Add(ctx, Sample{Features: []float64{9}})
	require.NoError(t, err)
	assert.Equal(t, uint64(6), id)
}

func TestTornFinalLineIsSkippedAndTruncated(t *testing.T) {
	t.Parallel()
	store, path := newFileStore(t)
	ctx := context.Background()

	for range 2 {
		_, err := store.Add(ctx, Sample{Features: []float64{1}})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close(ctx))

	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":3,"features":[1,`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	repo, err := NewFileRepository(path)
	require.NoError(t, err)
	reopened := New(repo)
	require.NoError(t, reopened.Load(ctx))
	assert.Equal(t, 2, reopened.Count())

	// the next append must produce a clean line
	_, err = reopened.Add(ctx, Sample{Features: []float64{2}})
	require.NoError(t, err)
	require.NoError(t, reopened.Close(ctx))

	repo, err = NewFileRepository(path)
	require.NoError(t, err)
	loaded, _, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.NoError(t, repo.Close())
	require.Len(t, loaded, 3)
	assert.Equal(t, uint64(3), loaded[2].ID)
}

func TestTornRecordInMiddleOfLog(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	repo, err := NewFileRepository(path)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, Sample{ID: 1, Features: []float64{1}}))

	// a short write of sample 2 left a fragment without a newline
	f, err := os.OpenFile(path, os.O_APPEND|os.O_WRONLY, 0o600)
	require.NoError(t, err)
	_, err = f.WriteString(`{"id":2,"featu`)
	require.NoError(t, err)
	require.NoError(t, f.Close())

	require.NoError(t, repo.Append(ctx, Sample{ID: 2, Features: []float64{2}}))
	require.NoError(t, repo.Append(ctx, Sample{ID: 3, Features: []float64{3}}))
	require.NoError(t, repo.Close())

	reopened, err := NewFileRepository(path)
	require.NoError(t, err)
	defer reopened.Close()
	loaded, _, err := reopened.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 3)
	for i, s := range loaded {
		assert.Equal(t, uint64(i+1), s.ID)
		assert.Equal(t, []float64{float64(i + 1)}, s.Features)
	}
}

func TestUndecodableLinesAreSkipped(t *testing.T) {
	t.Parallel()
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	content := `{"id":1,"features":[1]}` + "\n" + `garbage` + "\n" + `{"id":3,"features":[1]}` + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	repo, err := NewFileRepository(path)
	require.NoError(t, err)
	defer repo.Close()

	loaded, _, err := repo.LoadAll(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded, 2)
	assert.Equal(t, uint64(3), loaded[1].ID)
}

func TestIDsNotReusedAfterPruneAndRestart(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	path := filepath.Join(t.TempDir(), "samples.jsonl")
	repo, err := NewFileRepository(path)
	require.NoError(t, err)
	store := New(repo, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for range 12 {
		_, err := store.Add(ctx, Sample{Features: []float64{1}, InsertedAt: now.Add(-48 * time.Hour)})
		require.NoError(t, err)
	}
	removed, err := store.Prune(ctx, PruneOptions{OlderThan: 24 * time.Hour})
	require.NoError(t, err)
	assert.Equal(t, 12, removed)
	require.NoError(t, store.Close(ctx))

	repo, err = NewFileRepository(path)
	require.NoError(t, err)
	reopened := New(repo)
	require.NoError(t, reopened.Load(ctx))
	defer reopened.Close(ctx)

	assert.Zero(t, reopened.Count())
	assert.Equal(t, uint64(12), reopened.LastID())
	id, err := reopened.Add(ctx, Sample{Features: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(13), id)
}

func TestReserveThroughSkipsTrainedIDs(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	store.ReserveThrough(20)
	id, err := store.Add(ctx, Sample{Features: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(21), id)

	// lower marks never move IDs backwards
	store.ReserveThrough(5)
	id, err = store.Add(ctx, Sample{Features: []float64{1}})
	require.NoError(t, err)
	assert.Equal(t, uint64(22), id)
}

func TestPersistenceFailureDegradesThenRecovers(t *testing.T) {
	t.Parallel()
	repo := &flakyRepository{failures: 1}
	store := New(repo, WithRetry(time.Millisecond, 3))
	ctx := context.Background()

	id, err := store.Add(ctx, Sample{Features: []float64{1}})
	require.Error(t, err)
	assert.Equal(t, uint64(1), id)
	require.ErrorIs(t, err, ErrPersistenceDegraded)
	assert.True(t, errors.IsCategory(err, errors.CategoryPersistenceDegraded))
	assert.Equal(t, 1, store.Count(), "sample stays in memory")
	assert.Equal(t, 1, store.Degraded())

	require.NoError(t, store.Persist(ctx))
	assert.Equal(t, 0, store.Degraded())

	loaded, _, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	assert.Equal(t, uint64(1), loaded[0].ID)
}

func TestPersistGivesUpAfterRetries(t *testing.T) {
	t.Parallel()
	repo := &flakyRepository{failures: -1}
	store := New(repo, WithRetry(time.Millisecond, 2))
	ctx := context.Background()

	_, err := store.Add(ctx, Sample{Features: []float64{1}})
	require.ErrorIs(t, err, ErrPersistenceDegraded)

	require.Error(t, store.Persist(ctx))
	assert.Equal(t, 1, store.Degraded())

	repo.setFailures(0)
	require.NoError(t, store.Persist(ctx))
	assert.Equal(t, 0, store.Degraded())
}

func TestSnapshotIsIsolated(t *testing.T) {
	t.Parallel()
	store := New(nil)
	ctx := context.Background()

	features := []float64{1, 2}
	_, err := store.Add(ctx, Sample{Features: features})
	require.NoError(t, err)
	features[0] = 99

	snap := store.SnapshotForTraining()
	assert.Equal(t, []float64{1, 2}, snap[0].Features)

	snap[0].Features[1] = 42
	_, err = store.Add(ctx, Sample{Features: []float64{3}})
	require.NoError(t, err)

	again := store.SnapshotForTraining()
	assert.Equal(t, []float64{1, 2}, again[0].Features)
	assert.Len(t, snap, 1, "earlier snapshot does not see later adds")
}

func TestPrune(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)
	repo := &flakyRepository{}
	store := New(repo, WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i := range 6 {
		_, err := store.Add(ctx, Sample{
			Features:   []float64{float64(i)},
			InsertedAt: now.Add(-time.Duration(6-i) * time.Hour),
		})
		require.NoError(t, err)
	}

	removed, err := store.Prune(ctx, PruneOptions{OlderThan: 4*time.Hour + time.Minute})
	require.NoError(t, err)
	assert.Equal(t, 2, removed)

	removed, err = store.Prune(ctx, PruneOptions{KeepNewest: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	snap := store.SnapshotForTraining()
	require.Len(t, snap, 3)
	assert.Equal(t, uint64(4), snap[0].ID)

	stored, lastID, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Len(t, stored, 3)
	assert.Equal(t, uint64(6), lastID)

	id, err := store.Add(ctx, Sample{Features: []float64{7}})
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id, "IDs are never reused")

	removed, err = store.Prune(ctx, PruneOptions{KeepNewest: 10})
	require.NoError(t, err)
	assert.Zero(t, removed)
}

func TestConcurrentAddsGetUniqueIDs(t *testing.T) {
	t.Parallel()
	store, _ := newFileStore(t)
	ctx := context.Background()

	const n = 50
	ids := make(chan uint64, n)
	var wg sync.WaitGroup
	for i := range n {
		wg.Go(func() {
			id, err := store.Add(ctx, Sample{Features: []float64{float64(i)}})
			assert.NoError(t, err)
			ids <- id
		})
	}
	wg.Wait()
	close(ids)

	seen := make(map[uint64]bool, n)
	for id := range ids {
		assert.False(t, seen[id])
		seen[id] = true
	}
	assert.Len(t, seen, n)
	assert.Equal(t, n, store.Count())
	require.NoError(t, store.Close(ctx))
}

func TestCloseFlushesPendingAndClosesRepository(t *testing.T) {
	t.Parallel()
	repo := &flakyRepository{failures: 1}
	store := New(repo)
	ctx := context.Background()

	_, err := store.Add(ctx, Sample{Features: []float64{1}})
	require.Error(t, err)

	require.NoError(t, store.Close(ctx))
	assert.True(t, repo.closed)
	assert.Len(t, repo.stored, 1)
}

func TestAddNotBlockedByRetryingPersist(t *testing.T) {
	t.Parallel()
	repo := &flakyRepository{failures: -1}
	store := New(repo, WithRetry(200*time.Millisecond, 5))
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	_, err := store.Add(ctx, Sample{Features: []float64{1}})
	require.ErrorIs(t, err, ErrPersistenceDegraded)

	done := make(chan error, 1)
	go func() { done <- store.Persist(ctx) }()
	time.Sleep(50 * time.Millisecond)

	start := time.Now()
	id, err := store.Add(ctx, Sample{Features: []float64{2}})
	assert.Less(t, time.Since(start), 150*time.Millisecond)
	require.ErrorIs(t, err, ErrPersistenceDegraded)
	assert.Equal(t, uint64(2), id)
	assert.Equal(t, 2, store.Degraded())

	cancel()
	select {
	case err := <-done:
		require.Error(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("Persist did not stop")
	}
}
