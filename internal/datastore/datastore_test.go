package datastore

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cybershakti/deepfake-go/internal/conf"
	"github.com/cybershakti/deepfake-go/internal/samplestore"
)

func openTestRepo(t *testing.T) *SampleRepository {
	t.Helper()
	db, err := Open(&conf.StorageSettings{
		Backend: conf.BackendSQLite,
		SQLite:  conf.SQLiteSettings{Path: filepath.Join(t.TempDir(), "db", "samples.db")},
	})
	require.NoError(t, err)
	repo := NewSampleRepository(db)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestSampleRepositoryRoundTrip(t *testing.T) {
	t.Parallel()
	repo := openTestRepo(t)
	ctx := context.Background()
	ts := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	for _, id := range []uint64{3, 1, 2} {
		require.NoError(t, repo.Append(ctx, samplestore.Sample{
			ID:         id,
			Features:   []float64{0.1, 1.0 / 3.0, float64(id)},
			Label:      id%2 == 0,
			Source:     "src",
			InsertedAt: ts,
		}))
	}

	loaded, lastID, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Zero(t, lastID)
	require.Len(t, loaded, 3)
	for i, s := range loaded {
		assert.Equal(t, uint64(i+1), s.ID)
		assert.InDelta(t, 1.0/3.0, s.Features[1], 0)
		assert.True(t, ts.Equal(s.InsertedAt))
	}
	assert.True(t, loaded[1].Label)
	assert.False(t, loaded[0].Label)
}

func TestSampleRepositoryRewrite(t *testing.T) {
	t.Parallel()
	repo := openTestRepo(t)
	ctx := context.Background()

	for id := uint64(1); id <= 5; id++ {
		require.NoError(t, repo.Append(ctx, samplestore.Sample{ID: id, Features: []float64{1}}))
	}
	require.NoError(t, repo.Rewrite(ctx, []samplestore.Sample{
		{ID: 4, Features: []float64{4}},
		{ID: 5, Features: []float64{5}},
	}, 5))

	loaded, lastID, err := repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), lastID)
	require.Len(t, loaded, 2)
	assert.Equal(t, uint64(4), loaded[0].ID)
	assert.Equal(t, []float64{5}, loaded[1].Features)

	// the high-water mark outlives an empty table and is updated in place
	require.NoError(t, repo.Rewrite(ctx, nil, 7))
	loaded, lastID, err = repo.LoadAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, loaded)
	assert.Equal(t, uint64(7), lastID)
}

func TestDuplicateIDRejected(t *testing.T) {
	t.Parallel()
	repo := openTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Append(ctx, samplestore.Sample{ID: 1, Features: []float64{1}}))
	assert.Error(t, repo.Append(ctx, samplestore.Sample{ID: 1, Features: []float64{2}}))
}

func TestOpenRejectsUnknownBackend(t *testing.T) {
	t.Parallel()
	_, err := Open(&conf.StorageSettings{Backend: conf.BackendFile})
	require.Error(t, err)
}
