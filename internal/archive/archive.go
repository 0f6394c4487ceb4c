// Package archive keeps previous classifier snapshots so an operator can roll back.
// Snapshots are written to a local directory and optionally mirrored to an object store.
package archive

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"
	"sync"

	"github.com/cybershakti/deepfake-go/internal/classifier"
	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

const (
	filePrefix = "snapshot-v"
	fileSuffix = ".json"
)

// ErrSnapshotNotFound is returned by Load for an unknown version
var ErrSnapshotNotFound = errors.NewStd("archived snapshot not found")

// ErrObjectNotFound is returned by a Remote for a missing key
var ErrObjectNotFound = errors.NewStd("object not found")

// Remote is an off-host copy of the archive
type Remote interface {
	Put(ctx context.Context, key string, data []byte) error
	Get(ctx context.Context, key string) ([]byte, error)
}

// Archive stores snapshots by version. Local retention is bounded by retain; the remote
// copy is never pruned.
type Archive struct {
	mu     sync.Mutex
	dir    string
	retain int
	remote Remote
	log    logger.Logger
}

// New creates an archive rooted at dir. retain <= 0 keeps every snapshot. remote may be nil.
func New(dir string, retain int, remote Remote) (*Archive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.New(err).
			Component("archive").
			Category(errors.CategoryFileIO).
			Context("operation", "create_archive_dir").
			Build()
	}
	return &Archive{dir: dir, retain: retain, remote: remote, log: GetLogger()}, nil
}

// ObjectKey is the file and object name for version
func ObjectKey(version uint64) string {
	return fmt.Sprintf("%s%010d%s", filePrefix, version, fileSuffix)
}

// Store archives snap. The local write must succeed; a remote failure is returned after the
// local copy is in place.
func (a *Archive) Store(ctx context.Context, snap *classifier.Snapshot) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := ObjectKey(snap.Version)
	if err := classifier.SaveSnapshotFile(filepath.Join(a.dir, key), snap); err != nil {
		return err
	}
	a.pruneLocked()

	if a.remote == nil {
		return nil
	}
	data, err := snap.MarshalBinary()
	if err != nil {
		return err
	}
	if err := a.remote.Put(ctx, key, data); err != nil {
		return errors.New(err).
			Component("archive").
			Category(errors.CategoryArchive).
			Context("version", snap.Version).
			Context("operation", "remote_put").
			Build()
	}
	a.log.Debug("snapshot archived", logger.Uint64("version", snap.Version), logger.Bool("remote", true))
	return nil
}

// Load returns the archived snapshot for version, trying the local copy first
func (a *Archive) Load(ctx context.Context, version uint64) (*classifier.Snapshot, error) {
	key := ObjectKey(version)

	snap, err := classifier.LoadSnapshotFile(filepath.Join(a.dir, key))
	if err == nil {
		return snap, nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	if a.remote != nil {
		data, rerr := a.remote.Get(ctx, key)
		switch {
		case rerr == nil:
			return classifier.Unmarshal(data)
		case !errors.Is(rerr, ErrObjectNotFound):
			return nil, errors.New(rerr).
				Component("archive").
				Category(errors.CategoryArchive).
				Context("version", version).
				Context("operation", "remote_get").
				Build()
		}
	}

	return nil, errors.New(fmt.Errorf("%w: version %d", ErrSnapshotNotFound, version)).
		Component("archive").
		Category(errors.CategoryNotFound).
		Context("version", version).
		Build()
}

// Versions lists locally archived versions in ascending order
func (a *Archive) Versions() ([]uint64, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.versionsLocked()
}

func (a *Archive) versionsLocked() ([]uint64, error) {
	entries, err := os.ReadDir(a.dir)
	if err != nil {
		return nil, err
	}
	var versions []uint64
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		v, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix), 10, 64)
		if err != nil {
			continue
		}
		versions = append(versions, v)
	}
	slices.Sort(versions)
	return versions, nil
}

func (a *Archive) pruneLocked() {
	if a.retain <= 0 {
		return
	}
	versions, err := a.versionsLocked()
	if err != nil {
		a.log.Warn("listing archive failed", logger.Error(err))
		return
	}
	if len(versions) <= a.retain {
		return
	}
	for _, v := range versions[:len(versions)-a.retain] {
		if err := os.Remove(filepath.Join(a.dir, ObjectKey(v))); err != nil && !os.IsNotExist(err) {
			a.log.Warn("removing archived snapshot failed", logger.Uint64("version", v), logger.Error(err))
		}
	}
}
