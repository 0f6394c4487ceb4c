package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

const (
	snapshotFormat          = 1
	snapshotFilePermissions = 0o600
)

type snapshotEnvelope struct {
	Format   int       `json:"format"`
	Snapshot *Snapshot `json:"snapshot"`
}

// MarshalBinary encodes the snapshot as JSON. Float64 values round-trip exactly.
func (s *Snapshot) MarshalBinary() ([]byte, error) {
	return json.Marshal(snapshotEnvelope{Format: snapshotFormat, Snapshot: s})
}

// Unmarshal decodes and validates a snapshot produced by MarshalBinary
func Unmarshal(data []byte) (*Snapshot, error) {
	var env snapshotEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, modelLoadError(err)
	}
	if env.Format != snapshotFormat {
		return nil, modelLoadError(fmt.Errorf("unsupported snapshot format %d", env.Format))
	}
	if env.Snapshot == nil {
		return nil, modelLoadError(fmt.Errorf("snapshot missing"))
	}
	if err := validateParams(env.Snapshot.Params); err != nil {
		return nil, modelLoadError(err)
	}
	return env.Snapshot, nil
}

func validateParams(p *Params) error {
	if p == nil {
		return nil
	}
	dim := len(p.Weights)
	if dim == 0 || len(p.Mean) != dim || len(p.Scale) != dim {
		return fmt.Errorf("parameter dimensions disagree: weights=%d mean=%d scale=%d",
			dim, len(p.Mean), len(p.Scale))
	}
	if !isFinite(p.Bias) {
		return fmt.Errorf("non-finite bias")
	}
	for j := range dim {
		if !isFinite(p.Weights[j]) || !isFinite(p.Mean[j]) || !isFinite(p.Scale[j]) || p.Scale[j] == 0 {
			return fmt.Errorf("invalid parameter at index %d", j)
		}
	}
	return nil
}

func modelLoadError(err error) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelLoad).
		Build()
}

// SaveSnapshotFile writes snap to path atomically: a temp file in the same directory is
// written, fsynced and renamed over path.
func SaveSnapshotFile(path string, snap *Snapshot) error {
	data, err := snap.MarshalBinary()
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return persistError(err, path)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return persistError(err, path)
	}
	tmpPath := tmp.Name()
	defer func() {
		// no-op after a successful rename
		_ = os.Remove(tmpPath)
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return persistError(err, path)
	}
	if err := tmp.Chmod(snapshotFilePermissions); err != nil {
		_ = tmp.Close()
		return persistError(err, path)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		return persistError(err, path)
	}
	if err := tmp.Close(); err != nil {
		return persistError(err, path)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return persistError(err, path)
	}

	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}

// LoadSnapshotFile reads a snapshot written by SaveSnapshotFile. A missing file returns an
// error matching os.ErrNotExist.
func LoadSnapshotFile(path string) (*Snapshot, error) {
	data, err := os.ReadFile(path) //nolint:gosec // path from settings
	if err != nil {
		if os.IsNotExist(err) {
			return nil, err
		}
		return nil, errors.New(err).
			Component("classifier").
			Category(errors.CategoryFileIO).
			Context("operation", "read_snapshot").
			Build()
	}
	return Unmarshal(data)
}

func persistError(err error, path string) error {
	return errors.New(err).
		Component("classifier").
		Category(errors.CategoryModelPersist).
		Context("path", filepath.Base(path)).
		Build()
}
