package samplestore

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

const (
	logFilePermissions = 0o600
	maxLineBytes       = 1 << 20
)

// lastIDPrefix starts the high-water record written by Rewrite. Sample lines start with
// {"id": so the two never collide.
var lastIDPrefix = []byte(`{"last_id":`)

type lastIDRecord struct {
	LastID uint64 `json:"last_id"`
}

// FileRepository is an append-only JSON-lines log. Every append is fsynced. A failed append
// is truncated away, and a record that still ends up torn is skipped on load.
type FileRepository struct {
	mu   sync.Mutex
	path string
	file *os.File
}

// NewFileRepository opens or creates the log at path
func NewFileRepository(path string) (*FileRepository, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, errors.New(err).
			Component("samplestore").
			Category(errors.CategoryFileIO).
			Context("operation", "create_data_dir").
			Build()
	}
	r := &FileRepository{path: path}
	if err := r.open(); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *FileRepository) open() error {
	f, err := os.OpenFile(r.path, os.O_CREATE|os.O_RDWR|os.O_APPEND, logFilePermissions) //nolint:gosec // path from settings
	if err != nil {
		return errors.New(err).
			Component("samplestore").
			Category(errors.CategoryFileIO).
			Context("operation", "open_sample_log").
			Build()
	}
	r.file = f
	return nil
}

// tail returns the log size and whether the last byte is a newline. An empty log counts as
// terminated.
func (r *FileRepository) tail() (int64, bool, error) {
	info, err := r.file.Stat()
	if err != nil {
		return 0, false, err
	}
	size := info.Size()
	if size == 0 {
		return 0, true, nil
	}
	last := make([]byte, 1)
	if _, err := r.file.ReadAt(last, size-1); err != nil {
		return 0, false, err
	}
	return size, last[0] == '\n', nil
}

// Append writes one line and fsyncs. On failure the log is cut back to its previous size so
// the next record does not land on a partial line.
func (r *FileRepository) Append(ctx context.Context, s Sample) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	line, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("encode sample %d: %w", s.ID, err)
	}
	line = append(line, '\n')

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.file == nil {
		return os.ErrClosed
	}
	size, terminated, err := r.tail()
	if err != nil {
		return errors.New(err).Component("samplestore").Category(errors.CategoryFileIO).Build()
	}
	if !terminated {
		line = append([]byte{'\n'}, line...)
	}
	if _, err := r.file.Write(line); err != nil {
		r.rollback(size)
		return errors.New(err).Component("samplestore").Category(errors.CategoryFileIO).Build()
	}
	if err := r.file.Sync(); err != nil {
		r.rollback(size)
		return errors.New(err).Component("samplestore").Category(errors.CategoryFileIO).Build()
	}
	return nil
}

// rollback drops a partially written record. If that fails too, the next append starts a
// fresh line and LoadAll skips the fragment.
func (r *FileRepository) rollback(size int64) {
	if err := r.file.Truncate(size); err != nil {
		GetLogger().Warn("could not remove partial record from sample log",
			logger.String("path", r.path),
			logger.Int64("size", size),
			logger.Error(err))
	}
}

// LoadAll reads every complete record and the high-water ID recorded by the last Rewrite.
// Undecodable lines are partial writes whose samples were never acknowledged as durable:
// they are skipped, and a torn final line is truncated away.
func (r *FileRepository) LoadAll(ctx context.Context) ([]Sample, uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	f, err := os.Open(r.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, 0, nil
		}
		return nil, 0, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)

	var (
		samples   []Sample
		lastID    uint64
		skipped   int
		tornTail  bool
		badOffset int64
		offset    int64
		lineNo    int
	)
	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return nil, 0, err
		}
		lineNo++
		raw := scanner.Bytes()
		lineStart := offset
		offset += int64(len(raw)) + 1
		if len(raw) == 0 {
			continue
		}
		if bytes.HasPrefix(raw, lastIDPrefix) {
			var mark lastIDRecord
			if err := json.Unmarshal(raw, &mark); err == nil {
				lastID = max(lastID, mark.LastID)
				tornTail = false
				continue
			}
		}
		var s Sample
		if err := json.Unmarshal(raw, &s); err != nil {
			skipped++
			tornTail, badOffset = true, lineStart
			GetLogger().Warn("skipping torn record in sample log",
				logger.String("path", r.path),
				logger.Int("line", lineNo),
				logger.Error(err))
			continue
		}
		tornTail = false
		samples = append(samples, s)
	}
	if err := scanner.Err(); err != nil {
		return nil, 0, fmt.Errorf("read sample log %s: %w", r.path, err)
	}

	if tornTail {
		if err := os.Truncate(r.path, badOffset); err != nil {
			return nil, 0, errors.New(err).
				Component("samplestore").
				Category(errors.CategoryFileIO).
				Context("operation", "truncate_torn_record").
				Build()
		}
	}
	if skipped > 0 {
		GetLogger().Info("sample log recovered",
			logger.Int("skipped", skipped),
			logger.Int("loaded", len(samples)))
	}
	return samples, lastID, nil
}

// Rewrite replaces the log with samples via temp file, fsync and rename. lastID is written
// as a leading record so it outlives the samples it covers.
func (r *FileRepository) Rewrite(ctx context.Context, samples []Sample, lastID uint64) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	tmp, err := os.CreateTemp(filepath.Dir(r.path), ".samples-*.jsonl")
	if err != nil {
		return errors.New(err).Component("samplestore").Category(errors.CategoryFileIO).Build()
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	w := bufio.NewWriter(tmp)
	enc := json.NewEncoder(w)
	if lastID > 0 {
		if err := enc.Encode(lastIDRecord{LastID: lastID}); err != nil {
			tmp.Close()
			return err
		}
	}
	for _, s := range samples {
		if err := enc.Encode(s); err != nil {
			tmp.Close()
			return fmt.Errorf("encode sample %d: %w", s.ID, err)
		}
	}
	if err := w.Flush(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if r.file != nil {
		_ = r.file.Close()
		r.file = nil
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		_ = r.open()
		return errors.New(err).
			Component("samplestore").
			Category(errors.CategoryFileIO).
			Context("operation", "rewrite_sample_log").
			Build()
	}
	return r.open()
}

// Close closes the log file
func (r *FileRepository) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.file == nil {
		return nil
	}
	err := r.file.Close()
	r.file = nil
	return err
}

// Path returns the log location
func (r *FileRepository) Path() string {
	return r.path
}
