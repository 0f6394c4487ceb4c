// Package samplestore keeps labeled feedback samples in insertion order and persists them
// through a Repository.
package samplestore

import (
	"context"
	"slices"
	"time"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

// Sample is one labeled feature vector. Samples are immutable once stored.
type Sample struct {
	ID         uint64    `json:"id"`
	Features   []float64 `json:"features"`
	Label      bool      `json:"label"` // true = deepfake
	Source     string    `json:"source"`
	InsertedAt time.Time `json:"inserted_at"`
}

// Clone returns a deep copy
func (s Sample) Clone() Sample {
	s.Features = slices.Clone(s.Features)
	return s
}

// Repository is durable sample storage. Implementations must be safe for concurrent use.
type Repository interface {
	// Append durably stores one sample
	Append(ctx context.Context, s Sample) error
	// LoadAll returns every stored sample in any order, plus the highest ID recorded by the
	// last Rewrite (0 if none)
	LoadAll(ctx context.Context) ([]Sample, uint64, error)
	// Rewrite atomically replaces the stored set and records lastID, the highest ID ever
	// assigned, so IDs are not reused after a restart
	Rewrite(ctx context.Context, samples []Sample, lastID uint64) error
	Close() error
}

// ErrPersistenceDegraded marks a sample that was accepted in memory but is not yet durable.
// It is a warning: Add still returns a valid ID.
var ErrPersistenceDegraded = errors.NewStd("sample accepted but not persisted")

// ErrInvalidSample rejects samples without usable features
var ErrInvalidSample = errors.NewStd("invalid sample")

// PruneOptions selects samples to remove. Zero fields are ignored; when both are set a
// sample must pass both to survive.
type PruneOptions struct {
	KeepNewest int           // keep at most this many of the newest samples
	OlderThan  time.Duration // drop samples inserted longer ago than this
}
