// Package classifier holds the trainable deepfake model. A Snapshot is an immutable trained
// model; Trainers build new snapshots from samples and Holder publishes the active one.
package classifier

import (
	"math"
	"time"

	"github.com/cybershakti/deepfake-go/internal/features"
)

// BaselineVersion is the version of the untrained snapshot installed at first start
const BaselineVersion uint64 = 0

// Params are the fitted logistic regression parameters. Inputs are standardised with Mean
// and Scale before the dot product with Weights.
type Params struct {
	Mean    []float64 `json:"mean"`
	Scale   []float64 `json:"scale"`
	Weights []float64 `json:"weights"`
	Bias    float64   `json:"bias"`
}

// Dim returns the input dimension the parameters were fitted on
func (p *Params) Dim() int {
	return len(p.Weights)
}

// Snapshot is one immutable, versioned model generation. Never modify a Snapshot after it
// has been handed to a Holder.
type Snapshot struct {
	Version              uint64    `json:"version"`
	Params               *Params   `json:"params,omitempty"`
	TrainedOnSampleCount int       `json:"trained_on_sample_count"`
	TrainedThroughID     uint64    `json:"trained_through_id"`
	TrainedAt            time.Time `json:"trained_at"`
	// RestoredFrom is set when the snapshot was re-installed from an archived version
	RestoredFrom *uint64 `json:"restored_from,omitempty"`
}

// Baseline returns the untrained snapshot. It predicts authentic with confidence 0.5.
func Baseline() *Snapshot {
	return &Snapshot{Version: BaselineVersion}
}

// Trained reports whether the snapshot carries fitted parameters
func (s *Snapshot) Trained() bool {
	return s != nil && s.Params != nil
}

// Predict classifies v. It is safe for concurrent use and never fails: vectors of the wrong
// length are padded with zeros or truncated, and non-finite components count as zero.
// Confidence is the probability of the returned label, in [0.5, 1].
func (s *Snapshot) Predict(v features.Vector) (label bool, confidence float64) {
	p := s.Probability(v)
	if p >= 0.5 {
		return true, p
	}
	return false, 1 - p
}

// Probability returns P(deepfake | v)
func (s *Snapshot) Probability(v features.Vector) float64 {
	if !s.Trained() {
		return 0.5
	}

	z := s.Params.Bias
	for i, w := range s.Params.Weights {
		x := 0.0
		if i < len(v) && isFinite(v[i]) {
			x = v[i]
		}
		z += w * (x - s.Params.Mean[i]) / s.Params.Scale[i]
	}
	p := sigmoid(z)
	if math.IsNaN(p) {
		return 0.5
	}
	return p
}

func sigmoid(z float64) float64 {
	if z >= 0 {
		return 1 / (1 + math.Exp(-z))
	}
	e := math.Exp(z)
	return e / (1 + e)
}

func isFinite(f float64) bool {
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}
