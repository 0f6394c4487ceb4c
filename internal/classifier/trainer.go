package classifier

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
	"github.com/cybershakti/deepfake-go/internal/samplestore"
)

// DefaultMinSamples is the smallest sample set a trainer accepts
const DefaultMinSamples = 10

var (
	// ErrInsufficientData is returned when there are too few samples to train
	ErrInsufficientData = errors.NewStd("not enough training data")
	// ErrTrainingFailed is returned when optimisation diverges or is cancelled
	ErrTrainingFailed = errors.NewStd("training failed")
)

// Trainer builds a new snapshot from samples. Implementations must not retain or mutate the
// slice and must not touch existing snapshots.
type Trainer interface {
	Train(ctx context.Context, samples []samplestore.Sample, version uint64) (*Snapshot, error)
}

// LogisticTrainer fits an L2-regularised, class-balanced logistic regression with full-batch
// gradient descent on z-scored features. Results depend only on the samples.
type LogisticTrainer struct {
	Epochs       int
	LearningRate float64
	L2           float64
	Tolerance    float64
	MinSamples   int
	now          func() time.Time
}

// NewLogisticTrainer returns a trainer with the given hyperparameters
func NewLogisticTrainer(epochs int, learningRate, l2, tolerance float64, minSamples int) *LogisticTrainer {
	if minSamples <= 0 {
		minSamples = DefaultMinSamples
	}
	return &LogisticTrainer{
		Epochs:       epochs,
		LearningRate: learningRate,
		L2:           l2,
		Tolerance:    tolerance,
		MinSamples:   minSamples,
		now:          time.Now,
	}
}

// InsufficientData builds the user-facing insufficient data error
func InsufficientData(minimum, have int) error {
	return errors.New(fmt.Errorf("%w (minimum %d samples, have %d)", ErrInsufficientData, minimum, have)).
		Component("classifier").
		Category(errors.CategoryInsufficientData).
		Context("minimum", minimum).
		Context("have", have).
		Build()
}

func trainingFailed(cause error, version uint64, n int) error {
	return errors.New(fmt.Errorf("%w: %w", ErrTrainingFailed, cause)).
		Component("classifier").
		Category(errors.CategoryTraining).
		ModelContext(version, n).
		Build()
}

// Train fits a new snapshot with the given version
func (t *LogisticTrainer) Train(ctx context.Context, samples []samplestore.Sample, version uint64) (*Snapshot, error) {
	minimum := t.MinSamples
	if minimum <= 0 {
		minimum = DefaultMinSamples
	}
	n := len(samples)
	if n < minimum {
		return nil, InsufficientData(minimum, n)
	}

	start := time.Now()
	dim := len(samples[0].Features)
	if dim == 0 {
		return nil, trainingFailed(fmt.Errorf("empty feature vector"), version, n)
	}

	x := make([][]float64, n)
	y := make([]float64, n)
	var positives int
	var throughID uint64
	for i := range samples {
		row := make([]float64, dim)
		for j := 0; j < dim && j < len(samples[i].Features); j++ {
			if isFinite(samples[i].Features[j]) {
				row[j] = samples[i].Features[j]
			}
		}
		x[i] = row
		if samples[i].Label {
			y[i] = 1
			positives++
		}
		throughID = max(throughID, samples[i].ID)
	}

	mean, scale := standardise(x, dim)
	weight := classWeights(n, positives)

	weights := make([]float64, dim)
	grad := make([]float64, dim)
	bias := 0.0
	prevLoss := math.Inf(1)
	finalLoss := prevLoss
	epochs := 0

	var sumW float64
	for i := range y {
		sumW += weight(y[i])
	}

	for epochs < t.Epochs {
		if err := ctx.Err(); err != nil {
			return nil, trainingFailed(err, version, n)
		}
		epochs++

		clear(grad)
		var gradBias, loss float64
		for i := range x {
			z := bias
			for j := range weights {
				z += weights[j] * x[i][j]
			}
			p := sigmoid(z)
			w := weight(y[i])
			diff := w * (p - y[i])
			for j := range grad {
				grad[j] += diff * x[i][j]
			}
			gradBias += diff
			loss -= w * (y[i]*safeLog(p) + (1-y[i])*safeLog(1-p))
		}

		var norm float64
		for j := range weights {
			norm += weights[j] * weights[j]
		}
		loss = loss/sumW + 0.5*t.L2*norm

		if !isFinite(loss) {
			return nil, trainingFailed(fmt.Errorf("loss diverged at epoch %d", epochs), version, n)
		}

		for j := range weights {
			weights[j] -= t.LearningRate * (grad[j]/sumW + t.L2*weights[j])
		}
		bias -= t.LearningRate * gradBias / sumW
		finalLoss = loss

		if math.Abs(prevLoss-loss) < t.Tolerance {
			break
		}
		prevLoss = loss
	}

	for _, w := range weights {
		if !isFinite(w) {
			return nil, trainingFailed(fmt.Errorf("non-finite weight"), version, n)
		}
	}
	if !isFinite(bias) {
		return nil, trainingFailed(fmt.Errorf("non-finite bias"), version, n)
	}

	GetLogger().Debug("training converged",
		logger.Uint64("version", version),
		logger.Int("samples", n),
		logger.Int("positives", positives),
		logger.Int("epochs", epochs),
		logger.Float64("loss", finalLoss),
		logger.Duration("duration", time.Since(start)))

	return &Snapshot{
		Version: version,
		Params: &Params{
			Mean:    mean,
			Scale:   scale,
			Weights: weights,
			Bias:    bias,
		},
		TrainedOnSampleCount: n,
		TrainedThroughID:     throughID,
		TrainedAt:            t.clock().UTC(),
	}, nil
}

func (t *LogisticTrainer) clock() time.Time {
	if t.now == nil {
		return time.Now()
	}
	return t.now()
}

// standardise z-scores x in place and returns the column mean and scale. Constant columns
// get scale 1.
func standardise(x [][]float64, dim int) (mean, scale []float64) {
	n := float64(len(x))
	mean = make([]float64, dim)
	scale = make([]float64, dim)
	for _, row := range x {
		for j, v := range row {
			mean[j] += v
		}
	}
	for j := range mean {
		mean[j] /= n
	}
	for _, row := range x {
		for j, v := range row {
			d := v - mean[j]
			scale[j] += d * d
		}
	}
	for j := range scale {
		scale[j] = math.Sqrt(scale[j] / n)
		if scale[j] < 1e-12 {
			scale[j] = 1
		}
	}
	for _, row := range x {
		for j := range row {
			row[j] = (row[j] - mean[j]) / scale[j]
		}
	}
	return mean, scale
}

// classWeights returns a per-label weight so both classes contribute equally. A single-class
// set is unweighted.
func classWeights(n, positives int) func(y float64) float64 {
	negatives := n - positives
	if positives == 0 || negatives == 0 {
		return func(float64) float64 { return 1 }
	}
	wPos := float64(n) / (2 * float64(positives))
	wNeg := float64(n) / (2 * float64(negatives))
	return func(y float64) float64 {
		if y > 0.5 {
			return wPos
		}
		return wNeg
	}
}

func safeLog(p float64) float64 {
	const eps = 1e-15
	return math.Log(min(max(p, eps), 1-eps))
}
