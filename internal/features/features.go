// Package features turns uploaded media into fixed-length feature vectors.
//
// Extraction is deterministic: the same bytes always produce the same vector, which is what
// lets CachedExtractor memoise results and lets retraining reproduce past decisions.
package features

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

// VectorSize is the length of every vector produced by this package
const VectorSize = 32

// Vector is a fixed-length feature vector
type Vector []float64

// Clone returns an independent copy
func (v Vector) Clone() Vector {
	if v == nil {
		return nil
	}
	out := make(Vector, len(v))
	copy(out, v)
	return out
}

// Sentinel errors. Both are input errors: the caller sent something we cannot use.
var (
	ErrUnsupportedMedia = errors.NewStd("unsupported media format")
	ErrCorruptMedia     = errors.NewStd("corrupt media")
)

// Diagnostics describes what the extractor saw. It is informational only.
type Diagnostics struct {
	MediaType string `json:"media_type"`
	Width     int    `json:"width,omitempty"`
	Height    int    `json:"height,omitempty"`
	Frames    int    `json:"frames,omitempty"`
	LowSignal bool   `json:"low_signal"` // no usable content, LowConfidenceVector was returned
}

// Clone returns an independent copy
func (d *Diagnostics) Clone() *Diagnostics {
	if d == nil {
		return nil
	}
	c := *d
	return &c
}

// Extractor converts media bytes to a feature vector
type Extractor interface {
	Extract(ctx context.Context, data []byte) (Vector, *Diagnostics, error)
}

// LowConfidenceVector is returned for media that decodes but carries no signal, such as a
// blank frame. It sits at the origin so a trained model scores it near its bias.
func LowConfidenceVector() Vector {
	return make(Vector, VectorSize)
}

// ContentHash returns the hex SHA-256 of data. Used as cache key and as sample source.
func ContentHash(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

func unsupported(mediaType, reason string) error {
	return errors.New(fmt.Errorf("%w: %s", ErrUnsupportedMedia, reason)).
		Component("features").
		Category(errors.CategoryMediaInput).
		Context("media_type", mediaType).
		Build()
}

func corrupt(mediaType string, cause error) error {
	return errors.New(fmt.Errorf("%w: %w", ErrCorruptMedia, cause)).
		Component("features").
		Category(errors.CategoryMediaInput).
		Context("media_type", mediaType).
		Build()
}

// Options configures the default extraction pipeline
type Options struct {
	FfmpegPath    string         // empty disables video
	VideoFrames   int            // frames sampled per video
	MaxPixels     int            // image decode limit, 0 = DefaultMaxImagePixels
	CacheTTL      time.Duration  // 0 disables the cache
	CacheSize     int            // entry limit, 0 = unbounded
	CacheObserver func(hit bool) // told whether each cache lookup hit, may be nil
}

// New builds the default pipeline: content sniffing, image and video extraction and an
// optional content-hash cache in front.
func New(opts Options) Extractor {
	var videos Extractor
	if opts.FfmpegPath != "" {
		videos = NewVideoExtractor(opts.FfmpegPath, opts.VideoFrames)
	}
	var ext Extractor = NewRouter(NewImageExtractor(opts.MaxPixels), videos)
	if opts.CacheTTL > 0 {
		cached := NewCachedExtractor(ext, opts.CacheTTL, opts.CacheSize)
		cached.Observe(opts.CacheObserver)
		ext = cached
	}
	return ext
}
