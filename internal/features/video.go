package features

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"math"
	"os"
	"os/exec"
	"strconv"
	"strings"

	"github.com/cybershakti/deepfake-go/internal/errors"
	"github.com/cybershakti/deepfake-go/internal/logger"
)

const (
	defaultVideoFrames = 8
	videoFrameSide     = 128
	videoSampleFPS     = "2"
	maxStderrBytes     = 4096
)

// VideoExtractor samples frames through ffmpeg, averages their image vectors and adds a
// temporal flicker measure.
type VideoExtractor struct {
	ffmpegPath string
	frames     int
	images     *ImageExtractor
}

// NewVideoExtractor returns a video extractor. An empty ffmpegPath disables video support,
// every call then fails with ErrUnsupportedMedia.
func NewVideoExtractor(ffmpegPath string, frames int) *VideoExtractor {
	if frames <= 0 {
		frames = defaultVideoFrames
	}
	return &VideoExtractor{
		ffmpegPath: ffmpegPath,
		frames:     frames,
		images:     NewImageExtractor(0),
	}
}

// Available reports whether an ffmpeg binary was configured
func (e *VideoExtractor) Available() bool {
	return e.ffmpegPath != ""
}

// Extract decodes sampled frames and computes the averaged vector
func (e *VideoExtractor) Extract(ctx context.Context, data []byte) (Vector, *Diagnostics, error) {
	if !e.Available() {
		return nil, nil, unsupported("video", "ffmpeg is not available")
	}

	frames, err := e.decodeFrames(ctx, data)
	if err != nil {
		return nil, nil, err
	}

	diag := &Diagnostics{
		MediaType: "video",
		Width:     videoFrameSide,
		Height:    videoFrameSide,
		Frames:    len(frames),
	}

	vec, low := e.vectorForFrames(frames)
	diag.LowSignal = low
	return vec, diag, nil
}

func (e *VideoExtractor) vectorForFrames(frames []image.Image) (Vector, bool) {
	if len(frames) == 0 {
		return LowConfidenceVector(), true
	}

	sum := make(Vector, VectorSize)
	lumMeans := make([]float64, 0, len(frames))
	used := 0
	for _, frame := range frames {
		vec, low := e.images.vectorFor(frame)
		if low {
			continue
		}
		for i := range sum {
			sum[i] += vec[i]
		}
		lumMeans = append(lumMeans, vec[idxLumMean])
		used++
	}
	if used == 0 {
		return LowConfidenceVector(), true
	}

	for i := range sum {
		sum[i] /= float64(used)
	}
	sum[idxFlicker] = temporalFlicker(lumMeans)
	return sum, false
}

// temporalFlicker is the mean absolute change in frame brightness, scaled into [0,1]
func temporalFlicker(lumMeans []float64) float64 {
	if len(lumMeans) < 2 {
		return 0
	}
	var total float64
	for i := 1; i < len(lumMeans); i++ {
		total += math.Abs(lumMeans[i] - lumMeans[i-1])
	}
	return math.Min(1, total/float64(len(lumMeans)-1)*10)
}

// decodeFrames writes data to a temp file, since many containers need a seekable input,
// and reads fixed-size RGB frames from ffmpeg's stdout.
func (e *VideoExtractor) decodeFrames(ctx context.Context, data []byte) ([]image.Image, error) {
	tmp, err := os.CreateTemp("", "deepfake-video-*")
	if err != nil {
		return nil, errors.New(err).
			Component("features").
			Category(errors.CategoryFileIO).
			Context("operation", "video_temp_file").
			Build()
	}
	defer func() {
		if rmErr := os.Remove(tmp.Name()); rmErr != nil {
			GetLogger().Warn("failed to remove temp video file", logger.Error(rmErr))
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return nil, errors.New(err).Component("features").Category(errors.CategoryFileIO).Build()
	}
	if err := tmp.Close(); err != nil {
		return nil, errors.New(err).Component("features").Category(errors.CategoryFileIO).Build()
	}

	cmd := exec.CommandContext(ctx, e.ffmpegPath, //nolint:gosec // G204: ffmpeg path from validated settings, args built internally
		"-hide_banner",
		"-loglevel", "error",
		"-i", tmp.Name(),
		"-an",
		"-vf", "fps="+videoSampleFPS+",scale="+strconv.Itoa(videoFrameSide)+":"+strconv.Itoa(videoFrameSide),
		"-frames:v", strconv.Itoa(e.frames),
		"-pix_fmt", "rgb24",
		"-f", "rawvideo",
		"pipe:1",
	)

	var stdout bytes.Buffer
	stderr := &boundedBuffer{limit: maxStderrBytes}
	cmd.Stdout = &stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		GetLogger().Debug("ffmpeg rejected video", logger.String("stderr", msg))
		return nil, corrupt("video", fmt.Errorf("ffmpeg: %s", msg))
	}

	return splitRGBFrames(stdout.Bytes(), videoFrameSide, videoFrameSide), nil
}

// splitRGBFrames converts packed rgb24 frames into images. A trailing partial frame is dropped.
func splitRGBFrames(raw []byte, w, h int) []image.Image {
	frameBytes := w * h * 3
	var frames []image.Image
	for off := 0; off+frameBytes <= len(raw); off += frameBytes {
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		src := raw[off : off+frameBytes]
		for i := range w * h {
			img.Pix[i*4] = src[i*3]
			img.Pix[i*4+1] = src[i*3+1]
			img.Pix[i*4+2] = src[i*3+2]
			img.Pix[i*4+3] = 0xff
		}
		frames = append(frames, img)
	}
	return frames
}

// boundedBuffer keeps the first limit bytes written to it
type boundedBuffer struct {
	buf   bytes.Buffer
	limit int
}

func (b *boundedBuffer) Write(p []byte) (int, error) {
	if room := b.limit - b.buf.Len(); room > 0 {
		b.buf.Write(p[:min(len(p), room)])
	}
	return len(p), nil
}

func (b *boundedBuffer) String() string { return b.buf.String() }

var _ io.Writer = (*boundedBuffer)(nil)
