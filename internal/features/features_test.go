package features

import (
	"bytes"
	"context"
	"encoding/binary"
	"hash/crc32"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"math"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// texturedImage draws a deterministic gradient with a checker overlay
func texturedImage(w, h int, seed uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := range h {
		for x := range w {
			v := uint8((x*7 + y*3 + int(seed)) % 256)
			if (x/4+y/4)%2 == 0 {
				v /= 2
			}
			img.Set(x, y, color.RGBA{R: v, G: 255 - v, B: uint8((int(v) + int(seed)) % 256), A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))
	return buf.Bytes()
}

func encodeJPEG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, img, &jpeg.Options{Quality: 60}))
	return buf.Bytes()
}

func TestImageExtractionIsDeterministic(t *testing.T) {
	t.Parallel()
	data := encodePNG(t, texturedImage(64, 48, 1))
	ext := New(Options{})

	v1, d1, err := ext.Extract(context.Background(), data)
	require.NoError(t, err)
	v2, _, err := ext.Extract(context.Background(), data)
	require.NoError(t, err)

	require.Len(t, v1, VectorSize)
	assert.Equal(t, v1, v2)
	assert.Equal(t, "image/png", d1.MediaType)
	assert.Equal(t, 64, d1.Width)
	assert.False(t, d1.LowSignal)
	for i, x := range v1 {
		assert.False(t, math.IsNaN(x) || math.IsInf(x, 0), "component %d is not finite", i)
	}
}

func TestDifferentImagesDiffer(t *testing.T) {
	t.Parallel()
	ext := New(Options{})

	a, _, err := ext.Extract(context.Background(), encodePNG(t, texturedImage(64, 64, 1)))
	require.NoError(t, err)
	b, _, err := ext.Extract(context.Background(), encodeJPEG(t, texturedImage(64, 64, 90)))
	require.NoError(t, err)

	assert.NotEqual(t, a, b)
}

func TestHistogramSumsToOne(t *testing.T) {
	t.Parallel()
	vec, _, err := NewImageExtractor(0).Extract(context.Background(), encodePNG(t, texturedImage(40, 40, 3)))
	require.NoError(t, err)

	var sum float64
	for i := range histogramBins {
		sum += vec[idxHistogram+i]
	}
	assert.InDelta(t, 1.0, sum, 1e-9)
}

func TestUniformImageIsLowSignal(t *testing.T) {
	t.Parallel()
	img := image.NewRGBA(image.Rect(0, 0, 32, 32))
	for i := range img.Pix {
		img.Pix[i] = 0xff
	}

	vec, diag, err := New(Options{}).Extract(context.Background(), encodePNG(t, img))
	require.NoError(t, err)
	assert.True(t, diag.LowSignal)
	assert.Equal(t, LowConfidenceVector(), vec)
}

func TestUnsupportedMedia(t *testing.T) {
	t.Parallel()
	_, _, err := New(Options{}).Extract(context.Background(), []byte("just some text, not media"))
	require.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestVideoWithoutFfmpegIsUnsupported(t *testing.T) {
	t.Parallel()
	mp4Header := []byte{0, 0, 0, 0x18, 'f', 't', 'y', 'p', 'i', 's', 'o', 'm', 0, 0, 2, 0, 'i', 's', 'o', 'm', 'i', 's', 'o', '2'}

	_, _, err := New(Options{}).Extract(context.Background(), mp4Header)
	require.ErrorIs(t, err, ErrUnsupportedMedia)

	_, _, err = NewVideoExtractor("", 4).Extract(context.Background(), mp4Header)
	require.ErrorIs(t, err, ErrUnsupportedMedia)
}

func TestCorruptMedia(t *testing.T) {
	t.Parallel()
	data := encodePNG(t, texturedImage(64, 64, 5))

	_, _, err := New(Options{}).Extract(context.Background(), data[:len(data)/2])
	require.ErrorIs(t, err, ErrCorruptMedia)

	_, _, err = New(Options{}).Extract(context.Background(), nil)
	require.ErrorIs(t, err, ErrCorruptMedia)
}

func TestSplitRGBFramesAndFlicker(t *testing.T) {
	t.Parallel()
	const side = 16
	raw := make([]byte, 0, side*side*3*2+5)
	for frame := range 2 {
		for i := range side * side {
			v := byte((i * 13) % 256)
			if frame == 1 {
				v /= 2
			}
			raw = append(raw, v, 255-v, v/2)
		}
	}
	raw = append(raw, 1, 2, 3, 4, 5) // partial trailing frame

	frames := splitRGBFrames(raw, side, side)
	require.Len(t, frames, 2)

	vec, low := NewVideoExtractor("ffmpeg", 2).vectorForFrames(frames)
	assert.False(t, low)
	assert.Greater(t, vec[idxFlicker], 0.0)

	_, low = NewVideoExtractor("ffmpeg", 2).vectorForFrames(nil)
	assert.True(t, low)
}

type countingExtractor struct {
	calls atomic.Int32
	delay time.Duration
}

func (c *countingExtractor) Extract(context.Context, []byte) (Vector, *Diagnostics, error) {
	c.calls.Add(1)
	time.Sleep(c.delay)
	vec := LowConfidenceVector()
	vec[0] = 1
	return vec, &Diagnostics{MediaType: "image/png"}, nil
}

func TestCachedExtractorDeduplicates(t *testing.T) {
	t.Parallel()
	inner := &countingExtractor{delay: 20 * time.Millisecond}
	ext := NewCachedExtractor(inner, time.Minute, 0)

	var wg sync.WaitGroup
	for range 8 {
		wg.Go(func() {
			vec, _, err := ext.Extract(context.Background(), []byte("same bytes"))
			assert.NoError(t, err)
			assert.Equal(t, 1.0, vec[0])
		})
	}
	wg.Wait()

	_, _, err := ext.Extract(context.Background(), []byte("same bytes"))
	require.NoError(t, err)
	assert.Equal(t, int32(1), inner.calls.Load())
	assert.Equal(t, 1, ext.Len())
}

func TestCachedExtractorReturnsCopies(t *testing.T) {
	t.Parallel()
	ext := NewCachedExtractor(&countingExtractor{}, time.Minute, 0)

	v1, d1, err := ext.Extract(context.Background(), []byte("x"))
	require.NoError(t, err)
	v1[0] = 42
	d1.MediaType = "mutated"

	v2, d2, err := ext.Extract(context.Background(), []byte("x"))
	require.NoError(t, err)
	assert.Equal(t, 1.0, v2[0])
	assert.Equal(t, "image/png", d2.MediaType)
}

func TestContentHash(t *testing.T) {
	t.Parallel()
	assert.Equal(t, ContentHash([]byte("a")), ContentHash([]byte("a")))
	assert.NotEqual(t, ContentHash([]byte("a")), ContentHash([]byte("b")))
	assert.Len(t, ContentHash(nil), 64)
}

// withDeclaredSize rewrites the IHDR dimensions of a PNG and fixes its checksum, leaving
// the pixel data untouched
func withDeclaredSize(t *testing.T, data []byte, w, h uint32) []byte {
	t.Helper()
	out := bytes.Clone(data)
	require.Equal(t, "IHDR", string(out[12:16]))
	binary.BigEndian.PutUint32(out[16:20], w)
	binary.BigEndian.PutUint32(out[20:24], h)
	binary.BigEndian.PutUint32(out[29:33], crc32.ChecksumIEEE(out[12:29]))
	return out
}

func TestOversizedImageRejectedBeforeDecode(t *testing.T) {
	t.Parallel()
	bomb := withDeclaredSize(t, encodePNG(t, texturedImage(4, 4, 1)), 60000, 60000)

	_, _, err := New(Options{}).Extract(context.Background(), bomb)
	require.ErrorIs(t, err, ErrUnsupportedMedia)
	assert.Contains(t, err.Error(), "60000x60000")
}

func TestImagePixelLimitIsConfigurable(t *testing.T) {
	t.Parallel()
	ext := NewImageExtractor(200)

	_, _, err := ext.Extract(context.Background(), encodePNG(t, texturedImage(10, 10, 1)))
	require.NoError(t, err)

	_, _, err = ext.Extract(context.Background(), encodePNG(t, texturedImage(20, 20, 1)))
	require.ErrorIs(t, err, ErrUnsupportedMedia)
}

// blockingExtractor waits for release, failing early only if its ctx ends
type blockingExtractor struct {
	started chan struct{}
	release chan struct{}
	once    sync.Once
}

func (b *blockingExtractor) Extract(ctx context.Context, _ []byte) (Vector, *Diagnostics, error) {
	b.once.Do(func() { close(b.started) })
	select {
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	case <-b.release:
	}
	return LowConfidenceVector(), &Diagnostics{MediaType: "video/mp4"}, nil
}

func TestCachedExtractionSurvivesFirstCallerCancel(t *testing.T) {
	t.Parallel()
	inner := &blockingExtractor{started: make(chan struct{}), release: make(chan struct{})}
	ext := NewCachedExtractor(inner, time.Minute, 0)

	firstCtx, cancelFirst := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, _, err := ext.Extract(firstCtx, []byte("clip"))
		firstErr <- err
	}()
	<-inner.started

	secondErr := make(chan error, 1)
	go func() {
		_, d, err := ext.Extract(context.Background(), []byte("clip"))
		if err == nil && d.MediaType != "video/mp4" {
			err = assert.AnError
		}
		secondErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	cancelFirst()
	require.ErrorIs(t, <-firstErr, context.Canceled)

	close(inner.release)
	select {
	case err := <-secondErr:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("second caller never received the shared result")
	}
}
