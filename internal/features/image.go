package features

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"math"

	"github.com/cybershakti/deepfake-go/internal/errors"
)

// Vector layout. Every slot is normalised to roughly [0,1] or [-1,1].
const (
	idxHistogram     = 0 // 8 luminance bins
	idxMeanRGB       = 8 // 3 channel means
	idxStdRGB        = 11
	idxLumMean       = 14
	idxLumStd        = 15
	idxGradEnergy    = 16
	idxEdgeDensity   = 17
	idxNoiseMean     = 18
	idxNoiseStd      = 19
	idxBlockiness    = 20
	idxSatMean       = 21
	idxSatStd        = 22
	idxCorrRG        = 23
	idxCorrRB        = 24
	idxCorrGB        = 25
	idxLaplacianVar  = 26
	idxClipped       = 27
	idxAspect        = 28
	idxGradBalance   = 29
	idxFlicker       = 30
	idxSignalQuality = 31

	histogramBins = 8

	// analysisSide bounds the sampled grid so cost doesn't grow with resolution
	analysisSide = 256
	blockSize    = 8
	edgeThresh   = 0.1
	lowSignalStd = 1e-3
)

// DefaultMaxImagePixels bounds width × height before a full decode. The header is read
// first, so a tiny file declaring a huge canvas is rejected without allocating it.
const DefaultMaxImagePixels = 32 << 20

// ImageExtractor computes colour, texture and compression statistics from still images.
// JPEG, PNG and GIF are supported.
type ImageExtractor struct {
	maxPixels int64
}

// NewImageExtractor returns an image extractor. maxPixels <= 0 uses DefaultMaxImagePixels.
func NewImageExtractor(maxPixels int) *ImageExtractor {
	if maxPixels <= 0 {
		maxPixels = DefaultMaxImagePixels
	}
	return &ImageExtractor{maxPixels: int64(maxPixels)}
}

// Extract decodes data and computes its vector
func (e *ImageExtractor) Extract(ctx context.Context, data []byte) (Vector, *Diagnostics, error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		if errors.Is(err, image.ErrFormat) {
			return nil, nil, unsupported("image", "unrecognised image format")
		}
		return nil, nil, corrupt("image", err)
	}
	if cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, nil, corrupt("image/"+format, errZeroSize)
	}
	if int64(cfg.Width)*int64(cfg.Height) > e.maxPixels {
		return nil, nil, unsupported("image/"+format,
			fmt.Sprintf("%dx%d exceeds the %d pixel limit", cfg.Width, cfg.Height, e.maxPixels))
	}

	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, nil, corrupt("image/"+format, err)
	}

	vec, low := e.vectorFor(img)
	b := img.Bounds()
	diag := &Diagnostics{
		MediaType: "image/" + format,
		Width:     b.Dx(),
		Height:    b.Dy(),
		LowSignal: low,
	}
	return vec, diag, nil
}

var errZeroSize = errors.NewStd("image has zero size")

// plane is a sampled RGB grid with values in [0,1]
type plane struct {
	w, h    int
	r, g, b []float64
	lum     []float64
}

func samplePlane(img image.Image, maxSide int) *plane {
	bounds := img.Bounds()
	step := 1
	if longest := max(bounds.Dx(), bounds.Dy()); longest > maxSide {
		step = (longest + maxSide - 1) / maxSide
	}
	return readPlane(img, bounds.Min.X, bounds.Min.Y, bounds.Dx(), bounds.Dy(), step)
}

// readPlane samples every step-th pixel of the w×h region starting at (x0,y0)
func readPlane(img image.Image, x0, y0, w, h, step int) *plane {
	pw := (w + step - 1) / step
	ph := (h + step - 1) / step
	n := pw * ph
	p := &plane{
		w: pw, h: ph,
		r: make([]float64, n), g: make([]float64, n), b: make([]float64, n),
		lum: make([]float64, n),
	}

	for y := range ph {
		for x := range pw {
			cr, cg, cb, _ := img.At(x0+x*step, y0+y*step).RGBA()
			i := y*pw + x
			p.r[i] = float64(cr) / 0xffff
			p.g[i] = float64(cg) / 0xffff
			p.b[i] = float64(cb) / 0xffff
			p.lum[i] = 0.299*p.r[i] + 0.587*p.g[i] + 0.114*p.b[i]
		}
	}
	return p
}

// vectorFor computes the image vector. The second result reports a blank or uniform image,
// in which case the returned vector is LowConfidenceVector.
func (e *ImageExtractor) vectorFor(img image.Image) (Vector, bool) {
	p := samplePlane(img, analysisSide)
	vec := make(Vector, VectorSize)

	lumMean, lumStd := meanStd(p.lum)
	gradEnergy, edgeDensity, gradBalance := gradientStats(p)

	if lumStd < lowSignalStd && gradEnergy < lowSignalStd {
		return LowConfidenceVector(), true
	}

	for _, l := range p.lum {
		bin := min(int(l*histogramBins), histogramBins-1)
		vec[idxHistogram+bin]++
	}
	for i := range histogramBins {
		vec[idxHistogram+i] /= float64(len(p.lum))
	}

	var stds [3]float64
	for i, ch := range [][]float64{p.r, p.g, p.b} {
		vec[idxMeanRGB+i], stds[i] = meanStd(ch)
		vec[idxStdRGB+i] = stds[i]
	}

	vec[idxLumMean] = lumMean
	vec[idxLumStd] = lumStd
	vec[idxGradEnergy] = gradEnergy
	vec[idxEdgeDensity] = edgeDensity
	vec[idxGradBalance] = gradBalance

	vec[idxNoiseMean], vec[idxNoiseStd] = noiseResidual(p)
	vec[idxLaplacianVar] = math.Min(1, laplacianVariance(p)*10)

	vec[idxBlockiness] = blockiness(img)

	satMean, satStd := saturationStats(p)
	vec[idxSatMean] = satMean
	vec[idxSatStd] = satStd

	vec[idxCorrRG] = correlation(p.r, p.g)
	vec[idxCorrRB] = correlation(p.r, p.b)
	vec[idxCorrGB] = correlation(p.g, p.b)

	clipped := 0
	for _, l := range p.lum {
		if l < 0.02 || l > 0.98 {
			clipped++
		}
	}
	vec[idxClipped] = float64(clipped) / float64(len(p.lum))

	bounds := img.Bounds()
	aspect := math.Log(float64(bounds.Dx()) / float64(bounds.Dy()))
	vec[idxAspect] = math.Max(-1, math.Min(1, aspect/3))

	vec[idxFlicker] = 0
	vec[idxSignalQuality] = math.Min(1, lumStd*4)

	return vec, false
}

func meanStd(xs []float64) (mean, std float64) {
	if len(xs) == 0 {
		return 0, 0
	}
	for _, x := range xs {
		mean += x
	}
	mean /= float64(len(xs))
	for _, x := range xs {
		d := x - mean
		std += d * d
	}
	return mean, math.Sqrt(std / float64(len(xs)))
}

// gradientStats returns mean gradient magnitude, the fraction of strong edges and the share
// of horizontal gradient in total gradient (0.5 for flat images)
func gradientStats(p *plane) (energy, density, balance float64) {
	if p.w < 2 || p.h < 2 {
		return 0, 0, 0.5
	}

	var sumMag, sumX, sumY float64
	edges, n := 0, 0
	for y := 0; y < p.h-1; y++ {
		for x := 0; x < p.w-1; x++ {
			i := y*p.w + x
			gx := p.lum[i+1] - p.lum[i]
			gy := p.lum[i+p.w] - p.lum[i]
			mag := math.Hypot(gx, gy)
			sumMag += mag
			sumX += math.Abs(gx)
			sumY += math.Abs(gy)
			if mag > edgeThresh {
				edges++
			}
			n++
		}
	}

	energy = sumMag / float64(n)
	density = float64(edges) / float64(n)
	balance = 0.5
	if sumX+sumY > 0 {
		balance = sumX / (sumX + sumY)
	}
	return energy, density, balance
}

// noiseResidual measures the deviation of each pixel from its 4-neighbour mean
func noiseResidual(p *plane) (mean, std float64) {
	if p.w < 3 || p.h < 3 {
		return 0, 0
	}
	res := make([]float64, 0, (p.w-2)*(p.h-2))
	for y := 1; y < p.h-1; y++ {
		for x := 1; x < p.w-1; x++ {
			i := y*p.w + x
			avg := (p.lum[i-1] + p.lum[i+1] + p.lum[i-p.w] + p.lum[i+p.w]) / 4
			res = append(res, math.Abs(p.lum[i]-avg))
		}
	}
	return meanStd(res)
}

func laplacianVariance(p *plane) float64 {
	if p.w < 3 || p.h < 3 {
		return 0
	}
	lap := make([]float64, 0, (p.w-2)*(p.h-2))
	for y := 1; y < p.h-1; y++ {
		for x := 1; x < p.w-1; x++ {
			i := y*p.w + x
			lap = append(lap, 4*p.lum[i]-p.lum[i-1]-p.lum[i+1]-p.lum[i-p.w]-p.lum[i+p.w])
		}
	}
	_, std := meanStd(lap)
	return std * std
}

// blockiness compares luminance steps across 8-pixel block boundaries with steps inside
// blocks, on a full-resolution centre crop. Values above 0.5 mean visible block edges.
func blockiness(img image.Image) float64 {
	b := img.Bounds()
	w := min(b.Dx(), analysisSide)
	h := min(b.Dy(), analysisSide)
	if w <= blockSize || h < 1 {
		return 0.5
	}
	x0 := b.Min.X + (b.Dx()-w)/2
	y0 := b.Min.Y + (b.Dy()-h)/2
	// align the crop with the encoder's block grid
	x0 -= (x0 - b.Min.X) % blockSize
	p := readPlane(img, x0, y0, w, h, 1)

	var boundary, inner float64
	nb, ni := 0, 0
	for y := range p.h {
		for x := 0; x < p.w-1; x++ {
			d := math.Abs(p.lum[y*p.w+x+1] - p.lum[y*p.w+x])
			if (x+1)%blockSize == 0 {
				boundary += d
				nb++
			} else {
				inner += d
				ni++
			}
		}
	}
	if nb == 0 || ni == 0 {
		return 0.5
	}
	boundary /= float64(nb)
	inner /= float64(ni)
	if boundary+inner == 0 {
		return 0.5
	}
	return boundary / (boundary + inner)
}

func saturationStats(p *plane) (mean, std float64) {
	sat := make([]float64, len(p.r))
	for i := range p.r {
		hi := max(p.r[i], p.g[i], p.b[i])
		lo := min(p.r[i], p.g[i], p.b[i])
		if hi > 0 {
			sat[i] = (hi - lo) / hi
		}
	}
	return meanStd(sat)
}

// correlation is the Pearson coefficient, 0 when either input is constant
func correlation(a, b []float64) float64 {
	ma, sa := meanStd(a)
	mb, sb := meanStd(b)
	if sa == 0 || sb == 0 {
		return 0
	}
	var cov float64
	for i := range a {
		cov += (a[i] - ma) * (b[i] - mb)
	}
	cov /= float64(len(a))
	return math.Max(-1, math.Min(1, cov/(sa*sb)))
}
