// Package quality scores a sampled frame for capture readiness: sharpness
// (luminance variance), edge density and guide fill fraction.
package quality

import (
	"image"
	"math"

	"github.com/andresmejia3/idgate/internal/types"
)

// Thresholds are the tunable pass criteria. Luminance is on an 8-bit scale.
type Thresholds struct {
	SharpMin      float64 // luminance variance must exceed this
	EdgeThreshold float64 // |gx|+|gy| above this marks an edge pixel
	EdgeMin       float64 // edge density must exceed this
	FillMin       float64
	FillMax       float64
}

// DefaultThresholds returns the nominal values the gate was tuned with.
func DefaultThresholds() Thresholds {
	return Thresholds{
		SharpMin:      1800,
		EdgeThreshold: 60,
		EdgeMin:       0.05,
		FillMin:       0.55,
		FillMax:       0.92,
	}
}

// Guide describes the on-screen overlay the document is aligned to.
type Guide struct {
	ViewportWidth float64 // displayed video width
	Ratio         float64 // guide width as a share of the viewport
	MaxWidth      float64 // physical cap on guide width, 0 for none
}

// DefaultGuide mirrors the capture overlay: 85% of the viewport, capped at
// 520 display pixels.
func DefaultGuide(viewportWidth float64) Guide {
	return Guide{ViewportWidth: viewportWidth, Ratio: 0.85, MaxWidth: 520}
}

// FillFraction is the guide width divided by the viewport width.
func (g Guide) FillFraction() float64 {
	if g.ViewportWidth <= 0 {
		return 0
	}
	w := g.ViewportWidth * g.Ratio
	if g.MaxWidth > 0 && w > g.MaxWidth {
		w = g.MaxWidth
	}
	return w / g.ViewportWidth
}

// Metrics are derived purely from one frame and the guide geometry.
type Metrics struct {
	Sharpness   float64 `json:"sharpness" yaml:"sharpness"`
	EdgeDensity float64 `json:"edgeDensity" yaml:"edge_density"`
	Fill        float64 `json:"fillFraction" yaml:"fill_fraction"`
}

// Result is the per-cycle verdict.
type Result struct {
	Metrics
	SharpOK bool
	EdgeOK  bool
	FillOK  bool
	Good    bool
	Hint    types.Hint
}

// Scorer evaluates frames against a fixed set of thresholds.
type Scorer struct {
	t Thresholds
}

// NewScorer returns a scorer using t.
func NewScorer(t Thresholds) *Scorer {
	return &Scorer{t: t}
}

// Thresholds returns the scorer's pass criteria.
func (s *Scorer) Thresholds() Thresholds { return s.t }

// Score computes all three metrics for img and derives frameGood and the hint.
func (s *Scorer) Score(img *image.RGBA, g Guide) Result {
	var r Result
	if img == nil || img.Rect.Empty() {
		return r
	}
	luma := luminance(img)
	w, h := img.Rect.Dx(), img.Rect.Dy()

	r.Sharpness = variance(luma)
	r.EdgeDensity = edgeDensity(luma, w, h, s.t.EdgeThreshold)
	r.Fill = g.FillFraction()

	r.SharpOK = r.Sharpness > s.t.SharpMin
	r.EdgeOK = r.EdgeDensity > s.t.EdgeMin
	r.FillOK = r.Fill >= s.t.FillMin && r.Fill <= s.t.FillMax
	r.Good = r.SharpOK && r.EdgeOK && r.FillOK
	r.Hint = hintFor(r, s.t)
	return r
}

func hintFor(r Result, t Thresholds) types.Hint {
	switch {
	case r.Fill < t.FillMin:
		return types.HintFar
	case r.Fill > t.FillMax:
		return types.HintClose
	case r.Good:
		return types.HintHold
	default:
		return types.HintPlain
	}
}

// luminance converts img to Rec. 709 luma, row-major.
func luminance(img *image.RGBA) []float64 {
	w, h := img.Rect.Dx(), img.Rect.Dy()
	out := make([]float64, w*h)
	for y := 0; y < h; y++ {
		off := img.PixOffset(img.Rect.Min.X, img.Rect.Min.Y+y)
		row := img.Pix[off : off+w*4]
		for x := 0; x < w; x++ {
			p := row[x*4 : x*4+3]
			out[y*w+x] = 0.2126*float64(p[0]) + 0.7152*float64(p[1]) + 0.0722*float64(p[2])
		}
	}
	return out
}

// variance is the population variance of v, computed in two passes over
// deviations from v[0] so a constant input yields exactly zero.
func variance(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	shift := v[0]
	var sum float64
	for _, y := range v {
		sum += y - shift
	}
	n := float64(len(v))
	mean := sum / n

	var sq float64
	for _, y := range v {
		d := y - shift - mean
		sq += d * d
	}
	return sq / n
}

// edgeDensity samples every 2nd pixel in both axes, skipping a 1-pixel
// border, and counts pixels whose forward gradient magnitude exceeds threshold.
func edgeDensity(luma []float64, w, h int, threshold float64) float64 {
	var sampled, edges int
	for y := 1; y < h-1; y += 2 {
		for x := 1; x < w-1; x += 2 {
			i := y*w + x
			gx := luma[i+1] - luma[i]
			gy := luma[i+w] - luma[i]
			if math.Abs(gx)+math.Abs(gy) > threshold {
				edges++
			}
			sampled++
		}
	}
	if sampled == 0 {
		return 0
	}
	return float64(edges) / float64(sampled)
}
