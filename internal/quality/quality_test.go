package quality

import (
	"image"
	"image/color"
	"math"
	"testing"

	"github.com/andresmejia3/idgate/internal/types"
)

func flat(w, h int, v uint8) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for i := 0; i < len(img.Pix); i += 4 {
		img.Pix[i], img.Pix[i+1], img.Pix[i+2], img.Pix[i+3] = v, v, v, 255
	}
	return img
}

// stripes alternates black and white single-pixel columns.
func stripes(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if x%2 == 0 {
				img.Set(x, y, color.White)
			} else {
				img.Set(x, y, color.Black)
			}
		}
	}
	return img
}

func TestFlatGrayNeverGood(t *testing.T) {
	lenient := Thresholds{SharpMin: 1800, EdgeThreshold: 0, EdgeMin: -1, FillMin: 0, FillMax: 1}
	s := NewScorer(lenient)
	for _, size := range []image.Point{{64, 48}, {640, 480}} {
		for _, v := range []uint8{0, 64, 128, 255} {
			r := s.Score(flat(size.X, size.Y, v), DefaultGuide(500))
			if r.Sharpness != 0 {
				t.Errorf("gray %d at %v: expected zero variance, got %g", v, size, r.Sharpness)
			}
			if r.Good {
				t.Errorf("gray %d at %v: flat frame must fail the sharpness gate", v, size)
			}
		}
	}
}

func TestVariance(t *testing.T) {
	tests := []struct {
		name string
		in   []float64
		want float64
	}{
		{"empty", nil, 0},
		{"single", []float64{42}, 0},
		{"textbook", []float64{2, 4, 4, 4, 5, 5, 7, 9}, 4},
		{"constant non-representable", []float64{254.99999999999997, 254.99999999999997, 254.99999999999997}, 0},
		{"large offset", []float64{1e9 + 1, 1e9 + 3}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := variance(tt.in); got != tt.want {
				t.Errorf("variance(%v) = %g, want %g", tt.in, got, tt.want)
			}
		})
	}
}

func TestStripesPass(t *testing.T) {
	s := NewScorer(DefaultThresholds())
	r := s.Score(stripes(64, 48), DefaultGuide(500))
	if math.Abs(r.Sharpness-127.5*127.5) > 1 {
		t.Errorf("unexpected sharpness %f", r.Sharpness)
	}
	if r.EdgeDensity != 1 {
		t.Errorf("expected every sampled pixel to be an edge, got %f", r.EdgeDensity)
	}
	if !r.Good || r.Hint != types.HintHold {
		t.Errorf("expected good frame with hold hint, got good=%v hint=%v", r.Good, r.Hint)
	}
}

func TestHints(t *testing.T) {
	s := NewScorer(DefaultThresholds())
	tests := []struct {
		name  string
		img   *image.RGBA
		guide Guide
		want  types.Hint
	}{
		{"guide capped on wide viewport", stripes(32, 32), DefaultGuide(1000), types.HintFar},
		{"guide overflows", stripes(32, 32), Guide{ViewportWidth: 500, Ratio: 0.95}, types.HintClose},
		{"blurry but framed", flat(32, 32, 90), DefaultGuide(500), types.HintPlain},
		{"all good", stripes(32, 32), DefaultGuide(500), types.HintHold},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := s.Score(tt.img, tt.guide).Hint; got != tt.want {
				t.Errorf("hint = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestFillFraction(t *testing.T) {
	tests := []struct {
		guide Guide
		want  float64
	}{
		{DefaultGuide(500), 0.85},
		{DefaultGuide(1040), 0.5},
		{Guide{ViewportWidth: 0, Ratio: 0.85}, 0},
		{Guide{ViewportWidth: 400, Ratio: 0.7}, 0.7},
	}
	for _, tt := range tests {
		if got := tt.guide.FillFraction(); math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("FillFraction(%+v) = %f, want %f", tt.guide, got, tt.want)
		}
	}
}

func TestScoreSubImage(t *testing.T) {
	base := stripes(40, 40)
	sub := base.SubImage(image.Rect(10, 10, 30, 30)).(*image.RGBA)
	r := NewScorer(DefaultThresholds()).Score(sub, DefaultGuide(500))
	if !r.Good {
		t.Errorf("expected offset sub-image to score like its parent, got %+v", r)
	}
}

func TestEmptyFrame(t *testing.T) {
	r := NewScorer(DefaultThresholds()).Score(image.NewRGBA(image.Rect(0, 0, 0, 0)), DefaultGuide(500))
	if r.Good {
		t.Error("empty frame must not pass")
	}
}
