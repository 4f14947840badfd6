// Package stability debounces the per-frame pass/fail signal into a stable
// "ready" flag using a bounded counter with hysteresis.
package stability

const (
	DefaultThreshold = 10
	DefaultSlack     = 5
)

// Tracker counts up on good frames and down on bad ones. The counter is
// clamped to [0, threshold+slack]; ready holds while counter >= threshold.
type Tracker struct {
	threshold int
	slack     int
	counter   int
}

// New returns a tracker. A non-positive threshold uses DefaultThreshold and a
// negative slack is treated as zero.
func New(threshold, slack int) *Tracker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if slack < 0 {
		slack = 0
	}
	return &Tracker{threshold: threshold, slack: slack}
}

// Update folds one frame verdict into the counter and returns Ready().
func (t *Tracker) Update(good bool) bool {
	if good {
		if t.counter < t.threshold+t.slack {
			t.counter++
		}
	} else if t.counter > 0 {
		t.counter--
	}
	return t.Ready()
}

// Ready reports whether enough consecutive good frames have accumulated.
func (t *Tracker) Ready() bool { return t.counter >= t.threshold }

// Counter exposes the current count.
func (t *Tracker) Counter() int { return t.counter }

// Threshold returns the ready threshold.
func (t *Tracker) Threshold() int { return t.threshold }

// Max is the counter ceiling.
func (t *Tracker) Max() int { return t.threshold + t.slack }

// Reset zeroes the counter and clears ready.
func (t *Tracker) Reset() { t.counter = 0 }
