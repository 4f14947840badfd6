package stability

import (
	"math/rand"
	"testing"
)

func TestTrackerStaysInBounds(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for run := 0; run < 50; run++ {
		tr := New(10, 5)
		for i := 0; i < 500; i++ {
			ready := tr.Update(rng.Intn(3) != 0)
			if tr.Counter() < 0 || tr.Counter() > tr.Max() {
				t.Fatalf("run %d step %d: counter %d outside [0,%d]", run, i, tr.Counter(), tr.Max())
			}
			if ready != (tr.Counter() >= tr.Threshold()) {
				t.Fatalf("run %d step %d: ready=%v with counter %d", run, i, ready, tr.Counter())
			}
		}
	}
}

func TestTrackerReadyAtThreshold(t *testing.T) {
	tr := New(10, 5)
	for i := 1; i <= 9; i++ {
		if tr.Update(true) {
			t.Fatalf("ready too early at frame %d", i)
		}
	}
	if !tr.Update(true) {
		t.Fatal("expected ready at frame 10")
	}
	if !tr.Update(true) {
		t.Fatal("expected ready to hold at frame 11")
	}
}

func TestTrackerSingleFailureDecays(t *testing.T) {
	tr := New(10, 5)
	for i := 0; i < 9; i++ {
		tr.Update(true)
	}
	tr.Update(false)
	if got := tr.Counter(); got != 8 {
		t.Errorf("expected counter 8 after one failure, got %d", got)
	}
}

func TestTrackerMonotonic(t *testing.T) {
	tests := []struct {
		name  string
		good  bool
		start int
		want  func(prev, next int) bool
	}{
		{"passing never decreases", true, 0, func(p, n int) bool { return n >= p }},
		{"failing never increases", false, 15, func(p, n int) bool { return n <= p && n >= 0 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tr := New(10, 5)
			for tr.Counter() < tt.start {
				tr.Update(true)
			}
			for i := 0; i < 30; i++ {
				prev := tr.Counter()
				tr.Update(tt.good)
				if !tt.want(prev, tr.Counter()) {
					t.Fatalf("step %d: %d -> %d", i, prev, tr.Counter())
				}
			}
		})
	}
}

func TestTrackerReset(t *testing.T) {
	tr := New(3, 2)
	for i := 0; i < 5; i++ {
		tr.Update(true)
	}
	tr.Reset()
	if tr.Ready() || tr.Counter() != 0 {
		t.Errorf("expected cleared tracker, got counter=%d ready=%v", tr.Counter(), tr.Ready())
	}
}

func TestNewDefaults(t *testing.T) {
	tr := New(0, -1)
	if tr.Threshold() != DefaultThreshold || tr.Max() != DefaultThreshold {
		t.Errorf("unexpected defaults: threshold=%d max=%d", tr.Threshold(), tr.Max())
	}
}
