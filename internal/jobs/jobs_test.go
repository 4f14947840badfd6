package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/andresmejia3/idgate/internal/audit"
)

func TestQueueRunsInOrder(t *testing.T) {
	q := NewQueue(10, nil)
	q.Start(context.Background())

	var mu sync.Mutex
	var order []int
	for i := 0; i < 5; i++ {
		if err := q.Enqueue(Job{Name: "n", Run: func(context.Context) error {
			mu.Lock()
			order = append(order, i)
			mu.Unlock()
			return nil
		}}); err != nil {
			t.Fatalf("Enqueue: %v", err)
		}
	}
	q.Close()

	if len(order) != 5 {
		t.Fatalf("ran %d jobs, want 5", len(order))
	}
	for i, v := range order {
		if v != i {
			t.Fatalf("order = %v", order)
		}
	}
	if err := q.Enqueue(Job{}); !errors.Is(err, ErrClosed) {
		t.Errorf("err = %v, want ErrClosed", err)
	}
}

func TestQueueFull(t *testing.T) {
	q := NewQueue(1, nil)
	if err := q.Enqueue(Job{Name: "a", Run: func(context.Context) error { return nil }}); err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	if err := q.Enqueue(Job{Name: "b"}); !errors.Is(err, ErrQueueFull) {
		t.Errorf("err = %v, want ErrQueueFull", err)
	}
}

func TestQueueSurvivesFailures(t *testing.T) {
	q := NewQueue(10, nil)
	q.Start(context.Background())
	var ran atomic.Int32
	q.Enqueue(Job{Name: "panic", Run: func(context.Context) error { panic("boom") }})
	q.Enqueue(Job{Name: "err", Run: func(context.Context) error { return errors.New("nope") }})
	q.Enqueue(Job{Name: "ok", Run: func(context.Context) error {
		ran.Add(1)
		return nil
	}})
	q.Close()
	if ran.Load() != 1 {
		t.Error("worker stopped after a failing job")
	}
}

func TestEvery(t *testing.T) {
	q := NewQueue(10, nil)
	ctx, cancel := context.WithCancel(context.Background())
	q.Start(ctx)

	var ticks atomic.Int32
	done := make(chan struct{})
	q.Every(ctx, 5*time.Millisecond, Job{Name: "tick", Run: func(context.Context) error {
		if ticks.Add(1) == 3 {
			close(done)
		}
		return nil
	}})

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("recurring job did not run three times")
	}
	cancel()
	q.Close()
}

type fakePurger struct {
	cutoff time.Time
	n      int64
	err    error
}

func (f *fakePurger) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	f.cutoff = cutoff
	return f.n, f.err
}

func TestVerificationJobs(t *testing.T) {
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	log := audit.NewMemoryLog(0)
	p := &fakePurger{n: 3}
	v := &Verification{Audit: log, Store: p, Retention: 30 * time.Minute, Now: func() time.Time { return now }}
	ctx := context.Background()

	if err := v.Reverify("RS-100042").Run(ctx); err != nil {
		t.Fatalf("reverify: %v", err)
	}
	if err := v.Cleanup().Run(ctx); err != nil {
		t.Fatalf("cleanup: %v", err)
	}
	if !p.cutoff.Equal(now.Add(-30 * time.Minute)) {
		t.Errorf("cutoff = %v", p.cutoff)
	}

	events := log.Read(10)
	if len(events) != 2 {
		t.Fatalf("events = %d", len(events))
	}
	if events[0].Action != "RetentionCleanup" || events[0].Details != "Expired data purged (3 sessions)" {
		t.Errorf("unexpected cleanup event %+v", events[0])
	}
	if events[1].Action != "Reverify" || events[1].Details != "doc=RS-100042" || events[1].Actor != "system" {
		t.Errorf("unexpected reverify event %+v", events[1])
	}

	p.err = errors.New("db down")
	if err := v.Cleanup().Run(ctx); err == nil {
		t.Error("expected purge error")
	}
	if log.Count() != 2 {
		t.Error("failed cleanup should not be audited as done")
	}
}

func TestCleanupWithoutStore(t *testing.T) {
	log := audit.NewMemoryLog(0)
	v := &Verification{Audit: log}
	if err := v.Cleanup().Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	if e := log.Read(1)[0]; e.Details != "Expired data purged" {
		t.Errorf("details = %q", e.Details)
	}
}
