package audit

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
)

func TestReadNewestFirst(t *testing.T) {
	l := NewMemoryLog(0)
	for i := 0; i < 3; i++ {
		l.Write(NewEvent("system", fmt.Sprintf("a%d", i), ""))
	}
	got := l.Read(10)
	if len(got) != 3 {
		t.Fatalf("len = %d", len(got))
	}
	for i, want := range []string{"a2", "a1", "a0"} {
		if got[i].Action != want {
			t.Errorf("got[%d] = %s, want %s", i, got[i].Action, want)
		}
	}
	if got := l.Read(1); len(got) != 1 || got[0].Action != "a2" {
		t.Errorf("Read(1) = %+v", got)
	}
	if got := l.Read(-5); len(got) != 0 {
		t.Errorf("Read(-5) = %+v", got)
	}
}

func TestBounded(t *testing.T) {
	l := NewMemoryLog(5)
	for i := 0; i < 12; i++ {
		l.Write(Event{Action: fmt.Sprint(i)})
	}
	if l.Count() != 5 {
		t.Fatalf("count = %d, want 5", l.Count())
	}
	got := l.Read(100)
	if got[0].Action != "11" || got[4].Action != "7" {
		t.Errorf("kept wrong window: first=%s last=%s", got[0].Action, got[4].Action)
	}
}

func TestDefaultMax(t *testing.T) {
	l := NewMemoryLog(0)
	for i := 0; i < DefaultMax+10; i++ {
		l.Write(Event{})
	}
	if l.Count() != DefaultMax {
		t.Errorf("count = %d, want %d", l.Count(), DefaultMax)
	}
}

func TestConcurrentWrites(t *testing.T) {
	l := NewMemoryLog(100)
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 50; j++ {
				l.Write(NewEvent("u", "Verify", ""))
			}
		}()
	}
	wg.Wait()
	if l.Count() != 100 {
		t.Errorf("count = %d", l.Count())
	}
}

type recordingSink struct {
	mu     sync.Mutex
	events []Event
	err    error
}

func (s *recordingSink) SaveAuditEvent(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return s.err
}

func TestSink(t *testing.T) {
	sink := &recordingSink{}
	l := NewMemoryLog(1).WithSink(sink, nil)
	l.Write(NewEvent("a", "One", ""))
	sink.err = errors.New("db down")
	l.Write(NewEvent("a", "Two", ""))

	if len(sink.events) != 2 {
		t.Errorf("sink saw %d events, want 2", len(sink.events))
	}
	if l.Count() != 1 {
		t.Errorf("memory count = %d, want 1", l.Count())
	}
}

func TestNewEvent(t *testing.T) {
	e := NewEvent("Ana", "Verify", "doc=RS-1")
	if len(e.ID) != 32 || e.Timestamp.IsZero() || e.Timestamp.Location().String() != "UTC" {
		t.Errorf("unexpected event %+v", e)
	}
}
