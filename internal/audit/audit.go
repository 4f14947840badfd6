// Package audit keeps a bounded, newest-first record of security-relevant
// actions.
package audit

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/andresmejia3/idgate/internal/utils"
	"github.com/google/uuid"
)

// DefaultMax is the number of events kept in memory.
const DefaultMax = 5000

type Event struct {
	ID         string    `json:"id"`
	Timestamp  time.Time `json:"timestamp"`
	Actor      string    `json:"actor"`
	Action     string    `json:"action"`
	Details    string    `json:"details,omitempty"`
	DurationMs *float64  `json:"durationMs,omitempty"`
}

// NewEvent stamps an event with a fresh ID and the current UTC time.
func NewEvent(actor, action, details string) Event {
	return Event{
		ID:        strings.ReplaceAll(uuid.NewString(), "-", ""),
		Timestamp: time.Now().UTC(),
		Actor:     actor,
		Action:    action,
		Details:   details,
	}
}

// Log is what producers write to and the audit endpoint reads from.
type Log interface {
	Write(e Event)
	Read(take int) []Event
	Count() int
}

// Sink persists events beyond the in-memory window.
type Sink interface {
	SaveAuditEvent(ctx context.Context, e Event) error
}

// MemoryLog is a Log that drops its oldest events past max.
type MemoryLog struct {
	mu     sync.Mutex
	events []Event
	max    int

	sink   Sink
	logger *slog.Logger
}

func NewMemoryLog(limit int) *MemoryLog {
	if limit <= 0 {
		limit = DefaultMax
	}
	return &MemoryLog{max: limit, logger: utils.DiscardLogger()}
}

// WithSink also forwards every event to s. Sink failures are logged, never
// returned to the writer.
func (l *MemoryLog) WithSink(s Sink, logger *slog.Logger) *MemoryLog {
	l.sink = s
	if logger != nil {
		l.logger = logger
	}
	return l
}

func (l *MemoryLog) Write(e Event) {
	l.mu.Lock()
	l.events = append(l.events, e)
	if over := len(l.events) - l.max; over > 0 {
		l.events = append(l.events[:0:0], l.events[over:]...)
	}
	l.mu.Unlock()

	if l.sink != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := l.sink.SaveAuditEvent(ctx, e); err != nil {
			l.logger.Warn("audit event not persisted", "id", e.ID, "action", e.Action, "error", err)
		}
	}
}

// Read returns up to take events, newest first.
func (l *MemoryLog) Read(take int) []Event {
	l.mu.Lock()
	defer l.mu.Unlock()
	if take > len(l.events) {
		take = len(l.events)
	}
	if take < 0 {
		take = 0
	}
	out := make([]Event, 0, take)
	for i := len(l.events) - 1; i >= 0 && len(out) < take; i-- {
		out = append(out, l.events[i])
	}
	return out
}

func (l *MemoryLog) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.events)
}
