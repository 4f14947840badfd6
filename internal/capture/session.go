package capture

import (
	"time"

	"github.com/andresmejia3/idgate/internal/types"
	"github.com/google/uuid"
)

// Session is the state of one front-then-back capture flow. Only the
// Orchestrator mutates it.
type Session struct {
	ID            string
	Side          types.Side
	Front         *types.Capture
	Back          *types.Capture
	StartedAt     time.Time
	LastCaptureAt time.Time
	Capturing     bool
}

func newSession(now time.Time) *Session {
	return &Session{ID: uuid.NewString(), Side: types.Front, StartedAt: now}
}

// Complete reports whether both sides are committed.
func (s Session) Complete() bool {
	return s.Side == types.Done && s.Front != nil && s.Back != nil
}

// store places c in its slot and recomputes the expected side.
func (s *Session) store(c *types.Capture) {
	switch c.Side {
	case types.Front:
		s.Front = c
	case types.Back:
		s.Back = c
	}
	switch {
	case s.Front == nil:
		s.Side = types.Front
	case s.Back == nil:
		s.Side = types.Back
	default:
		s.Side = types.Done
	}
}
