package types

import (
	"fmt"
	"time"
)

// Side identifies which face of a two-sided document is expected next.
// Done means both sides have been committed.
type Side int

const (
	Front Side = iota
	Back
	Done
)

func (s Side) String() string {
	switch s {
	case Front:
		return "front"
	case Back:
		return "back"
	case Done:
		return "done"
	default:
		return fmt.Sprintf("side(%d)", int(s))
	}
}

// ParseSide accepts "front" or "back".
func ParseSide(s string) (Side, error) {
	switch s {
	case "front":
		return Front, nil
	case "back":
		return Back, nil
	}
	return Front, fmt.Errorf("unknown side %q (want front or back)", s)
}

// Hint is the user-facing guidance derived from the current metrics and side.
type Hint int

const (
	HintPlain Hint = iota // align the document inside the guide
	HintFar               // document too far away
	HintClose             // document overflows the frame
	HintHold              // all metrics pass, hold steady
	HintCapturing         // capture attempt in progress
)

func (h Hint) String() string {
	switch h {
	case HintFar:
		return "far"
	case HintClose:
		return "close"
	case HintHold:
		return "hold"
	case HintCapturing:
		return "capturing"
	default:
		return "plain"
	}
}

// Message renders the hint the way the capture overlay words it.
func (h Hint) Message(side Side) string {
	switch h {
	case HintFar:
		return "Move the document closer"
	case HintClose:
		return "Move the document further away"
	case HintHold:
		return "Hold steady…"
	case HintCapturing:
		return "Capturing…"
	}
	if side == Back {
		return "Align BACK side inside the frame"
	}
	return "Align FRONT side inside the frame"
}

// Capture is one committed side: the encoded snapshot plus the metrics that
// gated it.
type Capture struct {
	Side        Side
	JPEG        []byte
	Width       int
	Height      int
	Sharpness   float64
	EdgeDensity float64
	Fill        float64
	Manual      bool
	CapturedAt  time.Time
}
