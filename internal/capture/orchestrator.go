// Package capture sequences a two-sided document capture: it turns per-frame
// quality verdicts into commits of the front and back sides.
package capture

import (
	"context"
	"errors"
	"image"
	"sync"
	"time"

	"github.com/andresmejia3/idgate/internal/quality"
	"github.com/andresmejia3/idgate/internal/stability"
	"github.com/andresmejia3/idgate/internal/types"
	"github.com/andresmejia3/idgate/internal/video"
)

var (
	// ErrBusy is returned by manual triggers while an attempt is outstanding.
	ErrBusy = errors.New("capture attempt already in progress")
	// ErrComplete is returned once both sides are committed.
	ErrComplete = errors.New("both sides already captured")
)

// Config holds the timing rules of the state machine.
type Config struct {
	MinSideDelay  time.Duration // minimum gap between front commit and back trigger
	Debounce      time.Duration // settle window before the snapshot
	ValidateFront bool          // also run the side check on front captures
}

// DefaultConfig returns the nominal timings.
func DefaultConfig() Config {
	return Config{
		MinSideDelay: 1200 * time.Millisecond,
		Debounce:     350 * time.Millisecond,
	}
}

// Cycle is one scored frame handed to the orchestrator.
type Cycle struct {
	Now   time.Time
	Image image.Image // full-resolution frame, source of the snapshot
	Score quality.Result
}

// Effects describe what happened during a step; the UI renders from these.
type Effects struct {
	Side        types.Side
	Hint        types.Hint
	Ready       bool
	Counter     int
	Capturing   bool
	Committed   *types.Capture // non-nil on the step a side commits
	Rejected    bool           // attempt abandoned: ready lost during debounce
	Mismatch    bool           // side check rejected the snapshot
	Unavailable bool           // side check could not run: engine required but unusable
	Done        bool
	Err         error
}

type verdict struct {
	capture     *types.Capture
	ok          bool
	unavailable bool
}

// Orchestrator is the AwaitingFront -> AwaitingBack -> Done state machine.
// It is not safe for concurrent use: one loop owns it and calls Step once per
// frame. Side checks run off-loop and are collected by a later Step.
type Orchestrator struct {
	cfg       Config
	tracker   *stability.Tracker
	validator SideValidator
	encode    func(image.Image) ([]byte, error)

	session   *Session
	auto      bool
	pendingAt time.Time

	inflight chan verdict
	cancel   context.CancelFunc
	wg       sync.WaitGroup
}

// New builds an orchestrator. validator may be nil, in which case every
// snapshot commits.
func New(cfg Config, tracker *stability.Tracker, validator SideValidator) *Orchestrator {
	return &Orchestrator{
		cfg:       cfg,
		tracker:   tracker,
		validator: validator,
		encode:    video.EncodeJPEG,
		session:   newSession(time.Now()),
		auto:      true,
	}
}

// SetAuto toggles automatic triggering. Manual capture works either way.
func (o *Orchestrator) SetAuto(on bool) { o.auto = on }

// Session returns a copy of the current session.
func (o *Orchestrator) Session() Session { return *o.session }

// Step folds one frame into the tracker and advances the state machine.
func (o *Orchestrator) Step(ctx context.Context, c Cycle) Effects {
	ready := o.tracker.Update(c.Score.Good)
	var eff Effects

	switch {
	case o.inflight != nil:
		select {
		case v := <-o.inflight:
			o.inflight = nil
			o.resolve(v, c.Now, &eff)
		default:
		}
	case o.session.Capturing:
		if c.Now.Sub(o.pendingAt) >= o.cfg.Debounce {
			if o.tracker.Ready() {
				o.snapshot(ctx, c, false, &eff)
			} else {
				eff.Rejected = true
				o.finish()
			}
		}
	case o.auto && ready && o.canTrigger(c.Now):
		o.session.Capturing = true
		o.pendingAt = c.Now
	}

	o.fill(&eff, c.Score.Hint)
	return eff
}

// Manual snapshots c immediately, skipping the ready gate, throttle and
// debounce. The side check and commit still apply.
func (o *Orchestrator) Manual(ctx context.Context, c Cycle) (Effects, error) {
	var eff Effects
	if o.session.Capturing {
		return eff, ErrBusy
	}
	if o.session.Side == types.Done {
		return eff, ErrComplete
	}
	o.session.Capturing = true
	o.snapshot(ctx, c, true, &eff)
	o.fill(&eff, c.Score.Hint)
	return eff, nil
}

// CommitFile stores an operator-selected still image for side without any
// gating, as when a file is chosen instead of using the camera.
func (o *Orchestrator) CommitFile(side types.Side, img image.Image, now time.Time) (*types.Capture, error) {
	if o.session.Capturing {
		return nil, ErrBusy
	}
	if side != types.Front && side != types.Back {
		return nil, errors.New("file capture needs front or back")
	}
	data, err := o.encode(img)
	if err != nil {
		return nil, err
	}
	b := img.Bounds()
	c := &types.Capture{Side: side, JPEG: data, Width: b.Dx(), Height: b.Dy(), Manual: true, CapturedAt: now}
	o.session.store(c)
	o.session.LastCaptureAt = now
	o.tracker.Reset()
	return c, nil
}

// WaitValidation blocks until any outstanding side check has produced its
// verdict. The verdict is applied by the next Step.
func (o *Orchestrator) WaitValidation() { o.wg.Wait() }

// Reset abandons any attempt and starts a fresh session.
func (o *Orchestrator) Reset(now time.Time) {
	o.Close()
	o.inflight = nil
	o.pendingAt = time.Time{}
	o.tracker.Reset()
	o.session = newSession(now)
}

// Close cancels an outstanding side check and waits for it to return.
func (o *Orchestrator) Close() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.wg.Wait()
}

func (o *Orchestrator) canTrigger(now time.Time) bool {
	switch o.session.Side {
	case types.Front:
		return true
	case types.Back:
		return now.Sub(o.session.LastCaptureAt) >= o.cfg.MinSideDelay
	default:
		return false
	}
}

func (o *Orchestrator) needsCheck(side types.Side) bool {
	if o.validator == nil {
		return false
	}
	return side == types.Back || (side == types.Front && o.cfg.ValidateFront)
}

// snapshot encodes the frame and either commits it or hands it to the side
// validator. Capturing must already be set.
func (o *Orchestrator) snapshot(ctx context.Context, c Cycle, manual bool, eff *Effects) {
	if c.Image == nil {
		eff.Err = errors.New("no frame to snapshot")
		o.finish()
		return
	}
	data, err := o.encode(c.Image)
	if err != nil {
		eff.Err = err
		o.finish()
		return
	}
	b := c.Image.Bounds()
	capture := &types.Capture{
		Side:        o.session.Side,
		JPEG:        data,
		Width:       b.Dx(),
		Height:      b.Dy(),
		Sharpness:   c.Score.Sharpness,
		EdgeDensity: c.Score.EdgeDensity,
		Fill:        c.Score.Fill,
		Manual:      manual,
		CapturedAt:  c.Now,
	}

	if !o.needsCheck(capture.Side) {
		o.commit(capture, c.Now, eff)
		return
	}

	vctx, cancel := context.WithCancel(ctx)
	ch := make(chan verdict, 1)
	o.cancel = cancel
	o.inflight = ch
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		v := verdict{capture: capture, ok: o.validator.CheckSide(vctx, capture.JPEG, capture.Side)}
		if a, ok := o.validator.(Availability); ok && !v.ok {
			v.unavailable = !a.Available()
		}
		ch <- v
	}()
}

func (o *Orchestrator) resolve(v verdict, now time.Time, eff *Effects) {
	if v.ok {
		o.commit(v.capture, now, eff)
		return
	}
	if v.unavailable {
		eff.Unavailable = true
	} else {
		eff.Mismatch = true
	}
	o.finish()
}

func (o *Orchestrator) commit(c *types.Capture, now time.Time, eff *Effects) {
	o.session.store(c)
	o.session.LastCaptureAt = now
	eff.Committed = c
	o.finish()
}

// finish ends an attempt whatever its outcome.
func (o *Orchestrator) finish() {
	if o.cancel != nil {
		o.cancel()
		o.cancel = nil
	}
	o.tracker.Reset()
	o.session.Capturing = false
	o.pendingAt = time.Time{}
}

func (o *Orchestrator) fill(eff *Effects, hint types.Hint) {
	eff.Side = o.session.Side
	eff.Ready = o.tracker.Ready()
	eff.Counter = o.tracker.Counter()
	eff.Capturing = o.session.Capturing
	eff.Done = o.session.Side == types.Done
	eff.Hint = hint
	if eff.Capturing {
		eff.Hint = types.HintCapturing
	}
}
