package capture

import (
	"context"
	"errors"
	"fmt"
	"image"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/andresmejia3/idgate/internal/quality"
	"github.com/andresmejia3/idgate/internal/sampler"
	"github.com/andresmejia3/idgate/internal/utils"
	"github.com/andresmejia3/idgate/internal/video"
)

// State is what subscribers see after every cycle.
type State struct {
	Effects
	Metrics quality.Metrics
	Session Session
}

// RunnerOptions wires the loop's collaborators.
type RunnerOptions struct {
	Sampler    *sampler.Sampler
	Scorer     *quality.Scorer
	Guide      quality.Guide
	Logger     *slog.Logger
	OnState    func(State) // called from the loop goroutine only
	StopOnDone bool        // end the loop once both sides commit
	Now        func() time.Time
}

// Runner is the single cooperative capture loop: sample, score, step. It
// owns the video source for its lifetime.
type Runner struct {
	src  video.Source
	orch *Orchestrator
	opts RunnerOptions

	manual chan struct{}
	reset  chan struct{}
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	started  bool
	err      error
	stopOnce sync.Once
	stopErr  error
}

// NewRunner binds a source to an orchestrator.
func NewRunner(src video.Source, orch *Orchestrator, opts RunnerOptions) *Runner {
	if opts.Sampler == nil {
		opts.Sampler = sampler.New(sampler.DefaultWidth)
	}
	if opts.Scorer == nil {
		opts.Scorer = quality.NewScorer(quality.DefaultThresholds())
	}
	if opts.Logger == nil {
		opts.Logger = utils.DiscardLogger()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{
		src:    src,
		orch:   orch,
		opts:   opts,
		manual: make(chan struct{}, 1),
		reset:  make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Start launches the loop. It returns immediately.
func (r *Runner) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.started {
		return errors.New("runner already started")
	}
	r.started = true
	ctx, r.cancel = context.WithCancel(ctx)
	go r.loop(ctx)
	return nil
}

// TriggerManual requests a manual capture on the next cycle. Requests made
// while one is already queued are coalesced.
func (r *Runner) TriggerManual() {
	select {
	case r.manual <- struct{}{}:
	default:
	}
}

// TriggerReset abandons the current session on the next cycle and starts a
// fresh attempt. Coalesced like TriggerManual.
func (r *Runner) TriggerReset() {
	select {
	case r.reset <- struct{}{}:
	default:
	}
}

// Done is closed when the loop exits.
func (r *Runner) Done() <-chan struct{} { return r.done }

// Err reports why the loop ended, nil on a clean stop or end of stream.
func (r *Runner) Err() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.err
}

// Stop cancels the loop, releases the video source and waits for both. No
// OnState callback fires after Stop returns.
func (r *Runner) Stop() error {
	r.stopOnce.Do(func() {
		r.mu.Lock()
		started := r.started
		cancel := r.cancel
		r.mu.Unlock()

		if cancel != nil {
			cancel()
		}
		// Closing the source unblocks a loop parked in Next.
		r.stopErr = r.src.Close()
		if started {
			<-r.done
		}
		r.orch.Close()
	})
	return r.stopErr
}

func (r *Runner) loop(ctx context.Context) {
	defer close(r.done)
	for {
		if ctx.Err() != nil {
			return
		}
		img, err := r.src.Next(ctx)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				r.setErr(fmt.Errorf("read frame: %w", err))
			}
			return
		}
		state, ok := r.cycle(ctx, img)
		if !ok {
			continue
		}
		if ctx.Err() == nil && r.opts.OnState != nil {
			r.opts.OnState(state)
		}
		if state.Done && r.opts.StopOnDone {
			return
		}
	}
}

// cycle runs one sample/score/step pass. A panic skips the frame instead of
// ending the loop.
func (r *Runner) cycle(ctx context.Context, img image.Image) (state State, ok bool) {
	defer func() {
		if p := recover(); p != nil {
			r.opts.Logger.Error("capture cycle failed, skipping frame", "panic", fmt.Sprint(p))
			ok = false
		}
	}()

	frame, ready := r.opts.Sampler.Sample(img)
	if !ready {
		return state, false
	}
	score := r.opts.Scorer.Score(frame.RGBA, r.opts.Guide)
	frame.Release()

	c := Cycle{Now: r.opts.Now(), Image: img, Score: score}
	select {
	case <-r.reset:
		r.orch.Reset(c.Now)
		r.opts.Logger.Info("capture session reset", "session", r.orch.Session().ID)
	default:
	}

	var eff Effects
	select {
	case <-r.manual:
		var err error
		if eff, err = r.orch.Manual(ctx, c); err != nil {
			r.opts.Logger.Info("manual capture ignored", "reason", err.Error())
			eff = r.orch.Step(ctx, c)
		}
	default:
		eff = r.orch.Step(ctx, c)
	}

	if eff.Err != nil {
		r.opts.Logger.Warn("snapshot failed", "error", eff.Err)
	}
	if eff.Committed != nil {
		r.opts.Logger.Info("side captured",
			"side", eff.Committed.Side.String(),
			"manual", eff.Committed.Manual,
			"sharpness", score.Sharpness,
			"edge_density", score.EdgeDensity)
	}
	if eff.Mismatch {
		r.opts.Logger.Warn("side mismatch, capture discarded", "expected", eff.Side.String())
	}
	if eff.Unavailable {
		r.opts.Logger.Error("side check unavailable, capture discarded", "expected", eff.Side.String())
	}
	return State{Effects: eff, Metrics: score.Metrics, Session: r.orch.Session()}, true
}

func (r *Runner) setErr(err error) {
	r.mu.Lock()
	r.err = err
	r.mu.Unlock()
}
