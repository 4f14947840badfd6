package cmd

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/andresmejia3/idgate/internal/capture"
	"github.com/andresmejia3/idgate/internal/engine"
	"github.com/andresmejia3/idgate/internal/quality"
	"github.com/andresmejia3/idgate/internal/recognition"
	"github.com/andresmejia3/idgate/internal/sampler"
	"github.com/andresmejia3/idgate/internal/stability"
	"github.com/andresmejia3/idgate/internal/types"
	"github.com/andresmejia3/idgate/internal/utils"
	"github.com/andresmejia3/idgate/internal/video"
)

var captureOpts Options

var captureCmd = &cobra.Command{
	Use:   "capture",
	Short: "Capture the front and back of an ID document from a camera or video file",
	Long: `Streams frames from a V4L2 camera (/dev/videoN) or a video file, scores each
frame for sharpness, edge density and fill, and commits the front and then the
back side once the image has been stable long enough. With --manual, press
Enter to capture the current frame instead; r + Enter restarts the session.

A side can also be taken from a still image with --front-file or --back-file.
When both are given the camera is not opened.`,
	Annotations: map[string]string{dbAnnotation: "optional"},
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := validateCaptureFlags(&captureOpts); err != nil {
			return err
		}
		return runCapture(cmd.Context(), captureOpts)
	},
}

func init() {
	captureCmd.Flags().StringVarP(&captureOpts.InputPath, "input", "i", "/dev/video0", "Camera device or video file")
	captureCmd.Flags().StringVarP(&captureOpts.OutputDir, "out", "o", "captures", "Directory for the captured JPEGs")
	captureCmd.Flags().StringVar(&captureOpts.FrontPath, "front-file", "", "Take the front side from this image instead of the camera")
	captureCmd.Flags().StringVar(&captureOpts.BackPath, "back-file", "", "Take the back side from this image instead of the camera")
	captureCmd.Flags().BoolVar(&captureOpts.Realtime, "realtime", false, "Pace file input at its native frame rate")
	captureCmd.Flags().BoolVarP(&captureOpts.Manual, "manual", "m", false, "Disable auto-capture; press Enter to capture")
	captureCmd.Flags().BoolVarP(&captureOpts.Recognize, "recognize", "r", false, "Run document recognition after both sides are captured")
	captureCmd.Flags().StringVarP(&captureOpts.Timeout, "timeout", "t", "2m", "Give up if both sides are not captured within this time")
	rootCmd.AddCommand(captureCmd)
}

// validateCaptureFlags ensures all CLI arguments are valid before starting the decoder.
func validateCaptureFlags(opts *Options) error {
	for _, f := range [][2]string{{"--front-file", opts.FrontPath}, {"--back-file", opts.BackPath}} {
		if f[1] == "" {
			continue
		}
		info, err := os.Stat(f[1])
		if err != nil {
			return fmt.Errorf("%s: %w", f[0], err)
		}
		if info.IsDir() {
			return fmt.Errorf("%s %s is a directory, expected an image", f[0], f[1])
		}
	}
	if opts.OutputDir == "" {
		return errors.New("--out is required")
	}
	if opts.FrontPath != "" && opts.BackPath != "" {
		// Both sides come from files; the camera flags are unused.
		return nil
	}

	if opts.InputPath == "" {
		return errors.New("--input is required")
	}
	if !video.IsDevice(opts.InputPath) {
		info, err := os.Stat(opts.InputPath)
		if err != nil {
			return fmt.Errorf("input file: %w", err)
		}
		if info.IsDir() {
			return fmt.Errorf("input path %s is a directory, expected a video file or device", opts.InputPath)
		}
	}
	d, err := time.ParseDuration(opts.Timeout)
	if err != nil {
		return fmt.Errorf("invalid --timeout (use '90s', '2m'): %w", err)
	}
	if d <= 0 {
		return fmt.Errorf("--timeout must be positive, got %s", opts.Timeout)
	}
	return nil
}

// sideReport describes one committed side in the YAML report.
type sideReport struct {
	Side        string    `yaml:"side"`
	File        string    `yaml:"file"`
	Checksum    string    `yaml:"checksum"`
	Width       int       `yaml:"width"`
	Height      int       `yaml:"height"`
	Sharpness   float64   `yaml:"sharpness"`
	EdgeDensity float64   `yaml:"edge_density"`
	Fill        float64   `yaml:"fill_fraction"`
	Manual      bool      `yaml:"manual"`
	CapturedAt  time.Time `yaml:"captured_at"`
}

type captureReport struct {
	Session     string       `yaml:"session"`
	Input       string       `yaml:"input"`
	Complete    bool         `yaml:"complete"`
	Sides       []sideReport `yaml:"sides"`
	Outcome     string       `yaml:"outcome,omitempty"`
	Recognition any          `yaml:"recognition,omitempty"`
}

func runCapture(ctx context.Context, opts Options) error {
	eng, err := startEngine(ctx)
	if err != nil {
		return err
	}
	if eng != nil {
		defer eng.Close()
	}
	if opts.Recognize && eng == nil {
		return errEngineDisabled
	}

	validator := &capture.EngineValidator{Required: Cfg.Engine.Enabled, Timeout: Cfg.Engine.Timeout.D(), Logger: Logger}
	if eng != nil {
		validator.Engine = eng
	}
	cc := Cfg.Capture
	orch := capture.New(cc.Orchestrator(), stability.New(cc.StableThreshold, cc.StableSlack), validator)
	orch.SetAuto(!opts.Manual)

	if err := commitFiles(orch, opts, time.Now()); err != nil {
		return err
	}

	source := opts.InputPath
	timedOut := false
	if orch.Session().Complete() {
		source = "files"
	} else if timedOut, err = runLive(ctx, opts, orch); err != nil {
		return err
	}

	sess := orch.Session()
	report := captureReport{Session: sess.ID, Input: source, Complete: sess.Complete()}
	if err := os.MkdirAll(opts.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	for _, c := range []*types.Capture{sess.Front, sess.Back} {
		if c == nil {
			continue
		}
		sr, err := writeSide(opts.OutputDir, sess.ID, c)
		if err != nil {
			return err
		}
		report.Sides = append(report.Sides, sr)
	}

	if DB != nil && (sess.Front != nil || sess.Back != nil) {
		if err := DB.SaveSession(ctx, sess, source); err != nil {
			return fmt.Errorf("failed to persist session: %w", err)
		}
		fmt.Fprintf(os.Stderr, "💾 Session %s saved\n", sess.ID)
	}

	if !sess.Complete() {
		printReport(os.Stdout, report)
		if timedOut {
			return fmt.Errorf("timed out after %s with the %s side still pending", opts.Timeout, sess.Side)
		}
		return fmt.Errorf("capture ended with the %s side still pending", sess.Side)
	}
	fmt.Fprintf(os.Stderr, "✅ Both sides captured\n")

	if opts.Recognize {
		if err := eng.Err(); err != nil {
			return fmt.Errorf("recognition engine unusable: %w", err)
		}
		report.Outcome, report.Recognition = recognize(ctx, eng, sess.ID, sess.Front.JPEG, sess.Back.JPEG)
	}
	return printReport(os.Stdout, report)
}

// commitFiles stores operator-selected stills for their sides before the
// live loop starts.
func commitFiles(orch *capture.Orchestrator, opts Options, now time.Time) error {
	files := []struct {
		side types.Side
		path string
	}{
		{types.Front, opts.FrontPath},
		{types.Back, opts.BackPath},
	}
	for _, f := range files {
		if f.path == "" {
			continue
		}
		img, err := video.LoadImage(f.path)
		if err != nil {
			return fmt.Errorf("load %s image: %w", f.side, err)
		}
		if _, err := orch.CommitFile(f.side, img, now); err != nil {
			return fmt.Errorf("commit %s image: %w", f.side, err)
		}
		fmt.Fprintf(os.Stderr, "🖼️  %s side taken from %s\n", f.side, f.path)
	}
	return nil
}

// runLive drives the camera loop until the session completes, the input
// ends, the context is cancelled or the timeout passes. It reports whether
// the timeout was hit.
func runLive(ctx context.Context, opts Options, orch *capture.Orchestrator) (bool, error) {
	timeout, _ := time.ParseDuration(opts.Timeout)

	src, err := video.Open(ctx, opts.InputPath, video.Options{Realtime: opts.Realtime})
	if err != nil {
		return false, fmt.Errorf("failed to open video input: %w", err)
	}
	w, h, _ := src.Dimensions()
	fmt.Fprintf(os.Stderr, "📷 Source %s (%dx%d)\n", opts.InputPath, w, h)

	cc := Cfg.Capture
	display := newCaptureDisplay(os.Stderr)
	runner := capture.NewRunner(src, orch, capture.RunnerOptions{
		Sampler:    sampler.New(cc.SampleWidth),
		Scorer:     quality.NewScorer(cc.Thresholds()),
		Guide:      cc.Guide(),
		Logger:     Logger,
		OnState:    display.update,
		StopOnDone: true,
	})

	if opts.Manual || isatty.IsTerminal(os.Stdin.Fd()) {
		if opts.Manual {
			fmt.Fprintf(os.Stderr, "⌨️  Manual mode: press Enter to capture the current frame, r + Enter to start over\n")
		}
		go readTriggers(os.Stdin, runner.TriggerManual, runner.TriggerReset)
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := runner.Start(runCtx); err != nil {
		src.Close()
		return false, err
	}
	select {
	case <-runner.Done():
	case <-runCtx.Done():
	}
	stopErr := runner.Stop()
	display.finish()

	if err := runner.Err(); err != nil {
		utils.ShowError("Video decoder failed", err, src.Command())
		return false, err
	}
	if stopErr != nil {
		utils.ShowError("Video decoder exited with an error", stopErr, src.Command())
		return false, stopErr
	}
	return errors.Is(runCtx.Err(), context.DeadlineExceeded), nil
}

// recognize runs the engine over both sides and records the outcome.
func recognize(ctx context.Context, eng engine.Engine, sessionID string, front, back []byte) (string, any) {
	policy, err := Cfg.Engine.Policy()
	if err != nil {
		return "error", err.Error()
	}
	res, err := recognition.Verify(ctx, eng, front, back, policy)

	outcome, detail := "accepted", ""
	var body any = res
	switch {
	case err != nil:
		outcome, detail = "rejected", err.Error()
		if res == nil {
			outcome = "error"
			body = map[string]string{"error": err.Error()}
		}
		fmt.Fprintf(os.Stderr, "❌ %s\n", err)
	case isUnrecognized(res):
		outcome, detail = "unrecognized", res.(recognition.Unrecognized).Reason
	default:
		detail = "doc=" + res.(recognition.IdentityFields).DocumentNumber
	}

	if DB != nil && sessionID != "" {
		if err := DB.RecordVerification(ctx, sessionID, outcome, detail); err != nil {
			Logger.Warn("verification outcome not saved", "session", sessionID, "error", err)
		}
	}
	return outcome, body
}

func isUnrecognized(r recognition.Result) bool {
	_, ok := r.(recognition.Unrecognized)
	return ok
}

func writeSide(dir, sessionID string, c *types.Capture) (sideReport, error) {
	path := filepath.Join(dir, fmt.Sprintf("%s-%s.jpg", sessionID, c.Side))
	if err := os.WriteFile(path, c.JPEG, 0o644); err != nil {
		return sideReport{}, fmt.Errorf("write %s side: %w", c.Side, err)
	}
	return sideReport{
		Side:        c.Side.String(),
		File:        path,
		Checksum:    utils.Checksum(c.JPEG),
		Width:       c.Width,
		Height:      c.Height,
		Sharpness:   c.Sharpness,
		EdgeDensity: c.EdgeDensity,
		Fill:        c.Fill,
		Manual:      c.Manual,
		CapturedAt:  c.CapturedAt,
	}, nil
}

func printReport(w io.Writer, v any) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(v); err != nil {
		return err
	}
	return enc.Close()
}

// readTriggers reads operator commands, one per line: "r" or "reset"
// restarts the session, anything else captures the current frame.
func readTriggers(r io.Reader, onCapture, onReset func()) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		switch strings.ToLower(strings.TrimSpace(scanner.Text())) {
		case "r", "reset":
			onReset()
		default:
			onCapture()
		}
	}
}

// captureDisplay renders runner state: a spinner on a terminal, plain log
// lines when the hint changes otherwise. It is only touched by the runner
// loop and, after the loop ends, by finish.
type captureDisplay struct {
	bar      *progressbar.ProgressBar
	out      io.Writer
	lastLine string
}

func newCaptureDisplay(f *os.File) *captureDisplay {
	d := &captureDisplay{out: f}
	if isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd()) {
		d.bar = progressbar.NewOptions(-1,
			progressbar.OptionSetWriter(f),
			progressbar.OptionSetDescription("🪪 Starting..."),
			progressbar.OptionSpinnerType(14),
			progressbar.OptionClearOnFinish(),
		)
	}
	return d
}

func (d *captureDisplay) update(s capture.State) {
	if s.Committed != nil {
		d.println(fmt.Sprintf("📸 %s side captured (sharpness %.0f, edges %.3f)", s.Committed.Side, s.Committed.Sharpness, s.Committed.EdgeDensity))
	}
	if s.Mismatch {
		d.println(fmt.Sprintf("🔄 That doesn't look like the %s side, try again", s.Side))
	}
	if s.Unavailable {
		d.println("⚠️  Side check unavailable: the recognition engine is not responding")
	}
	if s.Err != nil {
		d.println(fmt.Sprintf("⚠️  Snapshot failed: %v", s.Err))
	}

	line := statusLine(s)
	if d.bar != nil {
		d.bar.Describe(line)
		d.bar.Add(1)
		return
	}
	if line != d.lastLine {
		fmt.Fprintln(d.out, line)
		d.lastLine = line
	}
}

func (d *captureDisplay) println(msg string) {
	if d.bar != nil {
		d.bar.Clear()
	}
	fmt.Fprintln(d.out, msg)
}

func (d *captureDisplay) finish() {
	if d.bar != nil {
		d.bar.Finish()
	}
}

// statusLine is the one-line overlay text for a runner state.
func statusLine(s capture.State) string {
	if s.Done {
		return "🪪 Done"
	}
	return fmt.Sprintf("🪪 [%s %d/%d] %s", s.Side, s.Counter, Cfg.Capture.StableThreshold, s.Hint.Message(s.Side))
}
