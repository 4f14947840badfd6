// Package video provides the capture-device and pixel-readback capabilities:
// a live RGBA frame stream decoded by ffmpeg from a camera device or a file.
package video

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	_ "image/png"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"

	"github.com/andresmejia3/idgate/internal/utils"
)

// ErrNotReady means the native resolution is not known yet.
var ErrNotReady = errors.New("video source not ready")

// Source is a live frame stream. Next returns a frame that stays valid until
// the following call to Next. Close releases the device and must be safe to
// call more than once.
type Source interface {
	Dimensions() (width, height int, ok bool)
	Next(ctx context.Context) (*image.RGBA, error)
	Close() error
}

// Options configures the ffmpeg decoder.
type Options struct {
	Format   string // input format, e.g. "v4l2"; derived from the path when empty
	Realtime bool   // pace file input at its native frame rate
	Width    int    // skip probing when both Width and Height are set
	Height   int
}

// IsDevice reports whether input names a V4L2 camera node.
func IsDevice(input string) bool {
	return strings.HasPrefix(input, "/dev/video")
}

// Probe returns the native resolution of the first video stream.
func Probe(ctx context.Context, input string) (int, int, error) {
	if _, err := exec.LookPath("ffprobe"); err != nil {
		return 0, 0, fmt.Errorf("ffprobe not found: %w", err)
	}
	args := []string{"-v", "error", "-select_streams", "v:0", "-show_entries", "stream=width,height", "-of", "json"}
	if IsDevice(input) {
		args = append(args, "-f", "v4l2")
	}
	args = append(args, input)

	out, err := exec.CommandContext(ctx, "ffprobe", args...).Output()
	if err != nil {
		return 0, 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbe(out)
}

func parseProbe(out []byte) (int, int, error) {
	var res struct {
		Streams []struct {
			Width  int `json:"width"`
			Height int `json:"height"`
		} `json:"streams"`
	}
	if err := json.Unmarshal(out, &res); err != nil {
		return 0, 0, fmt.Errorf("ffprobe JSON parse error: %w", err)
	}
	if len(res.Streams) == 0 || res.Streams[0].Width <= 0 || res.Streams[0].Height <= 0 {
		return 0, 0, ErrNotReady
	}
	return res.Streams[0].Width, res.Streams[0].Height, nil
}

// NewFFmpegRawDecoder builds an ffmpeg command streaming raw RGBA frames to stdout.
func NewFFmpegRawDecoder(ctx context.Context, input string, opts Options) *exec.Cmd {
	args := []string{"-hide_banner", "-loglevel", "error"}
	format := opts.Format
	if format == "" && IsDevice(input) {
		format = "v4l2"
	}
	if format != "" {
		args = append(args, "-f", format)
	}
	if opts.Realtime && format == "" {
		args = append(args, "-re")
	}
	args = append(args, "-i", input, "-f", "rawvideo", "-pix_fmt", "rgba", "-")
	return exec.CommandContext(ctx, "ffmpeg", args...)
}

// FFmpegSource decodes frames from an ffmpeg child process.
//
// Next owns the pipe. The process is reaped exactly once, either by Next when
// the stream ends or by Close after any in-flight read has returned.
type FFmpegSource struct {
	width, height int
	cmd           *utils.SafeCommand
	ctx           context.Context
	cancel        context.CancelFunc
	out           io.ReadCloser
	bufs          [2][]byte
	next          int

	readMu sync.Mutex // held for the duration of a read
	closed bool

	waitOnce sync.Once
	waitErr  error
}

// Open probes input and starts the decoder. The caller owns the source and
// must Close it.
func Open(ctx context.Context, input string, opts Options) (*FFmpegSource, error) {
	if !IsDevice(input) {
		if _, err := os.Stat(input); err != nil {
			return nil, fmt.Errorf("open video input: %w", err)
		}
	}
	w, h := opts.Width, opts.Height
	if w <= 0 || h <= 0 {
		var err error
		if w, h, err = Probe(ctx, input); err != nil {
			return nil, err
		}
	}

	ctx, cancel := context.WithCancel(ctx)
	cmd := NewFFmpegRawDecoder(ctx, input, opts)
	safe := &utils.SafeCommand{Cmd: cmd, Stderr: &bytes.Buffer{}}
	cmd.Stderr = safe.Stderr

	out, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("failed to create decoder pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start decoder: %w", err)
	}

	s := &FFmpegSource{width: w, height: h, cmd: safe, ctx: ctx, cancel: cancel, out: out}
	for i := range s.bufs {
		s.bufs[i] = make([]byte, w*h*4)
	}
	return s, nil
}

// Dimensions returns the probed native resolution.
func (s *FFmpegSource) Dimensions() (int, int, bool) {
	return s.width, s.height, s.width > 0 && s.height > 0
}

// Next reads one full frame. It returns io.EOF when the stream ends cleanly
// or the source was closed, and the decoder's exit error (with the tail of
// its stderr) when ffmpeg failed, e.g. a busy or unreadable device.
func (s *FFmpegSource) Next(ctx context.Context) (*image.RGBA, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if s.closed {
		return nil, io.EOF
	}

	buf := s.bufs[s.next]
	if _, err := io.ReadFull(s.out, buf); err != nil {
		if werr := s.wait(); werr != nil {
			return nil, werr
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || s.ctx.Err() != nil {
			return nil, io.EOF
		}
		return nil, err
	}
	s.next ^= 1
	return &image.RGBA{Pix: buf, Stride: s.width * 4, Rect: image.Rect(0, 0, s.width, s.height)}, nil
}

// Command exposes the decoder process for error reporting.
func (s *FFmpegSource) Command() *utils.SafeCommand { return s.cmd }

// Close stops the decoder and waits for it to exit, releasing the device.
// It returns the decoder's exit error unless the exit was caused by Close.
func (s *FFmpegSource) Close() error {
	// Killing the process ends any read parked in Next.
	s.cancel()
	s.readMu.Lock()
	defer s.readMu.Unlock()
	if !s.closed {
		s.closed = true
		s.out.Close()
	}
	return s.wait()
}

// wait reaps the decoder once. An exit after cancellation is not an error.
func (s *FFmpegSource) wait() error {
	s.waitOnce.Do(func() {
		err := s.cmd.Wait()
		if err == nil || s.ctx.Err() != nil {
			return
		}
		if msg := lastLine(s.cmd.Stderr.String()); msg != "" {
			s.waitErr = fmt.Errorf("decoder exited: %w: %s", err, msg)
			return
		}
		s.waitErr = fmt.Errorf("decoder exited: %w", err)
	})
	return s.waitErr
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(s)
}

// StillSource replays one image forever. Used for still-image capture and tests.
type StillSource struct {
	img    *image.RGBA
	mu     sync.Mutex
	closed bool
}

// NewStillSource copies img into an RGBA buffer.
func NewStillSource(img image.Image) *StillSource {
	return &StillSource{img: ToRGBA(img)}
}

func (s *StillSource) Dimensions() (int, int, bool) {
	b := s.img.Bounds()
	return b.Dx(), b.Dy(), !b.Empty()
}

func (s *StillSource) Next(ctx context.Context) (*image.RGBA, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil, io.EOF
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.img, nil
}

func (s *StillSource) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

// ToRGBA returns img as *image.RGBA, copying when necessary.
func ToRGBA(img image.Image) *image.RGBA {
	if rgba, ok := img.(*image.RGBA); ok {
		return rgba
	}
	b := img.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	for y := 0; y < b.Dy(); y++ {
		for x := 0; x < b.Dx(); x++ {
			out.Set(x, y, img.At(b.Min.X+x, b.Min.Y+y))
		}
	}
	return out
}

// LoadImage decodes a JPEG or PNG file.
func LoadImage(path string) (image.Image, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return img, nil
}

// EncodeJPEG snapshots img as a JPEG at the capture quality.
func EncodeJPEG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 95}); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}
