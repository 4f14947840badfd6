package video

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

func TestParseProbe(t *testing.T) {
	tests := []struct {
		name    string
		out     string
		w, h    int
		wantErr error
	}{
		{"ok", `{"streams":[{"width":1280,"height":720}]}`, 1280, 720, nil},
		{"no streams", `{"streams":[]}`, 0, 0, ErrNotReady},
		{"zero size", `{"streams":[{"width":0,"height":0}]}`, 0, 0, ErrNotReady},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w, h, err := parseProbe([]byte(tt.out))
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("parseProbe() error = %v, want %v", err, tt.wantErr)
			}
			if w != tt.w || h != tt.h {
				t.Errorf("parseProbe() = %dx%d, want %dx%d", w, h, tt.w, tt.h)
			}
		})
	}
	if _, _, err := parseProbe([]byte("not json")); err == nil {
		t.Error("expected parse error")
	}
}

func TestDecoderArgs(t *testing.T) {
	tests := []struct {
		name  string
		input string
		opts  Options
		want  string
	}{
		{"camera", "/dev/video0", Options{}, "-f v4l2 -i /dev/video0 -f rawvideo -pix_fmt rgba -"},
		{"file realtime", "id.mp4", Options{Realtime: true}, "-re -i id.mp4 -f rawvideo"},
		{"file", "id.mp4", Options{}, "-loglevel error -i id.mp4"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cmd := NewFFmpegRawDecoder(context.Background(), tt.input, tt.opts)
			args := strings.Join(cmd.Args, " ")
			if !strings.Contains(args, tt.want) {
				t.Errorf("args %q missing %q", args, tt.want)
			}
		})
	}
}

func TestStillSource(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 8, 4))
	src := NewStillSource(img)
	w, h, ok := src.Dimensions()
	if !ok || w != 8 || h != 4 {
		t.Fatalf("Dimensions() = %d,%d,%v", w, h, ok)
	}
	frame, err := src.Next(context.Background())
	if err != nil || frame.Rect.Dx() != 8 {
		t.Fatalf("Next() = %v, %v", frame, err)
	}
	src.Close()
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF after Close, got %v", err)
	}
}

func TestEncodeJPEG(t *testing.T) {
	img := image.NewRGBA(image.Rect(0, 0, 16, 16))
	img.Set(3, 3, color.White)
	data, err := EncodeJPEG(img)
	if err != nil {
		t.Fatal(err)
	}
	decoded, err := jpeg.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("output is not a JPEG: %v", err)
	}
	if decoded.Bounds().Dx() != 16 {
		t.Errorf("unexpected width %d", decoded.Bounds().Dx())
	}
}

func TestIsDevice(t *testing.T) {
	if !IsDevice("/dev/video2") || IsDevice("clip.mp4") {
		t.Error("unexpected device detection")
	}
}

// fakeFFmpeg puts an ffmpeg shell script first on PATH.
func fakeFFmpeg(t *testing.T, script string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script stand-in needs a POSIX shell")
	}
	dir := t.TempDir()
	path := filepath.Join(dir, "ffmpeg")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	t.Setenv("PATH", dir+string(os.PathListSeparator)+os.Getenv("PATH"))
}

func TestFFmpegSourceDeviceFailure(t *testing.T) {
	fakeFFmpeg(t, `echo "/dev/video9: Permission denied" >&2; exit 1`)

	src, err := Open(context.Background(), "/dev/video9", Options{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	_, err = src.Next(context.Background())
	if err == nil || errors.Is(err, io.EOF) {
		t.Fatalf("expected the decoder failure, got %v", err)
	}
	if !strings.Contains(err.Error(), "Permission denied") {
		t.Errorf("error should carry ffmpeg's stderr: %v", err)
	}
	if cerr := src.Close(); cerr == nil {
		t.Error("Close should report the decoder exit too")
	}
}

func TestFFmpegSourceCleanEnd(t *testing.T) {
	// One 2x2 RGBA frame is 16 bytes.
	fakeFFmpeg(t, `printf '%016d' 0`)

	src, err := Open(context.Background(), "/dev/video9", Options{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	frame, err := src.Next(context.Background())
	if err != nil {
		t.Fatalf("first frame: %v", err)
	}
	if frame.Rect.Dx() != 2 || frame.Pix[0] != '0' {
		t.Errorf("unexpected frame %v", frame.Rect)
	}
	if _, err := src.Next(context.Background()); !errors.Is(err, io.EOF) {
		t.Errorf("expected EOF, got %v", err)
	}
	if err := src.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestFFmpegSourceCloseUnblocksNext(t *testing.T) {
	fakeFFmpeg(t, `exec sleep 30`)

	src, err := Open(context.Background(), "/dev/video9", Options{Width: 2, Height: 2})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	errc := make(chan error, 1)
	go func() {
		_, err := src.Next(context.Background())
		errc <- err
	}()
	time.Sleep(50 * time.Millisecond)

	if err := src.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
	select {
	case err := <-errc:
		if !errors.Is(err, io.EOF) {
			t.Errorf("Next after Close = %v, want EOF", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Next still blocked after Close")
	}
	if err := src.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}
