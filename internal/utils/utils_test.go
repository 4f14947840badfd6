package utils

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
)

func TestWriteErrorIncludesEngineLogs(t *testing.T) {
	var out bytes.Buffer
	cmd := NewSafeCommand("true")
	cmd.Stderr.WriteString("Traceback: ModuleNotFoundError")

	writeError(&out, "Engine crashed", errors.New("broken pipe"), cmd)

	for _, want := range []string{"Engine crashed", "broken pipe", "ModuleNotFoundError"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("expected output to contain %q, got:\n%s", want, out.String())
		}
	}
}

func TestNewLogger(t *testing.T) {
	tests := []struct {
		format  string
		wantErr bool
		marker  string
	}{
		{"text", false, "msg=hello"},
		{"json", false, `"msg":"hello"`},
		{"xml", true, ""},
	}
	for _, tt := range tests {
		t.Run(tt.format, func(t *testing.T) {
			var buf bytes.Buffer
			logger, err := NewLogger(&buf, "info", tt.format)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewLogger() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			logger.Info("hello")
			if !strings.Contains(buf.String(), tt.marker) {
				t.Errorf("expected %q in %q", tt.marker, buf.String())
			}
		})
	}
}

func TestParseLevel(t *testing.T) {
	if ParseLevel("DEBUG") != slog.LevelDebug || ParseLevel("bogus") != slog.LevelInfo {
		t.Error("unexpected level mapping")
	}
}

func TestChecksumDeterministic(t *testing.T) {
	a := Checksum([]byte("front"))
	if a != Checksum([]byte("front")) {
		t.Error("checksum is not deterministic")
	}
	if a == Checksum([]byte("back")) {
		t.Error("checksum did not change with content")
	}
}
