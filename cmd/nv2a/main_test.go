package main

import (
	"bytes"
	"encoding/binary"
	"errors"
	"image"
	"image/png"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/richardwooding/nv2a/internal/pfifo"
)

// tracePath returns the path to a trace script, or skips the test if not
// found.
func tracePath(t *testing.T, name string) string {
	t.Helper()

	// Skip in short mode
	if testing.Short() {
		t.Skip("Skipping trace integration test in short mode")
	}

	path := filepath.Join("../../testdata/traces", name)
	if _, err := os.Stat(path); os.IsNotExist(err) {
		t.Skipf("Trace not found: %s", path)
	}

	return path
}

// testDevice keeps the integration runs small.
var testDevice = DeviceFlags{VRAM: 4, Channels: 32, TextureCache: 64}

func TestRunCmdTraces(t *testing.T) {
	tests := []string{"semaphore.lua", "clear.lua", "notify.lua", "timer.lua"}

	for _, name := range tests {
		t.Run(name, func(t *testing.T) {
			cmd := &RunCmd{Script: tracePath(t, name), Timeout: 30 * time.Second, Device: testDevice}

			var out bytes.Buffer
			if err := cmd.Run(&out); err != nil {
				t.Fatalf("Run() error = %v\nOutput:\n%s", err, out.String())
			}
			if !strings.Contains(out.String(), "Result: PASSED") {
				t.Errorf("output = %q, want PASSED", out.String())
			}
		})
	}
}

func TestRunCmdWritesFrame(t *testing.T) {
	path := filepath.Join(t.TempDir(), "frame.png")
	cmd := &RunCmd{Script: tracePath(t, "clear.lua"), Timeout: 30 * time.Second, Frame: path, Device: testDevice}

	var out bytes.Buffer
	if err := cmd.Run(&out); err != nil {
		t.Fatalf("Run() error = %v\nOutput:\n%s", err, out.String())
	}

	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	defer func() { _ = f.Close() }()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("png.Decode() error = %v", err)
	}
	if got := img.Bounds(); got != image.Rect(0, 0, 4, 4) {
		t.Errorf("frame bounds = %v, want 4x4", got)
	}
	r, g, b, a := img.At(0, 0).RGBA()
	if r>>8 != 0x11 || g>>8 != 0x22 || b>>8 != 0x33 || a>>8 != 0xFF {
		t.Errorf("pixel = %02X %02X %02X %02X, want 11 22 33 FF", r>>8, g>>8, b>>8, a>>8)
	}
}

func TestRunCmdFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fail.lua")
	if err := os.WriteFile(path, []byte(`gpu.fail("nope")`), 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}

	cmd := &RunCmd{Script: path, Timeout: 5 * time.Second, Device: testDevice}
	var out bytes.Buffer
	if err := cmd.Run(&out); !errors.Is(err, ErrTraceFailed) {
		t.Errorf("Run() error = %v, want %v", err, ErrTraceFailed)
	}
	if !strings.Contains(out.String(), "Failed: nope") {
		t.Errorf("output = %q, want the script output", out.String())
	}
}

func TestViewCmdInvalidScale(t *testing.T) {
	for _, scale := range []int{0, 17} {
		cmd := &ViewCmd{Script: "unused.lua", Scale: scale}
		if err := cmd.Run(&bytes.Buffer{}); !errors.Is(err, ErrInvalidScale) {
			t.Errorf("Run(scale %d) error = %v, want %v", scale, err, ErrInvalidScale)
		}
	}
}

func TestNewDisplayScales(t *testing.T) {
	frame := image.NewRGBA(image.Rect(0, 0, 2, 3))
	d := NewDisplay(frame, 4, scalers["nearest"])

	if w, h := d.Layout(640, 480); w != 8 || h != 12 {
		t.Errorf("Layout() = %dx%d, want 8x12", w, h)
	}
}

func writeWords(t *testing.T, ws ...uint32) string {
	t.Helper()

	b := make([]byte, 4*len(ws))
	for i, w := range ws {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	path := filepath.Join(t.TempDir(), "push.bin")
	if err := os.WriteFile(path, b, 0o600); err != nil {
		t.Fatalf("WriteFile() error = %v", err)
	}
	return path
}

func TestDecodeCmd(t *testing.T) {
	// Increasing method 0x100 on subchannel 1 with two parameters, then a
	// non-increasing one with a single parameter
	path := writeWords(t, 0x00082100, 0xA, 0xB, 0x40040200, 0xC)

	var out bytes.Buffer
	cmd := &DecodeCmd{File: path, Put: -1}
	if err := cmd.Run(&out); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	want := []string{
		pfifo.Command{Subchannel: 1, Method: 0x100, Parameter: 0xA}.String(),
		pfifo.Command{Subchannel: 1, Method: 0x104, Parameter: 0xB}.String(),
		pfifo.Command{Method: 0x200, Parameter: 0xC, NonIncreasing: true}.String(),
		"3 commands",
	}
	got := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(got) != len(want) {
		t.Fatalf("output lines = %q, want %q", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d = %q, want %q", i, got[i], want[i])
		}
	}
}

func TestDecodeCmdErrors(t *testing.T) {
	path := writeWords(t, 0x00040100, 1, 0x80000000)

	var out bytes.Buffer
	cmd := &DecodeCmd{File: path, Put: -1}
	err := cmd.Run(&out)
	if err == nil {
		t.Fatal("Run() error = nil, want reserved command error")
	}
	if !strings.Contains(err.Error(), "after 1 commands") {
		t.Errorf("Run() error = %v, want the decoded count", err)
	}
}

func TestNewLogHandler(t *testing.T) {
	tests := []struct {
		format   string
		terminal bool
		json     bool
	}{
		{"auto", true, false},
		{"auto", false, true},
		{"text", false, false},
		{"json", true, true},
	}

	for _, tt := range tests {
		var buf bytes.Buffer
		log := slog.New(newLogHandler(&buf, "info", tt.format, tt.terminal))
		log.Info("hello", "channel", 3)

		if got := strings.HasPrefix(buf.String(), "{"); got != tt.json {
			t.Errorf("format %s terminal %v: output %q, json = %v", tt.format, tt.terminal, buf.String(), got)
		}
	}

	var buf bytes.Buffer
	slog.New(newLogHandler(&buf, "warn", "text", false)).Info("dropped")
	if buf.Len() != 0 {
		t.Errorf("info record logged at warn level: %q", buf.String())
	}
}
