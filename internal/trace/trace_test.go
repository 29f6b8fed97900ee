package trace

import (
	"context"
	"errors"
	"image/color"
	"strings"
	"testing"
	"time"

	"github.com/richardwooding/nv2a/internal/device"
	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/pfifo"
	"github.com/richardwooding/nv2a/internal/render"
)

const testTimeout = 10 * time.Second

func testConfig() device.Config {
	cfg := device.DefaultConfig()
	cfg.VRAMSize = 4 << 20
	cfg.NewBackend = func() (render.Backend, error) {
		return render.NewHeadless(&render.Platform{}), nil
	}
	return cfg
}

// prelude binds a Kelvin object on subchannel 0 of channel 0.
const prelude = `
local KELVIN = 0xBEEF0097
gpu.ramht(0x0000)
gpu.dma(0x2000, 0x100000, 0xFFFF)
gpu.object(0x2010, gpu.KELVIN)
gpu.channel(0, 0x2000)
gpu.handle(KELVIN, 0x2010)
gpu.method(0, 0x0000, KELVIN)
`

func TestRunScriptResults(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		timeout time.Duration
		want    string
		output  string
	}{
		{
			name:    "pass",
			src:     prelude + "gpu.wait()\ngpu.pass()",
			timeout: testTimeout,
			want:    "PASSED",
			output:  "Passed",
		},
		{
			name:    "failed expectation",
			src:     `gpu.expect32(0x1000, 0x1, "sentinel")`,
			timeout: testTimeout,
			want:    "FAILED",
			output:  "Failed: 0x00001000 = 0x00000000, want 0x00000001 sentinel",
		},
		{
			name:    "explicit failure wins over pass",
			src:     `gpu.pass() gpu.fail("late")`,
			timeout: testTimeout,
			want:    "FAILED",
			output:  "Failed: late",
		},
		{
			name:    "no verdict",
			src:     `print("hello", 0x10)`,
			timeout: testTimeout,
			want:    "UNKNOWN",
			output:  "hello\t16",
		},
		{
			name:    "runaway script",
			src:     `while true do end`,
			timeout: 50 * time.Millisecond,
			want:    "TIMEOUT",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RunScript(tt.name, tt.src, testConfig(), tt.timeout)

			if got := result.String(); got != tt.want {
				t.Errorf("String() = %q, want %q (error %v)", got, tt.want, result.Error)
			}
			if !strings.Contains(result.Output, tt.output) {
				t.Errorf("Output = %q, want it to contain %q", result.Output, tt.output)
			}
			if got := result.IsSuccess(); got != (tt.want == "PASSED") {
				t.Errorf("IsSuccess() = %v", got)
			}
		})
	}
}

func TestRunScriptErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want error
	}{
		{
			name: "unknown handle halts the device",
			src: prelude + `
gpu.method(0, 0x0000, 0xDEAD)
gpu.wait()
gpu.pass()`,
			want: object.ErrInvalidObjectHandle,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RunScript(tt.name, tt.src, testConfig(), testTimeout)

			if !errors.Is(result.Error, tt.want) {
				t.Errorf("Error = %v, want %v", result.Error, tt.want)
			}
			if result.Passed {
				t.Error("script passed after a fatal device error")
			}
		})
	}
}

func TestRunScriptLuaErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
	}{
		{"syntax", `gpu.pass(`},
		{"negative word", `gpu.write32(-4, 0)`},
		{"fraction", `gpu.write32(0.5, 0)`},
		{"push without channel", `gpu.push(0)`},
		{"address out of range", `gpu.dma(0x200000, 0, 0xFFF)`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := RunScript(tt.name, tt.src, testConfig(), testTimeout)

			if result.Error == nil {
				t.Fatal("Error = nil, want a script error")
			}
			if !strings.HasPrefix(result.String(), "ERROR: "+tt.name) {
				t.Errorf("String() = %q, want error naming the script", result.String())
			}
		})
	}
}

func TestRunScriptMemoryAccess(t *testing.T) {
	src := `
gpu.fill(0x100, 4, 0xA5A5A5A5)
gpu.write32(0x104, 0x12345678)
if gpu.read32(0x100) == 0xA5A5A5A5 and gpu.read32(0x104) == 0x12345678 then
  gpu.pass()
end
gpu.mmio_write(0x002504, 0x3)
print(string.format("%08X", gpu.mmio_read(0x002504)))
print(string.format("%08X", gpu.mmio_read(0x000000)))
`
	result := RunScript("memory", src, testConfig(), testTimeout)

	if !result.IsSuccess() {
		t.Fatalf("result = %v, output %q", result, result.Output)
	}
	if want := "00000003\n02A000A1\n"; result.Output != want {
		t.Errorf("Output = %q, want %q", result.Output, want)
	}
}

func TestRunTraces(t *testing.T) {
	tests := []struct {
		file     string
		switches int
		software int
	}{
		{"semaphore.lua", 1, 0},
		{"clear.lua", 1, 0},
		{"notify.lua", 1, 3},
		{"timer.lua", 0, 0},
	}

	for _, tt := range tests {
		t.Run(tt.file, func(t *testing.T) {
			result := Run("../../testdata/traces/"+tt.file, testConfig(), testTimeout)

			if !result.IsSuccess() {
				t.Fatalf("result = %v, output:\n%s", result, result.Output)
			}
			if result.Stats.ContextSwitches != tt.switches {
				t.Errorf("ContextSwitches = %d, want %d", result.Stats.ContextSwitches, tt.switches)
			}
			if result.Stats.SoftwareInterrupts != tt.software {
				t.Errorf("SoftwareInterrupts = %d, want %d", result.Stats.SoftwareInterrupts, tt.software)
			}
		})
	}
}

func TestRunCapturesFrame(t *testing.T) {
	result := Run("../../testdata/traces/clear.lua", testConfig(), testTimeout)
	if result.Error != nil {
		t.Fatalf("Error = %v", result.Error)
	}
	if result.Frame == nil {
		t.Fatal("Frame = nil")
	}

	if b := result.Frame.Bounds(); b.Dx() != 4 || b.Dy() != 4 {
		t.Errorf("Frame bounds = %v, want 4x4", b)
	}
	want := color.RGBA{R: 0x11, G: 0x22, B: 0x33, A: 0xFF}
	for y := range 4 {
		for x := range 4 {
			if got := result.Frame.RGBAAt(x, y); got != want {
				t.Fatalf("Frame(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
}

func TestRunMissingFile(t *testing.T) {
	result := Run("testdata/does-not-exist.lua", testConfig(), testTimeout)
	if result.Error == nil {
		t.Error("Error = nil, want read failure")
	}
}

func TestRunScriptInvalidConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Channels = 0

	result := RunScript("config", "gpu.pass()", cfg, testTimeout)
	if !errors.Is(result.Error, device.ErrInvalidConfig) {
		t.Errorf("Error = %v, want %v", result.Error, device.ErrInvalidConfig)
	}
}

// newServedDriver returns a driver whose interrupts are serviced until the
// test ends.
func newServedDriver(t *testing.T) *Driver {
	t.Helper()

	d, err := NewDriver(testConfig())
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Serve(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
		_ = d.Close()
	})
	return d
}

func waitIdle(t *testing.T, d *Driver) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), testTimeout)
	defer cancel()
	if err := d.Wait(ctx); err != nil {
		t.Fatalf("Wait() error = %v", err)
	}
}

// setupSemaphore opens channel 0 with a push ring of ringSize bytes and
// binds Kelvin with a semaphore DMA at 0x200000.
func setupSemaphore(t *testing.T, d *Driver, ringSize uint32) {
	t.Helper()

	const kelvin, semaphore = 0xBEEF0097, 0xBEEF0001

	d.SetRAMHT(0, 0x1000)
	for _, err := range []error{
		d.DMAObject(0x2000, 0x100000, ringSize-1),
		d.DMAObject(0x2020, 0x200000, 0xFFF),
		d.GraphicsObject(0x2010, 0x97),
		d.OpenChannel(0, 0x2000),
		d.AddHandle(0, kelvin, 0x2010, object.EngineGraphics),
		d.AddHandle(0, semaphore, 0x2020, object.EngineGraphics),
		d.Method(0, 0, 0x0000, kelvin),
		d.Method(0, 0, 0x01A4, semaphore),
		d.Method(0, 0, 0x1D6C, 0x10),
	} {
		if err != nil {
			t.Fatalf("setup error = %v", err)
		}
	}
}

func TestDriverRingWraps(t *testing.T) {
	d := newServedDriver(t)
	setupSemaphore(t, d, 0x40)

	for i := range uint32(40) {
		if err := d.Method(0, 0, 0x1D70, i+1); err != nil {
			t.Fatalf("Method(%d) error = %v", i, err)
		}
	}
	waitIdle(t, d)

	if got := d.Device().Memory.VRAM.Read32(0x200010); got != 40 {
		t.Errorf("semaphore = %d, want 40", got)
	}
	if st := d.Stats(); st.PusherErrors != 0 {
		t.Errorf("PusherErrors = %d, want 0", st.PusherErrors)
	}
}

func TestDriverMethodSplitsLongRuns(t *testing.T) {
	d, err := NewDriver(testConfig())
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	defer func() { _ = d.Close() }()

	if err := d.DMAObject(0x2000, 0x100000, 0xFFFF); err != nil {
		t.Fatalf("DMAObject() error = %v", err)
	}
	if err := d.OpenChannel(0, 0x2000); err != nil {
		t.Fatalf("OpenChannel() error = %v", err)
	}
	d.Device().Write(device.BlockPFIFO+pfifo.RegCache1Pull0, 0) // parse only

	params := make([]uint32, maxMethodCount+1)
	if err := d.Method(0, 2, 0x0200, params...); err != nil {
		t.Fatalf("Method() error = %v", err)
	}

	vram := d.Device().Memory.VRAM
	if got, want := vram.Read32(0x100000), uint32(0x0200|2<<13|maxMethodCount<<18); got != want {
		t.Errorf("first header = 0x%08X, want 0x%08X", got, want)
	}
	// 0x200 + 4*0x7FF wraps within the method field
	second := uint32(0x100000 + 4*(1+maxMethodCount))
	if got, want := vram.Read32(second), uint32(0x01FC|2<<13|1<<18); got != want {
		t.Errorf("second header = 0x%08X, want 0x%08X", got, want)
	}

	ch, err := d.Device().FIFO.Channel(0)
	if err != nil {
		t.Fatalf("Channel() error = %v", err)
	}
	if ch.Get != second+8-0x100000 || ch.DMAPushSuspended {
		t.Errorf("get = 0x%X suspended %v, want 0x%X", ch.Get, ch.DMAPushSuspended, second+8-0x100000)
	}
}

func TestDriverPushErrors(t *testing.T) {
	d := newServedDriver(t)
	setupSemaphore(t, d, 0x40)

	if err := d.Push(1, 0); !errors.Is(err, ErrNoChannel) {
		t.Errorf("Push(unopened) error = %v, want %v", err, ErrNoChannel)
	}
	if err := d.Push(0, make([]uint32, 16)...); !errors.Is(err, ErrPushBufferFull) {
		t.Errorf("Push(oversized) error = %v, want %v", err, ErrPushBufferFull)
	}
}

func TestDriverCountsPusherErrors(t *testing.T) {
	d := newServedDriver(t)
	setupSemaphore(t, d, 0x1000)

	if err := d.Push(0, 0x80000000); err != nil { // reserved command
		t.Fatalf("Push() error = %v", err)
	}

	deadline := time.Now().Add(testTimeout)
	for d.Stats().PusherErrors == 0 {
		if time.Now().After(deadline) {
			t.Fatal("pusher error never serviced")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestDriverFrameErrors(t *testing.T) {
	d, err := NewDriver(testConfig())
	if err != nil {
		t.Fatalf("NewDriver() error = %v", err)
	}
	defer func() { _ = d.Close() }()

	tests := []struct {
		name                       string
		addr, width, height, pitch uint32
	}{
		{"zero width", 0, 0, 4, 16},
		{"pitch too small", 0, 4, 4, 8},
		{"outside vram", 4<<20 - 8, 4, 4, 16},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := d.Frame(tt.addr, tt.width, tt.height, tt.pitch); err == nil {
				t.Error("Frame() error = nil")
			}
		})
	}
}
