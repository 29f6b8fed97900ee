package device

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/pfifo"
	"github.com/richardwooding/nv2a/internal/pgraph"
	"github.com/richardwooding/nv2a/internal/ptimer"
	"github.com/richardwooding/nv2a/internal/render"
)

// Guest memory layout used by the tests. Instances are RAMIN offsets.
const (
	ramhtBase         = 0x0000
	pushInstance      = 0x2000
	kelvinInstance    = 0x2010
	semaphoreInstance = 0x2020

	pushBase      = 0x100000
	semaphoreBase = 0x200000

	kelvinHandle    = 0xBEEF0097
	semaphoreHandle = 0xBEEF0001
)

// Kelvin methods.
const (
	nopMethod             = 0x0100
	flipSetRead           = 0x0120
	flipSetWrite          = 0x0124
	flipSetModulo         = 0x0128
	flipIncrementWrite    = 0x012C
	flipStall             = 0x0130
	dmaSemaphoreMethod    = 0x01A4
	semaphoreOffsetMethod = 0x1D6C
	semaphoreRelease      = 0x1D70
)

const (
	ctxControlValid = 1 << 16
	ctxUserChShift  = 24
	trappedChShift  = 20
	trappedChMask   = 0x1F
)

// guest plays the driver: it lays out objects, pushes commands on channel 0
// and services interrupts synchronously from the interrupt line.
type guest struct {
	t     *testing.T
	dev   *Device
	table object.Table
	put   uint32

	mu           sync.Mutex
	asserted     bool
	autoAck      bool
	servicing    bool
	again        bool
	switches     []uint32
	graphicsIntr uint32 // PGRAPH interrupts seen
}

func newGuest(t *testing.T) *guest {
	t.Helper()

	g := &guest{t: t, table: object.Table{Base: ramhtBase, Size: 0x1000}, autoAck: true}

	cfg := DefaultConfig()
	cfg.VRAMSize = 4 << 20
	cfg.NewBackend = func() (render.Backend, error) {
		return render.NewHeadless(&render.Platform{}), nil
	}
	dev, err := New(cfg, InterruptFunc(g.interrupt))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	g.dev = dev
	t.Cleanup(func() { _ = dev.Shutdown() })

	g.dma(pushInstance, pushBase, 0xFFFF)
	g.dma(semaphoreInstance, semaphoreBase, 0xFFF)
	if err := object.WriteContext(dev.Memory.RAMIN, kelvinInstance, object.Context{pgraph.ClassKelvin}); err != nil {
		t.Fatalf("WriteContext() error = %v", err)
	}
	g.insert(kelvinHandle, kelvinInstance)
	g.insert(semaphoreHandle, semaphoreInstance)

	dev.Write(RegIntrEn, intrEnHardware)
	dev.Write(BlockPGRAPH+pgraph.RegIntrEn, pgraph.IntrContextSwitch|pgraph.IntrError)
	dev.Write(BlockPGRAPH+pgraph.RegFIFO, 1)
	dev.Write(BlockPFIFO+pfifo.RegRAMHT, g.table.Register())
	dev.Write(BlockPFIFO+pfifo.RegMode, 1)
	dev.Write(BlockPFIFO+pfifo.RegCache1Push1, 0)
	dev.Write(BlockPFIFO+pfifo.RegCache1Push0, 1)
	dev.Write(BlockPFIFO+pfifo.RegCache1DMAInst, pushInstance>>4)
	dev.Write(BlockPFIFO+pfifo.RegCache1DMAPush, 1)
	dev.Write(BlockPFIFO+pfifo.RegCache1Pull0, 1)
	return g
}

func (g *guest) dma(instance, addr, limit uint32) {
	g.t.Helper()

	b, err := g.dev.Memory.RAMIN.Slice(instance, object.DescriptorSize)
	if err != nil {
		g.t.Fatalf("Slice() error = %v", err)
	}
	obj := object.DMAObject{Class: object.ClassInMemory, Target: object.TargetVRAM, Address: addr, Limit: limit}
	if err := object.Encode(b, obj); err != nil {
		g.t.Fatalf("Encode() error = %v", err)
	}
}

func (g *guest) insert(handle, instance uint32) {
	g.t.Helper()

	e := object.Entry{Handle: handle, Instance: instance, Engine: object.EngineGraphics, Valid: true}
	if err := g.table.Insert(g.dev.Memory.RAMIN, e); err != nil {
		g.t.Fatalf("Insert() error = %v", err)
	}
}

// push writes words at the put pointer and kicks the channel.
func (g *guest) push(words ...uint32) {
	g.t.Helper()

	b := make([]byte, 4*len(words))
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	if err := g.dev.Memory.VRAM.Write(pushBase+g.put, b); err != nil {
		g.t.Fatalf("Write() error = %v", err)
	}
	g.put += uint32(len(b))
	g.dev.Write(BlockUser+pfifo.UserDMAPut, g.put)
}

// method pushes a single-parameter method on subchannel 0.
func (g *guest) method(method, param uint32) {
	g.push(method|1<<18, param)
}

func (g *guest) wait(timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	return g.dev.FIFO.WaitIdle(ctx)
}

// interrupt is the interrupt line. Writes made while servicing re-enter it;
// those only ask the active servicer for another pass.
func (g *guest) interrupt(asserted bool) {
	g.mu.Lock()
	g.asserted = asserted
	if !asserted || !g.autoAck {
		g.mu.Unlock()
		return
	}
	if g.servicing {
		g.again = true
		g.mu.Unlock()
		return
	}
	g.servicing = true
	g.mu.Unlock()

	for {
		g.service()

		g.mu.Lock()
		if !g.again {
			g.servicing = false
			g.mu.Unlock()
			return
		}
		g.again = false
		g.mu.Unlock()
	}
}

func (g *guest) service() {
	if g.dev.Read(RegIntr)&IntrPGRAPH == 0 {
		return
	}

	pending := g.dev.Read(BlockPGRAPH + pgraph.RegIntr)
	if pending&pgraph.IntrContextSwitch != 0 {
		chid := g.dev.Read(BlockPGRAPH+pgraph.RegTrappedAddr) >> trappedChShift & trappedChMask
		g.mu.Lock()
		g.switches = append(g.switches, chid)
		g.mu.Unlock()

		g.dev.Write(BlockPGRAPH+pgraph.RegCtxUser, chid<<ctxUserChShift)
		g.dev.Write(BlockPGRAPH+pgraph.RegCtxControl, ctxControlValid)
	}

	g.mu.Lock()
	g.graphicsIntr |= pending
	g.mu.Unlock()
	g.dev.Write(BlockPGRAPH+pgraph.RegIntr, pending)
}

func (g *guest) lineAsserted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.asserted
}

func TestNewInvalidConfig(t *testing.T) {
	errNoGPU := errors.New("no gpu")

	tests := []struct {
		name   string
		modify func(*Config)
		want   error
	}{
		{"vram smaller than ramin", func(c *Config) { c.VRAMSize = 1 << 20 }, ErrInvalidConfig},
		{"vram not page aligned", func(c *Config) { c.VRAMSize = 4<<20 + 1 }, ErrInvalidConfig},
		{"no channels", func(c *Config) { c.Channels = 0 }, ErrInvalidConfig},
		{"too many channels", func(c *Config) { c.Channels = 33 }, ErrInvalidConfig},
		{"no texture cache", func(c *Config) { c.TextureCacheCapacity = 0 }, ErrInvalidConfig},
		{"no backend", func(c *Config) { c.NewBackend = nil }, ErrInvalidConfig},
		{"backend fails", func(c *Config) {
			c.NewBackend = func() (render.Backend, error) { return nil, errNoGPU }
		}, errNoGPU},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.modify(&cfg)

			if _, err := New(cfg, nil); !errors.Is(err, tt.want) {
				t.Errorf("New() error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestMMIORouting(t *testing.T) {
	g := newGuest(t)
	dev := g.dev

	dev.Write(BlockPFIFO+pfifo.RegMode, 0) // keep the pusher out of the way

	tests := []struct {
		name  string
		addr  uint32
		write uint32
		want  uint32
	}{
		{"pmc boot", RegBoot0, 0, boot0Value},
		{"pmc enable", RegEnable, 0x13111111, 0x13111111},
		{"pfifo ramht", BlockPFIFO + pfifo.RegRAMHT, 0x00020300, 0x00020300},
		{"ptimer numerator", BlockPTIMER + ptimer.RegNumerator, 0x10, 0x10},
		{"pgraph ctx user", BlockPGRAPH + pgraph.RegCtxUser, 3 << ctxUserChShift, 3 << ctxUserChShift},
		{"user put channel 2", BlockUser + 2*pfifo.UserStride + pfifo.UserDMAPut, 0x40, 0x40},
		{"unmapped", 0x100000, 0xFFFFFFFF, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.write != 0 {
				dev.Write(tt.addr, tt.write)
			}
			if got := dev.Read(tt.addr); got != tt.want {
				t.Errorf("Read(0x%06X) = 0x%08X, want 0x%08X", tt.addr, got, tt.want)
			}
		})
	}
}

func TestSemaphoreReleaseThroughFIFO(t *testing.T) {
	g := newGuest(t)

	g.method(0, kelvinHandle)
	g.method(dmaSemaphoreMethod, semaphoreHandle)
	g.method(semaphoreOffsetMethod, 0x10)
	g.method(semaphoreRelease, 0x1234)

	if err := g.wait(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if got := g.dev.Memory.VRAM.Read32(semaphoreBase + 0x10); got != 0x1234 {
		t.Errorf("semaphore = 0x%X, want 0x1234", got)
	}

	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.switches) != 1 || g.switches[0] != 0 {
		t.Errorf("context switches = %v, want [0]", g.switches)
	}
}

func TestSoftwareInterruptServiced(t *testing.T) {
	g := newGuest(t)

	g.method(0, kelvinHandle)
	g.method(nopMethod, 1)

	if err := g.wait(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	g.mu.Lock()
	seen := g.graphicsIntr
	g.mu.Unlock()
	if seen&pgraph.IntrError == 0 {
		t.Errorf("PGRAPH interrupts seen = 0x%08X, want notify error", seen)
	}
	if got := g.dev.Read(RegIntr); got != 0 {
		t.Errorf("PMC INTR = 0x%08X after service, want 0", got)
	}
	if g.lineAsserted() {
		t.Error("interrupt line still asserted")
	}
}

func TestPusherErrorInterrupt(t *testing.T) {
	g := newGuest(t)
	g.dev.Write(RegIntrEn, 0)
	g.dev.Write(BlockPFIFO+pfifo.RegIntrEn, pfifo.IntrDMAPusher)

	g.push(0x80000000) // reserved command

	if g.lineAsserted() {
		t.Error("line asserted with PMC interrupts disabled")
	}
	if got := g.dev.Read(RegIntr); got != IntrPFIFO {
		t.Errorf("PMC INTR = 0x%08X, want 0x%08X", got, IntrPFIFO)
	}

	g.dev.Write(RegIntrEn, intrEnHardware)
	if !g.lineAsserted() {
		t.Error("line not asserted after enabling PMC interrupts")
	}

	g.dev.Write(BlockPFIFO+pfifo.RegIntr, pfifo.IntrDMAPusher)
	if g.lineAsserted() {
		t.Error("line still asserted after acknowledging")
	}
}

func TestControlRegisterResumesPusher(t *testing.T) {
	g := newGuest(t)

	g.push(0x80000000)
	ch, _ := g.dev.FIFO.Channel(0)
	if !ch.DMAPushSuspended {
		t.Fatal("pusher not suspended after reserved command")
	}

	// Replace the bad word with an empty header and clear the status
	g.dev.Memory.VRAM.Write32(pushBase, 0)
	g.dev.OnControlRegisterWrite(pfifo.RegCache1DMAPush, 1)

	ch, _ = g.dev.FIFO.Channel(0)
	if ch.DMAPushSuspended || ch.Get != g.put {
		t.Errorf("channel suspended = %v, get 0x%X, want resumed at 0x%X", ch.DMAPushSuspended, ch.Get, g.put)
	}
}

func TestOnDMAPutWritten(t *testing.T) {
	g := newGuest(t)

	g.dev.Memory.VRAM.Write32(pushBase, 0x00040000) // bind on subchannel 0
	g.dev.Memory.VRAM.Write32(pushBase+4, kelvinHandle)
	g.dev.OnControlRegisterWrite(pfifo.RegCache1DMAPut, 8)
	g.dev.OnDMAPutWritten(0)

	if err := g.wait(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}
	if got := g.dev.Read(BlockPFIFO + pfifo.RegCache1Engine); got != 1 {
		t.Errorf("CACHE1_ENGINE = 0x%08X, want 0x00000001", got)
	}
}

func TestVBlankReleasesFlipStall(t *testing.T) {
	g := newGuest(t)

	g.method(0, kelvinHandle)
	g.method(flipSetModulo, 2)
	g.method(flipSetRead, 0)
	g.method(flipSetWrite, 1)
	g.method(flipIncrementWrite, 0)
	g.method(flipStall, 0)

	if err := g.wait(50 * time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle() error = %v, want stalled", err)
	}

	g.dev.VBlank()
	if err := g.wait(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() after vblank error = %v", err)
	}
}

func TestShutdownWakesBlockedMethod(t *testing.T) {
	g := newGuest(t)
	g.method(0, kelvinHandle)
	if err := g.wait(5 * time.Second); err != nil {
		t.Fatalf("WaitIdle() error = %v", err)
	}

	g.mu.Lock()
	g.autoAck = false
	g.mu.Unlock()
	g.method(nopMethod, 1)

	if err := g.wait(50 * time.Millisecond); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("WaitIdle() error = %v, want blocked", err)
	}

	done := make(chan error, 1)
	go func() { done <- g.dev.Shutdown() }()

	select {
	case err := <-done:
		if err != nil {
			t.Errorf("Shutdown() error = %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Shutdown() did not return")
	}
	if err := g.dev.Err(); err != nil {
		t.Errorf("Err() = %v after clean shutdown", err)
	}
}

func TestFatalErrorLatched(t *testing.T) {
	g := newGuest(t)

	g.method(0, 0xDEAD) // not in RAMHT

	select {
	case <-g.dev.Halted():
	case <-time.After(5 * time.Second):
		t.Fatal("device did not halt")
	}
	if err := g.dev.Err(); !errors.Is(err, object.ErrInvalidObjectHandle) {
		t.Errorf("Err() = %v, want %v", err, object.ErrInvalidObjectHandle)
	}
	if err := g.dev.Shutdown(); !errors.Is(err, object.ErrInvalidObjectHandle) {
		t.Errorf("Shutdown() error = %v, want %v", err, object.ErrInvalidObjectHandle)
	}
	// Shutdown is idempotent
	if err := g.dev.Shutdown(); !errors.Is(err, object.ErrInvalidObjectHandle) {
		t.Errorf("second Shutdown() error = %v, want %v", err, object.ErrInvalidObjectHandle)
	}
}

func TestTimerAlarmInterrupt(t *testing.T) {
	var now time.Duration
	var asserted atomic.Bool

	cfg := DefaultConfig()
	cfg.VRAMSize = 4 << 20
	cfg.Clock = func() time.Duration { return now }
	cfg.NewBackend = func() (render.Backend, error) {
		return render.NewHeadless(&render.Platform{}), nil
	}
	dev, err := New(cfg, InterruptFunc(asserted.Store))
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	t.Cleanup(func() { _ = dev.Shutdown() })

	dev.Write(RegIntrEn, intrEnHardware)
	dev.Write(BlockPTIMER+ptimer.RegNumerator, 1)
	dev.Write(BlockPTIMER+ptimer.RegDenominator, 1)
	dev.Write(BlockPTIMER+ptimer.RegIntrEn, ptimer.IntrAlarm)
	dev.Write(BlockPTIMER+ptimer.RegAlarm0, 100<<5)

	now = 50 * time.Nanosecond
	dev.VBlank()
	if asserted.Load() {
		t.Fatal("line asserted before the alarm")
	}

	now = 200 * time.Nanosecond
	dev.VBlank()
	if !asserted.Load() {
		t.Fatal("line not asserted after the alarm")
	}
	if got := dev.Read(RegIntr); got != IntrPTIMER {
		t.Errorf("PMC INTR = 0x%08X, want 0x%08X", got, IntrPTIMER)
	}
	if got := dev.Read(BlockPTIMER + ptimer.RegTime0); got != 200<<5 {
		t.Errorf("TIME_0 = 0x%08X, want 0x%08X", got, 200<<5)
	}

	dev.Write(BlockPTIMER+ptimer.RegIntr, ptimer.IntrAlarm)
	if asserted.Load() {
		t.Error("line still asserted after acknowledging")
	}
}
