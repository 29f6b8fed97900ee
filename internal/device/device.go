// Package device assembles the GPU blocks and guest memory behind a single
// MMIO space and interrupt line.
package device

import (
	"errors"
	"fmt"
	"sync"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/memory"
	"github.com/richardwooding/nv2a/internal/pfifo"
	"github.com/richardwooding/nv2a/internal/pgraph"
	"github.com/richardwooding/nv2a/internal/ptimer"
	"github.com/richardwooding/nv2a/internal/render"
)

// MMIO block bases.
const (
	BlockPMC    = 0x000000
	BlockPFIFO  = 0x002000
	BlockPTIMER = 0x009000
	BlockPGRAPH = 0x400000
	BlockUser   = 0x800000

	// MMIOSize is the size of the register BAR.
	MMIOSize = 0x1000000
)

// PMC registers.
const (
	RegBoot0  = 0x000
	RegIntr   = 0x100
	RegIntrEn = 0x140
	RegEnable = 0x200

	pmcSize = 0x1000
)

// PMC interrupt bits, one per block.
const (
	IntrPFIFO  = 1 << 8
	IntrPGRAPH = 1 << 12
	IntrPTIMER = 1 << 20
)

const (
	boot0Value      = 0x02A000A1
	intrEnHardware  = 1 << 0
	incrementRead3D = 1 << 1
)

// ErrInvalidConfig indicates a Config the device cannot be built from.
var ErrInvalidConfig = errors.New("invalid device config")

// InterruptLine receives the level of the device interrupt. SetLevel is
// called with no device lock held, from whichever goroutine changed the
// interrupt state, and may re-enter the device to service it.
type InterruptLine interface {
	SetLevel(asserted bool)
}

// InterruptFunc adapts a function to an InterruptLine.
type InterruptFunc func(asserted bool)

// SetLevel calls f(asserted).
func (f InterruptFunc) SetLevel(asserted bool) {
	f(asserted)
}

// Device is a running GPU. The puller goroutine starts with New and runs
// until Shutdown.
type Device struct {
	Memory   *memory.Bus
	FIFO     *pfifo.FIFO
	Graphics *pgraph.Engine
	Timer    *ptimer.Timer

	line InterruptLine

	mu       sync.Mutex // guards the PMC registers
	intrEn   uint32
	enable   uint32
	shutdown sync.Once
	err      error
}

// New builds a device from cfg and starts its puller. line may be nil.
func New(cfg Config, line InterruptLine) (*Device, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if line == nil {
		line = InterruptFunc(func(bool) {})
	}

	bus, err := memory.NewBus(uint32(cfg.VRAMSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create guest memory: %w", err)
	}
	backend, err := cfg.NewBackend()
	if err != nil {
		return nil, fmt.Errorf("failed to create rendering backend: %w", err)
	}

	d := &Device{Memory: bus, line: line}
	d.Timer = ptimer.New(cfg.Clock, d.updateInterrupts)
	d.Graphics = pgraph.New(bus, backend, pgraph.Options{
		Channels:             cfg.Channels,
		TextureCacheCapacity: cfg.TextureCacheCapacity,
		FastTextureCache:     cfg.FastTextureCache,
		Notify:               d.updateInterrupts,
	})
	d.FIFO = pfifo.New(bus, d.Graphics, pfifo.Options{
		Channels: cfg.Channels,
		Notify:   d.updateInterrupts,
		Shutdown: pgraph.ErrShutdown,
	})
	d.FIFO.Start()

	logger.Logger().Info("device started",
		"vram", cfg.VRAMSize, "channels", cfg.Channels, "texture_cache", cfg.TextureCacheCapacity)
	return d, nil
}

// Shutdown stops the puller, releasing the rendering context on the
// goroutine that created it. It returns the fatal error that halted the
// puller, if any. Later calls return the same result.
func (d *Device) Shutdown() error {
	d.shutdown.Do(func() {
		// Wake a method blocked on the device before stopping the queue
		d.Graphics.Shutdown()
		d.err = d.FIFO.Shutdown()
		logger.Logger().Info("device stopped", "err", d.err)
	})
	return d.err
}

// Err returns the fatal error that halted the puller, or nil while it runs.
func (d *Device) Err() error {
	return d.FIFO.Err()
}

// Halted is closed once the puller has exited.
func (d *Device) Halted() <-chan struct{} {
	return d.FIFO.Halted()
}

// OnDMAPutWritten runs the pusher of chid after the guest moved its put
// pointer by other means than the USER block.
func (d *Device) OnDMAPutWritten(chid uint32) {
	d.FIFO.OnDMAPutWritten(chid)
	d.updateInterrupts()
}

// OnControlRegisterWrite applies a PFIFO control register write: push and
// pull enables, pusher error state, engine bindings.
func (d *Device) OnControlRegisterWrite(reg, val uint32) {
	d.FIFO.Write(reg, val)
	d.updateInterrupts()
}

// VBlank advances the 3D read buffer, releasing a method stalled on a flip,
// and brings the timer up to date.
func (d *Device) VBlank() {
	d.Graphics.Write(pgraph.RegIncrement, incrementRead3D)
	d.Timer.Update()
}

// Read returns the MMIO register at addr.
func (d *Device) Read(addr uint32) uint32 {
	switch {
	case addr < BlockPMC+pmcSize:
		return d.readPMC(addr - BlockPMC)
	case addr >= BlockPFIFO && addr < BlockPFIFO+pfifo.RegisterSpace:
		return d.FIFO.Read(addr - BlockPFIFO)
	case addr >= BlockPTIMER && addr < BlockPTIMER+ptimer.RegisterSpace:
		return d.Timer.Read(addr - BlockPTIMER)
	case addr >= BlockPGRAPH && addr < BlockPGRAPH+pgraph.RegisterSpace:
		return d.Graphics.Read(addr - BlockPGRAPH)
	case addr >= BlockUser && addr < MMIOSize:
		off := addr - BlockUser
		return d.FIFO.ReadUser(off/pfifo.UserStride, off%pfifo.UserStride)
	}

	logger.Logger().Debug("unhandled mmio read", "addr", addr)
	return 0
}

// Write stores val to the MMIO register at addr and re-evaluates the
// interrupt line.
func (d *Device) Write(addr, val uint32) {
	switch {
	case addr < BlockPMC+pmcSize:
		d.writePMC(addr-BlockPMC, val)
	case addr >= BlockPFIFO && addr < BlockPFIFO+pfifo.RegisterSpace:
		d.FIFO.Write(addr-BlockPFIFO, val)
	case addr >= BlockPTIMER && addr < BlockPTIMER+ptimer.RegisterSpace:
		d.Timer.Write(addr-BlockPTIMER, val)
	case addr >= BlockPGRAPH && addr < BlockPGRAPH+pgraph.RegisterSpace:
		d.Graphics.Write(addr-BlockPGRAPH, val)
	case addr >= BlockUser && addr < MMIOSize:
		off := addr - BlockUser
		d.FIFO.WriteUser(off/pfifo.UserStride, off%pfifo.UserStride, val)
	default:
		logger.Logger().Debug("unhandled mmio write", "addr", addr, "value", val)
		return
	}
	d.updateInterrupts()
}

func (d *Device) readPMC(reg uint32) uint32 {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch reg {
	case RegBoot0:
		return boot0Value
	case RegIntr:
		return d.pendingBlocks()
	case RegIntrEn:
		return d.intrEn
	case RegEnable:
		return d.enable
	}
	return 0
}

func (d *Device) writePMC(reg, val uint32) {
	d.mu.Lock()
	defer d.mu.Unlock()

	switch reg {
	case RegIntrEn:
		d.intrEn = val
	case RegEnable:
		d.enable = val
	}
}

// pendingBlocks returns the PMC view of pending interrupts: one bit per
// block with an enabled interrupt pending.
func (d *Device) pendingBlocks() uint32 {
	var v uint32
	if d.FIFO.PendingInterrupts() != 0 {
		v |= IntrPFIFO
	}
	if d.Graphics.PendingInterrupts() != 0 {
		v |= IntrPGRAPH
	}
	if d.Timer.PendingInterrupts() != 0 {
		v |= IntrPTIMER
	}
	return v
}

// updateInterrupts drives the interrupt line from the block interrupt
// state. It is the notify hook of every block and is called without any
// block lock held.
func (d *Device) updateInterrupts() {
	d.mu.Lock()
	asserted := d.intrEn&intrEnHardware != 0 && d.pendingBlocks() != 0
	d.mu.Unlock()

	d.line.SetLevel(asserted)
}
