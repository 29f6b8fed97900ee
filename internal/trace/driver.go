package trace

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"sync"

	"github.com/richardwooding/nv2a/internal/device"
	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/pfifo"
	"github.com/richardwooding/nv2a/internal/pgraph"
	"github.com/richardwooding/nv2a/internal/ptimer"
)

// Register fields the driver programs.
const (
	ctxControlValid     = 1 << 16
	ctxUserChannelShift = 24
	trappedChannelShift = 20
	trappedChannelMask  = 0x1F

	accessEnable = 1 << 0

	methodMask       = 0x1FFF
	methodSubchShift = 13
	methodCountShift = 18
	maxMethodCount   = 0x7FF
	jumpCommand      = 1
)

// maxServicePasses bounds one round of interrupt servicing.
const maxServicePasses = 64

var (
	// ErrNoChannel indicates a push on a channel that was not opened.
	ErrNoChannel = errors.New("channel not open")

	// ErrPushBufferFull indicates a push larger than the channel's ring.
	ErrPushBufferFull = errors.New("push buffer full")
)

// Stats counts the interrupts the driver serviced.
type Stats struct {
	ContextSwitches    int
	SoftwareInterrupts int
	PusherErrors       int
	TimerAlarms        int
}

// ring is the push buffer of an open channel.
type ring struct {
	base uint32 // VRAM address
	size uint32
	put  uint32
}

// Driver plays the guest kernel driver against a device: it lays out
// objects in guest memory, feeds push buffers and services interrupts.
type Driver struct {
	dev      *device.Device
	table    object.Table
	channels map[uint32]*ring
	wake     chan struct{}

	mu    sync.Mutex
	stats Stats
}

// NewDriver creates a device from cfg and a driver for it.
func NewDriver(cfg device.Config) (*Driver, error) {
	d := &Driver{
		channels: make(map[uint32]*ring),
		wake:     make(chan struct{}, 1),
	}

	dev, err := device.New(cfg, device.InterruptFunc(d.signal))
	if err != nil {
		return nil, err
	}
	d.dev = dev

	dev.Write(device.RegIntrEn, accessEnable)
	dev.Write(device.BlockPFIFO+pfifo.RegIntrEn, pfifo.IntrDMAPusher)
	dev.Write(device.BlockPGRAPH+pgraph.RegIntrEn, pgraph.IntrContextSwitch|pgraph.IntrError|pgraph.IntrNotify)
	dev.Write(device.BlockPGRAPH+pgraph.RegFIFO, accessEnable)
	return d, nil
}

// Device returns the driven device.
func (d *Driver) Device() *device.Device {
	return d.dev
}

// Close shuts the device down and returns its fatal error, if any.
func (d *Driver) Close() error {
	return d.dev.Shutdown()
}

// Stats returns the interrupt counters.
func (d *Driver) Stats() Stats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.stats
}

func (d *Driver) signal(asserted bool) {
	if !asserted {
		return
	}
	select {
	case d.wake <- struct{}{}:
	default:
	}
}

// Serve services interrupts until ctx is done. It returns the device's
// fatal error if the device halts first.
func (d *Driver) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-d.dev.Halted():
			return d.dev.Err()
		case <-d.wake:
			d.service()
		}
	}
}

func (d *Driver) service() {
	for range maxServicePasses {
		pending := d.dev.Read(device.RegIntr)
		if pending == 0 {
			return
		}
		if pending&device.IntrPGRAPH != 0 {
			d.serviceGraphics()
		}
		if pending&device.IntrPFIFO != 0 {
			d.serviceFIFO()
		}
		if pending&device.IntrPTIMER != 0 {
			d.serviceTimer()
		}
	}
	logger.Logger().Warn("interrupts still pending after servicing", "pending", d.dev.Read(device.RegIntr))
}

func (d *Driver) serviceGraphics() {
	pending := d.dev.Read(device.BlockPGRAPH + pgraph.RegIntr)

	if pending&pgraph.IntrContextSwitch != 0 {
		trapped := d.dev.Read(device.BlockPGRAPH + pgraph.RegTrappedAddr)
		chid := trapped >> trappedChannelShift & trappedChannelMask
		// Count first: the writes below release the puller.
		d.count(func(s *Stats) { s.ContextSwitches++ })
		d.dev.Write(device.BlockPGRAPH+pgraph.RegCtxUser, chid<<ctxUserChannelShift)
		d.dev.Write(device.BlockPGRAPH+pgraph.RegCtxControl, ctxControlValid)
		logger.Logger().Debug("context switch serviced", "channel", chid)
	}
	if pending&pgraph.IntrError != 0 {
		d.count(func(s *Stats) { s.SoftwareInterrupts++ })
		logger.Logger().Debug("software interrupt serviced",
			"trapped", d.dev.Read(device.BlockPGRAPH+pgraph.RegTrappedAddr),
			"data", d.dev.Read(device.BlockPGRAPH+pgraph.RegTrappedDataLow))
	}

	d.dev.Write(device.BlockPGRAPH+pgraph.RegIntr, pending)
}

// serviceFIFO acknowledges pusher errors. The channel stays suspended until
// the script resumes it.
func (d *Driver) serviceFIFO() {
	pending := d.dev.Read(device.BlockPFIFO + pfifo.RegIntr)
	if pending&pfifo.IntrDMAPusher != 0 {
		d.count(func(s *Stats) { s.PusherErrors++ })
		logger.Logger().Debug("pusher error serviced",
			"get", d.dev.Read(device.BlockPFIFO+pfifo.RegCache1DMAGet),
			"state", d.dev.Read(device.BlockPFIFO+pfifo.RegCache1DMAState))
	}
	d.dev.Write(device.BlockPFIFO+pfifo.RegIntr, pending)
}

func (d *Driver) serviceTimer() {
	pending := d.dev.Read(device.BlockPTIMER + ptimer.RegIntr)
	if pending&ptimer.IntrAlarm != 0 {
		d.count(func(s *Stats) { s.TimerAlarms++ })
		logger.Logger().Debug("timer alarm serviced",
			"time", d.dev.Read(device.BlockPTIMER+ptimer.RegTime0))
	}
	d.dev.Write(device.BlockPTIMER+ptimer.RegIntr, pending)
}

func (d *Driver) count(f func(*Stats)) {
	d.mu.Lock()
	f(&d.stats)
	d.mu.Unlock()
}

// SetRAMHT places the object hash table at RAMIN offset base.
func (d *Driver) SetRAMHT(base, size uint32) {
	d.table = object.Table{Base: base, Size: size}
	d.dev.Write(device.BlockPFIFO+pfifo.RegRAMHT, d.table.Register())
}

// AddHandle makes handle resolve to the object at instance on channel chid.
func (d *Driver) AddHandle(chid, handle, instance uint32, engine object.Engine) error {
	e := object.Entry{Handle: handle, Instance: instance, Engine: engine, ChannelID: chid, Valid: true}
	if err := d.table.Insert(d.dev.Memory.RAMIN, e); err != nil {
		return fmt.Errorf("failed to add handle 0x%08X: %w", handle, err)
	}
	return nil
}

// DMAObject writes a VRAM DMA object at RAMIN offset instance.
func (d *Driver) DMAObject(instance, addr, limit uint32) error {
	b, err := d.dev.Memory.RAMIN.Slice(instance, object.DescriptorSize)
	if err != nil {
		return fmt.Errorf("failed to write dma object: %w", err)
	}
	return object.Encode(b, object.DMAObject{
		Class:   object.ClassInMemory,
		Target:  object.TargetVRAM,
		Address: addr,
		Limit:   limit,
	})
}

// GraphicsObject writes a graphics object of class at RAMIN offset instance.
func (d *Driver) GraphicsObject(instance, class uint32) error {
	return object.WriteContext(d.dev.Memory.RAMIN, instance, object.Context{class})
}

// OpenChannel loads chid into CACHE1 with the push buffer described by the
// DMA object at pushInstance, and enables pushing and pulling.
func (d *Driver) OpenChannel(chid, pushInstance uint32) error {
	obj, err := object.Resolve(d.dev.Memory.RAMIN, pushInstance)
	if err != nil {
		return fmt.Errorf("failed to open channel %d: %w", chid, err)
	}
	d.channels[chid] = &ring{base: obj.Address, size: obj.Length()}

	fifo := func(reg, val uint32) { d.dev.Write(device.BlockPFIFO+reg, val) }
	fifo(pfifo.RegMode, d.dev.Read(device.BlockPFIFO+pfifo.RegMode)|1<<chid)
	fifo(pfifo.RegCache1Push1, chid)
	fifo(pfifo.RegCache1Push0, accessEnable)
	fifo(pfifo.RegCache1DMAInst, pushInstance>>4)
	fifo(pfifo.RegCache1DMAPut, 0)
	fifo(pfifo.RegCache1DMAGet, 0)
	fifo(pfifo.RegCache1DMAPush, accessEnable)
	fifo(pfifo.RegCache1Pull0, accessEnable)
	return nil
}

// Push appends words to the push buffer of chid and moves its put pointer.
// A push that does not fit before the end of the ring jumps back to its
// start.
func (d *Driver) Push(chid uint32, words ...uint32) error {
	r, ok := d.channels[chid]
	if !ok {
		return fmt.Errorf("%w: %d", ErrNoChannel, chid)
	}

	n := uint32(4 * len(words))
	if n+4 > r.size {
		return fmt.Errorf("%w: %d words", ErrPushBufferFull, len(words))
	}
	if r.put+n+4 > r.size {
		d.dev.Memory.VRAM.Write32(r.base+r.put, jumpCommand)
		r.put = 0
	}

	b := make([]byte, n)
	for i, w := range words {
		binary.LittleEndian.PutUint32(b[4*i:], w)
	}
	if err := d.dev.Memory.VRAM.Write(r.base+r.put, b); err != nil {
		return fmt.Errorf("failed to write push buffer: %w", err)
	}
	r.put += n

	d.dev.Write(device.BlockUser+chid*pfifo.UserStride+pfifo.UserDMAPut, r.put)
	return nil
}

// Method pushes an increasing method with params on subchannel subch,
// splitting long parameter lists into several headers.
func (d *Driver) Method(chid, subch, method uint32, params ...uint32) error {
	if len(params) == 0 {
		return d.Push(chid, method|subch<<methodSubchShift)
	}
	for len(params) > 0 {
		n := min(len(params), maxMethodCount)
		words := append([]uint32{method | subch<<methodSubchShift | uint32(n)<<methodCountShift}, params[:n]...)
		if err := d.Push(chid, words...); err != nil {
			return err
		}
		method = (method + uint32(4*n)) & methodMask
		params = params[n:]
	}
	return nil
}

// Wait blocks until every pushed command has executed.
func (d *Driver) Wait(ctx context.Context) error {
	return d.dev.FIFO.WaitIdle(ctx)
}

// Frame reads a linear A8R8G8B8 surface from guest memory.
func (d *Driver) Frame(addr, width, height, pitch uint32) (*image.RGBA, error) {
	if width == 0 || height == 0 || pitch < width*4 {
		return nil, fmt.Errorf("invalid frame %dx%d pitch %d", width, height, pitch)
	}
	src, err := d.dev.Memory.VRAM.Slice(addr, pitch*(height-1)+width*4)
	if err != nil {
		return nil, fmt.Errorf("failed to read frame: %w", err)
	}

	img := image.NewRGBA(image.Rect(0, 0, int(width), int(height)))
	for y := range int(height) {
		row := src[y*int(pitch):]
		for x := range int(width) {
			argb := binary.LittleEndian.Uint32(row[4*x:])
			o := img.PixOffset(x, y)
			img.Pix[o+0] = uint8(argb >> 16)
			img.Pix[o+1] = uint8(argb >> 8)
			img.Pix[o+2] = uint8(argb)
			img.Pix[o+3] = uint8(argb >> 24)
		}
	}
	return img, nil
}
