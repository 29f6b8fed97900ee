// Package pfifo implements the command FIFO: the DMA pusher that decodes
// guest push buffers into commands, the queue that carries them across
// goroutines and the puller that dispatches them to the graphics engine.
//
// The pusher runs synchronously on the device goroutine whenever the guest
// writes a channel's put pointer. The puller owns its own goroutine for the
// life of the FIFO.
package pfifo

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/memory"
)

// Options configures a FIFO.
type Options struct {
	// Channels is the number of channels. Defaults to 32.
	Channels int

	// Notify is called whenever a PFIFO interrupt is raised. It is called
	// with no FIFO lock held.
	Notify func()

	// Shutdown is the error the graphics engine returns from a method woken
	// by its own shutdown.
	Shutdown error
}

// FIFO is the PFIFO block: its registers, the per-channel pusher state and
// the puller.
type FIFO struct {
	mu       sync.Mutex
	bus      *memory.Bus
	queue    *Queue
	puller   *Puller
	channels []Channel
	notify   func()

	regs    [RegisterSpace / 4]uint32
	ramht   atomic.Uint32
	pending atomic.Uint32
	enabled atomic.Uint32
}

// New creates a FIFO dispatching to graphics. The puller is not started
// until Start.
func New(bus *memory.Bus, graphics GraphicsEngine, opts Options) *FIFO {
	if opts.Channels <= 0 {
		opts.Channels = 32
	}
	if opts.Notify == nil {
		opts.Notify = func() {}
	}

	f := &FIFO{
		bus:      bus,
		queue:    NewQueue(),
		channels: make([]Channel, opts.Channels),
		notify:   opts.Notify,
	}
	for i := range f.channels {
		f.channels[i].ID = uint32(i)
	}
	f.puller = NewPuller(f.queue, bus, graphics, &f.ramht, opts.Channels, opts.Shutdown)
	return f
}

// Start runs the puller.
func (f *FIFO) Start() {
	f.puller.Start()
}

// Shutdown stops the puller and waits for it to exit. It returns the error
// that halted the puller, if any. The graphics engine must be shut down too
// if the puller may be blocked inside it.
func (f *FIFO) Shutdown() error {
	f.queue.Shutdown()
	<-f.puller.Done()
	return f.puller.Err()
}

// Halted is closed when the puller has exited.
func (f *FIFO) Halted() <-chan struct{} {
	return f.puller.Done()
}

// Err returns the error that halted the puller, or nil while it runs.
func (f *FIFO) Err() error {
	select {
	case <-f.puller.Done():
		return f.puller.Err()
	default:
		return nil
	}
}

// WaitIdle blocks until every command pushed so far has been executed.
func (f *FIFO) WaitIdle(ctx context.Context) error {
	return f.queue.WaitIdle(ctx)
}

// PendingInterrupts returns the pending interrupts that are enabled.
func (f *FIFO) PendingInterrupts() uint32 {
	return f.pending.Load() & f.enabled.Load()
}

// Channel returns a copy of the pusher state of chid.
func (f *FIFO) Channel(chid uint32) (Channel, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if chid >= uint32(len(f.channels)) {
		return Channel{}, fmt.Errorf("channel %d out of range", chid)
	}
	return f.channels[chid], nil
}

// active returns the channel CACHE1 is loaded with.
func (f *FIFO) active() *Channel {
	chid := f.regs[RegCache1Push1/4] & push1ChIDMask
	if chid >= uint32(len(f.channels)) {
		chid = 0
	}
	return &f.channels[chid]
}

// OnDMAPutWritten runs the pusher of chid after its put pointer moved.
func (f *FIFO) OnDMAPutWritten(chid uint32) {
	f.mu.Lock()
	raised := f.runPusher(chid)
	f.mu.Unlock()

	if raised {
		f.notify()
	}
}

// runPusher runs the pusher of chid and reports whether it raised an
// interrupt. The caller holds f.mu.
func (f *FIFO) runPusher(chid uint32) bool {
	if chid >= uint32(len(f.channels)) {
		return false
	}
	if f.regs[RegMode/4]&(1<<chid) == 0 {
		return false
	}

	if err := f.channels[chid].RunPusher(f.bus, f.queue); err != nil {
		f.pending.Or(IntrDMAPusher)
		return true
	}
	return false
}

// Read returns the PFIFO register at addr.
func (f *FIFO) Read(addr uint32) uint32 {
	if addr >= RegisterSpace {
		return 0
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	ch := f.active()
	switch addr {
	case RegIntr:
		return f.pending.Load()
	case RegIntrEn:
		return f.enabled.Load()
	case RegRAMHT:
		return f.ramht.Load()
	case RegCache1Push0:
		return boolBit(ch.PushEnabled, push0Access)
	case RegCache1Status:
		if f.queue.Len() == 0 {
			return statusLowMark
		}
		return 0
	case RegCache1DMAPush:
		v := boolBit(ch.DMAPushEnabled, dmaPushAccess) | boolBit(ch.DMAPushSuspended, dmaPushStatus)
		if ch.Get != ch.Put && ch.Ready() {
			v |= dmaPushState
		}
		return v
	case RegCache1DMAState:
		v := boolBit(ch.NonIncreasing, dmaStateNonIncreasing) |
			ch.Method&dmaStateMethodMask |
			ch.Subchannel<<dmaStateSubchShift&dmaStateSubchMask |
			ch.MethodCount<<dmaStateCountShift&dmaStateCountMask |
			ch.ErrorCode<<dmaStateErrorShift&dmaStateErrorMask
		return v
	case RegCache1DMAInst:
		return ch.DMAInstance >> 4 & dmaInstanceMask
	case RegCache1DMAPut:
		return ch.Put
	case RegCache1DMAGet:
		return ch.Get
	case RegCache1Ref:
		return ch.Ref
	case RegCache1DMASubr:
		return ch.SubroutineReturn&subroutineOffsetMask | boolBit(ch.SubroutineActive, subroutineActive)
	case RegCache1Pull0:
		return boolBit(f.queue.PullEnabled(), pull0Access)
	case RegCache1Engine:
		return f.puller.Engines(ch.ID)
	case RegCache1DMADCount:
		return ch.DCount
	case RegCache1GetJmp:
		return ch.GetJmpShadow
	case RegCache1RsvdShadow:
		return ch.RsvdShadow
	case RegCache1DataShadow:
		return ch.DataShadow
	}
	return f.regs[addr/4]
}

// Write stores val to the PFIFO register at addr. Control registers take
// effect immediately: clearing the suspended status of a channel resumes
// its pusher.
func (f *FIFO) Write(addr, val uint32) {
	if addr >= RegisterSpace {
		return
	}

	f.mu.Lock()
	raised := f.write(addr, val)
	f.mu.Unlock()

	if raised {
		f.notify()
	}
}

func (f *FIFO) write(addr, val uint32) bool {
	ch := f.active()
	switch addr {
	case RegIntr:
		f.pending.And(^val)
	case RegIntrEn:
		f.enabled.Store(val)
	case RegRAMHT:
		f.ramht.Store(val)
	case RegCache1Push0:
		ch.PushEnabled = val&push0Access != 0
	case RegCache1DMAPush:
		ch.DMAPushEnabled = val&dmaPushAccess != 0
		if ch.DMAPushSuspended && val&dmaPushStatus == 0 {
			ch.DMAPushSuspended = false
			ch.ErrorCode = dmaErrorNone
			logger.Logger().Debug("dma pusher resumed", "channel", ch.ID)
			return f.runPusher(ch.ID)
		}
	case RegCache1DMAState:
		ch.NonIncreasing = val&dmaStateNonIncreasing != 0
		ch.Method = val & dmaStateMethodMask
		ch.Subchannel = val & dmaStateSubchMask >> dmaStateSubchShift
		ch.MethodCount = val & dmaStateCountMask >> dmaStateCountShift
		ch.ErrorCode = val & dmaStateErrorMask >> dmaStateErrorShift
	case RegCache1DMAInst:
		ch.DMAInstance = (val & dmaInstanceMask) << 4
	case RegCache1DMAPut:
		ch.Put = val
	case RegCache1DMAGet:
		ch.Get = val
	case RegCache1Ref:
		ch.Ref = val
	case RegCache1DMASubr:
		ch.SubroutineReturn = val & subroutineOffsetMask
		ch.SubroutineActive = val&subroutineActive != 0
	case RegCache1Pull0:
		f.queue.SetPullEnabled(val&pull0Access != 0)
	case RegCache1Engine:
		f.puller.SetEngines(ch.ID, val)
	case RegCache1DMADCount:
		ch.DCount = val
	default:
		f.regs[addr/4] = val
	}
	return false
}

// ReadUser returns a USER block register of chid.
func (f *FIFO) ReadUser(chid, addr uint32) uint32 {
	f.mu.Lock()
	defer f.mu.Unlock()

	if chid >= uint32(len(f.channels)) {
		return 0
	}
	ch := &f.channels[chid]
	switch addr {
	case UserDMAPut:
		return ch.Put
	case UserDMAGet:
		return ch.Get
	case UserRef:
		return ch.Ref
	}
	return 0
}

// WriteUser stores a USER block register of chid. Writing the put pointer
// runs the channel's pusher.
func (f *FIFO) WriteUser(chid, addr, val uint32) {
	f.mu.Lock()
	if chid >= uint32(len(f.channels)) || addr != UserDMAPut {
		f.mu.Unlock()
		return
	}
	f.channels[chid].Put = val
	f.mu.Unlock()

	f.OnDMAPutWritten(chid)
}

func boolBit(b bool, bit uint32) uint32 {
	if b {
		return bit
	}
	return 0
}
