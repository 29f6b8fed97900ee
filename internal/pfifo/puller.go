package pfifo

import (
	"errors"
	"fmt"
	"runtime"
	"sync/atomic"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/memory"
	"github.com/richardwooding/nv2a/internal/object"
)

// Subchannels is the number of object slots per channel.
const Subchannels = 8

var (
	// ErrUnboundSubchannel indicates a method on a subchannel no object was
	// bound to.
	ErrUnboundSubchannel = errors.New("method on unbound subchannel")

	// ErrUnsupportedEngine indicates a method for an engine other than
	// graphics.
	ErrUnsupportedEngine = errors.New("unsupported engine")
)

// GraphicsEngine is the engine the puller dispatches graphics methods to.
// InitContext and DestroyContext are called on the puller goroutine, which
// is locked to its OS thread for its whole life.
type GraphicsEngine interface {
	InitContext() error
	DestroyContext()
	BindObject(chid, subch, instance uint32) error
	Method(chid, subch, method, param uint32) error
}

// Puller drains the command queue on its own goroutine and dispatches each
// command to the engine bound to its subchannel.
type Puller struct {
	queue    *Queue
	bus      *memory.Bus
	graphics GraphicsEngine
	ramht    *atomic.Uint32 // PFIFO RAMHT register
	shutdown error          // engine error meaning "woken for shutdown"

	// Per channel: bits 0-15 hold the engine of each subchannel, two bits
	// each; bits 16-23 mark the subchannel bound.
	engines []atomic.Uint32

	done chan struct{}
	err  error
}

const boundShift = 16

// NewPuller creates a puller for channels channels. Lookups read the RAMHT
// location from ramht on every bind. An engine error matching shutdown with
// errors.Is stops the puller without a fatal error.
func NewPuller(q *Queue, bus *memory.Bus, graphics GraphicsEngine, ramht *atomic.Uint32, channels int, shutdown error) *Puller {
	return &Puller{
		queue:    q,
		bus:      bus,
		graphics: graphics,
		ramht:    ramht,
		shutdown: shutdown,
		engines:  make([]atomic.Uint32, channels),
		done:     make(chan struct{}),
	}
}

// Start runs the puller goroutine.
func (p *Puller) Start() {
	go func() {
		defer close(p.done)

		p.err = p.run()
		if p.err != nil {
			logger.Logger().Error("puller halted", "err", p.err)
		}
		p.queue.halt(p.err)
	}()
}

// Done is closed when the puller goroutine has exited.
func (p *Puller) Done() <-chan struct{} {
	return p.done
}

// Err returns the error the puller halted with. It is only meaningful after
// Done is closed.
func (p *Puller) Err() error {
	return p.err
}

func (p *Puller) run() error {
	// The rendering context belongs to this thread
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	if err := p.graphics.InitContext(); err != nil {
		return fmt.Errorf("failed to initialize graphics context: %w", err)
	}
	defer p.graphics.DestroyContext()

	logger.Logger().Info("puller started")
	defer logger.Logger().Info("puller stopped")

	var work []Command
	for {
		var ok bool
		work, ok = p.queue.Drain(work[:0])
		if !ok {
			return nil
		}

		for _, cmd := range work {
			if err := p.execute(cmd); err != nil {
				if p.shutdown != nil && errors.Is(err, p.shutdown) {
					return nil
				}
				return fmt.Errorf("%v: %w", cmd, err)
			}
		}
		p.queue.Done()
	}
}

func (p *Puller) execute(cmd Command) error {
	if cmd.Channel >= uint32(len(p.engines)) {
		return fmt.Errorf("channel %d out of range", cmd.Channel)
	}
	subch := cmd.Subchannel & (Subchannels - 1)

	switch {
	case cmd.Method == 0:
		entry, err := p.lookup(cmd.Parameter, cmd.Channel)
		if err != nil {
			return err
		}
		p.bind(cmd.Channel, subch, entry.Engine)
		logger.Logger().Debug("object bound",
			"channel", cmd.Channel, "subchannel", subch, "handle", cmd.Parameter,
			"engine", entry.Engine, "instance", entry.Instance)

		if entry.Engine == object.EngineGraphics {
			return p.graphics.BindObject(cmd.Channel, subch, entry.Instance)
		}
		return nil

	case cmd.Method >= engineMethodFirst:
		param := cmd.Parameter
		if cmd.Method >= objectMethodFirst && cmd.Method <= objectMethodLast {
			entry, err := p.lookup(param, cmd.Channel)
			if err != nil {
				return err
			}
			param = entry.Instance
		}

		engine, ok := p.Bound(cmd.Channel, subch)
		if !ok {
			return fmt.Errorf("%w: %d", ErrUnboundSubchannel, subch)
		}
		if engine != object.EngineGraphics {
			return fmt.Errorf("%w: %v", ErrUnsupportedEngine, engine)
		}
		return p.graphics.Method(cmd.Channel, subch, cmd.Method, param)

	default:
		logger.Logger().Debug("ignoring fifo method", "method", cmd.Method, "parameter", cmd.Parameter)
		return nil
	}
}

func (p *Puller) lookup(handle, chid uint32) (object.Entry, error) {
	table := object.TableFromRegister(p.ramht.Load())
	return table.Lookup(p.bus.RAMIN, handle, chid)
}

func (p *Puller) bind(chid, subch uint32, engine object.Engine) {
	shift := subch * 2
	for {
		old := p.engines[chid].Load()
		v := old&^(3<<shift) | uint32(engine)&3<<shift | 1<<(boundShift+subch)
		if p.engines[chid].CompareAndSwap(old, v) {
			return
		}
	}
}

// Bound returns the engine bound to a subchannel of chid.
func (p *Puller) Bound(chid, subch uint32) (object.Engine, bool) {
	if chid >= uint32(len(p.engines)) {
		return 0, false
	}
	v := p.engines[chid].Load()
	if v&(1<<(boundShift+subch)) == 0 {
		return 0, false
	}
	return object.Engine(v >> (subch * 2) & 3), true
}

// Engines returns the CACHE1_ENGINE packing for chid: two bits per
// subchannel.
func (p *Puller) Engines(chid uint32) uint32 {
	if chid >= uint32(len(p.engines)) {
		return 0
	}
	return p.engines[chid].Load() & 0xFFFF
}

// SetEngines overwrites the engines of chid's subchannels and marks every
// subchannel bound, as when a channel context is restored.
func (p *Puller) SetEngines(chid, packed uint32) {
	if chid >= uint32(len(p.engines)) {
		return
	}
	p.engines[chid].Store(packed&0xFFFF | 0xFF<<boundShift)
}
