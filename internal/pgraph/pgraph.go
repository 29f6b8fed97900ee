// Package pgraph implements the graphics engine: its register file, the
// graphics object method tables and the translation of accumulated state into
// rendering backend calls.
//
// An Engine is driven from two goroutines. The puller calls BindObject and
// Method and owns the rendering context; the device goroutine reads and
// writes MMIO registers and acknowledges interrupts. A single mutex guards
// all engine state and is held for the whole of each method. Four conditions
// built on that mutex implement the points where a method blocks on the
// device: the context switch handshake, the FIFO access gate, synchronous
// notify interrupts and the flip stall.
package pgraph

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/lru"
	"github.com/richardwooding/nv2a/internal/memory"
	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/render"
	"github.com/richardwooding/nv2a/internal/shader"
)

// Subchannels is the number of object slots per channel.
const Subchannels = 8

var (
	// ErrEmptyBatchAtEnd indicates an End with no accumulated geometry.
	ErrEmptyBatchAtEnd = errors.New("end of primitive with empty batch")

	// ErrMixedBatch indicates an End with more than one submission style in use.
	ErrMixedBatch = errors.New("end of primitive with mixed batch styles")

	// ErrUnknownClass indicates a method for a graphics class the engine does
	// not implement.
	ErrUnknownClass = errors.New("unknown graphics class")

	// ErrNoChannel indicates a channel id outside the configured range.
	ErrNoChannel = errors.New("no such channel")

	// ErrInvalidMethod indicates a method or parameter the engine cannot honor.
	ErrInvalidMethod = errors.New("invalid method parameter")

	// ErrShutdown is returned by a method blocked in a wait when the engine
	// shuts down.
	ErrShutdown = errors.New("graphics engine shut down")
)

// FatalError reports an engine invariant violation while executing a method.
// The engine state is undefined afterwards and the device must stop.
type FatalError struct {
	Class     uint32
	Method    uint32
	Parameter uint32
	Err       error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("pgraph: class 0x%02X method 0x%04X parameter 0x%08X: %v",
		e.Class, e.Method, e.Parameter, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Options configures an Engine.
type Options struct {
	// Channels is the number of PFIFO channels. Defaults to 32.
	Channels int

	// TextureCacheCapacity bounds the texture cache. Defaults to 512.
	TextureCacheCapacity int

	// FastTextureCache stops cache hits from refreshing recency.
	FastTextureCache bool

	// Notify is called, without the engine lock held, whenever the engine
	// raises an interrupt the device must observe.
	Notify func()

	// Clock timestamps reports. Defaults to time.Now.
	Clock func() time.Time
}

// channelContext is the per-channel state mirrored into CTX_USER.
type channelContext struct {
	channel3D  bool
	subchannel uint32
}

// Engine is the PGRAPH graphics engine.
type Engine struct {
	mu            sync.Mutex
	interruptCond *sync.Cond // pending interrupts acknowledged
	fifoCond      *sync.Cond // FIFO access granted
	flipCond      *sync.Cond // 3D read buffer advanced

	bus     *memory.Bus
	backend render.Backend
	notify  func()
	clock   func() time.Time

	regs     [RegisterSpace / 4]uint32
	pending  atomic.Uint32
	enabled  atomic.Uint32
	channels []channelContext
	closed   bool

	objects    map[uint32]graphicsObject
	surfaces2D contextSurfaces2D
	blit       imageBlit

	// Last parameter written to each Kelvin method
	methods [RegisterSpace / 4]uint32

	// Context DMA instances. Color and zeta are part of the surface shape.
	dmaA, dmaB              uint32
	dmaVertexA, dmaVertexB  uint32
	dmaSemaphore, dmaReport uint32
	semaphoreOffset         uint32

	surface   surfaceState
	textures  [shader.TextureUnits]textureUnit
	attribs   [shader.VertexAttributes]vertexAttribute
	constants [shader.ConstantCount]constant
	program   [shader.MaxProgramLength][shader.TokenWords]uint32

	constLoad   uint32
	programLoad uint32

	primitive uint32 // guest primitive between Begin and End, 0 outside
	batch     batch

	zpassEnable bool
	zpassResult uint32
	queries     []render.Handle
	activeQuery render.Handle

	hasContext    bool
	textureCache  *lru.Cache[textureKey, *render.Resource]
	textureSource textureSource // guest memory of the texture being bound
	shaderCache   map[shader.State]*render.Resource
	boundProgram  *render.Resource
	programDirty  bool
}

// New creates an engine operating on bus and drawing through backend. The
// backend context is not created until InitContext.
func New(bus *memory.Bus, backend render.Backend, opts Options) *Engine {
	if opts.Channels <= 0 {
		opts.Channels = 32
	}
	if opts.TextureCacheCapacity <= 0 {
		opts.TextureCacheCapacity = 512
	}
	if opts.Notify == nil {
		opts.Notify = func() {}
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}

	e := &Engine{
		bus:         bus,
		backend:     backend,
		notify:      opts.Notify,
		clock:       opts.Clock,
		channels:    make([]channelContext, opts.Channels),
		shaderCache: make(map[shader.State]*render.Resource),
	}
	e.interruptCond = sync.NewCond(&e.mu)
	e.fifoCond = sync.NewCond(&e.mu)
	e.flipCond = sync.NewCond(&e.mu)

	e.objects = map[uint32]graphicsObject{
		ClassContextSurfaces2D: &e.surfaces2D,
		ClassImageBlit:         &e.blit,
		ClassKelvin:            kelvinPrimitive{},
	}

	e.textureCache = lru.New(opts.TextureCacheCapacity, e.generateTexture)
	e.textureCache.SetFast(opts.FastTextureCache)
	e.textureCache.SetOnEvict(func(_ textureKey, r *render.Resource) {
		r.Release()
	})

	e.reset()
	return e
}

// reset puts the Kelvin state into its power-on configuration.
func (e *Engine) reset() {
	for i := range e.attribs {
		e.attribs[i].inlineValue = [4]float32{0, 0, 0, 1}
	}
	e.methods[kelvinColorMask/4] = 0x01010101
	e.methods[kelvinDepthFunc/4] = 0x0201 // LESS
	e.methods[kelvinStencilFunc/4] = 0x0207
	e.methods[kelvinStencilMask/4] = 0xFF
	e.methods[kelvinStencilFuncMask/4] = 0xFF
	e.methods[kelvinStencilOpFail/4] = stencilOpKeep
	e.methods[kelvinStencilOpZFail/4] = stencilOpKeep
	e.methods[kelvinStencilOpZPass/4] = stencilOpKeep
	e.methods[kelvinBlendFuncSFactor/4] = blendOne
	e.methods[kelvinBlendEquation/4] = blendEquationAdd
	e.methods[kelvinCullFace/4] = cullFaceBack
	e.methods[kelvinFrontFace/4] = frontFaceCCW
	e.programDirty = true
}

// InitContext creates the rendering context. It must be called on the
// goroutine that will call BindObject and Method, locked to its OS thread.
func (e *Engine) InitContext() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.backend.CreateContext(); err != nil {
		return fmt.Errorf("failed to create rendering context: %w", err)
	}
	e.hasContext = true
	logger.Logger().Info("rendering context created")
	return nil
}

// DestroyContext releases every cached host resource and the rendering
// context. It must run on the goroutine that called InitContext.
func (e *Engine) DestroyContext() {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.hasContext {
		return
	}

	if err := e.flushSurfaces(); err != nil {
		logger.Logger().Warn("final surface flush failed", "err", err)
	}

	for i := range e.textures {
		e.textures[i].unbind()
	}
	e.textureCache.Clear()

	if e.boundProgram != nil {
		e.boundProgram.Release()
		e.boundProgram = nil
	}
	for st, r := range e.shaderCache {
		r.Release()
		delete(e.shaderCache, st)
	}

	e.deleteQueries()
	if e.activeQuery != 0 {
		e.backend.DeleteQuery(e.activeQuery)
		e.activeQuery = 0
	}

	e.backend.DestroyContext()
	e.hasContext = false
	logger.Logger().Info("rendering context destroyed")
}

// Shutdown wakes any method blocked in a wait; it returns ErrShutdown. Later
// waits fail immediately.
func (e *Engine) Shutdown() {
	e.mu.Lock()
	e.closed = true
	e.interruptCond.Broadcast()
	e.fifoCond.Broadcast()
	e.flipCond.Broadcast()
	e.mu.Unlock()
}

// PendingInterrupts returns the pending interrupts that are enabled. It does
// not take the engine lock and may be called from the device's notify path.
func (e *Engine) PendingInterrupts() uint32 {
	return e.pending.Load() & e.enabled.Load()
}

// MarkTexturesDirty forces every texture unit to be re-resolved at the next
// Begin. Call it after guest memory is modified behind the engine's back.
func (e *Engine) MarkTexturesDirty() {
	e.mu.Lock()
	e.markTexturesDirty()
	e.mu.Unlock()
}

func (e *Engine) markTexturesDirty() {
	for i := range e.textures {
		e.textures[i].dirty = true
	}
}

// raiseAndWait raises bit, notifies the device with the engine lock released
// and blocks until the bit is acknowledged through RegIntr.
func (e *Engine) raiseAndWait(bit uint32) error {
	e.pending.Or(bit)

	e.mu.Unlock()
	e.notify()
	e.mu.Lock()

	for e.pending.Load()&bit != 0 {
		if e.closed {
			return ErrShutdown
		}
		e.interruptCond.Wait()
	}
	return nil
}

func (e *Engine) currentChannel() uint32 {
	return (e.regs[RegCtxUser/4] & ctxUserChannelMask) >> ctxUserChannelShift
}

// contextSwitch makes chid the active channel. When it is not already active
// the device takes a context switch interrupt and must load the channel's
// context before acknowledging it.
func (e *Engine) contextSwitch(chid uint32) error {
	valid := e.regs[RegCtxControl/4]&ctxControlChannelValid != 0
	if valid && e.currentChannel() == chid {
		return nil
	}

	setField(&e.regs[RegTrappedAddr/4], trappedAddrChannelMask, trappedAddrChannelShift, chid)
	logger.Logger().Debug("pgraph context switch", "channel", chid)
	return e.raiseAndWait(IntrContextSwitch)
}

// waitFIFOAccess blocks until the device grants FIFO access.
func (e *Engine) waitFIFOAccess() error {
	for e.regs[RegFIFO/4]&fifoAccess == 0 {
		if e.closed {
			return ErrShutdown
		}
		e.fifoCond.Wait()
	}
	return nil
}

// BindObject loads the graphics object at RAMIN offset instance into
// subchannel subch of channel chid.
func (e *Engine) BindObject(chid, subch, instance uint32) error {
	return e.Method(chid, subch, 0, instance)
}

// Method executes one method for channel chid. Method 0 binds the object at
// RAMIN offset param to the subchannel.
func (e *Engine) Method(chid, subch, method, param uint32) error {
	if chid >= uint32(len(e.channels)) {
		return fmt.Errorf("%w: %d", ErrNoChannel, chid)
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.contextSwitch(chid); err != nil {
		return err
	}
	if err := e.waitFIFOAccess(); err != nil {
		return err
	}
	return e.dispatch(chid, subch&(Subchannels-1), method, param)
}

func (e *Engine) dispatch(chid, subch, method, param uint32) error {
	if method == 0 {
		ctx, err := object.ReadContext(e.bus.RAMIN, param)
		if err != nil {
			return &FatalError{Method: method, Parameter: param, Err: err}
		}
		for i, w := range ctx {
			e.regs[RegCtxSwitch1/4+i] = w
			e.regs[RegCtxCache1/4+i*Subchannels+int(subch)] = w
		}
	} else {
		for i := range object.ContextWords {
			e.regs[RegCtxSwitch1/4+i] = e.regs[RegCtxCache1/4+i*Subchannels+int(subch)]
		}
	}

	class := e.regs[RegCtxSwitch1/4] & 0xFF
	e.channels[chid].subchannel = subch
	if method == 0 && class == ClassKelvin {
		e.channels[chid].channel3D = true
	}

	obj, ok := e.objects[class]
	if !ok {
		logger.Logger().Debug("ignoring method",
			"err", fmt.Errorf("%w: 0x%02X", ErrUnknownClass, class),
			"method", method, "parameter", param)
		return nil
	}

	logger.Logger().Debug("pgraph method",
		"channel", chid, "subchannel", subch, "class", class, "method", method, "parameter", param)

	if method >= RegisterSpace {
		fatal := &FatalError{Class: class, Method: method, Parameter: param,
			Err: fmt.Errorf("%w: method 0x%X outside the object", ErrInvalidMethod, method)}
		logger.Logger().Error("graphics engine halted", "err", fatal)
		return fatal
	}
	if err := obj.method(e, chid, subch, method, param); err != nil {
		if errors.Is(err, ErrShutdown) {
			return err
		}
		fatal := &FatalError{Class: class, Method: method, Parameter: param, Err: err}
		logger.Logger().Error("graphics engine halted", "err", fatal)
		return fatal
	}
	return nil
}

// Read returns the PGRAPH register at addr.
func (e *Engine) Read(addr uint32) uint32 {
	if addr >= RegisterSpace {
		return 0
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch addr {
	case RegIntr:
		return e.pending.Load()
	case RegIntrEn:
		return e.enabled.Load()
	case RegCtxUser:
		v := e.regs[addr/4] &^ (ctxUserChannel3D | ctxUserSubchMask)
		if chid := e.currentChannel(); chid < uint32(len(e.channels)) {
			ctx := e.channels[chid]
			if ctx.channel3D {
				v |= ctxUserChannel3D
			}
			v |= ctx.subchannel << ctxUserSubchShift & ctxUserSubchMask
		}
		return v
	}
	return e.regs[addr/4]
}

// Write stores val to the PGRAPH register at addr. The caller re-evaluates
// the interrupt line afterwards.
func (e *Engine) Write(addr, val uint32) {
	if addr >= RegisterSpace {
		return
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	switch addr {
	case RegIntr:
		e.pending.And(^val)
		e.interruptCond.Broadcast()
	case RegIntrEn:
		e.enabled.Store(val)
	case RegFIFO:
		e.regs[addr/4] = val
		e.fifoCond.Broadcast()
	case RegCtxUser:
		e.regs[addr/4] = val
		e.loadChannelContext(val)
	case RegIncrement:
		if val&incrementRead3D != 0 {
			s := &e.regs[RegSurface/4]
			modulo := getField(*s, surfaceModulo3DMask, surfaceModulo3DShift)
			if modulo != 0 {
				read := getField(*s, surfaceRead3DMask, surfaceRead3DShift)
				setField(s, surfaceRead3DMask, surfaceRead3DShift, (read+1)%modulo)
			}
			e.flipCond.Broadcast()
		}
	case RegChannelCtxTrigger:
		ptr := (e.regs[RegChannelCtxPtr/4] & 0xFFFF) << 4
		if val&ctxTriggerReadIn != 0 {
			v := e.bus.RAMIN.Read32(ptr)
			e.regs[RegCtxUser/4] = v
			e.loadChannelContext(v)
		}
		if val&ctxTriggerWriteOut != 0 {
			e.bus.RAMIN.Write32(ptr, e.regs[RegCtxUser/4])
		}
	default:
		e.regs[addr/4] = val
	}
}

func (e *Engine) loadChannelContext(user uint32) {
	chid := (user & ctxUserChannelMask) >> ctxUserChannelShift
	if chid >= uint32(len(e.channels)) {
		return
	}
	e.channels[chid] = channelContext{
		channel3D:  user&ctxUserChannel3D != 0,
		subchannel: (user & ctxUserSubchMask) >> ctxUserSubchShift,
	}
}

func getField(v, mask uint32, shift uint) uint32 {
	return (v & mask) >> shift
}

func setField(v *uint32, mask uint32, shift uint, field uint32) {
	*v = *v&^mask | field<<shift&mask
}
