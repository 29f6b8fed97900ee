package pgraph

import (
	"encoding/binary"
	"fmt"
	"image"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/render"
)

// Guest primitive modes (NV097_SET_BEGIN_END).
const (
	primEnd       = 0
	primPoints    = 1
	primLines     = 2
	primLineLoop  = 3
	primLineStrip = 4
	primTriangles = 5
	primTriStrip  = 6
	primTriFan    = 7
	primQuads     = 8
	primQuadStrip = 9
	primPolygon   = 10
)

const (
	drawArraysStartMask  = 0x00FFFFFF
	drawArraysCountShift = 24

	reportTypeMask   = 0xFF000000
	reportTypeShift  = 24
	reportTypeZPass  = 1
	reportOffsetMask = 0x00FFFFFF
	reportSize       = 16
)

var primitives = map[uint32]render.Primitive{
	primPoints:    render.PrimPoints,
	primLines:     render.PrimLines,
	primLineLoop:  render.PrimLineLoop,
	primLineStrip: render.PrimLineStrip,
	primTriangles: render.PrimTriangles,
	primTriStrip:  render.PrimTriangleStrip,
	primTriFan:    render.PrimTriangleFan,
	primQuads:     render.PrimLinesAdjacency,
	primQuadStrip: render.PrimTriangleStrip,
	primPolygon:   render.PrimPolygon,
}

func primitiveFor(mode uint32) render.Primitive {
	return primitives[mode]
}

type drawRange struct {
	start, count int
}

// batch holds the four geometry accumulators of a Begin/End pair. Exactly
// one of them is in use at End.
type batch struct {
	drawArrays      []drawRange
	inlineBufferLen int
	inlineArray     []uint32
	inlineElements  []uint32
}

// styles returns how many accumulators hold geometry.
func (b *batch) styles() int {
	n := 0
	for _, used := range []bool{
		len(b.drawArrays) > 0,
		b.inlineBufferLen > 0,
		len(b.inlineArray) > 0,
		len(b.inlineElements) > 0,
	} {
		if used {
			n++
		}
	}
	return n
}

// resetBatch empties every accumulator, including the per-attribute inline
// buffers.
func (e *Engine) resetBatch() {
	e.batch.drawArrays = e.batch.drawArrays[:0]
	e.batch.inlineBufferLen = 0
	e.batch.inlineArray = e.batch.inlineArray[:0]
	e.batch.inlineElements = e.batch.inlineElements[:0]
	for i := range e.attribs {
		e.attribs[i].inlineBuffer = e.attribs[i].inlineBuffer[:0]
		e.attribs[i].populated = false
	}
}

// addDrawArrays appends a range, extending the previous one when contiguous.
func (e *Engine) addDrawArrays(param uint32) {
	r := drawRange{
		start: int(param & drawArraysStartMask),
		count: int(param>>drawArraysCountShift) + 1,
	}
	ranges := e.batch.drawArrays
	if n := len(ranges); n > 0 && ranges[n-1].start+ranges[n-1].count == r.start {
		ranges[n-1].count += r.count
		return
	}
	e.batch.drawArrays = append(ranges, r)
}

func (e *Engine) beginEnd(param uint32) error {
	if param == primEnd {
		return e.end()
	}
	return e.begin(param)
}

// begin applies every piece of state a draw depends on.
func (e *Engine) begin(mode uint32) error {
	if _, ok := primitives[mode]; !ok {
		return fmt.Errorf("%w: primitive mode %d", ErrInvalidMethod, mode)
	}
	e.primitive = mode

	depthStencil := e.enabledMethod(kelvinDepthTestEnable) || e.enabledMethod(kelvinStencilTestEnable)
	if err := e.updateSurface(e.colorMask() != 0, depthStencil); err != nil {
		return err
	}

	e.backend.SetFixedState(e.fixedState())

	// Textures first: the uniforms read the bound sizes
	if err := e.bindTextures(); err != nil {
		return err
	}
	if err := e.bindShaders(); err != nil {
		return err
	}

	w, h := e.surface.bound.size()
	sx, sy := e.surface.bound.aaFactor()
	e.backend.SetViewport(image.Rect(0, 0, w*sx, h*sy))

	e.resetBatch()

	if e.zpassEnable {
		q, err := e.backend.BeginQuery()
		if err != nil {
			return fmt.Errorf("failed to begin occlusion query: %w", err)
		}
		e.activeQuery = q
	}
	return nil
}

// end draws the accumulated batch.
func (e *Engine) end() error {
	if e.primitive == primEnd {
		logger.Logger().Debug("end without begin")
		return nil
	}

	switch e.batch.styles() {
	case 0:
		return ErrEmptyBatchAtEnd
	case 1:
	default:
		return ErrMixedBatch
	}

	prim := primitiveFor(e.primitive)
	b := &e.batch

	switch {
	case len(b.drawArrays) > 0:
		last := 0
		firsts := make([]int, len(b.drawArrays))
		counts := make([]int, len(b.drawArrays))
		for i, r := range b.drawArrays {
			firsts[i], counts[i] = r.start, r.count
			last = max(last, r.start+r.count)
		}
		if err := e.bindVertexArrays(last); err != nil {
			return err
		}
		e.backend.DrawMultiArrays(prim, firsts, counts)

	case b.inlineBufferLen > 0:
		e.bindInlineBuffer()
		e.backend.DrawArrays(prim, 0, b.inlineBufferLen)

	case len(b.inlineArray) > 0:
		count, err := e.bindInlineArray()
		if err != nil {
			return err
		}
		e.backend.DrawArrays(prim, 0, count)

	default:
		lo, hi := b.inlineElements[0], b.inlineElements[0]
		for _, idx := range b.inlineElements {
			lo, hi = min(lo, idx), max(hi, idx)
		}
		if err := e.bindVertexArrays(int(hi) + 1); err != nil {
			return err
		}
		e.backend.DrawRangeElements(prim, lo, hi, b.inlineElements)
	}

	if e.activeQuery != 0 {
		e.backend.EndQuery(e.activeQuery)
		e.queries = append(e.queries, e.activeQuery)
		e.activeQuery = 0
	}

	e.markSurfacesDirty()
	e.resetBatch()
	e.primitive = primEnd
	return nil
}

func (e *Engine) deleteQueries() {
	for _, q := range e.queries {
		e.backend.DeleteQuery(q)
	}
	e.queries = e.queries[:0]
}

// getReport folds every finished occlusion query into the running pixel
// count and writes a report to the report DMA. The count keeps growing
// until CLEAR_REPORT_VALUE.
func (e *Engine) getReport(param uint32) error {
	if typ := getField(param, reportTypeMask, reportTypeShift); typ != reportTypeZPass {
		return fmt.Errorf("%w: report type %d", ErrInvalidMethod, typ)
	}

	for _, q := range e.queries {
		n, err := e.backend.QueryResult(q)
		if err != nil {
			return fmt.Errorf("failed to read occlusion query: %w", err)
		}
		e.zpassResult += n
	}
	e.deleteQueries()

	dma, _, err := object.Map(e.bus, e.dmaReport)
	if err != nil {
		return fmt.Errorf("failed to map report dma: %w", err)
	}
	offset := int(param & reportOffsetMask)
	if offset+reportSize > len(dma) {
		return fmt.Errorf("%w: report at 0x%X exceeds dma window 0x%X", object.ErrOutOfBounds, offset, len(dma))
	}

	report := dma[offset : offset+reportSize]
	binary.LittleEndian.PutUint64(report[0:], uint64(e.clock().UnixNano()))
	binary.LittleEndian.PutUint32(report[8:], e.zpassResult)
	binary.LittleEndian.PutUint32(report[12:], 0) // done
	return nil
}

func (e *Engine) clearReportValue() {
	e.deleteQueries()
	e.zpassResult = 0
}

// releaseSemaphore writes param to the semaphore once prior rendering has
// reached guest memory.
func (e *Engine) releaseSemaphore(param uint32) error {
	if err := e.flushSurfaces(); err != nil {
		return err
	}

	dma, _, err := object.Map(e.bus, e.dmaSemaphore)
	if err != nil {
		return fmt.Errorf("failed to map semaphore dma: %w", err)
	}
	offset := int(e.semaphoreOffset)
	if offset+4 > len(dma) {
		return fmt.Errorf("%w: semaphore at 0x%X exceeds dma window 0x%X", object.ErrOutOfBounds, offset, len(dma))
	}
	binary.LittleEndian.PutUint32(dma[offset:], param)
	return nil
}

// CLEAR_SURFACE flags.
const (
	clearZ          = 1 << 0
	clearStencil    = 1 << 1
	clearColor      = 0xF0
	clearColorShift = 4
)

func (e *Engine) clearSurface(param uint32) error {
	colorWrite := param&clearColor != 0
	zetaWrite := param&(clearZ|clearStencil) != 0
	if err := e.updateSurface(colorWrite, zetaWrite); err != nil {
		return err
	}

	h := e.method(kelvinClearRectHorizontal)
	v := e.method(kelvinClearRectVertical)
	sx, sy := e.surface.bound.aaFactor()
	rect := image.Rect(
		int(h&0xFFFF)*sx, int(v&0xFFFF)*sy,
		(int(h>>16)+1)*sx, (int(v>>16)+1)*sy,
	)

	e.backend.Clear(render.ClearRequest{
		Rect:      rect,
		Color:     colorWrite,
		ColorMask: uint8(param & clearColor >> clearColorShift),
		ColorARGB: e.method(kelvinColorClearValue),
		Depth:     param&clearZ != 0,
		Stencil:   param&clearStencil != 0,
		ZetaValue: e.method(kelvinZStencilClearValue),
	})
	e.markSurfacesDirty()
	return nil
}
