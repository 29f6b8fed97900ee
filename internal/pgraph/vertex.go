package pgraph

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/render"
)

// SET_VERTEX_DATA_ARRAY_FORMAT fields.
const (
	vertexFormatTypeMask    = 0x0000000F
	vertexFormatSizeMask    = 0x000000F0
	vertexFormatSizeShift   = 4
	vertexFormatStrideMask  = 0xFFFFFF00
	vertexFormatStrideShift = 8

	vertexTypeUBD3D = 0
	vertexTypeS1    = 1
	vertexTypeF     = 2
	vertexTypeUBOGL = 4
	vertexTypeS32K  = 5
	vertexTypeCMP   = 6

	vertexOffsetDMAB = 1 << 31

	// Attribute 0 is the vertex position
	attribPosition = 0
)

// vertexAttribute is one vertex input: its guest array configuration and
// the inline value used when no array is enabled.
type vertexAttribute struct {
	format uint32
	offset uint32

	inlineValue [4]float32

	// Per-vertex inline values accumulated in the current batch
	inlineBuffer []float32
	populated    bool
}

// attribLayout is the decoded array format of an attribute.
type attribLayout struct {
	typ        render.AttribType
	size       int
	normalized bool
	bgra       bool
	stride     int
	bytes      int // one element
}

func (a *vertexAttribute) enabled() bool {
	return getField(a.format, vertexFormatSizeMask, vertexFormatSizeShift) != 0
}

func (a *vertexAttribute) layout() (attribLayout, error) {
	l := attribLayout{
		size:   int(getField(a.format, vertexFormatSizeMask, vertexFormatSizeShift)),
		stride: int(getField(a.format, vertexFormatStrideMask, vertexFormatStrideShift)),
	}

	switch a.format & vertexFormatTypeMask {
	case vertexTypeUBD3D:
		l.typ, l.normalized, l.bytes = render.AttribUnsignedByte, true, l.size
		l.bgra = l.size == 4
	case vertexTypeUBOGL:
		l.typ, l.normalized, l.bytes = render.AttribUnsignedByte, true, l.size
	case vertexTypeS1:
		l.typ, l.normalized, l.bytes = render.AttribShort, true, 2*l.size
	case vertexTypeS32K:
		l.typ, l.bytes = render.AttribShort, 2*l.size
	case vertexTypeF:
		l.typ, l.bytes = render.AttribFloat, 4*l.size
	case vertexTypeCMP:
		l.typ, l.bytes = render.AttribPacked, 4
	default:
		return l, fmt.Errorf("%w: vertex attribute type %d", ErrInvalidMethod, a.format&vertexFormatTypeMask)
	}
	return l, nil
}

// allocateInlineBuffer starts per-vertex storage for attribute i the first
// time it is written in a batch. Vertices already emitted get the value the
// attribute had before this write.
func (e *Engine) allocateInlineBuffer(i int) {
	a := &e.attribs[i]
	if a.populated {
		return
	}
	a.inlineBuffer = a.inlineBuffer[:0]
	for range e.batch.inlineBufferLen {
		a.inlineBuffer = append(a.inlineBuffer, a.inlineValue[:]...)
	}
	a.populated = true
}

// finishInlineVertex appends the current value of every populated attribute
// as one complete vertex.
func (e *Engine) finishInlineVertex() {
	for i := range e.attribs {
		a := &e.attribs[i]
		if a.populated {
			a.inlineBuffer = append(a.inlineBuffer, a.inlineValue[:]...)
		}
	}
	e.batch.inlineBufferLen++
}

// vertexDataMethod handles the immediate vertex data methods. Completing the
// position attribute completes a vertex.
func (e *Engine) vertexDataMethod(method, param uint32) {
	switch {
	case method >= kelvinVertex3F && method < kelvinVertex3F+12:
		slot := int(method-kelvinVertex3F) / 4
		e.allocateInlineBuffer(attribPosition)
		v := &e.attribs[attribPosition].inlineValue
		v[slot] = math.Float32frombits(param)
		v[3] = 1
		if slot == 2 {
			e.finishInlineVertex()
		}

	case method >= kelvinVertex4F && method < kelvinVertex4F+16:
		slot := int(method-kelvinVertex4F) / 4
		e.allocateInlineBuffer(attribPosition)
		e.attribs[attribPosition].inlineValue[slot] = math.Float32frombits(param)
		if slot == 3 {
			e.finishInlineVertex()
		}

	case method >= kelvinVertexData2FM && method < kelvinVertexData2S:
		slot := int(method-kelvinVertexData2FM) / 4
		i, part := slot/2, slot%2
		e.allocateInlineBuffer(i)
		v := &e.attribs[i].inlineValue
		v[part] = math.Float32frombits(param)
		v[2], v[3] = 0, 1
		if i == attribPosition && part == 1 {
			e.finishInlineVertex()
		}

	case method >= kelvinVertexData2S && method < kelvinVertexData4UB:
		i := int(method-kelvinVertexData2S) / 4
		e.allocateInlineBuffer(i)
		v := &e.attribs[i].inlineValue
		v[0] = float32(int16(param))
		v[1] = float32(int16(param >> 16))
		v[2], v[3] = 0, 1
		if i == attribPosition {
			e.finishInlineVertex()
		}

	case method >= kelvinVertexData4UB && method < kelvinVertexData4SM:
		i := int(method-kelvinVertexData4UB) / 4
		e.allocateInlineBuffer(i)
		v := &e.attribs[i].inlineValue
		for c := range 4 {
			v[c] = float32(param>>(8*c)&0xFF) / 255
		}
		if i == attribPosition {
			e.finishInlineVertex()
		}

	case method >= kelvinVertexData4SM && method < kelvinVertexData4FM:
		slot := int(method-kelvinVertexData4SM) / 4
		i, part := slot/2, slot%2
		e.allocateInlineBuffer(i)
		v := &e.attribs[i].inlineValue
		v[part*2] = float32(int16(param))
		v[part*2+1] = float32(int16(param >> 16))
		if i == attribPosition && part == 1 {
			e.finishInlineVertex()
		}

	case method >= kelvinVertexData4FM && method < kelvinVertexData4FM+0x100:
		slot := int(method-kelvinVertexData4FM) / 4
		i, c := slot/4, slot%4
		e.allocateInlineBuffer(i)
		e.attribs[i].inlineValue[c] = math.Float32frombits(param)
		if i == attribPosition && c == 3 {
			e.finishInlineVertex()
		}
	}
}

// bindVertexArrays points every enabled attribute at its guest array,
// covering vertices [0, count). Disabled attributes take their inline value.
func (e *Engine) bindVertexArrays(count int) error {
	for i := range e.attribs {
		a := &e.attribs[i]
		if !a.enabled() {
			e.backend.SetVertexAttribute(i, render.VertexAttrib{Constant: a.inlineValue})
			continue
		}

		l, err := a.layout()
		if err != nil {
			return err
		}

		instance := e.dmaVertexA
		if a.offset&vertexOffsetDMAB != 0 {
			instance = e.dmaVertexB
		}
		dma, _, err := object.Map(e.bus, instance)
		if err != nil {
			return fmt.Errorf("failed to map vertex attribute %d: %w", i, err)
		}

		offset := int(a.offset &^ vertexOffsetDMAB)
		stride := l.stride
		if stride == 0 {
			stride = l.bytes
		}
		size := 0
		if count > 0 {
			size = (count-1)*stride + l.bytes
		}
		if offset+size > len(dma) {
			return fmt.Errorf("%w: vertex attribute %d at 0x%X size 0x%X exceeds dma window 0x%X",
				object.ErrOutOfBounds, i, offset, size, len(dma))
		}

		e.backend.SetVertexAttribute(i, render.VertexAttrib{
			Enabled:    true,
			Type:       l.typ,
			Size:       l.size,
			Normalized: l.normalized,
			BGRA:       l.bgra,
			Stride:     stride,
			Data:       dma[offset : offset+size],
		})
	}
	return nil
}

// bindInlineBuffer binds the accumulated inline vertices. Attributes never
// written during the batch stay constant.
func (e *Engine) bindInlineBuffer() {
	for i := range e.attribs {
		a := &e.attribs[i]
		if !a.populated {
			e.backend.SetVertexAttribute(i, render.VertexAttrib{Constant: a.inlineValue})
			continue
		}

		data := make([]byte, 0, len(a.inlineBuffer)*4)
		for _, f := range a.inlineBuffer {
			data = binary.LittleEndian.AppendUint32(data, math.Float32bits(f))
		}
		e.backend.SetVertexAttribute(i, render.VertexAttrib{
			Enabled: true,
			Type:    render.AttribFloat,
			Size:    4,
			Stride:  16,
			Data:    data,
		})
	}
}

// bindInlineArray slices the inline word stream into interleaved vertices
// laid out in attribute order and returns the vertex count.
func (e *Engine) bindInlineArray() (int, error) {
	layouts := make([]attribLayout, len(e.attribs))
	stride := 0
	for i := range e.attribs {
		if !e.attribs[i].enabled() {
			continue
		}
		l, err := e.attribs[i].layout()
		if err != nil {
			return 0, err
		}
		layouts[i] = l
		stride += l.bytes
	}
	if stride == 0 {
		return 0, fmt.Errorf("%w: inline array with no enabled attributes", ErrInvalidMethod)
	}

	data := make([]byte, 0, len(e.batch.inlineArray)*4)
	for _, w := range e.batch.inlineArray {
		data = binary.LittleEndian.AppendUint32(data, w)
	}
	count := len(data) / stride

	offset := 0
	for i := range e.attribs {
		a := &e.attribs[i]
		if !a.enabled() {
			e.backend.SetVertexAttribute(i, render.VertexAttrib{Constant: a.inlineValue})
			continue
		}
		l := layouts[i]
		e.backend.SetVertexAttribute(i, render.VertexAttrib{
			Enabled:    true,
			Type:       l.typ,
			Size:       l.size,
			Normalized: l.normalized,
			BGRA:       l.bgra,
			Stride:     stride,
			Data:       data[offset:],
		})
		offset += l.bytes
	}
	return count, nil
}
