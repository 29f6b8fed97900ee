package pgraph

import (
	"fmt"

	"github.com/richardwooding/nv2a/internal/object"
)

// graphicsObject is one graphics class. method executes a single method on
// the engine with the engine lock held.
type graphicsObject interface {
	method(e *Engine, chid, subch, method, param uint32) error
}

// contextSurfaces2D holds the source and destination surfaces used by 2D
// operations such as image blits.
type contextSurfaces2D struct {
	dmaSource    uint32
	dmaDest      uint32
	colorFormat  uint32
	pitchSource  uint32
	pitchDest    uint32
	offsetSource uint32
	offsetDest   uint32
}

func (s *contextSurfaces2D) method(_ *Engine, _, _, method, param uint32) error {
	switch method {
	case nv062SetObject:
	case nv062DMAImageSource:
		s.dmaSource = param
	case nv062DMAImageDest:
		s.dmaDest = param
	case nv062SetColorFormat:
		s.colorFormat = param
	case nv062SetPitch:
		s.pitchSource = param & 0xFFFF
		s.pitchDest = param >> 16
	case nv062SetOffsetSource:
		s.offsetSource = param & 0x07FFFFFF
	case nv062SetOffsetDest:
		s.offsetDest = param & 0x07FFFFFF
	}
	return nil
}

// bytesPerPixel returns the pixel size of the configured color format.
func (s *contextSurfaces2D) bytesPerPixel() (int, error) {
	switch s.colorFormat {
	case nv062ColorFormatY8:
		return 1, nil
	case nv062ColorFormatR5G6B5:
		return 2, nil
	case nv062ColorFormatA8R8G8B8, nv062ColorFormatY32:
		return 4, nil
	default:
		return 0, fmt.Errorf("%w: 2d color format 0x%X", ErrInvalidMethod, s.colorFormat)
	}
}

// imageBlit copies rectangles between the surfaces of the context surfaces
// object. Writing the size starts the copy.
type imageBlit struct {
	contextSurfaces uint32
	operation       uint32
	inX, inY        uint32
	outX, outY      uint32
	width, height   uint32
}

func (b *imageBlit) method(e *Engine, _, _, method, param uint32) error {
	switch method {
	case nv09fSetContextSurfaces:
		b.contextSurfaces = param
	case nv09fSetOperation:
		b.operation = param
	case nv09fControlPointIn:
		b.inX, b.inY = param&0xFFFF, param>>16
	case nv09fControlPointOut:
		b.outX, b.outY = param&0xFFFF, param>>16
	case nv09fSize:
		b.width, b.height = param&0xFFFF, param>>16
		return b.execute(e)
	}
	return nil
}

func (b *imageBlit) execute(e *Engine) error {
	if b.operation != nv09fOperationSrcCopy {
		return fmt.Errorf("%w: blit operation %d", ErrInvalidMethod, b.operation)
	}

	// The source may be a render target with pending draws
	if err := e.flushSurfaces(); err != nil {
		return err
	}

	s := &e.surfaces2D
	bpp, err := s.bytesPerPixel()
	if err != nil {
		return err
	}

	src, _, err := object.Map(e.bus, s.dmaSource)
	if err != nil {
		return fmt.Errorf("failed to map blit source: %w", err)
	}
	dst, _, err := object.Map(e.bus, s.dmaDest)
	if err != nil {
		return fmt.Errorf("failed to map blit destination: %w", err)
	}

	row := int(b.width) * bpp
	for y := range int(b.height) {
		from := int(s.offsetSource) + (int(b.inY)+y)*int(s.pitchSource) + int(b.inX)*bpp
		to := int(s.offsetDest) + (int(b.outY)+y)*int(s.pitchDest) + int(b.outX)*bpp
		if from+row > len(src) || to+row > len(dst) {
			return fmt.Errorf("%w: blit row %d outside its dma window", object.ErrOutOfBounds, y)
		}
		copy(dst[to:to+row], src[from:from+row])
	}

	e.markTexturesDirty()
	return nil
}
