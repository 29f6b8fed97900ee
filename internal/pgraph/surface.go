package pgraph

import (
	"fmt"
	"image"

	"golang.org/x/image/draw"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/render"
	"github.com/richardwooding/nv2a/internal/texture"
)

// SET_SURFACE_FORMAT fields.
const (
	surfaceFormatColorMask   = 0x0000000F
	surfaceFormatZetaMask    = 0x000000F0
	surfaceFormatZetaShift   = 4
	surfaceFormatTypeMask    = 0x00000F00
	surfaceFormatTypeShift   = 8
	surfaceFormatAAMask      = 0x0000F000
	surfaceFormatAAShift     = 12
	surfaceFormatWidthMask   = 0x00FF0000
	surfaceFormatWidthShift  = 16
	surfaceFormatHeightMask  = 0xFF000000
	surfaceFormatHeightShift = 24

	surfaceTypeSwizzle = 2

	aaCenterCorner2 = 1
	aaSquareOffset4 = 2
)

// surfaceShape is everything that determines where and how the render
// targets live in guest memory.
type surfaceShape struct {
	colorFormat uint32
	zetaFormat  uint32
	swizzled    bool
	antiAlias   uint32
	logWidth    uint32
	logHeight   uint32

	clipX, clipY          int
	clipWidth, clipHeight int

	colorPitch, zetaPitch   int
	colorOffset, zetaOffset uint32
	dmaColor, dmaZeta       uint32
}

// size returns the surface dimensions in guest pixels.
func (s surfaceShape) size() (int, int) {
	if s.swizzled {
		return 1 << s.logWidth, 1 << s.logHeight
	}
	return s.clipX + s.clipWidth, s.clipY + s.clipHeight
}

// aaFactor returns the horizontal and vertical supersampling factors.
func (s surfaceShape) aaFactor() (int, int) {
	switch s.antiAlias {
	case aaCenterCorner2:
		return 2, 1
	case aaSquareOffset4:
		return 2, 2
	default:
		return 1, 1
	}
}

type surfaceTarget struct {
	writeEnabled bool
	dirty        bool // rendered contents not yet written back to guest memory
}

type surfaceState struct {
	shape surfaceShape // as programmed by methods
	bound surfaceShape // what the backend renders into
	valid bool         // bound is meaningful

	color surfaceTarget
	zeta  surfaceTarget
}

// setSurfaceMethod applies a surface shape method. Pending rendering is
// written back to the old location first.
func (e *Engine) setSurfaceMethod(method, param uint32) error {
	if err := e.flushSurfaces(); err != nil {
		return err
	}

	s := &e.surface.shape
	switch method {
	case kelvinSurfaceClipHorizontal:
		s.clipX, s.clipWidth = int(param&0xFFFF), int(param>>16)
	case kelvinSurfaceClipVertical:
		s.clipY, s.clipHeight = int(param&0xFFFF), int(param>>16)
	case kelvinSurfaceFormat:
		s.colorFormat = param & surfaceFormatColorMask
		s.zetaFormat = getField(param, surfaceFormatZetaMask, surfaceFormatZetaShift)
		s.swizzled = getField(param, surfaceFormatTypeMask, surfaceFormatTypeShift) == surfaceTypeSwizzle
		s.antiAlias = getField(param, surfaceFormatAAMask, surfaceFormatAAShift)
		s.logWidth = getField(param, surfaceFormatWidthMask, surfaceFormatWidthShift)
		s.logHeight = getField(param, surfaceFormatHeightMask, surfaceFormatHeightShift)
	case kelvinSurfacePitch:
		s.colorPitch, s.zetaPitch = int(param&0xFFFF), int(param>>16)
	case kelvinSurfaceColorOffset:
		s.colorOffset = param
	case kelvinSurfaceZetaOffset:
		s.zetaOffset = param
	case kelvinDMAColor:
		s.dmaColor = param
	case kelvinDMAZeta:
		s.dmaZeta = param
	}
	return nil
}

// surfaceFormats resolves the host formats of shape's targets. A zero format
// code means the target is absent.
func surfaceFormats(shape surfaceShape) (color, zeta texture.SurfaceFormat, err error) {
	if shape.colorFormat != 0 {
		if color, err = texture.LookupSurfaceColor(shape.colorFormat); err != nil {
			return color, zeta, err
		}
	}
	if shape.zetaFormat != 0 {
		if zeta, err = texture.LookupSurfaceZeta(shape.zetaFormat); err != nil {
			return color, zeta, err
		}
	}
	return color, zeta, nil
}

// updateSurface makes the backend render into the programmed surfaces with
// the given write enables. Targets whose write enable changes, or that are
// about to be replaced, are written back first. New targets are loaded from
// guest memory.
func (e *Engine) updateSurface(colorWrite, zetaWrite bool) error {
	st := &e.surface
	retarget := !st.valid || st.shape != st.bound

	if retarget || st.color.writeEnabled != colorWrite || st.zeta.writeEnabled != zetaWrite {
		if err := e.flushSurfaces(); err != nil {
			return err
		}
	}

	if retarget {
		color, zeta, err := surfaceFormats(st.shape)
		if err != nil {
			return err
		}

		w, h := st.shape.size()
		sx, sy := st.shape.aaFactor()
		desc := render.SurfaceDesc{Width: w * sx, Height: h * sy, Color: color.Host, Zeta: zeta.Host}
		if err := e.backend.SetSurface(desc); err != nil {
			return fmt.Errorf("failed to set surface: %w", err)
		}

		st.bound = st.shape
		st.valid = true

		if color.Host != texture.HostInvalid && st.shape.dmaColor != 0 {
			if err := e.uploadSurface(render.SurfaceColor, color); err != nil {
				return err
			}
		}
		if zeta.Host != texture.HostInvalid && st.shape.dmaZeta != 0 {
			if err := e.uploadSurface(render.SurfaceZeta, zeta); err != nil {
				return err
			}
		}
		logger.Logger().Debug("surface bound", "width", w, "height", h, "color", st.shape.colorFormat, "zeta", st.shape.zetaFormat)
	}

	st.color.writeEnabled = colorWrite
	st.zeta.writeEnabled = zetaWrite
	return nil
}

// markSurfacesDirty records that the enabled targets have been rendered to.
func (e *Engine) markSurfacesDirty() {
	if e.surface.color.writeEnabled {
		e.surface.color.dirty = true
	}
	if e.surface.zeta.writeEnabled {
		e.surface.zeta.dirty = true
	}
}

// flushSurfaces writes dirty render targets back to guest memory.
func (e *Engine) flushSurfaces() error {
	if !e.surface.valid {
		return nil
	}

	color, zeta, err := surfaceFormats(e.surface.bound)
	if err != nil {
		return err
	}

	wrote := false
	if e.surface.color.dirty && color.Host != texture.HostInvalid && e.surface.bound.dmaColor != 0 {
		if err := e.downloadSurface(render.SurfaceColor, color); err != nil {
			return err
		}
		wrote = true
	}
	e.surface.color.dirty = false

	if e.surface.zeta.dirty && zeta.Host != texture.HostInvalid && e.surface.bound.dmaZeta != 0 {
		if err := e.downloadSurface(render.SurfaceZeta, zeta); err != nil {
			return err
		}
		wrote = true
	}
	e.surface.zeta.dirty = false

	// Textures may sample what was just written
	if wrote {
		e.markTexturesDirty()
	}
	return nil
}

// surfaceLocation returns the guest span of one target of shape and its row
// pitch.
func (e *Engine) surfaceLocation(shape surfaceShape, kind render.SurfaceKind, bpp int) ([]byte, int, error) {
	instance, offset, pitch := shape.dmaColor, shape.colorOffset, shape.colorPitch
	if kind == render.SurfaceZeta {
		instance, offset, pitch = shape.dmaZeta, shape.zetaOffset, shape.zetaPitch
	}

	w, h := shape.size()
	if shape.swizzled {
		pitch = w * bpp
	}

	dma, _, err := object.Map(e.bus, instance)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to map surface: %w", err)
	}

	size := pitch*(h-1) + w*bpp
	if h == 0 || w == 0 {
		size = 0
	}
	if int(offset)+size > len(dma) {
		return nil, 0, fmt.Errorf("%w: surface at 0x%X size 0x%X exceeds dma window 0x%X",
			object.ErrOutOfBounds, offset, size, len(dma))
	}
	return dma[offset : int(offset)+size], pitch, nil
}

// downloadSurface reads a render target back, resolves anti-aliasing and
// stores it in guest memory in the guest layout.
func (e *Engine) downloadSurface(kind render.SurfaceKind, f texture.SurfaceFormat) error {
	shape := e.surface.bound
	bpp := f.BytesPerPixel

	dst, pitch, err := e.surfaceLocation(shape, kind, bpp)
	if err != nil {
		return err
	}

	host, err := e.backend.ReadPixels(kind)
	if err != nil {
		return fmt.Errorf("failed to read surface: %w", err)
	}

	w, h := shape.size()
	sx, sy := shape.aaFactor()
	pixels := resample(host, w*sx, h*sy, w, h, bpp, kind == render.SurfaceColor)

	if shape.swizzled {
		pixels = texture.Swizzle(pixels, w, h, w*bpp, bpp)
		copy(dst, pixels)
	} else {
		for y := range h {
			copy(dst[y*pitch:y*pitch+w*bpp], pixels[y*w*bpp:])
		}
	}

	logger.Logger().Debug("surface written back", "kind", kind, "width", w, "height", h, "swizzled", shape.swizzled)
	return nil
}

// uploadSurface loads guest memory into a freshly bound render target.
func (e *Engine) uploadSurface(kind render.SurfaceKind, f texture.SurfaceFormat) error {
	shape := e.surface.bound
	bpp := f.BytesPerPixel

	src, pitch, err := e.surfaceLocation(shape, kind, bpp)
	if err != nil {
		return err
	}

	w, h := shape.size()
	var pixels []byte
	if shape.swizzled {
		pixels = texture.Unswizzle(src, w, h, w*bpp, bpp)
	} else {
		pixels = make([]byte, w*h*bpp)
		for y := range h {
			copy(pixels[y*w*bpp:(y+1)*w*bpp], src[y*pitch:])
		}
	}

	sx, sy := shape.aaFactor()
	pixels = resample(pixels, w, h, w*sx, h*sy, bpp, false)
	return e.backend.UploadSurface(kind, pixels)
}

// resample scales a tightly packed image. Four byte color is filtered, so a
// supersampled target is averaged down; everything else, including depth,
// takes the nearest sample.
func resample(src []byte, sw, sh, dw, dh, bpp int, filter bool) []byte {
	if sw == dw && sh == dh {
		return src
	}

	var dst, in draw.Image
	switch bpp {
	case 1:
		s := image.NewGray(image.Rect(0, 0, sw, sh))
		copy(s.Pix, src)
		in, dst = s, image.NewGray(image.Rect(0, 0, dw, dh))
	case 2:
		s := image.NewGray16(image.Rect(0, 0, sw, sh))
		copy(s.Pix, src)
		in, dst = s, image.NewGray16(image.Rect(0, 0, dw, dh))
		filter = false // packed channels cannot be averaged bytewise
	default:
		s := image.NewRGBA(image.Rect(0, 0, sw, sh))
		copy(s.Pix, src)
		in, dst = s, image.NewRGBA(image.Rect(0, 0, dw, dh))
	}

	var scaler draw.Scaler = draw.NearestNeighbor
	if filter {
		scaler = draw.ApproxBiLinear
	}
	scaler.Scale(dst, dst.Bounds(), in, in.Bounds(), draw.Src, nil)

	switch d := dst.(type) {
	case *image.Gray:
		return d.Pix
	case *image.Gray16:
		return d.Pix
	default:
		return dst.(*image.RGBA).Pix
	}
}
