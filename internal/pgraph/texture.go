package pgraph

import (
	"fmt"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/object"
	"github.com/richardwooding/nv2a/internal/render"
	"github.com/richardwooding/nv2a/internal/texture"
)

// SET_TEXTURE_* fields.
const (
	texFormatContextDMAMask = 0x00000003
	texFormatCubemap        = 1 << 2
	texFormatDimMask        = 0x000000F0
	texFormatDimShift       = 4
	texFormatColorMask      = 0x0000FF00
	texFormatColorShift     = 8
	texFormatLevelsMask     = 0x000F0000
	texFormatLevelsShift    = 16
	texFormatSizeUMask      = 0x00F00000
	texFormatSizeUShift     = 20
	texFormatSizeVMask      = 0x0F000000
	texFormatSizeVShift     = 24
	texFormatSizePMask      = 0xF0000000
	texFormatSizePShift     = 28

	texControl0Enable = 1 << 30

	texControl1PitchShift = 16

	texFilterLODBiasMask = 0x00001FFF
	texFilterMinMask     = 0x00FF0000
	texFilterMinShift    = 16
	texFilterMagMask     = 0x0F000000
	texFilterMagShift    = 24

	texAddressUMask  = 0x0000000F
	texAddressVMask  = 0x00000F00
	texAddressVShift = 8
	texAddressPMask  = 0x000F0000
	texAddressPShift = 16

	texPaletteDMAB        = 1 << 0
	texPaletteLengthMask  = 0x0000000C
	texPaletteLengthShift = 2
	texPaletteOffsetMask  = 0xFFFFFFC0
)

var texWraps = map[uint32]render.Wrap{
	1: render.WrapRepeat,
	2: render.WrapMirroredRepeat,
	3: render.WrapClampToEdge,
	4: render.WrapClampToBorder,
	5: render.WrapClampToEdge, // CLAMP_OGL
}

var texMinFilters = map[uint32]render.Filter{
	1: render.FilterNearest,
	2: render.FilterLinear,
	3: render.FilterNearestMipmapNearest,
	4: render.FilterLinearMipmapNearest,
	5: render.FilterNearestMipmapLinear,
	6: render.FilterLinearMipmapLinear,
	7: render.FilterLinear, // CONVOLUTION_2D_LOD0
}

var texMagFilters = map[uint32]render.Filter{
	1: render.FilterNearest,
	2: render.FilterLinear,
	4: render.FilterLinear, // CONVOLUTION_2D_LOD0
}

// textureKey identifies a host texture in the texture cache. Two bindings
// with the same shape and locations whose sampled contents hash the same
// share a texture.
type textureKey struct {
	shape       texture.Shape
	fingerprint uint64
	dataAddr    uint32
	paletteAddr uint32
}

// textureSource is the guest memory behind the texture being bound.
type textureSource struct {
	data    []byte
	palette []byte
}

// textureUnit is the state of one texture stage.
type textureUnit struct {
	dirty  bool
	linear bool // format is a linear (rectangle) format
	width  int
	height int

	binding *render.Resource
}

func (e *Engine) textureEnabled(unit int) bool {
	return e.textureRegister(unit, texControl0)&texControl0Enable != 0
}

func (t *textureUnit) unbind() {
	if t.binding != nil {
		t.binding.Release()
		t.binding = nil
	}
}

// textureMethod records a per-unit texture method and marks the unit dirty.
func (e *Engine) textureMethod(method, param uint32) {
	unit := (method - kelvinTexture) / texUnitStride
	t := &e.textures[unit]
	t.dirty = true

	if (method-kelvinTexture)%texUnitStride == texFormat {
		f, err := texture.LookupColorFormat(getField(param, texFormatColorMask, texFormatColorShift))
		t.linear = err == nil && f.Linear
	}
}

func (e *Engine) textureRegister(unit int, reg uint32) uint32 {
	return e.method(kelvinTexture + uint32(unit)*texUnitStride + reg)
}

// mapTextureDMA maps context DMA A or B.
func (e *Engine) mapTextureDMA(useB bool) ([]byte, error) {
	instance := e.dmaA
	if useB {
		instance = e.dmaB
	}
	data, _, err := object.Map(e.bus, instance)
	if err != nil {
		return nil, fmt.Errorf("failed to map texture dma: %w", err)
	}
	return data, nil
}

// bindTextures resolves every dirty unit through the texture cache and binds
// the result. Clean units keep their binding.
func (e *Engine) bindTextures() error {
	for i := range e.textures {
		t := &e.textures[i]
		if !t.dirty {
			continue
		}
		if err := e.bindTexture(i); err != nil {
			return err
		}
		t.dirty = false
	}
	return nil
}

func (e *Engine) bindTexture(unit int) error {
	t := &e.textures[unit]

	control0 := e.textureRegister(unit, texControl0)
	if !e.textureEnabled(unit) {
		t.unbind()
		return e.backend.BindTexture(unit, 0, render.Sampler{})
	}

	format := e.textureRegister(unit, texFormat)
	colorCode := getField(format, texFormatColorMask, texFormatColorShift)
	f, err := texture.LookupColorFormat(colorCode)
	if err != nil {
		logger.Logger().Error("unsupported texture format",
			"unit", unit,
			"format", format,
			"control0", control0,
			"control1", e.textureRegister(unit, texControl1),
			"image_rect", e.textureRegister(unit, texImageRect))
		return err
	}

	shape := texture.Shape{
		ColorFormat:    colorCode,
		Dimensionality: int(getField(format, texFormatDimMask, texFormatDimShift)),
		Levels:         int(getField(format, texFormatLevelsMask, texFormatLevelsShift)),
		Cubemap:        format&texFormatCubemap != 0,
		Depth:          1,
	}
	if f.Linear {
		rect := e.textureRegister(unit, texImageRect)
		shape.Width = int(rect >> 16)
		shape.Height = int(rect & 0xFFFF)
		shape.Pitch = int(e.textureRegister(unit, texControl1) >> texControl1PitchShift)
		shape.Levels = 1
	} else {
		shape.Width = 1 << getField(format, texFormatSizeUMask, texFormatSizeUShift)
		shape.Height = 1 << getField(format, texFormatSizeVMask, texFormatSizeVShift)
		if shape.Dimensionality == 3 {
			shape.Depth = 1 << getField(format, texFormatSizePMask, texFormatSizePShift)
		}
	}
	t.width, t.height = shape.Width, shape.Height

	dma, err := e.mapTextureDMA(format&texFormatContextDMAMask == 2)
	if err != nil {
		return err
	}
	offset := e.textureRegister(unit, texOffset)
	size := shape.Size(f)
	if uint64(offset)+uint64(size) > uint64(len(dma)) {
		return fmt.Errorf("%w: texture at 0x%X size 0x%X exceeds dma window 0x%X",
			object.ErrOutOfBounds, offset, size, len(dma))
	}

	key := textureKey{shape: shape, dataAddr: offset}
	src := textureSource{data: dma[offset : offset+uint32(size)]}

	if f.Convert == texture.ConvertPalette {
		pal := e.textureRegister(unit, texPalette)
		entries := texture.PaletteEntries >> getField(pal, texPaletteLengthMask, texPaletteLengthShift)
		palDMA, err := e.mapTextureDMA(pal&texPaletteDMAB != 0)
		if err != nil {
			return err
		}
		palOffset := pal & texPaletteOffsetMask
		if uint64(palOffset)+uint64(entries*4) > uint64(len(palDMA)) {
			return fmt.Errorf("%w: palette at 0x%X exceeds dma window", object.ErrOutOfBounds, palOffset)
		}
		key.paletteAddr = palOffset
		src.palette = palDMA[palOffset : palOffset+uint32(entries*4)]
	}
	key.fingerprint = texture.Fingerprint(src.data, src.palette)

	res, err := e.lookupTexture(key, src)
	if err != nil {
		return err
	}

	if t.binding != res {
		t.unbind()
		t.binding = res.Retain()
	}
	return e.backend.BindTexture(unit, res.Handle(), e.sampler(unit))
}

// lookupTexture fetches key from the cache, generating it from src on a
// miss.
func (e *Engine) lookupTexture(key textureKey, src textureSource) (*render.Resource, error) {
	e.textureSource = src
	defer func() { e.textureSource = textureSource{} }()
	return e.textureCache.Get(key)
}

// generateTexture is the texture cache's retrieve function. It decodes the
// guest texels of the texture being bound and creates the host texture.
func (e *Engine) generateTexture(key textureKey) (*render.Resource, error) {
	src := e.textureSource
	shape := key.shape

	f, err := texture.LookupColorFormat(shape.ColorFormat)
	if err != nil {
		return nil, err
	}

	desc := render.TextureDesc{
		Target: render.Texture2D,
		Format: f.Host,
		Width:  shape.Width,
		Height: shape.Height,
		Depth:  shape.Depth,
		Levels: max(shape.Levels, 1),
	}
	switch {
	case shape.Cubemap:
		desc.Target = render.TextureCube
	case shape.Dimensionality == 3:
		desc.Target = render.Texture3D
	case f.Linear:
		desc.Target = render.TextureRect
	}

	faceCount := 1
	if shape.Cubemap {
		faceCount = 6
	}
	faceSize := shape.FaceSize(f)

	faces := make([][][]byte, faceCount)
	for face := range faceCount {
		data := src.data[face*faceSize:]
		for _, lvl := range shape.MipLevels(f) {
			faces[face] = append(faces[face], decodeLevel(f, shape, lvl, data[lvl.Offset:lvl.Offset+lvl.Size], src.palette))
		}
	}

	h, err := e.backend.CreateTexture(desc, faces)
	if err != nil {
		return nil, fmt.Errorf("failed to create texture: %w", err)
	}
	logger.Logger().Debug("texture created", "handle", h, "format", f.Name,
		"width", shape.Width, "height", shape.Height, "levels", desc.Levels, "cubemap", shape.Cubemap)

	// The cache owns this reference; bindings retain their own
	return render.NewResource(h, e.backend.DeleteTexture), nil
}

// decodeLevel converts one mip level of guest texels into the host layout.
func decodeLevel(f texture.ColorFormat, shape texture.Shape, lvl texture.Level, data, palette []byte) []byte {
	if f.Compressed {
		return data
	}

	bpp := f.BytesPerPixel
	pitch := lvl.Width * bpp
	linear := data
	if f.Linear {
		pitch = shape.Pitch
	} else if lvl.Depth > 1 {
		linear = make([]byte, lvl.Width*lvl.Height*lvl.Depth*bpp)
		texture.UnswizzleBox(data, lvl.Width, lvl.Height, lvl.Depth, linear, pitch, pitch*lvl.Height, bpp)
	} else {
		linear = texture.Unswizzle(data, lvl.Width, lvl.Height, pitch, bpp)
	}

	if f.Linear && f.Convert == texture.ConvertNone && pitch != lvl.Width*bpp {
		// Repack to tightly packed rows
		packed := make([]byte, lvl.Width*lvl.Height*bpp)
		for y := range lvl.Height {
			copy(packed[y*lvl.Width*bpp:(y+1)*lvl.Width*bpp], data[y*pitch:])
		}
		return packed
	}
	return texture.Convert(f, linear, palette, lvl.Width, lvl.Height*lvl.Depth, pitch)
}

// sampler decodes the filter and address registers of unit.
func (e *Engine) sampler(unit int) render.Sampler {
	filter := e.textureRegister(unit, texFilter)
	address := e.textureRegister(unit, texAddress)

	s := render.Sampler{
		Min:         texMinFilters[getField(filter, texFilterMinMask, texFilterMinShift)],
		Mag:         texMagFilters[getField(filter, texFilterMagMask, texFilterMagShift)],
		S:           texWraps[address&texAddressUMask],
		T:           texWraps[getField(address, texAddressVMask, texAddressVShift)],
		R:           texWraps[getField(address, texAddressPMask, texAddressPShift)],
		BorderColor: e.textureRegister(unit, texBorderColor),
		LODBias:     lodBias(filter & texFilterLODBiasMask),
	}
	return s
}

// lodBias decodes the signed 5.8 fixed point LOD bias.
func lodBias(v uint32) float32 {
	// Sign extend 13 bits
	signed := int32(v<<19) >> 19
	return float32(signed) / 256
}
