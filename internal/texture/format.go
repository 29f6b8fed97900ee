package texture

import (
	"errors"
	"fmt"
)

// ErrUnsupportedFormat indicates a guest format with no host conversion.
var ErrUnsupportedFormat = errors.New("unsupported texture format")

// HostFormat is the pixel layout handed to the rendering backend.
type HostFormat uint8

// Host pixel formats.
const (
	HostInvalid HostFormat = iota
	HostR8                 // single channel, replicated by the sampler swizzle
	HostRG8
	HostRGB565
	HostRGB5A1 // BGRA 1555
	HostRGBA4  // BGRA 4444
	HostBGRA8
	HostRGBA8
	HostABGR8
	HostDXT1
	HostDXT3
	HostDXT5
	HostDepth16
	HostDepth24Stencil8
	HostR16
)

// Conversion is a CPU-side conversion applied before upload.
type Conversion uint8

// Conversions.
const (
	ConvertNone Conversion = iota
	ConvertPalette
	ConvertYUY2
	ConvertUYVY
	ConvertR6G5B5
)

// ColorFormat describes one guest texture color format.
type ColorFormat struct {
	Name          string
	BytesPerPixel int
	Linear        bool
	Compressed    bool
	Host          HostFormat
	Convert       Conversion
}

// Guest texture color formats (NV097_SET_TEXTURE_FORMAT_COLOR).
const (
	FormatSZ_Y8                  = 0x00
	FormatSZ_AY8                 = 0x01
	FormatSZ_A1R5G5B5            = 0x02
	FormatSZ_X1R5G5B5            = 0x03
	FormatSZ_A4R4G4B4            = 0x04
	FormatSZ_R5G6B5              = 0x05
	FormatSZ_A8R8G8B8            = 0x06
	FormatSZ_X8R8G8B8            = 0x07
	FormatSZ_I8_A8R8G8B8         = 0x0B
	FormatL_DXT1_A1R5G5B5        = 0x0C
	FormatL_DXT23_A8R8G8B8       = 0x0E
	FormatL_DXT45_A8R8G8B8       = 0x0F
	FormatLU_IMAGE_A1R5G5B5      = 0x10
	FormatLU_IMAGE_R5G6B5        = 0x11
	FormatLU_IMAGE_A8R8G8B8      = 0x12
	FormatLU_IMAGE_Y8            = 0x13
	FormatSZ_A8                  = 0x19
	FormatSZ_A8Y8                = 0x1A
	FormatLU_IMAGE_AY8           = 0x1B
	FormatLU_IMAGE_X1R5G5B5      = 0x1C
	FormatLU_IMAGE_A4R4G4B4      = 0x1D
	FormatLU_IMAGE_X8R8G8B8      = 0x1E
	FormatLU_IMAGE_CR8YB8CB8YA8  = 0x24
	FormatLU_IMAGE_YB8CR8YA8CB8  = 0x25
	FormatSZ_R6G5B5              = 0x27
	FormatSZ_G8B8                = 0x28
	FormatSZ_R8B8                = 0x29
	FormatLU_IMAGE_DEPTH_X8_Y24  = 0x2E
	FormatLU_IMAGE_DEPTH_Y16     = 0x30
	FormatLU_IMAGE_Y16           = 0x35
	FormatSZ_A8B8G8R8            = 0x3A
	FormatSZ_R8G8B8A8            = 0x3C
	FormatLU_IMAGE_A8B8G8R8      = 0x3F
	FormatLU_IMAGE_R8G8B8A8      = 0x41
)

var colorFormats = map[uint32]ColorFormat{
	FormatSZ_Y8:                 {"SZ_Y8", 1, false, false, HostR8, ConvertNone},
	FormatSZ_AY8:                {"SZ_AY8", 1, false, false, HostR8, ConvertNone},
	FormatSZ_A1R5G5B5:           {"SZ_A1R5G5B5", 2, false, false, HostRGB5A1, ConvertNone},
	FormatSZ_X1R5G5B5:           {"SZ_X1R5G5B5", 2, false, false, HostRGB5A1, ConvertNone},
	FormatSZ_A4R4G4B4:           {"SZ_A4R4G4B4", 2, false, false, HostRGBA4, ConvertNone},
	FormatSZ_R5G6B5:             {"SZ_R5G6B5", 2, false, false, HostRGB565, ConvertNone},
	FormatSZ_A8R8G8B8:           {"SZ_A8R8G8B8", 4, false, false, HostBGRA8, ConvertNone},
	FormatSZ_X8R8G8B8:           {"SZ_X8R8G8B8", 4, false, false, HostBGRA8, ConvertNone},
	FormatSZ_I8_A8R8G8B8:        {"SZ_I8_A8R8G8B8", 1, false, false, HostBGRA8, ConvertPalette},
	FormatL_DXT1_A1R5G5B5:       {"L_DXT1_A1R5G5B5", 4, false, true, HostDXT1, ConvertNone},
	FormatL_DXT23_A8R8G8B8:      {"L_DXT23_A8R8G8B8", 4, false, true, HostDXT3, ConvertNone},
	FormatL_DXT45_A8R8G8B8:      {"L_DXT45_A8R8G8B8", 4, false, true, HostDXT5, ConvertNone},
	FormatLU_IMAGE_A1R5G5B5:     {"LU_IMAGE_A1R5G5B5", 2, true, false, HostRGB5A1, ConvertNone},
	FormatLU_IMAGE_R5G6B5:       {"LU_IMAGE_R5G6B5", 2, true, false, HostRGB565, ConvertNone},
	FormatLU_IMAGE_A8R8G8B8:     {"LU_IMAGE_A8R8G8B8", 4, true, false, HostBGRA8, ConvertNone},
	FormatLU_IMAGE_Y8:           {"LU_IMAGE_Y8", 1, true, false, HostR8, ConvertNone},
	FormatSZ_A8:                 {"SZ_A8", 1, false, false, HostR8, ConvertNone},
	FormatSZ_A8Y8:               {"SZ_A8Y8", 2, false, false, HostRG8, ConvertNone},
	FormatLU_IMAGE_AY8:          {"LU_IMAGE_AY8", 1, true, false, HostR8, ConvertNone},
	FormatLU_IMAGE_X1R5G5B5:     {"LU_IMAGE_X1R5G5B5", 2, true, false, HostRGB5A1, ConvertNone},
	FormatLU_IMAGE_A4R4G4B4:     {"LU_IMAGE_A4R4G4B4", 2, true, false, HostRGBA4, ConvertNone},
	FormatLU_IMAGE_X8R8G8B8:     {"LU_IMAGE_X8R8G8B8", 4, true, false, HostBGRA8, ConvertNone},
	FormatLU_IMAGE_CR8YB8CB8YA8: {"LU_IMAGE_CR8YB8CB8YA8", 2, true, false, HostRGBA8, ConvertYUY2},
	FormatLU_IMAGE_YB8CR8YA8CB8: {"LU_IMAGE_YB8CR8YA8CB8", 2, true, false, HostRGBA8, ConvertUYVY},
	FormatSZ_R6G5B5:             {"SZ_R6G5B5", 2, false, false, HostRGBA8, ConvertR6G5B5},
	FormatSZ_G8B8:               {"SZ_G8B8", 2, false, false, HostRG8, ConvertNone},
	FormatSZ_R8B8:               {"SZ_R8B8", 2, false, false, HostRG8, ConvertNone},
	FormatLU_IMAGE_DEPTH_X8_Y24: {"LU_IMAGE_DEPTH_X8_Y24_FIXED", 4, true, false, HostDepth24Stencil8, ConvertNone},
	FormatLU_IMAGE_DEPTH_Y16:    {"LU_IMAGE_DEPTH_Y16_FIXED", 2, true, false, HostDepth16, ConvertNone},
	FormatLU_IMAGE_Y16:          {"LU_IMAGE_Y16", 2, true, false, HostR16, ConvertNone},
	FormatSZ_A8B8G8R8:           {"SZ_A8B8G8R8", 4, false, false, HostRGBA8, ConvertNone},
	FormatSZ_R8G8B8A8:           {"SZ_R8G8B8A8", 4, false, false, HostABGR8, ConvertNone},
	FormatLU_IMAGE_A8B8G8R8:     {"LU_IMAGE_A8B8G8R8", 4, true, false, HostRGBA8, ConvertNone},
	FormatLU_IMAGE_R8G8B8A8:     {"LU_IMAGE_R8G8B8A8", 4, true, false, HostABGR8, ConvertNone},
}

// LookupColorFormat returns the description of a guest texture color format.
func LookupColorFormat(code uint32) (ColorFormat, error) {
	f, ok := colorFormats[code]
	if !ok {
		return ColorFormat{}, fmt.Errorf("%w: color format 0x%02X", ErrUnsupportedFormat, code)
	}
	return f, nil
}

// SurfaceFormat describes a render target color or depth format.
type SurfaceFormat struct {
	BytesPerPixel int
	Host          HostFormat
	Depth         bool
}

// Surface color formats (NV097_SET_SURFACE_FORMAT_COLOR).
const (
	SurfaceX1R5G5B5_Z1R5G5B5 = 0x1
	SurfaceX1R5G5B5_O1R5G5B5 = 0x2
	SurfaceR5G6B5            = 0x3
	SurfaceX8R8G8B8_Z8R8G8B8 = 0x4
	SurfaceX8R8G8B8_O8R8G8B8 = 0x5
	SurfaceA8R8G8B8          = 0x8
	SurfaceB8                = 0x9
	SurfaceG8B8              = 0xA
)

// Surface zeta formats (NV097_SET_SURFACE_FORMAT_ZETA).
const (
	SurfaceZ16   = 0x1
	SurfaceZ24S8 = 0x2
)

var surfaceColorFormats = map[uint32]SurfaceFormat{
	SurfaceX1R5G5B5_Z1R5G5B5: {2, HostRGB5A1, false},
	SurfaceX1R5G5B5_O1R5G5B5: {2, HostRGB5A1, false},
	SurfaceR5G6B5:            {2, HostRGB565, false},
	SurfaceX8R8G8B8_Z8R8G8B8: {4, HostBGRA8, false},
	SurfaceX8R8G8B8_O8R8G8B8: {4, HostBGRA8, false},
	SurfaceA8R8G8B8:          {4, HostBGRA8, false},
	SurfaceB8:                {1, HostR8, false},
	SurfaceG8B8:              {2, HostRG8, false},
}

var surfaceZetaFormats = map[uint32]SurfaceFormat{
	SurfaceZ16:   {2, HostDepth16, true},
	SurfaceZ24S8: {4, HostDepth24Stencil8, true},
}

// LookupSurfaceColor returns the description of a surface color format.
func LookupSurfaceColor(code uint32) (SurfaceFormat, error) {
	f, ok := surfaceColorFormats[code]
	if !ok {
		return SurfaceFormat{}, fmt.Errorf("%w: surface color format 0x%X", ErrUnsupportedFormat, code)
	}
	return f, nil
}

// LookupSurfaceZeta returns the description of a surface depth format.
func LookupSurfaceZeta(code uint32) (SurfaceFormat, error) {
	f, ok := surfaceZetaFormats[code]
	if !ok {
		return SurfaceFormat{}, fmt.Errorf("%w: surface zeta format 0x%X", ErrUnsupportedFormat, code)
	}
	return f, nil
}

// BytesPerPixel returns the storage size of one texel, or 0 for block
// compressed formats.
func (f HostFormat) BytesPerPixel() int {
	switch f {
	case HostR8:
		return 1
	case HostRG8, HostRGB565, HostRGB5A1, HostRGBA4, HostDepth16, HostR16:
		return 2
	case HostBGRA8, HostRGBA8, HostABGR8, HostDepth24Stencil8:
		return 4
	default:
		return 0
	}
}
