// Package render defines the capability interface the graphics engine drives
// and a headless implementation of it.
//
// All Backend methods are thread-affine: they must be called from the
// goroutine that called CreateContext, with that goroutine locked to its OS
// thread.
package render

import (
	"errors"
	"image"

	"github.com/richardwooding/nv2a/internal/texture"
)

var (
	// ErrNoContext indicates a call without a current context.
	ErrNoContext = errors.New("no current rendering context")

	// ErrUnknownResource indicates a handle the backend did not create.
	ErrUnknownResource = errors.New("unknown backend resource")

	// ErrPlatformInitialized indicates a second explicit platform Init.
	ErrPlatformInitialized = errors.New("platform already initialized")
)

// Handle names a backend object (program, texture or query).
type Handle uint32

// Primitive is a host primitive topology.
type Primitive uint8

// Primitives.
const (
	PrimPoints Primitive = iota
	PrimLines
	PrimLineLoop
	PrimLineStrip
	PrimTriangles
	PrimTriangleStrip
	PrimTriangleFan
	PrimLinesAdjacency // quads, expanded by the geometry stage
	PrimPolygon
)

// ProgramSource is the shader source for one program. Geometry is empty when
// no geometry stage is needed.
type ProgramSource struct {
	Vertex   string
	Fragment string
	Geometry string
}

// TextureTarget is the dimensionality of a host texture.
type TextureTarget uint8

// Texture targets.
const (
	Texture2D TextureTarget = iota
	TextureRect
	Texture3D
	TextureCube
)

// TextureDesc describes a texture to create.
type TextureDesc struct {
	Target TextureTarget
	Format texture.HostFormat
	Width  int
	Height int
	Depth  int
	Levels int
}

// Filter is a sampler filter mode.
type Filter uint8

// Filters.
const (
	FilterNearest Filter = iota
	FilterLinear
	FilterNearestMipmapNearest
	FilterLinearMipmapNearest
	FilterNearestMipmapLinear
	FilterLinearMipmapLinear
)

// Wrap is a sampler addressing mode.
type Wrap uint8

// Wrap modes.
const (
	WrapRepeat Wrap = iota
	WrapMirroredRepeat
	WrapClampToEdge
	WrapClampToBorder
)

// Sampler is the sampling state bound alongside a texture.
type Sampler struct {
	Min, Mag      Filter
	S, T, R       Wrap
	BorderColor   uint32 // ARGB
	LODBias       float32
	MaxAnisotropy int
}

// SurfaceKind selects the color or depth/stencil render target.
type SurfaceKind uint8

// Surface kinds.
const (
	SurfaceColor SurfaceKind = iota
	SurfaceZeta
)

// SurfaceDesc describes the render targets.
type SurfaceDesc struct {
	Width, Height int
	Color         texture.HostFormat // HostInvalid when no color target
	Zeta          texture.HostFormat // HostInvalid when no depth target
}

// BlendFactor is a blend function operand.
type BlendFactor uint8

// Blend factors.
const (
	BlendZero BlendFactor = iota
	BlendOne
	BlendSrcColor
	BlendOneMinusSrcColor
	BlendSrcAlpha
	BlendOneMinusSrcAlpha
	BlendDstAlpha
	BlendOneMinusDstAlpha
	BlendDstColor
	BlendOneMinusDstColor
	BlendSrcAlphaSaturate
	BlendConstColor
	BlendOneMinusConstColor
	BlendConstAlpha
	BlendOneMinusConstAlpha
)

// BlendEquation combines blend source and destination terms.
type BlendEquation uint8

// Blend equations.
const (
	BlendAdd BlendEquation = iota
	BlendSubtract
	BlendReverseSubtract
	BlendMin
	BlendMax
)

// CompareFunc is a depth, stencil or alpha comparison.
type CompareFunc uint8

// Compare functions.
const (
	CompareNever CompareFunc = iota
	CompareLess
	CompareEqual
	CompareLessEqual
	CompareGreater
	CompareNotEqual
	CompareGreaterEqual
	CompareAlways
)

// StencilOp is a stencil update operation.
type StencilOp uint8

// Stencil operations.
const (
	StencilKeep StencilOp = iota
	StencilZero
	StencilReplace
	StencilIncrSat
	StencilDecrSat
	StencilInvert
	StencilIncrWrap
	StencilDecrWrap
)

// CullFace selects which faces are culled.
type CullFace uint8

// Cull faces.
const (
	CullBack CullFace = iota
	CullFront
	CullFrontAndBack
)

// FixedState is the non-programmable pipeline state applied at Begin.
type FixedState struct {
	ColorMask  uint8 // bit 0 red, 1 green, 2 blue, 3 alpha
	DepthWrite bool

	BlendEnable   bool
	BlendSrc      BlendFactor
	BlendDst      BlendFactor
	BlendEquation BlendEquation
	BlendColor    uint32 // ARGB

	CullEnable bool
	CullFace   CullFace
	FrontCCW   bool

	DepthTest bool
	DepthFunc CompareFunc

	StencilTest     bool
	StencilFunc     CompareFunc
	StencilRef      uint8
	StencilFuncMask uint8
	StencilMask     uint8
	StencilFail     StencilOp
	StencilZFail    StencilOp
	StencilZPass    StencilOp

	Dither bool
}

// AttribType is the component type of a vertex attribute.
type AttribType uint8

// Attribute types.
const (
	AttribFloat AttribType = iota
	AttribUnsignedByte
	AttribShort
	AttribPacked // 11:11:10 signed normalized, decoded by the vertex program
)

// VertexAttrib describes one vertex input.
type VertexAttrib struct {
	Enabled    bool
	Type       AttribType
	Size       int // components
	Normalized bool
	BGRA       bool
	Stride     int
	Data       []byte     // starts at vertex 0
	Constant   [4]float32 // used when not Enabled
}

// ClearRequest describes a render target clear.
type ClearRequest struct {
	Rect      image.Rectangle
	Color     bool
	ColorMask uint8 // as in FixedState
	ColorARGB uint32
	Depth     bool
	Stencil   bool
	ZetaValue uint32 // packed as the zeta surface stores it
}

// Backend is the host rendering capability layer.
type Backend interface {
	CreateContext() error
	DestroyContext()
	MakeCurrent(current bool) error

	CompileProgram(src ProgramSource) (Handle, error)
	DeleteProgram(h Handle)
	UseProgram(h Handle) error
	SetUniform(h Handle, name string, values []float32) error

	CreateTexture(desc TextureDesc, faces [][][]byte) (Handle, error)
	DeleteTexture(h Handle)
	BindTexture(unit int, h Handle, s Sampler) error

	SetSurface(desc SurfaceDesc) error
	UploadSurface(kind SurfaceKind, data []byte) error
	ReadPixels(kind SurfaceKind) ([]byte, error)

	SetFixedState(st FixedState)
	SetViewport(rect image.Rectangle)
	SetVertexAttribute(index int, attr VertexAttrib)

	DrawArrays(prim Primitive, first, count int)
	DrawMultiArrays(prim Primitive, firsts, counts []int)
	DrawRangeElements(prim Primitive, start, end uint32, indices []uint32)
	Clear(req ClearRequest)

	BeginQuery() (Handle, error)
	EndQuery(h Handle)
	QueryResult(h Handle) (uint32, error)
	DeleteQuery(h Handle)
}
