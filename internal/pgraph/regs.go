package pgraph

// PGRAPH MMIO registers, as offsets into the 0x400000 block.
const (
	RegIntr              = 0x100
	RegNSource           = 0x108
	RegIntrEn            = 0x140
	RegCtxControl        = 0x144
	RegCtxUser           = 0x148
	RegCtxSwitch1        = 0x14C
	RegCtxCache1         = 0x160 // 8 subchannels, then CTX_CACHE2 at +0x20...
	RegTrappedAddr       = 0x704
	RegTrappedDataLow    = 0x708
	RegSurface           = 0x710
	RegIncrement         = 0x71C
	RegFIFO              = 0x720
	RegChannelCtxTable   = 0x780
	RegChannelCtxPtr     = 0x784
	RegChannelCtxTrigger = 0x788

	// RegisterSpace is the size of the PGRAPH MMIO block.
	RegisterSpace = 0x2000
)

// Interrupt bits in RegIntr and RegIntrEn.
const (
	IntrNotify        = 1 << 0
	IntrContextSwitch = 1 << 12
	IntrError         = 1 << 20
)

// NSOURCE values.
const nsourceNotification = 1 << 0

// Register fields.
const (
	ctxControlChannelValid = 1 << 16

	ctxUserChannel3D    = 1 << 0
	ctxUserSubchMask    = 0x0000E000
	ctxUserSubchShift   = 13
	ctxUserChannelMask  = 0x1F000000
	ctxUserChannelShift = 24

	trappedAddrMethodMask   = 0x00001FFF
	trappedAddrSubchShift   = 16
	trappedAddrSubchMask    = 0x00070000
	trappedAddrChannelShift = 20
	trappedAddrChannelMask  = 0x01F00000

	surfaceRead3DMask    = 0x00700000
	surfaceRead3DShift   = 20
	surfaceWrite3DMask   = 0x07000000
	surfaceWrite3DShift  = 24
	surfaceModulo3DMask  = 0x70000000
	surfaceModulo3DShift = 28

	incrementRead3D = 1 << 1

	fifoAccess = 1 << 0

	ctxTriggerReadIn   = 1 << 0
	ctxTriggerWriteOut = 1 << 1
)

// Graphics object classes.
const (
	ClassContextSurfaces2D = 0x62
	ClassImageBlit         = 0x9F
	ClassKelvin            = 0x97
)

// NV062 context surfaces 2D methods.
const (
	nv062SetObject           = 0x0000
	nv062DMAImageSource      = 0x0184
	nv062DMAImageDest        = 0x0188
	nv062SetColorFormat      = 0x0300
	nv062SetPitch            = 0x0304
	nv062SetOffsetSource     = 0x0308
	nv062SetOffsetDest       = 0x030C
	nv062ColorFormatY8       = 0x01
	nv062ColorFormatR5G6B5   = 0x04
	nv062ColorFormatA8R8G8B8 = 0x0A
	nv062ColorFormatY32      = 0x0B
)

// NV09F image blit methods.
const (
	nv09fSetContextSurfaces = 0x019C
	nv09fSetOperation       = 0x02FC
	nv09fControlPointIn     = 0x0300
	nv09fControlPointOut    = 0x0304
	nv09fSize               = 0x0308

	nv09fOperationSrcCopy = 3
)

// NV097 Kelvin primitive methods.
const (
	kelvinNoOperation        = 0x0100
	kelvinWaitForIdle        = 0x0110
	kelvinSetFlipRead        = 0x0120
	kelvinSetFlipWrite       = 0x0124
	kelvinSetFlipModulo      = 0x0128
	kelvinFlipIncrementWrite = 0x012C
	kelvinFlipStall          = 0x0130

	kelvinDMANotifies  = 0x0180
	kelvinDMAA         = 0x0184
	kelvinDMAB         = 0x0188
	kelvinDMAState     = 0x0190
	kelvinDMAColor     = 0x0194
	kelvinDMAZeta      = 0x0198
	kelvinDMAVertexA   = 0x019C
	kelvinDMAVertexB   = 0x01A0
	kelvinDMASemaphore = 0x01A4
	kelvinDMAReport    = 0x01A8

	kelvinSurfaceClipHorizontal = 0x0200
	kelvinSurfaceClipVertical   = 0x0204
	kelvinSurfaceFormat         = 0x0208
	kelvinSurfacePitch          = 0x020C
	kelvinSurfaceColorOffset    = 0x0210
	kelvinSurfaceZetaOffset     = 0x0214

	kelvinCombinerAlphaICW       = 0x0260 // 8 stages
	kelvinCombinerSpecularFogCW0 = 0x0288
	kelvinCombinerSpecularFogCW1 = 0x028C
	kelvinFogColor               = 0x02A8

	kelvinAlphaTestEnable     = 0x0300
	kelvinBlendEnable         = 0x0304
	kelvinCullFaceEnable      = 0x0308
	kelvinDepthTestEnable     = 0x030C
	kelvinDitherEnable        = 0x0310
	kelvinLightingEnable      = 0x0314
	kelvinSkinMode            = 0x0328
	kelvinStencilTestEnable   = 0x032C
	kelvinAlphaFunc           = 0x033C
	kelvinAlphaRef            = 0x0340
	kelvinBlendFuncSFactor    = 0x0344
	kelvinBlendFuncDFactor    = 0x0348
	kelvinBlendColor          = 0x034C
	kelvinBlendEquation       = 0x0350
	kelvinDepthFunc           = 0x0354
	kelvinColorMask           = 0x0358
	kelvinDepthMask           = 0x035C
	kelvinStencilMask         = 0x0360
	kelvinStencilFunc         = 0x0364
	kelvinStencilFuncRef      = 0x0368
	kelvinStencilFuncMask     = 0x036C
	kelvinStencilOpFail       = 0x0370
	kelvinStencilOpZFail      = 0x0374
	kelvinStencilOpZPass      = 0x0378
	kelvinCullFace            = 0x039C
	kelvinFrontFace           = 0x03A0
	kelvinNormalizationEnable = 0x03A4

	kelvinTexGenS                = 0x03C0 // 4 stages of S, T, R, Q
	kelvinTextureMatrixEnable    = 0x0420 // 4 stages
	kelvinProjectionMatrix       = 0x0440
	kelvinModelViewMatrix        = 0x0480 // 4 matrices
	kelvinInverseModelViewMatrix = 0x0580
	kelvinCompositeMatrix        = 0x0680
	kelvinTextureMatrix          = 0x06C0 // 4 matrices
	kelvinTexGenPlaneS           = 0x0840 // 4 stages of S, T, R, Q planes

	kelvinViewportOffset   = 0x0A20
	kelvinCombinerFactor0  = 0x0A60
	kelvinCombinerFactor1  = 0x0A80
	kelvinCombinerAlphaOCW = 0x0AA0
	kelvinCombinerColorICW = 0x0AC0
	kelvinColorKeyColor    = 0x0AE0 // 4 stages
	kelvinViewportScale    = 0x0AF0

	kelvinTransformProgram  = 0x0B00 // 32 words
	kelvinTransformConstant = 0x0B80 // 32 words

	kelvinVertex3F = 0x1500
	kelvinVertex4F = 0x1518

	kelvinVertexDataArrayOffset = 0x1720 // 16 attributes
	kelvinVertexDataArrayFormat = 0x1760 // 16 attributes

	kelvinClearReportValue      = 0x17C8
	kelvinZPassPixelCountEnable = 0x17CC
	kelvinGetReport             = 0x17D0
	kelvinShaderClipPlaneMode   = 0x17F8
	kelvinBeginEnd              = 0x17FC
	kelvinArrayElement16        = 0x1800
	kelvinArrayElement32        = 0x1808
	kelvinDrawArrays            = 0x1810
	kelvinInlineArray           = 0x1818

	kelvinVertexData2FM = 0x1880 // 16 attributes of 2 words
	kelvinVertexData2S  = 0x1900
	kelvinVertexData4UB = 0x1940
	kelvinVertexData4SM = 0x1980 // 16 attributes of 2 words
	kelvinVertexData4FM = 0x1A00 // 16 attributes of 4 words

	kelvinTexture = 0x1B00 // 4 units, 64 bytes each

	kelvinSemaphoreOffset            = 0x1D6C
	kelvinSemaphoreRelease           = 0x1D70
	kelvinZStencilClearValue         = 0x1D8C
	kelvinColorClearValue            = 0x1D90
	kelvinClearSurface               = 0x1D94
	kelvinClearRectHorizontal        = 0x1D98
	kelvinClearRectVertical          = 0x1D9C
	kelvinSpecularFogFactor          = 0x1E20
	kelvinCombinerColorOCW           = 0x1E40
	kelvinCombinerControl            = 0x1E60
	kelvinShaderStageProgram         = 0x1E70
	kelvinDotRGBMapping              = 0x1E74
	kelvinShaderOtherStageInput      = 0x1E78
	kelvinTransformExecutionMode     = 0x1E94
	kelvinTransformProgramCxtWriteEn = 0x1E98
	kelvinTransformProgramLoad       = 0x1E9C
	kelvinTransformProgramStart      = 0x1EA0
	kelvinTransformConstantLoad      = 0x1EA4
)

// Per texture unit method offsets, relative to kelvinTexture + 64*unit.
const (
	texOffset        = 0x00
	texFormat        = 0x04
	texAddress       = 0x08
	texControl0      = 0x0C
	texControl1      = 0x10
	texFilter        = 0x14
	texImageRect     = 0x1C
	texPalette       = 0x20
	texBorderColor   = 0x24
	texBumpEnvMat    = 0x28 // 4 words
	texBumpEnvScale  = 0x38
	texBumpEnvOffset = 0x3C

	texUnitStride = 0x40
)
