package pgraph

import (
	"fmt"
	"math"

	"github.com/richardwooding/nv2a/internal/logger"
	"github.com/richardwooding/nv2a/internal/render"
	"github.com/richardwooding/nv2a/internal/shader"
)

// Guest encodings of fixed-function enums. Most follow the GL token values.
const (
	blendZero                  = 0x0000
	blendOne                   = 0x0001
	blendSrcColor              = 0x0300
	blendOneMinusSrcColor      = 0x0301
	blendSrcAlpha              = 0x0302
	blendOneMinusSrcAlpha      = 0x0303
	blendDstAlpha              = 0x0304
	blendOneMinusDstAlpha      = 0x0305
	blendDstColor              = 0x0306
	blendOneMinusDstColor      = 0x0307
	blendSrcAlphaSaturate      = 0x0308
	blendConstantColor         = 0x8001
	blendOneMinusConstantColor = 0x8002
	blendConstantAlpha         = 0x8003
	blendOneMinusConstantAlpha = 0x8004

	blendEquationAdd             = 0x8006
	blendEquationMin             = 0x8007
	blendEquationMax             = 0x8008
	blendEquationSubtract        = 0x800A
	blendEquationReverseSubtract = 0x800B

	stencilOpZero    = 0x0000
	stencilOpInvert  = 0x150A
	stencilOpKeep    = 0x1E00
	stencilOpReplace = 0x1E01
	stencilOpIncrSat = 0x1E02
	stencilOpDecrSat = 0x1E03
	stencilOpIncr    = 0x8507
	stencilOpDecr    = 0x8508

	cullFaceFront        = 0x0404
	cullFaceBack         = 0x0405
	cullFaceFrontAndBack = 0x0408

	frontFaceCW  = 0x0900
	frontFaceCCW = 0x0901

	texGenEyeLinear     = 0x2400
	texGenObjectLinear  = 0x2401
	texGenSphereMap     = 0x2402
	texGenNormalMap     = 0x8511
	texGenReflectionMap = 0x8512

	transformModeMask    = 0x3
	transformModeProgram = 2
)

var blendFactors = map[uint32]render.BlendFactor{
	blendZero:                  render.BlendZero,
	blendOne:                   render.BlendOne,
	blendSrcColor:              render.BlendSrcColor,
	blendOneMinusSrcColor:      render.BlendOneMinusSrcColor,
	blendSrcAlpha:              render.BlendSrcAlpha,
	blendOneMinusSrcAlpha:      render.BlendOneMinusSrcAlpha,
	blendDstAlpha:              render.BlendDstAlpha,
	blendOneMinusDstAlpha:      render.BlendOneMinusDstAlpha,
	blendDstColor:              render.BlendDstColor,
	blendOneMinusDstColor:      render.BlendOneMinusDstColor,
	blendSrcAlphaSaturate:      render.BlendSrcAlphaSaturate,
	blendConstantColor:         render.BlendConstColor,
	blendOneMinusConstantColor: render.BlendOneMinusConstColor,
	blendConstantAlpha:         render.BlendConstAlpha,
	blendOneMinusConstantAlpha: render.BlendOneMinusConstAlpha,
}

var blendEquations = map[uint32]render.BlendEquation{
	blendEquationAdd:             render.BlendAdd,
	blendEquationMin:             render.BlendMin,
	blendEquationMax:             render.BlendMax,
	blendEquationSubtract:        render.BlendSubtract,
	blendEquationReverseSubtract: render.BlendReverseSubtract,
}

var stencilOps = map[uint32]render.StencilOp{
	stencilOpZero:    render.StencilZero,
	stencilOpInvert:  render.StencilInvert,
	stencilOpKeep:    render.StencilKeep,
	stencilOpReplace: render.StencilReplace,
	stencilOpIncrSat: render.StencilIncrSat,
	stencilOpDecrSat: render.StencilDecrSat,
	stencilOpIncr:    render.StencilIncrWrap,
	stencilOpDecr:    render.StencilDecrWrap,
}

var texGenModes = map[uint32]shader.TexGenMode{
	texGenEyeLinear:     shader.TexGenEyeLinear,
	texGenObjectLinear:  shader.TexGenObjectLinear,
	texGenSphereMap:     shader.TexGenSphereMap,
	texGenNormalMap:     shader.TexGenNormalMap,
	texGenReflectionMap: shader.TexGenReflectionMap,
}

// compareFunc decodes a NEVER..ALWAYS (0x200..0x207) comparison.
func compareFunc(v uint32) render.CompareFunc {
	return render.CompareFunc(v & 0x7)
}

func (e *Engine) method(m uint32) uint32 {
	return e.methods[m/4]
}

func (e *Engine) enabledMethod(m uint32) bool {
	return e.methods[m/4] != 0
}

// colorMask packs the per-channel SET_COLOR_MASK bytes into red, green,
// blue and alpha bits.
func (e *Engine) colorMask() uint8 {
	m := e.method(kelvinColorMask)
	var mask uint8
	if m&0x00FF0000 != 0 {
		mask |= 1 << 0
	}
	if m&0x0000FF00 != 0 {
		mask |= 1 << 1
	}
	if m&0x000000FF != 0 {
		mask |= 1 << 2
	}
	if m&0xFF000000 != 0 {
		mask |= 1 << 3
	}
	return mask
}

// fixedState computes the non-programmable pipeline state from the method
// registers.
func (e *Engine) fixedState() render.FixedState {
	st := render.FixedState{
		ColorMask:  e.colorMask(),
		DepthWrite: e.enabledMethod(kelvinDepthMask),

		BlendEnable:   e.enabledMethod(kelvinBlendEnable),
		BlendSrc:      blendFactors[e.method(kelvinBlendFuncSFactor)],
		BlendDst:      blendFactors[e.method(kelvinBlendFuncDFactor)],
		BlendEquation: blendEquations[e.method(kelvinBlendEquation)],
		BlendColor:    e.method(kelvinBlendColor),

		CullEnable: e.enabledMethod(kelvinCullFaceEnable),
		FrontCCW:   e.method(kelvinFrontFace) == frontFaceCCW,

		DepthTest: e.enabledMethod(kelvinDepthTestEnable),
		DepthFunc: compareFunc(e.method(kelvinDepthFunc)),

		StencilTest:     e.enabledMethod(kelvinStencilTestEnable),
		StencilFunc:     compareFunc(e.method(kelvinStencilFunc)),
		StencilRef:      uint8(e.method(kelvinStencilFuncRef)),
		StencilFuncMask: uint8(e.method(kelvinStencilFuncMask)),
		StencilMask:     uint8(e.method(kelvinStencilMask)),
		StencilFail:     stencilOps[e.method(kelvinStencilOpFail)],
		StencilZFail:    stencilOps[e.method(kelvinStencilOpZFail)],
		StencilZPass:    stencilOps[e.method(kelvinStencilOpZPass)],

		Dither: e.enabledMethod(kelvinDitherEnable),
	}

	switch e.method(kelvinCullFace) {
	case cullFaceFront:
		st.CullFace = render.CullFront
	case cullFaceFrontAndBack:
		st.CullFace = render.CullFrontAndBack
	default:
		st.CullFace = render.CullBack
	}
	return st
}

// shaderState collects every input of the generated program.
func (e *Engine) shaderState() shader.State {
	st := shader.State{
		FixedFunction: e.method(kelvinTransformExecutionMode)&transformModeMask != transformModeProgram,
		Skinning:      shader.SkinningMode(e.method(kelvinSkinMode)),
		Normalize:     e.enabledMethod(kelvinNormalizationEnable),

		CombinerControl:    e.method(kelvinCombinerControl),
		ShaderStageProgram: e.method(kelvinShaderStageProgram),
		OtherStageInput:    e.method(kelvinShaderOtherStageInput),
		DotMapping:         e.method(kelvinDotRGBMapping),
		ClipPlaneMode:      e.method(kelvinShaderClipPlaneMode),
		FinalInputs0:       e.method(kelvinCombinerSpecularFogCW0),
		FinalInputs1:       e.method(kelvinCombinerSpecularFogCW1),
		AlphaTest:          e.enabledMethod(kelvinAlphaTestEnable),
		AlphaFunc:          compareFunc(e.method(kelvinAlphaFunc)),

		Primitive: primitiveFor(e.primitive),
	}

	for i := range shader.MaxCombinerStages {
		off := uint32(i) * 4
		st.RGBInputs[i] = e.method(kelvinCombinerColorICW + off)
		st.RGBOutputs[i] = e.method(kelvinCombinerColorOCW + off)
		st.AlphaInputs[i] = e.method(kelvinCombinerAlphaICW + off)
		st.AlphaOutputs[i] = e.method(kelvinCombinerAlphaOCW + off)
	}

	for i := range shader.TextureUnits {
		unit := uint32(i)
		for c := range 4 {
			st.TexGen[i][c] = texGenModes[e.method(kelvinTexGenS+unit*16+uint32(c)*4)]
		}
		st.TextureMatrix[i] = e.enabledMethod(kelvinTextureMatrixEnable + unit*4)
		st.RectTexture[i] = e.textureEnabled(i) && e.textures[i].linear
	}

	if !st.FixedFunction {
		start := min(e.method(kelvinTransformProgramStart), shader.MaxProgramLength)
		n := 0
		for slot := start; slot < shader.MaxProgramLength; slot++ {
			copy(st.Program[n*shader.TokenWords:], e.program[slot][:])
			n++
			if e.program[slot][3]&1 != 0 {
				break
			}
		}
		st.ProgramLength = n
	}
	return st
}

// bindShaders resolves the program for the current state, compiling it on a
// miss, and uploads the uniforms it reads.
func (e *Engine) bindShaders() error {
	st := e.shaderState()

	prog, ok := e.shaderCache[st]
	if !ok {
		src, err := shader.Translate(st)
		if err != nil {
			return e.unsupportedShader(st, err)
		}
		h, err := e.backend.CompileProgram(src)
		if err != nil {
			return err
		}
		prog = render.NewResource(h, e.backend.DeleteProgram)
		e.shaderCache[st] = prog
		logger.Logger().Debug("compiled program", "handle", h, "fixed", st.FixedFunction, "length", st.ProgramLength)
	}

	changed := e.boundProgram != prog
	if changed {
		if e.boundProgram != nil {
			e.boundProgram.Release()
		}
		e.boundProgram = prog.Retain()
		if err := e.backend.UseProgram(prog.Handle()); err != nil {
			return err
		}
	}
	return e.uploadUniforms(prog.Handle(), changed || e.programDirty)
}

func (e *Engine) unsupportedShader(st shader.State, err error) error {
	logger.Logger().Error("unsupported shader configuration",
		"err", err,
		"combiner_control", st.CombinerControl,
		"shader_stage_program", st.ShaderStageProgram,
		"other_stage_input", st.OtherStageInput,
		"rgb_inputs", st.RGBInputs,
		"rgb_outputs", st.RGBOutputs,
		"alpha_inputs", st.AlphaInputs,
		"alpha_outputs", st.AlphaOutputs,
		"final_inputs", [2]uint32{st.FinalInputs0, st.FinalInputs1})
	return err
}

func floatsAt(words []uint32) []float32 {
	out := make([]float32, len(words))
	for i, w := range words {
		out[i] = math.Float32frombits(w)
	}
	return out
}

func (e *Engine) floatMethods(m uint32, n int) []float32 {
	return floatsAt(e.methods[m/4 : m/4+uint32(n)])
}

// colorVec4 unpacks an ARGB color into normalized RGBA.
func colorVec4(argb uint32) []float32 {
	return []float32{
		float32(argb>>16&0xFF) / 255,
		float32(argb>>8&0xFF) / 255,
		float32(argb&0xFF) / 255,
		float32(argb>>24) / 255,
	}
}

func indexed(name string, i int) string {
	return fmt.Sprintf("%s[%d]", name, i)
}

// uploadUniforms writes the program uniforms. Unless all is set only the
// transform constants written since the last upload are sent.
func (e *Engine) uploadUniforms(prog render.Handle, all bool) error {
	var uniforms []struct {
		name   string
		values []float32
	}
	set := func(name string, values []float32) {
		uniforms = append(uniforms, struct {
			name   string
			values []float32
		}{name, values})
	}

	for i := range e.constants {
		c := &e.constants[i]
		if all || c.dirty {
			set(indexed("c", i), floatsAt(c.data[:]))
			c.dirty = false
		}
	}

	w, h := e.surface.shape.size()
	sx, sy := e.surface.shape.aaFactor()
	set("surfaceSize", []float32{float32(w * sx), float32(h * sy)})
	set("clipRange", []float32{0, float32(math.MaxUint32 >> 8)})

	for i := range 4 {
		m := uint32(i) * 64
		set(indexed("modelViewMat", i), e.floatMethods(kelvinModelViewMatrix+m, 16))
		set(indexed("invModelViewMat", i), e.floatMethods(kelvinInverseModelViewMatrix+m, 16))
		set(indexed("textureMat", i), e.floatMethods(kelvinTextureMatrix+m, 16))
		for c, plane := range [4]string{"texPlaneS", "texPlaneT", "texPlaneR", "texPlaneQ"} {
			set(indexed(plane, i), e.floatMethods(kelvinTexGenPlaneS+m+uint32(c)*16, 4))
		}
	}
	set("compositeMat", e.floatMethods(kelvinCompositeMatrix, 16))
	set("projectionMat", e.floatMethods(kelvinProjectionMatrix, 16))

	for i := range shader.MaxCombinerStages {
		off := uint32(i) * 4
		set(indexed("c0", i), colorVec4(e.method(kelvinCombinerFactor0+off)))
		set(indexed("c1", i), colorVec4(e.method(kelvinCombinerFactor1+off)))
	}
	set(indexed("c0", shader.MaxCombinerStages), colorVec4(e.method(kelvinSpecularFogFactor)))
	set(indexed("c1", shader.MaxCombinerStages), colorVec4(e.method(kelvinSpecularFogFactor+4)))
	set("fogColor", colorVec4(e.method(kelvinFogColor)))
	set("alphaRef", []float32{float32(e.method(kelvinAlphaRef)&0xFF) / 255})

	for i := range shader.TextureUnits {
		base := kelvinTexture + uint32(i)*texUnitStride
		set(indexed("bumpMat", i), e.floatMethods(base+texBumpEnvMat, 4))
		set(indexed("bumpScale", i), e.floatMethods(base+texBumpEnvScale, 1))
		set(indexed("bumpOffset", i), e.floatMethods(base+texBumpEnvOffset, 1))
		t := &e.textures[i]
		set(indexed("texScale", i), []float32{float32(t.width), float32(t.height)})
	}

	for _, u := range uniforms {
		if err := e.backend.SetUniform(prog, u.name, u.values); err != nil {
			return err
		}
	}
	e.programDirty = false
	return nil
}
