// Package shader translates fixed-function state, vertex microcode and
// register combiner configuration into GLSL.
//
// The translator keeps no state and is safe for concurrent use.
package shader

import (
	"errors"

	"github.com/richardwooding/nv2a/internal/render"
)

// Limits of the programmable stages.
const (
	MaxProgramLength  = 136 // transform program tokens
	TokenWords        = 4
	ConstantCount     = 192
	MaxCombinerStages = 8
	TextureUnits      = 4
	VertexAttributes  = 16
)

var (
	// ErrUnsupportedCombinerMode indicates a combiner or texture stage setting
	// the translator does not implement.
	ErrUnsupportedCombinerMode = errors.New("unsupported combiner mode")

	// ErrUnsupportedProgram indicates a transform program the translator
	// cannot express.
	ErrUnsupportedProgram = errors.New("unsupported transform program")
)

// SkinningMode selects vertex blending across model-view matrices.
type SkinningMode uint8

// Skinning modes (NV097_SET_SKIN_MODE).
const (
	SkinningOff SkinningMode = iota
	Skinning1Weight
	Skinning2Weights2Matrices
	Skinning2Weights
	Skinning3Weights3Matrices
	Skinning3Weights
	Skinning4Weights4Matrices
)

// TexGenMode selects how one texture coordinate is generated.
type TexGenMode uint8

// Texture coordinate generation modes.
const (
	TexGenDisable TexGenMode = iota
	TexGenEyeLinear
	TexGenObjectLinear
	TexGenSphereMap
	TexGenNormalMap
	TexGenReflectionMap
)

// State is every input the generated program depends on. It is comparable
// and used directly as the program cache key, so two states that differ in
// any field, including a single microcode word, produce distinct programs.
type State struct {
	// Vertex stage
	FixedFunction bool
	ProgramLength int
	Program       [MaxProgramLength * TokenWords]uint32
	Skinning      SkinningMode
	Normalize     bool
	TexGen        [TextureUnits][4]TexGenMode
	TextureMatrix [TextureUnits]bool

	// Pixel stage
	CombinerControl    uint32
	ShaderStageProgram uint32
	OtherStageInput    uint32
	DotMapping         uint32
	ClipPlaneMode      uint32
	RGBInputs          [MaxCombinerStages]uint32
	RGBOutputs         [MaxCombinerStages]uint32
	AlphaInputs        [MaxCombinerStages]uint32
	AlphaOutputs       [MaxCombinerStages]uint32
	FinalInputs0       uint32
	FinalInputs1       uint32
	RectTexture        [TextureUnits]bool
	AlphaTest          bool
	AlphaFunc          render.CompareFunc

	Primitive render.Primitive
}

// Translate generates the program for st. A geometry stage is emitted only
// for quad primitives.
func Translate(st State) (render.ProgramSource, error) {
	var src render.ProgramSource
	var err error

	if st.FixedFunction {
		src.Vertex = generateFixedFunction(st)
	} else {
		src.Vertex, err = generateProgram(st)
		if err != nil {
			return render.ProgramSource{}, err
		}
	}

	src.Fragment, err = generateCombiners(st)
	if err != nil {
		return render.ProgramSource{}, err
	}

	if st.Primitive == render.PrimLinesAdjacency {
		src.Geometry = generateQuadGeometry()
	}
	return src, nil
}
