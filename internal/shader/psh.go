package shader

import (
	"fmt"
	"strings"

	"github.com/richardwooding/nv2a/internal/render"
)

// Texture shader modes (NV097_SET_SHADER_STAGE_PROGRAM, 5 bits per stage).
const (
	texModeNone          = 0x00
	texModeProject2D     = 0x01
	texModeProject3D     = 0x02
	texModeCubemap       = 0x03
	texModePassThrough   = 0x04
	texModeClipPlane     = 0x05
	texModeBumpEnvMap    = 0x06
	texModeBumpEnvMapLum = 0x07
	texModeDependentAR   = 0x0F
	texModeDependentGB   = 0x10
	texModeDotProduct    = 0x11
)

// Combiner registers.
const (
	regZero   = 0x0
	regC0     = 0x1
	regC1     = 0x2
	regFog    = 0x3
	regV0     = 0x4
	regV1     = 0x5
	regT0     = 0x8
	regR0     = 0xC
	regR1     = 0xD
	regV1R0   = 0xE
	regEFProd = 0xF
)

// Input channel and mapping fields of an 8-bit combiner input.
const (
	inputRegMask     = 0x0F
	inputChanAlpha   = 0x10
	inputMappingMask = 0xE0
)

// Combiner control fields.
const (
	controlStageMask = 0xFF
	controlMuxMSB    = 0x100
	controlUniqueC0  = 0x1000
	controlUniqueC1  = 0x10000
)

// Final combiner flags (low byte of final inputs 1).
const (
	finalClampSum     = 0x80
	finalComplementV1 = 0x40
	finalComplementR0 = 0x20
)

type combinerInput struct {
	reg     uint32
	alpha   bool
	mapping uint32
}

func decodeInput(v uint32) combinerInput {
	return combinerInput{
		reg:     v & inputRegMask,
		alpha:   v&inputChanAlpha != 0,
		mapping: v & inputMappingMask,
	}
}

// inputs splits a packed 4-input word into A, B, C and D.
func inputs(word uint32) [4]combinerInput {
	return [4]combinerInput{
		decodeInput(word >> 24 & 0xFF),
		decodeInput(word >> 16 & 0xFF),
		decodeInput(word >> 8 & 0xFF),
		decodeInput(word & 0xFF),
	}
}

type combinerOutput struct {
	ab, cd, sum uint32
	abDot       bool
	cdDot       bool
	mux         bool
	mapping     uint32
	abBlue      bool
	cdBlue      bool
}

func decodeOutput(v uint32) combinerOutput {
	flags := v >> 12
	return combinerOutput{
		cd:      v & 0xF,
		ab:      v >> 4 & 0xF,
		sum:     v >> 8 & 0xF,
		cdDot:   flags&0x01 != 0,
		abDot:   flags&0x02 != 0,
		mux:     flags&0x04 != 0,
		mapping: flags & 0x38,
		cdBlue:  flags&0x40 != 0,
		abBlue:  flags&0x80 != 0,
	}
}

func mapInput(mapping uint32, x string) (string, error) {
	switch mapping {
	case 0x00:
		return fmt.Sprintf("max(%s, 0.0)", x), nil
	case 0x20:
		return fmt.Sprintf("(1.0 - clamp(%s, 0.0, 1.0))", x), nil
	case 0x40:
		return fmt.Sprintf("(2.0 * max(%s, 0.0) - 1.0)", x), nil
	case 0x60:
		return fmt.Sprintf("(-2.0 * max(%s, 0.0) + 1.0)", x), nil
	case 0x80:
		return fmt.Sprintf("(max(%s, 0.0) - 0.5)", x), nil
	case 0xA0:
		return fmt.Sprintf("(-max(%s, 0.0) + 0.5)", x), nil
	case 0xC0:
		return x, nil
	case 0xE0:
		return "-" + x, nil
	default:
		return "", fmt.Errorf("%w: input mapping 0x%02X", ErrUnsupportedCombinerMode, mapping)
	}
}

func mapOutput(mapping uint32, x string) (string, error) {
	switch mapping {
	case 0x00:
		return x, nil
	case 0x08:
		return fmt.Sprintf("(%s - 0.5)", x), nil
	case 0x10:
		return fmt.Sprintf("(%s * 2.0)", x), nil
	case 0x18:
		return fmt.Sprintf("((%s - 0.5) * 2.0)", x), nil
	case 0x20:
		return fmt.Sprintf("(%s * 4.0)", x), nil
	case 0x30:
		return fmt.Sprintf("(%s / 2.0)", x), nil
	default:
		return "", fmt.Errorf("%w: output mapping 0x%02X", ErrUnsupportedCombinerMode, mapping)
	}
}

// regName returns the variable holding combiner register reg for a stage.
func regName(reg uint32, stage int, final bool) (string, error) {
	switch {
	case reg == regZero:
		return "vec4(0.0)", nil
	case reg == regC0:
		return fmt.Sprintf("c0[%d]", stage), nil
	case reg == regC1:
		return fmt.Sprintf("c1[%d]", stage), nil
	case reg == regFog:
		return "fog", nil
	case reg == regV0:
		return "v0", nil
	case reg == regV1:
		return "v1", nil
	case reg >= regT0 && reg <= regT0+3:
		return fmt.Sprintf("t%d", reg-regT0), nil
	case reg == regR0:
		return "r0", nil
	case reg == regR1:
		return "r1", nil
	case final && reg == regV1R0:
		return "v1r0", nil
	case final && reg == regEFProd:
		return "efProd", nil
	default:
		return "", fmt.Errorf("%w: register 0x%X in stage %d", ErrUnsupportedCombinerMode, reg, stage)
	}
}

// readInput renders one mapped combiner input as vec3 (rgb) or float (alpha).
func readInput(in combinerInput, stage int, rgb, final bool) (string, error) {
	reg, err := regName(in.reg, stage, final)
	if err != nil {
		return "", err
	}

	var x string
	switch {
	case rgb && in.alpha:
		x = fmt.Sprintf("vec3(%s.a)", reg)
	case rgb:
		x = reg + ".rgb"
	case in.alpha:
		x = reg + ".a"
	default:
		x = reg + ".b"
	}

	if final {
		// The final combiner only implements the unsigned mappings
		if in.mapping == 0x20 {
			return fmt.Sprintf("(1.0 - clamp(%s, 0.0, 1.0))", x), nil
		}
		return fmt.Sprintf("clamp(%s, 0.0, 1.0)", x), nil
	}
	return mapInput(in.mapping, x)
}

// writeReg renders the assignment target for an output register.
func writeReg(reg uint32, stage int) (string, bool, error) {
	switch {
	case reg == regZero:
		return "", false, nil
	case reg == regV0, reg == regV1, reg >= regT0 && reg <= regT0+3, reg == regR0, reg == regR1:
		name, err := regName(reg, stage, false)
		return name, true, err
	default:
		return "", false, fmt.Errorf("%w: output register 0x%X in stage %d", ErrUnsupportedCombinerMode, reg, stage)
	}
}

// stageCode emits one general combiner stage for either the rgb or alpha
// portion.
func stageCode(b *strings.Builder, stage int, inWord, outWord uint32, rgb, muxMSB bool) error {
	in := inputs(inWord)
	out := decodeOutput(outWord)

	vec, comp := "vec3", "rgb"
	if !rgb {
		vec, comp = "float", "a"
	}

	var args [4]string
	for i := range in {
		s, err := readInput(in[i], stage, rgb, false)
		if err != nil {
			return err
		}
		args[i] = s
	}

	ab := fmt.Sprintf("(%s * %s)", args[0], args[1])
	if rgb && out.abDot {
		ab = fmt.Sprintf("vec3(dot(%s, %s))", args[0], args[1])
	}
	cd := fmt.Sprintf("(%s * %s)", args[2], args[3])
	if rgb && out.cdDot {
		cd = fmt.Sprintf("vec3(dot(%s, %s))", args[2], args[3])
	}

	fmt.Fprintf(b, "    {\n        %s ab = %s;\n        %s cd = %s;\n", vec, ab, vec, cd)
	if out.mux {
		sel := "r0.a >= 0.5"
		if !muxMSB {
			sel = "(uint(r0.a * 255.0) & 1u) == 1u"
		}
		fmt.Fprintf(b, "        %s sum = (%s) ? cd : ab;\n", vec, sel)
	} else {
		fmt.Fprintf(b, "        %s sum = ab + cd;\n", vec)
	}

	for _, o := range []struct {
		reg  uint32
		name string
	}{{out.ab, "ab"}, {out.cd, "cd"}, {out.sum, "sum"}} {
		dst, ok, err := writeReg(o.reg, stage)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		mapped, err := mapOutput(out.mapping, o.name)
		if err != nil {
			return err
		}
		fmt.Fprintf(b, "        %s.%s = clamp(%s, -1.0, 1.0);\n", dst, comp, mapped)
	}
	b.WriteString("    }\n")
	return nil
}

// samplerType returns the GLSL sampler a texture mode reads through.
func samplerType(mode uint32, rect bool) string {
	switch mode {
	case texModeProject3D:
		return "sampler3D"
	case texModeCubemap:
		return "samplerCube"
	case texModeProject2D, texModeBumpEnvMap, texModeBumpEnvMapLum, texModeDependentAR, texModeDependentGB:
		if rect {
			return "sampler2DRect"
		}
		return "sampler2D"
	default:
		return ""
	}
}

// dotMap converts a fetched color into a signed vector for dot products.
func dotMap(mapping uint32, x string) string {
	if mapping == 0 {
		return x
	}
	return fmt.Sprintf("(%s * 2.0 - 1.0)", x)
}

// textureStage emits the fetch for texture unit i.
func textureStage(b *strings.Builder, st State, i int, mode uint32) error {
	t := fmt.Sprintf("fin.T%d", i)
	input := 0
	switch i {
	case 2:
		input = int(st.OtherStageInput >> 16 & 0x3)
	case 3:
		input = int(st.OtherStageInput >> 20 & 0x3)
	}
	scale := ""
	if st.RectTexture[i] {
		scale = fmt.Sprintf(" * texScale[%d]", i)
	}

	switch mode {
	case texModeNone:
		fmt.Fprintf(b, "    t%d = vec4(0.0);\n", i)
	case texModeProject2D:
		fmt.Fprintf(b, "    t%d = texture(texSamp%d, %s.xy / %s.w%s);\n", i, i, t, t, scale)
	case texModeProject3D:
		fmt.Fprintf(b, "    t%d = texture(texSamp%d, %s.xyz / %s.w);\n", i, i, t, t)
	case texModeCubemap:
		fmt.Fprintf(b, "    t%d = texture(texSamp%d, %s.xyz);\n", i, i, t)
	case texModePassThrough:
		fmt.Fprintf(b, "    t%d = clamp(%s, 0.0, 1.0);\n", i, t)
	case texModeClipPlane:
		for j := range 4 {
			op := "<"
			if st.ClipPlaneMode>>(4*i+j)&1 != 0 {
				op = ">="
			}
			fmt.Fprintf(b, "    if (%s.%c %s 0.0) discard;\n", t, swizzleChars[j], op)
		}
		fmt.Fprintf(b, "    t%d = vec4(0.0);\n", i)
	case texModeBumpEnvMap, texModeBumpEnvMapLum:
		if i == 0 {
			return fmt.Errorf("%w: bump environment map on stage 0", ErrUnsupportedCombinerMode)
		}
		prev := i - 1
		fmt.Fprintf(b, "    vec2 dsdt%d = bumpMat[%d] * (t%d.rg * 2.0 - 1.0);\n", i, i, prev)
		fmt.Fprintf(b, "    t%d = texture(texSamp%d, (%s.xy + dsdt%d)%s);\n", i, i, t, i, scale)
		if mode == texModeBumpEnvMapLum {
			fmt.Fprintf(b, "    t%d.rgb *= clamp(t%d.b * bumpScale[%d] + bumpOffset[%d], 0.0, 1.0);\n", i, prev, i, i)
		}
	case texModeDependentAR, texModeDependentGB:
		if i == 0 {
			return fmt.Errorf("%w: dependent read on stage 0", ErrUnsupportedCombinerMode)
		}
		src := "ar"
		if mode == texModeDependentGB {
			src = "gb"
		}
		fmt.Fprintf(b, "    t%d = texture(texSamp%d, t%d.%s%s);\n", i, i, input, src, scale)
	case texModeDotProduct:
		if i == 0 {
			return fmt.Errorf("%w: dot product on stage 0", ErrUnsupportedCombinerMode)
		}
		mapping := st.DotMapping >> (4 * (i - 1)) & 0x7
		fmt.Fprintf(b, "    t%d = vec4(dot(%s.xyz, %s));\n", i, t, dotMap(mapping, fmt.Sprintf("t%d.rgb", input)))
	default:
		return fmt.Errorf("%w: texture mode 0x%02X on stage %d", ErrUnsupportedCombinerMode, mode, i)
	}
	return nil
}

// alphaTestOps maps compare functions to the GLSL test that keeps a fragment.
var alphaTestOps = map[render.CompareFunc]string{
	render.CompareNever:        "false",
	render.CompareLess:         "fragColor.a < alphaRef",
	render.CompareEqual:        "fragColor.a == alphaRef",
	render.CompareLessEqual:    "fragColor.a <= alphaRef",
	render.CompareGreater:      "fragColor.a > alphaRef",
	render.CompareNotEqual:     "fragColor.a != alphaRef",
	render.CompareGreaterEqual: "fragColor.a >= alphaRef",
	render.CompareAlways:       "true",
}

// generateCombiners translates the register combiner setup in st.
func generateCombiners(st State) (string, error) {
	var b strings.Builder

	b.WriteString(glslVersion)
	b.WriteString(vertexBlock("in", "fin"))
	fmt.Fprintf(&b, "uniform vec4 c0[%d];\nuniform vec4 c1[%d];\n", MaxCombinerStages+1, MaxCombinerStages+1)
	b.WriteString("uniform vec4 fogColor;\nuniform float alphaRef;\n")
	b.WriteString("uniform mat2 bumpMat[4];\nuniform float bumpScale[4];\nuniform float bumpOffset[4];\nuniform vec2 texScale[4];\n")

	modes := [TextureUnits]uint32{}
	for i := range TextureUnits {
		modes[i] = st.ShaderStageProgram >> (5 * i) & 0x1F
		if s := samplerType(modes[i], st.RectTexture[i]); s != "" {
			fmt.Fprintf(&b, "uniform %s texSamp%d;\n", s, i)
		}
	}
	b.WriteString("out vec4 fragColor;\n\nvoid main() {\n")

	b.WriteString("    vec4 v0 = gl_FrontFacing ? fin.D0 : fin.B0;\n")
	b.WriteString("    vec4 v1 = gl_FrontFacing ? fin.D1 : fin.B1;\n")
	b.WriteString("    vec4 fog = vec4(fogColor.rgb, clamp(fin.Fog.x, 0.0, 1.0));\n")
	b.WriteString("    vec4 t0, t1, t2, t3;\n")

	for i := range TextureUnits {
		if err := textureStage(&b, st, i, modes[i]); err != nil {
			return "", err
		}
	}

	// r0.a starts as the alpha of texture 0
	b.WriteString("    vec4 r0 = vec4(0.0, 0.0, 0.0, t0.a);\n    vec4 r1 = vec4(0.0);\n")

	stages := int(st.CombinerControl & controlStageMask)
	if stages > MaxCombinerStages {
		stages = MaxCombinerStages
	}
	muxMSB := st.CombinerControl&controlMuxMSB != 0

	for i := range stages {
		fmt.Fprintf(&b, "    // stage %d\n", i)
		if err := stageCode(&b, i, st.RGBInputs[i], st.RGBOutputs[i], true, muxMSB); err != nil {
			return "", err
		}
		if err := stageCode(&b, i, st.AlphaInputs[i], st.AlphaOutputs[i], false, muxMSB); err != nil {
			return "", err
		}
	}

	if err := finalCombiner(&b, st); err != nil {
		return "", err
	}

	if st.AlphaTest {
		fmt.Fprintf(&b, "    if (!(%s)) discard;\n", alphaTestOps[st.AlphaFunc])
	}
	b.WriteString("}\n")
	return b.String(), nil
}

// finalCombiner emits rgb = D + mix(C, B, A) and alpha = G.
func finalCombiner(b *strings.Builder, st State) error {
	const final = MaxCombinerStages
	f0 := inputs(st.FinalInputs0)
	f1 := inputs(st.FinalInputs1)
	flags := st.FinalInputs1 & 0xFF

	v1 := "v1.rgb"
	if flags&finalComplementV1 != 0 {
		v1 = "(1.0 - v1.rgb)"
	}
	r0 := "r0.rgb"
	if flags&finalComplementR0 != 0 {
		r0 = "(1.0 - r0.rgb)"
	}
	sum := fmt.Sprintf("%s + %s", v1, r0)
	if flags&finalClampSum != 0 {
		sum = fmt.Sprintf("clamp(%s, 0.0, 1.0)", sum)
	}
	b.WriteString("    // final combiner\n")
	fmt.Fprintf(b, "    vec4 v1r0 = vec4(%s, 0.0);\n", sum)

	e, err := readInput(f1[0], final, true, true)
	if err != nil {
		return err
	}
	f, err := readInput(f1[1], final, true, true)
	if err != nil {
		return err
	}
	fmt.Fprintf(b, "    vec4 efProd = vec4(%s * %s, 0.0);\n", e, f)

	var abcd [4]string
	for i := range f0 {
		if abcd[i], err = readInput(f0[i], final, true, true); err != nil {
			return err
		}
	}
	g, err := readInput(f1[2], final, false, true)
	if err != nil {
		return err
	}

	fmt.Fprintf(b, "    fragColor.rgb = %s + mix(%s, %s, %s);\n", abcd[3], abcd[2], abcd[1], abcd[0])
	fmt.Fprintf(b, "    fragColor.a = %s;\n", g)
	return nil
}
