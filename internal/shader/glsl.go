package shader

import (
	"fmt"
	"strings"
)

const glslVersion = "#version 330\n"

// varyings carried from the vertex stage to the pixel stage.
var varyings = []string{"D0", "D1", "B0", "B1", "Fog", "T0", "T1", "T2", "T3"}

// vertexBlock declares the interface block shared by all stages.
func vertexBlock(qualifier, name string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s Vertex {\n", qualifier)
	for _, v := range varyings {
		fmt.Fprintf(&b, "    vec4 %s;\n", v)
	}
	fmt.Fprintf(&b, "} %s;\n", name)
	return b.String()
}

// writeMask returns the GLSL component mask for a 4-bit xyzw write mask
// where bit 3 is x.
func writeMask(mask uint32) string {
	var b strings.Builder
	for i, c := range "xyzw" {
		if mask&(8>>i) != 0 {
			b.WriteRune(c)
		}
	}
	return b.String()
}

// epilogue converts the screen-space position and writes the varyings.
const vertexEpilogue = `
    // Screen space to clip space; the divide by w happens after clipping.
    gl_Position = vec4(oPos.x * 2.0 / surfaceSize.x - oPos.w,
                       oPos.w - oPos.y * 2.0 / surfaceSize.y,
                       oPos.z / clipRange.y * 2.0 - oPos.w,
                       oPos.w);
    gl_PointSize = oPts.x;

    vout.D0 = clamp(oD0, 0.0, 1.0);
    vout.D1 = clamp(oD1, 0.0, 1.0);
    vout.B0 = clamp(oB0, 0.0, 1.0);
    vout.B1 = clamp(oB1, 0.0, 1.0);
    vout.Fog = oFog;
    vout.T0 = oT0;
    vout.T1 = oT1;
    vout.T2 = oT2;
    vout.T3 = oT3;
`

// outputDecls declares the vertex output registers with hardware defaults.
const outputDecls = `vec4 oPos = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oD0 = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oD1 = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oB0 = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oB1 = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oFog = vec4(0.0);
vec4 oPts = vec4(1.0);
vec4 oT0 = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oT1 = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oT2 = vec4(0.0, 0.0, 0.0, 1.0);
vec4 oT3 = vec4(0.0, 0.0, 0.0, 1.0);
`
