package shader

import (
	"fmt"
	"strings"
)

// Fixed-function vertex attribute slots.
const (
	attrPosition  = 0
	attrWeight    = 1
	attrNormal    = 2
	attrDiffuse   = 3
	attrSpecular  = 4
	attrFog       = 5
	attrPointSize = 6
	attrBackDiff  = 7
	attrBackSpec  = 8
	attrTexture0  = 9
)

// skinning returns whether the last weight is implied and how many matrices
// are blended.
func skinning(mode SkinningMode) (mix bool, count int) {
	switch mode {
	case Skinning1Weight:
		return true, 2
	case Skinning2Weights2Matrices:
		return false, 2
	case Skinning2Weights:
		return true, 3
	case Skinning3Weights3Matrices:
		return false, 3
	case Skinning3Weights:
		return true, 4
	case Skinning4Weights4Matrices:
		return false, 4
	default:
		return false, 0
	}
}

// texGenExpr returns the expression for coordinate c (0..3) of stage i.
func texGenExpr(mode TexGenMode, stage, c int) string {
	comp := string(swizzleChars[c])
	plane := fmt.Sprintf("texPlane%c[%d]", "STRQ"[c], stage)

	switch mode {
	case TexGenEyeLinear:
		return fmt.Sprintf("dot(%s, tPosition)", plane)
	case TexGenObjectLinear:
		return fmt.Sprintf("dot(%s, position)", plane)
	case TexGenSphereMap:
		if c < 2 {
			return fmt.Sprintf("reflected.%s / sphereM + 0.5", comp)
		}
	case TexGenNormalMap:
		if c < 3 {
			return "tNormal." + comp
		}
	case TexGenReflectionMap:
		if c < 3 {
			return "reflected." + comp
		}
	}
	return fmt.Sprintf("v%d.%s", attrTexture0+stage, comp)
}

// generateFixedFunction synthesizes the transform stage from fixed state.
func generateFixedFunction(st State) string {
	var b strings.Builder

	b.WriteString(glslVersion)
	for i := range VertexAttributes {
		fmt.Fprintf(&b, "in vec4 v%d;\n", i)
	}
	b.WriteString(`uniform mat4 modelViewMat[4];
uniform mat4 invModelViewMat[4];
uniform mat4 compositeMat;
uniform mat4 projectionMat;
uniform mat4 textureMat[4];
uniform vec4 texPlaneS[4];
uniform vec4 texPlaneT[4];
uniform vec4 texPlaneR[4];
uniform vec4 texPlaneQ[4];
uniform vec2 surfaceSize;
uniform vec2 clipRange;
`)
	b.WriteString(vertexBlock("out", "vout"))
	b.WriteString(outputDecls)

	b.WriteString("\nvoid main() {\n")
	fmt.Fprintf(&b, "    vec4 position = v%d;\n", attrPosition)
	fmt.Fprintf(&b, "    vec3 normal = v%d.xyz;\n", attrNormal)
	b.WriteString("    vec4 tPosition = vec4(0.0);\n    vec3 tNormal = vec3(0.0);\n")

	mix, count := skinning(st.Skinning)
	if count == 0 {
		b.WriteString("    tPosition = position * modelViewMat[0];\n")
		b.WriteString("    tNormal = (vec4(normal, 0.0) * invModelViewMat[0]).xyz;\n")
	} else {
		b.WriteString("    float weightSum = 0.0;\n")
		for i := range count {
			if mix && i == count-1 {
				fmt.Fprintf(&b, "    float w%d = 1.0 - weightSum;\n", i)
			} else {
				fmt.Fprintf(&b, "    float w%d = v%d.%c;\n", i, attrWeight, swizzleChars[i])
				fmt.Fprintf(&b, "    weightSum += w%d;\n", i)
			}
			fmt.Fprintf(&b, "    tPosition += position * modelViewMat[%d] * w%d;\n", i, i)
			fmt.Fprintf(&b, "    tNormal += (vec4(normal, 0.0) * invModelViewMat[%d]).xyz * w%d;\n", i, i)
		}
	}
	if st.Normalize {
		b.WriteString("    tNormal = normalize(tNormal);\n")
	}

	// Eye-space reflection vector, shared by sphere and reflection mapping
	b.WriteString("    vec3 reflected = reflect(normalize(tPosition.xyz), tNormal);\n")
	b.WriteString("    float sphereM = 2.0 * sqrt(reflected.x * reflected.x + reflected.y * reflected.y + (reflected.z + 1.0) * (reflected.z + 1.0));\n")

	for i := range TextureUnits {
		for c := range 4 {
			fmt.Fprintf(&b, "    oT%d.%c = %s;\n", i, swizzleChars[c], texGenExpr(st.TexGen[i][c], i, c))
		}
		if st.TextureMatrix[i] {
			fmt.Fprintf(&b, "    oT%d = oT%d * textureMat[%d];\n", i, i, i)
		}
	}

	fmt.Fprintf(&b, "    oD0 = v%d;\n    oD1 = v%d;\n", attrDiffuse, attrSpecular)
	fmt.Fprintf(&b, "    oB0 = v%d;\n    oB1 = v%d;\n", attrBackDiff, attrBackSpec)
	fmt.Fprintf(&b, "    oFog = vec4(v%d.x != 0.0 ? v%d.x : abs(tPosition.z));\n", attrFog, attrFog)
	fmt.Fprintf(&b, "    oPts = v%d;\n", attrPointSize)
	if count == 0 {
		b.WriteString("    oPos = position * compositeMat;\n")
	} else {
		// Blended positions are already in eye space
		b.WriteString("    oPos = tPosition * projectionMat;\n")
	}

	b.WriteString(vertexEpilogue)
	b.WriteString("}\n")
	return b.String()
}
