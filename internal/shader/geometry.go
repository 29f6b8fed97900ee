package shader

import (
	"fmt"
	"strings"
)

// generateQuadGeometry emits a geometry stage that takes each quad as a
// lines-adjacency primitive and fans it into a two-triangle strip.
func generateQuadGeometry() string {
	var b strings.Builder

	b.WriteString(glslVersion)
	b.WriteString("layout(lines_adjacency) in;\n")
	b.WriteString("layout(triangle_strip, max_vertices = 4) out;\n")
	b.WriteString(vertexBlock("in", "gin[]"))
	b.WriteString(vertexBlock("out", "gout"))

	b.WriteString("\nvoid emit(int i) {\n")
	b.WriteString("    gl_Position = gl_in[i].gl_Position;\n")
	b.WriteString("    gl_PointSize = gl_in[i].gl_PointSize;\n")
	for _, v := range varyings {
		fmt.Fprintf(&b, "    gout.%s = gin[i].%s;\n", v, v)
	}
	b.WriteString("    EmitVertex();\n}\n")

	b.WriteString("\nvoid main() {\n")
	b.WriteString("    emit(0);\n    emit(1);\n    emit(3);\n    emit(2);\n")
	b.WriteString("    EndPrimitive();\n}\n")
	return b.String()
}
