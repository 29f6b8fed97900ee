package shader

import (
	"errors"
	"strings"
	"testing"

	"github.com/richardwooding/nv2a/internal/render"
)

// movPosition is "MOV oPos, v0" marked final.
var movPosition = Token{0, 0x0020001B, 0x08000000, 0x0000F801}

func programState(tokens ...Token) State {
	var st State
	for i, t := range tokens {
		copy(st.Program[i*TokenWords:], t[:])
	}
	st.ProgramLength = ProgramLength(st.Program[:])
	return st
}

func TestTokenFields(t *testing.T) {
	tok := movPosition

	if got := tok.get(fldMAC); got != macMOV {
		t.Errorf("MAC = %d, want MOV", got)
	}
	if got := tok.get(fldAMux); got != muxV {
		t.Errorf("A mux = %d, want V", got)
	}
	if got := tok.get(fldOutOMask); got != 0xF {
		t.Errorf("O mask = 0x%X, want 0xF", got)
	}
	if !tok.Final() {
		t.Error("Final() = false, want true")
	}
}

func TestProgramLength(t *testing.T) {
	notFinal := movPosition
	notFinal[3] &^= 1

	tests := []struct {
		name   string
		tokens []Token
		want   int
	}{
		{"single final", []Token{movPosition}, 1},
		{"final third", []Token{notFinal, notFinal, movPosition, notFinal}, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := programState(tt.tokens...)
			if st.ProgramLength != tt.want {
				t.Errorf("ProgramLength() = %d, want %d", st.ProgramLength, tt.want)
			}
		})
	}

	// No final flag anywhere runs to the limit
	words := make([]uint32, (MaxProgramLength+4)*TokenWords)
	if got := ProgramLength(words); got != MaxProgramLength {
		t.Errorf("ProgramLength(no final) = %d, want %d", got, MaxProgramLength)
	}
}

func TestTranslateProgram(t *testing.T) {
	src, err := Translate(programState(movPosition))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	for _, want := range []string{"mac = v0;", "oPos.xyzw = mac.xyzw;", "uniform vec4 c[192];"} {
		if !strings.Contains(src.Vertex, want) {
			t.Errorf("vertex source missing %q", want)
		}
	}
	if src.Geometry != "" {
		t.Error("geometry stage emitted for non-quad primitive")
	}
}

// TestPairedIssue verifies an ILU op issued with a MAC op writes R1.
func TestPairedIssue(t *testing.T) {
	// MUL R2.x, v0, v0 paired with RCP (C = R5)
	tok := Token{
		0,
		2<<25 | macMUL<<21 | 0x1B,          // ILU RCP, MAC MUL, A swizzle xyzw
		muxV<<26 | 0x1B<<17 | muxV<<11 | 1, // A=v, B=v swizzle xyzw, C R high bits = 01
		1<<30 | muxR<<28 | 0x8<<24 | 2<<20 | 0x8<<16 | 1,
	}

	src, err := Translate(programState(tok))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	for _, want := range []string{"mac = (v0 * v0);", "ilu = op_rcp((R5", "R2.x = mac.x;", "R1.x = ilu.x;"} {
		if !strings.Contains(src.Vertex, want) {
			t.Errorf("vertex source missing %q:\n%s", want, src.Vertex)
		}
	}
}

func TestR12AliasesPosition(t *testing.T) {
	// MOV R12, v0
	write := Token{0, 0x0020001B, 0x08000000, 0xF<<24 | 12<<20}
	// MOV R0, R12
	read := Token{0, 0x0020001B, 12<<28 | muxR<<26, 0xF<<24 | 1}

	src, err := Translate(programState(write, read))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	for _, want := range []string{"oPos.xyzw = mac.xyzw;", "mac = oPos;", "R0.xyzw = mac.xyzw;"} {
		if !strings.Contains(src.Vertex, want) {
			t.Errorf("vertex source missing %q:\n%s", want, src.Vertex)
		}
	}
	if strings.Contains(src.Vertex, "R12") {
		t.Errorf("vertex source uses a separate R12:\n%s", src.Vertex)
	}
}

func TestConstantWritesUseLocalCopy(t *testing.T) {
	// MOV c[5], v0
	tok := Token{0, 0x0020001B, 0x08000000, 0x0000F029}

	src, err := Translate(programState(tok))
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if !strings.Contains(src.Vertex, "vec4 cw[192] = c;") || !strings.Contains(src.Vertex, "cw[5].xyzw = mac.xyzw;") {
		t.Errorf("constant write not redirected:\n%s", src.Vertex)
	}
}

func TestUnsupportedOutputRegister(t *testing.T) {
	// Output address 1 has no register
	tok := Token{0, 0x0020001B, 0x08000000, 0x0000F809}

	if _, err := Translate(programState(tok)); !errors.Is(err, ErrUnsupportedProgram) {
		t.Errorf("Translate() error = %v, want ErrUnsupportedProgram", err)
	}
}

func TestTranslateFixedFunction(t *testing.T) {
	st := State{FixedFunction: true, Skinning: Skinning2Weights}
	st.TexGen[1][0] = TexGenEyeLinear
	st.TextureMatrix[1] = true

	src, err := Translate(st)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	for _, want := range []string{
		"float w2 = 1.0 - weightSum;",
		"oT1.x = dot(texPlaneS[1], tPosition);",
		"oT1 = oT1 * textureMat[1];",
		"oPos = tPosition * projectionMat;",
	} {
		if !strings.Contains(src.Vertex, want) {
			t.Errorf("vertex source missing %q", want)
		}
	}
}

func TestQuadGeometry(t *testing.T) {
	st := State{FixedFunction: true, Primitive: render.PrimLinesAdjacency}

	src, err := Translate(st)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}
	if !strings.Contains(src.Geometry, "layout(lines_adjacency) in;") {
		t.Error("geometry stage missing lines_adjacency input")
	}
	if !strings.Contains(src.Geometry, "emit(0);\n    emit(1);\n    emit(3);\n    emit(2);") {
		t.Error("quad not fanned as 0 1 3 2")
	}
}

func TestCombinerStage(t *testing.T) {
	st := State{FixedFunction: true, CombinerControl: 1}
	// A = v0 signed identity, B = zero inverted (one), C = D = zero
	st.RGBInputs[0] = 0xC4<<24 | 0x20<<16
	// sum to r0, no mux, identity mapping
	st.RGBOutputs[0] = regR0 << 8
	// Final: A = zero, B = zero, C = zero, D = r0
	st.FinalInputs0 = regR0

	src, err := Translate(st)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	for _, want := range []string{
		"vec3 ab = (v0.rgb * (1.0 - clamp(vec4(0.0).rgb, 0.0, 1.0)));",
		"r0.rgb = clamp(sum, -1.0, 1.0);",
		"fragColor.rgb = clamp(r0.rgb, 0.0, 1.0) + mix(",
	} {
		if !strings.Contains(src.Fragment, want) {
			t.Errorf("fragment source missing %q:\n%s", want, src.Fragment)
		}
	}
}

func TestCombinerErrors(t *testing.T) {
	tests := []struct {
		name  string
		setup func(*State)
	}{
		{"unsupported texture mode", func(st *State) { st.ShaderStageProgram = 0x08 }},
		{"dependent read on stage 0", func(st *State) { st.ShaderStageProgram = texModeDependentAR }},
		{"bad output mapping", func(st *State) {
			st.CombinerControl = 1
			st.RGBOutputs[0] = 0x28<<12 | regR0<<8
		}},
		{"write to constant", func(st *State) {
			st.CombinerControl = 1
			st.RGBOutputs[0] = regC0 << 8
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			st := State{FixedFunction: true}
			tt.setup(&st)
			if _, err := Translate(st); !errors.Is(err, ErrUnsupportedCombinerMode) {
				t.Errorf("Translate() error = %v, want ErrUnsupportedCombinerMode", err)
			}
		})
	}
}

func TestTextureModes(t *testing.T) {
	st := State{FixedFunction: true}
	st.ShaderStageProgram = texModeProject2D | texModeCubemap<<5 | texModeDependentGB<<10 | texModeClipPlane<<15
	st.OtherStageInput = 1 << 16 // stage 2 reads texture 1
	st.ClipPlaneMode = 0x1 << 12

	src, err := Translate(st)
	if err != nil {
		t.Fatalf("Translate() error = %v", err)
	}

	for _, want := range []string{
		"uniform sampler2D texSamp0;",
		"uniform samplerCube texSamp1;",
		"t2 = texture(texSamp2, t1.gb);",
		"if (fin.T3.x >= 0.0) discard;",
		"if (fin.T3.y < 0.0) discard;",
	} {
		if !strings.Contains(src.Fragment, want) {
			t.Errorf("fragment source missing %q", want)
		}
	}
}

func TestStateComparable(t *testing.T) {
	a := programState(movPosition)
	b := programState(movPosition)

	if a != b {
		t.Error("identical states compare unequal")
	}

	b.Program[5] ^= 1
	if a == b {
		t.Error("states differing in one microcode word compare equal")
	}

	cache := map[State]int{a: 1}
	if _, ok := cache[b]; ok {
		t.Error("modified state hit the cache")
	}
}

func TestAlphaTest(t *testing.T) {
	st := State{FixedFunction: true, AlphaTest: true, AlphaFunc: render.CompareGreater}

	src, err := Translate(st)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src.Fragment, "if (!(fragColor.a > alphaRef)) discard;") {
		t.Error("alpha test missing")
	}
}
