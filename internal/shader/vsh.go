package shader

import (
	"fmt"
	"strings"
)

// Token is one transform program instruction. Word 0 is unused.
type Token [TokenWords]uint32

type fieldName int

const (
	fldILU fieldName = iota
	fldMAC
	fldConst
	fldV
	fldANeg
	fldASwzX
	fldASwzY
	fldASwzZ
	fldASwzW
	fldAR
	fldAMux
	fldBNeg
	fldBSwzX
	fldBSwzY
	fldBSwzZ
	fldBSwzW
	fldBR
	fldBMux
	fldCNeg
	fldCSwzX
	fldCSwzY
	fldCSwzZ
	fldCSwzW
	fldCRHigh
	fldCRLow
	fldCMux
	fldOutMACMask
	fldOutR
	fldOutILUMask
	fldOutOMask
	fldOutORB
	fldOutAddress
	fldOutMux
	fldA0X
	fldFinal
)

// fields gives the word, bit position and width of each token field.
var fields = [...]struct{ word, shift, size uint32 }{
	fldILU:        {1, 25, 3},
	fldMAC:        {1, 21, 4},
	fldConst:      {1, 13, 8},
	fldV:          {1, 9, 4},
	fldANeg:       {1, 8, 1},
	fldASwzX:      {1, 6, 2},
	fldASwzY:      {1, 4, 2},
	fldASwzZ:      {1, 2, 2},
	fldASwzW:      {1, 0, 2},
	fldAR:         {2, 28, 4},
	fldAMux:       {2, 26, 2},
	fldBNeg:       {2, 25, 1},
	fldBSwzX:      {2, 23, 2},
	fldBSwzY:      {2, 21, 2},
	fldBSwzZ:      {2, 19, 2},
	fldBSwzW:      {2, 17, 2},
	fldBR:         {2, 13, 4},
	fldBMux:       {2, 11, 2},
	fldCNeg:       {2, 10, 1},
	fldCSwzX:      {2, 8, 2},
	fldCSwzY:      {2, 6, 2},
	fldCSwzZ:      {2, 4, 2},
	fldCSwzW:      {2, 2, 2},
	fldCRHigh:     {2, 0, 2},
	fldCRLow:      {3, 30, 2},
	fldCMux:       {3, 28, 2},
	fldOutMACMask: {3, 24, 4},
	fldOutR:       {3, 20, 4},
	fldOutILUMask: {3, 16, 4},
	fldOutOMask:   {3, 12, 4},
	fldOutORB:     {3, 11, 1},
	fldOutAddress: {3, 3, 8},
	fldOutMux:     {3, 2, 1},
	fldA0X:        {3, 1, 1},
	fldFinal:      {3, 0, 1},
}

func (t Token) get(f fieldName) uint32 {
	fi := fields[f]
	return (t[fi.word] >> fi.shift) & (1<<fi.size - 1)
}

// Final reports whether t ends the program.
func (t Token) Final() bool {
	return t.get(fldFinal) != 0
}

// MAC operations.
const (
	macNOP = iota
	macMOV
	macMUL
	macADD
	macMAD
	macDP3
	macDPH
	macDP4
	macDST
	macMIN
	macMAX
	macSLT
	macSGE
	macARL
)

// ILU operations.
const (
	iluNOP = iota
	iluMOV
	iluRCP
	iluRCC
	iluRSQ
	iluEXP
	iluLOG
	iluLIT
)

var macNames = [...]string{"NOP", "MOV", "MUL", "ADD", "MAD", "DP3", "DPH", "DP4", "DST", "MIN", "MAX", "SLT", "SGE", "ARL"}
var iluNames = [...]string{"NOP", "MOV", "RCP", "RCC", "RSQ", "EXP", "LOG", "LIT"}

// Input multiplexer values.
const (
	muxR = 1
	muxV = 2
	muxC = 3
)

// Output multiplexer values.
const (
	outMuxMAC = 0
	outMuxILU = 1
)

// outputNames maps output register addresses to their variable names.
var outputNames = map[uint32]string{
	0:  "oPos",
	3:  "oD0",
	4:  "oD1",
	5:  "oFog",
	6:  "oPts",
	7:  "oB0",
	8:  "oB1",
	9:  "oT0",
	10: "oT1",
	11: "oT2",
	12: "oT3",
}

// TokenAt returns token i of a program stored as consecutive words.
func TokenAt(words []uint32, i int) Token {
	var t Token
	copy(t[:], words[i*TokenWords:])
	return t
}

// ProgramLength returns the number of tokens up to and including the first
// final token, capped at MaxProgramLength.
func ProgramLength(words []uint32) int {
	n := min(len(words)/TokenWords, MaxProgramLength)
	for i := range n {
		if TokenAt(words, i).Final() {
			return i + 1
		}
	}
	return n
}

const swizzleChars = "xyzw"

// source renders input operand a, b or c of t.
func (t Token) source(which int, constName string) string {
	neg := [...]fieldName{fldANeg, fldBNeg, fldCNeg}[which]
	swz := [...][4]fieldName{
		{fldASwzX, fldASwzY, fldASwzZ, fldASwzW},
		{fldBSwzX, fldBSwzY, fldBSwzZ, fldBSwzW},
		{fldCSwzX, fldCSwzY, fldCSwzZ, fldCSwzW},
	}[which]
	mux := [...]fieldName{fldAMux, fldBMux, fldCMux}[which]

	var reg string
	switch t.get(mux) {
	case muxR:
		var r uint32
		switch which {
		case 0:
			r = t.get(fldAR)
		case 1:
			r = t.get(fldBR)
		default:
			r = t.get(fldCRHigh)<<2 | t.get(fldCRLow)
		}
		reg = tempName(r)
	case muxV:
		reg = fmt.Sprintf("v%d", t.get(fldV))
	case muxC:
		if t.get(fldA0X) != 0 {
			reg = fmt.Sprintf("%s[clamp(A0 + %d, 0, %d)]", constName, t.get(fldConst), ConstantCount-1)
		} else {
			reg = fmt.Sprintf("%s[%d]", constName, t.get(fldConst))
		}
	default:
		// Mux 0 is reserved; treated as a zero register
		reg = "vec4(0.0)"
	}

	var sw strings.Builder
	for _, f := range swz {
		sw.WriteByte(swizzleChars[t.get(f)])
	}
	if s := sw.String(); s != "xyzw" {
		reg += "." + s
	}

	if t.get(neg) != 0 {
		return "-" + reg
	}
	return reg
}

func macExpr(op uint32, a, b, c string) string {
	switch op {
	case macMOV:
		return a
	case macMUL:
		return fmt.Sprintf("(%s * %s)", a, b)
	case macADD:
		return fmt.Sprintf("(%s + %s)", a, c)
	case macMAD:
		return fmt.Sprintf("(%s * %s + %s)", a, b, c)
	case macDP3:
		return fmt.Sprintf("vec4(dot((%s).xyz, (%s).xyz))", a, b)
	case macDPH:
		return fmt.Sprintf("vec4(dot((%s).xyz, (%s).xyz) + (%s).w)", a, b, b)
	case macDP4:
		return fmt.Sprintf("vec4(dot(%s, %s))", a, b)
	case macDST:
		return fmt.Sprintf("op_dst(%s, %s)", a, b)
	case macMIN:
		return fmt.Sprintf("min(%s, %s)", a, b)
	case macMAX:
		return fmt.Sprintf("max(%s, %s)", a, b)
	case macSLT:
		return fmt.Sprintf("vec4(lessThan(%s, %s))", a, b)
	case macSGE:
		return fmt.Sprintf("vec4(greaterThanEqual(%s, %s))", a, b)
	default:
		return ""
	}
}

func iluExpr(op uint32, c string) string {
	switch op {
	case iluMOV:
		return c
	case iluRCP:
		return fmt.Sprintf("op_rcp((%s).x)", c)
	case iluRCC:
		return fmt.Sprintf("op_rcc((%s).x)", c)
	case iluRSQ:
		return fmt.Sprintf("op_rsq((%s).x)", c)
	case iluEXP:
		return fmt.Sprintf("op_exp((%s).x)", c)
	case iluLOG:
		return fmt.Sprintf("op_log((%s).x)", c)
	case iluLIT:
		return fmt.Sprintf("op_lit(%s)", c)
	default:
		return ""
	}
}

const vshHelpers = `vec4 op_dst(vec4 a, vec4 b) { return vec4(1.0, a.y * b.y, a.z, b.w); }
vec4 op_rcp(float x) { return vec4(x == 0.0 ? 3.402823466e38 : 1.0 / x); }
vec4 op_rcc(float x) {
    float r = 1.0 / x;
    return vec4(r > 0.0 ? clamp(r, 5.42101e-20, 1.884467e19) : clamp(r, -1.884467e19, -5.42101e-20));
}
vec4 op_rsq(float x) { return vec4(x == 0.0 ? 3.402823466e38 : inversesqrt(abs(x))); }
vec4 op_exp(float x) { return vec4(exp2(floor(x)), fract(x), exp2(x), 1.0); }
vec4 op_log(float x) {
    float a = abs(x);
    if (a == 0.0) return vec4(-3.402823466e38, 1.0, -3.402823466e38, 1.0);
    float e = floor(log2(a));
    return vec4(e, a / exp2(e), log2(a), 1.0);
}
vec4 op_lit(vec4 s) {
    float diffuse = max(s.x, 0.0);
    float power = clamp(s.w, -127.9961, 127.9961);
    float specular = s.x > 0.0 ? pow(max(s.y, 0.0), power) : 0.0;
    return vec4(1.0, diffuse, specular, 1.0);
}
`

// tempName returns the variable behind temporary register r. R12 is an
// alias of the position output for reads and writes.
func tempName(r uint32) string {
	if r == 12 {
		return "oPos"
	}
	return fmt.Sprintf("R%d", r)
}

// destination renders the output register write target of t.
func (t Token) destination(constName string) (string, error) {
	addr := t.get(fldOutAddress)
	if t.get(fldOutORB) == 0 {
		return fmt.Sprintf("%s[%d]", constName, addr), nil
	}
	name, ok := outputNames[addr]
	if !ok {
		return "", fmt.Errorf("%w: output register %d", ErrUnsupportedProgram, addr)
	}
	return name, nil
}

// writesConstants reports whether any token stores into constant memory.
func writesConstants(tokens []Token) bool {
	for _, t := range tokens {
		if t.get(fldOutOMask) != 0 && t.get(fldOutORB) == 0 {
			return true
		}
	}
	return false
}

// decodeToken emits the statements for one paired MAC and ILU issue.
func decodeToken(b *strings.Builder, idx int, t Token, constName string) error {
	mac := t.get(fldMAC)
	ilu := t.get(fldILU)
	if mac >= uint32(len(macNames)) {
		return fmt.Errorf("%w: mac opcode %d at token %d", ErrUnsupportedProgram, mac, idx)
	}

	fmt.Fprintf(b, "    // %d: %s %s\n", idx, macNames[mac], iluNames[ilu])
	if mac == macNOP && ilu == iluNOP {
		return nil
	}

	a := t.source(0, constName)
	bb := t.source(1, constName)
	c := t.source(2, constName)

	// Both units read their operands before either writes.
	if mac != macNOP && mac != macARL {
		fmt.Fprintf(b, "    mac = %s;\n", macExpr(mac, a, bb, c))
	}
	if ilu != iluNOP {
		fmt.Fprintf(b, "    ilu = %s;\n", iluExpr(ilu, c))
	}

	outMask := writeMask(t.get(fldOutOMask))
	var dst string
	if outMask != "" {
		var err error
		if dst, err = t.destination(constName); err != nil {
			return err
		}
	}

	if mac == macARL {
		fmt.Fprintf(b, "    A0 = int(floor((%s).x));\n", a)
	} else if mac != macNOP {
		if m := writeMask(t.get(fldOutMACMask)); m != "" {
			fmt.Fprintf(b, "    %s.%s = mac.%s;\n", tempName(t.get(fldOutR)), m, m)
		}
		if outMask != "" && t.get(fldOutMux) == outMuxMAC {
			fmt.Fprintf(b, "    %s.%s = mac.%s;\n", dst, outMask, outMask)
		}
	}

	if ilu != iluNOP {
		// With the MAC also issuing, the ILU result goes to R1
		reg := t.get(fldOutR)
		if mac != macNOP {
			reg = 1
		}
		if m := writeMask(t.get(fldOutILUMask)); m != "" {
			fmt.Fprintf(b, "    %s.%s = ilu.%s;\n", tempName(reg), m, m)
		}
		if outMask != "" && t.get(fldOutMux) == outMuxILU {
			fmt.Fprintf(b, "    %s.%s = ilu.%s;\n", dst, outMask, outMask)
		}
	}
	return nil
}

// generateProgram translates the transform program in st.
func generateProgram(st State) (string, error) {
	n := st.ProgramLength
	if n <= 0 || n > MaxProgramLength {
		return "", fmt.Errorf("%w: length %d", ErrUnsupportedProgram, n)
	}

	tokens := make([]Token, n)
	for i := range n {
		tokens[i] = TokenAt(st.Program[:], i)
	}

	constName := "c"
	if writesConstants(tokens) {
		constName = "cw"
	}

	var b strings.Builder
	b.WriteString(glslVersion)
	for i := range VertexAttributes {
		fmt.Fprintf(&b, "in vec4 v%d;\n", i)
	}
	fmt.Fprintf(&b, "uniform vec4 c[%d];\n", ConstantCount)
	b.WriteString("uniform vec2 surfaceSize;\nuniform vec2 clipRange;\n")
	b.WriteString(vertexBlock("out", "vout"))
	b.WriteString(outputDecls)
	b.WriteString(vshHelpers)

	b.WriteString("\nvoid main() {\n")
	for i := range 12 {
		fmt.Fprintf(&b, "    vec4 R%d = vec4(0.0);\n", i)
	}
	b.WriteString("    vec4 mac, ilu;\n    int A0 = 0;\n")
	if constName == "cw" {
		fmt.Fprintf(&b, "    vec4 cw[%d] = c;\n", ConstantCount)
	}
	b.WriteString("\n")

	for i, t := range tokens {
		if err := decodeToken(&b, i, t, constName); err != nil {
			return "", err
		}
	}

	b.WriteString(vertexEpilogue)
	b.WriteString("}\n")
	return b.String(), nil
}
