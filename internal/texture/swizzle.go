// Package texture converts guest texel layouts and formats into host ones.
package texture

// Masks holds the interleaved bit patterns for each axis of a swizzled image.
// Swizzled addresses alternate x, y and z bits starting from the lowest bit,
// dropping an axis once its extent is exhausted.
type Masks struct {
	X, Y, Z uint32
}

// NewMasks computes the swizzle masks for a width x height x depth box.
// Dimensions are expected to be powers of two.
func NewMasks(width, height, depth int) Masks {
	var m Masks
	bit := 1
	maskBit := uint32(1)

	for {
		done := true
		if bit < width {
			m.X |= maskBit
			maskBit <<= 1
			done = false
		}
		if bit < height {
			m.Y |= maskBit
			maskBit <<= 1
			done = false
		}
		if bit < depth {
			m.Z |= maskBit
			maskBit <<= 1
			done = false
		}
		if done {
			return m
		}
		bit <<= 1
	}
}

// fillPattern scatters the low bits of value into the set bits of pattern.
func fillPattern(pattern, value uint32) uint32 {
	var result uint32
	for bit := uint32(1); value != 0 && bit != 0; bit <<= 1 {
		if pattern&bit != 0 {
			if value&1 != 0 {
				result |= bit
			}
			value >>= 1
		}
	}
	return result
}

// Offset returns the swizzled texel index of (x, y, z).
func (m Masks) Offset(x, y, z int) int {
	return int(fillPattern(m.X, uint32(x)) | fillPattern(m.Y, uint32(y)) | fillPattern(m.Z, uint32(z)))
}

// SwizzleBox copies a linear box with the given row and slice pitch into
// swizzled order in dst.
func SwizzleBox(src []byte, width, height, depth int, dst []byte, rowPitch, slicePitch, bpp int) {
	m := NewMasks(width, height, depth)

	for z := range depth {
		for y := range height {
			for x := range width {
				s := src[z*slicePitch+y*rowPitch+x*bpp:]
				d := dst[m.Offset(x, y, z)*bpp:]
				copy(d[:bpp], s[:bpp])
			}
		}
	}
}

// UnswizzleBox copies a swizzled box in src into linear order in dst.
func UnswizzleBox(src []byte, width, height, depth int, dst []byte, rowPitch, slicePitch, bpp int) {
	m := NewMasks(width, height, depth)

	for z := range depth {
		for y := range height {
			for x := range width {
				s := src[m.Offset(x, y, z)*bpp:]
				d := dst[z*slicePitch+y*rowPitch+x*bpp:]
				copy(d[:bpp], s[:bpp])
			}
		}
	}
}

// Unswizzle converts a 2D swizzled image into a newly allocated linear one.
func Unswizzle(src []byte, width, height, pitch, bpp int) []byte {
	dst := make([]byte, pitch*height)
	UnswizzleBox(src, width, height, 1, dst, pitch, 0, bpp)
	return dst
}

// Swizzle converts a 2D linear image into a newly allocated swizzled one.
func Swizzle(src []byte, width, height, pitch, bpp int) []byte {
	dst := make([]byte, width*height*bpp)
	SwizzleBox(src, width, height, 1, dst, pitch, 0, bpp)
	return dst
}
