package texture

import (
	"encoding/binary"

	"github.com/cespare/xxhash/v2"
)

// TextureSamples is the number of 64-bit words sampled from texel data.
const TextureSamples = 5003

// FastHash is a strided, collision-tolerant hash over data. At most samples
// 64-bit words are read. Inputs that are not a whole number of words fall
// back to a full xxhash.
func FastHash(data []byte, samples int) uint64 {
	n := len(data)
	if n < 8 || n%8 != 0 {
		return xxhash.Sum64(data)
	}

	words := n / 8
	step := 1
	if samples > 0 && words/samples > 1 {
		step = words / samples
	}

	h := [4]uint64{uint64(n), 0, 0, 0}
	for i := 0; i < words; i += step {
		h[i%4] += binary.LittleEndian.Uint64(data[i*8:])
	}
	return h[0] + (h[1] << 10) + (h[2] << 21) + (h[3] << 32)
}

// Fingerprint combines a sampled hash of the texels with a full hash of the
// palette.
func Fingerprint(texels, palette []byte) uint64 {
	return FastHash(texels, TextureSamples) ^ xxhash.Sum64(palette)
}
