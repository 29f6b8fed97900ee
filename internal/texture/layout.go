package texture

// CubemapFaceAlignment is the alignment of each cube face in guest memory.
const CubemapFaceAlignment = 128

// Shape is the guest-visible geometry of a texture. It is comparable and
// forms part of the texture cache key.
type Shape struct {
	ColorFormat    uint32
	Dimensionality int
	Width          int
	Height         int
	Depth          int
	Levels         int
	Pitch          int // linear formats only
	Cubemap        bool
}

// Level describes one mip level inside a face.
type Level struct {
	Width, Height, Depth int
	Offset, Size         int
}

func max1(v int) int {
	if v < 1 {
		return 1
	}
	return v
}

func blockBytes(f ColorFormat) int {
	if f.Host == HostDXT1 {
		return 8
	}
	return 16
}

// MipLevels lays out the mip chain of a single face.
func (s Shape) MipLevels(f ColorFormat) []Level {
	if f.Linear {
		return []Level{{Width: s.Width, Height: s.Height, Depth: 1, Size: s.Pitch * s.Height}}
	}

	levels := make([]Level, 0, max1(s.Levels))
	w, h, d := max1(s.Width), max1(s.Height), max1(s.Depth)
	offset := 0

	for range max1(s.Levels) {
		var size int
		if f.Compressed {
			size = max1((w+3)/4) * max1((h+3)/4) * d * blockBytes(f)
		} else {
			size = w * h * d * f.BytesPerPixel
		}

		levels = append(levels, Level{Width: w, Height: h, Depth: d, Offset: offset, Size: size})
		offset += size

		w, h, d = max1(w/2), max1(h/2), max1(d/2)
	}
	return levels
}

// FaceSize returns the bytes occupied by one face including alignment.
func (s Shape) FaceSize(f ColorFormat) int {
	levels := s.MipLevels(f)
	last := levels[len(levels)-1]
	size := last.Offset + last.Size

	if s.Cubemap {
		size = (size + CubemapFaceAlignment - 1) &^ (CubemapFaceAlignment - 1)
	}
	return size
}

// Size returns the total guest bytes the texture occupies.
func (s Shape) Size(f ColorFormat) int {
	if s.Cubemap {
		return 6 * s.FaceSize(f)
	}
	return s.FaceSize(f)
}
