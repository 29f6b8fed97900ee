package texture

import "encoding/binary"

// PaletteEntries is the number of colors in an I8 palette.
const PaletteEntries = 256

// Convert applies f's CPU-side conversion to one 2D level and returns texels
// ready for upload. Formats without a conversion are returned unchanged.
func Convert(f ColorFormat, data, palette []byte, width, height, pitch int) []byte {
	switch f.Convert {
	case ConvertPalette:
		return convertPalette(data, palette, width, height, pitch)
	case ConvertYUY2:
		return convertYUV(data, width, height, pitch, 0, 1, 2, 3)
	case ConvertUYVY:
		return convertYUV(data, width, height, pitch, 1, 0, 3, 2)
	case ConvertR6G5B5:
		return convertR6G5B5(data, width, height, pitch)
	default:
		return data
	}
}

// convertPalette expands 8-bit indices into A8R8G8B8 palette entries.
func convertPalette(data, palette []byte, width, height, pitch int) []byte {
	out := make([]byte, width*height*4)
	for y := range height {
		for x := range width {
			idx := int(data[y*pitch+x])
			if (idx+1)*4 <= len(palette) {
				copy(out[(y*width+x)*4:], palette[idx*4:idx*4+4])
			}
		}
	}
	return out
}

func clampByte(v int) byte {
	switch {
	case v < 0:
		return 0
	case v > 255:
		return 255
	default:
		return byte(v)
	}
}

// yuvToRGBA converts one BT.601 sample to RGBA.
func yuvToRGBA(dst []byte, y, u, v int) {
	c := y - 16
	d := u - 128
	e := v - 128

	dst[0] = clampByte((298*c + 409*e + 128) >> 8)
	dst[1] = clampByte((298*c - 100*d - 208*e + 128) >> 8)
	dst[2] = clampByte((298*c + 516*d + 128) >> 8)
	dst[3] = 0xFF
}

// convertYUV decodes packed 4:2:2 data. y0, u, y1 and v give the byte
// positions of each component inside a 4-byte macropixel.
func convertYUV(data []byte, width, height, pitch, y0, u, y1, v int) []byte {
	out := make([]byte, width*height*4)
	for y := range height {
		row := data[y*pitch:]
		for x := 0; x < width; x += 2 {
			m := row[x*2 : x*2+4]
			yuvToRGBA(out[(y*width+x)*4:], int(m[y0]), int(m[u]), int(m[v]))
			if x+1 < width {
				yuvToRGBA(out[(y*width+x+1)*4:], int(m[y1]), int(m[u]), int(m[v]))
			}
		}
	}
	return out
}

// convertR6G5B5 expands the signed bump-map format into RGBA8.
func convertR6G5B5(data []byte, width, height, pitch int) []byte {
	out := make([]byte, width*height*4)
	for y := range height {
		for x := range width {
			p := binary.LittleEndian.Uint16(data[y*pitch+x*2:])
			r := (p >> 10) & 0x3F
			g := (p >> 5) & 0x1F
			b := p & 0x1F

			o := out[(y*width+x)*4:]
			o[0] = byte(r<<2 | r>>4)
			o[1] = byte(g<<3 | g>>2)
			o[2] = byte(b<<3 | b>>2)
			o[3] = 0xFF
		}
	}
	return out
}
