package render

import (
	"encoding/binary"
	"fmt"
	"image"
	"sync"

	"github.com/richardwooding/nv2a/internal/texture"
)

// Stats counts the work a Headless backend has been asked to do.
type Stats struct {
	Contexts      int
	Programs      int
	Textures      int
	Draws         int
	Vertices      int
	Clears        int
	Queries       int
	LastPrimitive Primitive
}

type query struct {
	samples uint32
	ended   bool
}

// Headless is a Backend with no GPU. It keeps real render target storage so
// clears and surface round trips are observable, compiles nothing, and
// counts draws. Occlusion queries report one sample per submitted vertex.
type Headless struct {
	mu sync.Mutex

	platform   *Platform
	hasContext bool
	current    bool

	next     Handle
	programs map[Handle]ProgramSource
	textures map[Handle]TextureDesc
	queries  map[Handle]*query
	active   *query

	program  Handle
	bound    [4]Handle
	samplers [4]Sampler
	attribs  [16]VertexAttrib
	fixed    FixedState
	viewport image.Rectangle

	surface SurfaceDesc
	color   []byte
	zeta    []byte

	stats Stats
}

// NewHeadless creates a headless backend bound to platform.
func NewHeadless(platform *Platform) *Headless {
	return &Headless{
		platform: platform,
		programs: make(map[Handle]ProgramSource),
		textures: make(map[Handle]TextureDesc),
		queries:  make(map[Handle]*query),
	}
}

func (h *Headless) alloc() Handle {
	h.next++
	return h.next
}

// CreateContext creates the context and makes it current.
func (h *Headless) CreateContext() error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.platform != nil {
		h.platform.Acquire()
	}
	h.hasContext = true
	h.current = true
	h.stats.Contexts++
	return nil
}

// DestroyContext releases every object and the context itself.
func (h *Headless) DestroyContext() {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.hasContext {
		return
	}
	clear(h.programs)
	clear(h.textures)
	clear(h.queries)
	h.active = nil
	h.hasContext = false
	h.current = false
	if h.platform != nil {
		h.platform.Release()
	}
}

// MakeCurrent binds or unbinds the context on the calling thread.
func (h *Headless) MakeCurrent(current bool) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if current && !h.hasContext {
		return ErrNoContext
	}
	h.current = current
	return nil
}

// CompileProgram records src and returns a new program handle.
func (h *Headless) CompileProgram(src ProgramSource) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.current {
		return 0, ErrNoContext
	}
	if src.Vertex == "" || src.Fragment == "" {
		return 0, fmt.Errorf("program is missing a stage")
	}

	id := h.alloc()
	h.programs[id] = src
	h.stats.Programs++
	return id, nil
}

// DeleteProgram frees a program.
func (h *Headless) DeleteProgram(id Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.programs, id)
	if h.program == id {
		h.program = 0
	}
}

// UseProgram makes id the active program.
func (h *Headless) UseProgram(id Handle) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.programs[id]; !ok {
		return fmt.Errorf("%w: program %d", ErrUnknownResource, id)
	}
	h.program = id
	return nil
}

// SetUniform validates the program handle; values are discarded.
func (h *Headless) SetUniform(id Handle, _ string, _ []float32) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.programs[id]; !ok {
		return fmt.Errorf("%w: program %d", ErrUnknownResource, id)
	}
	return nil
}

// CreateTexture records desc and returns a new texture handle.
func (h *Headless) CreateTexture(desc TextureDesc, _ [][][]byte) (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.current {
		return 0, ErrNoContext
	}

	id := h.alloc()
	h.textures[id] = desc
	h.stats.Textures++
	return id, nil
}

// DeleteTexture frees a texture and unbinds it from any unit.
func (h *Headless) DeleteTexture(id Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	delete(h.textures, id)
	for i := range h.bound {
		if h.bound[i] == id {
			h.bound[i] = 0
		}
	}
}

// BindTexture binds id to unit. Handle 0 unbinds.
func (h *Headless) BindTexture(unit int, id Handle, s Sampler) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if unit < 0 || unit >= len(h.bound) {
		return fmt.Errorf("texture unit %d out of range", unit)
	}
	if _, ok := h.textures[id]; id != 0 && !ok {
		return fmt.Errorf("%w: texture %d", ErrUnknownResource, id)
	}
	h.bound[unit] = id
	h.samplers[unit] = s
	return nil
}

// SetSurface reallocates render target storage when the shape changes.
func (h *Headless) SetSurface(desc SurfaceDesc) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.current {
		return ErrNoContext
	}
	if desc == h.surface {
		return nil
	}

	h.surface = desc
	h.color = make([]byte, desc.Width*desc.Height*desc.Color.BytesPerPixel())
	h.zeta = make([]byte, desc.Width*desc.Height*desc.Zeta.BytesPerPixel())
	return nil
}

func (h *Headless) target(kind SurfaceKind) []byte {
	if kind == SurfaceZeta {
		return h.zeta
	}
	return h.color
}

// UploadSurface replaces render target contents.
func (h *Headless) UploadSurface(kind SurfaceKind, data []byte) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	dst := h.target(kind)
	if len(data) != len(dst) {
		return fmt.Errorf("surface upload of %d bytes, target holds %d", len(data), len(dst))
	}
	copy(dst, data)
	return nil
}

// ReadPixels returns a copy of a render target.
func (h *Headless) ReadPixels(kind SurfaceKind) ([]byte, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.current {
		return nil, ErrNoContext
	}
	return append([]byte(nil), h.target(kind)...), nil
}

// SetFixedState records st.
func (h *Headless) SetFixedState(st FixedState) {
	h.mu.Lock()
	h.fixed = st
	h.mu.Unlock()
}

// SetViewport records rect.
func (h *Headless) SetViewport(rect image.Rectangle) {
	h.mu.Lock()
	h.viewport = rect
	h.mu.Unlock()
}

// SetVertexAttribute records attr.
func (h *Headless) SetVertexAttribute(index int, attr VertexAttrib) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if index >= 0 && index < len(h.attribs) {
		h.attribs[index] = attr
	}
}

func (h *Headless) draw(prim Primitive, vertices int) {
	h.stats.Draws++
	h.stats.Vertices += vertices
	h.stats.LastPrimitive = prim
	if h.active != nil {
		h.active.samples += uint32(vertices)
	}
}

// DrawArrays counts a draw of count vertices.
func (h *Headless) DrawArrays(prim Primitive, _, count int) {
	h.mu.Lock()
	h.draw(prim, count)
	h.mu.Unlock()
}

// DrawMultiArrays counts one draw per range.
func (h *Headless) DrawMultiArrays(prim Primitive, _, counts []int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, c := range counts {
		h.draw(prim, c)
	}
}

// DrawRangeElements counts an indexed draw.
func (h *Headless) DrawRangeElements(prim Primitive, _, _ uint32, indices []uint32) {
	h.mu.Lock()
	h.draw(prim, len(indices))
	h.mu.Unlock()
}

// Clear fills the requested render targets inside req.Rect.
func (h *Headless) Clear(req ClearRequest) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.stats.Clears++
	rect := req.Rect.Intersect(image.Rect(0, 0, h.surface.Width, h.surface.Height))

	if req.Color && req.ColorMask != 0 && len(h.color) > 0 {
		fillRect(h.color, h.surface.Width, h.surface.Color.BytesPerPixel(), rect,
			packColor(h.surface.Color, req.ColorARGB), colorByteMask(h.surface.Color, req.ColorMask))
	}

	if (req.Depth || req.Stencil) && len(h.zeta) > 0 {
		bpp := h.surface.Zeta.BytesPerPixel()
		value := make([]byte, 4)
		binary.LittleEndian.PutUint32(value, req.ZetaValue)

		mask := []byte{0xFF, 0xFF, 0xFF, 0xFF}
		if h.surface.Zeta == texture.HostDepth24Stencil8 {
			// Stencil is the low byte, depth the upper three
			if !req.Stencil {
				mask[0] = 0
			}
			if !req.Depth {
				mask[1], mask[2], mask[3] = 0, 0, 0
			}
		} else if !req.Depth {
			return
		}
		fillRect(h.zeta, h.surface.Width, bpp, rect, value[:bpp], mask[:bpp])
	}
}

func fillRect(buf []byte, width, bpp int, rect image.Rectangle, value, mask []byte) {
	for y := rect.Min.Y; y < rect.Max.Y; y++ {
		for x := rect.Min.X; x < rect.Max.X; x++ {
			p := buf[(y*width+x)*bpp:]
			for i := range bpp {
				p[i] = p[i]&^mask[i] | value[i]&mask[i]
			}
		}
	}
}

// packColor encodes an ARGB color in a surface format, little-endian.
func packColor(f texture.HostFormat, argb uint32) []byte {
	a := argb >> 24
	r := (argb >> 16) & 0xFF
	g := (argb >> 8) & 0xFF
	b := argb & 0xFF

	switch f {
	case texture.HostBGRA8:
		return binary.LittleEndian.AppendUint32(nil, argb)
	case texture.HostRGB565:
		return binary.LittleEndian.AppendUint16(nil, uint16(r>>3<<11|g>>2<<5|b>>3))
	case texture.HostRGB5A1:
		return binary.LittleEndian.AppendUint16(nil, uint16(a>>7<<15|r>>3<<10|g>>3<<5|b>>3))
	case texture.HostR8:
		return []byte{byte(b)}
	case texture.HostRG8:
		return []byte{byte(b), byte(g)}
	default:
		return make([]byte, f.BytesPerPixel())
	}
}

// colorByteMask turns a channel write mask into a per-byte mask. Packed 16-bit
// formats are all or nothing.
func colorByteMask(f texture.HostFormat, channels uint8) []byte {
	bit := func(n uint8) byte {
		if channels&(1<<n) != 0 {
			return 0xFF
		}
		return 0
	}

	switch f {
	case texture.HostBGRA8:
		return []byte{bit(2), bit(1), bit(0), bit(3)}
	case texture.HostR8:
		return []byte{bit(2)}
	case texture.HostRG8:
		return []byte{bit(2), bit(1)}
	default:
		m := make([]byte, f.BytesPerPixel())
		for i := range m {
			m[i] = 0xFF
		}
		return m
	}
}

// BeginQuery starts an occlusion query.
func (h *Headless) BeginQuery() (Handle, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if !h.current {
		return 0, ErrNoContext
	}

	id := h.alloc()
	q := &query{}
	h.queries[id] = q
	h.active = q
	h.stats.Queries++
	return id, nil
}

// EndQuery stops a query.
func (h *Headless) EndQuery(id Handle) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if q, ok := h.queries[id]; ok {
		q.ended = true
		if h.active == q {
			h.active = nil
		}
	}
}

// QueryResult returns the samples counted by a finished query.
func (h *Headless) QueryResult(id Handle) (uint32, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	q, ok := h.queries[id]
	if !ok {
		return 0, fmt.Errorf("%w: query %d", ErrUnknownResource, id)
	}
	return q.samples, nil
}

// DeleteQuery frees a query.
func (h *Headless) DeleteQuery(id Handle) {
	h.mu.Lock()
	delete(h.queries, id)
	h.mu.Unlock()
}

// Stats returns a snapshot of the work counters.
func (h *Headless) Stats() Stats {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.stats
}

// LiveObjects returns the number of programs and textures still allocated.
func (h *Headless) LiveObjects() (programs, textures int) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return len(h.programs), len(h.textures)
}

// Viewport returns the last viewport set.
func (h *Headless) Viewport() image.Rectangle {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.viewport
}

// FixedState returns the last fixed-function state set.
func (h *Headless) FixedState() FixedState {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.fixed
}

// BoundTexture returns the texture bound to unit.
func (h *Headless) BoundTexture(unit int) Handle {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.bound[unit]
}

// Program returns the active program and its source.
func (h *Headless) Program() (Handle, ProgramSource) {
	h.mu.Lock()
	defer h.mu.Unlock()

	return h.program, h.programs[h.program]
}
