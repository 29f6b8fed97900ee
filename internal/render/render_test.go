package render

import (
	"errors"
	"image"
	"testing"

	"github.com/richardwooding/nv2a/internal/texture"
)

func newCurrent(t *testing.T) *Headless {
	t.Helper()

	h := NewHeadless(&Platform{})
	if err := h.CreateContext(); err != nil {
		t.Fatalf("CreateContext() error = %v", err)
	}
	return h
}

func TestResourceRefcount(t *testing.T) {
	released := 0
	r := NewResource(7, func(h Handle) {
		if h != 7 {
			t.Errorf("release(%d), want 7", h)
		}
		released++
	})

	r.Retain()
	if r.Refs() != 2 {
		t.Errorf("Refs() = %d, want 2", r.Refs())
	}

	r.Release()
	if released != 0 {
		t.Error("released with an owner remaining")
	}

	r.Release()
	if released != 1 {
		t.Errorf("release called %d times, want 1", released)
	}

	// Double release must not free twice
	r.Release()
	if released != 1 {
		t.Errorf("release called %d times after extra Release, want 1", released)
	}
}

func TestPlatformInitOnce(t *testing.T) {
	var p Platform

	if p.IsInitialized() {
		t.Fatal("new platform reports initialized")
	}
	if err := p.Init(); err != nil {
		t.Fatalf("Init() error = %v", err)
	}
	if err := p.Init(); !errors.Is(err, ErrPlatformInitialized) {
		t.Errorf("second Init() error = %v, want ErrPlatformInitialized", err)
	}

	p.Shutdown()
	if p.IsInitialized() {
		t.Error("platform initialized after Shutdown")
	}
}

func TestPlatformSharedByContexts(t *testing.T) {
	p := &Platform{}
	a := NewHeadless(p)
	b := NewHeadless(p)

	a.CreateContext()
	b.CreateContext()
	a.DestroyContext()

	if !p.IsInitialized() {
		t.Error("platform shut down while a context remains")
	}

	b.DestroyContext()
	if p.IsInitialized() {
		t.Error("platform still initialized after last context")
	}
}

func TestNoContext(t *testing.T) {
	h := NewHeadless(nil)

	if _, err := h.CompileProgram(ProgramSource{Vertex: "v", Fragment: "f"}); !errors.Is(err, ErrNoContext) {
		t.Errorf("CompileProgram() error = %v, want ErrNoContext", err)
	}
	if err := h.MakeCurrent(true); !errors.Is(err, ErrNoContext) {
		t.Errorf("MakeCurrent() error = %v, want ErrNoContext", err)
	}
}

func TestProgramsAndTextures(t *testing.T) {
	h := newCurrent(t)

	p, err := h.CompileProgram(ProgramSource{Vertex: "v", Fragment: "f"})
	if err != nil {
		t.Fatalf("CompileProgram() error = %v", err)
	}
	if err := h.UseProgram(p); err != nil {
		t.Errorf("UseProgram() error = %v", err)
	}

	tex, err := h.CreateTexture(TextureDesc{Target: Texture2D, Format: texture.HostBGRA8, Width: 4, Height: 4, Levels: 1}, nil)
	if err != nil {
		t.Fatalf("CreateTexture() error = %v", err)
	}
	if err := h.BindTexture(1, tex, Sampler{}); err != nil {
		t.Errorf("BindTexture() error = %v", err)
	}

	h.DeleteTexture(tex)
	if h.BoundTexture(1) != 0 {
		t.Error("deleted texture still bound")
	}
	if err := h.BindTexture(0, tex, Sampler{}); !errors.Is(err, ErrUnknownResource) {
		t.Errorf("BindTexture(deleted) error = %v, want ErrUnknownResource", err)
	}

	h.DestroyContext()
	if progs, texs := h.LiveObjects(); progs != 0 || texs != 0 {
		t.Errorf("LiveObjects() = %d, %d after DestroyContext", progs, texs)
	}
}

func TestClearColor(t *testing.T) {
	h := newCurrent(t)

	if err := h.SetSurface(SurfaceDesc{Width: 4, Height: 2, Color: texture.HostBGRA8, Zeta: texture.HostDepth24Stencil8}); err != nil {
		t.Fatal(err)
	}

	h.Clear(ClearRequest{
		Rect:      image.Rect(1, 0, 3, 1),
		Color:     true,
		ColorMask: 0xF,
		ColorARGB: 0x80112233,
	})

	pixels, err := h.ReadPixels(SurfaceColor)
	if err != nil {
		t.Fatal(err)
	}

	// Pixel (1,0) is cleared, (0,0) and (3,0) are untouched
	want := []byte{0x33, 0x22, 0x11, 0x80}
	for i, b := range want {
		if pixels[4+i] != b {
			t.Errorf("pixel(1,0)[%d] = 0x%02X, want 0x%02X", i, pixels[4+i], b)
		}
		if pixels[i] != 0 || pixels[12+i] != 0 {
			t.Errorf("pixel outside clear rect modified")
		}
	}
}

func TestClearStencilOnly(t *testing.T) {
	h := newCurrent(t)
	h.SetSurface(SurfaceDesc{Width: 1, Height: 1, Color: texture.HostBGRA8, Zeta: texture.HostDepth24Stencil8})

	h.Clear(ClearRequest{Rect: image.Rect(0, 0, 1, 1), Depth: true, Stencil: true, ZetaValue: 0xFFFFFF00})
	h.Clear(ClearRequest{Rect: image.Rect(0, 0, 1, 1), Stencil: true, ZetaValue: 0x00000042})

	z, _ := h.ReadPixels(SurfaceZeta)
	want := []byte{0x42, 0xFF, 0xFF, 0xFF}
	for i := range want {
		if z[i] != want[i] {
			t.Errorf("zeta = % X, want % X", z, want)
			break
		}
	}
}

func TestQueryCountsVertices(t *testing.T) {
	h := newCurrent(t)

	q, err := h.BeginQuery()
	if err != nil {
		t.Fatal(err)
	}
	h.DrawArrays(PrimTriangles, 0, 3)
	h.DrawMultiArrays(PrimTriangles, []int{0, 10}, []int{3, 6})
	h.EndQuery(q)
	h.DrawArrays(PrimTriangles, 0, 3) // after EndQuery, not counted

	got, err := h.QueryResult(q)
	if err != nil {
		t.Fatal(err)
	}
	if got != 12 {
		t.Errorf("QueryResult() = %d, want 12", got)
	}

	if s := h.Stats(); s.Draws != 4 || s.Vertices != 15 {
		t.Errorf("Stats() = %+v, want 4 draws 15 vertices", s)
	}
}
