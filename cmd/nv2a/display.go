package main

import (
	"image"

	"github.com/hajimehoshi/ebiten/v2"
	"golang.org/x/image/draw"
)

// scalers maps the --filter values to interpolators.
var scalers = map[string]draw.Interpolator{
	"nearest":     draw.NearestNeighbor,
	"bilinear":    draw.BiLinear,
	"catmull-rom": draw.CatmullRom,
}

// Display implements the Ebiten game interface for a captured surface.
type Display struct {
	frame  *image.RGBA // scaled once up front
	screen *ebiten.Image
}

// NewDisplay creates a display showing frame scaled by scale.
func NewDisplay(frame *image.RGBA, scale int, filter draw.Interpolator) *Display {
	if filter == nil {
		filter = draw.NearestNeighbor
	}
	b := frame.Bounds()
	scaled := image.NewRGBA(image.Rect(0, 0, b.Dx()*scale, b.Dy()*scale))
	filter.Scale(scaled, scaled.Bounds(), frame, b, draw.Src, nil)

	return &Display{frame: scaled}
}

// Update quits on Escape.
func (d *Display) Update() error {
	if ebiten.IsKeyPressed(ebiten.KeyEscape) {
		return ebiten.Termination
	}
	return nil
}

// Draw draws the surface. The ebiten image is created lazily because it
// needs the graphics driver that RunGame starts.
func (d *Display) Draw(screen *ebiten.Image) {
	if d.screen == nil {
		d.screen = ebiten.NewImageFromImage(d.frame)
	}
	screen.DrawImage(d.screen, nil)
}

// Layout returns the scaled surface size.
func (d *Display) Layout(_, _ int) (int, int) {
	b := d.frame.Bounds()
	return b.Dx(), b.Dy()
}
