package device

import (
	"fmt"

	"github.com/richardwooding/nv2a/internal/memory"
	"github.com/richardwooding/nv2a/internal/ptimer"
	"github.com/richardwooding/nv2a/internal/render"
)

const maxVRAMSize = 1 << 30

// Config holds the device configuration.
type Config struct {
	// VRAMSize is the guest memory size in bytes. RAMIN is its last MiB.
	VRAMSize int

	// Channels is the number of PFIFO channels.
	Channels int

	// TextureCacheCapacity bounds the number of cached host textures.
	TextureCacheCapacity int

	// FastTextureCache skips recency updates on texture cache hits.
	FastTextureCache bool

	// Clock drives PTIMER. Nil reads the host clock.
	Clock ptimer.Clock

	// NewBackend creates the rendering backend. The backend's context is
	// created later on the puller goroutine.
	NewBackend func() (render.Backend, error)
}

// DefaultConfig returns the configuration of a retail console with a
// headless rendering backend.
func DefaultConfig() Config {
	return Config{
		VRAMSize:             64 << 20,
		Channels:             32,
		TextureCacheCapacity: 512,
		NewBackend:           HeadlessBackend,
	}
}

// HeadlessBackend creates a headless backend on the default platform.
func HeadlessBackend() (render.Backend, error) {
	return render.NewHeadless(render.DefaultPlatform()), nil
}

func (c Config) validate() error {
	if c.VRAMSize <= memory.RAMINSize || c.VRAMSize > maxVRAMSize || c.VRAMSize%4096 != 0 {
		return fmt.Errorf("%w: vram size %d", ErrInvalidConfig, c.VRAMSize)
	}
	if c.Channels <= 0 || c.Channels > 32 {
		return fmt.Errorf("%w: %d channels", ErrInvalidConfig, c.Channels)
	}
	if c.TextureCacheCapacity <= 0 {
		return fmt.Errorf("%w: texture cache capacity %d", ErrInvalidConfig, c.TextureCacheCapacity)
	}
	if c.NewBackend == nil {
		return fmt.Errorf("%w: no rendering backend", ErrInvalidConfig)
	}
	return nil
}
