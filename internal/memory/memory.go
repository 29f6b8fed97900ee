// Package memory implements the guest video memory and the RAMIN instance window.
package memory

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// RAMINSize is the size of the instance memory window at the top of VRAM.
const RAMINSize = 1 << 20

var (
	// ErrOutOfBounds indicates an access outside the mapped region.
	ErrOutOfBounds = errors.New("guest address out of bounds")

	// ErrInvalidSize indicates an unusable memory size.
	ErrInvalidSize = errors.New("invalid memory size")
)

// Region is a little-endian view over a span of guest memory.
type Region struct {
	data []byte
	base uint32 // Offset of this region inside VRAM
}

// Len returns the region size in bytes.
func (r *Region) Len() uint32 {
	return uint32(len(r.data))
}

// Base returns the VRAM offset this region starts at.
func (r *Region) Base() uint32 {
	return r.base
}

// Bytes returns the backing storage.
func (r *Region) Bytes() []byte {
	return r.data
}

// Slice returns length bytes starting at addr. The returned slice aliases guest
// memory and must not be retained across a remap.
func (r *Region) Slice(addr, length uint32) ([]byte, error) {
	end := uint64(addr) + uint64(length)
	if end > uint64(len(r.data)) {
		return nil, fmt.Errorf("%w: 0x%08X+0x%X (size 0x%X)", ErrOutOfBounds, addr, length, len(r.data))
	}
	return r.data[addr:end:end], nil
}

// Read32 reads a 32-bit word. Out of range reads return 0.
func (r *Region) Read32(addr uint32) uint32 {
	if uint64(addr)+4 > uint64(len(r.data)) {
		return 0
	}
	return binary.LittleEndian.Uint32(r.data[addr:])
}

// Write32 writes a 32-bit word. Out of range writes are dropped.
func (r *Region) Write32(addr, value uint32) {
	if uint64(addr)+4 > uint64(len(r.data)) {
		return
	}
	binary.LittleEndian.PutUint32(r.data[addr:], value)
}

// Read64 reads a 64-bit word. Out of range reads return 0.
func (r *Region) Read64(addr uint32) uint64 {
	if uint64(addr)+8 > uint64(len(r.data)) {
		return 0
	}
	return binary.LittleEndian.Uint64(r.data[addr:])
}

// Write64 writes a 64-bit word. Out of range writes are dropped.
func (r *Region) Write64(addr uint32, value uint64) {
	if uint64(addr)+8 > uint64(len(r.data)) {
		return
	}
	binary.LittleEndian.PutUint64(r.data[addr:], value)
}

// Write copies data into the region at addr.
func (r *Region) Write(addr uint32, data []byte) error {
	dst, err := r.Slice(addr, uint32(len(data)))
	if err != nil {
		return err
	}
	copy(dst, data)
	return nil
}

// Bus owns guest video memory. The last RAMINSize bytes double as RAMIN,
// where RAMHT, DMA descriptors and graphics object instances live.
type Bus struct {
	// VRAM spans the whole of guest video memory
	VRAM *Region

	// RAMIN aliases the top megabyte of VRAM
	RAMIN *Region
}

// NewBus creates a new memory bus with size bytes of video memory.
func NewBus(size uint32) (*Bus, error) {
	if size < RAMINSize || size%4096 != 0 {
		return nil, fmt.Errorf("%w: 0x%X", ErrInvalidSize, size)
	}

	data := make([]byte, size)
	raminBase := size - RAMINSize

	return &Bus{
		VRAM:  &Region{data: data},
		RAMIN: &Region{data: data[raminBase:], base: raminBase},
	}, nil
}

// Reset clears all of guest memory.
func (b *Bus) Reset() {
	clear(b.VRAM.data)
}

// RAMINToVRAM converts an instance address into a VRAM offset.
func (b *Bus) RAMINToVRAM(addr uint32) uint32 {
	return b.RAMIN.base + addr
}
