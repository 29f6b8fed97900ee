// Package object translates guest object handles and DMA descriptors into
// bounded spans of guest memory.
package object

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/richardwooding/nv2a/internal/memory"
)

// DescriptorSize is the size of a DMA object descriptor in RAMIN.
const DescriptorSize = 12

// DMA descriptor flag fields.
const (
	dmaClassMask   = 0x00000FFF
	dmaTargetMask  = 0x00030000
	dmaTargetShift = 16
	dmaAdjustShift = 20
	dmaAddressMask = 0xFFFFF000

	// addressMask limits DMA addresses to the 128 MiB guest address space.
	addressMask = 0x07FFFFFF
)

// DMA object classes.
const (
	ClassFromMemory = 0x02 // NV_DMA_FROM_MEMORY_CLASS
	ClassToMemory   = 0x03 // NV_DMA_TO_MEMORY_CLASS
	ClassInMemory   = 0x3D // NV_DMA_IN_MEMORY_CLASS
)

// Target identifies the memory a DMA object points into.
type Target uint8

// DMA targets.
const (
	TargetVRAM Target = iota
	TargetVRAMTiled
	TargetPCI
	TargetAGP
)

// String returns the target name.
func (t Target) String() string {
	switch t {
	case TargetVRAM:
		return "vram"
	case TargetVRAMTiled:
		return "vram-tiled"
	case TargetPCI:
		return "pci"
	case TargetAGP:
		return "agp"
	default:
		return fmt.Sprintf("target(%d)", uint8(t))
	}
}

var (
	// ErrOutOfBounds indicates a DMA window that does not fit in guest memory.
	ErrOutOfBounds = errors.New("dma window out of bounds")

	// ErrShortDescriptor indicates a descriptor buffer smaller than DescriptorSize.
	ErrShortDescriptor = errors.New("short dma descriptor")
)

// DMAObject describes a bounded window of guest memory. Every access through
// a mapped DMA object must stay within [Address, Address+Limit].
type DMAObject struct {
	Class   uint32
	Target  Target
	Address uint32
	Limit   uint32
}

// Length returns the number of addressable bytes in the window.
func (o DMAObject) Length() uint32 {
	return o.Limit + 1
}

// Decode parses a 12-byte DMA descriptor: flags, limit, frame.
func Decode(b []byte) (DMAObject, error) {
	if len(b) < DescriptorSize {
		return DMAObject{}, fmt.Errorf("%w: %d bytes", ErrShortDescriptor, len(b))
	}

	flags := binary.LittleEndian.Uint32(b[0:])
	limit := binary.LittleEndian.Uint32(b[4:])
	frame := binary.LittleEndian.Uint32(b[8:])

	return DMAObject{
		Class:   flags & dmaClassMask,
		Target:  Target((flags & dmaTargetMask) >> dmaTargetShift),
		Address: (frame & dmaAddressMask) | (flags >> dmaAdjustShift),
		Limit:   limit,
	}, nil
}

// Encode writes the descriptor for o into b. The low 12 address bits are
// stored in the adjust field so that Decode(Encode(o)) == o.
func Encode(b []byte, o DMAObject) error {
	if len(b) < DescriptorSize {
		return fmt.Errorf("%w: %d bytes", ErrShortDescriptor, len(b))
	}

	flags := o.Class&dmaClassMask |
		uint32(o.Target)<<dmaTargetShift&dmaTargetMask |
		(o.Address&^dmaAddressMask)<<dmaAdjustShift

	binary.LittleEndian.PutUint32(b[0:], flags)
	binary.LittleEndian.PutUint32(b[4:], o.Limit)
	binary.LittleEndian.PutUint32(b[8:], o.Address&dmaAddressMask)
	return nil
}

// Resolve reads and decodes the DMA descriptor at instance address addr.
func Resolve(ramin *memory.Region, addr uint32) (DMAObject, error) {
	b, err := ramin.Slice(addr, DescriptorSize)
	if err != nil {
		return DMAObject{}, fmt.Errorf("failed to read dma descriptor: %w", err)
	}
	return Decode(b)
}

// Map resolves the descriptor at instance and returns the guest memory it
// covers. The returned slice is exactly Length() bytes long.
func Map(bus *memory.Bus, instance uint32) ([]byte, DMAObject, error) {
	obj, err := Resolve(bus.RAMIN, instance)
	if err != nil {
		return nil, DMAObject{}, err
	}

	addr := obj.Address & addressMask
	if uint64(addr)+uint64(obj.Limit) >= uint64(bus.VRAM.Len()) {
		return nil, obj, fmt.Errorf("%w: instance 0x%X address 0x%08X limit 0x%X",
			ErrOutOfBounds, instance, addr, obj.Limit)
	}

	data, err := bus.VRAM.Slice(addr, obj.Length())
	if err != nil {
		return nil, obj, fmt.Errorf("%w: %w", ErrOutOfBounds, err)
	}
	return data, obj, nil
}
