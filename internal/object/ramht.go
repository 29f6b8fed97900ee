package object

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math/bits"

	"github.com/richardwooding/nv2a/internal/memory"
)

// EntrySize is the size of one RAMHT entry: handle then packed context.
const EntrySize = 8

// RAMHT context word fields.
const (
	ctxInstanceMask = 0x0000FFFF
	ctxEngineMask   = 0x00030000
	ctxEngineShift  = 16
	ctxChIDMask     = 0x1F000000
	ctxChIDShift    = 24
	ctxValid        = 0x80000000
)

// PFIFO_RAMHT register fields.
const (
	regBaseMask  = 0x000001F0
	regBaseShift = 4
	regSizeMask  = 0x00030000
	regSizeShift = 16
)

// Engine identifies which engine an object is bound to.
type Engine uint8

// Engines.
const (
	EngineSoftware Engine = iota
	EngineGraphics
	EngineDVD
)

// String returns the engine name.
func (e Engine) String() string {
	switch e {
	case EngineSoftware:
		return "software"
	case EngineGraphics:
		return "graphics"
	case EngineDVD:
		return "dvd"
	default:
		return fmt.Sprintf("engine(%d)", uint8(e))
	}
}

var (
	// ErrInvalidObjectHandle indicates the RAMHT slot for a handle is not valid.
	ErrInvalidObjectHandle = errors.New("invalid object handle")

	// ErrChannelMismatch indicates a RAMHT entry owned by another channel.
	ErrChannelMismatch = errors.New("object channel mismatch")

	// ErrHashOutOfRange indicates a hash that falls outside the table.
	ErrHashOutOfRange = errors.New("ramht hash out of range")
)

// Entry is a decoded RAMHT entry.
type Entry struct {
	Handle    uint32
	Instance  uint32 // RAMIN address of the object
	Engine    Engine
	ChannelID uint32
	Valid     bool
}

// DecodeEntry parses an 8-byte RAMHT entry.
func DecodeEntry(b []byte) Entry {
	handle := binary.LittleEndian.Uint32(b[0:])
	ctx := binary.LittleEndian.Uint32(b[4:])

	return Entry{
		Handle:    handle,
		Instance:  (ctx & ctxInstanceMask) << 4,
		Engine:    Engine((ctx & ctxEngineMask) >> ctxEngineShift),
		ChannelID: (ctx & ctxChIDMask) >> ctxChIDShift,
		Valid:     ctx&ctxValid != 0,
	}
}

// EncodeEntry writes e into an 8-byte slot.
func EncodeEntry(b []byte, e Entry) {
	ctx := (e.Instance>>4)&ctxInstanceMask |
		uint32(e.Engine)<<ctxEngineShift&ctxEngineMask |
		e.ChannelID<<ctxChIDShift&ctxChIDMask
	if e.Valid {
		ctx |= ctxValid
	}

	binary.LittleEndian.PutUint32(b[0:], e.Handle)
	binary.LittleEndian.PutUint32(b[4:], ctx)
}

// Table describes where the hashed object table lives in RAMIN.
type Table struct {
	Base uint32 // RAMIN offset, 4 KiB aligned
	Size uint32 // Table size in bytes: 4, 8, 16 or 32 KiB
}

// TableFromRegister decodes the PFIFO_RAMHT register.
func TableFromRegister(reg uint32) Table {
	return Table{
		Base: ((reg & regBaseMask) >> regBaseShift) << 12,
		Size: 1 << (((reg & regSizeMask) >> regSizeShift) + 12),
	}
}

// Register encodes t as a PFIFO_RAMHT register value.
func (t Table) Register() uint32 {
	size := uint32(bits.TrailingZeros32(t.Size) - 12)
	return ((t.Base>>12)<<regBaseShift)&regBaseMask | (size<<regSizeShift)&regSizeMask
}

// Entries returns the number of slots in the table.
func (t Table) Entries() uint32 {
	return t.Size / EntrySize
}

// Hash folds handle into the table's index width and mixes in the channel.
// Channel bits above the index width are dropped.
func (t Table) Hash(handle, chid uint32) uint32 {
	width := uint(bits.TrailingZeros32(t.Entries()))
	mask := uint32(1)<<width - 1

	var hash uint32
	for handle != 0 {
		hash ^= handle & mask
		handle >>= width
	}
	return (hash ^ chid<<(width-4)) & mask
}

// Lookup resolves handle for channel chid. No probing is done: the slot the
// hash selects must hold a valid entry owned by chid.
func (t Table) Lookup(ramin *memory.Region, handle, chid uint32) (Entry, error) {
	hash := t.Hash(handle, chid)
	if hash >= t.Entries() {
		return Entry{}, fmt.Errorf("%w: handle 0x%08X hash 0x%X", ErrHashOutOfRange, handle, hash)
	}

	b, err := ramin.Slice(t.Base+hash*EntrySize, EntrySize)
	if err != nil {
		return Entry{}, fmt.Errorf("failed to read ramht entry: %w", err)
	}

	entry := DecodeEntry(b)
	if !entry.Valid {
		return entry, fmt.Errorf("%w: 0x%08X", ErrInvalidObjectHandle, handle)
	}
	if entry.ChannelID != chid {
		return entry, fmt.Errorf("%w: handle 0x%08X owned by channel %d, want %d",
			ErrChannelMismatch, handle, entry.ChannelID, chid)
	}
	return entry, nil
}

// Insert stores e in the slot its handle hashes to.
func (t Table) Insert(ramin *memory.Region, e Entry) error {
	hash := t.Hash(e.Handle, e.ChannelID)
	if hash >= t.Entries() {
		return fmt.Errorf("%w: handle 0x%08X hash 0x%X", ErrHashOutOfRange, e.Handle, hash)
	}

	b, err := ramin.Slice(t.Base+hash*EntrySize, EntrySize)
	if err != nil {
		return fmt.Errorf("failed to write ramht entry: %w", err)
	}
	EncodeEntry(b, e)
	return nil
}
