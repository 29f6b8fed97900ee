package memory

import (
	"errors"
	"testing"
)

func TestNewBus(t *testing.T) {
	bus, err := NewBus(4 << 20)
	if err != nil {
		t.Fatalf("NewBus() error = %v", err)
	}

	if bus.VRAM.Len() != 4<<20 {
		t.Errorf("VRAM.Len() = 0x%X, want 0x400000", bus.VRAM.Len())
	}

	if bus.RAMIN.Len() != RAMINSize {
		t.Errorf("RAMIN.Len() = 0x%X, want 0x%X", bus.RAMIN.Len(), RAMINSize)
	}

	if bus.RAMIN.Base() != 3<<20 {
		t.Errorf("RAMIN.Base() = 0x%X, want 0x300000", bus.RAMIN.Base())
	}
}

func TestNewBusInvalidSize(t *testing.T) {
	tests := []struct {
		name string
		size uint32
	}{
		{"smaller than RAMIN", RAMINSize / 2},
		{"not page aligned", RAMINSize + 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewBus(tt.size)
			if !errors.Is(err, ErrInvalidSize) {
				t.Errorf("NewBus(0x%X) error = %v, want ErrInvalidSize", tt.size, err)
			}
		})
	}
}

// TestRAMINAliasesVRAM verifies writes through RAMIN land at the top of VRAM.
func TestRAMINAliasesVRAM(t *testing.T) {
	bus, err := NewBus(2 << 20)
	if err != nil {
		t.Fatal(err)
	}

	bus.RAMIN.Write32(0x10, 0xDEADBEEF)

	if got := bus.VRAM.Read32(bus.RAMINToVRAM(0x10)); got != 0xDEADBEEF {
		t.Errorf("VRAM.Read32() = 0x%08X, want 0xDEADBEEF", got)
	}
}

func TestWordAccess(t *testing.T) {
	bus, err := NewBus(RAMINSize)
	if err != nil {
		t.Fatal(err)
	}

	bus.VRAM.Write32(0x100, 0x11223344)
	if got := bus.VRAM.Read32(0x100); got != 0x11223344 {
		t.Errorf("Read32(0x100) = 0x%08X, want 0x11223344", got)
	}

	// Little-endian byte order
	if b := bus.VRAM.Bytes()[0x100]; b != 0x44 {
		t.Errorf("byte at 0x100 = 0x%02X, want 0x44", b)
	}

	bus.VRAM.Write64(0x200, 0x0102030405060708)
	if got := bus.VRAM.Read64(0x200); got != 0x0102030405060708 {
		t.Errorf("Read64(0x200) = 0x%016X, want 0x0102030405060708", got)
	}

	// Out of range accesses are ignored
	bus.VRAM.Write32(RAMINSize-2, 0xFFFFFFFF)
	if got := bus.VRAM.Read32(RAMINSize - 2); got != 0 {
		t.Errorf("Read32(end-2) = 0x%08X, want 0", got)
	}
}

func TestSliceBounds(t *testing.T) {
	bus, err := NewBus(RAMINSize)
	if err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name    string
		addr    uint32
		length  uint32
		wantErr bool
	}{
		{"start", 0, 16, false},
		{"exact end", RAMINSize - 16, 16, false},
		{"past end", RAMINSize - 8, 16, true},
		{"overflowing", 0xFFFFFFF0, 0x20, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, err := bus.VRAM.Slice(tt.addr, tt.length)
			if tt.wantErr {
				if !errors.Is(err, ErrOutOfBounds) {
					t.Errorf("Slice() error = %v, want ErrOutOfBounds", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Slice() error = %v", err)
			}
			if uint32(len(s)) != tt.length {
				t.Errorf("len(Slice()) = %d, want %d", len(s), tt.length)
			}
		})
	}
}

func TestReset(t *testing.T) {
	bus, err := NewBus(RAMINSize)
	if err != nil {
		t.Fatal(err)
	}

	if err := bus.VRAM.Write(0x40, []byte{1, 2, 3, 4}); err != nil {
		t.Fatal(err)
	}
	bus.Reset()

	if got := bus.VRAM.Read32(0x40); got != 0 {
		t.Errorf("Read32(0x40) after Reset = 0x%08X, want 0", got)
	}
}
