package object

import (
	"encoding/binary"
	"fmt"

	"github.com/richardwooding/nv2a/internal/memory"
)

// ContextWords is the number of 32-bit words in a graphics object instance.
const ContextWords = 5

const grClassMask = 0xFF

// Context is the instance block of a graphics object as PGRAPH caches it in
// CTX_SWITCH1..5. The first word carries the object class.
type Context [ContextWords]uint32

// Class returns the graphics class encoded in the first context word.
func (c Context) Class() uint32 {
	return c[0] & grClassMask
}

// ReadContext loads the instance block at RAMIN offset instance.
func ReadContext(ramin *memory.Region, instance uint32) (Context, error) {
	b, err := ramin.Slice(instance, ContextWords*4)
	if err != nil {
		return Context{}, fmt.Errorf("failed to read object instance: %w", err)
	}

	var c Context
	for i := range c {
		c[i] = binary.LittleEndian.Uint32(b[i*4:])
	}
	return c, nil
}

// WriteContext stores c at RAMIN offset instance.
func WriteContext(ramin *memory.Region, instance uint32, c Context) error {
	b, err := ramin.Slice(instance, ContextWords*4)
	if err != nil {
		return fmt.Errorf("failed to write object instance: %w", err)
	}
	for i, w := range c {
		binary.LittleEndian.PutUint32(b[i*4:], w)
	}
	return nil
}
