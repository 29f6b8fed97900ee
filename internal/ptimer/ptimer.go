// Package ptimer implements the PTIMER block.
//
// The block consists of:
//   - TIME_0/TIME_1: a free-running counter split across two registers
//   - NUMERATOR/DENOMINATOR: the counter rate relative to host time
//   - ALARM_0: raises the alarm interrupt when TIME_0 passes it
//
// The counter is derived from a host clock whenever a register is touched,
// so alarms are observed at the next access rather than at the exact tick.
package ptimer

import (
	"math/bits"
	"sync"
	"time"
)

// Registers, relative to the block base.
const (
	RegIntr        = 0x100
	RegIntrEn      = 0x140
	RegNumerator   = 0x200
	RegDenominator = 0x210
	RegTime0       = 0x400
	RegTime1       = 0x410
	RegAlarm0      = 0x420

	// RegisterSpace is the size of the block.
	RegisterSpace = 0x1000
)

// IntrAlarm is the alarm interrupt bit.
const IntrAlarm = 1 << 0

// TIME_0 holds counter bits 26:0 in its bits 31:5; TIME_1 holds bits 55:27.
const (
	time0Shift = 5
	time0Bits  = 27
	time0Mask  = 1<<time0Bits - 1
	time1Mask  = 0x1FFFFFFF
	alarmMask  = 0xFFFFFFE0
)

// Clock returns the host time elapsed since an arbitrary fixed point. It
// must not go backwards.
type Clock func() time.Duration

// HostClock returns a Clock reading the monotonic host clock.
func HostClock() Clock {
	start := time.Now()
	return func() time.Duration { return time.Since(start) }
}

// Timer is the PTIMER block. It is safe for concurrent use.
type Timer struct {
	mu    sync.Mutex
	clock Clock

	// The counter is base at host time since, advancing at
	// denominator/numerator ticks per nanosecond.
	base  uint64
	since time.Duration

	numerator   uint32
	denominator uint32
	alarm       uint32
	intr        uint32
	intrEn      uint32

	// notify is called with no lock held after the interrupt state changed
	notify func()
}

// New creates a timer reading clock. A nil clock reads the host clock.
// notify may be nil.
func New(clock Clock, notify func()) *Timer {
	if clock == nil {
		clock = HostClock()
	}
	if notify == nil {
		notify = func() {}
	}
	return &Timer{clock: clock, since: clock(), notify: notify}
}

// Read returns the register at reg.
func (t *Timer) Read(reg uint32) uint32 {
	t.mu.Lock()
	raised := t.advance()

	var v uint32
	switch reg {
	case RegIntr:
		v = t.intr
	case RegIntrEn:
		v = t.intrEn
	case RegNumerator:
		v = t.numerator
	case RegDenominator:
		v = t.denominator
	case RegTime0:
		v = uint32(t.base&time0Mask) << time0Shift
	case RegTime1:
		v = uint32(t.base>>time0Bits) & time1Mask
	case RegAlarm0:
		v = t.alarm
	}
	t.mu.Unlock()

	if raised {
		t.notify()
	}
	return v
}

// Write stores val to the register at reg.
func (t *Timer) Write(reg, val uint32) {
	t.mu.Lock()
	t.advance()

	switch reg {
	case RegIntr:
		t.intr &^= val // write one to clear
	case RegIntrEn:
		t.intrEn = val
	case RegNumerator:
		t.numerator = val
	case RegDenominator:
		t.denominator = val
	case RegTime0:
		t.base = t.base&^time0Mask | uint64(val>>time0Shift)
	case RegTime1:
		t.base = t.base&time0Mask | uint64(val&time1Mask)<<time0Bits
	case RegAlarm0:
		t.alarm = val & alarmMask
	}
	t.mu.Unlock()

	t.notify()
}

// Update brings the counter up to date with the clock, raising the alarm
// if it passed.
func (t *Timer) Update() {
	t.mu.Lock()
	raised := t.advance()
	t.mu.Unlock()

	if raised {
		t.notify()
	}
}

// PendingInterrupts returns the raised interrupts that are enabled. It does
// not advance the counter.
func (t *Timer) PendingInterrupts() uint32 {
	t.mu.Lock()
	defer t.mu.Unlock()

	return t.intr & t.intrEn
}

// advance moves the counter to the current clock and reports whether it
// newly raised the alarm. Must be called with mu held.
func (t *Timer) advance() bool {
	now := t.clock()
	elapsed := now - t.since
	t.since = now
	if elapsed <= 0 || t.numerator == 0 || t.denominator == 0 {
		return false
	}

	ticks := scale(uint64(elapsed), t.denominator, t.numerator)
	start := t.base
	t.base = (t.base + ticks) & (1<<56 - 1)

	if ticks == 0 || !t.alarmCrossed(start, ticks) {
		return false
	}
	wasPending := t.intr&IntrAlarm != 0
	t.intr |= IntrAlarm
	return !wasPending
}

// alarmCrossed reports whether TIME_0 reached the alarm while the counter
// moved ticks forward from start.
func (t *Timer) alarmCrossed(start, ticks uint64) bool {
	// A whole TIME_0 period passes every alarm value
	if ticks > time0Mask {
		return true
	}

	alarm := uint64(t.alarm >> time0Shift)
	from := start & time0Mask
	to := (start + ticks) & time0Mask

	// Handle TIME_0 wraparound: split into [from, max] and [0, to]
	if to < from {
		return alarm > from || alarm <= to
	}
	return alarm > from && alarm <= to
}

// scale returns ns*mul/div, saturating when the result does not fit.
func scale(ns uint64, mul, div uint32) uint64 {
	hi, lo := bits.Mul64(ns, uint64(mul))
	if hi >= uint64(div) {
		return 1<<64 - 1
	}
	q, _ := bits.Div64(hi, lo, uint64(div))
	return q
}
