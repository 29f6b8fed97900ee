package ptimer

import (
	"testing"
	"time"
)

// fakeClock is a Clock advanced by hand.
type fakeClock struct {
	now time.Duration
}

func (c *fakeClock) read() time.Duration { return c.now }

func (c *fakeClock) advance(d time.Duration) { c.now += d }

func newTestTimer(num, den uint32) (*Timer, *fakeClock, *int) {
	clock := &fakeClock{}
	notified := new(int)
	timer := New(clock.read, func() { *notified++ })
	timer.Write(RegNumerator, num)
	timer.Write(RegDenominator, den)
	*notified = 0
	return timer, clock, notified
}

func TestNew(t *testing.T) {
	timer := New(nil, nil)

	if timer == nil {
		t.Fatal("New() returned nil")
	}

	// Reset state leaves the counter stopped
	if got := timer.Read(RegTime0); got != 0 {
		t.Errorf("TIME_0 = 0x%08X, want 0", got)
	}
	timer.Update()
	if got := timer.PendingInterrupts(); got != 0 {
		t.Errorf("PendingInterrupts() = 0x%X, want 0", got)
	}
}

func TestCounterRate(t *testing.T) {
	tests := []struct {
		name     string
		num, den uint32
		elapsed  time.Duration
		want     uint32 // TIME_0
	}{
		{"one tick per ns", 1, 1, 100 * time.Nanosecond, 100 << time0Shift},
		{"half rate", 2, 1, 100 * time.Nanosecond, 50 << time0Shift},
		{"triple rate", 1, 3, 100 * time.Nanosecond, 300 << time0Shift},
		{"stopped numerator", 0, 1, time.Microsecond, 0},
		{"stopped denominator", 1, 0, time.Microsecond, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer, clock, _ := newTestTimer(tt.num, tt.den)

			clock.advance(tt.elapsed)
			if got := timer.Read(RegTime0); got != tt.want {
				t.Errorf("TIME_0 = 0x%08X, want 0x%08X", got, tt.want)
			}
		})
	}
}

func TestCounterAccumulatesAcrossReads(t *testing.T) {
	timer, clock, _ := newTestTimer(1, 1)

	for range 10 {
		clock.advance(7 * time.Nanosecond)
		timer.Read(RegTime1)
	}
	if got := timer.Read(RegTime0); got != 70<<time0Shift {
		t.Errorf("TIME_0 = 0x%08X, want 0x%08X", got, 70<<time0Shift)
	}
}

func TestTimeRegisters(t *testing.T) {
	timer, clock, _ := newTestTimer(1, 1)

	// TIME_1 holds the counter bits above TIME_0
	timer.Write(RegTime1, 1)
	if got := timer.Read(RegTime0); got != 0 {
		t.Errorf("TIME_0 = 0x%08X, want 0", got)
	}
	if got := timer.Read(RegTime1); got != 1 {
		t.Errorf("TIME_1 = 0x%08X, want 1", got)
	}

	// Carry out of TIME_0
	timer.Write(RegTime0, time0Mask<<time0Shift)
	clock.advance(time.Nanosecond)
	if got := timer.Read(RegTime0); got != 0 {
		t.Errorf("TIME_0 after carry = 0x%08X, want 0", got)
	}
	if got := timer.Read(RegTime1); got != 2 {
		t.Errorf("TIME_1 after carry = 0x%08X, want 2", got)
	}

	// Unused low bits of TIME_0 and high bits of TIME_1 are dropped
	timer.Write(RegTime0, 0xFFFFFFFF)
	timer.Write(RegTime1, 0xFFFFFFFF)
	if got := timer.Read(RegTime0); got != 0xFFFFFFE0 {
		t.Errorf("TIME_0 = 0x%08X, want 0xFFFFFFE0", got)
	}
	if got := timer.Read(RegTime1); got != time1Mask {
		t.Errorf("TIME_1 = 0x%08X, want 0x%08X", got, time1Mask)
	}
}

func TestAlarm(t *testing.T) {
	timer, clock, notified := newTestTimer(1, 1)
	timer.Write(RegIntrEn, IntrAlarm)
	timer.Write(RegAlarm0, 1000<<time0Shift)
	*notified = 0

	clock.advance(999 * time.Nanosecond)
	timer.Update()
	if got := timer.PendingInterrupts(); got != 0 {
		t.Fatalf("PendingInterrupts() before alarm = 0x%X, want 0", got)
	}
	if *notified != 0 {
		t.Errorf("notified %d times before alarm", *notified)
	}

	clock.advance(time.Nanosecond)
	timer.Update()
	if got := timer.PendingInterrupts(); got != IntrAlarm {
		t.Fatalf("PendingInterrupts() at alarm = 0x%X, want 0x%X", got, IntrAlarm)
	}
	if *notified != 1 {
		t.Errorf("notified %d times at alarm, want 1", *notified)
	}

	// Still pending: no second notification
	clock.advance(time.Nanosecond)
	timer.Update()
	if *notified != 1 {
		t.Errorf("notified %d times while pending, want 1", *notified)
	}

	timer.Write(RegIntr, IntrAlarm)
	if got := timer.Read(RegIntr); got != 0 {
		t.Errorf("INTR after ack = 0x%X, want 0", got)
	}

	// The alarm is behind the counter now
	clock.advance(time.Microsecond)
	timer.Update()
	if got := timer.PendingInterrupts(); got != 0 {
		t.Errorf("PendingInterrupts() after ack = 0x%X, want 0", got)
	}
}

func TestAlarmCrossing(t *testing.T) {
	tests := []struct {
		name    string
		start   uint32 // TIME_0 counter bits
		alarm   uint32
		elapsed time.Duration
		want    bool
	}{
		{"before alarm", 0, 10, 9, false},
		{"at alarm", 0, 10, 10, true},
		{"past alarm", 0, 10, 50, true},
		{"alarm at start", 10, 10, 50, false},
		{"across wraparound", time0Mask - 10, 5, 20, true},
		{"wraparound short of alarm", time0Mask - 10, 15, 20, false},
		{"wraparound before start", time0Mask - 10, time0Mask - 5, 20, true},
		{"whole period", 10, 5, time0Mask + 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			timer, clock, _ := newTestTimer(1, 1)
			timer.Write(RegTime0, tt.start<<time0Shift)
			timer.Write(RegAlarm0, tt.alarm<<time0Shift)

			clock.advance(tt.elapsed)
			if got := timer.Read(RegIntr)&IntrAlarm != 0; got != tt.want {
				t.Errorf("alarm raised = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestPendingInterruptsMasked(t *testing.T) {
	timer, clock, _ := newTestTimer(1, 1)
	timer.Write(RegAlarm0, 1<<time0Shift)

	clock.advance(2 * time.Nanosecond)
	if got := timer.Read(RegIntr); got != IntrAlarm {
		t.Fatalf("INTR = 0x%X, want 0x%X", got, IntrAlarm)
	}
	if got := timer.PendingInterrupts(); got != 0 {
		t.Errorf("PendingInterrupts() with alarm disabled = 0x%X, want 0", got)
	}

	timer.Write(RegIntrEn, IntrAlarm)
	if got := timer.PendingInterrupts(); got != IntrAlarm {
		t.Errorf("PendingInterrupts() = 0x%X, want 0x%X", got, IntrAlarm)
	}
}

func TestRegisterReadBack(t *testing.T) {
	timer, _, _ := newTestTimer(0, 0)

	tests := []struct {
		reg, write, want uint32
	}{
		{RegNumerator, 0x12345678, 0x12345678},
		{RegDenominator, 0x9ABCDEF0, 0x9ABCDEF0},
		{RegIntrEn, IntrAlarm, IntrAlarm},
		{RegAlarm0, 0xFFFFFFFF, 0xFFFFFFE0},
		{0x800, 0xFFFFFFFF, 0},
	}

	for _, tt := range tests {
		timer.Write(tt.reg, tt.write)
		if got := timer.Read(tt.reg); got != tt.want {
			t.Errorf("Read(0x%03X) = 0x%08X, want 0x%08X", tt.reg, got, tt.want)
		}
	}
}

func TestScale(t *testing.T) {
	tests := []struct {
		ns       uint64
		mul, div uint32
		want     uint64
	}{
		{10, 3, 2, 15},
		{1 << 40, 1 << 20, 1 << 20, 1 << 40},
		{1 << 63, 4, 1, 1<<64 - 1}, // saturates
		{7, 1, 2, 3},
	}

	for _, tt := range tests {
		if got := scale(tt.ns, tt.mul, tt.div); got != tt.want {
			t.Errorf("scale(%d, %d, %d) = %d, want %d", tt.ns, tt.mul, tt.div, got, tt.want)
		}
	}
}

func TestHostClockAdvances(t *testing.T) {
	clock := HostClock()
	first := clock()
	time.Sleep(time.Millisecond)
	if second := clock(); second <= first {
		t.Errorf("HostClock() went from %v to %v", first, second)
	}
}
