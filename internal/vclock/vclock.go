package vclock

import "math/bits"

// Clock is a monotonic virtual time source measured in integer ticks.
// Tick duration is TicksPerSecond dependent; devices convert through
// MulDiv64 rather than assuming nanoseconds.
type Clock interface {
	Now() int64
	TicksPerSecond() int64
}

// OneShot is a timer armed to an absolute tick deadline. Arming replaces
// any previous deadline; Cancel is idempotent and keeps the timer usable
// for a later Arm.
type OneShot interface {
	Arm(deadline int64)
	Cancel()
}

// TimerClock is a Clock that can mint one-shot timers firing on its own
// timeline. The callback runs without any clock lock held.
type TimerClock interface {
	Clock

	NewOneShot(cb func()) OneShot
}

// MulDiv64 returns a*b/c using a 128-bit intermediate product, so the
// multiplication cannot overflow. The quotient must fit in 64 bits.
func MulDiv64(a, b, c uint64) uint64 {
	hi, lo := bits.Mul64(a, b)
	if hi == 0 {
		return lo / c
	}
	q, _ := bits.Div64(hi, lo, c)
	return q
}
