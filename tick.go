package corokernel

import "time"

// MonoFrequency is the number of ticks per second used to convert between
// [Tick] values and wall-clock durations. One tick is one microsecond,
// matching the microsecond-resolution monotonic counters typical of the
// microcontroller targets this core is drawn from.
const MonoFrequency = 1_000_000

// Tick is an unsigned monotonic counter. Arithmetic on Tick wraps, so all
// comparisons are done on the signed difference between two values: half the
// 64-bit range is "in the past" relative to any given tick, and half is "in
// the future".
type Tick uint64

// TicksFromDuration converts a time.Duration to the nearest (truncated)
// number of ticks.
func TicksFromDuration(d time.Duration) Tick {
	if d <= 0 {
		return 0
	}
	return Tick(d / (time.Second / MonoFrequency))
}

// Duration converts a tick count to a time.Duration.
func (t Tick) Duration() time.Duration {
	return time.Duration(t) * (time.Second / MonoFrequency)
}

// Sub returns the signed difference t-other, wrap-safe: if the true
// difference does not fit in an int64 it is interpreted as wrapping around
// the 64-bit tick space.
func (t Tick) Sub(other Tick) int64 {
	return int64(t - other)
}

// Before reports whether t is strictly before other, wrap-safe.
func (t Tick) Before(other Tick) bool { return t.Sub(other) < 0 }

// After reports whether t is strictly after other, wrap-safe.
func (t Tick) After(other Tick) bool { return t.Sub(other) > 0 }

// Add returns t advanced by delta ticks (delta may be negative).
func (t Tick) Add(delta int64) Tick { return Tick(int64(t) + delta) }
