package corokernel

import (
	"math"
	"time"
)

// Timeout is a single machine word encoding one of three things:
//
//   - value 0: infinite (never times out).
//   - top bit clear, value in [1, signedMax]: a relative duration, in ticks,
//     not yet bound to any particular "now".
//   - top bit set: an absolute deadline tick (the remaining 63 bits).
//
// Two Timeout values compare equal only if they have the identical bit
// pattern: Absolute(10) != Ticks(10), even when they happen to describe the
// same deadline. Ordering, by contrast, is always temporal — see [Compare].
type Timeout uint64

const (
	absoluteBit = uint64(1) << 63
	// signedMax is the largest value a relative Timeout may encode.
	signedMax = uint64(math.MaxInt64)
)

// Infinite is the Timeout that never expires.
const Infinite Timeout = 0

// Absolute returns a Timeout encoding an absolute deadline tick.
func Absolute(deadline Tick) Timeout {
	return Timeout(absoluteBit | (uint64(deadline) &^ absoluteBit))
}

// Ticks returns a Timeout encoding a relative duration of n ticks.
// It panics if n is 0 (use [Infinite]) or exceeds the signed maximum — a
// programmer error per the core's error taxonomy.
func Ticks(n uint64) Timeout {
	if n == 0 {
		panic("corokernel: Ticks(0) is ambiguous with Infinite; use Infinite explicitly")
	}
	if n > signedMax {
		panic(&RangeError{Message: "corokernel: Timeout duration exceeds signed maximum"})
	}
	return Timeout(n)
}

// Microseconds returns a relative Timeout of n microseconds.
func Microseconds(n uint64) Timeout { return Ticks(n * (MonoFrequency / 1_000_000)) }

// Milliseconds returns a relative Timeout of n milliseconds.
func Milliseconds(n uint64) Timeout { return Ticks(n * (MonoFrequency / 1_000)) }

// Seconds returns a relative Timeout of n seconds.
func Seconds(n uint64) Timeout { return Ticks(n * MonoFrequency) }

// FromDuration returns a relative Timeout equivalent to d, or Infinite if
// d <= 0.
func FromDuration(d time.Duration) Timeout {
	if d <= 0 {
		return Infinite
	}
	return Ticks(uint64(TicksFromDuration(d)))
}

// IsInfinite reports whether t never expires.
func (t Timeout) IsInfinite() bool { return t == Infinite }

// IsAbsolute reports whether t encodes an absolute deadline.
func (t Timeout) IsAbsolute() bool { return t != Infinite && uint64(t)&absoluteBit != 0 }

// IsRelative reports whether t encodes a relative, not-yet-bound duration.
func (t Timeout) IsRelative() bool { return !t.IsInfinite() && !t.IsAbsolute() }

// MakeAbsolute binds a relative Timeout to now, returning an absolute
// deadline. Infinite and already-absolute timeouts are returned unchanged.
func (t Timeout) MakeAbsolute(now Tick) Timeout {
	switch {
	case t.IsInfinite():
		return t
	case t.IsAbsolute():
		return t
	default:
		return Absolute(now.Add(int64(t)))
	}
}

// ToMonotonic returns the absolute deadline tick this Timeout resolves to,
// given base as "now" for relative timeouts. It panics if t is infinite,
// since an infinite timeout has no deadline tick.
func (t Timeout) ToMonotonic(base Tick) Tick {
	if t.IsInfinite() {
		panic("corokernel: ToMonotonic called on an infinite Timeout")
	}
	if t.IsAbsolute() {
		return Tick(uint64(t) &^ absoluteBit)
	}
	return base.Add(int64(t))
}

// Relative returns the signed number of ticks remaining until t expires,
// relative to now; negative means elapsed. Infinite reports math.MaxInt64.
func (t Timeout) Relative(now Tick) int64 {
	if t.IsInfinite() {
		return math.MaxInt64
	}
	if t.IsAbsolute() {
		return Tick(uint64(t) &^ absoluteBit).Sub(now)
	}
	return int64(t)
}

// Elapsed reports whether a (necessarily absolute or infinite) Timeout has
// already passed as of now. A relative Timeout is never "elapsed" on its own
// — bind it with MakeAbsolute first.
func (t Timeout) Elapsed(now Tick) bool {
	if t.IsInfinite() {
		return false
	}
	return t.Relative(now) <= 0
}

// Compare orders two Timeout values temporally, both bound to the same now:
// Infinite is strictly greater than every finite Timeout; two finite
// Timeouts are compared by remaining ticks. It returns -1, 0, or 1.
func Compare(a, b Timeout, now Tick) int {
	switch {
	case a.IsInfinite() && b.IsInfinite():
		return 0
	case a.IsInfinite():
		return 1
	case b.IsInfinite():
		return -1
	}
	ra, rb := a.Relative(now), b.Relative(now)
	switch {
	case ra < rb:
		return -1
	case ra > rb:
		return 1
	default:
		return 0
	}
}
