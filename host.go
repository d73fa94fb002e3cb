package corokernel

import (
	"context"
	"sync"
	"time"

	"github.com/zoobzio/clockz"
)

// Host is the platform contract the scheduler requires, matching spec.md
// §6's "External Interfaces": a monotonic clock, a low-power sleep
// primitive that may wake early, interrupt masking, and an optional cycle
// counter for per-task stats.
//
// Disable/Enable must be balanced: the scheduler calls DisableInterrupts
// immediately before deciding whether to sleep, and EnableInterrupts either
// immediately if a waiting task becomes runnable, or after the pre-sleep
// callbacks and Sleep (when taken) have returned.
type Host interface {
	// Now returns the current monotonic tick.
	Now() Tick
	// Sleep blocks for up to duration ticks, or until wake is signalled,
	// whichever comes first. since is the tick the sleep decision was made
	// at, provided so hardware implementations can program a timer relative
	// to a known reference instead of re-reading the clock.
	Sleep(since, duration Tick, wake <-chan struct{})
	// DisableInterrupts and EnableInterrupts bracket the scheduler's
	// waiting-queue scan and sleep decision, so a wake condition set
	// concurrently is never missed.
	DisableInterrupts()
	EnableInterrupts()
	// CycleCount optionally returns a free-running cycle counter for
	// per-task stats; ok is false if unsupported.
	CycleCount() (cycles uint64, ok bool)
}

// RealHost is the production [Host], backed by a github.com/zoobzio/clockz
// clock. The zero value is invalid; use [NewRealHost].
type RealHost struct {
	clock clockz.Clock
	mu    sync.Mutex
}

// NewRealHost returns a Host backed by clock. Passing nil uses
// clockz.RealClock.
func NewRealHost(clock clockz.Clock) *RealHost {
	if clock == nil {
		clock = clockz.RealClock
	}
	return &RealHost{clock: clock}
}

func (h *RealHost) Now() Tick {
	return TicksFromDuration(h.clock.Now().Sub(time.Unix(0, 0)))
}

func (h *RealHost) Sleep(_, duration Tick, wake <-chan struct{}) {
	if duration <= 0 {
		return
	}
	ctx, cancel := h.clock.WithTimeout(context.Background(), duration.Duration())
	defer cancel()
	select {
	case <-ctx.Done():
	case <-wake:
	}
}

// DisableInterrupts models disabling hardware interrupts with a mutex: it
// excludes concurrent wake deliveries while the scheduler decides whether to
// sleep.
func (h *RealHost) DisableInterrupts() { h.mu.Lock() }

// EnableInterrupts is the balancing unlock for DisableInterrupts.
func (h *RealHost) EnableInterrupts() { h.mu.Unlock() }

// CycleCount is unsupported on RealHost.
func (h *RealHost) CycleCount() (uint64, bool) { return 0, false }

// Clock returns the underlying clockz.Clock, e.g. to swap in a
// clockz.NewFakeClock() for deterministic tests.
func (h *RealHost) Clock() clockz.Clock { return h.clock }
