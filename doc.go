// Package corokernel is the core of a tiny cooperative task scheduler and a
// zero-copy segmented byte pipe, intended for resource-constrained runtimes
// where user code is expressed as stackless asynchronous state machines.
//
// # Architecture
//
// A [Scheduler] owns three queues of [Task] values — active, delayed, and
// waiting — and drives exactly one task at a time to completion of its
// current time slice. Tasks are async state machines: each suspension point
// returns an [AsyncResult] that tells the scheduler whether to keep the task
// active, move it to the delayed queue for a time-bounded sleep, or move it
// to the waiting queue until a watched memory location changes.
//
// A [Pipe] is a segmented, reference-counted byte buffer used to stream data
// between producers and consumers cooperating through the same [Scheduler]:
// writers allocate segments (throttled by the pipe's capacity, not by
// allocation failure — see [PipeAllocator]), and readers consume them via
// [PipeReader] without ever copying payload bytes across pipes — [Copy] and
// [Move] share segment data between pipes via reference-counted "referenced"
// segments.
//
// # Thread Safety
//
// This is a single-threaded cooperative model, matching the embedded systems
// it is drawn from: exactly one goroutine may call [Scheduler.Run] and the
// methods of [Task], [Pipe], and [PipeReader] for a given scheduler instance
// at a time. The only values that may legitimately be written from other
// goroutines (modelling hardware interrupt handlers, or a [Worker]'s
// background goroutine) are the watched memory locations passed to
// wait-on-memory suspensions, plus calls to [Scheduler.NotifyInterrupt],
// which wakes a sleeping scheduler early.
//
// # Observability
//
// A [Scheduler] optionally carries a structured logger
// (github.com/joeycumines/logiface), a metrics registry
// (github.com/zoobzio/metricz), a tracer (github.com/zoobzio/tracez), and an
// [EventTable] (github.com/zoobzio/hookz) for process-wide topic/handler
// dispatch, such as [Scheduler.OnTaskPanic] and [Scheduler.OnTaskLifecycle].
// None of these are required: a zero-value-constructed [Scheduler] via [New]
// runs with a no-op logger, a real but unobserved metrics/tracer instance,
// and no lifecycle table at all until OnTaskLifecycle first registers one.
package corokernel
