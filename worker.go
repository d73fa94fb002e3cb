package corokernel

// Worker runs blocking work off the scheduler's single cooperative thread so
// a long syscall or CPU-bound computation doesn't stall every other task.
// It is the Go port of kernel::Worker: the original's weak default runs the
// work synchronously via Task::Switch on platforms without real threads,
// and a platform override dispatches it to a real thread otherwise. Go
// always has goroutines, so Worker always dispatches — Synchronous exists
// only to opt back into the degraded, same-goroutine behaviour, e.g. for
// deterministic tests.
type Worker struct {
	sched       *Scheduler
	jobs        chan func()
	synchronous bool
}

// NewWorker returns a Worker backed by a single goroutine draining a job
// queue of the given depth, notifying sched whenever a job completes so a
// sleeping scheduler wakes promptly.
func NewWorker(sched *Scheduler, queueDepth int) *Worker {
	w := &Worker{sched: sched, jobs: make(chan func(), queueDepth)}
	go w.loop()
	return w
}

// NewSynchronousWorker returns a Worker that runs every submitted job
// inline on the calling task, matching the original's platform-without-
// threads fallback.
func NewSynchronousWorker() *Worker {
	return &Worker{synchronous: true}
}

func (w *Worker) loop() {
	for fn := range w.jobs {
		fn()
	}
}

// Submit runs fn off-thread (unless w is synchronous) and returns an
// AsyncFunc that suspends the calling task until fn returns, resuming it
// with fn's result as the Complete value.
func (w *Worker) Submit(fn func() uint64) AsyncFunc {
	if w.synchronous {
		result := fn()
		return func(frame **AsyncFrame) AsyncResult { return Complete(result) }
	}

	var done Word
	var result uint64
	dispatched := false
	fr := &AsyncFrame{}

	return func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = fr
		}
		if !dispatched {
			dispatched = true
			w.jobs <- func() {
				result = fn()
				done.Store(1)
				w.sched.NotifyInterrupt()
			}
		}
		if done.Load() != 0 {
			return Complete(result)
		}
		return Wait(&WaitSpec{Word: &done, Mask: ^uint32(0), Expect: 1, Invert: false, Timeout: Infinite, Frame: fr})
	}
}

// Close stops the worker's goroutine once queued jobs drain. A synchronous
// Worker has nothing to stop.
func (w *Worker) Close() {
	if w.jobs != nil {
		close(w.jobs)
	}
}
