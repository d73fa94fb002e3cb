package corokernel

import (
	"context"
	"math"
	"time"

	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/corokernel/internal/korelog"
)

// Observability keys for the scheduler, following the metric/span/hook
// naming convention used throughout the timeout connector this core's
// instrumentation is grounded on.
const (
	MetricTicks         = metricz.Key("scheduler.ticks.total")
	MetricCompletions   = metricz.Key("scheduler.completions.total")
	MetricDelays        = metricz.Key("scheduler.delays.total")
	MetricWaits         = metricz.Key("scheduler.waits.total")
	MetricWaitTimeouts  = metricz.Key("scheduler.wait.timeouts.total")
	MetricSleepStarts   = metricz.Key("scheduler.sleep.starts.total")
	MetricSleepAborts   = metricz.Key("scheduler.sleep.aborts.total")
	MetricActiveTasks   = metricz.Key("scheduler.tasks.active")
	MetricTaskCycles    = metricz.Key("scheduler.task.cycles")

	SpanRun = tracez.Key("scheduler.run")

	EventTaskPanic = hookz.Key("scheduler.task.panic")
)

// PanicEvent is emitted via hooks when a task's entry function panics.
type PanicEvent struct {
	Task      *Task
	Value     any
	Timestamp time.Time
}

// TaskStats pairs a task with a host cycle count. The scheduler does not
// build TaskStats values itself: when Host.CycleCount is supported, Run
// stores the cycles of each time slice in the MetricTaskCycles gauge, which
// holds only the most recent slice and does not identify the task.
type TaskStats struct {
	Task   *Task
	Cycles uint64
}

// PreSleepFunc is consulted, in registration order, right before the
// scheduler would otherwise go to sleep. Returning true aborts the sleep,
// mirroring kernel::Scheduler's preSleep callback list (used by platforms
// to e.g. flush a UART before halting the core).
type PreSleepFunc func(now Tick, maxSleep int64) (abort bool)

// Scheduler is a single-threaded cooperative task scheduler: every Task
// runs to its next suspension point uninterrupted, and the scheduler alone
// decides what runs next. See kernel/Scheduler.cpp for the algorithm this
// is ported from.
type Scheduler struct {
	active  *Task
	delayed *Task
	waiting *Task

	nextWaiting **Task
	current     *Task
	running     bool
	taskCount   int // live (not yet completed) tasks, for MetricActiveTasks

	host Host
	wake chan struct{}

	preSleep []PreSleepFunc

	logger  *logiface.Logger[*korelog.Event]
	metrics *metricz.Registry
	tracer  *tracez.Tracer
	hooks   *hookz.Hooks[PanicEvent]

	lifecycle *EventTable[TaskLifecycleEvent] // lazily created by OnTaskLifecycle
}

// New constructs a Scheduler from opts. With no options, it runs against a
// RealHost wall clock and every observability facility is a real, but
// unobserved (no-op logger), instance — matching how zoobzio-pipz's
// connectors always allocate their own metricz/tracez/hookz instances
// rather than treating them as optional.
func New(opts ...Option) *Scheduler {
	s := &Scheduler{
		host:    NewRealHost(nil),
		wake:    make(chan struct{}, 1),
		logger:  korelog.NewNoOp(),
		metrics: metricz.New(),
		tracer:  tracez.New(),
		hooks:   hookz.New[PanicEvent](),
	}
	for _, o := range opts {
		o.apply(s)
	}
	s.nextWaiting = &s.waiting
	for _, key := range []metricz.Key{
		MetricTicks, MetricCompletions, MetricDelays, MetricWaits,
		MetricWaitTimeouts, MetricSleepStarts, MetricSleepAborts,
	} {
		s.metrics.Counter(key)
	}
	s.metrics.Gauge(MetricActiveTasks)
	s.metrics.Gauge(MetricTaskCycles)
	return s
}

// CurrentTask returns the task currently executing, or nil outside Run.
func (s *Scheduler) CurrentTask() *Task { return s.current }

// Metrics returns the scheduler's metricz.Registry, for a caller that wants
// to export or inspect it directly rather than go through WithMetrics.
func (s *Scheduler) Metrics() *metricz.Registry { return s.metrics }

// OnTaskPanic registers a handler invoked whenever a task's entry function
// panics.
func (s *Scheduler) OnTaskPanic(handler func(context.Context, PanicEvent) error) error {
	_, err := s.hooks.Hook(EventTaskPanic, handler)
	return err
}

// nonzero mirrors the original's helper of the same name: a deadline of
// exactly zero is indistinguishable from "no continuation pending", so it
// is nudged to 1.
func nonzero(t Tick) Tick {
	if t == 0 {
		return 1
	}
	return t
}

// Add schedules fn as a new task. New tasks are always queued as delayed,
// so they start running in the order they were added: they land at the head
// of the delayed queue (reversing order), then get reversed again when
// transferred to active.
func (s *Scheduler) Add(fn AsyncFunc) *Task {
	t := NewTask(fn)
	return s.add(t)
}

func (s *Scheduler) add(t *Task) *Task {
	t.wait.until = nonzero(s.host.Now())
	t.next = s.delayed
	s.delayed = t
	s.taskCount++
	s.metrics.Gauge(MetricActiveTasks).Set(float64(s.taskCount))
	s.NotifyInterrupt()
	return t
}

// NotifyInterrupt wakes the scheduler if it is currently sleeping in Run,
// the way a hardware ISR would set a condition the waiting queue scan would
// otherwise not see until the next wake. Safe to call from any goroutine.
func (s *Scheduler) NotifyInterrupt() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// AddPreSleep registers a callback consulted before each sleep.
func (s *Scheduler) AddPreSleep(fn PreSleepFunc) { s.preSleep = append(s.preSleep, fn) }

// Reset forcibly drains every queue, logging a warning for each orphaned
// task, mirroring kernel::Scheduler::Reset. Intended for test teardown.
func (s *Scheduler) Reset() {
	drain := func(q *Task) {
		for task := q; task != nil; task = task.next {
			s.logger.Warning().Log("removing orphaned task")
		}
	}
	drain(s.active)
	drain(s.delayed)
	drain(s.waiting)
	s.active, s.delayed, s.waiting = nil, nil, nil
	s.current = nil
	s.nextWaiting = &s.waiting
	s.taskCount = 0
	s.metrics.Gauge(MetricActiveTasks).Set(0)
	s.metrics.Gauge(MetricTaskCycles).Set(0)
	if s.lifecycle != nil {
		s.lifecycle.Close()
		s.lifecycle = nil
	}
}

// Run executes scheduled tasks until none remain or ctx is cancelled,
// returning the tick it stopped at.
func (s *Scheduler) Run(ctx context.Context) Tick {
	if s.running {
		panic(ErrSchedulerRunning)
	}
	s.running = true
	defer func() { s.running = false }()

	spanCtx, span := s.tracer.StartSpan(ctx, SpanRun)
	defer span.Finish()

	var lastTick Tick
	for {
		select {
		case <-spanCtx.Done():
			return lastTick
		default:
		}

		t := s.host.Now()
		lastTick = t
		maxSleep := int64(math.MaxInt64)

		pNext := &s.active
		for *pNext != nil {
			task := *pNext
			s.metrics.Counter(MetricTicks).Inc()
			s.current = task
			firstRun := task.top == nil
			before, hasCycles := s.host.CycleCount()
			result := s.runTask(task)
			if hasCycles {
				if after, ok := s.host.CycleCount(); ok {
					s.metrics.Gauge(MetricTaskCycles).Set(float64(after - before))
				}
			}
			if firstRun {
				s.fireLifecycle(TaskLifecycleEvent{Task: task, Phase: TaskStarted, Timestamp: time.Now()})
			}

			if result.Tag == TagComplete || result.Tag == TagException {
				*pNext = task.next
				s.taskCount--
				s.metrics.Gauge(MetricActiveTasks).Set(float64(s.taskCount))
				s.metrics.Counter(MetricCompletions).Inc()
				if result.Tag == TagException {
					s.reportUncaught(task, result.Thrown)
				}
				s.fireLifecycle(TaskLifecycleEvent{Task: task, Phase: TaskCompleted, Value: result.Value, Timestamp: time.Now()})
				if task.onComplete != nil {
					task.onComplete(result.Value)
				}
				continue
			}

			var sleep int64
			switch result.Tag {
			case TagSleepTimeout:
				sleep = Timeout(result.Value).Relative(t)
			case TagSleepUntil:
				sleep = Tick(result.Value).Sub(t)
			case TagSleepMilliseconds:
				sleep = int64(result.Value) * (MonoFrequency / 1_000)
			case TagSleepSeconds:
				sleep = int64(result.Value) * MonoFrequency
			case TagSleepTicks:
				sleep = int64(result.Value)

			case TagDelayUntil, TagDelayTicks, TagDelaySeconds, TagDelayMilliseconds, TagDelayTimeout:
				s.metrics.Counter(MetricDelays).Inc()
				s.queueDelay(task, result, t)
				*pNext = task.next
				task.next = s.delayed
				s.delayed = task
				continue

			case TagWaitMultiple:
				s.metrics.Counter(MetricWaits).Inc()
				s.queueWaitMultiple(task, result)
				*pNext = task.next
				task.next = nil
				*s.nextWaiting = task
				s.nextWaiting = &task.next
				continue

			case TagWait:
				s.metrics.Counter(MetricWaits).Inc()
				s.queueWait(task, result, t)
				*pNext = task.next
				task.next = nil
				*s.nextWaiting = task
				s.nextWaiting = &task.next
				continue

			default:
				panic("corokernel: invalid async result tag")
			}

			task.wait.until = 0
			if maxSleep > sleep {
				maxSleep = sleep
			}
			pNext = &task.next
		}

		timeSpent := s.host.Now().Sub(t)
		t = t.Add(timeSpent)
		maxSleep -= timeSpent

		pNext = &s.delayed
		for *pNext != nil {
			task := *pNext
			sleep := task.wait.until.Sub(t)
			if sleep <= 0 {
				*pNext = task.next
				task.next = s.active
				s.active = task
			} else {
				pNext = &task.next
			}
			if maxSleep > sleep {
				maxSleep = sleep
			}
		}

		if maxSleep > 0 {
			if s.active == nil && s.delayed == nil && s.waiting == nil {
				return t
			}
			s.host.DisableInterrupts()
		}

		pNext = &s.waiting
		for *pNext != nil {
			task := *pNext
			match := (task.wait.ptr.Load()&task.wait.mask == task.wait.expect) != task.wait.invert
			if match {
				if maxSleep > 0 {
					maxSleep = 0
					s.host.EnableInterrupts()
				}
				if task.wait.acquire {
					acquireWord(task.wait.ptr, task.wait.mask)
				}
				*pNext = task.next
				task.next = s.active
				s.active = task
				task.wait.until = 0
				if task.wait.frame != nil {
					task.wait.frame.WaitResult = true
				}
				continue
			}

			if task.wait.until != 0 {
				sleep := task.wait.until.Sub(t)
				if sleep <= 0 {
					if maxSleep > 0 {
						maxSleep = 0
						s.host.EnableInterrupts()
					}
					s.metrics.Counter(MetricWaitTimeouts).Inc()
					*pNext = task.next
					task.next = s.active
					s.active = task
					if task.wait.frame != nil {
						task.wait.frame.WaitResult = false
					}
					continue
				} else if maxSleep > sleep {
					maxSleep = sleep
				}
			}
			pNext = &task.next
		}
		s.nextWaiting = pNext

		if maxSleep > 0 {
			s.metrics.Counter(MetricSleepStarts).Inc()
			aborted := false
			for _, cb := range s.preSleep {
				if cb(t, maxSleep) {
					s.metrics.Counter(MetricSleepAborts).Inc()
					aborted = true
					break
				}
				spent := s.host.Now().Sub(t)
				t = t.Add(spent)
				maxSleep -= spent
				if maxSleep <= 0 {
					s.metrics.Counter(MetricSleepAborts).Inc()
					aborted = true
					break
				}
			}
			if !aborted {
				s.host.Sleep(t, Tick(maxSleep), s.wake)
			}
			s.host.EnableInterrupts()
		}
	}
}

func acquireWord(w *Word, mask uint32) {
	for {
		old := w.Load()
		if w.CompareAndSwap(old, old^mask) {
			return
		}
	}
}

func (s *Scheduler) runTask(task *Task) (result AsyncResult) {
	defer func() {
		if r := recover(); r != nil {
			s.logger.Err().Err(&PanicError{Task: task, Value: r}).Log("task panicked")
			_ = s.hooks.Emit(context.Background(), EventTaskPanic, PanicEvent{Task: task, Value: r, Timestamp: time.Now()})
			result = AsyncResult{Tag: TagException, Thrown: &Thrown{Type: ErrException}}
		}
	}()
	return task.fn(&task.top)
}

func (s *Scheduler) reportUncaught(task *Task, thrown *Thrown) {
	if thrown == nil {
		return
	}
	s.logger.Err().Str("exception", thrown.Type.Name()).Log("task terminated by uncaught exception")
}

func (s *Scheduler) queueDelay(task *Task, result AsyncResult, now Tick) {
	var relative bool
	var value int64

	switch result.Tag {
	case TagDelayTimeout:
		timeout := Timeout(result.Value)
		if timeout.IsRelative() {
			relative = true
			value = timeout.Relative(now)
		} else {
			relative = false
			value = int64(timeout.ToMonotonic(now))
		}
	case TagDelayMilliseconds:
		relative = true
		value = int64(result.Value) * (MonoFrequency / 1_000)
	case TagDelaySeconds:
		relative = true
		value = int64(result.Value) * MonoFrequency
	case TagDelayTicks:
		relative = true
		value = int64(result.Value)
	case TagDelayUntil:
		relative = false
		value = int64(result.Value)
	}

	var until Tick
	if relative {
		if task.wait.until != 0 {
			until = task.wait.until.Add(value)
		} else {
			until = now.Add(value)
		}
	} else {
		until = Tick(value)
	}
	if until.Before(now) {
		until = now
	}
	task.wait.until = nonzero(until)
}

func (s *Scheduler) queueWaitMultiple(task *Task, result AsyncResult) {
	f := result.Joining
	task.wait.ptr = &f.Children
	task.wait.mask = ^uint32(0)
	task.wait.expect = 0
	task.wait.invert = false
	task.wait.acquire = false
	task.wait.frame = f
	task.wait.joining = true
	task.wait.until = 0
}

func (s *Scheduler) queueWait(task *Task, result AsyncResult, now Tick) {
	spec := result.Wait
	task.wait.ptr = spec.Word
	task.wait.mask = spec.Mask
	task.wait.expect = spec.Expect
	task.wait.invert = spec.Invert
	task.wait.acquire = spec.Acquire
	task.wait.frame = spec.Frame
	task.wait.joining = false

	timeout := spec.Timeout
	if timeout.IsInfinite() {
		task.wait.until = 0
		return
	}
	var until Tick
	if timeout.IsAbsolute() {
		until = timeout.ToMonotonic(now)
	} else if task.wait.until != 0 {
		until = task.wait.until.Add(timeout.Relative(now))
	} else {
		until = now.Add(timeout.Relative(now))
	}
	if until.Before(now) {
		until = now
	}
	task.wait.until = nonzero(until)
}
