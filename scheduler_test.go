package corokernel

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/zoobzio/clockz"
)

func TestSchedulerRunsTasksInFIFOStartOrder(t *testing.T) {
	s := New()

	var order []int
	done := func(n int) AsyncFunc {
		return func(frame **AsyncFrame) AsyncResult {
			order = append(order, n)
			return Complete(0)
		}
	}

	s.Add(done(1))
	s.Add(done(2))
	s.Add(done(3))

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, []int{1, 2, 3}, order)
}

func TestSchedulerExitsWhenNoTasksRemain(t *testing.T) {
	s := New()
	s.Add(func(frame **AsyncFrame) AsyncResult { return Complete(42) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	start := time.Now()
	s.Run(ctx)
	assert.Less(t, time.Since(start), time.Second, "Run must return as soon as the queues drain, not wait for ctx")
}

func TestSchedulerCompletionInvokesOnComplete(t *testing.T) {
	s := New()

	var got uint64
	s.Add(func(frame **AsyncFrame) AsyncResult { return Complete(7) }).OnComplete(func(v uint64) { got = v })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, uint64(7), got)
}

func TestSchedulerDelayElapsesBeforeResuming(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(WithHost(NewRealHost(clock)))

	step := 0
	s.Add(func(frame **AsyncFrame) AsyncResult {
		step++
		switch step {
		case 1:
			return DelayMilliseconds(10)
		default:
			return Complete(0)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan Tick, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond) // let the task run once and the scheduler enter Sleep
	clock.Advance(11 * time.Millisecond)
	clock.BlockUntilReady()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler never resumed the delayed task")
	}
	assert.Equal(t, 2, step)
}

func TestSchedulerWaitWakesOnWordMatch(t *testing.T) {
	s := New()

	var w Word
	resumed := false
	s.Add(func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		if !resumed {
			resumed = true
			return Wait(&WaitSpec{Word: &w, Mask: 1, Expect: 1, Timeout: Infinite, Frame: *frame})
		}
		return Complete(0)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan Tick, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return resumed }, time.Second, time.Millisecond)
	w.Store(1)
	s.NotifyInterrupt()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler never woke the waiting task")
	}
}

func TestSchedulerWaitTimesOutAndReportsFalse(t *testing.T) {
	clock := clockz.NewFakeClock()
	s := New(WithHost(NewRealHost(clock)))

	var w Word
	var waitResult bool
	step := 0
	s.Add(func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		step++
		switch step {
		case 1:
			return Wait(&WaitSpec{Word: &w, Mask: 1, Expect: 1, Timeout: Milliseconds(5), Frame: *frame})
		default:
			waitResult = (*frame).WaitResult
			return Complete(0)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	done := make(chan Tick, 1)
	go func() { done <- s.Run(ctx) }()

	time.Sleep(10 * time.Millisecond)
	clock.Advance(10 * time.Millisecond)
	clock.BlockUntilReady()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler never resumed the timed-out wait")
	}
	assert.False(t, waitResult)
}

func TestSchedulerWaitAcquireClearsMatchedBits(t *testing.T) {
	s := New()

	var w Word
	w.Store(1)
	step := 0
	s.Add(func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		step++
		switch step {
		case 1:
			return Wait(&WaitSpec{Word: &w, Mask: 1, Expect: 1, Acquire: true, Timeout: Infinite, Frame: *frame})
		default:
			return Complete(0)
		}
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, uint32(0), w.Load(), "Acquire must XOR the matched bits out of the word on wakeup")
}

func TestSchedulerWaitForChildrenJoinsOnLastChildCompletion(t *testing.T) {
	s := New()

	parentFrame := &AsyncFrame{}
	parentFrame.AddChild()
	parentFrame.AddChild()

	joined := false
	step := 0
	s.Add(func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = parentFrame
		}
		step++
		switch step {
		case 1:
			return WaitForChildren(parentFrame)
		default:
			joined = true
			return Complete(0)
		}
	})

	child1 := s.Add(func(frame **AsyncFrame) AsyncResult { return Complete(0) })
	child1.OnComplete(func(uint64) { parentFrame.RemoveChild() })
	child2 := s.Add(func(frame **AsyncFrame) AsyncResult { return Complete(0) })
	child2.OnComplete(func(uint64) { parentFrame.RemoveChild() })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	assert.True(t, joined)
	assert.Equal(t, uint32(0), parentFrame.Children.Load())
}

// TestSchedulerExceptionUnwindsDestructorsInReverseOrder drives the
// nested-calls-throw scenario: each frame's destructor fires as the
// exception propagates outward, innermost first.
func TestSchedulerExceptionUnwindsDestructorsInReverseOrder(t *testing.T) {
	s := New()

	var order []string
	boom := RegisterException("Boom")

	s.Add(func(frame **AsyncFrame) AsyncResult {
		fa := NewFrame(&AsyncSpec{Name: "A"}, nil)
		fa.Destructor = func(*AsyncFrame) { order = append(order, "a") }

		fb := NewFrame(&AsyncSpec{Name: "B"}, fa)
		fb.Destructor = func(*AsyncFrame) { order = append(order, "b") }

		fcall := NewFrame(&AsyncSpec{Name: "C"}, fb)
		fcall.Destructor = func(*AsyncFrame) { order = append(order, "c") }

		order = append(order, "C")
		fcall.Free()
		order = append(order, "B")
		fb.Free()
		order = append(order, "A")
		fa.Free()

		return Throw(boom, 1)
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	assert.Equal(t, []string{"C", "c", "B", "b", "A", "a"}, order)
}

func TestSchedulerPanicReportedAsExceptionAndHooked(t *testing.T) {
	s := New()

	var gotValue any
	require.NoError(t, s.OnTaskPanic(func(ctx context.Context, ev PanicEvent) error {
		gotValue = ev.Value
		return nil
	}))

	s.Add(func(frame **AsyncFrame) AsyncResult { panic("kaboom") })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	require.Eventually(t, func() bool { return gotValue != nil }, time.Second, time.Millisecond)
	assert.Equal(t, "kaboom", gotValue)
}

func TestSchedulerLifecycleEventsFireStartedAndCompleted(t *testing.T) {
	s := New()

	var phases []TaskPhase
	require.NoError(t, s.OnTaskLifecycle(func(ctx context.Context, ev TaskLifecycleEvent) error {
		phases = append(phases, ev.Phase)
		return nil
	}))

	s.Add(func(frame **AsyncFrame) AsyncResult { return Complete(5) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s.Run(ctx)

	require.Eventually(t, func() bool { return len(phases) == 2 }, time.Second, time.Millisecond)
	assert.Equal(t, []TaskPhase{TaskStarted, TaskCompleted}, phases)
}

func TestSchedulerResetDrainsQueuesAndMetrics(t *testing.T) {
	s := New()
	s.Add(func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = &AsyncFrame{}
		}
		var w Word
		return Wait(&WaitSpec{Word: &w, Mask: 1, Expect: 1, Timeout: Infinite, Frame: *frame})
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	go s.Run(ctx)

	require.Eventually(t, func() bool {
		return s.Metrics().Gauge(MetricActiveTasks).Value() == 1
	}, time.Second, time.Millisecond)

	cancel()
	time.Sleep(10 * time.Millisecond) // let Run's goroutine observe ctx.Done and exit

	s.Reset()
	assert.Equal(t, float64(0), s.Metrics().Gauge(MetricActiveTasks).Value())
}

func TestSchedulerRunPanicsIfAlreadyRunning(t *testing.T) {
	s := New()
	s.running = true
	assert.PanicsWithValue(t, ErrSchedulerRunning, func() {
		s.Run(context.Background())
	})
}

// TestSchedulerExceptionPropagatesAcrossRealSuspensionBoundaries drives A
// calling B calling C through an actual scheduler suspend/resume (C waits on
// a Word before throwing), confirming destructors still unwind innermost
// first when the exception propagates through frames that were genuinely
// parked, not just chained synchronously within one call.
func TestSchedulerExceptionPropagatesAcrossRealSuspensionBoundaries(t *testing.T) {
	s := New()
	boom := RegisterException("BoomAcrossAwait")

	var order []string
	var w Word
	var cFrame, bFrame, aFrame *AsyncFrame

	cFn := func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = NewFrame(&AsyncSpec{Name: "C"}, bFrame)
			(*frame).Destructor = func(*AsyncFrame) { order = append(order, "c") }
		}
		f := *frame
		if f.Cont == 0 {
			f.Cont = 1
			return Wait(&WaitSpec{Word: &w, Mask: 1, Expect: 1, Timeout: Infinite, Frame: f})
		}
		f.Free()
		return Throw(boom, 99)
	}

	bFn := func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = NewFrame(&AsyncSpec{Name: "B"}, aFrame)
			bFrame = *frame
			(*frame).Destructor = func(*AsyncFrame) { order = append(order, "b") }
		}
		f := *frame
		res := cFn(&cFrame)
		if res.Tag == TagException {
			f.Free()
		}
		return res
	}

	var thrown *Thrown
	s.Add(func(frame **AsyncFrame) AsyncResult {
		if *frame == nil {
			*frame = NewFrame(&AsyncSpec{Name: "A"}, nil)
			aFrame = *frame
			(*frame).Destructor = func(*AsyncFrame) { order = append(order, "a") }
		}
		f := *frame
		res := bFn(&bFrame)
		if res.Tag == TagException {
			f.Free()
			thrown = res.Thrown
			return Complete(0)
		}
		return res
	})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	done := make(chan Tick, 1)
	go func() { done <- s.Run(ctx) }()

	require.Eventually(t, func() bool { return cFrame != nil }, time.Second, time.Millisecond)
	w.Store(1)
	s.NotifyInterrupt()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("scheduler never resumed the waiting task to deliver the throw")
	}

	require.NotNil(t, thrown)
	assert.Same(t, boom, thrown.Type)
	assert.Equal(t, uint64(99), thrown.Value)
	assert.Equal(t, []string{"c", "b", "a"}, order)
}
