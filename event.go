package corokernel

import (
	"context"
	"time"

	"github.com/zoobzio/hookz"
)

// EventTable is a typed, process-wide topic dispatcher: the Go counterpart
// of kernel::_EventTable, minus the C++ original's owner-pointer bookkeeping
// (Go's garbage collector and closures make RemoveHandlers(owner) and
// DynamicEventTarget's destructor-time unregistration unnecessary). It is a
// thin wrapper over hookz.Hooks[T], following the same Register/Fire/Close
// shape every connector in zoobzio/pipz builds around its own hooks field.
type EventTable[T any] struct {
	hooks *hookz.Hooks[T]
	key   hookz.Key
}

// NewEventTable returns an EventTable dispatching events of type T under the
// given topic key.
func NewEventTable[T any](key hookz.Key) *EventTable[T] {
	return &EventTable[T]{hooks: hookz.New[T](), key: key}
}

// Register adds handler for this table's topic.
func (t *EventTable[T]) Register(handler func(context.Context, T) error) error {
	_, err := t.hooks.Hook(t.key, handler)
	return err
}

// Fire dispatches evt to every registered handler, skipping the call
// entirely (and the allocation Emit would otherwise do) when nothing is
// listening.
func (t *EventTable[T]) Fire(ctx context.Context, evt T) error {
	if t.hooks.ListenerCount(t.key) == 0 {
		return nil
	}
	return t.hooks.Emit(ctx, t.key, evt)
}

// Close releases the table's handlers, mirroring the teardown every pipz
// connector performs on its own hooks field.
func (t *EventTable[T]) Close() { t.hooks.Close() }

// TaskLifecycleEvent describes a task entering or leaving the scheduler's
// active set, supplementing the panic-only hook every Scheduler carries by
// default with the broader start/stop visibility kernel::Events gives
// higher-level C++ code (e.g. watchdog or power-management logic hooking
// task start/stop).
type TaskLifecycleEvent struct {
	Task      *Task
	Phase     TaskPhase
	Value     uint64 // valid only when Phase == TaskCompleted
	Timestamp time.Time
}

// TaskPhase identifies which lifecycle transition a TaskLifecycleEvent
// reports.
type TaskPhase uint8

const (
	TaskStarted TaskPhase = iota
	TaskCompleted
)

const lifecycleKey = hookz.Key("scheduler.task.lifecycle")

// OnTaskLifecycle registers handler against the scheduler's task lifecycle
// table, lazily creating it on first use so schedulers that never observe
// lifecycle events pay nothing for it.
func (s *Scheduler) OnTaskLifecycle(handler func(context.Context, TaskLifecycleEvent) error) error {
	if s.lifecycle == nil {
		s.lifecycle = NewEventTable[TaskLifecycleEvent](lifecycleKey)
	}
	return s.lifecycle.Register(handler)
}

func (s *Scheduler) fireLifecycle(evt TaskLifecycleEvent) {
	if s.lifecycle == nil {
		return
	}
	_ = s.lifecycle.Fire(context.Background(), evt)
}
