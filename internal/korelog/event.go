// Package korelog adapts the scheduler and pipe to structured logging via
// logiface, following the Event/Logger pattern used by
// github.com/joeycumines/logiface/stumpy.
package korelog

import (
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/joeycumines/logiface"
)

// Field is a single structured log field, in the order it was added.
type Field struct {
	Key string
	Val any
}

// Event is the minimal logiface.Event implementation used by corokernel.
// Unlike stumpy it doesn't pre-encode JSON on the fly; it buffers fields and
// lets the configured Writer decide how to render them, which keeps the
// hot path allocation-free for the common case of a disabled logger.
type Event struct {
	logiface.UnimplementedEvent

	level   logiface.Level
	msg     string
	err     error
	fields  []Field
	fieldsA [8]Field // inline storage to avoid a slice alloc in the common case
}

var eventPool = sync.Pool{New: func() any { return new(Event) }}

// NewEvent implements logiface.EventFactory.
func NewEvent(level logiface.Level) *Event {
	e := eventPool.Get().(*Event)
	e.level = level
	e.msg = ""
	e.err = nil
	e.fields = e.fieldsA[:0]
	return e
}

// ReleaseEvent implements logiface.EventReleaser, returning the event to the pool.
func ReleaseEvent(e *Event) {
	eventPool.Put(e)
}

func (e *Event) Level() logiface.Level { return e.level }

func (e *Event) AddField(key string, val any) {
	e.fields = append(e.fields, Field{Key: key, Val: val})
}

func (e *Event) AddMessage(msg string) bool {
	e.msg = msg
	return true
}

func (e *Event) AddError(err error) bool {
	e.err = err
	return true
}

func (e *Event) AddString(key string, val string) bool {
	e.AddField(key, val)
	return true
}

func (e *Event) AddInt(key string, val int) bool {
	e.AddField(key, val)
	return true
}

func (e *Event) AddDuration(key string, val time.Duration) bool {
	e.AddField(key, val)
	return true
}

// Fields returns the fields accumulated on this event, in insertion order.
func (e *Event) Fields() []Field { return e.fields }

// Message returns the event's message, if any.
func (e *Event) Message() string { return e.msg }

// Err returns the event's error, if any.
func (e *Event) Err() error { return e.err }

// LineWriter is a logiface.Writer that renders events as one text line per
// entry, in the style of the teacher's DefaultLogger (eventloop/logging.go),
// but implemented as a logiface.Writer rather than a bespoke interface.
type LineWriter struct {
	mu  sync.Mutex
	out io.Writer
}

// NewLineWriter returns a LineWriter that writes to out.
func NewLineWriter(out io.Writer) *LineWriter {
	return &LineWriter{out: out}
}

func (w *LineWriter) Write(e *Event) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, err := fmt.Fprintf(w.out, "%s %s%s%s\n", time.Now().UTC().Format(time.RFC3339Nano), levelString(e.level), e.msg, formatFields(e.fields))
	return err
}

func formatFields(fields []Field) string {
	if len(fields) == 0 {
		return ""
	}
	s := ""
	for _, f := range fields {
		s += fmt.Sprintf(" %s=%v", f.Key, f.Val)
	}
	return s
}

func levelString(l logiface.Level) string {
	switch {
	case l <= logiface.LevelError:
		return "ERROR "
	case l <= logiface.LevelWarning:
		return "WARN "
	case l <= logiface.LevelNotice:
		return "NOTICE "
	case l <= logiface.LevelInformational:
		return "INFO "
	default:
		return "DEBUG "
	}
}

// New builds a ready-to-use *logiface.Logger[*Event] writing lines to out at
// the given minimum level, following eventloop's NewDefaultLogger.
func New(out io.Writer, level logiface.Level) *logiface.Logger[*Event] {
	return logiface.New[*Event](
		logiface.WithLevel[*Event](level),
		logiface.WithEventFactory[*Event](logiface.NewEventFactoryFunc(NewEvent)),
		logiface.WithEventReleaser[*Event](logiface.NewEventReleaserFunc(ReleaseEvent)),
		logiface.WithWriter[*Event](NewLineWriter(out)),
	)
}

// NewNoOp builds a logger with logging disabled, matching eventloop's
// NewNoOpLogger default.
func NewNoOp() *logiface.Logger[*Event] {
	return logiface.New[*Event](
		logiface.WithLevel[*Event](logiface.LevelDisabled),
		logiface.WithEventFactory[*Event](logiface.NewEventFactoryFunc(NewEvent)),
		logiface.WithEventReleaser[*Event](logiface.NewEventReleaserFunc(ReleaseEvent)),
	)
}
