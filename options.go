package corokernel

import (
	"github.com/zoobzio/hookz"
	"github.com/zoobzio/metricz"
	"github.com/zoobzio/tracez"

	"github.com/joeycumines/logiface"

	"github.com/joeycumines/corokernel/internal/korelog"
)

// Option configures a Scheduler at construction time, following the same
// functional-options shape as eventloop.LoopOption.
type Option interface {
	apply(*Scheduler)
}

type optionFunc func(*Scheduler)

func (f optionFunc) apply(s *Scheduler) { f(s) }

// WithHost overrides the Scheduler's Host, e.g. to inject a fake clock in
// tests.
func WithHost(h Host) Option {
	return optionFunc(func(s *Scheduler) { s.host = h })
}

// WithLogger overrides the Scheduler's logger. The default is a disabled
// (no-op) logiface.Logger, matching how a production build would silence
// logging by level rather than by removing call sites.
func WithLogger(logger *logiface.Logger[*korelog.Event]) Option {
	return optionFunc(func(s *Scheduler) { s.logger = logger })
}

// WithMetrics overrides the Scheduler's metricz.Registry, e.g. to share one
// registry across multiple schedulers.
func WithMetrics(reg *metricz.Registry) Option {
	return optionFunc(func(s *Scheduler) { s.metrics = reg })
}

// WithTracer overrides the Scheduler's tracez.Tracer.
func WithTracer(tracer *tracez.Tracer) Option {
	return optionFunc(func(s *Scheduler) { s.tracer = tracer })
}

// WithHooks overrides the Scheduler's panic-event hook dispatcher.
func WithHooks(hooks *hookz.Hooks[PanicEvent]) Option {
	return optionFunc(func(s *Scheduler) { s.hooks = hooks })
}

// WithPreSleep registers a pre-sleep callback at construction time,
// equivalent to calling AddPreSleep immediately after New.
func WithPreSleep(fn PreSleepFunc) Option {
	return optionFunc(func(s *Scheduler) { s.preSleep = append(s.preSleep, fn) })
}
