package transport

import (
	"context"
	"time"

	"github.com/kbukum/sdkrtl/logger"
)

// Signal is a cancellation handle. Done is closed once the signal fires and
// Err then reports why. context.Context satisfies Signal.
type Signal interface {
	Done() <-chan struct{}
	Err() error
}

// TimeoutSignaler is the optional platform primitive that builds a signal
// firing after d. The returned func releases its timer.
type TimeoutSignaler interface {
	TimeoutSignal(d time.Duration) (Signal, func())
}

// SignalCombiner is the optional platform primitive that builds a signal
// firing when any of signals fires. The returned func releases it.
type SignalCombiner interface {
	AnySignal(signals ...Signal) (Signal, func())
}

// SignalSupport is the result of probing a platform for signal primitives.
type SignalSupport int

const (
	// SignalUnsupported means no timeout primitive: no signal is attached and
	// the backend enforces the timeout itself.
	SignalUnsupported SignalSupport = iota
	// SignalTimeoutOnly means timeouts work but caller signals cannot be combined.
	SignalTimeoutOnly
	// SignalCombined means both primitives are available.
	SignalCombined
)

// String returns the support level name.
func (s SignalSupport) String() string {
	switch s {
	case SignalUnsupported:
		return "unsupported"
	case SignalTimeoutOnly:
		return "timeout-only"
	case SignalCombined:
		return "combined"
	default:
		return "unknown"
	}
}

// ProbeSignals inspects platform for the optional signal primitives.
func ProbeSignals(platform any) SignalSupport {
	if _, ok := platform.(TimeoutSignaler); !ok {
		return SignalUnsupported
	}
	if _, ok := platform.(SignalCombiner); !ok {
		return SignalTimeoutOnly
	}
	return SignalCombined
}

// SignalComposer derives one effective signal per request. The platform is
// probed once, at construction.
type SignalComposer struct {
	support  SignalSupport
	timeouts TimeoutSignaler
	combiner SignalCombiner
	log      *logger.Logger
}

// NewSignalComposer probes platform and returns a composer for it.
// A nil log uses the global logger.
func NewSignalComposer(platform any, log *logger.Logger) *SignalComposer {
	if log == nil {
		log = logger.GetGlobalLogger()
	}
	c := &SignalComposer{
		support: ProbeSignals(platform),
		log:     log.WithComponent("transport.signal"),
	}
	c.timeouts, _ = platform.(TimeoutSignaler)
	c.combiner, _ = platform.(SignalCombiner)
	return c
}

// Support returns the probed support level.
func (c *SignalComposer) Support() SignalSupport {
	return c.support
}

// Compose returns the effective signal for a request with the given caller
// signal (may be nil) and timeout, plus a func releasing it. The signal is
// nil when the platform has no timeout primitive. Missing primitives are
// reported as debug diagnostics and never fail the request.
func (c *SignalComposer) Compose(caller Signal, timeout time.Duration) (Signal, func()) {
	if c.support == SignalUnsupported {
		c.log.Debug("timeout signal is not available; timeout is left to the backend",
			logger.Fields(logger.FieldTimeout, timeout.Seconds(), logger.FieldSupport, c.support.String()))
		return nil, noop
	}

	timeoutSignal, stopTimeout := c.timeouts.TimeoutSignal(timeout)
	if caller == nil {
		return timeoutSignal, stopTimeout
	}

	if c.support != SignalCombined {
		c.log.Debug("cannot combine caller signal and timeout; caller cancellation is ignored",
			logger.Fields(logger.FieldTimeout, timeout.Seconds(), logger.FieldSupport, c.support.String()))
		return timeoutSignal, stopTimeout
	}

	combined, stopCombined := c.combiner.AnySignal(caller, timeoutSignal)
	return combined, func() {
		stopCombined()
		stopTimeout()
	}
}

func noop() {}

// ContextSignals is the default platform, built on package context. It
// provides both primitives.
type ContextSignals struct{}

// TimeoutSignal implements TimeoutSignaler.
func (ContextSignals) TimeoutSignal(d time.Duration) (Signal, func()) {
	ctx, cancel := context.WithTimeout(context.Background(), d)
	return ctx, cancel
}

// AnySignal implements SignalCombiner. The combined signal's Err reports
// the cause of whichever input fired first.
func (ContextSignals) AnySignal(signals ...Signal) (Signal, func()) {
	ctx, cancel := context.WithCancelCause(context.Background())
	combined := causeSignal{ctx: ctx}

	var stops []func() bool
	release := func() {
		for _, stop := range stops {
			stop()
		}
		cancel(context.Canceled)
	}

	for _, s := range signals {
		if s == nil {
			continue
		}
		select {
		case <-s.Done():
			cancel(signalCause(s))
			return combined, release
		default:
		}

		if sctx, ok := s.(context.Context); ok {
			stops = append(stops, context.AfterFunc(sctx, func() {
				cancel(context.Cause(sctx))
			}))
			continue
		}
		go func(s Signal) {
			select {
			case <-s.Done():
				cancel(signalCause(s))
			case <-ctx.Done():
			}
		}(s)
	}
	return combined, release
}

// causeSignal reports the cancellation cause instead of context.Canceled.
type causeSignal struct {
	ctx context.Context
}

func (s causeSignal) Done() <-chan struct{} { return s.ctx.Done() }

func (s causeSignal) Err() error {
	if s.ctx.Err() == nil {
		return nil
	}
	return context.Cause(s.ctx)
}

func signalCause(s Signal) error {
	if ctx, ok := s.(context.Context); ok {
		return context.Cause(ctx)
	}
	if err := s.Err(); err != nil {
		return err
	}
	return context.Canceled
}

// SignalContext derives a context from parent that is also canceled when sig
// fires. A nil sig yields a plain cancelable child of parent. The returned
// func must be called to release resources.
func SignalContext(parent context.Context, sig Signal) (context.Context, context.CancelFunc) {
	if sig == nil {
		return context.WithCancel(parent)
	}
	ctx, cancel := context.WithCancelCause(parent)
	select {
	case <-sig.Done():
		cancel(signalCause(sig))
		return ctx, func() { cancel(context.Canceled) }
	default:
	}

	if sctx, ok := sig.(context.Context); ok {
		stop := context.AfterFunc(sctx, func() { cancel(context.Cause(sctx)) })
		return ctx, func() {
			stop()
			cancel(context.Canceled)
		}
	}

	go func() {
		select {
		case <-sig.Done():
			cancel(signalCause(sig))
		case <-ctx.Done():
		}
	}()
	return ctx, func() { cancel(context.Canceled) }
}
