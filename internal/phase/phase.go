package phase

import (
	"sync/atomic"

	"github.com/swarmguard/dagflow/internal/future"
)

// Processor is the one method a concrete phase implements: the actual
// work of the phase. Everything else (naming, redo bookkeeping, the
// Run/NotifyDone dance) is supplied by embedding Base.
type Processor interface {
	DoProcess(ctx ContextHandle, detail ParamDetail) Outcome
}

// Instance is what the scheduler drives: a named, runnable phase body
// exposing the notify surface needed for interrupt/redo/timeout signals
// raised from outside DoProcess.
type Instance interface {
	Processor
	SetName(name string)
	Name() string
	RedoRetryTimes() int
	Run(ctx ContextHandle, detail ParamDetail) future.Future
	SigInterrupt() Outcome
	NotifySkip() Outcome
	NotifyRedo() Outcome
	NotifyTimeout() Outcome
	// NotifyOutcome resolves the phase's future with an outcome the
	// scheduler computed itself (FlowLimited, DelayTimeout, Exception)
	// rather than one raised from inside DoProcess.
	NotifyOutcome(o Outcome) Outcome
	// Future returns the phase's future without driving a run, so the
	// scheduler can attach continuations to an outcome it assigned
	// directly via NotifyOutcome.
	Future() future.Future
}

// Base implements the non-domain-specific half of Instance. Concrete
// phase types generated against a factory embed Base and implement
// DoProcess, plus the one-line Run forwarder a generator would emit
// (see the Run doc comment below for why Run can't be inherited
// directly; SetName/Name are promoted from Base as they are).
type Base struct {
	name           string
	redoRetryTimes atomic.Int32
	promise        *future.Promise
}

func (b *Base) ensurePromise() {
	if b.promise == nil {
		b.promise = future.New(true)
	}
}

func (b *Base) SetName(name string) { b.name = name }
func (b *Base) Name() string        { return b.name }

func (b *Base) RedoRetryTimes() int { return int(b.redoRetryTimes.Load()) }

// redoReset replaces the promise with a fresh one if the previous run
// ended in Redo, so the next Run starts from a clean future.
func (b *Base) redoReset() {
	b.ensurePromise()
	if v, ok := b.promise.Future().TryValue(); ok && v == Redo {
		b.promise = future.New(true)
	}
}

// NotifyDone idempotently resolves the phase's future with ret. Calling
// it more than once is a no-op after the first.
func (b *Base) NotifyDone(ret Outcome) Outcome {
	b.ensurePromise()
	if !b.promise.Future().IsDone() {
		b.promise.SetValue(ret)
	}
	return ret
}

func (b *Base) SigInterrupt() Outcome  { return b.NotifyDone(Interrupt) }
func (b *Base) NotifySkip() Outcome    { return b.NotifyDone(Skip) }
func (b *Base) NotifyTimeout() Outcome { return b.NotifyDone(Timeout) }

// NotifyRedo bumps the retry counter before resolving the future, so a
// scheduler reading RedoRetryTimes after NotifyDone fires sees the
// updated count.
func (b *Base) NotifyRedo() Outcome {
	b.redoRetryTimes.Add(1)
	return b.NotifyDone(Redo)
}

// Run drives one execution of proc: reset any stale Redo future, invoke
// DoProcess, and return the (possibly already-resolved) future. A
// concrete phase type forwards to this from its own Run method so that
// proc is bound to the concrete type implementing DoProcess, not to
// Base — Go has no virtual dispatch from an embedded struct back up to
// the embedder, so the one-liner forward is unavoidable:
//
//	func (p *MyPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
//	        return p.Base.Run(p, ctx, d)
//	}
func (b *Base) Run(proc Processor, ctx ContextHandle, detail ParamDetail) future.Future {
	b.redoReset()
	ret := proc.DoProcess(ctx, detail)
	b.NotifyDone(ret)
	return b.futureOf()
}

func (b *Base) futureOf() future.Future {
	b.ensurePromise()
	return b.promise.Future()
}

// NotifyOutcome is the generic form of SigInterrupt/NotifySkip/etc, for
// outcomes the scheduler assigns directly without calling DoProcess.
func (b *Base) NotifyOutcome(o Outcome) Outcome { return b.NotifyDone(o) }

// Future exposes the phase's future without starting a run.
func (b *Base) Future() future.Future { return b.futureOf() }

// Factory is the engine's sole collaboration point with a phase-class
// registry: look a class up by its bare name (parameters stripped) and
// construct a fresh Instance for one node's full name. Concrete
// registries are an external collaborator to this engine, not part of
// it — see the registry package for a reference implementation.
type Factory interface {
	HasRegistered(className string) bool
	Create(fullName string) Instance
}
