// Package future implements the one-shot Promise/Future primitive the
// scheduler composes phase outcomes with. A Promise is set exactly once;
// a Future's Then callback fires exactly once, whether it is registered
// before or after the value lands.
package future

import (
	"context"
	"sync"
	"sync/atomic"
)

// state is the shared cell behind a Promise/Future pair.
type state struct {
	mu          sync.Mutex
	hasValue    atomic.Bool
	fired       atomic.Bool
	value       int
	cb          func(Future)
	fastForward bool
	waitCh      chan struct{} // nil in fast-forward mode
}

// Promise is the write side of a one-shot int cell.
type Promise struct {
	s *state
}

// Future is the read side: queries and a single continuation slot.
type Future struct {
	s *state
}

// New creates a Promise. fastForward elides the blocking wait channel;
// use it when nothing ever calls Future.Wait, which is the scheduler's
// only usage pattern (it drives everything through Then).
func New(fastForward bool) *Promise {
	s := &state{fastForward: fastForward}
	if !fastForward {
		s.waitCh = make(chan struct{})
	}
	return &Promise{s: s}
}

// Future returns the read side of this promise.
func (p *Promise) Future() Future { return Future{s: p.s} }

// SetValue stores v and fires the Then callback if one was registered.
// A second call is a no-op.
func (p *Promise) SetValue(v int) {
	s := p.s
	s.mu.Lock()
	if s.hasValue.Load() {
		s.mu.Unlock()
		return
	}
	s.value = v
	s.hasValue.Store(true)
	s.mu.Unlock()
	if s.waitCh != nil {
		close(s.waitCh)
	}
	s.execCallback()
}

// execCallback fires the registered continuation exactly once, only
// once both a value and a callback are present, and absorbs any panic
// from inside the callback.
func (s *state) execCallback() {
	s.mu.Lock()
	var cb func(Future)
	if !s.fired.Load() && s.cb != nil && s.hasValue.Load() {
		s.fired.Store(true)
		cb = s.cb
		s.cb = nil
	}
	s.mu.Unlock()
	if cb == nil {
		return
	}
	func() {
		defer func() { _ = recover() }()
		cb(Future{s: s})
	}()
}

// Then registers a continuation. If the value is already present it
// runs inline, synchronously, before Then returns.
func (f Future) Then(cb func(Future)) {
	s := f.s
	s.mu.Lock()
	s.cb = cb
	s.mu.Unlock()
	if s.hasValue.Load() {
		s.execCallback()
	}
}

// IsDone reports whether SetValue has been called.
func (f Future) IsDone() bool { return f.s.hasValue.Load() }

// Value returns the stored value, or zero if not yet set.
func (f Future) Value() int {
	s := f.s
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value
}

// TryValue returns the stored value and true, or false if not yet set.
func (f Future) TryValue() (int, bool) {
	s := f.s
	if !s.hasValue.Load() {
		return 0, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.value, true
}

// Wait blocks until the value is set or ctx is done. Only valid on a
// Future created from a non-fast-forward Promise; fast-forward futures
// return immediately with whatever TryValue reports.
func (f Future) Wait(ctx context.Context) (int, error) {
	s := f.s
	if s.waitCh == nil {
		v, _ := f.TryValue()
		return v, nil
	}
	select {
	case <-s.waitCh:
		return f.Value(), nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Valid reports whether this Future is bound to a Promise.
func (f Future) Valid() bool { return f.s != nil }
