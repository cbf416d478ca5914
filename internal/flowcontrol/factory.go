package flowcontrol

import (
	"sync"

	"github.com/swarmguard/dagflow/internal/otelinit"
)

// DefaultWindowMs and DefaultMaxFlowSize mirror
// FlowControlFactory::getFlowController's default arguments.
const (
	DefaultWindowMs    = 10000
	DefaultMaxFlowSize = 100
)

// Factory hands out one shared Limiter per name, creating it lazily on
// first request. Grounded on FlowControlFactory's singleton map of
// named controllers.
type Factory struct {
	mu       sync.RWMutex
	limiters map[string]*Limiter
	metrics  *otelinit.Metrics
}

// NewFactory returns an empty Factory.
func NewFactory() *Factory {
	return &Factory{limiters: make(map[string]*Limiter)}
}

// SetMetrics attaches an instrument set every Limiter created from now
// on records admit/limit counts against.
func (f *Factory) SetMetrics(m *otelinit.Metrics) {
	f.mu.Lock()
	f.metrics = m
	f.mu.Unlock()
}

// Get returns the named Limiter, creating it with windowMs/maxFlowSize
// (falling back to the package defaults when either is <= 0) if this is
// the first request for that name. Later calls for the same name ignore
// the size arguments and return the already-created limiter.
func (f *Factory) Get(name string, windowMs, maxFlowSize int64) *Limiter {
	f.mu.RLock()
	l, ok := f.limiters[name]
	f.mu.RUnlock()
	if ok {
		return l
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if l, ok := f.limiters[name]; ok {
		return l
	}
	l = NewLimiter(windowMs, maxFlowSize)
	l.SetMetrics(f.metrics)
	f.limiters[name] = l
	return l
}

// RedoFactory hands out one DelayQueue per name, each wrapping the
// matching Limiter from a Factory, so a flow-limited retry for class X
// is always checked against class X's own admission window.
type RedoFactory struct {
	limiters *Factory

	mu     sync.Mutex
	queues map[string]*DelayQueue
}

// NewRedoFactory builds a RedoFactory over limiters.
func NewRedoFactory(limiters *Factory) *RedoFactory {
	return &RedoFactory{limiters: limiters, queues: make(map[string]*DelayQueue)}
}

// Get returns name's DelayQueue, creating it (and its backing Limiter,
// via the same windowMs/maxFlowSize rules as Factory.Get) on first use.
func (rf *RedoFactory) Get(name string, windowMs, maxFlowSize int64) *DelayQueue {
	rf.mu.Lock()
	defer rf.mu.Unlock()
	if q, ok := rf.queues[name]; ok {
		return q
	}
	q := NewDelayQueue(rf.limiters.Get(name, windowMs, maxFlowSize))
	rf.queues[name] = q
	return q
}
