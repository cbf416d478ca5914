// Package flowcontrol implements the sliding-window admission counter
// and the delayed-resubmit queue phases hit when they're rate limited.
package flowcontrol

import (
	"context"
	"sync"
	"time"

	"github.com/swarmguard/dagflow/internal/otelinit"
)

// windowArraySize is the circular bucket count, one bucket per
// millisecond of window history kept at once.
const windowArraySize = 10000

type bucket struct {
	counter    int64
	accessTime int64 // unix ms this bucket was last touched
}

// SlidingWindowCounter is a fixed-size circular array of millisecond
// buckets used to admit or reject requests against a per-window cap.
// Not safe for concurrent use; callers serialize access (Limiter does).
type SlidingWindowCounter struct {
	windowSizeMs int64
	maxFlowSize  int64

	arr         []bucket
	started     bool
	windowStart int // index
	windowEnd   int // index
	cursor      int // index of the most recently touched bucket
	total       int64
}

// NewSlidingWindowCounter builds a counter admitting up to maxFlowSize
// events per windowSizeMs milliseconds.
func NewSlidingWindowCounter(windowSizeMs, maxFlowSize int64) *SlidingWindowCounter {
	return &SlidingWindowCounter{
		windowSizeMs: windowSizeMs,
		maxFlowSize:  maxFlowSize,
		arr:          make([]bucket, windowArraySize),
	}
}

// Inc reports whether one more event is admitted under the current
// window, recording it if so. nowMs is the caller-supplied current time
// in unix milliseconds.
func (c *SlidingWindowCounter) Inc(nowMs int64) bool {
	idx := int(nowMs % windowArraySize)

	if !c.started || nowMs >= c.arr[c.cursor].accessTime+c.windowSizeMs {
		c.resetWindow(idx, nowMs)
		return true
	}

	if nowMs > c.arr[c.windowEnd].accessTime {
		c.slide(nowMs)
	}

	if c.total+1 > c.maxFlowSize {
		return false
	}

	c.arr[idx].counter++
	c.arr[idx].accessTime = nowMs
	c.cursor = idx
	c.windowEnd = idx
	c.total++
	return true
}

func (c *SlidingWindowCounter) resetWindow(idx int, nowMs int64) {
	for i := range c.arr {
		c.arr[i] = bucket{}
	}
	c.arr[idx] = bucket{counter: 1, accessTime: nowMs}
	c.windowStart = idx
	c.windowEnd = idx
	c.cursor = idx
	c.total = 1
	c.started = true
}

// slide advances windowStart past every bucket whose accessTime has
// aged out of the window, subtracting their counts from the running
// total.
func (c *SlidingWindowCounter) slide(nowMs int64) {
	for c.windowStart != c.windowEnd {
		b := &c.arr[c.windowStart]
		if b.accessTime != 0 && nowMs-b.accessTime < c.windowSizeMs {
			break
		}
		c.total -= b.counter
		*b = bucket{}
		c.windowStart = (c.windowStart + 1) % windowArraySize
	}
}

// Limiter wraps a SlidingWindowCounter with its own lock and clock
// source, matching the FlowController::rateLimited() surface phases
// call directly.
type Limiter struct {
	mu      sync.Mutex
	counter *SlidingWindowCounter
	now     func() time.Time
	metrics *otelinit.Metrics
}

// SetMetrics attaches an instrument set Allow records admit/limit
// counts against. Optional; nil (the default) disables recording.
func (l *Limiter) SetMetrics(m *otelinit.Metrics) {
	l.mu.Lock()
	l.metrics = m
	l.mu.Unlock()
}

// NewLimiter builds a Limiter admitting up to maxFlowSize events per
// window (default 10000ms / 100, matching getFlowController's
// defaults, when windowMs or maxFlowSize are zero).
func NewLimiter(windowMs, maxFlowSize int64) *Limiter {
	if windowMs <= 0 {
		windowMs = 10000
	}
	if maxFlowSize <= 0 {
		maxFlowSize = 100
	}
	return &Limiter{
		counter: NewSlidingWindowCounter(windowMs, maxFlowSize),
		now:     time.Now,
	}
}

// Allow reports whether the caller may proceed right now.
func (l *Limiter) Allow() bool {
	l.mu.Lock()
	admitted := l.counter.Inc(l.now().UnixMilli())
	m := l.metrics
	l.mu.Unlock()
	if m != nil {
		if admitted && m.FlowAdmittedTotal != nil {
			m.FlowAdmittedTotal.Add(context.Background(), 1)
		} else if !admitted && m.FlowLimitedTotal != nil {
			m.FlowLimitedTotal.Add(context.Background(), 1)
		}
	}
	return admitted
}
