package flowcontrol

import (
	"math/rand"
	"sync"
	"time"
)

const (
	baseSleep = 1 * time.Millisecond
	maxSleep  = 20 * time.Millisecond
	growth    = 3
)

// DelayItem is one job waiting for rate-limit admission.
type DelayItem struct {
	submitTime time.Time
	timeout    time.Duration
	run        func()
	onTimeout  func()
}

// DelayQueue resubmits items against a Limiter with exponential
// backoff, dropping any item whose timeout elapses first. Grounded on
// FlowController::backgroundRedo: sleep starts at baseSleep, triples up
// to maxSleep on every pass following a limited outcome (an empty
// queue or a rejected Allow), and a random jitter in [baseSleep,
// sleepMs] is applied before each such retry.
type DelayQueue struct {
	limiter *Limiter

	mu      sync.Mutex
	items   []*DelayItem
	stopCh  chan struct{}
	started bool
}

// NewDelayQueue builds a DelayQueue that re-checks limiter for
// admission.
func NewDelayQueue(limiter *Limiter) *DelayQueue {
	return &DelayQueue{limiter: limiter, stopCh: make(chan struct{})}
}

// Push enqueues run to be retried against the limiter until either it
// is admitted or timeout elapses, in which case onTimeout runs instead.
// Starts the background worker lazily, on first use.
func (q *DelayQueue) Push(run func(), timeout time.Duration, onTimeout func()) {
	q.mu.Lock()
	q.items = append(q.items, &DelayItem{
		submitTime: time.Now(),
		timeout:    timeout,
		run:        run,
		onTimeout:  onTimeout,
	})
	started := q.started
	q.started = true
	q.mu.Unlock()
	if !started {
		go q.backgroundRedo()
	}
}

func (q *DelayQueue) backgroundRedo() {
	sleep := baseSleep
	limited := true
	for {
		select {
		case <-q.stopCh:
			return
		default:
		}

		if limited {
			sleep *= growth
			if sleep > maxSleep {
				sleep = maxSleep
			}
			jitter := baseSleep + time.Duration(rand.Int63n(int64(sleep-baseSleep+1)))
			time.Sleep(jitter)
		}

		item := q.pop()
		if item == nil {
			limited = true
			continue
		}

		if time.Since(item.submitTime) > item.timeout {
			limited = false
			if item.onTimeout != nil {
				item.onTimeout()
			}
			continue
		}

		if q.limiter.Allow() {
			limited = false
			item.run()
			continue
		}
		limited = true
		q.pushBack(item)
	}
}

func (q *DelayQueue) pop() *DelayItem {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return nil
	}
	item := q.items[0]
	q.items = q.items[1:]
	return item
}

func (q *DelayQueue) pushBack(item *DelayItem) {
	q.mu.Lock()
	q.items = append(q.items, item)
	q.mu.Unlock()
}

// Stop tears down the background retry goroutine. Pending items are
// abandoned without running onTimeout.
func (q *DelayQueue) Stop() {
	close(q.stopCh)
}
