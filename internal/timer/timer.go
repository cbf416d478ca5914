// Package timer implements the keyed one-shot timer service: entries
// are inserted with an id and a deadline, a background goroutine drains
// whatever has expired and runs each entry's callback on a worker pool.
package timer

import (
	"container/heap"
	"sync"
	"time"

	"github.com/swarmguard/dagflow/internal/workerpool"
)

// Callback is invoked, on the worker pool, when a timer fires.
type Callback func()

type entry struct {
	id       uint64
	deadline time.Time
	cb       Callback
	index    int
}

// timeoutHeap is a min-heap ordered by deadline, the Go equivalent of
// the reference's TIME_MAP_TYPE multimap.
type timeoutHeap []*entry

func (h timeoutHeap) Len() int            { return len(h) }
func (h timeoutHeap) Less(i, j int) bool  { return h[i].deadline.Before(h[j].deadline) }
func (h timeoutHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i]; h[i].index, h[j].index = i, j }
func (h *timeoutHeap) Push(x any)         { e := x.(*entry); e.index = len(*h); *h = append(*h, e) }
func (h *timeoutHeap) Pop() any {
	old := *h
	n := len(old)
	e := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return e
}

// Service is a running timer service. Stop it to tear down the
// background goroutine.
type Service struct {
	pool *workerpool.Pool

	mu      sync.Mutex
	byID    map[uint64]*entry
	heap    timeoutHeap
	nextID  uint64
	stopCh  chan struct{}
	wake    chan struct{}
	stopped bool
}

// New starts a Service draining fired timers onto pool.
func New(pool *workerpool.Pool) *Service {
	s := &Service{
		pool:   pool,
		byID:   make(map[uint64]*entry),
		stopCh: make(chan struct{}),
		wake:   make(chan struct{}, 1),
	}
	go s.run()
	return s
}

// Push schedules cb to run after d elapses and returns an id usable with
// Erase to cancel it before it fires.
func (s *Service) Push(d time.Duration, cb Callback) uint64 {
	s.mu.Lock()
	s.nextID++
	id := s.nextID
	e := &entry{id: id, deadline: time.Now().Add(d), cb: cb}
	s.byID[id] = e
	heap.Push(&s.heap, e)
	s.mu.Unlock()
	s.poke()
	return id
}

// Erase cancels a pending timer. Returns false if it already fired or
// was never pending.
func (s *Service) Erase(id uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.byID[id]
	if !ok {
		return false
	}
	delete(s.byID, id)
	heap.Remove(&s.heap, e.index)
	return true
}

func (s *Service) poke() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// run mirrors TimerThread::run: wait up to a fixed interval, then drain
// everything whose deadline has passed and dispatch each onto the pool.
func (s *Service) run() {
	const pollInterval = 100 * time.Millisecond
	timer := time.NewTimer(pollInterval)
	defer timer.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-s.wake:
			if !timer.Stop() {
				<-timer.C
			}
			timer.Reset(pollInterval)
		case <-timer.C:
			timer.Reset(pollInterval)
		}
		s.drainExpired()
	}
}

func (s *Service) drainExpired() {
	now := time.Now()
	var fired []*entry
	s.mu.Lock()
	for s.heap.Len() > 0 && !s.heap[0].deadline.After(now) {
		e := heap.Pop(&s.heap).(*entry)
		delete(s.byID, e.id)
		fired = append(fired, e)
	}
	s.mu.Unlock()
	for _, e := range fired {
		cb := e.cb
		s.pool.Submit(func() { cb() })
	}
}

// Stop tears down the background goroutine. Pending timers never fire.
func (s *Service) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	s.mu.Unlock()
	close(s.stopCh)
}

// Len reports the number of pending timers, for tests and metrics.
func (s *Service) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.byID)
}
