// Package workerpool implements the bounded job queue the scheduler
// dispatches phase executions onto: a fixed set of worker goroutines
// draining a FIFO queue, each job run inside a panic-recovering wrapper.
package workerpool

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/swarmguard/dagflow/internal/otelinit"
)

// MinWorkers is the floor the reference scheduler thread pool enforces
// on its configured worker count.
const MinWorkers = 4

// Job is one unit of work submitted to the pool.
type Job func()

// Pool is a fixed-size worker pool fed by a bounded FIFO queue.
type Pool struct {
	mu       sync.Mutex
	cond     *sync.Cond
	queue    []Job
	capacity int
	stopped  bool
	metrics  *otelinit.Metrics

	wg sync.WaitGroup
}

// SetMetrics attaches an instrument set Submit/popWait record queue
// depth against. Optional; nil (the default) disables recording.
func (p *Pool) SetMetrics(m *otelinit.Metrics) {
	p.mu.Lock()
	p.metrics = m
	p.mu.Unlock()
}

// New starts a Pool with the given worker count (floored at MinWorkers)
// and queue capacity (0 means unbounded).
func New(workers, capacity int) *Pool {
	if workers < MinWorkers {
		workers = MinWorkers
	}
	p := &Pool{capacity: capacity}
	p.cond = sync.NewCond(&p.mu)
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.runWorker()
	}
	return p
}

// Submit enqueues job for execution. It blocks if the queue is at
// capacity. Submitting after Stop is a no-op.
func (p *Pool) Submit(job Job) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for p.capacity > 0 && len(p.queue) >= p.capacity && !p.stopped {
		p.cond.Wait()
	}
	if p.stopped {
		return
	}
	p.queue = append(p.queue, job)
	p.cond.Broadcast()
	if p.metrics != nil && p.metrics.WorkerPoolQueueDepth != nil {
		p.metrics.WorkerPoolQueueDepth.Add(context.Background(), 1)
	}
}

// Empty reports whether the queue currently holds no pending jobs.
func (p *Pool) Empty() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.queue) == 0
}

// popWait pops the head of the queue, waiting up to waitFor if empty.
// Mirrors the reference thread's bounded-wait Get(jc, 50ms) call.
func (p *Pool) popWait(waitFor time.Duration) (Job, bool) {
	deadline := time.Now().Add(waitFor)
	p.mu.Lock()
	defer p.mu.Unlock()
	for len(p.queue) == 0 && !p.stopped {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return nil, false
		}
		p.waitTimeout(remaining)
	}
	if len(p.queue) == 0 {
		return nil, false
	}
	job := p.queue[0]
	p.queue = p.queue[1:]
	p.cond.Broadcast()
	if p.metrics != nil && p.metrics.WorkerPoolQueueDepth != nil {
		p.metrics.WorkerPoolQueueDepth.Add(context.Background(), -1)
	}
	return job, true
}

// waitTimeout performs a bounded cond.Wait by arranging a timer to wake
// every waiter after d: sync.Cond has no native timed wait.
func (p *Pool) waitTimeout(d time.Duration) {
	timer := time.AfterFunc(d, func() {
		p.mu.Lock()
		p.cond.Broadcast()
		p.mu.Unlock()
	})
	defer timer.Stop()
	p.cond.Wait()
}

func (p *Pool) runWorker() {
	defer p.wg.Done()
	for {
		job, ok := p.popWait(50 * time.Millisecond)
		if !ok {
			if p.isStopped() {
				return
			}
			continue
		}
		runJob(job)
	}
}

func (p *Pool) isStopped() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.stopped
}

// runJob executes job, recovering and logging any panic so one bad job
// never takes a worker goroutine down.
func runJob(job Job) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error("workerpool job panicked", "panic", r)
		}
	}()
	job()
}

// Stop signals every worker to exit once its current job (if any)
// finishes, and waits for them all to return.
func (p *Pool) Stop() {
	p.mu.Lock()
	p.stopped = true
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}
