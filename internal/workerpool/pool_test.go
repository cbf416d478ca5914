package workerpool

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

func TestNewFloorsWorkerCount(t *testing.T) {
	p := New(1, 0)
	defer p.Stop()
	// no direct accessor for worker count; exercise it indirectly by
	// submitting MinWorkers jobs that each wait for all the others, which
	// only completes if MinWorkers workers run them at the same time.
	var n atomic.Int32
	var wg sync.WaitGroup
	wg.Add(MinWorkers)
	for i := 0; i < MinWorkers; i++ {
		p.Submit(func() { n.Add(1); wg.Done(); wg.Wait() })
	}
	wg.Wait()
	if n.Load() != MinWorkers {
		t.Fatalf("expected %d jobs run, got %d", MinWorkers, n.Load())
	}
}

func TestSubmitRunsJob(t *testing.T) {
	p := New(4, 0)
	defer p.Stop()
	done := make(chan struct{})
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("job never ran")
	}
}

func TestSubmitRecoversPanic(t *testing.T) {
	p := New(4, 0)
	defer p.Stop()
	done := make(chan struct{})
	p.Submit(func() { panic("boom") })
	p.Submit(func() { close(done) })
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("pool stalled after panicking job")
	}
}

func TestStopDrainsWaitGroup(t *testing.T) {
	p := New(4, 0)
	var ran atomic.Bool
	p.Submit(func() { time.Sleep(10 * time.Millisecond); ran.Store(true) })
	p.Stop()
	if !ran.Load() {
		t.Fatal("expected in-flight job to finish before Stop returns")
	}
}

func TestSubmitAfterStopNoOp(t *testing.T) {
	p := New(4, 0)
	p.Stop()
	done := make(chan struct{})
	go func() {
		p.Submit(func() {})
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Submit after Stop should return, not block forever")
	}
}

func TestEmptyReportsQueueState(t *testing.T) {
	p := New(4, 0)
	defer p.Stop()
	if !p.Empty() {
		t.Fatal("expected empty pool at start")
	}
}
