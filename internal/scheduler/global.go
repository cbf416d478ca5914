package scheduler

import (
	"sync"

	"github.com/swarmguard/dagflow/internal/otelinit"
	"github.com/swarmguard/dagflow/internal/timer"
	"github.com/swarmguard/dagflow/internal/workerpool"
)

var (
	globalMu     sync.Mutex
	globalPool   *workerpool.Pool
	globalTimer  *timer.Service
	globalInited bool
)

// GlobalInit starts the process-wide worker pool and timer service that
// every Scheduler built with EnableThreadPool/EnableTimer shares. Safe
// to call more than once; later calls are no-ops until GlobalDestroy
// runs. metrics may be nil.
func GlobalInit(workers, queueCapacity int, metrics *otelinit.Metrics) {
	globalMu.Lock()
	defer globalMu.Unlock()
	if globalInited {
		return
	}
	globalPool = workerpool.New(workers, queueCapacity)
	globalPool.SetMetrics(metrics)
	globalTimer = timer.New(globalPool)
	globalInited = true
}

// GlobalDestroy stops the shared pool and timer service. Schedulers
// still holding a reference to them will fail to dispatch further work.
func GlobalDestroy() {
	globalMu.Lock()
	defer globalMu.Unlock()
	if !globalInited {
		return
	}
	globalTimer.Stop()
	globalPool.Stop()
	globalInited = false
}

func sharedPool() (*workerpool.Pool, *timer.Service, bool) {
	globalMu.Lock()
	defer globalMu.Unlock()
	return globalPool, globalTimer, globalInited
}
