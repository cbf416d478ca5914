// Package scheduler drives a DAG of phases to completion: it dispatches
// each ready node's phase body, reacts to the outcome it finishes with,
// and pops the DAG forward to the next ready frontier until the
// synthetic end node is reached.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/swarmguard/dagflow/internal/dag"
	"github.com/swarmguard/dagflow/internal/flowcontrol"
	"github.com/swarmguard/dagflow/internal/future"
	"github.com/swarmguard/dagflow/internal/phase"
	"github.com/swarmguard/dagflow/internal/timer"
	"github.com/swarmguard/dagflow/internal/workerpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Scheduler is either a template (built, never started — CopyFrom
// source) or a session (cloned from a template via CopyFrom, then
// Start'd exactly once).
type Scheduler struct {
	factory phase.Factory
	option  Option
	dagG    *dag.DAG
	built   bool

	pool  *workerpool.Pool
	timer *timer.Service

	// Session-only state, populated by Start.
	started   atomic.Bool
	ctxHandle phase.ContextHandle
	instances map[uint32]phase.Instance
	instMu    sync.RWMutex
	outcomes  sync.Map // nodeID uint32 -> phase.Outcome
	done      *future.Promise
	stats     *statRecorder
	lastStat  atomic.Value
}

// New returns an unbuilt Scheduler. Call BuildDAG before Start or
// CopyFrom.
func New() *Scheduler {
	return &Scheduler{}
}

// BuildDAG ingests edges/standalone nodes/alias map, validates every
// node's full name against factory, and records factory/option for this
// template. It is only valid to call once per Scheduler.
func (s *Scheduler) BuildDAG(links []dag.Edge, singles []string, aliasMap map[string]string, factory phase.Factory, option Option) error {
	if s.built {
		return newError(ErrAlreadyBuilt, "scheduler already built")
	}
	buildStart := time.Now()
	d := dag.New()
	if err := d.AddNodeLinks(links, singles, aliasMap); err != nil {
		return err
	}
	if err := d.Init(func(fullName string) bool {
		return factory.HasRegistered(phase.StripParams(fullName))
	}); err != nil {
		return err
	}
	if option.Metrics != nil && option.Metrics.DAGBuildDuration != nil {
		option.Metrics.DAGBuildDuration.Record(context.Background(), float64(time.Since(buildStart).Milliseconds()))
	}
	s.dagG = d
	s.factory = factory
	s.option = option
	if option.EnableThreadPool || option.EnableTimer || option.EnableTimeout {
		if pool, tsvc, ok := sharedPool(); ok {
			s.pool = pool
			s.timer = tsvc
		}
	}
	s.built = true
	return nil
}

// CopyFrom clones a built template into s, ready for exactly one Start.
func (s *Scheduler) CopyFrom(source *Scheduler) error {
	if !source.built {
		return newError(ErrCopySourceNotBuilt, "source scheduler has not been built")
	}
	d := dag.New()
	if err := d.CopyFrom(source.dagG); err != nil {
		return err
	}
	s.dagG = d
	s.factory = source.factory
	s.option = source.option
	s.pool = source.pool
	s.timer = source.timer
	s.built = true
	return nil
}

// Start materializes one phase Instance per node and kicks off
// scheduling from the synthetic start node's children. It returns the
// session-completion future immediately; session-done is reported
// through the returned Future, not by blocking Start itself. Valid to
// call exactly once per Scheduler.
func (s *Scheduler) Start(ctx context.Context, ch phase.ContextHandle, logHead string) (future.Future, error) {
	if !s.built {
		return future.Future{}, newError(ErrNotBuilt, "scheduler has not been built")
	}
	if !s.started.CompareAndSwap(false, true) {
		return future.Future{}, newError(ErrAlreadyStarted, "scheduler session already started")
	}
	s.ctxHandle = ch
	s.instances = make(map[uint32]phase.Instance)
	s.done = future.New(false)
	if s.option.EnableStatis {
		s.stats = newStatRecorder(logHead)
	}

	if err := s.dagG.TraverseAction(func(n *dag.Node) error {
		if n.Name() == dag.StartNodeName || n.Name() == dag.EndNodeName {
			return nil
		}
		inst := s.factory.Create(n.FullName())
		inst.SetName(n.Name())
		s.instMu.Lock()
		s.instances[n.ID()] = inst
		s.instMu.Unlock()
		return nil
	}); err != nil {
		return future.Future{}, err
	}

	ready, err := s.dagG.Pop(s.dagG.GetStartNode())
	if err != nil {
		return future.Future{}, err
	}
	s.schedule(ready)
	return s.done.Future(), nil
}

// Wait blocks on session completion (outer error only reflects ctx
// cancellation, never a phase outcome).
func (s *Scheduler) Wait(ctx context.Context) (phase.Outcome, error) {
	v, err := s.done.Future().Wait(ctx)
	return v, err
}

func (s *Scheduler) instance(node *dag.Node) phase.Instance {
	s.instMu.RLock()
	defer s.instMu.RUnlock()
	return s.instances[node.ID()]
}

func (s *Scheduler) outcomeOf(node *dag.Node) (phase.Outcome, bool) {
	v, ok := s.outcomes.Load(node.ID())
	if !ok {
		return 0, false
	}
	return v.(phase.Outcome), true
}

// schedule dispatches every ready node, finalizing the session the
// moment the synthetic end node appears in a ready batch (which only
// happens once every one of its parents has finished).
func (s *Scheduler) schedule(nodes []*dag.Node) {
	for _, n := range nodes {
		if n.ID() == s.dagG.GetEndNode().ID() {
			s.finalize()
			continue
		}
		s.dispatch(n)
	}
}

func (s *Scheduler) dispatch(n *dag.Node) {
	if s.option.EnableThreadPool && s.pool != nil {
		s.pool.Submit(func() { s.runPhaseJob(n) })
		return
	}
	s.runPhaseJobThin(n)
}

// runPhaseJob runs a node's phase body on the worker pool.
func (s *Scheduler) runPhaseJob(n *dag.Node) { s.runPhase(n) }

// runPhaseJobThin runs a node's phase body inline, on the calling
// goroutine (a scheduling callback, or the goroutine that called
// Start).
func (s *Scheduler) runPhaseJobThin(n *dag.Node) { s.runPhase(n) }

func (s *Scheduler) runPhase(n *dag.Node) {
	inst := s.instance(n)
	start := time.Now()

	fut := s.beginRun(n, inst)
	fut.Then(func(f future.Future) {
		ret := f.Value()
		elapsed := time.Since(start)
		s.outcomes.Store(n.ID(), phase.Outcome(ret))
		if s.stats != nil {
			s.stats.record(n.Name(), ret, elapsed)
		}
		if s.option.Metrics != nil && s.option.Metrics.PhaseDuration != nil {
			s.option.Metrics.PhaseDuration.Record(context.Background(), float64(elapsed.Milliseconds()),
				metric.WithAttributes(
					attribute.String("phase", n.Name()),
					attribute.Int("outcome", ret),
				))
		}
		s.scheduleCB(n, ret)
	})
}

// defaultDelayTimeoutMs mirrors phase_scheduler.cpp's kDelayTimeout,
// applied when a flow_control node carries no delay_timeout of its own.
const defaultDelayTimeoutMs = 5000

// beginRun decides whether n's phase body actually runs: the interrupt
// latch auto-skips it, a flow_control node may be rate-limited or
// delayed, otherwise DoProcess runs normally.
func (s *Scheduler) beginRun(n *dag.Node, inst phase.Instance) future.Future {
	if interrupted, _ := s.ctxHandle.Interrupted(); interrupted {
		inst.NotifySkip()
		return inst.Future()
	}
	detail := phase.ParseFullName(n.FullName())
	if s.option.FlowFactory != nil && detail.Bool("flow_control", false) {
		windowMs := detail.Int("flow_win_size", flowcontrol.DefaultWindowMs)
		maxFlow := detail.Int("flow_limit", flowcontrol.DefaultMaxFlowSize)
		limiter := s.option.FlowFactory.Get(detail.ClassName, windowMs, maxFlow)
		if !limiter.Allow() {
			if !detail.Bool("flow_limit_delay", false) || s.option.FlowRedo == nil {
				inst.NotifyOutcome(phase.FlowLimited)
				return inst.Future()
			}
			timeoutMs := detail.Int("delay_timeout", defaultDelayTimeoutMs)
			queue := s.option.FlowRedo.Get(detail.ClassName, windowMs, maxFlow)
			queue.Push(
				func() { s.runGuarded(n, inst) },
				time.Duration(timeoutMs)*time.Millisecond,
				func() { inst.NotifyOutcome(phase.DelayTimeout) },
			)
			return inst.Future()
		}
	}
	return s.runGuarded(n, inst)
}

// runGuarded calls DoProcess through Run, demoting a recovered panic to
// Skip or Exception per the configured PanicPolicy. When the node
// carries a timeout_ms parameter and EnableTimeout is set, DoProcess
// runs on its own goroutine raced against a timer: whichever resolves
// the future first wins, since NotifyDone only ever accepts the first
// caller. A DoProcess that ignores ctx cancellation keeps running
// orphaned after a timeout fires; it just no longer holds up the DAG.
func (s *Scheduler) runGuarded(n *dag.Node, inst phase.Instance) future.Future {
	detail := phase.ParseFullName(n.FullName())
	timeoutMs := detail.Int("timeout_ms", 0)
	if s.option.EnableTimeout && s.timer != nil && timeoutMs > 0 {
		timerID := s.timer.Push(time.Duration(timeoutMs)*time.Millisecond, func() {
			inst.NotifyTimeout()
		})
		go func() {
			s.invokeGuarded(inst, detail)
			s.timer.Erase(timerID)
		}()
		return inst.Future()
	}
	s.invokeGuarded(inst, detail)
	return inst.Future()
}

// invokeGuarded runs DoProcess through Run, demoting a recovered panic
// to Skip or Exception per the configured PanicPolicy.
func (s *Scheduler) invokeGuarded(inst phase.Instance, detail phase.ParamDetail) {
	defer func() {
		if r := recover(); r != nil {
			if s.option.PanicPolicy == PanicAsException {
				inst.NotifyOutcome(phase.Exception)
			} else {
				inst.NotifySkip()
			}
		}
	}()
	inst.Run(s.ctxHandle, detail)
}

// defaultRedoRetryTimes and defaultRedoRetryInterval mirror
// phase_scheduler.cpp's kRedoDefaultRetryTimes/kRedoDefaultRetryInterval,
// applied when a redo node carries no redo_retry_times/redo_retry_interval
// of its own.
const (
	defaultRedoRetryTimes    = 3
	defaultRedoRetryInterval = 1000
)

// scheduleCB reacts to one node's finished outcome: Interrupt and
// FlowLimited latch the session, a Redo outcome on a node configured
// with redo resubmits it (subject to redo_retry_times), everything else
// pops the DAG forward.
func (s *Scheduler) scheduleCB(n *dag.Node, ret int) {
	switch phase.Outcome(ret) {
	case phase.Interrupt, phase.FlowLimited:
		s.ctxHandle.MarkInterrupted(ret)
	case phase.Redo:
		detail := phase.ParseFullName(n.FullName())
		if detail.Bool("redo", false) {
			inst := s.instance(n)
			maxRetry := detail.Int("redo_retry_times", defaultRedoRetryTimes)
			if int64(inst.RedoRetryTimes()) > maxRetry {
				s.outcomes.Store(n.ID(), phase.Outcome(phase.MaxRetry))
			} else {
				s.scheduleRedoCB(n, detail)
				return
			}
		}
	}

	ready, err := s.dagG.Pop(n)
	if err != nil {
		return
	}
	s.schedule(ready)
}

// scheduleRedoCB resubmits n after a redo_retry_interval delay pushed
// onto the shared timer service, falling back to an immediate resubmit
// when the timer service isn't available.
func (s *Scheduler) scheduleRedoCB(n *dag.Node, detail phase.ParamDetail) {
	intervalMs := detail.Int("redo_retry_interval", defaultRedoRetryInterval)
	if s.option.EnableTimer && s.timer != nil && intervalMs > 0 {
		s.timer.Push(time.Duration(intervalMs)*time.Millisecond, func() { s.dispatch(n) })
		return
	}
	s.dispatch(n)
}

func (s *Scheduler) finalize() {
	if s.stats != nil {
		s.lastStat.Store(s.stats.render())
	}
	s.done.SetValue(int(phase.Ok))
}

// LastStatRecord returns the rendered statistics line for the most
// recently finalized session, or "" if statistics were disabled.
func (s *Scheduler) LastStatRecord() string {
	v, _ := s.lastStat.Load().(string)
	return v
}
