package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/dagflow/internal/dag"
	"github.com/swarmguard/dagflow/internal/flowcontrol"
	"github.com/swarmguard/dagflow/internal/future"
	"github.com/swarmguard/dagflow/internal/phase"
	"github.com/swarmguard/dagflow/internal/registry"
)

// Node full names are "ClassName(params)"; the class lookup strips
// everything from the first '(' onward, so distinct nodes of the same
// class need distinguishing params to get unique node names.

type retOutcomePhase struct {
	phase.Base
	ret phase.Outcome
}

func (p *retOutcomePhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *retOutcomePhase) DoProcess(phase.ContextHandle, phase.ParamDetail) phase.Outcome {
	return p.ret
}

func newRegistryWithOk() *registry.Registry {
	r := registry.New()
	r.Register("Ok", func() phase.Instance { return &retOutcomePhase{ret: phase.Ok} })
	return r
}

func runSession(t *testing.T, edges []dag.Edge, singles []string, reg *registry.Registry, opt Option) (*Scheduler, phase.Outcome) {
	t.Helper()
	tmpl := New()
	if err := tmpl.BuildDAG(edges, singles, nil, reg, opt); err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	session := New()
	if err := session.CopyFrom(tmpl); err != nil {
		t.Fatalf("CopyFrom: %v", err)
	}
	fut, err := session.Start(context.Background(), phase.NewContext(0), "test")
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	v, err := fut.Wait(ctx)
	if err != nil {
		t.Fatalf("Wait: %v", err)
	}
	return session, phase.Outcome(v)
}

func TestBuildDAGRejectsDoubleBuild(t *testing.T) {
	reg := newRegistryWithOk()
	tmpl := New()
	edges := []dag.Edge{{From: "Ok(n:1)", To: "Ok(n:2)"}}
	if err := tmpl.BuildDAG(edges, nil, nil, reg, Option{}); err != nil {
		t.Fatalf("first BuildDAG: %v", err)
	}
	if err := tmpl.BuildDAG(edges, nil, nil, reg, Option{}); err == nil {
		t.Fatal("expected second BuildDAG to fail")
	}
}

func TestStartRequiresBuild(t *testing.T) {
	s := New()
	if _, err := s.Start(context.Background(), phase.NewContext(0), "test"); err == nil {
		t.Fatal("expected Start before BuildDAG to fail")
	}
}

func TestSessionRunsToCompletion(t *testing.T) {
	reg := newRegistryWithOk()
	edges := []dag.Edge{{From: "Ok(n:1)", To: "Ok(n:2)"}}
	_, outcome := runSession(t, edges, nil, reg, Option{EnableStatis: true})
	if outcome != phase.Ok {
		t.Fatalf("expected Ok, got %d", outcome)
	}
}

func TestStatRecordRendersAfterCompletion(t *testing.T) {
	reg := newRegistryWithOk()
	edges := []dag.Edge{{From: "Ok(n:1)", To: "Ok(n:2)"}}
	session, _ := runSession(t, edges, nil, reg, Option{EnableStatis: true})
	record := session.LastStatRecord()
	if record == "" {
		t.Fatal("expected a non-empty stat record with EnableStatis")
	}
}

type trackingPhase struct {
	phase.Base
	onRun func()
}

func (p *trackingPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *trackingPhase) DoProcess(phase.ContextHandle, phase.ParamDetail) phase.Outcome {
	if p.onRun != nil {
		p.onRun()
	}
	return phase.Ok
}

func TestDependentNodeRunsRegardlessOfParentOutcome(t *testing.T) {
	reg := registry.New()
	reg.Register("Fail", func() phase.Instance { return &retOutcomePhase{ret: phase.Exception} })
	var ran bool
	reg.Register("Tracking", func() phase.Instance {
		return &trackingPhase{onRun: func() { ran = true }}
	})
	edges := []dag.Edge{{From: "Fail(n:1)", To: "Tracking(n:1)"}}
	runSession(t, edges, nil, reg, Option{})
	if !ran {
		t.Fatal("expected dependent node to run: the scheduler algorithm has no dependency-failure short-circuit")
	}
}

func TestCopyFromAllowsIndependentSessions(t *testing.T) {
	reg := newRegistryWithOk()
	edges := []dag.Edge{{From: "Ok(n:1)", To: "Ok(n:2)"}}
	tmpl := New()
	if err := tmpl.BuildDAG(edges, nil, nil, reg, Option{}); err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}

	s1 := New()
	if err := s1.CopyFrom(tmpl); err != nil {
		t.Fatalf("CopyFrom s1: %v", err)
	}
	s2 := New()
	if err := s2.CopyFrom(tmpl); err != nil {
		t.Fatalf("CopyFrom s2: %v", err)
	}

	fut1, err := s1.Start(context.Background(), phase.NewContext(0), "s1")
	if err != nil {
		t.Fatalf("Start s1: %v", err)
	}
	fut2, err := s2.Start(context.Background(), phase.NewContext(0), "s2")
	if err != nil {
		t.Fatalf("Start s2: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if _, err := fut1.Wait(ctx); err != nil {
		t.Fatalf("Wait s1: %v", err)
	}
	if _, err := fut2.Wait(ctx); err != nil {
		t.Fatalf("Wait s2: %v", err)
	}
}

type panickyPhase struct{ phase.Base }

func (p *panickyPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *panickyPhase) DoProcess(phase.ContextHandle, phase.ParamDetail) phase.Outcome {
	panic("boom")
}

func TestPanicDemotedToSkipByDefault(t *testing.T) {
	reg := registry.New()
	reg.Register("Panicky", func() phase.Instance { return &panickyPhase{} })
	edges := []dag.Edge{{From: "Panicky(n:1)", To: "Panicky(n:2)"}}
	// The first node panics and is demoted to Skip; the session must
	// still finalize rather than hang.
	_, outcome := runSession(t, edges, nil, reg, Option{PanicPolicy: PanicDemoteToSkip})
	if outcome != phase.Ok {
		t.Fatalf("expected session to finalize Ok despite panicking phases, got %d", outcome)
	}
}

func TestFlowControlAdmitsWithinWindow(t *testing.T) {
	reg := registry.New()
	reg.Register("Ok", func() phase.Instance { return &retOutcomePhase{ret: phase.Ok} })

	factory := flowcontrol.NewFactory()
	edges := []dag.Edge{{From: "Ok(flow_control:true,flow_win_size:60000,flow_limit:10)", To: "Ok(n:2)"}}
	_, outcome := runSession(t, edges, nil, reg, Option{FlowFactory: factory})
	if outcome != phase.Ok {
		t.Fatalf("expected session to finalize Ok when admitted under the window cap, got %d", outcome)
	}
}

type redoPhase struct {
	phase.Base
	limit int32
}

func (p *redoPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *redoPhase) DoProcess(phase.ContextHandle, phase.ParamDetail) phase.Outcome {
	if int32(p.RedoRetryTimes()) < p.limit {
		return p.NotifyRedo()
	}
	return phase.Ok
}

func TestRedoOutcomePassesThroughWithoutRedoFlag(t *testing.T) {
	reg := registry.New()
	reg.Register("Redo", func() phase.Instance { return &redoPhase{limit: 3} })
	edges := []dag.Edge{{From: "Redo(n:1)", To: "Redo(n:2)"}}
	session, outcome := runSession(t, edges, nil, reg, Option{})
	if outcome != phase.Ok {
		t.Fatalf("expected session to finalize Ok, got %d", outcome)
	}
	if got := nodeOutcome(t, session, "Redo(n:1)"); got != phase.Redo {
		t.Fatalf("expected the node's own outcome to remain Redo without redo:true, got %d", got)
	}
}

func TestRedoRetriesUpToRedoRetryTimesThenMaxRetry(t *testing.T) {
	reg := registry.New()
	reg.Register("Redo", func() phase.Instance { return &redoPhase{limit: 3} })
	edges := []dag.Edge{{From: "Redo(redo:true,redo_retry_times:1,n:1)", To: "Redo(n:2)"}}
	session, outcome := runSession(t, edges, nil, reg, Option{})
	if outcome != phase.Ok {
		t.Fatalf("expected the session itself to still finalize Ok, got %d", outcome)
	}
	if got := nodeOutcome(t, session, "Redo(redo:true,redo_retry_times:1,n:1)"); got != phase.MaxRetry {
		t.Fatalf("expected the node to exhaust its redo_retry_times:1 cap and land on MaxRetry, got %d", got)
	}
}

func TestFlowControlUngatedWithoutFlag(t *testing.T) {
	reg := registry.New()
	reg.Register("Ok", func() phase.Instance { return &retOutcomePhase{ret: phase.Ok} })

	factory := flowcontrol.NewFactory()
	factory.Get("Ok", 60000, 1).Allow() // pre-exhaust; node omits flow_control so it must run anyway
	edges := []dag.Edge{{From: "Ok(flow_win_size:60000,flow_limit:1)", To: "Ok(n:2)"}}
	_, outcome := runSession(t, edges, nil, reg, Option{FlowFactory: factory})
	if outcome != phase.Ok {
		t.Fatalf("expected session to finalize Ok: a node without flow_control:true is never gated, got %d", outcome)
	}
}

type slowPhase struct {
	phase.Base
	sleep time.Duration
}

func (p *slowPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *slowPhase) DoProcess(phase.ContextHandle, phase.ParamDetail) phase.Outcome {
	time.Sleep(p.sleep)
	return phase.Ok
}

// nodeOutcome looks up the recorded outcome for the node named name in
// an already-finished session.
func nodeOutcome(t *testing.T, session *Scheduler, name string) phase.Outcome {
	t.Helper()
	var found *dag.Node
	if err := session.dagG.TraverseAction(func(n *dag.Node) error {
		if n.Name() == name {
			found = n
		}
		return nil
	}); err != nil {
		t.Fatalf("TraverseAction: %v", err)
	}
	if found == nil {
		t.Fatalf("node %q not found", name)
	}
	ret, ok := session.outcomeOf(found)
	if !ok {
		t.Fatalf("node %q never recorded an outcome", name)
	}
	return ret
}

func TestHardTimeoutDemotesSlowPhase(t *testing.T) {
	GlobalInit(2, 4, nil)
	t.Cleanup(GlobalDestroy)

	reg := registry.New()
	reg.Register("Slow", func() phase.Instance { return &slowPhase{sleep: 500 * time.Millisecond} })

	edges := []dag.Edge{{From: "Slow(timeout_ms:20)", To: "Slow(timeout_ms:20,n:2)"}}
	start := time.Now()
	session, sessionOutcome := runSession(t, edges, nil, reg, Option{EnableTimeout: true})
	elapsed := time.Since(start)

	if sessionOutcome != phase.Ok {
		t.Fatalf("expected the session itself to still finalize Ok, got %d", sessionOutcome)
	}
	if got := nodeOutcome(t, session, "Slow(timeout_ms:20)"); got != phase.Timeout {
		t.Fatalf("expected first node outcome Timeout, got %d", got)
	}
	if elapsed >= 500*time.Millisecond {
		t.Fatalf("expected the hard timeout to cut the 500ms sleep short, session took %s", elapsed)
	}
}

func TestFlowControlRejectsWithoutRedo(t *testing.T) {
	reg := registry.New()
	reg.Register("Ok", func() phase.Instance { return &retOutcomePhase{ret: phase.Ok} })

	factory := flowcontrol.NewFactory()
	// Pre-exhaust the class's admission window before the session starts.
	factory.Get("Ok", 60000, 1).Allow()

	edges := []dag.Edge{{From: "Ok(flow_control:true,flow_win_size:60000,flow_limit:1)", To: "Ok(n:2)"}}
	session, outcome := runSession(t, edges, nil, reg, Option{FlowFactory: factory})
	if outcome != phase.Ok {
		t.Fatalf("expected the session itself to still finalize Ok, got %d", outcome)
	}
	if got := nodeOutcome(t, session, "Ok(flow_control:true,flow_win_size:60000,flow_limit:1)"); got != phase.FlowLimited {
		t.Fatalf("expected the gated node's outcome to be FlowLimited, got %d", got)
	}
	// FlowLimited latches the session interrupt, so the later non-end node must be skipped.
	if got := nodeOutcome(t, session, "Ok(n:2)"); got != phase.Skip {
		t.Fatalf("expected downstream node to be skipped after a FlowLimited latch, got %d", got)
	}
}
