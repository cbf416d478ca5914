package trigger

import (
	"context"
	"testing"
	"time"

	"github.com/swarmguard/dagflow/internal/dag"
	"github.com/swarmguard/dagflow/internal/future"
	"github.com/swarmguard/dagflow/internal/phase"
	"github.com/swarmguard/dagflow/internal/registry"
	"github.com/swarmguard/dagflow/internal/scheduler"
)

type okPhase struct{ phase.Base }

func (p *okPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *okPhase) DoProcess(phase.ContextHandle, phase.ParamDetail) phase.Outcome { return phase.Ok }

func buildTemplate(t *testing.T) *scheduler.Scheduler {
	t.Helper()
	reg := registry.New()
	reg.Register("Ok", func() phase.Instance { return &okPhase{} })
	tmpl := scheduler.New()
	edges := []dag.Edge{{From: "Ok(n:1)", To: "Ok(n:2)"}}
	if err := tmpl.BuildDAG(edges, nil, nil, reg, scheduler.Option{}); err != nil {
		t.Fatalf("BuildDAG: %v", err)
	}
	return tmpl
}

func TestStartSessionClonesAndRuns(t *testing.T) {
	tmpl := buildTemplate(t)
	newCtx := func() phase.ContextHandle { return phase.NewContext(0) }
	if err := StartSession(context.Background(), tmpl, newCtx, "test"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}
}

func TestCronTriggerAddFiresSession(t *testing.T) {
	tmpl := buildTemplate(t)
	ct := NewCronTrigger()
	ct.Start()
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		_ = ct.Stop(stopCtx)
	}()

	newCtx := func() phase.ContextHandle { return phase.NewContext(0) }
	if err := ct.Add("every-second", "* * * * * *", tmpl, newCtx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	// the schedule fires at least once within a couple of seconds; this
	// only checks Add/Start wiring does not error, not exact timing.
	time.Sleep(1100 * time.Millisecond)
}

func TestCronTriggerAddReplacesExistingSchedule(t *testing.T) {
	tmpl := buildTemplate(t)
	ct := NewCronTrigger()
	newCtx := func() phase.ContextHandle { return phase.NewContext(0) }
	if err := ct.Add("job", "0 0 0 1 1 *", tmpl, newCtx); err != nil {
		t.Fatalf("first Add: %v", err)
	}
	if err := ct.Add("job", "0 0 0 2 1 *", tmpl, newCtx); err != nil {
		t.Fatalf("second Add: %v", err)
	}
	if len(ct.entries) != 1 {
		t.Fatalf("expected exactly one entry for the replaced schedule, got %d", len(ct.entries))
	}
}

func TestCronTriggerRemove(t *testing.T) {
	tmpl := buildTemplate(t)
	ct := NewCronTrigger()
	newCtx := func() phase.ContextHandle { return phase.NewContext(0) }
	if err := ct.Add("job", "0 0 0 1 1 *", tmpl, newCtx); err != nil {
		t.Fatalf("Add: %v", err)
	}
	ct.Remove("job")
	if _, ok := ct.entries["job"]; ok {
		t.Fatal("expected entry removed")
	}
}

func TestCronTriggerAddRejectsBadExpr(t *testing.T) {
	tmpl := buildTemplate(t)
	ct := NewCronTrigger()
	newCtx := func() phase.ContextHandle { return phase.NewContext(0) }
	if err := ct.Add("job", "not a cron expr", tmpl, newCtx); err == nil {
		t.Fatal("expected malformed cron expression to error")
	}
}

// EventTrigger needs a live NATS connection to exercise end to end and
// is covered by cmd/dagflowd's integration path instead.
