// Package trigger starts scheduler sessions off a cron schedule
// (github.com/robfig/cron/v3) or an inbound NATS event
// (natsctx.Subscribe).
package trigger

import (
	"context"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"
	"github.com/robfig/cron/v3"

	"github.com/swarmguard/dagflow/internal/natsctx"
	"github.com/swarmguard/dagflow/internal/phase"
	"github.com/swarmguard/dagflow/internal/scheduler"
)

// SessionFunc starts one session from template and returns once it has
// been kicked off (not once it has finished).
type SessionFunc func(ctx context.Context, template *scheduler.Scheduler) error

// StartSession clones template and starts it with a fresh context,
// the shared helper both trigger kinds call into.
func StartSession(ctx context.Context, template *scheduler.Scheduler, newCtx func() phase.ContextHandle, logHead string) error {
	session := scheduler.New()
	if err := session.CopyFrom(template); err != nil {
		return err
	}
	_, err := session.Start(ctx, newCtx(), logHead)
	return err
}

// CronTrigger fires a template on a cron schedule, seconds precision.
type CronTrigger struct {
	cron *cron.Cron

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewCronTrigger returns a stopped CronTrigger; call Start to begin
// firing registered schedules.
func NewCronTrigger() *CronTrigger {
	return &CronTrigger{
		cron:    cron.New(cron.WithSeconds()),
		entries: make(map[string]cron.EntryID),
	}
}

// Start begins firing registered schedules.
func (t *CronTrigger) Start() { t.cron.Start() }

// Stop waits for running cron jobs to finish, bounded by ctx.
func (t *CronTrigger) Stop(ctx context.Context) error {
	stopCtx := t.cron.Stop()
	select {
	case <-stopCtx.Done():
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Add registers a named cron schedule that starts a fresh session from
// template each time it fires. A later Add for the same name replaces
// the earlier schedule.
func (t *CronTrigger) Add(name, cronExpr string, template *scheduler.Scheduler, newCtx func() phase.ContextHandle) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if old, ok := t.entries[name]; ok {
		t.cron.Remove(old)
	}
	id, err := t.cron.AddFunc(cronExpr, func() {
		if err := StartSession(context.Background(), template, newCtx, name); err != nil {
			slog.Error("cron trigger failed to start session", "schedule", name, "error", err)
		}
	})
	if err != nil {
		return err
	}
	t.entries[name] = id
	return nil
}

// Remove unregisters a named schedule.
func (t *CronTrigger) Remove(name string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if id, ok := t.entries[name]; ok {
		t.cron.Remove(id)
		delete(t.entries, name)
	}
}

// EventTrigger starts a template's session every time a matching
// message arrives on a NATS subject.
type EventTrigger struct {
	nc *nats.Conn

	mu   sync.Mutex
	subs []*nats.Subscription
}

// NewEventTrigger wraps an already-connected NATS client.
func NewEventTrigger(nc *nats.Conn) *EventTrigger {
	return &EventTrigger{nc: nc}
}

// Subscribe starts template's session each time subject receives a
// message, passing Start the context natsctx.Subscribe extracted from
// the message headers (Start itself does not read it).
func (t *EventTrigger) Subscribe(subject string, template *scheduler.Scheduler, newCtx func() phase.ContextHandle) error {
	sub, err := natsctx.Subscribe(t.nc, subject, func(ctx context.Context, msg *nats.Msg) {
		if err := StartSession(ctx, template, newCtx, subject); err != nil {
			slog.Error("event trigger failed to start session", "subject", subject, "error", err)
		}
	})
	if err != nil {
		return err
	}
	t.mu.Lock()
	t.subs = append(t.subs, sub)
	t.mu.Unlock()
	return nil
}

// Close unsubscribes every registered subject.
func (t *EventTrigger) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	var firstErr error
	for _, s := range t.subs {
		if err := s.Unsubscribe(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	t.subs = nil
	return firstErr
}
