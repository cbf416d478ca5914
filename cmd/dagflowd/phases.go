package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"os/exec"
	"strings"
	"time"

	"github.com/swarmguard/dagflow/internal/future"
	"github.com/swarmguard/dagflow/internal/phase"
	"github.com/swarmguard/dagflow/internal/registry"
	"github.com/swarmguard/dagflow/internal/resilience"
)

// httpGuard pairs a circuit breaker with a token-bucket limiter around
// outbound calls every HTTPPhase instance shares, so one flaky
// downstream doesn't let every in-flight HTTP phase keep hammering it.
var httpGuard = struct {
	breaker *resilience.CircuitBreaker
	limiter *resilience.RateLimiter
}{
	breaker: resilience.NewCircuitBreakerAdaptive(30*time.Second, 6, 5, 0.5, 5*time.Second, 2),
	limiter: resilience.NewRateLimiter(50, 50, time.Second, 200),
}

// registerBuiltinPhases wires the small set of demo phase classes this
// binary ships with. Real deployments register their own business
// classes against the same Registry before calling BuildDAG.
func registerBuiltinPhases(reg *registry.Registry) {
	reg.Register("Noop", func() phase.Instance { return &NoopPhase{} })
	reg.Register("HTTP", func() phase.Instance { return &HTTPPhase{client: &http.Client{Timeout: 30 * time.Second}} })
	reg.Register("Shell", func() phase.Instance { return &ShellPhase{} })
}

// NoopPhase always succeeds; useful as a placeholder join/fan-out node.
type NoopPhase struct {
	phase.Base
}

func (p *NoopPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *NoopPhase) DoProcess(ctx phase.ContextHandle, detail phase.ParamDetail) phase.Outcome {
	return phase.Ok
}

// HTTPPhase issues a GET against a url parameter, grounded on the
// orchestrator's HTTP plugin.
type HTTPPhase struct {
	phase.Base
	client *http.Client
}

func (p *HTTPPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *HTTPPhase) DoProcess(ctx phase.ContextHandle, detail phase.ParamDetail) phase.Outcome {
	url := detail.String("url", "")
	if url == "" {
		return phase.Exception
	}
	if !httpGuard.breaker.Allow() || !httpGuard.limiter.Allow() {
		slog.Warn("http phase rejected by guard", "url", url)
		return phase.FlowLimited
	}
	attempts := int(detail.Int("retries", 1))
	_, err := resilience.Retry(context.Background(), attempts, 100*time.Millisecond, func() (struct{}, error) {
		resp, err := p.client.Get(url)
		if err != nil {
			return struct{}{}, err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 400 {
			return struct{}{}, errors.New(resp.Status)
		}
		return struct{}{}, nil
	})
	httpGuard.breaker.RecordResult(err == nil)
	if err != nil {
		slog.Error("http phase failed", "url", url, "error", err)
		return phase.Exception
	}
	return phase.Ok
}

// ShellPhase runs a command line parameter, grounded on the
// orchestrator's shell plugin. No shell metacharacter expansion: the
// command string is split on whitespace and exec'd directly.
type ShellPhase struct {
	phase.Base
}

func (p *ShellPhase) Run(ctx phase.ContextHandle, d phase.ParamDetail) future.Future {
	return p.Base.Run(p, ctx, d)
}

func (p *ShellPhase) DoProcess(ctx phase.ContextHandle, detail phase.ParamDetail) phase.Outcome {
	cmdline := detail.String("cmd", "")
	if cmdline == "" {
		return phase.Exception
	}
	fields := strings.Fields(cmdline)
	cmd := exec.Command(fields[0], fields[1:]...)
	if err := cmd.Run(); err != nil {
		slog.Error("shell phase failed", "cmd", cmdline, "error", err)
		return phase.Exception
	}
	return phase.Ok
}
