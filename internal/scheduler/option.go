package scheduler

import (
	"github.com/swarmguard/dagflow/internal/flowcontrol"
	"github.com/swarmguard/dagflow/internal/otelinit"
)

// PanicPolicy controls how a panic recovered from inside a phase body is
// turned into an outcome.
type PanicPolicy int

const (
	// PanicDemoteToSkip recovers a panic and finishes the phase as Skip,
	// matching the reference scheduler's behavior exactly.
	PanicDemoteToSkip PanicPolicy = iota
	// PanicAsException finishes the phase as Exception instead, giving
	// callers a way to tell a genuine skip apart from a crash.
	PanicAsException
)

// Option configures one built Scheduler template.
type Option struct {
	// EnableStatis turns on the per-run statistics record.
	EnableStatis bool
	// EnableThreadPool dispatches phase runs onto the shared worker pool
	// instead of running them inline on the goroutine that triggered
	// them. Disabling it is mainly useful for deterministic tests.
	EnableThreadPool bool
	// EnableTimer allows ScheduleRedoCB to use a redo_retry_interval
	// parameter to delay a redo instead of resubmitting immediately.
	EnableTimer bool
	// EnableTimeout wires a per-node hard timeout from the node's
	// timeout_ms parameter.
	EnableTimeout bool
	// PanicPolicy controls panic-to-outcome demotion. Zero value is
	// PanicDemoteToSkip.
	PanicPolicy PanicPolicy
	// Metrics, when non-nil, receives per-phase duration observations.
	Metrics *otelinit.Metrics
	// FlowFactory, when non-nil, gates each phase's run behind a named
	// sliding-window limiter keyed by class name. A node is only gated
	// when it carries flow_control:true; flow_win_size and flow_limit
	// override the limiter's defaults on first creation for that class.
	FlowFactory *flowcontrol.Factory
	// FlowRedo, when non-nil, retries a flow-limited node against its
	// own class's limiter with backoff instead of resolving it
	// FlowLimited on the first rejection. Only engaged for a node that
	// also carries flow_limit_delay:true; delay_timeout bounds how long
	// it waits before giving up (DelayTimeout). Only consulted when
	// FlowFactory is also set.
	FlowRedo *flowcontrol.RedoFactory
}
