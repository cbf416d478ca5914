package phase

import "sync"

// ContextHandle is what the scheduler and phase bodies see of a session's
// context. Business code embeds *Context in its own session-context type
// and overrides CtxType to distinguish session kinds; holding values
// behind this interface (not a concrete *Context) is what makes the
// override take effect at the call site, since Go has no virtual
// dispatch through embedding alone. The statistics log head is plumbed
// separately, as an explicit Start argument, not through this interface.
type ContextHandle interface {
	CtxType() int
	CreateTimeMs() int64
	LogSwitch() bool
	SetLogSwitch(bool)
	AddLogHandler(func(string))
	ExportLog(record string)
	MarkInterrupted(reason int)
	Interrupted() (bool, int)
}

// Context is the default ContextHandle implementation: per-session
// interrupt latch, log switch, and log export handlers. Embed it in a
// business-specific context type to inherit everything except CtxType,
// which defaults to 0.
type Context struct {
	mu            sync.Mutex
	createTimeMs  int64
	logSwitch     bool
	isInterrupted bool
	irReason      int
	logHandlers   []func(string)

	// Scheduler is set by the scheduler package once this context is bound
	// to a running session. Declared as any to avoid an import cycle
	// (scheduler depends on phase, not the reverse).
	Scheduler any
}

// NewContext returns a Context stamped with the given creation time.
func NewContext(createTimeMs int64) *Context {
	return &Context{createTimeMs: createTimeMs}
}

func (c *Context) CtxType() int { return 0 }

func (c *Context) CreateTimeMs() int64 { return c.createTimeMs }

func (c *Context) LogSwitch() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.logSwitch
}

func (c *Context) SetLogSwitch(on bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logSwitch = on
}

func (c *Context) AddLogHandler(h func(string)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.logHandlers = append(c.logHandlers, h)
}

// ExportLog fans a record out to every registered handler, if logging is
// switched on.
func (c *Context) ExportLog(record string) {
	c.mu.Lock()
	on := c.logSwitch
	handlers := c.logHandlers
	c.mu.Unlock()
	if !on {
		return
	}
	for _, h := range handlers {
		h(record)
	}
}

// MarkInterrupted latches the interrupt flag and records the first
// reason; later calls do not overwrite an already-recorded reason.
func (c *Context) MarkInterrupted(reason int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.isInterrupted {
		return
	}
	c.isInterrupted = true
	c.irReason = reason
}

// Interrupted reports the latch state and its recorded reason.
func (c *Context) Interrupted() (bool, int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.isInterrupted, c.irReason
}
