package scheduler

import (
	"fmt"
	"strings"
	"sync"
	"time"
)

type statEntry struct {
	name       string
	ret        int
	timecostMs int64
}

// statRecorder accumulates per-node timing/outcome entries for one
// session and renders the bit-exact pipe-delimited statistics line.
type statRecorder struct {
	mu      sync.Mutex
	logHead string
	start   time.Time
	entries []statEntry
}

func newStatRecorder(logHead string) *statRecorder {
	return &statRecorder{logHead: logHead, start: time.Now()}
}

func (r *statRecorder) record(name string, ret int, cost time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = append(r.entries, statEntry{name: name, ret: ret, timecostMs: cost.Milliseconds()})
}

// render returns "<loghead>|<name>(phase_ret[ret:<code>],timecost[<ms>])|...|total_timecost:<ms>",
// without the leading "<loghead>|" when logHead is empty.
func (r *statRecorder) render() string {
	r.mu.Lock()
	defer r.mu.Unlock()
	parts := make([]string, 0, len(r.entries)+2)
	if r.logHead != "" {
		parts = append(parts, r.logHead)
	}
	for _, e := range r.entries {
		parts = append(parts, fmt.Sprintf("%s(phase_ret[ret:%d],timecost[%d])", e.name, e.ret, e.timecostMs))
	}
	parts = append(parts, fmt.Sprintf("total_timecost:%d", time.Since(r.start).Milliseconds()))
	return strings.Join(parts, "|")
}
