// Package phase defines the phase body contract: the closed outcome
// enumeration, full-name/parameter parsing, and the Base/Context types a
// concrete phase implementation embeds.
package phase

// Outcome is the closed set of values a phase body can finish with.
type Outcome = int

// Outcome codes. Ok is the zero value; all others occupy the public
// 84000-84009 range. Ordering and values follow the reference enum's
// inline numbering (Skip/Timeout/FlowLimited/DelayTimeout are explicitly
// annotated 001-004 in the source comments), which places Exception at
// 84007, not 84008 — see DESIGN.md.
const (
	Ok               Outcome = 0
	Interrupt        Outcome = 84000
	Skip             Outcome = 84001
	Timeout          Outcome = 84002
	FlowLimited      Outcome = 84003
	DelayTimeout     Outcome = 84004
	DepPartialFailed Outcome = 84005
	DepAllFailed     Outcome = 84006
	Exception        Outcome = 84007
	Redo             Outcome = 84008
	MaxRetry         Outcome = 84009
)

// Description returns the short human-readable label used in statistics
// records and log lines.
func Description(o Outcome) string {
	switch o {
	case Ok:
		return "ok"
	case Interrupt:
		return "interrupt"
	case Skip:
		return "skip"
	case Timeout:
		return "timeout"
	case FlowLimited:
		return "flow_limited"
	case DelayTimeout:
		return "delay_timeout"
	case DepPartialFailed:
		return "dep_partial_failed"
	case DepAllFailed:
		return "dep_all_failed"
	case Exception:
		return "exception"
	case Redo:
		return "redo"
	case MaxRetry:
		return "max_retry"
	default:
		return "unknown"
	}
}
