package pipeline

import "sync/atomic"

// State is a phase of the ingestion state machine:
// Idle → Scanning → Parsing → Merging → Publishing → Idle, or Failed from
// any phase.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateParsing
	StateMerging
	StatePublishing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateScanning:
		return "scanning"
	case StateParsing:
		return "parsing"
	case StateMerging:
		return "merging"
	case StatePublishing:
		return "publishing"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Mode selects which source files a run re-parses.
type Mode string

const (
	ModeFull  Mode = "full"
	ModeDelta Mode = "delta"
)

// ParseMode converts a command-line mode name.
func ParseMode(s string) (Mode, bool) {
	switch Mode(s) {
	case ModeFull, ModeDelta:
		return Mode(s), true
	}
	return "", false
}

type stateHolder struct {
	v atomic.Int32
}

func (h *stateHolder) load() State {
	return State(h.v.Load())
}

func (h *stateHolder) store(s State) {
	h.v.Store(int32(s))
}
