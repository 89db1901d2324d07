package pipeline

// State is the driver's position in a run.
type State int

const (
	StateIdle State = iota
	StateFetchInbox
	StateParseAll
	StateDedup
	StateGenerate
	StateCompose
	StateSend
	StateRecord
	StateDone
	StateFailed
)

var stateNames = [...]string{
	StateIdle:       "idle",
	StateFetchInbox: "fetch_inbox",
	StateParseAll:   "parse_all",
	StateDedup:      "dedup",
	StateGenerate:   "generate",
	StateCompose:    "compose",
	StateSend:       "send",
	StateRecord:     "record",
	StateDone:       "done",
	StateFailed:     "failed",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return "unknown"
	}
	return stateNames[s]
}
