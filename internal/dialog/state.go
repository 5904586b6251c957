package dialog


// State is the per-call lifecycle state from spec.md §3.
type State int

const (
	// StateIdle is the state before any INVITE has been seen.
	StateIdle State = iota
	// StateProceeding is after an INVITE has been received and a
	// provisional response sent.
	StateProceeding
	// StateConfirmed is after ACK has been received for the 200 OK.
	StateConfirmed
	// StateMediaReady is after media validation completes, either by
	// timer expiry or by the first RTP packet arriving.
	StateMediaReady
	// StateAIActive is after the AI realtime session reports
	// session.updated and is permitted to emit audio.
	StateAIActive
	// StateTerminated is the final state, reached from any other state.
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateProceeding:
		return "PROCEEDING"
	case StateConfirmed:
		return "CONFIRMED"
	case StateMediaReady:
		return "MEDIA_READY"
	case StateAIActive:
		return "AI_ACTIVE"
	case StateTerminated:
		return "TERMINATED"
	default:
		return "IDLE"
	}
}

// validTransitions encodes the DAG from spec.md §3. TERMINATED is
// reachable from every other state but is not listed per-row; see
// CanTransitionTo.
var validTransitions = map[State][]State{
	StateIdle:       {StateProceeding},
	StateProceeding: {StateConfirmed},
	StateConfirmed:  {StateMediaReady},
	StateMediaReady: {StateAIActive},
	StateAIActive:   {},
	StateTerminated: {},
}

// CanTransitionTo reports whether next is a legal transition from s.
// TERMINATED is always reachable except from itself; every other edge
// must appear in validTransitions.
func (s State) CanTransitionTo(next State) bool {
	if s == StateTerminated {
		return false
	}
	if next == StateTerminated {
		return true
	}
	for _, allowed := range validTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

func (s State) IsTerminal() bool {
	return s == StateTerminated
}

// TerminateReason explains why a dialog reached StateTerminated.
type TerminateReason int

const (
	ReasonRemoteBYE TerminateReason = iota
	ReasonCancel
	ReasonTimeout
	ReasonError
	// ReasonAIEndCall is set when the AI session invokes the end_call
	// tool, requesting that we hang up on its behalf.
	ReasonAIEndCall
)

func (r TerminateReason) String() string {
	switch r {
	case ReasonCancel:
		return "CANCEL"
	case ReasonTimeout:
		return "TIMEOUT"
	case ReasonError:
		return "ERROR"
	case ReasonAIEndCall:
		return "AI_END_CALL"
	default:
		return "REMOTE_BYE"
	}
}
