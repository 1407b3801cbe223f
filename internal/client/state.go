package client

// SessionState is the connection lifecycle of one document session. The
// machine replaces the scattered "already connecting" / "already synced"
// booleans of earlier designs: every transition is checked against the
// table below and illegal ones are logged and refused.
//
//	Idle → Connecting → Syncing → Live
//	                 ↘          ↙
//	                Reconnecting (fixed 5s delay, unconditional)
//	any state → Closed (terminal)
type SessionState int

const (
	// StateIdle is a constructed session that has not started.
	StateIdle SessionState = iota
	// StateConnecting means a dial is in flight.
	StateConnecting
	// StateSyncing means the socket is open and the one-shot init snapshot
	// has not arrived yet.
	StateSyncing
	// StateLive means the init snapshot is applied and edits flow.
	StateLive
	// StateReconnecting means the connection dropped unexpectedly and a
	// retry is pending.
	StateReconnecting
	// StateClosed is terminal: the session was stopped or the server closed
	// cleanly. No reconnects happen from here.
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateSyncing:
		return "syncing"
	case StateLive:
		return "live"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

var stateTransitions = map[SessionState][]SessionState{
	StateIdle:         {StateConnecting, StateClosed},
	StateConnecting:   {StateSyncing, StateReconnecting, StateClosed},
	StateSyncing:      {StateLive, StateReconnecting, StateClosed},
	StateLive:         {StateReconnecting, StateClosed},
	StateReconnecting: {StateConnecting, StateClosed},
	StateClosed:       {},
}

// CanTransitionTo reports whether next is a legal successor state.
func (s SessionState) CanTransitionTo(next SessionState) bool {
	for _, allowed := range stateTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// CanSend reports whether outbound messages are permitted. Sends fail fast
// in every other state; there is no outbound queue.
func (s SessionState) CanSend() bool {
	return s == StateSyncing || s == StateLive
}
