package client

import "testing"

func TestSessionStateString(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateIdle, "idle"},
		{StateConnecting, "connecting"},
		{StateSyncing, "syncing"},
		{StateLive, "live"},
		{StateReconnecting, "reconnecting"},
		{StateClosed, "closed"},
		{SessionState(42), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.state.String(); got != tt.expected {
			t.Errorf("SessionState(%d).String() = %q, want %q", tt.state, got, tt.expected)
		}
	}
}

func TestStateTransitions(t *testing.T) {
	tests := []struct {
		name  string
		from  SessionState
		to    SessionState
		legal bool
	}{
		{"start connecting", StateIdle, StateConnecting, true},
		{"socket opened", StateConnecting, StateSyncing, true},
		{"init applied", StateSyncing, StateLive, true},
		{"live drop", StateLive, StateReconnecting, true},
		{"retry", StateReconnecting, StateConnecting, true},
		{"dial failed", StateConnecting, StateReconnecting, true},
		{"stop while idle", StateIdle, StateClosed, true},
		{"stop while live", StateLive, StateClosed, true},
		{"skip syncing", StateConnecting, StateLive, false},
		{"idle cannot sync", StateIdle, StateSyncing, false},
		{"closed is terminal", StateClosed, StateConnecting, false},
		{"closed cannot reopen", StateClosed, StateLive, false},
		{"live cannot re-dial directly", StateLive, StateConnecting, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.from.CanTransitionTo(tt.to); got != tt.legal {
				t.Errorf("%v -> %v legality = %v, want %v", tt.from, tt.to, got, tt.legal)
			}
		})
	}
}

func TestCanSend(t *testing.T) {
	sendable := map[SessionState]bool{
		StateIdle:         false,
		StateConnecting:   false,
		StateSyncing:      true,
		StateLive:         true,
		StateReconnecting: false,
		StateClosed:       false,
	}

	for state, want := range sendable {
		if got := state.CanSend(); got != want {
			t.Errorf("%v.CanSend() = %v, want %v", state, got, want)
		}
	}
}
