package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSessionState_String(t *testing.T) {
	tests := []struct {
		state    SessionState
		expected string
	}{
		{StateDisconnected, "disconnected"},
		{StateConnecting, "connecting"},
		{StateConnected, "connected"},
		{StateDegraded, "degraded"},
		{StateStopped, "stopped"},
		{SessionState(999), "unknown"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			assert.Equal(t, tt.expected, tt.state.String())
		})
	}
}

func TestValidateTransition(t *testing.T) {
	tests := []struct {
		from, to SessionState
		valid    bool
	}{
		{StateDisconnected, StateConnecting, true},
		{StateDisconnected, StateConnected, false},
		{StateConnecting, StateConnected, true},
		{StateConnecting, StateDisconnected, true},
		{StateConnecting, StateDegraded, false},
		{StateConnected, StateDegraded, true},
		{StateConnected, StateConnecting, false},
		{StateDegraded, StateConnecting, true},
		{StateDegraded, StateConnected, false},
		{StateStopped, StateConnecting, false},
		{StateStopped, StateDisconnected, false},
	}

	for _, tt := range tests {
		t.Run(tt.from.String()+"->"+tt.to.String(), func(t *testing.T) {
			err := ValidateTransition(tt.from, tt.to)
			if tt.valid {
				assert.NoError(t, err)
			} else {
				assert.Error(t, err)
			}
		})
	}

	for _, s := range []SessionState{StateDisconnected, StateConnecting, StateConnected, StateDegraded} {
		assert.NoError(t, ValidateTransition(s, StateStopped), "stop must be reachable from %s", s)
	}
}

func TestStateManager_Lifecycle(t *testing.T) {
	sm := NewStateManager()
	assert.Equal(t, StateDisconnected, sm.GetState())

	var seen []SessionState
	sm.SetStateChangeCallback(func(_, newState SessionState, info *SessionInfo) {
		seen = append(seen, newState)
		assert.Equal(t, newState, info.State)
	})

	require.NoError(t, sm.TransitionTo(StateConnecting))
	sm.RecordRetry(errors.New("refused"))
	require.NoError(t, sm.TransitionTo(StateConnected))
	assert.True(t, sm.IsConnected())

	info := sm.GetSessionInfo()
	assert.Zero(t, info.RetryCount)
	assert.Nil(t, info.LastError)
	assert.False(t, info.ConnectedAt.IsZero())

	require.NoError(t, sm.Fail(StateDegraded, errors.New("broken pipe")))
	info = sm.GetSessionInfo()
	assert.Equal(t, StateDegraded, info.State)
	assert.Equal(t, "broken pipe", info.LastErrorText)

	require.NoError(t, sm.TransitionTo(StateStopped))
	assert.True(t, sm.IsStopped())
	assert.Error(t, sm.TransitionTo(StateConnecting))
	assert.Equal(t, StateStopped, sm.GetState())

	assert.Equal(t, []SessionState{StateConnecting, StateConnected, StateDegraded, StateStopped}, seen)
}

func TestStateManager_RecordRetry(t *testing.T) {
	sm := NewStateManager()
	require.NoError(t, sm.TransitionTo(StateConnecting))

	sm.RecordRetry(errors.New("one"))
	sm.RecordRetry(errors.New("two"))

	info := sm.GetSessionInfo()
	assert.Equal(t, 2, info.RetryCount)
	assert.Equal(t, "two", info.LastErrorText)
	assert.False(t, info.LastRetryTime.IsZero())
}

func TestSessionState_MarshalText(t *testing.T) {
	b, err := StateDegraded.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "degraded", string(b))
}
