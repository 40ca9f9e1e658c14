package types

import (
	"fmt"
	"sync"
	"time"
)

// SessionState represents the state of the downstream session
type SessionState int

const (
	// StateDisconnected indicates no downstream connection is open
	StateDisconnected SessionState = iota
	// StateConnecting indicates a connect-with-retry cycle is running
	StateConnecting
	// StateConnected indicates the downstream is initialized and accepting calls
	StateConnected
	// StateDegraded indicates a transport failure; the next call reconnects first
	StateDegraded
	// StateStopped is terminal; the session cannot be reused
	StateStopped
)

// String returns the string representation of the session state
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateDegraded:
		return "degraded"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON and YAML output.
func (s SessionState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

var validTransitions = map[SessionState][]SessionState{
	StateDisconnected: {StateConnecting, StateStopped},
	StateConnecting:   {StateConnected, StateDisconnected, StateStopped},
	StateConnected:    {StateDegraded, StateDisconnected, StateStopped},
	StateDegraded:     {StateConnecting, StateDisconnected, StateStopped},
	StateStopped:      {},
}

// SessionInfo holds a snapshot of the session state
type SessionInfo struct {
	State         SessionState `json:"state"`
	LastError     error        `json:"-"`
	LastErrorText string       `json:"last_error,omitempty"`
	RetryCount    int          `json:"retry_count"`
	LastRetryTime time.Time    `json:"last_retry_time,omitempty"`
	ConnectedAt   time.Time    `json:"connected_at,omitempty"`
	ServerName    string       `json:"server_name,omitempty"`
	ServerVersion string       `json:"server_version,omitempty"`
}

// StateManager serializes the state transitions of one downstream session
type StateManager struct {
	mu            sync.RWMutex
	currentState  SessionState
	lastError     error
	retryCount    int
	lastRetryTime time.Time
	connectedAt   time.Time
	serverName    string
	serverVersion string

	onStateChange func(oldState, newState SessionState, info *SessionInfo)
}

// NewStateManager creates a new state manager
func NewStateManager() *StateManager {
	return &StateManager{
		currentState: StateDisconnected,
	}
}

// SetStateChangeCallback sets a callback function that will be called on state changes
func (sm *StateManager) SetStateChangeCallback(callback func(oldState, newState SessionState, info *SessionInfo)) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.onStateChange = callback
}

// GetState returns the current session state
func (sm *StateManager) GetState() SessionState {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.currentState
}

// IsState checks if the current state matches the given state
func (sm *StateManager) IsState(state SessionState) bool {
	return sm.GetState() == state
}

// IsConnected returns true if calls may be dispatched
func (sm *StateManager) IsConnected() bool {
	return sm.IsState(StateConnected)
}

// IsStopped returns true once the session has been stopped
func (sm *StateManager) IsStopped() bool {
	return sm.IsState(StateStopped)
}

// GetSessionInfo returns detailed session information
func (sm *StateManager) GetSessionInfo() SessionInfo {
	sm.mu.RLock()
	defer sm.mu.RUnlock()
	return sm.infoLocked()
}

func (sm *StateManager) infoLocked() SessionInfo {
	info := SessionInfo{
		State:         sm.currentState,
		LastError:     sm.lastError,
		RetryCount:    sm.retryCount,
		LastRetryTime: sm.lastRetryTime,
		ConnectedAt:   sm.connectedAt,
		ServerName:    sm.serverName,
		ServerVersion: sm.serverVersion,
	}
	if sm.lastError != nil {
		info.LastErrorText = sm.lastError.Error()
	}
	return info
}

// TransitionTo moves to newState, rejecting transitions the lifecycle does not allow.
func (sm *StateManager) TransitionTo(newState SessionState) error {
	return sm.transition(newState, nil)
}

// Fail records err and moves to newState (degraded or disconnected).
func (sm *StateManager) Fail(newState SessionState, err error) error {
	return sm.transition(newState, err)
}

func (sm *StateManager) transition(newState SessionState, err error) error {
	sm.mu.Lock()
	oldState := sm.currentState

	if vErr := ValidateTransition(oldState, newState); vErr != nil {
		sm.mu.Unlock()
		return vErr
	}

	sm.currentState = newState
	switch {
	case err != nil:
		sm.lastError = err
	case newState == StateConnected:
		sm.lastError = nil
		sm.retryCount = 0
		sm.connectedAt = time.Now()
	}

	info := sm.infoLocked()
	callback := sm.onStateChange
	sm.mu.Unlock()

	// Call the callback outside the lock to avoid deadlocks
	if callback != nil && oldState != newState {
		callback(oldState, newState, &info)
	}
	return nil
}

// RecordRetry counts a failed connect attempt.
func (sm *StateManager) RecordRetry(err error) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.retryCount++
	sm.lastRetryTime = time.Now()
	sm.lastError = err
}

// SetServerInfo sets the downstream server information
func (sm *StateManager) SetServerInfo(name, version string) {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	sm.serverName = name
	sm.serverVersion = version
}

// ValidateTransition validates if a state transition is allowed
func ValidateTransition(from, to SessionState) error {
	allowed, exists := validTransitions[from]
	if !exists {
		return fmt.Errorf("invalid source state: %s", from)
	}

	for _, validTo := range allowed {
		if validTo == to {
			return nil
		}
	}

	return fmt.Errorf("invalid transition from %s to %s", from, to)
}
