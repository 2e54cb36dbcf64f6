package session

// State is the explicit connection state of a session's upstream link.
// Making the state an enum (rather than inferring it from which maps hold an
// entry) keeps invalid states unrepresentable and the machine testable.
type State int

const (
	// StateIdle: created, no connection attempted yet.
	StateIdle State = iota

	// StateConnecting: a dial to the provider is in flight.
	StateConnecting

	// StateOpen: the connection is established and accepting audio.
	StateOpen

	// StateBackoff: the connection failed; a reconnect is pending or the
	// backoff delay is elapsing.
	StateBackoff

	// StateClosing: a graceful close is in progress.
	StateClosing

	// StateClosed: gracefully closed. Terminal.
	StateClosed

	// StateTerminated: the reconnect budget was exhausted. Terminal; the
	// caller must start a new session.
	StateTerminated
)

// String returns the lowercase state name.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateBackoff:
		return "backoff"
	case StateClosing:
		return "closing"
	case StateClosed:
		return "closed"
	case StateTerminated:
		return "terminated"
	}
	return "unknown"
}

// Terminal reports whether no further transitions can occur from s.
func (s State) Terminal() bool {
	return s == StateClosed || s == StateTerminated
}
