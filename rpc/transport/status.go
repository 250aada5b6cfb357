package transport

import "encoding/json"

// --------------------------------------------------------------------------
// Worker Status Definition
// --------------------------------------------------------------------------

// Status is the connection state of a single socket worker.
type Status uint8

const (
	// StatusPadding is the initial state, before a connect attempt completes.
	// A worker also passes through it when a retry timer fires and a new
	// attempt is in flight.
	StatusPadding Status = iota
	// StatusConnected means the transport is open and the heartbeat monitor
	// is active.
	StatusConnected
	// StatusRetry means the transport closed and a reconnection is scheduled.
	StatusRetry
	// StatusClosed is terminal: the retry budget is exhausted. Only an
	// explicit budget reset leaves this state.
	StatusClosed
)

// String returns the string representation of a Status.
func (s Status) String() string {
	switch s {
	case StatusPadding:
		return "padding"
	case StatusConnected:
		return "connected"
	case StatusRetry:
		return "retry"
	case StatusClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for Status.
func (s Status) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// CanTransition reports whether moving from s to the given status is a legal
// state machine transition:
//
//	padding   -> connected, retry, closed
//	connected -> retry, closed
//	retry     -> padding, closed
//	closed    -> padding
//
// There is no transition from closed directly back to connected; a fresh
// connect attempt (via padding) is always required.
func (s Status) CanTransition(to Status) bool {
	switch s {
	case StatusPadding:
		return to == StatusConnected || to == StatusRetry || to == StatusClosed
	case StatusConnected:
		return to == StatusRetry || to == StatusClosed
	case StatusRetry:
		return to == StatusPadding || to == StatusClosed
	case StatusClosed:
		return to == StatusPadding
	default:
		return false
	}
}
