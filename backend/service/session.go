package service

import "time"

// State is a connection's position in its lifecycle.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateActive
	StateDisconnected
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateActive:
		return "active"
	case StateDisconnected:
		return "disconnected"
	default:
		return "unknown"
	}
}

type session struct {
	createdAt time.Time
	connID    string
	username  string
	state     State
}
