package realtime

import "fmt"

// ConnState is the transport-level state of the channel.
type ConnState int

const (
	StateClosed ConnState = iota
	StateConnecting
	StateOpen
)

func (s ConnState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	default:
		return fmt.Sprintf("conn_state(%d)", int(s))
	}
}

// AuthState is the application-level handshake state, layered on an open connection.
type AuthState int

const (
	AuthUnauthenticated AuthState = iota
	AuthPending
	AuthAuthenticated
)

func (s AuthState) String() string {
	switch s {
	case AuthUnauthenticated:
		return "unauthenticated"
	case AuthPending:
		return "handshake_pending"
	case AuthAuthenticated:
		return "authenticated"
	default:
		return fmt.Sprintf("auth_state(%d)", int(s))
	}
}

// State is a snapshot of both state machines.
type State struct {
	Conn ConnState
	Auth AuthState
}

func (s State) String() string {
	return s.Conn.String() + "/" + s.Auth.String()
}
