package domain

import (
	"errors"
	"fmt"
	"strings"
)

// SessionKind selects the realtime conversation flavour.
type SessionKind string

const (
	KindProfiling  SessionKind = "profiling"
	KindBrainstorm SessionKind = "brainstorm"
	KindPlanning   SessionKind = "planning"
)

// AllKinds lists the known session kinds.
var AllKinds = []SessionKind{KindProfiling, KindBrainstorm, KindPlanning}

// ErrInvalidSession is returned for malformed session identifiers.
var ErrInvalidSession = errors.New("invalid session")

// ParseSessionKind validates a kind name.
func ParseSessionKind(s string) (SessionKind, error) {
	k := SessionKind(strings.ToLower(strings.TrimSpace(s)))
	for _, known := range AllKinds {
		if k == known {
			return k, nil
		}
	}
	return "", fmt.Errorf("unknown session kind %q", s)
}

// Session identifies one realtime conversation. The ID is issued by the
// server's start call; UserID is only sent on planning sockets.
type Session struct {
	ID     string      `json:"sessionId"`
	Kind   SessionKind `json:"kind"`
	UserID string      `json:"userId,omitempty"`
}

// Validate reports whether the session can be used to build a socket URL.
func (s Session) Validate() error {
	if s.ID == "" {
		return fmt.Errorf("%w: empty session id", ErrInvalidSession)
	}
	if strings.ContainsAny(s.ID, "/?#% \t\r\n") {
		return fmt.Errorf("%w: session id %q contains reserved characters", ErrInvalidSession, s.ID)
	}
	if _, err := ParseSessionKind(string(s.Kind)); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSession, err)
	}
	return nil
}

// ConnectionState is the lifecycle state of a session socket.
type ConnectionState string

const (
	StateIdle       ConnectionState = "idle"
	StateConnecting ConnectionState = "connecting"
	StateOpen       ConnectionState = "open"
	StateClosing    ConnectionState = "closing"
	StateClosed     ConnectionState = "closed"
)

// Active reports whether a socket exists or is being established.
func (s ConnectionState) Active() bool {
	return s == StateConnecting || s == StateOpen
}
