package socket

import (
	"errors"
	"fmt"
)

var (
	ErrNotOpen        = errors.New("socket not open")
	ErrSessionChanged = errors.New("manager is bound to another active session")
)

// TerminalError reports a close that ends the session for good. Code is zero
// when the session could not be connected at all.
type TerminalError struct {
	SessionID string
	Code      int
	Reason    string
	Err       error
}

func (e *TerminalError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("session %s terminated: %v", e.SessionID, e.Err)
	}
	if e.Reason != "" {
		return fmt.Sprintf("session %s terminated (close %d): %s", e.SessionID, e.Code, e.Reason)
	}
	return fmt.Sprintf("session %s terminated (close %d)", e.SessionID, e.Code)
}

func (e *TerminalError) Unwrap() error { return e.Err }

// CloseEvent describes a closed socket. Reconnect is true when a reconnect
// attempt has been scheduled.
type CloseEvent struct {
	Code      int
	Reason    string
	Reconnect bool
	Terminal  bool
}
