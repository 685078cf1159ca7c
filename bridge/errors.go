package bridge

import (
	"errors"
	"fmt"
)

var (
	// ErrUnknownUser is returned by Serve when the identity check rejects
	// the user. The plugin is closed with transport.CloseUnknownUser.
	ErrUnknownUser = errors.New("unknown user")
	// ErrRulesUnavailable is returned when the keyword snapshot could not be
	// loaded.
	ErrRulesUnavailable = errors.New("keyword rules unavailable")
	// ErrRecognizerUnavailable is returned when the recognition service
	// could not be reached.
	ErrRecognizerUnavailable = errors.New("recognizer unavailable")
	// ErrUserLookup is returned when the identity check itself failed.
	ErrUserLookup = errors.New("user lookup failed")
)

// Side names the connection on which a session-ending failure occurred.
type Side string

const (
	SidePlugin     Side = "plugin"
	SideRecognizer Side = "recognizer"
)

// SessionError is the terminal cause of an active session. Err carries a
// transport failure class.
type SessionError struct {
	Side Side
	Err  error
}

func (e *SessionError) Error() string {
	return fmt.Sprintf("%s: %v", e.Side, e.Err)
}

func (e *SessionError) Unwrap() error {
	return e.Err
}
