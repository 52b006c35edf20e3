package thingsboard

import (
	"errors"
	"fmt"
)

// Sentinel errors for ThingsBoard operations.
//
// The typed errors below match these through errors.Is:
//
//	if errors.Is(err, thingsboard.ErrAuthentication) {
//	    // session is gone, send the user to the login page
//	}
var (
	// ErrAuthentication is matched by every *AuthError.
	ErrAuthentication = errors.New("thingsboard: authentication failed")

	// ErrTimeout is matched by a *NetworkError caused by a deadline, and by a
	// two-way RPC the backend reported as timed out.
	ErrTimeout = errors.New("thingsboard: request timed out")

	// ErrNonNumeric is returned by HistoricalTelemetry when a sample value
	// cannot be read as a number.
	ErrNonNumeric = errors.New("thingsboard: non-numeric telemetry value")

	// ErrInvalidInput is matched by every *ValidationError.
	ErrInvalidInput = errors.New("thingsboard: invalid input")
)

// defaultAuthMessage is used when a 401 carries no message of its own.
const defaultAuthMessage = "Authentication failed. Please login again."

// AuthError means the session ended: the backend rejected the credentials
// and no refresh could recover. Credentials are cleared before it is returned.
type AuthError struct {
	Op      string
	Message string
	Err     error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Message)
}

func (e *AuthError) Unwrap() error { return e.Err }

// Is reports a match against ErrAuthentication.
func (e *AuthError) Is(target error) bool { return target == ErrAuthentication }

// RequestError is a non-2xx response other than a terminal 401. The session
// is left intact.
type RequestError struct {
	Op      string
	Status  int
	Message string
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s: %s (HTTP %d)", e.Op, e.Message, e.Status)
}

// NetworkError means no response arrived: connection failure, DNS,
// cancellation or timeout.
type NetworkError struct {
	Op  string
	Err error

	timeout bool
}

func (e *NetworkError) Error() string {
	if e.timeout {
		return fmt.Sprintf("%s: request timed out: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Is reports a match against ErrTimeout for deadline failures.
func (e *NetworkError) Is(target error) bool { return e.timeout && target == ErrTimeout }

// Timeout reports whether the request ran out of time.
func (e *NetworkError) Timeout() bool { return e.timeout }

// ValidationError is raised before anything is sent.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

// Is reports a match against ErrInvalidInput.
func (e *ValidationError) Is(target error) bool { return target == ErrInvalidInput }

// IsAuthError reports whether err ended the session.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuthentication)
}

// StatusOf returns the backend HTTP status carried by err, or 0.
func StatusOf(err error) int {
	var reqErr *RequestError
	if errors.As(err, &reqErr) {
		return reqErr.Status
	}
	return 0
}
