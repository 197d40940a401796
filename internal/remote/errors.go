package remote

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthorized  = errors.New("remote unauthorized")
	ErrNotFound      = errors.New("remote resource not found")
	ErrNotConfigured = errors.New("remote base url not configured")
)

// StatusError is a non-2xx answer from the backend. Receiving one means the
// backend is reachable.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("http %d: %s", e.Code, e.Body)
}

// TransportError wraps a failure to reach the backend at all.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s request: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// IsTransport reports whether err means the backend could not be reached.
func IsTransport(err error) bool {
	var te *TransportError
	return errors.As(err, &te)
}
