package judge

import (
	"errors"
	"fmt"
)

// ErrTransport indicates the engine could not be reached or answered with a server error.
// Callers treat it as transient.
var ErrTransport = errors.New("judge transport failure")

// ErrRejected indicates the engine refused the request (4xx). Retrying does not help.
var ErrRejected = errors.New("judge rejected request")

// ErrInvalidRequest indicates a request that was never sent because it is incomplete.
var ErrInvalidRequest = errors.New("invalid judge request")

// TransportError describes a failed round trip to the engine.
type TransportError struct {
	Op         string
	StatusCode int
	Err        error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("judge %s: status %d: %v", e.Op, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("judge %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Is lets errors.Is(err, ErrTransport) match any TransportError.
func (e *TransportError) Is(target error) bool {
	return target == ErrTransport
}
