package capture

import (
	"errors"
	"fmt"
)

var (
	// ErrInitialization means the capture pipeline could not be set up. It is
	// never fatal; Initialize may be called again.
	ErrInitialization = errors.New("capture initialization failed")
	// ErrCapture means starting or stopping capture failed. The controller
	// has already resynchronized its state when this is returned.
	ErrCapture = errors.New("capture failed")
)

// Error describes a failed capture operation together with the state the
// controller settled on afterwards.
type Error struct {
	Op      string // "initialize", "start", "stop" or "query"
	Running bool
	Err     error // ErrInitialization or ErrCapture
	Cause   error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v (running %t)", e.Op, e.Err, e.Running)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}
