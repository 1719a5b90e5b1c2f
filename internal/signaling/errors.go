package signaling

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidTransition means the operation is not legal in the current
	// phase. It is always raised before any engine call.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrRoleViolation means the operation belongs to the other negotiation
	// side. It is always raised before any engine call.
	ErrRoleViolation = errors.New("role violation")
	// ErrMalformedInput means the caller supplied empty or unparseable SDP or
	// candidate JSON.
	ErrMalformedInput = errors.New("malformed input")
	// ErrNegotiation means the engine rejected an otherwise well-formed call.
	ErrNegotiation = errors.New("negotiation failed")
)

// TransitionError carries the session context of a failed operation.
type TransitionError struct {
	Op    Op
	Phase Phase
	Role  Role
	Err   error // one of the sentinels above
	Cause error // underlying parser or engine error, may be nil
}

func (e *TransitionError) Error() string {
	msg := fmt.Sprintf("%s: %v (phase %s, role %s)", e.Op, e.Err, e.Phase, e.Role)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap exposes both the sentinel and the cause to errors.Is and errors.As.
func (e *TransitionError) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.Cause}
}

func newError(op Op, phase Phase, role Role, kind, cause error) *TransitionError {
	return &TransitionError{Op: op, Phase: phase, Role: role, Err: kind, Cause: cause}
}
