package appointments

import (
	"errors"
	"fmt"
)

var (
	ErrAppointmentNotFound = errors.New("appointment not found")
	ErrIllegalTransition   = errors.New("illegal status transition")
)

// TransitionError describes a rejected status change. It unwraps to
// ErrIllegalTransition so callers can branch with errors.Is.
type TransitionError struct {
	From   Status
	To     Status
	Mode   Mode
	Reason string
}

func (e *TransitionError) Error() string {
	if e.Reason != "" {
		return fmt.Sprintf("appointments: transition %s -> %s (%s): %s", e.From, e.To, e.Mode, e.Reason)
	}
	return fmt.Sprintf("appointments: transition %s -> %s (%s) not allowed", e.From, e.To, e.Mode)
}

func (e *TransitionError) Unwrap() error {
	return ErrIllegalTransition
}
