package dispatcher

import (
	"fmt"

	"github.com/kestrelflow/engine/pkg/swarm"
)

// ErrorClass is the two-way failure taxonomy assigned to a dispatch error:
// transient (worth retrying within the swarm executor's retry budget) or
// permanent (give up on this agent; the phase fails). Schema-invalid agent
// output is permanent, not policy_violation — that class is reserved for a
// governance gate blocking a phase (handled entirely in pkg/engine, outside
// dispatch).
type ErrorClass string

// Error classes.
const (
	ErrorClassTransient ErrorClass = "transient"
	ErrorClassPermanent ErrorClass = "permanent"
)

// DispatchError wraps an underlying error with the class the swarm executor
// needs to decide whether to retry it.
type DispatchError struct {
	Kind ErrorClass
	Err  error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("dispatcher: %s: %v", e.Kind, e.Err)
}

func (e *DispatchError) Unwrap() error { return e.Err }

// Class satisfies swarm.ClassifiedError. Only ErrorClassTransient is worth
// retrying within a phase; ErrorClassPermanent stops the swarm executor's
// retry loop for this agent and fails the phase.
func (e *DispatchError) Class() swarm.FailureClass {
	if e.Kind == ErrorClassTransient {
		return swarm.FailureTransient
	}
	return swarm.FailurePermanent
}

func transientf(format string, args ...any) error {
	return &DispatchError{Kind: ErrorClassTransient, Err: fmt.Errorf(format, args...)}
}

func permanentf(format string, args ...any) error {
	return &DispatchError{Kind: ErrorClassPermanent, Err: fmt.Errorf(format, args...)}
}
