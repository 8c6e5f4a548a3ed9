package switcher

import (
	"fmt"

	"pkt.systems/shellkeep/schema"
)

// Step names the collaborator call that failed.
type Step string

const (
	// StepDetach is the detach from the current session.
	StepDetach Step = "detach"
	// StepAttach is the attach to the target session.
	StepAttach Step = "attach"
)

// ValidationError reports a target name rejected before any daemon contact.
type ValidationError struct {
	Name schema.SessionName
	Err  error
}

func (e *ValidationError) Error() string {
	return e.Err.Error()
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

// TransportError reports a failed detach or attach.
type TransportError struct {
	Step    Step
	Session schema.SessionName
	Err     error
}

func (e *TransportError) Error() string {
	switch e.Step {
	case StepDetach:
		return fmt.Sprintf("detaching from current session %q: %v", e.Session, e.Err)
	case StepAttach:
		return fmt.Sprintf("attaching to target session %q: %v", e.Session, e.Err)
	default:
		return fmt.Sprintf("%s %q: %v", e.Step, e.Session, e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	return e.Err
}
