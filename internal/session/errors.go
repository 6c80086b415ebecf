package session

import (
	"errors"
	"fmt"
)

// Step names a lifecycle step for error reporting.
type Step string

// Lifecycle steps.
const (
	StepBoot     Step = "boot"
	StepAttach   Step = "attach"
	StepMount    Step = "mount"
	StepEnter    Step = "enter"
	StepTeardown Step = "teardown"
)

var (
	// ErrBoot indicates the guest kernel could not be started
	ErrBoot = errors.New("kernel boot failed")

	// ErrAttach indicates the guest rejected the block device
	ErrAttach = errors.New("device attach failed")

	// ErrMount indicates the filesystem could not be mounted
	ErrMount = errors.New("mount failed")

	// ErrEnter indicates the session could not move into the mount point
	ErrEnter = errors.New("enter failed")

	// ErrNotMounted is returned when operations are requested outside
	// the mounted state
	ErrNotMounted = errors.New("session is not mounted")

	// ErrState is returned when a step is called out of order
	ErrState = errors.New("step called in wrong state")
)

var stepErrors = map[Step]error{
	StepBoot:   ErrBoot,
	StepAttach: ErrAttach,
	StepMount:  ErrMount,
	StepEnter:  ErrEnter,
}

// Error reports a failed lifecycle step together with the guest error.
type Error struct {
	Step   Step   // Step that failed
	Detail string // What the step was doing
	Err    error  // Underlying guest error
}

// Error implements the error interface
func (e *Error) Error() string {
	if e.Detail == "" {
		return fmt.Sprintf("%s: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("%s %s: %v", e.Step, e.Detail, e.Err)
}

// Unwrap returns the guest error
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches the sentinel of the failing step.
func (e *Error) Is(target error) bool {
	sentinel, ok := stepErrors[e.Step]
	return ok && sentinel == target
}

func newError(step Step, err error, format string, args ...interface{}) *Error {
	return &Error{Step: step, Detail: fmt.Sprintf(format, args...), Err: err}
}
