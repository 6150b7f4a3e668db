package pulse

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig matches every construction-time validation failure.
	ErrInvalidConfig = errors.New("pulse: invalid config")
	// ErrAfterPulse matches the fatal error raised when the AfterPulse hook fails.
	ErrAfterPulse = errors.New("pulse: after-pulse hook failed")
)

// RequiredError reports a missing required option.
type RequiredError struct {
	Label string
	Type  string
}

func (e *RequiredError) Error() string {
	return fmt.Sprintf("%s requires a value of type %s", e.Label, e.Type)
}

func (e *RequiredError) Is(target error) bool { return target == ErrInvalidConfig }

// MismatchError reports an option whose dynamic type does not match the expected type.
type MismatchError struct {
	Label string
	Type  string
	Got   string
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("%s is not of type %s (got %s)", e.Label, e.Type, e.Got)
}

func (e *MismatchError) Is(target error) bool { return target == ErrInvalidConfig }

// RangeError reports a numeric option outside [Min, Max].
type RangeError struct {
	Label string
	Min   int64
	Max   int64
	Value int64
}

func (e *RangeError) Error() string {
	if e.Value < e.Min {
		return fmt.Sprintf("%s must be at least %d (got %d)", e.Label, e.Min, e.Value)
	}
	return fmt.Sprintf("%s must be at most %d (got %d)", e.Label, e.Max, e.Value)
}

func (e *RangeError) Is(target error) bool { return target == ErrInvalidConfig }

// UnknownOptionError reports an Options key that no Config field maps to.
type UnknownOptionError struct {
	Key string
}

func (e *UnknownOptionError) Error() string { return fmt.Sprintf("unknown option %q", e.Key) }

func (e *UnknownOptionError) Is(target error) bool { return target == ErrInvalidConfig }

// PanicError is returned in place of a callback that panicked.
type PanicError struct {
	Value any
	Stack string
}

func (e *PanicError) Error() string { return fmt.Sprintf("panic: %v", e.Value) }

// Unwrap exposes the panic value when it was itself an error.
func (e *PanicError) Unwrap() error {
	err, _ := e.Value.(error)
	return err
}

// HookError wraps the failure of an AfterPulse hook. It stops the pulse for good.
type HookError struct {
	ID  uint64
	Err error
}

func (e *HookError) Error() string {
	return fmt.Sprintf("after-pulse hook failed (id=%d): %v", e.ID, e.Err)
}

func (e *HookError) Unwrap() error { return e.Err }

func (e *HookError) Is(target error) bool { return target == ErrAfterPulse }
