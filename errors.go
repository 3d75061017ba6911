package txsample

import (
	"errors"
	"fmt"
)

var (
	// ErrProtocolViolation indicates that the instrumentation layer reported
	// events which don't nest correctly, e.g. an exit that doesn't match the
	// most recent entry. It signals a bug at the call site, and the trace being
	// built for that execution context should be considered corrupt.
	ErrProtocolViolation = errors.New("protocol violation")

	// ErrNotFinished is returned when a trace is requested from a builder
	// before the trace has been finished.
	ErrNotFinished = errors.New("not finished building")

	// ErrFrozen is returned by attempts to mutate a finished trace.
	ErrFrozen = errors.New("trace is frozen")
)

// UnbalancedExitError is returned when an exit event names a different
// operation than the innermost open segment.
type UnbalancedExitError struct {
	Have string // name given to the exit event
	Want string // name of the innermost open segment, empty if none is open
}

// Error implements the error interface.
func (e *UnbalancedExitError) Error() string {
	if e.Want == "" {
		return fmt.Sprintf("unbalanced entry/exit: exit %q with no open entry", e.Have)
	}
	return fmt.Sprintf("unbalanced entry/exit: %s != %s", e.Have, e.Want)
}

// Is makes the error match ErrProtocolViolation.
func (e *UnbalancedExitError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// OpenSegmentError is returned when a trace is finished while a segment other
// than the root is still open.
type OpenSegmentError struct {
	Name string
}

// Error implements the error interface.
func (e *OpenSegmentError) Error() string {
	return fmt.Sprintf("finish with open segment %q", e.Name)
}

// Is makes the error match ErrProtocolViolation.
func (e *OpenSegmentError) Is(target error) bool {
	return target == ErrProtocolViolation
}

// SegmentExitedError is returned when a segment is ended more than once.
type SegmentExitedError struct {
	Name string
}

// Error implements the error interface.
func (e *SegmentExitedError) Error() string {
	return fmt.Sprintf("segment %q already exited", e.Name)
}

// Is makes the error match ErrProtocolViolation.
func (e *SegmentExitedError) Is(target error) bool {
	return target == ErrProtocolViolation
}
