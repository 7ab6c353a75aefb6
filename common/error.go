package common

import (
	"errors"
	"fmt"
	"runtime"
	"strings"
)

// TracedError contains an error and the list of origin frames
type TracedError struct {
	Err    error
	Frames []runtime.Frame
}

// Error implements error interface
func (err *TracedError) Error() string {
	str := fmt.Sprint(err.Err)
	for _, frame := range err.Frames {
		str += fmt.Sprintf("\n[%s:%d]", frame.Function, frame.Line)
	}
	return str
}

// Unwrap lets errors.Is/errors.As see through to the wrapped error.
func (err *TracedError) Unwrap() error {
	return err.Err
}

// Error creates a new TracedError from 'e' or appends a new frame if 'e' is TracedError
func Error(e interface{}) *TracedError {
	if e == nil {
		return nil
	}

	frame := getLastFrame()

	switch err := e.(type) {
	case *TracedError:
		err.Frames = append(err.Frames, frame)
		return err

	case error:
		return &TracedError{
			Err:    err,
			Frames: []runtime.Frame{frame},
		}

	default:
		return &TracedError{
			Err:    fmt.Errorf("%v", e),
			Frames: []runtime.Frame{frame},
		}
	}
}

// Errorf creates a new TracedError using the provided format and args
func Errorf(format string, args ...interface{}) *TracedError {
	return &TracedError{
		Err:    fmt.Errorf(format, args...),
		Frames: []runtime.Frame{getLastFrame()},
	}
}

// MergeErrors merges multiple errors into a single TracedError
func MergeErrors(errors []error) *TracedError {
	if len(errors) == 0 {
		return nil
	}

	str := make([]string, 0, len(errors))
	for _, err := range errors {
		str = append(str, fmt.Sprint(err))
	}

	return &TracedError{
		Err:    fmt.Errorf("%s", strings.Join(str, "; ")),
		Frames: []runtime.Frame{getLastFrame()},
	}
}

func getLastFrame() runtime.Frame {
	pc := make([]uintptr, 1)
	n := runtime.Callers(3, pc)
	frames := runtime.CallersFrames(pc[:n])
	frame, _ := frames.Next()

	return frame
}

// Sentinel error kinds from spec.md §7. Wrap one of these with Error()
// or Errorf("...: %w", ErrX) so callers can errors.Is/errors.As against
// a stable kind while the TracedError keeps its frame trail.
var (
	// ErrBinaryMissing is returned when the launcher is asked to run a
	// binary path that does not exist.
	ErrBinaryMissing = errors.New("binary does not exist")
	// ErrForkFailed is returned when the kernel refuses to fork the tracee.
	ErrForkFailed = errors.New("fork failed")
	// ErrAddressUnreachable is returned when installing a breakpoint hits
	// EIO reading the tracee's text, the signature of a position
	// independent executable with compile-time-invalid absolute addresses.
	ErrAddressUnreachable = errors.New("address unreachable: binary is likely position-independent; rebuild with PIE disabled")
	// ErrDuplicateBreakpoint names the case of a breakpoint already
	// existing at the requested address. No function returns it: the
	// Initialise step skips an address that already has a breakpoint.
	ErrDuplicateBreakpoint = errors.New("breakpoint already exists at this address")
)

// TraceRuntimeError wraps an unexpected-signal / unknown-event failure
// that should abort the run (spec.md §7 "TraceRuntime(msg)").
type TraceRuntimeError struct {
	Msg string
}

func (e *TraceRuntimeError) Error() string { return "trace runtime error: " + e.Msg }

// NewTraceRuntimeError builds a TraceRuntimeError wrapped with call-frame info.
func NewTraceRuntimeError(format string, args ...interface{}) *TracedError {
	return Error(&TraceRuntimeError{Msg: fmt.Sprintf(format, args...)})
}

// BreakpointInstallError wraps a non-EIO breakpoint installation failure.
type BreakpointInstallError struct {
	Msg string
}

func (e *BreakpointInstallError) Error() string { return "breakpoint install error: " + e.Msg }

// NewBreakpointInstallError builds a BreakpointInstallError wrapped with call-frame info.
func NewBreakpointInstallError(format string, args ...interface{}) *TracedError {
	return Error(&BreakpointInstallError{Msg: fmt.Sprintf(format, args...)})
}

// StateMachineError wraps an unreachable-transition failure.
type StateMachineError struct {
	Msg string
}

func (e *StateMachineError) Error() string { return "state machine error: " + e.Msg }

// NewStateMachineError builds a StateMachineError wrapped with call-frame info.
func NewStateMachineError(format string, args ...interface{}) *TracedError {
	return Error(&StateMachineError{Msg: fmt.Sprintf(format, args...)})
}
