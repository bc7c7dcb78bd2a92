package execution

import (
	"errors"
	"fmt"
	"strings"
)

// Error kinds. Every error returned by managers and services is an *Error
// whose Kind is one of these sentinels, so callers match with errors.Is.
var (
	// ErrConnection indicates the engine stayed unreachable after the retry budget.
	ErrConnection = errors.New("workflow engine unreachable")
	// ErrNotRegistered indicates the requested unit is absent from the registry.
	ErrNotRegistered = errors.New("unit not registered")
	// ErrClassInvalid indicates the implementation fails the capability check.
	ErrClassInvalid = errors.New("invalid unit implementation")
	// ErrInvalidSchedule indicates a malformed cron expression.
	ErrInvalidSchedule = errors.New("invalid cron schedule")
	// ErrInvalidArguments indicates arguments rejected by the unit's schema.
	ErrInvalidArguments = errors.New("invalid unit arguments")
	// ErrStart indicates the engine rejected the start of a registered unit.
	ErrStart = errors.New("start rejected by workflow engine")
	// ErrIDNotFound indicates the execution id is unknown to the engine.
	ErrIDNotFound = errors.New("execution not found")
	// ErrEngine indicates any other failed engine request.
	ErrEngine = errors.New("workflow engine request failed")

	// ErrAlreadyClosed is matched by every terminal-state guard error.
	ErrAlreadyClosed = errors.New("execution already closed")
	// ErrAlreadyCompleted reports a request against a COMPLETED execution.
	ErrAlreadyCompleted = errors.New("execution already completed")
	// ErrAlreadyCanceled reports a request against a CANCELED execution.
	ErrAlreadyCanceled = errors.New("execution already canceled")
	// ErrAlreadyTerminated reports a request against a TERMINATED execution.
	ErrAlreadyTerminated = errors.New("execution already terminated")
	// ErrAlreadyFailed reports a request against a FAILED execution.
	ErrAlreadyFailed = errors.New("execution already failed")
	// ErrAlreadyTimedOut reports a request against a TIMED_OUT execution.
	ErrAlreadyTimedOut = errors.New("execution already timed out")
)

var codes = map[error]string{
	ErrConnection:        "connection_error",
	ErrNotRegistered:     "not_registered",
	ErrClassInvalid:      "class_invalid",
	ErrInvalidSchedule:   "invalid_schedule",
	ErrInvalidArguments:  "invalid_arguments",
	ErrStart:             "start_error",
	ErrIDNotFound:        "id_not_found",
	ErrEngine:            "engine_error",
	ErrAlreadyCompleted:  "already_completed",
	ErrAlreadyCanceled:   "already_canceled",
	ErrAlreadyTerminated: "already_terminated",
	ErrAlreadyFailed:     "already_failed",
	ErrAlreadyTimedOut:   "already_timed_out",
}

// Error is the typed error of the orchestration layer. The populated fields
// depend on Kind.
type Error struct {
	// Kind is one of the package sentinels.
	Kind error
	// Unit names the unit involved, if any.
	Unit string
	// Base names the expected base contract for ErrClassInvalid.
	Base string
	// ExecutionID names the execution involved, if any.
	ExecutionID string
	// Address is the engine address for ErrConnection.
	Address string
	// Attempts is the number of connection attempts for ErrConnection.
	Attempts int
	// Err is the underlying cause.
	Err error
}

// Error implements error.
func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.Error())
	if e.Unit != "" {
		fmt.Fprintf(&b, " (unit %q", e.Unit)
		if e.Base != "" {
			fmt.Fprintf(&b, ", expected %s", e.Base)
		}
		b.WriteString(")")
	}
	if e.ExecutionID != "" {
		fmt.Fprintf(&b, " (execution %q)", e.ExecutionID)
	}
	if e.Address != "" {
		fmt.Fprintf(&b, " at %s", e.Address)
	}
	if e.Attempts > 0 {
		fmt.Fprintf(&b, " after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap exposes the kind, ErrAlreadyClosed for guard errors, and the cause.
func (e *Error) Unwrap() []error {
	errs := []error{e.Kind}
	if isGuardKind(e.Kind) {
		errs = append(errs, ErrAlreadyClosed)
	}
	if e.Err != nil {
		errs = append(errs, e.Err)
	}
	return errs
}

// Code returns the stable machine-readable code of err, or "internal" when
// err is not an orchestration error.
func Code(err error) string {
	var e *Error
	if !errors.As(err, &e) {
		return "internal"
	}
	if c, ok := codes[e.Kind]; ok {
		return c
	}
	return "internal"
}

// GuardError returns the guard violation for a request against an execution
// in status s, or nil when s is not terminal.
func GuardError(id string, s Status) error {
	var kind error
	switch s {
	case StatusCompleted:
		kind = ErrAlreadyCompleted
	case StatusCanceled:
		kind = ErrAlreadyCanceled
	case StatusTerminated:
		kind = ErrAlreadyTerminated
	case StatusFailed:
		kind = ErrAlreadyFailed
	case StatusTimedOut:
		kind = ErrAlreadyTimedOut
	default:
		return nil
	}
	return &Error{Kind: kind, ExecutionID: id}
}

func isGuardKind(kind error) bool {
	switch kind {
	case ErrAlreadyCompleted, ErrAlreadyCanceled, ErrAlreadyTerminated, ErrAlreadyFailed, ErrAlreadyTimedOut:
		return true
	}
	return false
}
