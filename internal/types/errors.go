package types

import (
	"errors"
	"fmt"
)

// ErrorKind is the machine-readable class of a failure.
type ErrorKind string

const (
	KindNotFound        ErrorKind = "NotFound"
	KindInvalidArgument ErrorKind = "InvalidArgument"
	KindConflict        ErrorKind = "Conflict"
	KindUpstreamTimeout ErrorKind = "UpstreamTimeout"
	KindPartialFailure  ErrorKind = "PartialFailure"
	KindCancelled       ErrorKind = "Cancelled"
	KindInternal        ErrorKind = "Internal"
)

// Error is a classified failure. CommittedIDs lists the ids of whatever was
// durably written before the failure, so that callers can inspect or repair it.
type Error struct {
	Kind         ErrorKind
	Message      string
	CommittedIDs []string
	Cause        error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// MakeNotFoundError creates a new NotFound error with formatted message.
func MakeNotFoundError(format string, args ...interface{}) error {
	return &Error{Kind: KindNotFound, Message: fmt.Sprintf(format, args...)}
}

// MakeInvalidArgumentError creates a new InvalidArgument error with formatted message.
func MakeInvalidArgumentError(format string, args ...interface{}) error {
	return &Error{Kind: KindInvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// MakeConflictError creates a new Conflict error with formatted message.
func MakeConflictError(format string, args ...interface{}) error {
	return &Error{Kind: KindConflict, Message: fmt.Sprintf(format, args...)}
}

// MakeUpstreamTimeoutError reports an assistant deadline overrun after some writes were committed.
func MakeUpstreamTimeoutError(committedIDs []string, cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindUpstreamTimeout, Message: fmt.Sprintf(format, args...), CommittedIDs: committedIDs, Cause: cause}
}

// MakePartialFailureError reports a multi-step operation that committed only part of its writes.
func MakePartialFailureError(committedIDs []string, cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindPartialFailure, Message: fmt.Sprintf(format, args...), CommittedIDs: committedIDs, Cause: cause}
}

// MakeCancelledError reports an operation abandoned at the caller's request before it wrote anything.
func MakeCancelledError(cause error, format string, args ...interface{}) error {
	return &Error{Kind: KindCancelled, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// KindOf returns the kind of err, looking through wrapping. Unclassified errors are Internal.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// CommittedIDsOf returns the committed ids carried by err, if any.
func CommittedIDsOf(err error) []string {
	var e *Error
	if errors.As(err, &e) {
		return e.CommittedIDs
	}
	return nil
}

func IsNotFound(err error) bool { return KindOf(err) == KindNotFound }
func IsConflict(err error) bool { return KindOf(err) == KindConflict }
