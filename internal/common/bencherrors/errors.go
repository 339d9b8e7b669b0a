// Package bencherrors contains the error taxonomy shared by the relay, the telemetry engine and the log analyzer.
//
// Errors are plain structs implementing the error interface. Callers wrap them with github.com/pkg/errors to attach a
// stack trace and recover them further up the stack with errors.As. Helpers in this package look through the whole
// chain, not just the topmost error.
//
// If several independent errors occur in one operation (e.g., several log files fail to parse), the operation should
// return a *multierror.Error from github.com/hashicorp/go-multierror wrapping the individual errors.
package bencherrors

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrMalformedRecord is returned when a line read from a socket or a log file doesn't match the expected layout for
// the stream it names. The record is dropped; the stream it was read from continues.
type ErrMalformedRecord struct {
	// Stream named by the record, if it could be determined.
	Stream string
	// The offending line.
	Line string
	// Number of fields expected and found.
	Expected int
	Actual   int
	// Optional message, e.g., explaining which field failed to parse.
	Message string
}

func (err *ErrMalformedRecord) Error() string {
	if err.Expected == 0 && err.Actual == 0 {
		return fmt.Sprintf("malformed record for stream %q: %s", err.Stream, err.Message)
	}
	s := fmt.Sprintf("malformed record for stream %q: expected %d fields but found %d", err.Stream, err.Expected, err.Actual)
	if err.Message != "" {
		s += "; " + err.Message
	}
	return s
}

// ErrConnection wraps a socket open/read/write failure for a given remote address.
type ErrConnection struct {
	// Remote (or local, for listeners) address.
	Address string
	// Operation that failed, e.g., "dial", "write", "read".
	Op    string
	Cause error
}

func (err *ErrConnection) Error() string {
	return fmt.Sprintf("%s %s: %v", err.Op, err.Address, err.Cause)
}

func (err *ErrConnection) Unwrap() error {
	return err.Cause
}

// ErrClockSkew signals a negative response time, i.e., the later timestamp precedes the earlier one. It is a warning:
// the observation is excluded from response-time aggregates but still counted.
type ErrClockSkew struct {
	Stream  string
	Earlier int64
	Later   int64
}

func (err *ErrClockSkew) Error() string {
	return fmt.Sprintf("negative response time for stream %q (%d < %d); clocks of the measuring processes are skewed",
		err.Stream, err.Later, err.Earlier)
}

// ErrInvalidLogFile is returned when a log file header fails validation.
type ErrInvalidLogFile struct {
	Path string
	// 1-based line number of the offending header line, if known.
	Line    int
	Message string
}

func (err *ErrInvalidLogFile) Error() string {
	if err.Line > 0 {
		return fmt.Sprintf("invalid log file %s (line %d): %s", err.Path, err.Line, err.Message)
	}
	return fmt.Sprintf("invalid log file %s: %s", err.Path, err.Message)
}

// ErrUnsupportedTarget is returned when no adapter is registered for the requested target.
type ErrUnsupportedTarget struct {
	Target    string
	Available []string
}

func (err *ErrUnsupportedTarget) Error() string {
	return fmt.Sprintf("no adapter registered for target %q; available targets are %v", err.Target, err.Available)
}

// ErrInvalidArgument is a generic error to be returned on invalid argument.
// Message is optional and is omitted from the error message if not provided.
type ErrInvalidArgument struct {
	Name    string      // Name of the field referred to, e.g., "windowSize"
	Value   interface{} // The invalid value that was provided
	Message string      // An optional message to include with the error message, e.g., explaining why the value is invalid
}

func (err *ErrInvalidArgument) Error() string {
	if err.Message == "" {
		return fmt.Sprintf("value %v is invalid for field %q", err.Value, err.Name)
	}
	return fmt.Sprintf("value %v is invalid for field %q; %s", err.Value, err.Name, err.Message)
}

// IsRecordScoped returns true if err only affects the record it was raised for. Such errors are logged and the
// record dropped; they never stop the stream or the connection the record came from.
func IsRecordScoped(err error) bool {
	{
		var e *ErrMalformedRecord
		if errors.As(err, &e) {
			return true
		}
	}
	{
		var e *ErrClockSkew
		if errors.As(err, &e) {
			return true
		}
	}
	return false
}

// IsConnectionError returns true if there's an *ErrConnection anywhere in the chain of err.
func IsConnectionError(err error) bool {
	var e *ErrConnection
	return errors.As(err, &e)
}
