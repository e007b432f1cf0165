// Package errors defines the five-level error taxonomy that crosses the
// KVStore boundary. The core never lets filesystem-layer vocabulary leak to
// a caller: every failure path translates into one of the Code values below.
package errors

import (
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Code classifies a KVStore failure.
type Code int

const (
	CodeOK Code = 0

	// Expected absence - returned as a status code, never logged.
	CodeKeyNotFound       Code = 1001
	CodeUnknownCollection Code = 1002

	// Background fetch required.
	CodeWouldBlock Code = 1003

	// Transient I/O - logged at warning, operation fails. Open may retry.
	CodeSystemError Code = 2001

	// Corruption - malformed metadata, unreadable header.
	CodeTempFail Code = 2002

	// Compaction aborted, original revision preserved.
	CodeCompactionFailed Code = 2003

	// Malformed input rejected before it reached the KVStore boundary.
	CodeInvalidArgument Code = 3001
)

// Error is the structured error returned across the KVStore boundary.
type Error struct {
	Code    Code
	Message string
	Details map[string]interface{}
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is lets errors.Is match on Code alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// ToGRPCStatus maps the taxonomy onto gRPC status codes for the admin surface.
func (e *Error) ToGRPCStatus() *status.Status {
	return status.New(e.toGRPCCode(), e.Error())
}

func (e *Error) toGRPCCode() codes.Code {
	switch e.Code {
	case CodeOK:
		return codes.OK
	case CodeKeyNotFound, CodeUnknownCollection:
		return codes.NotFound
	case CodeWouldBlock:
		return codes.Unavailable
	case CodeTempFail:
		return codes.DataLoss
	case CodeCompactionFailed:
		return codes.Aborted
	case CodeInvalidArgument:
		return codes.InvalidArgument
	default:
		return codes.Internal
	}
}

func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]interface{})}
}

func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, Details: make(map[string]interface{}), Cause: cause}
}

func (e *Error) WithDetail(key string, value interface{}) *Error {
	e.Details[key] = value
	return e
}

// Convenience constructors, one per taxonomy member.

func KeyNotFound(vbid uint16, key string) *Error {
	return New(CodeKeyNotFound, fmt.Sprintf("key not found: vb%d:%s", vbid, key)).
		WithDetail("vbucket_id", vbid).
		WithDetail("key", key)
}

func UnknownCollection(collection string) *Error {
	return New(CodeUnknownCollection, fmt.Sprintf("unknown collection: %s", collection)).
		WithDetail("collection", collection)
}

func WouldBlock(key string) *Error {
	return New(CodeWouldBlock, "background fetch required").WithDetail("key", key)
}

func SystemError(message string, cause error) *Error {
	return Wrap(CodeSystemError, message, cause)
}

func TempFail(message string, cause error) *Error {
	return Wrap(CodeTempFail, message, cause)
}

func CompactionFailed(message string, cause error) *Error {
	return Wrap(CodeCompactionFailed, message, cause)
}

func InvalidArgument(message string) *Error {
	return New(CodeInvalidArgument, message)
}

// IsStorageError reports whether err is a *Error.
func IsStorageError(err error) bool {
	_, ok := err.(*Error)
	return ok
}

// GetCode extracts the Code from err, defaulting to CodeSystemError for
// errors that never crossed the taxonomy boundary.
func GetCode(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeSystemError
}
