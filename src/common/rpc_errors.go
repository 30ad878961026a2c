package common

import (
	"errors"
	"fmt"
)

// Error codes carried in the code field of an error body. The harness
// understands these values; codes 0-999 are reserved.
const (
	CodeTimeout                = 0
	CodeNodeNotFound           = 1
	CodeNotSupported           = 10
	CodeTemporarilyUnavailable = 11
	CodeMalformedRequest       = 12
	CodeCrash                  = 13
	CodeAbort                  = 14
	CodePreconditionFailed     = 22
)

var codeNames = map[int]string{
	CodeTimeout:                "timeout",
	CodeNodeNotFound:           "node-not-found",
	CodeNotSupported:           "not-supported",
	CodeTemporarilyUnavailable: "temporarily-unavailable",
	CodeMalformedRequest:       "malformed-request",
	CodeCrash:                  "crash",
	CodeAbort:                  "abort",
	CodePreconditionFailed:     "precondition-failed",
}

// RPCError is a protocol-level error, sent to or received from another node as
// an error body.
type RPCError struct {
	Code int
	Text string
}

// NewRPCError ...
func NewRPCError(code int, format string, args ...interface{}) *RPCError {
	return &RPCError{
		Code: code,
		Text: fmt.Sprintf(format, args...),
	}
}

// Error ...
func (e *RPCError) Error() string {
	name, ok := codeNames[e.Code]
	if !ok {
		name = fmt.Sprintf("code %d", e.Code)
	}
	return fmt.Sprintf("RPCError(%s, %q)", name, e.Text)
}

// ErrorCode returns the error code of err if it is an *RPCError, or
// CodeCrash otherwise.
func ErrorCode(err error) int {
	var rpcErr *RPCError
	if errors.As(err, &rpcErr) {
		return rpcErr.Code
	}
	return CodeCrash
}
