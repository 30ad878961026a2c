package common

import (
	"errors"
	"fmt"
)

// NodeErrType ...
type NodeErrType uint32

const (
	// MalformedMessage is a line that is not a well-formed message envelope.
	MalformedMessage NodeErrType = iota
	// UnmatchedReply is a reply whose in_reply_to matches no pending request.
	UnmatchedReply
	// UnknownMessageType is a request for which no handler is registered.
	UnknownMessageType
	// NotInitialized is a request received before init.
	NotInitialized
)

// ErrRPCTimeout is returned by an RPC future whose deadline expired before a
// matching reply arrived.
var ErrRPCTimeout = errors.New("rpc timeout")

// NodeErr ...
type NodeErr struct {
	errType NodeErrType
	detail  string
}

// NewNodeErr ...
func NewNodeErr(errType NodeErrType, detail string) NodeErr {
	return NodeErr{
		errType: errType,
		detail:  detail,
	}
}

// Error ...
func (e NodeErr) Error() string {
	m := ""
	switch e.errType {
	case MalformedMessage:
		m = "Malformed Message"
	case UnmatchedReply:
		m = "Unmatched Reply"
	case UnknownMessageType:
		m = "Unknown Message Type"
	case NotInitialized:
		m = "Not Initialized"
	}

	return fmt.Sprintf("%s, %s", m, e.detail)
}

// IsNodeErr checks that an error is of type NodeErr and that its code matches
// the provided NodeErr code.
func IsNodeErr(err error, t NodeErrType) bool {
	var nodeErr NodeErr
	return errors.As(err, &nodeErr) && nodeErr.errType == t
}
