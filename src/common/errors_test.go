package common

import (
	"errors"
	"fmt"
	"testing"
)

func TestNodeErr(t *testing.T) {
	err := fmt.Errorf("decoding: %w", NewNodeErr(MalformedMessage, "no src"))

	if !IsNodeErr(err, MalformedMessage) {
		t.Fatalf("wrapped error should be a MalformedMessage NodeErr")
	}
	if IsNodeErr(err, UnmatchedReply) {
		t.Fatalf("wrapped error should not be an UnmatchedReply NodeErr")
	}
	if IsNodeErr(errors.New("no src"), MalformedMessage) {
		t.Fatalf("plain error should not be a NodeErr")
	}
}

func TestErrorCode(t *testing.T) {
	cases := []struct {
		err  error
		code int
	}{
		{NewRPCError(CodeMalformedRequest, "bad %s", "body"), CodeMalformedRequest},
		{fmt.Errorf("handler: %w", NewRPCError(CodePreconditionFailed, "")), CodePreconditionFailed},
		{NewRPCError(CodeTimeout, ""), CodeTimeout},
		{errors.New("boom"), CodeCrash},
	}

	for i, c := range cases {
		if code := ErrorCode(c.err); code != c.code {
			t.Fatalf("case %d: code should be %d, not %d", i, c.code, code)
		}
	}

	if s := NewRPCError(1000, "custom").Error(); s != `RPCError(code 1000, "custom")` {
		t.Fatalf("unexpected error string %s", s)
	}
}

func TestStoreErr(t *testing.T) {
	err := fmt.Errorf("get: %w", NewStoreErr("Value", KeyNotFound, "5"))

	if !IsStore(err, KeyNotFound) {
		t.Fatalf("wrapped error should be a KeyNotFound StoreErr")
	}
	if IsStore(err, Corrupted) {
		t.Fatalf("wrapped error should not be a Corrupted StoreErr")
	}
}
