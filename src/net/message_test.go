package net

import (
	"encoding/json"
	"testing"

	"github.com/mosaicnetworks/rumor/src/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage(t *testing.T) {
	line := []byte(`{"src":"c1","dest":"n1","body":{"type":"broadcast","msg_id":3,"message":7}}`)

	msg, err := DecodeMessage(line)
	require.NoError(t, err)

	assert.Equal(t, "c1", msg.Src)
	assert.Equal(t, "n1", msg.Dest)
	assert.Equal(t, "broadcast", msg.Type())
	assert.Equal(t, 3, msg.MsgID())
	assert.Equal(t, 0, msg.InReplyTo())
	assert.False(t, msg.IsReply())

	var body struct {
		MessageBody
		Message int `json:"message"`
	}
	require.NoError(t, msg.DecodeBody(&body))
	assert.Equal(t, 7, body.Message)
}

func TestDecodeMessageKeepsUnknownFields(t *testing.T) {
	line := []byte(`{"src":"n2","dest":"n1","body":{"type":"whatever","in_reply_to":4,"extra":{"a":[1,2]}}}`)

	msg, err := DecodeMessage(line)
	require.NoError(t, err)
	assert.True(t, msg.IsReply())

	out, err := EncodeMessage(msg)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(out, &decoded))
	body := decoded["body"].(map[string]interface{})
	assert.Equal(t, "whatever", body["type"])
	assert.NotNil(t, body["extra"])
}

func TestDecodeMessageMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":     `{"src":"n1"`,
		"no src":       `{"dest":"n1","body":{"type":"read"}}`,
		"no dest":      `{"src":"c1","body":{"type":"read"}}`,
		"no body":      `{"src":"c1","dest":"n1"}`,
		"array body":   `{"src":"c1","dest":"n1","body":[1,2]}`,
		"no type":      `{"src":"c1","dest":"n1","body":{"msg_id":1}}`,
		"bad msg_id":   `{"src":"c1","dest":"n1","body":{"type":"read","msg_id":"x"}}`,
		"scalar value": `42`,
		"trailing":     `{"src":"c1","dest":"n1","body":{"type":"read","msg_id":1}} garbage`,
		"two messages": `{"src":"c1","dest":"n1","body":{"type":"read"}}{"src":"c1","dest":"n1","body":{"type":"read"}}`,
	}

	for name, line := range cases {
		_, err := DecodeMessage([]byte(line))
		if !common.IsNodeErr(err, common.MalformedMessage) {
			t.Errorf("%s: expected MalformedMessage error, got %v", name, err)
		}
	}
}

func TestNewMessageWithIDs(t *testing.T) {
	body := struct {
		MessageBody
		Messages []int `json:"messages"`
	}{
		MessageBody: MessageBody{Type: "read_ok"},
		Messages:    []int{1, 2},
	}

	msg, err := NewMessageWithIDs("n1", "c1", body, 5, 9)
	require.NoError(t, err)

	assert.Equal(t, "read_ok", msg.Type())
	assert.Equal(t, 5, msg.MsgID())
	assert.Equal(t, 9, msg.InReplyTo())

	// the encoded form decodes back to the same header
	out, err := EncodeMessage(msg)
	require.NoError(t, err)
	back, err := DecodeMessage(out)
	require.NoError(t, err)
	assert.Equal(t, 5, back.MsgID())
	assert.Equal(t, 9, back.InReplyTo())
}

func TestNewMessageOmitsZeroIDs(t *testing.T) {
	msg, err := NewMessage("n1", "n2", MessageBody{Type: "gossip"})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"gossip"}`, string(msg.Body))
}

func TestErrorBodyKeepsZeroCode(t *testing.T) {
	msg, err := NewMessage("n1", "c1", ErrorBody{
		MessageBody: MessageBody{Type: TypeError, InReplyTo: 2},
		Code:        common.CodeTimeout,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{"type":"error","in_reply_to":2,"code":0}`, string(msg.Body))

	rpcErr := msg.RPCError()
	require.NotNil(t, rpcErr)
	assert.Equal(t, common.CodeTimeout, rpcErr.Code)
}

func TestRPCErrorOnNonError(t *testing.T) {
	msg, err := NewMessage("n1", "c1", MessageBody{Type: "echo_ok"})
	require.NoError(t, err)
	assert.Nil(t, msg.RPCError())
}

func TestDecodeBodyFailure(t *testing.T) {
	msg, err := DecodeMessage([]byte(`{"src":"c1","dest":"n1","body":{"type":"broadcast","message":"seven"}}`))
	require.NoError(t, err)

	var body struct {
		Message int `json:"message"`
	}
	err = msg.DecodeBody(&body)
	require.Error(t, err)
	assert.Equal(t, common.CodeMalformedRequest, common.ErrorCode(err))
}
