package net

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/mosaicnetworks/rumor/src/common"
)

// Body types shared by every node, regardless of workload.
const (
	TypeInit   = "init"
	TypeInitOk = "init_ok"
	TypeError  = "error"
)

// Message is the envelope exchanged between nodes and with the harness. Body is
// kept raw so that handlers can decode it into their own types.
type Message struct {
	Src  string          `json:"src"`
	Dest string          `json:"dest"`
	Body json.RawMessage `json:"body"`

	header MessageBody
}

// MessageBody is the header common to every body. Typed bodies embed it.
type MessageBody struct {
	Type      string `json:"type"`
	MsgID     int    `json:"msg_id,omitempty"`
	InReplyTo int    `json:"in_reply_to,omitempty"`
}

// InitBody is sent once by the harness to tell a node its identity and the ids
// of every node in the cluster.
type InitBody struct {
	MessageBody
	NodeID  string   `json:"node_id"`
	NodeIDs []string `json:"node_ids"`
}

// ErrorBody is the reply to a request that could not be served. Code is always
// serialized, since 0 is a meaningful code.
type ErrorBody struct {
	MessageBody
	Code int    `json:"code"`
	Text string `json:"text,omitempty"`
}

// NewMessage builds a Message from any body value that marshals to a JSON
// object with a type field.
func NewMessage(src, dest string, body interface{}) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("marshalling body: %w", err)
	}

	var header MessageBody
	if err := json.Unmarshal(raw, &header); err != nil {
		return Message{}, fmt.Errorf("body is not an object: %w", err)
	}

	return Message{
		Src:    src,
		Dest:   dest,
		Body:   raw,
		header: header,
	}, nil
}

// NewMessageWithIDs is like NewMessage but stamps msg_id and in_reply_to on the
// body, overriding the values it already carries. Zero ids are left untouched.
func NewMessageWithIDs(src, dest string, body interface{}, msgID, inReplyTo int) (Message, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return Message{}, fmt.Errorf("marshalling body: %w", err)
	}

	fields := make(map[string]json.RawMessage)
	if err := json.Unmarshal(raw, &fields); err != nil {
		return Message{}, fmt.Errorf("body is not an object: %w", err)
	}

	if msgID != 0 {
		fields["msg_id"] = json.RawMessage(strconv.Itoa(msgID))
	}
	if inReplyTo != 0 {
		fields["in_reply_to"] = json.RawMessage(strconv.Itoa(inReplyTo))
	}

	return NewMessage(src, dest, fields)
}

// DecodeMessage parses one line into a Message. It fails with a
// MalformedMessage error when the line is not an envelope with a src, a dest,
// and a body object carrying a type.
func DecodeMessage(line []byte) (Message, error) {
	var msg Message

	// trailing content after the envelope is a syntax error
	if err := json.Unmarshal(line, &msg); err != nil {
		return Message{}, common.NewNodeErr(common.MalformedMessage, err.Error())
	}

	if msg.Src == "" || msg.Dest == "" {
		return Message{}, common.NewNodeErr(common.MalformedMessage, "missing src or dest")
	}

	if len(msg.Body) == 0 || msg.Body[0] != '{' {
		return Message{}, common.NewNodeErr(common.MalformedMessage, "body is not an object")
	}

	if err := json.Unmarshal(msg.Body, &msg.header); err != nil {
		return Message{}, common.NewNodeErr(common.MalformedMessage, err.Error())
	}

	if msg.header.Type == "" {
		return Message{}, common.NewNodeErr(common.MalformedMessage, "body has no type")
	}

	return msg, nil
}

// EncodeMessage returns the JSON encoding of msg, without a trailing newline.
func EncodeMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}

// Type returns the body type.
func (m Message) Type() string {
	return m.header.Type
}

// MsgID returns the body msg_id, or 0 if there is none.
func (m Message) MsgID() int {
	return m.header.MsgID
}

// InReplyTo returns the body in_reply_to, or 0 if the message is not a reply.
func (m Message) InReplyTo() int {
	return m.header.InReplyTo
}

// IsReply reports whether the message answers a previous request.
func (m Message) IsReply() bool {
	return m.header.InReplyTo != 0
}

// DecodeBody unmarshals the raw body into v.
func (m Message) DecodeBody(v interface{}) error {
	if err := json.Unmarshal(m.Body, v); err != nil {
		return common.NewRPCError(common.CodeMalformedRequest, "%s body: %v", m.header.Type, err)
	}
	return nil
}

// RPCError returns the error carried by an error body, or nil if the message
// is not an error.
func (m Message) RPCError() *common.RPCError {
	if m.header.Type != TypeError {
		return nil
	}

	var body ErrorBody
	if err := json.Unmarshal(m.Body, &body); err != nil {
		return common.NewRPCError(common.CodeMalformedRequest, "undecodable error body: %v", err)
	}

	return &common.RPCError{Code: body.Code, Text: body.Text}
}

// String ...
func (m Message) String() string {
	return fmt.Sprintf("%s->%s %s", m.Src, m.Dest, string(m.Body))
}
