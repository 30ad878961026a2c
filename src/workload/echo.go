package workload

import (
	"encoding/json"

	"github.com/mosaicnetworks/rumor/src/net"
	"github.com/mosaicnetworks/rumor/src/node"
)

// Body types handled by this package.
const (
	TypeEcho       = "echo"
	TypeEchoOk     = "echo_ok"
	TypeGenerate   = "generate"
	TypeGenerateOk = "generate_ok"
)

// EchoBody carries an arbitrary JSON value, returned as is.
type EchoBody struct {
	net.MessageBody
	Echo json.RawMessage `json:"echo"`
}

// RegisterEcho makes n answer echo requests with echo_ok and the same value.
func RegisterEcho(n *node.Node) {
	n.Handle(TypeEcho, func(msg net.Message) error {
		var body EchoBody
		if err := msg.DecodeBody(&body); err != nil {
			return err
		}

		return n.Reply(msg, EchoBody{
			MessageBody: net.MessageBody{Type: TypeEchoOk},
			Echo:        body.Echo,
		})
	})
}
