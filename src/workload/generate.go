package workload

import (
	"github.com/google/uuid"
	"github.com/mosaicnetworks/rumor/src/common"
	"github.com/mosaicnetworks/rumor/src/net"
	"github.com/mosaicnetworks/rumor/src/node"
)

// GenerateOkBody carries a new unique id.
type GenerateOkBody struct {
	net.MessageBody
	ID string `json:"id"`
}

// RegisterGenerate makes n answer generate requests with a random (v4) UUID.
func RegisterGenerate(n *node.Node) {
	n.Handle(TypeGenerate, func(msg net.Message) error {
		id, err := uuid.NewRandom()
		if err != nil {
			return common.NewRPCError(common.CodeTemporarilyUnavailable, "generating id: %v", err)
		}

		return n.Reply(msg, GenerateOkBody{
			MessageBody: net.MessageBody{Type: TypeGenerateOk},
			ID:          id.String(),
		})
	})
}

// Register installs every workload of this package on n.
func Register(n *node.Node) {
	RegisterEcho(n)
	RegisterGenerate(n)
}
