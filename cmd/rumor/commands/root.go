package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

func init() {
	AddRunFlags(RootCmd)
}

//RootCmd is the root command for rumor. Without a sub-command it runs a node,
//which is how test harnesses start it.
var RootCmd = &cobra.Command{
	Use:              "rumor",
	Short:            "gossip broadcast node speaking line-delimited JSON on stdio",
	TraverseChildren: true,
	PreRunE:          loadConfig,
	RunE:             runRumor,
}
