package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/mosaicnetworks/rumor/src/config"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

//NewConfigCmd returns the command that writes a default rumor.toml
func NewConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write a default configuration file",
		RunE:  writeConfig,
	}
	cmd.Flags().String("datadir", _config.Rumor.DataDir, "Top-level directory for configuration and data")
	return cmd
}

func writeConfig(cmd *cobra.Command, args []string) error {
	dataDir, err := cmd.Flags().GetString("datadir")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(dataDir, 0700); err != nil {
		return err
	}

	path := filepath.Join(dataDir, "rumor.toml")

	if err := DefaultConfigViper(dataDir).SafeWriteConfigAs(path); err != nil {
		return err
	}

	fmt.Println(path)

	return nil
}

//DefaultConfigViper returns a viper instance holding the default
//configuration for a node whose data lives in dataDir. Durations are written
//as strings so that the file reads back through the same flag names.
func DefaultConfigViper(dataDir string) *viper.Viper {
	conf := config.NewDefaultConfig()
	conf.SetDataDir(dataDir)

	v := viper.New()
	v.Set("log", conf.LogLevel)
	v.Set("gossip-interval", conf.GossipInterval.String())
	v.Set("rpc-timeout", conf.RPCTimeout.String())
	v.Set("full-sync", conf.FullSync)
	v.Set("full-sync-every", conf.FullSyncEvery)
	v.Set("store", conf.Store)
	v.Set("db", conf.DatabaseDir)
	v.Set("service-listen", conf.ServiceAddr)
	v.Set("no-service", false)

	return v
}
