package commands

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/mosaicnetworks/rumor/src/broadcast"
	"github.com/mosaicnetworks/rumor/src/net"
	"github.com/mosaicnetworks/rumor/src/node"
	"github.com/mosaicnetworks/rumor/src/service"
	"github.com/mosaicnetworks/rumor/src/telemetry"
	"github.com/mosaicnetworks/rumor/src/version"
	"github.com/mosaicnetworks/rumor/src/workload"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"
)

//NewRunCmd returns the command that starts a rumor node
func NewRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "run",
		Short:   "Run node",
		PreRunE: loadConfig,
		RunE:    runRumor,
	}
	AddRunFlags(cmd)
	return cmd
}

/*******************************************************************************
* RUN
*******************************************************************************/

func runRumor(cmd *cobra.Command, args []string) error {
	conf := &_config.Rumor
	logger := conf.Logger()

	telemetry.SetBuildInfo(version.Version)

	// stdout carries the protocol, nothing else may write to it
	trans := net.NewStdioTransport(os.Stdin, os.Stdout, logger.WithField("component", "transport"))

	n := node.NewNode(conf, trans)
	server := broadcast.NewServer(n)
	workload.Register(n)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g.Go(func() error {
		// returns at end of input
		defer cancel()
		n.Run()
		return nil
	})

	g.Go(func() error {
		return server.Run(ctx)
	})

	if !_config.NoService && conf.ServiceAddr != "" {
		svc := service.NewService(conf.ServiceAddr, n, server, logger.WithField("component", "service"))
		g.Go(func() error {
			return svc.Serve(ctx)
		})
	}

	g.Go(func() error {
		<-ctx.Done()
		n.Shutdown()
		return nil
	})

	err := g.Wait()

	if cerr := server.Close(); cerr != nil {
		logger.WithError(cerr).Error("Closing store")
	}

	logger.Debug("Bye")

	return err
}

/*******************************************************************************
* CONFIG
*******************************************************************************/

//AddRunFlags adds flags to the Run command
func AddRunFlags(cmd *cobra.Command) {

	cmd.Flags().String("datadir", _config.Rumor.DataDir, "Top-level directory for configuration and data")
	cmd.Flags().String("log", _config.Rumor.LogLevel, "debug, info, warn, error, fatal, panic")
	cmd.Flags().String("log-file", _config.Rumor.LogFile, "Also write logs to this file")

	// Gossip
	cmd.Flags().Duration("gossip-interval", _config.Rumor.GossipInterval, "Time between anti-entropy rounds")
	cmd.Flags().Duration("rpc-timeout", _config.Rumor.RPCTimeout, "Deadline of requests to other nodes")
	cmd.Flags().Bool("full-sync", _config.Rumor.FullSync, "Send the whole set in every gossip round")
	cmd.Flags().Int("full-sync-every", _config.Rumor.FullSyncEvery, "Force a full gossip round every so many rounds (0 disables)")

	// Store
	cmd.Flags().Bool("store", _config.Rumor.Store, "Use badgerDB instead of in-mem DB")
	cmd.Flags().String("db", _config.Rumor.DatabaseDir, "Dabatabase directory")

	// Service
	cmd.Flags().StringP("service-listen", "s", _config.Rumor.ServiceAddr, "Listen IP:Port for HTTP service (empty disables it)")
	cmd.Flags().Bool("no-service", _config.NoService, "Do not start the HTTP service")
}

func loadConfig(cmd *cobra.Command, args []string) error {

	err := bindFlagsLoadViper(cmd)
	if err != nil {
		return err
	}

	// If --datadir was explicitely set, but not --db, this will update the
	// default database dir to be inside the new datadir
	_config.Rumor.SetDataDir(_config.Rumor.DataDir)

	logFields := logrus.Fields{
		"rumor.DataDir":        _config.Rumor.DataDir,
		"rumor.LogLevel":       _config.Rumor.LogLevel,
		"rumor.LogFile":        _config.Rumor.LogFile,
		"rumor.GossipInterval": _config.Rumor.GossipInterval,
		"rumor.RPCTimeout":     _config.Rumor.RPCTimeout,
		"rumor.FullSync":       _config.Rumor.FullSync,
		"rumor.FullSyncEvery":  _config.Rumor.FullSyncEvery,
		"rumor.Store":          _config.Rumor.Store,
		"rumor.ServiceAddr":    _config.Rumor.ServiceAddr,
		"NoService":            _config.NoService,
	}

	if _config.Rumor.Store {
		logFields["rumor.DatabaseDir"] = _config.Rumor.DatabaseDir
	}

	logger := _config.Rumor.Logger()

	if f := viper.ConfigFileUsed(); f != "" {
		logger.Debugf("Using config file: %s", f)
	} else {
		logger.Debugf("No config file found in: %s", _config.Rumor.DataDir)
	}

	logger.WithFields(logFields).Debug("RUN")

	return nil
}

// Bind all flags and read the config into viper
func bindFlagsLoadViper(cmd *cobra.Command) error {
	// Register flags with viper. Include flags from this command and all other
	// persistent flags from the parent
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	// first unmarshal to read from CLI flags
	if err := viper.Unmarshal(_config); err != nil {
		return err
	}

	// look for config file in [datadir]/rumor.toml (.json, .yaml also work)
	viper.SetConfigName("rumor")               // name of config file (without extension)
	viper.AddConfigPath(_config.Rumor.DataDir) // search root directory

	// If a config file is found, read it in. The logger is not created yet
	// because the file may change the log level.
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return err
		}
	}

	// second unmarshal to read from config file
	return viper.Unmarshal(_config)
}
