package config

import (
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"testing"
	"time"

	"github.com/mosaicnetworks/rumor/src/common"
	"github.com/rifflock/lfshook"
	"github.com/sirupsen/logrus"
	prefixed "github.com/x-cray/logrus-prefixed-formatter"
)

// Default filenames.
const (
	// DefaultBadgerFile is the default name of the folder containing the Badger
	// databases
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel       = "info"
	DefaultGossipInterval = 200 * time.Millisecond
	DefaultRPCTimeout     = 1000 * time.Millisecond
	DefaultFullSync       = false
	DefaultFullSyncEvery  = 25
	DefaultStore          = false
	DefaultServiceAddr    = ""
)

// Config contains all the configuration properties of a rumor node.
type Config struct {
	// DataDir is the top-level directory containing rumor configuration and
	// data
	DataDir string `mapstructure:"datadir"`

	// LogLevel determines the chattiness of the log output.
	LogLevel string `mapstructure:"log"`

	// LogFile, when set, receives a copy of every log entry. Logs always go
	// to stderr since stdout carries the protocol.
	LogFile string `mapstructure:"log-file"`

	// GossipInterval is the period of the anti-entropy loop.
	GossipInterval time.Duration `mapstructure:"gossip-interval"`

	// RPCTimeout is the deadline of requests sent to other nodes.
	RPCTimeout time.Duration `mapstructure:"rpc-timeout"`

	// FullSync makes every gossip round carry the whole store instead of the
	// values a neighbour has not acknowledged yet.
	FullSync bool `mapstructure:"full-sync"`

	// FullSyncEvery forces a full-state round every so many rounds in delta
	// mode. Zero disables forced rounds.
	FullSyncEvery int `mapstructure:"full-sync-every"`

	// Store activates persistant storage.
	Store bool `mapstructure:"store"`

	// DatabaseDir is the directory containing database files.
	DatabaseDir string `mapstructure:"db"`

	// ServiceAddr is the address:port of the optional HTTP service. The
	// service is disabled when it is empty.
	ServiceAddr string `mapstructure:"service-listen"`

	logger *logrus.Logger
}

// NewDefaultConfig returns a config object with default values.
func NewDefaultConfig() *Config {
	config := &Config{
		DataDir:        DefaultDataDir(),
		LogLevel:       DefaultLogLevel,
		GossipInterval: DefaultGossipInterval,
		RPCTimeout:     DefaultRPCTimeout,
		FullSync:       DefaultFullSync,
		FullSyncEvery:  DefaultFullSyncEvery,
		Store:          DefaultStore,
		DatabaseDir:    DefaultDatabaseDir(),
		ServiceAddr:    DefaultServiceAddr,
	}

	return config
}

// NewTestConfig returns a config object with default values, short timers,
// and a special logger for debugging tests.
func NewTestConfig(t testing.TB, level logrus.Level) *Config {
	config := NewDefaultConfig()
	config.GossipInterval = 20 * time.Millisecond
	config.RPCTimeout = 100 * time.Millisecond
	config.logger = common.NewTestLogger(t, level)
	return config
}

// SetDataDir sets the top-level rumor directory, and updates the database
// directory if it is currently set to the default value. If the database
// directory is not currently the default, it means the user has explicitely set
// it to something else, so avoid changing it again here.
func (c *Config) SetDataDir(dataDir string) {
	c.DataDir = dataDir
	if c.DatabaseDir == DefaultDatabaseDir() {
		c.DatabaseDir = filepath.Join(dataDir, DefaultBadgerFile)
	}
}

// BadgerDir returns the database directory of the node with the given id.
func (c *Config) BadgerDir(nodeID string) string {
	return filepath.Join(c.DatabaseDir, nodeID)
}

// Logger returns a formatted logrus Entry, with prefix set to "rumor".
func (c *Config) Logger() *logrus.Entry {
	if c.logger == nil {
		c.logger = logrus.New()
		c.logger.Out = os.Stderr
		c.logger.Level = LogLevel(c.LogLevel)
		c.logger.Formatter = new(prefixed.TextFormatter)

		if c.LogFile != "" {
			pathMap := lfshook.PathMap{}
			for _, level := range logrus.AllLevels {
				pathMap[level] = c.LogFile
			}
			c.logger.Hooks.Add(lfshook.NewHook(
				pathMap,
				&logrus.TextFormatter{},
			))
		}
	}
	return c.logger.WithField("prefix", "rumor")
}

// DefaultDatabaseDir returns the default path for the badger database files.
func DefaultDatabaseDir() string {
	return filepath.Join(DefaultDataDir(), DefaultBadgerFile)
}

// DefaultDataDir return the default directory name for top-level rumor config
// based on the underlying OS, attempting to respect conventions.
func DefaultDataDir() string {
	// Try to place the data folder in the user's home dir
	home := HomeDir()
	if home != "" {
		if runtime.GOOS == "darwin" {
			return filepath.Join(home, ".Rumor")
		} else if runtime.GOOS == "windows" {
			return filepath.Join(home, "AppData", "Roaming", "Rumor")
		} else {
			return filepath.Join(home, ".rumor")
		}
	}
	// As we cannot guess a stable location, return empty and handle later
	return ""
}

// HomeDir returns the user's home directory.
func HomeDir() string {
	if home := os.Getenv("HOME"); home != "" {
		return home
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}

// LogLevel parses a string into a Logrus log level.
func LogLevel(l string) logrus.Level {
	switch l {
	case "debug":
		return logrus.DebugLevel
	case "info":
		return logrus.InfoLevel
	case "warn":
		return logrus.WarnLevel
	case "error":
		return logrus.ErrorLevel
	case "fatal":
		return logrus.FatalLevel
	case "panic":
		return logrus.PanicLevel
	default:
		return logrus.InfoLevel
	}
}
