package commands

import (
	"github.com/mosaicnetworks/rumor/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Rumor     config.Config `mapstructure:",squash"`
	NoService bool          `mapstructure:"no-service"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Rumor:     *config.NewDefaultConfig(),
		NoService: false,
	}
}
