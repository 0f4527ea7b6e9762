package commands

import (
	"github.com/mosaicnetworks/echo/src/config"
)

//CLIConfig contains configuration for the Run command
type CLIConfig struct {
	Echo config.Config `mapstructure:",squash"`

	// CreateParty creates a party on startup and prints an invitation to it.
	CreateParty bool `mapstructure:"create-party"`

	// Join is an invitation token to claim on startup.
	Join string `mapstructure:"join"`

	// Secret is the shared secret of the invitation in Join.
	Secret string `mapstructure:"secret"`
}

//NewDefaultCLIConfig creates a CLIConfig with default values
func NewDefaultCLIConfig() *CLIConfig {
	return &CLIConfig{
		Echo: *config.NewDefaultConfig(),
	}
}
