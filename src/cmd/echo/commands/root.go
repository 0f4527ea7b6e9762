package commands

import (
	"github.com/spf13/cobra"
)

var (
	_config = NewDefaultCLIConfig()
)

//RootCmd is the root command for ECHO
var RootCmd = &cobra.Command{
	Use:              "echo",
	Short:            "ECHO replicated graph database",
	TraverseChildren: true,
}
