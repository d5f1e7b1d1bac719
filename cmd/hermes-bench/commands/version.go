package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marmos91/hermes/pkg/hg"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show engine version information",
	Run: func(cmd *cobra.Command, args []string) {
		major, minor, patch := hg.VersionGet()
		fmt.Fprintf(cmd.OutOrStdout(), "hermes %d.%d.%d\n", major, minor, patch)
	},
}
