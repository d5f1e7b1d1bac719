// Package commands implements the CLI commands for the hermes bench
// tool.
package commands

import (
	"github.com/spf13/cobra"
)

// Global flags.
var cfgFile string

// rootCmd represents the base command when called without any
// subcommands.
var rootCmd = &cobra.Command{
	Use:   "hermes-bench",
	Short: "Hermes RPC engine self-test and micro-benchmark",
	Long: `hermes-bench drives the hermes RPC engine over the in-process loopback
transport: it registers an echo function, forwards round trips between a
client and a listening server endpoint, and reports latency statistics.

Use "hermes-bench [command] --help" for more information about a command.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

// Execute adds all child commands to the root command and sets flags
// appropriately. This is called by main.main().
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: ./hermes.yaml)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)

	rootCmd.CompletionOptions.DisableDefaultCmd = true
}

// PrintErr prints an error message to stderr.
func PrintErr(format string, args ...any) {
	rootCmd.PrintErrf(format+"\n", args...)
}
