// Command gridsim runs the 15-bus grid simulator: it builds the
// orchestrator from a YAML configuration file (or the built-in reference
// topology), starts every protocol server and the tick loop, and serves
// until interrupted.
package main

import (
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
)

var rootCmd = &cobra.Command{
	Use:     "gridsim",
	Short:   "A simulated SCADA grid: power flow, frequency dynamics, protection, and live RTUs",
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "path to a topology YAML file (default: built-in 15-bus reference topology)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.AddCommand(runCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
