// Package cli is the sync agent's command-line surface: a cobra root
// command with run/status/version subcommands, following the shape of
// the teacher's src/interface/cli/root.go (persistent --config flag,
// SetVersionInfo/GetVersionInfo plumbing from the build system).
package cli

import (
	"github.com/spf13/cobra"
)

var (
	cfgFile string
	verbose bool
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

var rootCmd = &cobra.Command{
	Use:   "deltasync-agent",
	Short: "Offline-first multi-master sync agent for AAS digital twins",
	Long: `deltasync-agent replicates Asset Administration Shell submodel
elements between one or more industrial edge sites and their upstream AAS
servers, converging concurrent offline edits with a CRDT join rather than
requiring a single always-reachable master.

Subcommands:
  deltasync-agent run       start the agent in the foreground
  deltasync-agent status    show this agent's identity and peer count
  deltasync-agent version   print build version information`,
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersionInfo sets the build-time version fields reported by `version`.
func SetVersionInfo(v, c, d, b string) {
	version = v
	commit = c
	date = d
	builtBy = b
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "", "config file path")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose logging")
}
