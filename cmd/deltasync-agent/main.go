// Command deltasync-agent is the sync agent's binary entrypoint. It wires
// build-time version metadata into the cli package and hands off to
// cobra.
package main

import (
	"fmt"
	"os"

	"aas-deltasync/src/interface/cli"
)

var (
	version = "dev"
	commit  = "unknown"
	date    = "unknown"
	builtBy = "unknown"
)

func main() {
	cli.SetVersionInfo(version, commit, date, builtBy)

	if err := cli.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
