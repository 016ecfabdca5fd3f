package cli

import (
	"fmt"

	"github.com/spf13/cobra"
)

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print build version information",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Printf("deltasync-agent %s (commit %s, built %s by %s)\n", version, commit, date, builtBy)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(versionCmd)
}
