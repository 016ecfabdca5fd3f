package cli

import (
	"encoding/json"
	"fmt"

	"aas-deltasync/src/application"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show this agent's identity and peer connectivity",
	RunE:  runStatus,
}

var statusJSON bool

func init() {
	rootCmd.AddCommand(statusCmd)
	statusCmd.Flags().BoolVar(&statusJSON, "json", false, "print status as JSON")
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := application.LoadConfig(cfgFile)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	agent, err := application.New(cfg)
	if err != nil {
		return fmt.Errorf("build agent: %w", err)
	}

	status := agent.Status()

	if statusJSON {
		data, err := json.MarshalIndent(status, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(data))
		return nil
	}

	fmt.Printf("actor:   %s\n", status.ActorID)
	fmt.Printf("running: %v\n", status.Running)
	fmt.Printf("peers:   %d\n", status.Peers)
	return nil
}
