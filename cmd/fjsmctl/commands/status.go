package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newStatusCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status <run_id>",
		Short: "Fetch a run's current status",
		Args:  cobra.ExactArgs(1),
		Example: `  fjsmctl status 9c6f2b3e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var resp map[string]interface{}
			if err := client.do(cmd.Context(), "GET", "/api/solver/status/"+args[0], nil, &resp); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(resp)
			}
			fmt.Printf("state:        %v\n", resp["state"])
			fmt.Printf("makespan:     %v\n", resp["makespan"])
			fmt.Printf("status:       %v\n", resp["status"])
			fmt.Printf("created_at:   %v\n", resp["created_at"])
			fmt.Printf("completed_at: %v\n", resp["completed_at"])
			if errMsg, ok := resp["error"].(string); ok && errMsg != "" {
				fmt.Printf("error:        %v\n", errMsg)
			}
			return nil
		},
	}

	return cmd
}
