package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newRecentCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "recent",
		Short: "List recently submitted runs",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var entries []map[string]interface{}
			if err := client.do(cmd.Context(), "GET", "/api/plans/recent", nil, &entries); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(entries)
			}
			for _, e := range entries {
				fmt.Printf("%v\n", e["label"])
			}
			return nil
		},
	}

	return cmd
}
