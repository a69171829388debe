package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newGanttCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "gantt <run_id>",
		Short:   "Fetch a run's solved schedule",
		Args:    cobra.ExactArgs(1),
		Example: `  fjsmctl gantt 9c6f2b3e-...`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			var rows []map[string]interface{}
			if err := client.do(cmd.Context(), "GET", "/api/plans/"+args[0]+"/gantt", nil, &rows); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(rows)
			}
			fmt.Printf("%-24s %8s %8s %-12s %6s %6s\n", "task", "start", "finish", "resource", "job", "inst")
			for _, r := range rows {
				fmt.Printf("%-24v %8v %8v %-12v %6v %6v\n",
					r["task"], r["start"], r["finish"], r["resource"], r["job_id"], r["task_instance_id"])
			}
			return nil
		},
	}

	return cmd
}
