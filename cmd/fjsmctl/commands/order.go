package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func newOrderCommand() *cobra.Command {
	var (
		packageID        int
		jobID            int
		jobType          string
		mode             string
		phase            int
		count            int
		eligibleMachines []string
		deadline         string
	)

	cmd := &cobra.Command{
		Use:   "order",
		Short: "Append a task declaration to a package's input store",
		Long: `Append a task to a package/job as submitted through POST /api/orders.
A new package or job id creates it; an existing one is appended to.`,
		Example: `  fjsmctl order --package 1 --job 1 --type cut --mode single --phase 1 --machine m1 --machine m2`,
		RunE: func(cmd *cobra.Command, args []string) error {
			client := newAPIClient()

			body := map[string]interface{}{
				"package_id":        packageID,
				"job_id":            jobID,
				"job_type":          jobType,
				"mode":              mode,
				"phase":             phase,
				"count":             count,
				"eligible_machines": eligibleMachines,
				"deadline":          deadline,
			}

			var resp map[string]interface{}
			if err := client.do(cmd.Context(), "POST", "/api/orders", body, &resp); err != nil {
				return err
			}

			if jsonOutput {
				return printJSON(resp)
			}
			fmt.Printf("task_id: %v (db: %v)\n", resp["task_id"], resp["db"])
			return nil
		},
	}

	cmd.Flags().IntVar(&packageID, "package", 0, "package id (new or existing)")
	cmd.Flags().IntVar(&jobID, "job", 0, "job id within the package (new or existing)")
	cmd.Flags().StringVar(&jobType, "type", "", "task's operation name (job_type)")
	cmd.Flags().StringVar(&mode, "mode", "single", "single or split")
	cmd.Flags().IntVar(&phase, "phase", 1, "ordering phase within the job")
	cmd.Flags().IntVar(&count, "count", 0, "instance count; required when mode is split")
	cmd.Flags().StringSliceVar(&eligibleMachines, "machine", nil, "eligible machine id (repeatable)")
	cmd.Flags().StringVar(&deadline, "deadline", "", "optional package deadline")
	cmd.MarkFlagRequired("package")
	cmd.MarkFlagRequired("job")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("machine")

	return cmd
}
