package commands

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sudekirlar/fjsm-project/pkg/model"
	"github.com/sudekirlar/fjsm-project/pkg/policy"
)

func newPolicyCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Exercise the policy engine's built-in rules offline",
	}

	cmd.AddCommand(newPolicyTestCommand())

	return cmd
}

func newPolicyTestCommand() *cobra.Command {
	var (
		allowedJobTypes  []string
		jobType          string
		mode             string
		phase            int
		count            int
		eligibleMachines []string
	)

	cmd := &cobra.Command{
		Use:   "test",
		Short: "Evaluate one task declaration against the built-in rego policies",
		Long: `Compiles the same built-in policies the Expansion Engine gates on and
evaluates a single task declaration against them, without needing a live
fjsmd process or a submitted package.`,
		Example: `  fjsmctl policy test --allow cut --allow weld --type cut --mode single --phase 1 --machine m1`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			engine, err := policy.NewEngine(ctx, allowedJobTypes, nil)
			if err != nil {
				return fmt.Errorf("compiling policy engine: %w", err)
			}

			task := model.Task{
				Name:             jobType,
				Mode:             model.TaskMode(mode),
				Order:            phase,
				Count:            count,
				EligibleMachines: eligibleMachines,
			}

			violations, err := engine.EvaluateTask(ctx, jobType, task)
			if err != nil {
				return fmt.Errorf("evaluating task: %w", err)
			}

			if jsonOutput {
				return printJSON(violations)
			}
			if len(violations) == 0 {
				fmt.Println("no violations")
				return nil
			}
			for _, v := range violations {
				fmt.Printf("[%s] %s: %s\n", v.Severity, v.Policy, v.Message)
			}
			return nil
		},
	}

	cmd.Flags().StringSliceVar(&allowedJobTypes, "allow", nil, "closed set of allowed job types (repeatable)")
	cmd.Flags().StringVar(&jobType, "type", "", "the task's job_type")
	cmd.Flags().StringVar(&mode, "mode", "single", "single or split")
	cmd.Flags().IntVar(&phase, "phase", 1, "ordering phase within the job")
	cmd.Flags().IntVar(&count, "count", 0, "instance count; relevant when mode is split")
	cmd.Flags().StringSliceVar(&eligibleMachines, "machine", nil, "eligible machine id (repeatable)")
	cmd.MarkFlagRequired("type")
	cmd.MarkFlagRequired("allow")

	return cmd
}
