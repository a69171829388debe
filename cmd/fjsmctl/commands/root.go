package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	// Global flags
	serverAddr string
	backendDB  string
	jsonOutput bool
)

// Execute runs the root command.
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "fjsmctl",
		Short: "Operator CLI for the FJSM scheduling service",
		Long: `fjsmctl drives the flexible job-shop scheduling service: submit runs,
inspect run status and schedules, append orders, and exercise the machine
catalogue and policy engine without going through the HTTP surface directly.`,
		Version: fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
	}

	rootCmd.PersistentFlags().StringVar(&serverAddr, "server", "http://localhost:8080", "fjsmd server address")
	rootCmd.PersistentFlags().StringVar(&backendDB, "db", "", "backend to target (relational, document); server default if unset")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output raw JSON")

	rootCmd.AddCommand(newSubmitCommand())
	rootCmd.AddCommand(newStatusCommand())
	rootCmd.AddCommand(newGanttCommand())
	rootCmd.AddCommand(newRecentCommand())
	rootCmd.AddCommand(newOrderCommand())
	rootCmd.AddCommand(newCatalogueCommand())
	rootCmd.AddCommand(newStoreCommand())
	rootCmd.AddCommand(newPolicyCommand())

	return rootCmd
}
