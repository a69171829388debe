package commands

import (
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sudekirlar/fjsm-project/pkg/packagerepo"
	"github.com/sudekirlar/fjsm-project/pkg/planstore"
)

func newStoreCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Manage the relational backend's schema",
	}

	cmd.AddCommand(newStoreMigrateCommand())

	return cmd
}

func newStoreMigrateCommand() *cobra.Command {
	var (
		plansPath    string
		packagesPath string
	)

	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply pending migrations to the relational Plan Store and Package Repository",
		Long: `Both relational backends apply their embedded migrations on open; this
command exists so an operator can run migrations ahead of starting fjsmd,
without needing the daemon up first.`,
		Example: `  fjsmctl store migrate --plans data/plans.db --packages data/packages.db`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := planstore.NewRelationalStore(plansPath, nil)
			if err != nil {
				return fmt.Errorf("migrating plan store at %s: %w", plansPath, err)
			}
			if err := store.Close(); err != nil {
				return fmt.Errorf("closing plan store: %w", err)
			}
			log.Info().Str("path", plansPath).Msg("plan store migrated")

			repo, err := packagerepo.NewRelationalStore(packagesPath, nil)
			if err != nil {
				return fmt.Errorf("migrating package repository at %s: %w", packagesPath, err)
			}
			if err := repo.Close(); err != nil {
				return fmt.Errorf("closing package repository: %w", err)
			}
			log.Info().Str("path", packagesPath).Msg("package repository migrated")

			fmt.Println("migrations applied")
			return nil
		},
	}

	cmd.Flags().StringVar(&plansPath, "plans", "data/plans.db", "relational plan store database path")
	cmd.Flags().StringVar(&packagesPath, "packages", "data/packages.db", "relational package repository database path")

	return cmd
}
